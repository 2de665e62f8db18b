package attendance

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"attendpay/internal/metrics"
	"attendpay/internal/retry"
)

// LoadMode selects how a bulk load is applied to the store.
type LoadMode int

const (
	LoadReplace LoadMode = iota
	LoadMerge
)

// Loader populates a Store from the repository in the background.
type Loader struct {
	repo   Repository
	store  *Store
	retry  *retry.Policy
	logger *zap.Logger
}

func NewLoader(repo Repository, store *Store, policy *retry.Policy, logger *zap.Logger) *Loader {
	if policy == nil {
		policy = retry.Once()
	}
	return &Loader{repo: repo, store: store, retry: policy, logger: logger}
}

// LoadTask is a running bulk load.
type LoadTask struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Cancel stops the load; nothing is applied to the store once cancelled.
func (t *LoadTask) Cancel() { t.cancel() }

// Wait blocks until the load finishes and returns its error.
func (t *LoadTask) Wait() error {
	<-t.done
	return t.err
}

// Done is closed when the load finishes.
func (t *LoadTask) Done() <-chan struct{} { return t.done }

// Start loads records and logs concurrently and applies them in one step. Failures
// are handed to onFailure, which may be nil.
func (l *Loader) Start(ctx context.Context, mode LoadMode, onFailure func(error)) *LoadTask {
	ctx, cancel := context.WithCancel(ctx)
	task := &LoadTask{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(task.done)
		defer cancel()
		task.err = l.Run(ctx, mode)
		if task.err != nil && onFailure != nil {
			onFailure(task.err)
		}
	}()
	return task
}

// Run performs the load synchronously.
func (l *Loader) Run(ctx context.Context, mode LoadMode) error {
	start := time.Now()
	// Commits that land while the snapshot is read are newer than it.
	mark := l.store.Mark()
	var (
		records []Record
		logs    []Log
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return l.retry.Do(gctx, "attendance.LoadRecords", func(ctx context.Context) error {
			var err error
			records, err = l.repo.LoadRecords(ctx)
			return err
		})
	})
	g.Go(func() error {
		return l.retry.Do(gctx, "attendance.LoadLogs", func(ctx context.Context) error {
			var err error
			logs, err = l.repo.LoadLogs(ctx)
			return err
		})
	})
	if err := g.Wait(); err != nil {
		l.logger.Error("attendance bulk load failed", zap.Error(err))
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	switch mode {
	case LoadMerge:
		l.store.MergeSince(mark, records, logs)
	default:
		l.store.ReplaceSince(mark, records, logs)
	}
	metrics.BulkLoadDuration.Observe(time.Since(start).Seconds())
	l.logger.Info("attendance bulk load applied",
		zap.Int("records", len(records)),
		zap.Int("logs", len(logs)),
		zap.Duration("took", time.Since(start)))
	return nil
}
