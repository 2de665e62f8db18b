// Package poller watches the change log and tells subscribers when another writer has
// modified the database.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"attendpay/internal/metrics"
	"attendpay/internal/retry"
)

// ChangeSource reports the newest change id.
type ChangeSource interface {
	LatestChange(ctx context.Context) (int64, error)
}

// Poller runs PollOnce at a fixed rate. A poll still running when the next tick fires
// causes that tick to be skipped.
type Poller struct {
	src      ChangeSource
	interval time.Duration
	retry    *retry.Policy
	logger   *zap.Logger
	timeout  time.Duration

	mu        sync.Mutex
	last      int64
	primed    bool
	listeners []func(ctx context.Context, changeID int64)
	cron      *cron.Cron
}

func New(src ChangeSource, interval time.Duration, policy *retry.Policy, logger *zap.Logger) *Poller {
	if policy == nil {
		policy = retry.Once()
	}
	if interval < time.Second {
		interval = time.Second
	}
	return &Poller{src: src, interval: interval, retry: policy, logger: logger, timeout: 30 * time.Second}
}

// OnChange registers fn to run when a poll sees a new change id. Register before Start.
func (p *Poller) OnChange(fn func(ctx context.Context, changeID int64)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// Start schedules polling. The first poll runs one interval after Start.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{p.logger})))
	c.Schedule(cron.Every(p.interval), cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		_, _ = p.PollOnce(ctx)
	}))
	c.Start()
	p.cron = c
	p.logger.Info("change poller started", zap.Duration("interval", p.interval))
}

// Stop cancels future polls. The returned context is done once an in-flight poll has
// finished; that poll is not interrupted.
func (p *Poller) Stop() context.Context {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()
	if c == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	p.logger.Info("change poller stopping")
	return c.Stop()
}

// PollOnce reads the change log and notifies listeners when it moved. The first
// successful poll only records the starting point. It reports whether listeners ran.
func (p *Poller) PollOnce(ctx context.Context) (bool, error) {
	var latest int64
	err := p.retry.Do(ctx, "poller.LatestChange", func(ctx context.Context) error {
		var err error
		latest, err = p.src.LatestChange(ctx)
		return err
	})
	if err != nil {
		metrics.PollRuns.WithLabelValues("error").Inc()
		p.logger.Error("change poll failed", zap.Error(err))
		return false, err
	}

	p.mu.Lock()
	changed := p.primed && latest != p.last
	p.primed = true
	p.last = latest
	listeners := append([]func(context.Context, int64){}, p.listeners...)
	p.mu.Unlock()

	if !changed {
		metrics.PollRuns.WithLabelValues("unchanged").Inc()
		return false, nil
	}
	metrics.PollRuns.WithLabelValues("changed").Inc()
	p.logger.Debug("database change detected", zap.Int64("change_id", latest))
	for _, fn := range listeners {
		fn(ctx, latest)
	}
	return true, nil
}

// Prime sets the starting change id, e.g. after the initial bulk load.
func (p *Poller) Prime(changeID int64) {
	p.mu.Lock()
	p.last = changeID
	p.primed = true
	p.mu.Unlock()
}

type cronLogger struct{ l *zap.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
