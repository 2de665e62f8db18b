// Package retry re-runs operations that fail with transient errors.
package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"attendpay/internal/apperr"
	"attendpay/internal/metrics"
)

// Policy retries up to MaxAttempts times, waiting n*BaseDelay before attempt n+1.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      *zap.Logger

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a policy; attempts below one are raised to one.
func New(maxAttempts int, baseDelay time.Duration, logger *zap.Logger) *Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay < 0 {
		baseDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{MaxAttempts: maxAttempts, BaseDelay: baseDelay, Logger: logger, sleep: sleepCtx}
}

// Once runs operations a single time; useful in tests and for callers that own retrying.
func Once() *Policy { return New(1, 0, nil) }

// Delay returns the wait before the attempt that follows attempt n (1-based).
func (p *Policy) Delay(n int) time.Duration {
	return time.Duration(n) * p.BaseDelay
}

// Do runs op until it succeeds, fails with a non-transient error, or the attempt budget
// runs out. Exhausted transient failures are re-raised as persistence errors.
func (p *Policy) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = op(ctx)
		if err == nil {
			if attempt > 1 {
				metrics.RetryAttempts.WithLabelValues("recovered").Inc()
			}
			return nil
		}
		if !apperr.IsTransient(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}
		delay := p.Delay(attempt)
		p.Logger.Warn("transient failure, retrying",
			zap.String("op", name),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		metrics.RetryAttempts.WithLabelValues("retried").Inc()
		if serr := p.sleep(ctx, delay); serr != nil {
			return apperr.Persistence(name, serr)
		}
	}
	metrics.RetryAttempts.WithLabelValues("exhausted").Inc()
	return apperr.Persistence(name, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
