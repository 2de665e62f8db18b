package settings

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"attendpay/internal/apperr"
	"attendpay/internal/calendar"
	"attendpay/internal/keylock"
	"attendpay/internal/metrics"
	"attendpay/internal/retry"
)

// Repository persists attendance windows.
type Repository interface {
	LoadAll(ctx context.Context) ([]Window, error)
	// Insert stores w unless a row for the month exists, and returns the stored row.
	Insert(ctx context.Context, w Window) (Window, error)
	Update(ctx context.Context, w Window) error
}

// Resolver caches windows and serializes edits per month.
type Resolver struct {
	repo   Repository
	retry  *retry.Policy
	logger *zap.Logger
	locks  *keylock.Locker

	mu        sync.RWMutex
	cache     map[calendar.MonthKey]Window
	listeners []func(calendar.MonthKey)
	// seq counts stores; stored holds the seq of each month's latest store.
	seq    uint64
	stored map[calendar.MonthKey]uint64
}

func NewResolver(repo Repository, policy *retry.Policy, logger *zap.Logger) *Resolver {
	if policy == nil {
		policy = retry.Once()
	}
	return &Resolver{
		repo:   repo,
		retry:  policy,
		logger: logger,
		locks:  keylock.New(),
		cache:  make(map[calendar.MonthKey]Window),
		stored: make(map[calendar.MonthKey]uint64),
	}
}

// OnChange registers fn to run after a window edit is persisted.
func (r *Resolver) OnChange(fn func(calendar.MonthKey)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Load replaces the cache with every persisted window. Windows stored while the rows
// were being read are kept.
func (r *Resolver) Load(ctx context.Context) error {
	r.mu.RLock()
	mark := r.seq
	r.mu.RUnlock()

	var all []Window
	err := r.retry.Do(ctx, "settings.LoadAll", func(ctx context.Context) error {
		var err error
		all, err = r.repo.LoadAll(ctx)
		return err
	})
	if err != nil {
		return err
	}
	cache := make(map[calendar.MonthKey]Window, len(all))
	for _, w := range all {
		cache[w.Month] = w
	}
	stored := make(map[calendar.MonthKey]uint64)
	r.mu.Lock()
	for month, n := range r.stored {
		if n > mark {
			cache[month] = r.cache[month]
			stored[month] = n
		}
	}
	r.cache = cache
	r.stored = stored
	r.mu.Unlock()
	r.logger.Debug("attendance windows loaded", zap.Int("count", len(all)))
	return nil
}

func (r *Resolver) cached(month calendar.MonthKey) (Window, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.cache[month]
	return w.Copy(), ok
}

func (r *Resolver) store(w Window) {
	r.mu.Lock()
	r.seq++
	r.cache[w.Month] = w
	r.stored[w.Month] = r.seq
	r.mu.Unlock()
}

func lockKey(month calendar.MonthKey) string {
	return strconv.Itoa(month.Year) + "-" + strconv.Itoa(int(month.Month))
}

// Resolve returns the window for month, creating and persisting the full-month default
// the first time the month is seen.
func (r *Resolver) Resolve(ctx context.Context, month calendar.MonthKey) (Window, error) {
	if w, ok := r.cached(month); ok {
		metrics.SettingsResolved.WithLabelValues("false").Inc()
		return w, nil
	}
	if !month.Valid() {
		return Window{}, apperr.InvalidFormat("settings.Resolve", "month %d", int(month.Month))
	}

	unlock := r.locks.Lock(lockKey(month))
	defer unlock()

	if w, ok := r.cached(month); ok {
		metrics.SettingsResolved.WithLabelValues("false").Inc()
		return w, nil
	}

	var stored Window
	err := r.retry.Do(ctx, "settings.Insert", func(ctx context.Context) error {
		var err error
		stored, err = r.repo.Insert(ctx, DefaultWindow(month))
		return err
	})
	if err != nil {
		r.logger.Error("create attendance window failed", zap.Stringer("month", month), zap.Error(err))
		return Window{}, err
	}
	r.store(stored)
	metrics.SettingsResolved.WithLabelValues("true").Inc()
	r.logger.Info("attendance window created",
		zap.Stringer("month", month),
		zap.Int("start_day", stored.StartDay),
		zap.Int("end_day", stored.EndDay))
	return stored.Copy(), nil
}

// SetStart moves the first counted day of month.
func (r *Resolver) SetStart(ctx context.Context, month calendar.MonthKey, day int) (Window, error) {
	return r.edit(ctx, month, func(w *Window) { w.StartDay = day })
}

// SetEnd moves the last counted day of month.
func (r *Resolver) SetEnd(ctx context.Context, month calendar.MonthKey, day int) (Window, error) {
	return r.edit(ctx, month, func(w *Window) { w.EndDay = day })
}

// SetRange replaces both bounds in one validated edit.
func (r *Resolver) SetRange(ctx context.Context, month calendar.MonthKey, start, end int) (Window, error) {
	return r.edit(ctx, month, func(w *Window) {
		w.StartDay = start
		w.EndDay = end
	})
}

func (r *Resolver) edit(ctx context.Context, month calendar.MonthKey, apply func(*Window)) (Window, error) {
	current, err := r.Resolve(ctx, month)
	if err != nil {
		return Window{}, err
	}

	unlock := r.locks.Lock(lockKey(month))
	defer unlock()

	if w, ok := r.cached(month); ok {
		current = w
	}
	next := current.Copy()
	apply(&next)
	if err := next.Validate(); err != nil {
		return Window{}, err
	}
	if next == current {
		return next, nil
	}

	err = r.retry.Do(ctx, "settings.Update", func(ctx context.Context) error {
		return r.repo.Update(ctx, next)
	})
	if err != nil {
		r.logger.Error("update attendance window failed", zap.Stringer("month", month), zap.Error(err))
		return Window{}, err
	}
	r.store(next)
	r.logger.Info("attendance window updated",
		zap.Stringer("month", month),
		zap.Int("start_day", next.StartDay),
		zap.Int("end_day", next.EndDay))
	r.notify(month)
	return next.Copy(), nil
}

func (r *Resolver) notify(month calendar.MonthKey) {
	r.mu.RLock()
	listeners := append([]func(calendar.MonthKey){}, r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(month)
	}
}
