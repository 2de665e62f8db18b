package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"attendpay/internal/attendance"
	"attendpay/internal/calendar"
	"attendpay/internal/config"
	"attendpay/internal/logger"
	"attendpay/internal/payroll"
	"attendpay/internal/poller"
	"attendpay/internal/queue"
	"attendpay/internal/retry"
	"attendpay/internal/roster"
	"attendpay/internal/settings"
	"attendpay/internal/store"
)

// Worker consumes recompute messages and rebuilds cached payroll summaries.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("worker failed", zap.Error(err))
	}
}

func run(cfg config.App, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		return fmt.Errorf("worker needs a shared queue; QUEUE_BACKEND=memory only serves a single process")
	}

	db, err := store.NewDB(ctx, store.DBConfig{
		URL:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
	})
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	redisClient := store.NewRedis(store.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() { _ = redisClient.Close() }()
	if err := redisClient.Ping(ctx); err != nil {
		return err
	}

	policy := retry.New(cfg.RetryAttempts, cfg.RetryBaseDelay, log)
	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey, log)

	resolver := settings.NewResolver(settings.NewPostgresRepository(db.Client), policy, log.Named("settings"))
	logStore := attendance.NewStore()
	loader := attendance.NewLoader(attendance.NewPostgresRepository(db.Client), logStore, policy, log.Named("loader"))

	changes := store.NewChangeLog(db.Client)
	baseline, err := changes.LatestChange(ctx)
	if err != nil {
		return err
	}
	if err := resolver.Load(ctx); err != nil {
		return err
	}
	if err := loader.Run(ctx, attendance.LoadReplace); err != nil {
		return err
	}

	payrollSvc := payroll.NewService(
		logStore,
		resolver,
		roster.NewPostgresRepository(db.Client, log.Named("roster")),
		payroll.NewRedisCache(redisClient.Client, cfg.PayrollCacheTTL),
		policy,
		log.Named("payroll"),
	)

	poll := poller.New(changes, cfg.PollInterval, policy, log.Named("poller"))
	poll.Prime(baseline)
	// Rows are never deleted, so a merge picks up every foreign write. Local commits
	// made during the read are newer than the snapshot and are kept.
	poll.OnChange(func(ctx context.Context, changeID int64) {
		if err := loader.Run(ctx, attendance.LoadMerge); err != nil {
			log.Error("attendance reload failed", zap.Int64("change", changeID), zap.Error(err))
		}
		if err := resolver.Load(ctx); err != nil {
			log.Error("settings reload failed", zap.Int64("change", changeID), zap.Error(err))
		}
	})
	poll.Start()
	defer func() { <-poll.Stop().Done() }()

	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init failed: %w", err)
	}

	log.Info("worker started, waiting for messages")
	for msg := range messages {
		if msg.Type != queue.TypePayrollRecompute {
			log.Debug("ignoring message", zap.String("type", msg.Type))
			continue
		}
		month, err := queue.RecomputeMonth(msg)
		if err != nil {
			log.Warn("bad recompute message", zap.Error(err))
			continue
		}
		recompute(ctx, log, poll, payrollSvc, month)
	}

	log.Info("worker stopped")
	return nil
}

// recompute catches up with the change log first, so the summary it caches includes
// the write that triggered the message.
func recompute(ctx context.Context, log *zap.Logger, poll *poller.Poller, svc *payroll.Service, month calendar.MonthKey) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := poll.PollOnce(ctx); err != nil {
		log.Warn("catch-up poll failed", zap.String("month", month.String()), zap.Error(err))
	}
	if err := svc.Invalidate(ctx, month); err != nil {
		log.Warn("payroll cache invalidate failed", zap.String("month", month.String()), zap.Error(err))
	}
	sum, err := svc.RosterSummary(ctx, month)
	if err != nil {
		log.Error("payroll recompute failed", zap.String("month", month.String()), zap.Error(err))
		return
	}
	log.Info("payroll recomputed",
		zap.String("month", month.String()),
		zap.Int("students", len(sum.Lines)),
		zap.String("total", sum.Total.StringFixed(2)))
}
