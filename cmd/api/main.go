package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"attendpay/internal/api"
	"attendpay/internal/attendance"
	"attendpay/internal/auth"
	"attendpay/internal/calendar"
	"attendpay/internal/config"
	"attendpay/internal/live"
	"attendpay/internal/logger"
	"attendpay/internal/payroll"
	"attendpay/internal/poller"
	"attendpay/internal/queue"
	"attendpay/internal/retry"
	"attendpay/internal/roster"
	"attendpay/internal/settings"
	"attendpay/internal/store"
)

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

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func run(cfg config.App, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
	if err := store.Migrate(db.Client, log); err != nil {
		return err
	}

	redisClient := store.NewRedis(store.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() { _ = redisClient.Close() }()
	if err := redisClient.Ping(ctx); err != nil {
		// The payroll cache degrades to recomputation; only the queue needs Redis.
		log.Warn("redis not reachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}

	policy := retry.New(cfg.RetryAttempts, cfg.RetryBaseDelay, log)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey, log)
	}

	// Windows must be cached before logs are classified.
	resolver := settings.NewResolver(settings.NewPostgresRepository(db.Client), policy, log.Named("settings"))
	if err := resolver.Load(ctx); err != nil {
		return err
	}

	logStore := attendance.NewStore()
	attRepo := attendance.NewPostgresRepository(db.Client)
	attendanceSvc := attendance.NewService(attRepo, logStore, calendar.SystemClock{}, policy, log.Named("attendance"))
	loader := attendance.NewLoader(attRepo, logStore, policy, log.Named("loader"))

	changes := store.NewChangeLog(db.Client)
	baseline, err := changes.LatestChange(ctx)
	if err != nil {
		return err
	}
	task := loader.Start(ctx, attendance.LoadReplace, func(err error) {
		log.Error("initial attendance load failed", zap.Error(err))
	})
	if err := task.Wait(); err != nil {
		return err
	}
	log.Info("attendance store loaded", zap.Int("logs", logStore.Len()))

	payrollSvc := payroll.NewService(
		logStore,
		resolver,
		roster.NewPostgresRepository(db.Client, log.Named("roster")),
		payroll.NewRedisCache(redisClient.Client, cfg.PayrollCacheTTL),
		policy,
		log.Named("payroll"),
	)

	hub := live.NewHub(log.Named("live"), originChecker(cfg.CORSOrigins))
	go hub.Run(ctx)

	recompute := func(month calendar.MonthKey) {
		bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := payrollSvc.Invalidate(bg, month); err != nil {
			log.Warn("payroll cache invalidate failed", zap.String("month", month.String()), zap.Error(err))
		}
		if err := q.Publish(bg, queue.Recompute(month)); err != nil {
			log.Warn("queue publish failed", zap.String("month", month.String()), zap.Error(err))
		}
	}

	attendanceSvc.OnChange(func(studentID string, d calendar.Date) {
		hub.Publish(live.Event{Type: live.AttendanceChanged, Payload: gin.H{"student_id": studentID, "date": d}})
		recompute(d.MonthKey())
	})
	resolver.OnChange(func(month calendar.MonthKey) {
		hub.Publish(live.Event{Type: live.SettingsChanged, Payload: gin.H{"month": month.String()}})
		recompute(month)
	})

	// Writes from other instances land in change_log; reload when it moves.
	poll := poller.New(changes, cfg.PollInterval, policy, log.Named("poller"))
	poll.Prime(baseline)
	// Rows are never deleted, so a merge picks up every foreign write. Local commits
	// made during the read are newer than the snapshot and are kept.
	poll.OnChange(func(ctx context.Context, changeID int64) {
		if err := loader.Run(ctx, attendance.LoadMerge); err != nil {
			log.Error("attendance reload failed", zap.Int64("change", changeID), zap.Error(err))
			return
		}
		if err := resolver.Load(ctx); err != nil {
			log.Error("settings reload failed", zap.Int64("change", changeID), zap.Error(err))
			return
		}
		hub.Publish(live.Event{Type: live.DataReloaded, Payload: gin.H{"change_id": changeID}})
	})
	poll.Start()
	defer func() { <-poll.Stop().Done() }()

	handler := &api.Handler{
		Attendance: attendanceSvc,
		Logs:       logStore,
		Windows:    resolver,
		Payroll:    payrollSvc,
		Live:       hub,
		Clock:      calendar.SystemClock{},
		Tokens: api.TokenConfig{
			Issuer:     cfg.JWTIssuer,
			SigningKey: cfg.JWTSigningKey,
			AccessTTL:  cfg.AccessTTL,
			Keys:       auth.NewKeyRing(cfg.OperatorAPIKey, cfg.AdminAPIKey),
		},
		Logger: log.Named("http"),
	}
	router := api.NewRouter(handler, api.RouterConfig{
		CORSOrigins:          cfg.CORSOrigins,
		RateLimitPerMin:      cfg.RateLimitPerMin,
		TokenRateLimitPerMin: cfg.TokenRatePerMin,
		Health: func(ctx context.Context) map[string]bool {
			return map[string]bool{"db": db.Healthy(ctx), "redis": redisClient.Healthy(ctx)}
		},
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}
	log.Info("server exited")
	return nil
}

// originChecker accepts websocket upgrades from the configured CORS origins.
func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		return nil
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}
