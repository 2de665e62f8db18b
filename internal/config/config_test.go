package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != "8081" || cfg.PollInterval != 5*time.Second || cfg.RetryAttempts != 3 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.QueueBackend != "redis" || cfg.LogFormat != "json" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.DBMaxOpenConns != 10 || cfg.DBConnLifetime != time.Hour || cfg.TokenRatePerMin != 10 {
		t.Errorf("unexpected pool or limiter defaults: %+v", cfg)
	}
}

func TestLoadFromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("POLL_INTERVAL", "30s")
	t.Setenv("RETRY_BASE_DELAY", "1s")
	t.Setenv("QUEUE_BACKEND", "memory")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != "9000" || cfg.PollInterval != 30*time.Second || cfg.RetryBaseDelay != time.Second {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.QueueBackend != "memory" || cfg.RedisDB != 3 {
		t.Errorf("QueueBackend = %q, RedisDB = %d", cfg.QueueBackend, cfg.RedisDB)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("OPERATOR_API_KEY=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("OPERATOR_API_KEY") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OperatorAPIKey != "from-dotenv" {
		t.Errorf("OperatorAPIKey = %q", cfg.OperatorAPIKey)
	}
}

func TestValidate(t *testing.T) {
	base := App{
		JWTSigningKey:   "dev-signing-secret-change",
		AccessTTL:       time.Minute,
		PollInterval:    time.Second,
		RetryAttempts:   1,
		RateLimitPerMin: 10,
		QueueBackend:    "redis",
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config rejected: %v", err)
	}

	cases := map[string]func(*App){
		"short key in production": func(a *App) { a.Env = "production" },
		"empty key":               func(a *App) { a.JWTSigningKey = "" },
		"fast poll":               func(a *App) { a.PollInterval = 100 * time.Millisecond },
		"no attempts":             func(a *App) { a.RetryAttempts = 0 },
		"negative delay":          func(a *App) { a.RetryBaseDelay = -time.Second },
		"unknown queue":           func(a *App) { a.QueueBackend = "kafka" },
	}
	for name, mutate := range cases {
		cfg := base
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
