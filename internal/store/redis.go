package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig selects the Redis instance backing the payroll cache and the recompute queue.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Redis wraps the shared client.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds a client with short timeouts. It does not dial; use Ping to check
// reachability at startup.
func NewRedis(cfg RedisConfig) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		// Caller deadlines bound every command.
		ContextTimeoutEnabled: true,
	})
	return &Redis{Client: client}
}

// Ping checks connectivity; failures are classified like database errors.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return Classify("redis.Ping", redis.ErrClosed)
	}
	return Classify("redis.Ping", r.Client.Ping(ctx).Err())
}

// Healthy reports whether a ping answers within a second.
func (r *Redis) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return r.Ping(ctx) == nil
}

func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
