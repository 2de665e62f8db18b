package payroll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"attendpay/internal/calendar"
)

// Cache holds computed monthly summaries.
type Cache interface {
	Get(ctx context.Context, month calendar.MonthKey) (Summary, bool, error)
	Set(ctx context.Context, month calendar.MonthKey, s Summary) error
	Delete(ctx context.Context, month calendar.MonthKey) error
}

// CacheKey is the Redis key of a month's summary.
func CacheKey(month calendar.MonthKey) string {
	return fmt.Sprintf("payroll:summary:%04d-%02d", month.Year, int(month.Month))
}

// RedisCache stores summaries as JSON with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, month calendar.MonthKey) (Summary, bool, error) {
	raw, err := c.client.Get(ctx, CacheKey(month)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Summary{}, false, nil
	}
	if err != nil {
		return Summary{}, false, err
	}
	var s Summary
	if err := json.Unmarshal(raw, &s); err != nil {
		return Summary{}, false, err
	}
	return s, true, nil
}

func (c *RedisCache) Set(ctx context.Context, month calendar.MonthKey, s Summary) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, CacheKey(month), raw, c.ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, month calendar.MonthKey) error {
	return c.client.Del(ctx, CacheKey(month)).Err()
}

// NopCache never stores anything.
type NopCache struct{}

func (NopCache) Get(context.Context, calendar.MonthKey) (Summary, bool, error) {
	return Summary{}, false, nil
}
func (NopCache) Set(context.Context, calendar.MonthKey, Summary) error { return nil }
func (NopCache) Delete(context.Context, calendar.MonthKey) error       { return nil }
