package httpmiddleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"attendpay/internal/auth"
	"attendpay/internal/metrics"
)

// Limiter is an in-memory token bucket per caller. Each Limiter is one scope, so
// token issuance and regular API traffic can be throttled independently.
type Limiter struct {
	scope    string
	burst    float64
	perSec   float64
	idleTTL  time.Duration
	now      func() time.Time
	mu       sync.Mutex
	buckets  map[string]*bucket
	lastScan time.Time
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// NewLimiter allows perMinute requests per caller with bursts up to burst. A burst of
// zero or less defaults to perMinute.
func NewLimiter(scope string, perMinute, burst int) *Limiter {
	if burst <= 0 {
		burst = perMinute
	}
	idle := 10 * time.Minute
	if perMinute > 0 {
		// An evicted bucket must have been full again by the time it is dropped.
		if refill := time.Duration(burst) * time.Minute / time.Duration(perMinute); refill > idle {
			idle = refill
		}
	}
	return &Limiter{
		scope:   scope,
		burst:   float64(burst),
		perSec:  float64(perMinute) / 60,
		idleTTL: idle,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// GinMiddleware limits per operator once a token has been verified, per IP before.
func (l *Limiter) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := l.take(callerKey(c))
		if !ok {
			metrics.RateLimited.WithLabelValues(l.scope).Inc()
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func callerKey(c *gin.Context) string {
	if claims, ok := auth.ClaimsFrom(c); ok && claims.Subject != "" {
		return "op:" + claims.Subject
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}

// take spends one token of key. When none is left it reports how long until one is.
func (l *Limiter) take(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evictIdle(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, seen: now}
		l.buckets[key] = b
	}
	b.tokens = math.Min(l.burst, b.tokens+now.Sub(b.seen).Seconds()*l.perSec)
	b.seen = now

	if b.tokens < 1 {
		if l.perSec <= 0 {
			return false, time.Minute
		}
		return false, time.Duration((1 - b.tokens) / l.perSec * float64(time.Second))
	}
	b.tokens--
	return true, 0
}

// evictIdle drops buckets untouched for idleTTL, scanning at most once per idleTTL.
func (l *Limiter) evictIdle(now time.Time) {
	if now.Sub(l.lastScan) < l.idleTTL {
		return
	}
	l.lastScan = now
	for key, b := range l.buckets {
		if now.Sub(b.seen) >= l.idleTTL {
			delete(l.buckets, key)
		}
	}
}

// Len reports the number of tracked callers.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
