package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"attendpay/internal/auth"
	"attendpay/internal/httpmiddleware"
)

// RouterConfig carries the cross-cutting settings of the HTTP surface.
type RouterConfig struct {
	CORSOrigins          []string
	RateLimitPerMin      int
	TokenRateLimitPerMin int // zero uses RateLimitPerMin
	// Health reports dependency status for /healthz; nil means always healthy.
	Health func(ctx context.Context) map[string]bool
}

// NewRouter wires the handler's endpoints.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(h.Logger, "/healthz", "/metrics"))
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(securityHeaders())

	tokenRate := cfg.TokenRateLimitPerMin
	if tokenRate <= 0 {
		tokenRate = cfg.RateLimitPerMin
	}
	tokenLimiter := httpmiddleware.NewLimiter("token", tokenRate, 0)
	limiter := httpmiddleware.NewLimiter("api", cfg.RateLimitPerMin, 0)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		status := http.StatusOK
		deps := map[string]bool{}
		if cfg.Health != nil {
			deps = cfg.Health(c.Request.Context())
		}
		for _, ok := range deps {
			if !ok {
				status = http.StatusServiceUnavailable
			}
		}
		c.JSON(status, gin.H{"status": http.StatusText(status), "deps": deps})
	})

	v1 := r.Group("/v1")
	v1.POST("/auth/token", tokenLimiter.GinMiddleware(), h.IssueToken)
	v1.GET("/live", limiter.GinMiddleware(), h.LiveEvents)

	authed := v1.Group("", auth.OperatorAuth(h.Tokens.SigningKey, h.Tokens.Issuer), limiter.GinMiddleware())
	{
		authed.GET("/calendar/current", h.CurrentAcademicYear)
		authed.GET("/calendar/academic-years/:label/months", h.AcademicYearMonths)

		authed.GET("/settings", h.GetSettings)
		authed.PUT("/settings", auth.RequireRole(auth.RoleAdmin), h.UpdateSettings)

		authed.GET("/logs", h.ListLogs)
		authed.POST("/logs", h.SaveTimes)
		authed.PUT("/logs", h.UpdateTimes)
		authed.POST("/logs/excused", h.MarkExcused)
		authed.POST("/punches", h.Punch)

		authed.GET("/payroll/students/:id", h.StudentPayroll)
		authed.GET("/payroll/roster", h.RosterPayroll)
	}
	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

func requestLogger(logger *zap.Logger, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if skipped[path] {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		}
		if claims, ok := auth.ClaimsFrom(c); ok {
			fields = append(fields, zap.String("operator", claims.Subject), zap.String("token_id", claims.ID))
		}
		switch {
		case status >= 500:
			logger.Error("request failed", fields...)
		case status >= 400:
			logger.Warn("client error", fields...)
		default:
			logger.Info("request completed", fields...)
		}
	}
}
