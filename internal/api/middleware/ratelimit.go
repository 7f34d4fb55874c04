package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/LaxRaj/the-garage/internal/api/responses"
	"github.com/LaxRaj/the-garage/internal/config"
	apperrors "github.com/LaxRaj/the-garage/internal/errors"
	"github.com/LaxRaj/the-garage/internal/logger"
)

const (
	limiterCleanupInterval = 10 * time.Minute
	limiterIdleTimeout     = 30 * time.Minute
)

// clientLimiter stores the token buckets of one client.
type clientLimiter struct {
	softLimiter *rate.Limiter
	hardLimiter *rate.Limiter
	lastSeen    time.Time
}

// RateLimiterMiddleware applies per-client token buckets. The hard bucket
// guards every request; the soft bucket guards write-heavy routes such as
// offer submission.
type RateLimiterMiddleware struct {
	clients map[string]*clientLimiter
	mu      sync.Mutex
	cfg     *config.Config
	now     func() time.Time
}

// NewRateLimiterMiddleware creates the middleware and starts its cleanup loop,
// which stops when ctx is done.
func NewRateLimiterMiddleware(ctx context.Context, cfg *config.Config) *RateLimiterMiddleware {
	rm := &RateLimiterMiddleware{
		clients: make(map[string]*clientLimiter),
		cfg:     cfg,
		now:     time.Now,
	}
	go rm.cleanupClients(ctx)
	return rm
}

// clientKey prefers the authenticated user so one account cannot dodge the
// limit by switching networks.
func clientKey(c *gin.Context) string {
	if identity, ok := IdentityFrom(c); ok {
		return "user:" + identity.UserID.String()
	}
	return "ip:" + c.ClientIP()
}

func (rm *RateLimiterMiddleware) getClientLimiter(key string) *clientLimiter {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	limiter, exists := rm.clients[key]
	if !exists {
		limiter = &clientLimiter{
			softLimiter: rate.NewLimiter(rate.Limit(rm.cfg.RateLimitSoftRefillRate), rm.cfg.RateLimitSoftBucketSize),
			hardLimiter: rate.NewLimiter(rate.Limit(rm.cfg.RateLimitHardRefillRate), rm.cfg.RateLimitHardBucketSize),
		}
		rm.clients[key] = limiter
	}
	limiter.lastSeen = rm.now()
	return limiter
}

func (rm *RateLimiterMiddleware) cleanupClients(ctx context.Context) {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := rm.prune(); removed > 0 {
				logger.Ctx(ctx).Debug().Int("removed", removed).Msg("rate limiter cleanup")
			}
		}
	}
}

// prune drops clients idle for longer than limiterIdleTimeout.
func (rm *RateLimiterMiddleware) prune() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	removed := 0
	for key, client := range rm.clients {
		if rm.now().Sub(client.lastSeen) > limiterIdleTimeout {
			delete(rm.clients, key)
			removed++
		}
	}
	return removed
}

// Limit enforces the hard bucket.
func (rm *RateLimiterMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := clientKey(c)
		if !rm.getClientLimiter(key).hardLimiter.Allow() {
			logger.Ctx(c.Request.Context()).Warn().Str("client", key).Str("route", c.FullPath()).Msg("hard rate limit exceeded")
			responses.WriteError(c, apperrors.New(apperrors.CodeRateLimit, "rate limit exceeded"))
			return
		}
		c.Next()
	}
}

// LimitStrict enforces the soft bucket. It runs after authentication so the
// bucket is keyed by user.
func (rm *RateLimiterMiddleware) LimitStrict() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := clientKey(c)
		if !rm.getClientLimiter(key).softLimiter.Allow() {
			logger.Ctx(c.Request.Context()).Warn().Str("client", key).Str("route", c.FullPath()).Msg("soft rate limit exceeded")
			responses.WriteError(c, apperrors.New(apperrors.CodeRateLimit, "too many requests, slow down"))
			return
		}
		c.Next()
	}
}
