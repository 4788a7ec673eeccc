package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wolftown-io/canis-server/internal/logging"
	"go.uber.org/zap"
)

// Middleware returns a gin handler that rate-limits requests by client IP
// under the given category. trustProxy controls whether X-Forwarded-For /
// X-Real-IP are honored when resolving the client IP.
func (l *Limiter) Middleware(cat Category, trustProxy bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := ExtractClientIP(c.Request, trustProxy)
		key := KeyForIP(ip)

		decision, err := l.Allow(c.Request.Context(), cat, key)
		if err != nil {
			logging.Error(c.Request.Context(), "rate limit check failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"category":    string(cat),
				"retry_after": decision.RetryAfter.Seconds(),
			})
			return
		}

		c.Next()
	}
}

// MiddlewareByUser rate-limits by authenticated user ID instead of IP,
// falling back to IP-based limiting when no user ID is present in context
// (the caller is expected to set it after auth middleware runs).
func (l *Limiter) MiddlewareByUser(cat Category, trustProxy bool, userIDKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var key string
		if uid, ok := c.Get(userIDKey); ok {
			if s, ok := uid.(string); ok && s != "" {
				key = KeyForUser(s)
			}
		}
		if key == "" {
			key = KeyForIP(ExtractClientIP(c.Request, trustProxy))
		}

		decision, err := l.Allow(c.Request.Context(), cat, key)
		if err != nil {
			logging.Error(c.Request.Context(), "rate limit check failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"category":    string(cat),
				"retry_after": decision.RetryAfter.Seconds(),
			})
			return
		}

		c.Next()
	}
}
