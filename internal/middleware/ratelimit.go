package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/insight/internal/pkg/response"
	"go.uber.org/zap"
)

const (
	rateLimitMax    = 50
	rateLimitWindow = time.Second
	rateLimitPrefix = "insight:rate_limit:"
)

// Counter increments a key that expires after window.
type Counter interface {
	IncrWithin(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimit allows max requests per window per client IP. Counter errors let
// the request through.
func RateLimit(counter Counter, max int64, window time.Duration, log *zap.Logger) gin.HandlerFunc {
	if max <= 0 {
		max = rateLimitMax
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			c.Next()
			return
		}

		bucket := time.Now().UnixNano() / int64(window)
		key := fmt.Sprintf("%s%s:%d", rateLimitPrefix, ip, bucket)
		count, err := counter.IncrWithin(c.Request.Context(), key, window+time.Second)
		if err != nil {
			log.Debug("rate limit counter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if count > max {
			response.TooManyRequests(c)
			return
		}
		c.Next()
	}
}
