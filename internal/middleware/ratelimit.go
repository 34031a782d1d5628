package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/mocktest-backend/internal/config"
	"github.com/stemsi/mocktest-backend/internal/response"
)

// RateLimiter is a fixed-window limiter shared by every API replica through
// Redis. Requests pass when Redis is unreachable.
type RateLimiter struct {
	rdb    *redis.Client
	name   string
	rate   int64
	window time.Duration
	log    zerolog.Logger
}

// NewRateLimiter allows rate requests per window and client IP under name.
func NewRateLimiter(rdb *redis.Client, name string, rate int, window time.Duration, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:    rdb,
		name:   name,
		rate:   int64(rate),
		window: window,
		log:    log.With().Str("component", "ratelimit").Str("limiter", name).Logger(),
	}
}

// Middleware returns a Gin middleware that rate-limits requests by IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		slot := time.Now().UnixNano() / int64(rl.window)
		key := config.CacheKey.RateLimitKey(rl.name, c.ClientIP(), strconv.FormatInt(slot, 10))

		var count *redis.IntCmd
		_, err := rl.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			count = pipe.Incr(ctx, key)
			pipe.Expire(ctx, key, rl.window)
			return nil
		})
		if err != nil {
			rl.log.Warn().Err(err).Msg("Rate limit check failed, allowing request")
			c.Next()
			return
		}

		remaining := rl.rate - count.Val()
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.FormatInt(rl.rate, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count.Val() > rl.rate {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}
