package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	apperrors "audittrail/internal/errors"
	"audittrail/internal/logger"
)

// RateLimiter counts requests per client in fixed Redis windows so limits
// hold across instances.
type RateLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewRateLimiter creates a limiter allowing limit requests per window.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redis:  client,
		limit:  limit,
		window: window,
		prefix: "ratelimit",
	}
}

// Allow increments the counter for key and reports whether the request fits
// in the current window, together with the requests left.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, rl.limit, fmt.Errorf("redis error: %w", err)
	}
	// First hit opens the window.
	if count == 1 {
		if err := rl.redis.Expire(ctx, redisKey, rl.window).Err(); err != nil {
			return true, rl.limit, fmt.Errorf("redis error: %w", err)
		}
	}

	remaining := rl.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return count <= int64(rl.limit), remaining, nil
}

// TTL returns the time until the window of key resets.
func (rl *RateLimiter) TTL(ctx context.Context, key string) time.Duration {
	ttl, err := rl.redis.TTL(ctx, fmt.Sprintf("%s:%s", rl.prefix, key)).Result()
	if err != nil || ttl <= 0 {
		return rl.window
	}
	return ttl
}

// Middleware limits authenticated users by id and everyone else by client
// IP. Redis failures let the request through.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if userID := c.GetString(UserIDKey); userID != "" {
			key = "user:" + userID
		}

		ctx := c.Request.Context()
		allowed, remaining, err := rl.Allow(ctx, key)
		if err != nil {
			logger.Get().Warnw("rate limiter unavailable, allowing request",
				"error", err,
				"key", key,
			)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			retryAfter := rl.TTL(ctx, key)
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second).Seconds())))
			abortWithError(c, apperrors.ErrRateLimited)
			return
		}
		c.Next()
	}
}
