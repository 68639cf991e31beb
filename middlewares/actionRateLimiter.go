package middlewares

import (
	"net/http"
	"os"
	"time"

	"civicflow-be/config"

	"github.com/gin-gonic/gin"
)

// ActionRateLimiter caps how many times a user may hit a write action
// (report, verify) per day, keyed per user in Redis. With no Redis client
// configured the limiter is a pass-through.
func ActionRateLimiter(action string, limit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.RedisClient == nil {
			c.Next()
			return
		}

		userIDVal, _ := c.Get("user_id")
		userID, ok := userIDVal.(string)
		if !ok || userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id missing"})
			c.Abort()
			return
		}

		ctx := config.Ctx
		queuePrefix := os.Getenv("REDIS_QUEUE_FOR_ACTION_LIMIT")
		if queuePrefix == "" {
			queuePrefix = "civicflow:ratelimit"
		}

		// Individual key per user and action
		userKey := queuePrefix + ":" + action + ":" + userID

		// Increment user's count with TTL
		count, err := config.RedisClient.Incr(ctx, userKey).Result()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "redis error incrementing count"})
			c.Abort()
			return
		}

		// Set TTL only for the first increment (when count = 1)
		if count == 1 {
			err = config.RedisClient.Expire(ctx, userKey, 24*time.Hour).Err()
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "redis error setting TTL"})
				c.Abort()
				return
			}
		}

		// Check if user exceeded limit
		if count > int64(limit) {
			retryAfter, _ := config.RedisClient.TTL(ctx, userKey).Result()
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": retryAfter.Seconds(),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
