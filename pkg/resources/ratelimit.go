package resources

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/ulule/limiter/v3"
	ginlimiter "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

const limiterPrefix = "vuosikello:limiter"

// RateLimiter limits requests per client IP at settings.RateLimit (formatted
// like "100-M"). Counters live in Redis when REDIS_ADDR is set so replicas
// share them, in process memory otherwise.
func RateLimiter(ctx context.Context, settings *Settings) (gin.HandlerFunc, StopFn, error) {
	noop := func(context.Context) error { return nil }

	rate, err := limiter.NewRateFromFormatted(settings.RateLimit)
	if err != nil {
		return nil, noop, fmt.Errorf("failed to parse RATE_LIMIT %q: %w", settings.RateLimit, err)
	}

	store := memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: limiterPrefix})
	stop := noop

	if settings.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: settings.RedisAddr})

		err = client.Ping(ctx).Err()
		if err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("failed to reach redis at %s: %w", settings.RedisAddr, err)
		}

		store, err = sredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: limiterPrefix, MaxRetry: 3})
		if err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("failed to create redis limiter store: %w", err)
		}

		stop = func(context.Context) error { return client.Close() }

		log.Ctx(ctx).Info().Str("stage", "startup").Str("component", "rate-limiter").Str("store", "redis").Msg("rate limiter ready")
	}

	middleware := ginlimiter.NewMiddleware(limiter.New(store, rate),
		ginlimiter.WithLimitReachedHandler(func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"message": "too many requests"})
		}),
	)

	return middleware, stop, nil
}
