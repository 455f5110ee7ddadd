package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

const rateLimitPrefix = "roundledger:ratelimit"

// NewRateLimiter creates a Gin middleware for rate limiting. Counters are
// kept in Redis when client is non-nil so that every replica shares them,
// and in process memory otherwise.
func NewRateLimiter(rate limiter.Rate, client redis.UniversalClient) (gin.HandlerFunc, error) {
	if rate.Limit <= 0 || rate.Period <= 0 {
		return nil, fmt.Errorf("invalid rate limit %d per %v", rate.Limit, rate.Period)
	}

	opts := limiter.StoreOptions{
		Prefix:          rateLimitPrefix,
		MaxRetry:        limiter.DefaultMaxRetry,
		CleanUpInterval: limiter.DefaultCleanUpInterval,
	}

	var store limiter.Store
	if client != nil {
		var err error
		store, err = sredis.NewStoreWithOptions(client, opts)
		if err != nil {
			return nil, fmt.Errorf("create redis rate limit store: %w", err)
		}
	} else {
		store = memory.NewStoreWithOptions(opts)
	}

	instance := limiter.New(store, rate)
	return mgin.NewMiddleware(instance), nil
}
