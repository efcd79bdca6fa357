package client

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/jaxron/axonet/middleware/circuitbreaker"
	axonetRedis "github.com/jaxron/axonet/middleware/redis"
	"github.com/jaxron/axonet/middleware/retry"
	"github.com/jaxron/axonet/middleware/singleflight"
	"github.com/jaxron/axonet/pkg/client"
	"github.com/jaxron/axonet/pkg/client/middleware"
	"github.com/jaxron/roapi.go/pkg/api"
	"github.com/mellow-sync/mellow/internal/redis"
	"github.com/mellow-sync/mellow/internal/setup/config"
	"go.uber.org/zap"
)

// GroupRolesCacheTTL is how long group role responses are cached in Redis.
const GroupRolesCacheTTL = 5 * time.Minute

// GetRoAPIClient constructs an HTTP client with a middleware chain for reliability and performance.
// Group role lookups are public, so no cookies are attached.
func GetRoAPIClient(
	cfg *config.CommonConfig, redisManager *redis.Manager, zapLogger *zap.Logger, requestTimeout time.Duration,
) (*api.API, error) {
	redisClient, err := redisManager.GetClient(redis.CacheDBIndex)
	if err != nil {
		return nil, err
	}

	// Build middleware chain - order matters!
	middlewares := []middleware.Middleware{
		circuitbreaker.New(
			cfg.CircuitBreaker.MaxRequests,
			time.Duration(cfg.CircuitBreaker.Interval)*time.Millisecond,
			time.Duration(cfg.CircuitBreaker.Timeout)*time.Millisecond,
		),
		retry.New(
			cfg.Retry.MaxRetries,
			time.Duration(cfg.Retry.Delay)*time.Millisecond,
			time.Duration(cfg.Retry.MaxDelay)*time.Millisecond,
		),
		singleflight.New(),
		axonetRedis.New(redisClient, GroupRolesCacheTTL),
	}

	zapLogger.Debug("Created Roblox API client",
		zap.Duration("timeout", requestTimeout),
		zap.Int("middlewares", len(middlewares)))

	return api.New(nil,
		client.WithMarshalFunc(sonic.Marshal),
		client.WithUnmarshalFunc(sonic.Unmarshal),
		client.WithTimeout(requestTimeout),
		client.WithMiddleware(middlewares...),
	), nil
}
