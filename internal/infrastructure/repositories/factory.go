package repositories

import (
	"context"

	"aircast/internal/core/ports"
	"aircast/internal/infrastructure/repositories/memory"
	redisstore "aircast/internal/infrastructure/repositories/redis"
	"aircast/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StoreFactory picks the stream store backend. Redis when configured and
// reachable, in-process memory otherwise.
type StoreFactory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

func NewStoreFactory(cfg *config.Config, logger *zap.SugaredLogger) (*StoreFactory, error) {
	factory := &StoreFactory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisstore.NewRedisClient(cfg, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory store",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis stream store")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory stream store")
	}

	return factory, nil
}

// CreateStreamStore creates the stream store for the selected backend.
func (f *StoreFactory) CreateStreamStore() ports.StreamStore {
	if f.useRedis && f.redisClient != nil {
		return redisstore.NewRedisStreamStore(f.redisClient)
	}
	return memory.NewMemoryStreamStore()
}

// RedisClient exposes the shared client for components that need raw
// Redis access, such as the event bus. Nil when running on memory.
func (f *StoreFactory) RedisClient() *redis.Client {
	if !f.useRedis {
		return nil
	}
	return f.redisClient
}

// Close closes the Redis connection if one was opened.
func (f *StoreFactory) Close() error {
	if f.redisClient != nil {
		return redisstore.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck pings Redis when it is the active backend.
func (f *StoreFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
