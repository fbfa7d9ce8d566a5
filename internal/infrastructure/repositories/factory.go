package repositories

import (
	"context"

	"github.com/event-broker/devtools/internal/core/ports"
	"github.com/event-broker/devtools/internal/infrastructure/repositories/file"
	"github.com/event-broker/devtools/internal/infrastructure/repositories/memory"
	redisrepo "github.com/event-broker/devtools/internal/infrastructure/repositories/redis"
	"github.com/event-broker/devtools/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates settings repositories with fallback support:
// Redis when enabled and reachable, then the local file store, then plain
// memory.
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	filePath    string
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		filePath: cfg.Storage.Path,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to local settings storage",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis settings storage")
		}
	}

	if !factory.useRedis {
		if factory.filePath != "" {
			logger.Infow("using file settings storage", "path", factory.filePath)
		} else {
			logger.Info("using in-memory settings storage")
		}
	}

	return factory, nil
}

// CreateSettingsRepository creates the settings repository for the configured
// backend.
func (f *RepositoryFactory) CreateSettingsRepository() ports.SettingsRepository {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisSettingsRepository(f.redisClient)
	}
	if f.filePath != "" {
		return file.NewFileSettingsRepository(f.filePath)
	}
	return memory.NewMemorySettingsRepository()
}

// HealthCheck verifies the configured backend is reachable.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}

// Close releases backend connections held by the factory.
func (f *RepositoryFactory) Close() error {
	return redisrepo.CloseRedisClient(f.redisClient)
}
