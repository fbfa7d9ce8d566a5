package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/event-broker/devtools/internal/core/domain"
	"github.com/event-broker/devtools/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisSettingsRepository stores the settings subset as one JSON value under
// the fixed storage key, letting multiple panel instances share state.
type RedisSettingsRepository struct {
	client *redis.Client
}

func NewRedisSettingsRepository(client *redis.Client) ports.SettingsRepository {
	return &RedisSettingsRepository{client: client}
}

func (r *RedisSettingsRepository) Save(ctx context.Context, settings domain.PersistedSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := r.client.Set(ctx, domain.SettingsStorageKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store settings: %w", err)
	}
	return nil
}

func (r *RedisSettingsRepository) Load(ctx context.Context) (domain.PersistedSettings, error) {
	data, err := r.client.Get(ctx, domain.SettingsStorageKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PersistedSettings{}, domain.ErrSettingsNotFound
	}
	if err != nil {
		return domain.PersistedSettings{}, fmt.Errorf("failed to load settings: %w", err)
	}

	var settings domain.PersistedSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return domain.PersistedSettings{}, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	return settings, nil
}
