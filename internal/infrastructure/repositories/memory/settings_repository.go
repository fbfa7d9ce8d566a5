package memory

import (
	"context"
	"sync"

	"github.com/event-broker/devtools/internal/core/domain"
	"github.com/event-broker/devtools/internal/core/ports"
)

// MemorySettingsRepository keeps the settings subset in process memory only.
// Used in tests and as the last-resort fallback when no durable backend is
// available.
type MemorySettingsRepository struct {
	mu     sync.RWMutex
	stored *domain.PersistedSettings
}

func NewMemorySettingsRepository() ports.SettingsRepository {
	return &MemorySettingsRepository{}
}

func (r *MemorySettingsRepository) Save(ctx context.Context, settings domain.PersistedSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stored = &settings
	return nil
}

func (r *MemorySettingsRepository) Load(ctx context.Context) (domain.PersistedSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.stored == nil {
		return domain.PersistedSettings{}, domain.ErrSettingsNotFound
	}
	return *r.stored, nil
}
