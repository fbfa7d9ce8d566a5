package ports

import (
	"context"

	"github.com/event-broker/devtools/internal/core/domain"
)

// SettingsRepository persists the durable settings subset under
// domain.SettingsStorageKey. Load returns domain.ErrSettingsNotFound when
// nothing has been stored yet.
type SettingsRepository interface {
	Save(ctx context.Context, settings domain.PersistedSettings) error
	Load(ctx context.Context) (domain.PersistedSettings, error)
}
