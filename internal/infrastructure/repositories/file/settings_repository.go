// Package file persists the panel settings subset as a JSON document on
// disk, the durable local-storage analog for a single-machine panel.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/event-broker/devtools/internal/core/domain"
	"github.com/event-broker/devtools/internal/core/ports"
)

// FileSettingsRepository stores a single serialized object under the fixed
// storage key. Only the settings subset is ever written; never the event log
// or counters.
type FileSettingsRepository struct {
	mu   sync.Mutex
	path string
}

func NewFileSettingsRepository(path string) ports.SettingsRepository {
	return &FileSettingsRepository{path: path}
}

func (r *FileSettingsRepository) Save(ctx context.Context, settings domain.PersistedSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	payload := map[string]domain.PersistedSettings{
		domain.SettingsStorageKey: settings,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create settings directory: %w", err)
		}
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}

func (r *FileSettingsRepository) Load(ctx context.Context) (domain.PersistedSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return domain.PersistedSettings{}, domain.ErrSettingsNotFound
	}
	if err != nil {
		return domain.PersistedSettings{}, fmt.Errorf("failed to read settings file: %w", err)
	}

	var payload map[string]domain.PersistedSettings
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.PersistedSettings{}, fmt.Errorf("failed to unmarshal settings file: %w", err)
	}

	settings, ok := payload[domain.SettingsStorageKey]
	if !ok {
		return domain.PersistedSettings{}, domain.ErrSettingsNotFound
	}
	return settings, nil
}
