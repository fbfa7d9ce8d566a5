package ports

import (
	"context"
	"encoding/json"

	"github.com/event-broker/devtools/internal/core/domain"
)

// SnapshotListener receives the full new snapshot after every state mutation.
type SnapshotListener func(domain.Snapshot)

// Inspector is the surface exposed to panel frontends. All mutation goes
// through named methods; consumers only ever see snapshot copies.
type Inspector interface {
	// Subscribe registers a listener and invokes it immediately with the
	// current snapshot, so new observers never see a stale gap.
	Subscribe(listener SnapshotListener) DetachFunc

	Snapshot() domain.Snapshot
	UpdateSettings(ctx context.Context, patch domain.SettingsPatch) domain.Settings
	ClearEvents()
	SendTestMessage(ctx context.Context, eventType string, payload json.RawMessage, source, recipient string) error
}
