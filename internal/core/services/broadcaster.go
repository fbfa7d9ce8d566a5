package services

import (
	"context"
	"sync"

	"github.com/event-broker/devtools/internal/core/domain"
	"github.com/event-broker/devtools/internal/core/ports"

	"go.uber.org/zap"
)

// Broadcaster is the snapshot observer registry. Every state mutation in the
// aggregator is followed by a synchronous Publish to all listeners plus a
// best-effort persist of the durable settings subset.
type Broadcaster struct {
	mu        sync.Mutex
	listeners map[uint64]ports.SnapshotListener
	nextID    uint64

	repo   ports.SettingsRepository
	logger *zap.SugaredLogger
}

// NewBroadcaster creates a broadcaster. repo may be nil, in which case
// settings persistence is skipped entirely.
func NewBroadcaster(repo ports.SettingsRepository, logger *zap.SugaredLogger) *Broadcaster {
	return &Broadcaster{
		listeners: make(map[uint64]ports.SnapshotListener),
		repo:      repo,
		logger:    logger,
	}
}

// Subscribe registers a listener and immediately invokes it with the current
// snapshot, so a new observer never sees a "no data" gap.
func (b *Broadcaster) Subscribe(listener ports.SnapshotListener, current domain.Snapshot) ports.DetachFunc {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = listener
	b.mu.Unlock()

	listener(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// Publish notifies every registered listener with the new snapshot.
func (b *Broadcaster) Publish(snap domain.Snapshot) {
	b.mu.Lock()
	listeners := make([]ports.SnapshotListener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

// Persist writes the durable settings subset. Failures are logged and
// swallowed; in-memory state is never affected by storage problems.
func (b *Broadcaster) Persist(ctx context.Context, settings domain.Settings) {
	if b.repo == nil {
		return
	}
	if err := b.repo.Save(ctx, settings.Persisted()); err != nil {
		b.logger.Warnw("failed to persist panel settings", "error", err)
	}
}

// LoadPersisted restores the durable settings subset, if any.
func (b *Broadcaster) LoadPersisted(ctx context.Context) (domain.PersistedSettings, error) {
	if b.repo == nil {
		return domain.PersistedSettings{}, domain.ErrSettingsNotFound
	}
	return b.repo.Load(ctx)
}

// ListenerCount reports the number of registered listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}
