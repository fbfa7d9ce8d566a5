package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/event-broker/devtools/internal/core/domain"
	"github.com/event-broker/devtools/internal/core/ports"

	"go.uber.org/zap"
)

// AggregatorConfig bounds the aggregator's memory footprint.
type AggregatorConfig struct {
	MaxHistory       int
	LatencyWindow    int
	SnapshotInterval time.Duration
}

func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		MaxHistory:       1000,
		LatencyWindow:    256,
		SnapshotInterval: time.Second,
	}
}

// Aggregator is the aggregation core: it turns broker lifecycle notifications
// into a bounded event history, per-client running counters, a trailing
// latency window and ACK/NACK tallies, and projects all of it into immutable
// snapshots. Per event id the state machine is
// unseen -> pending -> delivered|failed, one-way.
//
// The aggregator exclusively owns all mutable state; everything handed out is
// a copy. It never caches broker membership, and a broker query failure only
// flips the snapshot to disconnected without discarding accumulated counters.
type Aggregator struct {
	mu sync.Mutex

	broker      ports.Broker
	broadcaster *Broadcaster
	logger      *zap.SugaredLogger

	settings domain.Settings

	events []*domain.EventRecord
	index  map[string]*domain.EventRecord

	startTimes   map[string]time.Time
	sentCounts   map[string]uint64
	recvCounts   map[string]uint64
	lastActivity map[string]time.Time

	totalEvents  uint64
	eventsByType map[string]uint64
	ackTotal     uint64
	nackTotal    uint64
	acksByType   map[string]uint64
	nacksByType  map[string]uint64

	latencies     []time.Duration
	latencyWindow int

	attachedAt time.Time
	connected  bool

	interval time.Duration
	tickStop chan struct{}

	now func() time.Time
}

// NewAggregator constructs an aggregation core bound to one broker instance.
// Lifetime is tied to an explicit attach/detach pair; there are no
// process-wide singletons. Previously persisted settings are restored if the
// broadcaster has a repository behind it.
func NewAggregator(broker ports.Broker, broadcaster *Broadcaster, cfg AggregatorConfig, logger *zap.SugaredLogger) *Aggregator {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultAggregatorConfig().MaxHistory
	}
	if cfg.LatencyWindow <= 0 {
		cfg.LatencyWindow = DefaultAggregatorConfig().LatencyWindow
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = DefaultAggregatorConfig().SnapshotInterval
	}

	settings := domain.DefaultSettings()
	settings.MaxHistory = cfg.MaxHistory

	a := &Aggregator{
		broker:        broker,
		broadcaster:   broadcaster,
		logger:        logger,
		settings:      settings,
		index:         make(map[string]*domain.EventRecord),
		startTimes:    make(map[string]time.Time),
		sentCounts:    make(map[string]uint64),
		recvCounts:    make(map[string]uint64),
		lastActivity:  make(map[string]time.Time),
		eventsByType:  make(map[string]uint64),
		acksByType:    make(map[string]uint64),
		nacksByType:   make(map[string]uint64),
		latencyWindow: cfg.LatencyWindow,
		attachedAt:    time.Now(),
		connected:     true,
		interval:      cfg.SnapshotInterval,
		now:           time.Now,
	}

	if ps, err := broadcaster.LoadPersisted(context.Background()); err == nil {
		a.settings = a.settings.Restore(ps)
	} else if !errors.Is(err, domain.ErrSettingsNotFound) {
		logger.Warnw("failed to restore panel settings", "error", err)
	}

	return a
}

var _ ports.Inspector = (*Aggregator)(nil)

// RecordPublish handles a pre-send notification from the hook adapter.
func (a *Aggregator) RecordPublish(evt ports.PublishNotice) {
	a.mu.Lock()
	a.recordPublishLocked(evt)
	a.mu.Unlock()

	a.publish()
}

// recordPublishLocked creates a pending record and performs the pre-send
// accounting. Duplicate notifications for an already-known id are ignored.
func (a *Aggregator) recordPublishLocked(evt ports.PublishNotice) {
	if _, exists := a.index[evt.EventID]; exists {
		return
	}

	ts := evt.Timestamp
	if ts.IsZero() {
		ts = a.now()
	}

	rec := &domain.EventRecord{
		ID:        evt.EventID,
		Type:      evt.Type,
		Source:    evt.Source,
		Recipient: evt.Recipient,
		Timestamp: ts,
		Payload:   evt.Payload,
		Status:    domain.StatusPending,
	}
	a.appendRecordLocked(rec)

	a.startTimes[evt.EventID] = a.now()
	a.totalEvents++
	a.eventsByType[evt.Type]++

	if evt.Source != "" {
		a.sentCounts[evt.Source]++
		a.lastActivity[evt.Source] = ts
	}
}

// RecordDelivery handles a post-send notification. When no record exists for
// the id the catch-up path synthesizes one first: with full pre-send
// accounting when the publish hook was genuinely skipped upstream, or without
// re-counting when the record was merely evicted or cleared mid-flight (the
// dangling start time tells the two cases apart).
func (a *Aggregator) RecordDelivery(evt ports.PublishNotice, res ports.DeliveryResult) {
	a.mu.Lock()

	rec, exists := a.index[evt.EventID]
	if !exists {
		if _, counted := a.startTimes[evt.EventID]; counted {
			rec = &domain.EventRecord{
				ID:        evt.EventID,
				Type:      evt.Type,
				Source:    evt.Source,
				Recipient: evt.Recipient,
				Timestamp: evt.Timestamp,
				Payload:   evt.Payload,
				Status:    domain.StatusPending,
			}
			a.appendRecordLocked(rec)
		} else {
			a.recordPublishLocked(evt)
			rec = a.index[evt.EventID]
			// No pre-send was observed for this id, so there is no
			// meaningful start time to diff against.
			delete(a.startTimes, evt.EventID)
		}
	}

	if rec.Completed() {
		a.mu.Unlock()
		return
	}

	var latency time.Duration
	if start, ok := a.startTimes[evt.EventID]; ok {
		latency = a.now().Sub(start)
		a.appendLatencyLocked(latency)
		delete(a.startTimes, evt.EventID)
	}

	success := res.Status == domain.ResponseAck
	if success {
		a.fanOutReceivedLocked(evt)
		rec.Status = domain.StatusDelivered
		a.ackTotal++
		a.acksByType[evt.Type]++
	} else {
		rec.Status = domain.StatusFailed
		a.nackTotal++
		a.nacksByType[evt.Type]++
	}

	rec.Latency = latency
	rec.Response = &domain.BrokerResponse{
		Status:    res.Status,
		Message:   res.Message,
		Timestamp: res.Timestamp,
		ClientID:  res.ClientID,
		Payload:   res.Payload,
	}

	if res.ClientID != "" {
		a.lastActivity[res.ClientID] = a.now()
	}

	a.mu.Unlock()
	a.publish()
}

// fanOutReceivedLocked credits received counters for a successful delivery: a
// broadcast goes to every currently subscribed client of the type except the
// sender (per the broker's live subscription table), a unicast only to the
// named recipient.
func (a *Aggregator) fanOutReceivedLocked(evt ports.PublishNotice) {
	if evt.Recipient != domain.BroadcastRecipient {
		if evt.Recipient != "" {
			a.recvCounts[evt.Recipient]++
			a.lastActivity[evt.Recipient] = a.now()
		}
		return
	}

	subs, err := a.broker.Subscriptions(context.Background())
	if err != nil {
		a.connected = false
		a.logger.Warnw("broker subscription table unavailable, skipping broadcast fan-out",
			"event_id", evt.EventID,
			"error", err,
		)
		return
	}
	a.connected = true

	for clientID, types := range subs {
		if clientID == evt.Source {
			continue
		}
		for _, t := range types {
			if t == evt.Type {
				a.recvCounts[clientID]++
				a.lastActivity[clientID] = a.now()
				break
			}
		}
	}
}

func (a *Aggregator) appendRecordLocked(rec *domain.EventRecord) {
	a.events = append(a.events, rec)
	a.index[rec.ID] = rec

	// FIFO eviction, oldest first, never by type or status.
	max := a.settings.MaxHistory
	for len(a.events) > max {
		evicted := a.events[0]
		a.events[0] = nil
		a.events = a.events[1:]
		delete(a.index, evicted.ID)
	}
}

// appendLatencyLocked keeps a bounded trailing window; on overflow it keeps
// the most recent half rather than trimming one element per insert.
func (a *Aggregator) appendLatencyLocked(d time.Duration) {
	a.latencies = append(a.latencies, d)
	if len(a.latencies) > a.latencyWindow {
		keep := a.latencyWindow / 2
		trimmed := make([]time.Duration, keep)
		copy(trimmed, a.latencies[len(a.latencies)-keep:])
		a.latencies = trimmed
	}
}

// Subscribe registers a snapshot listener; it is invoked immediately with the
// current snapshot.
func (a *Aggregator) Subscribe(listener ports.SnapshotListener) ports.DetachFunc {
	return a.broadcaster.Subscribe(listener, a.Snapshot())
}

// Snapshot builds a fresh immutable state projection. Client records are
// derived on demand from the broker's live client list and subscription table
// merged with the locally tracked counters.
func (a *Aggregator) Snapshot() domain.Snapshot {
	clients, queried := a.queryClients()

	a.mu.Lock()
	defer a.mu.Unlock()

	if !queried {
		a.connected = false
	} else {
		a.connected = true
	}

	events := make([]domain.EventRecord, len(a.events))
	for i, rec := range a.events {
		events[i] = *rec
	}

	for i := range clients {
		clients[i].SentCount = a.sentCounts[clients[i].ID]
		clients[i].ReceivedCount = a.recvCounts[clients[i].ID]
		clients[i].LastActivity = a.lastActivity[clients[i].ID]
	}

	return domain.Snapshot{
		GeneratedAt: a.now(),
		Connected:   a.connected,
		Events:      events,
		Clients:     clients,
		Metrics:     a.metricsLocked(),
		Delivery:    a.deliveryLocked(),
		Settings:    a.settings,
	}
}

// queryClients asks the broker for its current membership. Never cached.
func (a *Aggregator) queryClients() ([]domain.ClientRecord, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	infos, err := a.broker.Clients(ctx)
	if err != nil {
		a.logger.Warnw("broker client list unavailable", "error", err)
		return nil, false
	}
	subs, err := a.broker.Subscriptions(ctx)
	if err != nil {
		a.logger.Warnw("broker subscription table unavailable", "error", err)
		return nil, false
	}

	clients := make([]domain.ClientRecord, 0, len(infos))
	for _, info := range infos {
		types := append([]string(nil), subs[info.ID]...)
		sort.Strings(types)
		clients = append(clients, domain.ClientRecord{
			ID:            info.ID,
			Transport:     info.Transport,
			Subscriptions: types,
			Active:        true,
		})
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })
	return clients, true
}

func (a *Aggregator) metricsLocked() domain.AggregateMetrics {
	now := a.now()
	uptime := now.Sub(a.attachedAt)

	eps := 0.0
	if secs := uptime.Seconds(); secs > 0 {
		eps = float64(a.totalEvents) / secs
	}

	var lat domain.LatencyStats
	if n := len(a.latencies); n > 0 {
		min, max, sum := a.latencies[0], a.latencies[0], time.Duration(0)
		for _, d := range a.latencies {
			if d < min {
				min = d
			}
			if d > max {
				max = d
			}
			sum += d
		}
		lat = domain.LatencyStats{
			AverageMS: float64(sum.Microseconds()) / float64(n) / 1000.0,
			MinMS:     float64(min.Microseconds()) / 1000.0,
			MaxMS:     float64(max.Microseconds()) / 1000.0,
			Samples:   n,
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return domain.AggregateMetrics{
		TotalEvents:     a.totalEvents,
		EventsByType:    copyCounts(a.eventsByType),
		EventsPerSecond: eps,
		Latency:         lat,
		MemoryBytes:     mem.HeapAlloc,
		MemoryAvailable: true,
		Uptime:          uptime,
		SuccessRate:     successRate(a.ackTotal, a.nackTotal),
	}
}

func (a *Aggregator) deliveryLocked() domain.DeliveryStats {
	return domain.DeliveryStats{
		AckTotal:    a.ackTotal,
		NackTotal:   a.nackTotal,
		AcksByType:  copyCounts(a.acksByType),
		NacksByType: copyCounts(a.nacksByType),
		SuccessRate: successRate(a.ackTotal, a.nackTotal),
	}
}

func successRate(acks, nacks uint64) float64 {
	total := acks + nacks
	if total == 0 {
		return 0
	}
	return float64(acks) / float64(total)
}

func copyCounts(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// UpdateSettings merges a partial settings update, persists the durable
// subset and broadcasts the resulting snapshot.
func (a *Aggregator) UpdateSettings(ctx context.Context, patch domain.SettingsPatch) domain.Settings {
	a.mu.Lock()
	a.settings = a.settings.Apply(patch)
	if a.settings.MaxHistory <= 0 {
		a.settings.MaxHistory = DefaultAggregatorConfig().MaxHistory
	}
	for len(a.events) > a.settings.MaxHistory {
		evicted := a.events[0]
		a.events[0] = nil
		a.events = a.events[1:]
		delete(a.index, evicted.ID)
	}
	settings := a.settings
	a.mu.Unlock()

	a.broadcaster.Persist(ctx, settings)
	a.publish()
	return settings
}

// ClearEvents discards the visible history only. Running sent/received and
// ACK/NACK counters survive a clear; they reset only when a new core is
// constructed.
func (a *Aggregator) ClearEvents() {
	a.mu.Lock()
	a.events = nil
	a.index = make(map[string]*domain.EventRecord)
	a.mu.Unlock()

	a.publish()
}

// SendTestMessage delegates to the broker's own send commands, so a test
// message is observed through exactly the same hooks as any other event.
func (a *Aggregator) SendTestMessage(ctx context.Context, eventType string, payload json.RawMessage, source, recipient string) error {
	if len(payload) > 0 && !json.Valid(payload) {
		a.logger.Errorw("test message payload is not valid JSON", "type", eventType)
		return fmt.Errorf("test message: %w", domain.ErrInvalidPayload)
	}

	var err error
	if recipient == "" || recipient == domain.BroadcastRecipient {
		err = a.broker.Broadcast(ctx, eventType, source, payload)
	} else {
		err = a.broker.Send(ctx, eventType, source, recipient, payload)
	}
	if err != nil {
		a.logger.Errorw("broker rejected test message",
			"type", eventType,
			"recipient", recipient,
			"error", err,
		)
		return err
	}
	return nil
}

// MarkDisconnected flips the connectivity flag without touching counters.
func (a *Aggregator) MarkDisconnected() {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()

	a.publish()
}

// StartTicker begins periodic snapshot publication. Safe to call once per
// attach; a second call while running is a no-op.
func (a *Aggregator) StartTicker() {
	a.mu.Lock()
	if a.tickStop != nil {
		a.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	a.tickStop = stop
	interval := a.interval
	a.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				a.publish()
			}
		}
	}()
}

// StopTicker halts periodic publication. Idempotent; detach calls it before
// unregistering hooks so no tick fires against a cleared broker.
func (a *Aggregator) StopTicker() {
	a.mu.Lock()
	if a.tickStop != nil {
		close(a.tickStop)
		a.tickStop = nil
	}
	a.mu.Unlock()
}

func (a *Aggregator) publish() {
	a.broadcaster.Publish(a.Snapshot())
}
