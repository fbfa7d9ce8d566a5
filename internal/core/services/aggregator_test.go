package services

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/event-broker/devtools/internal/core/domain"
	"github.com/event-broker/devtools/internal/core/ports"
	memorybroker "github.com/event-broker/devtools/internal/infrastructure/broker/memory"
	memoryrepo "github.com/event-broker/devtools/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newTestCore wires an aggregator to a reference broker the same way the hook
// adapter does, minus the snapshot ticker.
func newTestCore(t *testing.T, cfg AggregatorConfig) (*memorybroker.Broker, *Aggregator) {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()

	broker := memorybroker.NewBroker(logger)
	broadcaster := NewBroadcaster(nil, logger)
	agg := NewAggregator(broker, broadcaster, cfg, logger)

	_, err := broker.InterceptPublish(func(evt ports.PublishNotice) ports.HookDecision {
		agg.RecordPublish(evt)
		return ports.Allow()
	})
	require.NoError(t, err)
	_, err = broker.InterceptDelivery(func(evt ports.PublishNotice, res ports.DeliveryResult) {
		agg.RecordDelivery(evt, res)
	})
	require.NoError(t, err)

	return broker, agg
}

func notice(id, eventType, source, recipient string) ports.PublishNotice {
	return ports.PublishNotice{
		EventID:   id,
		Type:      eventType,
		Source:    source,
		Recipient: recipient,
		Timestamp: time.Now(),
	}
}

func TestAggregator_TotalCountsDistinctIDs(t *testing.T) {
	_, agg := newTestCore(t, DefaultAggregatorConfig())

	evt := notice("evt-1", "ping", "client-a", domain.BroadcastRecipient)
	agg.RecordPublish(evt)
	agg.RecordPublish(evt) // duplicate notification for the same id
	agg.RecordPublish(notice("evt-2", "ping", "client-a", domain.BroadcastRecipient))

	snap := agg.Snapshot()
	assert.Equal(t, uint64(2), snap.Metrics.TotalEvents)
	assert.Len(t, snap.Events, 2)
	assert.Equal(t, uint64(2), snap.Metrics.EventsByType["ping"])
}

func TestAggregator_DeliveryWithoutPublish_FullCatchUp(t *testing.T) {
	_, agg := newTestCore(t, DefaultAggregatorConfig())

	// No publish notification was ever observed for this id; the delivery
	// path must synthesize the record with full pre-send accounting.
	evt := notice("ghost-1", "cart.updated", "client-a", "client-b")
	agg.RecordDelivery(evt, ports.DeliveryResult{
		Status:    domain.ResponseAck,
		Timestamp: time.Now(),
		ClientID:  "client-b",
	})

	snap := agg.Snapshot()
	require.Len(t, snap.Events, 1)
	assert.Equal(t, uint64(1), snap.Metrics.TotalEvents)
	assert.Equal(t, domain.StatusDelivered, snap.Events[0].Status)
	assert.Equal(t, uint64(1), snap.Delivery.AckTotal)
	// No pre-send was seen, so no latency sample can be derived.
	assert.Zero(t, snap.Metrics.Latency.Samples)
}

func TestAggregator_DeliveryAfterClear_NoDoubleCount(t *testing.T) {
	_, agg := newTestCore(t, DefaultAggregatorConfig())

	evt := notice("evt-1", "ping", "client-a", "client-b")
	agg.RecordPublish(evt)
	agg.ClearEvents()

	// The record was cleared mid-flight but its start time survived, so the
	// delivery must resurrect the record without counting the event again.
	agg.RecordDelivery(evt, ports.DeliveryResult{
		Status:    domain.ResponseAck,
		Timestamp: time.Now(),
		ClientID:  "client-b",
	})

	snap := agg.Snapshot()
	require.Len(t, snap.Events, 1)
	assert.Equal(t, uint64(1), snap.Metrics.TotalEvents)
	assert.Equal(t, domain.StatusDelivered, snap.Events[0].Status)
	assert.Equal(t, 1, snap.Metrics.Latency.Samples)
}

func TestAggregator_HistoryEvictsOldestFirst(t *testing.T) {
	_, agg := newTestCore(t, AggregatorConfig{MaxHistory: 5})

	for i := 1; i <= 8; i++ {
		agg.RecordPublish(notice(fmt.Sprintf("evt-%d", i), "ping", "client-a", domain.BroadcastRecipient))
	}

	snap := agg.Snapshot()
	require.Len(t, snap.Events, 5)
	// Oldest three evicted, order preserved.
	for i, rec := range snap.Events {
		assert.Equal(t, fmt.Sprintf("evt-%d", i+4), rec.ID)
	}
	// Eviction never touches the running totals.
	assert.Equal(t, uint64(8), snap.Metrics.TotalEvents)
}

func TestAggregator_ClearPreservesCounters(t *testing.T) {
	broker, agg := newTestCore(t, DefaultAggregatorConfig())
	ctx := context.Background()

	require.NoError(t, broker.Connect("client-a", domain.TransportIframe, nil))
	require.NoError(t, broker.Connect("client-b", domain.TransportWorker, nil))
	require.NoError(t, broker.SubscribeClient("client-b", "ping"))

	require.NoError(t, broker.Broadcast(ctx, "ping", "client-a", nil))
	require.NoError(t, broker.Broadcast(ctx, "ping", "client-a", nil))

	agg.ClearEvents()

	snap := agg.Snapshot()
	assert.Empty(t, snap.Events)
	assert.Equal(t, uint64(2), snap.Metrics.TotalEvents)
	assert.Equal(t, uint64(2), snap.Delivery.AckTotal)

	byID := clientsByID(snap.Clients)
	assert.Equal(t, uint64(2), byID["client-a"].SentCount)
	assert.Equal(t, uint64(2), byID["client-b"].ReceivedCount)
}

func TestAggregator_BroadcastFanOutExcludesSender(t *testing.T) {
	broker, agg := newTestCore(t, DefaultAggregatorConfig())
	ctx := context.Background()

	for _, id := range []string{"client-a", "client-b", "client-c"} {
		require.NoError(t, broker.Connect(id, domain.TransportLocal, nil))
		require.NoError(t, broker.SubscribeClient(id, "ping"))
	}

	require.NoError(t, broker.Broadcast(ctx, "ping", "client-a", nil))

	snap := agg.Snapshot()
	require.Len(t, snap.Events, 1)
	assert.Equal(t, domain.StatusDelivered, snap.Events[0].Status)

	byID := clientsByID(snap.Clients)
	assert.Equal(t, uint64(1), byID["client-a"].SentCount)
	assert.Equal(t, uint64(0), byID["client-a"].ReceivedCount, "sender must not be credited")
	assert.Equal(t, uint64(1), byID["client-b"].ReceivedCount)
	assert.Equal(t, uint64(1), byID["client-c"].ReceivedCount)
}

func TestAggregator_FailedBroadcastCreditsNobody(t *testing.T) {
	broker, agg := newTestCore(t, DefaultAggregatorConfig())
	ctx := context.Background()

	require.NoError(t, broker.Connect("client-a", domain.TransportLocal, nil))
	require.NoError(t, broker.Connect("client-b", domain.TransportLocal, nil))
	// Nobody subscribed to "ping": the broker NACKs the broadcast.

	require.NoError(t, broker.Broadcast(ctx, "ping", "client-a", nil))

	snap := agg.Snapshot()
	require.Len(t, snap.Events, 1)
	assert.Equal(t, domain.StatusFailed, snap.Events[0].Status)
	assert.Equal(t, uint64(1), snap.Delivery.NackTotal)
	assert.Equal(t, uint64(1), snap.Delivery.NacksByType["ping"])

	byID := clientsByID(snap.Clients)
	assert.Equal(t, uint64(1), byID["client-a"].SentCount)
	for id, rec := range byID {
		assert.Zero(t, rec.ReceivedCount, "client %s must not be credited for a failed broadcast", id)
	}
}

func TestAggregator_UnicastCreditsOnlyRecipient(t *testing.T) {
	broker, agg := newTestCore(t, DefaultAggregatorConfig())
	ctx := context.Background()

	for _, id := range []string{"client-a", "client-b", "client-c"} {
		require.NoError(t, broker.Connect(id, domain.TransportLocal, nil))
		require.NoError(t, broker.SubscribeClient(id, "ping"))
	}

	require.NoError(t, broker.Send(ctx, "ping", "client-a", "client-b", nil))

	snap := agg.Snapshot()
	byID := clientsByID(snap.Clients)
	assert.Equal(t, uint64(1), byID["client-b"].ReceivedCount)
	assert.Equal(t, uint64(0), byID["client-c"].ReceivedCount, "unicast must not fan out")
	assert.Equal(t, uint64(1), snap.Delivery.AckTotal)
}

func TestAggregator_UnicastNack(t *testing.T) {
	broker, agg := newTestCore(t, DefaultAggregatorConfig())
	ctx := context.Background()

	require.NoError(t, broker.Connect("client-a", domain.TransportLocal, nil))
	require.NoError(t, broker.Connect("client-b", domain.TransportLocal, nil))

	require.NoError(t, broker.Send(ctx, "ping", "client-a", "client-b", nil))

	snap := agg.Snapshot()
	require.Len(t, snap.Events, 1)
	assert.Equal(t, domain.StatusFailed, snap.Events[0].Status)
	require.NotNil(t, snap.Events[0].Response)
	assert.Equal(t, domain.ResponseNack, snap.Events[0].Response.Status)

	byID := clientsByID(snap.Clients)
	assert.Zero(t, byID["client-b"].ReceivedCount)
}

func TestAggregator_SingleBroadcastScenario(t *testing.T) {
	broker, agg := newTestCore(t, DefaultAggregatorConfig())
	ctx := context.Background()

	require.NoError(t, broker.Connect("client-a", domain.TransportIframe, nil))
	require.NoError(t, broker.Connect("client-b", domain.TransportWorker, nil))
	require.NoError(t, broker.SubscribeClient("client-b", "ping"))

	require.NoError(t, broker.Broadcast(ctx, "ping", "client-a", json.RawMessage(`{"n":1}`)))

	snap := agg.Snapshot()
	require.Len(t, snap.Events, 1)

	rec := snap.Events[0]
	assert.Equal(t, "ping", rec.Type)
	assert.Equal(t, "client-a", rec.Source)
	assert.Equal(t, domain.BroadcastRecipient, rec.Recipient)
	assert.Equal(t, domain.StatusDelivered, rec.Status)

	byID := clientsByID(snap.Clients)
	assert.Equal(t, uint64(1), byID["client-a"].SentCount)
	assert.Equal(t, uint64(1), byID["client-b"].ReceivedCount)
	assert.Equal(t, uint64(1), snap.Delivery.AckTotal)
	assert.Equal(t, uint64(1), snap.Delivery.AcksByType["ping"])
	assert.Equal(t, 1.0, snap.Delivery.SuccessRate)
}

func TestAggregator_AckPlusNackMatchesCompleted(t *testing.T) {
	broker, agg := newTestCore(t, DefaultAggregatorConfig())
	ctx := context.Background()

	require.NoError(t, broker.Connect("client-a", domain.TransportLocal, nil))
	require.NoError(t, broker.Connect("client-b", domain.TransportLocal, nil))
	require.NoError(t, broker.SubscribeClient("client-b", "ping"))

	require.NoError(t, broker.Broadcast(ctx, "ping", "client-a", nil))      // ACK
	require.NoError(t, broker.Broadcast(ctx, "metrics", "client-a", nil))   // NACK, no subscribers
	require.NoError(t, broker.Send(ctx, "ping", "client-a", "client-b", nil)) // ACK
	agg.RecordPublish(notice("pending-1", "ping", "client-a", domain.BroadcastRecipient))

	snap := agg.Snapshot()
	completed := 0
	for _, rec := range snap.Events {
		if rec.Completed() {
			completed++
		}
	}
	assert.Equal(t, uint64(completed), snap.Delivery.AckTotal+snap.Delivery.NackTotal)
	assert.Equal(t, uint64(2), snap.Delivery.AckTotal)
	assert.Equal(t, uint64(1), snap.Delivery.NackTotal)
}

func TestAggregator_StatusTransitionIsOneWay(t *testing.T) {
	_, agg := newTestCore(t, DefaultAggregatorConfig())

	evt := notice("evt-1", "ping", "client-a", "client-b")
	agg.RecordPublish(evt)
	agg.RecordDelivery(evt, ports.DeliveryResult{Status: domain.ResponseAck, Timestamp: time.Now()})
	agg.RecordDelivery(evt, ports.DeliveryResult{Status: domain.ResponseNack, Timestamp: time.Now()})

	snap := agg.Snapshot()
	require.Len(t, snap.Events, 1)
	assert.Equal(t, domain.StatusDelivered, snap.Events[0].Status)
	assert.Equal(t, uint64(1), snap.Delivery.AckTotal)
	assert.Zero(t, snap.Delivery.NackTotal)
}

func TestAggregator_SuccessRate(t *testing.T) {
	_, agg := newTestCore(t, DefaultAggregatorConfig())

	snap := agg.Snapshot()
	assert.Zero(t, snap.Delivery.SuccessRate, "no completions yet")

	for i := 0; i < 3; i++ {
		evt := notice(fmt.Sprintf("ack-%d", i), "ping", "client-a", "client-b")
		agg.RecordPublish(evt)
		agg.RecordDelivery(evt, ports.DeliveryResult{Status: domain.ResponseAck, Timestamp: time.Now()})
	}
	evt := notice("nack-0", "ping", "client-a", "client-b")
	agg.RecordPublish(evt)
	agg.RecordDelivery(evt, ports.DeliveryResult{Status: domain.ResponseNack, Timestamp: time.Now()})

	snap = agg.Snapshot()
	assert.InDelta(t, 0.75, snap.Delivery.SuccessRate, 1e-9)
	assert.InDelta(t, 0.75, snap.Metrics.SuccessRate, 1e-9)
}

func TestAggregator_LatencyWindowKeepsRecentHalf(t *testing.T) {
	_, agg := newTestCore(t, AggregatorConfig{LatencyWindow: 4})

	base := time.Now()
	clock := base
	agg.now = func() time.Time { return clock }

	for i := 1; i <= 5; i++ {
		evt := notice(fmt.Sprintf("evt-%d", i), "ping", "client-a", "client-b")
		agg.RecordPublish(evt)
		clock = clock.Add(time.Duration(i) * 10 * time.Millisecond)
		agg.RecordDelivery(evt, ports.DeliveryResult{Status: domain.ResponseAck, Timestamp: clock})
	}

	snap := agg.Snapshot()
	// Fifth sample overflowed a window of 4; only the most recent half is kept.
	assert.Equal(t, 2, snap.Metrics.Latency.Samples)
	assert.InDelta(t, 40.0, snap.Metrics.Latency.MinMS, 0.01)
	assert.InDelta(t, 50.0, snap.Metrics.Latency.MaxMS, 0.01)
	assert.InDelta(t, 45.0, snap.Metrics.Latency.AverageMS, 0.01)
}

func TestAggregator_SubscribeInvokesImmediately(t *testing.T) {
	_, agg := newTestCore(t, DefaultAggregatorConfig())
	agg.RecordPublish(notice("evt-1", "ping", "client-a", domain.BroadcastRecipient))

	var got []domain.Snapshot
	unsubscribe := agg.Subscribe(func(snap domain.Snapshot) {
		got = append(got, snap)
	})
	defer unsubscribe()

	require.Len(t, got, 1, "listener must receive the current snapshot on subscribe")
	assert.Equal(t, uint64(1), got[0].Metrics.TotalEvents)

	agg.RecordPublish(notice("evt-2", "ping", "client-a", domain.BroadcastRecipient))
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[1].Metrics.TotalEvents)

	unsubscribe()
	unsubscribe() // idempotent
	agg.RecordPublish(notice("evt-3", "ping", "client-a", domain.BroadcastRecipient))
	assert.Len(t, got, 2, "no delivery after unsubscribe")
}

func TestAggregator_UpdateSettingsTrimsHistory(t *testing.T) {
	_, agg := newTestCore(t, DefaultAggregatorConfig())

	for i := 1; i <= 10; i++ {
		agg.RecordPublish(notice(fmt.Sprintf("evt-%d", i), "ping", "client-a", domain.BroadcastRecipient))
	}

	maxHistory := 3
	settings := agg.UpdateSettings(context.Background(), domain.SettingsPatch{MaxHistory: &maxHistory})
	assert.Equal(t, 3, settings.MaxHistory)

	snap := agg.Snapshot()
	require.Len(t, snap.Events, 3)
	assert.Equal(t, "evt-8", snap.Events[0].ID)
	assert.Equal(t, uint64(10), snap.Metrics.TotalEvents)
}

func TestAggregator_SettingsPersistAndRestore(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	broker := memorybroker.NewBroker(logger)
	repo := memoryrepo.NewMemorySettingsRepository()

	broadcaster := NewBroadcaster(repo, logger)
	agg := NewAggregator(broker, broadcaster, DefaultAggregatorConfig(), logger)

	open := true
	position := domain.DockLeft
	agg.UpdateSettings(context.Background(), domain.SettingsPatch{
		Open:     &open,
		Position: &position,
	})

	persisted, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DockLeft, persisted.Position)

	// A fresh core restores the durable subset; Open is session state and
	// always starts closed.
	agg2 := NewAggregator(broker, NewBroadcaster(repo, logger), DefaultAggregatorConfig(), logger)
	snap := agg2.Snapshot()
	assert.Equal(t, domain.DockLeft, snap.Settings.Position)
	assert.False(t, snap.Settings.Open)
}

func TestAggregator_SendTestMessage(t *testing.T) {
	broker, agg := newTestCore(t, DefaultAggregatorConfig())
	ctx := context.Background()

	require.NoError(t, broker.Connect("panel", domain.TransportLocal, nil))
	require.NoError(t, broker.Connect("client-b", domain.TransportLocal, nil))
	require.NoError(t, broker.SubscribeClient("client-b", "ping"))

	err := agg.SendTestMessage(ctx, "ping", json.RawMessage(`{not json`), "panel", "")
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	// Empty recipient means broadcast, not a unicast to an empty id.
	require.NoError(t, agg.SendTestMessage(ctx, "ping", json.RawMessage(`{"n":1}`), "panel", ""))

	snap := agg.Snapshot()
	require.Len(t, snap.Events, 1)
	assert.Equal(t, domain.BroadcastRecipient, snap.Events[0].Recipient)
	assert.Equal(t, domain.StatusDelivered, snap.Events[0].Status)

	require.NoError(t, agg.SendTestMessage(ctx, "ping", nil, "panel", "client-b"))
	snap = agg.Snapshot()
	require.Len(t, snap.Events, 2)
	assert.Equal(t, "client-b", snap.Events[1].Recipient)
}

func TestAggregator_BrokerQueryFailureKeepsCounters(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	broker := &failingBroker{}
	agg := NewAggregator(broker, NewBroadcaster(nil, logger), DefaultAggregatorConfig(), logger)

	evt := notice("evt-1", "ping", "client-a", "client-b")
	agg.RecordPublish(evt)
	agg.RecordDelivery(evt, ports.DeliveryResult{Status: domain.ResponseAck, Timestamp: time.Now()})

	snap := agg.Snapshot()
	assert.False(t, snap.Connected)
	assert.Empty(t, snap.Clients)
	// Accumulated state survives the unreachable broker.
	assert.Equal(t, uint64(1), snap.Metrics.TotalEvents)
	assert.Equal(t, uint64(1), snap.Delivery.AckTotal)
	require.Len(t, snap.Events, 1)
}

func TestAggregator_MarkDisconnected(t *testing.T) {
	broker, agg := newTestCore(t, DefaultAggregatorConfig())
	require.NoError(t, broker.Connect("client-a", domain.TransportLocal, nil))

	snap := agg.Snapshot()
	assert.True(t, snap.Connected)

	agg.MarkDisconnected()
	// The next snapshot re-queries the broker; with the reference broker
	// reachable it flips back, so check through a failing one instead.
	logger := zaptest.NewLogger(t).Sugar()
	agg2 := NewAggregator(&failingBroker{}, NewBroadcaster(nil, logger), DefaultAggregatorConfig(), logger)
	agg2.MarkDisconnected()
	assert.False(t, agg2.Snapshot().Connected)
}

func clientsByID(clients []domain.ClientRecord) map[string]domain.ClientRecord {
	out := make(map[string]domain.ClientRecord, len(clients))
	for _, c := range clients {
		out[c.ID] = c
	}
	return out
}

// failingBroker simulates a broker whose query surface is unreachable.
type failingBroker struct{}

func (f *failingBroker) InterceptSubscriptions(ports.SubscriptionInterceptor) (ports.DetachFunc, error) {
	return func() {}, nil
}

func (f *failingBroker) InterceptPublish(ports.PublishInterceptor) (ports.DetachFunc, error) {
	return func() {}, nil
}

func (f *failingBroker) InterceptDelivery(ports.DeliveryInterceptor) (ports.DetachFunc, error) {
	return func() {}, nil
}

func (f *failingBroker) Clients(ctx context.Context) ([]ports.ClientInfo, error) {
	return nil, domain.ErrBrokerUnavailable
}

func (f *failingBroker) Subscriptions(ctx context.Context) (map[string][]string, error) {
	return nil, domain.ErrBrokerUnavailable
}

func (f *failingBroker) Send(ctx context.Context, eventType, sender, recipient string, payload json.RawMessage) error {
	return domain.ErrBrokerUnavailable
}

func (f *failingBroker) Broadcast(ctx context.Context, eventType, sender string, payload json.RawMessage) error {
	return domain.ErrBrokerUnavailable
}
