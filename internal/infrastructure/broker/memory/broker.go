// Package memory provides an in-process reference broker implementing the
// full ports.Broker capability surface: the three lifecycle hooks, membership
// queries and the unicast/broadcast send commands. It backs the standalone
// devtools binary and the test suite.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/event-broker/devtools/internal/core/domain"
	"github.com/event-broker/devtools/internal/core/ports"
	"github.com/event-broker/devtools/pkg/utils"

	"go.uber.org/zap"
)

// HandlerFunc receives events delivered to a connected client.
type HandlerFunc func(evt ports.PublishNotice)

type Broker struct {
	mu sync.RWMutex

	clients  map[string]ports.ClientInfo
	subs     map[string]map[string]bool
	handlers map[string]HandlerFunc

	subHookIDs []uint64
	subHooks   map[uint64]ports.SubscriptionInterceptor
	pubHookIDs []uint64
	pubHooks   map[uint64]ports.PublishInterceptor
	delHookIDs []uint64
	delHooks   map[uint64]ports.DeliveryInterceptor
	nextHookID uint64

	logger *zap.SugaredLogger
}

func NewBroker(logger *zap.SugaredLogger) *Broker {
	return &Broker{
		clients:  make(map[string]ports.ClientInfo),
		subs:     make(map[string]map[string]bool),
		handlers: make(map[string]HandlerFunc),
		subHooks: make(map[uint64]ports.SubscriptionInterceptor),
		pubHooks: make(map[uint64]ports.PublishInterceptor),
		delHooks: make(map[uint64]ports.DeliveryInterceptor),
		logger:   logger,
	}
}

var _ ports.Broker = (*Broker)(nil)

// Connect registers a client. The handler may be nil for clients that only
// publish.
func (b *Broker) Connect(clientID string, kind domain.TransportKind, handler HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.clients[clientID]; exists {
		return fmt.Errorf("client already connected: %s", clientID)
	}
	b.clients[clientID] = ports.ClientInfo{ID: clientID, Transport: kind}
	b.subs[clientID] = make(map[string]bool)
	if handler != nil {
		b.handlers[clientID] = handler
	}
	return nil
}

func (b *Broker) Disconnect(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.clients, clientID)
	delete(b.subs, clientID)
	delete(b.handlers, clientID)
}

// SubscribeClient subscribes a client to an event type, running the
// registered subscription interceptors first. A veto aborts the subscription.
func (b *Broker) SubscribeClient(clientID, eventType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.clients[clientID]; !exists {
		return domain.ErrClientNotFound
	}
	for _, id := range b.subHookIDs {
		if decision := b.subHooks[id](eventType, clientID); !decision.Allowed {
			return fmt.Errorf("subscription denied: %s", decision.Message)
		}
	}
	b.subs[clientID][eventType] = true
	return nil
}

func (b *Broker) UnsubscribeClient(clientID, eventType string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if set, exists := b.subs[clientID]; exists {
		delete(set, eventType)
	}
}

func (b *Broker) InterceptSubscriptions(fn ports.SubscriptionInterceptor) (ports.DetachFunc, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextHookID
	b.nextHookID++
	b.subHooks[id] = fn
	b.subHookIDs = append(b.subHookIDs, id)
	return b.detachHook(&b.subHookIDs, id, func() { delete(b.subHooks, id) }), nil
}

func (b *Broker) InterceptPublish(fn ports.PublishInterceptor) (ports.DetachFunc, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextHookID
	b.nextHookID++
	b.pubHooks[id] = fn
	b.pubHookIDs = append(b.pubHookIDs, id)
	return b.detachHook(&b.pubHookIDs, id, func() { delete(b.pubHooks, id) }), nil
}

func (b *Broker) InterceptDelivery(fn ports.DeliveryInterceptor) (ports.DetachFunc, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextHookID
	b.nextHookID++
	b.delHooks[id] = fn
	b.delHookIDs = append(b.delHookIDs, id)
	return b.detachHook(&b.delHookIDs, id, func() { delete(b.delHooks, id) }), nil
}

func (b *Broker) detachHook(ids *[]uint64, id uint64, remove func()) ports.DetachFunc {
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		remove()
		for i, v := range *ids {
			if v == id {
				*ids = append((*ids)[:i], (*ids)[i+1:]...)
				break
			}
		}
	}
}

func (b *Broker) Clients(ctx context.Context) ([]ports.ClientInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]ports.ClientInfo, 0, len(b.clients))
	for _, info := range b.clients {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *Broker) Subscriptions(ctx context.Context) (map[string][]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string][]string, len(b.subs))
	for clientID, set := range b.subs {
		types := make([]string, 0, len(set))
		for t := range set {
			types = append(types, t)
		}
		sort.Strings(types)
		out[clientID] = types
	}
	return out, nil
}

// Send dispatches a unicast event. The broker ACKs when the recipient is
// connected and subscribed to the type, NACKs otherwise; the send command
// itself succeeds either way.
func (b *Broker) Send(ctx context.Context, eventType, sender, recipient string, payload json.RawMessage) error {
	evt := b.newNotice(eventType, sender, recipient, payload)
	if blocked := b.runPublishHooks(evt); blocked != nil {
		return blocked
	}

	b.mu.RLock()
	handler := b.handlers[recipient]
	subscribed := b.subs[recipient][eventType]
	b.mu.RUnlock()

	if subscribed && handler != nil {
		handler(evt)
	}

	res := ports.DeliveryResult{Timestamp: time.Now(), ClientID: recipient}
	if subscribed {
		res.Status = domain.ResponseAck
	} else {
		res.Status = domain.ResponseNack
		res.Message = "recipient not subscribed"
	}
	b.runDeliveryHooks(evt, res)
	return nil
}

// Broadcast dispatches an event to every subscriber of the type except the
// sender. ACK when at least one client received it.
func (b *Broker) Broadcast(ctx context.Context, eventType, sender string, payload json.RawMessage) error {
	evt := b.newNotice(eventType, sender, domain.BroadcastRecipient, payload)
	if blocked := b.runPublishHooks(evt); blocked != nil {
		return blocked
	}

	b.mu.RLock()
	recipients := make([]HandlerFunc, 0)
	delivered := 0
	for clientID, set := range b.subs {
		if clientID == sender || !set[eventType] {
			continue
		}
		delivered++
		if h := b.handlers[clientID]; h != nil {
			recipients = append(recipients, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range recipients {
		h(evt)
	}

	res := ports.DeliveryResult{Timestamp: time.Now()}
	if delivered > 0 {
		res.Status = domain.ResponseAck
	} else {
		res.Status = domain.ResponseNack
		res.Message = "no subscribers"
	}
	b.runDeliveryHooks(evt, res)
	return nil
}

func (b *Broker) newNotice(eventType, sender, recipient string, payload json.RawMessage) ports.PublishNotice {
	return ports.PublishNotice{
		EventID:   utils.GenerateEventID(),
		Type:      eventType,
		Source:    sender,
		Recipient: recipient,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// runPublishHooks runs pre-send interceptors in registration order. On a
// veto, later interceptors are skipped entirely but delivery hooks still see
// the failed attempt, which is exactly the divergence the panel's catch-up
// path accounts for.
func (b *Broker) runPublishHooks(evt ports.PublishNotice) error {
	b.mu.RLock()
	ids := append([]uint64(nil), b.pubHookIDs...)
	hooks := make([]ports.PublishInterceptor, 0, len(ids))
	for _, id := range ids {
		hooks = append(hooks, b.pubHooks[id])
	}
	b.mu.RUnlock()

	for _, hook := range hooks {
		if decision := hook(evt); !decision.Allowed {
			b.runDeliveryHooks(evt, ports.DeliveryResult{
				Status:    domain.ResponseNack,
				Message:   decision.Message,
				Timestamp: time.Now(),
			})
			return fmt.Errorf("publish denied: %s", decision.Message)
		}
	}
	return nil
}

func (b *Broker) runDeliveryHooks(evt ports.PublishNotice, res ports.DeliveryResult) {
	b.mu.RLock()
	ids := append([]uint64(nil), b.delHookIDs...)
	hooks := make([]ports.DeliveryInterceptor, 0, len(ids))
	for _, id := range ids {
		hooks = append(hooks, b.delHooks[id])
	}
	b.mu.RUnlock()

	for _, hook := range hooks {
		hook(evt, res)
	}
}
