package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/event-broker/devtools/internal/core/domain"
)

// HookDecision is what subscription and publish interceptors hand back to the
// broker. The panel is strictly an observer: its interceptors always allow,
// and the public contract forbids adding blocking logic to them.
type HookDecision struct {
	Allowed bool   `json:"allowed"`
	Message string `json:"message,omitempty"`
}

// Allow is the permissive decision every panel interceptor returns.
func Allow() HookDecision {
	return HookDecision{Allowed: true}
}

// PublishNotice describes a message the broker is about to dispatch. EventID
// is assigned by the broker.
type PublishNotice struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Source    string          `json:"source,omitempty"`
	Recipient string          `json:"recipient,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// DeliveryResult is the broker's verdict after dispatching a message.
type DeliveryResult struct {
	Status    domain.ResponseStatus `json:"status"`
	Message   string                `json:"message,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
	ClientID  string                `json:"client_id,omitempty"`
	Payload   json.RawMessage       `json:"payload,omitempty"`
}

// ClientInfo is the broker's view of one connected client.
type ClientInfo struct {
	ID        string               `json:"id"`
	Transport domain.TransportKind `json:"transport"`
}

type (
	SubscriptionInterceptor func(eventType, clientID string) HookDecision
	PublishInterceptor      func(evt PublishNotice) HookDecision
	DeliveryInterceptor     func(evt PublishNotice, res DeliveryResult)

	// DetachFunc unregisters whatever its registration call installed.
	DetachFunc func()
)

// BrokerHooks is the lifecycle extension surface consumed from the broker.
// InterceptSubscriptions is optional; brokers without it return
// domain.ErrHookUnsupported and the adapter degrades with a warning.
type BrokerHooks interface {
	InterceptSubscriptions(SubscriptionInterceptor) (DetachFunc, error)
	InterceptPublish(PublishInterceptor) (DetachFunc, error)
	InterceptDelivery(DeliveryInterceptor) (DetachFunc, error)
}

// BrokerQuerier exposes the broker's live membership. Results are never
// cached by the aggregation core since membership can change at any time.
type BrokerQuerier interface {
	Clients(ctx context.Context) ([]ClientInfo, error)
	Subscriptions(ctx context.Context) (map[string][]string, error)
}

// BrokerSender exposes the broker's own send commands, used by the
// test-message path. Messages sent this way are observed through the very
// same hooks as any other traffic.
type BrokerSender interface {
	Send(ctx context.Context, eventType, sender, recipient string, payload json.RawMessage) error
	Broadcast(ctx context.Context, eventType, sender string, payload json.RawMessage) error
}

type Broker interface {
	BrokerHooks
	BrokerQuerier
	BrokerSender
}
