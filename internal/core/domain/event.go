package domain

import (
	"encoding/json"
	"time"
)

// BroadcastRecipient marks an event addressed to every subscribed client.
const BroadcastRecipient = "*"

type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
)

type ResponseStatus string

const (
	ResponseAck  ResponseStatus = "ack"
	ResponseNack ResponseStatus = "nack"
)

// BrokerResponse summarizes the broker's verdict for a completed event.
type BrokerResponse struct {
	Status    ResponseStatus  `json:"status"`
	Message   string          `json:"message,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	ClientID  string          `json:"client_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventRecord is one observed message attempt. The ID comes from the broker
// and is unique for the lifetime of the panel session. Status moves
// pending -> delivered|failed exactly once and never reverts.
type EventRecord struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source,omitempty"`
	Recipient string          `json:"recipient,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Status    DeliveryStatus  `json:"status"`

	// Latency is zero until the event completes, and stays zero when the
	// publish hook for this id was never observed (no start time to diff).
	Latency  time.Duration   `json:"latency_ns,omitempty"`
	Response *BrokerResponse `json:"response,omitempty"`
}

// Completed reports whether the record has left the pending state.
func (r *EventRecord) Completed() bool {
	return r.Status != StatusPending
}
