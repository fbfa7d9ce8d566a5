package domain

import "time"

// TransportKind is the closed set of transport categories a client can
// declare when it registers with the broker.
type TransportKind string

const (
	TransportLocal  TransportKind = "local"
	TransportIframe TransportKind = "iframe"
	TransportWorker TransportKind = "worker"
	TransportWindow TransportKind = "window"
)

// ClientRecord is the derived per-client view merged into every snapshot.
// Sent/Received counts are running session counters, not recomputed from the
// event log.
type ClientRecord struct {
	ID            string        `json:"id"`
	Transport     TransportKind `json:"transport"`
	Subscriptions []string      `json:"subscriptions"`
	SentCount     uint64        `json:"sent_count"`
	ReceivedCount uint64        `json:"received_count"`
	Active        bool          `json:"active"`
	LastActivity  time.Time     `json:"last_activity,omitempty"`
}
