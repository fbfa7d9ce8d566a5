package domain

import "time"

// Snapshot is the full, immutable read-model handed to listeners. Consumers
// always get the complete current picture; there is no diff protocol.
type Snapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Connected   bool             `json:"connected"`
	Events      []EventRecord    `json:"events"`
	Clients     []ClientRecord   `json:"clients"`
	Metrics     AggregateMetrics `json:"metrics"`
	Delivery    DeliveryStats    `json:"delivery"`
	Settings    Settings         `json:"settings"`
}

// FilteredEvents returns the events passing the snapshot's own filter
// settings.
func (s *Snapshot) FilteredEvents() []EventRecord {
	out := make([]EventRecord, 0, len(s.Events))
	for _, rec := range s.Events {
		if s.Settings.Filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out
}
