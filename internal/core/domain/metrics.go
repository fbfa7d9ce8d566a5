package domain

import "time"

// LatencyStats is computed over the bounded trailing sample window, not over
// the full session.
type LatencyStats struct {
	AverageMS float64 `json:"average_ms"`
	MinMS     float64 `json:"min_ms"`
	MaxMS     float64 `json:"max_ms"`
	Samples   int     `json:"samples"`
}

type AggregateMetrics struct {
	TotalEvents     uint64            `json:"total_events"`
	EventsByType    map[string]uint64 `json:"events_by_type"`
	EventsPerSecond float64           `json:"events_per_second"`
	Latency         LatencyStats      `json:"latency"`
	MemoryBytes     uint64            `json:"memory_bytes,omitempty"`
	MemoryAvailable bool              `json:"memory_available"`
	Uptime          time.Duration     `json:"uptime_ns"`
	SuccessRate     float64           `json:"success_rate"`
}

// DeliveryStats tallies broker verdicts. SuccessRate is acks/(acks+nacks),
// defined as 0 when no deliveries have completed yet.
type DeliveryStats struct {
	AckTotal    uint64            `json:"ack_total"`
	NackTotal   uint64            `json:"nack_total"`
	AcksByType  map[string]uint64 `json:"acks_by_type"`
	NacksByType map[string]uint64 `json:"nacks_by_type"`
	SuccessRate float64           `json:"success_rate"`
}
