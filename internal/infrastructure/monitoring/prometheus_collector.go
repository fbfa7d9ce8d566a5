package monitoring

import (
	"github.com/event-broker/devtools/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector mirrors the panel's aggregate metrics into Prometheus.
// It is wired as a plain snapshot listener; the running totals in a snapshot
// are cumulative, so everything here is a gauge set on each publication.
type PrometheusCollector struct {
	eventsTotal      prometheus.Gauge
	eventsPerSecond  prometheus.Gauge
	acksTotal        prometheus.Gauge
	nacksTotal       prometheus.Gauge
	successRate      prometheus.Gauge
	clientsConnected prometheus.Gauge
	historySize      prometheus.Gauge
	brokerConnected  prometheus.Gauge

	latencyAverageMS prometheus.Gauge
	latencyMaxMS     prometheus.Gauge

	eventsByType *prometheus.GaugeVec
	acksByType   *prometheus.GaugeVec
	nacksByType  *prometheus.GaugeVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		eventsTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "devtools_events_total",
			Help: "Total number of distinct events observed since attach",
		}),

		eventsPerSecond: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "devtools_events_per_second",
			Help: "Observed event rate since attach",
		}),

		acksTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "devtools_acks_total",
			Help: "Total number of acknowledged deliveries",
		}),

		nacksTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "devtools_nacks_total",
			Help: "Total number of failed deliveries",
		}),

		successRate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "devtools_delivery_success_rate",
			Help: "acks / (acks + nacks), 0 when no deliveries completed",
		}),

		clientsConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "devtools_clients_connected",
			Help: "Number of clients currently known to the broker",
		}),

		historySize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "devtools_event_history_size",
			Help: "Number of event records currently retained",
		}),

		brokerConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "devtools_broker_connected",
			Help: "1 when the broker can be queried, 0 otherwise",
		}),

		latencyAverageMS: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "devtools_latency_average_ms",
			Help: "Average delivery latency over the trailing sample window",
		}),

		latencyMaxMS: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "devtools_latency_max_ms",
			Help: "Maximum delivery latency over the trailing sample window",
		}),

		eventsByType: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "devtools_events_by_type",
			Help: "Total events observed per event type",
		}, []string{"event_type"}),

		acksByType: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "devtools_acks_by_type",
			Help: "Acknowledged deliveries per event type",
		}, []string{"event_type"}),

		nacksByType: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "devtools_nacks_by_type",
			Help: "Failed deliveries per event type",
		}, []string{"event_type"}),
	}
}

// Observe updates all gauges from a snapshot. Matches the
// ports.SnapshotListener signature, so it is registered via Subscribe.
func (p *PrometheusCollector) Observe(snap domain.Snapshot) {
	p.eventsTotal.Set(float64(snap.Metrics.TotalEvents))
	p.eventsPerSecond.Set(snap.Metrics.EventsPerSecond)
	p.acksTotal.Set(float64(snap.Delivery.AckTotal))
	p.nacksTotal.Set(float64(snap.Delivery.NackTotal))
	p.successRate.Set(snap.Delivery.SuccessRate)
	p.clientsConnected.Set(float64(len(snap.Clients)))
	p.historySize.Set(float64(len(snap.Events)))

	if snap.Connected {
		p.brokerConnected.Set(1)
	} else {
		p.brokerConnected.Set(0)
	}

	p.latencyAverageMS.Set(snap.Metrics.Latency.AverageMS)
	p.latencyMaxMS.Set(snap.Metrics.Latency.MaxMS)

	for eventType, count := range snap.Metrics.EventsByType {
		p.eventsByType.WithLabelValues(eventType).Set(float64(count))
	}
	for eventType, count := range snap.Delivery.AcksByType {
		p.acksByType.WithLabelValues(eventType).Set(float64(count))
	}
	for eventType, count := range snap.Delivery.NacksByType {
		p.nacksByType.WithLabelValues(eventType).Set(float64(count))
	}
}
