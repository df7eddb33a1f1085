package observability

import (
	gu "github.com/xraph/go-utils/metrics"
)

// Metrics holds metric instruments for Courier, backed by any go-utils
// MetricFactory (e.g. metrics.NewMetricsCollector() for standalone usage,
// or the host application's managed metrics system).
type Metrics struct {
	EventsPublishedTotal gu.Counter
	DeliveriesTotal      gu.Counter
	AcksTotal            gu.Counter
	ReplayedTotal        gu.Counter
	EvictedTotal         gu.Counter
	FanoutSize           gu.Histogram
	PendingEvents        gu.Gauge
	FailedEvents         gu.Gauge
}

// NewMetrics creates Courier metric instruments using the supplied factory.
func NewMetrics(factory gu.MetricFactory) *Metrics {
	return &Metrics{
		EventsPublishedTotal: factory.Counter("courier_events_published_total"),
		DeliveriesTotal:      factory.Counter("courier_deliveries_total"),
		AcksTotal:            factory.Counter("courier_acks_total"),
		ReplayedTotal:        factory.Counter("courier_replayed_total"),
		EvictedTotal:         factory.Counter("courier_evicted_total"),
		FanoutSize:           factory.Histogram("courier_fanout_size"),
		PendingEvents:        factory.Gauge("courier_pending_events"),
		FailedEvents:         factory.Gauge("courier_failed_events"),
	}
}

// RecordDelivery records a delivery attempt outcome
// (status: sent, retried, delivered, failed).
func (m *Metrics) RecordDelivery(status string) {
	m.DeliveriesTotal.WithLabels(map[string]string{"status": status}).Inc()
}

// RecordAck records an inbound acknowledgement (result: ok, unknown).
func (m *Metrics) RecordAck(result string) {
	m.AcksTotal.WithLabels(map[string]string{"result": result}).Inc()
}
