package runtime

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Dispatch outcomes recorded by Metrics.
const (
	outcomeNotFound       = "handler_not_found"
	outcomeDecodeError    = "decode_error"
	outcomePreProcessor   = "pre_processor_error"
	outcomeHandlerError   = "handler_error"
	outcomePostProcessor  = "post_processor_error"
	outcomeTransportError = "transport_error"
)

// Metrics collects message bus counters. A nil *Metrics records nothing.
type Metrics struct {
	receivedTotal   *prometheus.CounterVec
	dispatchedTotal *prometheus.CounterVec
	failedTotal     *prometheus.CounterVec
	publishedTotal  *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec
}

func newBusCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "busflow",
			Subsystem: "bus",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates the bus collectors and registers them with registerer.
// Collectors that are already registered are reused, so several buses may
// share one registry.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		receivedTotal:   newBusCounterVec("messages_received_total", "Inbound messages handed to the bus", []string{"routing_key"}),
		dispatchedTotal: newBusCounterVec("messages_dispatched_total", "Inbound messages handled successfully", []string{"message_type"}),
		failedTotal:     newBusCounterVec("messages_failed_total", "Inbound messages whose dispatch failed", []string{"routing_key", "outcome"}),
		publishedTotal:  newBusCounterVec("messages_published_total", "Outbound messages handed to the client", []string{"message_type", "kind"}),
		dispatchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "busflow",
				Subsystem: "bus",
				Name:      "dispatch_duration_seconds",
				Help:      "Time from handler resolution to the last post-processor",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"message_type"},
		),
	}
	if registerer == nil {
		return m, nil
	}

	for _, vec := range []**prometheus.CounterVec{&m.receivedTotal, &m.dispatchedTotal, &m.failedTotal, &m.publishedTotal} {
		registered, err := register(registerer, *vec)
		if err != nil {
			return nil, err
		}
		*vec = registered
	}
	hist, err := register(registerer, m.dispatchLatency)
	if err != nil {
		return nil, err
	}
	m.dispatchLatency = hist
	return m, nil
}

func register[C prometheus.Collector](registerer prometheus.Registerer, c C) (C, error) {
	if err := registerer.Register(c); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return c, err
		}
		existing, ok := are.ExistingCollector.(C)
		if !ok {
			return c, err
		}
		return existing, nil
	}
	return c, nil
}

func (m *Metrics) received(routingKey string) {
	if m == nil {
		return
	}
	m.receivedTotal.WithLabelValues(routingKey).Inc()
}

func (m *Metrics) dispatched(messageType string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchedTotal.WithLabelValues(messageType).Inc()
	m.dispatchLatency.WithLabelValues(messageType).Observe(d.Seconds())
}

func (m *Metrics) failed(routingKey, outcome string) {
	if m == nil {
		return
	}
	m.failedTotal.WithLabelValues(routingKey, outcome).Inc()
}

func (m *Metrics) published(messageType, kind string) {
	if m == nil {
		return
	}
	m.publishedTotal.WithLabelValues(messageType, kind).Inc()
}
