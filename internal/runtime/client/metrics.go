package client

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks dead-letters, message copies and deliveries dropped by
// client side rule evaluation. A nil *Metrics records nothing.
type Metrics struct {
	deadLetteredTotal *prometheus.CounterVec
	deliveryCountHist *prometheus.HistogramVec
	copiesTotal       *prometheus.CounterVec
	filteredTotal     *prometheus.CounterVec
}

func newClientCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "busflow",
			Subsystem: "client",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates the client collectors and registers them with
// registerer. Collectors that are already registered are reused.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		deadLetteredTotal: newClientCounterVec("dead_lettered_total", "Messages moved to the dead-letter topic", []string{"topic", "reason"}),
		copiesTotal:       newClientCounterVec("message_copies_total", "Message copies re-enqueued by handlers", []string{"topic"}),
		filteredTotal:     newClientCounterVec("filtered_total", "Deliveries dropped because no subscription rule matched", []string{"topic"}),
		deliveryCountHist: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "busflow",
				Subsystem: "client",
				Name:      "dead_letter_delivery_count",
				Help:      "Number of deliveries before a message was dead-lettered",
				Buckets:   []float64{1, 2, 3, 5, 10, 20},
			},
			[]string{"topic"},
		),
	}
	if registerer == nil {
		return m, nil
	}

	for _, vec := range []**prometheus.CounterVec{&m.deadLetteredTotal, &m.copiesTotal, &m.filteredTotal} {
		registered, err := register(registerer, *vec)
		if err != nil {
			return nil, err
		}
		*vec = registered
	}
	hist, err := register(registerer, m.deliveryCountHist)
	if err != nil {
		return nil, err
	}
	m.deliveryCountHist = hist
	return m, nil
}

// register registers c, returning the already registered collector of the
// same type when one exists.
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

func (m *Metrics) deadLettered(topic, reason string, deliveryCount int) {
	if m == nil {
		return
	}
	m.deadLetteredTotal.WithLabelValues(topic, reason).Inc()
	m.deliveryCountHist.WithLabelValues(topic).Observe(float64(deliveryCount))
}

func (m *Metrics) copied(topic string) {
	if m == nil {
		return
	}
	m.copiesTotal.WithLabelValues(topic).Inc()
}

func (m *Metrics) filtered(topic string) {
	if m == nil {
		return
	}
	m.filteredTotal.WithLabelValues(topic).Inc()
}
