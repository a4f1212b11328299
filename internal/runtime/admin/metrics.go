package admin

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts the changes the reconciler applies to the broker.
type Metrics struct {
	rules         *prometheus.CounterVec
	subscriptions *prometheus.CounterVec
}

func newAdminCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "busflow",
			Subsystem: "admin",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates the reconciler collectors and registers them with
// registerer. A nil registerer leaves them unregistered.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		rules:         newAdminCounterVec("rule_operations_total", "Rule create and delete operations issued by the reconciler", []string{"subscription", "operation"}),
		subscriptions: newAdminCounterVec("subscription_operations_total", "Subscription create, update and recreate operations issued by the reconciler", []string{"subscription", "operation"}),
	}
	if registerer == nil {
		return m, nil
	}
	var err error
	if m.rules, err = registerCounterVec(registerer, m.rules); err != nil {
		return nil, err
	}
	if m.subscriptions, err = registerCounterVec(registerer, m.subscriptions); err != nil {
		return nil, err
	}
	return m, nil
}

// registerCounterVec registers vec, reusing an identical collector that is
// already registered.
func registerCounterVec(registerer prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := registerer.Register(vec); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		return existing, nil
	}
	return vec, nil
}

func (m *Metrics) rule(subscription, op string) {
	if m == nil {
		return
	}
	m.rules.WithLabelValues(subscription, op).Inc()
}

func (m *Metrics) subscription(subscription, op string) {
	if m == nil {
		return
	}
	m.subscriptions.WithLabelValues(subscription, op).Inc()
}
