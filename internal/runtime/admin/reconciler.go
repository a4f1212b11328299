package admin

import (
	"context"
	"errors"
	"fmt"

	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	"github.com/drblury/busflow/internal/runtime/filter"
	loggingpkg "github.com/drblury/busflow/internal/runtime/logging"
)

// MessageBusAdminClient is what the bus needs from the administration side.
type MessageBusAdminClient interface {
	Configure(ctx context.Context, mappings []filter.MessageHandlerMapping) error
	CheckHealth(ctx context.Context) bool
}

// Reconciler converges one topic subscription and its rules.
type Reconciler struct {
	api          AdminAPI
	topic        string
	subscription string
	options      SubscriptionOptions
	logger       loggingpkg.ServiceLogger
	metrics      *Metrics
}

// Option customises a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(logger loggingpkg.ServiceLogger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// NewReconciler returns a reconciler using DefaultSubscriptionOptions.
func NewReconciler(api AdminAPI, topic, subscription string, opts ...Option) (*Reconciler, error) {
	if api == nil {
		return nil, errspkg.ErrAdminAPIRequired
	}
	if topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if subscription == "" {
		return nil, errspkg.ErrSubscriptionNameMissing
	}
	r := &Reconciler{
		api:          api,
		topic:        topic,
		subscription: subscription,
		options:      DefaultSubscriptionOptions(),
		logger:       loggingpkg.NewNopServiceLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(loggingpkg.LogFields{"topic": topic, "subscription": subscription})
	return r, nil
}

// NewReconcilerWithSubscriptionOptions returns a reconciler converging the
// subscription to options. Sessions are not supported.
func NewReconcilerWithSubscriptionOptions(api AdminAPI, topic, subscription string, options SubscriptionOptions, opts ...Option) (*Reconciler, error) {
	if options.RequiresSession {
		return nil, errspkg.ErrSessionNotSupported
	}
	r, err := NewReconciler(api, topic, subscription, opts...)
	if err != nil {
		return nil, err
	}
	r.options = options
	return r, nil
}

// Options returns the subscription options the reconciler converges to.
func (r *Reconciler) Options() SubscriptionOptions { return r.options }

// Configure converges the subscription and then its rules. Rules are
// reconciled by diff so repeated calls with unchanged mappings are no-ops.
// A partial failure leaves the rule set converged as far as it got; the next
// call picks up from there.
func (r *Reconciler) Configure(ctx context.Context, mappings []filter.MessageHandlerMapping) error {
	for i := range mappings {
		if err := mappings[i].Filter.Validate(); err != nil {
			return fmt.Errorf("mapping %s: %w", mappings[i].MessageType, err)
		}
	}
	if err := r.ensureSubscription(ctx); err != nil {
		return err
	}

	desired := DesiredRules(mappings)
	existing, err := r.api.ListRules(ctx, r.topic, r.subscription)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}

	toDelete, toCreate := DiffRules(existing, desired)
	for _, rule := range toDelete {
		if err := r.api.DeleteRule(ctx, r.topic, r.subscription, rule.Name); err != nil {
			return fmt.Errorf("delete rule %s: %w", rule.Name, err)
		}
		r.metrics.rule(r.subscription, "delete")
		r.logger.Info("Deleted subscription rule", loggingpkg.LogFields{"rule": rule.Name})
	}
	for _, rule := range toCreate {
		if err := r.api.CreateRule(ctx, r.topic, r.subscription, rule); err != nil {
			return fmt.Errorf("create rule %s: %w", rule.Name, err)
		}
		r.metrics.rule(r.subscription, "create")
		r.logger.Info("Created subscription rule", loggingpkg.LogFields{
			"rule":       rule.Name,
			"label":      rule.Filter.Label,
			"properties": rule.Filter.Properties,
		})
	}
	r.logger.Debug("Subscription rules reconciled", loggingpkg.LogFields{
		"desired": len(desired),
		"deleted": len(toDelete),
		"created": len(toCreate),
	})
	return nil
}

func (r *Reconciler) ensureSubscription(ctx context.Context) error {
	desired := SubscriptionDescription{
		TopicName:           r.topic,
		SubscriptionName:    r.subscription,
		SubscriptionOptions: r.options,
	}

	current, err := r.api.GetSubscription(ctx, r.topic, r.subscription)
	switch {
	case errors.Is(err, errspkg.ErrSubscriptionNotFound) || (err == nil && current == nil):
		if err := r.api.CreateSubscription(ctx, desired); err != nil {
			return fmt.Errorf("create subscription: %w", err)
		}
		r.metrics.subscription(r.subscription, "create")
		r.logger.Info("Created subscription", nil)
		return nil
	case err != nil:
		return fmt.Errorf("get subscription: %w", err)
	}

	if current.RequiresSession != r.options.RequiresSession {
		// Session mode cannot change in place; in-flight messages are lost.
		if err := r.api.DeleteSubscription(ctx, r.topic, r.subscription); err != nil {
			return fmt.Errorf("delete subscription for recreate: %w", err)
		}
		if err := r.api.CreateSubscription(ctx, desired); err != nil {
			return fmt.Errorf("recreate subscription: %w", err)
		}
		r.metrics.subscription(r.subscription, "recreate")
		r.logger.Info("Recreated subscription to change session mode", loggingpkg.LogFields{
			"requires_session": r.options.RequiresSession,
		})
		return nil
	}

	if current.SubscriptionOptions != r.options {
		if err := r.api.UpdateSubscription(ctx, desired); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		r.metrics.subscription(r.subscription, "update")
		r.logger.Info("Updated subscription options", nil)
	}
	return nil
}

// CheckHealth reports whether the subscription can be read. It never fails.
func (r *Reconciler) CheckHealth(ctx context.Context) bool {
	sub, err := r.api.GetSubscription(ctx, r.topic, r.subscription)
	if err != nil {
		r.logger.Debug("Subscription health check failed", loggingpkg.LogFields{"error": err.Error()})
		return false
	}
	return sub != nil
}

var _ MessageBusAdminClient = (*Reconciler)(nil)
