// Package admin converges the remote subscription and its filter rules with
// the subscriptions registered on the bus.
package admin

import (
	"context"
	"time"

	propspkg "github.com/drblury/busflow/internal/runtime/properties"
)

// AdminAPI is the broker administration surface the reconciler drives.
// GetSubscription returns an error wrapping errors.ErrSubscriptionNotFound when
// the subscription does not exist.
type AdminAPI interface {
	GetSubscription(ctx context.Context, topic, subscription string) (*SubscriptionDescription, error)
	CreateSubscription(ctx context.Context, desc SubscriptionDescription) error
	UpdateSubscription(ctx context.Context, desc SubscriptionDescription) error
	DeleteSubscription(ctx context.Context, topic, subscription string) error

	ListRules(ctx context.Context, topic, subscription string) ([]Rule, error)
	CreateRule(ctx context.Context, topic, subscription string, rule Rule) error
	DeleteRule(ctx context.Context, topic, subscription, rule string) error
}

// SubscriptionOptions are the subscription level settings kept in sync.
type SubscriptionOptions struct {
	DefaultMessageTimeToLive      time.Duration
	LockDuration                  time.Duration
	MaxDeliveryCount              int
	RequiresSession               bool
	ForwardTo                     string
	ForwardDeadLetteredMessagesTo string
	EnableBatchedOperations       bool
}

// DefaultSubscriptionOptions returns the options used when none are configured.
func DefaultSubscriptionOptions() SubscriptionOptions {
	return SubscriptionOptions{
		DefaultMessageTimeToLive: 14 * 24 * time.Hour,
		LockDuration:             30 * time.Second,
		MaxDeliveryCount:         10,
		EnableBatchedOperations:  true,
	}
}

// SubscriptionDescription identifies a subscription and carries its options.
type SubscriptionDescription struct {
	TopicName        string
	SubscriptionName string
	SubscriptionOptions
}

// RuleFilter is the predicate of a rule: an optional label plus required
// application properties.
type RuleFilter struct {
	Label      string
	Properties propspkg.Properties
}

// Equal compares label and properties.
func (f RuleFilter) Equal(other RuleFilter) bool {
	return f.Label == other.Label && f.Properties.Equal(other.Properties)
}

// Matches reports whether a message with the given label and properties
// satisfies the filter.
func (f RuleFilter) Matches(label string, props propspkg.Properties) bool {
	if f.Label != "" && f.Label != label {
		return false
	}
	return props.ContainsAll(f.Properties)
}

// Rule is a named filter installed on a subscription.
type Rule struct {
	Name   string
	Filter RuleFilter
}

// Equal compares name and filter.
func (r Rule) Equal(other Rule) bool {
	return r.Name == other.Name && r.Filter.Equal(other.Filter)
}

// RuleEvaluator is implemented by admin APIs that can evaluate installed rules
// locally. Transports without broker side filtering use it to drop messages a
// subscription would not receive.
type RuleEvaluator interface {
	Accepts(topic, subscription, label string, props propspkg.Properties) bool
}
