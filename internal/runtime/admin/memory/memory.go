// Package memory is an in-process AdminAPI for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/drblury/busflow/internal/runtime/admin"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	propspkg "github.com/drblury/busflow/internal/runtime/properties"
)

// DefaultRuleName is the rule installed on every new subscription. It
// accepts every message.
const DefaultRuleName = "$Default"

type subscriptionKey struct {
	topic        string
	subscription string
}

type subscriptionEntry struct {
	desc  admin.SubscriptionDescription
	rules map[string]admin.Rule
}

// Admin keeps subscriptions and their rules in memory.
type Admin struct {
	mu   sync.RWMutex
	subs map[subscriptionKey]*subscriptionEntry
}

// New returns an empty Admin.
func New() *Admin {
	return &Admin{subs: make(map[subscriptionKey]*subscriptionEntry)}
}

func (a *Admin) lookup(topic, subscription string) (*subscriptionEntry, error) {
	entry, ok := a.subs[subscriptionKey{topic, subscription}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", errspkg.ErrSubscriptionNotFound, topic, subscription)
	}
	return entry, nil
}

func (a *Admin) GetSubscription(_ context.Context, topic, subscription string) (*admin.SubscriptionDescription, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	entry, err := a.lookup(topic, subscription)
	if err != nil {
		return nil, err
	}
	desc := entry.desc
	return &desc, nil
}

func (a *Admin) CreateSubscription(_ context.Context, desc admin.SubscriptionDescription) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := subscriptionKey{desc.TopicName, desc.SubscriptionName}
	if _, exists := a.subs[key]; exists {
		return fmt.Errorf("busflow: subscription %s/%s already exists", desc.TopicName, desc.SubscriptionName)
	}
	a.subs[key] = &subscriptionEntry{
		desc:  desc,
		rules: map[string]admin.Rule{DefaultRuleName: {Name: DefaultRuleName}},
	}
	return nil
}

func (a *Admin) UpdateSubscription(_ context.Context, desc admin.SubscriptionDescription) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, err := a.lookup(desc.TopicName, desc.SubscriptionName)
	if err != nil {
		return err
	}
	if entry.desc.RequiresSession != desc.RequiresSession {
		return fmt.Errorf("busflow: session mode of %s/%s cannot be changed in place", desc.TopicName, desc.SubscriptionName)
	}
	entry.desc = desc
	return nil
}

func (a *Admin) DeleteSubscription(_ context.Context, topic, subscription string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.lookup(topic, subscription); err != nil {
		return err
	}
	delete(a.subs, subscriptionKey{topic, subscription})
	return nil
}

// ListRules returns the installed rules sorted by name.
func (a *Admin) ListRules(_ context.Context, topic, subscription string) ([]admin.Rule, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	entry, err := a.lookup(topic, subscription)
	if err != nil {
		return nil, err
	}
	rules := make([]admin.Rule, 0, len(entry.rules))
	for _, r := range entry.rules {
		rules = append(rules, cloneRule(r))
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Name < rules[j].Name })
	return rules, nil
}

func (a *Admin) CreateRule(_ context.Context, topic, subscription string, rule admin.Rule) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, err := a.lookup(topic, subscription)
	if err != nil {
		return err
	}
	if _, exists := entry.rules[rule.Name]; exists {
		return fmt.Errorf("busflow: rule %s already exists on %s/%s", rule.Name, topic, subscription)
	}
	entry.rules[rule.Name] = cloneRule(rule)
	return nil
}

func (a *Admin) DeleteRule(_ context.Context, topic, subscription, rule string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, err := a.lookup(topic, subscription)
	if err != nil {
		return err
	}
	if _, exists := entry.rules[rule]; !exists {
		return fmt.Errorf("busflow: rule %s not found on %s/%s", rule, topic, subscription)
	}
	delete(entry.rules, rule)
	return nil
}

// Accepts reports whether any rule of the subscription matches. Unknown
// subscriptions accept nothing.
func (a *Admin) Accepts(topic, subscription, label string, props propspkg.Properties) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	entry, err := a.lookup(topic, subscription)
	if err != nil {
		return false
	}
	for _, r := range entry.rules {
		if r.Filter.Matches(label, props) {
			return true
		}
	}
	return false
}

func cloneRule(r admin.Rule) admin.Rule {
	r.Filter.Properties = r.Filter.Properties.Clone()
	return r
}

var (
	_ admin.AdminAPI      = (*Admin)(nil)
	_ admin.RuleEvaluator = (*Admin)(nil)
)
