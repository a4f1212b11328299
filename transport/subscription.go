package transport

import (
	"slices"
	"strings"
	"time"

	errspkg "github.com/drblury/busflow/internal/runtime/errors"
)

// Subscription is the bus side of a transport: the topics messages are
// published to, the durable subscription consuming the main topic and the
// limits applied to it.
type Subscription struct {
	Topic           string
	CommandTopic    string
	Name            string
	DeadLetterTopic string

	// LockDuration is how long a delivered message stays invisible to other
	// consumers before the broker redelivers it.
	LockDuration time.Duration
	// MessageTimeToLive is how long an unconsumed message is retained.
	MessageTimeToLive time.Duration
	// MaxDeliveryCount is the client side delivery limit before a message is
	// dead-lettered. Zero disables the limit.
	MaxDeliveryCount int
}

// Validate reports a missing topic or subscription name.
func (s Subscription) Validate() error {
	if s.Topic == "" {
		return errspkg.ErrTopicRequired
	}
	if s.Name == "" {
		return errspkg.ErrSubscriptionNameMissing
	}
	return nil
}

// Topics lists every topic the bus publishes to, without duplicates.
func (s Subscription) Topics() []string {
	topics := make([]string, 0, 3)
	for _, t := range []string{s.Topic, s.CommandTopic, s.DeadLetterTopic} {
		if t != "" && !slices.Contains(topics, t) {
			topics = append(topics, t)
		}
	}
	return topics
}

// BrokerMaxDeliver is the delivery limit to configure on brokers that enforce
// one. It is one above MaxDeliveryCount so the client still sees the delivery
// that crosses the limit and can dead-letter it. Zero means unlimited.
func (s Subscription) BrokerMaxDeliver() int {
	if s.MaxDeliveryCount <= 0 {
		return 0
	}
	return s.MaxDeliveryCount + 1
}

// SanitizeName replaces every rune that allowed does not accept with
// replacement. Brokers use it to fit topic and subscription names into their
// naming rules.
func SanitizeName(name string, replacement rune, allowed func(r rune) bool) string {
	return strings.Map(func(r rune) rune {
		if allowed(r) {
			return r
		}
		return replacement
	}, name)
}
