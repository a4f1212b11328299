// Package transport defines the broker plumbing behind the watermill message
// bus client. Each broker lives in its own sub-package, maps the bus
// Subscription onto its own queue or consumer concepts and registers itself
// with the transport registry.
package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport is the publisher and subscriber pair a builder produces, along
// with what the built broker supports.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	// Capabilities left zero are filled from the registry.
	Capabilities Capabilities
}

// Builder creates a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config is what builders read: the bus subscription plus broker connection
// settings. Builders only use the getters of their own broker.
type Config interface {
	GetPubSubSystem() string
	GetSubscription() Subscription

	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	GetRabbitMQURL() string

	GetNATSURL() string

	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// DelayedPublisher is implemented by publishers that support delayed delivery.
// The client falls back to a local timer for publishers that do not.
type DelayedPublisher interface {
	PublishWithDelay(topic string, delay time.Duration, messages ...*message.Message) error
}
