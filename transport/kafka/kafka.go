// Package kafka provides a Kafka transport for busflow.
//
// Each subscription maps to a consumer group, so every subscription name
// receives its own copy of the topic. A new group starts from the oldest
// retained offset; retention stands in for the message time to live and the
// dead-letter topic is an ordinary topic.
package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/busflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

// ErrBrokersRequired is returned when no broker addresses are configured.
var ErrBrokersRequired = errors.New("busflow: kafka brokers are required")

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the Kafka transport with the default registry.
func Register() {
	transport.Register(TransportName, Build, capabilities(kafka.DefaultSaramaSyncPublisherConfig()))
}

// Build creates a new Kafka transport.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		return transport.Transport{}, ErrBrokersRequired
	}
	sub := cfg.GetSubscription()
	group := consumerGroup(cfg.GetKafkaConsumerGroup(), sub)

	pubSarama := kafka.DefaultSaramaSyncPublisherConfig()
	pubSarama.ClientID = clientID(sub)
	publisher, err := PublisherFactory(kafka.PublisherConfig{
		Brokers:               brokers,
		Marshaler:             kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: pubSarama,
		Tracer:                kafka.NewOTELSaramaTracer(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(kafka.SubscriberConfig{
		Brokers:               brokers,
		Unmarshaler:           kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: subscriberSarama(sub),
		ConsumerGroup:         group,
		Tracer:                kafka.NewOTELSaramaTracer(),
	}, logger)
	if err != nil {
		return transport.Transport{}, errors.Join(err, publisher.Close())
	}

	logger.Info("Kafka transport ready", watermill.LogFields{
		"topic":           sub.Topic,
		"consumer_group":  group,
		"dead_letter":     sub.DeadLetterTopic,
		"max_message_len": pubSarama.Producer.MaxMessageBytes,
	})
	return transport.Transport{
		Publisher:    publisher,
		Subscriber:   subscriber,
		Capabilities: capabilities(pubSarama),
	}, nil
}

// consumerGroup prefers an explicit group and falls back to the subscription name.
func consumerGroup(explicit string, sub transport.Subscription) string {
	if explicit != "" {
		return explicit
	}
	return sub.Name
}

// subscriberSarama starts new groups at the oldest offset so messages
// published before the first Start are not skipped. The rebalance timeout
// follows the lock duration so a slow handler keeps its partitions.
func subscriberSarama(sub transport.Subscription) *sarama.Config {
	c := kafka.DefaultSaramaSubscriberConfig()
	c.ClientID = clientID(sub)
	c.Consumer.Offsets.Initial = sarama.OffsetOldest
	if sub.LockDuration > c.Consumer.Group.Rebalance.Timeout {
		c.Consumer.Group.Rebalance.Timeout = sub.LockDuration
	}
	return c
}

func clientID(sub transport.Subscription) string {
	return transport.SanitizeName("busflow-"+sub.Name, '_', func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
	})
}

func capabilities(pub *sarama.Config) transport.Capabilities {
	return transport.Capabilities{
		Name:                         TransportName,
		SupportsDurableSubscriptions: true,
		MaxMessageSize:               int64(pub.Producer.MaxMessageBytes),
	}
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return capabilities(kafka.DefaultSaramaSyncPublisherConfig())
}
