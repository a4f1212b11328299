// Package nats provides a NATS JetStream transport for busflow.
//
// Every topic is a stream and a subscription is a durable queue consumer on
// it, so instances of one subscription share deliveries and the consumer
// survives restarts. JetStream names cannot contain dots, so topics and the
// subscription name are sanitized before they reach the server.
package nats

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/drblury/busflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// MaxMessageSize is the server default max_payload.
const MaxMessageSize = 1 << 20

// ErrURLRequired is returned when no server URL is configured.
var ErrURLRequired = errors.New("busflow: nats url is required")

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the NATS transport with the default registry.
func Register() {
	transport.Register(TransportName, Build, Capabilities())
}

// Build creates a new NATS transport.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.Transport{}, ErrURLRequired
	}
	sub := cfg.GetSubscription()
	marshaler := &nats.NATSMarshaler{}
	connOpts := []natsgo.Option{natsgo.Name("busflow-" + sub.Name)}

	publisher, err := PublisherFactory(nats.PublisherConfig{
		URL:         url,
		NatsOptions: connOpts,
		Marshaler:   marshaler,
		JetStream: nats.JetStreamConfig{
			AutoProvision: true,
			TrackMsgId:    true,
		},
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(SubscriberConfig(url, sub, connOpts, marshaler), logger)
	if err != nil {
		return transport.Transport{}, errors.Join(err, publisher.Close())
	}

	pub, s := transport.RenameTopics(publisher, subscriber, Name)
	logger.Info("NATS transport ready", watermill.LogFields{
		"stream":      Name(sub.Topic),
		"durable":     Name(sub.Name),
		"dead_letter": Name(sub.DeadLetterTopic),
		"max_deliver": sub.BrokerMaxDeliver(),
	})
	return transport.Transport{
		Publisher:    pub,
		Subscriber:   s,
		Capabilities: Capabilities(),
	}, nil
}

// SubscriberConfig maps the subscription onto a durable JetStream queue
// consumer. The ack wait follows the lock duration and the server stops
// redelivering one delivery after the client would have dead-lettered.
func SubscriberConfig(url string, sub transport.Subscription, connOpts []natsgo.Option, unmarshaler nats.Unmarshaler) nats.SubscriberConfig {
	durable := Name(sub.Name)
	subOpts := []natsgo.SubOpt{natsgo.ManualAck(), natsgo.AckExplicit(), natsgo.DeliverAll()}
	if sub.LockDuration > 0 {
		subOpts = append(subOpts, natsgo.AckWait(sub.LockDuration))
	}
	if n := sub.BrokerMaxDeliver(); n > 0 {
		subOpts = append(subOpts, natsgo.MaxDeliver(n))
	}
	return nats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: durable,
		AckWaitTimeout:   sub.LockDuration,
		NatsOptions:      connOpts,
		Unmarshaler:      unmarshaler,
		JetStream: nats.JetStreamConfig{
			AutoProvision:    true,
			TrackMsgId:       true,
			SubscribeOptions: subOpts,
			DurablePrefix:    durable,
		},
	}
}

// Name maps a bus topic or subscription name onto a valid JetStream name.
func Name(name string) string {
	return transport.SanitizeName(name, '_', func(r rune) bool {
		return r == '-' || r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
	})
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.Capabilities{
		Name:                         TransportName,
		SupportsDurableSubscriptions: true,
		MaxMessageSize:               MaxMessageSize,
	}
}
