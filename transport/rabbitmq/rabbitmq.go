// Package rabbitmq provides a RabbitMQ/AMQP transport for busflow.
//
// Topics are durable fanout exchanges. A subscription is the durable queue
// "<topic>_<subscription>" bound to the topic's exchange. The queue expires
// messages after the subscription's time to live and dead-letters them, and
// anything the broker rejects, to the dead-letter exchange. That exchange
// gets its own "<dead-letter topic>_<subscription>" queue so dead letters are
// kept until someone reads them.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rabbitmq/amqp091-go"

	"github.com/drblury/busflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// MaxMessageSize is the broker default max_message_size.
const MaxMessageSize = 16 << 20

// ErrURLRequired is returned when no AMQP URL is configured.
var ErrURLRequired = errors.New("busflow: rabbitmq url is required")

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func init() {
	Register()
}

// Register registers the RabbitMQ transport with the default registry.
func Register() {
	transport.Register(TransportName, Build, Capabilities())
}

// Build creates a new RabbitMQ transport sharing one connection between the
// publisher and the subscriber.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetRabbitMQURL()
	if url == "" {
		return transport.Transport{}, ErrURLRequired
	}
	sub := cfg.GetSubscription()
	amqpConfig := Config(url, sub)

	conn, err := ConnectionFactory(amqpConfig.Connection, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, errors.Join(err, closeConn(conn))
	}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, errors.Join(err, publisher.Close(), closeConn(conn))
	}

	logger.Info("RabbitMQ transport ready", watermill.LogFields{
		"queue":       amqpConfig.Queue.GenerateName(sub.Topic),
		"dead_letter": sub.DeadLetterTopic,
	})
	return transport.Transport{
		Publisher:    publisher,
		Subscriber:   subscriber,
		Capabilities: Capabilities(),
	}, nil
}

func closeConn(conn *amqp.ConnectionWrapper) error {
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Config maps the subscription onto a durable pub/sub config.
func Config(url string, sub transport.Subscription) amqp.Config {
	c := amqp.NewDurablePubSubConfig(url, amqp.GenerateQueueNameTopicNameWithSuffix(sub.Name))
	c.Connection.Reconnect = amqp.DefaultReconnectConfig()
	c.Queue.Arguments = queueArguments(sub)
	if sub.DeadLetterTopic != "" {
		c.TopologyBuilder = &topology{deadLetterTopic: sub.DeadLetterTopic, generateQueueName: c.Queue.GenerateName}
	}
	return c
}

func queueArguments(sub transport.Subscription) amqp091.Table {
	args := amqp091.Table{}
	if sub.MessageTimeToLive > 0 {
		args["x-message-ttl"] = sub.MessageTimeToLive.Milliseconds()
	}
	if sub.DeadLetterTopic != "" {
		args["x-dead-letter-exchange"] = sub.DeadLetterTopic
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

// topology declares the dead-letter exchange and its queue before the
// subscription queue that points at it.
type topology struct {
	amqp.DefaultTopologyBuilder
	deadLetterTopic   string
	generateQueueName amqp.QueueNameGenerator
}

func (t *topology) BuildTopology(channel *amqp091.Channel, params amqp.BuildTopologyParams, config amqp.Config, logger watermill.LoggerAdapter) error {
	if params.Topic != t.deadLetterTopic {
		if err := t.declareDeadLetter(channel, config); err != nil {
			return err
		}
		logger.Debug("Dead-letter queue declared", watermill.LogFields{"exchange": t.deadLetterTopic})
	}
	return t.DefaultTopologyBuilder.BuildTopology(channel, params, config, logger)
}

// declarer is the part of *amqp091.Channel the dead-letter topology uses.
type declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
}

func (t *topology) declareDeadLetter(channel declarer, config amqp.Config) error {
	ex := config.Exchange
	if err := channel.ExchangeDeclare(t.deadLetterTopic, ex.Type, ex.Durable, ex.AutoDeleted, ex.Internal, ex.NoWait, ex.Arguments); err != nil {
		return fmt.Errorf("declare dead-letter exchange %s: %w", t.deadLetterTopic, err)
	}
	queue := t.generateQueueName(t.deadLetterTopic)
	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter queue %s: %w", queue, err)
	}
	if err := channel.QueueBind(queue, "", t.deadLetterTopic, false, nil); err != nil {
		return fmt.Errorf("bind dead-letter queue %s: %w", queue, err)
	}
	return nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.Capabilities{
		Name:                         TransportName,
		SupportsDurableSubscriptions: true,
		MaxMessageSize:               MaxMessageSize,
	}
}
