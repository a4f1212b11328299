// Package transporttest provides a settable transport.Config for builder tests.
package transporttest

import (
	"time"

	"github.com/drblury/busflow/transport"
)

// Config implements transport.Config with plain fields.
type Config struct {
	PubSubSystem       string
	Subscription       transport.Subscription
	KafkaBrokers       []string
	KafkaConsumerGroup string
	RabbitMQURL        string
	NATSURL            string
	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
}

// NewConfig returns a config for system with a departures subscription named
// tower that dead-letters to departures.deadletter.
func NewConfig(system string) *Config {
	return &Config{
		PubSubSystem: system,
		Subscription: transport.Subscription{
			Topic:             "departures",
			CommandTopic:      "departures.commands",
			Name:              "tower",
			DeadLetterTopic:   "departures.deadletter",
			LockDuration:      45 * time.Second,
			MessageTimeToLive: 48 * time.Hour,
			MaxDeliveryCount:  5,
		},
	}
}

func (c *Config) GetPubSubSystem() string                 { return c.PubSubSystem }
func (c *Config) GetSubscription() transport.Subscription { return c.Subscription }
func (c *Config) GetKafkaBrokers() []string               { return c.KafkaBrokers }
func (c *Config) GetKafkaConsumerGroup() string           { return c.KafkaConsumerGroup }
func (c *Config) GetRabbitMQURL() string                  { return c.RabbitMQURL }
func (c *Config) GetNATSURL() string                      { return c.NATSURL }
func (c *Config) GetAWSRegion() string                    { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string                 { return c.AWSAccountID }
func (c *Config) GetAWSAccessKeyID() string               { return c.AWSAccessKeyID }
func (c *Config) GetAWSSecretAccessKey() string           { return c.AWSSecretAccessKey }
func (c *Config) GetAWSEndpoint() string                  { return c.AWSEndpoint }

// NewConfigFor is NewConfig with the subscription topic and name replaced.
func NewConfigFor(system, topic, name string) *Config {
	cfg := NewConfig(system)
	cfg.Subscription.Topic = topic
	cfg.Subscription.Name = name
	return cfg
}
