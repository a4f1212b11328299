// Package aws provides an AWS SNS/SQS transport for busflow.
//
// Topics are SNS topics. A subscription is the SQS queue
// "<topic>-<subscription>" subscribed to its topic, with the lock duration as
// visibility timeout and the time to live as retention period. Subscribing
// also provisions the "<dead-letter topic>-<subscription>" queue so dead
// letters published to SNS are retained. SNS and SQS names only allow
// letters, digits, hyphens and underscores, so other characters become
// hyphens.
package aws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/busflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "aws"

// EmulatorAccountID is used when an endpoint override is configured without
// an account ID.
const EmulatorAccountID = "000000000000"

// MaxMessageSize is the SNS payload limit.
const MaxMessageSize = 256 << 10

const (
	maxQueueNameLength = 80
	minRetention       = time.Minute
	maxRetention       = 14 * 24 * time.Hour
	maxVisibility      = 12 * time.Hour
)

// ErrAccountIDRequired is returned when topic ARNs cannot be generated.
var ErrAccountIDRequired = errors.New("busflow: aws account id is required")

// DefaultConfigLoader allows overriding the AWS config loader for testing.
var DefaultConfigLoader = awsconfig.LoadDefaultConfig

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return sns.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return sns.NewSubscriber(cfg, sqsCfg, logger)
}

func init() {
	Register()
}

// Register registers the AWS transport with the default registry.
func Register() {
	transport.Register(TransportName, Build, Capabilities())
}

// Build creates a new AWS SNS/SQS transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	endpoint, err := parseEndpoint(cfg.GetAWSEndpoint())
	if err != nil {
		return transport.Transport{}, err
	}
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return transport.Transport{}, err
	}
	accountID := cfg.GetAWSAccountID()
	if accountID == "" && endpoint != nil {
		accountID = EmulatorAccountID
	}
	if accountID == "" {
		return transport.Transport{}, ErrAccountIDRequired
	}
	arns, err := sns.NewGenerateArnTopicResolver(accountID, awsCfg.Region)
	if err != nil {
		return transport.Transport{}, err
	}
	resolver := topicResolver{next: arns}
	sub := cfg.GetSubscription()

	snsOpts, sqsOpts := endpointOptions(endpoint)
	publisher, err := PublisherFactory(sns.PublisherConfig{
		AWSConfig:     awsCfg,
		OptFns:        snsOpts,
		TopicResolver: resolver,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(sns.SubscriberConfig{
		AWSConfig:            awsCfg,
		OptFns:               snsOpts,
		TopicResolver:        resolver,
		GenerateSqsQueueName: QueueNameGenerator(sub.Name),
	}, sqs.SubscriberConfig{
		AWSConfig:             awsCfg,
		OptFns:                sqsOpts,
		QueueConfigAttributes: QueueAttributes(sub),
	}, logger)
	if err != nil {
		return transport.Transport{}, errors.Join(err, publisher.Close())
	}

	logger.Info("AWS transport ready", watermill.LogFields{
		"region":          awsCfg.Region,
		"topic":           TopicName(sub.Topic),
		"dead_letter":     TopicName(sub.DeadLetterTopic),
		"custom_endpoint": endpoint != nil,
	})
	return transport.Transport{
		Publisher:    publisher,
		Subscriber:   &deadLetterSubscriber{Subscriber: subscriber, topic: sub.Topic, deadLetterTopic: sub.DeadLetterTopic},
		Capabilities: Capabilities(),
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.Capabilities{
		Name:                         TransportName,
		SupportsDurableSubscriptions: true,
		MaxMessageSize:               MaxMessageSize,
	}
}

func loadAWSConfig(ctx context.Context, cfg transport.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region := cfg.GetAWSRegion(); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if key, secret := cfg.GetAWSAccessKeyID(), cfg.GetAWSSecretAccessKey(); key != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(key, secret, "")))
	}
	awsCfg, err := DefaultConfigLoader(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	if region := cfg.GetAWSRegion(); region != "" {
		awsCfg.Region = region
	}
	return awsCfg, nil
}

func parseEndpoint(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse aws endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("parse aws endpoint %q: scheme and host are required", raw)
	}
	return u, nil
}

func endpointOptions(endpoint *url.URL) ([]func(*amazonsns.Options), []func(*amazonsqs.Options)) {
	if endpoint == nil {
		return nil, nil
	}
	ep := smithyendpoints.Endpoint{URI: *endpoint}
	return []func(*amazonsns.Options){amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{Endpoint: ep})},
		[]func(*amazonsqs.Options){amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{Endpoint: ep})}
}

func validName(r rune) bool {
	return r == '-' || r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// TopicName maps a bus topic onto a valid SNS topic name.
func TopicName(topic string) string {
	return transport.SanitizeName(topic, '-', validName)
}

// QueueNameGenerator names the SQS queue of a subscription after its topic.
// Names longer than SQS allows are truncated.
func QueueNameGenerator(subscription string) sns.GenerateSqsQueueNameFn {
	return func(_ context.Context, topicArn sns.TopicArn) (string, error) {
		topic, err := sns.ExtractTopicNameFromTopicArn(topicArn)
		if err != nil {
			return "", err
		}
		name := transport.SanitizeName(string(topic)+"-"+subscription, '-', validName)
		if len(name) > maxQueueNameLength {
			name = name[:maxQueueNameLength]
		}
		return name, nil
	}
}

// QueueAttributes maps the subscription limits onto SQS queue attributes.
func QueueAttributes(sub transport.Subscription) sqs.QueueConfigAttributes {
	var attrs sqs.QueueConfigAttributes
	if sub.LockDuration > 0 {
		attrs.VisibilityTimeout = seconds(min(sub.LockDuration, maxVisibility))
	}
	if sub.MessageTimeToLive > 0 {
		attrs.MessageRetentionPeriod = seconds(min(max(sub.MessageTimeToLive, minRetention), maxRetention))
	}
	attrs.MaximumMessageSize = strconv.Itoa(MaxMessageSize)
	return attrs
}

func seconds(d time.Duration) string {
	return strconv.FormatInt(int64(d/time.Second), 10)
}

// topicResolver sanitizes bus topics before generating their ARN.
type topicResolver struct {
	next sns.TopicResolver
}

func (r topicResolver) ResolveTopic(ctx context.Context, topic string) (sns.TopicArn, error) {
	return r.next.ResolveTopic(ctx, TopicName(topic))
}

type initializer interface {
	SubscribeInitializeWithContext(ctx context.Context, topic string) error
}

// deadLetterSubscriber provisions the dead-letter queue before consuming the
// main topic.
type deadLetterSubscriber struct {
	message.Subscriber
	topic           string
	deadLetterTopic string
}

func (s *deadLetterSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if ini, ok := s.Subscriber.(initializer); ok && topic == s.topic && s.deadLetterTopic != "" {
		if err := ini.SubscribeInitializeWithContext(ctx, s.deadLetterTopic); err != nil {
			return nil, fmt.Errorf("provision dead-letter queue for %s: %w", s.deadLetterTopic, err)
		}
	}
	return s.Subscriber.Subscribe(ctx, topic)
}
