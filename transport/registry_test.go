package transport_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	"github.com/drblury/busflow/transport"
	"github.com/drblury/busflow/transport/transporttest"
)

type closeRecorder struct {
	*gochannel.GoChannel
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return c.GoChannel.Close()
}

func newPubSub() *closeRecorder {
	return &closeRecorder{GoChannel: gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})}
}

func TestBuildPassesSubscriptionToBuilder(t *testing.T) {
	reg := transport.NewRegistry()
	var got transport.Subscription
	reg.Register("memory", func(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
		assert.NotNil(t, logger)
		got = cfg.GetSubscription()
		ps := newPubSub()
		return transport.Transport{Publisher: ps, Subscriber: ps}, nil
	}, transport.Capabilities{SupportsDurableSubscriptions: true})

	tr, err := reg.Build(context.Background(), transporttest.NewConfig("memory"), nil)
	require.NoError(t, err)

	assert.Equal(t, "departures.deadletter", got.DeadLetterTopic)
	assert.Equal(t, 5, got.MaxDeliveryCount)
	assert.Equal(t, transport.Capabilities{Name: "memory", SupportsDurableSubscriptions: true}, tr.Capabilities,
		"registered capabilities fill a transport that reports none")
}

func TestBuildKeepsBuilderCapabilities(t *testing.T) {
	reg := transport.NewRegistry()
	reg.Register("memory", func(context.Context, transport.Config, watermill.LoggerAdapter) (transport.Transport, error) {
		ps := newPubSub()
		return transport.Transport{Publisher: ps, Subscriber: ps, Capabilities: transport.Capabilities{Name: "memory", MaxMessageSize: 512}}, nil
	}, transport.Capabilities{})

	tr, err := reg.Build(context.Background(), transporttest.NewConfig("memory"), watermill.NopLogger{})
	require.NoError(t, err)
	assert.Equal(t, int64(512), tr.Capabilities.MaxMessageSize)
}

func TestBuildRejectsInvalidSubscription(t *testing.T) {
	reg := transport.NewRegistry()
	called := false
	reg.Register("memory", func(context.Context, transport.Config, watermill.LoggerAdapter) (transport.Transport, error) {
		called = true
		return transport.Transport{}, nil
	}, transport.Capabilities{})

	cfg := transporttest.NewConfig("memory")
	cfg.Subscription.Name = ""
	_, err := reg.Build(context.Background(), cfg, nil)

	assert.ErrorIs(t, err, errspkg.ErrSubscriptionNameMissing)
	assert.False(t, called)
}

func TestBuildErrors(t *testing.T) {
	boom := errors.New("dial tcp: connection refused")
	pub, sub := newPubSub(), newPubSub()

	reg := transport.NewRegistry()
	reg.Register("failing", func(context.Context, transport.Config, watermill.LoggerAdapter) (transport.Transport, error) {
		return transport.Transport{}, boom
	}, transport.Capabilities{})
	reg.Register("no-subscriber", func(context.Context, transport.Config, watermill.LoggerAdapter) (transport.Transport, error) {
		return transport.Transport{Publisher: pub}, nil
	}, transport.Capabilities{})
	reg.Register("no-publisher", func(context.Context, transport.Config, watermill.LoggerAdapter) (transport.Transport, error) {
		return transport.Transport{Subscriber: sub}, nil
	}, transport.Capabilities{})

	_, err := reg.Build(context.Background(), nil, nil)
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)

	_, err = reg.Build(context.Background(), transporttest.NewConfig("carrier-pigeon"), nil)
	assert.ErrorIs(t, err, errspkg.ErrUnknownTransport)
	assert.Contains(t, err.Error(), "failing")

	_, err = reg.Build(context.Background(), transporttest.NewConfig("failing"), nil)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "build failing transport")

	_, err = reg.Build(context.Background(), transporttest.NewConfig("no-subscriber"), nil)
	assert.ErrorIs(t, err, errspkg.ErrSubscriberRequired)
	assert.True(t, pub.closed, "the half-built publisher is closed")

	_, err = reg.Build(context.Background(), transporttest.NewConfig("no-publisher"), nil)
	assert.ErrorIs(t, err, errspkg.ErrPublisherRequired)
	assert.True(t, sub.closed)
}

func TestRegistryNames(t *testing.T) {
	reg := transport.NewRegistry()
	build := func(context.Context, transport.Config, watermill.LoggerAdapter) (transport.Transport, error) {
		return transport.Transport{}, nil
	}
	reg.Register("nats", build, transport.Capabilities{})
	reg.Register("aws", build, transport.Capabilities{})

	assert.Equal(t, []string{"aws", "nats"}, reg.Names())
	assert.True(t, reg.Has("aws"))
	assert.False(t, reg.Has("kafka"))
	assert.Equal(t, transport.Capabilities{Name: "kafka"}, reg.Capabilities("kafka"))
}

func TestRenameTopics(t *testing.T) {
	ps := newPubSub()
	pub, sub := transport.RenameTopics(ps, ps, func(topic string) string { return "renamed-" + topic })

	in, err := ps.Subscribe(context.Background(), "renamed-arrivals")
	require.NoError(t, err)
	require.NoError(t, pub.Publish("arrivals", message.NewMessage("m-1", nil)))
	msg := <-in
	msg.Ack()
	assert.Equal(t, "m-1", msg.UUID)

	out, err := sub.Subscribe(context.Background(), "arrivals")
	require.NoError(t, err)
	require.NoError(t, ps.Publish("renamed-arrivals", message.NewMessage("m-2", nil)))
	msg = <-out
	msg.Ack()
	assert.Equal(t, "m-2", msg.UUID)
}
