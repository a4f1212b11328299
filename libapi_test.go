package busflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type RunwayCleared struct {
	Runway string `json:"runway"`
}

type FlightDelayed struct {
	Flight  string `json:"flight"`
	Minutes int    `json:"minutes"`
}

func (FlightDelayed) MessageVersion() int { return 3 }

func TestTransportsAreRegistered(t *testing.T) {
	for _, name := range []string{"channel", "kafka", "rabbitmq", "nats", "aws"} {
		assert.True(t, DefaultTransportRegistry.Has(name), name)
	}
	assert.True(t, GetCapabilities("kafka").SupportsDurableSubscriptions)
}

func TestTypeInfoOf(t *testing.T) {
	info, err := TypeInfoOf[FlightDelayed]()
	require.NoError(t, err)
	assert.Equal(t, TypeInfo{Name: "FlightDelayed", Version: 3, HasVersion: true}, info)

	built, err := BuildFilter[FlightDelayed](SubscriptionFilter{}, DefaultMessageBusOptions())
	require.NoError(t, err)
	assert.Equal(t, "FlightDelayed", built.RoutingKey())
	assert.Equal(t, Properties{DefaultMessageVersionPropertyName: "3"}, built.MessageProperties())

	mapping, err := NewMessageHandlerMapping("FlightDelayed", "delays", &built)
	require.NoError(t, err)
	assert.Equal(t, "delays", mapping.MessageHandlerType)

	_, err = NewMessageHandlerMapping("FlightDelayed", "delays", &BuiltFilter{})
	assert.ErrorIs(t, err, ErrFilterNotBuilt)
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil, Dependencies{})
	assert.ErrorIs(t, err, ErrConfigRequired)
}

func TestBusRoundTrip(t *testing.T) {
	ctx := context.Background()
	bus, err := New(ctx, &Config{
		PubSubSystem:     "channel",
		TopicName:        "airport",
		SubscriptionName: "gates",
		MetricsEnabled:   true,
	}, Dependencies{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close(context.Background()) })

	var mu sync.Mutex
	var delays []FlightDelayed
	var cleared []string

	require.NoError(t, Subscribe(bus, &SubscriptionFilter{}, func(ctx context.Context, mc *MessageContext[FlightDelayed]) error {
		mu.Lock()
		delays = append(delays, mc.Message)
		mu.Unlock()
		return mc.Publish(ctx, NewMessage(RunwayCleared{Runway: "09R"}))
	}))
	require.NoError(t, Subscribe(bus, &SubscriptionFilter{}, func(_ context.Context, mc *MessageContext[RunwayCleared]) error {
		mu.Lock()
		defer mu.Unlock()
		cleared = append(cleared, mc.Message.Runway+"/"+mc.CorrelationID())
		return nil
	}))

	var order []string
	require.NoError(t, AddMessagePreProcessor(bus, func() ProcessorFunc {
		return func(_ context.Context, mc Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, "pre:"+mc.MessageType())
			return nil
		}
	}))

	require.NoError(t, bus.Configure(ctx))
	require.NoError(t, bus.Start(ctx))
	assert.ErrorIs(t, bus.Start(ctx), ErrBusAlreadyStarted)

	msg := NewMessage(FlightDelayed{Flight: "U2 123", Minutes: 40})
	msg.CorrelationID = "ops-7"
	require.NoError(t, bus.Publish(ctx, msg))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(cleared) == 1
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []FlightDelayed{{Flight: "U2 123", Minutes: 40}}, delays)
	assert.Equal(t, []string{"09R/ops-7"}, cleared)
	assert.Equal(t, []string{"pre:FlightDelayed", "pre:RunwayCleared"}, order)
}

func TestErrorAliases(t *testing.T) {
	err := error(&MessageHandlerNotFoundError{MessageID: "m-1", RoutingKey: "Unknown", Err: ErrNoMessageHandler})
	var notFound *MessageHandlerNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.ErrorIs(t, err, ErrNoMessageHandler)

	received := error(&MessageReceivedError{Err: ErrClientClosed})
	assert.ErrorIs(t, received, ErrClientClosed)
}
