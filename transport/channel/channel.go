// Package channel provides the in-memory Go channel transport used for local
// runs and tests.
//
// Buses in one process share one hub, so a message published by one bus
// reaches every subscription on that topic. A subscription may only be
// consumed by one bus at a time and messages are not persisted.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/busflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// OutputChannelBuffer is the per-subscriber buffer of the Go channel.
const OutputChannelBuffer = 64

// ErrSubscriptionInUse is returned when a second bus in the process builds a
// channel transport for a subscription that is already being consumed.
var ErrSubscriptionInUse = errors.New("busflow: channel subscription is already consumed in this process")

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(cfg, logger)
}

// hub is the process-wide Go channel shared by every lease.
type hub struct {
	pubSub        *gochannel.GoChannel
	subscriptions map[string]struct{}
}

var (
	hubMu  sync.Mutex
	shared *hub
)

func init() {
	Register()
}

// Register adds the channel transport to the default registry.
func Register() {
	transport.Register(TransportName, Build, Capabilities())
}

// Build leases the process-wide hub for the subscription.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	sub := cfg.GetSubscription()
	l, err := acquire(sub, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	logger.Debug("Leased in-memory hub", watermill.LogFields{"topic": sub.Topic, "subscription": sub.Name})
	return transport.Transport{Publisher: l, Subscriber: l, Capabilities: Capabilities()}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.Capabilities{Name: TransportName}
}

func subscriptionKey(sub transport.Subscription) string {
	return sub.Topic + "/" + sub.Name
}

func acquire(sub transport.Subscription, logger watermill.LoggerAdapter) (*lease, error) {
	hubMu.Lock()
	defer hubMu.Unlock()

	if shared == nil {
		shared = &hub{
			pubSub:        Factory(gochannel.Config{OutputChannelBuffer: OutputChannelBuffer}, logger),
			subscriptions: map[string]struct{}{},
		}
	}
	key := subscriptionKey(sub)
	if _, taken := shared.subscriptions[key]; taken {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionInUse, key)
	}
	shared.subscriptions[key] = struct{}{}
	return &lease{GoChannel: shared.pubSub, key: key}, nil
}

func release(key string) error {
	hubMu.Lock()
	defer hubMu.Unlock()

	if shared == nil {
		return nil
	}
	delete(shared.subscriptions, key)
	if len(shared.subscriptions) > 0 {
		return nil
	}
	pubSub := shared.pubSub
	shared = nil
	return pubSub.Close()
}

// lease is one bus's share of a hub. Closing it releases the subscription
// key; the hub itself closes with its last lease.
type lease struct {
	*gochannel.GoChannel
	key string

	once sync.Once
	err  error
}

func (l *lease) Close() error {
	l.once.Do(func() { l.err = release(l.key) })
	return l.err
}
