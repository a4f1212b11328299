// Package client implements the message bus client on top of a Watermill
// publisher/subscriber pair. It owns the router that consumes the bus
// subscription, tracks delivery attempts, dead-letters messages and schedules
// message copies.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/busflow/internal/runtime/admin"
	configpkg "github.com/drblury/busflow/internal/runtime/config"
	"github.com/drblury/busflow/internal/runtime/envelope"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	"github.com/drblury/busflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/busflow/internal/runtime/logging"
	"github.com/drblury/busflow/transport"
)

// MessageBusClient is the transport surface the message bus drives.
type MessageBusClient interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	AddMessageHandler(h handlers.ReceiveFunc)
	AddErrorMessageHandler(h handlers.ErrorFunc)
	DeadLetterMessage(ctx context.Context, handle any, reason, description string) error
	Publish(ctx context.Context, msg envelope.Outbound) error
	Send(ctx context.Context, msg envelope.Outbound) error
	SendMessageCopy(ctx context.Context, handle any, delay time.Duration) error
	SendMessageCopyAt(ctx context.Context, handle any, at time.Time) error
}

// Settings names the topics and limits the client works with.
type Settings struct {
	TopicName           string
	CommandTopicName    string
	SubscriptionName    string
	DeadLetterTopicName string
	// MaxDeliveryCount dead-letters a message once it has been delivered more
	// often. Zero disables the limit.
	MaxDeliveryCount int
}

// SettingsFromConfig derives client settings from the bus configuration.
func SettingsFromConfig(cfg *configpkg.Config) Settings {
	return Settings{
		TopicName:           cfg.TopicName,
		CommandTopicName:    cfg.CommandTopicName,
		SubscriptionName:    cfg.SubscriptionName,
		DeadLetterTopicName: cfg.DeadLetterTopicName,
		MaxDeliveryCount:    cfg.MaxDeliveryCount,
	}
}

func (s Settings) validate() error {
	if s.TopicName == "" {
		return errspkg.ErrTopicRequired
	}
	if s.SubscriptionName == "" {
		return errspkg.ErrSubscriptionNameMissing
	}
	return nil
}

func (s Settings) commandTopic() string {
	if s.CommandTopicName != "" {
		return s.CommandTopicName
	}
	return s.TopicName
}

type options struct {
	logger          loggingpkg.ServiceLogger
	rules           admin.RuleEvaluator
	metrics         *Metrics
	routerRegistry  prometheus.Registerer
	routerSubsystem string
	capabilities    transport.Capabilities
	closeTimeout    time.Duration
	signals         bool
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the logger used by the client and its router.
func WithLogger(logger loggingpkg.ServiceLogger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRuleEvaluator drops inbound messages the subscription rules would not
// deliver. Use it for transports without broker side filtering.
func WithRuleEvaluator(rules admin.RuleEvaluator) Option {
	return func(o *options) { o.rules = rules }
}

// WithMetrics records dead-letters, copies and filtered deliveries.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRouterMetrics registers the Watermill router metrics with registry.
func WithRouterMetrics(registry prometheus.Registerer, subsystem string) Option {
	return func(o *options) {
		o.routerRegistry = registry
		o.routerSubsystem = subsystem
	}
}

// WithCapabilities overrides what the transport reports it supports natively.
func WithCapabilities(caps transport.Capabilities) Option {
	return func(o *options) { o.capabilities = caps }
}

// WithCloseTimeout bounds how long Stop waits for in-flight handlers.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *options) { o.closeTimeout = d }
}

// WithSignalsHandler closes the router on SIGINT and SIGTERM.
func WithSignalsHandler() Option {
	return func(o *options) { o.signals = true }
}

// Client is the Watermill backed MessageBusClient.
type Client struct {
	settings  Settings
	opts      options
	logger    loggingpkg.ServiceLogger
	wmLogger  watermill.LoggerAdapter
	publisher message.Publisher
	subscribe message.Subscriber

	mu            sync.Mutex
	router        *message.Router
	cancel        context.CancelFunc
	done          chan error
	closed        bool
	onMessage     []handlers.ReceiveFunc
	onError       []handlers.ErrorFunc
	deliveries    *deliveryCounter
	scheduler     *scheduler
	capabilities  transport.Capabilities
	transportName string
}

// New wraps an already built transport.
func New(tr transport.Transport, settings Settings, opts ...Option) (*Client, error) {
	if tr.Publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if tr.Subscriber == nil {
		return nil, errspkg.ErrSubscriberRequired
	}
	if err := settings.validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	caps := o.capabilities
	if caps.Name == "" {
		caps = tr.Capabilities
	}

	c := &Client{
		settings:      settings,
		opts:          o,
		logger:        o.logger.With(loggingpkg.LogFields{"topic": settings.TopicName, "subscription": settings.SubscriptionName}),
		publisher:     tr.Publisher,
		subscribe:     tr.Subscriber,
		deliveries:    newDeliveryCounter(),
		capabilities:  caps,
		transportName: caps.Name,
	}
	c.wmLogger = loggingpkg.NewWatermillAdapter(c.logger)
	c.scheduler = newScheduler(c.publisher, caps, c.logger)
	return c, nil
}

// NewFromConfig builds the transport selected by cfg.PubSubSystem from the
// transport registry and wraps it.
func NewFromConfig(ctx context.Context, cfg *configpkg.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errspkg.ErrConfigRequired
	}
	o := buildOptions(opts)

	tr, err := transport.Build(ctx, cfg, loggingpkg.NewWatermillAdapter(o.logger))
	if err != nil {
		return nil, err
	}
	c, err := New(tr, SettingsFromConfig(cfg), opts...)
	if err != nil {
		return nil, errors.Join(err, tr.Publisher.Close(), tr.Subscriber.Close())
	}
	return c, nil
}

func buildOptions(opts []Option) options {
	o := options{
		logger:       loggingpkg.NewNopServiceLogger(),
		closeTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Settings returns the topics and limits the client was created with.
func (c *Client) Settings() Settings { return c.settings }

// AddMessageHandler registers a callback for inbound messages. Callbacks run
// in registration order; the first error stops the chain.
func (c *Client) AddMessageHandler(h handlers.ReceiveFunc) {
	if h == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = append(c.onMessage, h)
}

// AddErrorMessageHandler registers a callback for processing errors.
func (c *Client) AddErrorMessageHandler(h handlers.ErrorFunc) {
	if h == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = append(c.onError, h)
}

// Start subscribes to the bus topic and begins delivering messages. It
// returns once the router is running.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errspkg.ErrClientClosed
	}
	if c.router != nil {
		c.mu.Unlock()
		return errspkg.ErrBusAlreadyStarted
	}

	router, err := c.newRouter()
	if err != nil {
		c.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan error, 1)
	c.router, c.cancel, c.done = router, cancel, done
	c.mu.Unlock()

	go func() {
		done <- router.Run(runCtx)
	}()

	select {
	case <-router.Running():
		c.logger.Info("Message bus client started", loggingpkg.LogFields{"transport": c.transportName})
		return nil
	case err := <-done:
		c.reset()
		if err == nil {
			err = errors.New("router stopped before it was running")
		}
		return fmt.Errorf("start router: %w", err)
	case <-ctx.Done():
		_ = c.Stop(context.WithoutCancel(ctx))
		return ctx.Err()
	}
}

func (c *Client) newRouter() (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: c.opts.closeTimeout}, c.wmLogger)
	if err != nil {
		return nil, err
	}
	router.AddMiddleware(middleware.Recoverer)
	if c.opts.signals {
		router.AddPlugin(plugin.SignalsHandler)
	}

	if c.opts.routerRegistry != nil {
		builder := metrics.NewPrometheusMetricsBuilder(c.opts.routerRegistry, "busflow", c.opts.routerSubsystem)
		builder.AddPrometheusRouterMetrics(router)
	}

	router.AddNoPublisherHandler(
		"busflow_"+c.settings.SubscriptionName,
		c.settings.TopicName,
		keepOpenSubscriber{c.subscribe},
		c.handle(c.settings.TopicName),
	)
	return router, nil
}

// Stop closes the router and waits for in-flight handlers. The transport
// stays open so the client can be started again. Stop is idempotent.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	router, cancel, done := c.router, c.cancel, c.done
	c.mu.Unlock()
	if router == nil {
		return nil
	}

	closeErr := router.Close()
	cancel()

	select {
	case runErr := <-done:
		if closeErr == nil {
			closeErr = runErr
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	c.reset()
	c.logger.Info("Message bus client stopped", nil)
	return closeErr
}

func (c *Client) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.router, c.cancel, c.done = nil, nil, nil
}

// Close stops the client, drops pending message copies and closes the
// transport. The client cannot be restarted afterwards.
func (c *Client) Close(ctx context.Context) error {
	stopErr := c.Stop(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return stopErr
	}
	c.closed = true
	c.mu.Unlock()

	pending := c.scheduler.close()
	if pending > 0 {
		c.logger.Info("Dropped pending message copies", loggingpkg.LogFields{"count": pending})
	}

	// closing twice is a no-op for transports sharing one pub/sub instance
	return errors.Join(stopErr, c.publisher.Close(), c.subscribe.Close())
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) messageHandlers() []handlers.ReceiveFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]handlers.ReceiveFunc(nil), c.onMessage...)
}

func (c *Client) errorHandlers() []handlers.ErrorFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]handlers.ErrorFunc(nil), c.onError...)
}

// keepOpenSubscriber stops the router from closing the shared subscriber on
// shutdown. Subscriptions still end when the router context is cancelled.
type keepOpenSubscriber struct {
	message.Subscriber
}

func (keepOpenSubscriber) Close() error { return nil }
