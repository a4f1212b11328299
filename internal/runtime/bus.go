package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/busflow/internal/runtime/admin"
	"github.com/drblury/busflow/internal/runtime/client"
	"github.com/drblury/busflow/internal/runtime/envelope"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	"github.com/drblury/busflow/internal/runtime/filter"
	"github.com/drblury/busflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/busflow/internal/runtime/logging"
	"github.com/drblury/busflow/internal/runtime/processors"
)

// TracerName is the instrumentation name of the spans the bus creates.
const TracerName = "github.com/drblury/busflow"

// State is the lifecycle state of a MessageBus.
type State int

const (
	StateUnconfigured State = iota
	StateConfigured
	StateStarted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Option customises a MessageBus.
type Option func(*MessageBus)

// WithLogger sets the bus logger. A nil logger is ignored.
func WithLogger(logger loggingpkg.ServiceLogger) Option {
	return func(b *MessageBus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics records dispatch and publish counters on m.
func WithMetrics(m *Metrics) Option {
	return func(b *MessageBus) { b.metrics = m }
}

// WithHooks adds dispatch hooks. Repeated options are merged in order.
func WithHooks(hooks DispatchHooks) Option {
	return func(b *MessageBus) { b.hooks = b.hooks.Merge(hooks) }
}

// WithTracer replaces the tracer taken from the global otel provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(b *MessageBus) {
		if tracer != nil {
			b.tracer = tracer
		}
	}
}

// MessageBus routes inbound messages to typed handlers and stamps outbound
// messages with routing properties. Register subscriptions and processors,
// then call Configure and Start.
type MessageBus struct {
	opts       envelope.Options
	client     client.MessageBusClient
	admin      admin.MessageBusAdminClient
	handlers   *handlers.MessageHandlerResolver
	processors *processors.MessageProcessorResolver

	logger  loggingpkg.ServiceLogger
	metrics *Metrics
	hooks   DispatchHooks
	tracer  trace.Tracer

	mu         sync.Mutex
	state      State
	registered bool
}

// NewMessageBus wires a bus over the transport and admin collaborators.
func NewMessageBus(busClient client.MessageBusClient, adminClient admin.MessageBusAdminClient, opts envelope.Options, options ...Option) (*MessageBus, error) {
	if busClient == nil {
		return nil, errspkg.ErrClientRequired
	}
	if adminClient == nil {
		return nil, errspkg.ErrAdminClientRequired
	}
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	b := &MessageBus{
		opts:       opts,
		client:     busClient,
		admin:      adminClient,
		handlers:   handlers.NewMessageHandlerResolver(),
		processors: processors.NewMessageProcessorResolver(),
		logger:     loggingpkg.NewNopServiceLogger(),
		tracer:     otel.Tracer(TracerName),
	}
	for _, opt := range options {
		opt(b)
	}
	return b, nil
}

// Options returns the reserved property names the bus uses.
func (b *MessageBus) Options() envelope.Options { return b.opts }

// Handlers returns the handler resolver.
func (b *MessageBus) Handlers() *handlers.MessageHandlerResolver { return b.handlers }

// Processors returns the processor resolver.
func (b *MessageBus) Processors() *processors.MessageProcessorResolver { return b.processors }

// State reports the current lifecycle state.
func (b *MessageBus) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Configure seals the handler and processor resolvers and reconciles the
// remote subscription with the registered handlers. Calling it again re-runs
// the reconciliation only.
func (b *MessageBus) Configure(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateStarted {
		return errspkg.ErrBusAlreadyStarted
	}
	if !b.handlers.Initialized() {
		if err := b.handlers.Initialize(); err != nil {
			return fmt.Errorf("initialize handler resolver: %w", err)
		}
	}
	if !b.processors.Initialized() {
		if err := b.processors.Initialize(); err != nil {
			return fmt.Errorf("initialize processor resolver: %w", err)
		}
	}

	mappings := b.handlers.GetMessageHandlerMappings()
	if err := b.admin.Configure(ctx, mappings); err != nil {
		return fmt.Errorf("configure subscription: %w", err)
	}
	if b.state == StateUnconfigured {
		b.state = StateConfigured
	}
	b.logger.Info("Message bus configured", loggingpkg.LogFields{
		"subscriptions":   len(mappings),
		"pre_processors":  len(b.processors.GetMessagePreProcessors()),
		"post_processors": len(b.processors.GetMessagePostProcessors()),
	})
	return nil
}

// Start registers the dispatch callbacks with the client and starts it.
func (b *MessageBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateUnconfigured:
		return errspkg.ErrBusNotConfigured
	case StateStarted:
		return errspkg.ErrBusAlreadyStarted
	}
	if !b.registered {
		b.client.AddMessageHandler(b.OnMessageReceived)
		b.client.AddErrorMessageHandler(b.OnErrorMessageReceived)
		b.registered = true
	}
	if err := b.client.Start(ctx); err != nil {
		return fmt.Errorf("start message bus client: %w", err)
	}
	b.state = StateStarted
	b.logger.Info("Message bus started", nil)
	return nil
}

// Stop stops the client. Stopping a bus that is not started is a no-op.
func (b *MessageBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateStarted {
		return nil
	}
	if err := b.client.Stop(ctx); err != nil {
		return fmt.Errorf("stop message bus client: %w", err)
	}
	b.state = StateStopped
	b.logger.Info("Message bus stopped", nil)
	return nil
}

// Close stops the bus and closes the client when it supports closing.
func (b *MessageBus) Close(ctx context.Context) error {
	stopErr := b.Stop(ctx)
	closer, ok := b.client.(interface{ Close(context.Context) error })
	if !ok {
		return stopErr
	}
	return errors.Join(stopErr, closer.Close(ctx))
}

// CheckHealth reports whether the remote subscription is reachable.
func (b *MessageBus) CheckHealth(ctx context.Context) bool {
	return b.admin.CheckHealth(ctx)
}

// OnMessageReceived resolves the handler for an inbound message and runs the
// pre-processors, the handler and the post-processors in order. The first
// error is returned unchanged so the client can redeliver the message.
func (b *MessageBus) OnMessageReceived(ctx context.Context, args handlers.MessageReceivedEventArgs) error {
	info := DispatchInfo{
		MessageID:     args.MessageID,
		RoutingKey:    b.routingKey(args),
		Properties:    args.Properties,
		DeliveryCount: args.DeliveryCount,
		CopyCount:     args.CopyCount,
		StartedAt:     time.Now(),
	}
	b.metrics.received(info.RoutingKey)

	ctx, span := b.tracer.Start(ctx, "busflow.dispatch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.message.id", args.MessageID),
			attribute.String("busflow.routing_key", info.RoutingKey),
			attribute.Int("messaging.message.delivery_count", args.DeliveryCount),
			attribute.Int("busflow.copy_count", args.CopyCount),
		),
	)
	defer span.End()
	info.Context = ctx

	resolved, key, err := b.resolve(args)
	if err != nil {
		return b.fail(span, info, outcomeNotFound, err)
	}
	info.RoutingKey = key
	info.MessageType = resolved.Subscription.MessageType
	info.HandlerType = resolved.Subscription.HandlerType
	span.SetAttributes(
		attribute.String("busflow.message_type", info.MessageType),
		attribute.String("busflow.handler", info.HandlerType),
	)
	b.hooks.start(info)

	mc, err := resolved.NewContext(args, b, b.logger)
	if err != nil {
		return b.fail(span, info, outcomeDecodeError, err)
	}
	if err := b.processors.RunPre(ctx, mc); err != nil {
		return b.fail(span, info, outcomePreProcessor, err)
	}
	if err := resolved.Handle(ctx, mc); err != nil {
		return b.fail(span, info, outcomeHandlerError, err)
	}
	if err := b.processors.RunPost(ctx, mc); err != nil {
		return b.fail(span, info, outcomePostProcessor, err)
	}

	b.hooks.finish(info, nil)
	b.metrics.dispatched(info.MessageType, time.Since(info.StartedAt))
	b.logger.Debug("Message dispatched", loggingpkg.LogFields{
		"message_id":   info.MessageID,
		"message_type": info.MessageType,
		"routing_key":  info.RoutingKey,
	})
	return nil
}

// OnErrorMessageReceived converts an error reported by the client into a
// *MessageReceivedError and returns it.
func (b *MessageBus) OnErrorMessageReceived(_ context.Context, args handlers.MessageErrorReceivedEventArgs) error {
	err := &errspkg.MessageReceivedError{Err: args.Err}
	b.metrics.failed("", outcomeTransportError)
	b.logger.Error("Message bus client reported an error", err, nil)
	return err
}

func (b *MessageBus) fail(span trace.Span, info DispatchInfo, outcome string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, outcome)
	b.hooks.finish(info, err)
	b.metrics.failed(info.RoutingKey, outcome)
	b.logger.Error("Message dispatch failed", err, loggingpkg.LogFields{
		"message_id":     info.MessageID,
		"message_type":   info.MessageType,
		"routing_key":    info.RoutingKey,
		"delivery_count": info.DeliveryCount,
		"outcome":        outcome,
	})
	return err
}

func (b *MessageBus) routingKey(args handlers.MessageReceivedEventArgs) string {
	if key := args.Properties[b.opts.MessageTypePropertyName]; key != "" {
		return key
	}
	return args.Label
}

// resolve looks the handler up by the type property and falls back to the
// label when nothing is registered under the type name.
func (b *MessageBus) resolve(args handlers.MessageReceivedEventArgs) (*handlers.ResolvedHandler, string, error) {
	primary := b.routingKey(args)
	keys := []string{primary}
	if args.Label != "" && args.Label != primary {
		keys = append(keys, args.Label)
	}

	var firstErr error
	for _, key := range keys {
		resolved, err := b.handlers.Resolve(key, args.Properties)
		if err == nil {
			return resolved, key, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		if !errors.Is(err, errspkg.ErrNoMessageHandler) {
			break
		}
	}
	return nil, primary, withMessageID(firstErr, primary, args.MessageID)
}

func withMessageID(err error, routingKey, messageID string) error {
	var notFound *errspkg.MessageHandlerNotFoundError
	if errors.As(err, &notFound) {
		tagged := *notFound
		tagged.MessageID = messageID
		return &tagged
	}
	return &errspkg.MessageHandlerNotFoundError{MessageID: messageID, RoutingKey: routingKey, Err: err}
}

// Publish stamps msg with its routing properties and publishes it as an event.
func (b *MessageBus) Publish(ctx context.Context, msg envelope.Outgoing) error {
	return b.emit(ctx, "publish", msg, b.client.Publish)
}

// Send stamps msg with its routing properties and sends it as a command.
func (b *MessageBus) Send(ctx context.Context, msg envelope.Outgoing) error {
	return b.emit(ctx, "send", msg, b.client.Send)
}

func (b *MessageBus) emit(ctx context.Context, kind string, msg envelope.Outgoing, deliver func(context.Context, envelope.Outbound) error) error {
	if msg == nil {
		return errspkg.ErrMessageRequired
	}
	out, err := msg.Outbound(b.opts)
	if err != nil {
		return err
	}

	ctx, span := b.tracer.Start(ctx, "busflow."+kind,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.message.id", out.MessageID),
			attribute.String("busflow.message_type", out.MessageType),
		),
	)
	defer span.End()

	if err := deliver(ctx, out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, kind+" failed")
		return err
	}
	b.metrics.published(out.MessageType, kind)
	return nil
}

// DeadLetterMessage moves the message behind handle to the dead-letter topic.
func (b *MessageBus) DeadLetterMessage(ctx context.Context, handle any, reason, description string) error {
	return b.client.DeadLetterMessage(ctx, handle, reason, description)
}

// SendMessageCopy re-enqueues a copy of the message behind handle after delay.
func (b *MessageBus) SendMessageCopy(ctx context.Context, handle any, delay time.Duration) error {
	return b.client.SendMessageCopy(ctx, handle, delay)
}

// SendMessageCopyAt re-enqueues a copy of the message behind handle at a point in time.
func (b *MessageBus) SendMessageCopyAt(ctx context.Context, handle any, at time.Time) error {
	return b.client.SendMessageCopyAt(ctx, handle, at)
}

// SubscribeToMessage registers the handler built by factory for messages of
// type T selected by f. The filter is built against the bus options.
func SubscribeToMessage[T any, H handlers.MessageHandler[T]](b *MessageBus, f *filter.SubscriptionFilter, factory func() H) error {
	if f == nil {
		return errspkg.ErrFilterRequired
	}
	built, err := filter.BuildFor[T](*f, b.opts)
	if err != nil {
		return err
	}
	return handlers.SubscribeToMessage[T, H](b.handlers, &built, factory)
}

// SubscribeFunc registers fn as the handler for messages of type T selected by f.
func SubscribeFunc[T any](b *MessageBus, f *filter.SubscriptionFilter, fn func(ctx context.Context, mc *handlers.MessageContext[T]) error) error {
	if fn == nil {
		return errspkg.ErrHandlerFactoryRequired
	}
	return SubscribeToMessage[T, handlers.HandlerFunc[T]](b, f, func() handlers.HandlerFunc[T] { return fn })
}

// AddMessagePreProcessor registers a processor run before every handler.
func AddMessagePreProcessor[P processors.MessageProcessor](b *MessageBus, factory func() P) error {
	return processors.AddMessagePreProcessor[P](b.processors, factory)
}

// AddMessagePostProcessor registers a processor run after every handler.
func AddMessagePostProcessor[P processors.MessageProcessor](b *MessageBus, factory func() P) error {
	return processors.AddMessagePostProcessor[P](b.processors, factory)
}

// ResolveProcessor returns the processor instance registered as P.
func ResolveProcessor[P processors.MessageProcessor](b *MessageBus) (P, error) {
	return processors.Resolve[P](b.processors)
}
