package handlers

import (
	"context"
	"time"

	"github.com/drblury/busflow/internal/runtime/envelope"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/busflow/internal/runtime/logging"
	propspkg "github.com/drblury/busflow/internal/runtime/properties"
)

// Operations are the bus operations bound into every message context. The
// handle is the opaque transport handle of the message being processed.
type Operations interface {
	DeadLetterMessage(ctx context.Context, handle any, reason, description string) error
	Publish(ctx context.Context, msg envelope.Outgoing) error
	Send(ctx context.Context, msg envelope.Outgoing) error
	SendMessageCopy(ctx context.Context, handle any, delay time.Duration) error
	SendMessageCopyAt(ctx context.Context, handle any, at time.Time) error
}

// Context is the type-erased view of a message context handed to processors.
type Context interface {
	MessageID() string
	CorrelationID() string
	Label() string
	MessageType() string
	DeliveryCount() int
	CopyCount() int
	Properties() propspkg.Properties
	RawBody() []byte
	// Payload returns the decoded message body.
	Payload() any
	Log() loggingpkg.ServiceLogger

	DeadLetter(ctx context.Context, reason, description string) error
	Publish(ctx context.Context, msg envelope.Outgoing) error
	Send(ctx context.Context, msg envelope.Outgoing) error
	SendCopy(ctx context.Context, delay time.Duration) error
	SendCopyAt(ctx context.Context, at time.Time) error
}

// MessageContextBase holds everything a context knows about the inbound
// message apart from the decoded body.
type MessageContextBase struct {
	Args   MessageReceivedEventArgs
	Type   string
	Logger loggingpkg.ServiceLogger
	ops    Operations
}

// NewMessageContextBase binds args and ops for a single dispatch.
func NewMessageContextBase(args MessageReceivedEventArgs, messageType string, ops Operations, logger loggingpkg.ServiceLogger) MessageContextBase {
	if logger == nil {
		logger = loggingpkg.NewNopServiceLogger()
	}
	return MessageContextBase{
		Args:   args,
		Type:   messageType,
		Logger: logger.With(loggingpkg.LogFields{"message_id": args.MessageID, "message_type": messageType}),
		ops:    ops,
	}
}

func (b *MessageContextBase) MessageID() string     { return b.Args.MessageID }
func (b *MessageContextBase) CorrelationID() string { return b.Args.CorrelationID }
func (b *MessageContextBase) Label() string         { return b.Args.Label }
func (b *MessageContextBase) MessageType() string   { return b.Type }
func (b *MessageContextBase) DeliveryCount() int    { return b.Args.DeliveryCount }
func (b *MessageContextBase) CopyCount() int        { return b.Args.CopyCount }
func (b *MessageContextBase) RawBody() []byte       { return b.Args.Body }

func (b *MessageContextBase) Log() loggingpkg.ServiceLogger { return b.Logger }

// Properties returns a copy of the inbound properties so handlers can derive
// outgoing properties without touching the original map.
func (b *MessageContextBase) Properties() propspkg.Properties {
	return b.Args.Properties.Clone()
}

// Get retrieves a single inbound property.
func (b *MessageContextBase) Get(key string) string {
	return b.Args.Properties[key]
}

// DeadLetter moves the message being processed to the dead-letter queue.
func (b *MessageContextBase) DeadLetter(ctx context.Context, reason, description string) error {
	if b.ops == nil {
		return errspkg.ErrOperationsUnavailable
	}
	return b.ops.DeadLetterMessage(ctx, b.Args.Handle, reason, description)
}

// Publish publishes an event carrying this message's correlation ID when the
// event does not set one.
func (b *MessageContextBase) Publish(ctx context.Context, msg envelope.Outgoing) error {
	if b.ops == nil {
		return errspkg.ErrOperationsUnavailable
	}
	return b.ops.Publish(ctx, envelope.WithDefaultCorrelationID(msg, b.Args.CorrelationID))
}

// Send sends a command carrying this message's correlation ID when the
// command does not set one.
func (b *MessageContextBase) Send(ctx context.Context, msg envelope.Outgoing) error {
	if b.ops == nil {
		return errspkg.ErrOperationsUnavailable
	}
	return b.ops.Send(ctx, envelope.WithDefaultCorrelationID(msg, b.Args.CorrelationID))
}

// SendCopy re-enqueues a copy of the message after delay.
func (b *MessageContextBase) SendCopy(ctx context.Context, delay time.Duration) error {
	if b.ops == nil {
		return errspkg.ErrOperationsUnavailable
	}
	return b.ops.SendMessageCopy(ctx, b.Args.Handle, delay)
}

// SendCopyAt re-enqueues a copy of the message for delivery at the given time.
func (b *MessageContextBase) SendCopyAt(ctx context.Context, at time.Time) error {
	if b.ops == nil {
		return errspkg.ErrOperationsUnavailable
	}
	return b.ops.SendMessageCopyAt(ctx, b.Args.Handle, at)
}

// MessageContext is the per-dispatch view handed to a MessageHandler[T].
type MessageContext[T any] struct {
	MessageContextBase
	Message T
}

// Payload returns the decoded body as any.
func (c *MessageContext[T]) Payload() any { return c.Message }

var _ Context = (*MessageContext[struct{}])(nil)
