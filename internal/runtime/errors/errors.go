package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrFilterRequired          = sterrors.New("busflow: subscription filter is required")
	ErrFilterNotBuilt          = sterrors.New("busflow: subscription filter must be built before use")
	ErrNegativeMessageVersion  = sterrors.New("busflow: message version cannot be negative")
	ErrMessageTypeRequired     = sterrors.New("busflow: message type name is required")
	ErrHandlerFactoryRequired  = sterrors.New("busflow: handler factory is required")
	ErrProcessorFactoryNeeded  = sterrors.New("busflow: processor factory is required")
	ErrMessageBodyConflict     = sterrors.New("busflow: message must carry exactly one of body or body string")
	ErrMessageRequired         = sterrors.New("busflow: message is required")
	ErrResolverNotInitialized  = sterrors.New("busflow: resolver has not been initialized")
	ErrResolverInitialized     = sterrors.New("busflow: resolver is already initialized")
	ErrBusNotConfigured        = sterrors.New("busflow: message bus has not been configured")
	ErrBusAlreadyStarted       = sterrors.New("busflow: message bus is already started")
	ErrClientRequired          = sterrors.New("busflow: message bus client is required")
	ErrAdminClientRequired     = sterrors.New("busflow: message bus admin client is required")
	ErrAdminAPIRequired        = sterrors.New("busflow: admin API is required")
	ErrSessionNotSupported     = sterrors.New("busflow: subscriptions requiring sessions are not supported")
	ErrSubscriptionNotFound    = sterrors.New("busflow: subscription not found")
	ErrSubscriptionNameMissing = sterrors.New("busflow: subscription name is required")
	ErrTopicRequired           = sterrors.New("busflow: topic is required")
	ErrPublisherRequired       = sterrors.New("busflow: publisher is required")
	ErrSubscriberRequired      = sterrors.New("busflow: subscriber is required")
	ErrUnknownMessageHandle    = sterrors.New("busflow: unknown transport message handle")
	ErrClientNotStarted        = sterrors.New("busflow: message bus client is not started")
	ErrConfigRequired          = sterrors.New("busflow: config is required")
	ErrLoggerRequired          = sterrors.New("busflow: logger is required")
	ErrOperationsUnavailable   = sterrors.New("busflow: message context is not bound to a bus")
	ErrNoMessageHandler        = sterrors.New("busflow: no subscription registered for routing key")
	ErrNoMatchingSubscription  = sterrors.New("busflow: no subscription filter matches message properties")
	ErrNilMessageHandler       = sterrors.New("busflow: handler factory returned nil")
	ErrUnknownTransport        = sterrors.New("busflow: unknown transport")
	ErrDuplicateSubscription   = sterrors.New("busflow: subscription with identical routing key and filter already registered")
	ErrClientClosed            = sterrors.New("busflow: message bus client is closed")
	ErrMessageAlreadySettled   = sterrors.New("busflow: message has already been dead-lettered")
	ErrDeadLetterTopicRequired = sterrors.New("busflow: dead-letter topic is required")
	ErrMessageTooLarge         = sterrors.New("busflow: message exceeds the transport size limit")
)

// MessageHandlerNotFoundError reports that no handler could be resolved for an
// inbound message. MessageID is empty when the lookup happened outside of a dispatch.
type MessageHandlerNotFoundError struct {
	MessageID  string
	RoutingKey string
	Err        error
}

func (e *MessageHandlerNotFoundError) Error() string {
	msg := fmt.Sprintf("busflow: no message handler found for routing key %q", e.RoutingKey)
	if e.MessageID != "" {
		msg += fmt.Sprintf(" (message id %s)", e.MessageID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MessageHandlerNotFoundError) Unwrap() error { return e.Err }

// MessageProcessorNotFoundError reports a processor resolver lookup miss.
type MessageProcessorNotFoundError struct {
	ProcessorType string
}

func (e *MessageProcessorNotFoundError) Error() string {
	return fmt.Sprintf("busflow: message processor %s not registered", e.ProcessorType)
}

// MessageReceivedError wraps an error reported by the transport client.
type MessageReceivedError struct {
	Err error
}

func (e *MessageReceivedError) Error() string {
	if e.Err == nil {
		return "busflow: error received from message bus client"
	}
	return "busflow: error received from message bus client: " + e.Err.Error()
}

func (e *MessageReceivedError) Unwrap() error { return e.Err }
