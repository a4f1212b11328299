package filter

import (
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
)

// MessageHandlerMapping ties a message type and its handler to the filter
// that routes messages to it. Mappings are the desired state consumed by the
// rule reconciler.
type MessageHandlerMapping struct {
	MessageType        string
	MessageHandlerType string
	Filter             BuiltFilter
}

// NewMessageHandlerMapping validates the filter and returns the mapping.
func NewMessageHandlerMapping(messageType, handlerType string, f *BuiltFilter) (MessageHandlerMapping, error) {
	if f == nil {
		return MessageHandlerMapping{}, errspkg.ErrFilterRequired
	}
	if err := f.Validate(); err != nil {
		return MessageHandlerMapping{}, err
	}
	if messageType == "" {
		messageType = f.MessageType()
	}
	return MessageHandlerMapping{
		MessageType:        messageType,
		MessageHandlerType: handlerType,
		Filter:             *f,
	}, nil
}
