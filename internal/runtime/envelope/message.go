// Package envelope defines the outgoing message model and the routing metadata
// derived from message types.
package envelope

import (
	"strconv"
	"time"

	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	idspkg "github.com/drblury/busflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/busflow/internal/runtime/jsoncodec"
	propspkg "github.com/drblury/busflow/internal/runtime/properties"
)

// Outgoing is implemented by every message that can be handed to the bus for
// publishing or sending.
type Outgoing interface {
	Outbound(opts Options) (Outbound, error)
}

// Outbound is the encoded, transport-ready form of a message.
type Outbound struct {
	MessageID            string
	CorrelationID        string
	Label                string
	MessageType          string
	Body                 []byte
	Properties           propspkg.Properties
	ScheduledEnqueueTime time.Time
}

// Message is the typed envelope created by publisher code. Exactly one of Body
// or BodyAsString carries the payload. A literal with an empty BodyAsString is
// the typed variant, so &Message[T]{Body: x} and NewMessage(x) are equivalent.
type Message[T any] struct {
	Body         T
	BodyAsString string

	CorrelationID        string
	MessageID            string
	MessageProperties    propspkg.Properties
	ScheduledEnqueueTime time.Time

	// Label overrides the label derived from the type name of T.
	Label string

	// OverrideDefaultMessageProperties suppresses the automatic type and
	// version properties; MessageProperties are sent verbatim.
	OverrideDefaultMessageProperties bool

	hasBody bool
}

// NewMessage wraps a typed body.
func NewMessage[T any](body T) *Message[T] {
	return &Message[T]{Body: body, hasBody: true}
}

// NewStringMessage wraps a pre-serialised body for message type T. The label
// and type properties are derived from T as for a typed body.
func NewStringMessage[T any](body string) *Message[T] {
	return &Message[T]{BodyAsString: body}
}

// HasBody reports whether the typed body variant is used.
func (m *Message[T]) HasBody() bool { return m.hasBody || m.BodyAsString == "" }

// EffectiveLabel returns the explicit label or the message type name.
func (m *Message[T]) EffectiveLabel() (string, error) {
	if m.Label != "" {
		return m.Label, nil
	}
	info, err := TypeInfoOf[T]()
	if err != nil {
		return "", err
	}
	return info.Name, nil
}

// Outbound encodes the message and derives its routing properties. A missing
// MessageID is generated and stored back on the message.
func (m *Message[T]) Outbound(opts Options) (Outbound, error) {
	if m == nil {
		return Outbound{}, errspkg.ErrMessageRequired
	}
	if m.hasBody && m.BodyAsString != "" {
		return Outbound{}, errspkg.ErrMessageBodyConflict
	}
	opts = opts.WithDefaults()

	info, err := TypeInfoOf[T]()
	if err != nil {
		return Outbound{}, err
	}

	var body []byte
	if m.HasBody() {
		body, err = jsoncodec.Marshal(m.Body)
		if err != nil {
			return Outbound{}, err
		}
	} else {
		body = []byte(m.BodyAsString)
	}

	if m.MessageID == "" {
		m.MessageID = idspkg.NewMessageID()
	}

	label, err := m.EffectiveLabel()
	if err != nil {
		return Outbound{}, err
	}

	return Outbound{
		MessageID:            m.MessageID,
		CorrelationID:        m.CorrelationID,
		Label:                label,
		MessageType:          info.Name,
		Body:                 body,
		Properties:           DefaultProperties(m.MessageProperties, info, opts, m.OverrideDefaultMessageProperties),
		ScheduledEnqueueTime: m.ScheduledEnqueueTime,
	}, nil
}

// DefaultProperties returns a copy of props stamped with the type name and,
// when declared, the version. With override set props are returned unchanged.
func DefaultProperties(props propspkg.Properties, info TypeInfo, opts Options, override bool) propspkg.Properties {
	stamped := props.Clone()
	if override {
		return stamped
	}
	stamped[opts.MessageTypePropertyName] = info.Name
	if info.HasVersion {
		stamped[opts.MessageVersionPropertyName] = strconv.Itoa(info.Version)
	}
	return stamped
}

type correlated struct {
	Outgoing
	correlationID string
}

// WithDefaultCorrelationID decorates msg so its correlation ID falls back to id when unset.
func WithDefaultCorrelationID(msg Outgoing, id string) Outgoing {
	if id == "" || msg == nil {
		return msg
	}
	return correlated{Outgoing: msg, correlationID: id}
}

func (c correlated) Outbound(opts Options) (Outbound, error) {
	out, err := c.Outgoing.Outbound(opts)
	if err != nil {
		return out, err
	}
	if out.CorrelationID == "" {
		out.CorrelationID = c.correlationID
	}
	return out, nil
}
