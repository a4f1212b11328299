// Package filter turns declarative subscription filters into built, immutable
// routing predicates.
package filter

import (
	"strconv"

	"github.com/drblury/busflow/internal/runtime/envelope"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	propspkg "github.com/drblury/busflow/internal/runtime/properties"
)

// SubscriptionFilter is the declarative predicate supplied at registration
// time. It carries no derived state; call Build to obtain a usable filter.
type SubscriptionFilter struct {
	// Label optionally overrides the message type name used as label.
	Label string
	// MessageProperties, when set, replace label based filtering with a
	// property match.
	MessageProperties propspkg.Properties
}

// Build binds the filter to the bus options and a concrete message type.
func (f SubscriptionFilter) Build(opts envelope.Options, info envelope.TypeInfo) (BuiltFilter, error) {
	if info.Name == "" {
		return BuiltFilter{}, errspkg.ErrMessageTypeRequired
	}
	if info.Version < 0 {
		return BuiltFilter{}, errspkg.ErrNegativeMessageVersion
	}
	opts = opts.WithDefaults()

	built := BuiltFilter{
		explicitLabel: f.Label,
		messageType:   info.Name,
		typeKey:       opts.MessageTypePropertyName,
		custom:        len(f.MessageProperties) > 0,
		properties:    f.MessageProperties.Clone(),
		built:         true,
	}
	if !built.custom && info.HasVersion {
		built.properties[opts.MessageVersionPropertyName] = strconv.Itoa(info.Version)
	}
	return built, nil
}

// BuildFor is Build with the type metadata of T.
func BuildFor[T any](f SubscriptionFilter, opts envelope.Options) (BuiltFilter, error) {
	info, err := envelope.TypeInfoOf[T]()
	if err != nil {
		return BuiltFilter{}, err
	}
	return f.Build(opts, info)
}

// BuiltFilter is a SubscriptionFilter bound to a message type. The zero value
// is not built; Validate reports that case.
type BuiltFilter struct {
	explicitLabel string
	messageType   string
	typeKey       string
	custom        bool
	properties    propspkg.Properties
	built         bool
}

// Validate returns ErrFilterNotBuilt for the zero value.
func (f BuiltFilter) Validate() error {
	if !f.built {
		return errspkg.ErrFilterNotBuilt
	}
	return nil
}

// MessageType returns the name of the bound message type.
func (f BuiltFilter) MessageType() string { return f.messageType }

// Label returns the explicit label, falling back to the message type name.
func (f BuiltFilter) Label() string {
	if f.explicitLabel != "" {
		return f.explicitLabel
	}
	return f.messageType
}

// ExplicitLabel returns the label supplied at registration, if any.
func (f BuiltFilter) ExplicitLabel() string { return f.explicitLabel }

// EffectiveMessageLabel returns the label used for routing. When the filter
// properties name the type property, properties drive routing and ok is false.
func (f BuiltFilter) EffectiveMessageLabel() (label string, ok bool) {
	if _, present := f.properties[f.typeKey]; present {
		return "", false
	}
	return f.Label(), true
}

// RoutingKey is the key an inbound message must carry in its type property
// to reach this filter's handler.
func (f BuiltFilter) RoutingKey() string {
	if v, present := f.properties[f.typeKey]; present {
		return v
	}
	return f.Label()
}

// HasCustomProperties reports whether the caller supplied MessageProperties.
func (f BuiltFilter) HasCustomProperties() bool { return f.custom }

// MessageProperties returns a copy of the properties a message must carry,
// including the version property added at build time.
func (f BuiltFilter) MessageProperties() propspkg.Properties { return f.properties.Clone() }

// Specificity counts the properties checked beyond the routing key.
func (f BuiltFilter) Specificity() int {
	n := len(f.properties)
	if _, present := f.properties[f.typeKey]; present {
		n--
	}
	return n
}

// Matches reports whether inbound properties satisfy every filter property.
func (f BuiltFilter) Matches(inbound propspkg.Properties) bool {
	return inbound.ContainsAll(f.properties)
}
