package envelope

import (
	"errors"
)

// Reserved property names shared with other bus implementations. Keep these
// defaults unchanged for cross-platform compatibility.
const (
	DefaultMessageTypePropertyName    = "MessageType"
	DefaultMessageVersionPropertyName = "MessageVersion"
)

// Options names the reserved properties stamped on outgoing messages and read
// from inbound ones. It is a plain value: copy it into every component that needs it.
type Options struct {
	MessageTypePropertyName    string
	MessageVersionPropertyName string
}

// DefaultOptions returns Options populated with the reserved defaults.
func DefaultOptions() Options {
	return Options{
		MessageTypePropertyName:    DefaultMessageTypePropertyName,
		MessageVersionPropertyName: DefaultMessageVersionPropertyName,
	}
}

// WithDefaults fills empty property names with the reserved defaults.
func (o Options) WithDefaults() Options {
	if o.MessageTypePropertyName == "" {
		o.MessageTypePropertyName = DefaultMessageTypePropertyName
	}
	if o.MessageVersionPropertyName == "" {
		o.MessageVersionPropertyName = DefaultMessageVersionPropertyName
	}
	return o
}

// Validate checks that both property names are set and distinct.
func (o Options) Validate() error {
	var errs []error
	if o.MessageTypePropertyName == "" {
		errs = append(errs, errors.New("options: message type property name is required"))
	}
	if o.MessageVersionPropertyName == "" {
		errs = append(errs, errors.New("options: message version property name is required"))
	}
	if o.MessageTypePropertyName != "" && o.MessageTypePropertyName == o.MessageVersionPropertyName {
		errs = append(errs, errors.New("options: message type and version property names must differ"))
	}
	return errors.Join(errs...)
}
