package transport

import "time"

// Capabilities describe what a built transport does natively. The client
// reads them to decide between broker features and its own emulation.
type Capabilities struct {
	// Name of the transport.
	Name string

	// SupportsDelay is set when the publisher implements DelayedPublisher.
	SupportsDelay bool
	// MaxDelay is the longest native delay (0 = unlimited).
	MaxDelay time.Duration

	// SupportsDurableSubscriptions is set when every subscription name gets
	// its own durable copy of the topic that survives restarts.
	SupportsDurableSubscriptions bool

	// MaxMessageSize is the largest payload in bytes the broker accepts
	// (0 = unlimited).
	MaxMessageSize int64
}

// CanDelay reports whether a delay of d can be handed to the broker.
func (c Capabilities) CanDelay(d time.Duration) bool {
	return c.SupportsDelay && (c.MaxDelay == 0 || d <= c.MaxDelay)
}

// Fits reports whether a payload of size bytes is within MaxMessageSize.
func (c Capabilities) Fits(size int) bool {
	return c.MaxMessageSize == 0 || int64(size) <= c.MaxMessageSize
}
