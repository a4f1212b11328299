// Package handlers resolves inbound messages to typed handlers and builds the
// per-dispatch message context.
package handlers

import (
	"context"

	propspkg "github.com/drblury/busflow/internal/runtime/properties"
)

// MessageReceivedEventArgs is what the transport client reports for each
// inbound message. Handle is opaque to the core and handed back to the client
// for dead-letter and copy operations.
type MessageReceivedEventArgs struct {
	Body          []byte
	Handle        any
	MessageID     string
	CorrelationID string
	Label         string
	DeliveryCount int
	// CopyCount is how many message copies preceded this delivery.
	CopyCount  int
	Properties propspkg.Properties
}

// MessageErrorReceivedEventArgs carries an error reported by the transport client.
type MessageErrorReceivedEventArgs struct {
	Err error
}

// ReceiveFunc is the callback a transport client invokes for each inbound message.
type ReceiveFunc func(ctx context.Context, args MessageReceivedEventArgs) error

// ErrorFunc is the callback a transport client invokes for reported errors.
type ErrorFunc func(ctx context.Context, args MessageErrorReceivedEventArgs) error
