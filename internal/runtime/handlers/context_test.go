package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/busflow/internal/runtime/envelope"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	propspkg "github.com/drblury/busflow/internal/runtime/properties"
)

type recordedCall struct {
	op          string
	handle      any
	reason      string
	description string
	delay       time.Duration
	at          time.Time
	outbound    envelope.Outbound
}

type recordingOperations struct {
	calls []recordedCall
}

func (r *recordingOperations) DeadLetterMessage(_ context.Context, handle any, reason, description string) error {
	r.calls = append(r.calls, recordedCall{op: "deadletter", handle: handle, reason: reason, description: description})
	return nil
}

func (r *recordingOperations) Publish(_ context.Context, msg envelope.Outgoing) error {
	out, err := msg.Outbound(envelope.DefaultOptions())
	r.calls = append(r.calls, recordedCall{op: "publish", outbound: out})
	return err
}

func (r *recordingOperations) Send(_ context.Context, msg envelope.Outgoing) error {
	out, err := msg.Outbound(envelope.DefaultOptions())
	r.calls = append(r.calls, recordedCall{op: "send", outbound: out})
	return err
}

func (r *recordingOperations) SendMessageCopy(_ context.Context, handle any, delay time.Duration) error {
	r.calls = append(r.calls, recordedCall{op: "copy", handle: handle, delay: delay})
	return nil
}

func (r *recordingOperations) SendMessageCopyAt(_ context.Context, handle any, at time.Time) error {
	r.calls = append(r.calls, recordedCall{op: "copy-at", handle: handle, at: at})
	return nil
}

func TestMessageContextExposesInboundValues(t *testing.T) {
	args := MessageReceivedEventArgs{
		MessageID:     "m-1",
		CorrelationID: "c-1",
		Label:         "AircraftLanded",
		DeliveryCount: 3,
		CopyCount:     2,
		Body:          []byte(`{}`),
		Properties:    propspkg.New("MessageType", "AircraftLanded"),
	}
	mc := &MessageContext[AircraftLanded]{MessageContextBase: NewMessageContextBase(args, "AircraftLanded", nil, nil)}

	assert.Equal(t, "m-1", mc.MessageID())
	assert.Equal(t, "c-1", mc.CorrelationID())
	assert.Equal(t, "AircraftLanded", mc.Label())
	assert.Equal(t, "AircraftLanded", mc.MessageType())
	assert.Equal(t, 3, mc.DeliveryCount())
	assert.Equal(t, 2, mc.CopyCount())
	assert.Equal(t, []byte(`{}`), mc.RawBody())
	assert.Equal(t, "AircraftLanded", mc.Get("MessageType"))
	assert.NotNil(t, mc.Log())

	props := mc.Properties()
	props["MessageType"] = "mutated"
	assert.Equal(t, "AircraftLanded", mc.Get("MessageType"))
}

func TestMessageContextOperationsCloseOverHandle(t *testing.T) {
	ops := &recordingOperations{}
	handle := &struct{ id int }{id: 7}
	mc := &MessageContext[AircraftLanded]{MessageContextBase: NewMessageContextBase(MessageReceivedEventArgs{
		Handle:        handle,
		CorrelationID: "corr-1",
	}, "AircraftLanded", ops, nil)}
	ctx := context.Background()
	at := time.Unix(1000, 0)

	require.NoError(t, mc.DeadLetter(ctx, "poison", "cannot parse"))
	require.NoError(t, mc.SendCopy(ctx, 5*time.Second))
	require.NoError(t, mc.SendCopyAt(ctx, at))
	require.NoError(t, mc.Publish(ctx, envelope.NewMessage(AircraftTakenOff{})))

	own := envelope.NewMessage(AircraftTakenOff{})
	own.CorrelationID = "own"
	require.NoError(t, mc.Send(ctx, own))

	require.Len(t, ops.calls, 5)
	assert.Equal(t, recordedCall{op: "deadletter", handle: handle, reason: "poison", description: "cannot parse"}, ops.calls[0])
	assert.Equal(t, 5*time.Second, ops.calls[1].delay)
	assert.Same(t, handle, ops.calls[1].handle)
	assert.Equal(t, at, ops.calls[2].at)
	assert.Equal(t, "corr-1", ops.calls[3].outbound.CorrelationID)
	assert.Equal(t, "own", ops.calls[4].outbound.CorrelationID)
	assert.Equal(t, "send", ops.calls[4].op)
}

func TestMessageContextWithoutOperations(t *testing.T) {
	mc := &MessageContext[AircraftLanded]{}
	assert.ErrorIs(t, mc.DeadLetter(context.Background(), "", ""), errspkg.ErrOperationsUnavailable)
	assert.ErrorIs(t, mc.Publish(context.Background(), envelope.NewMessage(AircraftLanded{})), errspkg.ErrOperationsUnavailable)
}
