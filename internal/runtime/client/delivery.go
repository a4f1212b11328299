package client

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/busflow/internal/runtime/envelope"
	"github.com/drblury/busflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/busflow/internal/runtime/logging"
	propspkg "github.com/drblury/busflow/internal/runtime/properties"
)

// Reserved metadata keys. Everything under MetadataPrefix is stripped before
// the remaining metadata is handed to the bus as message properties.
const (
	MetadataPrefix                = "busflow_"
	MetadataMessageID             = MetadataPrefix + "message_id"
	MetadataCorrelationID         = MetadataPrefix + "correlation_id"
	MetadataLabel                 = MetadataPrefix + "label"
	MetadataCopyOf                = MetadataPrefix + "copy_of"
	MetadataCopyCount             = MetadataPrefix + "copy_count"
	MetadataDeadLetterReason      = MetadataPrefix + "dead_letter_reason"
	MetadataDeadLetterDescription = MetadataPrefix + "dead_letter_description"
	MetadataDeadLetterSource      = MetadataPrefix + "dead_letter_source"
	MetadataDeliveryCount         = MetadataPrefix + "delivery_count"
)

// ReasonMaxDeliveryCountExceeded is the dead-letter reason used when the
// delivery limit is hit.
const ReasonMaxDeliveryCountExceeded = "MaxDeliveryCountExceeded"

// delivery is the opaque handle handed to the bus with every inbound message.
type delivery struct {
	topic   string
	msg     *message.Message
	count   int
	settled atomic.Bool
}

// toWatermill encodes an outbound message. The transport UUID equals the
// message ID so redeliveries of one message share a delivery counter.
func toWatermill(out envelope.Outbound) *message.Message {
	msg := message.NewMessage(out.MessageID, out.Body)
	msg.Metadata = propspkg.ToWatermill(out.Properties)
	msg.Metadata.Set(MetadataMessageID, out.MessageID)
	if out.CorrelationID != "" {
		msg.Metadata.Set(MetadataCorrelationID, out.CorrelationID)
	}
	if out.Label != "" {
		msg.Metadata.Set(MetadataLabel, out.Label)
	}
	return msg
}

// eventArgs converts a received message into the transport neutral form.
func eventArgs(d *delivery) handlers.MessageReceivedEventArgs {
	md := d.msg.Metadata
	id := md.Get(MetadataMessageID)
	if id == "" {
		id = d.msg.UUID
	}
	props := make(propspkg.Properties, len(md))
	for k, v := range md {
		if !strings.HasPrefix(k, MetadataPrefix) {
			props[k] = v
		}
	}
	return handlers.MessageReceivedEventArgs{
		Body:          d.msg.Payload,
		Handle:        d,
		MessageID:     id,
		CorrelationID: md.Get(MetadataCorrelationID),
		Label:         md.Get(MetadataLabel),
		DeliveryCount: d.count,
		CopyCount:     copyCount(md),
		Properties:    props,
	}
}

// copyCount reads the number of copies made before this message. Missing or
// malformed values count as zero.
func copyCount(md message.Metadata) int {
	n, err := strconv.Atoi(md.Get(MetadataCopyCount))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// handle is the router handler for one subscribed topic. Returning an error
// nacks the message so the transport redelivers it.
func (c *Client) handle(topic string) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		ctx := msg.Context()
		d := &delivery{topic: topic, msg: msg, count: c.deliveries.inc(msg.UUID)}
		args := eventArgs(d)
		log := c.logger.With(loggingpkg.LogFields{
			"message_id":     args.MessageID,
			"delivery_count": args.DeliveryCount,
		})

		if c.opts.rules != nil && !c.opts.rules.Accepts(c.settings.TopicName, c.settings.SubscriptionName, args.Label, args.Properties) {
			log.Trace("Message not selected by subscription rules", nil)
			c.opts.metrics.filtered(topic)
			c.deliveries.forget(msg.UUID)
			return nil
		}

		if limit := c.settings.MaxDeliveryCount; limit > 0 && d.count > limit {
			log.Info("Delivery limit reached, dead-lettering message", loggingpkg.LogFields{"max_delivery_count": limit})
			if err := c.DeadLetterMessage(ctx, d, ReasonMaxDeliveryCountExceeded, "delivery count exceeded the subscription limit"); err != nil {
				log.Error("Failed to dead-letter message", err, nil)
				return err
			}
			c.deliveries.forget(msg.UUID)
			return nil
		}

		err := c.dispatch(ctx, args)
		if d.settled.Load() {
			c.deliveries.forget(msg.UUID)
			return nil
		}
		if err != nil {
			c.reportError(ctx, err, log)
			return err
		}
		c.deliveries.forget(msg.UUID)
		return nil
	}
}

func (c *Client) dispatch(ctx context.Context, args handlers.MessageReceivedEventArgs) error {
	for _, h := range c.messageHandlers() {
		if err := h(ctx, args); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) reportError(ctx context.Context, err error, log loggingpkg.ServiceLogger) {
	callbacks := c.errorHandlers()
	if len(callbacks) == 0 {
		log.Error("Message handling failed", err, nil)
		return
	}
	for _, h := range callbacks {
		if cbErr := h(ctx, handlers.MessageErrorReceivedEventArgs{Err: err}); cbErr != nil {
			log.Error("Message handling failed", cbErr, nil)
		}
	}
}

// deliveryCounter counts deliveries per transport message UUID until the
// message is settled.
type deliveryCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newDeliveryCounter() *deliveryCounter {
	return &deliveryCounter{counts: make(map[string]int)}
}

func (d *deliveryCounter) inc(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counts[id]++
	return d.counts[id]
}

func (d *deliveryCounter) forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.counts, id)
}

func (d *deliveryCounter) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.counts)
}
