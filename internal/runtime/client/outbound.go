package client

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/busflow/internal/runtime/envelope"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	idspkg "github.com/drblury/busflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/busflow/internal/runtime/logging"
	"github.com/drblury/busflow/transport"
)

// Publish sends an event to the bus topic. A future ScheduledEnqueueTime
// delays delivery.
func (c *Client) Publish(ctx context.Context, out envelope.Outbound) error {
	return c.publish(ctx, c.settings.TopicName, out)
}

// Send sends a command to the command topic.
func (c *Client) Send(ctx context.Context, out envelope.Outbound) error {
	return c.publish(ctx, c.settings.commandTopic(), out)
}

func (c *Client) publish(ctx context.Context, topic string, out envelope.Outbound) error {
	if c.isClosed() {
		return errspkg.ErrClientClosed
	}
	msg := toWatermill(out)
	if !c.capabilities.Fits(len(msg.Payload)) {
		return fmt.Errorf("%w: %d bytes to %s, %s accepts %d", errspkg.ErrMessageTooLarge, len(msg.Payload), topic, c.capabilities.Name, c.capabilities.MaxMessageSize)
	}
	msg.SetContext(ctx)

	if !out.ScheduledEnqueueTime.IsZero() {
		if delay := time.Until(out.ScheduledEnqueueTime); delay > 0 {
			return c.scheduler.publishAfter(topic, delay, msg)
		}
	}
	if err := c.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// DeadLetterMessage moves the message behind handle to the dead-letter topic.
// The original message is acknowledged once the handler returns.
func (c *Client) DeadLetterMessage(ctx context.Context, handle any, reason, description string) error {
	d, err := c.delivery(handle)
	if err != nil {
		return err
	}
	if c.settings.DeadLetterTopicName == "" {
		return errspkg.ErrDeadLetterTopicRequired
	}
	if !d.settled.CompareAndSwap(false, true) {
		return errspkg.ErrMessageAlreadySettled
	}

	dead := message.NewMessage(idspkg.CreateULID(), d.msg.Payload)
	dead.Metadata = maps.Clone(d.msg.Metadata)
	dead.Metadata.Set(MetadataDeadLetterReason, reason)
	dead.Metadata.Set(MetadataDeadLetterDescription, description)
	dead.Metadata.Set(MetadataDeadLetterSource, d.topic)
	dead.Metadata.Set(MetadataDeliveryCount, strconv.Itoa(d.count))
	dead.SetContext(ctx)

	if err := c.publisher.Publish(c.settings.DeadLetterTopicName, dead); err != nil {
		d.settled.Store(false)
		return fmt.Errorf("publish to dead-letter topic %s: %w", c.settings.DeadLetterTopicName, err)
	}

	c.opts.metrics.deadLettered(d.topic, reason, d.count)
	c.logger.Info("Message dead-lettered", loggingpkg.LogFields{
		"message_id":     d.msg.Metadata.Get(MetadataMessageID),
		"reason":         reason,
		"delivery_count": d.count,
		"copy_count":     copyCount(d.msg.Metadata),
	})
	return nil
}

// SendMessageCopy re-enqueues a copy of the message behind handle after delay.
// The copy keeps the message ID, starts a fresh delivery count and carries the
// copy count of the original plus one.
func (c *Client) SendMessageCopy(ctx context.Context, handle any, delay time.Duration) error {
	d, err := c.delivery(handle)
	if err != nil {
		return err
	}
	if c.isClosed() {
		return errspkg.ErrClientClosed
	}

	cp := message.NewMessage(idspkg.CreateULID(), d.msg.Payload)
	cp.Metadata = maps.Clone(d.msg.Metadata)
	cp.Metadata.Set(MetadataCopyOf, d.msg.UUID)
	cp.Metadata.Set(MetadataCopyCount, strconv.Itoa(copyCount(d.msg.Metadata)+1))
	cp.SetContext(ctx)

	c.opts.metrics.copied(d.topic)
	if delay <= 0 {
		if err := c.publisher.Publish(d.topic, cp); err != nil {
			return fmt.Errorf("publish message copy to %s: %w", d.topic, err)
		}
		return nil
	}
	return c.scheduler.publishAfter(d.topic, delay, cp)
}

// SendMessageCopyAt re-enqueues a copy of the message behind handle at the
// given time. Times in the past enqueue immediately.
func (c *Client) SendMessageCopyAt(ctx context.Context, handle any, at time.Time) error {
	return c.SendMessageCopy(ctx, handle, time.Until(at))
}

func (c *Client) delivery(handle any) (*delivery, error) {
	d, ok := handle.(*delivery)
	if !ok || d == nil {
		return nil, errspkg.ErrUnknownMessageHandle
	}
	return d, nil
}

// scheduler delays publishing. Publishers implementing
// transport.DelayedPublisher are used for delays the transport can take;
// everything else waits on a local timer.
type scheduler struct {
	publisher message.Publisher
	delayed   transport.DelayedPublisher
	caps      transport.Capabilities
	logger    loggingpkg.ServiceLogger

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

func newScheduler(pub message.Publisher, caps transport.Capabilities, logger loggingpkg.ServiceLogger) *scheduler {
	s := &scheduler{
		publisher: pub,
		caps:      caps,
		logger:    logger,
		timers:    make(map[*time.Timer]struct{}),
	}
	if dp, ok := pub.(transport.DelayedPublisher); ok && caps.SupportsDelay {
		s.delayed = dp
	}
	return s
}

func (s *scheduler) publishAfter(topic string, delay time.Duration, msg *message.Message) error {
	if s.delayed != nil && s.caps.CanDelay(delay) {
		return s.delayed.PublishWithDelay(topic, delay, msg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errspkg.ErrClientClosed
	}

	// detach from the caller's context, which ends with the handler
	msg.SetContext(context.Background())

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, timer)
		s.mu.Unlock()

		if err := s.publisher.Publish(topic, msg); err != nil {
			s.logger.Error("Failed to publish delayed message", err, loggingpkg.LogFields{
				"topic":        topic,
				"message_uuid": msg.UUID,
			})
		}
	})
	s.timers[timer] = struct{}{}
	return nil
}

func (s *scheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// close stops all pending timers and reports how many were dropped.
func (s *scheduler) close() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	dropped := 0
	for t := range s.timers {
		if t.Stop() {
			dropped++
		}
		delete(s.timers, t)
	}
	return dropped
}
