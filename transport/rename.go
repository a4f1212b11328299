package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
)

// RenameTopics wraps a publisher and subscriber so every topic passes through
// rename first. Builders use it for brokers whose naming rules are stricter
// than the bus topic names.
func RenameTopics(pub message.Publisher, sub message.Subscriber, rename func(string) string) (message.Publisher, message.Subscriber) {
	return renamingPublisher{Publisher: pub, rename: rename}, renamingSubscriber{Subscriber: sub, rename: rename}
}

type renamingPublisher struct {
	message.Publisher
	rename func(string) string
}

func (p renamingPublisher) Publish(topic string, messages ...*message.Message) error {
	return p.Publisher.Publish(p.rename(topic), messages...)
}

type renamingSubscriber struct {
	message.Subscriber
	rename func(string) string
}

func (s renamingSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.Subscriber.Subscribe(ctx, s.rename(topic))
}
