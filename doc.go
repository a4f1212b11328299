// Package busflow is a topic/subscription message bus on top of Watermill.
// Handlers are registered per message type, routed by a reserved type
// property on each message, and wrapped by ordered pre- and post-processors.
//
// A bus is built from Config, which selects the transport (Go channels,
// Kafka, RabbitMQ, NATS or AWS SNS/SQS) and names the topic, the
// subscription and the dead-letter topic. Configure converges the
// subscription and its filter rules with the registered handlers; rules are
// diffed against what is installed so reconfiguring is idempotent. Start
// begins consuming.
//
//	bus, err := busflow.New(ctx, &busflow.Config{
//		PubSubSystem:     "channel",
//		TopicName:        "flights",
//		SubscriptionName: "tower",
//	}, busflow.Dependencies{Logger: logger})
//	if err != nil {
//		return err
//	}
//	err = busflow.Subscribe(bus, &busflow.SubscriptionFilter{}, func(ctx context.Context, mc *busflow.MessageContext[AircraftLanded]) error {
//		return mc.Publish(ctx, busflow.NewMessage(GateAssigned{Flight: mc.Message.Flight}))
//	})
//	...
//	if err := bus.Configure(ctx); err != nil {
//		return err
//	}
//	return bus.Start(ctx)
//
// # Routing
//
// Outgoing messages carry the body type name under "MessageType" and, for
// bodies implementing Versioned, the version under "MessageVersion". The
// property names can be changed through MessageBusOptions but must match on
// every producer and consumer. A SubscriptionFilter may set a label or a set of
// MessageProperties; several subscriptions can share a type name and are told
// apart by their properties.
//
// # Failure handling
//
// Handler and processor errors are returned to the client, which nacks the
// message so the transport redelivers it. Once the delivery count exceeds
// MaxDeliveryCount the message is moved to the dead-letter topic. Handlers can
// dead-letter explicitly with MessageContext.DeadLetter or re-enqueue a delayed
// copy with SendCopy.
package busflow
