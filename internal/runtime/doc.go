/*
Package runtime holds the message bus dispatch core.

# Architecture Overview

MessageBus sits between a MessageBusClient, which moves messages over a
transport, and a MessageBusAdminClient, which manages the subscription and
its rules. The bus owns a handler resolver and a processor resolver; both are
filled before Configure and read-only afterwards.

For every inbound message the bus takes the routing key from the type
property (falling back to the label), resolves the handler, decodes the body
into a MessageContext[T] and runs pre-processors, the handler and
post-processors in order. The first error is returned to the client unchanged.

# Package Structure

  - bus.go: MessageBus, lifecycle, dispatch and outbound operations
  - hooks.go: DispatchHooks called around each dispatch
  - metrics.go: Prometheus counters for dispatch and publish
  - wiring.go: NewFromConfig, building client, reconciler and bus from Config

# Sub-packages

  - admin/: rule reconciler and the AdminAPI it drives; admin/memory is an
    in-process AdminAPI
  - client/: Watermill backed MessageBusClient
  - config/: YAML configuration with defaults and validation
  - envelope/: outgoing message model and reserved property names
  - errors/: sentinel and typed errors
  - filter/: subscription filters and handler mappings
  - handlers/: handler resolver and message contexts
  - ids/: message and envelope identifiers
  - jsoncodec/: body encoding
  - logging/: logger interface and adapters
  - processors/: processor resolver
  - properties/: message property maps
*/
package runtime
