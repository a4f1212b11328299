package runtime

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/busflow/internal/runtime/logging"
	propspkg "github.com/drblury/busflow/internal/runtime/properties"
)

// DispatchInfo describes one inbound message dispatch to hooks.
type DispatchInfo struct {
	// MessageID is the bus message identifier.
	MessageID string
	// RoutingKey is the key the handler was resolved with.
	RoutingKey string
	// MessageType is the registered message type name. Empty when no handler resolved.
	MessageType string
	// HandlerType names the resolved handler.
	HandlerType string
	// Properties are the inbound message properties.
	Properties propspkg.Properties
	// DeliveryCount is the number of times the transport delivered the message.
	DeliveryCount int
	// CopyCount is the number of message copies that preceded this delivery.
	CopyCount int
	// Context is the dispatch context.
	Context context.Context
	// StartedAt is when the dispatch started.
	StartedAt time.Time
	// Duration is how long the dispatch took (only set in OnDispatchDone and OnDispatchError).
	Duration time.Duration
}

// DispatchHooks are optional callbacks around every dispatch. Nil hooks are
// not called.
type DispatchHooks struct {
	// OnDispatchStart runs after the handler is resolved, before pre-processors.
	OnDispatchStart func(info DispatchInfo)
	// OnDispatchDone runs after the last post-processor succeeded.
	OnDispatchDone func(info DispatchInfo)
	// OnDispatchError runs when resolution, a processor or the handler failed.
	OnDispatchError func(info DispatchInfo, err error)
}

// Merge combines two DispatchHooks. The hooks from other run after those of h.
func (h DispatchHooks) Merge(other DispatchHooks) DispatchHooks {
	return DispatchHooks{
		OnDispatchStart: chainInfoHooks(h.OnDispatchStart, other.OnDispatchStart),
		OnDispatchDone:  chainInfoHooks(h.OnDispatchDone, other.OnDispatchDone),
		OnDispatchError: chainErrorHooks(h.OnDispatchError, other.OnDispatchError),
	}
}

func chainInfoHooks(a, b func(DispatchInfo)) func(DispatchInfo) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info DispatchInfo) {
		a(info)
		b(info)
	}
}

func chainErrorHooks(a, b func(DispatchInfo, error)) func(DispatchInfo, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info DispatchInfo, err error) {
		a(info, err)
		b(info, err)
	}
}

func (h DispatchHooks) start(info DispatchInfo) {
	if h.OnDispatchStart != nil {
		h.OnDispatchStart(info)
	}
}

func (h DispatchHooks) finish(info DispatchInfo, err error) {
	info.Duration = time.Since(info.StartedAt)
	if err != nil {
		if h.OnDispatchError != nil {
			h.OnDispatchError(info, err)
		}
		return
	}
	if h.OnDispatchDone != nil {
		h.OnDispatchDone(info)
	}
}

// LoggingHooks returns hooks that log dispatch lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) DispatchHooks {
	fields := func(info DispatchInfo) loggingpkg.LogFields {
		return loggingpkg.LogFields{
			"message_id":     info.MessageID,
			"routing_key":    info.RoutingKey,
			"handler":        info.HandlerType,
			"delivery_count": info.DeliveryCount,
			"copy_count":     info.CopyCount,
		}
	}
	return DispatchHooks{
		OnDispatchStart: func(info DispatchInfo) {
			logger.Debug("Dispatch started", fields(info))
		},
		OnDispatchDone: func(info DispatchInfo) {
			f := fields(info)
			f["duration_ms"] = info.Duration.Milliseconds()
			logger.Debug("Dispatch completed", f)
		},
		OnDispatchError: func(info DispatchInfo, err error) {
			f := fields(info)
			f["duration_ms"] = info.Duration.Milliseconds()
			logger.Error("Dispatch failed", err, f)
		},
	}
}

// AlertingHooks returns hooks that call alertFunc on dispatch errors.
func AlertingHooks(alertFunc func(info DispatchInfo, err error)) DispatchHooks {
	return DispatchHooks{
		OnDispatchError: alertFunc,
	}
}
