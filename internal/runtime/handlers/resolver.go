package handlers

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	"github.com/drblury/busflow/internal/runtime/filter"
	jsoncodec "github.com/drblury/busflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/busflow/internal/runtime/logging"
	propspkg "github.com/drblury/busflow/internal/runtime/properties"
)

// MessageHandler processes a single decoded message of type T.
type MessageHandler[T any] interface {
	Handle(ctx context.Context, mc *MessageContext[T]) error
}

// HandlerFunc adapts a function to MessageHandler.
type HandlerFunc[T any] func(ctx context.Context, mc *MessageContext[T]) error

// Handle calls f.
func (f HandlerFunc[T]) Handle(ctx context.Context, mc *MessageContext[T]) error {
	return f(ctx, mc)
}

// MessageSubscription is a registered (message type, handler type, filter)
// triple together with the typed closures that decode and dispatch it.
type MessageSubscription struct {
	MessageType string
	HandlerType string
	Filter      filter.BuiltFilter

	order int
	bind  func() (*ResolvedHandler, error)
}

// RoutingKey is the key the subscription is registered under.
func (s MessageSubscription) RoutingKey() string { return s.Filter.RoutingKey() }

// ResolvedHandler is a freshly instantiated handler bound to its message type.
type ResolvedHandler struct {
	Subscription MessageSubscription

	newContext func(args MessageReceivedEventArgs, ops Operations, logger loggingpkg.ServiceLogger) (Context, error)
	handle     func(ctx context.Context, mc Context) error
}

// NewContext decodes the inbound body into the handler's message type.
func (h *ResolvedHandler) NewContext(args MessageReceivedEventArgs, ops Operations, logger loggingpkg.ServiceLogger) (Context, error) {
	return h.newContext(args, ops, logger)
}

// Handle invokes the handler with a context created by NewContext.
func (h *ResolvedHandler) Handle(ctx context.Context, mc Context) error {
	return h.handle(ctx, mc)
}

// MessageHandlerResolver maps routing keys to handler factories. Subscriptions
// are registered before Initialize; afterwards the table is read-only.
type MessageHandlerResolver struct {
	mu          sync.RWMutex
	byKey       map[string][]*MessageSubscription
	ordered     []*MessageSubscription
	initialized bool
}

// NewMessageHandlerResolver returns an empty resolver.
func NewMessageHandlerResolver() *MessageHandlerResolver {
	return &MessageHandlerResolver{byKey: make(map[string][]*MessageSubscription)}
}

// SubscribeToMessage registers factory as the handler for messages of type T
// matching f. The factory is invoked once per resolved message.
func SubscribeToMessage[T any, H MessageHandler[T]](r *MessageHandlerResolver, f *filter.BuiltFilter, factory func() H) error {
	if f == nil {
		return errspkg.ErrFilterRequired
	}
	if err := f.Validate(); err != nil {
		return err
	}
	if factory == nil {
		return errspkg.ErrHandlerFactoryRequired
	}

	sub := &MessageSubscription{
		MessageType: f.MessageType(),
		HandlerType: reflect.TypeFor[H]().String(),
		Filter:      *f,
	}
	sub.bind = func() (*ResolvedHandler, error) {
		handler := factory()
		if isNil(handler) {
			return nil, errspkg.ErrNilMessageHandler
		}
		return &ResolvedHandler{
			Subscription: *sub,
			newContext: func(args MessageReceivedEventArgs, ops Operations, logger loggingpkg.ServiceLogger) (Context, error) {
				mc := &MessageContext[T]{MessageContextBase: NewMessageContextBase(args, sub.MessageType, ops, logger)}
				if len(args.Body) > 0 {
					decoded, err := jsoncodec.DecodeBody[T](args.Body)
					if err != nil {
						return nil, fmt.Errorf("decode %s body: %w", sub.MessageType, err)
					}
					mc.Message = decoded
				}
				return mc, nil
			},
			handle: func(ctx context.Context, mc Context) error {
				typed, ok := mc.(*MessageContext[T])
				if !ok {
					return fmt.Errorf("busflow: context %T does not carry %s", mc, sub.MessageType)
				}
				return handler.Handle(ctx, typed)
			},
		}, nil
	}
	return r.add(sub)
}

func (r *MessageHandlerResolver) add(sub *MessageSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return errspkg.ErrResolverInitialized
	}
	key := sub.RoutingKey()
	for _, existing := range r.byKey[key] {
		if existing.Filter.MessageProperties().Equal(sub.Filter.MessageProperties()) {
			return fmt.Errorf("%w: %q (%s)", errspkg.ErrDuplicateSubscription, key, existing.HandlerType)
		}
	}
	sub.order = len(r.ordered)
	r.byKey[key] = append(r.byKey[key], sub)
	r.ordered = append(r.ordered, sub)
	return nil
}

// Initialize seals the table. Candidates sharing a routing key are ordered
// most specific first, ties in registration order.
func (r *MessageHandlerResolver) Initialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return errspkg.ErrResolverInitialized
	}
	for _, candidates := range r.byKey {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Filter.Specificity() > candidates[j].Filter.Specificity()
		})
	}
	r.initialized = true
	return nil
}

// Initialized reports whether Initialize has run.
func (r *MessageHandlerResolver) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}

// Resolve instantiates the handler registered for routingKey. When props is
// non-nil only subscriptions whose filter properties are all present in props
// qualify.
func (r *MessageHandlerResolver) Resolve(routingKey string, props propspkg.Properties) (*ResolvedHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.initialized {
		return nil, errspkg.ErrResolverNotInitialized
	}
	candidates := r.byKey[routingKey]
	if len(candidates) == 0 {
		return nil, &errspkg.MessageHandlerNotFoundError{RoutingKey: routingKey, Err: errspkg.ErrNoMessageHandler}
	}

	var selected *MessageSubscription
	if props == nil {
		selected = candidates[0]
	} else {
		for _, c := range candidates {
			if c.Filter.Matches(props) {
				selected = c
				break
			}
		}
	}
	if selected == nil {
		return nil, &errspkg.MessageHandlerNotFoundError{RoutingKey: routingKey, Err: errspkg.ErrNoMatchingSubscription}
	}

	resolved, err := selected.bind()
	if err != nil {
		return nil, &errspkg.MessageHandlerNotFoundError{RoutingKey: routingKey, Err: err}
	}
	return resolved, nil
}

// GetMessageSubscriptions returns the registered subscriptions in registration order.
func (r *MessageHandlerResolver) GetMessageSubscriptions() []MessageSubscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]MessageSubscription, 0, len(r.ordered))
	for _, sub := range r.ordered {
		out = append(out, *sub)
	}
	return out
}

// GetMessageHandlerMappings returns the admin-side view of every subscription.
func (r *MessageHandlerResolver) GetMessageHandlerMappings() []filter.MessageHandlerMapping {
	subs := r.GetMessageSubscriptions()
	out := make([]filter.MessageHandlerMapping, 0, len(subs))
	for _, sub := range subs {
		out = append(out, filter.MessageHandlerMapping{
			MessageType:        sub.MessageType,
			MessageHandlerType: sub.HandlerType,
			Filter:             sub.Filter,
		})
	}
	return out
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
