// Package processors keeps the ordered pre- and post-processors that run
// around every handler invocation.
package processors

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	"github.com/drblury/busflow/internal/runtime/handlers"
)

// MessageProcessor runs against the context of every dispatched message.
type MessageProcessor interface {
	Process(ctx context.Context, mc handlers.Context) error
}

// ProcessorFunc adapts a function to MessageProcessor.
type ProcessorFunc func(ctx context.Context, mc handlers.Context) error

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, mc handlers.Context) error { return f(ctx, mc) }

type registration struct {
	typ     reflect.Type
	factory func() MessageProcessor
}

// MessageProcessorResolver resolves registered processor factories into
// instances once, at Initialize.
type MessageProcessorResolver struct {
	mu          sync.RWMutex
	pre         []registration
	post        []registration
	preInst     []MessageProcessor
	postInst    []MessageProcessor
	byType      map[reflect.Type]MessageProcessor
	initialized bool
}

// NewMessageProcessorResolver returns an empty resolver.
func NewMessageProcessorResolver() *MessageProcessorResolver {
	return &MessageProcessorResolver{byType: make(map[reflect.Type]MessageProcessor)}
}

// AddMessagePreProcessor registers a processor run before the handler.
func AddMessagePreProcessor[P MessageProcessor](r *MessageProcessorResolver, factory func() P) error {
	return r.add(&r.pre, reflect.TypeFor[P](), wrap(factory))
}

// AddMessagePostProcessor registers a processor run after the handler.
func AddMessagePostProcessor[P MessageProcessor](r *MessageProcessorResolver, factory func() P) error {
	return r.add(&r.post, reflect.TypeFor[P](), wrap(factory))
}

func wrap[P MessageProcessor](factory func() P) func() MessageProcessor {
	if factory == nil {
		return nil
	}
	return func() MessageProcessor { return factory() }
}

func (r *MessageProcessorResolver) add(list *[]registration, typ reflect.Type, factory func() MessageProcessor) error {
	if factory == nil {
		return errspkg.ErrProcessorFactoryNeeded
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return errspkg.ErrResolverInitialized
	}
	*list = append(*list, registration{typ: typ, factory: factory})
	return nil
}

// Initialize instantiates every registered processor in registration order.
func (r *MessageProcessorResolver) Initialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return errspkg.ErrResolverInitialized
	}

	build := func(regs []registration) ([]MessageProcessor, error) {
		out := make([]MessageProcessor, 0, len(regs))
		for _, reg := range regs {
			p := reg.factory()
			if p == nil {
				return nil, fmt.Errorf("%w: %s returned nil", errspkg.ErrProcessorFactoryNeeded, reg.typ)
			}
			out = append(out, p)
			if _, seen := r.byType[reg.typ]; !seen {
				r.byType[reg.typ] = p
			}
		}
		return out, nil
	}

	var err error
	if r.preInst, err = build(r.pre); err != nil {
		return err
	}
	if r.postInst, err = build(r.post); err != nil {
		return err
	}
	r.initialized = true
	return nil
}

// Initialized reports whether Initialize has succeeded.
func (r *MessageProcessorResolver) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}

// GetMessagePreProcessors returns the pre-processors in registration order.
func (r *MessageProcessorResolver) GetMessagePreProcessors() []MessageProcessor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]MessageProcessor(nil), r.preInst...)
}

// GetMessagePostProcessors returns the post-processors in registration order.
func (r *MessageProcessorResolver) GetMessagePostProcessors() []MessageProcessor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]MessageProcessor(nil), r.postInst...)
}

// Resolve returns the first instance registered as P.
func Resolve[P MessageProcessor](r *MessageProcessorResolver) (P, error) {
	var zero P
	typ := reflect.TypeFor[P]()

	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.initialized {
		return zero, errspkg.ErrResolverNotInitialized
	}
	p, ok := r.byType[typ]
	if !ok {
		return zero, &errspkg.MessageProcessorNotFoundError{ProcessorType: typ.String()}
	}
	return p.(P), nil
}

// RunPre runs every pre-processor sequentially, stopping at the first error.
func (r *MessageProcessorResolver) RunPre(ctx context.Context, mc handlers.Context) error {
	return run(ctx, r.GetMessagePreProcessors(), mc)
}

// RunPost runs every post-processor sequentially, stopping at the first error.
func (r *MessageProcessorResolver) RunPost(ctx context.Context, mc handlers.Context) error {
	return run(ctx, r.GetMessagePostProcessors(), mc)
}

func run(ctx context.Context, list []MessageProcessor, mc handlers.Context) error {
	for _, p := range list {
		if err := p.Process(ctx, mc); err != nil {
			return err
		}
	}
	return nil
}
