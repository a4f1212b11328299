package transport

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/ThreeDotsLabs/watermill"

	errspkg "github.com/drblury/busflow/internal/runtime/errors"
)

type registration struct {
	build Builder
	caps  Capabilities
}

// Registry maps PubSubSystem names to builders and their capabilities.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

// DefaultRegistry holds the transports that registered themselves from init.
var DefaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Register adds or replaces the builder selected by name.
func (r *Registry) Register(name string, build Builder, caps Capabilities) {
	if caps.Name == "" {
		caps.Name = name
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = registration{build: build, caps: caps}
}

// Capabilities returns the registered capabilities of name. Unknown names
// yield capabilities carrying only the name.
func (r *Registry) Capabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.caps
	}
	return Capabilities{Name: name}
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.entries))
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Build validates the subscription in cfg and runs the builder selected by
// cfg.GetPubSubSystem. A builder returning only half a transport is an error;
// the half that was built is closed.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	if cfg == nil {
		return Transport{}, errspkg.ErrConfigRequired
	}
	name := cfg.GetPubSubSystem()

	r.mu.RLock()
	entry, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return Transport{}, fmt.Errorf("%w: %q (registered: %v)", errspkg.ErrUnknownTransport, name, r.Names())
	}
	if err := cfg.GetSubscription().Validate(); err != nil {
		return Transport{}, fmt.Errorf("%s transport: %w", name, err)
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	tr, err := entry.build(ctx, cfg, logger.With(watermill.LogFields{"transport": name}))
	if err != nil {
		return Transport{}, fmt.Errorf("build %s transport: %w", name, err)
	}
	switch {
	case tr.Publisher == nil && tr.Subscriber == nil:
		return Transport{}, fmt.Errorf("build %s transport: %w", name, errors.Join(errspkg.ErrPublisherRequired, errspkg.ErrSubscriberRequired))
	case tr.Publisher == nil:
		return Transport{}, fmt.Errorf("build %s transport: %w", name, errors.Join(errspkg.ErrPublisherRequired, tr.Subscriber.Close()))
	case tr.Subscriber == nil:
		return Transport{}, fmt.Errorf("build %s transport: %w", name, errors.Join(errspkg.ErrSubscriberRequired, tr.Publisher.Close()))
	}
	if tr.Capabilities.Name == "" {
		tr.Capabilities = entry.caps
	}
	return tr, nil
}

// Register adds a builder to the default registry.
func Register(name string, build Builder, caps Capabilities) {
	DefaultRegistry.Register(name, build, caps)
}

// Build creates a transport from the default registry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}

// GetCapabilities returns the capabilities registered for name in the
// default registry.
func GetCapabilities(name string) Capabilities {
	return DefaultRegistry.Capabilities(name)
}
