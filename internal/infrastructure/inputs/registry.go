package inputs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// GlobalRegistry is where input packages register their factory in init().
// The server imports them for that side effect.
var GlobalRegistry = NewRegistry()

// Registry holds registered input factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory for an input type, replacing any previous one.
func (r *Registry) Register(factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[factory.Name()] = factory
}

func (r *Registry) factory(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Create validates cfg and builds a MessageInput for the given type.
func (r *Registry) Create(name string, cfg Config, buffer InputBuffer, logger zerolog.Logger) (MessageInput, error) {
	factory, ok := r.factory(name)
	if !ok {
		return nil, fmt.Errorf("unknown input type: %s", name)
	}
	if err := r.ValidateConfig(name, cfg); err != nil {
		return nil, err
	}
	return factory.Create(cfg, buffer, logger.With().Str("input", name).Logger())
}

// ValidateConfig checks required fields from the factory's ConfigSpec, then
// runs the factory's own ValidateConfig if it has one. Unknown types pass.
func (r *Registry) ValidateConfig(typeName string, cfg Config) error {
	factory, ok := r.factory(typeName)
	if !ok {
		return nil
	}
	if missing := factory.ConfigSpec().Missing(cfg); len(missing) > 0 {
		return fmt.Errorf("%s input: missing %s", typeName, strings.Join(missing, ", "))
	}
	if v, ok := factory.(interface{ ValidateConfig(Config) error }); ok {
		return v.ValidateConfig(cfg)
	}
	return nil
}

// ListRegistered returns all registered input type names, sorted.
func (r *Registry) ListRegistered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetTypeInfo returns the config spec for the given input type. ok is false if the type is not registered.
func (r *Registry) GetTypeInfo(name string) (info InputTypeInfo, ok bool) {
	factory, ok := r.factory(name)
	if !ok {
		return InputTypeInfo{}, false
	}
	return factory.ConfigSpec(), true
}

// AllTypesInfo returns config specs for all registered input types, sorted by type.
func (r *Registry) AllTypesInfo() []InputTypeInfo {
	names := r.ListRegistered()
	out := make([]InputTypeInfo, 0, len(names))
	for _, name := range names {
		if info, ok := r.GetTypeInfo(name); ok {
			out = append(out, info)
		}
	}
	return out
}

// StartAll creates and starts one input per spec. HTTP endpoint inputs
// without their own listener are handed to mount. On error every input
// already started is stopped again.
func (r *Registry) StartAll(ctx context.Context, specs []InputSpec, buffer InputBuffer, logger zerolog.Logger, mount func(path string, h http.Handler)) ([]MessageInput, error) {
	started := make([]MessageInput, 0, len(specs))
	for _, spec := range specs {
		cfg := spec.ConfigWithDescription()
		input, err := r.Create(spec.Type, cfg, buffer, logger)
		if err == nil {
			err = input.Start(ctx)
		}
		if err != nil {
			return nil, errors.Join(fmt.Errorf("start %s input %q: %w", spec.Type, spec.Description, err), StopAll(started))
		}
		started = append(started, input)

		ep, ok := input.(HTTPEndpointInput)
		if ok && mount != nil && cfg.String("listen") == "" {
			mount(ep.Path(), ep.Handler())
		}
	}
	return started, nil
}

// StopAll stops every input and joins their errors.
func StopAll(running []MessageInput) error {
	var errs []error
	for _, in := range running {
		if err := in.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
