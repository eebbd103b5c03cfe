package adapter

import (
	"fmt"
	"log/slog"
	"sync"
)

// Registry resolves job adapters by kind. Registration happens at startup;
// lookups are concurrent with running executions.
type Registry struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	adapters map[string]Adapter
	invokers map[string]Invoker
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger,
		adapters: make(map[string]Adapter),
		invokers: make(map[string]Invoker),
	}
}

func (r *Registry) Register(kind string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[kind]; exists {
		r.logger.Warn("Overwriting registered adapter", "kind", kind)
	}

	r.adapters[kind] = a
}

func (r *Registry) Resolve(kind string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	return a, nil
}

func (r *Registry) RegisterInvoker(kind string, inv Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.invokers[kind]; exists {
		r.logger.Warn("Overwriting registered invoker", "kind", kind)
	}

	r.invokers[kind] = inv
}

func (r *Registry) ResolveInvoker(kind string) (Invoker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, ok := r.invokers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	return inv, nil
}

// Kinds returns the registered adapter kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.adapters))
	for kind := range r.adapters {
		kinds = append(kinds, kind)
	}

	return kinds
}
