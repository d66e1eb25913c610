package ec

import (
	"slices"
	"sync"

	"github.com/n-ando/OpenRTM-aist-sub001/rterr"
)

// Config carries what a factory needs to build a context.
type Config struct {
	Name    string
	Rate    float64
	Options []Option
}

// Factory builds a context of one kind.
type Factory func(cfg Config) (ExecutionContext, error)

// Registry maps context kind names to factories. The zero value is not
// usable; use NewRegistry.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the Periodic and EventDriven kinds.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.factories[KindPeriodic] = func(cfg Config) (ExecutionContext, error) {
		rate := cfg.Rate
		if rate == 0 {
			rate = DefaultRate
		}
		return NewPeriodic(cfg.Name, rate, cfg.Options...)
	}
	r.factories[KindEventDriven] = func(cfg Config) (ExecutionContext, error) {
		return NewEventDriven(cfg.Name, cfg.Options...), nil
	}
	return r
}

// Register adds a factory. Registering an existing kind is a precondition error.
func (r *Registry) Register(kind string, f Factory) error {
	if kind == "" || f == nil {
		return rterr.BadParameter("register", kind, "kind and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[kind]; exists {
		return rterr.Precondition("register", kind, "execution context kind already registered")
	}
	r.factories[kind] = f
	return nil
}

// New builds a context of the given kind.
func (r *Registry) New(kind string, cfg Config) (ExecutionContext, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, rterr.NotFound("create", kind, "unknown execution context kind")
	}
	return f(cfg)
}

// Kinds lists the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}
