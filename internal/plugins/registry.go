// Package plugins maps execution strategy identifiers to strategy
// implementations.
package plugins

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cochaviz/isoforge/internal/spec"
	"github.com/cochaviz/isoforge/internal/strategies/boottest"
	"github.com/cochaviz/isoforge/internal/strategies/livecd"
)

var (
	// ErrDuplicateStrategy is returned when an identifier is registered twice.
	ErrDuplicateStrategy = errors.New("strategy already registered")
	// ErrInvalidStrategy is returned for nil strategies or empty identifiers.
	ErrInvalidStrategy = errors.New("invalid strategy")
)

// Registry holds strategies keyed by identifier. It is populated once and
// only read afterwards.
type Registry struct {
	strategies map[string]spec.Strategy
	order      []string
}

// NewRegistry constructs a registry containing strategies.
func NewRegistry(strategies ...spec.Strategy) (*Registry, error) {
	r := &Registry{strategies: make(map[string]spec.Strategy)}
	for _, strategy := range strategies {
		if err := r.Register(strategy); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Default returns a registry with the built-in strategies.
func Default() *Registry {
	r, err := NewRegistry(livecd.New(), boottest.New())
	if err != nil {
		panic(fmt.Sprintf("built-in strategies: %v", err))
	}
	return r
}

// Register adds strategy under its identifier.
func (r *Registry) Register(strategy spec.Strategy) error {
	if strategy == nil {
		return fmt.Errorf("%w: nil", ErrInvalidStrategy)
	}
	id := strings.TrimSpace(strategy.ID())
	if id == "" {
		return fmt.Errorf("%w: empty identifier", ErrInvalidStrategy)
	}
	if _, exists := r.strategies[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateStrategy, id)
	}
	r.strategies[id] = strategy
	r.order = append(r.order, id)
	return nil
}

// Lookup returns the strategy registered under id. A missing identifier is
// reported through ok, never as an error.
func (r *Registry) Lookup(id string) (spec.Strategy, bool) {
	if r == nil {
		return nil, false
	}
	strategy, ok := r.strategies[strings.TrimSpace(id)]
	return strategy, ok
}

// IDs lists the registered identifiers in sorted order.
func (r *Registry) IDs() []string {
	ids := append([]string(nil), r.order...)
	sort.Strings(ids)
	return ids
}

// Strategies lists the registered strategies sorted by identifier.
func (r *Registry) Strategies() []spec.Strategy {
	ids := r.IDs()
	out := make([]spec.Strategy, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.strategies[id])
	}
	return out
}
