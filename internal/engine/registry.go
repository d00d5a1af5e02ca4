package engine

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a fresh engine instance with its default parameters.
type Factory func() Engine

var (
	factories   = make(map[string]Factory)
	factoriesMu sync.RWMutex
)

// Register makes an engine type available under its ID. Engine packages
// call this from init(); a duplicate ID means two packages claim the same
// identity, which is a configuration bug we fail fast on.
func Register(id string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	if _, exists := factories[id]; exists {
		panic(fmt.Errorf("engine %s already registered", id))
	}
	factories[id] = factory
}

// New instantiates the engine registered under id and applies params.
func New(id string, params map[string]float64) (Engine, error) {
	factoriesMu.RLock()
	factory, exists := factories[id]
	factoriesMu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("engine %s not registered (known: %v)", id, Registered())
	}

	e := factory()
	if c, ok := e.(Configurable); ok && len(params) > 0 {
		if err := c.Configure(params); err != nil {
			return nil, fmt.Errorf("configure engine %s: %w", id, err)
		}
	}
	if v, ok := e.(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("validate engine %s: %w", id, err)
		}
	}
	return e, nil
}

// Registered lists registered engine IDs in stable order.
func Registered() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	ids := make([]string, 0, len(factories))
	for id := range factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
