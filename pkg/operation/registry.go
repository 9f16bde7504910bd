package operation

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds an operation instance from manifest params. Factories
// validate their params and fail fast on anything they do not understand.
type Factory func(params Params) (Operation, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes an operation available under a name. It panics on an
// empty name, nil factory, or duplicate registration, mirroring how
// database/sql treats driver registration: both are programmer errors.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if name == "" {
		panic("operation: Register with empty name")
	}
	if factory == nil {
		panic("operation: Register with nil factory for " + name)
	}
	if _, dup := registry[name]; dup {
		panic("operation: Register called twice for " + name)
	}
	registry[name] = factory
}

// New resolves a registered operation by name and builds it.
func New(name string, params Params) (Operation, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown operation %q (registered: %v)", name, Names())
	}
	op, err := factory(params)
	if err != nil {
		return nil, fmt.Errorf("operation %q: %w", name, err)
	}
	return op, nil
}

// Names lists registered operation names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
