// Package operations holds the signal-processing transforms a workflow node
// can run and the registry that builds them from stored configuration.
package operations

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"tsflow/api/services/dag"
)

// Constructor builds an operation from its raw JSON configuration. It fails
// when the configuration does not satisfy the operation's preconditions.
type Constructor func(config json.RawMessage) (dag.Operation, error)

// Registry maps operation-type identifiers to constructors. It implements
// dag.Operations.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry returns a registry with every built-in operation registered.
// Adding an operation means adding a file with its config type and a line here.
func NewRegistry() *Registry {
	r := &Registry{ctors: make(map[string]Constructor)}
	r.ctors[TypeFFT] = typed(NewFFT)
	r.ctors[TypeFilter] = typed(NewFilter)
	r.ctors[TypeUnitConversion] = typed(NewUnitConversion)
	r.ctors[TypeTimeShift] = typed(NewTimeShift)
	return r
}

// Register adds a constructor under name. Names are unique.
func (r *Registry) Register(name string, c Constructor) error {
	if name == "" || c == nil {
		return fmt.Errorf("operation name and constructor are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ctors[name]; ok {
		return fmt.Errorf("operation type already registered: %s", name)
	}
	r.ctors[name] = c
	return nil
}

// Types returns the registered operation types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Has reports whether operationType is registered.
func (r *Registry) Has(operationType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ctors[operationType]
	return ok
}

// Prepare validates config for operationType and returns the ready operation.
func (r *Registry) Prepare(operationType string, config json.RawMessage) (dag.Operation, error) {
	r.mu.RLock()
	c, ok := r.ctors[operationType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown operation type: %s (available: %v)", operationType, r.Types())
	}
	return c(config)
}

// typed adapts a constructor over a concrete config type.
func typed[C any, O dag.Operation](build func(C) (O, error)) Constructor {
	return func(raw json.RawMessage) (dag.Operation, error) {
		var cfg C
		if err := decodeConfig(raw, &cfg); err != nil {
			return nil, err
		}
		op, err := build(cfg)
		if err != nil {
			return nil, err
		}
		return op, nil
	}
}
