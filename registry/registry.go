//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package registry maintains the catalog of node types a workflow document
// may reference. Each type pairs a factory with its declared interface; the
// validator checks documents against the interface and the compiler calls
// the factory. Hosts populate the registry at startup; it must not change
// once a run begins.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"trpc.group/trpc-go/trpc-flow-go/node"
)

// Factory builds a fresh node instance from its raw document params.
type Factory func(params map[string]any) (node.Node, error)

// entry pairs a factory with the normalized declared interface.
type entry struct {
	factory Factory
	iface   node.Interface
}

// Registry is a thread-safe catalog of node types.
type Registry struct {
	mu    sync.RWMutex
	types map[string]entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{types: make(map[string]entry)}
}

// Register adds a node type. The name must be non-empty and unused.
func (r *Registry) Register(name string, factory Factory, iface node.Interface) error {
	if name == "" {
		return fmt.Errorf("node type name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("node type %q: factory cannot be nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[name]; exists {
		return fmt.Errorf("node type %q already registered", name)
	}
	r.types[name] = entry{factory: factory, iface: iface.Normalize()}
	return nil
}

// MustRegister is Register that panics on error, for init-time wiring.
func (r *Registry) MustRegister(name string, factory Factory, iface node.Interface) {
	if err := r.Register(name, factory, iface); err != nil {
		panic(err)
	}
}

// Lookup returns the factory and declared interface of a type.
func (r *Registry) Lookup(name string) (Factory, node.Interface, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.types[name]
	if !ok {
		return nil, node.Interface{}, fmt.Errorf("unknown node type %q", name)
	}
	return e.factory, e.iface, nil
}

// Interface returns just the declared interface of a type.
func (r *Registry) Interface(name string) (node.Interface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.types[name]
	return e.iface, ok
}

// Has reports whether the type is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[name]
	return ok
}

// List returns the registered type names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister removes a type. Mainly for testing purposes.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.types, name)
}

// Clear removes all types. Mainly for testing purposes.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = make(map[string]entry)
}

// defaultRegistry backs the package-level functions.
var defaultRegistry = New()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a node type to the default registry.
func Register(name string, factory Factory, iface node.Interface) error {
	return defaultRegistry.Register(name, factory, iface)
}

// MustRegister adds a node type to the default registry, panicking on error.
func MustRegister(name string, factory Factory, iface node.Interface) {
	defaultRegistry.MustRegister(name, factory, iface)
}

// Lookup queries the default registry.
func Lookup(name string) (Factory, node.Interface, error) {
	return defaultRegistry.Lookup(name)
}

// Has queries the default registry.
func Has(name string) bool {
	return defaultRegistry.Has(name)
}

// List lists the default registry's type names.
func List() []string {
	return defaultRegistry.List()
}
