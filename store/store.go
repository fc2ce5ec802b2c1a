//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package store implements the per-run shared state: a two-level map of
// node namespaces plus the reserved __inputs__ and __meta__ entries. Nodes
// never touch the store directly; they receive a View scoped to their own
// namespace for writes while reads may cross namespaces through template
// paths.
package store

import (
	"sort"
	"sync"

	"trpc.group/trpc-go/trpc-flow-go/diag"
	"trpc.group/trpc-go/trpc-flow-go/template"
)

// Reserved namespaces, read-only to nodes.
const (
	NamespaceInputs = "__inputs__"
	NamespaceMeta   = "__meta__"
)

// Keys of the __meta__ namespace.
const (
	MetaRunID     = "run_id"
	MetaStartedAt = "started_at"
	MetaVerbose   = "verbose"
)

// Redacted replaces sensitive input values in snapshots.
const Redacted = "[redacted]"

// IsReserved reports whether the namespace is one of the read-only entries.
func IsReserved(namespace string) bool {
	return namespace == NamespaceInputs || namespace == NamespaceMeta
}

// Store is the per-run shared state container. A single run owns its store
// exclusively; the mutex covers the bounded concurrency batch wrappers
// introduce, nothing more.
type Store struct {
	mu        sync.RWMutex
	data      map[string]map[string]any
	sensitive map[string]bool
}

// Option configures a new store.
type Option func(*Store)

// WithInputs seeds the __inputs__ namespace. Names listed in sensitive are
// redacted in snapshots.
func WithInputs(inputs map[string]any, sensitive []string) Option {
	return func(s *Store) {
		ns := s.data[NamespaceInputs]
		for k, v := range inputs {
			ns[k] = v
		}
		for _, name := range sensitive {
			s.sensitive[name] = true
		}
	}
}

// WithMeta seeds the __meta__ namespace.
func WithMeta(meta map[string]any) Option {
	return func(s *Store) {
		ns := s.data[NamespaceMeta]
		for k, v := range meta {
			ns[k] = v
		}
	}
}

// New builds an empty store with the reserved namespaces present.
func New(opts ...Option) *Store {
	s := &Store{
		data: map[string]map[string]any{
			NamespaceInputs: {},
			NamespaceMeta:   {},
		},
		sensitive: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the value at namespace/key.
func (s *Store) Get(namespace, key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.data[namespace]
	if !ok {
		return nil, false
	}
	v, ok := ns[key]
	return v, ok
}

// Has reports whether namespace/key holds a value.
func (s *Store) Has(namespace, key string) bool {
	_, ok := s.Get(namespace, key)
	return ok
}

// Set writes namespace/key. Reserved namespaces reject writes with a
// ScopeViolation. Views funnel node writes here after their own checks; the
// engine uses Set directly for error records and batch aggregation.
func (s *Store) Set(namespace, key string, value any) error {
	if IsReserved(namespace) {
		return diag.Newf(diag.KindScopeViolation,
			"namespace %q is read-only (attempted key %q)", namespace, key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.data[namespace]
	if !ok {
		ns = make(map[string]any)
		s.data[namespace] = ns
	}
	ns[key] = value
	return nil
}

// Delete removes namespace/key. Reserved namespaces reject deletes.
func (s *Store) Delete(namespace, key string) error {
	if IsReserved(namespace) {
		return diag.Newf(diag.KindScopeViolation,
			"namespace %q is read-only (attempted delete of %q)", namespace, key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ns, ok := s.data[namespace]; ok {
		delete(ns, key)
	}
	return nil
}

// Namespace returns a shallow copy of one namespace's keys.
func (s *Store) Namespace(namespace string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.data[namespace]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(ns))
	for k, v := range ns {
		out[k] = v
	}
	return out, true
}

// Namespaces lists namespaces in sorted order, reserved entries included.
func (s *Store) Namespaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for ns := range s.data {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Meta reads a __meta__ key.
func (s *Store) Meta(key string) (any, bool) {
	return s.Get(NamespaceMeta, key)
}

// RunID returns __meta__.run_id when present.
func (s *Store) RunID() string {
	v, _ := s.Meta(MetaRunID)
	id, _ := v.(string)
	return id
}

// ResolveRoot implements template.Source: a name binds to a node namespace
// when that node has written (reserved namespaces included), else to a
// workflow input value.
func (s *Store) ResolveRoot(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ns, ok := s.data[name]; ok {
		return ns, true
	}
	v, ok := s.data[NamespaceInputs][name]
	return v, ok
}

// Snapshot deep-copies the whole store, redacting sensitive inputs. Used for
// trace output and failure envelopes.
func (s *Store) Snapshot() map[string]map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]any, len(s.data))
	for ns, entries := range s.data {
		copied := make(map[string]any, len(entries))
		for k, v := range entries {
			if ns == NamespaceInputs && s.sensitive[k] {
				copied[k] = Redacted
				continue
			}
			copied[k] = deepCopy(v)
		}
		out[ns] = copied
	}
	return out
}

// SensitiveInputs lists redacted input names in sorted order.
func (s *Store) SensitiveInputs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sensitive))
	for name := range s.sensitive {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// deepCopy copies the JSON-compatible value shapes nodes write. Unknown
// types pass through by reference.
func deepCopy(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, item := range tv {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = deepCopy(item)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(tv))
		for k, item := range tv {
			out[k] = item
		}
		return out
	case []string:
		out := make([]string, len(tv))
		copy(out, tv)
		return out
	default:
		return v
	}
}

var _ template.Source = (*Store)(nil)
