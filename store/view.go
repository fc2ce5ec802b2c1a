//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package store

import (
	"sort"

	"trpc.group/trpc-go/trpc-flow-go/diag"
	"trpc.group/trpc-go/trpc-flow-go/template"
)

// View is a store handle scoped to one owner namespace. Reads may cross
// namespaces through template paths; writes land only in the owner's
// namespace. A view is a cheap value carrying the owner id, the materialized
// params for the current visit, and, for batch items, a scratch overlay that
// keeps per-item writes out of the main store.
type View struct {
	store   *Store
	owner   string
	params  map[string]any
	allowed map[string]bool
	scratch map[string]any
}

// View returns a handle scoped to owner for writes.
func (s *Store) View(owner string) *View {
	return &View{store: s, owner: owner}
}

// ScratchView returns a view whose writes collect in a private overlay
// instead of the store. Batch wrappers hand one to each item invocation and
// harvest the overlay afterwards.
func (s *Store) ScratchView(owner string) *View {
	return &View{store: s, owner: owner, scratch: make(map[string]any)}
}

// Owner returns the namespace this view writes to.
func (v *View) Owner() string {
	return v.owner
}

// Params returns the materialized params for the current visit. The
// template-aware wrapper fills them immediately before prep.
func (v *View) Params() map[string]any {
	return v.params
}

// Param reads one materialized param.
func (v *View) Param(key string) (any, bool) {
	val, ok := v.params[key]
	return val, ok
}

// WithParams derives a view carrying the given materialized params.
func (v *View) WithParams(params map[string]any) *View {
	out := *v
	out.params = params
	return &out
}

// WithAllowedWrites derives a view that additionally rejects writes outside
// the declared key set. An empty declaration leaves writes unconstrained.
func (v *View) WithAllowedWrites(keys []string) *View {
	if len(keys) == 0 {
		return v
	}
	allowed := make(map[string]bool, len(keys))
	for _, k := range keys {
		allowed[k] = true
	}
	out := *v
	out.allowed = allowed
	return &out
}

// Read resolves a dotted/indexed path. The first segment may name any
// namespace or workflow input; the view's own pending scratch writes are
// visible under the owner id.
func (v *View) Read(path string) (any, error) {
	p, err := template.ParsePath(path)
	if err != nil {
		return nil, diag.Wrap(diag.KindUnresolvedTemplate, err, "bad read path %q", path)
	}
	return p.Resolve(v)
}

// Write stores a value under the owner's namespace. Dotted keys, reserved
// owners and keys outside a declared write set are scope violations.
func (v *View) Write(key string, value any) error {
	if !template.IsIdentifier(key) {
		return diag.Newf(diag.KindScopeViolation,
			"node %q attempted write with key %q outside its namespace", v.owner, key)
	}
	if IsReserved(v.owner) {
		return diag.Newf(diag.KindScopeViolation,
			"namespace %q is read-only (attempted key %q)", v.owner, key)
	}
	if v.allowed != nil && !v.allowed[key] {
		return diag.Newf(diag.KindScopeViolation,
			"node %q attempted write of undeclared key %q", v.owner, key)
	}
	if v.scratch != nil {
		v.scratch[key] = value
		return nil
	}
	return v.store.Set(v.owner, key, value)
}

// Has reports whether the owner namespace holds key.
func (v *View) Has(key string) bool {
	if v.scratch != nil {
		if _, ok := v.scratch[key]; ok {
			return true
		}
	}
	return v.store.Has(v.owner, key)
}

// Delete removes key from the owner namespace.
func (v *View) Delete(key string) error {
	if v.scratch != nil {
		delete(v.scratch, key)
		return nil
	}
	return v.store.Delete(v.owner, key)
}

// Keys lists the owner namespace keys in sorted order.
func (v *View) Keys() []string {
	merged := v.ownerData()
	out := make([]string, 0, len(merged))
	for k := range merged {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Data returns a copy of the owner namespace, scratch overlay included, for
// nodes that expect a plain map. Mutating the copy does not write through.
func (v *View) Data() map[string]any {
	return v.ownerData()
}

// Scratch returns a copy of the scratch overlay, or nil for regular views.
func (v *View) Scratch() map[string]any {
	if v.scratch == nil {
		return nil
	}
	out := make(map[string]any, len(v.scratch))
	for k, val := range v.scratch {
		out[k] = val
	}
	return out
}

func (v *View) ownerData() map[string]any {
	out, ok := v.store.Namespace(v.owner)
	if !ok {
		out = make(map[string]any)
	}
	for k, val := range v.scratch {
		out[k] = val
	}
	return out
}

// ResolveRoot implements template.Source. The owner namespace reflects
// pending scratch writes; everything else defers to the store.
func (v *View) ResolveRoot(name string) (any, bool) {
	if v.scratch != nil && name == v.owner {
		return v.ownerData(), true
	}
	return v.store.ResolveRoot(name)
}

var _ template.Source = (*View)(nil)
