//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package graph holds the executable form of a workflow: compiled node
// entries with their action routing, the wrapper chain applied around every
// node, and the executor that walks the graph against a shared store.
package graph

import (
	"fmt"

	"trpc.group/trpc-go/trpc-flow-go/node"
	"trpc.group/trpc-go/trpc-flow-go/template"
)

// BatchSpec is a node's batch directive: iterate the inner node over the
// source array with the per-item value bound under Key.
type BatchSpec struct {
	// Key is the param name each item is bound to.
	Key string
	// Source is either a template path string into the store or a literal
	// array.
	Source any
	// Concurrency bounds parallel item invocations. 1 means sequential.
	Concurrency int
	// ContinueOnError records per-item failures instead of failing the batch.
	ContinueOnError bool
}

// Entry is one compiled node: the instantiated implementation, its
// normalized interface with per-node overrides applied, the raw params still
// carrying template strings, and the action routing table.
type Entry struct {
	ID        string
	Type      string
	Node      node.Node
	Interface node.Interface
	Params    map[string]any
	Batch     *BatchSpec

	successors map[string]string
}

// Successor returns the target mapped to action.
func (e *Entry) Successor(action string) (string, bool) {
	target, ok := e.successors[action]
	return target, ok
}

// Successors returns a copy of the action routing table.
func (e *Entry) Successors() map[string]string {
	out := make(map[string]string, len(e.successors))
	for action, target := range e.successors {
		out[action] = target
	}
	return out
}

// Graph is a compiled workflow: entries indexed by id, document order
// preserved, the start node, and the compiled outputs mapping. Construction
// goes through Add/Connect/SetStart and ends with Finalize.
type Graph struct {
	entries map[string]*Entry
	order   []string
	start   string
	outputs map[string]*template.Template

	// guaranteed maps each node id to the set of node ids that complete on
	// every path reaching it. Computed by Finalize; consumed by static
	// template analysis.
	guaranteed map[string]map[string]bool
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		entries: make(map[string]*Entry),
		outputs: make(map[string]*template.Template),
	}
}

// Add registers a compiled entry. Ids must be unique.
func (g *Graph) Add(e *Entry) error {
	if e == nil || e.ID == "" {
		return fmt.Errorf("graph entry requires an id")
	}
	if _, exists := g.entries[e.ID]; exists {
		return fmt.Errorf("duplicate node id %q", e.ID)
	}
	if e.successors == nil {
		e.successors = make(map[string]string)
	}
	e.Interface = e.Interface.Normalize()
	g.entries[e.ID] = e
	g.order = append(g.order, e.ID)
	return nil
}

// Connect maps (from, action) to target. Mapping the same pair twice is
// ambiguous routing: fan-out is not supported.
func (g *Graph) Connect(from, action, to string) error {
	src, ok := g.entries[from]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, from)
	}
	if _, ok := g.entries[to]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, to)
	}
	if action == "" {
		action = node.ActionDefault
	}
	if prev, mapped := src.successors[action]; mapped {
		return fmt.Errorf("%w: node %q action %q maps to both %q and %q",
			ErrAmbiguousRouting, from, action, prev, to)
	}
	src.successors[action] = to
	return nil
}

// SetStart names the entry node.
func (g *Graph) SetStart(id string) error {
	if _, ok := g.entries[id]; !ok {
		return fmt.Errorf("%w: start node %q", ErrUnknownNode, id)
	}
	g.start = id
	return nil
}

// SetOutput compiles one outputs mapping entry.
func (g *Graph) SetOutput(name, expr string) error {
	t, err := template.Parse(expr)
	if err != nil {
		return fmt.Errorf("output %q: %w", name, err)
	}
	g.outputs[name] = t
	return nil
}

// Entry returns the compiled entry for id.
func (g *Graph) Entry(id string) (*Entry, bool) {
	e, ok := g.entries[id]
	return e, ok
}

// Nodes returns node ids in document order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Start returns the entry node id.
func (g *Graph) Start() string {
	return g.start
}

// Outputs returns the compiled outputs mapping.
func (g *Graph) Outputs() map[string]*template.Template {
	return g.outputs
}

// GuaranteedPredecessors returns the ids of nodes that complete on every
// path from the start to id, id excluded.
func (g *Graph) GuaranteedPredecessors(id string) map[string]bool {
	return g.guaranteed[id]
}

// Finalize checks the start node and computes guaranteed predecessors. Call
// after all entries and edges are in place.
func (g *Graph) Finalize() error {
	if len(g.entries) == 0 {
		return ErrEmptyGraph
	}
	if g.start == "" {
		g.start = g.order[0]
	}
	g.guaranteed = g.computeGuaranteed()
	return nil
}

// computeGuaranteed intersects predecessor sets over all incoming edges to a
// fixpoint. Nodes other than the start begin at the full set so cycles
// narrow instead of blocking.
func (g *Graph) computeGuaranteed() map[string]map[string]bool {
	all := make(map[string]bool, len(g.order))
	for _, id := range g.order {
		all[id] = true
	}
	sets := make(map[string]map[string]bool, len(g.order))
	for _, id := range g.order {
		if id == g.start {
			sets[id] = map[string]bool{}
			continue
		}
		sets[id] = copySet(all)
	}
	incoming := make(map[string][]string)
	for _, id := range g.order {
		for _, target := range g.entries[id].successors {
			incoming[target] = append(incoming[target], id)
		}
	}
	for changed := true; changed; {
		changed = false
		for _, id := range g.order {
			if id == g.start {
				continue
			}
			next := intersectIncoming(id, incoming[id], sets, all)
			if !sameSet(next, sets[id]) {
				sets[id] = next
				changed = true
			}
		}
	}
	return sets
}

// intersectIncoming folds pred ∪ {pred} over every incoming edge.
func intersectIncoming(id string, preds []string, sets map[string]map[string]bool, all map[string]bool) map[string]bool {
	if len(preds) == 0 {
		// Unreachable node: nothing is guaranteed before it.
		return map[string]bool{}
	}
	acc := copySet(all)
	for _, pred := range preds {
		through := copySet(sets[pred])
		through[pred] = true
		acc = intersect(acc, through)
	}
	delete(acc, id)
	return acc
}

func copySet(s map[string]bool) map[string]bool {
	out := make(map[string]bool, len(s))
	for k := range s {
		out[k] = true
	}
	return out
}

func intersect(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for k := range a {
		if b[k] {
			out[k] = true
		}
	}
	return out
}

func sameSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
