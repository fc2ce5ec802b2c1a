//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package ir

// analysis is the static shape of a document: adjacency over edges, the
// reachable set, cycle membership and guaranteed predecessors. The validator
// builds one per document and feeds its template phase from it.
type analysis struct {
	start      string
	order      []string
	successors map[string][]string
	incoming   map[string][]string
	reachable  map[string]bool
	cyclic     map[string]bool
	guaranteed map[string]map[string]bool
}

// analyze builds the static view. Dangling edges are skipped; the reference
// phase reports them separately.
func analyze(doc *Document) *analysis {
	a := &analysis{
		start:      doc.Start(),
		successors: make(map[string][]string),
		incoming:   make(map[string][]string),
		reachable:  make(map[string]bool),
		cyclic:     make(map[string]bool),
	}
	ids := make(map[string]bool, len(doc.Nodes))
	for _, n := range doc.Nodes {
		a.order = append(a.order, n.ID)
		ids[n.ID] = true
	}
	for _, e := range doc.Edges {
		if !ids[e.From] || !ids[e.To] {
			continue
		}
		a.successors[e.From] = append(a.successors[e.From], e.To)
		a.incoming[e.To] = append(a.incoming[e.To], e.From)
	}
	a.walkReachable()
	a.findCycles()
	a.computeGuaranteed()
	return a
}

func (a *analysis) walkReachable() {
	if a.start == "" {
		return
	}
	stack := []string{a.start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if a.reachable[id] {
			continue
		}
		a.reachable[id] = true
		stack = append(stack, a.successors[id]...)
	}
}

// findCycles colors the graph with an iterative DFS; nodes on a back edge's
// path are marked cyclic.
func (a *analysis) findCycles() {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(a.order))
	var path []string
	var visit func(string)
	visit = func(id string) {
		color[id] = grey
		path = append(path, id)
		for _, next := range a.successors[id] {
			switch color[next] {
			case white:
				visit(next)
			case grey:
				// Back edge: everything from next to the path tip cycles.
				for i := len(path) - 1; i >= 0; i-- {
					a.cyclic[path[i]] = true
					if path[i] == next {
						break
					}
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
	}
	for _, id := range a.order {
		if color[id] == white {
			visit(id)
		}
	}
}

// HasCycle reports whether any node sits on a cycle.
func (a *analysis) HasCycle() bool {
	return len(a.cyclic) > 0
}

// computeGuaranteed intersects predecessor sets over all incoming edges to a
// fixpoint: the ids certain to have completed before a node runs, on every
// path from the start. Non-start nodes begin at the full set so cycles
// narrow instead of blocking convergence.
func (a *analysis) computeGuaranteed() {
	all := make(map[string]bool, len(a.order))
	for _, id := range a.order {
		all[id] = true
	}
	a.guaranteed = make(map[string]map[string]bool, len(a.order))
	for _, id := range a.order {
		if id == a.start {
			a.guaranteed[id] = map[string]bool{}
			continue
		}
		a.guaranteed[id] = cloneSet(all)
	}
	for changed := true; changed; {
		changed = false
		for _, id := range a.order {
			if id == a.start {
				continue
			}
			next := a.foldIncoming(id, all)
			if !equalSets(next, a.guaranteed[id]) {
				a.guaranteed[id] = next
				changed = true
			}
		}
	}
}

func (a *analysis) foldIncoming(id string, all map[string]bool) map[string]bool {
	preds := a.incoming[id]
	if len(preds) == 0 {
		return map[string]bool{}
	}
	acc := cloneSet(all)
	for _, pred := range preds {
		through := cloneSet(a.guaranteed[pred])
		through[pred] = true
		acc = intersectSets(acc, through)
	}
	delete(acc, id)
	return acc
}

// Guaranteed reports whether pred is certain to complete before id runs.
func (a *analysis) Guaranteed(id, pred string) bool {
	return a.guaranteed[id][pred]
}

func cloneSet(s map[string]bool) map[string]bool {
	out := make(map[string]bool, len(s))
	for k := range s {
		out[k] = true
	}
	return out
}

func intersectSets(x, y map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for k := range x {
		if y[k] {
			out[k] = true
		}
	}
	return out
}

func equalSets(x, y map[string]bool) bool {
	if len(x) != len(y) {
		return false
	}
	for k := range x {
		if !y[k] {
			return false
		}
	}
	return true
}
