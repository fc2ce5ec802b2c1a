//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"trpc.group/trpc-go/trpc-flow-go/diag"
	itelemetry "trpc.group/trpc-go/trpc-flow-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-flow-go/node"
	"trpc.group/trpc-go/trpc-flow-go/store"
	"trpc.group/trpc-go/trpc-flow-go/template"
)

// Phases is the per-visit lifecycle the executor drives. The wrapper chain
// implements it around the inner node: instrumentation → batch →
// namespacing → template-aware → node. Namespacing and template resolution
// happen while the chain is assembled, immediately before prep.
type Phases interface {
	Prep(ctx context.Context) (any, error)
	Exec(ctx context.Context, prepState any) (any, error)
	Post(ctx context.Context, prepState, execResult any) (string, error)
	// Fallback is consulted after exec exhausts its retries. The bool
	// reports whether a fallback was available.
	Fallback(ctx context.Context, prepState any, cause error) (any, bool, error)
}

// buildPhases assembles the wrapper chain for one visit. Params are
// materialized against the current store state here, so every template the
// node's params carry resolves against predecessors that already completed.
// Batch nodes defer materialization to each item, where the bind key is in
// scope.
func buildPhases(st *store.Store, entry *Entry, emit func(Event)) (Phases, error) {
	if entry.Batch != nil {
		// The batch node's own namespace holds the aggregation; the declared
		// writes constrain the per-item scratch views instead.
		view := st.View(entry.ID).
			WithAllowedWrites([]string{"results", "errors"})
		p := &batchPhases{
			entry: entry,
			spec:  entry.Batch,
			store: st,
			view:  view,
			emit:  emit,
		}
		return &instrumentPhases{entry: entry, emit: emit, inner: p}, nil
	}
	params, err := materializeParams(entry, st)
	if err != nil {
		return nil, err
	}
	view := st.View(entry.ID).
		WithAllowedWrites(entry.Interface.Writes).
		WithParams(params)
	p := &nodePhases{entry: entry, view: view}
	return &instrumentPhases{entry: entry, emit: emit, inner: p}, nil
}

// materializeParams resolves every template expression in the entry's params
// against the source and coerces declared parameters to their types.
func materializeParams(entry *Entry, src template.Source) (map[string]any, error) {
	resolved, err := template.ResolveValue(entry.Params, src)
	if err != nil {
		return nil, err
	}
	params, ok := resolved.(map[string]any)
	if !ok {
		params = map[string]any{}
	}
	applied, err := node.ApplyParamSpecs(params, entry.Interface.Params)
	if err != nil {
		return nil, diag.Wrap(diag.KindNodeFailure, err, "node %q params", entry.ID)
	}
	return applied, nil
}

// nodePhases is the innermost link: the concrete node driven against its
// scoped view.
type nodePhases struct {
	entry *Entry
	view  *store.View
}

func (n *nodePhases) Prep(ctx context.Context) (any, error) {
	return n.entry.Node.Prep(ctx, n.view)
}

func (n *nodePhases) Exec(ctx context.Context, prepState any) (any, error) {
	return n.entry.Node.Exec(ctx, prepState)
}

func (n *nodePhases) Post(ctx context.Context, prepState, execResult any) (string, error) {
	return n.entry.Node.Post(ctx, n.view, prepState, execResult)
}

func (n *nodePhases) Fallback(ctx context.Context, prepState any, cause error) (any, bool, error) {
	fb, ok := n.entry.Node.(node.Fallbacker)
	if !ok {
		return nil, false, nil
	}
	result, err := fb.ExecFallback(ctx, prepState, cause)
	return result, true, err
}

// batchItem carries one item invocation through the worker pool.
type batchItem struct {
	ctx   context.Context
	b     *batchPhases
	index int
	value any
	out   []batchOutcome
	wg    *sync.WaitGroup
}

func (p *batchItem) reset() {
	p.ctx = nil
	p.b = nil
	p.index = 0
	p.value = nil
	p.out = nil
	p.wg = nil
}

var batchItemPool = &sync.Pool{
	New: func() any { return new(batchItem) },
}

// batchOutcome is one item's harvest: the scratch writes on success, the
// failure otherwise.
type batchOutcome struct {
	result map[string]any
	err    error
}

// batchPhases iterates the inner node over a source array. Prep resolves the
// source; Exec runs the items, sequentially by default, through an ants pool
// when concurrency is raised; Post writes the order-aligned aggregation into
// the node's namespace.
type batchPhases struct {
	entry *Entry
	spec  *BatchSpec
	store *store.Store
	view  *store.View
	emit  func(Event)
}

// itemSource scopes template resolution to one batch item: the bind key
// resolves to the item, every other root falls through to the store.
type itemSource struct {
	store *store.Store
	key   string
	value any
}

func (s itemSource) ResolveRoot(name string) (any, bool) {
	if name == s.key {
		return s.value, true
	}
	return s.store.ResolveRoot(name)
}

func (b *batchPhases) Prep(ctx context.Context) (any, error) {
	items, err := b.resolveSource()
	if err != nil {
		return nil, err
	}
	return items, nil
}

// resolveSource turns the batch source into the item slice: a template path
// resolves against the store, a literal array is taken as-is.
func (b *batchPhases) resolveSource() ([]any, error) {
	switch src := b.spec.Source.(type) {
	case string:
		v, err := template.ResolveString(src, b.store)
		if err != nil {
			return nil, err
		}
		items, ok := v.([]any)
		if !ok {
			return nil, diag.Newf(diag.KindNodeFailure,
				"batch source %q resolved to %T, want array", src, v)
		}
		return items, nil
	case []any:
		resolved, err := template.ResolveValue(src, b.store)
		if err != nil {
			return nil, err
		}
		return resolved.([]any), nil
	default:
		return nil, diag.Newf(diag.KindNodeFailure,
			"batch source must be a path or an array, got %T", b.spec.Source)
	}
}

func (b *batchPhases) Exec(ctx context.Context, prepState any) (any, error) {
	items, ok := prepState.([]any)
	if !ok {
		return nil, diag.Newf(diag.KindInternal, "batch prep state is %T, want []any", prepState)
	}
	outcomes := make([]batchOutcome, len(items))
	var err error
	if b.spec.Concurrency > 1 && len(items) > 1 {
		err = b.runConcurrent(ctx, items, outcomes)
	} else {
		err = b.runSequential(ctx, items, outcomes)
	}
	if err != nil {
		if diag.KindOf(err) == diag.KindCancellation {
			// Keep what completed: the aggregation for finished items is
			// written before the cancellation surfaces.
			b.writeAggregation(outcomes)
		}
		return outcomes, err
	}
	if !b.spec.ContinueOnError {
		for i := range outcomes {
			if outcomes[i].err != nil {
				return outcomes, diag.Wrap(diag.KindNodeFailure, outcomes[i].err,
					"batch item %d failed", i)
			}
		}
	}
	return outcomes, nil
}

func (b *batchPhases) runSequential(ctx context.Context, items []any, outcomes []batchOutcome) error {
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return diag.Wrap(diag.KindCancellation, err, "batch cancelled before item %d", i)
		}
		outcomes[i] = b.runItem(ctx, i, item)
		if outcomes[i].err != nil && !b.spec.ContinueOnError {
			return nil
		}
	}
	return nil
}

func (b *batchPhases) runConcurrent(ctx context.Context, items []any, outcomes []batchOutcome) error {
	size := b.spec.Concurrency
	if size > len(items) {
		size = len(items)
	}
	pool, err := ants.NewPoolWithFunc(size, func(args any) {
		p, ok := args.(*batchItem)
		if !ok {
			panic("batch pool args type error")
		}
		wg := p.wg
		defer func() {
			wg.Done()
			p.reset()
			batchItemPool.Put(p)
		}()
		p.out[p.index] = p.b.runItem(p.ctx, p.index, p.value)
	})
	if err != nil {
		return diag.Wrap(diag.KindInternal, err, "create batch pool")
	}
	defer pool.Release()
	var wg sync.WaitGroup
	for i, item := range items {
		// Cancellation is honored between submissions; in-flight items
		// finish their current invocation.
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return diag.Wrap(diag.KindCancellation, err, "batch cancelled before item %d", i)
		}
		p := batchItemPool.Get().(*batchItem)
		p.ctx = ctx
		p.b = b
		p.index = i
		p.value = item
		p.out = outcomes
		p.wg = &wg
		wg.Add(1)
		if err := pool.Invoke(p); err != nil {
			wg.Done()
			p.reset()
			batchItemPool.Put(p)
			wg.Wait()
			return diag.Wrap(diag.KindInternal, err, "submit batch item %d", i)
		}
	}
	wg.Wait()
	return nil
}

// runItem drives the inner node once with the item bound under the batch
// key. Params re-materialize here so templates rooted at the bind key
// resolve against the item. Writes collect in a scratch view and become the
// item's result.
func (b *batchPhases) runItem(ctx context.Context, index int, item any) batchOutcome {
	started := time.Now()
	outcome := b.invokeItem(ctx, item)
	itelemetry.IncBatchItem(ctx, b.entry.ID)
	b.emit(Event{
		Type:       EventBatchItemCompleted,
		NodeID:     b.entry.ID,
		NodeType:   b.entry.Type,
		BatchIndex: index,
		Err:        outcome.err,
		Time:       time.Now(),
		Duration:   time.Since(started),
	})
	return outcome
}

func (b *batchPhases) invokeItem(ctx context.Context, item any) batchOutcome {
	params, err := materializeParams(b.entry, itemSource{
		store: b.store,
		key:   b.spec.Key,
		value: item,
	})
	if err != nil {
		return batchOutcome{err: fmt.Errorf("prep: %w", err)}
	}
	params[b.spec.Key] = item
	view := b.store.ScratchView(b.entry.ID).
		WithAllowedWrites(b.entry.Interface.Writes).
		WithParams(params)
	return b.invoke(ctx, view)
}

func (b *batchPhases) invoke(ctx context.Context, view *store.View) batchOutcome {
	prepState, err := b.entry.Node.Prep(ctx, view)
	if err != nil {
		return batchOutcome{err: fmt.Errorf("prep: %w", err)}
	}
	execResult, err := b.entry.Node.Exec(ctx, prepState)
	if err != nil {
		return batchOutcome{err: fmt.Errorf("exec: %w", err)}
	}
	if _, err := b.entry.Node.Post(ctx, view, prepState, execResult); err != nil {
		return batchOutcome{err: fmt.Errorf("post: %w", err)}
	}
	return batchOutcome{result: view.Scratch()}
}

// Post aggregates the outcomes: results is order-aligned with the source,
// null standing in for failed items; errors lists each recorded failure.
func (b *batchPhases) Post(ctx context.Context, prepState, execResult any) (string, error) {
	outcomes, ok := execResult.([]batchOutcome)
	if !ok {
		return "", diag.Newf(diag.KindInternal, "batch exec result is %T", execResult)
	}
	if err := b.writeAggregation(outcomes); err != nil {
		return "", err
	}
	return node.ActionDefault, nil
}

func (b *batchPhases) writeAggregation(outcomes []batchOutcome) error {
	results := make([]any, len(outcomes))
	var errs []any
	for i, out := range outcomes {
		if out.err != nil {
			results[i] = nil
			errs = append(errs, map[string]any{
				"index":   i,
				"kind":    string(diag.KindOf(out.err)),
				"message": out.err.Error(),
			})
			continue
		}
		results[i] = out.result
	}
	if err := b.view.Write("results", results); err != nil {
		return err
	}
	if len(errs) > 0 {
		if err := b.view.Write("errors", errs); err != nil {
			return err
		}
	}
	return nil
}

func (b *batchPhases) Fallback(ctx context.Context, prepState any, cause error) (any, bool, error) {
	// A batch retries and fails as a unit; the inner node's fallback covers
	// single invocations only.
	return nil, false, nil
}

// instrumentPhases is the outermost link: per-phase timing events and the
// exec duration metric. It never alters results.
type instrumentPhases struct {
	entry *Entry
	emit  func(Event)
	inner Phases
}

func (w *instrumentPhases) Prep(ctx context.Context) (any, error) {
	started := time.Now()
	prepState, err := w.inner.Prep(ctx)
	w.phaseDone(diag.PhasePrep, started, err)
	return prepState, err
}

func (w *instrumentPhases) Exec(ctx context.Context, prepState any) (any, error) {
	started := time.Now()
	execResult, err := w.inner.Exec(ctx, prepState)
	itelemetry.RecordExecDuration(ctx, w.entry.ID, w.entry.Type, time.Since(started))
	w.phaseDone(diag.PhaseExec, started, err)
	return execResult, err
}

func (w *instrumentPhases) Post(ctx context.Context, prepState, execResult any) (string, error) {
	started := time.Now()
	action, err := w.inner.Post(ctx, prepState, execResult)
	w.phaseDone(diag.PhasePost, started, err)
	return action, err
}

func (w *instrumentPhases) Fallback(ctx context.Context, prepState any, cause error) (any, bool, error) {
	return w.inner.Fallback(ctx, prepState, cause)
}

func (w *instrumentPhases) phaseDone(phase string, started time.Time, err error) {
	w.emit(Event{
		Type:     EventNodePhaseComplete,
		NodeID:   w.entry.ID,
		NodeType: w.entry.Type,
		Phase:    phase,
		Err:      err,
		Time:     time.Now(),
		Duration: time.Since(started),
	})
}
