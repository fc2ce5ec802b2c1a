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
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trpc.group/trpc-go/trpc-flow-go/diag"
	itelemetry "trpc.group/trpc-go/trpc-flow-go/internal/telemetry"
	"trpc.group/trpc-go/trpc-flow-go/log"
	"trpc.group/trpc-go/trpc-flow-go/node"
	"trpc.group/trpc-go/trpc-flow-go/store"
)

// ExecutorOption configures an Executor.
type ExecutorOption func(*ExecutorOptions)

// ExecutorOptions holds the executor configuration.
type ExecutorOptions struct {
	// EventHandlers receive instrumentation events synchronously.
	EventHandlers []Handler
	// IncludeSnapshot attaches a store snapshot to successful envelopes.
	// Failure and cancelled envelopes always carry one.
	IncludeSnapshot bool
}

// WithEventHandler registers a handler for instrumentation events.
func WithEventHandler(h Handler) ExecutorOption {
	return func(o *ExecutorOptions) {
		if h != nil {
			o.EventHandlers = append(o.EventHandlers, h)
		}
	}
}

// WithStoreSnapshot attaches a redacted store snapshot to every envelope,
// successful runs included.
func WithStoreSnapshot() ExecutorOption {
	return func(o *ExecutorOptions) {
		o.IncludeSnapshot = true
	}
}

// Executor walks a compiled graph against a shared store. A single executor
// is reusable across runs; each Execute call owns its run state.
type Executor struct {
	opts ExecutorOptions
}

// NewExecutor creates an executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(&e.opts)
	}
	return e
}

// Execute runs the graph to completion and returns the result envelope. The
// context carries the cancellation signal and, when armed, the run deadline;
// both surface as a cancelled envelope, never as a returned error. A non-nil
// error reports misuse only.
func (e *Executor) Execute(ctx context.Context, g *Graph, st *store.Store) (*RunResult, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	if st == nil {
		return nil, ErrNilStore
	}
	r := &run{exec: e, graph: g, store: st, runID: st.RunID(), started: time.Now()}
	return r.execute(ctx), nil
}

// run is the per-Execute state: the queue position, visit counts and the
// diagnostics gathered along the way.
type run struct {
	exec    *Executor
	graph   *Graph
	store   *store.Store
	runID   string
	started time.Time
	diags   diag.Diagnostics
	// emitMu serializes handler calls; batch items on worker goroutines emit
	// too.
	emitMu sync.Mutex
}

func (r *run) emit(ev Event) {
	ev.RunID = r.runID
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	for _, h := range r.exec.opts.EventHandlers {
		h(ev)
	}
}

func (r *run) execute(ctx context.Context) *RunResult {
	ctx, span := itelemetry.Tracer.Start(ctx, itelemetry.SpanNameRun,
		trace.WithAttributes(attribute.String(itelemetry.KeyRunID, r.runID)))
	defer span.End()
	itelemetry.IncRun(ctx, r.runID)
	r.emit(Event{Type: EventRunStarted})
	log.Debugf("run %s: starting at node %q", r.runID, r.graph.Start())

	result := r.walk(ctx)

	span.SetAttributes(attribute.String(itelemetry.KeyRunStatus, string(result.Status)))
	if result.Error != nil {
		span.SetStatus(codes.Error, result.Error.Error())
	}
	itelemetry.RecordRunDuration(ctx, r.runID, string(result.Status), time.Since(r.started))
	r.emit(Event{Type: EventRunCompleted, Status: result.Status, Err: errOrNil(result.Error), Duration: time.Since(r.started)})
	return result
}

// walk advances the queue. With fan-out rejected at compile time the queue
// holds at most one ready node, so the loop tracks a single cursor.
func (r *run) walk(ctx context.Context) *RunResult {
	visits := make(map[string]int)
	cur := r.graph.Start()
	for cur != "" {
		if err := ctx.Err(); err != nil {
			return r.cancelled(ctx, err)
		}
		entry, ok := r.graph.Entry(cur)
		if !ok {
			return r.failed(ctx, diag.Newf(diag.KindInternal, "routing reached unknown node %q", cur))
		}
		visits[cur]++
		if visits[cur] > entry.Interface.MaxVisits {
			failure := diag.Newf(diag.KindLoopBudgetExceeded,
				"visit %d exceeds max_visits %d", visits[cur], entry.Interface.MaxVisits)
			failure.Node = cur
			return r.failed(ctx, failure)
		}
		action, failure := r.visit(ctx, entry, visits[cur])
		if failure != nil {
			next, routed := r.routeFailure(entry, failure)
			if !routed {
				if failure.Kind == diag.KindCancellation {
					return r.cancelled(ctx, failure)
				}
				return r.failed(ctx, failure)
			}
			cur = next
			continue
		}
		next, mapped := entry.Successor(action)
		if !mapped {
			// Unmapped action: this path terminates successfully.
			log.Debugf("run %s: node %q action %q has no successor, path complete", r.runID, cur, action)
			break
		}
		log.Debugf("run %s: node %q -[%s]-> %q", r.runID, cur, action, next)
		cur = next
	}
	outputs := r.evaluateOutputs(diag.SeverityError)
	result := &RunResult{
		RunID:       r.runID,
		Status:      StatusSuccess,
		Outputs:     outputs,
		Diagnostics: r.diags,
	}
	if r.exec.opts.IncludeSnapshot {
		result.Snapshot = r.store.Snapshot()
	}
	return result
}

// routeFailure consults the failing node's "error" action. Only exec
// failures and timeouts route; scope violations, loop budgets and
// cancellations always halt.
func (r *run) routeFailure(entry *Entry, failure *diag.Error) (string, bool) {
	if failure.Kind != diag.KindNodeFailure && failure.Kind != diag.KindNodeTimeout {
		return "", false
	}
	target, ok := entry.Successor(node.ActionError)
	if !ok {
		return "", false
	}
	if err := r.store.Set(entry.ID, "error", failure.Record()); err != nil {
		log.Errorf("run %s: recording error for node %q: %v", r.runID, entry.ID, err)
		return "", false
	}
	r.diags = append(r.diags, diag.Warnf(codeOf(failure.Kind), entry.ID,
		"node failed and routed to %q: %s", target, failure.Message))
	log.Debugf("run %s: node %q failed, routing error to %q", r.runID, entry.ID, target)
	return target, true
}

// visit drives one node visit through the wrapper chain: prep, the exec
// retry loop with per-attempt timeout, the optional fallback, then post.
func (r *run) visit(ctx context.Context, entry *Entry, visitN int) (string, *diag.Error) {
	ctx, span := itelemetry.Tracer.Start(ctx, itelemetry.NewNodeSpanName(entry.ID),
		trace.WithAttributes(
			attribute.String(itelemetry.KeyNodeID, entry.ID),
			attribute.String(itelemetry.KeyNodeType, entry.Type),
			attribute.Int(itelemetry.KeyNodeVisit, visitN),
		))
	defer span.End()
	itelemetry.IncNodeVisit(ctx, entry.ID, entry.Type)
	started := time.Now()
	r.emit(Event{Type: EventNodeStarted, NodeID: entry.ID, NodeType: entry.Type, Visit: visitN})

	action, failure := r.runPhases(ctx, entry)
	if failure != nil {
		failure.Node = entry.ID
		span.SetAttributes(attribute.String(itelemetry.KeyErrorKind, string(failure.Kind)))
		span.SetStatus(codes.Error, failure.Error())
		r.emit(Event{Type: EventNodeFailed, NodeID: entry.ID, NodeType: entry.Type,
			Visit: visitN, Err: failure, Duration: time.Since(started)})
		return "", failure
	}
	span.SetAttributes(attribute.String(itelemetry.KeyNodeAction, action))
	r.emit(Event{Type: EventNodeSucceeded, NodeID: entry.ID, NodeType: entry.Type,
		Visit: visitN, Action: action, Duration: time.Since(started)})
	return action, nil
}

func (r *run) runPhases(ctx context.Context, entry *Entry) (string, *diag.Error) {
	phases, err := buildPhases(r.store, entry, r.emit)
	if err != nil {
		return "", asFailure(err, diag.PhasePrep, 0)
	}
	prepState, err := phases.Prep(ctx)
	if err != nil {
		// Prep failures are configuration errors, never retried.
		return "", asFailure(err, diag.PhasePrep, 0)
	}
	execResult, failure := r.runExec(ctx, entry, phases, prepState)
	if failure != nil {
		return "", failure
	}
	action, err := phases.Post(ctx, prepState, execResult)
	if err != nil {
		return "", asFailure(err, diag.PhasePost, 0)
	}
	return action, nil
}

// runExec runs the exec phase with up to MaxRetries attempts, a per-attempt
// timeout, and the fallback once the budget is spent.
func (r *run) runExec(ctx context.Context, entry *Entry, phases Phases, prepState any) (any, *diag.Error) {
	attempts := entry.Interface.MaxRetries
	var (
		execResult any
		execErr    error
	)
	attempt := 0
	for attempt = 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			itelemetry.IncRetry(ctx, entry.ID, entry.Type)
			r.emit(Event{Type: EventNodeRetried, NodeID: entry.ID, NodeType: entry.Type, Attempt: attempt})
			log.Debugf("run %s: node %q exec retry %d/%d", r.runID, entry.ID, attempt, attempts)
			if err := sleep(ctx, entry.Interface.RetryDelay); err != nil {
				return nil, diag.Wrap(diag.KindCancellation, err, "cancelled between retries")
			}
		}
		execResult, execErr = r.attemptExec(ctx, entry, phases, prepState)
		if execErr == nil {
			return execResult, nil
		}
		if diag.KindOf(execErr) == diag.KindCancellation || ctx.Err() != nil {
			return nil, failureOf(execErr, diag.KindCancellation, diag.PhaseExec, attempt)
		}
	}
	attempt = attempts
	// Retry budget spent: consult the fallback before propagating.
	r.emit(Event{Type: EventNodeFallback, NodeID: entry.ID, NodeType: entry.Type, Attempt: attempt, Err: execErr})
	fbResult, handled, fbErr := phases.Fallback(ctx, prepState, execErr)
	if handled && fbErr == nil {
		return fbResult, nil
	}
	if handled && fbErr != nil {
		execErr = fbErr
	}
	kind := diag.KindNodeFailure
	if diag.KindOf(execErr) == diag.KindNodeTimeout {
		kind = diag.KindNodeTimeout
	}
	return nil, failureOf(execErr, kind, diag.PhaseExec, attempt)
}

// attemptExec runs one exec attempt, arming the per-node timeout when
// declared. Only the attempt deadline maps to a timeout; the outer deadline
// stays a cancellation.
func (r *run) attemptExec(ctx context.Context, entry *Entry, phases Phases, prepState any) (any, error) {
	if entry.Interface.Timeout <= 0 {
		return phases.Exec(ctx, prepState)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, entry.Interface.Timeout)
	defer cancel()
	result, err := phases.Exec(attemptCtx, prepState)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return nil, diag.Wrap(diag.KindNodeTimeout, err,
			"exec exceeded timeout %s", entry.Interface.Timeout)
	}
	return result, err
}

// evaluateOutputs resolves the compiled outputs mapping over the final store
// state. Unresolvable entries become diagnostics at the given severity.
func (r *run) evaluateOutputs(severity diag.Severity) map[string]any {
	compiled := r.graph.Outputs()
	if len(compiled) == 0 {
		return nil
	}
	outputs := make(map[string]any, len(compiled))
	for name, t := range compiled {
		v, err := t.Resolve(r.store)
		if err != nil {
			d := diag.Diagnostic{
				Severity: severity,
				Code:     diag.CodeMissingOutput,
				Path:     "outputs." + name,
				Message:  err.Error(),
			}
			r.diags = append(r.diags, d)
			continue
		}
		outputs[name] = v
	}
	return outputs
}

func (r *run) failed(ctx context.Context, failure *diag.Error) *RunResult {
	r.diags = append(r.diags, diag.Errorf(codeOf(failure.Kind), failure.Node, "%s", failure.Message))
	log.Errorf("run %s: halted at node %q in phase %s: %v", r.runID, failure.Node, failure.Phase, failure)
	return &RunResult{
		RunID:       r.runID,
		Status:      StatusFailed,
		Outputs:     r.evaluateOutputs(diag.SeverityWarn),
		Error:       failure,
		FailedNode:  failure.Node,
		Phase:       failure.Phase,
		Diagnostics: r.diags,
		Snapshot:    r.store.Snapshot(),
	}
}

// cancelled assembles the cancelled envelope. A spent run deadline is
// reported as run_timeout; an external signal as a plain cancellation.
func (r *run) cancelled(ctx context.Context, cause error) *RunResult {
	if ctx.Err() == context.DeadlineExceeded {
		r.diags = append(r.diags, diag.Errorf(diag.CodeRunTimeout, "", "run deadline exceeded"))
	} else {
		r.diags = append(r.diags, diag.Warnf(diag.CodeCancelled, "", "run cancelled"))
	}
	failure, ok := diag.As(cause)
	if !ok {
		failure = diag.Wrap(diag.KindCancellation, cause, "run cancelled")
	}
	return &RunResult{
		RunID:  r.runID,
		Status: StatusCancelled,
		// Outputs are evaluated best-effort over the partial state; missing
		// paths are diagnostics, not failures.
		Outputs:     r.evaluateOutputs(diag.SeverityWarn),
		Error:       failure,
		Diagnostics: r.diags,
		Snapshot:    r.store.Snapshot(),
	}
}

// asFailure normalizes an error from a non-retried phase.
func asFailure(err error, phase string, attempts int) *diag.Error {
	kind := diag.KindOf(err)
	if kind == diag.KindInternal {
		// Plain errors from prep/post are node failures, not engine defects.
		if _, ok := diag.As(err); !ok {
			kind = diag.KindNodeFailure
		}
	}
	return failureOf(err, kind, phase, attempts)
}

func failureOf(err error, kind diag.Kind, phase string, attempts int) *diag.Error {
	failure, ok := diag.As(err)
	if !ok || failure.Kind != kind {
		failure = diag.Wrap(kind, err, "%s", err.Error())
	}
	failure.Phase = phase
	if attempts > 0 {
		failure.Attempts = attempts
	}
	return failure
}

// codeOf maps a failure kind onto its diagnostic code.
func codeOf(kind diag.Kind) string {
	switch kind {
	case diag.KindValidation:
		return diag.CodeBadSchema
	case diag.KindUnresolvedTemplate:
		return diag.CodeUnresolvedTemplate
	case diag.KindMissingTemplatePath:
		return diag.CodeUnresolvedTemplate
	case diag.KindNodeTimeout:
		return diag.CodeNodeTimeout
	case diag.KindScopeViolation:
		return diag.CodeScopeViolation
	case diag.KindLoopBudgetExceeded:
		return diag.CodeLoopBudget
	case diag.KindCancellation:
		return diag.CodeCancelled
	case diag.KindNodeFailure:
		return diag.CodeNodeFailure
	default:
		return diag.CodeInternal
	}
}

// sleep waits for d unless the context ends first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func errOrNil(e *diag.Error) error {
	if e == nil {
		return nil
	}
	return e
}
