//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package flow is the embedding surface: parse a workflow document, validate
// and compile it, seed the run store, and drive it to a result envelope.
package flow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-flow-go/diag"
	"trpc.group/trpc-go/trpc-flow-go/graph"
	"trpc.group/trpc-go/trpc-flow-go/ir"
	"trpc.group/trpc-go/trpc-flow-go/log"
	"trpc.group/trpc-go/trpc-flow-go/registry"
	"trpc.group/trpc-go/trpc-flow-go/store"
)

// Runner ties the parser, validator, compiler and executor together behind
// one entry point. A runner is safe for concurrent use.
type Runner struct {
	parser   *ir.Parser
	registry *registry.Registry
	catalog  ir.Catalog
	maxDepth int
}

// Option configures a Runner.
type Option func(*Runner)

// WithRegistry selects the node type registry. The package default registry
// is used when unset.
func WithRegistry(reg *registry.Registry) Option {
	return func(r *Runner) {
		if reg != nil {
			r.registry = reg
		}
	}
}

// WithCatalog supplies named documents that sub-workflow refs resolve
// against.
func WithCatalog(catalog ir.Catalog) Option {
	return func(r *Runner) {
		r.catalog = catalog
	}
}

// WithMaxDepth bounds sub-workflow nesting.
func WithMaxDepth(depth int) Option {
	return func(r *Runner) {
		if depth >= 1 {
			r.maxDepth = depth
		}
	}
}

// New creates a runner.
func New(opts ...Option) *Runner {
	r := &Runner{
		parser:   ir.NewParser(),
		registry: registry.Default(),
		maxDepth: ir.DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load decodes a JSON workflow document.
func (r *Runner) Load(data []byte) (*ir.Document, error) {
	return r.parser.Parse(data)
}

// LoadYAML decodes a YAML workflow document.
func (r *Runner) LoadYAML(data []byte) (*ir.Document, error) {
	return r.parser.ParseYAML(data)
}

// LoadFile decodes a workflow document from disk, dispatching on extension.
func (r *Runner) LoadFile(path string) (*ir.Document, error) {
	return r.parser.ParseFile(path)
}

// Validate checks a document and returns every finding.
func (r *Runner) Validate(doc *ir.Document) diag.Diagnostics {
	return ir.NewValidator(r.registry, r.catalog).Validate(doc)
}

// Compile validates and compiles a document into an executable graph.
func (r *Runner) Compile(doc *ir.Document) (*graph.Graph, diag.Diagnostics, error) {
	return r.compiler().Compile(doc)
}

func (r *Runner) compiler() *ir.Compiler {
	return ir.NewCompiler(r.registry,
		ir.WithCatalog(r.catalog), ir.WithMaxDepth(r.maxDepth))
}

// RunOption tunes a single run.
type RunOption func(*runOptions)

type runOptions struct {
	verbose    bool
	runTimeout time.Duration
	execOpts   []graph.ExecutorOption
}

// WithVerbose records the verbose flag in the run's store metadata, where
// hosts and nodes can pick it up. It never touches global logger state.
func WithVerbose() RunOption {
	return func(o *runOptions) {
		o.verbose = true
	}
}

// WithRunTimeout arms a whole-run deadline. A spent deadline yields a
// cancelled envelope with a run_timeout diagnostic.
func WithRunTimeout(d time.Duration) RunOption {
	return func(o *runOptions) {
		o.runTimeout = d
	}
}

// WithEventHandler registers an instrumentation event handler for the run.
func WithEventHandler(h graph.Handler) RunOption {
	return func(o *runOptions) {
		o.execOpts = append(o.execOpts, graph.WithEventHandler(h))
	}
}

// WithStoreSnapshot attaches a redacted store snapshot to the envelope even
// when the run succeeds.
func WithStoreSnapshot() RunOption {
	return func(o *runOptions) {
		o.execOpts = append(o.execOpts, graph.WithStoreSnapshot())
	}
}

// Execute compiles the document and runs it with the supplied inputs. Every
// run outcome, validation failures included, lands in the envelope; the
// error return reports misuse only (nil document).
func (r *Runner) Execute(ctx context.Context, doc *ir.Document, inputs map[string]any, opts ...RunOption) (*graph.RunResult, error) {
	if doc == nil {
		return nil, graph.ErrNilGraph
	}
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	runID := uuid.NewString()
	g, ds, err := r.Compile(doc)
	if err != nil {
		return validationFailure(runID, ds, err), nil
	}
	values, sensitive, err := ir.BuildInputs(doc, inputs)
	if err != nil {
		ds = append(ds, diag.Errorf(diag.CodeBadSchema, "inputs", "%v", err))
		return validationFailure(runID, ds, err), nil
	}
	st := store.New(
		store.WithInputs(values, sensitive),
		store.WithMeta(map[string]any{
			store.MetaRunID:     runID,
			store.MetaStartedAt: time.Now().UTC().Format(time.RFC3339Nano),
			store.MetaVerbose:   o.verbose,
		}),
	)
	if o.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.runTimeout)
		defer cancel()
	}
	log.Infof("run %s: executing workflow (%d nodes)", runID, len(doc.Nodes))
	result, err := graph.NewExecutor(o.execOpts...).Execute(ctx, g, st)
	if err != nil {
		return nil, err
	}
	log.Infof("run %s: finished with status %s", runID, result.Status)
	return result, nil
}

// ExecuteData parses and runs a JSON document in one step.
func (r *Runner) ExecuteData(ctx context.Context, data []byte, inputs map[string]any, opts ...RunOption) (*graph.RunResult, error) {
	doc, err := r.Load(data)
	if err != nil {
		return nil, err
	}
	return r.Execute(ctx, doc, inputs, opts...)
}

// validationFailure assembles the envelope for a run rejected before any
// node executed.
func validationFailure(runID string, ds diag.Diagnostics, cause error) *graph.RunResult {
	failure, ok := diag.As(cause)
	if !ok {
		failure = diag.Wrap(diag.KindValidation, cause, "workflow rejected")
	}
	failure.Phase = diag.PhaseValidate
	return &graph.RunResult{
		RunID:       runID,
		Status:      graph.StatusFailed,
		Error:       failure,
		Phase:       diag.PhaseValidate,
		Diagnostics: ds,
	}
}
