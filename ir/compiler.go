//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package ir

import (
	"encoding/json"
	"fmt"

	"trpc.group/trpc-go/trpc-flow-go/diag"
	"trpc.group/trpc-go/trpc-flow-go/graph"
	"trpc.group/trpc-go/trpc-flow-go/node"
	"trpc.group/trpc-go/trpc-flow-go/registry"
)

// Catalog resolves sub-workflow refs to their documents.
type Catalog map[string]*Document

// Resolve returns the document registered under name.
func (c Catalog) Resolve(name string) (*Document, bool) {
	doc, ok := c[name]
	return doc, ok
}

// DefaultMaxDepth bounds sub-workflow nesting at run time.
const DefaultMaxDepth = 8

// Compiler turns a validated document into an executable graph. Sub-workflow
// nodes compile eagerly, so a compiled graph never touches the catalog again.
type Compiler struct {
	registry *registry.Registry
	catalog  Catalog
	maxDepth int
}

// CompilerOption tunes a compiler.
type CompilerOption func(*Compiler)

// WithCatalog supplies the documents sub-workflow refs resolve against.
func WithCatalog(c Catalog) CompilerOption {
	return func(comp *Compiler) {
		comp.catalog = c
	}
}

// WithMaxDepth bounds sub-workflow nesting. Values below 1 keep the default.
func WithMaxDepth(depth int) CompilerOption {
	return func(comp *Compiler) {
		if depth >= 1 {
			comp.maxDepth = depth
		}
	}
}

// NewCompiler creates a compiler over the given registry.
func NewCompiler(reg *registry.Registry, opts ...CompilerOption) *Compiler {
	if reg == nil {
		reg = registry.Default()
	}
	c := &Compiler{registry: reg, maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile validates the document and builds the executable graph. The
// returned diagnostics carry every finding; when any is error severity the
// graph is nil and the error summarizes them.
func (c *Compiler) Compile(doc *Document) (*graph.Graph, diag.Diagnostics, error) {
	ds := NewValidator(c.registry, c.catalog).Validate(doc)
	if ds.HasErrors() {
		return nil, ds, ds.Err()
	}
	g, err := c.build(doc, nil)
	if err != nil {
		ds = append(ds, diag.Errorf(diag.CodeInternal, "", "%v", err))
		return nil, ds, err
	}
	return g, ds, nil
}

// build assembles the graph for an already-validated document. refChain
// carries the ref names on the current compilation path.
func (c *Compiler) build(doc *Document, refChain []string) (*graph.Graph, error) {
	g := graph.New()
	for _, spec := range doc.Nodes {
		entry, err := c.buildEntry(spec, refChain)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", spec.ID, err)
		}
		if err := g.Add(entry); err != nil {
			return nil, err
		}
	}
	for _, e := range doc.Edges {
		if err := g.Connect(e.From, e.NormalizedAction(), e.To); err != nil {
			return nil, err
		}
	}
	if doc.StartNode != "" {
		if err := g.SetStart(doc.StartNode); err != nil {
			return nil, err
		}
	}
	for name, expr := range doc.Outputs {
		if err := g.SetOutput(name, expr); err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}
	}
	if err := g.Finalize(); err != nil {
		return nil, err
	}
	return g, nil
}

// buildEntry instantiates one node. Workflow nodes compile their
// sub-document recursively; everything else goes through the registry
// factory with the reserved params stripped.
func (c *Compiler) buildEntry(spec *NodeSpec, refChain []string) (*graph.Entry, error) {
	if spec.Type == TypeWorkflow {
		return c.buildSubflowEntry(spec, refChain)
	}
	params, ov, batch, errs := splitParams(spec)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	factory, iface, err := c.registry.Lookup(spec.Type)
	if err != nil {
		return nil, err
	}
	impl, err := factory(params)
	if err != nil {
		return nil, fmt.Errorf("instantiate %q: %w", spec.Type, err)
	}
	return &graph.Entry{
		ID:        spec.ID,
		Type:      spec.Type,
		Node:      impl,
		Interface: ov.apply(iface),
		Params:    params,
		Batch:     batch,
	}, nil
}

// buildSubflowEntry compiles a workflow node: the sub-document (inline or
// via ref) becomes its own graph, embedded behind a node that runs it on a
// fresh store.
func (c *Compiler) buildSubflowEntry(spec *NodeSpec, refChain []string) (*graph.Entry, error) {
	sub, chain, err := c.subDocument(spec, refChain)
	if err != nil {
		return nil, err
	}
	subGraph, err := c.build(sub, chain)
	if err != nil {
		return nil, fmt.Errorf("sub-workflow: %w", err)
	}
	_, ov, _, errs := splitParams(spec)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	params := map[string]any{}
	if inputs, ok := spec.Params[ParamInputs]; ok {
		params[ParamInputs] = inputs
	}
	return &graph.Entry{
		ID:        spec.ID,
		Type:      TypeWorkflow,
		Node:      newSubflowNode(sub, subGraph, c.maxDepth),
		Interface: ov.apply(subflowInterface()),
		Params:    params,
	}, nil
}

func (c *Compiler) subDocument(spec *NodeSpec, refChain []string) (*Document, []string, error) {
	if ref, ok := spec.Params[ParamRef]; ok {
		name, _ := ref.(string)
		for _, seen := range refChain {
			if seen == name {
				return nil, nil, fmt.Errorf("workflow ref cycle through %q", name)
			}
		}
		sub, ok := c.catalog.Resolve(name)
		if !ok {
			return nil, nil, fmt.Errorf("workflow ref %q not found in catalog", name)
		}
		return sub, append(refChain, name), nil
	}
	raw, ok := spec.Params[ParamDocument].(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("workflow node requires %q or %q", ParamDocument, ParamRef)
	}
	sub, err := decodeInline(raw)
	if err != nil {
		return nil, nil, err
	}
	return sub, refChain, nil
}

// decodeInline converts an inline workflow mapping into a Document via a
// strict JSON round trip, so inline documents obey the same schema as
// top-level ones.
func decodeInline(raw map[string]any) (*Document, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode inline workflow: %w", err)
	}
	return NewParser().Parse(data)
}

// BuildInputs coerces supplied values against the document's input specs,
// fills defaults, and reports missing required inputs. It returns the seeded
// values plus the sensitive input names.
func BuildInputs(doc *Document, supplied map[string]any) (map[string]any, []string, error) {
	values := make(map[string]any, len(doc.Inputs))
	var sensitive []string
	for _, name := range sortedInputNames(doc) {
		spec := doc.Inputs[name]
		vt, err := spec.ValueType()
		if err != nil {
			return nil, nil, fmt.Errorf("input %q: %w", name, err)
		}
		raw, given := supplied[name]
		if !given {
			if spec.Default != nil {
				raw = spec.Default
			} else if spec.Required {
				return nil, nil, diag.Newf(diag.KindValidation,
					"required input %q not supplied", name)
			} else {
				continue
			}
		}
		coerced, err := node.Coerce(raw, vt)
		if err != nil {
			return nil, nil, diag.Newf(diag.KindValidation,
				"input %q: %v", name, err)
		}
		values[name] = coerced
		if spec.Sensitive {
			sensitive = append(sensitive, name)
		}
	}
	for name := range supplied {
		if _, declared := doc.Inputs[name]; !declared {
			return nil, nil, diag.Newf(diag.KindValidation,
				"input %q is not declared by the workflow", name)
		}
	}
	return values, sensitive, nil
}
