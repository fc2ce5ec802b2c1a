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
	"context"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-flow-go/diag"
	"trpc.group/trpc-go/trpc-flow-go/graph"
	"trpc.group/trpc-go/trpc-flow-go/node"
	"trpc.group/trpc-go/trpc-flow-go/store"
)

// depthKey tracks sub-workflow nesting through the context.
type depthKey struct{}

func depthFrom(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

// subflowNode runs an embedded, pre-compiled workflow on a fresh store. The
// parent sees only the child's declared outputs, written into the node's own
// namespace.
type subflowNode struct {
	doc      *Document
	graph    *graph.Graph
	maxDepth int
}

func newSubflowNode(doc *Document, g *graph.Graph, maxDepth int) *subflowNode {
	if maxDepth < 1 {
		maxDepth = DefaultMaxDepth
	}
	return &subflowNode{doc: doc, graph: g, maxDepth: maxDepth}
}

// subflowInterface is the declared surface of the reserved workflow type.
func subflowInterface() node.Interface {
	return node.Interface{
		Actions:     []string{node.ActionDefault, node.ActionError},
		Description: "runs an embedded workflow on an isolated store",
	}.Normalize()
}

// Prep picks up the resolved inputs mapping.
func (s *subflowNode) Prep(ctx context.Context, view *store.View) (any, error) {
	raw, _ := view.Param(ParamInputs)
	inputs, _ := raw.(map[string]any)
	return inputs, nil
}

// Exec seeds an isolated store and drives the embedded graph to completion.
func (s *subflowNode) Exec(ctx context.Context, prepState any) (any, error) {
	depth := depthFrom(ctx) + 1
	if depth > s.maxDepth {
		return nil, diag.Newf(diag.KindNodeFailure,
			"sub-workflow nesting exceeds depth limit %d", s.maxDepth)
	}
	supplied, _ := prepState.(map[string]any)
	values, sensitive, err := BuildInputs(s.doc, supplied)
	if err != nil {
		return nil, diag.Wrap(diag.KindNodeFailure, err, "seed sub-workflow inputs")
	}
	st := store.New(
		store.WithInputs(values, sensitive),
		store.WithMeta(map[string]any{
			store.MetaRunID:     uuid.NewString(),
			store.MetaStartedAt: time.Now().UTC().Format(time.RFC3339Nano),
		}),
	)
	result, err := graph.NewExecutor().Execute(
		context.WithValue(ctx, depthKey{}, depth), s.graph, st)
	if err != nil {
		return nil, err
	}
	if !result.Success() {
		if result.Error != nil {
			return nil, result.Error
		}
		return nil, diag.Newf(diag.KindNodeFailure,
			"sub-workflow finished with status %s", result.Status)
	}
	return result.Outputs, nil
}

// Post copies the child's outputs into the node's namespace.
func (s *subflowNode) Post(ctx context.Context, view *store.View, prepState, execResult any) (string, error) {
	outputs, _ := execResult.(map[string]any)
	for key, value := range outputs {
		if err := view.Write(key, value); err != nil {
			return "", err
		}
	}
	return node.ActionDefault, nil
}
