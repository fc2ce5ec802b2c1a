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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-flow-go/graph"
)

func TestCompiler_Wiring(t *testing.T) {
	doc := &Document{
		IRVersion: Version02,
		Inputs:    map[string]*InputSpec{"name": {Type: "string", Default: "x"}},
		Nodes: []*NodeSpec{
			{ID: "greet", Type: "echo", Params: map[string]any{"message": "hi ${name}"}},
			{ID: "shout", Type: "task", Params: map[string]any{"value": "${greet.message}"}},
		},
		Edges:     []*EdgeSpec{{From: "greet", To: "shout"}},
		StartNode: "greet",
		Outputs:   map[string]string{"loud": "${shout.result}"},
	}
	g, ds, err := NewCompiler(newTestRegistry(t)).Compile(doc)
	require.NoError(t, err)
	assert.False(t, ds.HasErrors())
	require.NotNil(t, g)

	assert.Equal(t, "greet", g.Start())
	entry, ok := g.Entry("greet")
	require.True(t, ok)
	assert.Equal(t, "echo", entry.Type)
	next, ok := entry.Successor("default")
	require.True(t, ok)
	assert.Equal(t, "shout", next)
	require.Contains(t, g.Outputs(), "loud")
}

func TestCompiler_ValidationFailure(t *testing.T) {
	doc := &Document{
		IRVersion: Version02,
		Nodes:     []*NodeSpec{{ID: "a", Type: "nosuch"}},
	}
	g, ds, err := NewCompiler(newTestRegistry(t)).Compile(doc)
	require.Error(t, err)
	assert.Nil(t, g)
	assert.True(t, ds.HasErrors())
}

func TestCompiler_AmbiguousRouting(t *testing.T) {
	doc := &Document{
		IRVersion: Version02,
		Nodes: []*NodeSpec{
			{ID: "a", Type: "echo"},
			{ID: "b", Type: "echo"},
			{ID: "c", Type: "echo"},
		},
		Edges: []*EdgeSpec{
			{From: "a", To: "b"},
			{From: "a", To: "c"},
		},
		StartNode: "a",
	}
	g, _, err := NewCompiler(newTestRegistry(t)).Compile(doc)
	require.Error(t, err)
	assert.Nil(t, g)
	assert.ErrorIs(t, err, graph.ErrAmbiguousRouting)
}

func TestCompiler_OverridesApplied(t *testing.T) {
	doc := &Document{
		IRVersion: Version02,
		Nodes: []*NodeSpec{
			{ID: "work", Type: "task", Params: map[string]any{
				"value":         "x",
				ParamMaxRetries: 5,
				ParamRetryDelay: 0.5,
				ParamTimeout:    2.5,
				ParamMaxVisits:  4,
			}},
		},
	}
	g, _, err := NewCompiler(newTestRegistry(t)).Compile(doc)
	require.NoError(t, err)
	entry, ok := g.Entry("work")
	require.True(t, ok)
	assert.Equal(t, 5, entry.Interface.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, entry.Interface.RetryDelay)
	assert.Equal(t, 2500*time.Millisecond, entry.Interface.Timeout)
	assert.Equal(t, 4, entry.Interface.MaxVisits)

	// Reserved params never reach the node factory.
	assert.Equal(t, map[string]any{"value": "x"}, entry.Params)
}

func TestCompiler_BatchSpec(t *testing.T) {
	doc := &Document{
		IRVersion: Version02,
		Inputs:    map[string]*InputSpec{"items": {Type: "array"}},
		Nodes: []*NodeSpec{
			{ID: "fan", Type: "task", Params: map[string]any{
				"value": "${item}",
				ParamBatch: map[string]any{
					"item":               "${items}",
					BatchConcurrency:     3,
					BatchContinueOnError: true,
				},
			}},
		},
	}
	g, _, err := NewCompiler(newTestRegistry(t)).Compile(doc)
	require.NoError(t, err)
	entry, ok := g.Entry("fan")
	require.True(t, ok)
	require.NotNil(t, entry.Batch)
	assert.Equal(t, "item", entry.Batch.Key)
	assert.Equal(t, "${items}", entry.Batch.Source)
	assert.Equal(t, 3, entry.Batch.Concurrency)
	assert.True(t, entry.Batch.ContinueOnError)
}

func TestCompiler_InlineSubflow(t *testing.T) {
	doc := &Document{
		IRVersion: Version02,
		Nodes: []*NodeSpec{
			{ID: "sub", Type: TypeWorkflow, Params: map[string]any{
				ParamDocument: map[string]any{
					"ir_version": Version02,
					"nodes": []any{
						map[string]any{"id": "inner", "type": "echo"},
					},
				},
			}},
		},
	}
	g, _, err := NewCompiler(newTestRegistry(t)).Compile(doc)
	require.NoError(t, err)
	entry, ok := g.Entry("sub")
	require.True(t, ok)
	assert.Equal(t, TypeWorkflow, entry.Type)
	_, isSubflow := entry.Node.(*subflowNode)
	assert.True(t, isSubflow)
}

func TestCompiler_RefSubflow(t *testing.T) {
	child := &Document{
		IRVersion: Version02,
		Nodes:     []*NodeSpec{{ID: "inner", Type: "echo"}},
	}
	doc := &Document{
		IRVersion: Version02,
		Nodes: []*NodeSpec{
			{ID: "sub", Type: TypeWorkflow, Params: map[string]any{ParamRef: "child"}},
		},
	}
	reg := newTestRegistry(t)

	g, _, err := NewCompiler(reg, WithCatalog(Catalog{"child": child})).Compile(doc)
	require.NoError(t, err)
	_, ok := g.Entry("sub")
	assert.True(t, ok)

	// Without the catalog the ref cannot resolve.
	g, ds, err := NewCompiler(reg).Compile(doc)
	require.Error(t, err)
	assert.Nil(t, g)
	assert.True(t, ds.HasErrors())
}

func TestBuildInputs(t *testing.T) {
	doc := &Document{
		IRVersion: Version02,
		Inputs: map[string]*InputSpec{
			"name":  {Type: "string", Required: true},
			"count": {Type: "integer", Default: 3},
			"token": {Type: "string", Sensitive: true},
		},
		Nodes: []*NodeSpec{{ID: "a", Type: "echo"}},
	}

	values, sensitive, err := BuildInputs(doc, map[string]any{"name": "x", "token": "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, "x", values["name"])
	assert.Equal(t, 3, values["count"], "default applied")
	assert.Equal(t, []string{"token"}, sensitive)

	// Supplied values coerce to the declared type.
	values, _, err = BuildInputs(doc, map[string]any{"name": "x", "count": "7"})
	require.NoError(t, err)
	assert.Equal(t, 7, values["count"])

	// Optional inputs without defaults stay unset.
	values, _, err = BuildInputs(doc, map[string]any{"name": "x"})
	require.NoError(t, err)
	_, has := values["token"]
	assert.False(t, has)

	_, _, err = BuildInputs(doc, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required input")

	_, _, err = BuildInputs(doc, map[string]any{"name": "x", "count": 1.5})
	require.Error(t, err)

	_, _, err = BuildInputs(doc, map[string]any{"name": "x", "mystery": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not declared")
}
