//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-flow-go/node"
	"trpc.group/trpc-go/trpc-flow-go/registry"
	"trpc.group/trpc-go/trpc-flow-go/store"
)

func TestStockTypesRegistered(t *testing.T) {
	assert.True(t, registry.Has(TypeEcho))
	assert.True(t, registry.Has(TypeTransform))
}

func paramView(owner string, params map[string]any) (*store.Store, *store.View) {
	st := store.New(store.WithMeta(map[string]any{store.MetaRunID: "run-builtin"}))
	return st, st.View(owner).WithParams(params)
}

// drive runs one full prep/exec/post pass against the view.
func drive(t *testing.T, n node.Node, view *store.View) string {
	t.Helper()
	ctx := context.Background()
	prepState, err := n.Prep(ctx, view)
	require.NoError(t, err)
	execResult, err := n.Exec(ctx, prepState)
	require.NoError(t, err)
	action, err := n.Post(ctx, view, prepState, execResult)
	require.NoError(t, err)
	return action
}

func TestEcho(t *testing.T) {
	n, err := newEcho(nil)
	require.NoError(t, err)
	st, view := paramView("say", map[string]any{
		"message": "hello",
		"count":   3,
	})

	action := drive(t, n, view)
	assert.Equal(t, node.ActionDefault, action)

	v, ok := st.Get("say", "message")
	require.True(t, ok)
	assert.Equal(t, "hello", v)
	v, ok = st.Get("say", "count")
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestTransformOps(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		want   any
	}{
		{"upper", map[string]any{"op": "upper", "value": "abc"}, "ABC"},
		{"lower", map[string]any{"op": "lower", "value": "ABC"}, "abc"},
		{"trim", map[string]any{"op": "trim", "value": "  x  "}, "x"},
		{"join default sep", map[string]any{"op": "join", "value": []any{"a", "b", 3}}, "a,b,3"},
		{"join custom sep", map[string]any{"op": "join", "value": []any{"a", "b"}, "sep": " - "}, "a - b"},
		{"split", map[string]any{"op": "split", "value": "a,b,c"}, []any{"a", "b", "c"}},
		{"length string", map[string]any{"op": "length", "value": "abcd"}, 4},
		{"length array", map[string]any{"op": "length", "value": []any{1, 2}}, 2},
		{"pick", map[string]any{"op": "pick", "key": "x", "value": map[string]any{"x": 42}}, 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := newTransform(tt.params)
			require.NoError(t, err)
			st, view := paramView("tr", tt.params)
			drive(t, n, view)
			got, ok := st.Get("tr", "result")
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransformRejectsBadConfig(t *testing.T) {
	_, err := newTransform(map[string]any{"op": "reverse"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported op")

	_, err = newTransform(map[string]any{"op": "pick"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key")
}

func TestTransformExecErrors(t *testing.T) {
	ctx := context.Background()

	n, err := newTransform(map[string]any{"op": "upper"})
	require.NoError(t, err)
	_, view := paramView("tr", map[string]any{"op": "upper"})
	_, err = n.Prep(ctx, view)
	require.Error(t, err, "value param is required")

	n, err = newTransform(map[string]any{"op": "join"})
	require.NoError(t, err)
	_, view = paramView("tr", map[string]any{"op": "join", "value": "not an array"})
	prepState, err := n.Prep(ctx, view)
	require.NoError(t, err)
	_, err = n.Exec(ctx, prepState)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expects an array")

	n, err = newTransform(map[string]any{"op": "pick", "key": "missing"})
	require.NoError(t, err)
	_, view = paramView("tr", map[string]any{"op": "pick", "key": "missing", "value": map[string]any{}})
	prepState, err = n.Prep(ctx, view)
	require.NoError(t, err)
	_, err = n.Exec(ctx, prepState)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not present")
}

// Templates in sep resolve per visit through the params view.
func TestTransformSepFromParams(t *testing.T) {
	n, err := newTransform(map[string]any{"op": "split"})
	require.NoError(t, err)
	st, view := paramView("tr", map[string]any{"op": "split", "value": "a|b", "sep": "|"})
	drive(t, n, view)
	got, ok := st.Get("tr", "result")
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, got)
}
