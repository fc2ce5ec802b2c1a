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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-flow-go/diag"
)

func newTestStore() *Store {
	return New(
		WithInputs(map[string]any{"url": "https://example.com", "token": "s3cret"}, []string{"token"}),
		WithMeta(map[string]any{MetaRunID: "run-1", MetaVerbose: true}),
	)
}

func TestStore_GetSetHas(t *testing.T) {
	s := newTestStore()

	require.NoError(t, s.Set("fetch", "response", map[string]any{"status": 200}))
	v, ok := s.Get("fetch", "response")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"status": 200}, v)
	assert.True(t, s.Has("fetch", "response"))
	assert.False(t, s.Has("fetch", "missing"))
	assert.False(t, s.Has("missing", "response"))

	assert.Equal(t, "run-1", s.RunID())
}

func TestStore_ReservedNamespacesRejectWrites(t *testing.T) {
	s := newTestStore()

	err := s.Set(NamespaceInputs, "url", "overwritten")
	require.Error(t, err)
	assert.Equal(t, diag.KindScopeViolation, diag.KindOf(err))

	err = s.Set(NamespaceMeta, "run_id", "forged")
	require.Error(t, err)
	assert.Equal(t, diag.KindScopeViolation, diag.KindOf(err))

	err = s.Delete(NamespaceInputs, "url")
	require.Error(t, err)
	assert.Equal(t, diag.KindScopeViolation, diag.KindOf(err))
}

func TestStore_ResolveRoot(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Set("fetch", "body", "<html>"))

	ns, ok := s.ResolveRoot("fetch")
	require.True(t, ok)
	assert.Equal(t, "<html>", ns.(map[string]any)["body"])

	v, ok := s.ResolveRoot("url")
	require.True(t, ok)
	assert.Equal(t, "https://example.com", v, "input names resolve to the raw value")

	_, ok = s.ResolveRoot("nobody")
	assert.False(t, ok)
}

func TestStore_SnapshotDeepCopyAndRedaction(t *testing.T) {
	s := newTestStore()
	payload := map[string]any{"items": []any{"a", "b"}}
	require.NoError(t, s.Set("fetch", "payload", payload))

	snap := s.Snapshot()
	assert.Equal(t, Redacted, snap[NamespaceInputs]["token"], "sensitive inputs must be redacted")
	assert.Equal(t, "https://example.com", snap[NamespaceInputs]["url"])

	// Mutating the snapshot must not leak into the store.
	snap["fetch"]["payload"].(map[string]any)["items"].([]any)[0] = "mutated"
	v, _ := s.Get("fetch", "payload")
	assert.Equal(t, "a", v.(map[string]any)["items"].([]any)[0])
}

func TestView_WriteScoping(t *testing.T) {
	s := newTestStore()
	view := s.View("worker")

	require.NoError(t, view.Write("result", 7))
	v, ok := s.Get("worker", "result")
	require.True(t, ok)
	assert.Equal(t, 7, v)

	err := view.Write("peer.secret", 1)
	require.Error(t, err, "dotted keys escape the namespace and must be rejected")
	assert.Equal(t, diag.KindScopeViolation, diag.KindOf(err))

	err = s.View(NamespaceMeta).Write("run_id", "forged")
	require.Error(t, err)
	assert.Equal(t, diag.KindScopeViolation, diag.KindOf(err))
}

func TestView_DeclaredWritesEnforced(t *testing.T) {
	s := newTestStore()
	view := s.View("worker").WithAllowedWrites([]string{"out"})

	require.NoError(t, view.Write("out", 1))
	err := view.Write("other", 2)
	require.Error(t, err)
	assert.Equal(t, diag.KindScopeViolation, diag.KindOf(err))
	assert.Contains(t, err.Error(), "undeclared key")
}

func TestView_ReadAcrossNamespaces(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Set("fetch", "stats", map[string]any{"count": 3}))
	view := s.View("summarize")

	v, err := view.Read("fetch.stats.count")
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	v, err = view.Read("url")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", v)

	_, err = view.Read("fetch.stats.missing")
	require.Error(t, err)
	assert.Equal(t, diag.KindMissingTemplatePath, diag.KindOf(err))
}

func TestView_KeysDataDelete(t *testing.T) {
	s := newTestStore()
	view := s.View("worker")
	require.NoError(t, view.Write("b", 2))
	require.NoError(t, view.Write("a", 1))

	assert.Equal(t, []string{"a", "b"}, view.Keys())
	assert.True(t, view.Has("a"))

	data := view.Data()
	data["a"] = 99
	v, _ := s.Get("worker", "a")
	assert.Equal(t, 1, v, "Data returns a copy, not a write-through map")

	require.NoError(t, view.Delete("a"))
	assert.False(t, view.Has("a"))
}

func TestScratchView_IsolatesWrites(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Set("list", "items", []any{"x"}))

	item := s.ScratchView("mapper")
	require.NoError(t, item.Write("upper", "X"))

	assert.False(t, s.Has("mapper", "upper"), "scratch writes must not reach the store")
	assert.Equal(t, map[string]any{"upper": "X"}, item.Scratch())

	// The item sees its own pending writes plus the main store.
	v, err := item.Read("mapper.upper")
	require.NoError(t, err)
	assert.Equal(t, "X", v)
	v, err = item.Read("list.items[0]")
	require.NoError(t, err)
	assert.Equal(t, "x", v)
}

func TestView_ParamsCarried(t *testing.T) {
	s := newTestStore()
	view := s.View("worker").WithParams(map[string]any{"mode": "fast"})

	v, ok := view.Param("mode")
	require.True(t, ok)
	assert.Equal(t, "fast", v)
	assert.Equal(t, "worker", view.Owner())
}
