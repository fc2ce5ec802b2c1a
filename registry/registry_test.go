//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-flow-go/node"
)

func noopFactory(params map[string]any) (node.Node, error) {
	return &node.Funcs{}, nil
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := New()
	iface := node.Interface{Writes: []string{"out"}, Actions: []string{"default", "error"}}

	require.NoError(t, r.Register("echo", noopFactory, iface))
	assert.True(t, r.Has("echo"))

	factory, got, err := r.Lookup("echo")
	require.NoError(t, err)
	require.NotNil(t, factory)
	assert.Equal(t, []string{"out"}, got.Writes)
	assert.Equal(t, 1, got.MaxRetries, "interfaces are normalized at registration")
	assert.Equal(t, 1, got.MaxVisits)

	n, err := factory(nil)
	require.NoError(t, err)
	assert.NotNil(t, n)
}

func TestRegistry_Errors(t *testing.T) {
	r := New()

	err := r.Register("", noopFactory, node.Interface{})
	assert.Error(t, err, "empty name must be rejected")

	err = r.Register("x", nil, node.Interface{})
	assert.Error(t, err, "nil factory must be rejected")

	require.NoError(t, r.Register("dup", noopFactory, node.Interface{}))
	err = r.Register("dup", noopFactory, node.Interface{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	_, _, err = r.Lookup("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown node type "nope"`)
}

func TestRegistry_MustRegisterPanicsOnDuplicate(t *testing.T) {
	r := New()
	r.MustRegister("once", noopFactory, node.Interface{})
	assert.Panics(t, func() {
		r.MustRegister("once", noopFactory, node.Interface{})
	})
}

func TestRegistry_ListSortedAndClear(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("b", noopFactory, node.Interface{}))
	require.NoError(t, r.Register("a", noopFactory, node.Interface{}))
	require.NoError(t, r.Register("c", noopFactory, node.Interface{}))

	assert.Equal(t, []string{"a", "b", "c"}, r.List())

	r.Unregister("b")
	assert.Equal(t, []string{"a", "c"}, r.List())

	r.Clear()
	assert.Empty(t, r.List())
}

func TestDefaultRegistry(t *testing.T) {
	name := "registry_test_probe"
	require.NoError(t, Register(name, noopFactory, node.Interface{}))
	defer Default().Unregister(name)

	assert.True(t, Has(name))
	_, iface, err := Lookup(name)
	require.NoError(t, err)
	assert.Equal(t, 1, iface.MaxRetries)
	assert.Contains(t, List(), name)
}
