//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package node

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-flow-go/store"
)

func TestFuncs_Defaults(t *testing.T) {
	n := &Funcs{}
	ctx := context.Background()
	view := store.New().View("n")

	prep, err := n.Prep(ctx, view)
	require.NoError(t, err)
	assert.Nil(t, prep)

	result, err := n.Exec(ctx, "state")
	require.NoError(t, err)
	assert.Equal(t, "state", result, "nil exec passes the prep state through")

	action, err := n.Post(ctx, view, prep, result)
	require.NoError(t, err)
	assert.Equal(t, ActionDefault, action)
}

func TestWithFallback(t *testing.T) {
	base := &Funcs{
		ExecFunc: func(ctx context.Context, prepState any) (any, error) {
			return nil, errors.New("boom")
		},
	}
	_, isFallbacker := any(base).(Fallbacker)
	assert.False(t, isFallbacker, "plain Funcs must not advertise a fallback")

	n := WithFallback(base, func(ctx context.Context, prepState any, cause error) (any, error) {
		return "recovered", nil
	})
	fb, ok := n.(Fallbacker)
	require.True(t, ok)
	v, err := fb.ExecFallback(context.Background(), nil, errors.New("boom"))
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
}

func TestInterface_Normalize(t *testing.T) {
	i := Interface{}.Normalize()
	assert.Equal(t, 1, i.MaxRetries)
	assert.Equal(t, 1, i.MaxVisits)
	assert.Equal(t, []string{ActionDefault}, i.Actions)

	declared := Interface{Actions: []string{"default", "error"}, MaxRetries: 3}.Normalize()
	assert.Equal(t, 3, declared.MaxRetries)
	assert.True(t, declared.DeclaresAction("error"))
	assert.False(t, declared.DeclaresAction("retry"))
}

func TestParseValueType(t *testing.T) {
	cases := map[string]ValueType{
		"string": TypeString, "str": TypeString,
		"integer": TypeInteger, "int": TypeInteger,
		"number": TypeNumber, "float": TypeNumber,
		"boolean": TypeBoolean, "bool": TypeBoolean,
		"object": TypeObject, "dict": TypeObject,
		"array": TypeArray, "list": TypeArray,
		"String": TypeString, " int ": TypeInteger,
	}
	for in, want := range cases {
		got, err := ParseValueType(in)
		require.NoError(t, err, "ParseValueType(%q)", in)
		assert.Equal(t, want, got)
	}

	_, err := ParseValueType("tuple")
	assert.Error(t, err)
}

func TestCoerce(t *testing.T) {
	cases := []struct {
		name    string
		value   any
		typ     ValueType
		want    any
		wantErr bool
	}{
		{"string passthrough", "x", TypeString, "x", false},
		{"int to string", 42, TypeString, "42", false},
		{"bool to string", true, TypeString, "true", false},
		{"object to string", map[string]any{}, TypeString, nil, true},
		{"int passthrough", 7, TypeInteger, 7, false},
		{"integral float narrows", float64(5), TypeInteger, 5, false},
		{"fractional float rejected", 5.5, TypeInteger, nil, true},
		{"numeric string parses", "12", TypeInteger, 12, false},
		{"bad numeric string", "12x", TypeInteger, nil, true},
		{"int widens to number", 3, TypeNumber, float64(3), false},
		{"number string parses", "2.5", TypeNumber, 2.5, false},
		{"bool passthrough", true, TypeBoolean, true, false},
		{"true string", "True", TypeBoolean, true, false},
		{"zero string", "0", TypeBoolean, false, false},
		{"int one", 1, TypeBoolean, true, false},
		{"int two rejected", 2, TypeBoolean, nil, true},
		{"object passthrough", map[string]any{"a": 1}, TypeObject, map[string]any{"a": 1}, false},
		{"array passthrough", []any{1}, TypeArray, []any{1}, false},
		{"string to array rejected", "nope", TypeArray, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Coerce(tc.value, tc.typ)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestApplyParamSpecs(t *testing.T) {
	specs := []ParamSpec{
		{Name: "url", Type: TypeString, Required: true},
		{Name: "limit", Type: TypeInteger, Default: "10"},
		{Name: "note", Type: TypeString},
	}

	out, err := ApplyParamSpecs(map[string]any{"url": "https://x", "extra": true}, specs)
	require.NoError(t, err)
	assert.Equal(t, "https://x", out["url"])
	assert.Equal(t, 10, out["limit"], "declared default must coerce to the param type")
	assert.Equal(t, true, out["extra"], "unknown keys pass through")
	_, hasNote := out["note"]
	assert.False(t, hasNote)

	_, err = ApplyParamSpecs(map[string]any{}, specs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required param "url"`)

	_, err = ApplyParamSpecs(map[string]any{"url": "x", "limit": "ten"}, specs)
	require.Error(t, err)
}
