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
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-flow-go/node"
	"trpc.group/trpc-go/trpc-flow-go/store"
)

// Transform operations.
const (
	OpUpper  = "upper"
	OpLower  = "lower"
	OpTrim   = "trim"
	OpJoin   = "join"
	OpSplit  = "split"
	OpLength = "length"
	OpPick   = "pick"
)

// transformNode applies one string or collection operation to its value
// param and writes the result.
type transformNode struct {
	op  string
	sep string
	key string
}

func newTransform(params map[string]any) (node.Node, error) {
	op, _ := params["op"].(string)
	switch op {
	case OpUpper, OpLower, OpTrim, OpJoin, OpSplit, OpLength, OpPick:
	default:
		return nil, fmt.Errorf("transform: unsupported op %q", op)
	}
	t := &transformNode{op: op, sep: ","}
	if sep, ok := params["sep"].(string); ok {
		t.sep = sep
	}
	if key, ok := params["key"].(string); ok {
		t.key = key
	}
	if op == OpPick && t.key == "" {
		return nil, fmt.Errorf("transform: op %q requires the key param", OpPick)
	}
	return t, nil
}

func transformInterface() node.Interface {
	return node.Interface{
		Writes: []string{"result"},
		Params: []node.ParamSpec{
			{Name: "op", Type: node.TypeString, Required: true,
				Description: "one of upper, lower, trim, join, split, length, pick"},
			{Name: "sep", Type: node.TypeString, Default: ",",
				Description: "separator for join and split"},
			{Name: "key", Type: node.TypeString,
				Description: "field to pick from an object value"},
		},
		Description: "applies a string or collection operation to its value param",
	}.Normalize()
}

// Prep reads the resolved value param. The op was fixed at instantiation,
// but sep and key may carry templates, so they re-resolve per visit.
func (t *transformNode) Prep(ctx context.Context, view *store.View) (any, error) {
	value, ok := view.Param("value")
	if !ok {
		return nil, fmt.Errorf("transform: value param is required")
	}
	state := &transformState{op: t.op, sep: t.sep, key: t.key, value: value}
	if sep, ok := view.Param("sep"); ok {
		if s, isString := sep.(string); isString {
			state.sep = s
		}
	}
	if key, ok := view.Param("key"); ok {
		if s, isString := key.(string); isString {
			state.key = s
		}
	}
	return state, nil
}

type transformState struct {
	op    string
	sep   string
	key   string
	value any
}

func (t *transformNode) Exec(ctx context.Context, prepState any) (any, error) {
	state := prepState.(*transformState)
	switch state.op {
	case OpUpper:
		s, err := asString(state.value)
		if err != nil {
			return nil, err
		}
		return strings.ToUpper(s), nil
	case OpLower:
		s, err := asString(state.value)
		if err != nil {
			return nil, err
		}
		return strings.ToLower(s), nil
	case OpTrim:
		s, err := asString(state.value)
		if err != nil {
			return nil, err
		}
		return strings.TrimSpace(s), nil
	case OpJoin:
		items, ok := state.value.([]any)
		if !ok {
			return nil, fmt.Errorf("transform: join expects an array, got %T", state.value)
		}
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = fmt.Sprintf("%v", item)
		}
		return strings.Join(parts, state.sep), nil
	case OpSplit:
		s, err := asString(state.value)
		if err != nil {
			return nil, err
		}
		parts := strings.Split(s, state.sep)
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil
	case OpLength:
		switch v := state.value.(type) {
		case string:
			return len(v), nil
		case []any:
			return len(v), nil
		case map[string]any:
			return len(v), nil
		default:
			return nil, fmt.Errorf("transform: length expects a string, array or object, got %T", state.value)
		}
	case OpPick:
		obj, ok := state.value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("transform: pick expects an object, got %T", state.value)
		}
		v, ok := obj[state.key]
		if !ok {
			return nil, fmt.Errorf("transform: key %q not present in value", state.key)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("transform: unsupported op %q", state.op)
	}
}

func (t *transformNode) Post(ctx context.Context, view *store.View, prepState, execResult any) (string, error) {
	if err := view.Write("result", execResult); err != nil {
		return "", err
	}
	return node.ActionDefault, nil
}

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("transform: expected a string value, got %T", v)
	}
	return s, nil
}
