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

	"trpc.group/trpc-go/trpc-flow-go/node"
	"trpc.group/trpc-go/trpc-flow-go/store"
)

// echoNode copies its resolved params into its own namespace. It exists for
// wiring data through a graph and for exercising template resolution in
// examples and tests.
type echoNode struct{}

func newEcho(params map[string]any) (node.Node, error) {
	return &echoNode{}, nil
}

func echoInterface() node.Interface {
	return node.Interface{
		Description: "writes its resolved params into its namespace",
	}.Normalize()
}

func (e *echoNode) Prep(ctx context.Context, view *store.View) (any, error) {
	return view.Params(), nil
}

func (e *echoNode) Exec(ctx context.Context, prepState any) (any, error) {
	return prepState, nil
}

func (e *echoNode) Post(ctx context.Context, view *store.View, prepState, execResult any) (string, error) {
	params, _ := execResult.(map[string]any)
	for key, value := range params {
		if err := view.Write(key, value); err != nil {
			return "", err
		}
	}
	return node.ActionDefault, nil
}
