//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package builtin registers the stock node types. Importing it for side
// effects makes "echo" and "transform" available in the default registry.
package builtin

import (
	"trpc.group/trpc-go/trpc-flow-go/registry"
)

// Stock node type names.
const (
	TypeEcho      = "echo"
	TypeTransform = "transform"
)

func init() {
	registry.MustRegister(TypeEcho, newEcho, echoInterface())
	registry.MustRegister(TypeTransform, newTransform, transformInterface())
}
