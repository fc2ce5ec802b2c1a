//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package graph

import "errors"

var (
	// ErrEmptyGraph is returned when a graph finalizes with no entries.
	ErrEmptyGraph = errors.New("graph requires at least one node")
	// ErrUnknownNode is returned when an edge or the start references a node
	// that was never added.
	ErrUnknownNode = errors.New("unknown node")
	// ErrAmbiguousRouting is returned when one (node, action) pair maps to
	// more than one target.
	ErrAmbiguousRouting = errors.New("ambiguous routing")
	// ErrNilGraph is returned when the executor receives a nil graph.
	ErrNilGraph = errors.New("graph cannot be nil")
	// ErrNilStore is returned when the executor receives a nil store.
	ErrNilStore = errors.New("store cannot be nil")
)
