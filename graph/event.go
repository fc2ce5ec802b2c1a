//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package graph

import "time"

// EventType names an instrumentation event emitted during a run.
type EventType string

// Event types, in the order a healthy run emits them.
const (
	// EventRunStarted fires once before the first node is dequeued.
	EventRunStarted EventType = "run_started"
	// EventNodeStarted fires when a node visit begins.
	EventNodeStarted EventType = "node_started"
	// EventNodePhaseComplete fires after each prep/exec/post phase.
	EventNodePhaseComplete EventType = "node_phase_complete"
	// EventNodeRetried fires before each exec re-attempt.
	EventNodeRetried EventType = "node_retried"
	// EventNodeFallback fires when exec exhausts its retries and the node's
	// fallback is consulted.
	EventNodeFallback EventType = "node_fallback"
	// EventNodeFailed fires when a visit ends in failure.
	EventNodeFailed EventType = "node_failed"
	// EventNodeSucceeded fires when a visit completes post.
	EventNodeSucceeded EventType = "node_succeeded"
	// EventBatchItemCompleted fires per batch item, success or failure.
	EventBatchItemCompleted EventType = "batch_item_completed"
	// EventRunCompleted fires once with the final status.
	EventRunCompleted EventType = "run_completed"
)

// Event is one instrumentation record. Fields beyond Type, RunID and Time
// are filled per event type.
type Event struct {
	Type     EventType
	RunID    string
	NodeID   string
	NodeType string
	// Phase is prep, exec or post on phase events.
	Phase string
	// Attempt counts exec attempts, starting at 1.
	Attempt int
	// Visit counts node visits, starting at 1.
	Visit int
	// Action is the routing action a succeeded visit returned.
	Action string
	// BatchIndex is the source-array index on batch item events.
	BatchIndex int
	// Status is the final run status on run_completed.
	Status RunStatus
	Err    error
	Time   time.Time
	// Duration covers the phase, visit or run the event closes.
	Duration time.Duration
}

// Handler receives events synchronously. Calls are serialized, so a handler
// never runs concurrently with itself, even while batch items execute on
// worker goroutines. Handlers must be quick and must not call back into the
// executor.
type Handler func(Event)
