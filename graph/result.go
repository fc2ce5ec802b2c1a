//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"trpc.group/trpc-go/trpc-flow-go/diag"
)

// RunStatus is the terminal state of a run.
type RunStatus string

// Run statuses.
const (
	StatusSuccess   RunStatus = "success"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// RunResult is the envelope every run returns: the status, the evaluated
// outputs, the aggregated diagnostics, and, on failure, the failing node and
// phase. Failure and cancelled envelopes always carry a store snapshot;
// success envelopes carry one on request.
type RunResult struct {
	RunID  string    `json:"run_id"`
	Status RunStatus `json:"status"`
	// Outputs holds the evaluated outputs mapping. On failed and cancelled
	// runs it holds whatever subset still resolved over the partial state.
	Outputs     map[string]any   `json:"outputs,omitempty"`
	Error       *diag.Error      `json:"error,omitempty"`
	FailedNode  string           `json:"failed_node,omitempty"`
	Phase       string           `json:"phase,omitempty"`
	Diagnostics diag.Diagnostics `json:"diagnostics,omitempty"`
	// Snapshot is the deep-copied, redacted store state.
	Snapshot map[string]map[string]any `json:"store_snapshot,omitempty"`
}

// Success reports whether the run completed without an unhandled failure.
func (r *RunResult) Success() bool {
	return r.Status == StatusSuccess
}
