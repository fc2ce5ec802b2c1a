//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package ir defines the declarative workflow document, its parser, the
// multi-phase validator and the compiler that turns a validated document
// into an executable graph.
package ir

import (
	"time"

	"trpc.group/trpc-go/trpc-flow-go/node"
)

// Supported document versions.
const (
	Version01 = "0.1"
	Version02 = "0.2"
)

// TypeWorkflow is the reserved node type for inline sub-workflows. It is
// compiled by the compiler itself rather than resolved in the registry.
const TypeWorkflow = "workflow"

// Reserved param keys. Override keys tune the registry defaults for one
// node instance; ParamBatch declares the batch directive.
const (
	ParamMaxRetries = "max_retries"
	ParamRetryDelay = "retry_delay"
	ParamTimeout    = "timeout_seconds"
	ParamMaxVisits  = "max_visits"
	ParamBatch      = "batch"
)

// Batch directive option keys inside the ParamBatch mapping. Exactly one
// further entry binds the per-item key to the array source.
const (
	BatchConcurrency     = "concurrency"
	BatchContinueOnError = "continue_on_error"
)

// Sub-workflow param keys.
const (
	ParamDocument = "document"
	ParamRef      = "ref"
	ParamInputs   = "inputs"
)

// Document is the declarative workflow IR.
type Document struct {
	IRVersion string                `json:"ir_version" yaml:"ir_version"`
	Inputs    map[string]*InputSpec `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Nodes     []*NodeSpec           `json:"nodes" yaml:"nodes"`
	Edges     []*EdgeSpec           `json:"edges,omitempty" yaml:"edges,omitempty"`
	StartNode string                `json:"start_node,omitempty" yaml:"start_node,omitempty"`
	Outputs   map[string]string     `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// InputSpec declares one workflow input.
type InputSpec struct {
	Type        string `json:"type" yaml:"type"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Sensitive   bool   `json:"sensitive,omitempty" yaml:"sensitive,omitempty"`
}

// ValueType resolves the declared type, aliases included.
func (s *InputSpec) ValueType() (node.ValueType, error) {
	return node.ParseValueType(s.Type)
}

// NodeSpec declares one node: a unique id, a registered type and its params.
type NodeSpec struct {
	ID     string         `json:"id" yaml:"id"`
	Type   string         `json:"type" yaml:"type"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// EdgeSpec routes from one node to another on an action.
type EdgeSpec struct {
	From   string `json:"from" yaml:"from"`
	To     string `json:"to" yaml:"to"`
	Action string `json:"action,omitempty" yaml:"action,omitempty"`
}

// NormalizedAction returns the edge action, defaulting to "default".
func (e *EdgeSpec) NormalizedAction() string {
	if e.Action == "" {
		return node.ActionDefault
	}
	return e.Action
}

// Node returns the spec for id.
func (d *Document) Node(id string) (*NodeSpec, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}

// Start returns the effective start node id: explicit or the first node.
func (d *Document) Start() string {
	if d.StartNode != "" {
		return d.StartNode
	}
	if len(d.Nodes) > 0 {
		return d.Nodes[0].ID
	}
	return ""
}

// overrides are the per-node tuning knobs lifted out of reserved params.
type overrides struct {
	maxRetries *int
	retryDelay *time.Duration
	timeout    *time.Duration
	maxVisits  *int
}

// apply folds the overrides into a declared interface.
func (o overrides) apply(iface node.Interface) node.Interface {
	if o.maxRetries != nil {
		iface.MaxRetries = *o.maxRetries
	}
	if o.retryDelay != nil {
		iface.RetryDelay = *o.retryDelay
	}
	if o.timeout != nil {
		iface.Timeout = *o.timeout
	}
	if o.maxVisits != nil {
		iface.MaxVisits = *o.maxVisits
	}
	return iface.Normalize()
}
