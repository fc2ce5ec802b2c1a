//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package node defines the contract every workflow node implements: the
// prep/exec/post lifecycle, the optional exec fallback, and the declared
// interface (reads, writes, params, actions, retry budget) the validator and
// compiler reason about.
package node

import (
	"context"
	"fmt"
	"time"

	"trpc.group/trpc-go/trpc-flow-go/store"
)

// Routing actions with engine-level meaning. Node types may declare any
// further labels they route on.
const (
	ActionDefault = "default"
	ActionError   = "error"
)

// Node is a unit of work. Prep reads inputs from the view and derives a prep
// state; Exec does the actual work and may suspend on ctx; Post writes
// outputs to the view's own namespace and returns the routing action.
// Prep and Post must be quick and must not block on I/O.
type Node interface {
	Prep(ctx context.Context, view *store.View) (any, error)
	Exec(ctx context.Context, prepState any) (any, error)
	Post(ctx context.Context, view *store.View, prepState, execResult any) (string, error)
}

// Fallbacker is the optional recovery hook consulted after exec exhausts its
// retry budget. Its return value stands in for the exec result.
type Fallbacker interface {
	ExecFallback(ctx context.Context, prepState any, cause error) (any, error)
}

// Funcs adapts plain functions to the Node interface. Nil fields fall back
// to pass-through behavior: prep yields nil, exec returns the prep state,
// post returns the default action without writing.
type Funcs struct {
	PrepFunc func(ctx context.Context, view *store.View) (any, error)
	ExecFunc func(ctx context.Context, prepState any) (any, error)
	PostFunc func(ctx context.Context, view *store.View, prepState, execResult any) (string, error)
}

// Prep implements Node.
func (f *Funcs) Prep(ctx context.Context, view *store.View) (any, error) {
	if f.PrepFunc == nil {
		return nil, nil
	}
	return f.PrepFunc(ctx, view)
}

// Exec implements Node.
func (f *Funcs) Exec(ctx context.Context, prepState any) (any, error) {
	if f.ExecFunc == nil {
		return prepState, nil
	}
	return f.ExecFunc(ctx, prepState)
}

// Post implements Node.
func (f *Funcs) Post(ctx context.Context, view *store.View, prepState, execResult any) (string, error) {
	if f.PostFunc == nil {
		return ActionDefault, nil
	}
	return f.PostFunc(ctx, view, prepState, execResult)
}

// WithFallback attaches an exec fallback to a node that does not implement
// one itself.
func WithFallback(n Node, fb func(ctx context.Context, prepState any, cause error) (any, error)) Node {
	return &fallbackNode{Node: n, fb: fb}
}

type fallbackNode struct {
	Node
	fb func(ctx context.Context, prepState any, cause error) (any, error)
}

func (f *fallbackNode) ExecFallback(ctx context.Context, prepState any, cause error) (any, error) {
	return f.fb(ctx, prepState, cause)
}

var _ Fallbacker = (*fallbackNode)(nil)

// ParamSpec describes one configuration parameter of a node type.
type ParamSpec struct {
	Name        string    `json:"name"`
	Type        ValueType `json:"type"`
	Required    bool      `json:"required"`
	Default     any       `json:"default,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Interface is the declared surface of a node type: what it reads and
// guarantees to write, its parameter schema, the actions post may return,
// and the per-visit retry and loop budgets. Zero values take engine
// defaults through Normalize.
type Interface struct {
	Reads       []string      `json:"reads,omitempty"`
	Writes      []string      `json:"writes,omitempty"`
	Params      []ParamSpec   `json:"params,omitempty"`
	Actions     []string      `json:"actions,omitempty"`
	MaxRetries  int           `json:"max_retries,omitempty"`
	RetryDelay  time.Duration `json:"retry_delay,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	MaxVisits   int           `json:"max_visits,omitempty"`
	Description string        `json:"description,omitempty"`
}

// Normalize returns a copy with defaults applied: at least one exec attempt,
// one visit, and the default action declared.
func (i Interface) Normalize() Interface {
	if i.MaxRetries < 1 {
		i.MaxRetries = 1
	}
	if i.MaxVisits < 1 {
		i.MaxVisits = 1
	}
	if len(i.Actions) == 0 {
		i.Actions = []string{ActionDefault}
	}
	return i
}

// DeclaresAction reports whether the interface lists the action.
func (i Interface) DeclaresAction(action string) bool {
	for _, a := range i.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// ParamByName returns the declared spec for a parameter.
func (i Interface) ParamByName(name string) (ParamSpec, bool) {
	for _, p := range i.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// ApplyParamSpecs fills declared defaults into params and coerces declared
// parameters to their types. Unknown keys pass through untouched; a missing
// required parameter or a failed coercion is an error.
func ApplyParamSpecs(params map[string]any, specs []ParamSpec) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	for _, spec := range specs {
		v, present := out[spec.Name]
		if !present {
			if spec.Default != nil {
				coerced, err := Coerce(spec.Default, spec.Type)
				if err != nil {
					return nil, fmt.Errorf("param %q default: %w", spec.Name, err)
				}
				out[spec.Name] = coerced
				continue
			}
			if spec.Required {
				return nil, fmt.Errorf("required param %q missing", spec.Name)
			}
			continue
		}
		coerced, err := Coerce(v, spec.Type)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", spec.Name, err)
		}
		out[spec.Name] = coerced
	}
	return out, nil
}
