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
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-flow-go/diag"
	"trpc.group/trpc-go/trpc-flow-go/node"
	"trpc.group/trpc-go/trpc-flow-go/store"
)

func newRunStore() *store.Store {
	return store.New(
		store.WithInputs(map[string]any{"url": "https://example.com"}, nil),
		store.WithMeta(map[string]any{store.MetaRunID: "run-test"}),
	)
}

// writerNode writes fixed values into its namespace and returns action.
func writerNode(values map[string]any, action string) node.Node {
	return &node.Funcs{
		PostFunc: func(ctx context.Context, view *store.View, prepState, execResult any) (string, error) {
			for k, v := range values {
				if err := view.Write(k, v); err != nil {
					return "", err
				}
			}
			return action, nil
		},
	}
}

func failingNode(err error) node.Node {
	return &node.Funcs{
		ExecFunc: func(ctx context.Context, prepState any) (any, error) {
			return nil, err
		},
	}
}

func addEntry(t *testing.T, g *Graph, id string, n node.Node, iface node.Interface) {
	t.Helper()
	require.NoError(t, g.Add(&Entry{
		ID:        id,
		Type:      "test",
		Node:      n,
		Interface: iface.Normalize(),
		Params:    map[string]any{},
	}))
}

func TestExecutor_LinearRun(t *testing.T) {
	g := New()
	addEntry(t, g, "fetch", writerNode(map[string]any{"body": "payload"}, node.ActionDefault), node.Interface{})
	addEntry(t, g, "publish", writerNode(map[string]any{"done": true}, node.ActionDefault), node.Interface{})
	require.NoError(t, g.Connect("fetch", node.ActionDefault, "publish"))
	require.NoError(t, g.SetStart("fetch"))
	require.NoError(t, g.SetOutput("body", "${fetch.body}"))
	require.NoError(t, g.Finalize())

	result, err := NewExecutor().Execute(context.Background(), g, newRunStore())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "run-test", result.RunID)
	assert.Equal(t, "payload", result.Outputs["body"])
	assert.Nil(t, result.Snapshot)
}

func TestExecutor_ErrorRouting(t *testing.T) {
	g := New()
	addEntry(t, g, "validate", failingNode(errors.New("payload rejected")),
		node.Interface{MaxRetries: 2, Actions: []string{node.ActionDefault, node.ActionError}})
	notify := &node.Funcs{
		PrepFunc: func(ctx context.Context, view *store.View) (any, error) {
			return view.Read("validate.error")
		},
		PostFunc: func(ctx context.Context, view *store.View, prepState, execResult any) (string, error) {
			return node.ActionDefault, view.Write("alert", prepState)
		},
	}
	addEntry(t, g, "notify", notify, node.Interface{})
	require.NoError(t, g.Connect("validate", node.ActionError, "notify"))
	require.NoError(t, g.SetStart("validate"))
	require.NoError(t, g.Finalize())

	st := newRunStore()
	result, err := NewExecutor().Execute(context.Background(), g, st)
	require.NoError(t, err)

	// The failure routed instead of halting the run.
	require.Equal(t, StatusSuccess, result.Status)
	record, ok := st.Get("validate", "error")
	require.True(t, ok)
	rec := record.(map[string]any)
	assert.Equal(t, string(diag.KindNodeFailure), rec["kind"])
	assert.Equal(t, 2, rec["attempts"])
	assert.Contains(t, rec["last_cause"], "payload rejected")

	alert, ok := st.Get("notify", "alert")
	require.True(t, ok)
	assert.Equal(t, record, alert)

	require.NotEmpty(t, result.Diagnostics.Warnings())
}

func TestExecutor_FailureWithoutErrorEdgeHalts(t *testing.T) {
	g := New()
	addEntry(t, g, "validate", failingNode(errors.New("boom")), node.Interface{MaxRetries: 3})
	require.NoError(t, g.SetStart("validate"))
	require.NoError(t, g.Finalize())

	result, err := NewExecutor().Execute(context.Background(), g, newRunStore())
	require.NoError(t, err)
	require.Equal(t, StatusFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, diag.KindNodeFailure, result.Error.Kind)
	assert.Equal(t, "validate", result.FailedNode)
	assert.Equal(t, diag.PhaseExec, result.Phase)
	assert.Equal(t, 3, result.Error.Attempts)
	assert.NotNil(t, result.Snapshot)
}

func TestExecutor_RetrySucceedsMidBudget(t *testing.T) {
	var calls atomic.Int32
	flaky := &node.Funcs{
		ExecFunc: func(ctx context.Context, prepState any) (any, error) {
			if calls.Add(1) < 3 {
				return nil, errors.New("transient")
			}
			return "ok", nil
		},
	}
	g := New()
	addEntry(t, g, "flaky", flaky, node.Interface{MaxRetries: 5})
	require.NoError(t, g.SetStart("flaky"))
	require.NoError(t, g.Finalize())

	var retries int
	exec := NewExecutor(WithEventHandler(func(ev Event) {
		if ev.Type == EventNodeRetried {
			retries++
		}
	}))
	result, err := exec.Execute(context.Background(), g, newRunStore())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2, retries)
}

func TestExecutor_FallbackRecovers(t *testing.T) {
	inner := node.WithFallback(&node.Funcs{
		ExecFunc: func(ctx context.Context, prepState any) (any, error) {
			return nil, errors.New("always fails")
		},
		PostFunc: func(ctx context.Context, view *store.View, prepState, execResult any) (string, error) {
			return node.ActionDefault, view.Write("value", execResult)
		},
	}, func(ctx context.Context, prepState any, cause error) (any, error) {
		return "fallback-value", nil
	})
	g := New()
	addEntry(t, g, "guarded", inner, node.Interface{MaxRetries: 2})
	require.NoError(t, g.SetStart("guarded"))
	require.NoError(t, g.Finalize())

	st := newRunStore()
	var sawFallback bool
	exec := NewExecutor(WithEventHandler(func(ev Event) {
		if ev.Type == EventNodeFallback {
			sawFallback = true
		}
	}))
	result, err := exec.Execute(context.Background(), g, st)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.True(t, sawFallback)
	v, ok := st.Get("guarded", "value")
	require.True(t, ok)
	assert.Equal(t, "fallback-value", v)
}

func TestExecutor_NodeTimeout(t *testing.T) {
	slow := &node.Funcs{
		ExecFunc: func(ctx context.Context, prepState any) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return "done", nil
			}
		},
	}
	g := New()
	addEntry(t, g, "slow", slow, node.Interface{Timeout: 20 * time.Millisecond})
	require.NoError(t, g.SetStart("slow"))
	require.NoError(t, g.Finalize())

	result, err := NewExecutor().Execute(context.Background(), g, newRunStore())
	require.NoError(t, err)
	require.Equal(t, StatusFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, diag.KindNodeTimeout, result.Error.Kind)
}

func TestExecutor_LoopBudget(t *testing.T) {
	g := New()
	addEntry(t, g, "loop", writerNode(nil, node.ActionDefault), node.Interface{MaxVisits: 3})
	require.NoError(t, g.Connect("loop", node.ActionDefault, "loop"))
	require.NoError(t, g.SetStart("loop"))
	require.NoError(t, g.Finalize())

	result, err := NewExecutor().Execute(context.Background(), g, newRunStore())
	require.NoError(t, err)
	require.Equal(t, StatusFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, diag.KindLoopBudgetExceeded, result.Error.Kind)
	assert.Equal(t, "loop", result.FailedNode)
}

func TestExecutor_LoopWithinBudget(t *testing.T) {
	var visits int
	looper := &node.Funcs{
		PostFunc: func(ctx context.Context, view *store.View, prepState, execResult any) (string, error) {
			visits++
			if visits < 3 {
				return "again", nil
			}
			return node.ActionDefault, view.Write("count", visits)
		},
	}
	g := New()
	addEntry(t, g, "loop", looper, node.Interface{MaxVisits: 5, Actions: []string{node.ActionDefault, "again"}})
	require.NoError(t, g.Connect("loop", "again", "loop"))
	require.NoError(t, g.SetStart("loop"))
	require.NoError(t, g.SetOutput("count", "${loop.count}"))
	require.NoError(t, g.Finalize())

	result, err := NewExecutor().Execute(context.Background(), g, newRunStore())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 3, result.Outputs["count"])
}

func TestExecutor_CancellationBetweenNodes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := &node.Funcs{
		PostFunc: func(ctx context.Context, view *store.View, prepState, execResult any) (string, error) {
			cancel()
			return node.ActionDefault, view.Write("done", true)
		},
	}
	g := New()
	addEntry(t, g, "first", first, node.Interface{})
	addEntry(t, g, "second", writerNode(map[string]any{"x": 1}, node.ActionDefault), node.Interface{})
	require.NoError(t, g.Connect("first", node.ActionDefault, "second"))
	require.NoError(t, g.SetStart("first"))
	require.NoError(t, g.Finalize())

	st := newRunStore()
	result, err := NewExecutor().Execute(ctx, g, st)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, diag.KindCancellation, result.Error.Kind)
	// The first node's writes survive in the snapshot.
	require.NotNil(t, result.Snapshot)
	assert.Equal(t, true, result.Snapshot["first"]["done"])
	_, ran := st.Get("second", "x")
	assert.False(t, ran)
}

func TestExecutor_RunDeadline(t *testing.T) {
	slow := &node.Funcs{
		ExecFunc: func(ctx context.Context, prepState any) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return nil, nil
			}
		},
	}
	g := New()
	addEntry(t, g, "slow", slow, node.Interface{})
	require.NoError(t, g.SetStart("slow"))
	require.NoError(t, g.Finalize())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	result, err := NewExecutor().Execute(ctx, g, newRunStore())
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, result.Status)
	var sawRunTimeout bool
	for _, d := range result.Diagnostics {
		if d.Code == diag.CodeRunTimeout {
			sawRunTimeout = true
		}
	}
	assert.True(t, sawRunTimeout, "expected a run_timeout diagnostic, got %v", result.Diagnostics)
}

func TestExecutor_MissingOutputOnSuccess(t *testing.T) {
	g := New()
	addEntry(t, g, "only", writerNode(map[string]any{"a": 1}, node.ActionDefault), node.Interface{})
	require.NoError(t, g.SetStart("only"))
	require.NoError(t, g.SetOutput("present", "${only.a}"))
	require.NoError(t, g.SetOutput("absent", "${only.never_written}"))
	require.NoError(t, g.Finalize())

	result, err := NewExecutor().Execute(context.Background(), g, newRunStore())
	require.NoError(t, err)
	// The run itself succeeded; the unresolvable output is an error-severity
	// diagnostic, not a failure.
	require.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 1, result.Outputs["present"])
	_, ok := result.Outputs["absent"]
	assert.False(t, ok)
	require.True(t, result.Diagnostics.HasErrors())
	assert.Equal(t, diag.CodeMissingOutput, result.Diagnostics.Errors()[0].Code)
}

func TestExecutor_ScopeViolationHalts(t *testing.T) {
	sneaky := &node.Funcs{
		PostFunc: func(ctx context.Context, view *store.View, prepState, execResult any) (string, error) {
			return node.ActionDefault, view.Write("undeclared", 1)
		},
	}
	g := New()
	addEntry(t, g, "sneaky", sneaky, node.Interface{Writes: []string{"declared"}})
	require.NoError(t, g.SetStart("sneaky"))
	require.NoError(t, g.Finalize())

	result, err := NewExecutor().Execute(context.Background(), g, newRunStore())
	require.NoError(t, err)
	require.Equal(t, StatusFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, diag.KindScopeViolation, result.Error.Kind)
}

func TestExecutor_SnapshotOnRequest(t *testing.T) {
	g := New()
	addEntry(t, g, "only", writerNode(map[string]any{"a": 1}, node.ActionDefault), node.Interface{})
	require.NoError(t, g.SetStart("only"))
	require.NoError(t, g.Finalize())

	result, err := NewExecutor(WithStoreSnapshot()).Execute(context.Background(), g, newRunStore())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)
	require.NotNil(t, result.Snapshot)
	assert.Equal(t, 1, result.Snapshot["only"]["a"])
}

func TestExecutor_EventOrder(t *testing.T) {
	g := New()
	addEntry(t, g, "one", writerNode(map[string]any{"a": 1}, node.ActionDefault), node.Interface{})
	require.NoError(t, g.SetStart("one"))
	require.NoError(t, g.Finalize())

	var types []EventType
	exec := NewExecutor(WithEventHandler(func(ev Event) {
		types = append(types, ev.Type)
		assert.Equal(t, "run-test", ev.RunID)
	}))
	result, err := exec.Execute(context.Background(), g, newRunStore())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, []EventType{
		EventRunStarted,
		EventNodeStarted,
		EventNodePhaseComplete, // prep
		EventNodePhaseComplete, // exec
		EventNodePhaseComplete, // post
		EventNodeSucceeded,
		EventRunCompleted,
	}, types)
}

func TestExecutor_TemplateParamsResolvePerVisit(t *testing.T) {
	reader := &node.Funcs{
		PrepFunc: func(ctx context.Context, view *store.View) (any, error) {
			v, _ := view.Param("target")
			return v, nil
		},
		PostFunc: func(ctx context.Context, view *store.View, prepState, execResult any) (string, error) {
			return node.ActionDefault, view.Write("got", prepState)
		},
	}
	g := New()
	require.NoError(t, g.Add(&Entry{
		ID:        "reader",
		Type:      "test",
		Node:      reader,
		Interface: node.Interface{}.Normalize(),
		Params:    map[string]any{"target": "${url}"},
	}))
	require.NoError(t, g.SetStart("reader"))
	require.NoError(t, g.Finalize())

	st := newRunStore()
	result, err := NewExecutor().Execute(context.Background(), g, st)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)
	got, ok := st.Get("reader", "got")
	require.True(t, ok)
	assert.Equal(t, "https://example.com", got)
}

func TestExecutor_NilArguments(t *testing.T) {
	_, err := NewExecutor().Execute(context.Background(), nil, newRunStore())
	assert.ErrorIs(t, err, ErrNilGraph)
	g := New()
	addEntry(t, g, "x", writerNode(nil, node.ActionDefault), node.Interface{})
	require.NoError(t, g.Finalize())
	_, err = NewExecutor().Execute(context.Background(), g, nil)
	assert.ErrorIs(t, err, ErrNilStore)
}
