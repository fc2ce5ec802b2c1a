//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package diag defines the failure taxonomy and diagnostic records shared by
// the validator, the compiler, and the execution engine. Validation surfaces
// aggregated Diagnostic lists; runtime failures travel as *Error values that
// carry their Kind, the failing node, and the lifecycle phase.
package diag

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Severity ranks a diagnostic. Compilation proceeds past warn and info
// records and stops on error records.
type Severity string

// Diagnostic severities.
const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Lifecycle phases reported in diagnostics and failure envelopes.
const (
	PhaseValidate = "validate"
	PhaseCompile  = "compile"
	PhasePrep     = "prep"
	PhaseExec     = "exec"
	PhasePost     = "post"
	PhaseOutputs  = "outputs"
)

// Machine-readable diagnostic codes.
const (
	CodeBadVersion           = "bad_ir_version"
	CodeBadSchema            = "bad_schema"
	CodeEmptyNodes           = "empty_nodes"
	CodeBadNodeID            = "bad_node_id"
	CodeDuplicateNodeID      = "duplicate_node_id"
	CodeReservedNodeID       = "reserved_node_id"
	CodeUnknownNodeType      = "unknown_node_type"
	CodeDanglingEdge         = "dangling_edge"
	CodeMissingStartNode     = "missing_start_node"
	CodeBadInputName         = "bad_input_name"
	CodeBadInputType         = "bad_input_type"
	CodeBadDefault           = "bad_default"
	CodeMissingRequiredInput = "missing_required_input"
	CodeBadTemplate          = "bad_template"
	CodeUnresolvedTemplate   = "unresolved_template"
	CodeUnreachableNode      = "unreachable_node"
	CodeUnknownAction        = "unknown_action"
	CodeAmbiguousRouting     = "ambiguous_routing"
	CodeBadBatch             = "bad_batch"
	CodeBadParam             = "bad_param"
	CodeCyclicCompilation    = "cyclic_compilation_dependency"
	CodeLoopBudget           = "loop_budget_exceeded"
	CodeScopeViolation       = "scope_violation"
	CodeNodeFailure          = "node_failure"
	CodeNodeTimeout          = "node_timeout"
	CodeRunTimeout           = "run_timeout"
	CodeCancelled            = "cancelled"
	CodeMissingOutput        = "missing_output"
	CodeInternal             = "internal"
)

// Diagnostic is a single validation or runtime finding.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Path     string   `json:"path,omitempty"`
	Message  string   `json:"message"`
	Hint     string   `json:"hint,omitempty"`
}

// String renders the diagnostic as "severity[code] path: message".
func (d Diagnostic) String() string {
	if d.Path == "" {
		return fmt.Sprintf("%s[%s]: %s", d.Severity, d.Code, d.Message)
	}
	return fmt.Sprintf("%s[%s] %s: %s", d.Severity, d.Code, d.Path, d.Message)
}

// WithHint attaches a remediation hint.
func (d Diagnostic) WithHint(hint string) Diagnostic {
	d.Hint = hint
	return d
}

// Errorf builds an error-severity diagnostic.
func Errorf(code, path, format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SeverityError, Code: code, Path: path, Message: fmt.Sprintf(format, args...)}
}

// Warnf builds a warn-severity diagnostic.
func Warnf(code, path, format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SeverityWarn, Code: code, Path: path, Message: fmt.Sprintf(format, args...)}
}

// Infof builds an info-severity diagnostic.
func Infof(code, path, format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SeverityInfo, Code: code, Path: path, Message: fmt.Sprintf(format, args...)}
}

// Diagnostics aggregates findings across validation phases and a run.
type Diagnostics []Diagnostic

// HasErrors reports whether any record is error severity.
func (ds Diagnostics) HasErrors() bool {
	for _, d := range ds {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns the error-severity subset.
func (ds Diagnostics) Errors() Diagnostics {
	return ds.filter(SeverityError)
}

// Warnings returns the warn-severity subset.
func (ds Diagnostics) Warnings() Diagnostics {
	return ds.filter(SeverityWarn)
}

func (ds Diagnostics) filter(sev Severity) Diagnostics {
	var out Diagnostics
	for _, d := range ds {
		if d.Severity == sev {
			out = append(out, d)
		}
	}
	return out
}

// Err folds the error-severity records into a single error, or nil when the
// list carries none. The message keeps every record so callers see all
// findings at once.
func (ds Diagnostics) Err() error {
	errs := ds.Errors()
	if len(errs) == 0 {
		return nil
	}
	msg := errs[0].String()
	for _, d := range errs[1:] {
		msg += "; " + d.String()
	}
	return fmt.Errorf("%d validation error(s): %s", len(errs), msg)
}

// Kind classifies a runtime failure. The values are the wire-level names
// reported in run results and error records.
type Kind string

// Failure kinds.
const (
	KindValidation          Kind = "ValidationError"
	KindUnresolvedTemplate  Kind = "UnresolvedTemplate"
	KindMissingTemplatePath Kind = "MissingTemplatePath"
	KindNodeFailure         Kind = "NodeFailure"
	KindNodeTimeout         Kind = "NodeTimeout"
	KindScopeViolation      Kind = "ScopeViolation"
	KindLoopBudgetExceeded  Kind = "LoopBudgetExceeded"
	KindCancellation        Kind = "CancellationRequested"
	KindInternal            Kind = "InternalError"
)

// Error is a structured runtime failure. Node, Phase and Attempts are filled
// in as the failure climbs out of the wrapper chain.
type Error struct {
	Kind     Kind
	Node     string
	Phase    string
	Attempts int
	Message  string
	Cause    error
}

// Newf builds an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around a cause. When cause is
// already an *Error of the same kind it is returned unchanged.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	var de *Error
	if errors.As(cause, &de) && de.Kind == kind {
		return de
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Node != "" {
		msg = fmt.Sprintf("%s: node %q: %s", e.Kind, e.Node, e.Message)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// MarshalJSON renders the wire shape used by failure envelopes and the
// per-node error record: kind, message, attempts, last_cause.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Record())
}

// Record returns the map form written into a failing node's namespace.
func (e *Error) Record() map[string]any {
	rec := map[string]any{
		"kind":    string(e.Kind),
		"message": e.Message,
	}
	if e.Node != "" {
		rec["node"] = e.Node
	}
	if e.Phase != "" {
		rec["phase"] = e.Phase
	}
	if e.Attempts > 0 {
		rec["attempts"] = e.Attempts
	}
	if e.Cause != nil {
		rec["last_cause"] = e.Cause.Error()
	}
	return rec
}

// KindOf extracts the failure kind from err, defaulting to InternalError for
// errors that did not originate in the taxonomy.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// As unwraps err into a taxonomy *Error when possible.
func As(err error) (*Error, bool) {
	var de *Error
	ok := errors.As(err, &de)
	return de, ok
}
