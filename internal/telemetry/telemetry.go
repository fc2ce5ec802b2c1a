//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package telemetry holds the shared OpenTelemetry handles the engine records
// to. The providers default to no-ops; telemetry/trace.Start and
// telemetry/metric.Start swap in real OTLP-backed providers.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// telemetry service constants.
const (
	ServiceName      = "trpc-flow-go"
	ServiceVersion   = "v0.1.0"
	ServiceNamespace = "trpc-go-flow"
	InstrumentName   = "trpc.flow.go"
)

const (
	// ProtocolGRPC uses gRPC protocol for OTLP exporter.
	ProtocolGRPC string = "grpc"
	// ProtocolHTTP uses HTTP protocol for OTLP exporter.
	ProtocolHTTP string = "http"
)

// Attribute keys attached to workflow spans and metrics.
const (
	KeyRunID      = "trpc.flow.run.id"
	KeyRunStatus  = "trpc.flow.run.status"
	KeyNodeID     = "trpc.flow.node.id"
	KeyNodeType   = "trpc.flow.node.type"
	KeyNodeVisit  = "trpc.flow.node.visit"
	KeyNodeAction = "trpc.flow.node.action"
	KeyPhase      = "trpc.flow.node.phase"
	KeyErrorKind  = "trpc.flow.error.kind"
	KeyBatchSize  = "trpc.flow.batch.size"
)

// Span name prefixes.
const (
	SpanNameRun        = "workflow_run"
	SpanPrefixNode     = "node"
	OperationRun       = "run"
	OperationNodeVisit = "node_visit"
)

// NewNodeSpanName creates the span name for one node visit, e.g. "node fetch".
func NewNodeSpanName(nodeID string) string {
	return fmt.Sprintf("%s %s", SpanPrefixNode, nodeID)
}

// TracerProvider and MeterProvider back the package handles below. They stay
// no-ops until telemetry/trace.Start or telemetry/metric.Start replaces them.
var (
	TracerProvider trace.TracerProvider = tracenoop.NewTracerProvider()
	MeterProvider  metric.MeterProvider = metricnoop.NewMeterProvider()

	// Tracer is the engine tracer: one run span plus a child span per node
	// visit.
	Tracer trace.Tracer = TracerProvider.Tracer(InstrumentName)

	// Meter and the engine instruments.
	Meter                metric.Meter            = MeterProvider.Meter(InstrumentName)
	MetricRunCount       metric.Int64Counter     = metricnoop.Int64Counter{}
	MetricRunDuration    metric.Float64Histogram = metricnoop.Float64Histogram{}
	MetricNodeVisitCount metric.Int64Counter     = metricnoop.Int64Counter{}
	MetricExecDuration   metric.Float64Histogram = metricnoop.Float64Histogram{}
	MetricRetryCount     metric.Int64Counter     = metricnoop.Int64Counter{}
	MetricBatchItemCount metric.Int64Counter     = metricnoop.Int64Counter{}
)

// Metric instrument names.
const (
	MetricNameRunCount       = "trpc_flow_run_count"
	MetricNameRunDuration    = "trpc_flow_run_duration"
	MetricNameNodeVisitCount = "trpc_flow_node_visit_count"
	MetricNameExecDuration   = "trpc_flow_node_exec_duration"
	MetricNameRetryCount     = "trpc_flow_node_retry_count"
	MetricNameBatchItemCount = "trpc_flow_batch_item_count"
)

// InitMeter rebuilds the engine instruments against mp. Called by
// telemetry/metric.Start after the provider is up.
func InitMeter(mp metric.MeterProvider) error {
	MeterProvider = mp
	Meter = mp.Meter(InstrumentName)
	var err error
	if MetricRunCount, err = Meter.Int64Counter(
		MetricNameRunCount,
		metric.WithDescription("Total number of workflow runs"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create metric %s: %w", MetricNameRunCount, err)
	}
	if MetricRunDuration, err = Meter.Float64Histogram(
		MetricNameRunDuration,
		metric.WithDescription("Duration of workflow runs"),
		metric.WithUnit("s"),
	); err != nil {
		return fmt.Errorf("failed to create metric %s: %w", MetricNameRunDuration, err)
	}
	if MetricNodeVisitCount, err = Meter.Int64Counter(
		MetricNameNodeVisitCount,
		metric.WithDescription("Total number of node visits"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create metric %s: %w", MetricNameNodeVisitCount, err)
	}
	if MetricExecDuration, err = Meter.Float64Histogram(
		MetricNameExecDuration,
		metric.WithDescription("Duration of node exec phases, retries included"),
		metric.WithUnit("s"),
	); err != nil {
		return fmt.Errorf("failed to create metric %s: %w", MetricNameExecDuration, err)
	}
	if MetricRetryCount, err = Meter.Int64Counter(
		MetricNameRetryCount,
		metric.WithDescription("Total number of exec retries"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create metric %s: %w", MetricNameRetryCount, err)
	}
	if MetricBatchItemCount, err = Meter.Int64Counter(
		MetricNameBatchItemCount,
		metric.WithDescription("Total number of batch item invocations"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create metric %s: %w", MetricNameBatchItemCount, err)
	}
	return nil
}

// InitTracer swaps in a real tracer provider. Called by telemetry/trace.Start.
func InitTracer(tp trace.TracerProvider) {
	TracerProvider = tp
	Tracer = tp.Tracer(InstrumentName)
}

// IncRun counts one workflow run start.
func IncRun(ctx context.Context, runID string) {
	MetricRunCount.Add(ctx, 1,
		metric.WithAttributes(attribute.String(KeyRunID, runID)))
}

// RecordRunDuration records a completed run with its final status.
func RecordRunDuration(ctx context.Context, runID, status string, duration time.Duration) {
	MetricRunDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String(KeyRunID, runID),
			attribute.String(KeyRunStatus, status),
		))
}

// IncNodeVisit counts one node visit.
func IncNodeVisit(ctx context.Context, nodeID, nodeType string) {
	MetricNodeVisitCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(KeyNodeID, nodeID),
			attribute.String(KeyNodeType, nodeType),
		))
}

// RecordExecDuration records one node's exec phase, retries included.
func RecordExecDuration(ctx context.Context, nodeID, nodeType string, duration time.Duration) {
	MetricExecDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String(KeyNodeID, nodeID),
			attribute.String(KeyNodeType, nodeType),
		))
}

// IncRetry counts one exec retry.
func IncRetry(ctx context.Context, nodeID, nodeType string) {
	MetricRetryCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(KeyNodeID, nodeID),
			attribute.String(KeyNodeType, nodeType),
		))
}

// IncBatchItem counts one batch item invocation.
func IncBatchItem(ctx context.Context, nodeID string) {
	MetricBatchItemCount.Add(ctx, 1,
		metric.WithAttributes(attribute.String(KeyNodeID, nodeID)))
}
