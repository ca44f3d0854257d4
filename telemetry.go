// Copyright 2016 - 2025 The excelize Authors. All rights reserved. Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package recalc

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Package-level tracer and meter for engine operations.
var (
	tracer = otel.Tracer("recalc.engine")
	meter  = otel.Meter("recalc.engine")
)

// Metrics for engine operations.
var (
	operationsTotal        metric.Int64Counter
	evaluationsTotal       metric.Int64Counter
	propagationVisitsTotal metric.Int64Counter
	operationDuration      metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		operationsTotal, err = meter.Int64Counter(
			"recalc_operations_total",
			metric.WithDescription("Total number of engine operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		evaluationsTotal, err = meter.Int64Counter(
			"recalc_evaluations_total",
			metric.WithDescription("Total number of formula evaluations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		propagationVisitsTotal, err = meter.Int64Counter(
			"recalc_propagation_visits_total",
			metric.WithDescription("Total number of dependents visited during propagation"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		operationDuration, err = meter.Float64Histogram(
			"recalc_operation_duration_seconds",
			metric.WithDescription("Duration of engine operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordOperation records the outcome and duration of an operation.
func recordOperation(ctx context.Context, operation string, duration time.Duration, err error) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("error", err != nil),
	)
	operationsTotal.Add(ctx, 1, attrs)
	operationDuration.Record(ctx, duration.Seconds(), attrs)
}

// recordEvaluation records one formula evaluation.
func recordEvaluation(ctx context.Context, mode PropagationMode) {
	if initMetrics() != nil {
		return
	}
	evaluationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode.String())))
}

// recordPropagationVisits records the dependents visited by one
// propagation.
func recordPropagationVisits(ctx context.Context, mode PropagationMode, visits int) {
	if initMetrics() != nil || visits == 0 {
		return
	}
	propagationVisitsTotal.Add(ctx, int64(visits), metric.WithAttributes(attribute.String("mode", mode.String())))
}

// startSpan creates a span for an engine operation. Tracing can be
// switched off per engine, in which case a no-op span is returned.
func (e *Engine) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if !e.cfg.TracingEnabled {
		return noop.NewTracerProvider().Tracer("").Start(ctx, operation)
	}
	return tracer.Start(ctx, "Engine."+operation,
		trace.WithAttributes(append(attrs, attribute.String("recalc.operation", operation))...),
	)
}

// endSpan records the operation error, if any, and ends the span.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
