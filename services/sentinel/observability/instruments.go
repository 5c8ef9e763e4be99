// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope for sentinel metrics.
const MeterName = "sentinel"

// Instruments are the pipeline's counters and histograms. All metrics use
// the "sentinel_" prefix.
//
// A nil *Instruments is valid; every method is then a no-op.
//
// Thread Safety: Safe for concurrent use after creation.
type Instruments struct {
	runsTotal          metric.Int64Counter
	runDuration        metric.Float64Histogram
	stageDuration      metric.Float64Histogram
	decisionsTotal     metric.Int64Counter
	actionsTotal       metric.Int64Counter
	gateBlocksTotal    metric.Int64Counter
	fallbacksTotal     metric.Int64Counter
	auditFailuresTotal metric.Int64Counter
	httpRequestsTotal  metric.Int64Counter
	httpDuration       metric.Float64Histogram
}

// NewInstruments registers all instruments with meter. A nil meter uses
// otel.Meter(MeterName).
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	if meter == nil {
		meter = otel.Meter(MeterName)
	}
	i := &Instruments{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&i.runsTotal, "sentinel_pipeline_runs_total", "Pipeline runs by terminal path"},
		{&i.decisionsTotal, "sentinel_decisions_total", "Decisions by recommendation tag"},
		{&i.actionsTotal, "sentinel_actions_total", "Dispatched actions by kind and result"},
		{&i.gateBlocksTotal, "sentinel_safety_gate_blocks_total", "Decisions blocked by the safety gate"},
		{&i.fallbacksTotal, "sentinel_reasoning_fallbacks_total", "Reasoning calls replaced by a fallback"},
		{&i.auditFailuresTotal, "sentinel_audit_failures_total", "Audit appends that failed"},
		{&i.httpRequestsTotal, "sentinel_http_requests_total", "HTTP requests by route and status"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", c.name, err)
		}
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&i.runDuration, "sentinel_pipeline_run_duration_seconds", "Pipeline run duration"},
		{&i.stageDuration, "sentinel_pipeline_stage_duration_seconds", "Pipeline stage duration"},
		{&i.httpDuration, "sentinel_http_request_duration_seconds", "HTTP request duration"},
	}
	for _, h := range histograms {
		*h.dst, err = meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("s"))
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", h.name, err)
		}
	}
	return i, nil
}

// RecordRun counts a finished run. path is "acted", "no_match",
// "interrupted" or "failed".
func (i *Instruments) RecordRun(ctx context.Context, path string, d time.Duration) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("path", path))
	i.runsTotal.Add(ctx, 1, attrs)
	i.runDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordStage records one stage's duration.
func (i *Instruments) RecordStage(ctx context.Context, stage string, d time.Duration) {
	if i == nil {
		return
	}
	i.stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordDecision counts a decision by tag.
func (i *Instruments) RecordDecision(ctx context.Context, tag string, fallback bool) {
	if i == nil {
		return
	}
	i.decisionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tag", tag),
		attribute.Bool("fallback", fallback)))
}

// RecordAction counts a dispatch attempt.
func (i *Instruments) RecordAction(ctx context.Context, kind string, ok bool) {
	if i == nil {
		return
	}
	i.actionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("ok", ok)))
}

// RecordGateBlock counts a blocked decision.
func (i *Instruments) RecordGateBlock(ctx context.Context) {
	if i == nil {
		return
	}
	i.gateBlocksTotal.Add(ctx, 1)
}

// RecordFallback counts a reasoning fallback for op ("assess" or "recommend").
func (i *Instruments) RecordFallback(ctx context.Context, op string) {
	if i == nil {
		return
	}
	i.fallbacksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordAuditFailure counts a failed audit append.
func (i *Instruments) RecordAuditFailure(ctx context.Context) {
	if i == nil {
		return
	}
	i.auditFailuresTotal.Add(ctx, 1)
}

// RecordHTTP counts an HTTP request.
func (i *Instruments) RecordHTTP(ctx context.Context, method, route string, status int, d time.Duration) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status))
	i.httpRequestsTotal.Add(ctx, 1, attrs)
	i.httpDuration.Record(ctx, d.Seconds(), attrs)
}
