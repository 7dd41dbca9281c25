// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("aleutian.provenance.engine")
	meter  = otel.Meter("aleutian.provenance.engine")
)

var (
	runLatency       metric.Float64Histogram
	runTotal         metric.Int64Counter
	iterationLatency metric.Float64Histogram
	vertexUpdates    metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runLatency, err = meter.Float64Histogram(
			"provenance_engine_run_duration_seconds",
			metric.WithDescription("Duration of complete vertex program runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runTotal, err = meter.Int64Counter(
			"provenance_engine_runs_total",
			metric.WithDescription("Total vertex program runs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		iterationLatency, err = meter.Float64Histogram(
			"provenance_engine_iteration_duration_seconds",
			metric.WithDescription("Duration of one engine iteration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		vertexUpdates, err = meter.Int64Counter(
			"provenance_engine_vertex_updates_total",
			metric.WithDescription("Vertex update calls issued"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordRunMetrics(ctx context.Context, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	runLatency.Record(ctx, duration.Seconds(), attrs)
	runTotal.Add(ctx, 1, attrs)
}

func recordIterationMetrics(ctx context.Context, duration time.Duration, vertices int, parallel bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("parallel", parallel))
	iterationLatency.Record(ctx, duration.Seconds(), attrs)
	vertexUpdates.Add(ctx, int64(vertices), attrs)
}

func startRunSpan(ctx context.Context, g *Graph, iterations int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Engine.Run",
		trace.WithAttributes(
			attribute.String("graph.name", g.Name()),
			attribute.Int("graph.vertices", g.NumVertices()),
			attribute.Int("graph.edges", g.NumEdges()),
			attribute.Int("engine.iterations", iterations),
		),
	)
}
