// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package relabel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianProv/services/provenance/engine"
)

var (
	tracer = otel.Tracer("aleutian.provenance.relabel")
	meter  = otel.Meter("aleutian.provenance.relabel")
)

var (
	relabelLatency metric.Float64Histogram
	relabelTotal   metric.Int64Counter
	labelsCreated  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		relabelLatency, err = meter.Float64Histogram(
			"provenance_relabel_duration_seconds",
			metric.WithDescription("Duration of relabeling one graph"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		relabelTotal, err = meter.Int64Counter(
			"provenance_relabel_graphs_total",
			metric.WithDescription("Graphs relabeled"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		labelsCreated, err = meter.Int64Counter(
			"provenance_dictionary_labels_created_total",
			metric.WithDescription("Canonical labels added to the dictionary"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordRelabelMetrics(ctx context.Context, duration time.Duration, created int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	relabelLatency.Record(ctx, duration.Seconds(), attrs)
	relabelTotal.Add(ctx, 1, attrs)
	if created > 0 {
		labelsCreated.Add(ctx, int64(created))
	}
}

func startRelabelSpan(ctx context.Context, g *engine.Graph, iterations int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Runner.Relabel",
		trace.WithAttributes(
			attribute.String("graph.name", g.Name()),
			attribute.Int("relabel.iterations", iterations),
		),
	)
}
