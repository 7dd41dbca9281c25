// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package detect

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
	tracer = otel.Tracer("aleutian.provenance.detect")
	meter  = otel.Meter("aleutian.provenance.detect")
)

var (
	learnLatency    metric.Float64Histogram
	learnTotal      metric.Int64Counter
	classifyLatency metric.Float64Histogram
	verdictTotal    metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		learnLatency, err = meter.Float64Histogram(
			"provenance_learn_duration_seconds",
			metric.WithDescription("Duration of building a profile"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		learnTotal, err = meter.Int64Counter(
			"provenance_learn_total",
			metric.WithDescription("Learning runs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		classifyLatency, err = meter.Float64Histogram(
			"provenance_classify_duration_seconds",
			metric.WithDescription("Duration of classifying one graph"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		verdictTotal, err = meter.Int64Counter(
			"provenance_verdicts_total",
			metric.WithDescription("Classifications by verdict"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordLearnMetrics(ctx context.Context, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	learnLatency.Record(ctx, duration.Seconds(), attrs)
	learnTotal.Add(ctx, 1, attrs)
}

func recordClassifyMetrics(ctx context.Context, class Class, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	classifyLatency.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.Bool("success", success)))
	if success {
		verdictTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", string(class))))
	}
}

func startLearnSpan(ctx context.Context, graphs int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Orchestrator.Learn",
		trace.WithAttributes(attribute.Int("learn.graphs", graphs)),
	)
}

func startClassifySpan(ctx context.Context, graph, profileID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Orchestrator.Classify",
		trace.WithAttributes(
			attribute.String("graph.name", graph),
			attribute.String("profile.id", profileID),
		),
	)
}
