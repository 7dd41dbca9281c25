// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cluster

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
	tracer = otel.Tracer("aleutian.provenance.cluster")
	meter  = otel.Meter("aleutian.provenance.cluster")
)

var (
	clusterLatency    metric.Float64Histogram
	clusterIterations metric.Int64Histogram
	clusterRuns       metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		clusterLatency, err = meter.Float64Histogram(
			"provenance_cluster_duration_seconds",
			metric.WithDescription("Duration of one clustering run"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		clusterIterations, err = meter.Int64Histogram(
			"provenance_cluster_iterations",
			metric.WithDescription("Assignment passes per clustering run"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		clusterRuns, err = meter.Int64Counter(
			"provenance_cluster_runs_total",
			metric.WithDescription("Clustering runs by algorithm"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordClusterMetrics(ctx context.Context, algo string, passes int, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("algorithm", algo),
		attribute.Bool("success", success),
	)
	clusterLatency.Record(ctx, duration.Seconds(), attrs)
	clusterIterations.Record(ctx, int64(passes), attrs)
	clusterRuns.Add(ctx, 1, attrs)
}

func startClusterSpan(ctx context.Context, algo string, k, points int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "cluster."+algo,
		trace.WithAttributes(
			attribute.String("cluster.algorithm", algo),
			attribute.Int("cluster.k", k),
			attribute.Int("cluster.points", points),
		),
	)
}
