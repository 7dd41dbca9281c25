// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cluster groups provenance instances by behavior.
//
// Two K-means variants are provided. Prior runs 1-D K-means over the
// pairwise distance list to estimate how many behaviors the learning set
// holds and which instances anchor them. KMeans and KMeansMonitor run
// K-means over label count vectors with KL divergence as the metric and
// integer centroids.
//
// Assignment always scans clusters from 0 and moves only on a strictly
// smaller distance, so ties go to the lowest cluster index.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/AleutianAI/AleutianProv/services/provenance/distance"
)

// Config controls the clustering loops.
type Config struct {
	// MaxIterations caps every Lloyd loop. Default: 1000.
	MaxIterations int `yaml:"max_iterations" validate:"gte=1"`

	// Epsilon is the largest center movement Prior treats as converged.
	// Default: 1e-12.
	Epsilon float64 `yaml:"epsilon" validate:"gte=0"`

	// Method is the vector metric. Default: distance.KullbackLeibler.
	Method distance.Method `yaml:"-"`
}

// DefaultConfig returns the default clustering configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 1000,
		Epsilon:       1e-12,
		Method:        distance.KullbackLeibler,
	}
}

// PriorResult is the outcome of Prior.
type PriorResult struct {
	// Members lists data indices per cluster, ascending.
	Members [][]int

	// Distances holds |value - center| per member, parallel to Members.
	Distances [][]float64

	// Centers are the final 1-D centers.
	Centers []float64

	// Iterations is the number of assignment passes.
	Iterations int
}

// NonEmpty returns the number of clusters with at least one member.
func (r *PriorResult) NonEmpty() int {
	n := 0
	for _, m := range r.Members {
		if len(m) > 0 {
			n++
		}
	}
	return n
}

// Result is the outcome of KMeans or KMeansMonitor.
type Result struct {
	// Members lists vector indices per cluster, ascending.
	Members [][]int

	// Distances holds each member's distance to its centroid, parallel to
	// Members.
	Distances [][]float64

	// Centroids are the converged integer centroids.
	Centroids [][]int

	// Iterations is the number of assignment passes.
	Iterations int
}

// Clusterer runs the K-means variants.
//
// Thread Safety: Safe for concurrent use. The random source is guarded.
type Clusterer struct {
	config Config
	logger *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Clusterer.
//
// Inputs:
//
//	config - Loop limits and metric. Zero fields take defaults.
//	rng - Source for Prior's initial centers. Nil seeds from the runtime.
//	logger - Logger. Nil uses slog.Default().
func New(config Config, rng *rand.Rand, logger *slog.Logger) *Clusterer {
	defaults := DefaultConfig()
	if config.MaxIterations <= 0 {
		config.MaxIterations = defaults.MaxIterations
	}
	if config.Epsilon < 0 {
		config.Epsilon = defaults.Epsilon
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Clusterer{config: config, rng: rng, logger: logger}
}

// NewSeeded creates a Clusterer whose Prior is reproducible for seed.
func NewSeeded(config Config, seed uint64, logger *slog.Logger) *Clusterer {
	return New(config, rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), logger)
}

// Config returns the effective configuration.
func (c *Clusterer) Config() Config {
	return c.config
}

// Prior clusters 1-D values into k groups.
//
// Description:
//
//	Each initial center is a value drawn uniformly, with replacement,
//	from data. Each pass assigns every value to its nearest center by
//	absolute difference, then moves each center to its members' mean; a
//	cluster with no members moves to 0. The loop stops when no center
//	moves more than Epsilon.
//
// Inputs:
//
//	ctx - Checked between passes.
//	k - Cluster count, at least 1.
//	data - Values to cluster, typically the condensed distance list.
//
// Outputs:
//
//	*PriorResult - Membership from the final pass.
//	error - ErrInvalidK, ErrEmptyInput, ErrNotConverged or ctx.Err(),
//	        wrapped in *AlgorithmError.
func (c *Clusterer) Prior(ctx context.Context, k int, data []float64) (*PriorResult, error) {
	const algo = "kmeans_prior"
	if k < 1 {
		return nil, &AlgorithmError{Algorithm: algo, Operation: "init", Err: fmt.Errorf("%w: %d", ErrInvalidK, k)}
	}
	if len(data) == 0 {
		return nil, &AlgorithmError{Algorithm: algo, Operation: "init", Err: ErrEmptyInput}
	}

	ctx, span := startClusterSpan(ctx, algo, k, len(data))
	defer span.End()
	start := time.Now()

	centers := make([]float64, k)
	c.mu.Lock()
	for i := range centers {
		centers[i] = data[c.rng.IntN(len(data))]
	}
	c.mu.Unlock()

	result := &PriorResult{}
	for pass := 1; ; pass++ {
		if err := ctx.Err(); err != nil {
			recordClusterMetrics(ctx, algo, pass-1, time.Since(start), false)
			return nil, &AlgorithmError{Algorithm: algo, Operation: "assign", Err: err}
		}

		members := make([][]int, k)
		dists := make([][]float64, k)
		values := make([][]float64, k)
		for i, v := range data {
			best := 0
			bestDist := math.Abs(v - centers[0])
			for p := 1; p < k; p++ {
				if d := math.Abs(v - centers[p]); d < bestDist {
					best, bestDist = p, d
				}
			}
			members[best] = append(members[best], i)
			dists[best] = append(dists[best], bestDist)
			values[best] = append(values[best], v)
		}

		converged := true
		next := make([]float64, k)
		for q := range next {
			if len(values[q]) > 0 {
				next[q] = stat.Mean(values[q], nil)
			}
			if math.Abs(next[q]-centers[q]) > c.config.Epsilon {
				converged = false
			}
		}

		result.Members, result.Distances, result.Iterations = members, dists, pass
		if converged {
			result.Centers = next
			break
		}
		if pass >= c.config.MaxIterations {
			recordClusterMetrics(ctx, algo, pass, time.Since(start), false)
			return nil, &AlgorithmError{
				Algorithm: algo,
				Operation: "converge",
				Err:       fmt.Errorf("%w after %d passes", ErrNotConverged, pass),
			}
		}
		centers = next
	}

	recordClusterMetrics(ctx, algo, result.Iterations, time.Since(start), true)
	c.logger.Debug("prior clustering converged",
		slog.Int("k", k),
		slog.Int("points", len(data)),
		slog.Int("non_empty", result.NonEmpty()),
		slog.Int("iterations", result.Iterations),
	)
	return result, nil
}

// KMeans clusters vectors into k groups starting from the seed vectors.
//
// Description:
//
//	The initial centroid of cluster i is vectors[seeds[i]]. Each pass
//	assigns every vector to its nearest centroid by the configured
//	metric, measured as D(vector, centroid). The new centroid is the
//	component-wise integer mean of the members, truncated; a cluster
//	with no members keeps its centroid. The loop stops when no centroid
//	component changes.
//
// Inputs:
//
//	ctx - Checked between passes.
//	k - Cluster count. Must equal len(seeds).
//	seeds - Vector indices to start from.
//	vectors - Count vectors of equal length.
//
// Outputs:
//
//	*Result - Membership, member distances and centroids.
//	error - ErrInvalidK, ErrEmptyInput, ErrSeedOutOfRange, ErrNotConverged,
//	        distance errors or ctx.Err(), wrapped in *AlgorithmError.
func (c *Clusterer) KMeans(ctx context.Context, k int, seeds []int, vectors [][]int) (*Result, error) {
	const algo = "kmeans"
	if k < 1 || k != len(seeds) {
		return nil, &AlgorithmError{Algorithm: algo, Operation: "init",
			Err: fmt.Errorf("%w: k=%d with %d seeds", ErrInvalidK, k, len(seeds))}
	}
	if len(vectors) == 0 {
		return nil, &AlgorithmError{Algorithm: algo, Operation: "init", Err: ErrEmptyInput}
	}
	centroids := make([][]int, k)
	for i, s := range seeds {
		if s < 0 || s >= len(vectors) {
			return nil, &AlgorithmError{Algorithm: algo, Operation: "init",
				Err: fmt.Errorf("%w: %d of %d", ErrSeedOutOfRange, s, len(vectors))}
		}
		centroids[i] = append([]int(nil), vectors[s]...)
	}
	return c.lloyd(ctx, algo, centroids, vectors)
}

// KMeansMonitor clusters vectors starting from the given centroids.
//
// The loop is the one KMeans runs, with k = len(centroids). Used to check
// whether a monitored instance is absorbed by the learned clusters.
func (c *Clusterer) KMeansMonitor(ctx context.Context, vectors [][]int, centroids [][]int) (*Result, error) {
	const algo = "kmeans_monitor"
	if len(centroids) == 0 {
		return nil, &AlgorithmError{Algorithm: algo, Operation: "init", Err: fmt.Errorf("%w: no centroids", ErrInvalidK)}
	}
	if len(vectors) == 0 {
		return nil, &AlgorithmError{Algorithm: algo, Operation: "init", Err: ErrEmptyInput}
	}
	start := make([][]int, len(centroids))
	for i, cen := range centroids {
		start[i] = append([]int(nil), cen...)
	}
	return c.lloyd(ctx, algo, start, vectors)
}

func (c *Clusterer) lloyd(ctx context.Context, algo string, centroids [][]int, vectors [][]int) (*Result, error) {
	k := len(centroids)
	width := len(vectors[0])
	for i, v := range vectors {
		if len(v) != width {
			return nil, &AlgorithmError{Algorithm: algo, Operation: "init",
				Err: fmt.Errorf("vector %d: %w", i, distance.ErrLengthMismatch)}
		}
	}
	for i, cen := range centroids {
		if len(cen) != width {
			return nil, &AlgorithmError{Algorithm: algo, Operation: "init",
				Err: fmt.Errorf("centroid %d: %w", i, distance.ErrLengthMismatch)}
		}
	}

	ctx, span := startClusterSpan(ctx, algo, k, len(vectors))
	defer span.End()
	start := time.Now()

	fail := func(op string, passes int, err error) (*Result, error) {
		recordClusterMetrics(ctx, algo, passes, time.Since(start), false)
		span.RecordError(err)
		return nil, &AlgorithmError{Algorithm: algo, Operation: op, Err: err}
	}

	result := &Result{}
	for pass := 1; ; pass++ {
		if err := ctx.Err(); err != nil {
			return fail("assign", pass-1, err)
		}

		members := make([][]int, k)
		dists := make([][]float64, k)
		for i, v := range vectors {
			best := 0
			bestDist, err := distance.Distance(c.config.Method, v, centroids[0])
			if err != nil {
				return fail("assign", pass, fmt.Errorf("vector %d to centroid 0: %w", i, err))
			}
			for p := 1; p < k; p++ {
				d, err := distance.Distance(c.config.Method, v, centroids[p])
				if err != nil {
					return fail("assign", pass, fmt.Errorf("vector %d to centroid %d: %w", i, p, err))
				}
				if d < bestDist {
					best, bestDist = p, d
				}
			}
			members[best] = append(members[best], i)
			dists[best] = append(dists[best], bestDist)
		}

		converged := true
		next := make([][]int, k)
		for q := range next {
			if len(members[q]) == 0 {
				next[q] = centroids[q]
				continue
			}
			next[q] = integerMean(vectors, members[q], width)
			if c.config.Method != distance.Euclidean && allZero(next[q]) {
				return fail("update", pass, fmt.Errorf("centroid %d truncated to zero over %d members: %w",
					q, len(members[q]), distance.ErrAllZero))
			}
			if !slices.Equal(next[q], centroids[q]) {
				converged = false
			}
		}

		result.Members, result.Distances, result.Iterations = members, dists, pass
		if converged {
			result.Centroids = next
			break
		}
		if pass >= c.config.MaxIterations {
			return fail("converge", pass, fmt.Errorf("%w after %d passes", ErrNotConverged, pass))
		}
		centroids = next
	}

	recordClusterMetrics(ctx, algo, result.Iterations, time.Since(start), true)
	c.logger.Debug("vector clustering converged",
		slog.String("algorithm", algo),
		slog.Int("k", k),
		slog.Int("vectors", len(vectors)),
		slog.Int("iterations", result.Iterations),
	)
	return result, nil
}

func integerMean(vectors [][]int, members []int, width int) []int {
	sum := make([]int, width)
	for _, m := range members {
		for f, x := range vectors[m] {
			sum[f] += x
		}
	}
	for f := range sum {
		sum[f] /= len(members)
	}
	return sum
}

func allZero(v []int) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
