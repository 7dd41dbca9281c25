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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianProv/services/provenance/distance"
)

func newTestClusterer(seed uint64) *Clusterer {
	return NewSeeded(DefaultConfig(), seed, nil)
}

func TestPrior_IsolatesOutlier(t *testing.T) {
	// Whatever the initial draws, 0.9 ends up alone.
	for seed := uint64(0); seed < 16; seed++ {
		c := newTestClusterer(seed)
		res, err := c.Prior(context.Background(), 2, []float64{0.1, 0.1, 0.9})
		require.NoError(t, err, "seed %d", seed)
		require.Len(t, res.Members, 2)

		assert.ElementsMatch(t, [][]int{{0, 1}, {2}}, res.Members, "seed %d", seed)
		assert.Equal(t, 2, res.NonEmpty())
		assert.ElementsMatch(t, []float64{0.1, 0.9}, res.Centers)
	}
}

func TestPrior_DistancesParallelMembers(t *testing.T) {
	c := newTestClusterer(7)
	res, err := c.Prior(context.Background(), 1, []float64{1, 2, 6})
	require.NoError(t, err)

	require.Equal(t, [][]int{{0, 1, 2}}, res.Members)
	assert.InDelta(t, 3.0, res.Centers[0], 1e-12)
	assert.InDeltaSlice(t, []float64{2, 1, 3}, res.Distances[0], 1e-12)
}

func TestPrior_Reproducible(t *testing.T) {
	data := []float64{0.3, 0.1, 0.5, 0.2, 0.9, 0.8, 0.35, 0.11, 0.7, 0.4}
	a, err := newTestClusterer(42).Prior(context.Background(), 5, data)
	require.NoError(t, err)
	b, err := newTestClusterer(42).Prior(context.Background(), 5, data)
	require.NoError(t, err)
	assert.Equal(t, a.Members, b.Members)
	assert.Equal(t, a.Centers, b.Centers)
}

func TestPrior_InvalidInput(t *testing.T) {
	c := newTestClusterer(1)

	_, err := c.Prior(context.Background(), 0, []float64{1})
	assert.ErrorIs(t, err, ErrInvalidK)

	_, err = c.Prior(context.Background(), 2, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	var algErr *AlgorithmError
	require.True(t, errors.As(err, &algErr))
	assert.Equal(t, "kmeans_prior", algErr.Algorithm)
	assert.Equal(t, "init", algErr.Operation)
}

func TestPrior_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClusterer(1).Prior(ctx, 2, []float64{1, 2})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKMeans_IdenticalVectors(t *testing.T) {
	v := []int{4, 0, 2, 7}
	vectors := [][]int{v, v, v, v, v}

	res, err := newTestClusterer(1).KMeans(context.Background(), 1, []int{0}, vectors)
	require.NoError(t, err)

	assert.Equal(t, [][]int{{0, 1, 2, 3, 4}}, res.Members)
	assert.Equal(t, [][]int{v}, res.Centroids)
	assert.Equal(t, 1, res.Iterations)
	for _, d := range res.Distances[0] {
		assert.InDelta(t, 0.0, d, 1e-12)
	}
}

func twoBehaviors() [][]int {
	return [][]int{
		{10, 0, 0, 1},
		{9, 0, 0, 1},
		{10, 0, 0, 2},
		{0, 10, 1, 0},
		{0, 9, 1, 0},
	}
}

func TestKMeans_SeparatesBehaviors(t *testing.T) {
	res, err := newTestClusterer(1).KMeans(context.Background(), 2, []int{0, 3}, twoBehaviors())
	require.NoError(t, err)

	assert.Equal(t, [][]int{{0, 1, 2}, {3, 4}}, res.Members)
	// Truncated means: 29/3 = 9, 4/3 = 1, 19/2 = 9.
	assert.Equal(t, [][]int{{9, 0, 0, 1}, {0, 9, 1, 0}}, res.Centroids)
	require.Len(t, res.Distances[0], 3)
	require.Len(t, res.Distances[1], 2)
	assert.InDelta(t, 0.0, res.Distances[0][1], 1e-12)
}

func TestKMeans_EmptyClusterKeepsCentroid(t *testing.T) {
	vectors := [][]int{{5, 1}, {5, 1}, {5, 1}}
	// Both seeds point at identical vectors; cluster 1 never wins a tie.
	res, err := newTestClusterer(1).KMeans(context.Background(), 2, []int{0, 1}, vectors)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2}, res.Members[0])
	assert.Empty(t, res.Members[1])
	assert.Equal(t, []int{5, 1}, res.Centroids[1])
}

func TestKMeans_NotConverged(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIterations = 1
	c := NewSeeded(cfg, 1, nil)

	_, err := c.KMeans(context.Background(), 1, []int{0}, [][]int{{10, 0}, {8, 0}})
	assert.ErrorIs(t, err, ErrNotConverged)

	var algErr *AlgorithmError
	require.True(t, errors.As(err, &algErr))
	assert.Equal(t, "converge", algErr.Operation)
}

func TestKMeans_InvalidInput(t *testing.T) {
	c := newTestClusterer(1)
	ctx := context.Background()
	vectors := twoBehaviors()

	_, err := c.KMeans(ctx, 2, []int{0}, vectors)
	assert.ErrorIs(t, err, ErrInvalidK)

	_, err = c.KMeans(ctx, 1, []int{9}, vectors)
	assert.ErrorIs(t, err, ErrSeedOutOfRange)

	_, err = c.KMeans(ctx, 1, []int{0}, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = c.KMeans(ctx, 1, []int{0}, [][]int{{1, 2}, {1}})
	assert.ErrorIs(t, err, distance.ErrLengthMismatch)
}

func TestKMeans_AllZeroCentroidFails(t *testing.T) {
	// Truncation drives the mean of {1,0} and {0,1} to {0,0}.
	_, err := newTestClusterer(1).KMeans(context.Background(), 1, []int{0}, [][]int{{1, 0}, {0, 1}})
	assert.ErrorIs(t, err, distance.ErrAllZero)
	assert.ErrorContains(t, err, "centroid 0 truncated to zero over 2 members")

	var algErr *AlgorithmError
	require.True(t, errors.As(err, &algErr))
	assert.Equal(t, "update", algErr.Operation)

	// Euclidean has no distribution, so a zero centroid is a valid point.
	cfg := DefaultConfig()
	cfg.Method = distance.Euclidean
	res, err := NewSeeded(cfg, 1, nil).KMeans(context.Background(), 1, []int{0}, [][]int{{1, 0}, {0, 1}})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0}, res.Centroids[0])
}

func TestKMeansMonitor_SingletonOutlier(t *testing.T) {
	vectors := append(twoBehaviors()[:3], []int{0, 0, 10, 10})
	centroids := [][]int{{9, 0, 0, 1}, {0, 0, 10, 10}}

	res, err := newTestClusterer(1).KMeansMonitor(context.Background(), vectors, centroids)
	require.NoError(t, err)

	assert.Equal(t, [][]int{{0, 1, 2}, {3}}, res.Members)
	assert.Equal(t, centroids, res.Centroids)
}

func TestKMeansMonitor_Reabsorbed(t *testing.T) {
	vectors := append(twoBehaviors()[:3], []int{9, 0, 0, 2})
	centroids := [][]int{{9, 0, 0, 1}, {9, 0, 0, 2}}

	res, err := newTestClusterer(1).KMeansMonitor(context.Background(), vectors, centroids)
	require.NoError(t, err)

	for _, m := range res.Members {
		assert.NotEqual(t, []int{3}, m)
	}
}

func TestKMeansMonitor_DoesNotMutateInput(t *testing.T) {
	vectors := [][]int{{10, 0}, {8, 0}}
	centroids := [][]int{{10, 0}}
	_, err := newTestClusterer(1).KMeansMonitor(context.Background(), vectors, centroids)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 0}, centroids[0])

	_, err = newTestClusterer(1).KMeansMonitor(context.Background(), vectors, nil)
	assert.ErrorIs(t, err, ErrInvalidK)
}

func TestCondensedIndex_RoundTrip(t *testing.T) {
	const n = 6
	idx := 0
	for x := 0; x < n; x++ {
		for y := x + 1; y < n; y++ {
			got, err := CondensedIndex(x, y, n)
			require.NoError(t, err)
			assert.Equal(t, idx, got)

			pair, err := DecodeIndex(idx, n)
			require.NoError(t, err)
			assert.Equal(t, Pair{X: x, Y: y}, pair)
			idx++
		}
	}
	assert.Equal(t, PairCount(n), idx)

	_, err := DecodeIndex(PairCount(n), n)
	assert.ErrorIs(t, err, ErrInvalidIndex)
	_, err = CondensedIndex(2, 2, n)
	assert.ErrorIs(t, err, ErrInvalidIndex)
}

func TestSelectSeeds(t *testing.T) {
	// n=4: 0=(0,1) 1=(0,2) 2=(0,3) 3=(1,2) 4=(1,3) 5=(2,3)
	members := [][]int{{0, 1, 3}, {}, {5}, {2, 4}}
	seeds, groups, err := SelectSeeds(members, 4)
	require.NoError(t, err)

	// Cluster 0 ties 0,1,2 at two each; cluster 3 has 3 twice.
	assert.Equal(t, []int{0, 2, 3}, seeds)
	require.Len(t, groups, 4)
	assert.Equal(t, -1, groups[1].Seed)
	assert.Equal(t, []Pair{{0, 1}, {0, 2}, {1, 2}}, groups[0].Pairs)
	assert.Equal(t, map[int]int{0: 1, 1: 1, 3: 2}, groups[3].Tally)

	_, _, err = SelectSeeds([][]int{{6}}, 4)
	assert.ErrorIs(t, err, ErrInvalidIndex)
}
