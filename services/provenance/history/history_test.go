// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianProv/services/provenance/detect"
	"github.com/AleutianAI/AleutianProv/services/provenance/profile"
)

var quiet = slog.New(slog.DiscardHandler)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func verdict(graph string, class detect.Class, at time.Duration) *detect.Verdict {
	return &detect.Verdict{
		ID:           uuid.NewString(),
		Graph:        graph,
		Digest:       "d-" + graph,
		ProfileID:    "p1",
		Class:        class,
		Distances:    []float64{0.25},
		Radii:        []float64{0.1},
		Policy:       profile.PolicyAll,
		ClassifiedAt: epoch.Add(at),
		Duration:     3 * time.Millisecond,
	}
}

func openMemory(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(MemoryPath, quiet)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedger_RecordGet(t *testing.T) {
	ctx := context.Background()
	l := openMemory(t)

	v := verdict("g1.txt", detect.ClassAnomalous, 0)
	v.Reclustered = true
	v.Recluster = [][]int{{0, 1}, {2}}
	require.NoError(t, l.Record(ctx, v, "cli"))

	got, err := l.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "cli", got.Source)
	assert.Equal(t, v.Graph, got.Verdict.Graph)
	assert.Equal(t, detect.ClassAnomalous, got.Verdict.Class)
	assert.Equal(t, v.Recluster, got.Verdict.Recluster)
	assert.Equal(t, v.Duration, got.Verdict.Duration)
	assert.True(t, v.ClassifiedAt.Equal(got.Verdict.ClassifiedAt))
	assert.False(t, got.RecordedAt.IsZero())
}

func TestLedger_Errors(t *testing.T) {
	ctx := context.Background()
	l := openMemory(t)

	assert.ErrorIs(t, l.Record(ctx, nil, ""), ErrNilVerdict)

	v := verdict("g1.txt", detect.ClassNormal, 0)
	require.NoError(t, l.Record(ctx, v, ""))
	assert.ErrorIs(t, l.Record(ctx, v, ""), ErrDuplicate)

	_, err := l.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLedger_ListOrderAndFilter(t *testing.T) {
	ctx := context.Background()
	l := openMemory(t)

	a := verdict("a.txt", detect.ClassNormal, time.Minute)
	b := verdict("b.txt", detect.ClassAnomalous, 2*time.Minute)
	c := verdict("c.txt", detect.ClassNormal, 3*time.Minute)
	c.ProfileID = "p2"
	for _, v := range []*detect.Verdict{b, a, c} {
		require.NoError(t, l.Record(ctx, v, ""))
	}

	all, err := l.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c.txt", "b.txt", "a.txt"}, graphs(all))

	limited, err := l.List(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"c.txt", "b.txt"}, graphs(limited))

	normal, err := l.List(ctx, Filter{Class: detect.ClassNormal})
	require.NoError(t, err)
	assert.Equal(t, []string{"c.txt", "a.txt"}, graphs(normal))

	p1, err := l.List(ctx, Filter{ProfileID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt", "a.txt"}, graphs(p1))

	recent, err := l.List(ctx, Filter{Since: epoch.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, []string{"c.txt", "b.txt"}, graphs(recent))
}

func TestLedger_CountsAndPrune(t *testing.T) {
	ctx := context.Background()
	l := openMemory(t)

	re := verdict("r.txt", detect.ClassNormal, 0)
	re.Reabsorbed = true
	for _, v := range []*detect.Verdict{
		verdict("a.txt", detect.ClassNormal, 0),
		re,
		verdict("x.txt", detect.ClassAnomalous, time.Hour),
	} {
		require.NoError(t, l.Record(ctx, v, ""))
	}

	c, err := l.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Normal: 2, Reabsorbed: 1, Anomalous: 1}, c)
	assert.Equal(t, 3, c.Total())

	n, err := l.Prune(ctx, epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	rest, err := l.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"x.txt"}, graphs(rest))
}

func TestLedger_EmptyCounts(t *testing.T) {
	c, err := openMemory(t).Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, c.Total())
}

func TestLedger_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "history.db")

	l, err := Open(path, quiet)
	require.NoError(t, err)
	v := verdict("g.txt", detect.ClassAnomalous, 0)
	require.NoError(t, l.Record(ctx, v, "watch"))
	require.NoError(t, l.Close())

	l, err = Open(path, quiet)
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, path, l.Path())

	got, err := l.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "watch", got.Source)
}

func TestLedger_Closed(t *testing.T) {
	ctx := context.Background()
	l, err := Open(MemoryPath, quiet)
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.ErrorIs(t, l.Record(ctx, verdict("g", detect.ClassNormal, 0), ""), ErrClosed)
	_, err = l.List(ctx, Filter{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = l.Get(ctx, "x")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = l.Counts(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func graphs(entries []*Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Verdict.Graph
	}
	return out
}
