// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianProv/services/provenance/detect"
)

var quiet = slog.New(slog.DiscardHandler)

const edgeList = "0\t1\t2:3:4\n"

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) target(_ context.Context, path string) (*detect.Verdict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, filepath.Base(path))
	class := detect.ClassNormal
	if strings.HasPrefix(filepath.Base(path), "bad") {
		class = detect.ClassAnomalous
	}
	return &detect.Verdict{ID: path, Graph: filepath.Base(path), Class: class}, nil
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.Debounce = 20 * time.Millisecond
	return opts
}

func startWatcher(t *testing.T, root string, rec *recorder, opts Options) *Watcher {
	t.Helper()
	w, err := New(root, rec.target, opts, quiet)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_ClassifiesNewFiles(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	w := startWatcher(t, root, rec, fastOptions())
	assert.True(t, w.IsWatching())

	var (
		mu  sync.Mutex
		got []*detect.Verdict
	)
	w.AddSink(func(_ context.Context, v *detect.Verdict, _ string) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})

	require.NoError(t, os.WriteFile(filepath.Join(root, "bad.txt"), []byte(edgeList), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.log"), []byte(edgeList), 0o644))

	require.Eventually(t, func() bool {
		return w.Stats().Classified == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, []string{"bad.txt"}, rec.seen())
	assert.EqualValues(t, 1, w.Stats().Anomalous)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.True(t, got[0].Anomalous())
}

func TestWatcher_Existing(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "day1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "day1", "g0.txt"), []byte(edgeList), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden.txt"), []byte(edgeList), 0o644))

	rec := &recorder{}
	opts := fastOptions()
	opts.Existing = true
	w := startWatcher(t, root, rec, opts)

	require.Eventually(t, func() bool {
		return w.Stats().Classified == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"g0.txt"}, rec.seen())
}

func TestWatcher_SkipsUnchanged(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "g.txt")
	require.NoError(t, os.WriteFile(path, []byte(edgeList), 0o644))

	rec := &recorder{}
	w, err := New(root, rec.target, fastOptions(), quiet)
	require.NoError(t, err)
	defer w.Stop()

	ctx := context.Background()
	w.handle(ctx, []Change{{Path: path, Op: OpCreate}})
	w.handle(ctx, []Change{{Path: path, Op: OpWrite}})
	assert.Equal(t, []string{"g.txt"}, rec.seen())
	assert.EqualValues(t, 1, w.Stats().Skipped)

	w.handle(ctx, []Change{{Path: path, Op: OpRemove}})
	w.handle(ctx, []Change{{Path: path, Op: OpWrite}})
	assert.Equal(t, []string{"g.txt", "g.txt"}, rec.seen())
}

func TestWatcher_TargetFailure(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "g.txt")
	require.NoError(t, os.WriteFile(path, []byte(edgeList), 0o644))

	calls := 0
	w, err := New(root, func(context.Context, string) (*detect.Verdict, error) {
		calls++
		return nil, errors.New("boom")
	}, fastOptions(), quiet)
	require.NoError(t, err)
	defer w.Stop()

	ctx := context.Background()
	w.handle(ctx, []Change{{Path: path, Op: OpCreate}})
	w.handle(ctx, []Change{{Path: path, Op: OpWrite}})

	// Failures are retried on the next change.
	assert.Equal(t, 2, calls)
	assert.EqualValues(t, 2, w.Stats().Failed)
	assert.Zero(t, w.Stats().Classified)
}

func TestWatcher_Matches(t *testing.T) {
	root := t.TempDir()
	opts := fastOptions()
	opts.Patterns = []string{"**/*.txt", "edges/*.el"}
	w, err := New(root, (&recorder{}).target, opts, quiet)
	require.NoError(t, err)
	defer w.Stop()

	tests := []struct {
		rel  string
		want bool
	}{
		{"a.txt", true},
		{"deep/nested/a.txt", true},
		{"edges/a.el", true},
		{"other/a.el", false},
		{"a.log", false},
		{".git/objects/a.txt", false},
		{"a.txt.swp", false},
		{".hidden.txt", false},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			assert.Equal(t, tt.want, w.matches(filepath.Join(w.Root(), tt.rel)))
		})
	}
}

func TestNew_Errors(t *testing.T) {
	_, err := New(t.TempDir(), nil, DefaultOptions(), quiet)
	assert.ErrorIs(t, err, ErrNilTarget)

	opts := DefaultOptions()
	opts.Patterns = []string{"[unclosed"}
	_, err = New(t.TempDir(), (&recorder{}).target, opts, quiet)
	var pe *PatternError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "[unclosed", pe.Pattern)
}

func TestDedupe(t *testing.T) {
	in := []Change{
		{Path: "a", Op: OpCreate},
		{Path: "b", Op: OpCreate},
		{Path: "a", Op: OpWrite},
	}
	out := dedupe(in)
	require.Len(t, out, 2)
	assert.Equal(t, Change{Path: "a", Op: OpWrite}, out[0])
	assert.Equal(t, "b", out[1].Path)
}

func TestChangeOp_String(t *testing.T) {
	assert.Equal(t, "create", OpCreate.String())
	assert.Equal(t, "write", OpWrite.String())
	assert.Equal(t, "remove", OpRemove.String())
	assert.Equal(t, "rename", OpRename.String())
	assert.Equal(t, "unknown", ChangeOp(9).String())
}
