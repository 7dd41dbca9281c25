// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianProv/cmd/provdetect/config"
	"github.com/AleutianAI/AleutianProv/services/provenance/detect"
	"github.com/AleutianAI/AleutianProv/services/provenance/history"
	"github.com/AleutianAI/AleutianProv/services/provenance/profile"
)

const (
	behaviorA = "0\t1\t2:3:4\n"
	behaviorC = "0\t1\t8:9:10\n"
)

func newTestEnv(t *testing.T) (*cliEnv, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Storage = profile.DefaultStoreConfig(filepath.Join(dir, "profiles"))
	cfg.History.Path = filepath.Join(dir, "history.db")
	cfg.Telemetry.TraceExporter = "none"
	cfg.Telemetry.MetricExporter = "none"
	cfg.Logging.Level = "error"
	cfg.Logging.Format = "text"
	cfg.Detection.Seed = 7

	var out bytes.Buffer
	e, err := newEnv(context.Background(), cfg, &out, false)
	require.NoError(t, err)
	t.Cleanup(func() {
		e.shutdownTelemetry(context.Background())
		e.logger.Close()
	})
	return e, &out
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
}

func TestExpandInputs(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"b.txt":     behaviorA,
		"a.txt":     behaviorA,
		"sub/c.txt": behaviorC,
		"skip.log":  behaviorA,
	})

	got, err := expandInputs([]string{
		filepath.Join(dir, "sub", "c.txt"),
		filepath.Join(dir, "**", "*.txt"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "sub", "c.txt"),
		filepath.Join(dir, "a.txt"),
		filepath.Join(dir, "b.txt"),
	}, got)

	_, err = expandInputs([]string{filepath.Join(dir, "*.json")})
	assert.ErrorContains(t, err, "matched no files")
}

func TestAnomalyExit(t *testing.T) {
	normal := &detect.Verdict{Class: detect.ClassNormal}
	odd := &detect.Verdict{Class: detect.ClassAnomalous}

	assert.NoError(t, anomalyExit(nil))
	assert.NoError(t, anomalyExit([]*detect.Verdict{normal}))

	err := anomalyExit([]*detect.Verdict{normal, odd})
	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, exitAnomalous, ee.code)
	assert.Equal(t, "1 of 2 graphs anomalous", ee.msg)
}

func TestUseJSONLogs(t *testing.T) {
	assert.True(t, useJSONLogs("json", os.Stderr))
	assert.False(t, useJSONLogs("text", os.Stderr))
}

func TestLearnClassifyDetect(t *testing.T) {
	e, out := newTestEnv(t)
	ctx := context.Background()
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"a0.txt": behaviorA,
		"a1.txt": behaviorA,
		"a2.txt": behaviorA,
		"c.txt":  behaviorC,
	})
	learnSet := []string{
		filepath.Join(dir, "a0.txt"),
		filepath.Join(dir, "a1.txt"),
		filepath.Join(dir, "a2.txt"),
	}

	p, report, err := learnAndSave(ctx, e, learnSet)
	require.NoError(t, err)
	assert.Equal(t, p.ID, report.ProfileID)
	assert.Contains(t, out.String(), "Profile "+p.ID)

	out.Reset()
	verdicts, err := classifyFiles(ctx, e, "", []string{learnSet[0], filepath.Join(dir, "c.txt")})
	require.NoError(t, err)
	require.Len(t, verdicts, 2)
	assert.Equal(t, detect.ClassNormal, verdicts[0].Class)
	assert.Equal(t, detect.ClassAnomalous, verdicts[1].Class)
	assert.Contains(t, out.String(), "c.txt: ANOMALOUS")

	_, err = classifyFiles(ctx, e, "missing", learnSet)
	assert.ErrorIs(t, err, profile.ErrNotFound)

	out.Reset()
	dr, err := detectFiles(ctx, e, append(learnSet, filepath.Join(dir, "c.txt")), 0, 1, false)
	require.NoError(t, err)
	assert.Equal(t, 1, dr.Anomalies)
	assert.Contains(t, out.String(), "1 of 1 monitored graphs anomalous")

	_, err = detectFiles(ctx, e, learnSet, 5, 1, false)
	assert.ErrorContains(t, err, "--ngraphs")

	ledger, err := history.Open(e.cfg.History.Path, e.log)
	require.NoError(t, err)
	defer ledger.Close()
	counts, err := ledger.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, history.Counts{Normal: 1, Anomalous: 2}, counts)

	entries, err := ledger.List(ctx, history.Filter{Class: detect.ClassAnomalous})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		assert.Equal(t, filepath.Join(dir, "c.txt"), entry.Source)
	}
}

func TestClassifyFiles_NoProfile(t *testing.T) {
	e, _ := newTestEnv(t)
	_, err := classifyFiles(context.Background(), e, "", []string{"unused.txt"})
	assert.ErrorContains(t, err, "provdetect learn")
}

func TestClassifyFiles_HistoryDisabled(t *testing.T) {
	e, _ := newTestEnv(t)
	e.cfg.History.Enabled = false
	ctx := context.Background()
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a0.txt": behaviorA, "a1.txt": behaviorA, "a2.txt": behaviorA})
	files := []string{filepath.Join(dir, "a0.txt"), filepath.Join(dir, "a1.txt"), filepath.Join(dir, "a2.txt")}

	_, _, err := learnAndSave(ctx, e, files)
	require.NoError(t, err)
	_, err = classifyFiles(ctx, e, "", files[:1])
	require.NoError(t, err)
	assert.NoFileExists(t, e.cfg.History.Path)
}

func TestIngestFile(t *testing.T) {
	e, out := newTestEnv(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "trace.json")
	writeFiles(t, dir, map[string]string{
		"trace.json": `{"activity":{"x":{"prov:type":"task"}},"entity":{"y":{"prov:type":"file"}},"used":{"u":{"prov:type":"read","prov:entity":"y","prov:activity":"x"}}}`,
	})

	dst := filepath.Join(dir, "out", "trace.txt")
	require.NoError(t, ingestFile(e, in, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "1\t0\t21:1:0\n", string(data))
	assert.Contains(t, out.String(), "2 vertices, 1 edges (0 skipped)")

	out.Reset()
	require.NoError(t, ingestFile(e, in, "-"))
	assert.Equal(t, "1\t0\t21:1:0\n", out.String())

	assert.Error(t, ingestFile(e, filepath.Join(dir, "missing.json"), ""))
}

func TestTruncateFile(t *testing.T) {
	e, out := newTestEnv(t)
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"long.txt": "0\t1\t1:2:3\n1\t2\t1:2:3\n2\t3\t1:2:3\n3\t4\t4:5:6\n",
	})

	dst := filepath.Join(dir, "short.txt")
	require.NoError(t, truncateFile(e, filepath.Join(dir, "long.txt"), dst, 1))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "0\t1\t1:2:3\n1\t2\t1:2:3\n", string(data))
	assert.Contains(t, out.String(), "kept 2 of 4 edges")
}

func TestPrintProfiles(t *testing.T) {
	var buf bytes.Buffer
	printProfiles(&buf, nil)
	assert.Equal(t, "no profiles stored\n", buf.String())

	buf.Reset()
	printProfiles(&buf, []profile.Summary{{ID: "abc", Clusters: 1, Vectors: 3, Labels: 2, Iterations: 2}})
	assert.Contains(t, buf.String(), "abc")
	assert.Contains(t, buf.String(), "CLUSTERS")
}

func TestLoadDefaultConfigValidates(t *testing.T) {
	assert.NoError(t, config.Validate(config.DefaultConfig()))
}
