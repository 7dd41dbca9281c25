// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianProv/services/provenance/engine"
)

var quiet = slog.New(slog.DiscardHandler)

const provStream = `{"activity":{"a1":{"prov:type":"task"}},"entity":{"e2":{"prov:type":{"$":"socket","type":"xsd:string"}},"e1":{"prov:type":"file"}},"used":{"u1":{"prov:type":"read","prov:entity":"e1","prov:activity":"a1"}},"wasGeneratedBy":{"g1":{"prov:type":"write","prov:activity":"a1","prov:entity":"e2"}}}
{"entity":{"e3":{"prov:type":"weird"}},"wasInformedBy":{"i1":{"prov:type":"clone","prov:informant":"a1","prov:informed":"a2"}},"wasDerivedFrom":{"d1":{"prov:type":"version_entity","prov:usedEntity":"e1","prov:generatedEntity":"e3"}}}
`

func TestVocabulary(t *testing.T) {
	v, ok := ParseVertexType("task")
	assert.True(t, ok)
	assert.Equal(t, VertexTask, v)
	assert.Equal(t, 1, int(v))

	v, ok = ParseVertexType("packet_content")
	assert.True(t, ok)
	assert.Equal(t, 26, int(v))

	v, ok = ParseVertexType("nonsense")
	assert.False(t, ok)
	assert.Equal(t, VertexUnknown, v)

	e, ok := ParseEdgeType("receive_packet")
	assert.True(t, ok)
	assert.Equal(t, 38, int(e))

	e, ok = ParseEdgeType("nonsense")
	assert.False(t, ok)
	assert.Equal(t, EdgeUnknown, e)
	assert.Equal(t, 13, int(e))

	assert.Equal(t, "mmaped_file", VertexMmapedFile.String())
	assert.Equal(t, "version_activity", EdgeVersionActivity.String())
	assert.Equal(t, "EdgeType(99)", EdgeType(99).String())
}

func TestVocabulary_RoundTrip(t *testing.T) {
	for i, name := range vertexNames {
		v, ok := ParseVertexType(name)
		require.True(t, ok, name)
		assert.Equal(t, i, int(v))
		assert.Equal(t, name, v.String())
	}
	for i, name := range edgeNames {
		e, ok := ParseEdgeType(name)
		require.True(t, ok, name)
		assert.Equal(t, i, int(e))
		assert.Equal(t, name, e.String())
	}
}

func TestConvert(t *testing.T) {
	res, err := Convert("prov", strings.NewReader(provStream), quiet)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Documents)
	assert.Equal(t, 4, res.Vertices)
	assert.Equal(t, 3, res.Relations)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.UnknownTypes)

	var buf bytes.Buffer
	require.NoError(t, res.WriteEdgeList(&buf))
	want := "1\t0\t21:1:0\n" +
		"0\t2\t1:3:1\n" +
		"1\t3\t21:0:5\n"
	assert.Equal(t, want, buf.String())
}

func TestConvert_OutputLoads(t *testing.T) {
	res, err := Convert("prov", strings.NewReader(provStream), quiet)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, res.WriteEdgeList(&buf))

	g, err := engine.LoadEdgeList("prov", &buf, quiet)
	require.NoError(t, err)
	assert.Equal(t, 3, g.NumEdges())
	assert.Equal(t, 4, g.NumVertices())
}

func TestConvert_DuplicateKeepsFirst(t *testing.T) {
	in := `{"activity":{"x":{"prov:type":"task"}}}
{"entity":{"x":{"prov:type":"file"},"y":{"prov:type":"file"}},"used":{"u":{"prov:type":"read","prov:entity":"y","prov:activity":"x"}}}`

	res, err := Convert("dup", strings.NewReader(in), quiet)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Vertices)

	var buf bytes.Buffer
	require.NoError(t, res.WriteEdgeList(&buf))
	assert.Equal(t, "1\t0\t21:1:0\n", buf.String())
}

func TestConvert_Errors(t *testing.T) {
	_, err := Convert("bad", strings.NewReader(`{"activity": [`), quiet)
	assert.ErrorIs(t, err, ErrMalformedDocument)

	_, err = Convert("nodes", strings.NewReader(`{"activity":{"a":{"prov:type":"task"}}}`), quiet)
	assert.ErrorIs(t, err, ErrEmptyDocument)

	_, err = Convert("empty", strings.NewReader(""), quiet)
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestConvertFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.json")
	require.NoError(t, os.WriteFile(path, []byte(provStream), 0o644))

	res, err := ConvertFile(path, quiet)
	require.NoError(t, err)
	assert.Equal(t, "trace.json", res.Graph.Name())

	_, err = ConvertFile(filepath.Join(t.TempDir(), "missing.json"), quiet)
	assert.Error(t, err)
}

func TestTruncate_Stable(t *testing.T) {
	in := strings.Join([]string{
		"0\t1\t1:2:3",
		"1\t2\t2:2:0",
		"# comment",
		"0\t3\t1:2:3",
		"",
		"3\t4\t1:2:3",
		"4\t5\t2:2:0",
		"5\t6\t9:9:9",
	}, "\n")

	var out bytes.Buffer
	stats, err := Truncate(strings.NewReader(in), &out, 2)
	require.NoError(t, err)

	assert.True(t, stats.Stable)
	assert.Equal(t, 4, stats.Kept)
	assert.Equal(t, 6, stats.Total)
	assert.Equal(t, 2, stats.Distinct)
	assert.Equal(t, "0\t1\t1:2:3\n1\t2\t2:2:0\n0\t3\t1:2:3\n3\t4\t1:2:3\n", out.String())
}

func TestTruncate_NeverStable(t *testing.T) {
	in := "0\t1\t1:2:3\n1\t2\t2:2:0\n2\t3\t1:2:3\n3\t4\t4:4:4\n"

	var out bytes.Buffer
	stats, err := Truncate(strings.NewReader(in), &out, 2)
	require.NoError(t, err)

	assert.False(t, stats.Stable)
	assert.Equal(t, 4, stats.Kept)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 3, stats.Distinct)
	assert.Equal(t, in, out.String())
}

func TestTruncate_Errors(t *testing.T) {
	var out bytes.Buffer
	_, err := Truncate(strings.NewReader("0\t1\t1:2:3\n"), &out, 0)
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	_, err = Truncate(strings.NewReader("0\t1\n"), &out, 3)
	assert.ErrorIs(t, err, engine.ErrMissingType)
}

func TestConvert_UnknownEdgeKind(t *testing.T) {
	in := `{"activity":{"x":{"prov:type":"task"}},"entity":{"y":{"prov:type":"file"}},"used":{"u":{"prov:type":"frobnicate","prov:entity":"y","prov:activity":"x"}}}`

	res, err := Convert("odd", strings.NewReader(in), quiet)
	require.NoError(t, err)
	assert.Equal(t, 1, res.UnknownTypes)

	var buf bytes.Buffer
	require.NoError(t, res.WriteEdgeList(&buf))
	assert.Equal(t, "1\t0\t21:1:13\n", buf.String())
}
