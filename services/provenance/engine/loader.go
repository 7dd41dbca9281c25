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
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"lukechampine.com/blake3"
)

// maxLineBytes bounds a single edge-list line.
const maxLineBytes = 1 << 20

// ParseTypes parses a "src_type:dst_type:edge_kind" field into a fresh
// TypeLabel. The types land in the New half of each slot; Old stays zero
// until the first swap.
//
// Extra colon-separated components are ignored; the returned bool reports
// whether any were present so the caller can log it.
func ParseTypes(field string) (TypeLabel, bool, error) {
	parts := strings.Split(field, ":")
	names := [...]string{"source type", "destination type", "edge type"}

	var vals [3]int
	for i := range vals {
		if i >= len(parts) || strings.TrimSpace(parts[i]) == "" {
			return TypeLabel{}, false, fmt.Errorf("%s: %w", names[i], ErrMissingType)
		}
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return TypeLabel{}, false, fmt.Errorf("%s %q: %w", names[i], parts[i], ErrMalformedLine)
		}
		vals[i] = n
	}

	label := TypeLabel{
		Src:  Slot{New: vals[0]},
		Dst:  Slot{New: vals[1]},
		Kind: vals[2],
	}
	return label, len(parts) > 3, nil
}

// FormatTypes renders a TypeLabel's New halves in edge-list form.
func FormatTypes(label TypeLabel) string {
	return strconv.Itoa(label.Src.New) + ":" + strconv.Itoa(label.Dst.New) + ":" + strconv.Itoa(label.Kind)
}

// LoadEdgeList reads a graph in edge-list form.
//
// Description:
//
//	Each line is `src_id<TAB>dst_id<TAB>src_type:dst_type:edge_kind`. Any
//	run of whitespace separates the three fields. Blank lines and lines
//	starting with # are skipped. A line whose type triple is incomplete
//	aborts the load with ErrMissingType. The blake3 digest of the raw input
//	is recorded on the graph.
//
// Inputs:
//
//	name - Graph name for logs and reports.
//	r - Edge-list source.
//	logger - Receives warnings about ignored data. May be nil.
//
// Outputs:
//
//	*Graph - The loaded graph.
//	error - Non-nil on the first malformed line, with its line number.
func LoadEdgeList(name string, r io.Reader, logger *slog.Logger) (*Graph, error) {
	if logger == nil {
		logger = slog.Default()
	}

	hasher := blake3.New(32, nil)
	scanner := bufio.NewScanner(io.TeeReader(r, hasher))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	g := NewGraph(name)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("%s:%d: %w", name, lineNo, ErrMalformedLine)
		}
		src, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: source id %q: %w", name, lineNo, fields[0], ErrMalformedLine)
		}
		dst, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: destination id %q: %w", name, lineNo, fields[1], ErrMalformedLine)
		}
		if len(fields) < 3 {
			return nil, fmt.Errorf("%s:%d: source type: %w", name, lineNo, ErrMissingType)
		}

		label, extra, err := ParseTypes(fields[2])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", name, lineNo, err)
		}
		if extra || len(fields) > 3 {
			logger.Warn("extra edge info ignored",
				slog.String("graph", name),
				slog.Int("line", lineNo),
			)
		}
		if err := g.AddEdge(src, dst, label); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", name, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	g.digest = hasher.Sum(nil)
	logger.Debug("edge list loaded",
		slog.String("graph", name),
		slog.Int("vertices", g.NumVertices()),
		slog.Int("edges", g.NumEdges()),
	)
	return g, nil
}

// LoadEdgeListFile opens path and loads it with LoadEdgeList. The graph is
// named after the file's base name.
func LoadEdgeListFile(path string, logger *slog.Logger) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open edge list: %w", err)
	}
	defer f.Close()
	return LoadEdgeList(filepath.Base(path), f, logger)
}

// WriteEdgeList writes g in the form LoadEdgeList reads, using each
// edge's New type halves.
func WriteEdgeList(w io.Writer, g *Graph) error {
	bw := bufio.NewWriter(w)
	for _, e := range g.edges {
		if _, err := fmt.Fprintf(bw, "%d\t%d\t%s\n", e.Src, e.Dst, FormatTypes(e.Label)); err != nil {
			return err
		}
	}
	return bw.Flush()
}
