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
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/AleutianAI/AleutianProv/services/provenance/engine"
)

// TruncateStats reports what Truncate copied.
type TruncateStats struct {
	// Kept is the number of edges written.
	Kept int `json:"kept"`

	// Total is the number of edges in the input.
	Total int `json:"total"`

	// Distinct is the number of distinct type triples among kept edges.
	Distinct int `json:"distinct"`

	// Stable is true when the repeat run reached the threshold.
	Stable bool `json:"stable"`
}

// Truncate copies an edge list until its type stream stabilises.
//
// Description:
//
//	Edges are copied in order. Each edge whose type triple has been seen
//	before extends a run of repeats; an unseen triple resets it. Once
//	threshold consecutive repeats have been written the stream is
//	considered stable and nothing further is copied. The remainder is
//	still read so Total reflects the whole input. Blank and comment
//	lines are dropped.
//
// Inputs:
//
//	r - Edge-list source.
//	w - Destination for the kept prefix.
//	threshold - Consecutive repeats that mark the stream stable. Must be
//	positive.
//
// Outputs:
//
//	TruncateStats - Kept and total counts.
//	error - ErrInvalidThreshold, engine.ErrMissingType for a line without
//	types, or an I/O error.
func Truncate(r io.Reader, w io.Writer, threshold int) (TruncateStats, error) {
	var stats TruncateStats
	if threshold <= 0 {
		return stats, ErrInvalidThreshold
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	bw := bufio.NewWriter(w)

	seen := make(map[string]struct{})
	repeats := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		stats.Total++
		if stats.Stable {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			return stats, fmt.Errorf("line %d: %w", lineNo, engine.ErrMissingType)
		}
		if _, ok := seen[fields[2]]; ok {
			repeats++
		} else {
			seen[fields[2]] = struct{}{}
			repeats = 0
		}

		if _, err := bw.WriteString(line + "\n"); err != nil {
			return stats, err
		}
		stats.Kept++
		if repeats == threshold {
			stats.Stable = true
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read edge list: %w", err)
	}
	stats.Distinct = len(seen)
	return stats, bw.Flush()
}
