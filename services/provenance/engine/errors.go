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

import "errors"

// Sentinel errors for graph loading and execution.
var (
	// ErrNilGraph indicates Run was called without a graph.
	ErrNilGraph = errors.New("graph must not be nil")

	// ErrNilProgram indicates Run was called without a vertex program.
	ErrNilProgram = errors.New("program must not be nil")

	// ErrInvalidIterations indicates a non-positive iteration count.
	ErrInvalidIterations = errors.New("iterations must be positive")

	// ErrMissingType indicates an edge-list line without the full
	// src_type:dst_type:edge_kind triple.
	ErrMissingType = errors.New("edge type data missing")

	// ErrMalformedLine indicates an edge-list line that cannot be parsed.
	ErrMalformedLine = errors.New("malformed edge-list line")

	// ErrNegativeVertex indicates a vertex id below zero.
	ErrNegativeVertex = errors.New("vertex id must be non-negative")
)
