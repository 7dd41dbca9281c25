// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package labels holds the two shared structures of a relabeling run: the
// canonical label Dictionary, which maps neighborhood encodings to small
// integer ids across every graph in the run, and the per-graph Table that
// counts how often each id occurs.
//
// The two are locked independently. A vertex update takes the dictionary
// lock to canonicalize and then the table lock to tally; neither lock is
// held while the other is taken.
package labels

import "errors"

// Sentinel errors for label canonicalization.
var (
	// ErrEmptyLabel indicates an empty canonical string was offered to the
	// dictionary. It means the input graph carried no type data for a vertex.
	ErrEmptyLabel = errors.New("empty canonical label")

	// ErrFrozen indicates an increment on a table whose graph run has finished.
	ErrFrozen = errors.New("frequency table is frozen")

	// ErrNegativeID indicates a label id below zero.
	ErrNegativeID = errors.New("label id must be non-negative")

	// ErrInvalidSnapshot indicates a dictionary snapshot that repeats a label.
	ErrInvalidSnapshot = errors.New("dictionary snapshot is not a bijection")
)
