// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package relabel

import "errors"

// Sentinel errors for relabeling.
var (
	// ErrNoTypeData indicates a non-isolated vertex with neither an outgoing
	// nor an incoming edge record to take its initial type from.
	ErrNoTypeData = errors.New("vertex has no edge type data")

	// ErrTooFewIterations indicates an iteration budget below two, which
	// never reaches a neighborhood relabel.
	ErrTooFewIterations = errors.New("relabeling needs at least two iterations")

	// ErrNilDictionary indicates a Runner built without a dictionary.
	ErrNilDictionary = errors.New("dictionary must not be nil")
)
