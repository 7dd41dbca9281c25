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

import "errors"

// Sentinel errors for PROV-JSON conversion and truncation.
var (
	// ErrMalformedDocument indicates input that is not a sequence of JSON
	// objects.
	ErrMalformedDocument = errors.New("malformed PROV-JSON document")

	// ErrInvalidThreshold indicates a non-positive truncation threshold.
	ErrInvalidThreshold = errors.New("threshold must be positive")

	// ErrEmptyDocument indicates input with no relations at all.
	ErrEmptyDocument = errors.New("document contains no relations")
)
