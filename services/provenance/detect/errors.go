// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package detect

import "errors"

// Sentinel errors for the detection orchestrator.
var (
	// ErrTooFewGraphs indicates fewer than two learning graphs.
	ErrTooFewGraphs = errors.New("learning needs at least two graphs")

	// ErrNoRetainedClusters indicates that no cluster passed the
	// retention threshold, so no profile could be built.
	ErrNoRetainedClusters = errors.New("no cluster passed the retention threshold")

	// ErrNilProfile indicates a classification without a profile.
	ErrNilProfile = errors.New("profile is nil")

	// ErrInvalidConfig indicates an orchestrator configuration outside
	// its allowed ranges.
	ErrInvalidConfig = errors.New("invalid detection config")

	// ErrMonitorCount indicates a monitor count that leaves fewer than two
	// learning graphs.
	ErrMonitorCount = errors.New("monitor count leaves too few learning graphs")
)
