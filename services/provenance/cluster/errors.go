// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cluster

import "errors"

// Sentinel errors for clustering.
var (
	// ErrInvalidK indicates a cluster count below one or inconsistent with
	// the supplied seeds or centroids.
	ErrInvalidK = errors.New("invalid cluster count")

	// ErrEmptyInput indicates no data points to cluster.
	ErrEmptyInput = errors.New("no data to cluster")

	// ErrSeedOutOfRange indicates a seed index outside the vector set.
	ErrSeedOutOfRange = errors.New("seed index out of range")

	// ErrNotConverged indicates the iteration cap was reached before the
	// centers stopped moving.
	ErrNotConverged = errors.New("clustering did not converge")

	// ErrInvalidIndex indicates a condensed pair index outside the
	// triangle for the given instance count.
	ErrInvalidIndex = errors.New("condensed index out of range")
)

// AlgorithmError tags a failure with the algorithm and phase that hit it.
type AlgorithmError struct {
	Algorithm string
	Operation string
	Err       error
}

func (e *AlgorithmError) Error() string {
	return e.Algorithm + "." + e.Operation + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *AlgorithmError) Unwrap() error {
	return e.Err
}
