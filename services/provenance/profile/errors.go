// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package profile

import "errors"

// Sentinel errors for profiles and the profile store.
var (
	// ErrNoClusters indicates a profile without any retained cluster.
	ErrNoClusters = errors.New("profile has no clusters")

	// ErrInvalidProfile indicates inconsistent profile contents.
	ErrInvalidProfile = errors.New("invalid profile")

	// ErrLengthMismatch indicates a distance list that does not match the
	// number of clusters.
	ErrLengthMismatch = errors.New("distance count does not match cluster count")

	// ErrUnknownPolicy indicates a classification policy other than all or any.
	ErrUnknownPolicy = errors.New("unknown classification policy")

	// ErrNotFound indicates no stored profile under the requested id.
	ErrNotFound = errors.New("profile not found")

	// ErrCorrupt indicates a stored blob that fails decoding or its
	// integrity check.
	ErrCorrupt = errors.New("stored profile is corrupt")

	// ErrStoreClosed indicates use of a closed store.
	ErrStoreClosed = errors.New("profile store is closed")
)
