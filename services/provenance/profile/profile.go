// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package profile holds the learned model of normal behavior and persists it.
//
// A Profile keeps the count vectors of every retained learning instance,
// one centroid and radius per retained cluster, and the dictionary snapshot
// that gives the vector positions their meaning. An instance is normal
// when its distances to the centroids fall within the radii under the
// configured Policy.
package profile

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Policy decides how per-cluster radius checks combine.
type Policy string

const (
	// PolicyAll requires the instance to be within every cluster's radius.
	PolicyAll Policy = "all"

	// PolicyAny requires the instance to be within at least one radius.
	PolicyAny Policy = "any"
)

// ParsePolicy maps "all" or "any" to a Policy. Empty means PolicyAll.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyAll:
		return PolicyAll, nil
	case PolicyAny:
		return PolicyAny, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// Profile is the learned model of normal behavior.
type Profile struct {
	// ID identifies the profile in the store.
	ID string `json:"id"`

	// CreatedAt is when learning finished.
	CreatedAt time.Time `json:"created_at"`

	// Iterations is the relabeling budget the vectors were built with.
	Iterations int `json:"iterations"`

	// Method names the distance measure used for clustering.
	Method string `json:"method"`

	// Vectors are the retained learning count vectors, grouped by cluster.
	Vectors [][]int `json:"vectors"`

	// Assignments gives the cluster index of each vector.
	Assignments []int `json:"assignments"`

	// Sources names the graph each vector came from, parallel to Vectors.
	Sources []string `json:"sources,omitempty"`

	// Centroids holds one integer centroid per retained cluster.
	Centroids [][]int `json:"centroids"`

	// Radii holds the largest member distance per cluster.
	Radii []float64 `json:"radii"`

	// Dictionary is the label dictionary snapshot, ordered by id.
	Dictionary []string `json:"dictionary"`
}

// New returns an empty profile with a fresh id.
func New(iterations int, method string) *Profile {
	return &Profile{
		ID:         uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		Iterations: iterations,
		Method:     method,
	}
}

// AddCluster appends a retained cluster and its member vectors.
func (p *Profile) AddCluster(centroid []int, radius float64, vectors [][]int, sources []string) {
	idx := len(p.Centroids)
	p.Centroids = append(p.Centroids, append([]int(nil), centroid...))
	p.Radii = append(p.Radii, radius)
	for i, v := range vectors {
		p.Vectors = append(p.Vectors, append([]int(nil), v...))
		p.Assignments = append(p.Assignments, idx)
		if i < len(sources) {
			p.Sources = append(p.Sources, sources[i])
		}
	}
}

// NumClusters returns the number of retained clusters.
func (p *Profile) NumClusters() int {
	return len(p.Centroids)
}

// Width returns the count vector length, 0 for an empty profile.
func (p *Profile) Width() int {
	if len(p.Centroids) > 0 {
		return len(p.Centroids[0])
	}
	if len(p.Vectors) > 0 {
		return len(p.Vectors[0])
	}
	return 0
}

// Members returns the vector indices assigned to cluster c.
func (p *Profile) Members(c int) []int {
	var out []int
	for i, a := range p.Assignments {
		if a == c {
			out = append(out, i)
		}
	}
	return out
}

// Validate checks the structural rules of a profile.
//
// Description:
//
//	At least one cluster; one radius per centroid; one assignment per
//	vector, each naming an existing cluster; every cluster has a member;
//	every vector and centroid has the same width; the dictionary is no
//	longer than that width; radii are non-negative.
func (p *Profile) Validate() error {
	if len(p.Centroids) == 0 {
		return ErrNoClusters
	}
	if len(p.Centroids) != len(p.Radii) {
		return fmt.Errorf("%w: %d centroids, %d radii", ErrInvalidProfile, len(p.Centroids), len(p.Radii))
	}
	if len(p.Vectors) != len(p.Assignments) {
		return fmt.Errorf("%w: %d vectors, %d assignments", ErrInvalidProfile, len(p.Vectors), len(p.Assignments))
	}
	if len(p.Sources) > 0 && len(p.Sources) != len(p.Vectors) {
		return fmt.Errorf("%w: %d vectors, %d sources", ErrInvalidProfile, len(p.Vectors), len(p.Sources))
	}

	width := p.Width()
	for i, c := range p.Centroids {
		if len(c) != width {
			return fmt.Errorf("%w: centroid %d has width %d, want %d", ErrInvalidProfile, i, len(c), width)
		}
		if p.Radii[i] < 0 {
			return fmt.Errorf("%w: radius %d is negative", ErrInvalidProfile, i)
		}
	}

	sizes := make([]int, len(p.Centroids))
	for i, v := range p.Vectors {
		if len(v) != width {
			return fmt.Errorf("%w: vector %d has width %d, want %d", ErrInvalidProfile, i, len(v), width)
		}
		a := p.Assignments[i]
		if a < 0 || a >= len(p.Centroids) {
			return fmt.Errorf("%w: vector %d assigned to cluster %d", ErrInvalidProfile, i, a)
		}
		sizes[a]++
	}
	for c, n := range sizes {
		if n == 0 {
			return fmt.Errorf("%w: cluster %d has no members", ErrInvalidProfile, c)
		}
	}

	if len(p.Dictionary) > width {
		return fmt.Errorf("%w: dictionary has %d labels, vectors have %d", ErrInvalidProfile, len(p.Dictionary), width)
	}
	return nil
}

// Widen zero-pads every vector and centroid to length n.
//
// Labels first seen after learning have a zero count in every learning
// instance, so padding keeps the vectors comparable with longer ones built
// against the grown dictionary. Widen never shrinks.
func (p *Profile) Widen(n int) {
	if n <= p.Width() {
		return
	}
	for i, v := range p.Vectors {
		p.Vectors[i] = pad(v, n)
	}
	for i, c := range p.Centroids {
		p.Centroids[i] = pad(c, n)
	}
}

func pad(v []int, n int) []int {
	out := make([]int, n)
	copy(out, v)
	return out
}

// Within reports whether distances fall within the radii under policy.
//
// Inputs:
//
//	distances - Distance to each centroid, in cluster order.
//	policy - PolicyAll or PolicyAny.
//
// Outputs:
//
//	bool - True when the instance is within range.
//	error - ErrLengthMismatch or ErrUnknownPolicy.
func (p *Profile) Within(distances []float64, policy Policy) (bool, error) {
	if len(distances) != len(p.Radii) {
		return false, fmt.Errorf("%w: %d distances, %d clusters", ErrLengthMismatch, len(distances), len(p.Radii))
	}

	switch policy {
	case PolicyAll, "":
		for i, d := range distances {
			if d > p.Radii[i] {
				return false, nil
			}
		}
		return true, nil
	case PolicyAny:
		for i, d := range distances {
			if d <= p.Radii[i] {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	out := *p
	out.Vectors = cloneMatrix(p.Vectors)
	out.Centroids = cloneMatrix(p.Centroids)
	out.Assignments = append([]int(nil), p.Assignments...)
	out.Sources = append([]string(nil), p.Sources...)
	out.Radii = append([]float64(nil), p.Radii...)
	out.Dictionary = append([]string(nil), p.Dictionary...)
	return &out
}

func cloneMatrix(m [][]int) [][]int {
	if m == nil {
		return nil
	}
	out := make([][]int, len(m))
	for i, row := range m {
		out[i] = append([]int(nil), row...)
	}
	return out
}

// Summary is the listing form of a stored profile.
type Summary struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Clusters   int       `json:"clusters"`
	Vectors    int       `json:"vectors"`
	Labels     int       `json:"labels"`
	Iterations int       `json:"iterations"`
	Digest     string    `json:"digest"`
}
