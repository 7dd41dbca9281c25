// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package distance converts label count vectors into probability
// distributions and measures how far apart two vectors are.
//
// Three measures are available:
//
//	KullbackLeibler  symmetric KL, Σ (p-q)·ln(p/q), over backed-off distributions
//	Hellinger        sqrt(1 - Σ √(p·q)) over plain distributions
//	Euclidean        sqrt(Σ (a-b)²) over raw counts
//
// Backoff gives every unseen label a share of half the smallest observed
// probability, so KL never divides by zero.
package distance

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Sentinel errors for distance computation.
var (
	// ErrAllZero indicates a count vector with no positive entry.
	ErrAllZero = errors.New("count vector has no positive entry")

	// ErrLengthMismatch indicates vectors of different lengths.
	ErrLengthMismatch = errors.New("count vectors differ in length")

	// ErrUnknownMethod indicates a Method outside the defined set.
	ErrUnknownMethod = errors.New("unknown distance method")

	// ErrNegativeCount indicates a count below zero.
	ErrNegativeCount = errors.New("count vector has a negative entry")
)

// Method selects a distance measure.
type Method int

const (
	// KullbackLeibler is symmetric KL divergence with backoff smoothing.
	KullbackLeibler Method = iota

	// Hellinger is the Hellinger distance without smoothing.
	Hellinger

	// Euclidean is the L2 distance between raw counts.
	Euclidean
)

// String returns the config name of the method.
func (m Method) String() string {
	switch m {
	case KullbackLeibler:
		return "kl"
	case Hellinger:
		return "hellinger"
	case Euclidean:
		return "euclidean"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// ParseMethod maps "kl", "hellinger" or "euclidean" to a Method.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "kl", "kullback-leibler", "kullbackleibler":
		return KullbackLeibler, nil
	case "hellinger":
		return Hellinger, nil
	case "euclidean":
		return Euclidean, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

// Distribution normalizes counts into probabilities.
//
// Description:
//
//	p_i = counts_i / Σ counts. With backoff, let m be the smallest positive
//	p_i: each zero entry becomes (m/2)/zeros and each positive entry loses
//	(m/2)/positives. When there are no zero entries the deduction still
//	applies, so the result sums to 1 - m/2.
//
// Inputs:
//
//	counts - Non-negative label counts.
//	backoff - Whether to apply backoff smoothing.
//
// Outputs:
//
//	[]float64 - The distribution, same length as counts.
//	error - ErrAllZero or ErrNegativeCount.
func Distribution(counts []int, backoff bool) ([]float64, error) {
	out := make([]float64, len(counts))
	zeros := 0
	for i, c := range counts {
		if c < 0 {
			return nil, ErrNegativeCount
		}
		if c == 0 {
			zeros++
		}
		out[i] = float64(c)
	}
	sum := floats.Sum(out)
	if sum == 0 {
		return nil, ErrAllZero
	}
	floats.Scale(1/sum, out)

	if backoff {
		minP := math.Inf(1)
		for _, p := range out {
			if p > 0 && p < minP {
				minP = p
			}
		}
		half := minP / 2
		share := 0.0
		if zeros > 0 {
			share = half / float64(zeros)
		}
		deduct := half / float64(len(counts)-zeros)
		for i, p := range out {
			if p == 0 {
				out[i] = share
			} else {
				out[i] = p - deduct
			}
		}
	}
	return out, nil
}

// Distance measures a against b with method m.
//
// Outputs:
//
//	float64 - The distance, never negative.
//	error - ErrLengthMismatch, ErrUnknownMethod, or a Distribution error.
func Distance(m Method, a, b []int) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(a), len(b))
	}

	switch m {
	case KullbackLeibler:
		p, q, err := distributions(a, b, true)
		if err != nil {
			return 0, err
		}
		return stat.KullbackLeibler(p, q) + stat.KullbackLeibler(q, p), nil

	case Hellinger:
		p, q, err := distributions(a, b, false)
		if err != nil {
			return 0, err
		}
		h := stat.Hellinger(p, q)
		if math.IsNaN(h) {
			// Bhattacharyya coefficient rounded above 1: identical inputs.
			h = 0
		}
		return h, nil

	case Euclidean:
		return floats.Distance(toFloats(a), toFloats(b), 2), nil

	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownMethod, int(m))
	}
}

func distributions(a, b []int, backoff bool) ([]float64, []float64, error) {
	p, err := Distribution(a, backoff)
	if err != nil {
		return nil, nil, fmt.Errorf("first vector: %w", err)
	}
	q, err := Distribution(b, backoff)
	if err != nil {
		return nil, nil, fmt.Errorf("second vector: %w", err)
	}
	return p, q, nil
}

func toFloats(v []int) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// Matrix returns the symmetric distance matrix over vectors, with a zero
// diagonal. vectors must not be empty.
func Matrix(m Method, vectors [][]int) (*mat.SymDense, error) {
	n := len(vectors)
	if n == 0 {
		return nil, fmt.Errorf("%w: no vectors", ErrLengthMismatch)
	}
	d := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v, err := Distance(m, vectors[i], vectors[j])
			if err != nil {
				return nil, fmt.Errorf("distance(%d,%d): %w", i, j, err)
			}
			d.SetSym(i, j, v)
		}
	}
	return d, nil
}

// Pairwise returns the condensed upper-triangular distance list over
// vectors: [D(0,1), D(0,2), ..., D(0,n-1), D(1,2), ..., D(n-2,n-1)].
func Pairwise(m Method, vectors [][]int) ([]float64, error) {
	n := len(vectors)
	if n < 2 {
		return nil, nil
	}
	d, err := Matrix(m, vectors)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			out = append(out, d.At(i, j))
		}
	}
	return out, nil
}

// Pad returns v zero-extended to length n. v is returned unchanged when it
// is already at least n long.
func Pad(v []int, n int) []int {
	if len(v) >= n {
		return v
	}
	out := make([]int, n)
	copy(out, v)
	return out
}
