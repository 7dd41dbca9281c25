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

import (
	"fmt"
	"sort"
)

// Pair is an unordered instance pair (X < Y) behind one condensed
// distance entry.
type Pair struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Pair) String() string {
	return fmt.Sprintf("%d-%d", p.X, p.Y)
}

// PairCount returns the number of condensed entries for n instances.
func PairCount(n int) int {
	if n < 2 {
		return 0
	}
	return n * (n - 1) / 2
}

// CondensedIndex returns the position of D(x, y), x < y, in the list
// [D(0,1), ..., D(0,n-1), D(1,2), ..., D(n-2,n-1)].
func CondensedIndex(x, y, n int) (int, error) {
	if x < 0 || y <= x || y >= n {
		return 0, fmt.Errorf("%w: pair (%d,%d) for %d instances", ErrInvalidIndex, x, y, n)
	}
	// Row x starts after x rows of lengths n-1, n-2, ..., n-x.
	return ((n-1)+(n-x))*x/2 + (y - x - 1), nil
}

// DecodeIndex returns the instance pair behind condensed index idx.
func DecodeIndex(idx, n int) (Pair, error) {
	if idx < 0 || idx >= PairCount(n) {
		return Pair{}, fmt.Errorf("%w: %d for %d instances", ErrInvalidIndex, idx, n)
	}
	x := 0
	rowLen := n - 1
	for idx >= rowLen {
		idx -= rowLen
		x++
		rowLen--
	}
	return Pair{X: x, Y: x + 1 + idx}, nil
}

// PriorGroup is one prior cluster read back as instance pairs.
type PriorGroup struct {
	// Pairs are the instance pairs whose distances fell in the cluster.
	Pairs []Pair `json:"pairs"`

	// Tally counts how many of the pairs each instance takes part in.
	Tally map[int]int `json:"tally"`

	// Seed is the instance with the largest tally, -1 for an empty group.
	Seed int `json:"seed"`
}

// SelectSeeds turns prior clusters over condensed indices into one seed
// instance per non-empty cluster.
//
// Description:
//
//	Every member index is decoded to its (x, y) pair and both instances
//	are tallied. The seed of a cluster is its most frequent instance;
//	ties go to the lowest instance id. Empty clusters yield no seed, so
//	len(seeds) is the number of non-empty prior clusters.
//
// Inputs:
//
//	members - PriorResult.Members.
//	n - Number of instances behind the condensed list.
//
// Outputs:
//
//	[]int - Seeds in prior cluster order.
//	[]PriorGroup - Decoded groups, one per prior cluster, for reporting.
//	error - ErrInvalidIndex for an index outside the triangle.
func SelectSeeds(members [][]int, n int) ([]int, []PriorGroup, error) {
	seeds := make([]int, 0, len(members))
	groups := make([]PriorGroup, len(members))

	for c, idxs := range members {
		group := PriorGroup{Tally: make(map[int]int), Seed: -1}
		for _, idx := range idxs {
			pair, err := DecodeIndex(idx, n)
			if err != nil {
				return nil, nil, fmt.Errorf("prior cluster %d: %w", c, err)
			}
			group.Pairs = append(group.Pairs, pair)
			group.Tally[pair.X]++
			group.Tally[pair.Y]++
		}

		if len(group.Tally) > 0 {
			ids := make([]int, 0, len(group.Tally))
			for id := range group.Tally {
				ids = append(ids, id)
			}
			sort.Ints(ids)
			best := -1
			for _, id := range ids {
				if group.Tally[id] > best {
					best = group.Tally[id]
					group.Seed = id
				}
			}
			seeds = append(seeds, group.Seed)
		}
		groups[c] = group
	}
	return seeds, groups, nil
}
