// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package labels

import (
	"fmt"
	"sort"
	"sync"
)

// Table counts label occurrences for one graph.
//
// A fresh Table is created before a graph's relabeling run and frozen when
// the run completes. The count vector derived from it depends on the size
// of the dictionary at the time it is asked for, so vectors are recomputed
// rather than cached.
//
// Thread Safety: Safe for concurrent use.
type Table struct {
	name   string
	mu     sync.Mutex
	counts map[int]int
	total  int
	frozen bool
}

// NewTable creates an empty table. name identifies the graph in logs.
func NewTable(name string) *Table {
	return &Table{name: name, counts: make(map[int]int)}
}

// Name returns the graph name the table was created for.
func (t *Table) Name() string {
	return t.name
}

// Increment adds one occurrence of id.
func (t *Table) Increment(id int) error {
	if id < 0 {
		return fmt.Errorf("increment %d: %w", id, ErrNegativeID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		return fmt.Errorf("table %s: %w", t.name, ErrFrozen)
	}
	t.counts[id]++
	t.total++
	return nil
}

// Freeze makes the table immutable.
func (t *Table) Freeze() {
	t.mu.Lock()
	t.frozen = true
	t.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (t *Table) Frozen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frozen
}

// Count returns the occurrences of id.
func (t *Table) Count(id int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[id]
}

// Total returns the sum of all counts.
func (t *Table) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Distinct returns the number of distinct ids seen.
func (t *Table) Distinct() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counts)
}

// IDs returns the seen ids in ascending order.
func (t *Table) IDs() []int {
	t.mu.Lock()
	ids := make([]int, 0, len(t.counts))
	for id := range t.counts {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	sort.Ints(ids)
	return ids
}

// CountVector returns a dense vector of length size where entry i is the
// count of id i. Ids at or beyond size are not represented.
func (t *Table) CountVector(size int) []int {
	out := make([]int, size)
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, n := range t.counts {
		if id < size {
			out[id] = n
		}
	}
	return out
}

// Equal reports whether two tables hold identical counts.
func (t *Table) Equal(other *Table) bool {
	if t == other {
		return true
	}
	a := t.snapshot()
	b := other.snapshot()
	if len(a) != len(b) {
		return false
	}
	for id, n := range a {
		if b[id] != n {
			return false
		}
	}
	return true
}

func (t *Table) snapshot() map[int]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int]int, len(t.counts))
	for id, n := range t.counts {
		out[id] = n
	}
	return out
}
