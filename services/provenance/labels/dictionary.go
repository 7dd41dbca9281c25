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
	"sync"
)

// Dictionary is a monotonically growing bijection from canonical label
// strings to ids 0, 1, 2, ... in insertion order.
//
// One Dictionary is shared by reference by every graph relabeled in a run;
// that sharing is what makes ids comparable across graphs. Reset starts a
// new run.
//
// Thread Safety: Safe for concurrent use.
type Dictionary struct {
	mu      sync.RWMutex
	ids     map[string]int
	counter int
}

// NewDictionary creates an empty dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{ids: make(map[string]int)}
}

// Insert returns the id of label, assigning the next id if label is new.
//
// Description:
//
//	Lookup and insert happen under one write lock, so concurrent callers
//	racing on the same new string agree on a single id. Re-inserting an
//	existing string returns its id and does not grow the dictionary.
//
// Inputs:
//
//	label - Canonical encoding. Must not be empty.
//
// Outputs:
//
//	int - The label's id.
//	error - ErrEmptyLabel if label is empty.
//
// Thread Safety: Safe for concurrent use.
func (d *Dictionary) Insert(label string) (int, error) {
	if label == "" {
		return 0, ErrEmptyLabel
	}

	d.mu.RLock()
	id, ok := d.ids[label]
	d.mu.RUnlock()
	if ok {
		return id, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.ids[label]; ok {
		return id, nil
	}
	id = d.counter
	d.ids[label] = id
	d.counter++
	return id, nil
}

// Lookup returns the id of label without inserting it.
func (d *Dictionary) Lookup(label string) (int, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.ids[label]
	return id, ok
}

// Size returns the number of distinct labels, which is also the next id.
func (d *Dictionary) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.counter
}

// Reset discards every entry and restarts ids at zero.
func (d *Dictionary) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = make(map[string]int)
	d.counter = 0
}

// Snapshot returns the labels ordered by id, so that Snapshot()[i] is the
// label with id i.
func (d *Dictionary) Snapshot() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, d.counter)
	for label, id := range d.ids {
		out[id] = label
	}
	return out
}

// Restore replaces the dictionary contents with a snapshot taken by
// Snapshot. Entry i receives id i.
func (d *Dictionary) Restore(snapshot []string) error {
	ids := make(map[string]int, len(snapshot))
	for i, label := range snapshot {
		if label == "" {
			return fmt.Errorf("restore entry %d: %w", i, ErrEmptyLabel)
		}
		if prev, dup := ids[label]; dup {
			return fmt.Errorf("restore entry %d duplicates %d: %w", i, prev, ErrInvalidSnapshot)
		}
		ids[label] = i
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = ids
	d.counter = len(snapshot)
	return nil
}
