// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine is an in-memory vertex-centric graph executor.
//
// A Graph holds typed directed edges. Each edge carries a TypeLabel with a
// double-buffered slot per endpoint: vertex programs read the Old half and
// write the New half, and a swap iteration flips New into Old. The Engine
// runs a Program over every vertex for a number of iterations, with all
// updates of iteration k finishing before any update of iteration k+1
// starts.
//
// Within an iteration, a vertex writes only the slot on its own side of
// each incident edge (Dst on in-edges, Src on out-edges). Two updates
// running in parallel therefore never write the same field.
package engine

import (
	"encoding/hex"
	"fmt"
	"math/rand/v2"
)

// Slot is one endpoint's two-phase value on an edge.
type Slot struct {
	// Old is the value visible to readers during an update iteration.
	Old int

	// New is the value written during the current update iteration.
	New int
}

// Flip publishes New as Old.
func (s *Slot) Flip() {
	s.Old = s.New
}

// TypeLabel is the per-edge record: a slot for the source side, a slot for
// the destination side, and the immutable edge kind.
type TypeLabel struct {
	Src  Slot
	Dst  Slot
	Kind int
}

// Edge is a directed edge between dense vertex ids.
type Edge struct {
	Src   int
	Dst   int
	Label TypeLabel
}

// Graph is a directed multigraph over vertex ids [0, NumVertices()).
//
// Ids without edges are isolated vertices. The graph must not be modified
// while an Engine is running over it.
type Graph struct {
	name   string
	edges  []Edge
	in     [][]int
	out    [][]int
	values []int
	digest []byte
}

// NewGraph creates an empty graph.
func NewGraph(name string) *Graph {
	return &Graph{name: name}
}

// Name returns the graph's name, usually its source file.
func (g *Graph) Name() string {
	return g.name
}

// AddEdge appends a directed edge src→dst.
func (g *Graph) AddEdge(src, dst int, label TypeLabel) error {
	if src < 0 || dst < 0 {
		return fmt.Errorf("edge %d->%d: %w", src, dst, ErrNegativeVertex)
	}
	g.grow(max(src, dst) + 1)

	idx := len(g.edges)
	g.edges = append(g.edges, Edge{Src: src, Dst: dst, Label: label})
	g.out[src] = append(g.out[src], idx)
	g.in[dst] = append(g.in[dst], idx)
	return nil
}

func (g *Graph) grow(n int) {
	for len(g.values) < n {
		g.in = append(g.in, nil)
		g.out = append(g.out, nil)
		g.values = append(g.values, 0)
	}
}

// NumVertices returns the size of the vertex id space.
func (g *Graph) NumVertices() int {
	return len(g.values)
}

// NumEdges returns the number of edges.
func (g *Graph) NumEdges() int {
	return len(g.edges)
}

// Edges returns the edge slice. Callers must not append to it.
func (g *Graph) Edges() []Edge {
	return g.edges
}

// Value returns the vertex value of id.
func (g *Graph) Value(id int) int {
	return g.values[id]
}

// Digest returns the content digest recorded by the loader, or nil.
func (g *Graph) Digest() []byte {
	return g.digest
}

// DigestHex returns Digest hex-encoded.
func (g *Graph) DigestHex() string {
	return hex.EncodeToString(g.digest)
}

// Clone returns a deep copy with the same edges, labels and values.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		name:   g.name,
		edges:  make([]Edge, len(g.edges)),
		in:     make([][]int, len(g.in)),
		out:    make([][]int, len(g.out)),
		values: make([]int, len(g.values)),
		digest: append([]byte(nil), g.digest...),
	}
	copy(c.edges, g.edges)
	copy(c.values, g.values)
	for i := range g.in {
		c.in[i] = append([]int(nil), g.in[i]...)
		c.out[i] = append([]int(nil), g.out[i]...)
	}
	return c
}

// Vertex is the handle a Program receives for one update.
//
// Thread Safety: A Vertex is only valid for the duration of one Update call
// and must not be shared between goroutines.
type Vertex struct {
	id int
	g  *Graph
}

// ID returns the vertex id.
func (v *Vertex) ID() int { return v.id }

// NumInEdges returns the in-degree.
func (v *Vertex) NumInEdges() int { return len(v.g.in[v.id]) }

// NumOutEdges returns the out-degree.
func (v *Vertex) NumOutEdges() int { return len(v.g.out[v.id]) }

// Isolated reports whether the vertex has no incident edges.
func (v *Vertex) Isolated() bool {
	return v.NumInEdges() == 0 && v.NumOutEdges() == 0
}

// InEdge returns the record of the i-th incoming edge.
func (v *Vertex) InEdge(i int) *TypeLabel {
	return &v.g.edges[v.g.in[v.id][i]].Label
}

// OutEdge returns the record of the i-th outgoing edge.
func (v *Vertex) OutEdge(i int) *TypeLabel {
	return &v.g.edges[v.g.out[v.id][i]].Label
}

// RandomOutEdge returns a uniformly chosen outgoing edge record, or nil if
// the vertex has no outgoing edges.
func (v *Vertex) RandomOutEdge() *TypeLabel {
	n := v.NumOutEdges()
	if n == 0 {
		return nil
	}
	return v.OutEdge(rand.IntN(n))
}

// Value returns the vertex value.
func (v *Vertex) Value() int { return v.g.values[v.id] }

// SetValue sets the vertex value.
func (v *Vertex) SetValue(value int) { v.g.values[v.id] = value }
