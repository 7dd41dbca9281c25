// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package relabel computes Weisfeiler-Lehman style neighborhood labels for
// provenance graphs.
//
// The Program runs on the vertex-centric engine and alternates two kinds
// of iteration:
//
//	even: relabel the vertex from the Old halves of its incident edges,
//	      tally the new label, write it into the New halves
//	odd:  flip New into Old on every incident edge
//
// Iteration 0 seeds each vertex with its own type, iteration 2 folds in
// neighbor labels together with edge kinds, and later even iterations fold
// in neighbor labels alone. Every intermediate string goes through the
// shared Dictionary, so equal neighborhoods in different graphs receive
// equal ids.
package relabel

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/AleutianAI/AleutianProv/services/provenance/engine"
	"github.com/AleutianAI/AleutianProv/services/provenance/labels"
)

// Program is the per-graph relabeling vertex program.
//
// Thread Safety: Update is safe to call concurrently for distinct vertices
// of the same iteration. The dictionary and table carry their own locks.
type Program struct {
	dict   *labels.Dictionary
	table  *labels.Table
	logger *slog.Logger

	isolated atomic.Int64
}

// NewProgram creates a Program that canonicalizes through dict and tallies
// into table. A nil logger uses slog.Default().
func NewProgram(dict *labels.Dictionary, table *labels.Table, logger *slog.Logger) *Program {
	if logger == nil {
		logger = slog.Default()
	}
	return &Program{dict: dict, table: table, logger: logger}
}

// Isolated returns the number of isolated-vertex updates skipped so far.
func (p *Program) Isolated() int64 {
	return p.isolated.Load()
}

// Update implements engine.Program.
func (p *Program) Update(ctx context.Context, v *engine.Vertex, iteration int) error {
	if v.Isolated() {
		if iteration == 0 {
			p.isolated.Add(1)
			p.logger.Debug("isolated vertex skipped",
				slog.String("graph", p.table.Name()),
				slog.Int("vertex", v.ID()),
			)
		}
		return nil
	}

	if iteration%2 == 1 {
		swap(v)
		return nil
	}

	var (
		label int
		err   error
	)
	switch iteration {
	case 0:
		label, err = p.initialize(v)
	case 2:
		label, err = p.relabelWithEdges(v)
	default:
		label, err = p.relabelVertices(v)
	}
	if err != nil {
		return fmt.Errorf("relabel vertex %d at iteration %d: %w", v.ID(), iteration, err)
	}

	if err := p.table.Increment(label); err != nil {
		return fmt.Errorf("tally vertex %d: %w", v.ID(), err)
	}
	v.SetValue(label)
	broadcast(v, label)
	return nil
}

// initialize takes the vertex's own type from an incident edge: a random
// outgoing edge's source side, else the first incoming edge's destination
// side.
func (p *Program) initialize(v *engine.Vertex) (int, error) {
	var vertexType int
	if out := v.RandomOutEdge(); out != nil {
		vertexType = out.Src.New
	} else if v.NumInEdges() > 0 {
		vertexType = v.InEdge(0).Dst.New
	} else {
		return 0, ErrNoTypeData
	}
	return p.dict.Insert(strconv.Itoa(vertexType))
}

// typeKind is a neighbor label paired with the kind of the connecting edge.
type typeKind struct {
	label int
	kind  int
}

// relabelWithEdges is the iteration-2 rule: sort (neighbor, edge kind)
// pairs stably by neighbor and encode them after the vertex's own label.
func (p *Program) relabelWithEdges(v *engine.Vertex) (int, error) {
	in := make([]typeKind, v.NumInEdges())
	for i := range in {
		e := v.InEdge(i)
		in[i] = typeKind{label: e.Src.Old, kind: e.Kind}
	}
	out := make([]typeKind, v.NumOutEdges())
	for i := range out {
		e := v.OutEdge(i)
		out[i] = typeKind{label: e.Dst.Old, kind: e.Kind}
	}
	sort.SliceStable(in, func(a, b int) bool { return in[a].label < in[b].label })
	sort.SliceStable(out, func(a, b int) bool { return out[a].label < out[b].label })

	self := v.Value()
	return p.combine(encodePairs(self, in), encodePairs(self, out))
}

// relabelVertices is the rule for later even iterations: sorted neighbor
// labels without edge kinds.
func (p *Program) relabelVertices(v *engine.Vertex) (int, error) {
	in := make([]int, v.NumInEdges())
	for i := range in {
		in[i] = v.InEdge(i).Src.Old
	}
	out := make([]int, v.NumOutEdges())
	for i := range out {
		out[i] = v.OutEdge(i).Dst.Old
	}
	sort.Ints(in)
	sort.Ints(out)

	self := v.Value()
	return p.combine(encodeLabels(self, in), encodeLabels(self, out))
}

// combine canonicalizes the in and out strings, then the pair of their ids.
func (p *Program) combine(inLabel, outLabel string) (int, error) {
	inID, err := p.dict.Insert(inLabel)
	if err != nil {
		return 0, fmt.Errorf("in label: %w", err)
	}
	outID, err := p.dict.Insert(outLabel)
	if err != nil {
		return 0, fmt.Errorf("out label: %w", err)
	}
	return p.dict.Insert(strconv.Itoa(inID) + "," + strconv.Itoa(outID))
}

// encodePairs renders `self,t k t k ` with a trailing space per element.
func encodePairs(self int, pairs []typeKind) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(self))
	b.WriteByte(',')
	for _, pr := range pairs {
		b.WriteString(strconv.Itoa(pr.label))
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(pr.kind))
		b.WriteByte(' ')
	}
	return b.String()
}

// encodeLabels renders `self,n n ` with a trailing space per element.
func encodeLabels(self int, neighbors []int) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(self))
	b.WriteByte(',')
	for _, n := range neighbors {
		b.WriteString(strconv.Itoa(n))
		b.WriteByte(' ')
	}
	return b.String()
}

// swap publishes the previous update iteration's writes: the destination
// slot of in-edges and the source slot of out-edges.
func swap(v *engine.Vertex) {
	for i := 0; i < v.NumInEdges(); i++ {
		v.InEdge(i).Dst.Flip()
	}
	for i := 0; i < v.NumOutEdges(); i++ {
		v.OutEdge(i).Src.Flip()
	}
}

// broadcast writes label into the vertex's side of every incident edge.
func broadcast(v *engine.Vertex, label int) {
	for i := 0; i < v.NumInEdges(); i++ {
		v.InEdge(i).Dst.New = label
	}
	for i := 0; i < v.NumOutEdges(); i++ {
		v.OutEdge(i).Src.New = label
	}
}
