// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package relabel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianProv/services/provenance/engine"
	"github.com/AleutianAI/AleutianProv/services/provenance/labels"
)

// DefaultIterations is the relabeling budget when none is configured.
const DefaultIterations = 4

// Config controls a relabeling run.
type Config struct {
	// Iterations is the number of engine iterations, swaps included.
	// Must be at least 2. Default: 4.
	Iterations int `yaml:"iterations" validate:"gte=2"`
}

// DefaultConfig returns the default relabeling configuration.
func DefaultConfig() Config {
	return Config{Iterations: DefaultIterations}
}

// Result is the outcome of relabeling one graph.
type Result struct {
	// Graph is the graph name.
	Graph string

	// Digest is the hex content digest of the graph input.
	Digest string

	// Table holds the label tallies for the graph. It is frozen.
	Table *labels.Table

	// Labels is the final label per vertex id, -1 for isolated vertices.
	Labels []int

	// Isolated counts skipped isolated vertices.
	Isolated int

	// Edges is the graph's edge count.
	Edges int

	// Stats is the engine's run summary.
	Stats engine.RunStats
}

// Runner relabels graphs against one shared dictionary.
//
// Thread Safety: Safe for concurrent use. Concurrent Relabel calls share
// the dictionary, so the ids they assign depend on interleaving; the
// labels of any one graph are still consistent.
type Runner struct {
	engine *engine.Engine
	dict   *labels.Dictionary
	config Config
	logger *slog.Logger
}

// NewRunner creates a Runner.
//
// Inputs:
//
//	eng - Graph engine. Nil builds one with engine.DefaultConfig().
//	dict - Shared dictionary. Must not be nil.
//	config - Relabeling configuration.
//	logger - Logger. Nil uses slog.Default().
//
// Outputs:
//
//	*Runner - The runner.
//	error - ErrNilDictionary or ErrTooFewIterations.
func NewRunner(eng *engine.Engine, dict *labels.Dictionary, config Config, logger *slog.Logger) (*Runner, error) {
	if dict == nil {
		return nil, ErrNilDictionary
	}
	if config.Iterations == 0 {
		config.Iterations = DefaultIterations
	}
	if config.Iterations < 2 {
		return nil, fmt.Errorf("%w: %d", ErrTooFewIterations, config.Iterations)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if eng == nil {
		eng = engine.New(engine.DefaultConfig(), logger)
	}
	return &Runner{engine: eng, dict: dict, config: config, logger: logger}, nil
}

// Dictionary returns the shared dictionary.
func (r *Runner) Dictionary() *labels.Dictionary {
	return r.dict
}

// Iterations returns the configured iteration budget.
func (r *Runner) Iterations() int {
	return r.config.Iterations
}

// Relabel runs the relabeling program over g with a fresh frequency table.
//
// Description:
//
//	The graph's edge records are mutated by the run; relabel a Clone to
//	keep the original. The returned table is frozen.
//
// Outputs:
//
//	*Result - Tallies and final labels.
//	error - Fatal input errors (missing type data) or engine errors.
func (r *Runner) Relabel(ctx context.Context, g *engine.Graph) (*Result, error) {
	ctx, span := startRelabelSpan(ctx, g, r.config.Iterations)
	defer span.End()

	start := time.Now()
	sizeBefore := r.dict.Size()

	table := labels.NewTable(g.Name())
	program := NewProgram(r.dict, table, r.logger)
	stats, err := r.engine.Run(ctx, g, program, r.config.Iterations)
	table.Freeze()
	if err != nil {
		recordRelabelMetrics(ctx, time.Since(start), 0, false)
		span.RecordError(err)
		return nil, fmt.Errorf("relabel %s: %w", g.Name(), err)
	}

	result := &Result{
		Graph:    g.Name(),
		Digest:   g.DigestHex(),
		Table:    table,
		Labels:   make([]int, g.NumVertices()),
		Isolated: int(program.Isolated()),
		Edges:    g.NumEdges(),
		Stats:    stats,
	}
	for id := range result.Labels {
		result.Labels[id] = g.Value(id)
	}
	for _, id := range isolatedVertices(g) {
		result.Labels[id] = -1
	}

	grown := r.dict.Size() - sizeBefore
	recordRelabelMetrics(ctx, time.Since(start), grown, true)
	r.logger.Info("graph relabeled",
		slog.String("graph", g.Name()),
		slog.Int("vertices", g.NumVertices()),
		slog.Int("edges", g.NumEdges()),
		slog.Int("isolated", result.Isolated),
		slog.Int("distinct_labels", table.Distinct()),
		slog.Int("dictionary_size", r.dict.Size()),
		slog.Int("new_labels", grown),
	)
	return result, nil
}

// RelabelFile loads an edge-list file and relabels it.
func (r *Runner) RelabelFile(ctx context.Context, path string) (*Result, error) {
	g, err := engine.LoadEdgeListFile(path, r.logger)
	if err != nil {
		return nil, err
	}
	return r.Relabel(ctx, g)
}

func isolatedVertices(g *engine.Graph) []int {
	touched := make([]bool, g.NumVertices())
	for _, e := range g.Edges() {
		touched[e.Src] = true
		touched[e.Dst] = true
	}
	var out []int
	for id, ok := range touched {
		if !ok {
			out = append(out, id)
		}
	}
	return out
}
