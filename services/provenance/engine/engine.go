// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Execution defaults.
const (
	// defaultParallelThreshold is the vertex count below which an iteration
	// runs sequentially.
	defaultParallelThreshold = 64

	// defaultChunkSize is the number of consecutive vertices per task.
	defaultChunkSize = 256

	// maxDefaultWorkers caps the worker count picked from NumCPU.
	maxDefaultWorkers = 8
)

// Program is a vertex update function run once per vertex per iteration.
//
// Update may be called concurrently for different vertices of the same
// iteration. It must only read the Old half of incident edge slots and only
// write the slot on its own side of each edge.
type Program interface {
	Update(ctx context.Context, v *Vertex, iteration int) error
}

// IterationHooks is optionally implemented by a Program to observe
// iteration boundaries. The hooks run on the caller's goroutine, outside
// any parallel section.
type IterationHooks interface {
	BeforeIteration(ctx context.Context, iteration int) error
	AfterIteration(ctx context.Context, iteration int) error
}

// Config controls parallel execution.
type Config struct {
	// Workers is the maximum number of concurrent update tasks.
	// Zero picks min(NumCPU, 8).
	Workers int `yaml:"workers" validate:"gte=0"`

	// ParallelThreshold is the vertex count below which iterations run on
	// the calling goroutine. Negative values force parallel execution.
	ParallelThreshold int `yaml:"parallel_threshold"`

	// ChunkSize is the number of consecutive vertices per task.
	// Zero uses the default.
	ChunkSize int `yaml:"chunk_size" validate:"gte=0"`
}

// DefaultConfig returns the execution defaults.
func DefaultConfig() Config {
	return Config{
		Workers:           0,
		ParallelThreshold: defaultParallelThreshold,
		ChunkSize:         defaultChunkSize,
	}
}

// SequentialConfig returns a Config that never runs updates in parallel.
func SequentialConfig() Config {
	return Config{Workers: 1, ParallelThreshold: int(^uint(0) >> 1), ChunkSize: defaultChunkSize}
}

// RunStats summarizes one Run.
type RunStats struct {
	Iterations         int
	Updates            int64
	ParallelIterations int
	Duration           time.Duration
}

// Engine runs vertex programs over graphs.
//
// Thread Safety: An Engine may run several graphs concurrently; each Run
// owns its graph exclusively.
type Engine struct {
	config Config
	logger *slog.Logger
}

// New creates an Engine. A nil logger uses slog.Default().
func New(config Config, logger *slog.Logger) *Engine {
	if config.Workers <= 0 {
		config.Workers = min(runtime.NumCPU(), maxDefaultWorkers)
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = defaultChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{config: config, logger: logger}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Run executes program over every vertex of g for the given number of
// iterations.
//
// Description:
//
//	Iterations are level-synchronous: every update of iteration k returns
//	before iteration k+1 begins. Graphs with at least ParallelThreshold
//	vertices are split into chunks that run on up to Workers goroutines.
//	The first update error cancels the remaining tasks of that iteration
//	and is returned. Context cancellation is checked between iterations
//	and between chunks.
//
// Inputs:
//
//	ctx - Cancellation. Must not be nil.
//	g - Graph to run over. Must not be modified concurrently.
//	program - Vertex program. May implement IterationHooks.
//	iterations - Iteration count. Must be positive.
//
// Outputs:
//
//	RunStats - Counters for the run, partial on error.
//	error - The first update or hook error, or the context error.
func (e *Engine) Run(ctx context.Context, g *Graph, program Program, iterations int) (RunStats, error) {
	var stats RunStats
	if g == nil {
		return stats, ErrNilGraph
	}
	if program == nil {
		return stats, ErrNilProgram
	}
	if iterations <= 0 {
		return stats, fmt.Errorf("%w: %d", ErrInvalidIterations, iterations)
	}

	ctx, span := startRunSpan(ctx, g, iterations)
	defer span.End()

	start := time.Now()
	hooks, _ := program.(IterationHooks)
	parallel := g.NumVertices() >= e.config.ParallelThreshold && e.config.Workers > 1

	for it := 0; it < iterations; it++ {
		if err := ctx.Err(); err != nil {
			return e.finish(ctx, span, &stats, start, g, err)
		}
		if hooks != nil {
			if err := hooks.BeforeIteration(ctx, it); err != nil {
				return e.finish(ctx, span, &stats, start, g, fmt.Errorf("before iteration %d: %w", it, err))
			}
		}

		iterStart := time.Now()
		var err error
		if parallel {
			err = e.runParallel(ctx, g, program, it)
			stats.ParallelIterations++
		} else {
			err = e.runSequential(ctx, g, program, it)
		}
		if err != nil {
			return e.finish(ctx, span, &stats, start, g, fmt.Errorf("iteration %d: %w", it, err))
		}
		stats.Iterations++
		stats.Updates += int64(g.NumVertices())
		recordIterationMetrics(ctx, time.Since(iterStart), g.NumVertices(), parallel)
		span.AddEvent("iteration", trace.WithAttributes(
			attribute.Int("iteration", it),
			attribute.Bool("parallel", parallel),
		))

		if hooks != nil {
			if err := hooks.AfterIteration(ctx, it); err != nil {
				return e.finish(ctx, span, &stats, start, g, fmt.Errorf("after iteration %d: %w", it, err))
			}
		}
	}

	return e.finish(ctx, span, &stats, start, g, nil)
}

func (e *Engine) finish(ctx context.Context, span trace.Span, stats *RunStats, start time.Time, g *Graph, err error) (RunStats, error) {
	stats.Duration = time.Since(start)
	recordRunMetrics(ctx, stats.Duration, err == nil)
	span.SetAttributes(
		attribute.Int("engine.iterations_done", stats.Iterations),
		attribute.Int("engine.parallel_iterations", stats.ParallelIterations),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("engine run failed",
			slog.String("graph", g.Name()),
			slog.Int("iteration", stats.Iterations),
			slog.String("error", err.Error()),
		)
		return *stats, err
	}
	span.SetStatus(codes.Ok, "")
	e.logger.Debug("engine run completed",
		slog.String("graph", g.Name()),
		slog.Int("iterations", stats.Iterations),
		slog.Int("parallel_iterations", stats.ParallelIterations),
		slog.Duration("duration", stats.Duration),
	)
	return *stats, nil
}

func (e *Engine) runSequential(ctx context.Context, g *Graph, program Program, iteration int) error {
	v := Vertex{g: g}
	for id := 0; id < g.NumVertices(); id++ {
		v.id = id
		if err := program.Update(ctx, &v, iteration); err != nil {
			return fmt.Errorf("vertex %d: %w", id, err)
		}
	}
	return nil
}

func (e *Engine) runParallel(ctx context.Context, g *Graph, program Program, iteration int) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(e.config.Workers)

	n := g.NumVertices()
	for lo := 0; lo < n; lo += e.config.ChunkSize {
		if egCtx.Err() != nil {
			break
		}
		hi := min(lo+e.config.ChunkSize, n)
		eg.Go(func() error {
			v := Vertex{g: g}
			for id := lo; id < hi; id++ {
				if err := egCtx.Err(); err != nil {
					return err
				}
				v.id = id
				if err := program.Update(egCtx, &v, iteration); err != nil {
					return fmt.Errorf("vertex %d: %w", id, err)
				}
			}
			return nil
		})
	}

	e.logger.Debug("parallel iteration dispatched",
		slog.String("graph", g.Name()),
		slog.Int("iteration", iteration),
		slog.Int("vertices", n),
		slog.Int("workers", e.config.Workers),
	)
	if err := eg.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
