// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package detect drives learning and classification.
//
// Learning relabels every learning graph against one shared dictionary,
// clusters their count vectors and keeps the well-populated clusters as a
// profile. Classification relabels an unseen graph against the same
// dictionary, compares it with every retained centroid and, when it falls
// outside the radii, re-clusters to decide between anomalous and
// reabsorbed.
package detect

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianProv/services/provenance/cluster"
	"github.com/AleutianAI/AleutianProv/services/provenance/distance"
	"github.com/AleutianAI/AleutianProv/services/provenance/engine"
	"github.com/AleutianAI/AleutianProv/services/provenance/labels"
	"github.com/AleutianAI/AleutianProv/services/provenance/profile"
	"github.com/AleutianAI/AleutianProv/services/provenance/relabel"
)

// Orchestrator owns the dictionary of one detection run.
//
// Thread Safety: Safe for concurrent use. Learn holds the run lock
// exclusively; classifications share it.
type Orchestrator struct {
	config    Config
	method    distance.Method
	dict      *labels.Dictionary
	runner    *relabel.Runner
	clusterer *cluster.Clusterer
	logger    *slog.Logger

	// runMu serializes Learn and dictionary switches against classification.
	runMu sync.RWMutex

	// active is the id of the profile the dictionary currently extends.
	active string
}

// New creates an Orchestrator with a fresh dictionary.
//
// Inputs:
//
//	config - Orchestrator configuration. Zero fields take defaults.
//	logger - Logger. Nil uses slog.Default().
//
// Outputs:
//
//	*Orchestrator - Ready to learn or classify.
//	error - ErrInvalidConfig.
func New(config Config, logger *slog.Logger) (*Orchestrator, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	dict := labels.NewDictionary()
	eng := engine.New(config.Engine, logger)
	runner, err := relabel.NewRunner(eng, dict, relabel.Config{Iterations: config.Iterations}, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	var clusterer *cluster.Clusterer
	if config.Seed != 0 {
		clusterer = cluster.NewSeeded(config.Cluster, config.Seed, logger)
	} else {
		clusterer = cluster.New(config.Cluster, nil, logger)
	}

	return &Orchestrator{
		config:    config,
		method:    config.Cluster.Method,
		dict:      dict,
		runner:    runner,
		clusterer: clusterer,
		logger:    logger,
	}, nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.config
}

// Dictionary returns the run's dictionary.
func (o *Orchestrator) Dictionary() *labels.Dictionary {
	return o.dict
}

// Learn builds a profile from learning graph files.
//
// Description:
//
//	Resets the dictionary, parses the files (concurrently, bounded by
//	LoadConcurrency) and relabels them one at a time in the given order so
//	label ids are reproducible. Count vectors are taken at the final
//	dictionary size. Pairwise distances feed Prior with k = number of
//	graphs; the prior clusters yield one seed each for KMeans. Clusters
//	larger than RetainThreshold·n are retained with their largest member
//	distance as radius.
//
// Inputs:
//
//	ctx - Cancels parsing, relabeling and clustering.
//	files - Edge-list paths, at least two.
//
// Outputs:
//
//	*profile.Profile - The learned profile, with a dictionary snapshot.
//	*LearnReport - What happened along the way.
//	error - ErrTooFewGraphs, ErrNoRetainedClusters, input or clustering errors.
func (o *Orchestrator) Learn(ctx context.Context, files []string) (*profile.Profile, *LearnReport, error) {
	if len(files) < 2 {
		return nil, nil, fmt.Errorf("%w: got %d", ErrTooFewGraphs, len(files))
	}

	graphs, err := o.loadGraphs(ctx, files)
	if err != nil {
		return nil, nil, err
	}
	return o.LearnGraphs(ctx, graphs)
}

// LearnGraphs is Learn over already parsed graphs.
func (o *Orchestrator) LearnGraphs(ctx context.Context, graphs []*engine.Graph) (*profile.Profile, *LearnReport, error) {
	if len(graphs) < 2 {
		return nil, nil, fmt.Errorf("%w: got %d", ErrTooFewGraphs, len(graphs))
	}

	ctx, span := startLearnSpan(ctx, len(graphs))
	defer span.End()
	start := time.Now()

	o.runMu.Lock()
	defer o.runMu.Unlock()

	p, report, err := o.learn(ctx, graphs)
	recordLearnMetrics(ctx, time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	o.active = p.ID
	report.Duration = time.Since(start)

	o.logger.Info("profile learned",
		slog.String("profile_id", p.ID),
		slog.Int("graphs", len(graphs)),
		slog.Int("estimated_clusters", report.EstimatedClusters),
		slog.Int("retained_clusters", p.NumClusters()),
		slog.Int("retained_vectors", len(p.Vectors)),
		slog.Int("dictionary_size", o.dict.Size()),
		slog.Duration("duration", report.Duration),
	)
	return p, report, nil
}

func (o *Orchestrator) learn(ctx context.Context, graphs []*engine.Graph) (*profile.Profile, *LearnReport, error) {
	o.dict.Reset()
	o.active = ""

	n := len(graphs)
	report := &LearnReport{Graphs: make([]GraphSummary, n)}

	results := make([]*relabel.Result, n)
	for i, g := range graphs {
		res, err := o.runner.Relabel(ctx, g)
		if err != nil {
			return nil, nil, err
		}
		results[i] = res
		report.Graphs[i] = summarize(res)
	}

	width := o.dict.Size()
	vectors := make([][]int, n)
	for i, res := range results {
		vectors[i] = res.Table.CountVector(width)
	}

	pairwise, err := distance.Pairwise(o.method, vectors)
	if err != nil {
		return nil, nil, fmt.Errorf("pairwise distances: %w", err)
	}

	prior, err := o.clusterer.Prior(ctx, n, pairwise)
	if err != nil {
		return nil, nil, err
	}
	seeds, groups, err := cluster.SelectSeeds(prior.Members, n)
	if err != nil {
		return nil, nil, err
	}
	report.EstimatedClusters = len(seeds)
	report.Seeds = seeds
	for _, g := range groups {
		if g.Seed >= 0 {
			report.PriorClusters = append(report.PriorClusters, g)
		}
	}
	o.logger.Debug("prior clustering",
		slog.Int("estimated_clusters", len(seeds)),
		slog.Any("seeds", seeds),
	)

	final, err := o.clusterer.KMeans(ctx, len(seeds), seeds, vectors)
	if err != nil {
		return nil, nil, err
	}

	p := profile.New(o.config.Iterations, o.config.Method)
	minSize := float64(n) * o.config.RetainThreshold
	for c, members := range final.Members {
		summary := ClusterSummary{
			Index:    c,
			Members:  members,
			Centroid: final.Centroids[c],
		}
		for _, m := range members {
			summary.Graphs = append(summary.Graphs, graphs[m].Name())
		}
		if float64(len(members)) > minSize {
			radius := 0.0
			for _, d := range final.Distances[c] {
				if d > radius {
					radius = d
				}
			}
			summary.Retained = true
			summary.Radius = radius

			memberVectors := make([][]int, len(members))
			for i, m := range members {
				memberVectors[i] = vectors[m]
			}
			p.AddCluster(final.Centroids[c], radius, memberVectors, summary.Graphs)
		}
		report.Clusters = append(report.Clusters, summary)
	}

	if p.NumClusters() == 0 {
		return nil, nil, fmt.Errorf("%w: %d clusters, none larger than %.2f graphs",
			ErrNoRetainedClusters, len(final.Members), minSize)
	}
	p.Dictionary = o.dict.Snapshot()
	if err := p.Validate(); err != nil {
		return nil, nil, fmt.Errorf("learned profile: %w", err)
	}

	report.ProfileID = p.ID
	report.DictionarySize = len(p.Dictionary)
	return p, report, nil
}

func (o *Orchestrator) loadGraphs(ctx context.Context, files []string) ([]*engine.Graph, error) {
	graphs := make([]*engine.Graph, len(files))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(o.config.LoadConcurrency)
	for i, path := range files {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			g, err := engine.LoadEdgeListFile(path, o.logger)
			if err != nil {
				return err
			}
			graphs[i] = g
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return graphs, nil
}

// UseProfile points the dictionary at p's snapshot.
//
// Classification calls it implicitly; call it directly to pay the restore
// cost up front. Labels first seen after the restore stay in the
// dictionary until the next UseProfile for a different profile or Learn.
func (o *Orchestrator) UseProfile(p *profile.Profile) error {
	if p == nil {
		return ErrNilProfile
	}
	o.runMu.Lock()
	defer o.runMu.Unlock()
	return o.useProfileLocked(p)
}

func (o *Orchestrator) useProfileLocked(p *profile.Profile) error {
	if o.active == p.ID {
		return nil
	}
	if err := o.dict.Restore(p.Dictionary); err != nil {
		return fmt.Errorf("restore dictionary of profile %s: %w", p.ID, err)
	}
	o.active = p.ID
	o.logger.Debug("dictionary restored",
		slog.String("profile_id", p.ID),
		slog.Int("labels", len(p.Dictionary)),
	)
	return nil
}

// Detect learns on files[:len(files)-monitor] and classifies the rest.
func (o *Orchestrator) Detect(ctx context.Context, files []string, monitor int) (*DetectReport, error) {
	if monitor < 0 || len(files)-monitor < 2 {
		return nil, fmt.Errorf("%w: %d files, %d monitored", ErrMonitorCount, len(files), monitor)
	}
	split := len(files) - monitor

	p, learnReport, err := o.Learn(ctx, files[:split])
	if err != nil {
		return nil, err
	}

	report := &DetectReport{Learn: learnReport, Profile: p}
	for _, path := range files[split:] {
		v, err := o.Classify(ctx, path, p)
		if err != nil {
			return nil, err
		}
		report.Verdicts = append(report.Verdicts, v)
		if v.Class == ClassAnomalous {
			report.Anomalies++
		}
	}
	return report, nil
}
