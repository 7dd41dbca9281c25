// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package detect

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianProv/services/provenance/distance"
	"github.com/AleutianAI/AleutianProv/services/provenance/engine"
	"github.com/AleutianAI/AleutianProv/services/provenance/profile"
)

// Classify relabels the edge-list file at path and classifies it against p.
func (o *Orchestrator) Classify(ctx context.Context, path string, p *profile.Profile) (*Verdict, error) {
	if p == nil {
		return nil, ErrNilProfile
	}
	g, err := engine.LoadEdgeListFile(path, o.logger)
	if err != nil {
		return nil, err
	}
	return o.ClassifyGraph(ctx, g, p)
}

// ClassifyGraph classifies an already parsed graph against p.
//
// Description:
//
//	The dictionary is switched to p's snapshot if it extends another
//	profile. After relabeling, p is widened (on a copy) to the grown
//	dictionary and the instance's distance to every centroid is checked
//	against the radii under the configured policy. When the check fails,
//	KMeansMonitor runs over p's vectors plus the instance, seeded with p's
//	centroids plus the instance; the instance is anomalous when it ends
//	up alone in a cluster and normal (reabsorbed) otherwise.
//
// Inputs:
//
//	ctx - Cancels relabeling and re-clustering.
//	g - The graph. Its edge records are consumed by the run.
//	p - A valid profile. Not modified.
//
// Outputs:
//
//	*Verdict - The classification.
//	error - ErrNilProfile, profile, relabel, distance or clustering errors.
func (o *Orchestrator) ClassifyGraph(ctx context.Context, g *engine.Graph, p *profile.Profile) (*Verdict, error) {
	if p == nil {
		return nil, ErrNilProfile
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	ctx, span := startClassifySpan(ctx, g.Name(), p.ID)
	defer span.End()
	start := time.Now()

	if err := o.acquire(p); err != nil {
		return nil, err
	}
	defer o.runMu.RUnlock()

	v, err := o.classify(ctx, g, p)
	if err != nil {
		recordClassifyMetrics(ctx, "", time.Since(start), false)
		span.RecordError(err)
		return nil, err
	}
	v.Duration = time.Since(start)
	recordClassifyMetrics(ctx, v.Class, v.Duration, true)

	o.logger.Info("graph classified",
		slog.String("graph", v.Graph),
		slog.String("verdict", v.Label()),
		slog.Bool("reclustered", v.Reclustered),
		slog.Any("distances", v.Distances),
		slog.Any("radii", v.Radii),
		slog.String("profile_id", p.ID),
	)
	return v, nil
}

// acquire returns holding runMu for reading with the dictionary on p.
func (o *Orchestrator) acquire(p *profile.Profile) error {
	for {
		o.runMu.RLock()
		if o.active == p.ID {
			return nil
		}
		o.runMu.RUnlock()

		o.runMu.Lock()
		err := o.useProfileLocked(p)
		o.runMu.Unlock()
		if err != nil {
			return err
		}
	}
}

func (o *Orchestrator) classify(ctx context.Context, g *engine.Graph, p *profile.Profile) (*Verdict, error) {
	sizeBefore := o.dict.Size()
	res, err := o.runner.Relabel(ctx, g)
	if err != nil {
		return nil, err
	}

	width := max(o.dict.Size(), p.Width())
	instance := res.Table.CountVector(width)
	widened := p.Clone()
	widened.Widen(width)

	v := &Verdict{
		ID:           uuid.NewString(),
		Graph:        res.Graph,
		Digest:       res.Digest,
		ProfileID:    p.ID,
		Policy:       o.config.Policy,
		Radii:        slices.Clone(p.Radii),
		Distances:    make([]float64, widened.NumClusters()),
		NewLabels:    o.dict.Size() - sizeBefore,
		ClassifiedAt: time.Now().UTC(),
	}
	for i, c := range widened.Centroids {
		d, err := distance.Distance(o.method, instance, c)
		if err != nil {
			return nil, fmt.Errorf("distance to centroid %d: %w", i, err)
		}
		v.Distances[i] = d
	}

	within, err := widened.Within(v.Distances, o.config.Policy)
	if err != nil {
		return nil, err
	}
	if within {
		v.Class = ClassNormal
		return v, nil
	}

	vectors := append(slices.Clone(widened.Vectors), instance)
	centroids := append(slices.Clone(widened.Centroids), instance)
	res2, err := o.clusterer.KMeansMonitor(ctx, vectors, centroids)
	if err != nil {
		return nil, err
	}

	self := len(widened.Vectors)
	v.Reclustered = true
	v.Recluster = res2.Members
	v.Class = ClassNormal
	v.Reabsorbed = true
	for _, members := range res2.Members {
		if len(members) == 1 && members[0] == self {
			v.Class = ClassAnomalous
			v.Reabsorbed = false
			break
		}
	}

	o.logger.Debug("re-clustered outside radius",
		slog.String("graph", v.Graph),
		slog.Any("membership", res2.Members),
		slog.Int("iterations", res2.Iterations),
	)
	return v, nil
}
