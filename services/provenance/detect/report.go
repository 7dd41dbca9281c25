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
	"time"

	"github.com/AleutianAI/AleutianProv/services/provenance/cluster"
	"github.com/AleutianAI/AleutianProv/services/provenance/profile"
	"github.com/AleutianAI/AleutianProv/services/provenance/relabel"
)

// Class is the classification outcome.
type Class string

const (
	// ClassNormal marks an instance consistent with the profile.
	ClassNormal Class = "normal"

	// ClassAnomalous marks an instance that re-clustering left alone.
	ClassAnomalous Class = "anomalous"
)

// Verdict is the result of classifying one graph.
type Verdict struct {
	// ID identifies this classification.
	ID string `json:"id"`

	// Graph is the graph name and Digest its content digest.
	Graph  string `json:"graph"`
	Digest string `json:"digest"`

	// ProfileID names the profile classified against.
	ProfileID string `json:"profile_id"`

	// Class is the outcome.
	Class Class `json:"class"`

	// Reclustered is set when the radius check failed and KMeansMonitor ran.
	Reclustered bool `json:"reclustered"`

	// Reabsorbed is set for a normal verdict reached by re-clustering.
	Reabsorbed bool `json:"reabsorbed"`

	// Distances holds the distance to each centroid; Radii the matching radii.
	Distances []float64 `json:"distances"`
	Radii     []float64 `json:"radii"`

	// Policy is the radius policy applied.
	Policy profile.Policy `json:"policy"`

	// Recluster is the re-clustering membership, when it ran. The
	// instance is index len(profile vectors).
	Recluster [][]int `json:"recluster,omitempty"`

	// NewLabels counts labels this graph added to the dictionary.
	NewLabels int `json:"new_labels"`

	ClassifiedAt time.Time     `json:"classified_at"`
	Duration     time.Duration `json:"duration_ns"`
}

// Anomalous reports whether the verdict is anomalous.
func (v *Verdict) Anomalous() bool {
	return v.Class == ClassAnomalous
}

// Label returns "normal", "normal (reabsorbed)" or "anomalous".
func (v *Verdict) Label() string {
	if v.Reabsorbed {
		return "normal (reabsorbed)"
	}
	return string(v.Class)
}

// GraphSummary describes one relabeled learning graph.
type GraphSummary struct {
	Name           string `json:"name"`
	Digest         string `json:"digest"`
	Vertices       int    `json:"vertices"`
	Edges          int    `json:"edges"`
	Isolated       int    `json:"isolated"`
	DistinctLabels int    `json:"distinct_labels"`
}

func summarize(res *relabel.Result) GraphSummary {
	return GraphSummary{
		Name:           res.Graph,
		Digest:         res.Digest,
		Vertices:       len(res.Labels),
		Edges:          res.Edges,
		Isolated:       res.Isolated,
		DistinctLabels: res.Table.Distinct(),
	}
}

// ClusterSummary describes one final learning cluster.
type ClusterSummary struct {
	Index    int      `json:"index"`
	Members  []int    `json:"members"`
	Graphs   []string `json:"graphs"`
	Centroid []int    `json:"-"`
	Retained bool     `json:"retained"`
	Radius   float64  `json:"radius"`
}

// LearnReport records the intermediate results of Learn.
type LearnReport struct {
	ProfileID         string               `json:"profile_id"`
	Graphs            []GraphSummary       `json:"graphs"`
	EstimatedClusters int                  `json:"estimated_clusters"`
	PriorClusters     []cluster.PriorGroup `json:"prior_clusters"`
	Seeds             []int                `json:"seeds"`
	Clusters          []ClusterSummary     `json:"clusters"`
	DictionarySize    int                  `json:"dictionary_size"`
	Duration          time.Duration        `json:"duration_ns"`
}

// Retained returns the number of retained clusters.
func (r *LearnReport) Retained() int {
	n := 0
	for _, c := range r.Clusters {
		if c.Retained {
			n++
		}
	}
	return n
}

// DetectReport is the outcome of Detect.
type DetectReport struct {
	Learn     *LearnReport     `json:"learn"`
	Profile   *profile.Profile `json:"-"`
	Verdicts  []*Verdict       `json:"verdicts"`
	Anomalies int              `json:"anomalies"`
}
