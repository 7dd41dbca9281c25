// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianProv/services/provenance/detect"
	"github.com/AleutianAI/AleutianProv/services/provenance/history"
	"github.com/AleutianAI/AleutianProv/services/provenance/profile"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runLearn(cmd *cobra.Command, args []string) error {
	files, err := expandInputs(args)
	if err != nil {
		return err
	}
	_, _, err = learnAndSave(cmd.Context(), env, files)
	return err
}

// learnAndSave learns from files, stores the profile and prints the report.
func learnAndSave(ctx context.Context, e *cliEnv, files []string) (*profile.Profile, *detect.LearnReport, error) {
	o, err := e.newOrchestrator()
	if err != nil {
		return nil, nil, err
	}
	p, report, err := o.Learn(ctx, files)
	if err != nil {
		return nil, nil, err
	}

	store, err := e.openStore()
	if err != nil {
		return nil, nil, err
	}
	defer store.Close()
	digest, err := store.Save(ctx, p)
	if err != nil {
		return nil, nil, fmt.Errorf("save profile: %w", err)
	}
	e.log.Info("profile saved",
		slog.String("profile_id", p.ID),
		slog.String("digest", digest),
		slog.String("store", e.cfg.Storage.Path),
	)

	if jsonOutput {
		return p, report, printJSON(e.out, report)
	}
	printLearnReport(e.out, report)
	return p, report, nil
}

func printLearnReport(w io.Writer, r *detect.LearnReport) {
	fmt.Fprintf(w, "Profile %s\n", r.ProfileID)
	fmt.Fprintf(w, "  graphs: %d  estimated clusters: %d  retained: %d  labels: %d\n",
		len(r.Graphs), r.EstimatedClusters, r.Retained(), r.DictionarySize)

	for i, g := range r.PriorClusters {
		if len(g.Pairs) == 0 {
			continue
		}
		pairs := make([]string, len(g.Pairs))
		for j, p := range g.Pairs {
			pairs[j] = p.String()
		}
		fmt.Fprintf(w, "  prior cluster %d: seed %d  pairs %s\n", i, g.Seed, strings.Join(pairs, " "))
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  CLUSTER\tRETAINED\tRADIUS\tGRAPHS")
	for _, c := range r.Clusters {
		fmt.Fprintf(tw, "  %d\t%t\t%.6g\t%s\n", c.Index, c.Retained, c.Radius, strings.Join(c.Graphs, ","))
	}
	tw.Flush()
}

func printVerdict(w io.Writer, v *detect.Verdict) {
	fmt.Fprintf(w, "%s: %s\n", v.Graph, strings.ToUpper(v.Label()))
	for i, d := range v.Distances {
		mark := "within"
		if d > v.Radii[i] {
			mark = "outside"
		}
		fmt.Fprintf(w, "  cluster %d: distance %.6g radius %.6g (%s)\n", i, d, v.Radii[i], mark)
	}
	if v.Reclustered {
		groups := make([]string, len(v.Recluster))
		for i, g := range v.Recluster {
			groups[i] = fmt.Sprint(g)
		}
		fmt.Fprintf(w, "  recluster: %s\n", strings.Join(groups, " "))
	}
}

func printHistory(w io.Writer, entries []*history.Entry, counts history.Counts) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CLASSIFIED\tGRAPH\tVERDICT\tPROFILE\tSOURCE")
	for _, e := range entries {
		v := e.Verdict
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			v.ClassifiedAt.Format("2006-01-02 15:04:05"), v.Graph, v.Label(), shortID(v.ProfileID), e.Source)
	}
	tw.Flush()
	fmt.Fprintf(w, "%d normal (%d reabsorbed), %d anomalous\n", counts.Normal, counts.Reabsorbed, counts.Anomalous)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
