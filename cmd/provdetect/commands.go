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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath string
	logLevel   string
	logFormat  string
	storePath  string
	historyDB  string
	noHistory  bool
	jsonOutput bool

	// detection overrides
	iterations      int
	retainThreshold float64
	distanceMethod  string
	policyName      string
	seed            uint64
	workers         int

	profileID string

	nGraphs   int
	nMonitor  int
	saveLearn bool

	ingestOut         string
	truncateThreshold int

	watchPatterns []string
	watchExisting bool
	watchRate     float64

	serveAddr  string
	serveWatch string

	historyLimit int
	historyClass string

	rootCmd = &cobra.Command{
		Use:   "provdetect",
		Short: "Provenance-graph anomaly detection",
		Long: `provdetect learns a profile of normal system behavior from provenance
graphs in edge-list form and classifies new graphs against it. Graphs are
summarized by Weisfeiler-Lehman relabeling, compared as label
distributions, and grouped by K-means.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return teardown()
		},
	}

	learnCmd = &cobra.Command{
		Use:   "learn [edge lists or globs...]",
		Short: "Learn a profile from benign graphs and save it to the store",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runLearn,
	}

	classifyCmd = &cobra.Command{
		Use:   "classify [edge list...]",
		Short: "Classify graphs against the stored profile (exit 3 when any is anomalous)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runClassify,
	}

	detectCmd = &cobra.Command{
		Use:   "detect [edge lists or globs...]",
		Short: "Learn on the first graphs and monitor the last --nmonitor in one run",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runDetect,
	}

	ingestCmd = &cobra.Command{
		Use:   "ingest [prov.json]",
		Short: "Convert a PROV-JSON record into an edge list",
		Args:  cobra.ExactArgs(1),
		RunE:  runIngest,
	}

	truncateCmd = &cobra.Command{
		Use:   "truncate [edge list]",
		Short: "Stop copying an edge list once its type stream is stable",
		Args:  cobra.ExactArgs(1),
		RunE:  runTruncate,
	}

	watchCmd = &cobra.Command{
		Use:   "watch [directory]",
		Short: "Classify edge lists as they appear in a directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the classification HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List recorded verdicts",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}

	profilesCmd = &cobra.Command{
		Use:   "profiles",
		Short: "List stored profiles",
		Args:  cobra.NoArgs,
		RunE:  runProfiles,
	}

	profilesDeleteCmd = &cobra.Command{
		Use:   "delete [profile id]",
		Short: "Delete a stored profile",
		Args:  cobra.ExactArgs(1),
		RunE:  runProfilesDelete,
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default ~/.aleutian/provdetect.yaml)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "", "Log format: auto, text, json")
	pf.StringVar(&storePath, "store", "", "Profile store directory")
	pf.StringVar(&historyDB, "history-db", "", "Verdict history database")
	pf.BoolVar(&noHistory, "no-history", false, "Do not record verdicts")
	pf.BoolVar(&jsonOutput, "json", false, "Print machine-readable JSON")

	for _, c := range []*cobra.Command{learnCmd, classifyCmd, detectCmd, watchCmd, serveCmd} {
		c.Flags().IntVar(&iterations, "iterations", 0, "Relabeling iterations per graph (>= 2)")
		c.Flags().Float64Var(&retainThreshold, "threshold", 0, "Retain clusters larger than this fraction of the learning set")
		c.Flags().StringVar(&distanceMethod, "method", "", "Distance: kl, hellinger, euclidean")
		c.Flags().StringVar(&policyName, "policy", "", "Radius policy: all or any")
		c.Flags().Uint64Var(&seed, "seed", 0, "Seed for the prior clustering draws (0 = random)")
		c.Flags().IntVar(&workers, "workers", 0, "Engine worker count (0 = auto)")
	}

	rootCmd.AddCommand(learnCmd)

	rootCmd.AddCommand(classifyCmd)
	classifyCmd.Flags().StringVar(&profileID, "profile", "", "Profile id (default: latest)")

	rootCmd.AddCommand(detectCmd)
	detectCmd.Flags().IntVar(&nGraphs, "ngraphs", 0, "Use only the first N graphs (0 = all)")
	detectCmd.Flags().IntVar(&nMonitor, "nmonitor", 1, "Number of trailing graphs to classify")
	detectCmd.Flags().BoolVar(&saveLearn, "save", false, "Save the learned profile to the store")

	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVarP(&ingestOut, "output", "o", "", "Edge-list output (default stdout)")
	ingestCmd.AddCommand(truncateCmd)
	truncateCmd.Flags().StringVarP(&ingestOut, "output", "o", "", "Truncated output (default stdout)")
	truncateCmd.Flags().IntVar(&truncateThreshold, "threshold", 0, "Consecutive repeated types that end the copy")

	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringSliceVar(&watchPatterns, "pattern", nil, "Glob of files to classify (repeatable)")
	watchCmd.Flags().BoolVar(&watchExisting, "existing", false, "Also classify files already present")
	watchCmd.Flags().Float64Var(&watchRate, "rate", 0, "Maximum classifications per second (0 = unlimited)")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address")
	serveCmd.Flags().StringVar(&serveWatch, "watch", "", "Also watch this directory and stream its verdicts")

	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum entries")
	historyCmd.Flags().StringVar(&historyClass, "class", "", "Only this class: normal or anomalous")

	rootCmd.AddCommand(profilesCmd)
	profilesCmd.AddCommand(profilesDeleteCmd)
}
