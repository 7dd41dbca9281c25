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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianProv/services/provenance/detect"
	"github.com/AleutianAI/AleutianProv/services/provenance/history"
	"github.com/AleutianAI/AleutianProv/services/provenance/profile"
)

var errHistoryDisabled = errors.New("verdict history is disabled; enable history in the config or drop --no-history")

func runHistory(cmd *cobra.Command, _ []string) error {
	e := env
	ledger, err := e.openLedger()
	if err != nil {
		return err
	}
	if ledger == nil {
		return errHistoryDisabled
	}
	defer ledger.Close()

	f := history.Filter{Limit: historyLimit, Class: detect.Class(historyClass)}
	if err := validator.New().Struct(f); err != nil {
		return fmt.Errorf("invalid history filter: %w", err)
	}

	ctx := cmd.Context()
	entries, err := ledger.List(ctx, f)
	if err != nil {
		return err
	}
	counts, err := ledger.Counts(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(e.out, struct {
			Entries []*history.Entry `json:"entries"`
			Counts  history.Counts   `json:"counts"`
		}{entries, counts})
	}
	printHistory(e.out, entries, counts)
	return nil
}

func runProfiles(cmd *cobra.Command, _ []string) error {
	e := env
	store, err := e.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := store.List(cmd.Context(), 0)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(e.out, summaries)
	}
	printProfiles(e.out, summaries)
	return nil
}

func printProfiles(w io.Writer, summaries []profile.Summary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "no profiles stored")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tCLUSTERS\tVECTORS\tLABELS\tITERATIONS")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n",
			s.ID, s.CreatedAt.Format("2006-01-02 15:04:05"), s.Clusters, s.Vectors, s.Labels, s.Iterations)
	}
	tw.Flush()
}

func runProfilesDelete(cmd *cobra.Command, args []string) error {
	e := env
	store, err := e.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("delete profile %s: %w", args[0], err)
	}
	e.log.Info("profile deleted", slog.String("profile_id", args[0]))
	fmt.Fprintf(e.out, "deleted %s\n", args[0])
	return nil
}
