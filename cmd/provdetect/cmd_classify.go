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
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianProv/services/provenance/detect"
	"github.com/AleutianAI/AleutianProv/services/provenance/history"
)

func runClassify(cmd *cobra.Command, args []string) error {
	files, err := expandInputs(args)
	if err != nil {
		return err
	}
	verdicts, err := classifyFiles(cmd.Context(), env, profileID, files)
	if err != nil {
		return err
	}
	return anomalyExit(verdicts)
}

// classifyFiles classifies each file against the stored profile, records
// the verdicts and prints them.
func classifyFiles(ctx context.Context, e *cliEnv, id string, files []string) ([]*detect.Verdict, error) {
	store, err := e.openStore()
	if err != nil {
		return nil, err
	}
	p, err := loadProfile(ctx, store, id)
	store.Close()
	if err != nil {
		return nil, err
	}

	o, err := e.newOrchestrator()
	if err != nil {
		return nil, err
	}
	ledger, err := e.openLedger()
	if err != nil {
		return nil, err
	}
	if ledger != nil {
		defer ledger.Close()
	}

	verdicts := make([]*detect.Verdict, 0, len(files))
	for _, f := range files {
		v, err := o.Classify(ctx, f, p)
		if err != nil {
			return verdicts, err
		}
		verdicts = append(verdicts, v)
		record(ctx, e, ledger, v, f)
	}

	if jsonOutput {
		return verdicts, printJSON(e.out, verdicts)
	}
	for _, v := range verdicts {
		printVerdict(e.out, v)
	}
	return verdicts, nil
}

func record(ctx context.Context, e *cliEnv, ledger *history.Ledger, v *detect.Verdict, source string) {
	if ledger == nil {
		return
	}
	if err := ledger.Record(ctx, v, source); err != nil {
		e.log.Warn("failed to record verdict", slog.String("verdict", v.ID), slog.String("error", err.Error()))
	}
}

// anomalyExit maps any anomalous verdict to exit code 3.
func anomalyExit(verdicts []*detect.Verdict) error {
	n := 0
	for _, v := range verdicts {
		if v.Anomalous() {
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return &exitError{code: exitAnomalous, msg: fmt.Sprintf("%d of %d graphs anomalous", n, len(verdicts))}
}

func runDetect(cmd *cobra.Command, args []string) error {
	files, err := expandInputs(args)
	if err != nil {
		return err
	}
	report, err := detectFiles(cmd.Context(), env, files, nGraphs, nMonitor, saveLearn)
	if err != nil {
		return err
	}
	return anomalyExit(report.Verdicts)
}

// detectFiles runs the learn-then-monitor flow over the first ngraphs
// files (all when ngraphs is 0).
func detectFiles(ctx context.Context, e *cliEnv, files []string, ngraphs, nmonitor int, save bool) (*detect.DetectReport, error) {
	if ngraphs > 0 {
		if ngraphs > len(files) {
			return nil, fmt.Errorf("--ngraphs %d but only %d files given", ngraphs, len(files))
		}
		files = files[:ngraphs]
	}

	o, err := e.newOrchestrator()
	if err != nil {
		return nil, err
	}
	report, err := o.Detect(ctx, files, nmonitor)
	if err != nil {
		return nil, err
	}

	if save {
		store, err := e.openStore()
		if err != nil {
			return nil, err
		}
		_, err = store.Save(ctx, report.Profile)
		store.Close()
		if err != nil {
			return nil, fmt.Errorf("save profile: %w", err)
		}
	}

	ledger, err := e.openLedger()
	if err != nil {
		return nil, err
	}
	if ledger != nil {
		defer ledger.Close()
	}
	monitored := files[len(files)-nmonitor:]
	for i, v := range report.Verdicts {
		record(ctx, e, ledger, v, monitored[i])
	}

	if jsonOutput {
		return report, printJSON(e.out, report)
	}
	printLearnReport(e.out, report.Learn)
	for _, v := range report.Verdicts {
		printVerdict(e.out, v)
	}
	fmt.Fprintf(e.out, "%d of %d monitored graphs anomalous\n", report.Anomalies, len(report.Verdicts))
	return report, nil
}
