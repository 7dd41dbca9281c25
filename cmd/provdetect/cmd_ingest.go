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
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianProv/services/provenance/ingest"
)

// openOutput returns stdout for "" or "-", else creates path.
func openOutput(path string, stdout io.Writer) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return stdout, func() error { return nil }, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	return ingestFile(env, args[0], ingestOut)
}

func ingestFile(e *cliEnv, in, out string) error {
	res, err := ingest.ConvertFile(in, e.log)
	if err != nil {
		return err
	}

	w, closeFn, err := openOutput(out, e.out)
	if err != nil {
		return err
	}
	if err := res.WriteEdgeList(w); err != nil {
		closeFn()
		return fmt.Errorf("write edge list: %w", err)
	}
	if err := closeFn(); err != nil {
		return err
	}

	if res.Skipped > 0 {
		e.log.Warn("relations skipped", slog.Int("skipped", res.Skipped))
	}
	if out != "" && out != "-" {
		fmt.Fprintf(e.out, "%s: %d vertices, %d edges (%d skipped) -> %s\n",
			in, res.Vertices, res.Relations, res.Skipped, out)
	}
	return nil
}

func runTruncate(cmd *cobra.Command, args []string) error {
	return truncateFile(env, args[0], ingestOut, env.cfg.Ingest.TruncateThreshold)
}

func truncateFile(e *cliEnv, in, out string, threshold int) error {
	f, err := os.Open(in)
	if err != nil {
		return err
	}
	defer f.Close()

	w, closeFn, err := openOutput(out, e.out)
	if err != nil {
		return err
	}
	stats, err := ingest.Truncate(f, w, threshold)
	if cerr := closeFn(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("truncate %s: %w", in, err)
	}

	e.log.Info("edge list truncated",
		slog.Int("kept", stats.Kept),
		slog.Int("total", stats.Total),
		slog.Bool("stable", stats.Stable),
	)
	if out != "" && out != "-" {
		if jsonOutput {
			return printJSON(e.out, stats)
		}
		fmt.Fprintf(e.out, "kept %d of %d edges (%d distinct types, stable=%t)\n",
			stats.Kept, stats.Total, stats.Distinct, stats.Stable)
	}
	return nil
}
