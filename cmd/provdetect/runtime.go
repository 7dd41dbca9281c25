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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianProv/cmd/provdetect/config"
	"github.com/AleutianAI/AleutianProv/pkg/logging"
	"github.com/AleutianAI/AleutianProv/services/provenance/detect"
	"github.com/AleutianAI/AleutianProv/services/provenance/history"
	"github.com/AleutianAI/AleutianProv/services/provenance/profile"
	"github.com/AleutianAI/AleutianProv/services/provenance/telemetry"
)

// cliEnv is the per-invocation state shared by the commands.
type cliEnv struct {
	cfg    config.ProvConfig
	logger *logging.Logger
	log    *slog.Logger
	out    io.Writer
	runID  string

	shutdownTelemetry func(context.Context) error
}

var env *cliEnv

// setup loads the config, applies flag overrides, and starts logging and
// telemetry.
func setup(cmd *cobra.Command, _ []string) error {
	if err := config.Load(configPath); err != nil {
		return err
	}
	cfg := config.Global
	if err := applyFlags(cmd, &cfg); err != nil {
		return err
	}

	e, err := newEnv(cmd.Context(), cfg, cmd.OutOrStdout(), cmd == serveCmd || cmd == watchCmd)
	if err != nil {
		return err
	}
	env = e
	env.log.Debug("provdetect starting", slog.String("command", cmd.Name()))
	return nil
}

func teardown() error {
	if env == nil {
		return nil
	}
	var errs []error
	if env.shutdownTelemetry != nil {
		errs = append(errs, env.shutdownTelemetry(context.Background()))
	}
	errs = append(errs, env.logger.Close())
	env = nil
	return errors.Join(errs...)
}

// newEnv builds logging and telemetry from cfg. Metric export is only
// enabled for the long-running commands.
func newEnv(ctx context.Context, cfg config.ProvConfig, out io.Writer, longRunning bool) (*cliEnv, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "provdetect",
		JSON:    useJSONLogs(cfg.Logging.Format, os.Stderr),
	})

	runID := uuid.NewString()
	e := &cliEnv{
		cfg:    cfg,
		logger: logger,
		log:    logger.Slog().With(slog.String("run_id", runID)),
		out:    out,
		runID:  runID,
	}

	tcfg := cfg.Telemetry
	if !longRunning {
		tcfg.MetricExporter = "none"
	}
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	e.shutdownTelemetry = shutdown
	return e, nil
}

// useJSONLogs resolves the log format; "auto" picks JSON off a terminal.
func useJSONLogs(format string, f *os.File) bool {
	switch format {
	case "json":
		return true
	case "text":
		return false
	default:
		return !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
	}
}

// applyFlags overlays explicitly set flags onto cfg and revalidates.
func applyFlags(cmd *cobra.Command, cfg *config.ProvConfig) error {
	flags := cmd.Flags()
	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if storePath != "" {
		cfg.Storage.Path = storePath
	}
	if historyDB != "" {
		cfg.History.Path = historyDB
		cfg.History.Enabled = true
	}
	if noHistory {
		cfg.History.Enabled = false
	}

	d := &cfg.Detection
	if changed("iterations") {
		d.Iterations = iterations
	}
	if changed("threshold") && cmd != truncateCmd {
		d.RetainThreshold = retainThreshold
	}
	if changed("method") {
		d.Method = distanceMethod
	}
	if changed("policy") {
		d.Policy = profile.Policy(policyName)
	}
	if changed("seed") {
		d.Seed = seed
	}
	if changed("workers") {
		d.Engine.Workers = workers
	}

	if cmd == truncateCmd && changed("threshold") {
		cfg.Ingest.TruncateThreshold = truncateThreshold
	}
	if changed("pattern") {
		cfg.Watch.Patterns = watchPatterns
	}
	if changed("existing") {
		cfg.Watch.Existing = watchExisting
	}
	if changed("rate") {
		cfg.Watch.Rate = watchRate
	}
	if changed("addr") {
		cfg.Server.Addr = serveAddr
	}

	if err := config.Validate(*cfg); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}

// expandInputs resolves doublestar globs. Matches of one pattern are
// sorted; argument order is kept across patterns and duplicates dropped.
func expandInputs(args []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, arg := range args {
		if !strings.ContainsAny(arg, "*?[{") {
			add(arg)
			continue
		}
		matches, err := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("pattern %q matched no files", arg)
		}
		slices.Sort(matches)
		for _, m := range matches {
			add(filepath.Clean(m))
		}
	}
	return out, nil
}

func (e *cliEnv) newOrchestrator() (*detect.Orchestrator, error) {
	return detect.New(e.cfg.Detection, e.log)
}

func (e *cliEnv) openStore() (*profile.Store, error) {
	if e.cfg.Storage.Path == "" && !e.cfg.Storage.InMemory {
		return nil, errors.New("no profile store configured; pass --store")
	}
	return profile.OpenStore(e.cfg.Storage, e.log)
}

// openLedger returns nil, nil when history is disabled.
func (e *cliEnv) openLedger() (*history.Ledger, error) {
	if !e.cfg.History.Enabled {
		return nil, nil
	}
	return history.Open(e.cfg.History.Path, e.log)
}

// loadProfile returns the profile named id, or the latest when id is "".
func loadProfile(ctx context.Context, store *profile.Store, id string) (*profile.Profile, error) {
	if id != "" {
		return store.Load(ctx, id)
	}
	p, err := store.Latest(ctx)
	if errors.Is(err, profile.ErrNotFound) {
		return nil, errors.New("no profile in the store; run `provdetect learn` first")
	}
	return p, err
}
