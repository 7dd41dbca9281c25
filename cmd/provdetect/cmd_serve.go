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
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianProv/services/provenance/api"
	"github.com/AleutianAI/AleutianProv/services/provenance/detect"
	"github.com/AleutianAI/AleutianProv/services/provenance/history"
	"github.com/AleutianAI/AleutianProv/services/provenance/profile"
	"github.com/AleutianAI/AleutianProv/services/provenance/telemetry"
	"github.com/AleutianAI/AleutianProv/services/provenance/watch"
)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// newWatcher wires a watcher that classifies against current() and
// records to ledger.
func newWatcher(e *cliEnv, dir string, o *detect.Orchestrator, current func(context.Context) (*profile.Profile, error), ledger *history.Ledger) (*watch.Watcher, error) {
	target := func(ctx context.Context, path string) (*detect.Verdict, error) {
		p, err := current(ctx)
		if err != nil {
			return nil, err
		}
		return o.Classify(ctx, path, p)
	}
	w, err := watch.New(dir, target, e.cfg.Watch, e.log)
	if err != nil {
		return nil, err
	}
	if ledger != nil {
		w.AddSink(func(ctx context.Context, v *detect.Verdict, path string) {
			record(ctx, e, ledger, v, path)
		})
	}
	return w, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	e := env

	store, err := e.openStore()
	if err != nil {
		return err
	}
	p, err := loadProfile(ctx, store, "")
	store.Close()
	if err != nil {
		return err
	}

	o, err := e.newOrchestrator()
	if err != nil {
		return err
	}
	ledger, err := e.openLedger()
	if err != nil {
		return err
	}
	if ledger != nil {
		defer ledger.Close()
	}

	w, err := newWatcher(e, args[0], o, func(context.Context) (*profile.Profile, error) { return p, nil }, ledger)
	if err != nil {
		return err
	}
	w.AddSink(func(_ context.Context, v *detect.Verdict, _ string) {
		if jsonOutput {
			_ = printJSON(e.out, v)
			return
		}
		printVerdict(e.out, v)
	})
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	e.log.Info("watching", slog.String("dir", w.Root()), slog.String("profile_id", p.ID))
	<-ctx.Done()

	s := w.Stats()
	fmt.Fprintf(e.out, "classified %d graphs, %d anomalous, %d failed\n", s.Classified, s.Anomalous, s.Failed)
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	e := env

	if e.cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := e.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	o, err := e.newOrchestrator()
	if err != nil {
		return err
	}
	ledger, err := e.openLedger()
	if err != nil {
		return err
	}

	hub := api.NewHub(e.log)
	defer hub.Close()

	handlers := api.NewHandlers(o, store).
		WithHub(hub).
		WithMaxBodyBytes(e.cfg.Server.MaxBodyBytes)
	if ledger != nil {
		defer ledger.Close()
		handlers.WithLedger(ledger)
	}
	if p, err := handlers.Profile(ctx); err != nil {
		e.log.Warn("no profile loaded yet; classify returns 404 until one is learned", slog.String("error", err.Error()))
	} else {
		e.log.Info("profile loaded", slog.String("profile_id", p.ID))
	}

	if reg := telemetry.Registerer(); reg != nil {
		if err := api.RegisterMetrics(reg, handlers); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	if serveWatch != "" {
		w, err := newWatcher(e, serveWatch, o, handlers.Profile, ledger)
		if err != nil {
			return err
		}
		w.AddSink(hub.Sink)
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	router := api.NewRouter(e.cfg.Telemetry.ServiceName, handlers, telemetry.MetricsHandler(), e.cfg.Server.Debug)
	return api.Serve(ctx, e.cfg.Server.Addr, router, e.cfg.Server.ShutdownGrace)
}
