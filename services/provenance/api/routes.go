// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers the provenance routes under rg.
//
// Routes:
//
//	GET  /provenance/health
//	GET  /provenance/profile
//	POST /provenance/profile/reload
//	POST /provenance/classify
//	GET  /provenance/history
//	GET  /provenance/history/:id
//	GET  /provenance/stream
//	GET  /provenance/metrics (when metrics is non-nil)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers, metrics http.Handler) {
	prov := rg.Group("/provenance")
	{
		prov.GET("/health", handlers.HandleHealth)

		prov.GET("/profile", handlers.HandleProfile)
		prov.POST("/profile/reload", handlers.HandleReloadProfile)

		prov.POST("/classify", handlers.HandleClassify)

		prov.GET("/history", handlers.HandleHistory)
		prov.GET("/history/:id", handlers.HandleHistoryEntry)

		if handlers.hub != nil {
			prov.GET("/stream", handlers.hub.HandleStream)
		}
		if metrics != nil {
			prov.GET("/metrics", gin.WrapH(metrics))
		}
	}
}

// NewRouter builds the gin engine: recovery, otel tracing, then the /v1
// routes.
func NewRouter(serviceName string, handlers *Handlers, metrics http.Handler, debug bool) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	if debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers, metrics)
	return router
}

// Serve runs router on addr until ctx is done, then shuts down within
// grace.
func Serve(ctx context.Context, addr string, router http.Handler, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting provenance API server", slog.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down provenance API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
