// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves the provenance detector over HTTP.
package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianProv/services/provenance/detect"
	"github.com/AleutianAI/AleutianProv/services/provenance/engine"
	"github.com/AleutianAI/AleutianProv/services/provenance/history"
	"github.com/AleutianAI/AleutianProv/services/provenance/labels"
	"github.com/AleutianAI/AleutianProv/services/provenance/profile"
)

// ServiceVersion is the API version reported by /health.
const ServiceVersion = "0.1.0"

// DefaultMaxBodyBytes caps POST /classify bodies.
const DefaultMaxBodyBytes = 64 << 20

// Classifier classifies graphs against a profile.
type Classifier interface {
	ClassifyGraph(ctx context.Context, g *engine.Graph, p *profile.Profile) (*detect.Verdict, error)
	Dictionary() *labels.Dictionary
}

// ProfileSource supplies the profile to classify against.
type ProfileSource interface {
	Latest(ctx context.Context) (*profile.Profile, error)
}

// Ledger records and queries verdicts.
type Ledger interface {
	Record(ctx context.Context, v *detect.Verdict, source string) error
	Get(ctx context.Context, id string) (*history.Entry, error)
	List(ctx context.Context, f history.Filter) ([]*history.Entry, error)
	Counts(ctx context.Context) (history.Counts, error)
}

// Handlers contains the HTTP handlers for the provenance API.
type Handlers struct {
	classifier Classifier
	profiles   ProfileSource
	ledger     Ledger
	hub        *Hub
	validate   *validator.Validate
	started    time.Time
	maxBody    int64

	mu      sync.RWMutex
	current *profile.Profile

	onVerdict func(v *detect.Verdict)
}

// NewHandlers creates handlers classifying with classifier against the
// profiles from source.
func NewHandlers(classifier Classifier, source ProfileSource) *Handlers {
	return &Handlers{
		classifier: classifier,
		profiles:   source,
		validate:   validator.New(),
		started:    time.Now(),
		maxBody:    DefaultMaxBodyBytes,
	}
}

// WithLedger records every verdict in l and enables the history routes.
func (h *Handlers) WithLedger(l Ledger) *Handlers {
	h.ledger = l
	return h
}

// WithHub publishes every verdict to hub and enables the stream route.
func (h *Handlers) WithHub(hub *Hub) *Handlers {
	h.hub = hub
	return h
}

// WithMaxBodyBytes overrides the classify body limit.
func (h *Handlers) WithMaxBodyBytes(n int64) *Handlers {
	if n > 0 {
		h.maxBody = n
	}
	return h
}

// SetProfile pins the profile to classify against.
func (h *Handlers) SetProfile(p *profile.Profile) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = p
}

// Profile returns the pinned profile, loading the latest from the source
// on first use.
func (h *Handlers) Profile(ctx context.Context) (*profile.Profile, error) {
	h.mu.RLock()
	p := h.current
	h.mu.RUnlock()
	if p != nil {
		return p, nil
	}
	return h.reload(ctx)
}

func (h *Handlers) reload(ctx context.Context) (*profile.Profile, error) {
	if h.profiles == nil {
		return nil, profile.ErrNotFound
	}
	p, err := h.profiles.Latest(ctx)
	if err != nil {
		return nil, err
	}
	h.SetProfile(p)
	return p, nil
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// HandleHealth handles GET /v1/provenance/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	resp := HealthResponse{
		Status:        "healthy",
		Version:       ServiceVersion,
		UptimeSeconds: time.Since(h.started).Seconds(),
	}
	h.mu.RLock()
	if h.current != nil {
		resp.ProfileID = h.current.ID
	}
	h.mu.RUnlock()
	if h.hub != nil {
		resp.StreamClients = h.hub.Clients()
	}
	c.JSON(http.StatusOK, resp)
}

// HandleProfile handles GET /v1/provenance/profile.
//
// Response:
//
//	200 OK: ProfileResponse
//	404 Not Found: No profile has been learned
func (h *Handlers) HandleProfile(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleProfile")

	p, err := h.Profile(c.Request.Context())
	if err != nil {
		h.profileError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, newProfileResponse(p))
}

// HandleReloadProfile handles POST /v1/provenance/profile/reload. It
// re-reads the latest profile from the store.
func (h *Handlers) HandleReloadProfile(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleReloadProfile")

	p, err := h.reload(c.Request.Context())
	if err != nil {
		h.profileError(c, logger, err)
		return
	}
	logger.Info("Profile reloaded", "profile_id", p.ID)
	c.JSON(http.StatusOK, newProfileResponse(p))
}

func (h *Handlers) profileError(c *gin.Context, logger *slog.Logger, err error) {
	if errors.Is(err, profile.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "No profile has been learned",
			Code:  "NO_PROFILE",
		})
		return
	}
	logger.Error("Failed to load profile", "error", err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "Failed to load profile",
		Code:    "PROFILE_LOAD_FAILED",
		Details: err.Error(),
	})
}

// HandleClassify handles POST /v1/provenance/classify.
//
// Description:
//
//	Reads an edge list from the request body, classifies it against the
//	current profile, records the verdict and publishes it to stream
//	subscribers.
//
// Query Parameters:
//
//	name - Graph name in the verdict.
//	source - Origin stored in the history ledger.
//
// Response:
//
//	200 OK: detect.Verdict
//	400 Bad Request: Malformed edge list or parameters
//	404 Not Found: No profile has been learned
//	413 Request Entity Too Large: Body over the limit
//	500 Internal Server Error: Classification failed
func (h *Handlers) HandleClassify(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleClassify")

	var req ClassifyRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query parameters", Code: "INVALID_REQUEST", Details: err.Error()})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query parameters", Code: "INVALID_REQUEST", Details: err.Error()})
		return
	}
	if req.Name == "" {
		req.Name = "request"
	}
	if req.Source == "" {
		req.Source = "api"
	}

	p, err := h.Profile(c.Request.Context())
	if err != nil {
		h.profileError(c, logger, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "Edge list too large", Code: "BODY_TOO_LARGE"})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to read request body", Code: "INVALID_REQUEST"})
		return
	}
	g, err := engine.LoadEdgeList(req.Name, bytes.NewReader(body), logger)
	if err != nil {
		logger.Warn("Invalid edge list", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid edge list", Code: "INVALID_EDGE_LIST", Details: err.Error()})
		return
	}
	if g.NumEdges() == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Edge list is empty", Code: "EMPTY_GRAPH"})
		return
	}

	v, err := h.classifier.ClassifyGraph(c.Request.Context(), g, p)
	if err != nil {
		logger.Error("Classification failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Classification failed", Code: "CLASSIFY_FAILED", Details: err.Error()})
		return
	}

	h.publish(c.Request.Context(), logger, v, req.Source)
	logger.Info("Graph classified", "graph", v.Graph, "class", v.Label(), "verdict_id", v.ID)
	c.JSON(http.StatusOK, v)
}

func (h *Handlers) publish(ctx context.Context, logger *slog.Logger, v *detect.Verdict, source string) {
	if h.ledger != nil {
		if err := h.ledger.Record(ctx, v, source); err != nil {
			logger.Warn("Failed to record verdict", "error", err)
		}
	}
	if h.hub != nil {
		h.hub.Broadcast(v, source)
	}
	if h.onVerdict != nil {
		h.onVerdict(v)
	}
}

// HandleHistory handles GET /v1/provenance/history.
//
// Query Parameters:
//
//	limit - Maximum entries (0-10000, default 100).
//	class - "normal" or "anomalous".
//	profile_id - Restrict to one profile.
//	since - RFC 3339 lower bound on classification time.
func (h *Handlers) HandleHistory(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleHistory")

	if h.ledger == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "History is not enabled", Code: "NO_HISTORY"})
		return
	}

	var f history.Filter
	if err := c.ShouldBindQuery(&f); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query parameters", Code: "INVALID_REQUEST", Details: err.Error()})
		return
	}
	if err := h.validate.Struct(f); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query parameters", Code: "INVALID_REQUEST", Details: err.Error()})
		return
	}

	entries, err := h.ledger.List(c.Request.Context(), f)
	if err != nil {
		logger.Error("Failed to list history", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list history", Code: "HISTORY_FAILED"})
		return
	}
	counts, err := h.ledger.Counts(c.Request.Context())
	if err != nil {
		logger.Error("Failed to count history", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to count history", Code: "HISTORY_FAILED"})
		return
	}
	if entries == nil {
		entries = []*history.Entry{}
	}
	c.JSON(http.StatusOK, HistoryResponse{Entries: entries, Counts: counts})
}

// HandleHistoryEntry handles GET /v1/provenance/history/:id.
func (h *Handlers) HandleHistoryEntry(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleHistoryEntry")

	if h.ledger == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "History is not enabled", Code: "NO_HISTORY"})
		return
	}

	e, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Verdict not found", Code: "NOT_FOUND"})
			return
		}
		logger.Error("Failed to read history", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to read history", Code: "HISTORY_FAILED"})
		return
	}
	c.JSON(http.StatusOK, e)
}
