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
	"time"

	"github.com/AleutianAI/AleutianProv/services/provenance/detect"
	"github.com/AleutianAI/AleutianProv/services/provenance/history"
	"github.com/AleutianAI/AleutianProv/services/provenance/profile"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable code.
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	ProfileID     string  `json:"profile_id,omitempty"`
	StreamClients int     `json:"stream_clients"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// ClusterInfo describes one profile cluster.
type ClusterInfo struct {
	Index   int      `json:"index"`
	Radius  float64  `json:"radius"`
	Members []string `json:"members"`
}

// ProfileResponse is returned by GET /profile.
type ProfileResponse struct {
	ID             string        `json:"id"`
	CreatedAt      time.Time     `json:"created_at"`
	Method         string        `json:"method"`
	Iterations     int           `json:"iterations"`
	Width          int           `json:"width"`
	DictionarySize int           `json:"dictionary_size"`
	Clusters       []ClusterInfo `json:"clusters"`
}

func newProfileResponse(p *profile.Profile) ProfileResponse {
	resp := ProfileResponse{
		ID:             p.ID,
		CreatedAt:      p.CreatedAt,
		Method:         p.Method,
		Iterations:     p.Iterations,
		Width:          p.Width(),
		DictionarySize: len(p.Dictionary),
		Clusters:       make([]ClusterInfo, p.NumClusters()),
	}
	for c := range resp.Clusters {
		info := ClusterInfo{Index: c, Radius: p.Radii[c]}
		for _, m := range p.Members(c) {
			info.Members = append(info.Members, p.Sources[m])
		}
		resp.Clusters[c] = info
	}
	return resp
}

// ClassifyRequest holds the POST /classify query parameters. The body is
// the edge list itself.
type ClassifyRequest struct {
	// Name labels the graph in the verdict. Default: "request".
	Name string `form:"name" validate:"omitempty,max=256"`

	// Source is stored with the verdict in the history ledger.
	Source string `form:"source" validate:"omitempty,max=256"`
}

// HistoryResponse is returned by GET /history.
type HistoryResponse struct {
	Entries []*history.Entry `json:"entries"`
	Counts  history.Counts   `json:"counts"`
}

// StreamMessage is one websocket frame on GET /stream.
type StreamMessage struct {
	// Type is "connected" or "verdict".
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Verdict   *detect.Verdict `json:"verdict,omitempty"`
	Source    string          `json:"source,omitempty"`
}
