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
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianProv/services/provenance/detect"
	"github.com/AleutianAI/AleutianProv/services/provenance/engine"
	"github.com/AleutianAI/AleutianProv/services/provenance/history"
	"github.com/AleutianAI/AleutianProv/services/provenance/profile"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	behaviorA = "0\t1\t2:3:4\n"
	behaviorC = "0\t1\t8:9:10\n"
)

var quiet = slog.New(slog.DiscardHandler)

type fixture struct {
	router  *gin.Engine
	handler *Handlers
	ledger  *history.Ledger
	store   *profile.Store
	hub     *Hub
	profile *profile.Profile
}

func newFixture(t *testing.T, learn bool, metrics http.Handler) *fixture {
	t.Helper()
	ctx := context.Background()

	cfg := detect.DefaultConfig()
	cfg.Seed = 7
	o, err := detect.New(cfg, quiet)
	require.NoError(t, err)

	store, err := profile.OpenInMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ledger, err := history.Open(history.MemoryPath, quiet)
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	f := &fixture{store: store, ledger: ledger, hub: NewHub(quiet)}
	t.Cleanup(f.hub.Close)

	if learn {
		var graphs []*engine.Graph
		for _, name := range []string{"a0", "a1", "a2"} {
			g, err := engine.LoadEdgeList(name, strings.NewReader(behaviorA), quiet)
			require.NoError(t, err)
			graphs = append(graphs, g)
		}
		p, _, err := o.LearnGraphs(ctx, graphs)
		require.NoError(t, err)
		_, err = store.Save(ctx, p)
		require.NoError(t, err)
		f.profile = p
	}

	f.handler = NewHandlers(o, store).WithLedger(ledger).WithHub(f.hub)
	f.router = NewRouter("provdetect-test", f.handler, metrics, false)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "text/plain")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHandleHealth(t *testing.T) {
	f := newFixture(t, false, nil)

	w := f.do(t, http.MethodGet, "/v1/provenance/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
	assert.Empty(t, resp.ProfileID)
}

func TestHandleProfile(t *testing.T) {
	f := newFixture(t, true, nil)

	w := f.do(t, http.MethodGet, "/v1/provenance/profile", "")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[ProfileResponse](t, w)
	assert.Equal(t, f.profile.ID, resp.ID)
	require.Len(t, resp.Clusters, 1)
	assert.Equal(t, []string{"a0", "a1", "a2"}, resp.Clusters[0].Members)
	assert.Zero(t, resp.Clusters[0].Radius)
	assert.Equal(t, len(f.profile.Dictionary), resp.DictionarySize)

	health := decode[HealthResponse](t, f.do(t, http.MethodGet, "/v1/provenance/health", ""))
	assert.Equal(t, f.profile.ID, health.ProfileID)
}

func TestHandleProfile_NoProfile(t *testing.T) {
	f := newFixture(t, false, nil)

	w := f.do(t, http.MethodGet, "/v1/provenance/profile", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NO_PROFILE", decode[ErrorResponse](t, w).Code)

	w = f.do(t, http.MethodPost, "/v1/provenance/classify", behaviorA)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleReloadProfile(t *testing.T) {
	f := newFixture(t, true, nil)
	f.handler.SetProfile(nil)

	w := f.do(t, http.MethodPost, "/v1/provenance/profile/reload", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, f.profile.ID, decode[ProfileResponse](t, w).ID)
}

func TestHandleClassify(t *testing.T) {
	f := newFixture(t, true, nil)

	w := f.do(t, http.MethodPost, "/v1/provenance/classify?name=same", behaviorA)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	normal := decode[detect.Verdict](t, w)
	assert.Equal(t, detect.ClassNormal, normal.Class)
	assert.Equal(t, "same", normal.Graph)
	assert.Equal(t, f.profile.ID, normal.ProfileID)

	w = f.do(t, http.MethodPost, "/v1/provenance/classify?name=odd&source=sensor-1", behaviorC)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	odd := decode[detect.Verdict](t, w)
	assert.Equal(t, detect.ClassAnomalous, odd.Class)

	ctx := context.Background()
	got, err := f.ledger.Get(ctx, odd.ID)
	require.NoError(t, err)
	assert.Equal(t, "sensor-1", got.Source)

	got, err = f.ledger.Get(ctx, normal.ID)
	require.NoError(t, err)
	assert.Equal(t, "api", got.Source)
}

func TestHandleClassify_BadInput(t *testing.T) {
	f := newFixture(t, true, nil)

	tests := []struct {
		name string
		path string
		body string
		code int
		want string
	}{
		{"malformed", "/v1/provenance/classify", "0\tx\t1:2:3\n", http.StatusBadRequest, "INVALID_EDGE_LIST"},
		{"missing types", "/v1/provenance/classify", "0\t1\n", http.StatusBadRequest, "INVALID_EDGE_LIST"},
		{"empty", "/v1/provenance/classify", "# nothing\n", http.StatusBadRequest, "EMPTY_GRAPH"},
		{"long name", "/v1/provenance/classify?name=" + strings.Repeat("n", 300), behaviorA, http.StatusBadRequest, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.code, w.Code, w.Body.String())
			assert.Equal(t, tt.want, decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestHandleClassify_BodyLimit(t *testing.T) {
	f := newFixture(t, true, nil)
	f.handler.WithMaxBodyBytes(16)

	w := f.do(t, http.MethodPost, "/v1/provenance/classify", strings.Repeat(behaviorA, 10))
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "BODY_TOO_LARGE", decode[ErrorResponse](t, w).Code)
}

func TestHandleHistory(t *testing.T) {
	f := newFixture(t, true, nil)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/provenance/classify?name=a", behaviorA).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/provenance/classify?name=c", behaviorC).Code)

	w := f.do(t, http.MethodGet, "/v1/provenance/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HistoryResponse](t, w)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, history.Counts{Normal: 1, Anomalous: 1}, resp.Counts)

	w = f.do(t, http.MethodGet, "/v1/provenance/history?class=anomalous", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode[HistoryResponse](t, w)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "c", resp.Entries[0].Verdict.Graph)

	id := resp.Entries[0].Verdict.ID
	w = f.do(t, http.MethodGet, "/v1/provenance/history/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, decode[history.Entry](t, w).Verdict.ID)

	w = f.do(t, http.MethodGet, "/v1/provenance/history/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleHistory_InvalidFilter(t *testing.T) {
	f := newFixture(t, true, nil)

	for _, q := range []string{"limit=-1", "limit=abc", "class=weird", "since=yesterday"} {
		t.Run(q, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/v1/provenance/history?"+q, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHandleHistory_Disabled(t *testing.T) {
	f := newFixture(t, true, nil)
	f.handler.WithLedger(nil)

	w := f.do(t, http.MethodGet, "/v1/provenance/history", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	// Classification still works without a ledger.
	w = f.do(t, http.MethodPost, "/v1/provenance/classify", behaviorA)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleStream(t *testing.T) {
	f := newFixture(t, true, nil)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/provenance/stream"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	var hello StreamMessage
	require.NoError(t, ws.ReadJSON(&hello))
	assert.Equal(t, "connected", hello.Type)
	assert.NotEmpty(t, hello.SessionID)
	assert.Equal(t, 1, f.hub.Clients())

	resp, err := http.Post(srv.URL+"/v1/provenance/classify?name=live", "text/plain", bytes.NewBufferString(behaviorC))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var msg StreamMessage
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, "verdict", msg.Type)
	require.NotNil(t, msg.Verdict)
	assert.Equal(t, "live", msg.Verdict.Graph)
	assert.Equal(t, detect.ClassAnomalous, msg.Verdict.Class)
	assert.Equal(t, "api", msg.Source)
}

func TestHub_CloseRejects(t *testing.T) {
	hub := NewHub(quiet)
	hub.Close()
	assert.False(t, hub.register(&streamClient{send: make(chan StreamMessage, 1)}))
	hub.Broadcast(&detect.Verdict{ID: "x"}, "")
	assert.Zero(t, hub.Clients())
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := NewHub(quiet)
	c := &streamClient{id: "slow", send: make(chan StreamMessage, 1)}
	require.True(t, hub.register(c))

	hub.Broadcast(&detect.Verdict{ID: "1"}, "")
	assert.Equal(t, 1, hub.Clients())
	hub.Broadcast(&detect.Verdict{ID: "2"}, "")
	assert.Zero(t, hub.Clients())

	first, ok := <-c.send
	require.True(t, ok)
	assert.Equal(t, "1", first.Verdict.ID)
	_, ok = <-c.send
	assert.False(t, ok)
}

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, true, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	require.NoError(t, RegisterMetrics(reg, f.handler))

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/provenance/classify", behaviorC).Code)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["provenance_dictionary_labels"])
	assert.True(t, names["provenance_api_verdicts_total"])
	assert.True(t, names["provenance_api_stream_clients"])

	w := f.do(t, http.MethodGet, "/v1/provenance/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `provenance_api_verdicts_total{class="anomalous",reabsorbed="false"} 1`)

	// A second registration on the same registry collides.
	assert.Error(t, RegisterMetrics(reg, f.handler))
}
