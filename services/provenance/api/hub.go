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
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianProv/services/provenance/detect"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// sendBuffer is how many frames a client may fall behind before it is
	// dropped.
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

type streamClient struct {
	id   string
	conn *websocket.Conn
	send chan StreamMessage
	once sync.Once
}

func (c *streamClient) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans verdicts out to websocket subscribers.
//
// Thread Safety: Safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	clients map[*streamClient]struct{}
	closed  bool
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*streamClient]struct{}),
		logger:  logger,
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues a verdict for every subscriber. A subscriber whose
// buffer is full is disconnected.
func (h *Hub) Broadcast(v *detect.Verdict, source string) {
	msg := StreamMessage{Type: "verdict", Verdict: v, Source: source}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("stream client too slow, dropping", slog.String("session_id", c.id))
			delete(h.clients, c)
			c.close()
		}
	}
}

// Sink adapts Broadcast to the watcher's sink signature.
func (h *Hub) Sink(_ context.Context, v *detect.Verdict, path string) {
	h.Broadcast(v, path)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

func (h *Hub) register(c *streamClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
}

// HandleStream handles GET /v1/provenance/stream.
//
// Description:
//
//	Upgrades to a websocket, sends a "connected" frame carrying the
//	session id, then forwards every verdict until the client goes away.
//	Inbound frames are read only to notice the close.
func (h *Hub) HandleStream(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade the websocket", slog.String("error", err.Error()))
		return
	}

	client := &streamClient{
		id:   uuid.NewString(),
		conn: ws,
		send: make(chan StreamMessage, sendBuffer),
	}
	logger := h.logger.With(slog.String("session_id", client.id))
	client.send <- StreamMessage{Type: "connected", SessionID: client.id}

	if !h.register(client) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		ws.Close()
		return
	}
	logger.Info("stream client connected")

	go h.writePump(client, logger)
	h.readPump(client)
	logger.Info("stream client disconnected")
}

func (h *Hub) readPump(c *streamClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *streamClient, logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sendJSON(c.conn, msg); err != nil {
				logger.Warn("failed to write stream frame", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func sendJSON(ws *websocket.Conn, v any) error {
	return ws.WriteJSON(v)
}
