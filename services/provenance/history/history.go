// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history keeps a queryable SQLite ledger of classification
// verdicts.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AleutianAI/AleutianProv/services/provenance/detect"
)

//go:embed schema.sql
var schemaSQL string

//go:embed pragmas.sql
var pragmasSQL string

// MemoryPath opens a private in-memory ledger.
const MemoryPath = ":memory:"

var (
	// ErrNotFound indicates no verdict with the requested id.
	ErrNotFound = errors.New("verdict not found")

	// ErrDuplicate indicates a verdict id that is already recorded.
	ErrDuplicate = errors.New("verdict already recorded")

	// ErrNilVerdict indicates Record was called without a verdict.
	ErrNilVerdict = errors.New("verdict must not be nil")

	// ErrClosed indicates use of a closed ledger.
	ErrClosed = errors.New("history ledger is closed")
)

// Entry is a recorded verdict.
type Entry struct {
	Verdict    *detect.Verdict `json:"verdict"`
	Source     string          `json:"source,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	// Limit caps the number of entries. Zero means DefaultLimit.
	Limit     int          `form:"limit" validate:"gte=0,lte=10000"`
	Class     detect.Class `form:"class" validate:"omitempty,oneof=normal anomalous"`
	ProfileID string       `form:"profile_id"`
	Since     time.Time    `form:"since" time_format:"2006-01-02T15:04:05Z07:00"`
}

// DefaultLimit bounds List when the filter sets no limit.
const DefaultLimit = 100

// Counts tallies recorded verdicts per class.
type Counts struct {
	Normal     int `json:"normal"`
	Reabsorbed int `json:"reabsorbed"`
	Anomalous  int `json:"anomalous"`
}

// Total returns the number of verdicts counted.
func (c Counts) Total() int {
	return c.Normal + c.Anomalous
}

// Ledger is the SQLite-backed verdict history.
//
// Thread Safety: Safe for concurrent use.
type Ledger struct {
	conn   *sql.DB
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// Open opens or creates the ledger at path. Parent directories are
// created. MemoryPath gives a ledger that lives until Close.
func Open(path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// Every pooled connection to :memory: would see its own database.
	if path == MemoryPath {
		conn.SetMaxOpenConns(1)
	}

	for _, pragma := range strings.Split(pragmasSQL, "\n") {
		pragma = strings.TrimSpace(pragma)
		if pragma == "" || strings.HasPrefix(pragma, "--") {
			continue
		}
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	logger.Debug("history ledger opened", slog.String("path", path))
	return &Ledger{conn: conn, path: path, logger: logger}, nil
}

// Path returns the database path.
func (l *Ledger) Path() string {
	return l.path
}

// Close closes the database. Calling Close twice is a no-op.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.conn.Close()
}

// Record stores a verdict. source names where the graph came from (a
// file path, "api", "watch").
func (l *Ledger) Record(ctx context.Context, v *detect.Verdict, source string) error {
	if v == nil {
		return ErrNilVerdict
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding verdict: %w", err)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}

	res, err := l.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO verdicts
		 (id, graph, digest, profile_id, class, reclustered, reabsorbed, policy, source,
		  classified_at, recorded_at, duration_ns, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Graph, v.Digest, v.ProfileID, string(v.Class),
		boolInt(v.Reclustered), boolInt(v.Reabsorbed), string(v.Policy), source,
		v.ClassifiedAt.UnixNano(), time.Now().UnixNano(), int64(v.Duration), string(payload),
	)
	if err != nil {
		return fmt.Errorf("inserting verdict: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("inserting verdict: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", v.ID, ErrDuplicate)
	}

	l.logger.Debug("verdict recorded",
		slog.String("id", v.ID),
		slog.String("graph", v.Graph),
		slog.String("class", string(v.Class)),
	)
	return nil
}

// Get returns the verdict recorded under id.
func (l *Ledger) Get(ctx context.Context, id string) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}

	row := l.conn.QueryRowContext(ctx,
		`SELECT payload, source, recorded_at FROM verdicts WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying verdict: %w", err)
	}
	return e, nil
}

// List returns recorded verdicts, most recently classified first.
func (l *Ledger) List(ctx context.Context, f Filter) ([]*Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	var (
		where []string
		args  []any
	)
	if f.Class != "" {
		where = append(where, "class = ?")
		args = append(args, string(f.Class))
	}
	if f.ProfileID != "" {
		where = append(where, "profile_id = ?")
		args = append(args, f.ProfileID)
	}
	if !f.Since.IsZero() {
		where = append(where, "classified_at >= ?")
		args = append(args, f.Since.UnixNano())
	}

	query := `SELECT payload, source, recorded_at FROM verdicts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY classified_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}

	rows, err := l.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing verdicts: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning verdict: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Counts tallies verdicts per class. Reabsorbed verdicts are also counted
// as normal.
func (l *Ledger) Counts(ctx context.Context) (Counts, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var c Counts
	if l.closed {
		return c, ErrClosed
	}

	err := l.conn.QueryRowContext(ctx,
		`SELECT
		   COALESCE(SUM(CASE WHEN class = ? THEN 1 ELSE 0 END), 0),
		   COALESCE(SUM(reabsorbed), 0),
		   COALESCE(SUM(CASE WHEN class = ? THEN 1 ELSE 0 END), 0)
		 FROM verdicts`,
		string(detect.ClassNormal), string(detect.ClassAnomalous),
	).Scan(&c.Normal, &c.Reabsorbed, &c.Anomalous)
	if err != nil {
		return c, fmt.Errorf("counting verdicts: %w", err)
	}
	return c, nil
}

// Prune deletes verdicts classified before cutoff and returns how many
// were removed.
func (l *Ledger) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return 0, ErrClosed
	}

	res, err := l.conn.ExecContext(ctx,
		`DELETE FROM verdicts WHERE classified_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("pruning verdicts: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		payload  string
		source   string
		recorded int64
	)
	if err := s.Scan(&payload, &source, &recorded); err != nil {
		return nil, err
	}
	var v detect.Verdict
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return nil, fmt.Errorf("decoding verdict: %w", err)
	}
	return &Entry{
		Verdict:    &v,
		Source:     source,
		RecordedAt: time.Unix(0, recorded).UTC(),
	}, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
