// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// StoreConfig configures the badger-backed profile store.
type StoreConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string `yaml:"path"`

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool `yaml:"in_memory"`

	// SyncWrites fsyncs every commit. Default: true.
	SyncWrites bool `yaml:"sync_writes"`

	// GCInterval is how often value log GC runs. 0 disables it.
	GCInterval time.Duration `yaml:"gc_interval"`

	// GCDiscardRatio is the garbage ratio that triggers a rewrite.
	GCDiscardRatio float64 `yaml:"gc_discard_ratio" validate:"gte=0,lte=1"`
}

// DefaultStoreConfig returns durable defaults rooted at path.
func DefaultStoreConfig(path string) StoreConfig {
	return StoreConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryStoreConfig returns a configuration for tests.
func InMemoryStoreConfig() StoreConfig {
	return StoreConfig{InMemory: true}
}

const (
	keyLatest        = "latest"
	prefixProfile    = "profile/"
	prefixProfileIdx = "index/"
)

func profileKey(id string) []byte {
	return []byte(prefixProfile + id)
}

func indexKey(created time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", prefixProfileIdx, created.UnixNano(), id))
}

// Store persists profiles in badger.
//
// Each profile is stored as an Encode blob. A time-ordered index keeps a
// Summary per profile, and a pointer names the most recently saved one.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *badger.DB
	gc     *gcRunner
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// badgerLogger routes badger's own logging through slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenStore opens or creates a profile store.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is set.
//	logger - Logger for store and badger events. Nil silences badger.
//
// Outputs:
//
//	*Store - The store. Call Close when done.
//	error - Non-nil if the database cannot be opened.
func OpenStore(cfg StoreConfig, logger *slog.Logger) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent profile store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open profile store: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, logger)
		s.gc.start()
	}
	return s, nil
}

// OpenInMemoryStore opens a store that lives only in memory.
func OpenInMemoryStore() (*Store, error) {
	return OpenStore(InMemoryStoreConfig(), nil)
}

// Close stops GC and closes the database. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.View(fn)
}

func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.Update(fn)
}

// Save validates, encodes and stores p, and marks it latest.
//
// Outputs:
//
//	string - Hex digest of the stored payload.
//	error - Validation, encoding or storage failure.
func (s *Store) Save(ctx context.Context, p *Profile) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	blob, digest, err := Encode(p)
	if err != nil {
		return "", err
	}
	summary, err := json.Marshal(Summary{
		ID:         p.ID,
		CreatedAt:  p.CreatedAt,
		Clusters:   p.NumClusters(),
		Vectors:    len(p.Vectors),
		Labels:     len(p.Dictionary),
		Iterations: p.Iterations,
		Digest:     digest,
	})
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}

	err = s.update(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(profileKey(p.ID), blob); err != nil {
			return err
		}
		if err := txn.Set(indexKey(p.CreatedAt, p.ID), summary); err != nil {
			return err
		}
		return txn.Set([]byte(keyLatest), []byte(p.ID))
	})
	if err != nil {
		return "", fmt.Errorf("save profile %s: %w", p.ID, err)
	}

	s.logger.Info("profile saved",
		slog.String("profile_id", p.ID),
		slog.String("digest", digest),
		slog.Int("clusters", p.NumClusters()),
		slog.Int("bytes", len(blob)),
	)
	return digest, nil
}

// Load returns the profile stored under id.
func (s *Store) Load(ctx context.Context, id string) (*Profile, error) {
	var blob []byte
	err := s.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(profileKey(id))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", id, err)
	}

	p, _, err := Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", id, err)
	}
	return p, nil
}

// Latest returns the most recently saved profile.
func (s *Store) Latest(ctx context.Context) (*Profile, error) {
	var id string
	err := s.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyLatest))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read latest pointer: %w", err)
	}
	return s.Load(ctx, id)
}

// List returns stored profile summaries, newest first. limit <= 0 lists all.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	var out []Summary
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(prefixProfileIdx)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks from just past the prefix.
		for it.Seek([]byte(prefixProfileIdx + "\xff")); it.ValidForPrefix(opts.Prefix); it.Next() {
			var sum Summary
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sum)
			}); err != nil {
				return fmt.Errorf("%w: index entry %s: %v", ErrCorrupt, it.Item().Key(), err)
			}
			out = append(out, sum)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a profile and its index entry. The latest pointer is
// cleared when it names the deleted profile.
func (s *Store) Delete(ctx context.Context, id string) error {
	p, err := s.Load(ctx, id)
	if err != nil {
		return err
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		if err := txn.Delete(profileKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(indexKey(p.CreatedAt, id)); err != nil {
			return err
		}
		item, err := txn.Get([]byte(keyLatest))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var latest string
		if err := item.Value(func(val []byte) error {
			latest = string(val)
			return nil
		}); err != nil {
			return err
		}
		if latest == id {
			return txn.Delete([]byte(keyLatest))
		}
		return nil
	})
}

// gcRunner triggers value log GC on an interval.
type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcRunner {
	if ratio <= 0 || ratio > 1 {
		ratio = 0.5
	}
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (r *gcRunner) start() {
	go func() {
		defer close(r.doneCh)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				err := r.db.RunValueLogGC(r.ratio)
				switch {
				case err == nil:
					r.logger.Debug("profile store value log GC completed")
				case !errors.Is(err, badger.ErrNoRewrite):
					r.logger.Warn("profile store value log GC error", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

func (r *gcRunner) stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}
