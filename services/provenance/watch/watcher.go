// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch classifies edge lists as they appear in a directory.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianProv/services/provenance/detect"
)

// ErrNilTarget indicates New was called without a classification target.
var ErrNilTarget = errors.New("watch target must not be nil")

// Target classifies the edge list at path.
type Target func(ctx context.Context, path string) (*detect.Verdict, error)

// Sink receives every verdict the watcher produces.
type Sink func(ctx context.Context, v *detect.Verdict, path string)

// ChangeOp is the kind of file system change.
type ChangeOp int

const (
	OpCreate ChangeOp = iota
	OpWrite
	OpRemove
	OpRename
)

func (op ChangeOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Change is one observed file system change.
type Change struct {
	Path string
	Op   ChangeOp
	Time time.Time
}

// Options configures a Watcher.
type Options struct {
	// Patterns are doublestar globs, relative to the root, selecting the
	// files to classify. Default: **/*.txt
	Patterns []string `yaml:"patterns"`

	// Ignore are doublestar globs for paths never watched or classified.
	Ignore []string `yaml:"ignore"`

	// Debounce is the quiet period before a batch of changes is handled.
	// Default: 250ms
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`

	// Rate caps classifications per second. Zero disables the limit.
	Rate float64 `yaml:"rate" validate:"gte=0"`

	// Burst is the limiter burst size. Default: 1
	Burst int `yaml:"burst" validate:"gte=0"`

	// Existing classifies matching files already present at Start.
	Existing bool `yaml:"existing"`

	// BufferSize bounds pending changes. Default: 1000
	BufferSize int `yaml:"buffer_size" validate:"gte=0"`
}

// DefaultOptions returns the watcher defaults.
func DefaultOptions() Options {
	return Options{
		Patterns:   []string{"**/*.txt"},
		Ignore:     []string{"**/.git/**", "**/*.swp", "**/*.tmp", "**/.*"},
		Debounce:   250 * time.Millisecond,
		Rate:       0,
		Burst:      1,
		BufferSize: 1000,
	}
}

func (o *Options) fill() {
	d := DefaultOptions()
	if len(o.Patterns) == 0 {
		o.Patterns = d.Patterns
	}
	if o.Debounce == 0 {
		o.Debounce = d.Debounce
	}
	if o.Burst <= 0 {
		o.Burst = d.Burst
	}
	if o.BufferSize <= 0 {
		o.BufferSize = d.BufferSize
	}
}

// Stats counts what a Watcher has done.
type Stats struct {
	Classified int64 `json:"classified"`
	Anomalous  int64 `json:"anomalous"`
	Failed     int64 `json:"failed"`
	Skipped    int64 `json:"skipped"`
}

// fileState is the stat of a file when it was last classified.
type fileState struct {
	size    int64
	modTime time.Time
}

// Watcher watches a directory tree and classifies matching edge lists.
//
// Description:
//
//	Changes are debounced into batches. Each batch is deduplicated per
//	path, filtered through the patterns, and classified one file at a time
//	under the rate limit. A file whose size and modification time are
//	unchanged since its last classification is skipped.
//
// Thread Safety:
//
//	Safe for concurrent use. Target and sinks are called from a single
//	goroutine.
type Watcher struct {
	root    string
	fsw     *fsnotify.Watcher
	target  Target
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger

	changes  chan Change
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.RWMutex
	watching bool
	sinks    []Sink
	seen     map[string]fileState

	classified atomic.Int64
	anomalous  atomic.Int64
	failed     atomic.Int64
	skipped    atomic.Int64
}

// New creates a watcher for root. Call Start to begin watching.
func New(root string, target Target, opts Options, logger *slog.Logger) (*Watcher, error) {
	if target == nil {
		return nil, ErrNilTarget
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts.fill()

	for _, p := range append(append([]string{}, opts.Patterns...), opts.Ignore...) {
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: p}
		}
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}

	return &Watcher{
		root:    abs,
		fsw:     fsw,
		target:  target,
		opts:    opts,
		limiter: rate.NewLimiter(limit, opts.Burst),
		logger:  logger.With(slog.String("root", abs)),
		changes: make(chan Change, opts.BufferSize),
		done:    make(chan struct{}),
		seen:    make(map[string]fileState),
	}, nil
}

// PatternError reports an invalid glob.
type PatternError struct {
	Pattern string
}

func (e *PatternError) Error() string {
	return "invalid watch pattern: " + e.Pattern
}

// AddSink registers a verdict sink.
func (w *Watcher) AddSink(s Sink) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sinks = append(w.sinks, s)
}

// Root returns the absolute watched directory.
func (w *Watcher) Root() string {
	return w.root
}

// Start begins watching. It returns once the tree is registered; events
// are handled in background goroutines until Stop or ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)

	if w.opts.Existing {
		w.enqueueExisting()
	}
	w.logger.Info("watching for edge lists", slog.Any("patterns", w.opts.Patterns))
	return nil
}

// Stop stops watching and waits for the handler goroutines to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
		w.wg.Wait()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching reports whether the watcher is active.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// Stats returns a snapshot of the counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Classified: w.classified.Load(),
		Anomalous:  w.anomalous.Load(),
		Failed:     w.failed.Load(),
		Skipped:    w.skipped.Load(),
	}
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignored(path) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) enqueueExisting() {
	_ = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if w.matches(path) {
			w.enqueue(Change{Path: path, Op: OpCreate, Time: time.Now()})
		}
		return nil
	})
}

func (w *Watcher) rel(path string) string {
	r, err := filepath.Rel(w.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(r)
}

func (w *Watcher) ignored(path string) bool {
	rel := w.rel(path)
	for _, p := range w.opts.Ignore {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) matches(path string) bool {
	if w.ignored(path) {
		return false
	}
	rel := w.rel(path)
	for _, p := range w.opts.Patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) enqueue(c Change) {
	select {
	case w.changes <- c:
	default:
		w.skipped.Add(1)
		w.logger.Warn("change buffer full, dropping", slog.String("path", c.Path))
	}
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !w.ignored(event.Name) {
						if err := w.addRecursive(event.Name); err != nil {
							w.logger.Warn("watch directory failed", slog.String("path", event.Name), slog.String("error", err.Error()))
						}
					}
					continue
				}
			}
			if w.ignored(event.Name) {
				continue
			}
			w.enqueue(Change{Path: event.Name, Op: convertOp(event.Op), Time: time.Now()})

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

func convertOp(op fsnotify.Op) ChangeOp {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Write):
		return OpWrite
	case op.Has(fsnotify.Remove):
		return OpRemove
	case op.Has(fsnotify.Rename):
		return OpRename
	default:
		return OpWrite
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()

	var (
		batch  []Change
		timer  *time.Timer
		timerC <-chan time.Time
	)
	flush := func() {
		if len(batch) > 0 {
			w.handle(ctx, dedupe(batch))
			batch = batch[:0]
		}
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case c := <-w.changes:
			batch = append(batch, c)
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.opts.Debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

// dedupe keeps the latest change per path, in first-seen order.
func dedupe(changes []Change) []Change {
	idx := make(map[string]int, len(changes))
	out := make([]Change, 0, len(changes))
	for _, c := range changes {
		if i, ok := idx[c.Path]; ok {
			out[i] = c
			continue
		}
		idx[c.Path] = len(out)
		out = append(out, c)
	}
	return out
}

func (w *Watcher) handle(ctx context.Context, changes []Change) {
	for _, c := range changes {
		if c.Op == OpRemove || c.Op == OpRename {
			w.mu.Lock()
			delete(w.seen, c.Path)
			w.mu.Unlock()
			continue
		}
		if !w.matches(c.Path) {
			continue
		}

		info, err := os.Stat(c.Path)
		if err != nil || info.IsDir() {
			continue
		}
		state := fileState{size: info.Size(), modTime: info.ModTime()}
		w.mu.RLock()
		prev, ok := w.seen[c.Path]
		w.mu.RUnlock()
		if ok && prev.size == state.size && prev.modTime.Equal(state.modTime) {
			w.skipped.Add(1)
			continue
		}
		if info.Size() == 0 {
			continue
		}

		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		w.classify(ctx, c.Path, state)
	}
}

func (w *Watcher) classify(ctx context.Context, path string, state fileState) {
	logger := w.logger.With(slog.String("path", w.rel(path)))

	v, err := w.target(ctx, path)
	if err != nil {
		w.failed.Add(1)
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Warn("classification failed", slog.String("error", err.Error()))
		return
	}

	w.mu.Lock()
	w.seen[path] = state
	sinks := append([]Sink(nil), w.sinks...)
	w.mu.Unlock()

	w.classified.Add(1)
	if v.Anomalous() {
		w.anomalous.Add(1)
	}
	logger.Info("graph classified",
		slog.String("class", v.Label()),
		slog.String("verdict", v.ID),
	)
	for _, s := range sinks {
		s(ctx, v, path)
	}
}
