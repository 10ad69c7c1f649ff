// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch reports debounced batches of changed inspection inputs
// under a directory tree.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	"github.com/AleutianAI/AleutianInspect/services/inspect/discover"
)

// DefaultDebounce is the quiet period after the last change before a batch
// is reported.
const DefaultDebounce = 500 * time.Millisecond

// ErrNotDirectory is returned when the watched root is not a directory.
var ErrNotDirectory = errors.New("watch path is not a directory")

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period. Non-positive values are ignored.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithExclude sets glob patterns matched against slash-separated paths
// relative to the root.
func WithExclude(patterns []string) Option {
	return func(w *Watcher) {
		w.patterns = patterns
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Watcher watches a directory tree for changes to source files, binaries
// and project files.
//
// Thread Safety:
//
//	Run must be called at most once. Close may be called concurrently.
type Watcher struct {
	root     string
	debounce time.Duration
	patterns []string
	exclude  []glob.Glob
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
}

// New starts watching every directory under root. Directories created
// later are added as they appear.
func New(root string, opts ...Option) (*Watcher, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}

	w := &Watcher{root: root, debounce: DefaultDebounce, logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	for _, p := range w.patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		w.exclude = append(w.exclude, g)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	w.fsw = fsw
	if _, err := w.addTree(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run calls onChange with the sorted, distinct paths changed during each
// debounce window until ctx is done. onChange runs on Run's goroutine, so
// changes arriving meanwhile are batched into the next call.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context, paths []string)) error {
	defer w.fsw.Close()

	pending := make(map[string]struct{})
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
		} else {
			timer.Reset(w.debounce)
		}
		fire = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			for _, p := range w.handle(ev) {
				pending[p] = struct{}{}
			}
			if len(pending) > 0 {
				schedule()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))

		case <-fire:
			fire = nil
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)
			onChange(ctx, paths)
		}
	}
}

// handle returns the relevant paths an event touches. A new directory is
// watched and its existing files are reported, since they may have been
// written before the watch was in place.
func (w *Watcher) handle(ev fsnotify.Event) []string {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if w.excluded(ev.Name) {
				return nil
			}
			files, err := w.addTree(ev.Name)
			if err != nil {
				w.logger.Warn("watching new directory failed", slog.String("path", ev.Name), slog.String("error", err.Error()))
			}
			return files
		}
	}
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
		return nil
	}
	if !Relevant(ev.Name) || w.excluded(ev.Name) {
		return nil
	}
	return []string{ev.Name}
}

// addTree watches dir and its subdirectories and returns the relevant files
// already inside them.
func (w *Watcher) addTree(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != w.root && w.excluded(p) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return w.fsw.Add(p)
		}
		if dir != w.root && Relevant(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return files, fmt.Errorf("watching %s: %w", dir, err)
	}
	return files, nil
}

func (w *Watcher) excluded(p string) bool {
	if len(w.exclude) == 0 {
		return false
	}
	rel, err := filepath.Rel(w.root, p)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, g := range w.exclude {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// Relevant reports whether a change to name can alter an inspection: a
// recognized, non-generated source or binary, or a project file.
func Relevant(name string) bool {
	if discover.IsProjectFile(name) {
		return true
	}
	return discover.Classify(name) != discover.KindUnknown && !discover.IsGenerated(name)
}
