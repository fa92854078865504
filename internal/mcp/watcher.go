// Copyright 2026 The toolmux Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a file-backed configuration store for external edits and
// requests a reconcile when the file changes, so hand-edited configuration
// takes effect without waiting for the next periodic tick.
//
// The watch is placed on the file's directory rather than the file itself:
// the store replaces the file via rename on every save, which would drop an
// inode-based watch.
type Watcher struct {
	// fsWatcher is the underlying filesystem watcher.
	fsWatcher *fsnotify.Watcher

	// path is the watched file, absolute.
	path string

	// notify is called after the debounce window closes.
	notify func()

	// logger is used for structured logging.
	logger *slog.Logger

	// debounceDelay is the quiet period after the last event before notify
	// fires. Editors and atomic saves produce event bursts.
	debounceDelay time.Duration

	// pending is the armed debounce timer, if any.
	pending *time.Timer

	// mu protects pending.
	mu sync.Mutex

	// ctx is the watcher's lifecycle context.
	ctx    context.Context
	cancel context.CancelFunc

	// wg tracks the event loop.
	wg sync.WaitGroup
}

// WatcherConfig configures a store file watcher.
type WatcherConfig struct {
	// Path is the store file to watch. Required.
	Path string

	// Notify is called, debounced, when the file changes. Required.
	Notify func()

	// Logger is used for structured logging (optional).
	Logger *slog.Logger

	// DebounceDelay is the quiet period before Notify fires (defaults to
	// 200ms).
	DebounceDelay time.Duration
}

// NewWatcher creates and starts a watcher for the given store file.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if cfg.Notify == nil {
		return nil, fmt.Errorf("notify callback is required")
	}

	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", cfg.Path, err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := fsWatcher.Add(filepath.Dir(absPath)); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	debounceDelay := cfg.DebounceDelay
	if debounceDelay == 0 {
		debounceDelay = 200 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Watcher{
		fsWatcher:     fsWatcher,
		path:          absPath,
		notify:        cfg.Notify,
		logger:        logger,
		debounceDelay: debounceDelay,
		ctx:           ctx,
		cancel:        cancel,
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// processEvents filters filesystem events down to the watched file and
// schedules debounced notifications.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.matches(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.logger.Debug("store file changed", "file", w.path, "op", event.Op.String())
				w.scheduleNotify()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("store file watcher error", "error", err)

		case <-w.ctx.Done():
			return
		}
	}
}

// matches reports whether an event path refers to the watched file.
func (w *Watcher) matches(eventPath string) bool {
	abs, err := filepath.Abs(eventPath)
	if err != nil {
		return false
	}
	return abs == w.path
}

// scheduleNotify arms (or re-arms) the debounce timer.
func (w *Watcher) scheduleNotify() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounceDelay, func() {
		w.mu.Lock()
		w.pending = nil
		w.mu.Unlock()

		w.logger.Info("store file changed, requesting reconcile", "file", w.path)
		w.notify()
	})
}

// Close shuts down the watcher.
func (w *Watcher) Close() error {
	w.cancel()

	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
	w.mu.Unlock()

	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}
