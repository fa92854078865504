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
	"sync"
	"time"
)

// Reconciler periodically drives Manager.Reconcile so that configuration
// changes made by any process eventually converge. A failed tick is logged
// and skipped; it never stops future ticks or tears down live connections.
type Reconciler struct {
	// manager receives the reconcile calls.
	manager *Manager

	// logger is used for structured logging.
	logger *slog.Logger

	// interval is the time between ticks.
	interval time.Duration

	// kickCh coalesces on-demand reconcile requests.
	kickCh chan struct{}

	// stopCh stops the loop.
	stopCh chan struct{}

	// wg tracks the loop goroutine.
	wg sync.WaitGroup

	// startOnce and stopOnce make Start and Stop idempotent.
	startOnce sync.Once
	stopOnce  sync.Once
}

// ReconcilerConfig configures a Reconciler.
type ReconcilerConfig struct {
	// Manager receives the reconcile calls. Required.
	Manager *Manager

	// Logger is used for structured logging (optional).
	Logger *slog.Logger

	// Interval is the time between ticks (defaults to 30s).
	Interval time.Duration
}

// NewReconciler creates a reconciler. Call Start to begin ticking.
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("manager is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}

	return &Reconciler{
		manager:  cfg.Manager,
		logger:   logger,
		interval: interval,
		kickCh:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start launches the reconcile loop.
func (r *Reconciler) Start() {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.run()
	})
}

// Kick requests an immediate reconcile, ahead of the next tick. Kicks
// coalesce: if one is already pending the call is a no-op.
func (r *Reconciler) Kick() {
	select {
	case r.kickCh <- struct{}{}:
	default:
	}
}

// Stop halts the loop and waits for an in-flight tick to finish.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()
}

// run is the reconcile loop.
func (r *Reconciler) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.tick()
		case <-r.kickCh:
			r.tick()
		case <-r.stopCh:
			return
		}
	}
}

// tick runs one reconcile pass. Failures are swallowed here: a transient
// store outage must not propagate or stop the loop.
func (r *Reconciler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()

	if err := r.manager.Reconcile(ctx); err != nil {
		r.logger.Warn("reconcile tick skipped", "error", err)
	}
}
