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

// Package daemon hosts the connection pool behind a small HTTP API: health,
// Prometheus metrics, server status, the aggregated tool catalog, and tool
// invocation.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/toolmux/toolmux/internal/log"
	"github.com/toolmux/toolmux/internal/mcp"
	"github.com/toolmux/toolmux/internal/store"
)

// Config configures the daemon.
type Config struct {
	// ListenAddr is the HTTP listen address (defaults to 127.0.0.1:8900).
	ListenAddr string

	// ReconcileInterval is the periodic reconcile interval (defaults to
	// 30s).
	ReconcileInterval time.Duration

	// ConnectTimeout bounds each server handshake.
	ConnectTimeout time.Duration

	// CallTimeout bounds each tool call.
	CallTimeout time.Duration

	// WatchPath, when set, is a file-backed store's path. The daemon then
	// watches it for external edits and reconciles on change.
	WatchPath string

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

// Daemon owns the manager, the reconcile loop, the optional store file
// watcher, and the HTTP server.
type Daemon struct {
	cfg        Config
	logger     *slog.Logger
	store      store.Store
	manager    *mcp.Manager
	reconciler *mcp.Reconciler
	watcher    *mcp.Watcher
	server     *http.Server
}

// New assembles a daemon around the given store. The store stays owned by
// the caller; the daemon does not close it.
func New(cfg Config, st store.Store) (*Daemon, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8900"
	}
	if cfg.ReconcileInterval == 0 {
		cfg.ReconcileInterval = 30 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	manager, err := mcp.NewManager(mcp.ManagerConfig{
		Store:          st,
		Logger:         log.WithComponent(logger, "manager"),
		ConnectTimeout: cfg.ConnectTimeout,
		CallTimeout:    cfg.CallTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create manager: %w", err)
	}

	reconciler, err := mcp.NewReconciler(mcp.ReconcilerConfig{
		Manager:  manager,
		Logger:   log.WithComponent(logger, "reconciler"),
		Interval: cfg.ReconcileInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create reconciler: %w", err)
	}

	d := &Daemon{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		manager:    manager,
		reconciler: reconciler,
	}

	d.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      d.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return d, nil
}

// Run starts the daemon and blocks until the context is cancelled or the
// HTTP server fails.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.manager.Initialize(ctx); err != nil {
		// Startup with an unreachable store is survivable: the pool stays
		// empty until a reconcile tick succeeds.
		d.logger.Warn("initial reconcile failed, continuing with empty pool", log.Error(err))
	}

	d.reconciler.Start()

	if d.cfg.WatchPath != "" {
		watcher, err := mcp.NewWatcher(mcp.WatcherConfig{
			Path:   d.cfg.WatchPath,
			Notify: d.reconciler.Kick,
			Logger: log.WithComponent(d.logger, "watcher"),
		})
		if err != nil {
			return fmt.Errorf("failed to watch store file: %w", err)
		}
		d.watcher = watcher
	}

	d.logger.Info("toolmux daemon starting",
		"listen_addr", d.cfg.ListenAddr,
		"reconcile_interval", d.cfg.ReconcileInterval.String(),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return d.Shutdown(context.Background())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	}
}

// Shutdown stops the HTTP server, the watcher, the reconcile loop, and the
// connection pool, in that order.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.logger.Info("toolmux daemon shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("http server shutdown error", log.Error(err))
	}

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.logger.Warn("watcher shutdown error", log.Error(err))
		}
	}

	d.reconciler.Stop()

	if err := d.manager.Close(); err != nil {
		return fmt.Errorf("failed to close manager: %w", err)
	}
	return nil
}

// Manager exposes the pool, for in-process callers embedding the daemon.
func (d *Daemon) Manager() *mcp.Manager {
	return d.manager
}
