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
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/toolmux/toolmux/internal/store"
)

// Manager owns the mapping from server id to Client and reconciles the
// configuration store's desired state against the live pool.
//
// All pool mutation funnels through Reconcile, RefreshClient, and
// DisconnectClient. Operations on the same server id are serialized through
// a per-id mutex: a second refresh for an id waits for the first to finish,
// so two live wrappers can never exist for one id. Operations on different
// ids proceed independently.
type Manager struct {
	// store is the source of desired state.
	store store.Store

	// logger is used for structured logging.
	logger *slog.Logger

	// tracer traces tool calls.
	tracer trace.Tracer

	// connectTimeout bounds each wrapper's handshake.
	connectTimeout time.Duration

	// callTimeout bounds each tool call.
	callTimeout time.Duration

	// dial builds protocol clients. Overridable in tests.
	dial dialFunc

	// mu protects clients and locks.
	mu sync.RWMutex

	// clients tracks all wrappers by server id.
	clients map[string]*Client

	// locks holds the per-id operation mutexes. Entries are never removed;
	// the cardinality is bounded by the number of configs ever seen.
	locks map[string]*sync.Mutex

	// ctx is the manager's lifecycle context, governing dispatched
	// connection attempts.
	ctx    context.Context
	cancel context.CancelFunc

	// wg tracks in-flight connection attempts.
	wg sync.WaitGroup

	// closed is set once Close has run.
	closed bool
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Store is the configuration store. Required.
	Store store.Store

	// Logger is used for structured logging (optional).
	Logger *slog.Logger

	// ConnectTimeout bounds each wrapper's handshake (defaults to 10s).
	ConnectTimeout time.Duration

	// CallTimeout bounds each tool call (defaults to 30s).
	CallTimeout time.Duration

	// dial overrides the production dialer in tests.
	dial dialFunc
}

// NewManager creates a manager with an empty pool. Call Initialize to load
// the store and dispatch the initial connections.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		store:          cfg.Store,
		logger:         logger,
		tracer:         otel.Tracer("github.com/toolmux/toolmux/internal/mcp"),
		connectTimeout: cfg.ConnectTimeout,
		callTimeout:    cfg.CallTimeout,
		dial:           cfg.dial,
		clients:        make(map[string]*Client),
		locks:          make(map[string]*sync.Mutex),
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// Initialize loads all configs and dispatches a connection attempt for each
// enabled one. It returns once the attempts are dispatched, not once they
// complete.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.Reconcile(ctx); err != nil {
		return fmt.Errorf("initial reconcile failed: %w", err)
	}
	return nil
}

// Reconcile diffs the store's config list against the live pool and issues
// the minimal set of transitions to converge them:
//
//   - enabled config with no wrapper: create and connect
//   - enabled config whose connection spec changed: discard and reconnect
//   - wrapper whose config is absent or disabled: disconnect and discard
//
// Spec comparison is structural and covers connection-relevant fields only,
// so metadata edits (name, owner, visibility) never cause a reconnect.
// Reconcile is idempotent: a second call with the same store contents makes
// no transitions.
//
// A store failure preserves the current pool and returns the error; it is
// never treated as "zero configs".
func (m *Manager) Reconcile(ctx context.Context) error {
	configs, err := m.store.LoadAll(ctx)
	recordReconcile(err)
	if err != nil {
		return fmt.Errorf("failed to load server configs: %w", err)
	}

	desired := make(map[string]store.ServerConfig, len(configs))
	for _, cfg := range configs {
		desired[cfg.ID] = cfg
	}

	// Tear down wrappers with no enabled config. One misbehaving server
	// must not block the rest, so failures are logged and skipped.
	for _, id := range m.trackedIDs() {
		cfg, ok := desired[id]
		if ok && cfg.Enabled {
			continue
		}
		lock := m.lockFor(id)
		lock.Lock()
		m.removeClient(id)
		lock.Unlock()
	}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		m.applyConfig(cfg)
	}

	return nil
}

// applyConfig converges a single enabled config: connect if untracked,
// refresh if the connection spec changed, otherwise update metadata in
// place.
func (m *Manager) applyConfig(cfg store.ServerConfig) {
	lock := m.lockFor(cfg.ID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	existing := m.clients[cfg.ID]
	closed := m.closed
	m.mu.RUnlock()

	if closed {
		return
	}

	if existing == nil {
		m.startClient(cfg)
		return
	}

	if !existing.Spec().Equal(cfg.Spec) {
		m.logger.Info("mcp server spec changed, reconnecting",
			"server_id", cfg.ID,
			"server_name", cfg.Name,
		)
		m.removeClient(cfg.ID)
		m.startClient(cfg)
		return
	}

	existing.setServerName(cfg.Name)
}

// startClient creates a wrapper in the connecting state, registers it, and
// dispatches its handshake. Must be called with the id's lock held.
func (m *Manager) startClient(cfg store.ServerConfig) {
	c, err := NewClient(ClientConfig{
		ServerID:       cfg.ID,
		ServerName:     cfg.Name,
		Spec:           cfg.Spec,
		ConnectTimeout: m.connectTimeout,
		CallTimeout:    m.callTimeout,
		Logger:         m.logger,
		dial:           m.dial,
	})
	if err != nil {
		m.logger.Error("failed to create mcp client",
			"server_id", cfg.ID,
			"server_name", cfg.Name,
			"error", err,
		)
		return
	}

	m.mu.Lock()
	m.clients[cfg.ID] = c
	m.mu.Unlock()

	m.logger.Info("mcp server connecting",
		"server_id", cfg.ID,
		"server_name", cfg.Name,
		"transport", string(cfg.Spec.Transport),
	)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		err := c.Connect(m.ctx)
		recordConnect(string(cfg.Spec.Transport), err)
		if err != nil {
			m.logger.Error("mcp server connect failed",
				"server_id", cfg.ID,
				"server_name", cfg.Name,
				"error", err,
			)
		}
		m.updateConnectedGauge()
	}()
}

// removeClient disconnects and drops the wrapper for id, if any. Must be
// called with the id's lock held.
func (m *Manager) removeClient(id string) {
	m.mu.Lock()
	c, ok := m.clients[id]
	if ok {
		delete(m.clients, id)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	if err := c.Disconnect(); err != nil {
		m.logger.Warn("failed to disconnect mcp server",
			"server_id", id,
			"error", err,
		)
	}
	m.logger.Info("mcp server disconnected", "server_id", id)
	m.updateConnectedGauge()
}

// RefreshClient discards the wrapper for id (if any), re-reads the config,
// and connects a fresh wrapper. A missing config makes this a no-op; a
// disabled config tears the wrapper down without a replacement. Concurrent
// refreshes of the same id queue behind the per-id lock.
func (m *Manager) RefreshClient(ctx context.Context, id string) error {
	cfg, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load config for %s: %w", id, err)
	}

	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return fmt.Errorf("manager is closed")
	}

	m.removeClient(id)
	if cfg.Enabled {
		m.startClient(*cfg)
	}
	return nil
}

// DisconnectClient disconnects and discards the wrapper for id. No-op if the
// id is untracked.
func (m *Manager) DisconnectClient(id string) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	m.removeClient(id)
}

// GetClient returns the wrapper for id.
func (m *Manager) GetClient(id string) (*Client, error) {
	m.mu.RLock()
	c, ok := m.clients[id]
	m.mu.RUnlock()

	if !ok {
		return nil, newError(ErrorCodeUnknownServer, id, "no tracked server with this id")
	}
	return c, nil
}

// GetClients returns a snapshot of all tracked wrappers, ordered by server
// id. Wrappers in the error state are included; they remain visible for
// status reporting until a reconcile or refresh replaces them.
func (m *Manager) GetClients() []*Client {
	m.mu.RLock()
	out := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ServerID() < out[j].ServerID() })
	return out
}

// Statuses returns a status snapshot for every tracked wrapper, ordered by
// server id.
func (m *Manager) Statuses() []ClientStatus {
	clients := m.GetClients()
	out := make([]ClientStatus, len(clients))
	for i, c := range clients {
		out[i] = c.Status()
	}
	return out
}

// AggregatedTools returns the tool catalog across all connected servers,
// ordered by namespaced key. Connecting, disconnected, and erroring servers
// contribute nothing.
func (m *Manager) AggregatedTools() []AggregatedTool {
	var out []AggregatedTool
	for _, c := range m.GetClients() {
		if c.State() != StateConnected {
			continue
		}
		id := c.ServerID()
		name := c.ServerName()
		for _, tool := range c.ListTools() {
			out = append(out, AggregatedTool{
				Key:        id + "." + tool.Name,
				ServerID:   id,
				ServerName: name,
				Tool:       tool,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// CallTool invokes a tool on the server with the given id, honoring the
// caller's context for cancellation.
func (m *Manager) CallTool(ctx context.Context, serverID, toolName string, arguments map[string]any) (*ToolCallResponse, error) {
	ctx, span := m.tracer.Start(ctx, "mcp.call_tool",
		trace.WithAttributes(
			attribute.String("mcp.server_id", serverID),
			attribute.String("mcp.tool", toolName),
		),
	)
	defer span.End()

	start := time.Now()
	response, err := m.callTool(ctx, serverID, toolName, arguments)
	recordToolCall(start, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return response, nil
}

func (m *Manager) callTool(ctx context.Context, serverID, toolName string, arguments map[string]any) (*ToolCallResponse, error) {
	c, err := m.GetClient(serverID)
	if err != nil {
		return nil, err
	}
	return c.CallTool(ctx, ToolCallRequest{Name: toolName, Arguments: arguments})
}

// Close tears down the pool: pending connection attempts are cancelled,
// every wrapper is disconnected, and the manager refuses further work.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	for _, id := range m.trackedIDs() {
		lock := m.lockFor(id)
		lock.Lock()
		m.removeClient(id)
		lock.Unlock()
	}

	return nil
}

// trackedIDs returns a snapshot of the currently tracked server ids.
func (m *Manager) trackedIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	return ids
}

// lockFor returns the operation mutex for a server id, creating it on first
// use.
func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

// updateConnectedGauge recomputes the connected-servers gauge.
func (m *Manager) updateConnectedGauge() {
	m.mu.RLock()
	count := 0
	for _, c := range m.clients {
		if c.State() == StateConnected {
			count++
		}
	}
	m.mu.RUnlock()

	connectedServers.Set(float64(count))
}
