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
	"sync"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/toolmux/toolmux/internal/store"
)

// fakeConn is an in-memory conn for tests. By default every tool call
// succeeds and echoes the serving instance's label.
type fakeConn struct {
	// label tags tool call results so tests can tell instances apart.
	label string

	// tools is what ListTools reports.
	tools []mcpgo.Tool

	// startErr fails the transport start.
	startErr error

	// initErr fails the initialize request.
	initErr error

	// startDelay blocks Start until the context expires, for timeout tests.
	startDelay time.Duration

	// callFn overrides the default CallTool behavior.
	callFn func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error)

	mu     sync.Mutex
	closed bool
}

func (f *fakeConn) Start(ctx context.Context) error {
	if f.startDelay > 0 {
		select {
		case <-time.After(f.startDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.startErr
}

func (f *fakeConn) Initialize(_ context.Context, _ mcpgo.InitializeRequest) (*mcpgo.InitializeResult, error) {
	if f.initErr != nil {
		return nil, f.initErr
	}
	return &mcpgo.InitializeResult{}, nil
}

func (f *fakeConn) ListTools(_ context.Context, _ mcpgo.ListToolsRequest) (*mcpgo.ListToolsResult, error) {
	return &mcpgo.ListToolsResult{Tools: f.tools}, nil
}

func (f *fakeConn) CallTool(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if f.callFn != nil {
		return f.callFn(ctx, req)
	}
	return mcpgo.NewToolResultText(fmt.Sprintf("%s:%s", f.label, req.Params.Name)), nil
}

func (f *fakeConn) Ping(_ context.Context) error {
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeDialer builds fakeConns and records every dial, so tests can count
// reconnects and verify old handles get closed.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn

	// build customizes the conn per spec. Defaults to a conn labelled with
	// the spec's command that exposes one "echo" tool.
	build func(spec store.ConnectionSpec) *fakeConn
}

func (d *fakeDialer) dial(spec store.ConnectionSpec) (conn, error) {
	c := d.makeConn(spec)
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) makeConn(spec store.ConnectionSpec) *fakeConn {
	if d.build != nil {
		return d.build(spec)
	}
	return &fakeConn{
		label: spec.Command,
		tools: []mcpgo.Tool{{Name: "echo", Description: "echoes input"}},
	}
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) openConns() []*fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()

	var open []*fakeConn
	for _, c := range d.conns {
		if !c.isClosed() {
			open = append(open, c)
		}
	}
	return open
}

// flakyStore wraps a Store and can be switched into a failing mode where
// every read reports the store as unavailable.
type flakyStore struct {
	store.Store

	mu   sync.Mutex
	fail bool
}

func newFlakyStore(inner store.Store) *flakyStore {
	return &flakyStore{Store: inner}
}

func (s *flakyStore) setFailing(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

func (s *flakyStore) failing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail
}

func (s *flakyStore) LoadAll(ctx context.Context) ([]store.ServerConfig, error) {
	if s.failing() {
		return nil, store.Unavailable("load_all", fmt.Errorf("database is down"))
	}
	return s.Store.LoadAll(ctx)
}

func (s *flakyStore) Get(ctx context.Context, id string) (*store.ServerConfig, error) {
	if s.failing() {
		return nil, store.Unavailable("get", fmt.Errorf("database is down"))
	}
	return s.Store.Get(ctx, id)
}

// stdioConfig is a stdio ServerConfig fixture with the command doubling as
// the conn label.
func stdioConfig(id, name, command string) store.ServerConfig {
	return store.ServerConfig{
		ID:      id,
		Name:    name,
		Enabled: true,
		Spec: store.ConnectionSpec{
			Transport: store.TransportStdio,
			Command:   command,
		},
	}
}
