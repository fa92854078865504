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
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/toolmux/toolmux/internal/store"
)

func newTestManager(t *testing.T, st store.Store, dialer *fakeDialer) *Manager {
	t.Helper()

	m, err := NewManager(ManagerConfig{
		Store:  st,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		dial:   dialer.dial,
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func waitForState(t *testing.T, m *Manager, id string, want ConnState) {
	t.Helper()

	require.Eventually(t, func() bool {
		c, err := m.GetClient(id)
		return err == nil && c.State() == want
	}, 5*time.Second, 10*time.Millisecond, "server %s should reach state %s", id, want)
}

func TestNewManager_RequiresStore(t *testing.T) {
	_, err := NewManager(ManagerConfig{})
	require.Error(t, err)
}

func TestManager_Initialize(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	_, err := st.Save(ctx, stdioConfig("srv-1", "weather", "weather-server"))
	require.NoError(t, err)
	_, err = st.Save(ctx, stdioConfig("srv-2", "github", "github-server"))
	require.NoError(t, err)

	disabled := stdioConfig("srv-3", "disabled", "disabled-server")
	disabled.Enabled = false
	_, err = st.Save(ctx, disabled)
	require.NoError(t, err)

	dialer := &fakeDialer{}
	m := newTestManager(t, st, dialer)

	require.NoError(t, m.Initialize(ctx))
	waitForState(t, m, "srv-1", StateConnected)
	waitForState(t, m, "srv-2", StateConnected)

	_, err = m.GetClient("srv-3")
	require.Equal(t, ErrorCodeUnknownServer, CodeOf(err), "disabled config should not be tracked")

	require.Len(t, m.GetClients(), 2)
}

func TestManager_Reconcile_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	_, err := st.Save(ctx, stdioConfig("srv-1", "weather", "weather-server"))
	require.NoError(t, err)

	dialer := &fakeDialer{}
	m := newTestManager(t, st, dialer)

	require.NoError(t, m.Reconcile(ctx))
	waitForState(t, m, "srv-1", StateConnected)
	dials := dialer.dialCount()

	require.NoError(t, m.Reconcile(ctx))
	require.NoError(t, m.Reconcile(ctx))

	require.Equal(t, dials, dialer.dialCount(), "reconcile with unchanged input must not reconnect")
	require.Len(t, m.GetClients(), 1)
}

func TestManager_Reconcile_NameChangeDoesNotReconnect(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	cfg := stdioConfig("srv-1", "weather", "weather-server")
	_, err := st.Save(ctx, cfg)
	require.NoError(t, err)

	dialer := &fakeDialer{}
	m := newTestManager(t, st, dialer)
	require.NoError(t, m.Reconcile(ctx))
	waitForState(t, m, "srv-1", StateConnected)
	dials := dialer.dialCount()

	cfg.Name = "weather-v2"
	cfg.OwnerID = "someone-else"
	cfg.Visibility = store.VisibilityPublic
	_, err = st.Save(ctx, cfg)
	require.NoError(t, err)

	require.NoError(t, m.Reconcile(ctx))

	require.Equal(t, dials, dialer.dialCount(), "metadata-only change must not reconnect")

	c, err := m.GetClient("srv-1")
	require.NoError(t, err)
	require.Equal(t, "weather-v2", c.ServerName())
	require.Equal(t, StateConnected, c.State())
}

func TestManager_Reconcile_SpecChangeReconnects(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	cfg := stdioConfig("srv-1", "weather", "weather-server")
	_, err := st.Save(ctx, cfg)
	require.NoError(t, err)

	dialer := &fakeDialer{}
	m := newTestManager(t, st, dialer)
	require.NoError(t, m.Reconcile(ctx))
	waitForState(t, m, "srv-1", StateConnected)
	dials := dialer.dialCount()

	cfg.Spec.Args = []string{"--verbose"}
	_, err = st.Save(ctx, cfg)
	require.NoError(t, err)

	require.NoError(t, m.Reconcile(ctx))
	waitForState(t, m, "srv-1", StateConnected)

	require.Equal(t, dials+1, dialer.dialCount(), "spec change must build a fresh connection")
	require.Len(t, dialer.openConns(), 1, "old connection must be closed")
	require.Len(t, m.GetClients(), 1)
}

func TestManager_Reconcile_DisableAndReenable(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	cfg := stdioConfig("srv-1", "weather", "weather-server")
	_, err := st.Save(ctx, cfg)
	require.NoError(t, err)

	dialer := &fakeDialer{}
	m := newTestManager(t, st, dialer)
	require.NoError(t, m.Reconcile(ctx))
	waitForState(t, m, "srv-1", StateConnected)

	cfg.Enabled = false
	_, err = st.Save(ctx, cfg)
	require.NoError(t, err)

	require.NoError(t, m.Reconcile(ctx))
	_, err = m.GetClient("srv-1")
	require.Equal(t, ErrorCodeUnknownServer, CodeOf(err))
	require.Empty(t, dialer.openConns())

	cfg.Enabled = true
	_, err = st.Save(ctx, cfg)
	require.NoError(t, err)

	require.NoError(t, m.Reconcile(ctx))
	waitForState(t, m, "srv-1", StateConnected)
}

func TestManager_Reconcile_DeletedConfigRemovesWrapper(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	_, err := st.Save(ctx, stdioConfig("srv-1", "weather", "weather-server"))
	require.NoError(t, err)

	dialer := &fakeDialer{}
	m := newTestManager(t, st, dialer)
	require.NoError(t, m.Reconcile(ctx))
	waitForState(t, m, "srv-1", StateConnected)

	require.NoError(t, st.Delete(ctx, "srv-1"))
	require.NoError(t, m.Reconcile(ctx))

	require.Empty(t, m.GetClients())
	require.Empty(t, dialer.openConns())
}

func TestManager_Reconcile_StoreFailurePreservesState(t *testing.T) {
	ctx := context.Background()
	inner := store.NewMemoryStore()
	_, err := inner.Save(ctx, stdioConfig("srv-1", "weather", "weather-server"))
	require.NoError(t, err)
	flaky := newFlakyStore(inner)

	dialer := &fakeDialer{}
	m := newTestManager(t, flaky, dialer)
	require.NoError(t, m.Reconcile(ctx))
	waitForState(t, m, "srv-1", StateConnected)

	flaky.setFailing(true)
	err = m.Reconcile(ctx)
	require.Error(t, err)
	require.True(t, store.IsUnavailable(err))

	// The pool is untouched and still serves calls.
	c, err := m.GetClient("srv-1")
	require.NoError(t, err)
	require.Equal(t, StateConnected, c.State())

	resp, callErr := m.CallTool(ctx, "srv-1", "echo", nil)
	require.NoError(t, callErr)
	require.Equal(t, "weather-server:echo", resp.Content[0].Text)
}

func TestManager_ConnectFailure_TrackedButExcludedFromCatalog(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	_, err := st.Save(ctx, stdioConfig("srv-1", "weather", "weather-server"))
	require.NoError(t, err)
	_, err = st.Save(ctx, stdioConfig("srv-2", "broken", "broken-server"))
	require.NoError(t, err)

	dialer := &fakeDialer{
		build: func(spec store.ConnectionSpec) *fakeConn {
			if spec.Command == "broken-server" {
				return &fakeConn{startDelay: time.Minute}
			}
			return &fakeConn{
				label: spec.Command,
				tools: []mcpgo.Tool{{Name: "get_weather"}},
			}
		},
	}

	m, err := NewManager(ManagerConfig{
		Store:          st,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		ConnectTimeout: 30 * time.Millisecond,
		dial:           dialer.dial,
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	require.NoError(t, m.Reconcile(ctx))
	waitForState(t, m, "srv-1", StateConnected)
	waitForState(t, m, "srv-2", StateError)

	// The errored wrapper stays visible for status reporting.
	require.Len(t, m.GetClients(), 2)
	statuses := m.Statuses()
	require.Equal(t, StateConnected, statuses[0].State)
	require.Equal(t, StateError, statuses[1].State)
	require.NotEmpty(t, statuses[1].LastError)

	// But contributes nothing to the catalog.
	tools := m.AggregatedTools()
	require.Len(t, tools, 1)
	require.Equal(t, "srv-1", tools[0].ServerID)

	_, err = m.CallTool(ctx, "srv-2", "anything", nil)
	require.Equal(t, ErrorCodeNotConnected, CodeOf(err))
}

func TestManager_AggregatedTools_NamespacesCollidingNames(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	_, err := st.Save(ctx, stdioConfig("srv-a", "weather-a", "server-a"))
	require.NoError(t, err)
	_, err = st.Save(ctx, stdioConfig("srv-b", "weather-b", "server-b"))
	require.NoError(t, err)

	// Both servers expose identically-named tools.
	dialer := &fakeDialer{
		build: func(spec store.ConnectionSpec) *fakeConn {
			return &fakeConn{
				label: spec.Command,
				tools: []mcpgo.Tool{{Name: "get_weather"}, {Name: "search"}},
			}
		},
	}
	m := newTestManager(t, st, dialer)
	require.NoError(t, m.Reconcile(ctx))
	waitForState(t, m, "srv-a", StateConnected)
	waitForState(t, m, "srv-b", StateConnected)

	tools := m.AggregatedTools()
	require.Len(t, tools, 4)

	keys := make(map[string]bool)
	for _, tool := range tools {
		require.False(t, keys[tool.Key], "catalog key %s must be unique", tool.Key)
		keys[tool.Key] = true
	}
	require.True(t, keys["srv-a.get_weather"])
	require.True(t, keys["srv-b.get_weather"])
	require.True(t, keys["srv-a.search"])
	require.True(t, keys["srv-b.search"])

	// Each entry resolves independently to its own server.
	respA, err := m.CallTool(ctx, "srv-a", "get_weather", nil)
	require.NoError(t, err)
	require.Equal(t, "server-a:get_weather", respA.Content[0].Text)

	respB, err := m.CallTool(ctx, "srv-b", "get_weather", nil)
	require.NoError(t, err)
	require.Equal(t, "server-b:get_weather", respB.Content[0].Text)
}

func TestManager_CallTool_UnknownServer(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(t, store.NewMemoryStore(), dialer)

	_, err := m.CallTool(context.Background(), "nope", "echo", nil)
	require.Equal(t, ErrorCodeUnknownServer, CodeOf(err))
}

func TestManager_RefreshClient(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	_, err := st.Save(ctx, stdioConfig("srv-1", "weather", "weather-server"))
	require.NoError(t, err)

	dialer := &fakeDialer{}
	m := newTestManager(t, st, dialer)
	require.NoError(t, m.Reconcile(ctx))
	waitForState(t, m, "srv-1", StateConnected)
	dials := dialer.dialCount()

	require.NoError(t, m.RefreshClient(ctx, "srv-1"))
	waitForState(t, m, "srv-1", StateConnected)
	require.Equal(t, dials+1, dialer.dialCount())
	require.Len(t, dialer.openConns(), 1)

	// Refreshing an id with no config is a no-op.
	require.NoError(t, m.RefreshClient(ctx, "missing"))
	_, err = m.GetClient("missing")
	require.Equal(t, ErrorCodeUnknownServer, CodeOf(err))
}

func TestManager_ConcurrentRefresh_SingleWrapperPerID(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	_, err := st.Save(ctx, stdioConfig("srv-1", "weather", "weather-server"))
	require.NoError(t, err)

	dialer := &fakeDialer{}
	m := newTestManager(t, st, dialer)
	require.NoError(t, m.Reconcile(ctx))
	waitForState(t, m, "srv-1", StateConnected)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.RefreshClient(ctx, "srv-1")
		}()
	}
	wg.Wait()

	require.Len(t, m.GetClients(), 1)
	waitForState(t, m, "srv-1", StateConnected)

	require.Eventually(t, func() bool {
		return len(dialer.openConns()) == 1
	}, 5*time.Second, 10*time.Millisecond, "exactly one live connection may remain")
}

func TestManager_DisconnectClient(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	_, err := st.Save(ctx, stdioConfig("srv-1", "weather", "weather-server"))
	require.NoError(t, err)

	dialer := &fakeDialer{}
	m := newTestManager(t, st, dialer)
	require.NoError(t, m.Reconcile(ctx))
	waitForState(t, m, "srv-1", StateConnected)

	m.DisconnectClient("srv-1")
	_, err = m.GetClient("srv-1")
	require.Equal(t, ErrorCodeUnknownServer, CodeOf(err))
	require.Empty(t, dialer.openConns())

	// Idempotent.
	m.DisconnectClient("srv-1")
}

func TestManager_Close(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	_, err := st.Save(ctx, stdioConfig("srv-1", "weather", "weather-server"))
	require.NoError(t, err)

	dialer := &fakeDialer{}
	m := newTestManager(t, st, dialer)
	require.NoError(t, m.Reconcile(ctx))
	waitForState(t, m, "srv-1", StateConnected)

	require.NoError(t, m.Close())
	require.Empty(t, m.GetClients())
	require.Empty(t, dialer.openConns())

	// Close is idempotent.
	require.NoError(t, m.Close())
}
