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

// Package mcp maintains a pool of long-lived connections to external MCP
// (Model Context Protocol) tool servers and keeps the pool synchronized with
// a configuration store.
//
// The package has three moving parts:
//
//   - Client owns exactly one connection to one server. It tracks connection
//     state, the discovered tool catalog, and the last error. A Client never
//     reconnects on its own; retry policy lives in the Manager.
//   - Manager owns the map from server id to Client. Reconcile diffs the
//     store's desired state against the live pool and issues the minimal set
//     of connect, refresh, and disconnect transitions to converge them. It
//     also exposes the aggregated tool catalog across all connected servers.
//   - Reconciler runs Reconcile on a fixed interval so that configuration
//     changes made by any process eventually take effect.
//
// Connection attempts are dispatched asynchronously: Reconcile returns once
// transitions have been issued, not once every server is connected, so the
// aggregated catalog may briefly lag a configuration change.
package mcp
