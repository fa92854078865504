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

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/toolmux/toolmux/internal/store"
)

// conn is the subset of the protocol client the wrapper needs. It exists so
// tests can substitute a fake server without spawning processes.
type conn interface {
	Start(ctx context.Context) error
	Initialize(ctx context.Context, req mcpgo.InitializeRequest) (*mcpgo.InitializeResult, error)
	ListTools(ctx context.Context, req mcpgo.ListToolsRequest) (*mcpgo.ListToolsResult, error)
	CallTool(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error)
	Ping(ctx context.Context) error
	Close() error
}

var _ conn = (*client.Client)(nil)

// dialFunc builds an unstarted protocol client from a connection spec.
type dialFunc func(spec store.ConnectionSpec) (conn, error)

// dialSpec is the production dialFunc. It selects the transport from the
// spec and returns the matching mcp-go client.
func dialSpec(spec store.ConnectionSpec) (conn, error) {
	switch spec.Transport {
	case store.TransportStdio:
		env := make([]string, 0, len(spec.Env))
		for k, v := range spec.Env {
			env = append(env, k+"="+v)
		}
		c, err := client.NewStdioMCPClient(spec.Command, env, spec.Args...)
		if err != nil {
			return nil, fmt.Errorf("failed to create stdio client: %w", err)
		}
		return c, nil

	case store.TransportSSE:
		var opts []transport.ClientOption
		if len(spec.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(spec.Headers))
		}
		c, err := client.NewSSEMCPClient(spec.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create sse client: %w", err)
		}
		return c, nil

	case store.TransportHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(spec.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(spec.Headers))
		}
		c, err := client.NewStreamableHttpClient(spec.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create streamable http client: %w", err)
		}
		return c, nil

	default:
		return nil, fmt.Errorf("unsupported transport: %s", spec.Transport)
	}
}
