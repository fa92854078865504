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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/toolmux/toolmux/internal/store"
)

const (
	clientName    = "toolmux"
	clientVersion = "0.1.0"

	defaultConnectTimeout = 10 * time.Second
	defaultCallTimeout    = 30 * time.Second
)

// Client owns exactly one connection to one MCP server. It tracks the
// connection state, the last-known tool catalog, and the most recent error.
//
// A Client never reconnects on its own. When the handshake fails it parks in
// the error state until the Manager refreshes or discards it.
type Client struct {
	// serverID is the stable config identity this wrapper was built from.
	serverID string

	// dial builds the protocol client. Overridable in tests.
	dial dialFunc

	// connectTimeout bounds the handshake.
	connectTimeout time.Duration

	// callTimeout bounds individual tool calls.
	callTimeout time.Duration

	// logger is used for structured logging.
	logger *slog.Logger

	// mu protects all fields below.
	mu sync.RWMutex

	// serverName is the config's display name. Updated in place on
	// metadata-only config changes, without a reconnect.
	serverName string

	// spec is the connection spec the wrapper was built from.
	spec store.ConnectionSpec

	// conn is the live protocol client, nil until connected.
	conn conn

	// state is the current lifecycle state.
	state ConnState

	// lastError is the most recent connect or probe failure.
	lastError error

	// connectedAt is when the current connection was established.
	connectedAt time.Time

	// tools is the catalog discovered during the handshake.
	tools []ToolDefinition

	// closed is set once the wrapper is discarded. A Connect finishing
	// after that must not resurrect the connection.
	closed bool
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// ServerID is the stable config identity. Required.
	ServerID string

	// ServerName is the config's display name.
	ServerName string

	// Spec describes how to connect. Required.
	Spec store.ConnectionSpec

	// ConnectTimeout bounds the handshake (defaults to 10s).
	ConnectTimeout time.Duration

	// CallTimeout bounds individual tool calls (defaults to 30s).
	CallTimeout time.Duration

	// Logger is used for structured logging (optional).
	Logger *slog.Logger

	// dial overrides the production dialer in tests.
	dial dialFunc
}

// NewClient creates a wrapper in the connecting state. It does not touch the
// network; call Connect to perform the handshake.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.ServerID == "" {
		return nil, fmt.Errorf("server id is required")
	}
	if err := cfg.Spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connection spec: %w", err)
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = defaultConnectTimeout
	}
	callTimeout := cfg.CallTimeout
	if callTimeout == 0 {
		callTimeout = defaultCallTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dial := cfg.dial
	if dial == nil {
		dial = dialSpec
	}

	return &Client{
		serverID:       cfg.ServerID,
		serverName:     cfg.ServerName,
		spec:           cfg.Spec,
		dial:           dial,
		connectTimeout: connectTimeout,
		callTimeout:    callTimeout,
		logger:         logger,
		state:          StateConnecting,
	}, nil
}

// Connect performs the protocol handshake: dial, start the transport, send
// the initialize request, and fetch the tool catalog. On success the wrapper
// enters the connected state; on any failure it enters the error state with
// the failure recorded.
//
// Connect is called at most once per wrapper, by the goroutine the Manager
// dispatched for it.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	handle, tools, err := c.handshake(ctx)
	if err != nil {
		c.mu.Lock()
		if !c.closed {
			c.state = StateError
			c.lastError = err
		}
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.closed {
		// The Manager discarded this wrapper mid-handshake.
		c.mu.Unlock()
		_ = handle.Close()
		return newError(ErrorCodeConnectFailed, c.serverID, "wrapper closed during connect")
	}
	c.conn = handle
	c.state = StateConnected
	c.lastError = nil
	c.connectedAt = time.Now()
	c.tools = tools
	c.mu.Unlock()

	c.logger.Info("mcp server connected",
		"server_id", c.serverID,
		"server_name", c.ServerName(),
		"transport", string(c.spec.Transport),
		"tools", len(tools),
	)

	return nil
}

// handshake dials and initializes the connection and lists its tools. It
// returns the live handle without touching wrapper state.
func (c *Client) handshake(ctx context.Context) (conn, []ToolDefinition, error) {
	handle, err := c.dial(c.spec)
	if err != nil {
		return nil, nil, newError(ErrorCodeConnectFailed, c.serverID, "failed to create client").withCause(err)
	}

	if err := handle.Start(ctx); err != nil {
		_ = handle.Close()
		return nil, nil, newError(ErrorCodeConnectFailed, c.serverID, "failed to start transport").withCause(err)
	}

	initReq := mcpgo.InitializeRequest{
		Params: mcpgo.InitializeParams{
			ProtocolVersion: mcpgo.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcpgo.ClientCapabilities{},
			ClientInfo: mcpgo.Implementation{
				Name:    clientName,
				Version: clientVersion,
			},
		},
	}
	if _, err := handle.Initialize(ctx, initReq); err != nil {
		_ = handle.Close()
		return nil, nil, newError(ErrorCodeConnectFailed, c.serverID, "initialize request failed").withCause(err)
	}

	result, err := handle.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = handle.Close()
		return nil, nil, newError(ErrorCodeConnectFailed, c.serverID, "failed to list tools").withCause(err)
	}

	tools := make([]ToolDefinition, len(result.Tools))
	for i, tool := range result.Tools {
		schema, err := toolSchema(tool)
		if err != nil {
			_ = handle.Close()
			return nil, nil, newError(ErrorCodeConnectFailed, c.serverID,
				fmt.Sprintf("failed to decode schema for tool %s", tool.Name)).withCause(err)
		}
		tools[i] = ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		}
	}

	return handle, tools, nil
}

// toolSchema extracts the input schema from a protocol tool descriptor,
// preferring the raw bytes when the server provided them.
func toolSchema(tool mcpgo.Tool) (json.RawMessage, error) {
	if len(tool.RawInputSchema) > 0 {
		return json.RawMessage(tool.RawInputSchema), nil
	}
	data, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// ListTools returns the last-known tool catalog without re-querying the
// server. Empty if the wrapper never connected.
func (c *Client) ListTools() []ToolDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ToolDefinition, len(c.tools))
	copy(out, c.tools)
	return out
}

// CallTool forwards a tool call over the connection, applying the wrapper's
// call timeout. A cancelled or timed-out call abandons the remote request
// but leaves the connection itself connected.
func (c *Client) CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallResponse, error) {
	c.mu.RLock()
	handle := c.conn
	state := c.state
	c.mu.RUnlock()

	if state != StateConnected || handle == nil {
		return nil, newError(ErrorCodeNotConnected, c.serverID,
			fmt.Sprintf("server is %s, not connected", state))
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	result, err := handle.CallTool(ctx, mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      req.Name,
			Arguments: req.Arguments,
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, newError(ErrorCodeTimeout, c.serverID,
				fmt.Sprintf("tool %s timed out after %s", req.Name, c.callTimeout)).withCause(err)
		}
		return nil, newError(ErrorCodeRemoteError, c.serverID,
			fmt.Sprintf("tool %s failed", req.Name)).withCause(err)
	}

	response := &ToolCallResponse{
		IsError: result.IsError,
		Content: make([]ContentItem, len(result.Content)),
	}
	for i, content := range result.Content {
		response.Content[i] = convertContent(content)
	}

	return response, nil
}

// convertContent maps a protocol content value to the package's content
// shape, falling back to JSON field extraction for content types the typed
// accessors do not cover.
func convertContent(content mcpgo.Content) ContentItem {
	if text, ok := mcpgo.AsTextContent(content); ok {
		return ContentItem{Type: text.Type, Text: text.Text}
	}
	if image, ok := mcpgo.AsImageContent(content); ok {
		return ContentItem{Type: image.Type, Data: image.Data, MimeType: image.MIMEType}
	}

	var item ContentItem
	data, err := json.Marshal(content)
	if err != nil {
		return item
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return item
	}
	if v, ok := fields["type"].(string); ok {
		item.Type = v
	}
	if v, ok := fields["text"].(string); ok {
		item.Text = v
	}
	if v, ok := fields["data"].(string); ok {
		item.Data = v
	}
	if v, ok := fields["mimeType"].(string); ok {
		item.MimeType = v
	}
	return item
}

// Ping checks that the server is still responsive. It does not change the
// wrapper's state; acting on a failed probe is the Manager's decision.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.RLock()
	handle := c.conn
	state := c.state
	c.mu.RUnlock()

	if state != StateConnected || handle == nil {
		return newError(ErrorCodeNotConnected, c.serverID,
			fmt.Sprintf("server is %s, not connected", state))
	}

	if err := handle.Ping(ctx); err != nil {
		return newError(ErrorCodeRemoteError, c.serverID, "ping failed").withCause(err)
	}
	return nil
}

// Disconnect closes the underlying connection. Idempotent and safe to call
// from any state; the wrapper ends up disconnected either way.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	handle := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.tools = nil
	c.mu.Unlock()

	if handle == nil {
		return nil
	}
	if err := handle.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

// Status returns a snapshot of the wrapper's state. Never blocks on I/O.
func (c *Client) Status() ClientStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := ClientStatus{
		ServerID:    c.serverID,
		ServerName:  c.serverName,
		State:       c.state,
		ConnectedAt: c.connectedAt,
		ToolCount:   len(c.tools),
	}
	if c.lastError != nil {
		status.LastError = c.lastError.Error()
	}
	return status
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ServerID returns the stable config identity of this wrapper.
func (c *Client) ServerID() string {
	return c.serverID
}

// ServerName returns the config's display name at last reconcile.
func (c *Client) ServerName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverName
}

// Spec returns the connection spec the wrapper was built from.
func (c *Client) Spec() store.ConnectionSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.spec
}

// setServerName updates the display name in place. Metadata-only config
// changes must not cause a reconnect.
func (c *Client) setServerName(name string) {
	c.mu.Lock()
	c.serverName = name
	c.mu.Unlock()
}
