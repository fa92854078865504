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
	"encoding/json"
	"time"
)

// ConnState represents the lifecycle state of a server connection.
type ConnState string

const (
	// StateConnecting indicates the handshake is in flight.
	StateConnecting ConnState = "connecting"
	// StateConnected indicates the handshake succeeded and the connection
	// is usable.
	StateConnected ConnState = "connected"
	// StateDisconnected indicates the connection was closed deliberately.
	StateDisconnected ConnState = "disconnected"
	// StateError indicates the handshake failed. The wrapper is tracked for
	// status reporting but unusable until refreshed.
	StateError ConnState = "error"
)

// ToolDefinition describes a single tool exposed by a server.
type ToolDefinition struct {
	// Name is the tool's name, unique within its server.
	Name string `json:"name"`

	// Description explains what the tool does.
	Description string `json:"description,omitempty"`

	// InputSchema is the JSON schema for the tool's arguments.
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// AggregatedTool is one entry of the cross-server tool catalog. The Key
// namespaces the tool name by server id so identically-named tools from
// different servers never collide.
type AggregatedTool struct {
	// Key is the namespaced catalog key, "<server id>.<tool name>".
	Key string `json:"key"`

	// ServerID identifies the server that exposes the tool.
	ServerID string `json:"server_id"`

	// ServerName is the display name of that server.
	ServerName string `json:"server_name"`

	// Tool is the tool descriptor as reported by the server.
	Tool ToolDefinition `json:"tool"`
}

// ToolCallRequest is a request to invoke a tool.
type ToolCallRequest struct {
	// Name is the tool name as exposed by the server.
	Name string `json:"name"`

	// Arguments are the tool arguments, matching the tool's input schema.
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolCallResponse is the result of a tool invocation.
type ToolCallResponse struct {
	// Content is the ordered result content.
	Content []ContentItem `json:"content"`

	// IsError indicates the tool itself reported a failure. This is a
	// tool-level outcome, not a transport failure.
	IsError bool `json:"is_error,omitempty"`
}

// ContentItem is one piece of tool result content.
type ContentItem struct {
	// Type is the content type ("text", "image", ...).
	Type string `json:"type"`

	// Text is the text payload, for text content.
	Text string `json:"text,omitempty"`

	// Data is the base64-encoded payload, for binary content.
	Data string `json:"data,omitempty"`

	// MimeType is the payload's MIME type, for binary content.
	MimeType string `json:"mime_type,omitempty"`
}

// ClientStatus is a point-in-time snapshot of a wrapper's state.
type ClientStatus struct {
	// ServerID is the stable config identity the wrapper was built from.
	ServerID string `json:"server_id"`

	// ServerName is the config's display name at last reconcile.
	ServerName string `json:"server_name"`

	// State is the connection state at snapshot time.
	State ConnState `json:"state"`

	// LastError is the most recent connect or probe failure, if any.
	LastError string `json:"last_error,omitempty"`

	// ConnectedAt is when the current connection was established. Zero if
	// the wrapper never connected.
	ConnectedAt time.Time `json:"connected_at,omitempty"`

	// ToolCount is the number of tools in the last-known catalog.
	ToolCount int `json:"tool_count"`
}
