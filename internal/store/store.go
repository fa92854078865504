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

// Package store defines the configuration store for MCP server records and
// provides SQLite, YAML-file, and in-memory implementations.
//
// The store is the source of desired state for the connection manager: each
// ServerConfig row describes one external MCP server that should (when
// enabled) have a live connection. Store failures are reported as
// UnavailableError and must be treated by callers as "unknown state, retry
// later" - never as an empty result.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Transport identifies how a connection to an MCP server is established.
type Transport string

const (
	// TransportStdio spawns a subprocess and speaks MCP over stdin/stdout.
	TransportStdio Transport = "stdio"
	// TransportSSE connects to a remote server over HTTP with SSE streaming.
	TransportSSE Transport = "sse"
	// TransportHTTP connects to a remote server over streamable HTTP.
	TransportHTTP Transport = "http"
)

// Visibility controls who can see a server configuration.
type Visibility string

const (
	// VisibilityPrivate restricts a config to its owner.
	VisibilityPrivate Visibility = "private"
	// VisibilityPublic makes a config visible to all users.
	VisibilityPublic Visibility = "public"
)

// ConnectionSpec describes how to reach an MCP server. It is a tagged union:
// Transport selects which of the remaining fields are meaningful.
type ConnectionSpec struct {
	// Transport selects the connection mechanism.
	Transport Transport `json:"transport" yaml:"transport"`

	// Command is the executable to run (stdio only).
	Command string `json:"command,omitempty" yaml:"command,omitempty"`

	// Args are the command-line arguments (stdio only).
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`

	// Env are environment variables for the subprocess (stdio only).
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// URL is the remote endpoint (sse and http only).
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Headers are sent with every remote request (sse and http only).
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Validate checks that the spec is internally consistent.
func (s ConnectionSpec) Validate() error {
	switch s.Transport {
	case TransportStdio:
		if s.Command == "" {
			return fmt.Errorf("command is required for stdio transport")
		}
	case TransportSSE, TransportHTTP:
		if s.URL == "" {
			return fmt.Errorf("url is required for %s transport", s.Transport)
		}
	case "":
		return fmt.Errorf("transport is required")
	default:
		return fmt.Errorf("unsupported transport: %s", s.Transport)
	}
	return nil
}

// Equal reports whether two specs describe the same connection. Only
// connection-relevant fields participate: a config whose display name,
// owner, or visibility changed still compares equal and must not trigger
// a reconnect.
func (s ConnectionSpec) Equal(other ConnectionSpec) bool {
	if s.Transport != other.Transport {
		return false
	}
	if s.Command != other.Command || s.URL != other.URL {
		return false
	}
	if len(s.Args) != len(other.Args) {
		return false
	}
	for i := range s.Args {
		if s.Args[i] != other.Args[i] {
			return false
		}
	}
	if len(s.Env) != len(other.Env) {
		return false
	}
	for k, v := range s.Env {
		if ov, ok := other.Env[k]; !ok || ov != v {
			return false
		}
	}
	if len(s.Headers) != len(other.Headers) {
		return false
	}
	for k, v := range s.Headers {
		if ov, ok := other.Headers[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// ServerConfig is one MCP server configuration record.
type ServerConfig struct {
	// ID is the stable, opaque identity of this config. It is the sole key
	// used to match configuration to live connections; display names are
	// never used for lookup.
	ID string `json:"id" yaml:"id"`

	// Name is the display name. Not unique, purely cosmetic.
	Name string `json:"name" yaml:"name"`

	// Spec describes how to connect.
	Spec ConnectionSpec `json:"spec" yaml:"spec"`

	// Enabled controls whether the manager should hold a live connection.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// OwnerID identifies the user who created the config.
	OwnerID string `json:"owner_id,omitempty" yaml:"owner_id,omitempty"`

	// Visibility is public or private.
	Visibility Visibility `json:"visibility,omitempty" yaml:"visibility,omitempty"`

	// CreatedAt is when the config was first saved.
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`

	// UpdatedAt is when the config was last saved.
	UpdatedAt time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// Validate checks the config for required fields.
func (c *ServerConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	return c.Spec.Validate()
}

// ErrNotFound is returned when a requested config does not exist.
var ErrNotFound = errors.New("server config not found")

// UnavailableError indicates the backing store could not be reached or the
// operation failed for a reason unrelated to the requested record. Callers
// must treat it as "unknown state": in particular a failed LoadAll must never
// be interpreted as zero configs.
type UnavailableError struct {
	// Op is the store operation that failed.
	Op string
	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying error.
func (e *UnavailableError) Unwrap() error {
	return e.Cause
}

// Unavailable wraps err as an UnavailableError for the named operation.
func Unavailable(op string, err error) error {
	return &UnavailableError{Op: op, Cause: err}
}

// IsUnavailable reports whether err indicates an unreachable store.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// Store is the configuration store contract. All implementations must return
// ErrNotFound for missing records and UnavailableError for infrastructure
// failures, so callers can tell "absent" apart from "unknown".
type Store interface {
	// LoadAll returns every stored config.
	LoadAll(ctx context.Context) ([]ServerConfig, error)

	// Get returns the config with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*ServerConfig, error)

	// Save inserts the config if its id is absent, otherwise updates it.
	// It returns the stored record with timestamps populated.
	Save(ctx context.Context, cfg ServerConfig) (*ServerConfig, error)

	// Delete removes the config with the given id. Deleting a missing id
	// returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// Has reports whether a config with the given id exists.
	Has(ctx context.Context, id string) (bool, error)

	// Close releases any resources held by the store.
	Close() error
}
