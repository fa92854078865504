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
	"errors"
	"fmt"
)

// ErrorCode represents a category of connection or tool-call error.
type ErrorCode string

const (
	// ErrorCodeConnectFailed indicates the handshake with a server failed
	// or timed out. The wrapper enters the error state.
	ErrorCodeConnectFailed ErrorCode = "CONNECT_FAILED"
	// ErrorCodeNotConnected indicates a call was attempted against a
	// wrapper that is not in the connected state.
	ErrorCodeNotConnected ErrorCode = "NOT_CONNECTED"
	// ErrorCodeTimeout indicates a remote call exceeded its bound.
	ErrorCodeTimeout ErrorCode = "TIMEOUT"
	// ErrorCodeRemoteError indicates a protocol-level failure reported by
	// the remote server.
	ErrorCodeRemoteError ErrorCode = "REMOTE_ERROR"
	// ErrorCodeUnknownServer indicates an operation referenced a server id
	// with no tracked wrapper.
	ErrorCodeUnknownServer ErrorCode = "UNKNOWN_SERVER"
)

// Error is the error type returned by Client and Manager operations. It
// carries the failing server's id so callers logging or reporting the error
// do not need to thread the id separately.
type Error struct {
	// Code is the error category.
	Code ErrorCode
	// ServerID identifies the server the operation targeted.
	ServerID string
	// Message is the primary error message.
	Message string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// newError creates an Error for the given server and code.
func newError(code ErrorCode, serverID, message string) *Error {
	return &Error{Code: code, ServerID: serverID, Message: message}
}

// withCause attaches an underlying cause to the error.
func (e *Error) withCause(cause error) *Error {
	e.Cause = cause
	return e
}

// CodeOf extracts the ErrorCode from an error chain, or "" if the chain
// contains no *Error.
func CodeOf(err error) ErrorCode {
	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// IsCode reports whether the error chain contains an *Error with the given
// code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
