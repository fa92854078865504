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

package daemon

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/toolmux/toolmux/internal/log"
	"github.com/toolmux/toolmux/internal/mcp"
)

// routes builds the daemon's HTTP mux.
func (d *Daemon) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", d.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/servers", d.handleListServers)
	mux.HandleFunc("POST /v1/servers/{id}/refresh", d.handleRefreshServer)
	mux.HandleFunc("GET /v1/tools", d.handleListTools)
	mux.HandleFunc("POST /v1/tools/call", d.handleCallTool)

	return log.NewHTTPMiddleware(log.WithComponent(d.logger, "http")).Wrap(mux)
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	statuses := d.manager.Statuses()
	connected := 0
	for _, s := range statuses {
		if s.State == mcp.StateConnected {
			connected++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"servers":   len(statuses),
		"connected": connected,
	})
}

func (d *Daemon) handleListServers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"servers": d.manager.Statuses(),
	})
}

func (d *Daemon) handleRefreshServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := d.manager.RefreshClient(r.Context(), id); err != nil {
		d.logger.Error("refresh request failed", "server_id", id, log.Error(err))
		writeError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "refreshing"})
}

func (d *Daemon) handleListTools(w http.ResponseWriter, _ *http.Request) {
	tools := d.manager.AggregatedTools()
	if tools == nil {
		tools = []mcp.AggregatedTool{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

// callToolRequest is the body of POST /v1/tools/call.
type callToolRequest struct {
	ServerID  string         `json:"server_id"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

func (d *Daemon) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var req callToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body: "+err.Error())
		return
	}
	if req.ServerID == "" || req.Tool == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "server_id and tool are required")
		return
	}

	response, err := d.manager.CallTool(r.Context(), req.ServerID, req.Tool, req.Arguments)
	if err != nil {
		code := mcp.CodeOf(err)
		writeError(w, statusForCode(code), string(code), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// statusForCode maps pool error categories to HTTP statuses.
func statusForCode(code mcp.ErrorCode) int {
	switch code {
	case mcp.ErrorCodeUnknownServer:
		return http.StatusNotFound
	case mcp.ErrorCodeNotConnected:
		return http.StatusConflict
	case mcp.ErrorCodeTimeout:
		return http.StatusGatewayTimeout
	case mcp.ErrorCodeRemoteError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
