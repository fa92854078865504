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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// connectAttempts tracks handshake outcomes by transport
	connectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolmux_mcp_connect_attempts_total",
			Help: "Total connection attempts by transport and outcome",
		},
		[]string{"transport", "outcome"},
	)

	// connectedServers tracks the number of currently connected servers
	connectedServers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "toolmux_mcp_connected_servers",
			Help: "Number of currently connected MCP servers",
		},
	)

	// toolCalls tracks tool invocations by outcome
	toolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolmux_mcp_tool_calls_total",
			Help: "Total tool calls by outcome",
		},
		[]string{"outcome"},
	)

	// toolCallDuration tracks tool call latency
	toolCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "toolmux_mcp_tool_call_duration_seconds",
			Help:    "Tool call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// reconcileRuns tracks reconciliation passes by outcome
	reconcileRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolmux_mcp_reconcile_runs_total",
			Help: "Total reconciliation passes by outcome",
		},
		[]string{"outcome"},
	)
)

// recordConnect increments the connect attempt counter
func recordConnect(transport string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	connectAttempts.WithLabelValues(transport, outcome).Inc()
}

// recordToolCall increments the tool call counter and latency histogram
func recordToolCall(start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(CodeOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	toolCalls.WithLabelValues(outcome).Inc()
	toolCallDuration.Observe(time.Since(start).Seconds())
}

// recordReconcile increments the reconcile pass counter
func recordReconcile(err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	reconcileRuns.WithLabelValues(outcome).Inc()
}
