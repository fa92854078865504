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

package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolmux/toolmux/internal/daemon"
)

// newServeCommand creates the 'serve' command.
func newServeCommand(opts *rootOptions) *cobra.Command {
	var (
		listenAddr        string
		reconcileInterval time.Duration
		connectTimeout    time.Duration
		callTimeout       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the toolmux daemon",
		Long: `Run the toolmux daemon: connect to every enabled MCP server in the
store, keep the pool reconciled, and serve the HTTP API.

Endpoints:
  GET  /healthz                   Daemon and pool health
  GET  /metrics                   Prometheus metrics
  GET  /v1/servers                Status of every tracked server
  POST /v1/servers/{id}/refresh   Force-reconnect one server
  GET  /v1/tools                  Aggregated tool catalog
  POST /v1/tools/call             Invoke a tool`,
		Example: `  # Run with the default SQLite store
  toolmux serve

  # Run against a hand-edited YAML file, reconciling on every edit
  toolmux serve --store file --store-path ./servers.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(opts, listenAddr, reconcileInterval, connectTimeout, callTimeout)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:8900", "HTTP listen address")
	cmd.Flags().DurationVar(&reconcileInterval, "reconcile-interval", 30*time.Second, "Interval between store reconciliations")
	cmd.Flags().DurationVar(&connectTimeout, "connect-timeout", 10*time.Second, "Per-server handshake timeout")
	cmd.Flags().DurationVar(&callTimeout, "call-timeout", 30*time.Second, "Per-call tool timeout")

	return cmd
}

func runServe(opts *rootOptions, listenAddr string, reconcileInterval, connectTimeout, callTimeout time.Duration) error {
	logger := opts.newLogger()

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	watchPath, err := opts.storeFilePath()
	if err != nil {
		return err
	}

	d, err := daemon.New(daemon.Config{
		ListenAddr:        listenAddr,
		ReconcileInterval: reconcileInterval,
		ConnectTimeout:    connectTimeout,
		CallTimeout:       callTimeout,
		WatchPath:         watchPath,
		Logger:            logger,
	}, st)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}
