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

// Package cli implements the toolmux command line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/toolmux/toolmux/internal/log"
	"github.com/toolmux/toolmux/internal/store"
)

// rootOptions holds the global flags shared by all commands.
type rootOptions struct {
	// storeKind selects the store backend: sqlite, file, or memory.
	storeKind string

	// storePath overrides the backend's default location.
	storePath string

	// logLevel is trace, debug, info, warn, or error.
	logLevel string

	// logFormat is json or text.
	logFormat string
}

// NewRootCommand creates the root cobra command.
func NewRootCommand(version string) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "toolmux",
		Short: "toolmux - MCP connection multiplexer",
		Long: `toolmux maintains a pool of connections to MCP (Model Context Protocol)
tool servers and exposes their aggregated tool catalog over a local HTTP API.

Server configurations live in a store (SQLite by default); the running daemon
reconciles the pool against the store continuously, so configuration changes
take effect without a restart.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	registerGlobalFlags(cmd.PersistentFlags(), opts)

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newServerCommand(opts))

	return cmd
}

// registerGlobalFlags binds the global flags onto a flag set.
func registerGlobalFlags(flags *pflag.FlagSet, opts *rootOptions) {
	flags.StringVar(&opts.storeKind, "store", "sqlite", "Config store backend (sqlite, file, memory)")
	flags.StringVar(&opts.storePath, "store-path", "", "Config store location (default: ~/.toolmux/toolmux.db or ~/.toolmux/servers.yaml)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format (json, text)")
}

// newLogger builds the process logger from flags and environment.
func (o *rootOptions) newLogger() *slog.Logger {
	cfg := log.FromEnv()
	if o.logLevel != "" {
		cfg.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Format = log.Format(o.logFormat)
	}
	return log.New(cfg)
}

// openStore opens the configured store backend. The caller owns the returned
// store and must close it.
func (o *rootOptions) openStore() (store.Store, error) {
	switch o.storeKind {
	case "sqlite":
		path, err := o.resolvePath("toolmux.db")
		if err != nil {
			return nil, err
		}
		return store.NewSQLiteStore(store.SQLiteConfig{Path: path, WAL: true})

	case "file":
		path, err := o.resolvePath("servers.yaml")
		if err != nil {
			return nil, err
		}
		return store.NewFileStore(path)

	case "memory":
		return store.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown store backend: %s (want sqlite, file, or memory)", o.storeKind)
	}
}

// storeFilePath returns the backing file path for file stores, or "" for
// backends that have nothing to watch.
func (o *rootOptions) storeFilePath() (string, error) {
	if o.storeKind != "file" {
		return "", nil
	}
	return o.resolvePath("servers.yaml")
}

// resolvePath applies --store-path or falls back to ~/.toolmux/<name>,
// creating the directory if needed.
func (o *rootOptions) resolvePath(name string) (string, error) {
	if o.storePath != "" {
		return o.storePath, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".toolmux")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return filepath.Join(dir, name), nil
}
