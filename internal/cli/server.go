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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/toolmux/toolmux/internal/store"
)

// newServerCommand creates the 'server' command group.
func newServerCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Manage MCP server configurations",
		Long: `Manage MCP server configurations in the store.

A running daemon picks up changes on its next reconcile tick; there is no
need to restart it after add, remove, enable, or disable.`,
	}

	cmd.AddCommand(newServerAddCommand(opts))
	cmd.AddCommand(newServerListCommand(opts))
	cmd.AddCommand(newServerRemoveCommand(opts))
	cmd.AddCommand(newServerEnableCommand(opts, true))
	cmd.AddCommand(newServerEnableCommand(opts, false))

	return cmd
}

// newServerAddCommand creates the 'server add' command.
func newServerAddCommand(opts *rootOptions) *cobra.Command {
	var (
		transport  string
		command    string
		args       []string
		env        []string
		url        string
		headers    []string
		owner      string
		visibility string
		disabled   bool
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a new MCP server",
		Args:  cobra.ExactArgs(1),
		Example: `  # Example 1: A subprocess server over stdio
  toolmux server add weather --command npx --args -y --args @h1deya/mcp-server-weather

  # Example 2: A remote server over streamable HTTP
  toolmux server add github --transport http --url https://api.example.com/mcp \
    --header "Authorization=Bearer TOKEN"`,
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			spec := store.ConnectionSpec{
				Transport: store.Transport(transport),
				Command:   command,
				Args:      args,
				Env:       parsePairs(env),
				URL:       url,
				Headers:   parsePairs(headers),
			}

			cfg := store.ServerConfig{
				ID:         uuid.NewString(),
				Name:       cmdArgs[0],
				Spec:       spec,
				Enabled:    !disabled,
				OwnerID:    owner,
				Visibility: store.Visibility(visibility),
			}

			st, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			saved, err := st.Save(context.Background(), cfg)
			if err != nil {
				return fmt.Errorf("failed to save server: %w", err)
			}

			fmt.Printf("Added server %q with id %s\n", saved.Name, saved.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport (stdio, sse, http)")
	cmd.Flags().StringVar(&command, "command", "", "Executable to run (stdio)")
	cmd.Flags().StringArrayVar(&args, "args", nil, "Command argument, repeatable (stdio)")
	cmd.Flags().StringArrayVar(&env, "env", nil, "KEY=VALUE environment variable, repeatable (stdio)")
	cmd.Flags().StringVar(&url, "url", "", "Remote endpoint URL (sse, http)")
	cmd.Flags().StringArrayVar(&headers, "header", nil, "KEY=VALUE request header, repeatable (sse, http)")
	cmd.Flags().StringVar(&owner, "owner", "", "Owner id")
	cmd.Flags().StringVar(&visibility, "visibility", string(store.VisibilityPrivate), "Visibility (public, private)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Register without connecting")

	return cmd
}

// newServerListCommand creates the 'server list' command.
func newServerListCommand(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured MCP servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			configs, err := st.LoadAll(context.Background())
			if err != nil {
				return fmt.Errorf("failed to load servers: %w", err)
			}

			if asJSON {
				data, err := json.MarshalIndent(map[string]any{"servers": configs}, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			if len(configs) == 0 {
				fmt.Println("No MCP servers configured.")
				fmt.Println("\nTo add one:")
				fmt.Println("  toolmux server add <name> --command <cmd>")
				return nil
			}

			fmt.Printf("%-36s %-20s %-9s %-8s %s\n", "ID", "NAME", "TRANSPORT", "ENABLED", "TARGET")
			fmt.Println(strings.Repeat("-", 90))
			for _, cfg := range configs {
				target := cfg.Spec.Command
				if target == "" {
					target = cfg.Spec.URL
				}
				fmt.Printf("%-36s %-20s %-9s %-8t %s\n",
					cfg.ID,
					truncate(cfg.Name, 20),
					cfg.Spec.Transport,
					cfg.Enabled,
					target,
				)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

// newServerRemoveCommand creates the 'server remove' command.
func newServerRemoveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an MCP server configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Delete(context.Background(), args[0]); err != nil {
				return fmt.Errorf("failed to remove server %s: %w", args[0], err)
			}
			fmt.Printf("Removed server %s\n", args[0])
			return nil
		},
	}
}

// newServerEnableCommand creates 'server enable' or 'server disable'.
func newServerEnableCommand(opts *rootOptions, enable bool) *cobra.Command {
	verb := "enable"
	short := "Enable an MCP server (the daemon connects on its next reconcile)"
	if !enable {
		verb = "disable"
		short = "Disable an MCP server (the daemon disconnects on its next reconcile)"
	}

	return &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := context.Background()
			cfg, err := st.Get(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to load server %s: %w", args[0], err)
			}

			if cfg.Enabled == enable {
				fmt.Printf("Server %s is already %sd\n", args[0], verb)
				return nil
			}

			cfg.Enabled = enable
			if _, err := st.Save(ctx, *cfg); err != nil {
				return fmt.Errorf("failed to update server %s: %w", args[0], err)
			}
			fmt.Printf("Server %s %sd\n", args[0], verb)
			return nil
		},
	}
}

// parsePairs converts KEY=VALUE strings into a map. Later duplicates win.
func parsePairs(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, _ := strings.Cut(pair, "=")
		out[key] = value
	}
	return out
}

// truncate shortens s to max runes with an ellipsis.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
