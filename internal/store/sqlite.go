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

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed Store for single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// SQLiteConfig contains SQLite connection configuration.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// NewSQLiteStore opens (and if necessary creates) the database at cfg.Path
// and runs migrations.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes, so only 1 connection for writes
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}

	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// configurePragmas sets SQLite configuration options.
func (s *SQLiteStore) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}

	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}

	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS mcp_servers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		spec TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		owner_id TEXT,
		visibility TEXT NOT NULL DEFAULT 'private',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create mcp_servers table: %w", err)
	}

	return nil
}

// LoadAll returns every stored config.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]ServerConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, spec, enabled, owner_id, visibility, created_at, updated_at
		 FROM mcp_servers ORDER BY id`)
	if err != nil {
		return nil, Unavailable("load_all", err)
	}
	defer rows.Close()

	var configs []ServerConfig
	for rows.Next() {
		cfg, err := scanServerConfig(rows)
		if err != nil {
			return nil, Unavailable("load_all", err)
		}
		configs = append(configs, *cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable("load_all", err)
	}

	return configs, nil
}

// Get returns the config with the given id, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*ServerConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, spec, enabled, owner_id, visibility, created_at, updated_at
		 FROM mcp_servers WHERE id = ?`, id)

	cfg, err := scanServerConfig(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, Unavailable("get", err)
	}

	return cfg, nil
}

// Save inserts the config if its id is absent, otherwise updates it.
func (s *SQLiteStore) Save(ctx context.Context, cfg ServerConfig) (*ServerConfig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	specJSON, err := json.Marshal(cfg.Spec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal connection spec: %w", err)
	}

	now := time.Now().UTC()
	cfg.UpdatedAt = now
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	if cfg.Visibility == "" {
		cfg.Visibility = VisibilityPrivate
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO mcp_servers (id, name, spec, enabled, owner_id, visibility, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			spec = excluded.spec,
			enabled = excluded.enabled,
			owner_id = excluded.owner_id,
			visibility = excluded.visibility,
			updated_at = excluded.updated_at`,
		cfg.ID, cfg.Name, string(specJSON), boolToInt(cfg.Enabled),
		cfg.OwnerID, string(cfg.Visibility),
		cfg.CreatedAt.Format(time.RFC3339Nano), cfg.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, Unavailable("save", err)
	}

	return s.Get(ctx, cfg.ID)
}

// Delete removes the config with the given id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mcp_servers WHERE id = ?`, id)
	if err != nil {
		return Unavailable("delete", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return Unavailable("delete", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

// Has reports whether a config with the given id exists.
func (s *SQLiteStore) Has(ctx context.Context, id string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM mcp_servers WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, Unavailable("has", err)
	}
	return true, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanServerConfig(row scanner) (*ServerConfig, error) {
	var (
		cfg        ServerConfig
		specJSON   string
		enabled    int
		ownerID    sql.NullString
		visibility string
		createdAt  string
		updatedAt  string
	)

	if err := row.Scan(&cfg.ID, &cfg.Name, &specJSON, &enabled,
		&ownerID, &visibility, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(specJSON), &cfg.Spec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal connection spec for %s: %w", cfg.ID, err)
	}

	cfg.Enabled = enabled != 0
	cfg.OwnerID = ownerID.String
	cfg.Visibility = Visibility(visibility)

	var err error
	if cfg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at for %s: %w", cfg.ID, err)
	}
	if cfg.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at for %s: %w", cfg.ID, err)
	}

	return &cfg, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
