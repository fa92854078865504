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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// fileFormat is the on-disk YAML shape of the file store.
type fileFormat struct {
	// Servers maps config id to record. The id inside the record is
	// authoritative; the map key exists for human editing convenience and
	// is rewritten from the record on save.
	Servers map[string]*ServerConfig `yaml:"servers,omitempty"`
}

// FileStore is a YAML-file-backed Store. The file may be edited by hand;
// pair it with a Watcher to pick up external edits between reconcile ticks.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a store backed by the YAML file at path. The file is
// created on first save; a missing file reads as zero configs.
func NewFileStore(path string) (*FileStore, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store path %s: %w", path, err)
	}
	return &FileStore{path: abs}, nil
}

// Path returns the absolute path of the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// LoadAll returns every stored config, ordered by id.
func (s *FileStore) LoadAll(_ context.Context) ([]ServerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}

	out := make([]ServerConfig, 0, len(doc.Servers))
	for _, cfg := range doc.Servers {
		out = append(out, *cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns the config with the given id, or ErrNotFound.
func (s *FileStore) Get(_ context.Context, id string) (*ServerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}

	cfg, ok := doc.Servers[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *cfg
	return &out, nil
}

// Save inserts or updates the config and rewrites the file atomically.
func (s *FileStore) Save(_ context.Context, cfg ServerConfig) (*ServerConfig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if existing, ok := doc.Servers[cfg.ID]; ok {
		cfg.CreatedAt = existing.CreatedAt
	} else {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	stored := cfg
	doc.Servers[cfg.ID] = &stored

	if err := s.write(doc); err != nil {
		return nil, err
	}

	out := stored
	return &out, nil
}

// Delete removes the config with the given id.
func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}

	if _, ok := doc.Servers[id]; !ok {
		return ErrNotFound
	}
	delete(doc.Servers, id)

	return s.write(doc)
}

// Has reports whether a config with the given id exists.
func (s *FileStore) Has(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return false, err
	}

	_, ok := doc.Servers[id]
	return ok, nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

// read loads and parses the backing file. A missing file is an empty store;
// any other failure is an UnavailableError.
func (s *FileStore) read() (*fileFormat, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileFormat{Servers: make(map[string]*ServerConfig)}, nil
		}
		return nil, Unavailable("read", err)
	}

	var doc fileFormat
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, Unavailable("read", fmt.Errorf("failed to parse %s: %w", s.path, err))
	}
	if doc.Servers == nil {
		doc.Servers = make(map[string]*ServerConfig)
	}

	// The record's own id wins over the map key.
	for key, cfg := range doc.Servers {
		if cfg.ID == "" {
			cfg.ID = key
		}
	}

	return &doc, nil
}

// write marshals and atomically replaces the backing file.
func (s *FileStore) write(doc *fileFormat) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return Unavailable("write", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return Unavailable("write", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return Unavailable("write", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath) // Clean up on failure
		return Unavailable("write", err)
	}

	return nil
}
