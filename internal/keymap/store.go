// Copyright 2026 The dbmigrate Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package keymap implements the Key-Map Store (C4): the persistent
// oldKey->newKey tables the engine maintains on the target for every
// generate-mode parent table, and the in-memory hash maps handed to
// descendant tables' keyLookup transformations.
package keymap

import (
	"context"
	"fmt"
	"strings"

	"github.com/dbmigrate/migrator/internal/log"
	"github.com/dbmigrate/migrator/internal/sources"
)

// TablePrefix distinguishes the engine's own bookkeeping tables from the
// tables being migrated, so a stale-table sweep at run start never touches
// user data.
const TablePrefix = "dbmigrate_keymap_"

// DeriveTableName turns a qualified source table identifier (e.g.
// "dbo.Countries") into a stable key-map table name: dots become
// underscores, under the fixed prefix.
func DeriveTableName(sourceIdentifier string) string {
	return TablePrefix + strings.ReplaceAll(sourceIdentifier, ".", "_")
}

// Store is the Key-Map Store, backed by one target Adapter.
type Store struct {
	adapter sources.Adapter
	logger  log.Logger
}

// NewStore wires a Key-Map Store to the target connection's adapter.
func NewStore(adapter sources.Adapter, logger log.Logger) *Store {
	return &Store{adapter: adapter, logger: logger}
}

// DropStaleTables drops every key-map table left over from a prior run,
// matching purely on TablePrefix.
func (s *Store) DropStaleTables(ctx context.Context) error {
	names, err := s.adapter.ListTablesWithPrefix(ctx, TablePrefix)
	if err != nil {
		return fmt.Errorf("keymap: list stale tables: %w", err)
	}
	for _, name := range names {
		if err := s.adapter.DropKeyMapTable(ctx, name); err != nil {
			return fmt.Errorf("keymap: drop stale table %s: %w", name, err)
		}
	}
	return nil
}

// CreateForTable creates the dedicated key-map table for a parent table
// entering generate mode, and returns its derived name.
func (s *Store) CreateForTable(ctx context.Context, sourceIdentifier string) (string, error) {
	name := DeriveTableName(sourceIdentifier)
	if err := s.adapter.CreateKeyMapTable(ctx, name); err != nil {
		return "", fmt.Errorf("keymap: create table for %s: %w", sourceIdentifier, err)
	}
	return name, nil
}

// EnsureTable creates the key-map table for sourceIdentifier if it does not
// already exist, returning its derived name. Used on resume, where a prior
// orderly teardown may have dropped the table a mid-run parent still needs.
func (s *Store) EnsureTable(ctx context.Context, sourceIdentifier string) (string, error) {
	name := DeriveTableName(sourceIdentifier)
	exists, err := s.adapter.TableExists(ctx, "", name)
	if err != nil {
		return "", fmt.Errorf("keymap: check table for %s: %w", sourceIdentifier, err)
	}
	if exists {
		return name, nil
	}
	return s.CreateForTable(ctx, sourceIdentifier)
}

// AppendBatch persists pairs to an already-created key-map table. The
// Adapter batches internally at <=1000 rows per statement.
func (s *Store) AppendBatch(ctx context.Context, tableName string, pairs []sources.KeyPair) error {
	if len(pairs) == 0 {
		return nil
	}
	if err := s.adapter.InsertKeyMapPairs(ctx, tableName, pairs); err != nil {
		return fmt.Errorf("keymap: append batch to %s: %w", tableName, err)
	}
	return nil
}

// LoadAll reads a completed parent table's key-map into memory, for
// handing to descendant tables via keyMaps[parentTable]; run-time lookups
// never go back to the database.
func (s *Store) LoadAll(ctx context.Context, tableName string) (map[string]string, error) {
	m, err := s.adapter.LoadKeyMapTable(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("keymap: load %s: %w", tableName, err)
	}
	return m, nil
}

// DropAll drops every key-map table created this run. It is a teardown
// step: called unconditionally on both success and failure, and
// individually fault-tolerant — one table's drop failing is logged but
// never stops the rest from being attempted.
func (s *Store) DropAll(ctx context.Context, tableNames []string) {
	for _, name := range tableNames {
		if err := s.adapter.DropKeyMapTable(ctx, name); err != nil {
			if s.logger != nil {
				s.logger.WarnContext(ctx, "keymap: teardown drop failed", "table", name, "error", err)
			}
		}
	}
}
