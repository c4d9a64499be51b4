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
package keymap

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbmigrate/migrator/internal/rowdata"
	"github.com/dbmigrate/migrator/internal/sources"
)

// fakeAdapter is an in-memory stand-in for sources.Adapter scoped to what
// the Key-Map Store exercises; every other method panics if called, so a
// test that reaches one signals a real bug rather than silently passing.
type fakeAdapter struct {
	tables     map[string]map[string]string // table name -> oldKey -> newKey
	dropErrFor string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{tables: map[string]map[string]string{}}
}

func (f *fakeAdapter) Close() error { return nil }

func (f *fakeAdapter) ListColumns(context.Context, string, string) ([]sources.ColumnInfo, error) {
	panic("not used by keymap tests")
}
func (f *fakeAdapter) IdentityColumn(context.Context, string, string) (string, bool, error) {
	panic("not used by keymap tests")
}
func (f *fakeAdapter) RowCount(context.Context, string, string) (int64, error) {
	panic("not used by keymap tests")
}
func (f *fakeAdapter) ReadBatch(context.Context, string, string, string, int, *rowdata.Value) ([]rowdata.Row, error) {
	panic("not used by keymap tests")
}
func (f *fakeAdapter) ExecNonQuery(context.Context, string, ...any) error {
	panic("not used by keymap tests")
}
func (f *fakeAdapter) InsertOne(context.Context, string, string, rowdata.Row, []string, string, bool) (string, error) {
	panic("not used by keymap tests")
}
func (f *fakeAdapter) BulkInsert(context.Context, string, string, []string, []rowdata.Row) error {
	panic("not used by keymap tests")
}
func (f *fakeAdapter) SetIdentityInsert(context.Context, string, string, bool) error {
	panic("not used by keymap tests")
}
func (f *fakeAdapter) DisableTriggers(context.Context, string, string) error { panic("not used") }
func (f *fakeAdapter) EnableTriggers(context.Context, string, string) error  { panic("not used") }
func (f *fakeAdapter) DisableAllConstraints(context.Context) error           { panic("not used") }
func (f *fakeAdapter) EnableAllConstraints(context.Context) error            { panic("not used") }
func (f *fakeAdapter) TruncateTable(context.Context, string, string) error   { panic("not used") }
func (f *fakeAdapter) DeleteAllRows(context.Context, string, string) error   { panic("not used") }
func (f *fakeAdapter) IsColumnUnique(context.Context, string, string, string) (bool, error) {
	panic("not used")
}

func (f *fakeAdapter) TableExists(_ context.Context, _ string, table string) (bool, error) {
	_, ok := f.tables[table]
	return ok, nil
}

func (f *fakeAdapter) CreateKeyMapTable(_ context.Context, table string) error {
	if _, exists := f.tables[table]; exists {
		return fmt.Errorf("table %s already exists", table)
	}
	f.tables[table] = map[string]string{}
	return nil
}

func (f *fakeAdapter) DropKeyMapTable(_ context.Context, table string) error {
	if table == f.dropErrFor {
		return fmt.Errorf("simulated drop failure for %s", table)
	}
	delete(f.tables, table)
	return nil
}

func (f *fakeAdapter) ListTablesWithPrefix(_ context.Context, prefix string) ([]string, error) {
	var out []string
	for name := range f.tables {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	return out, nil
}

func (f *fakeAdapter) InsertKeyMapPairs(_ context.Context, table string, pairs []sources.KeyPair) error {
	m, ok := f.tables[table]
	if !ok {
		return fmt.Errorf("table %s does not exist", table)
	}
	for _, p := range pairs {
		m[p.OldKey] = p.NewKey
	}
	return nil
}

func (f *fakeAdapter) LoadKeyMapTable(_ context.Context, table string) (map[string]string, error) {
	m, ok := f.tables[table]
	if !ok {
		return nil, fmt.Errorf("table %s does not exist", table)
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out, nil
}

func TestDeriveTableNameReplacesDotsWithUnderscoresUnderPrefix(t *testing.T) {
	assert.Equal(t, "dbmigrate_keymap_dbo_Countries", DeriveTableName("dbo.Countries"))
	assert.Equal(t, "dbmigrate_keymap_Countries", DeriveTableName("Countries"))
}

func TestCreateAppendLoadRoundTrip(t *testing.T) {
	adapter := newFakeAdapter()
	store := NewStore(adapter, nil)
	ctx := context.Background()

	name, err := store.CreateForTable(ctx, "dbo.Countries")
	require.NoError(t, err)
	require.Equal(t, "dbmigrate_keymap_dbo_Countries", name)

	err = store.AppendBatch(ctx, name, []sources.KeyPair{
		{OldKey: "7", NewKey: "9001"},
		{OldKey: "8", NewKey: "9002"},
	})
	require.NoError(t, err)

	loaded, err := store.LoadAll(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"7": "9001", "8": "9002"}, loaded)
}

// Every recorded oldKey maps to
// exactly one newKey, and re-appending a fresh batch for a different key
// does not disturb prior entries.
func TestKeyMapBijectivityAcrossBatches(t *testing.T) {
	adapter := newFakeAdapter()
	store := NewStore(adapter, nil)
	ctx := context.Background()

	name, err := store.CreateForTable(ctx, "dbo.Regions")
	require.NoError(t, err)

	require.NoError(t, store.AppendBatch(ctx, name, []sources.KeyPair{{OldKey: "1", NewKey: "101"}}))
	require.NoError(t, store.AppendBatch(ctx, name, []sources.KeyPair{{OldKey: "2", NewKey: "102"}}))

	loaded, err := store.LoadAll(ctx, name)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "101", loaded["1"])
	assert.Equal(t, "102", loaded["2"])
}

func TestDropStaleTablesOnlyTouchesPrefixedTables(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.tables["dbmigrate_keymap_dbo_Old"] = map[string]string{"1": "2"}
	adapter.tables["dbo.CustomerData"] = map[string]string{"should": "not-be-touched"}
	store := NewStore(adapter, nil)
	ctx := context.Background()

	require.NoError(t, store.DropStaleTables(ctx))

	_, staleGone := adapter.tables["dbmigrate_keymap_dbo_Old"]
	assert.False(t, staleGone)
	_, userDataStillThere := adapter.tables["dbo.CustomerData"]
	assert.True(t, userDataStillThere)
}

// A failing drop for one
// table must not prevent the others from being attempted.
func TestDropAllIsFaultTolerant(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.tables["dbmigrate_keymap_dbo_A"] = map[string]string{}
	adapter.tables["dbmigrate_keymap_dbo_B"] = map[string]string{}
	adapter.dropErrFor = "dbmigrate_keymap_dbo_A"
	store := NewStore(adapter, nil)
	ctx := context.Background()

	store.DropAll(ctx, []string{"dbmigrate_keymap_dbo_A", "dbmigrate_keymap_dbo_B"})

	_, aStillThere := adapter.tables["dbmigrate_keymap_dbo_A"]
	assert.True(t, aStillThere, "failed drop leaves the table in place, but must not abort the rest")
	_, bGone := adapter.tables["dbmigrate_keymap_dbo_B"]
	assert.False(t, bGone)
}
