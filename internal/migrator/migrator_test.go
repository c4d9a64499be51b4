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
package migrator

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbmigrate/migrator/internal/config"
	"github.com/dbmigrate/migrator/internal/keymap"
	"github.com/dbmigrate/migrator/internal/log"
	"github.com/dbmigrate/migrator/internal/rowdata"
	"github.com/dbmigrate/migrator/internal/sources"
	"github.com/dbmigrate/migrator/internal/status"
	"github.com/dbmigrate/migrator/internal/transform"
)

func testLogger(t *testing.T) log.Logger {
	t.Helper()
	logger, err := log.NewStdLogger(io.Discard, io.Discard, log.Debug)
	require.NoError(t, err)
	return logger
}

// fakeAdapter is a minimal in-memory sources.Adapter covering exactly what
// the Table Migrator drives. Methods it doesn't need panic, so a test that
// accidentally exercises unrelated adapter behavior fails loudly.
type fakeAdapter struct {
	sources.Adapter

	sourceRows  []rowdata.Row
	batchColumn string

	targetColumns  []sources.ColumnInfo
	identityColumn string

	inserted        []rowdata.Row
	lastBulkColumns []string
	nextIdentity    int64
	failInsertOf    map[string]bool // tracking-key values whose InsertOne fails
}

func (f *fakeAdapter) RowCount(context.Context, string, string) (int64, error) {
	return int64(len(f.sourceRows)), nil
}

func (f *fakeAdapter) ReadBatch(_ context.Context, _, _, batchColumn string, size int, after *rowdata.Value) ([]rowdata.Row, error) {
	var page []rowdata.Row
	for _, r := range f.sourceRows {
		if after != nil && r[batchColumn].AsText() <= after.AsText() {
			continue
		}
		page = append(page, r)
		if size > 0 && len(page) == size {
			break
		}
	}
	return page, nil
}

func (f *fakeAdapter) ListColumns(context.Context, string, string) ([]sources.ColumnInfo, error) {
	return f.targetColumns, nil
}

func (f *fakeAdapter) IdentityColumn(context.Context, string, string) (string, bool, error) {
	return f.identityColumn, f.identityColumn != "", nil
}

func (f *fakeAdapter) DisableTriggers(context.Context, string, string) error { return nil }
func (f *fakeAdapter) EnableTriggers(context.Context, string, string) error  { return nil }
func (f *fakeAdapter) SetIdentityInsert(context.Context, string, string, bool) error { return nil }
func (f *fakeAdapter) TruncateTable(context.Context, string, string) error  { return nil }

func (f *fakeAdapter) CreateKeyMapTable(context.Context, string) error { return nil }

func (f *fakeAdapter) InsertKeyMapPairs(context.Context, string, []sources.KeyPair) error { return nil }

func (f *fakeAdapter) BulkInsert(_ context.Context, _, _ string, columns []string, rows []rowdata.Row) error {
	f.lastBulkColumns = columns
	for _, r := range rows {
		clone := rowdata.Row{}
		for _, c := range columns {
			clone[c] = r[c]
		}
		f.inserted = append(f.inserted, clone)
	}
	return nil
}

func (f *fakeAdapter) InsertOne(_ context.Context, _, _ string, row rowdata.Row, columns []string, identityColumn string, returnIdentity bool) (string, error) {
	key := row["__dbmigrate_tracking_key"].AsText()
	if f.failInsertOf[key] {
		return "", fmt.Errorf("insert failed for %s", key)
	}
	clone := rowdata.Row{}
	for _, c := range columns {
		clone[c] = row[c]
	}
	f.nextIdentity++
	clone[identityColumn] = rowdata.Int(f.nextIdentity)
	f.inserted = append(f.inserted, clone)
	return fmt.Sprintf("%d", f.nextIdentity), nil
}

func fixedNow() status.Now {
	t := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

// A plain two-column copy with preserved keys and no transformations.
func TestSimpleCopyPreserveKeys(t *testing.T) {
	source := &fakeAdapter{
		sourceRows: []rowdata.Row{
			{"Code": rowdata.Text("US"), "Name": rowdata.Text("United States")},
			{"Code": rowdata.Text("CA"), "Name": rowdata.Text("Canada")},
		},
	}
	target := &fakeAdapter{
		targetColumns: []sources.ColumnInfo{{Name: "CountryCode"}, {Name: "CountryName"}},
	}

	job := config.TableJob{
		Order: 1, SourceSchema: "dbo", SourceTable: "Countries",
		TargetSchema: "dbo", TargetTable: "Countries",
		BatchColumn: "Code", IdentityMode: config.IdentityPreserve, ExistingDataAction: config.ActionAppend,
		SimpleMappings: []config.SimpleMapping{
			{SourceColumn: "Code", TargetColumn: "CountryCode"},
			{SourceColumn: "Name", TargetColumn: "CountryName"},
		},
	}

	dir := t.TempDir()
	writer := status.New(dir, "migrator", "Countries", fixedNow(), time.Now())
	m := &Migrator{Source: source, Target: target, KeyStore: keymap.NewStore(target, testLogger(t)), Status: writer, Logger: testLogger(t), Ports: transform.DefaultPorts()}

	result, err := m.Run(context.Background(), job, 0, transform.KeyMaps{}, nil)
	require.NoError(t, err)
	assert.Equal(t, status.TableCompleted, result.Status)
	assert.EqualValues(t, 2, result.ProcessedRows)
	require.Len(t, target.inserted, 2)

	byCode := map[string]string{}
	for _, r := range target.inserted {
		byCode[r["CountryCode"].AsText()] = r["CountryName"].AsText()
	}
	assert.Equal(t, "Canada", byCode["CA"])
	assert.Equal(t, "United States", byCode["US"])
}

// Preserve mode with a mapped identity column: the bulk insert names the
// identity column exactly once, alongside explicit-identity-insert toggling.
func TestPreserveModeNamesIdentityColumnOnce(t *testing.T) {
	source := &fakeAdapter{
		sourceRows: []rowdata.Row{
			{"OrderID": rowdata.Int(1), "Total": rowdata.Decimal("9.99")},
		},
	}
	target := &fakeAdapter{
		targetColumns:  []sources.ColumnInfo{{Name: "OrderID", IsIdentity: true}, {Name: "Total"}},
		identityColumn: "OrderID",
	}

	job := config.TableJob{
		Order: 1, SourceSchema: "dbo", SourceTable: "Orders",
		TargetSchema: "dbo", TargetTable: "Orders",
		BatchColumn: "OrderID", IdentityMode: config.IdentityPreserve, IdentityColumn: "OrderID",
		ExistingDataAction: config.ActionAppend,
		SimpleMappings: []config.SimpleMapping{
			{SourceColumn: "OrderID", TargetColumn: "OrderID"},
			{SourceColumn: "Total", TargetColumn: "Total"},
		},
	}

	dir := t.TempDir()
	writer := status.New(dir, "migrator", "Orders", fixedNow(), time.Now())
	m := &Migrator{Source: source, Target: target, KeyStore: keymap.NewStore(target, testLogger(t)), Status: writer, Logger: testLogger(t), Ports: transform.DefaultPorts()}

	_, err := m.Run(context.Background(), job, 0, transform.KeyMaps{}, nil)
	require.NoError(t, err)

	seen := map[string]int{}
	for _, c := range target.lastBulkColumns {
		seen[c]++
	}
	assert.Equal(t, 1, seen["OrderID"])
	assert.Equal(t, 1, seen["Total"])
}

// One row's row-by-row insert
// fails under generate mode; the other two must still land, and exactly one
// RowErrors entry is recorded.
func TestRowErrorIsolationGenerateMode(t *testing.T) {
	source := &fakeAdapter{
		sourceRows: []rowdata.Row{
			{"CustID": rowdata.Text("1")},
			{"CustID": rowdata.Text("2")},
			{"CustID": rowdata.Text("3")},
		},
	}
	target := &fakeAdapter{
		targetColumns:  []sources.ColumnInfo{{Name: "CustomerID", IsIdentity: true}, {Name: "CustID"}},
		identityColumn: "CustomerID",
		failInsertOf:   map[string]bool{"2": true},
	}

	job := config.TableJob{
		Order: 1, SourceSchema: "dbo", SourceTable: "Customers",
		TargetSchema: "dbo", TargetTable: "Customers",
		BatchColumn: "CustID", IdentityMode: config.IdentityGenerate, IdentityColumn: "CustomerID",
		ExistingDataAction: config.ActionAppend,
		SimpleMappings:     []config.SimpleMapping{{SourceColumn: "CustID", TargetColumn: "CustID"}},
	}

	dir := t.TempDir()
	writer := status.New(dir, "migrator", "Shop", fixedNow(), time.Now())
	m := &Migrator{Source: source, Target: target, KeyStore: keymap.NewStore(target, testLogger(t)), Status: writer, Logger: testLogger(t), Ports: transform.DefaultPorts()}

	result, err := m.Run(context.Background(), job, 0, transform.KeyMaps{}, nil)
	require.NoError(t, err)
	assert.Equal(t, status.TableCompleted, result.Status)
	assert.EqualValues(t, 2, result.ProcessedRows)
	assert.Len(t, target.inserted, 2)
}
