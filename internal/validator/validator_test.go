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
package validator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbmigrate/migrator/internal/config"
	"github.com/dbmigrate/migrator/internal/rowdata"
	"github.com/dbmigrate/migrator/internal/sources"
	"github.com/dbmigrate/migrator/internal/transform"
)

// fakeAdapter is a minimal read-only sources.Adapter covering exactly the
// introspection surface the Validator drives; any mutating method panics via
// the embedded nil interface if accidentally called.
type fakeAdapter struct {
	sources.Adapter

	exists     bool
	columns    []sources.ColumnInfo
	rowCount   int64
	rows       []rowdata.Row
	columnUniq map[string]bool
}

func (f *fakeAdapter) TableExists(context.Context, string, string) (bool, error) { return f.exists, nil }
func (f *fakeAdapter) ListColumns(context.Context, string, string) ([]sources.ColumnInfo, error) {
	return f.columns, nil
}
func (f *fakeAdapter) RowCount(context.Context, string, string) (int64, error) { return f.rowCount, nil }
func (f *fakeAdapter) IsColumnUnique(_ context.Context, _, _, column string) (bool, error) {
	return f.columnUniq[column], nil
}
func (f *fakeAdapter) ReadBatch(_ context.Context, _, _, _ string, size int, _ *rowdata.Value) ([]rowdata.Row, error) {
	if size > 0 && size < len(f.rows) {
		return f.rows[:size], nil
	}
	return f.rows, nil
}

func baseJob() config.TableJob {
	return config.TableJob{
		Order: 1, SourceSchema: "dbo", SourceTable: "Countries",
		TargetSchema: "dbo", TargetTable: "Countries",
		BatchColumn: "Code", IdentityMode: config.IdentityPreserve, ExistingDataAction: config.ActionAppend,
		SimpleMappings: []config.SimpleMapping{
			{SourceColumn: "Code", TargetColumn: "CountryCode"},
			{SourceColumn: "Name", TargetColumn: "CountryName"},
		},
	}
}

func TestValidateHappyPath(t *testing.T) {
	source := &fakeAdapter{
		exists:     true,
		columns:    []sources.ColumnInfo{{Name: "Code"}, {Name: "Name"}},
		rowCount:   2,
		columnUniq: map[string]bool{"Code": true},
		rows: []rowdata.Row{
			{"Code": rowdata.Text("US"), "Name": rowdata.Text("United States")},
		},
	}
	target := &fakeAdapter{
		exists:  true,
		columns: []sources.ColumnInfo{{Name: "CountryCode"}, {Name: "CountryName"}},
	}

	plan := config.MigrationPlan{
		MigrationName:    "Countries",
		SourceConnection: sources.ConnectionDescriptor{Provider: sources.ProviderMySql, Host: "src", User: "u", AuthMode: sources.AuthSqlAuth},
		TargetConnection: sources.ConnectionDescriptor{Provider: sources.ProviderSqlServer, Host: "tgt", User: "u", AuthMode: sources.AuthSqlAuth},
		Tables:           []config.TableJob{baseJob()},
	}

	v := &Validator{Source: source, Target: target, Ports: transform.DefaultPorts()}
	result := v.Validate(context.Background(), plan)

	require.True(t, result.IsValid)
	require.Len(t, result.Tables, 1)
	tv := result.Tables[0]
	assert.True(t, tv.IsValid)
	assert.Empty(t, tv.Errors)
	assert.EqualValues(t, 2, tv.SourceRowCount)
	require.Len(t, tv.SampleData, 1)
	assert.Equal(t, "United States", tv.SampleData[0].Transformed["CountryName"])
}

func TestValidateMissingTargetTable(t *testing.T) {
	source := &fakeAdapter{exists: true, columns: []sources.ColumnInfo{{Name: "Code"}, {Name: "Name"}}, columnUniq: map[string]bool{"Code": true}}
	target := &fakeAdapter{exists: false}

	plan := config.MigrationPlan{
		MigrationName:    "Countries",
		SourceConnection: sources.ConnectionDescriptor{Provider: sources.ProviderMySql, Host: "src", User: "u", AuthMode: sources.AuthSqlAuth},
		TargetConnection: sources.ConnectionDescriptor{Provider: sources.ProviderSqlServer, Host: "tgt", User: "u", AuthMode: sources.AuthSqlAuth},
		Tables:           []config.TableJob{baseJob()},
	}

	v := &Validator{Source: source, Target: target, Ports: transform.DefaultPorts()}
	result := v.Validate(context.Background(), plan)

	assert.False(t, result.IsValid)
	require.Len(t, result.Tables, 1)
	assert.False(t, result.Tables[0].IsValid)
	assert.NotEmpty(t, result.Tables[0].Errors)
}

func TestValidateWarnsOnNonUniqueBatchColumn(t *testing.T) {
	source := &fakeAdapter{
		exists:     true,
		columns:    []sources.ColumnInfo{{Name: "Code"}, {Name: "Name"}},
		columnUniq: map[string]bool{"Code": false},
	}
	target := &fakeAdapter{exists: true, columns: []sources.ColumnInfo{{Name: "CountryCode"}, {Name: "CountryName"}}}

	plan := config.MigrationPlan{
		MigrationName:    "Countries",
		SourceConnection: sources.ConnectionDescriptor{Provider: sources.ProviderMySql, Host: "src", User: "u", AuthMode: sources.AuthSqlAuth},
		TargetConnection: sources.ConnectionDescriptor{Provider: sources.ProviderSqlServer, Host: "tgt", User: "u", AuthMode: sources.AuthSqlAuth},
		Tables:           []config.TableJob{baseJob()},
	}

	v := &Validator{Source: source, Target: target, Ports: transform.DefaultPorts()}
	result := v.Validate(context.Background(), plan)

	require.Len(t, result.Tables, 1)
	found := false
	for _, w := range result.Tables[0].Warnings {
		if w != "" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateUnknownKeyLookupParentIsConfigurationError(t *testing.T) {
	job := baseJob()
	job.Transformations = []config.Transformation{
		{Kind: config.TransformKeyLookup, Target: "CountryCode", Source: "Code", KeyMapParentTable: "dbo.Nope"},
	}
	source := &fakeAdapter{exists: true, columns: []sources.ColumnInfo{{Name: "Code"}, {Name: "Name"}}, columnUniq: map[string]bool{"Code": true}}
	target := &fakeAdapter{exists: true, columns: []sources.ColumnInfo{{Name: "CountryCode"}, {Name: "CountryName"}}}

	plan := config.MigrationPlan{
		MigrationName:    "Countries",
		SourceConnection: sources.ConnectionDescriptor{Provider: sources.ProviderMySql, Host: "src", User: "u", AuthMode: sources.AuthSqlAuth},
		TargetConnection: sources.ConnectionDescriptor{Provider: sources.ProviderSqlServer, Host: "tgt", User: "u", AuthMode: sources.AuthSqlAuth},
		Tables:           []config.TableJob{job},
	}

	v := &Validator{Source: source, Target: target, Ports: transform.DefaultPorts()}
	result := v.Validate(context.Background(), plan)

	assert.False(t, result.IsValid)
	assert.NotEmpty(t, result.Configuration.Errors)
}
