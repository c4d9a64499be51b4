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

// Package sqlserver implements the Driver Adapter for SqlServer and
// AzureSql: the two providers share a wire protocol and dialect grammar,
// differing only in how credentials are supplied (Azure SQL additionally
// accepts InteractiveBrowser and CliDelegated auth via the driver's fedauth
// DSN parameter).
package sqlserver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/dbmigrate/migrator/internal/sources"
	"github.com/dbmigrate/migrator/internal/sources/sqlcommon"
	"go.opentelemetry.io/otel/trace"
)

func init() {
	if !sources.Register(sources.ProviderSqlServer, open) {
		panic("provider SqlServer already registered")
	}
	if !sources.Register(sources.ProviderAzureSql, open) {
		panic("provider AzureSql already registered")
	}
}

func open(ctx context.Context, tracer trace.Tracer, desc sources.ConnectionDescriptor) (sources.Adapter, error) {
	ctx, span := sources.InitConnectionSpan(ctx, tracer, desc.Provider, desc.Database)
	defer span.End()

	dsn, err := buildDSN(desc)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlserver: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlserver: ping: %w", err)
	}
	return sqlcommon.NewAdapter(db, dialect{}, desc.QueryTimeout), nil
}

// buildDSN builds a go-mssqldb URL-style DSN. Azure SQL's InteractiveBrowser
// and CliDelegated auth modes are carried through the driver's native
// `fedauth` query parameter rather than the separate azuread subpackage, so
// no additional MSAL dependency is required.
func buildDSN(desc sources.ConnectionDescriptor) (string, error) {
	if desc.Host == "" {
		return "", fmt.Errorf("sqlserver: host is required")
	}
	host := desc.Host
	if desc.Port != 0 {
		host = fmt.Sprintf("%s:%d", desc.Host, desc.Port)
	}

	params := []string{}
	if desc.Database != "" {
		params = append(params, "database="+desc.Database)
	}
	if desc.TrustServerCertificate {
		params = append(params, "trustservercertificate=true")
	}

	switch desc.AuthMode {
	case sources.AuthSqlAuth, "":
		if desc.User == "" || desc.Password == "" {
			return "", fmt.Errorf("sqlserver: user and password are required for SqlAuth")
		}
		return fmt.Sprintf("sqlserver://%s:%s@%s?%s", desc.User, desc.Password, host, strings.Join(params, "&")), nil
	case sources.AuthWindowsAuth:
		params = append(params, "integrated security=sspi")
		return fmt.Sprintf("sqlserver://%s?%s", host, strings.Join(params, "&")), nil
	case sources.AuthInteractiveBrowser:
		params = append(params, "fedauth=ActiveDirectoryInteractive")
		if desc.User != "" {
			params = append(params, "user id="+desc.User)
		}
		return fmt.Sprintf("sqlserver://%s?%s", host, strings.Join(params, "&")), nil
	case sources.AuthCliDelegated:
		params = append(params, "fedauth=ActiveDirectoryAzCli")
		return fmt.Sprintf("sqlserver://%s?%s", host, strings.Join(params, "&")), nil
	default:
		return "", fmt.Errorf("sqlserver: unsupported auth mode %q", desc.AuthMode)
	}
}

type dialect struct{}

func (dialect) Name() string { return "sqlserver" }

func (dialect) Quote(ident string) string { return "[" + strings.ReplaceAll(ident, "]", "]]") + "]" }

func (d dialect) qualified(schema, table string) string {
	return sqlcommon.QuoteQualified(d, schema, table)
}

func (dialect) Placeholder(pos int) string { return fmt.Sprintf("@p%d", pos) }

func (d dialect) ListColumnsQuery(schema, table string) (string, []any) {
	return `SELECT c.name, CAST(c.is_identity AS BIT)
FROM sys.columns c
JOIN sys.tables t ON t.object_id = c.object_id
JOIN sys.schemas s ON s.schema_id = t.schema_id
WHERE s.name = @p1 AND t.name = @p2
ORDER BY c.column_id`, []any{schemaOrDefault(schema), table}
}

func schemaOrDefault(schema string) string {
	if schema == "" {
		return "dbo"
	}
	return schema
}

func (d dialect) RowCountQuery(schema, table string) string {
	return fmt.Sprintf("SELECT COUNT_BIG(*) FROM %s", d.qualified(schema, table))
}

func (d dialect) DistinctCountQuery(schema, table, column string) string {
	return fmt.Sprintf("SELECT COUNT_BIG(DISTINCT %s) FROM %s", d.Quote(column), d.qualified(schema, table))
}

func (d dialect) TableExistsQuery(schema, table string) (string, []any) {
	return `SELECT COUNT(*) FROM sys.tables t JOIN sys.schemas s ON s.schema_id = t.schema_id
WHERE s.name = @p1 AND t.name = @p2`, []any{schemaOrDefault(schema), table}
}

func (d dialect) ReadBatchQuery(schema, table string, columns []string, batchColumn string, size int, hasAfter bool) string {
	cols := quoteAll(d, columns)
	top := ""
	if size > 0 {
		top = fmt.Sprintf("TOP %d ", size)
	}
	where := ""
	if hasAfter {
		where = fmt.Sprintf("WHERE %s > @p1 ", d.Quote(batchColumn))
	}
	return fmt.Sprintf("SELECT %s%s FROM %s %sORDER BY %s ASC", top, strings.Join(cols, ", "), d.qualified(schema, table), where, d.Quote(batchColumn))
}

func (d dialect) TruncateStatement(schema, table string) string {
	return fmt.Sprintf("TRUNCATE TABLE %s", d.qualified(schema, table))
}

func (d dialect) DeleteAllStatement(schema, table string) string {
	return fmt.Sprintf("DELETE FROM %s", d.qualified(schema, table))
}

func (d dialect) DisableTriggersStatement(schema, table string) (string, bool) {
	return fmt.Sprintf("DISABLE TRIGGER ALL ON %s", d.qualified(schema, table)), true
}

func (d dialect) EnableTriggersStatement(schema, table string) (string, bool) {
	return fmt.Sprintf("ENABLE TRIGGER ALL ON %s", d.qualified(schema, table)), true
}

func (dialect) DisableAllConstraintsStatements() []string {
	return []string{"EXEC sp_msforeachtable \"ALTER TABLE ? NOCHECK CONSTRAINT ALL\""}
}

func (dialect) EnableAllConstraintsStatements() []string {
	return []string{"EXEC sp_msforeachtable \"ALTER TABLE ? WITH CHECK CHECK CONSTRAINT ALL\""}
}

func (d dialect) SetIdentityInsertStatement(schema, table string, on bool) (string, bool) {
	state := "OFF"
	if on {
		state = "ON"
	}
	return fmt.Sprintf("SET IDENTITY_INSERT %s %s", d.qualified(schema, table), state), true
}

func (d dialect) InsertOneStatement(schema, table string, columns []string, returnIdentity bool, identityColumn string) string {
	cols := quoteAll(d, columns)
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = d.Placeholder(i + 1)
	}
	output := ""
	if returnIdentity && identityColumn != "" {
		output = fmt.Sprintf("OUTPUT CAST(INSERTED.%s AS NVARCHAR(450)) ", d.Quote(identityColumn))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) %sVALUES (%s)", d.qualified(schema, table), strings.Join(cols, ", "), output, strings.Join(placeholders, ", "))
}

func (d dialect) BulkInsertStatement(schema, table string, columns []string, rowCount int) string {
	cols := quoteAll(d, columns)
	rowsSQL := make([]string, rowCount)
	pos := 1
	for r := 0; r < rowCount; r++ {
		ph := make([]string, len(columns))
		for c := range columns {
			ph[c] = d.Placeholder(pos)
			pos++
		}
		rowsSQL[r] = "(" + strings.Join(ph, ", ") + ")"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", d.qualified(schema, table), strings.Join(cols, ", "), strings.Join(rowsSQL, ", "))
}

func (dialect) IdentityReturnMode() sqlcommon.IdentityReturnMode {
	return sqlcommon.IdentityReturnClause
}

func (dialect) KeyColumnType() string { return "NVARCHAR(450)" }

func (dialect) ListTablesQuery() string {
	return `SELECT t.name FROM sys.tables t JOIN sys.schemas s ON s.schema_id = t.schema_id WHERE s.name = 'dbo'`
}

func (d dialect) CreateKeyMapTableStatements(table string) []string {
	q := d.Quote(table)
	return []string{
		fmt.Sprintf(`CREATE TABLE %s (oldKey %s NOT NULL PRIMARY KEY, newKey %s NOT NULL)`, q, d.KeyColumnType(), d.KeyColumnType()),
		fmt.Sprintf(`CREATE INDEX %s ON %s(newKey)`, d.Quote("ix_"+table+"_newkey"), q),
	}
}

func (d dialect) DropTableStatement(table string) string {
	return fmt.Sprintf("DROP TABLE %s", d.Quote(table))
}

func (d dialect) InsertKeyMapStatement(table string, rowCount int) string {
	rowsSQL := make([]string, rowCount)
	pos := 1
	for r := 0; r < rowCount; r++ {
		rowsSQL[r] = fmt.Sprintf("(%s, %s)", d.Placeholder(pos), d.Placeholder(pos+1))
		pos += 2
	}
	return fmt.Sprintf("INSERT INTO %s (oldKey, newKey) VALUES %s", d.Quote(table), strings.Join(rowsSQL, ", "))
}

func quoteAll(d interface{ Quote(string) string }, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = d.Quote(n)
	}
	return out
}
