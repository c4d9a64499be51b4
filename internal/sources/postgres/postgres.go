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

// Package postgres implements the Driver Adapter for the PostgreSql
// provider, dialed through pgx/v5's database/sql-compatible stdlib
// adapter so the rest of the engine only ever deals in *sql.DB.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dbmigrate/migrator/internal/sources"
	"github.com/dbmigrate/migrator/internal/sources/sqlcommon"
	"go.opentelemetry.io/otel/trace"
)

func init() {
	if !sources.Register(sources.ProviderPostgreSql, open) {
		panic("provider PostgreSql already registered")
	}
}

func open(ctx context.Context, tracer trace.Tracer, desc sources.ConnectionDescriptor) (sources.Adapter, error) {
	ctx, span := sources.InitConnectionSpan(ctx, tracer, desc.Provider, desc.Database)
	defer span.End()

	dsn, err := buildDSN(desc)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return sqlcommon.NewAdapter(db, dialect{}, desc.QueryTimeout), nil
}

func buildDSN(desc sources.ConnectionDescriptor) (string, error) {
	if desc.AuthMode != sources.AuthSqlAuth && desc.AuthMode != "" {
		return "", fmt.Errorf("postgres: unsupported auth mode %q", desc.AuthMode)
	}
	if desc.Host == "" || desc.User == "" {
		return "", fmt.Errorf("postgres: host and user are required")
	}
	port := desc.Port
	if port == 0 {
		port = 5432
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(desc.User, desc.Password),
		Host:   fmt.Sprintf("%s:%d", desc.Host, port),
		Path:   "/" + desc.Database,
	}
	q := url.Values{}
	for k, v := range desc.Extra {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type dialect struct{}

func (dialect) Name() string { return "postgres" }

func (dialect) Quote(ident string) string { return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"` }

func (d dialect) qualified(schema, table string) string {
	return sqlcommon.QuoteQualified(d, schema, table)
}

func (dialect) Placeholder(pos int) string { return fmt.Sprintf("$%d", pos) }

func (d dialect) ListColumnsQuery(schema, table string) (string, []any) {
	return `SELECT c.column_name,
  COALESCE(c.column_default LIKE 'nextval%', false) OR c.is_identity = 'YES'
FROM information_schema.columns c
WHERE c.table_schema = $1 AND c.table_name = $2
ORDER BY c.ordinal_position`, []any{schemaOrDefault(schema), table}
}

func schemaOrDefault(schema string) string {
	if schema == "" {
		return "public"
	}
	return schema
}

func (d dialect) RowCountQuery(schema, table string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s", d.qualified(schema, table))
}

func (d dialect) DistinctCountQuery(schema, table, column string) string {
	return fmt.Sprintf("SELECT COUNT(DISTINCT %s) FROM %s", d.Quote(column), d.qualified(schema, table))
}

func (d dialect) TableExistsQuery(schema, table string) (string, []any) {
	return `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2`, []any{schemaOrDefault(schema), table}
}

func (d dialect) ReadBatchQuery(schema, table string, columns []string, batchColumn string, size int, hasAfter bool) string {
	cols := quoteAll(d, columns)
	where := ""
	if hasAfter {
		where = fmt.Sprintf("WHERE %s > $1 ", d.Quote(batchColumn))
	}
	limit := ""
	if size > 0 {
		limit = fmt.Sprintf(" LIMIT %d", size)
	}
	return fmt.Sprintf("SELECT %s FROM %s %sORDER BY %s ASC%s", strings.Join(cols, ", "), d.qualified(schema, table), where, d.Quote(batchColumn), limit)
}

func (d dialect) TruncateStatement(schema, table string) string {
	return fmt.Sprintf("TRUNCATE TABLE %s", d.qualified(schema, table))
}

func (d dialect) DeleteAllStatement(schema, table string) string {
	return fmt.Sprintf("DELETE FROM %s", d.qualified(schema, table))
}

func (d dialect) DisableTriggersStatement(schema, table string) (string, bool) {
	return fmt.Sprintf("ALTER TABLE %s DISABLE TRIGGER ALL", d.qualified(schema, table)), true
}

func (d dialect) EnableTriggersStatement(schema, table string) (string, bool) {
	return fmt.Sprintf("ALTER TABLE %s ENABLE TRIGGER ALL", d.qualified(schema, table)), true
}

func (dialect) DisableAllConstraintsStatements() []string {
	return []string{"SET session_replication_role = 'replica'"}
}

func (dialect) EnableAllConstraintsStatements() []string {
	return []string{"SET session_replication_role = 'origin'"}
}

// Postgres has no identity-insert toggle: GENERATED ... BY DEFAULT AS
// IDENTITY and serial columns both accept explicit values by default (only
// GENERATED ALWAYS rejects them, which this engine does not target).
func (dialect) SetIdentityInsertStatement(schema, table string, on bool) (string, bool) {
	return "", false
}

func (d dialect) InsertOneStatement(schema, table string, columns []string, returnIdentity bool, identityColumn string) string {
	cols := quoteAll(d, columns)
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = d.Placeholder(i + 1)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.qualified(schema, table), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if returnIdentity && identityColumn != "" {
		stmt += fmt.Sprintf(" RETURNING %s", d.Quote(identityColumn))
	}
	return stmt
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

func (dialect) KeyColumnType() string { return "VARCHAR(450)" }

func (dialect) ListTablesQuery() string {
	return `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema()`
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
