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

// Package mysql implements the Driver Adapter for the MySql provider,
// dialing a user:pass@tcp(host:port)/db DSN over the MySQL wire protocol.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/dbmigrate/migrator/internal/sources"
	"github.com/dbmigrate/migrator/internal/sources/sqlcommon"
	"go.opentelemetry.io/otel/trace"
)

func init() {
	if !sources.Register(sources.ProviderMySql, open) {
		panic("provider MySql already registered")
	}
}

func open(ctx context.Context, tracer trace.Tracer, desc sources.ConnectionDescriptor) (sources.Adapter, error) {
	ctx, span := sources.InitConnectionSpan(ctx, tracer, desc.Provider, desc.Database)
	defer span.End()

	dsn, err := buildDSN(desc)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	return sqlcommon.NewAdapter(db, dialect{}, desc.QueryTimeout), nil
}

func buildDSN(desc sources.ConnectionDescriptor) (string, error) {
	if desc.AuthMode != sources.AuthSqlAuth && desc.AuthMode != "" {
		return "", fmt.Errorf("mysql: unsupported auth mode %q", desc.AuthMode)
	}
	if desc.Host == "" || desc.User == "" {
		return "", fmt.Errorf("mysql: host and user are required")
	}
	port := desc.Port
	if port == 0 {
		port = 3306
	}

	q := url.Values{}
	q.Set("parseTime", "true")
	for k, v := range desc.Extra {
		q.Set(k, v)
	}

	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s", desc.User, desc.Password, desc.Host, port, desc.Database, q.Encode()), nil
}

type dialect struct{}

func (dialect) Name() string { return "mysql" }

func (dialect) Quote(ident string) string { return "`" + strings.ReplaceAll(ident, "`", "``") + "`" }

func (d dialect) qualified(schema, table string) string {
	return sqlcommon.QuoteQualified(d, schema, table)
}

func (dialect) Placeholder(int) string { return "?" }

func (d dialect) ListColumnsQuery(schema, table string) (string, []any) {
	return `SELECT column_name, IF(extra LIKE '%auto_increment%', 1, 0)
FROM information_schema.columns
WHERE table_schema = ? AND table_name = ?
ORDER BY ordinal_position`, []any{schema, table}
}

func (d dialect) RowCountQuery(schema, table string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s", d.qualified(schema, table))
}

func (d dialect) DistinctCountQuery(schema, table, column string) string {
	return fmt.Sprintf("SELECT COUNT(DISTINCT %s) FROM %s", d.Quote(column), d.qualified(schema, table))
}

func (d dialect) TableExistsQuery(schema, table string) (string, []any) {
	return `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`, []any{schema, table}
}

func (d dialect) ReadBatchQuery(schema, table string, columns []string, batchColumn string, size int, hasAfter bool) string {
	cols := quoteAll(d, columns)
	where := ""
	if hasAfter {
		where = fmt.Sprintf("WHERE %s > ? ", d.Quote(batchColumn))
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
	// MySQL has no statement that disables a table's triggers, so this is a
	// no-op and the table's triggers stay active during the load.
	return "", false
}
func (d dialect) EnableTriggersStatement(schema, table string) (string, bool) { return "", false }

func (dialect) DisableAllConstraintsStatements() []string {
	return []string{"SET FOREIGN_KEY_CHECKS=0"}
}

func (dialect) EnableAllConstraintsStatements() []string {
	return []string{"SET FOREIGN_KEY_CHECKS=1"}
}

// MySQL has no identity-insert toggle: AUTO_INCREMENT columns accept
// explicit values by default.
func (dialect) SetIdentityInsertStatement(schema, table string, on bool) (string, bool) {
	return "", false
}

func (d dialect) InsertOneStatement(schema, table string, columns []string, returnIdentity bool, identityColumn string) string {
	cols := quoteAll(d, columns)
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.qualified(schema, table), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
}

func (d dialect) BulkInsertStatement(schema, table string, columns []string, rowCount int) string {
	cols := quoteAll(d, columns)
	rowPlaceholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	rowsSQL := make([]string, rowCount)
	for r := range rowsSQL {
		rowsSQL[r] = rowPlaceholder
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", d.qualified(schema, table), strings.Join(cols, ", "), strings.Join(rowsSQL, ", "))
}

func (dialect) IdentityReturnMode() sqlcommon.IdentityReturnMode {
	return sqlcommon.IdentityReturnLastInsertID
}

func (dialect) KeyColumnType() string { return "VARCHAR(450)" }

func (dialect) ListTablesQuery() string {
	return `SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE()`
}

func (d dialect) CreateKeyMapTableStatements(table string) []string {
	q := d.Quote(table)
	return []string{
		fmt.Sprintf(`CREATE TABLE %s (oldKey %s NOT NULL PRIMARY KEY, newKey %s NOT NULL, INDEX (newKey))`, q, d.KeyColumnType(), d.KeyColumnType()),
	}
}

func (d dialect) DropTableStatement(table string) string {
	return fmt.Sprintf("DROP TABLE %s", d.Quote(table))
}

func (d dialect) InsertKeyMapStatement(table string, rowCount int) string {
	rowsSQL := make([]string, rowCount)
	for r := range rowsSQL {
		rowsSQL[r] = "(?, ?)"
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
