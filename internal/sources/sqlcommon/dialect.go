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

// Package sqlcommon provides the generic Adapter implementation shared by
// every SQL dialect package, parameterized by a Dialect strategy that
// supplies the SQL text that differs across SqlServer/Oracle/MySql/
// PostgreSql (pagination grammar, quoting, parameter placeholders, and the
// handful of DDL operations the Table Migrator needs scoped per table).
package sqlcommon

import "fmt"

// IdentityReturnMode names how a dialect surfaces a generated identity
// value from a single-row insert.
type IdentityReturnMode int

const (
	// IdentityReturnNone means the insert never reports a generated value.
	IdentityReturnNone IdentityReturnMode = iota
	// IdentityReturnClause means InsertOneStatement embeds an OUTPUT/
	// RETURNING clause and the generated value is the sole column of the
	// single row the statement's query yields.
	IdentityReturnClause
	// IdentityReturnLastInsertID means the driver's sql.Result.LastInsertId
	// reports the generated value after a plain Exec.
	IdentityReturnLastInsertID
)

// Dialect supplies the SQL text that differs between backends. A dialect
// package constructs one of these plus a *sql.DB and calls NewAdapter.
type Dialect interface {
	// Name is the provider name used in error messages and span attributes.
	Name() string

	// Quote returns an identifier quoted the dialect's way.
	Quote(ident string) string

	// Placeholder returns the parameter marker for the n-th (1-based)
	// bound parameter in a statement (e.g. "?", "$1", "@p1", ":1").
	Placeholder(pos int) string

	// ListColumnsQuery returns a query yielding one row per column of
	// schema.table with two result columns: column name, is-identity (0/1).
	ListColumnsQuery(schema, table string) (query string, args []any)

	// RowCountQuery returns a `SELECT COUNT(*) ...` for schema.table.
	RowCountQuery(schema, table string) string

	// TableExistsQuery returns a query yielding one row with a single
	// count column, non-zero if schema.table exists and zero otherwise.
	TableExistsQuery(schema, table string) (query string, args []any)

	// DistinctCountQuery returns a `SELECT COUNT(DISTINCT column) ...` for
	// schema.table, used to check batch-column uniqueness.
	DistinctCountQuery(schema, table, column string) string

	// ReadBatchQuery returns the paginated SELECT:
	// ascending by batchColumn, strictly greater than the bound parameter
	// when hasAfter is true, limited to size rows. size == 0 means read
	// the whole table unpaginated (no LIMIT/TOP/FETCH clause at all).
	ReadBatchQuery(schema, table string, columns []string, batchColumn string, size int, hasAfter bool) string

	// TruncateStatement / DeleteAllStatement empty a table; the Table
	// Migrator falls back from the first to the second on failure.
	TruncateStatement(schema, table string) string
	DeleteAllStatement(schema, table string) string

	// DisableTriggersStatement / EnableTriggersStatement toggle triggers
	// scoped to one table. ok is false when the dialect has no table-scoped
	// trigger toggle (the caller then treats it as a no-op).
	DisableTriggersStatement(schema, table string) (stmt string, ok bool)
	EnableTriggersStatement(schema, table string) (stmt string, ok bool)

	// DisableAllConstraintsStatements / EnableAllConstraintsStatements
	// toggle referential integrity enforcement database-wide for the
	// duration of a run.
	DisableAllConstraintsStatements() []string
	EnableAllConstraintsStatements() []string

	// SetIdentityInsertStatement toggles explicit-identity-insert mode for
	// one table. ok is false when the dialect has no such concept and
	// explicit identity values are always accepted (e.g. MySQL, Postgres).
	SetIdentityInsertStatement(schema, table string, on bool) (stmt string, ok bool)

	// InsertOneStatement builds an INSERT for a single row. When
	// returnIdentity is true and identityColumn is non-empty, the returned
	// query must make the generated identity value retrievable the way
	// Adapter.InsertOne expects for this dialect's IdentityReturnMode.
	InsertOneStatement(schema, table string, columns []string, returnIdentity bool, identityColumn string) string

	// BulkInsertStatement builds a multi-row INSERT for rowCount rows.
	BulkInsertStatement(schema, table string, columns []string, rowCount int) string

	// IdentityReturnMode reports how this dialect surfaces a generated
	// identity value; see the constants above.
	IdentityReturnMode() IdentityReturnMode

	// KeyColumnType is the column type used for both columns of a key-map
	// table (at least 450 characters of text on both columns).
	KeyColumnType() string

	// ListTablesQuery returns every table name visible in the connection's
	// default schema/database, one name per row, no filtering.
	ListTablesQuery() string

	// CreateKeyMapTableStatements builds the DDL (possibly more than one
	// statement, e.g. table then index) for a key-map table named table.
	CreateKeyMapTableStatements(table string) []string

	// DropTableStatement drops table unconditionally.
	DropTableStatement(table string) string

	// InsertKeyMapStatement builds a multi-row INSERT of rowCount (oldKey,
	// newKey) pairs into table.
	InsertKeyMapStatement(table string, rowCount int) string
}

// QuoteQualified quotes a schema.table pair using dialect's Quote, omitting
// the schema segment when schema is empty.
func QuoteQualified(d Dialect, schema, table string) string {
	if schema == "" {
		return d.Quote(table)
	}
	return fmt.Sprintf("%s.%s", d.Quote(schema), d.Quote(table))
}
