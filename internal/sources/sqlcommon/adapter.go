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
package sqlcommon

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dbmigrate/migrator/internal/rowdata"
	"github.com/dbmigrate/migrator/internal/sources"
)

// Adapter is the database/sql-backed implementation of sources.Adapter,
// generic over the SQL text a Dialect supplies.
type Adapter struct {
	DB      *sql.DB
	Dialect Dialect
	// Timeout bounds every statement the adapter runs; zero means no bound.
	Timeout time.Duration
}

// NewAdapter wires a live connection to the dialect's SQL grammar.
func NewAdapter(db *sql.DB, dialect Dialect, timeout time.Duration) *Adapter {
	return &Adapter{DB: db, Dialect: dialect, Timeout: timeout}
}

var _ sources.Adapter = (*Adapter)(nil)

func (a *Adapter) Close() error { return a.DB.Close() }

// opCtx derives the per-statement context carrying the configured query
// timeout. The returned cancel must run once the statement (and any row
// iteration) has finished.
func (a *Adapter) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.Timeout)
}

func (a *Adapter) ListColumns(ctx context.Context, schema, table string) ([]sources.ColumnInfo, error) {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	query, args := a.Dialect.ListColumnsQuery(schema, table)
	rows, err := a.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: list columns %s.%s: %w", a.Dialect.Name(), schema, table, err)
	}
	defer rows.Close()

	var out []sources.ColumnInfo
	for rows.Next() {
		var name string
		var isIdentity bool
		if err := rows.Scan(&name, &isIdentity); err != nil {
			return nil, fmt.Errorf("%s: scan column row: %w", a.Dialect.Name(), err)
		}
		out = append(out, sources.ColumnInfo{Name: name, IsIdentity: isIdentity})
	}
	return out, rows.Err()
}

func (a *Adapter) IdentityColumn(ctx context.Context, schema, table string) (string, bool, error) {
	cols, err := a.ListColumns(ctx, schema, table)
	if err != nil {
		return "", false, err
	}
	for _, c := range cols {
		if c.IsIdentity {
			return c.Name, true, nil
		}
	}
	return "", false, nil
}

func (a *Adapter) RowCount(ctx context.Context, schema, table string) (int64, error) {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	var n int64
	err := a.DB.QueryRowContext(ctx, a.Dialect.RowCountQuery(schema, table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%s: row count %s.%s: %w", a.Dialect.Name(), schema, table, err)
	}
	return n, nil
}

func (a *Adapter) TableExists(ctx context.Context, schema, table string) (bool, error) {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	query, args := a.Dialect.TableExistsQuery(schema, table)
	var n int64
	if err := a.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("%s: table exists %s.%s: %w", a.Dialect.Name(), schema, table, err)
	}
	return n > 0, nil
}

func (a *Adapter) IsColumnUnique(ctx context.Context, schema, table, column string) (bool, error) {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	var total, distinct int64
	if err := a.DB.QueryRowContext(ctx, a.Dialect.RowCountQuery(schema, table)).Scan(&total); err != nil {
		return false, fmt.Errorf("%s: row count %s.%s: %w", a.Dialect.Name(), schema, table, err)
	}
	if err := a.DB.QueryRowContext(ctx, a.Dialect.DistinctCountQuery(schema, table, column)).Scan(&distinct); err != nil {
		return false, fmt.Errorf("%s: distinct count %s.%s.%s: %w", a.Dialect.Name(), schema, table, column, err)
	}
	return total == distinct, nil
}

func (a *Adapter) ReadBatch(ctx context.Context, schema, table, batchColumn string, size int, after *rowdata.Value) ([]rowdata.Row, error) {
	cols, err := a.ListColumns(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}

	query := a.Dialect.ReadBatchQuery(schema, table, names, batchColumn, size, after != nil)

	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	var rows *sql.Rows
	if after != nil {
		rows, err = a.DB.QueryContext(ctx, query, after.AsText())
	} else {
		rows, err = a.DB.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: read batch %s.%s: %w", a.Dialect.Name(), schema, table, err)
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("%s: column types %s.%s: %w", a.Dialect.Name(), schema, table, err)
	}

	var out []rowdata.Row
	for rows.Next() {
		scanTargets := make([]any, len(colTypes))
		raw := make([]sql.NullString, len(colTypes))
		rawBytes := make([][]byte, len(colTypes))
		for i, ct := range colTypes {
			if isBinaryDBType(ct.DatabaseTypeName()) {
				scanTargets[i] = &rawBytes[i]
			} else {
				scanTargets[i] = &raw[i]
			}
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("%s: scan row %s.%s: %w", a.Dialect.Name(), schema, table, err)
		}
		row := make(rowdata.Row, len(colTypes))
		for i, ct := range colTypes {
			name := ct.Name()
			if isBinaryDBType(ct.DatabaseTypeName()) {
				if rawBytes[i] == nil {
					row[name] = rowdata.Null()
				} else {
					row[name] = rowdata.Bytes(rawBytes[i])
				}
				continue
			}
			if !raw[i].Valid {
				row[name] = rowdata.Null()
				continue
			}
			row[name] = valueFromDBType(ct.DatabaseTypeName(), raw[i].String)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func isBinaryDBType(dbType string) bool {
	switch strings.ToUpper(dbType) {
	case "VARBINARY", "BINARY", "IMAGE", "BLOB", "BYTEA", "RAW", "LONG RAW":
		return true
	default:
		return false
	}
}

// valueFromDBType converts a textual column value into the tagged Value
// kind the column's reported database type implies. It errs toward Text
// when a dialect's type name is unrecognized, which keeps ingestion total
// (the Transform Evaluator can still coerce text) rather than lossy.
func valueFromDBType(dbType, text string) rowdata.Value {
	switch strings.ToUpper(dbType) {
	case "INT", "INTEGER", "BIGINT", "SMALLINT", "TINYINT", "INT4", "INT8", "INT2", "NUMBER":
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return rowdata.Int(n)
		}
		return rowdata.Decimal(text)
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY", "FLOAT", "REAL", "DOUBLE", "DOUBLE PRECISION":
		return rowdata.Decimal(text)
	case "BIT", "BOOL", "BOOLEAN":
		return rowdata.Bool(text == "1" || strings.EqualFold(text, "true") || strings.EqualFold(text, "t"))
	case "DATETIME", "DATETIME2", "SMALLDATETIME", "DATE", "TIMESTAMP", "TIMESTAMPTZ", "TIME":
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05.999999999", "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, text); err == nil {
				return rowdata.DateTime(t)
			}
		}
		return rowdata.Text(text)
	case "UNIQUEIDENTIFIER", "UUID":
		return rowdata.UUID(text)
	default:
		return rowdata.Text(text)
	}
}

func (a *Adapter) ExecNonQuery(ctx context.Context, query string, params ...any) error {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	if _, err := a.DB.ExecContext(ctx, query, params...); err != nil {
		return fmt.Errorf("%s: exec %q: %w", a.Dialect.Name(), query, err)
	}
	return nil
}

func (a *Adapter) InsertOne(ctx context.Context, schema, table string, row rowdata.Row, columns []string, identityColumn string, returnIdentity bool) (string, error) {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	args := make([]any, len(columns))
	for i, c := range columns {
		args[i] = toDriverValue(row[c])
	}

	stmt := a.Dialect.InsertOneStatement(schema, table, columns, returnIdentity, identityColumn)

	switch {
	case returnIdentity && a.Dialect.IdentityReturnMode() == IdentityReturnClause:
		var newKey string
		if err := a.DB.QueryRowContext(ctx, stmt, args...).Scan(&newKey); err != nil {
			return "", fmt.Errorf("%s: insert-returning %s.%s: %w", a.Dialect.Name(), schema, table, err)
		}
		return newKey, nil
	case returnIdentity && a.Dialect.IdentityReturnMode() == IdentityReturnLastInsertID:
		res, err := a.DB.ExecContext(ctx, stmt, args...)
		if err != nil {
			return "", fmt.Errorf("%s: insert %s.%s: %w", a.Dialect.Name(), schema, table, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return "", fmt.Errorf("%s: last insert id %s.%s: %w", a.Dialect.Name(), schema, table, err)
		}
		return strconv.FormatInt(id, 10), nil
	default:
		if _, err := a.DB.ExecContext(ctx, stmt, args...); err != nil {
			return "", fmt.Errorf("%s: insert %s.%s: %w", a.Dialect.Name(), schema, table, err)
		}
		return "", nil
	}
}

func (a *Adapter) BulkInsert(ctx context.Context, schema, table string, columns []string, rows []rowdata.Row) error {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	if len(rows) == 0 {
		return nil
	}
	stmt := a.Dialect.BulkInsertStatement(schema, table, columns, len(rows))
	args := make([]any, 0, len(columns)*len(rows))
	for _, row := range rows {
		for _, c := range columns {
			args = append(args, toDriverValue(row[c]))
		}
	}
	if _, err := a.DB.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("%s: bulk insert %s.%s (%d rows): %w", a.Dialect.Name(), schema, table, len(rows), err)
	}
	return nil
}

func toDriverValue(v rowdata.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case rowdata.KindInt:
		return v.Int()
	case rowdata.KindBool:
		return v.Bool()
	case rowdata.KindDateTime:
		return v.Time()
	case rowdata.KindBytes:
		return v.ByteSlice()
	default:
		return v.AsText()
	}
}

func (a *Adapter) SetIdentityInsert(ctx context.Context, schema, table string, on bool) error {
	stmt, ok := a.Dialect.SetIdentityInsertStatement(schema, table, on)
	if !ok {
		return nil
	}
	return a.ExecNonQuery(ctx, stmt)
}

func (a *Adapter) DisableTriggers(ctx context.Context, schema, table string) error {
	stmt, ok := a.Dialect.DisableTriggersStatement(schema, table)
	if !ok {
		return nil
	}
	return a.ExecNonQuery(ctx, stmt)
}

func (a *Adapter) EnableTriggers(ctx context.Context, schema, table string) error {
	stmt, ok := a.Dialect.EnableTriggersStatement(schema, table)
	if !ok {
		return nil
	}
	return a.ExecNonQuery(ctx, stmt)
}

func (a *Adapter) DisableAllConstraints(ctx context.Context) error {
	for _, stmt := range a.Dialect.DisableAllConstraintsStatements() {
		if err := a.ExecNonQuery(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) EnableAllConstraints(ctx context.Context) error {
	for _, stmt := range a.Dialect.EnableAllConstraintsStatements() {
		if err := a.ExecNonQuery(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) TruncateTable(ctx context.Context, schema, table string) error {
	return a.ExecNonQuery(ctx, a.Dialect.TruncateStatement(schema, table))
}

func (a *Adapter) DeleteAllRows(ctx context.Context, schema, table string) error {
	return a.ExecNonQuery(ctx, a.Dialect.DeleteAllStatement(schema, table))
}

func (a *Adapter) CreateKeyMapTable(ctx context.Context, table string) error {
	for _, stmt := range a.Dialect.CreateKeyMapTableStatements(table) {
		if err := a.ExecNonQuery(ctx, stmt); err != nil {
			return fmt.Errorf("%s: create key-map table %s: %w", a.Dialect.Name(), table, err)
		}
	}
	return nil
}

func (a *Adapter) DropKeyMapTable(ctx context.Context, table string) error {
	exists, err := a.TableExists(ctx, "", table)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return a.ExecNonQuery(ctx, a.Dialect.DropTableStatement(table))
}

func (a *Adapter) ListTablesWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	rows, err := a.DB.QueryContext(ctx, a.Dialect.ListTablesQuery())
	if err != nil {
		return nil, fmt.Errorf("%s: list tables: %w", a.Dialect.Name(), err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%s: scan table name: %w", a.Dialect.Name(), err)
		}
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	return out, rows.Err()
}

const keyMapInsertChunkSize = 1000

func (a *Adapter) InsertKeyMapPairs(ctx context.Context, table string, pairs []sources.KeyPair) error {
	for start := 0; start < len(pairs); start += keyMapInsertChunkSize {
		end := start + keyMapInsertChunkSize
		if end > len(pairs) {
			end = len(pairs)
		}
		chunk := pairs[start:end]
		stmt := a.Dialect.InsertKeyMapStatement(table, len(chunk))
		args := make([]any, 0, len(chunk)*2)
		for _, p := range chunk {
			args = append(args, p.OldKey, p.NewKey)
		}
		chunkCtx, cancel := a.opCtx(ctx)
		_, err := a.DB.ExecContext(chunkCtx, stmt, args...)
		cancel()
		if err != nil {
			return fmt.Errorf("%s: insert key-map pairs into %s: %w", a.Dialect.Name(), table, err)
		}
	}
	return nil
}

func (a *Adapter) LoadKeyMapTable(ctx context.Context, table string) (map[string]string, error) {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	query := fmt.Sprintf("SELECT oldKey, newKey FROM %s", a.Dialect.Quote(table))
	rows, err := a.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: load key-map table %s: %w", a.Dialect.Name(), table, err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var oldKey, newKey string
		if err := rows.Scan(&oldKey, &newKey); err != nil {
			return nil, fmt.Errorf("%s: scan key-map row %s: %w", a.Dialect.Name(), table, err)
		}
		out[oldKey] = newKey
	}
	return out, rows.Err()
}
