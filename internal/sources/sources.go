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

// Package sources defines the Driver Adapter: a narrow interface presented
// to the rest of the engine over whichever SQL dialect a connection
// descriptor names, plus the registry that dialect packages register
// themselves into via their init() functions.
package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/dbmigrate/migrator/internal/rowdata"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Provider identifies a supported database kind.
type Provider string

const (
	ProviderSqlServer  Provider = "SqlServer"
	ProviderAzureSql   Provider = "AzureSql"
	ProviderOracle     Provider = "Oracle"
	ProviderMySql      Provider = "MySql"
	ProviderPostgreSql Provider = "PostgreSql"
)

// AuthMode identifies how credentials are supplied for a connection.
type AuthMode string

const (
	AuthSqlAuth            AuthMode = "SqlAuth"
	AuthWindowsAuth        AuthMode = "WindowsAuth"
	AuthInteractiveBrowser AuthMode = "InteractiveBrowser"
	AuthCliDelegated       AuthMode = "CliDelegated"
)

// validAuthModes enumerates, per provider, the recognized auth modes;
// anything else must fail loudly rather than silently falling back.
var validAuthModes = map[Provider]map[AuthMode]bool{
	ProviderSqlServer:  {AuthSqlAuth: true, AuthWindowsAuth: true},
	ProviderAzureSql:   {AuthSqlAuth: true, AuthInteractiveBrowser: true, AuthCliDelegated: true},
	ProviderOracle:     {AuthSqlAuth: true},
	ProviderMySql:      {AuthSqlAuth: true},
	ProviderPostgreSql: {AuthSqlAuth: true},
}

// ValidateAuthMode reports whether mode is a recognized auth mode for provider.
func ValidateAuthMode(provider Provider, mode AuthMode) error {
	modes, ok := validAuthModes[provider]
	if !ok {
		return fmt.Errorf("unknown provider %q", provider)
	}
	if !modes[mode] {
		return fmt.Errorf("auth mode %q is not supported for provider %q", mode, provider)
	}
	return nil
}

// ConnectionDescriptor is the external-facing description of one endpoint
// (source or target), as loaded by the Config Model from XML.
type ConnectionDescriptor struct {
	Provider               Provider
	Host                   string
	Port                   int
	Database               string
	AuthMode               AuthMode
	User                   string
	Password               string
	TrustServerCertificate bool
	// QueryTimeout bounds every statement executed over this connection;
	// zero means no bound.
	QueryTimeout time.Duration
	// Extra carries dialect-specific overrides (TNS alias, query params, ...)
	// so the common descriptor does not need a field per dialect quirk.
	Extra map[string]string
}

// ColumnInfo describes one column of an introspected table.
type ColumnInfo struct {
	Name       string
	IsIdentity bool
}

// KeyPair is one (oldKey, newKey) row of a key-map table.
type KeyPair struct {
	OldKey string
	NewKey string
}

// Adapter is the Driver Adapter interface of C1: every dialect package
// implements it once against database/sql plus its dialect-specific DSN
// and pagination grammar.
type Adapter interface {
	Close() error

	ListColumns(ctx context.Context, schema, table string) ([]ColumnInfo, error)
	IdentityColumn(ctx context.Context, schema, table string) (string, bool, error)
	RowCount(ctx context.Context, schema, table string) (int64, error)

	// ReadBatch returns up to size rows ordered by batchColumn ascending,
	// strictly greater than after (nil after means unbounded). size == 0
	// means "read the entire table in one page".
	ReadBatch(ctx context.Context, schema, table, batchColumn string, size int, after *rowdata.Value) ([]rowdata.Row, error)

	ExecNonQuery(ctx context.Context, sql string, params ...any) error

	// InsertOne inserts a single row and, when returnIdentity is set,
	// reports the generated value of identityColumn as text.
	InsertOne(ctx context.Context, schema, table string, row rowdata.Row, columns []string, identityColumn string, returnIdentity bool) (newKey string, err error)

	BulkInsert(ctx context.Context, schema, table string, columns []string, rows []rowdata.Row) error

	SetIdentityInsert(ctx context.Context, schema, table string, on bool) error
	DisableTriggers(ctx context.Context, schema, table string) error
	EnableTriggers(ctx context.Context, schema, table string) error
	DisableAllConstraints(ctx context.Context) error
	EnableAllConstraints(ctx context.Context) error

	TruncateTable(ctx context.Context, schema, table string) error
	DeleteAllRows(ctx context.Context, schema, table string) error

	TableExists(ctx context.Context, schema, table string) (bool, error)

	// IsColumnUnique reports whether every non-null value of column is
	// distinct across schema.table, used by the Validator to warn when a
	// chosen batch column risks skipping duplicate keys at a page boundary.
	IsColumnUnique(ctx context.Context, schema, table, column string) (bool, error)

	// CreateKeyMapTable creates the dedicated (oldKey, newKey) table the
	// Key-Map Store uses for one parent table. table is unqualified
	// (the target's default schema applies).
	CreateKeyMapTable(ctx context.Context, table string) error
	// DropKeyMapTable drops a key-map table; a missing table is not an error.
	DropKeyMapTable(ctx context.Context, table string) error
	// ListTablesWithPrefix returns every table name (unqualified) in the
	// target's default schema whose name begins with prefix.
	ListTablesWithPrefix(ctx context.Context, prefix string) ([]string, error)
	// InsertKeyMapPairs appends pairs to table, batching internally at no
	// more than 1000 rows per statement.
	InsertKeyMapPairs(ctx context.Context, table string, pairs []KeyPair) error
	// LoadKeyMapTable reads every (oldKey, newKey) pair of table into memory.
	LoadKeyMapTable(ctx context.Context, table string) (map[string]string, error)
}

// AdapterFactory opens a new Adapter for the given descriptor.
type AdapterFactory func(ctx context.Context, tracer trace.Tracer, desc ConnectionDescriptor) (Adapter, error)

var registry = map[Provider]AdapterFactory{}

// Register associates a provider with the factory its dialect package
// constructs adapters with. Dialect packages call this from their own
// init().
func Register(provider Provider, factory AdapterFactory) bool {
	if _, exists := registry[provider]; exists {
		return false
	}
	registry[provider] = factory
	return true
}

// Open dials the descriptor's provider via its registered factory.
func Open(ctx context.Context, tracer trace.Tracer, desc ConnectionDescriptor) (Adapter, error) {
	factory, ok := registry[desc.Provider]
	if !ok {
		return nil, fmt.Errorf("no driver adapter registered for provider %q", desc.Provider)
	}
	if err := ValidateAuthMode(desc.Provider, desc.AuthMode); err != nil {
		return nil, err
	}
	return factory(ctx, tracer, desc)
}

// InitConnectionSpan starts a span around a dial attempt, named and
// attributed consistently across every dialect package.
func InitConnectionSpan(ctx context.Context, tracer trace.Tracer, provider Provider, name string) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, "sources/connect",
		trace.WithAttributes(
			attribute.String("provider", string(provider)),
			attribute.String("source.name", name),
		),
	)
}
