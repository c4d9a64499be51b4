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
package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbmigrate/migrator/internal/sources"
)

func TestBuildDSNDefaultsPort(t *testing.T) {
	dsn, err := buildDSN(sources.ConnectionDescriptor{
		Provider: sources.ProviderPostgreSql,
		Host:     "db",
		Database: "shop",
		AuthMode: sources.AuthSqlAuth,
		User:     "app",
		Password: "pw",
	})
	require.NoError(t, err)
	assert.Equal(t, "postgres://app:pw@db:5432/shop", dsn)
}

func TestBuildDSNCarriesExtraQueryParams(t *testing.T) {
	dsn, err := buildDSN(sources.ConnectionDescriptor{
		Provider: sources.ProviderPostgreSql,
		Host:     "db",
		Database: "shop",
		AuthMode: sources.AuthSqlAuth,
		User:     "app",
		Password: "pw",
		Extra:    map[string]string{"sslmode": "require"},
	})
	require.NoError(t, err)
	assert.Contains(t, dsn, "sslmode=require")
}

func TestReadBatchQueryUsesLimit(t *testing.T) {
	d := dialect{}
	q := d.ReadBatchQuery("public", "orders", []string{"id", "total"}, "id", 25, true)
	assert.Equal(t, `SELECT "id", "total" FROM "public"."orders" WHERE "id" > $1 ORDER BY "id" ASC LIMIT 25`, q)
}

func TestInsertOneStatementReturningClause(t *testing.T) {
	d := dialect{}
	stmt := d.InsertOneStatement("public", "customers", []string{"name"}, true, "customer_id")
	assert.Equal(t, `INSERT INTO "public"."customers" ("name") VALUES ($1) RETURNING "customer_id"`, stmt)
}
