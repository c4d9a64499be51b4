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
package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbmigrate/migrator/internal/sources"
)

func TestBuildDSNDefaultsPort(t *testing.T) {
	dsn, err := buildDSN(sources.ConnectionDescriptor{
		Provider: sources.ProviderMySql,
		Host:     "db",
		Database: "shop",
		AuthMode: sources.AuthSqlAuth,
		User:     "app",
		Password: "pw",
	})
	require.NoError(t, err)
	assert.Equal(t, "app:pw@tcp(db:3306)/shop?parseTime=true", dsn)
}

func TestBuildDSNRejectsNonSqlAuth(t *testing.T) {
	_, err := buildDSN(sources.ConnectionDescriptor{
		Provider: sources.ProviderMySql,
		Host:     "db",
		User:     "app",
		AuthMode: sources.AuthInteractiveBrowser,
	})
	require.Error(t, err)
}

func TestReadBatchQueryUsesLimit(t *testing.T) {
	d := dialect{}
	q := d.ReadBatchQuery("shop", "orders", []string{"id", "total"}, "id", 25, true)
	assert.Equal(t, "SELECT `id`, `total` FROM `shop`.`orders` WHERE `id` > ? ORDER BY `id` ASC LIMIT 25", q)
}

func TestBulkInsertStatementPlaceholders(t *testing.T) {
	d := dialect{}
	stmt := d.BulkInsertStatement("shop", "orders", []string{"id", "total"}, 2)
	assert.Equal(t, "INSERT INTO `shop`.`orders` (`id`, `total`) VALUES (?, ?), (?, ?)", stmt)
}
