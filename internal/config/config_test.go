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
package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dbmigrate/migrator/internal/config"
	"github.com/dbmigrate/migrator/internal/sources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const masterXML = `<MasterConfig>
  <MigrationName>MyMigration</MigrationName>
  <BatchSize>500</BatchSize>
  <QueryTimeoutSeconds>30</QueryTimeoutSeconds>
  <SourceConnection>
    <Provider>SqlServer</Provider>
    <Host>src-host</Host>
    <Port>1433</Port>
    <Database>SrcDb</Database>
    <AuthMode>SqlAuth</AuthMode>
    <User>sa</User>
    <Password>pw</Password>
  </SourceConnection>
  <TargetConnection>
    <Provider>AzureSql</Provider>
    <Host>tgt-host</Host>
    <Database>TgtDb</Database>
    <AuthMode>SqlAuth</AuthMode>
    <User>sa</User>
    <Password>pw</Password>
  </TargetConnection>
  <Tables>
    <Table Order="1" Included="true" TableMapFile="customers.xml">
      <SourceSchema>dbo</SourceSchema>
      <SourceTable>Countries</SourceTable>
      <TargetSchema>dbo</TargetSchema>
      <TargetTable>Countries</TargetTable>
      <BatchColumn>Code</BatchColumn>
      <SimpleMappings>
        <Mapping SourceColumn="Code" TargetColumn="CountryCode"/>
        <Mapping SourceColumn="Name" TargetColumn="CountryName"/>
      </SimpleMappings>
    </Table>
  </Tables>
</MasterConfig>`

const tableMapXML = `<TableMap>
  <IdentityMode>generate</IdentityMode>
  <IdentityColumn>Id</IdentityColumn>
  <ExistingDataAction>truncate</ExistingDataAction>
  <Transformations>
    <Static tgt="CreatedAt" function="nowUtc"/>
  </Transformations>
</TableMap>`

func writeTempConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "master.xml"), []byte(masterXML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "customers.xml"), []byte(tableMapXML), 0o600))
	return filepath.Join(dir, "master.xml")
}

func TestLoadMasterConfig(t *testing.T) {
	path := writeTempConfig(t)
	plan, errs := config.LoadMasterConfig(path)
	require.Empty(t, errs)

	assert.Equal(t, "MyMigration", plan.MigrationName)
	assert.Equal(t, 500, plan.BatchSize)
	require.Len(t, plan.Tables, 1)

	tbl := plan.Tables[0]
	assert.Equal(t, "Code", tbl.BatchColumn)
	assert.Equal(t, config.IdentityGenerate, tbl.IdentityMode)
	assert.Equal(t, "Id", tbl.IdentityColumn)
	assert.Equal(t, config.ActionTruncate, tbl.ExistingDataAction)
	require.Len(t, tbl.Transformations, 1)
	assert.Equal(t, config.TransformStatic, tbl.Transformations[0].Kind)
	assert.Equal(t, "nowUtc", tbl.Transformations[0].StaticFunction)

	assert.True(t, plan.KeyRemapRequired["dbo.Countries"])
}

// Interleaved variants in a table map must come back in document order,
// since the evaluator applies them in declaration order and later writes
// override earlier ones.
func TestTableMapTransformationsKeepDocumentOrder(t *testing.T) {
	const mixedMapXML = `<TableMap>
  <Transformations>
    <Static tgt="A" literal="first"/>
    <Concat tgt="B">
      <Part column="X"/>
      <Part literal="-"/>
    </Concat>
    <Static tgt="A" literal="second"/>
    <Convert src="Y" tgt="C" targetType="int"/>
  </Transformations>
</TableMap>`

	dir := t.TempDir()
	master := `<MasterConfig>
  <MigrationName>Mixed</MigrationName>
  <SourceConnection><Provider>SqlServer</Provider><Host>h</Host><User>u</User><Password>p</Password></SourceConnection>
  <TargetConnection><Provider>SqlServer</Provider><Host>h</Host><User>u</User><Password>p</Password></TargetConnection>
  <Tables>
    <Table Order="1" Included="true" TableMapFile="mixed.xml">
      <SourceTable>T</SourceTable><TargetTable>T</TargetTable><BatchColumn>Id</BatchColumn>
    </Table>
  </Tables>
</MasterConfig>`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "master.xml"), []byte(master), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mixed.xml"), []byte(mixedMapXML), 0o600))

	plan, errs := config.LoadMasterConfig(filepath.Join(dir, "master.xml"))
	require.Empty(t, errs)
	require.Len(t, plan.Tables, 1)

	kinds := make([]config.TransformKind, 0, 4)
	for _, tr := range plan.Tables[0].Transformations {
		kinds = append(kinds, tr.Kind)
	}
	assert.Equal(t, []config.TransformKind{
		config.TransformStatic, config.TransformConcat, config.TransformStatic, config.TransformConvert,
	}, kinds)
	assert.Equal(t, "second", plan.Tables[0].Transformations[2].StaticLiteral)
}

func TestValidateRejectsMissingBatchColumnAndBadTargetProvider(t *testing.T) {
	plan := config.MigrationPlan{
		MigrationName: "m",
		SourceConnection: mustDescriptor("SqlServer", "h", "u"),
		TargetConnection: mustDescriptor("Oracle", "h", "u"),
		Tables: []config.TableJob{
			{Order: 1, SourceSchema: "dbo", SourceTable: "T", IdentityMode: config.IdentityPreserve, ExistingDataAction: config.ActionAppend},
		},
	}
	result := config.Validate(plan)
	assert.False(t, result.IsValid())
	assert.Contains(t, joinErrors(result.Errors), "target provider must be SqlServer or AzureSql")
	assert.Contains(t, joinErrors(result.Errors), "batchColumn is required")
}

// WindowsAuth and the Azure AD modes carry credentials out of band, so a
// connection without a User must still validate; only SqlAuth requires one.
func TestValidateAllowsCredentiallessAuthModes(t *testing.T) {
	plan := config.MigrationPlan{
		MigrationName: "m",
		SourceConnection: sources.ConnectionDescriptor{
			Provider: sources.ProviderSqlServer, Host: "h", AuthMode: sources.AuthWindowsAuth,
		},
		TargetConnection: sources.ConnectionDescriptor{
			Provider: sources.ProviderAzureSql, Host: "h", AuthMode: sources.AuthInteractiveBrowser,
		},
		Tables: []config.TableJob{
			{Order: 1, SourceSchema: "dbo", SourceTable: "T", BatchColumn: "Id", IdentityMode: config.IdentityPreserve, ExistingDataAction: config.ActionAppend},
		},
	}
	result := config.Validate(plan)
	assert.True(t, result.IsValid(), "errors: %v", result.Errors)
}

func TestValidateRequiresUserForSqlAuth(t *testing.T) {
	plan := config.MigrationPlan{
		MigrationName: "m",
		SourceConnection: sources.ConnectionDescriptor{
			Provider: sources.ProviderSqlServer, Host: "h", AuthMode: sources.AuthSqlAuth,
		},
		TargetConnection: mustDescriptor("SqlServer", "h", "u"),
		Tables: []config.TableJob{
			{Order: 1, SourceSchema: "dbo", SourceTable: "T", BatchColumn: "Id", IdentityMode: config.IdentityPreserve, ExistingDataAction: config.ActionAppend},
		},
	}
	result := config.Validate(plan)
	assert.False(t, result.IsValid())
	assert.Contains(t, joinErrors(result.Errors), "source connection")
}

func TestValidateWarnsOnDuplicateOrder(t *testing.T) {
	plan := config.MigrationPlan{
		MigrationName:    "m",
		SourceConnection: mustDescriptor("SqlServer", "h", "u"),
		TargetConnection: mustDescriptor("SqlServer", "h", "u"),
		Tables: []config.TableJob{
			{Order: 1, SourceSchema: "dbo", SourceTable: "A", BatchColumn: "Id", IdentityMode: config.IdentityPreserve, ExistingDataAction: config.ActionAppend},
			{Order: 1, SourceSchema: "dbo", SourceTable: "B", BatchColumn: "Id", IdentityMode: config.IdentityPreserve, ExistingDataAction: config.ActionAppend},
		},
	}
	result := config.Validate(plan)
	assert.True(t, result.IsValid())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "duplicate order")
}

func joinErrors(errs []string) string {
	out := ""
	for _, e := range errs {
		out += e + "\n"
	}
	return out
}

func mustDescriptor(provider, host, user string) sources.ConnectionDescriptor {
	return sources.ConnectionDescriptor{
		Provider: sources.Provider(provider),
		Host:     host,
		User:     user,
		AuthMode: sources.AuthSqlAuth,
	}
}
