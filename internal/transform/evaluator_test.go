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
package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbmigrate/migrator/internal/config"
	"github.com/dbmigrate/migrator/internal/rowdata"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) NowLocal() time.Time { return f.t }
func (f fixedClock) NowUtc() time.Time   { return f.t.UTC() }

type fixedUUID struct{ v string }

func (f fixedUUID) NewUUID() string { return f.v }

type fixedUser struct{ v string }

func (f fixedUser) CurrentUser() string { return f.v }

func testPorts() Ports {
	return Ports{
		Clock:       fixedClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		UUIDGen:     fixedUUID{v: "11111111-1111-1111-1111-111111111111"},
		CurrentUser: fixedUser{v: "svc-migrator"},
	}
}

func strPtr(s string) *string { return &s }

// concat() with a null column part keeps the literal separator.
func TestConcatWithNullPart(t *testing.T) {
	row := rowdata.Row{
		"FirstName": rowdata.Text("Ada"),
		"LastName":  rowdata.Null(),
	}
	transformations := []config.Transformation{
		{
			Kind:   config.TransformConcat,
			Target: "FullName",
			ConcatParts: []config.ConcatPart{
				{IsColumn: true, Column: "FirstName"},
				{Literal: " "},
				{IsColumn: true, Column: "LastName"},
			},
		},
	}
	out, warnings, err := Evaluate(row, nil, transformations, nil, testPorts())
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "Ada ", out["FullName"].AsText())
}

func TestConcatAllPartsNullUsesDefault(t *testing.T) {
	row := rowdata.Row{"A": rowdata.Null(), "B": rowdata.Null()}
	transformations := []config.Transformation{
		{
			Kind:        config.TransformConcat,
			Target:      "Combined",
			NullDefault: strPtr("N/A"),
			ConcatParts: []config.ConcatPart{
				{IsColumn: true, Column: "A"},
				{IsColumn: true, Column: "B"},
			},
		},
	}
	out, _, err := Evaluate(row, nil, transformations, nil, testPorts())
	require.NoError(t, err)
	assert.Equal(t, "N/A", out["Combined"].AsText())
}

// split() past the end of the fragment list yields null, not an error.
func TestSplitPastEndYieldsNull(t *testing.T) {
	row := rowdata.Row{"FullName": rowdata.Text("Ada Lovelace")}
	tr := config.Transformation{
		Kind:           config.TransformSplit,
		Source:         "FullName",
		SplitDelimiter: " ",
		SplitTargets: []config.SplitTarget{
			{Index: 0, Column: "First"},
			{Index: 1, Column: "Last"},
			{Index: 2, Column: "Suffix"},
		},
	}
	out := EvalSplit(row, tr)
	assert.Equal(t, "Ada", out["First"].AsText())
	assert.Equal(t, "Lovelace", out["Last"].AsText())
	assert.True(t, out["Suffix"].IsNull())
}

// lookup() with an unmatched value falls to its default.
func TestLookupFallsBackToDefault(t *testing.T) {
	row := rowdata.Row{"StatusCode": rowdata.Text("Z")}
	transformations := []config.Transformation{
		{
			Kind:   config.TransformLookup,
			Target: "StatusName",
			Source: "StatusCode",
			LookupTable: map[string]string{
				"A": "Active",
				"I": "Inactive",
			},
			LookupDefault: strPtr("Unknown"),
		},
	}
	out, _, err := Evaluate(row, nil, transformations, nil, testPorts())
	require.NoError(t, err)
	assert.Equal(t, "Unknown", out["StatusName"].AsText())
}

func TestLookupHitReturnsMappedValue(t *testing.T) {
	row := rowdata.Row{"StatusCode": rowdata.Text("A")}
	transformations := []config.Transformation{
		{
			Kind:        config.TransformLookup,
			Target:      "StatusName",
			Source:      "StatusCode",
			LookupTable: map[string]string{"A": "Active"},
		},
	}
	out, _, err := Evaluate(row, nil, transformations, nil, testPorts())
	require.NoError(t, err)
	assert.Equal(t, "Active", out["StatusName"].AsText())
}

// keyLookup() resolves against an earlier table's key map.
func TestKeyLookupAcrossTables(t *testing.T) {
	row := rowdata.Row{"CountryId": rowdata.Int(7)}
	transformations := []config.Transformation{
		{
			Kind:                  config.TransformKeyLookup,
			Target:                "CountryId",
			Source:                "CountryId",
			KeyMapParentTable:     "dbo.Countries",
			KeyMapParentKeyColumn: "CountryId",
		},
	}
	keyMaps := KeyMaps{
		"dbo.Countries": {"7": "9001"},
	}
	out, _, err := Evaluate(row, nil, transformations, keyMaps, testPorts())
	require.NoError(t, err)
	assert.Equal(t, "9001", out["CountryId"].AsText())
}

func TestKeyLookupMissEntryUsesDefault(t *testing.T) {
	row := rowdata.Row{"CountryId": rowdata.Int(99)}
	transformations := []config.Transformation{
		{
			Kind:              config.TransformKeyLookup,
			Target:            "CountryId",
			Source:            "CountryId",
			KeyMapParentTable: "dbo.Countries",
			NullDefault:       strPtr("0"),
		},
	}
	keyMaps := KeyMaps{"dbo.Countries": {"7": "9001"}}
	out, _, err := Evaluate(row, nil, transformations, keyMaps, testPorts())
	require.NoError(t, err)
	assert.Equal(t, "0", out["CountryId"].AsText())
}

func TestSimpleMappingSuppressedWhenTargetClaimedByTransformation(t *testing.T) {
	row := rowdata.Row{
		"Name":      rowdata.Text("raw"),
		"OtherCol":  rowdata.Text("x"),
		"StaticCol": rowdata.Null(),
	}
	mappings := []config.SimpleMapping{
		{SourceColumn: "Name", TargetColumn: "Name"},
		{SourceColumn: "OtherCol", TargetColumn: "OtherCol"},
	}
	transformations := []config.Transformation{
		{Kind: config.TransformStatic, Target: "Name", StaticLiteral: "overridden"},
	}
	out, _, err := Evaluate(row, mappings, transformations, nil, testPorts())
	require.NoError(t, err)
	assert.Equal(t, "overridden", out["Name"].AsText())
	assert.Equal(t, "x", out["OtherCol"].AsText())
}

func TestStaticFunctionsUseInjectedPorts(t *testing.T) {
	row := rowdata.Row{}
	transformations := []config.Transformation{
		{Kind: config.TransformStatic, Target: "CreatedAt", StaticFunction: "nowUtc"},
		{Kind: config.TransformStatic, Target: "RowGuid", StaticFunction: "newGuid"},
		{Kind: config.TransformStatic, Target: "CreatedBy", StaticFunction: "currentUser"},
	}
	out, _, err := Evaluate(row, nil, transformations, nil, testPorts())
	require.NoError(t, err)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", out["RowGuid"].AsText())
	assert.Equal(t, "svc-migrator", out["CreatedBy"].AsText())
	assert.Equal(t, 2026, out["CreatedAt"].Time().Year())
}

func TestConditionalEvaluatesBranchesInOrder(t *testing.T) {
	row := rowdata.Row{"Age": rowdata.Int(15)}
	transformations := []config.Transformation{
		{
			Kind:   config.TransformConditional,
			Target: "Bracket",
			Whens: []config.ConditionalWhen{
				{Predicate: "Age < 13", ValueSpec: config.ValueSpec{Literal: "child"}},
				{Predicate: "Age < 20", ValueSpec: config.ValueSpec{Literal: "teen"}},
			},
			Else: &config.ValueSpec{Literal: "adult"},
		},
	}
	out, _, err := Evaluate(row, nil, transformations, nil, testPorts())
	require.NoError(t, err)
	assert.Equal(t, "teen", out["Bracket"].AsText())
}

func TestConvertFailureEmitsRowWarningAndDefault(t *testing.T) {
	row := rowdata.Row{"Joined": rowdata.Text("not-a-date")}
	transformations := []config.Transformation{
		{
			Kind:        config.TransformConvert,
			Target:      "JoinedAt",
			Source:      "Joined",
			TargetType:  "datetime",
			NullDefault: strPtr("1900-01-01T00:00:00Z"),
		},
	}
	out, warnings, err := Evaluate(row, nil, transformations, nil, testPorts())
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "convert()")
	assert.Equal(t, "1900-01-01T00:00:00Z", out["JoinedAt"].AsText())
}

func TestCalculatedDeterministic(t *testing.T) {
	row := rowdata.Row{"Price": rowdata.Decimal("10.5"), "Qty": rowdata.Int(3)}
	tr := []config.Transformation{
		{Kind: config.TransformCalculated, Target: "Total", Expression: "Price * Qty"},
	}
	out1, _, err := Evaluate(row, nil, tr, nil, testPorts())
	require.NoError(t, err)
	out2, _, err := Evaluate(row, nil, tr, nil, testPorts())
	require.NoError(t, err)
	assert.Equal(t, out1["Total"].AsText(), out2["Total"].AsText())
	assert.Equal(t, "31.5", out1["Total"].AsText())
}
