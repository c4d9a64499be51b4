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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbmigrate/migrator/internal/rowdata"
)

func TestEvalPredicateComparisons(t *testing.T) {
	row := rowdata.Row{
		"Age":    rowdata.Int(15),
		"Name":   rowdata.Text("Ada"),
		"Email":  rowdata.Null(),
		"Amount": rowdata.Decimal("10.50"),
	}

	cases := []struct {
		predicate string
		want      bool
	}{
		{"Age = 15", true},
		{"Age != 15", false},
		{"Age <> 15", false},
		{"Age < 20", true},
		{"Age > 20", false},
		{"Age <= 15", true},
		{"Age >= 16", false},
		// both sides numeric compares numerically, not lexicographically
		{"Amount > 9", true},
		// a non-numeric side falls back to lexicographic comparison
		{"Name < Bob", true},
		{"Name = Ada", true},
		{"Email IS NULL", true},
		{"Email IS NOT NULL", false},
		{"Name IS NULL", false},
		// a null column never matches a comparison
		{"Email = x", false},
	}
	for _, tc := range cases {
		got, err := EvalPredicate(tc.predicate, row)
		require.NoError(t, err, tc.predicate)
		assert.Equal(t, tc.want, got, tc.predicate)
	}
}

func TestEvalPredicateLike(t *testing.T) {
	row := rowdata.Row{"Code": rowdata.Text("US-123")}

	cases := []struct {
		pattern string
		want    bool
	}{
		{"US%", true},
		{"%123", true},
		{"US-___", true},
		{"US-__", false},
		{"%-%", true},
		{"CA%", false},
		// regex metacharacters in the pattern match literally
		{"US-123", true},
		{"US.123", false},
	}
	for _, tc := range cases {
		got, err := EvalPredicate("Code LIKE '"+tc.pattern+"'", row)
		require.NoError(t, err, tc.pattern)
		assert.Equal(t, tc.want, got, tc.pattern)
	}
}

func TestEvalPredicateUnknownColumnErrors(t *testing.T) {
	_, err := EvalPredicate("Nope = 1", rowdata.Row{"Age": rowdata.Int(1)})
	require.Error(t, err)
}
