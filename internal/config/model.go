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

// Package config owns the Config Model (C2): the logical shape of a
// migration plan, and the XML decoding that produces it from the global
// config, master config, and table-map files.
package config

import (
	"time"

	"github.com/dbmigrate/migrator/internal/sources"
)

// IdentityMode governs how a table's identity column is handled on insert.
type IdentityMode string

const (
	IdentityPreserve IdentityMode = "preserve"
	IdentityGenerate IdentityMode = "generate"
)

// ExistingDataAction governs what happens to rows already present in a
// target table before a migration writes to it.
type ExistingDataAction string

const (
	ActionTruncate ExistingDataAction = "truncate"
	ActionAppend   ExistingDataAction = "append"
)

// GlobalConfig carries environment-wide defaults, loaded once per process.
type GlobalConfig struct {
	Environment     string
	DefaultLogLevel string
}

// MigrationPlan is the fully-resolved, validated plan the Run Coordinator
// executes: the master config plus every referenced table-map file, merged.
type MigrationPlan struct {
	MigrationName    string
	BatchSize        int // 0 = no paging
	QueryTimeout     time.Duration
	SourceConnection sources.ConnectionDescriptor
	TargetConnection sources.ConnectionDescriptor
	Tables           []TableJob
	// KeyRemapRequired is derived: true for any table whose generated
	// identity keys must be remembered for descendants' keyLookup.
	KeyRemapRequired map[string]bool
}

// TableJob is one table's full migration instructions.
type TableJob struct {
	Order        int
	SourceSchema string
	SourceTable  string
	TargetSchema string
	TargetTable  string
	BatchColumn  string
	Included     bool

	SimpleMappings  []SimpleMapping
	Transformations []Transformation

	IdentityMode       IdentityMode
	IdentityColumn     string
	ExistingDataAction ExistingDataAction
}

// QualifiedSource / QualifiedTarget render "schema.table", omitting the
// schema segment when empty — used for display and key-map table naming.
func (t TableJob) QualifiedSource() string { return qualify(t.SourceSchema, t.SourceTable) }
func (t TableJob) QualifiedTarget() string { return qualify(t.TargetSchema, t.TargetTable) }

func qualify(schema, table string) string {
	if schema == "" {
		return table
	}
	return schema + "." + table
}

// SimpleMapping is a direct sourceColumn -> targetColumn copy.
type SimpleMapping struct {
	SourceColumn     string
	TargetColumn     string
	SourceDateFormat string
}

// TransformKind names which of the nine transformation variants a
// Transformation carries.
type TransformKind string

const (
	TransformSimple      TransformKind = "simple"
	TransformConcat      TransformKind = "concat"
	TransformSplit       TransformKind = "split"
	TransformLookup      TransformKind = "lookup"
	TransformCalculated  TransformKind = "calculated"
	TransformStatic      TransformKind = "static"
	TransformConditional TransformKind = "conditional"
	TransformConvert     TransformKind = "convert"
	TransformKeyLookup   TransformKind = "keyLookup"
)

// ConcatPart is one element of a concat() transformation's parts list.
type ConcatPart struct {
	Column   string // set when this part pulls a source column
	Literal  string // set when this part is a literal
	IsColumn bool
}

// SplitTarget is one (index, column) pair of a split() transformation.
type SplitTarget struct {
	Index  int
	Column string
}

// ConditionalWhen is one branch of a conditional() transformation.
type ConditionalWhen struct {
	Predicate string
	ValueSpec ValueSpec
}

// ValueSpec is what a conditional branch (or its else clause) emits: either
// a literal, a source column reference, or a nested static function name.
type ValueSpec struct {
	Literal      string
	Column       string
	StaticFunc   string
	IsColumn     bool
	IsStaticFunc bool
}

// Transformation is one step of a table's program; exactly one of the variant
// field groups below is populated, selected by Kind.
type Transformation struct {
	Kind        TransformKind
	Target      string
	NullDefault *string // nil means "no default configured"

	// simple / convert / calculated / keyLookup / lookup
	Source           string
	SourceDateFormat string

	// concat
	ConcatParts []ConcatPart

	// split
	SplitDelimiter string
	SplitTargets   []SplitTarget

	// lookup
	LookupTable   map[string]string
	LookupDefault *string

	// calculated
	Expression string

	// static
	StaticLiteral  string
	StaticFunction string // nowLocal | nowUtc | newGuid | currentUser

	// conditional
	Whens []ConditionalWhen
	Else  *ValueSpec

	// convert
	TargetType string

	// keyLookup
	KeyMapParentTable     string
	KeyMapParentKeyColumn string
}
