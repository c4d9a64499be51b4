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

// Package rowdata defines the tagged value union shared by every source and
// target row in the migration engine, and the row maps built from it.
package rowdata

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies which field of a Value is meaningful.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindDecimal
	KindBool
	KindText
	KindDateTime
	KindUUID
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "integer"
	case KindDecimal:
		return "decimal"
	case KindBool:
		return "bool"
	case KindText:
		return "text"
	case KindDateTime:
		return "datetime"
	case KindUUID:
		return "uuid"
	case KindBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// Value is the dynamically-typed cell value that flows through the engine.
// Null is a distinct state from an empty string, per the data model.
type Value struct {
	kind Kind

	i     int64
	dec   string // decimal kept as its exact decimal-string representation
	b     bool
	text  string
	t     time.Time
	uuid  string
	bytes []byte
}

func Null() Value                    { return Value{kind: KindNull} }
func Int(v int64) Value              { return Value{kind: KindInt, i: v} }
func Decimal(v string) Value         { return Value{kind: KindDecimal, dec: v} }
func Bool(v bool) Value              { return Value{kind: KindBool, b: v} }
func Text(v string) Value            { return Value{kind: KindText, text: v} }
func DateTime(v time.Time) Value     { return Value{kind: KindDateTime, t: v} }
func UUID(v string) Value            { return Value{kind: KindUUID, uuid: v} }
func Bytes(v []byte) Value           { return Value{kind: KindBytes, bytes: v} }

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsNull() bool  { return v.kind == KindNull }
func (v Value) Int() int64    { return v.i }
func (v Value) Decimal() string { return v.dec }
func (v Value) Bool() bool    { return v.b }
func (v Value) Time() time.Time { return v.t }
func (v Value) UUIDString() string { return v.uuid }
func (v Value) ByteSlice() []byte { return v.bytes }

// AsText coerces any non-null value to its textual form, the rule used by
// concat, split, lookup, and keyLookup when they treat a column as a string.
func (v Value) AsText() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindDecimal:
		return v.dec
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindText:
		return v.text
	case KindDateTime:
		return v.t.Format(time.RFC3339)
	case KindUUID:
		return v.uuid
	case KindBytes:
		return string(v.bytes)
	default:
		return ""
	}
}

// AsFloat reports whether the value can be interpreted numerically, and its
// value if so. Used by the calculated() evaluator and numeric predicates.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindDecimal:
		f, err := strconv.ParseFloat(v.dec, 64)
		return f, err == nil
	case KindText:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.text), 64)
		return f, err == nil
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func (v Value) String() string {
	if v.IsNull() {
		return "<null>"
	}
	return fmt.Sprintf("%s(%s)", v.kind, v.AsText())
}

// Equal reports value equality, comparing by kind-appropriate representation.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		if v.IsNull() || o.IsNull() {
			return v.IsNull() && o.IsNull()
		}
	}
	return v.AsText() == o.AsText()
}

// Row is a mapping from column name to value; SourceRow and TargetRow are
// aliases of it distinguished only by where they flow.
type Row map[string]Value

type SourceRow = Row
type TargetRow = Row

// Clone returns a shallow copy safe for independent mutation of the map.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
