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
	"fmt"
	"strings"

	"github.com/dbmigrate/migrator/internal/config"
	"github.com/dbmigrate/migrator/internal/rowdata"
)

// RowWarning is a non-fatal evaluation note (e.g. a convert() parse
// failure), surfaced to the Table Migrator for status-artefact purposes
// without aborting the row.
type RowWarning struct {
	Target  string
	Message string
}

// KeyMaps is the in-memory view of every already-completed parent table's
// oldKey->newKey map, keyed by parent table identifier.
type KeyMaps map[string]map[string]string

// Evaluate is the Transform Evaluator of C3: a pure function from a source
// row, the table's simple mappings and transformation program, and the
// key maps of earlier tables, to a target row. It performs no I/O.
func Evaluate(row rowdata.Row, mappings []config.SimpleMapping, transformations []config.Transformation, keyMaps KeyMaps, ports Ports) (rowdata.Row, []RowWarning, error) {
	claimed := make(map[string]bool, len(transformations))
	for _, t := range transformations {
		claimed[t.Target] = true
	}

	out := make(rowdata.Row, len(mappings)+len(transformations))
	for _, m := range mappings {
		if claimed[m.TargetColumn] {
			continue
		}
		out[m.TargetColumn] = evalSimple(row, m.SourceColumn, nil)
	}

	var warnings []RowWarning
	for _, t := range transformations {
		v, warn, err := evalTransformation(t, row, keyMaps, ports)
		if err != nil {
			return nil, warnings, fmt.Errorf("transformation %s -> %s: %w", t.Kind, t.Target, err)
		}
		if warn != "" {
			warnings = append(warnings, RowWarning{Target: t.Target, Message: warn})
		}
		out[t.Target] = v
	}

	return out, warnings, nil
}

func evalTransformation(t config.Transformation, row rowdata.Row, keyMaps KeyMaps, ports Ports) (rowdata.Value, string, error) {
	switch t.Kind {
	case config.TransformSimple:
		return evalSimple(row, t.Source, t.NullDefault), "", nil

	case config.TransformConcat:
		return evalConcat(row, t.ConcatParts, t.NullDefault), "", nil

	case config.TransformStatic:
		v, err := evalStatic(t, ports)
		return v, "", err

	case config.TransformLookup:
		return evalLookup(row, t), "", nil

	case config.TransformCalculated:
		v, wasNull, err := EvalCalculated(t.Expression, row)
		if err != nil {
			return rowdata.Value{}, "", err
		}
		if wasNull {
			return defaultOrNull(t.NullDefault), "", nil
		}
		return v, "", nil

	case config.TransformConditional:
		return evalConditional(row, t)

	case config.TransformConvert:
		return evalConvert(row, t)

	case config.TransformKeyLookup:
		return evalKeyLookup(row, t, keyMaps), "", nil

	case config.TransformSplit:
		// split() writes multiple target columns; handled by its own
		// caller path (EvalSplit) rather than this per-target switch.
		return rowdata.Null(), "", fmt.Errorf("split() must be evaluated via its multi-target path")

	default:
		return rowdata.Value{}, "", fmt.Errorf("unknown transformation kind %q", t.Kind)
	}
}

func defaultOrNull(nullDefault *string) rowdata.Value {
	if nullDefault != nil {
		return rowdata.Text(*nullDefault)
	}
	return rowdata.Null()
}

func evalSimple(row rowdata.Row, source string, nullDefault *string) rowdata.Value {
	v, ok := row[source]
	if !ok || v.IsNull() {
		return defaultOrNull(nullDefault)
	}
	return v
}

func evalConcat(row rowdata.Row, parts []config.ConcatPart, nullDefault *string) rowdata.Value {
	var sb strings.Builder
	anyColumnNonNull := false
	anyColumnPart := false
	for _, p := range parts {
		if p.IsColumn {
			anyColumnPart = true
			v, ok := row[p.Column]
			if ok && !v.IsNull() {
				anyColumnNonNull = true
				sb.WriteString(v.AsText())
			}
		} else {
			sb.WriteString(p.Literal)
		}
	}
	result := sb.String()
	if anyColumnPart && !anyColumnNonNull && strings.TrimSpace(result) == "" {
		return defaultOrNull(nullDefault)
	}
	return rowdata.Text(result)
}

func evalStatic(t config.Transformation, ports Ports) (rowdata.Value, error) {
	if t.StaticFunction == "" {
		return rowdata.Text(t.StaticLiteral), nil
	}
	switch t.StaticFunction {
	case "nowLocal":
		return rowdata.DateTime(ports.Clock.NowLocal()), nil
	case "nowUtc":
		return rowdata.DateTime(ports.Clock.NowUtc()), nil
	case "newGuid":
		return rowdata.UUID(ports.UUIDGen.NewUUID()), nil
	case "currentUser":
		return rowdata.Text(ports.CurrentUser.CurrentUser()), nil
	default:
		return rowdata.Value{}, fmt.Errorf("static(): unknown function %q", t.StaticFunction)
	}
}

func evalLookup(row rowdata.Row, t config.Transformation) rowdata.Value {
	v, ok := row[t.Source]
	if !ok || v.IsNull() {
		return defaultOrNull(t.NullDefault)
	}
	if mapped, hit := t.LookupTable[v.AsText()]; hit {
		return rowdata.Text(mapped)
	}
	if t.LookupDefault != nil {
		return rowdata.Text(*t.LookupDefault)
	}
	return rowdata.Null()
}

func evalConditional(row rowdata.Row, t config.Transformation) (rowdata.Value, string, error) {
	for _, w := range t.Whens {
		matched, err := EvalPredicate(w.Predicate, row)
		if err != nil {
			return rowdata.Value{}, "", err
		}
		if matched {
			return resolveValueSpec(row, w.ValueSpec), "", nil
		}
	}
	if t.Else != nil {
		return resolveValueSpec(row, *t.Else), "", nil
	}
	return rowdata.Null(), "", nil
}

func resolveValueSpec(row rowdata.Row, v config.ValueSpec) rowdata.Value {
	switch {
	case v.IsColumn:
		if col, ok := row[v.Column]; ok {
			return col
		}
		return rowdata.Null()
	case v.IsStaticFunc:
		// a function-valued branch is not evaluated: it emits a plain
		// text literal holding the function's name.
		return rowdata.Text(v.StaticFunc)
	default:
		return rowdata.Text(v.Literal)
	}
}

func evalConvert(row rowdata.Row, t config.Transformation) (rowdata.Value, string, error) {
	src, ok := row[t.Source]
	if !ok {
		return rowdata.Value{}, "", fmt.Errorf("convert(): unknown source column %q", t.Source)
	}
	out, converted := ConvertValue(src, t.SourceDateFormat, t.TargetType)
	if !converted {
		warning := fmt.Sprintf("convert(): could not parse %q as %s", src.AsText(), t.TargetType)
		return defaultOrNull(t.NullDefault), warning, nil
	}
	return out, "", nil
}

func evalKeyLookup(row rowdata.Row, t config.Transformation, keyMaps KeyMaps) rowdata.Value {
	v, ok := row[t.Source]
	if !ok || v.IsNull() {
		return defaultOrNull(t.NullDefault)
	}
	parentMap, ok := keyMaps[t.KeyMapParentTable]
	if !ok {
		return defaultOrNull(t.NullDefault)
	}
	if newKey, hit := parentMap[v.AsText()]; hit {
		return rowdata.Text(newKey)
	}
	return defaultOrNull(t.NullDefault)
}

// EvalSplit implements the split() variant, which (uniquely) writes
// multiple target columns from one source column; it is evaluated
// separately from Evaluate's single-target loop and its results merged in
// by the caller (the Table Migrator's per-row evaluation step), since the
// rest of the grammar is 1:1 target:transformation.
func EvalSplit(row rowdata.Row, t config.Transformation) map[string]rowdata.Value {
	out := make(map[string]rowdata.Value, len(t.SplitTargets))
	v, ok := row[t.Source]
	if !ok || v.IsNull() {
		for _, tgt := range t.SplitTargets {
			out[tgt.Column] = rowdata.Null()
		}
		return out
	}
	fragments := strings.Split(v.AsText(), t.SplitDelimiter)
	for _, tgt := range t.SplitTargets {
		if tgt.Index < 0 || tgt.Index >= len(fragments) {
			out[tgt.Column] = rowdata.Null()
			continue
		}
		out[tgt.Column] = rowdata.Text(strings.TrimSpace(fragments[tgt.Index]))
	}
	return out
}
