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

// Package validator implements the Validator (C9): the dry-run variant that
// shares the Transform Evaluator and the Driver Adapter's introspection
// calls with the real run but never writes target data.
package validator

import (
	"context"
	"fmt"

	"github.com/dbmigrate/migrator/internal/config"
	"github.com/dbmigrate/migrator/internal/log"
	"github.com/dbmigrate/migrator/internal/rowdata"
	"github.com/dbmigrate/migrator/internal/sources"
	"github.com/dbmigrate/migrator/internal/status"
	"github.com/dbmigrate/migrator/internal/transform"
)

// SampleSize is the default number of source rows fetched per table for the
// sample before/after transform.
const SampleSize = 3

// Validator runs the dry-run: structural validation, connectivity,
// per-table schema checks, and sample transformed rows. It never calls any
// Adapter method that mutates the target.
type Validator struct {
	Source sources.Adapter
	Target sources.Adapter
	Logger log.Logger
	Ports  transform.Ports

	// SourceDial/TargetDial re-open a connection purely to prove reachability
	// before closing it again, kept
	// separate from Source/Target so a Validate call can be run standalone
	// against descriptors without the caller pre-opening long-lived handles.
	SourceDial func(ctx context.Context) (sources.Adapter, error)
	TargetDial func(ctx context.Context) (sources.Adapter, error)
}

// Validate runs the full dry-run and produces the Validation artefact.
func (v *Validator) Validate(ctx context.Context, plan config.MigrationPlan) status.Validation {
	cfgResult := config.Validate(plan)

	result := status.Validation{
		MigrationName: plan.MigrationName,
		IsValid:       cfgResult.IsValid(),
		Configuration: status.ConfigValidation{
			IsValid:  cfgResult.IsValid(),
			Errors:   cfgResult.Errors,
			Warnings: cfgResult.Warnings,
		},
	}

	result.Connections.Source = v.checkConnection(ctx, "source", plan.SourceConnection, v.SourceDial)
	result.Connections.Target = v.checkConnection(ctx, "target", plan.TargetConnection, v.TargetDial)
	if !result.Connections.Source.IsValid || !result.Connections.Target.IsValid {
		result.IsValid = false
	}

	errorsFound := len(cfgResult.Errors)
	warningsFound := len(cfgResult.Warnings)

	for _, t := range plan.Tables {
		tv := v.validateTable(ctx, plan, t)
		errorsFound += len(tv.Errors)
		warningsFound += len(tv.Warnings)
		if !tv.IsValid {
			result.IsValid = false
		}
		result.Tables = append(result.Tables, tv)
	}

	result.Summary = status.ValidationSummary{
		TablesValidated: len(plan.Tables),
		ErrorsFound:     errorsFound,
		WarningsFound:   warningsFound,
	}

	return result
}

func (v *Validator) checkConnection(ctx context.Context, role string, desc sources.ConnectionDescriptor, dial func(context.Context) (sources.Adapter, error)) status.ConnectionCheck {
	check := status.ConnectionCheck{
		Provider: string(desc.Provider),
		Server:   desc.Host,
	}
	if dial == nil {
		check.IsValid = true
		check.Message = "not dialed (no connector supplied to validator)"
		return check
	}
	adapter, err := dial(ctx)
	if err != nil {
		check.IsValid = false
		check.Message = fmt.Sprintf("%s: %v", role, err)
		return check
	}
	if err := adapter.Close(); err != nil {
		v.warnf(ctx, "validator: close connection after probe failed", role, err)
	}
	check.IsValid = true
	check.Message = "connected"
	return check
}

// validateTable runs the per-table checks: schema existence and column
// presence on both sides, mapping/transformation column resolution, and
// (when everything else holds) the sample before/after rows. keyLookup
// ordering is checked by config.Validate in Validate, not here.
func (v *Validator) validateTable(ctx context.Context, plan config.MigrationPlan, t config.TableJob) status.TableValidation {
	tv := status.TableValidation{
		SourceTable: t.QualifiedSource(),
		TargetTable: t.QualifiedTarget(),
		IsValid:     true,
	}

	addErr := func(format string, args ...any) {
		tv.Errors = append(tv.Errors, fmt.Sprintf(format, args...))
		tv.IsValid = false
	}
	addWarn := func(format string, args ...any) {
		tv.Warnings = append(tv.Warnings, fmt.Sprintf(format, args...))
	}

	sourceExists, err := v.Source.TableExists(ctx, t.SourceSchema, t.SourceTable)
	if err != nil {
		addErr("source table existence check failed: %v", err)
	} else if !sourceExists {
		addErr("source table %s does not exist", t.QualifiedSource())
	}

	targetExists, err := v.Target.TableExists(ctx, t.TargetSchema, t.TargetTable)
	if err != nil {
		addErr("target table existence check failed: %v", err)
	} else if !targetExists {
		addErr("target table %s does not exist", t.QualifiedTarget())
	}

	var sourceColumns, targetColumns map[string]bool
	if sourceExists {
		cols, err := v.Source.ListColumns(ctx, t.SourceSchema, t.SourceTable)
		if err != nil {
			addErr("list source columns: %v", err)
		} else {
			sourceColumns = columnSet(cols)
		}
	}
	if targetExists {
		cols, err := v.Target.ListColumns(ctx, t.TargetSchema, t.TargetTable)
		if err != nil {
			addErr("list target columns: %v", err)
		} else {
			targetColumns = columnSet(cols)
		}
	}

	var rowCount int64
	if sourceExists {
		rowCount, _ = v.Source.RowCount(ctx, t.SourceSchema, t.SourceTable)
	}
	tv.SourceRowCount = rowCount

	if sourceColumns != nil && t.BatchColumn != "" && !sourceColumns[t.BatchColumn] {
		addErr("batch column %s not present in source", t.BatchColumn)
	}
	if sourceColumns != nil && t.BatchColumn != "" {
		unique, err := v.Source.IsColumnUnique(ctx, t.SourceSchema, t.SourceTable, t.BatchColumn)
		if err == nil && !unique {
			// a non-unique batch column risks skipping duplicate keys at a
			// page boundary under the strict-greater-than advance rule.
			addWarn("batch column %s is not unique; duplicate values at a page boundary may be skipped on resume", t.BatchColumn)
		}
	}

	mappedSource := map[string]bool{}
	mappedTarget := map[string]bool{}
	for _, m := range t.SimpleMappings {
		mappedSource[m.SourceColumn] = true
		mappedTarget[m.TargetColumn] = true
		if sourceColumns != nil && !sourceColumns[m.SourceColumn] {
			addErr("mapping source column %s not present in source", m.SourceColumn)
		}
		if targetColumns != nil && !targetColumns[m.TargetColumn] {
			addErr("mapping target column %s not present in target", m.TargetColumn)
		}
	}

	for _, tr := range t.Transformations {
		checkTransformationColumns(tr, sourceColumns, targetColumns, mappedSource, mappedTarget, addErr)
	}

	if sourceColumns != nil {
		for col := range sourceColumns {
			if !mappedSource[col] {
				addWarn("source column %s is unmapped and will be ignored", col)
			}
		}
	}
	if targetColumns != nil {
		for col := range targetColumns {
			if !mappedTarget[col] && col != t.IdentityColumn {
				addWarn("target column %s is unmapped and will take its default", col)
			}
		}
	}

	switch t.IdentityMode {
	case config.IdentityPreserve, config.IdentityGenerate:
	default:
		addErr("identityMode must be preserve or generate, got %q", t.IdentityMode)
	}
	switch t.ExistingDataAction {
	case config.ActionTruncate, config.ActionAppend:
	default:
		addErr("existingDataAction must be truncate or append, got %q", t.ExistingDataAction)
	}

	if tv.IsValid && sourceExists && targetExists {
		samples, err := v.sampleRows(ctx, plan, t)
		if err != nil {
			addWarn("sample rows: %v", err)
		} else {
			tv.SampleData = samples
		}
	}

	return tv
}

func columnSet(cols []sources.ColumnInfo) map[string]bool {
	set := make(map[string]bool, len(cols))
	for _, c := range cols {
		set[c.Name] = true
	}
	return set
}

// checkTransformationColumns resolves every column a transformation variant
// references against the introspected column sets.
func checkTransformationColumns(tr config.Transformation, sourceColumns, targetColumns map[string]bool, mappedSource, mappedTarget map[string]bool, addErr func(string, ...any)) {
	mappedTarget[tr.Target] = true
	if targetColumns != nil && tr.Target != "" && !targetColumns[tr.Target] {
		addErr("transformation %s target column %s not present in target", tr.Kind, tr.Target)
	}

	requireSource := func(col string) {
		if col == "" {
			return
		}
		mappedSource[col] = true
		if sourceColumns != nil && !sourceColumns[col] {
			addErr("transformation %s references unknown source column %s", tr.Kind, col)
		}
	}

	switch tr.Kind {
	case config.TransformSimple, config.TransformSplit, config.TransformLookup,
		config.TransformCalculated, config.TransformConvert, config.TransformKeyLookup:
		requireSource(tr.Source)
	case config.TransformConcat:
		for _, p := range tr.ConcatParts {
			if p.IsColumn {
				requireSource(p.Column)
			}
		}
	case config.TransformConditional:
		for _, w := range tr.Whens {
			if w.ValueSpec.IsColumn {
				requireSource(w.ValueSpec.Column)
			}
		}
		if tr.Else != nil && tr.Else.IsColumn {
			requireSource(tr.Else.Column)
		}
	}

	if tr.Kind == config.TransformSplit {
		for _, st := range tr.SplitTargets {
			mappedTarget[st.Column] = true
			if targetColumns != nil && !targetColumns[st.Column] {
				addErr("split() target column %s not present in target", st.Column)
			}
		}
	}
}

// sampleRows fetches up to SampleSize source rows and evaluates the table's
// program over them, producing before/after pairs.
func (v *Validator) sampleRows(ctx context.Context, plan config.MigrationPlan, t config.TableJob) ([]status.SamplePair, error) {
	rows, err := v.Source.ReadBatch(ctx, t.SourceSchema, t.SourceTable, t.BatchColumn, SampleSize, nil)
	if err != nil {
		return nil, fmt.Errorf("read sample rows from %s: %w", t.QualifiedSource(), err)
	}

	keyMaps := transform.KeyMaps{}
	var pairs []status.SamplePair
	for _, row := range rows {
		mainTransforms, splitTransforms := partitionTransformations(t.Transformations)
		out, _, evalErr := transform.Evaluate(row, t.SimpleMappings, mainTransforms, keyMaps, v.Ports)
		if evalErr != nil {
			pairs = append(pairs, status.SamplePair{Source: renderRow(row), Transformed: map[string]string{"error": evalErr.Error()}})
			continue
		}
		for _, st := range splitTransforms {
			for col, val := range transform.EvalSplit(row, st) {
				out[col] = val
			}
		}
		pairs = append(pairs, status.SamplePair{Source: renderRow(row), Transformed: renderRow(out)})
	}
	return pairs, nil
}

func partitionTransformations(all []config.Transformation) (main []config.Transformation, split []config.Transformation) {
	for _, tr := range all {
		if tr.Kind == config.TransformSplit {
			split = append(split, tr)
			continue
		}
		main = append(main, tr)
	}
	return main, split
}

func renderRow(row rowdata.Row) map[string]string {
	out := make(map[string]string, len(row))
	for k, v := range row {
		if v.IsNull() {
			out[k] = "<null>"
			continue
		}
		out[k] = v.AsText()
	}
	return out
}

func (v *Validator) warnf(ctx context.Context, msg, role string, err error) {
	if v.Logger == nil {
		return
	}
	v.Logger.WarnContext(ctx, msg, "role", role, "error", err)
}
