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

// Package migrator implements the Table Migrator (C6): the per-table state
// machine that fetches, transforms, inserts, and records progress for one
// TableJob.
package migrator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dbmigrate/migrator/internal/config"
	"github.com/dbmigrate/migrator/internal/cursor"
	"github.com/dbmigrate/migrator/internal/keymap"
	"github.com/dbmigrate/migrator/internal/log"
	"github.com/dbmigrate/migrator/internal/rowdata"
	"github.com/dbmigrate/migrator/internal/sources"
	"github.com/dbmigrate/migrator/internal/status"
	"github.com/dbmigrate/migrator/internal/transform"
	"github.com/dbmigrate/migrator/internal/util"
)

// Resume carries the persisted progress for one table, when the Run
// Coordinator is continuing a prior run.
type Resume struct {
	ProcessedRows     int64
	LastBatchKeyValue string
}

// Result is what a table's migration leaves behind for the Run
// Coordinator: its final status, and (for generate-mode parents) the table
// name the completed key map was persisted under, ready to be loaded into
// memory for descendant tables.
type Result struct {
	Status          status.TableStatus
	ProcessedRows   int64
	KeyMapTableName string // empty unless IdentityMode == generate
}

// Migrator runs one table end to end: fetch -> transform -> insert ->
// record progress.
type Migrator struct {
	Source   sources.Adapter
	Target   sources.Adapter
	KeyStore *keymap.Store
	Status   *status.Writer
	Logger   log.Logger
	Tracer   trace.Tracer
	Ports    transform.Ports

	// Stop, when non-nil, requests a cooperative shutdown: it is honored at
	// the next batch boundary, never mid-batch, so the persisted
	// lastBatchKeyValue always reflects a fully-acknowledged page.
	Stop <-chan struct{}
}

// Run executes one TableJob. keyMaps is the in-memory view of every
// already-completed parent's key map; Run never mutates it, and returns
// the name of its own table's key-map table (if any) in Result so the
// caller can load it and fold it in for descendants.
func (m *Migrator) Run(ctx context.Context, job config.TableJob, batchSize int, keyMaps transform.KeyMaps, resume *Resume) (Result, error) {
	ctx, span := m.startSpan(ctx, job)
	defer span.End()

	entry := status.TableProgress{
		SourceTable: job.QualifiedSource(),
		TargetTable: job.QualifiedTarget(),
		Status:      status.TableInProgress,
	}
	if resume != nil {
		// the persisted cursor must never move backwards, even if this
		// attempt dies before acknowledging its first batch.
		entry.ProcessedRows = resume.ProcessedRows
		entry.LastBatchKeyValue = resume.LastBatchKeyValue
	}
	if err := m.Status.UpsertTable(entry); err != nil {
		return Result{}, fmt.Errorf("migrator: record in-progress for %s: %w", job.QualifiedSource(), err)
	}

	totalRows, err := m.Source.RowCount(ctx, job.SourceSchema, job.SourceTable)
	if err != nil {
		// the count is best-effort, for progress reporting only: a failed
		// count does not abort the table.
		m.Logger.WarnContext(ctx, "migrator: row count failed, continuing without a total", "table", job.QualifiedSource(), "error", err)
		totalRows = 0
	}

	result, runErr := m.runTable(ctx, job, batchSize, keyMaps, resume, totalRows)
	if runErr != nil {
		m.Logger.ErrorContext(ctx, "migrator: table failed", "table", job.QualifiedSource(), "error", runErr)
		_ = m.Status.AppendLog("ERROR", job.QualifiedSource(), runErr.Error())
		failed := status.TableProgress{
			SourceTable: job.QualifiedSource(), TargetTable: job.QualifiedTarget(),
			Status: status.TableFailed, TotalRows: totalRows, ProcessedRows: result.ProcessedRows,
		}
		// keep the last acknowledged cursor so a failure never moves it backwards.
		for _, tp := range m.Status.Snapshot().Tables {
			if tp.SourceTable == failed.SourceTable {
				failed.LastBatchKeyValue = tp.LastBatchKeyValue
				failed.ProcessedRows = max(failed.ProcessedRows, tp.ProcessedRows)
			}
		}
		_ = m.Status.UpsertTable(failed)
		return result, runErr
	}
	return result, nil
}

func (m *Migrator) runTable(ctx context.Context, job config.TableJob, batchSize int, keyMaps transform.KeyMaps, resume *Resume, totalRows int64) (Result, error) {
	if job.ExistingDataAction == config.ActionTruncate && resume == nil {
		if err := m.truncateOrDelete(ctx, job); err != nil {
			return Result{}, util.NewBatchError(fmt.Sprintf("truncate %s", job.QualifiedTarget()), err)
		}
	}

	if err := m.Target.DisableTriggers(ctx, job.TargetSchema, job.TargetTable); err != nil {
		return Result{}, util.NewBatchError(fmt.Sprintf("disable triggers on %s", job.QualifiedTarget()), err)
	}
	defer func() {
		if err := m.Target.EnableTriggers(ctx, job.TargetSchema, job.TargetTable); err != nil {
			m.Logger.WarnContext(ctx, "migrator: re-enable triggers failed", "table", job.QualifiedTarget(), "error", err)
		}
	}()

	var keyMapTable string
	var pendingPairs []sources.KeyPair
	if job.IdentityMode == config.IdentityGenerate {
		var err error
		if resume != nil {
			keyMapTable, err = m.KeyStore.EnsureTable(ctx, job.QualifiedSource())
		} else {
			keyMapTable, err = m.KeyStore.CreateForTable(ctx, job.QualifiedSource())
		}
		if err != nil {
			return Result{}, util.NewBatchError(fmt.Sprintf("create key-map table for %s", job.QualifiedSource()), err)
		}
	}

	identityColumn, insertColumns, err := m.resolveColumns(ctx, job)
	if err != nil {
		return Result{}, util.NewSchemaError(fmt.Sprintf("introspect target %s", job.QualifiedTarget()), err)
	}

	var resumeKey *rowdata.Value
	processedRows := int64(0)
	lastBatchKeyValue := ""
	if resume != nil {
		v := rowdata.Text(resume.LastBatchKeyValue)
		resumeKey = &v
		processedRows = resume.ProcessedRows
		lastBatchKeyValue = resume.LastBatchKeyValue
	}

	cur := cursor.New(m.Source, job.SourceSchema, job.SourceTable, job.BatchColumn, batchSize, resumeKey)

	for !cur.Done() {
		select {
		case <-ctx.Done():
			return Result{Status: status.TableInProgress, ProcessedRows: processedRows}, ctx.Err()
		case <-m.Stop:
			return Result{Status: status.TableInProgress, ProcessedRows: processedRows}, context.Canceled
		default:
		}

		page, err := cur.Next(ctx)
		if err != nil {
			return Result{ProcessedRows: processedRows}, util.NewBatchError(fmt.Sprintf("read batch from %s", job.QualifiedSource()), err)
		}
		if len(page) == 0 {
			break
		}

		transformed, pageLast, err := m.transformPage(ctx, job, page, keyMaps)
		if err != nil {
			return Result{ProcessedRows: processedRows}, err
		}

		inserted, insertErr := m.insertPage(ctx, job, transformed, insertColumns, identityColumn, &pendingPairs)
		if insertErr != nil {
			return Result{ProcessedRows: processedRows + int64(inserted)}, util.NewBatchError(fmt.Sprintf("bulk insert into %s", job.QualifiedTarget()), insertErr)
		}

		if len(pendingPairs) > 0 && keyMapTable != "" {
			if err := m.KeyStore.AppendBatch(ctx, keyMapTable, pendingPairs); err != nil {
				return Result{ProcessedRows: processedRows + int64(inserted)}, util.NewBatchError(fmt.Sprintf("persist key-map for %s", job.QualifiedSource()), err)
			}
			pendingPairs = pendingPairs[:0]
		}

		processedRows += int64(inserted)
		if pageLast != "" {
			lastBatchKeyValue = pageLast
		}

		if err := m.Status.UpsertTable(status.TableProgress{
			SourceTable: job.QualifiedSource(), TargetTable: job.QualifiedTarget(),
			Status: status.TableInProgress, TotalRows: totalRows,
			ProcessedRows: processedRows, LastBatchKeyValue: lastBatchKeyValue,
		}); err != nil {
			return Result{ProcessedRows: processedRows}, fmt.Errorf("migrator: record progress for %s: %w", job.QualifiedSource(), err)
		}
	}

	if err := m.Status.UpsertTable(status.TableProgress{
		SourceTable: job.QualifiedSource(), TargetTable: job.QualifiedTarget(),
		Status: status.TableCompleted, TotalRows: totalRows,
		ProcessedRows: processedRows, LastBatchKeyValue: lastBatchKeyValue,
	}); err != nil {
		return Result{ProcessedRows: processedRows}, fmt.Errorf("migrator: record completion for %s: %w", job.QualifiedSource(), err)
	}

	return Result{Status: status.TableCompleted, ProcessedRows: processedRows, KeyMapTableName: keyMapTable}, nil
}

func (m *Migrator) truncateOrDelete(ctx context.Context, job config.TableJob) error {
	if err := m.Target.TruncateTable(ctx, job.TargetSchema, job.TargetTable); err != nil {
		// referential integrity can block TRUNCATE; fall back to DELETE.
		m.Logger.WarnContext(ctx, "migrator: truncate failed, falling back to delete", "table", job.QualifiedTarget(), "error", err)
		return m.Target.DeleteAllRows(ctx, job.TargetSchema, job.TargetTable)
	}
	return nil
}

// resolveColumns introspects the target table and derives the insert
// column set, dropping the identity column when IdentityMode == generate
// so the generated-key path never names the identity column in an insert.
func (m *Migrator) resolveColumns(ctx context.Context, job config.TableJob) (identityColumn string, insertColumns []string, err error) {
	allColumns, err := m.Target.ListColumns(ctx, job.TargetSchema, job.TargetTable)
	if err != nil {
		return "", nil, err
	}

	identityColumn = job.IdentityColumn
	if identityColumn == "" {
		if col, ok, err := m.Target.IdentityColumn(ctx, job.TargetSchema, job.TargetTable); err == nil && ok {
			identityColumn = col
		}
	}

	mappedTargets := map[string]bool{}
	for _, mp := range job.SimpleMappings {
		mappedTargets[mp.TargetColumn] = true
	}
	for _, tr := range job.Transformations {
		if tr.Kind == config.TransformSplit {
			for _, st := range tr.SplitTargets {
				mappedTargets[st.Column] = true
			}
			continue
		}
		mappedTargets[tr.Target] = true
	}

	for _, c := range allColumns {
		if job.IdentityMode == config.IdentityGenerate && c.Name == identityColumn {
			continue
		}
		if !mappedTargets[c.Name] {
			continue
		}
		insertColumns = append(insertColumns, c.Name)
	}
	return identityColumn, insertColumns, nil
}

// transformPage evaluates the program over every row of a page. A row whose
// evaluation fails is recorded to RowErrors and excluded from the returned
// rows; it never aborts the page.
func (m *Migrator) transformPage(ctx context.Context, job config.TableJob, page []rowdata.Row, keyMaps transform.KeyMaps) (rows []rowdata.Row, lastBatchKeyText string, err error) {
	splitTransforms := make([]config.Transformation, 0)
	mainTransforms := make([]config.Transformation, 0, len(job.Transformations))
	for _, tr := range job.Transformations {
		if tr.Kind == config.TransformSplit {
			splitTransforms = append(splitTransforms, tr)
			continue
		}
		mainTransforms = append(mainTransforms, tr)
	}

	for _, src := range page {
		trackingKey := src[job.BatchColumn].AsText()
		lastBatchKeyText = trackingKey

		out, _, evalErr := transform.Evaluate(src, job.SimpleMappings, mainTransforms, keyMaps, m.Ports)
		if evalErr != nil {
			if err := m.Status.AddRowError(job.QualifiedSource(), job.QualifiedTarget(), rowErrorFrom(trackingKey, evalErr, src)); err != nil {
				return nil, "", fmt.Errorf("migrator: record row error for %s: %w", job.QualifiedSource(), err)
			}
			continue
		}
		for _, st := range splitTransforms {
			for col, v := range transform.EvalSplit(src, st) {
				out[col] = v
			}
		}
		setTrackingKey(out, trackingKey)
		rows = append(rows, out)
	}
	return rows, lastBatchKeyText, nil
}

func containsColumn(columns []string, name string) bool {
	for _, c := range columns {
		if c == name {
			return true
		}
	}
	return false
}

const trackingKeyColumn = "__dbmigrate_tracking_key"

func setTrackingKey(r rowdata.Row, key string) { r[trackingKeyColumn] = rowdata.Text(key) }

func rowErrorFrom(trackingKey string, err error, src rowdata.Row) status.RowError {
	snapshot := make(map[string]string, len(src))
	for k, v := range src {
		if k == trackingKeyColumn {
			continue
		}
		snapshot[k] = v.AsText()
	}
	return status.RowError{SourceKeyValue: trackingKey, ErrorMessage: err.Error(), SourceData: snapshot}
}

// insertPage applies the per-table insert policy, returning the count of
// rows successfully inserted.
func (m *Migrator) insertPage(ctx context.Context, job config.TableJob, rows []rowdata.Row, insertColumns []string, identityColumn string, pendingPairs *[]sources.KeyPair) (int, error) {
	switch {
	case job.IdentityMode == config.IdentityGenerate && identityColumn != "":
		return m.insertRowByRow(ctx, job, rows, insertColumns, identityColumn, pendingPairs)
	case job.IdentityMode == config.IdentityPreserve && identityColumn != "":
		if err := m.Target.SetIdentityInsert(ctx, job.TargetSchema, job.TargetTable, true); err != nil {
			return 0, err
		}
		defer func() {
			if err := m.Target.SetIdentityInsert(ctx, job.TargetSchema, job.TargetTable, false); err != nil {
				m.Logger.WarnContext(ctx, "migrator: disable explicit identity insert failed", "table", job.QualifiedTarget(), "error", err)
			}
		}()
		columns := insertColumns
		if !containsColumn(columns, identityColumn) {
			columns = append(append([]string{}, insertColumns...), identityColumn)
		}
		if err := m.Target.BulkInsert(ctx, job.TargetSchema, job.TargetTable, columns, rows); err != nil {
			return 0, err
		}
		return len(rows), nil
	default:
		if err := m.Target.BulkInsert(ctx, job.TargetSchema, job.TargetTable, insertColumns, rows); err != nil {
			return 0, err
		}
		return len(rows), nil
	}
}

// insertRowByRow inserts one row at a time so each generated identity value
// can be captured and paired with its tracking key for the key map; the
// throughput cost is inherent, since a bulk insert returns no per-row
// identities. A single row's insert failure is recorded to RowErrors and
// does not abort the page.
func (m *Migrator) insertRowByRow(ctx context.Context, job config.TableJob, rows []rowdata.Row, insertColumns []string, identityColumn string, pendingPairs *[]sources.KeyPair) (int, error) {
	inserted := 0
	for _, row := range rows {
		trackingKey := row[trackingKeyColumn].AsText()
		newKey, err := m.Target.InsertOne(ctx, job.TargetSchema, job.TargetTable, row, insertColumns, identityColumn, true)
		if err != nil {
			if recErr := m.Status.AddRowError(job.QualifiedSource(), job.QualifiedTarget(), rowErrorFrom(trackingKey, err, row)); recErr != nil {
				return inserted, recErr
			}
			continue
		}
		*pendingPairs = append(*pendingPairs, sources.KeyPair{OldKey: trackingKey, NewKey: newKey})
		inserted++
	}
	return inserted, nil
}

func (m *Migrator) startSpan(ctx context.Context, job config.TableJob) (context.Context, trace.Span) {
	if m.Tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return m.Tracer.Start(ctx, "migrator/table",
		trace.WithAttributes(
			attribute.String("source.table", job.QualifiedSource()),
			attribute.String("target.table", job.QualifiedTarget()),
			attribute.Int("order", job.Order),
		),
	)
}
