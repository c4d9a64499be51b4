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

// Package status implements the Status Writer (C8): the three JSON
// artefacts an external dashboard watches (Progress, RowErrors, ErrorLog),
// written by full-file atomic replacement.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TableStatus is one table's lifecycle state within the run.
type TableStatus string

const (
	TablePending    TableStatus = "Pending"
	TableInProgress TableStatus = "InProgress"
	TableCompleted  TableStatus = "Completed"
	TableFailed     TableStatus = "Failed"
)

// RunStatus is the overall migration run's lifecycle state.
type RunStatus string

const (
	RunInProgress RunStatus = "InProgress"
	RunCompleted  RunStatus = "Completed"
	RunFailed     RunStatus = "Failed"
)

// TableProgress is one table's entry in the Progress artefact.
type TableProgress struct {
	SourceTable       string      `json:"sourceTable"`
	TargetTable       string      `json:"targetTable"`
	Status            TableStatus `json:"status"`
	TotalRows         int64       `json:"totalRows"`
	ProcessedRows     int64       `json:"processedRows"`
	LastBatchKeyValue string      `json:"lastBatchKeyValue"`
}

// Progress is the run state serialized as the Progress artefact.
type Progress struct {
	MigrationName  string          `json:"migrationName"`
	MigrationRunID string          `json:"migrationRunId"`
	StartedAt      time.Time       `json:"startedAt"`
	LastUpdatedAt  time.Time       `json:"lastUpdatedAt"`
	Status         RunStatus       `json:"status"`
	Tables         []TableProgress `json:"tables"`
}

// RowError is one failed row captured to the RowErrors artefact, with its
// full source snapshot for operator triage.
type RowError struct {
	SourceKeyValue string            `json:"sourceKeyValue"`
	ErrorTimestamp time.Time         `json:"errorTimestamp"`
	ErrorMessage   string            `json:"errorMessage"`
	SourceData     map[string]string `json:"sourceData"`
}

// TableRowErrors groups a table's RowError entries.
type TableRowErrors struct {
	SourceTable string     `json:"sourceTable"`
	TargetTable string     `json:"targetTable"`
	ErrorCount  int        `json:"errorCount"`
	Rows        []RowError `json:"rows"`
}

// RowErrors is the RowErrors artefact.
type RowErrors struct {
	MigrationName  string           `json:"migrationName"`
	MigrationRunID string           `json:"migrationRunId"`
	GeneratedAt    time.Time        `json:"generatedAt"`
	TotalRowErrors int              `json:"totalRowErrors"`
	Tables         []TableRowErrors `json:"tables"`
}

// LogEntry is one entry of the ErrorLog artefact.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Table     string    `json:"table,omitempty"`
	Message   string    `json:"message"`
}

// ErrorLog is the ErrorLog artefact.
type ErrorLog struct {
	MigrationName  string     `json:"migrationName"`
	MigrationRunID string     `json:"migrationRunId"`
	GeneratedAt    time.Time  `json:"generatedAt"`
	TotalEntries   int        `json:"totalEntries"`
	Entries        []LogEntry `json:"entries"`
}

// Now is the injectable clock the Writer stamps lastUpdatedAt/generatedAt
// with, so tests get deterministic timestamps (mirrors transform.Clock).
type Now func() time.Time

// Writer owns the three artefact files for one run and rewrites them, in
// full, after every meaningful state change.
type Writer struct {
	dir           string
	toolName      string
	migrationName string
	runID         string
	now           Now

	progress  Progress
	rowErrors RowErrors
	errorLog  ErrorLog

	tableIndex map[string]int // sourceTable -> index into progress.Tables
	rowIndex   map[string]int // sourceTable -> index into rowErrors.Tables
}

// filenames follows the convention
// "<toolName>_<migrationName>_<yyyyMMdd_HHmmss>_<kind>.json".
func filename(toolName, migrationName string, runTimestamp time.Time, kind string) string {
	return fmt.Sprintf("%s_%s_%s_%s.json", toolName, migrationName, runTimestamp.Format("20060102_150405"), kind)
}

// New starts a fresh Writer for a new run, with runID derived from the
// current run timestamp.
func New(dir, toolName, migrationName string, now Now, runTimestamp time.Time) *Writer {
	runID := runTimestamp.Format("20060102_150405")
	started := now()
	return &Writer{
		dir:           dir,
		toolName:      toolName,
		migrationName: migrationName,
		runID:         runID,
		now:           now,
		progress: Progress{
			MigrationName:  migrationName,
			MigrationRunID: runID,
			StartedAt:      started,
			LastUpdatedAt:  started,
			Status:         RunInProgress,
		},
		rowErrors: RowErrors{MigrationName: migrationName, MigrationRunID: runID, GeneratedAt: started},
		errorLog:  ErrorLog{MigrationName: migrationName, MigrationRunID: runID, GeneratedAt: started},
		tableIndex: map[string]int{},
		rowIndex:   map[string]int{},
	}
}

// Load resumes a Writer from an existing Progress artefact found on disk,
// reusing its runId. Row-errors/error-log artefacts for the
// same runId are loaded if present; their absence is not an error.
func Load(dir, toolName, migrationName string, now Now, progressPath string) (*Writer, error) {
	data, err := os.ReadFile(progressPath)
	if err != nil {
		return nil, fmt.Errorf("status: read progress %s: %w", progressPath, err)
	}
	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("status: parse progress %s: %w", progressPath, err)
	}

	w := &Writer{
		dir: dir, toolName: toolName, migrationName: migrationName, runID: p.MigrationRunID, now: now,
		progress:   p,
		rowErrors:  RowErrors{MigrationName: migrationName, MigrationRunID: p.MigrationRunID, GeneratedAt: now()},
		errorLog:   ErrorLog{MigrationName: migrationName, MigrationRunID: p.MigrationRunID, GeneratedAt: now()},
		tableIndex: map[string]int{},
		rowIndex:   map[string]int{},
	}
	for i, t := range p.Tables {
		w.tableIndex[t.SourceTable] = i
	}

	if rowErrPath := filename(toolName, migrationName, runTimestampFromID(p.MigrationRunID), "RowErrors"); fileExists(filepath.Join(dir, rowErrPath)) {
		if data, err := os.ReadFile(filepath.Join(dir, rowErrPath)); err == nil {
			var re RowErrors
			if json.Unmarshal(data, &re) == nil {
				w.rowErrors = re
				for i, t := range re.Tables {
					w.rowIndex[t.SourceTable] = i
				}
			}
		}
	}
	if logPath := filename(toolName, migrationName, runTimestampFromID(p.MigrationRunID), "ErrorLog"); fileExists(filepath.Join(dir, logPath)) {
		if data, err := os.ReadFile(filepath.Join(dir, logPath)); err == nil {
			var el ErrorLog
			if json.Unmarshal(data, &el) == nil {
				w.errorLog = el
			}
		}
	}

	return w, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func runTimestampFromID(runID string) time.Time {
	t, err := time.Parse("20060102_150405", runID)
	if err != nil {
		return time.Time{}
	}
	return t
}

// RunID reports the run identifier this Writer's artefacts are filed under.
func (w *Writer) RunID() string { return w.runID }

// Snapshot returns the current Progress artefact, for callers (the Run
// Coordinator's resume path) that need to inspect per-table status without
// re-reading the file from disk.
func (w *Writer) Snapshot() Progress { return w.progress }

// UpsertTable records or updates a table's progress entry and writes the
// Progress artefact.
func (w *Writer) UpsertTable(tp TableProgress) error {
	if i, ok := w.tableIndex[tp.SourceTable]; ok {
		w.progress.Tables[i] = tp
	} else {
		w.tableIndex[tp.SourceTable] = len(w.progress.Tables)
		w.progress.Tables = append(w.progress.Tables, tp)
	}
	return w.writeProgress()
}

// SetRunStatus updates the overall run status and writes the Progress
// artefact.
func (w *Writer) SetRunStatus(status RunStatus) error {
	w.progress.Status = status
	return w.writeProgress()
}

func (w *Writer) writeProgress() error {
	w.progress.LastUpdatedAt = w.now()
	return w.writeJSON("Progress", w.progress)
}

// AddRowError appends one row error for a table and rewrites the RowErrors
// artefact.
func (w *Writer) AddRowError(sourceTable, targetTable string, re RowError) error {
	i, ok := w.rowIndex[sourceTable]
	if !ok {
		i = len(w.rowErrors.Tables)
		w.rowIndex[sourceTable] = i
		w.rowErrors.Tables = append(w.rowErrors.Tables, TableRowErrors{SourceTable: sourceTable, TargetTable: targetTable})
	}
	w.rowErrors.Tables[i].Rows = append(w.rowErrors.Tables[i].Rows, re)
	w.rowErrors.Tables[i].ErrorCount = len(w.rowErrors.Tables[i].Rows)

	total := 0
	for _, t := range w.rowErrors.Tables {
		total += t.ErrorCount
	}
	w.rowErrors.TotalRowErrors = total
	w.rowErrors.GeneratedAt = w.now()
	return w.writeJSON("RowErrors", w.rowErrors)
}

// AppendLog appends one entry to the ErrorLog artefact and rewrites it.
func (w *Writer) AppendLog(level, table, message string) error {
	w.errorLog.Entries = append(w.errorLog.Entries, LogEntry{
		Timestamp: w.now(), Level: level, Table: table, Message: message,
	})
	w.errorLog.TotalEntries = len(w.errorLog.Entries)
	w.errorLog.GeneratedAt = w.now()
	return w.writeJSON("ErrorLog", w.errorLog)
}

// writeJSON atomically replaces the named artefact file: encode to a temp
// file in the same directory, then rename over the destination, so an
// external observer never sees a partially-written file.
func (w *Writer) writeJSON(kind string, v any) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("status: create directory %s: %w", w.dir, err)
	}
	dest := filepath.Join(w.dir, filename(w.toolName, w.migrationName, runTimestampFromID(w.runID), kind))

	tmp, err := os.CreateTemp(w.dir, ".status-*.tmp")
	if err != nil {
		return fmt.Errorf("status: create temp file for %s: %w", kind, err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		return fmt.Errorf("status: encode %s: %w", kind, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("status: close temp file for %s: %w", kind, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("status: rename into place for %s: %w", kind, err)
	}
	return nil
}

// ValidationSummary is the roll-up counters of the Validation artefact.
type ValidationSummary struct {
	TablesValidated int `json:"tablesValidated"`
	ErrorsFound     int `json:"errorsFound"`
	WarningsFound   int `json:"warningsFound"`
}

// ConfigValidation carries the Config Model's structural validation result
// into the Validation artefact's "configuration" section.
type ConfigValidation struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ConnectionCheck is one endpoint's open-then-close connectivity probe
// result.
type ConnectionCheck struct {
	IsValid  bool   `json:"isValid"`
	Provider string `json:"provider"`
	Server   string `json:"server"`
	Message  string `json:"message"`
}

// ConnectionChecks groups the source and target probe results.
type ConnectionChecks struct {
	Source ConnectionCheck `json:"source"`
	Target ConnectionCheck `json:"target"`
}

// SamplePair is one sampled source row and its transformed counterpart,
// rendered as column->text for artefact portability.
type SamplePair struct {
	Source      map[string]string `json:"source"`
	Transformed map[string]string `json:"transformed"`
}

// TableValidation is one table's dry-run check result.
type TableValidation struct {
	SourceTable    string       `json:"sourceTable"`
	TargetTable    string       `json:"targetTable"`
	IsValid        bool         `json:"isValid"`
	SourceRowCount int64        `json:"sourceRowCount"`
	Errors         []string     `json:"errors"`
	Warnings       []string     `json:"warnings"`
	SampleData     []SamplePair `json:"sampleData"`
}

// Validation is the dry-run artefact, written under a separate
// directory from the Progress/RowErrors/ErrorLog artefacts.
type Validation struct {
	MigrationName string            `json:"migrationName"`
	ValidatedAt   time.Time         `json:"validatedAt"`
	IsValid       bool              `json:"isValid"`
	Summary       ValidationSummary `json:"summary"`
	Configuration ConfigValidation  `json:"configuration"`
	Connections   ConnectionChecks  `json:"connections"`
	Tables        []TableValidation `json:"tables"`
}

// WriteValidation atomically writes the Validation artefact to dir, using
// the same filename convention as the run artefacts with kind
// "Validation", stamping ValidatedAt from now.
func WriteValidation(dir, toolName, migrationName string, now Now, v Validation) error {
	v.ValidatedAt = now()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("status: create directory %s: %w", dir, err)
	}
	dest := filepath.Join(dir, filename(toolName, migrationName, v.ValidatedAt, "Validation"))

	tmp, err := os.CreateTemp(dir, ".validation-*.tmp")
	if err != nil {
		return fmt.Errorf("status: create temp file for Validation: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		return fmt.Errorf("status: encode Validation: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("status: close temp file for Validation: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("status: rename into place for Validation: %w", err)
	}
	return nil
}

// FindLatestProgress locates the most recent Progress artefact for
// migrationName in dir, for the Run Coordinator's resume path. It
// returns ("", false, nil) when none exists.
func FindLatestProgress(dir, toolName, migrationName string) (path string, found bool, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("status: read directory %s: %w", dir, err)
	}

	prefix := fmt.Sprintf("%s_%s_", toolName, migrationName)
	const suffix = "_Progress.json"
	var best string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !hasPrefixSuffix(name, prefix, suffix) {
			continue
		}
		if name > best {
			best = name
		}
	}
	if best == "" {
		return "", false, nil
	}
	return filepath.Join(dir, best), true, nil
}

func hasPrefixSuffix(s, prefix, suffix string) bool {
	return len(s) >= len(prefix)+len(suffix) && s[:len(prefix)] == prefix && s[len(s)-len(suffix):] == suffix
}
