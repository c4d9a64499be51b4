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

// Package coordinator implements the Run Coordinator (C7): sequences the
// Table Migrator across a MigrationPlan's tables in declared order, wires a
// fresh-run or resume setup, accumulates key maps from completed
// generate-mode parents, and runs teardown unconditionally on exit.
package coordinator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/dbmigrate/migrator/internal/config"
	"github.com/dbmigrate/migrator/internal/keymap"
	"github.com/dbmigrate/migrator/internal/log"
	"github.com/dbmigrate/migrator/internal/migrator"
	"github.com/dbmigrate/migrator/internal/sources"
	"github.com/dbmigrate/migrator/internal/status"
	"github.com/dbmigrate/migrator/internal/transform"
	"github.com/dbmigrate/migrator/internal/util"
)

// Options configures one invocation of Run.
type Options struct {
	ArtifactDir string // directory the Status Writer's JSON artefacts are filed under
	ToolName    string // first segment of the artefact filename convention, e.g. "migrator"
	TableFilter bool   // when true, restrict to tables whose Included flag is set
	Resume      bool   // when true, require and continue a prior run

	// Stop, when non-nil, requests a cooperative shutdown (e.g. on SIGINT):
	// the in-progress batch runs to completion, then the run unwinds through
	// teardown.
	Stop <-chan struct{}
}

// Outcome summarizes a completed (or failed) coordinator run for the CLI's
// exit-code decision.
type Outcome struct {
	RunID  string
	Status status.RunStatus
	Tables []migrator.Result
}

// Coordinator owns the two open adapters and the shared Status Writer
// across a full run.
type Coordinator struct {
	Source sources.Adapter
	Target sources.Adapter
	Logger log.Logger
	Ports  transform.Ports
	Now    status.Now
	Tracer trace.Tracer
}

// Run executes plan's tables in declared order and always runs teardown
// before returning.
func (c *Coordinator) Run(ctx context.Context, plan config.MigrationPlan, opts Options) (Outcome, error) {
	tables := selectTables(plan.Tables, opts.TableFilter)

	writer, keyMaps, err := c.setup(ctx, plan, opts, tables)
	if err != nil {
		c.teardown(ctx, map[string]string{})
		return Outcome{}, err
	}

	outcome := Outcome{RunID: writer.RunID(), Status: status.RunInProgress}
	keyMapTables := map[string]string{} // sourceTable -> key-map table name, for teardown drop

	runErr := c.runTables(ctx, plan, tables, writer, keyMaps, keyMapTables, opts.Stop, &outcome)

	if runErr != nil {
		outcome.Status = status.RunFailed
		_ = writer.SetRunStatus(status.RunFailed)
		_ = writer.AppendLog("ERROR", "", runErr.Error())
	} else {
		outcome.Status = status.RunCompleted
		_ = writer.SetRunStatus(status.RunCompleted)
	}

	c.teardown(ctx, keyMapTables)

	return outcome, runErr
}

func selectTables(tables []config.TableJob, tableFilter bool) []config.TableJob {
	out := make([]config.TableJob, 0, len(tables))
	for _, t := range tables {
		if tableFilter && !t.Included {
			continue
		}
		out = append(out, t)
	}
	return out
}

// setup opens the fresh-run or resume path: on fresh run it disables all
// target constraints and drops stale key-map tables before any table is
// touched; on resume it locates the latest Progress artefact for this
// migration name and requires one to exist.
func (c *Coordinator) setup(ctx context.Context, plan config.MigrationPlan, opts Options, tables []config.TableJob) (*status.Writer, transform.KeyMaps, error) {
	if opts.Resume {
		progressPath, found, err := status.FindLatestProgress(opts.ArtifactDir, opts.ToolName, plan.MigrationName)
		if err != nil {
			return nil, nil, util.NewConfigurationError("locate prior progress artefact", err)
		}
		if !found {
			return nil, nil, util.NewConfigurationError(fmt.Sprintf("resume requested but no prior run found for migration %q", plan.MigrationName), nil)
		}
		writer, err := status.Load(opts.ArtifactDir, opts.ToolName, plan.MigrationName, c.Now, progressPath)
		if err != nil {
			return nil, nil, util.NewConfigurationError("load prior progress artefact", err)
		}
		// the prior run's teardown re-enabled constraints, so a resumed run
		// must suppress them again before any table is written.
		if err := c.Target.DisableAllConstraints(ctx); err != nil {
			return nil, nil, util.NewConnectivityError("disable target constraints", err)
		}
		keyMaps, err := c.rebuildKeyMaps(ctx, plan, tables, writer)
		if err != nil {
			return nil, nil, err
		}
		return writer, keyMaps, nil
	}

	if err := c.Target.DisableAllConstraints(ctx); err != nil {
		return nil, nil, util.NewConnectivityError("disable target constraints", err)
	}
	keyStore := keymap.NewStore(c.Target, c.Logger)
	if err := keyStore.DropStaleTables(ctx); err != nil {
		c.Logger.WarnContext(ctx, "coordinator: drop stale key-map tables failed", "error", err)
	}

	writer := status.New(opts.ArtifactDir, opts.ToolName, plan.MigrationName, c.Now, c.Now())
	for _, t := range tables {
		if err := writer.UpsertTable(status.TableProgress{
			SourceTable: t.QualifiedSource(),
			TargetTable: t.QualifiedTarget(),
			Status:      status.TablePending,
		}); err != nil {
			return nil, nil, fmt.Errorf("coordinator: seed pending entry for %s: %w", t.QualifiedSource(), err)
		}
	}
	return writer, transform.KeyMaps{}, nil
}

// rebuildKeyMaps reloads the key map of every completed generate-mode
// parent that a still-pending table's keyLookup references, so a resumed
// child sees the same in-memory map an uninterrupted run would have handed
// it. A needed key-map table that no longer exists on the target makes the
// resume impossible: the generated keys it held are unrecoverable, so the
// coordinator fails loudly instead of silently emitting lookup misses.
func (c *Coordinator) rebuildKeyMaps(ctx context.Context, plan config.MigrationPlan, tables []config.TableJob, writer *status.Writer) (transform.KeyMaps, error) {
	keyStore := keymap.NewStore(c.Target, c.Logger)
	keyMaps := transform.KeyMaps{}
	progress := writer.Snapshot()
	completed := map[string]bool{}
	for _, tp := range progress.Tables {
		if tp.Status == status.TableCompleted {
			completed[tp.SourceTable] = true
		}
	}

	needed := map[string]bool{}
	for _, t := range tables {
		if completed[t.QualifiedSource()] {
			continue
		}
		for _, tr := range t.Transformations {
			if tr.Kind == config.TransformKeyLookup {
				needed[tr.KeyMapParentTable] = true
			}
		}
	}

	for _, t := range tables {
		if t.IdentityMode != config.IdentityGenerate || !completed[t.QualifiedSource()] || !needed[t.QualifiedSource()] {
			continue
		}
		keyMapTable := keymap.DeriveTableName(t.QualifiedSource())
		loaded, err := keyStore.LoadAll(ctx, keyMapTable)
		if err != nil {
			return nil, util.NewConfigurationError(fmt.Sprintf("resume impossible: key map for completed parent %s is no longer available", t.QualifiedSource()), err)
		}
		keyMaps[t.QualifiedSource()] = loaded
	}
	return keyMaps, nil
}

func (c *Coordinator) runTables(ctx context.Context, plan config.MigrationPlan, tables []config.TableJob, writer *status.Writer, keyMaps transform.KeyMaps, keyMapTables map[string]string, stop <-chan struct{}, outcome *Outcome) error {
	keyStore := keymap.NewStore(c.Target, c.Logger)
	m := &migrator.Migrator{
		Source:   c.Source,
		Target:   c.Target,
		KeyStore: keyStore,
		Status:   writer,
		Logger:   c.Logger,
		Tracer:   c.Tracer,
		Ports:    c.Ports,
		Stop:     stop,
	}

	progress := writer.Snapshot()
	statusByTable := map[string]status.TableProgress{}
	for _, tp := range progress.Tables {
		statusByTable[tp.SourceTable] = tp
	}

	for _, job := range tables {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return context.Canceled
		default:
		}

		var resume *migrator.Resume
		if prior, ok := statusByTable[job.QualifiedSource()]; ok {
			switch prior.Status {
			case status.TableCompleted:
				outcome.Tables = append(outcome.Tables, migrator.Result{Status: status.TableCompleted, ProcessedRows: prior.ProcessedRows})
				if job.IdentityMode == config.IdentityGenerate {
					keyMapTables[job.QualifiedSource()] = keymap.DeriveTableName(job.QualifiedSource())
				}
				continue
			case status.TableInProgress, status.TableFailed:
				// any table with an acknowledged key continues from it; one
				// that never acknowledged a batch restarts from the beginning.
				if prior.LastBatchKeyValue != "" {
					resume = &migrator.Resume{ProcessedRows: prior.ProcessedRows, LastBatchKeyValue: prior.LastBatchKeyValue}
				}
			}
		}

		if job.IdentityMode == config.IdentityGenerate {
			// registered before the table runs, so teardown still drops the
			// key-map table when the table fails partway through.
			keyMapTables[job.QualifiedSource()] = keymap.DeriveTableName(job.QualifiedSource())
		}

		result, err := m.Run(ctx, job, plan.BatchSize, keyMaps, resume)
		outcome.Tables = append(outcome.Tables, result)
		if result.KeyMapTableName != "" {
			loaded, loadErr := keyStore.LoadAll(ctx, result.KeyMapTableName)
			if loadErr == nil {
				keyMaps[job.QualifiedSource()] = loaded
			}
		}
		if err != nil {
			return fmt.Errorf("coordinator: table %s: %w", job.QualifiedSource(), err)
		}
	}
	return nil
}

// teardown always runs, regardless of how the run finished: each step is
// individually fault-tolerant and logged at Warning on failure, never
// suppressing the remaining steps.
func (c *Coordinator) teardown(ctx context.Context, keyMapTables map[string]string) {
	keyStore := keymap.NewStore(c.Target, c.Logger)
	names := make([]string, 0, len(keyMapTables))
	for _, n := range keyMapTables {
		names = append(names, n)
	}
	if len(names) > 0 {
		keyStore.DropAll(ctx, names)
	}
	// sweep by prefix as well, so nothing this run created survives even if
	// it was never registered (e.g. a table that failed before reporting).
	if err := keyStore.DropStaleTables(ctx); err != nil {
		c.Logger.WarnContext(ctx, "coordinator: key-map table sweep failed", "error", err)
	}

	if err := c.Target.EnableAllConstraints(ctx); err != nil {
		c.Logger.WarnContext(ctx, "coordinator: re-enable target constraints failed", "error", err)
	}
	if err := c.Source.Close(); err != nil {
		c.Logger.WarnContext(ctx, "coordinator: close source connection failed", "error", err)
	}
	if err := c.Target.Close(); err != nil {
		c.Logger.WarnContext(ctx, "coordinator: close target connection failed", "error", err)
	}
}

// ExitCode maps a run outcome to the process exit status: 0 on a
// completed run, non-zero on any fatal error.
func ExitCode(outcome Outcome, runErr error) int {
	if runErr != nil || outcome.Status != status.RunCompleted {
		return 1
	}
	return 0
}
