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
package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbmigrate/migrator/internal/sources"
	"github.com/dbmigrate/migrator/internal/status"
	"github.com/dbmigrate/migrator/internal/transform"
	"github.com/dbmigrate/migrator/internal/validator"
)

func newValidateCommand(root *Command) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Dry-run the migration plan without writing target data",
		RunE: func(cc *cobra.Command, args []string) error {
			return runValidate(root, cc)
		},
	}
}

func runValidate(root *Command, cc *cobra.Command) error {
	ctx, shutdown, err := root.Setup(cc.Context())
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(ctx) }()

	plan, err := root.loadPlan()
	if err != nil {
		return err
	}

	if err := root.solicitMissingCredentials("source", &plan.SourceConnection); err != nil {
		return err
	}
	if err := root.solicitMissingCredentials("target", &plan.TargetConnection); err != nil {
		return err
	}

	// The per-table schema/sample checks reuse one long-lived pair of
	// adapters; SourceDial/TargetDial below instead open-and-close a second,
	// short-lived connection purely to prove each endpoint can be opened and
	// closed, independent of this pair's lifetime.
	source, err := sources.Open(ctx, root.Tracer(), plan.SourceConnection)
	if err != nil {
		return fmt.Errorf("cmd: open source for validation: %w", err)
	}
	defer func() { _ = source.Close() }()

	target, err := sources.Open(ctx, root.Tracer(), plan.TargetConnection)
	if err != nil {
		return fmt.Errorf("cmd: open target for validation: %w", err)
	}
	defer func() { _ = target.Close() }()

	v := &validator.Validator{
		Source: source,
		Target: target,
		Logger: root.Logger(),
		Ports:  transform.DefaultPorts(),
		SourceDial: func(ctx context.Context) (sources.Adapter, error) {
			return sources.Open(ctx, root.Tracer(), plan.SourceConnection)
		},
		TargetDial: func(ctx context.Context) (sources.Adapter, error) {
			return sources.Open(ctx, root.Tracer(), plan.TargetConnection)
		},
	}

	result := v.Validate(ctx, plan)

	// validation artefacts live apart from the run artefacts so the dashboard
	// never confuses a dry-run with live progress.
	validationDir := filepath.Join(root.artifactDir, "validation")
	if err := status.WriteValidation(validationDir, root.toolName, plan.MigrationName, time.Now, result); err != nil {
		return fmt.Errorf("cmd: write validation artefact: %w", err)
	}

	fmt.Fprintf(root.Out(), "validation for %q: valid=%v, tables=%d, errors=%d, warnings=%d\n",
		plan.MigrationName, result.IsValid, result.Summary.TablesValidated, result.Summary.ErrorsFound, result.Summary.WarningsFound)

	if !result.IsValid {
		return fmt.Errorf("cmd: validation failed with %d error(s)", result.Summary.ErrorsFound)
	}
	return nil
}
