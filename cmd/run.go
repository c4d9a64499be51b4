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
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbmigrate/migrator/internal/config"
	"github.com/dbmigrate/migrator/internal/coordinator"
	"github.com/dbmigrate/migrator/internal/transform"
)

func newRunCommand(root *Command) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute the migration plan",
		RunE: func(cc *cobra.Command, args []string) error {
			return runMigration(root, cc)
		},
	}
}

func runMigration(root *Command, cc *cobra.Command) error {
	ctx, shutdown, err := root.Setup(cc.Context())
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(ctx) }()

	plan, err := root.loadPlan()
	if err != nil {
		return err
	}

	// credentials are solicited before validation so a SqlAuth connection
	// whose user was left out of the config can still pass the required
	// checks once the operator has supplied it.
	if err := root.solicitMissingCredentials("source", &plan.SourceConnection); err != nil {
		return err
	}
	if err := root.solicitMissingCredentials("target", &plan.TargetConnection); err != nil {
		return err
	}

	cfgResult := config.Validate(plan)
	if !cfgResult.IsValid() {
		for _, e := range cfgResult.Errors {
			root.Logger().ErrorContext(ctx, "configuration error", "error", e)
		}
		return fmt.Errorf("cmd: configuration invalid, see errors above")
	}

	source, target, err := root.openAdapters(ctx, root.Tracer(), &plan)
	if err != nil {
		return err
	}

	// SIGINT/SIGTERM request a cooperative stop: the in-progress batch runs
	// to completion (keeping the persisted lastBatchKeyValue truthful) and
	// the run then unwinds through the coordinator's teardown.
	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		root.Logger().WarnContext(ctx, "interrupt received, stopping at the next batch boundary")
		close(stop)
	}()

	coord := &coordinator.Coordinator{
		Source: source,
		Target: target,
		Logger: root.Logger(),
		Ports:  transform.DefaultPorts(),
		Now:    time.Now,
		Tracer: root.Tracer(),
	}

	outcome, runErr := coord.Run(ctx, plan, coordinator.Options{
		ArtifactDir: root.artifactDir,
		ToolName:    root.toolName,
		TableFilter: root.tableFilter,
		Resume:      root.resume,
		Stop:        stop,
	})

	code := coordinator.ExitCode(outcome, runErr)
	if code != 0 {
		if runErr != nil {
			return runErr
		}
		return fmt.Errorf("cmd: run finished with status %s", outcome.Status)
	}
	fmt.Fprintf(root.Out(), "migration %q completed: %d table(s) processed\n", plan.MigrationName, len(outcome.Tables))
	return nil
}
