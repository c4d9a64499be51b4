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

// Package cmd is the command-line entry point: a thin
// spf13/cobra shell that parses flags, loads the external XML configuration,
// constructs the ambient dependencies (logger, tracer), and delegates
// immediately into internal/coordinator or internal/validator. It owns no
// migration logic of its own.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dbmigrate/migrator/internal/log"

	// Blank-imported so each dialect package's init() registers itself with
	// the provider registry in internal/sources.
	_ "github.com/dbmigrate/migrator/internal/sources/mysql"
	_ "github.com/dbmigrate/migrator/internal/sources/oracle"
	_ "github.com/dbmigrate/migrator/internal/sources/postgres"
	_ "github.com/dbmigrate/migrator/internal/sources/sqlserver"
)

// Command is the root "migrator" command, carrying the persistent flags
// and the logger it constructs once Setup runs.
type Command struct {
	*cobra.Command

	cfgFile       string
	globalCfgFile string
	resume        bool
	tableFilter   bool
	logLevel      string
	logFormat     string
	artifactDir   string
	toolName      string

	out    io.Writer
	logger log.Logger
	tracer trace.Tracer
}

// NewCommand builds the root command and wires its run/validate subcommands.
func NewCommand() *Command {
	c := &Command{out: os.Stdout, toolName: "migrator"}

	c.Command = &cobra.Command{
		Use:   "migrator",
		Short: "Migrate data between heterogeneous SQL databases",
		Long: `migrator streams rows from a source relational database, transforms each
row via a declarative column-mapping program, and writes the result to a
SQL Server / Azure SQL target, with batch-granular resumability and
row-level error isolation.`,
		SilenceUsage: true,
	}

	flags := c.Command.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "path to the master migration config XML file")
	flags.StringVar(&c.globalCfgFile, "global-config", "", "path to the global config XML file")
	flags.BoolVar(&c.resume, "resume", false, "continue a prior run for this migration name")
	flags.BoolVar(&c.tableFilter, "table-filter", false, "restrict to tables whose inclusion flag is true")
	flags.StringVar(&c.logLevel, "log-level", "Info", "Error|Warning|Info|Verbose|Debug")
	flags.StringVar(&c.logFormat, "log-format", "standard", "standard|json")
	flags.StringVar(&c.artifactDir, "artifact-dir", "./artifacts", "directory the Progress/RowErrors/ErrorLog artefacts are written under")

	c.Command.AddCommand(newRunCommand(c), newValidateCommand(c))
	return c
}

// Out returns the writer the CLI prints user-facing output to.
func (c *Command) Out() io.Writer { return c.out }

// Logger returns the logger constructed by Setup.
func (c *Command) Logger() log.Logger { return c.logger }

// Tracer returns the tracer constructed by Setup.
func (c *Command) Tracer() trace.Tracer { return c.tracer }

// Setup constructs the process-wide logger from the --log-level/--log-format
// flags; every component receives it as a dependency rather than reaching
// for a package-level logger. A tracer is constructed alongside it from the
// global otel provider — exporter wiring stays a deployment concern, so with
// no SDK installed the spans are recorded as no-ops without any nil checks
// downstream. The returned shutdown func is a no-op placeholder, for
// symmetry with a future exporter teardown.
func (c *Command) Setup(ctx context.Context) (context.Context, func(context.Context) error, error) {
	level, err := severityToEngineLevel(c.logLevel)
	if err != nil {
		return ctx, nil, err
	}
	logger, err := log.NewLogger(c.logFormat, level, c.out, os.Stderr)
	if err != nil {
		return ctx, nil, fmt.Errorf("cmd: construct logger: %w", err)
	}
	c.logger = logger
	c.tracer = otel.Tracer("migrator")
	return ctx, func(context.Context) error { return nil }, nil
}

// severityToEngineLevel maps the CLI's five-level log-level enum onto the
// four slog-backed severities internal/log recognizes; Verbose has no
// distinct slog level and folds into Debug.
func severityToEngineLevel(level string) (string, error) {
	switch level {
	case "Error":
		return log.Error, nil
	case "Warning":
		return log.Warn, nil
	case "Info":
		return log.Info, nil
	case "Verbose", "Debug":
		return log.Debug, nil
	default:
		return "", fmt.Errorf("cmd: invalid --log-level %q", level)
	}
}

// Execute runs the root command against the process's real argv and returns
// the process exit code: 0 on success, non-zero on any fatal
// error, validation failure, or impossible resume. Each subcommand's RunE
// returns a non-nil error precisely in those non-zero cases, so Execute
// itself only needs to translate "did cobra return an error" into a code.
func Execute() int {
	cmd := NewCommand()
	if err := cmd.Command.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
