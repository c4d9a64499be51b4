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
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/dbmigrate/migrator/internal/config"
	"github.com/dbmigrate/migrator/internal/sources"
)

// loadPlan reads the global config (optional) and the master config (and
// its table-map files), returning the merged MigrationPlan. It does not
// validate the plan; callers run config.Validate themselves so the two
// subcommands can react differently (validate reports, run aborts).
func (c *Command) loadPlan() (config.MigrationPlan, error) {
	if c.cfgFile == "" {
		return config.MigrationPlan{}, fmt.Errorf("cmd: --config is required")
	}

	if c.globalCfgFile != "" {
		global, err := config.LoadGlobalConfig(c.globalCfgFile)
		if err != nil {
			return config.MigrationPlan{}, fmt.Errorf("cmd: load global config: %w", err)
		}
		if !c.Command.PersistentFlags().Changed("log-level") && global.DefaultLogLevel != "" {
			c.logLevel = global.DefaultLogLevel
		}
	}

	plan, errs := config.LoadMasterConfig(c.cfgFile)
	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return config.MigrationPlan{}, fmt.Errorf("cmd: load master config: %s", strings.Join(msgs, "; "))
	}
	return plan, nil
}

// solicitMissingCredentials prompts on stdin for SqlAuth credentials absent
// from the loaded config; they must be in hand before any connection
// attempt is made.
// Non-SqlAuth modes (WindowsAuth, InteractiveBrowser, CliDelegated) supply
// their own credentials out of band and are left untouched.
func (c *Command) solicitMissingCredentials(role string, desc *sources.ConnectionDescriptor) error {
	if desc.AuthMode != sources.AuthSqlAuth {
		return nil
	}
	reader := bufio.NewReader(os.Stdin)
	if desc.User == "" {
		fmt.Fprintf(c.out, "%s user: ", role)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("cmd: read %s user: %w", role, err)
		}
		desc.User = strings.TrimSpace(line)
	}
	if desc.Password == "" {
		fmt.Fprintf(c.out, "%s password: ", role)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("cmd: read %s password: %w", role, err)
		}
		desc.Password = strings.TrimSpace(line)
	}
	return nil
}

// openAdapters dials both endpoints, soliciting missing SqlAuth credentials
// first. On any failure it closes whichever adapter already opened.
func (c *Command) openAdapters(ctx context.Context, tracer trace.Tracer, plan *config.MigrationPlan) (source, target sources.Adapter, err error) {
	if err := c.solicitMissingCredentials("source", &plan.SourceConnection); err != nil {
		return nil, nil, err
	}
	if err := c.solicitMissingCredentials("target", &plan.TargetConnection); err != nil {
		return nil, nil, err
	}

	source, err = sources.Open(ctx, tracer, plan.SourceConnection)
	if err != nil {
		return nil, nil, fmt.Errorf("cmd: open source connection: %w", err)
	}
	target, err = sources.Open(ctx, tracer, plan.TargetConnection)
	if err != nil {
		_ = source.Close()
		return nil, nil, fmt.Errorf("cmd: open target connection: %w", err)
	}
	return source, target, nil
}
