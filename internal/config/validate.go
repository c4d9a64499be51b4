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
package config

import (
	"fmt"

	"github.com/dbmigrate/migrator/internal/sources"
	"github.com/go-playground/validator/v10"
)

// connectionValidation carries the struct tags
// (`validate:"required"`) for the fields a MigrationPlan's connections must
// carry; the XML model's looser typing needs a separate, explicit struct to
// run those tags against since ConnectionDescriptor itself has no tags.
// User is required only under SqlAuth — WindowsAuth and the Azure AD modes
// carry their credentials out of band, and a missing SqlAuth user is
// solicited interactively before dialing anyway.
type connectionValidation struct {
	Provider string `validate:"required"`
	Host     string `validate:"required"`
	AuthMode string
	User     string `validate:"required_if=AuthMode SqlAuth"`
}

var structValidator = validator.New()

// ValidationResult carries the errors and warnings structural validation
// produced; duplicate orders are a warning, not an error.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

func (r *ValidationResult) IsValid() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) addErr(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) addWarn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validate performs structural validation of the plan: required fields,
// provider enums, target-provider restriction, at least one table, unique
// orders (warning only), and that every referenced key-map parent exists
// with an earlier order and generate identity mode.
func Validate(plan MigrationPlan) ValidationResult {
	var r ValidationResult

	if plan.MigrationName == "" {
		r.addErr("migrationName is required")
	}

	validateConnection(&r, "source", plan.SourceConnection)
	validateConnection(&r, "target", plan.TargetConnection)

	switch plan.TargetConnection.Provider {
	case sources.ProviderSqlServer, sources.ProviderAzureSql:
	default:
		r.addErr("target provider must be SqlServer or AzureSql, got %q", plan.TargetConnection.Provider)
	}

	if len(plan.Tables) == 0 {
		r.addErr("at least one table is required")
	}

	orderSeen := map[int]bool{}
	orderToTable := map[int]string{}
	for _, t := range plan.Tables {
		if t.BatchColumn == "" {
			r.addErr("table %s: batchColumn is required", t.QualifiedSource())
		}
		if orderSeen[t.Order] {
			r.addWarn("duplicate order %d shared by %s and %s", t.Order, orderToTable[t.Order], t.QualifiedSource())
		}
		orderSeen[t.Order] = true
		orderToTable[t.Order] = t.QualifiedSource()

		switch t.IdentityMode {
		case IdentityPreserve, IdentityGenerate:
		default:
			r.addErr("table %s: identityMode must be preserve or generate, got %q", t.QualifiedSource(), t.IdentityMode)
		}
		switch t.ExistingDataAction {
		case ActionTruncate, ActionAppend:
		default:
			r.addErr("table %s: existingDataAction must be truncate or append, got %q", t.QualifiedSource(), t.ExistingDataAction)
		}

		targetColumns := map[string]bool{}
		for _, m := range t.SimpleMappings {
			if targetColumns[m.TargetColumn] {
				r.addWarn("table %s: target column %s mapped more than once", t.QualifiedSource(), m.TargetColumn)
			}
			targetColumns[m.TargetColumn] = true
		}

		// At most one transformation may write a given target column; split()
		// is the one variant with multiple targets instead of a single one.
		claimedTargets := map[string]bool{}
		claim := func(col string) {
			if claimedTargets[col] {
				r.addErr("table %s: target column %s is written by more than one transformation", t.QualifiedSource(), col)
			}
			claimedTargets[col] = true
		}
		for _, tr := range t.Transformations {
			if tr.Kind == TransformSplit {
				if len(tr.SplitTargets) == 0 {
					r.addErr("table %s: split() has no target columns", t.QualifiedSource())
				}
				for _, st := range tr.SplitTargets {
					claim(st.Column)
				}
				continue
			}
			if tr.Target == "" {
				r.addErr("table %s: transformation %s has no target column", t.QualifiedSource(), tr.Kind)
				continue
			}
			claim(tr.Target)
		}
	}

	validateKeyLookups(&r, plan)

	return r
}

func validateConnection(r *ValidationResult, role string, d sources.ConnectionDescriptor) {
	cv := connectionValidation{Provider: string(d.Provider), Host: d.Host, AuthMode: string(d.AuthMode), User: d.User}
	if err := structValidator.Struct(cv); err != nil {
		r.addErr("%s connection: %v", role, err)
		return
	}
	if err := sources.ValidateAuthMode(d.Provider, d.AuthMode); err != nil {
		r.addErr("%s connection: %v", role, err)
	}
}

// validateKeyLookups enforces "a keyLookup's referenced parent must have
// order < current table's order and identity mode = generate".
func validateKeyLookups(r *ValidationResult, plan MigrationPlan) {
	orderOf := map[string]int{}
	identityModeOf := map[string]IdentityMode{}
	for _, t := range plan.Tables {
		orderOf[t.QualifiedSource()] = t.Order
		identityModeOf[t.QualifiedSource()] = t.IdentityMode
	}

	for _, t := range plan.Tables {
		for _, tr := range t.Transformations {
			if tr.Kind != TransformKeyLookup {
				continue
			}
			parentOrder, known := orderOf[tr.KeyMapParentTable]
			if !known {
				r.addErr("table %s: keyLookup references unknown parent table %s", t.QualifiedSource(), tr.KeyMapParentTable)
				continue
			}
			if parentOrder >= t.Order {
				r.addErr("table %s: keyLookup parent %s must have an earlier order", t.QualifiedSource(), tr.KeyMapParentTable)
			}
			if identityModeOf[tr.KeyMapParentTable] != IdentityGenerate {
				r.addErr("table %s: keyLookup parent %s must have identityMode=generate", t.QualifiedSource(), tr.KeyMapParentTable)
			}
		}
	}
}
