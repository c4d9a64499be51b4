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

// Package transform implements the Transform Evaluator (C3): a pure
// function from (sourceRow, simple mappings, transformations, key maps) to
// a targetRow, plus the scoped expression and predicate grammars the
// calculated() and conditional() variants use.
package transform

import (
	"os"
	"os/user"
	"time"

	"github.com/google/uuid"
)

// Clock is the injectable port behind nowLocal/nowUtc, so tests get
// deterministic timestamps instead of wall-clock time.
type Clock interface {
	NowLocal() time.Time
	NowUtc() time.Time
}

// UUIDGen is the injectable port behind newGuid.
type UUIDGen interface {
	NewUUID() string
}

// CurrentUserProvider is the injectable port behind currentUser.
type CurrentUserProvider interface {
	CurrentUser() string
}

// SystemClock is the production Clock, backed by time.Now.
type SystemClock struct{}

func (SystemClock) NowLocal() time.Time { return time.Now() }
func (SystemClock) NowUtc() time.Time   { return time.Now().UTC() }

// SystemUUIDGen is the production UUIDGen, backed by google/uuid's random
// (version 4) generator.
type SystemUUIDGen struct{}

func (SystemUUIDGen) NewUUID() string { return uuid.New().String() }

// SystemCurrentUser is the production CurrentUserProvider, reporting the
// OS process principal.
type SystemCurrentUser struct{}

func (SystemCurrentUser) CurrentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USERNAME"); name != "" {
		return name
	}
	return os.Getenv("USER")
}

// Ports bundles the three injectable non-deterministic dependencies the
// static() transformation needs.
type Ports struct {
	Clock       Clock
	UUIDGen     UUIDGen
	CurrentUser CurrentUserProvider
}

// DefaultPorts returns the production Ports used outside of tests.
func DefaultPorts() Ports {
	return Ports{Clock: SystemClock{}, UUIDGen: SystemUUIDGen{}, CurrentUser: SystemCurrentUser{}}
}
