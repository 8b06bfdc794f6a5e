// Copyright 2023 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package health

import (
	"context"
	"io"
)

//nolint:gochecknoglobals
var (
	// NopChecker is a checker implementation that does nothing. It never
	// updates the state of any endpoint and uses no resources.
	NopChecker Checker = nopChecker{}
)

// Checker manages health checks. It creates a new checking process for each
// cluster membership it is asked to watch. Each process can be independently
// stopped.
type Checker interface {
	// New creates a new health-checking process for the given endpoint
	// addresses. The process should release resources (including stopping any
	// goroutines) when the given context is cancelled or the returned value
	// is closed. Close must not return until the process has fully stopped;
	// after Close returns, the process must not call the tracker again.
	//
	// The process should use the Tracker to record the results of the health
	// checks. It should NOT directly call the Tracker from this method
	// implementation. If the implementation wants to immediately update
	// health state, it must do so from a goroutine.
	New(ctx context.Context, endpoints []string, tracker Tracker) io.Closer
}

// Tracker represents an object that tracks the health state of the endpoints
// of one cluster. This is the interface through which a Checker communicates
// state updates.
type Tracker interface {
	UpdateHealthState(addr string, state State)
}

// CheckerFactory constructs checkers from wire health-check configurations.
// Protocols reports the set of health-check protocols the factory can
// execute; it is what a client declares as its capabilities.
type CheckerFactory interface {
	NewChecker(config Config) (Checker, error)
	Protocols() []Protocol
}

type nopChecker struct{}

func (n nopChecker) New(_ context.Context, _ []string, _ Tracker) io.Closer {
	return nopCloser{}
}

type nopCloser struct{}

func (n nopCloser) Close() error {
	return nil
}
