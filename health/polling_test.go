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

package health_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/svclb/healthdisco/health"
	"github.com/svclb/healthdisco/internal/clocktest"
)

func TestPollingChecker(t *testing.T) {
	t.Parallel()

	testClock := clocktest.NewFakeClock()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	results := make(fakeProber, 1)
	checker := health.NewPollingChecker(health.PollingCheckerConfig{}, results)
	health.SetPollingClock(checker, testClock)
	tracker := make(fakeTracker, 1)

	results <- health.StateHealthy
	process := checker.New(ctx, []string{"10.0.0.1:80"}, tracker)
	update := <-tracker
	assert.Equal(t, "10.0.0.1:80", update.addr)
	assert.Equal(t, health.StateHealthy, update.state)

	// With default thresholds, a single failing probe flips the state.
	results <- health.StateUnhealthy
	err := testClock.BlockUntilContext(ctx, 1)
	require.NoError(t, err)
	testClock.Advance(10 * time.Second)
	update = <-tracker
	assert.Equal(t, health.StateUnhealthy, update.state)

	results <- health.StateTimeout
	err = testClock.BlockUntilContext(ctx, 1)
	require.NoError(t, err)
	testClock.Advance(10 * time.Second)
	update = <-tracker
	assert.Equal(t, health.StateTimeout, update.state)

	err = process.Close()
	require.NoError(t, err)
}

func TestPollingCheckerThresholds(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	interval := 5 * time.Second
	testClock := clocktest.NewFakeClock()

	results := make(fakeProber)
	checker := health.NewPollingChecker(health.PollingCheckerConfig{
		PollingInterval:    interval,
		HealthyThreshold:   2,
		UnhealthyThreshold: 3,
	}, results)
	health.SetPollingClock(checker, testClock)

	tracker := make(fakeTracker)
	process := checker.New(ctx, []string{"10.0.0.1:80"}, tracker)
	advance := func(state health.State) {
		t.Helper()
		select {
		case results <- state:
			err := testClock.BlockUntilContext(ctx, 1)
			assert.NoError(t, err)
			testClock.Advance(interval)
		case <-tracker:
			t.Fatal("unexpected health state update")
		}
	}
	expectState := func(expected health.State) {
		t.Helper()
		select {
		case update := <-tracker:
			assert.Equal(t, expected, update.state)
		case <-ctx.Done():
			t.Fatal("health state not updated as expected within timeout")
		}
	}

	// The first result is reported immediately.
	advance(health.StateHealthy)
	expectState(health.StateHealthy)

	// Require three failing checks to become unhealthy.
	advance(health.StateUnhealthy)
	advance(health.StateUnhealthy)
	advance(health.StateUnhealthy)
	expectState(health.StateUnhealthy)

	// Require two passing checks to become healthy again.
	advance(health.StateHealthy)
	advance(health.StateHealthy)
	close(results)
	expectState(health.StateHealthy)

	err := process.Close()
	require.NoError(t, err)
}

func TestPollingCheckerMultipleEndpoints(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	testClock := clocktest.NewFakeClock()
	byAddr := map[string]health.State{
		"10.0.0.1:80": health.StateHealthy,
		"10.0.0.2:80": health.StateUnhealthy,
	}
	checker := health.NewPollingChecker(health.PollingCheckerConfig{}, proberForAddrs(byAddr))
	health.SetPollingClock(checker, testClock)

	tracker := make(fakeTracker, 2)
	process := checker.New(ctx, []string{"10.0.0.1:80", "10.0.0.2:80"}, tracker)
	seen := map[string]health.State{}
	for range byAddr {
		update := <-tracker
		seen[update.addr] = update.state
	}
	assert.Equal(t, byAddr, seen)

	err := process.Close()
	require.NoError(t, err)
}

type endpointState struct {
	addr  string
	state health.State
}

type fakeTracker chan endpointState

func (f fakeTracker) UpdateHealthState(addr string, state health.State) {
	f <- endpointState{addr: addr, state: state}
}

// fakeProber returns probe results fed through a channel. When the channel
// is exhausted and closed, it reports StateUnknown.
type fakeProber chan health.State

func (f fakeProber) Probe(ctx context.Context, _ string) health.State {
	select {
	case state, ok := <-f:
		if !ok {
			return health.StateUnknown
		}
		return state
	case <-ctx.Done():
		return health.StateTimeout
	}
}

type proberForAddrs map[string]health.State

func (p proberForAddrs) Probe(_ context.Context, addr string) health.State {
	return p[addr]
}
