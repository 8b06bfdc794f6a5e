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

package healthdisco

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/svclb/healthdisco/health"
	"golang.org/x/sync/errgroup"
)

// Membership is the local record of one cluster: its last-applied endpoint
// set, its health-check configs, the observed health of every endpoint, and
// the probe processes it owns. Memberships are immutable apart from
// hostHealth; an endpoint-set change replaces the whole membership.
//
// hostHealth is mutated by prober goroutines through the health.Tracker
// interface and read by the report builder, so it is guarded by a mutex.
// Every endpoint always has an entry, initialized to health.StateUnknown
// before the first probe result arrives.
type Membership struct {
	name        string
	endpoints   []string
	endpointSet map[string]struct{}
	configs     []health.Config
	checkers    []health.Checker

	cancel  context.CancelFunc
	probers []io.Closer

	mu         sync.Mutex
	hostHealth map[string]health.State
}

// newMembership materializes a candidate membership from one specifier
// entry. Addresses are resolved and checkers constructed up front, so a
// malformed entry fails here, before any existing membership is touched
// and before any prober is started.
func newMembership(entry ClusterHealthCheck, resolver AddressResolver, factory health.CheckerFactory) (*Membership, error) {
	if entry.ClusterName == "" {
		return nil, errors.New("cluster entry has no name")
	}
	m := &Membership{
		name:        entry.ClusterName,
		endpointSet: map[string]struct{}{},
		configs:     entry.HealthChecks,
		hostHealth:  map[string]health.State{},
	}
	for _, group := range entry.LocalityEndpoints {
		for _, endpoint := range group.Endpoints {
			addr, err := resolver.Resolve(endpoint)
			if err != nil {
				return nil, err
			}
			if _, ok := m.endpointSet[addr]; ok {
				continue
			}
			m.endpoints = append(m.endpoints, addr)
			m.endpointSet[addr] = struct{}{}
			m.hostHealth[addr] = health.StateUnknown
		}
	}
	for _, config := range entry.HealthChecks {
		checker, err := factory.NewChecker(config)
		if err != nil {
			return nil, err
		}
		m.checkers = append(m.checkers, checker)
	}
	return m, nil
}

// Name returns the cluster name.
func (m *Membership) Name() string {
	return m.name
}

// Endpoints returns the membership's resolved addresses in the order they
// were received.
func (m *Membership) Endpoints() []string {
	endpoints := make([]string, len(m.endpoints))
	copy(endpoints, m.endpoints)
	return endpoints
}

// HostHealth returns a snapshot of the observed health of every endpoint.
func (m *Membership) HostHealth() map[string]health.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make(map[string]health.State, len(m.hostHealth))
	for addr, state := range m.hostHealth {
		snapshot[addr] = state
	}
	return snapshot
}

// UpdateHealthState implements health.Tracker. Updates for addresses this
// membership does not own are ignored; they can only come from a
// misbehaving checker.
func (m *Membership) UpdateHealthState(addr string, state health.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hostHealth[addr]; !ok {
		return
	}
	m.hostHealth[addr] = state
}

// matches reports whether the other membership describes the same endpoint
// set. Order does not matter, and health-check configs are deliberately
// not compared: a config-only change does not replace a cluster.
func (m *Membership) matches(other *Membership) bool {
	if len(m.endpointSet) != len(other.endpointSet) {
		return false
	}
	for addr := range other.endpointSet {
		if _, ok := m.endpointSet[addr]; !ok {
			return false
		}
	}
	return true
}

// startHealthchecks starts one probe process per configured health check,
// bound to this membership's endpoint set.
func (m *Membership) startHealthchecks(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	for _, checker := range m.checkers {
		m.probers = append(m.probers, checker.New(ctx, m.Endpoints(), m))
	}
}

// stop cancels every active prober and waits for all of them to
// acknowledge before returning, so a stopped membership can be discarded
// without a late probe result landing in it.
func (m *Membership) stop() error {
	if m.cancel != nil {
		m.cancel()
	}
	grp := errgroup.Group{}
	for _, prober := range m.probers {
		grp.Go(prober.Close)
	}
	m.probers = nil
	if err := grp.Wait(); err != nil {
		return fmt.Errorf("stopping probers for cluster %q: %w", m.name, err)
	}
	return nil
}
