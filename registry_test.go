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

package healthdisco_test

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/svclb/healthdisco"
	"github.com/svclb/healthdisco/health"
)

func TestReconcileCreatesCluster(t *testing.T) {
	t.Parallel()

	factory := &fakeCheckerFactory{}
	registry := healthdisco.NewRegistry(factory, nil, nil)
	t.Cleanup(func() { _ = registry.Close() })

	errs := registry.Reconcile(context.Background(), specifier(2000,
		clusterEntry("c1", []string{"10.0.0.1"}, tcpCheck()),
	))
	require.Empty(t, errs)
	require.Equal(t, 1, registry.Len())

	membership, ok := registry.Membership("c1")
	require.True(t, ok)
	assert.Equal(t, []string{"10.0.0.1:80"}, membership.Endpoints())
	// Every endpoint is tracked as failed/unknown before its first probe.
	assert.Equal(t, map[string]health.State{"10.0.0.1:80": health.StateUnknown}, membership.HostHealth())

	require.Len(t, factory.created, 1)
	assert.Equal(t, 1, factory.created[0].starts())
	assert.Equal(t, []string{"10.0.0.1:80"}, factory.created[0].endpoints)
}

func TestReconcileIdempotent(t *testing.T) {
	t.Parallel()

	factory := &fakeCheckerFactory{}
	registry := healthdisco.NewRegistry(factory, nil, nil)
	t.Cleanup(func() { _ = registry.Close() })

	spec := specifier(2000, clusterEntry("c1", []string{"10.0.0.1", "10.0.0.2"}, tcpCheck()))
	require.Empty(t, registry.Reconcile(context.Background(), spec))
	first, ok := registry.Membership("c1")
	require.True(t, ok)

	require.Empty(t, registry.Reconcile(context.Background(), spec))
	second, ok := registry.Membership("c1")
	require.True(t, ok)

	assert.Same(t, first, second)
	assert.Equal(t, 0, factory.created[0].stops())
	// The second application built a candidate but started nothing new.
	for _, checker := range factory.created {
		assert.LessOrEqual(t, checker.starts(), 1)
	}
}

func TestReconcileIgnoresEndpointOrder(t *testing.T) {
	t.Parallel()

	factory := &fakeCheckerFactory{}
	registry := healthdisco.NewRegistry(factory, nil, nil)
	t.Cleanup(func() { _ = registry.Close() })

	require.Empty(t, registry.Reconcile(context.Background(), specifier(2000,
		clusterEntry("c1", []string{"10.0.0.1", "10.0.0.2"}, tcpCheck()),
	)))
	first, _ := registry.Membership("c1")

	require.Empty(t, registry.Reconcile(context.Background(), specifier(2000,
		clusterEntry("c1", []string{"10.0.0.2", "10.0.0.1"}, tcpCheck()),
	)))
	second, _ := registry.Membership("c1")

	assert.Same(t, first, second)
	assert.Equal(t, 0, factory.created[0].stops())
}

func TestReconcileRecreatesOnEndpointChange(t *testing.T) {
	t.Parallel()

	factory := &fakeCheckerFactory{}
	registry := healthdisco.NewRegistry(factory, nil, nil)
	t.Cleanup(func() { _ = registry.Close() })

	require.Empty(t, registry.Reconcile(context.Background(), specifier(2000,
		clusterEntry("c1", []string{"10.0.0.1", "10.0.0.2"}, tcpCheck()),
	)))
	first, _ := registry.Membership("c1")
	original := factory.created[0]

	require.Empty(t, registry.Reconcile(context.Background(), specifier(2000,
		clusterEntry("c1", []string{"10.0.0.1", "10.0.0.3"}, tcpCheck()),
	)))
	second, _ := registry.Membership("c1")

	assert.NotSame(t, first, second)
	assert.Equal(t, 1, original.stops())
	assert.Equal(t, []string{"10.0.0.1:80", "10.0.0.3:80"}, second.Endpoints())
}

func TestReconcileIgnoresConfigOnlyChange(t *testing.T) {
	t.Parallel()

	factory := &fakeCheckerFactory{}
	registry := healthdisco.NewRegistry(factory, nil, nil)
	t.Cleanup(func() { _ = registry.Close() })

	require.Empty(t, registry.Reconcile(context.Background(), specifier(2000,
		clusterEntry("c1", []string{"10.0.0.1"}, tcpCheck()),
	)))
	first, _ := registry.Membership("c1")

	changed := tcpCheck()
	changed.TimeoutMs = 9999
	require.Empty(t, registry.Reconcile(context.Background(), specifier(2000,
		clusterEntry("c1", []string{"10.0.0.1"}, changed),
	)))
	second, _ := registry.Membership("c1")

	// A health-check-only change does not replace the cluster.
	assert.Same(t, first, second)
	assert.Equal(t, 0, factory.created[0].stops())
}

func TestReconcileRemovesAbsentClusters(t *testing.T) {
	t.Parallel()

	factory := &fakeCheckerFactory{}
	registry := healthdisco.NewRegistry(factory, nil, nil)
	t.Cleanup(func() { _ = registry.Close() })

	require.Empty(t, registry.Reconcile(context.Background(), specifier(2000,
		clusterEntry("x", []string{"10.0.0.1"}, tcpCheck()),
		clusterEntry("y", []string{"10.0.0.2"}, tcpCheck()),
	)))
	require.Equal(t, 2, registry.Len())
	yMembership, _ := registry.Membership("y")
	var yChecker *fakeChecker
	for _, checker := range factory.created {
		if len(checker.endpoints) > 0 && checker.endpoints[0] == "10.0.0.2:80" {
			yChecker = checker
		}
	}
	require.NotNil(t, yChecker)
	_ = yMembership

	require.Empty(t, registry.Reconcile(context.Background(), specifier(2000,
		clusterEntry("x", []string{"10.0.0.1"}, tcpCheck()),
	)))
	assert.Equal(t, 1, registry.Len())
	_, ok := registry.Membership("y")
	assert.False(t, ok)
	assert.Equal(t, 1, yChecker.stops())
}

func TestReconcileIsolatesPerClusterFailures(t *testing.T) {
	t.Parallel()

	factory := &fakeCheckerFactory{}
	registry := healthdisco.NewRegistry(factory, nil, nil)
	t.Cleanup(func() { _ = registry.Close() })

	errs := registry.Reconcile(context.Background(), specifier(2000,
		clusterEntry("bad", []string{"not-an-ip"}, tcpCheck()),
		clusterEntry("good", []string{"10.0.0.1"}, tcpCheck()),
	))
	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0], `cluster "bad"`)

	_, ok := registry.Membership("bad")
	assert.False(t, ok)
	_, ok = registry.Membership("good")
	assert.True(t, ok)
}

func TestReconcileKeepsClusterOnFailedUpdate(t *testing.T) {
	t.Parallel()

	factory := &fakeCheckerFactory{}
	registry := healthdisco.NewRegistry(factory, nil, nil)
	t.Cleanup(func() { _ = registry.Close() })

	require.Empty(t, registry.Reconcile(context.Background(), specifier(2000,
		clusterEntry("c1", []string{"10.0.0.1"}, tcpCheck()),
	)))
	first, _ := registry.Membership("c1")

	errs := registry.Reconcile(context.Background(), specifier(2000,
		clusterEntry("c1", []string{"not-an-ip"}, tcpCheck()),
	))
	require.Len(t, errs, 1)

	// The previous membership keeps running untouched.
	second, ok := registry.Membership("c1")
	require.True(t, ok)
	assert.Same(t, first, second)
	assert.Equal(t, 0, factory.created[0].stops())
}

func TestReconcileRejectsUnsupportedProtocol(t *testing.T) {
	t.Parallel()

	registry := healthdisco.NewRegistry(nil, nil, nil)
	t.Cleanup(func() { _ = registry.Close() })

	errs := registry.Reconcile(context.Background(), specifier(2000,
		clusterEntry("c1", []string{"10.0.0.1"}, health.Config{Protocol: health.ProtocolGRPC}),
	))
	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0], "unsupported health check protocol")
	assert.Equal(t, 0, registry.Len())
}

// --- test doubles and builders shared by the package tests ---

func specifier(intervalMs uint32, entries ...healthdisco.ClusterHealthCheck) *healthdisco.HealthCheckSpecifier {
	spec := &healthdisco.HealthCheckSpecifier{ClusterHealthChecks: entries}
	if intervalMs > 0 {
		spec.IntervalMs = &intervalMs
	}
	return spec
}

func clusterEntry(name string, addrs []string, checks ...health.Config) healthdisco.ClusterHealthCheck {
	endpoints := make([]healthdisco.Endpoint, len(addrs))
	for i, addr := range addrs {
		endpoints[i] = healthdisco.Endpoint{Address: addr, Port: 80}
	}
	return healthdisco.ClusterHealthCheck{
		ClusterName:       name,
		LocalityEndpoints: []healthdisco.LocalityEndpoints{{Endpoints: endpoints}},
		HealthChecks:      checks,
	}
}

func tcpCheck() health.Config {
	return health.Config{Protocol: health.ProtocolTCP, TCP: &health.TCPConfig{}, IntervalMs: 1000}
}

type fakeCheckerFactory struct {
	mu      sync.Mutex
	created []*fakeChecker
}

func (f *fakeCheckerFactory) NewChecker(_ health.Config) (health.Checker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	checker := &fakeChecker{}
	f.created = append(f.created, checker)
	return checker, nil
}

func (f *fakeCheckerFactory) Protocols() []health.Protocol {
	return []health.Protocol{health.ProtocolTCP, health.ProtocolHTTP}
}

type fakeChecker struct {
	mu        sync.Mutex
	started   int
	stopped   int
	endpoints []string
	tracker   health.Tracker
}

func (c *fakeChecker) New(_ context.Context, endpoints []string, tracker health.Tracker) io.Closer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started++
	c.endpoints = endpoints
	c.tracker = tracker
	return &fakeProber{checker: c}
}

func (c *fakeChecker) starts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *fakeChecker) stops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

type fakeProber struct {
	checker *fakeChecker
}

func (p *fakeProber) Close() error {
	p.checker.mu.Lock()
	defer p.checker.mu.Unlock()
	p.checker.stopped++
	return nil
}
