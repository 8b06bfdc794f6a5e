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
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/svclb/healthdisco/health"
)

// Registry owns the mapping from cluster name to Membership and implements
// the reconcile algorithm against incoming specifiers.
//
// Registry is not safe for concurrent use. The session serializes all
// access to it on its run loop; only the prober-facing hostHealth maps
// inside each membership see cross-goroutine traffic.
type Registry struct {
	clusters map[string]*Membership
	resolver AddressResolver
	checkers health.CheckerFactory
	log      logrus.FieldLogger
}

// NewRegistry creates an empty registry. A nil resolver, factory, or logger
// falls back to the defaults.
func NewRegistry(factory health.CheckerFactory, resolver AddressResolver, log logrus.FieldLogger) *Registry {
	if factory == nil {
		factory = health.NewCheckerFactory()
	}
	if resolver == nil {
		resolver = NewLiteralResolver()
	}
	if log == nil {
		log = logrus.WithField("component", "health-discovery")
	}
	return &Registry{
		clusters: map[string]*Membership{},
		resolver: resolver,
		checkers: factory,
		log:      log,
	}
}

// Reconcile applies a specifier to the registry: clusters appearing for the
// first time are created and their probers started; clusters whose endpoint
// set changed are stopped, discarded, and recreated; clusters absent from
// the specifier are stopped and removed. A cluster whose endpoint set is
// unchanged is left entirely alone, even if its health-check configs
// changed.
//
// Reconciliation is not atomic across clusters: a failure materializing one
// entry is reported and the remaining entries are still processed. If the
// failing entry named an existing cluster, that cluster keeps running with
// its previous membership.
//
// The given context bounds the lifetime of any probers started here.
func (r *Registry) Reconcile(ctx context.Context, spec *HealthCheckSpecifier) []error {
	var errs []error

	toRemove := make(map[string]struct{}, len(r.clusters))
	for name := range r.clusters {
		toRemove[name] = struct{}{}
	}

	for _, entry := range spec.ClusterHealthChecks {
		delete(toRemove, entry.ClusterName)

		candidate, err := newMembership(entry, r.resolver, r.checkers)
		if err != nil {
			errs = append(errs, fmt.Errorf("cluster %q: %w", entry.ClusterName, err))
			continue
		}

		if existing, ok := r.clusters[entry.ClusterName]; ok {
			if existing.matches(candidate) {
				r.log.Debugf("cluster %q unchanged", entry.ClusterName)
				continue
			}
			r.log.Debugf("recreating cluster %q", entry.ClusterName)
			if err := existing.stop(); err != nil {
				errs = append(errs, err)
			}
			delete(r.clusters, entry.ClusterName)
		} else {
			r.log.Debugf("creating cluster %q", entry.ClusterName)
		}

		candidate.startHealthchecks(ctx)
		r.clusters[entry.ClusterName] = candidate
	}

	// Sorted so prober stops happen in the same order no matter how the
	// map iterates.
	removals := make([]string, 0, len(toRemove))
	for name := range toRemove {
		removals = append(removals, name)
	}
	sort.Strings(removals)
	for _, name := range removals {
		r.log.Debugf("removing cluster %q", name)
		if err := r.clusters[name].stop(); err != nil {
			errs = append(errs, err)
		}
		delete(r.clusters, name)
	}

	return errs
}

// Membership returns the membership for the given cluster name, if any.
func (r *Registry) Membership(name string) (*Membership, bool) {
	m, ok := r.clusters[name]
	return m, ok
}

// Len returns the number of tracked clusters.
func (r *Registry) Len() int {
	return len(r.clusters)
}

// clusterNames returns the tracked cluster names in sorted order.
func (r *Registry) clusterNames() []string {
	names := make([]string, 0, len(r.clusters))
	for name := range r.clusters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close stops every membership's probers and empties the registry.
func (r *Registry) Close() error {
	var firstErr error
	for _, name := range r.clusterNames() {
		if err := r.clusters[name].stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.clusters, name)
	}
	return firstErr
}
