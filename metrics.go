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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// sessionMetrics holds the session's increment-only counters. No core
// logic depends on their values.
type sessionMetrics struct {
	requests  prometheus.Counter
	responses prometheus.Counter
	errors    prometheus.Counter
}

func newSessionMetrics(registerer prometheus.Registerer) *sessionMetrics {
	factory := promauto.With(registerer)
	return &sessionMetrics{
		requests: factory.NewCounter(prometheus.CounterOpts{
			Name: "health_discovery_requests_total",
			Help: "A counter for specifier messages received from the management endpoint.",
		}),
		responses: factory.NewCounter(prometheus.CounterOpts{
			Name: "health_discovery_responses_total",
			Help: "A counter for messages sent to the management endpoint.",
		}),
		errors: factory.NewCounter(prometheus.CounterOpts{
			Name: "health_discovery_errors_total",
			Help: "A counter for stream failures, rejected specifiers, and reconcile errors.",
		}),
	}
}
