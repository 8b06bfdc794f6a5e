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
	"fmt"

	"github.com/svclb/healthdisco/health"
)

// BuildReport translates the registry's current observed health into a wire
// report: one entry per endpoint per cluster. An endpoint that has not yet
// produced a probe result reports UNHEALTHY.
//
// An unrecognized health state aborts report construction with an error;
// it indicates a bug in a checker, not a runtime condition, and must not be
// papered over with an arbitrary status.
func (r *Registry) BuildReport() (*EndpointHealthResponse, error) {
	response := &EndpointHealthResponse{}
	for _, name := range r.clusterNames() {
		membership := r.clusters[name]
		hostHealth := membership.HostHealth()
		for _, addr := range membership.Endpoints() {
			status, err := wireStatus(hostHealth[addr])
			if err != nil {
				return nil, fmt.Errorf("cluster %q endpoint %q: %w", name, addr, err)
			}
			response.EndpointsHealth = append(response.EndpointsHealth, EndpointHealth{
				Address:      addr,
				HealthStatus: status,
			})
		}
	}
	return response, nil
}

func wireStatus(state health.State) (HealthStatus, error) {
	switch state {
	case health.StateHealthy:
		return HealthStatusHealthy, nil
	case health.StateTimeout:
		return HealthStatusTimeout, nil
	case health.StateUnhealthy, health.StateUnknown:
		// An endpoint that never produced a probe result, or whose failure
		// cause is unknown, reports as plain unhealthy.
		return HealthStatusUnhealthy, nil
	default:
		return "", fmt.Errorf("unrecognized health state %v", state)
	}
}
