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

import "github.com/svclb/healthdisco/health"

// ClientMessage is the client-to-server side of the discovery stream.
// Exactly one field is set: the handshake on a freshly established stream,
// or a health report on every reporting cycle after that.
type ClientMessage struct {
	HealthCheckRequest     *HealthCheckRequest     `json:"health_check_request,omitempty"`
	EndpointHealthResponse *EndpointHealthResponse `json:"endpoint_health_response,omitempty"`
}

// Node identifies this client to the management endpoint.
type Node struct {
	ID      string `json:"id"`
	Cluster string `json:"cluster,omitempty"`
	Zone    string `json:"zone,omitempty"`
}

// HealthCheckRequest is the handshake sent exactly once per established
// stream, before any report. It carries the node identity and the set of
// health-check protocols this client is able to execute.
type HealthCheckRequest struct {
	Node         Node              `json:"node"`
	Capabilities []health.Protocol `json:"capabilities"`
}

// HealthCheckSpecifier is the server-to-client message: the full set of
// clusters this client must health-check, plus the cadence at which it must
// report results back. IntervalMs is mandatory; a specifier without it is a
// protocol violation.
type HealthCheckSpecifier struct {
	ClusterHealthChecks []ClusterHealthCheck `json:"cluster_health_checks"`
	IntervalMs          *uint32              `json:"interval_ms,omitempty"`
}

// ClusterHealthCheck describes one cluster: its name, its endpoints grouped
// by locality, and the health checks to run against them.
type ClusterHealthCheck struct {
	ClusterName       string              `json:"cluster_name"`
	LocalityEndpoints []LocalityEndpoints `json:"locality_endpoints"`
	HealthChecks      []health.Config     `json:"health_checks"`
}

// Locality describes where a group of endpoints runs.
type Locality struct {
	Region string `json:"region,omitempty"`
	Zone   string `json:"zone,omitempty"`
}

// LocalityEndpoints is a group of endpoints sharing a locality.
type LocalityEndpoints struct {
	Locality  Locality   `json:"locality,omitempty"`
	Endpoints []Endpoint `json:"endpoints"`
}

// Endpoint is a single probe target.
type Endpoint struct {
	Address string `json:"address"`
	Port    uint32 `json:"port"`
}

// EndpointHealthResponse is the periodic report: one entry per endpoint the
// client currently tracks, across all clusters.
type EndpointHealthResponse struct {
	EndpointsHealth []EndpointHealth `json:"endpoints_health"`
}

// EndpointHealth is the reported status of one endpoint.
type EndpointHealth struct {
	Address      string       `json:"address"`
	HealthStatus HealthStatus `json:"health_status"`
}

// HealthStatus is the wire-level endpoint status vocabulary. It is coarser
// than health.State: an endpoint is either healthy, timed out, or unhealthy.
type HealthStatus string

const (
	HealthStatusHealthy   = HealthStatus("HEALTHY")
	HealthStatusUnhealthy = HealthStatus("UNHEALTHY")
	HealthStatusTimeout   = HealthStatus("TIMEOUT")
)
