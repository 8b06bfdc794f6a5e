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

import "time"

// Protocol identifies a health-check protocol kind.
type Protocol string

const (
	ProtocolTCP  = Protocol("TCP")
	ProtocolHTTP = Protocol("HTTP")
	ProtocolGRPC = Protocol("GRPC")
)

// Config is one health-check definition as received from the management
// endpoint. Exactly one of the protocol-specific variants should be set,
// matching Protocol. The core of the system treats configs as opaque beyond
// equality and pass-through to a CheckerFactory.
type Config struct {
	Protocol           Protocol    `json:"protocol"`
	TimeoutMs          uint32      `json:"timeout_ms,omitempty"`
	IntervalMs         uint32      `json:"interval_ms,omitempty"`
	HealthyThreshold   uint32      `json:"healthy_threshold,omitempty"`
	UnhealthyThreshold uint32      `json:"unhealthy_threshold,omitempty"`
	HTTP               *HTTPConfig `json:"http_health_check,omitempty"`
	TCP                *TCPConfig  `json:"tcp_health_check,omitempty"`
	GRPC               *GRPCConfig `json:"grpc_health_check,omitempty"`
}

// HTTPConfig holds the HTTP-specific health check settings.
type HTTPConfig struct {
	// Path is the request path to probe. Defaults to "/".
	Path string `json:"path,omitempty"`
	// Host overrides the Host header sent with the probe.
	Host string `json:"host,omitempty"`
	// UseHTTP2 probes over HTTP/2 without TLS (h2c).
	UseHTTP2 bool `json:"use_http2,omitempty"`
}

// TCPConfig holds the TCP-specific health check settings. A TCP check is a
// plain connect probe, so there is nothing to configure beyond the common
// timeout and interval.
type TCPConfig struct{}

// GRPCConfig holds the gRPC-specific health check settings.
type GRPCConfig struct {
	ServiceName string `json:"service_name,omitempty"`
}

// Timeout returns the per-probe timeout as a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Interval returns the probe interval as a duration.
func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// Equal reports whether two configs are structurally identical.
func (c Config) Equal(other Config) bool {
	if c.Protocol != other.Protocol ||
		c.TimeoutMs != other.TimeoutMs ||
		c.IntervalMs != other.IntervalMs ||
		c.HealthyThreshold != other.HealthyThreshold ||
		c.UnhealthyThreshold != other.UnhealthyThreshold {
		return false
	}
	if !equalVariant(c.HTTP, other.HTTP) {
		return false
	}
	if !equalVariant(c.TCP, other.TCP) {
		return false
	}
	return equalVariant(c.GRPC, other.GRPC)
}

func equalVariant[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
