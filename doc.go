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

// Package healthdisco implements the client side of a health-discovery
// protocol for a load-balancing proxy's upstream management layer.
//
// A management endpoint streams down specifiers describing clusters,
// their endpoints, and the health checks to run against them. The session
// in this package health-checks those endpoints itself (through the
// collaborators in the health subpackage) and periodically streams back
// the observed health of every endpoint, at the cadence the server
// dictates. The management side only aggregates results; this client is
// the sole performer of the checks.
//
// Basic usage:
//
//	conn, err := grpc.Dial(managementAddr, opts...)
//	if err != nil {
//		return err
//	}
//	session := healthdisco.NewSession(
//		grpchds.NewTransport(conn),
//		healthdisco.WithNode(healthdisco.Node{ID: "proxy-1"}),
//	)
//	defer session.Close()
//
// The session runs until closed: it re-establishes failed streams with
// jittered exponential backoff, reconciles every incoming specifier
// against its cluster registry (starting and stopping probers as cluster
// membership changes), and keeps reporting for as long as a stream is up.
package healthdisco
