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

// Package health contains the collaborators that perform the actual network
// probes for the health-discovery loop: health states, checker and tracker
// contracts, wire health-check configurations, and a polling checker with
// TCP and HTTP probers.
//
// The discovery core never probes anything itself. It builds checkers from
// the configs the management endpoint sends, starts one checking process per
// config for each cluster, and reads back the states the processes record
// through the Tracker interface.
package health
