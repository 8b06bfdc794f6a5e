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

import "github.com/svclb/healthdisco/internal"

// SetPollingClock replaces the clock of a polling checker so tests can
// control probe scheduling.
func SetPollingClock(checker Checker, clock internal.Clock) {
	checker.(*pollingChecker).clock = clock //nolint:forcetypeassert
}
