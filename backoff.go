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
	"math/rand"
	"time"
)

// jitteredBackoff produces retry delays for stream re-establishment. Each
// call to Next returns a random delay below the current cap and doubles the
// cap, up to max. Reset restores the initial cap; it must be called exactly
// once per successful stream establishment, never on message receipt.
type jitteredBackoff struct {
	initial time.Duration
	max     time.Duration
	cap     time.Duration
	rand    *rand.Rand
}

func newJitteredBackoff(initial, max time.Duration, rnd *rand.Rand) *jitteredBackoff {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec
	}
	return &jitteredBackoff{
		initial: initial,
		max:     max,
		cap:     initial,
		rand:    rnd,
	}
}

// Next returns the delay to wait before the next attempt. The returned
// delay is always strictly positive so that a retry never fires instantly.
func (b *jitteredBackoff) Next() time.Duration {
	delay := time.Duration(b.rand.Int63n(int64(b.cap)))
	if delay < time.Millisecond {
		delay = time.Millisecond
	}
	b.cap *= 2
	if b.cap > b.max {
		b.cap = b.max
	}
	return delay
}

// Reset restores the cap so the next failure starts backing off from the
// initial delay again.
func (b *jitteredBackoff) Reset() {
	b.cap = b.initial
}
