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

import "context"

// Transport opens bidirectional streams to the management endpoint. The
// session never sees framing, pooling, or credentials; it only opens
// streams, sends messages, and receives messages until the stream fails.
//
// The grpchds package provides a gRPC-backed implementation.
type Transport interface {
	// OpenStream opens a new stream. The stream is bound to the given
	// context; cancelling it releases the stream.
	OpenStream(ctx context.Context) (Stream, error)
}

// Stream is one live discovery stream.
type Stream interface {
	// Send writes a message to the management endpoint.
	Send(*ClientMessage) error

	// Recv blocks until the next specifier arrives. It returns a non-nil
	// error once the stream is closed by either side; no message is
	// meaningful after that.
	Recv() (*HealthCheckSpecifier, error)

	// Close releases the local half of the stream.
	Close() error
}
