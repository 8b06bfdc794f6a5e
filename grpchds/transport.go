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

package grpchds

import (
	"context"
	"fmt"

	"github.com/svclb/healthdisco"
	"google.golang.org/grpc"
)

// streamMethod is the full method name of the bidirectional discovery
// stream on the management endpoint.
const streamMethod = "/healthdisco.v1.HealthDiscovery/StreamHealthChecks"

//nolint:gochecknoglobals
var streamDesc = &grpc.StreamDesc{
	StreamName:    "StreamHealthChecks",
	ServerStreams: true,
	ClientStreams: true,
}

// Transport adapts a gRPC client connection to the healthdisco.Transport
// interface. Streams it opens negotiate the JSON content subtype, so the
// management endpoint must accept application/grpc+json on the discovery
// method.
type Transport struct {
	conn grpc.ClientConnInterface
	opts []grpc.CallOption
}

var _ healthdisco.Transport = (*Transport)(nil)

// NewTransport creates a transport over the given connection. The
// connection's lifecycle stays with the caller; closing the session does
// not close the connection.
func NewTransport(conn grpc.ClientConnInterface, opts ...grpc.CallOption) *Transport {
	callOpts := make([]grpc.CallOption, 0, len(opts)+1)
	callOpts = append(callOpts, grpc.CallContentSubtype(codecName))
	callOpts = append(callOpts, opts...)
	return &Transport{conn: conn, opts: callOpts}
}

// OpenStream implements healthdisco.Transport. The stream lives until the
// given context is cancelled, the peer closes it, or Close is called on it.
func (t *Transport) OpenStream(ctx context.Context) (healthdisco.Stream, error) {
	clientStream, err := t.conn.NewStream(ctx, streamDesc, streamMethod, t.opts...)
	if err != nil {
		return nil, fmt.Errorf("opening discovery stream: %w", err)
	}
	return &stream{grpc: clientStream}, nil
}

type stream struct {
	grpc grpc.ClientStream
}

func (s *stream) Send(msg *healthdisco.ClientMessage) error {
	return s.grpc.SendMsg(msg)
}

func (s *stream) Recv() (*healthdisco.HealthCheckSpecifier, error) {
	spec := &healthdisco.HealthCheckSpecifier{}
	if err := s.grpc.RecvMsg(spec); err != nil {
		return nil, err
	}
	return spec, nil
}

func (s *stream) Close() error {
	return s.grpc.CloseSend()
}
