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
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/svclb/healthdisco/health"
	"github.com/svclb/healthdisco/internal"
)

const (
	defaultRetryInitialDelay = 500 * time.Millisecond
	defaultRetryMaxDelay     = 30 * time.Second
)

// errAbsentInterval marks a specifier whose mandatory interval_ms field is
// missing or non-positive. The offending message is rejected; the session
// keeps its previous interval and timer.
var errAbsentInterval = errors.New("specifier has a missing or non-positive interval_ms")

// SessionOption is an option used to customize the behavior of a discovery
// session.
type SessionOption interface {
	apply(*sessionOptions)
}

// WithRootContext configures the root context for the session's background
// goroutines and for every prober the session starts. If not specified,
// [context.Background] is used. Cancelling it is equivalent to closing the
// session.
func WithRootContext(ctx context.Context) SessionOption {
	return sessionOptionFunc(func(opts *sessionOptions) {
		opts.rootCtx = ctx
	})
}

// WithNode configures the identity sent in the handshake on every
// established stream.
func WithNode(node Node) SessionOption {
	return sessionOptionFunc(func(opts *sessionOptions) {
		opts.node = node
	})
}

// WithLogger configures the logger the session and its registry write to.
// If not specified, the standard logger is used with a component field.
func WithLogger(log logrus.FieldLogger) SessionOption {
	return sessionOptionFunc(func(opts *sessionOptions) {
		opts.log = log
	})
}

// WithMetricsRegisterer configures where the session registers its
// counters. If not specified, [prometheus.DefaultRegisterer] is used.
func WithMetricsRegisterer(registerer prometheus.Registerer) SessionOption {
	return sessionOptionFunc(func(opts *sessionOptions) {
		opts.registerer = registerer
	})
}

// WithRetryBackoff configures the jittered backoff bounds used when
// re-establishing a failed stream. If not specified, retries start at
// 500ms and back off to at most 30s.
func WithRetryBackoff(initial, max time.Duration) SessionOption {
	return sessionOptionFunc(func(opts *sessionOptions) {
		opts.backoffInitial = initial
		opts.backoffMax = max
	})
}

// WithCheckerFactory configures how health-check configs are turned into
// probers. The factory's protocols are declared as this client's
// capabilities in the handshake. If not specified, the default factory
// (TCP and HTTP polling checks) is used.
func WithCheckerFactory(factory health.CheckerFactory) SessionOption {
	return sessionOptionFunc(func(opts *sessionOptions) {
		opts.checkerFactory = factory
	})
}

// WithAddressResolver configures how wire endpoints are turned into
// dialable addresses. If not specified, only IP literals are accepted.
func WithAddressResolver(resolver AddressResolver) SessionOption {
	return sessionOptionFunc(func(opts *sessionOptions) {
		opts.resolver = resolver
	})
}

type sessionOptionFunc func(*sessionOptions)

func (f sessionOptionFunc) apply(opts *sessionOptions) {
	f(opts)
}

type sessionOptions struct {
	rootCtx        context.Context //nolint:containedctx
	node           Node
	log            logrus.FieldLogger
	registerer     prometheus.Registerer
	backoffInitial time.Duration
	backoffMax     time.Duration
	checkerFactory health.CheckerFactory
	resolver       AddressResolver
}

func (opts *sessionOptions) applyDefaults() {
	if opts.rootCtx == nil {
		opts.rootCtx = context.Background()
	}
	if opts.log == nil {
		opts.log = logrus.WithField("component", "health-discovery")
	}
	if opts.registerer == nil {
		opts.registerer = prometheus.DefaultRegisterer
	}
	if opts.backoffInitial <= 0 {
		opts.backoffInitial = defaultRetryInitialDelay
	}
	if opts.backoffMax < opts.backoffInitial {
		opts.backoffMax = defaultRetryMaxDelay
	}
	if opts.checkerFactory == nil {
		opts.checkerFactory = health.NewCheckerFactory()
	}
	if opts.resolver == nil {
		opts.resolver = NewLiteralResolver()
	}
}

type sessionState int

const (
	stateDisconnected = sessionState(iota)
	stateConnecting
	stateStreaming
)

// streamEvent is one inbound event from the receive goroutine: either a
// specifier or, with err set, the end of the stream. The stream field lets
// the run loop discard events from a stream it has already abandoned.
type streamEvent struct {
	stream Stream
	spec   *HealthCheckSpecifier
	err    error
}

// Session is the client half of the health-discovery protocol: it keeps one
// stream to the management endpoint alive, applies every specifier it
// receives to its cluster registry, and reports aggregated endpoint health
// at the server-dictated cadence.
//
// All session state is owned by a single run goroutine. Stream events and
// timer fires are serialized onto that goroutine, so message dispatch,
// reconciliation, and reporting never run concurrently with each other.
type Session struct {
	transport Transport
	registry  *Registry
	backoff   *jitteredBackoff
	clock     internal.Clock
	log       logrus.FieldLogger
	metrics   *sessionMetrics
	handshake *HealthCheckRequest

	ctx    context.Context //nolint:containedctx
	cancel context.CancelFunc
	events chan streamEvent
	done   chan struct{}

	// The fields below are owned by the run goroutine.
	state    sessionState
	stream   Stream
	interval time.Duration
	retryCh  <-chan time.Time
	reportCh <-chan time.Time
}

// NewSession creates a session and immediately begins establishing a
// stream over the given transport. Close releases it.
func NewSession(transport Transport, options ...SessionOption) *Session {
	var opts sessionOptions
	for _, opt := range options {
		opt.apply(&opts)
	}
	opts.applyDefaults()
	return newSession(transport, &opts, internal.NewRealClock())
}

func newSession(transport Transport, opts *sessionOptions, clock internal.Clock) *Session {
	session := &Session{
		transport: transport,
		registry:  NewRegistry(opts.checkerFactory, opts.resolver, opts.log),
		backoff:   newJitteredBackoff(opts.backoffInitial, opts.backoffMax, nil),
		clock:     clock,
		log:       opts.log,
		metrics:   newSessionMetrics(opts.registerer),
		handshake: &HealthCheckRequest{
			Node:         opts.node,
			Capabilities: opts.checkerFactory.Protocols(),
		},
		events: make(chan streamEvent),
		done:   make(chan struct{}),
	}
	session.ctx, session.cancel = context.WithCancel(opts.rootCtx)
	go session.run()
	return session
}

// Close tears down the stream, stops every prober, and waits for the
// session's goroutines to finish.
func (s *Session) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *Session) run() {
	defer close(s.done)
	s.establish()
	for {
		select {
		case <-s.ctx.Done():
			s.teardown()
			return
		case <-s.retryCh:
			s.retryCh = nil
			s.establish()
		case <-s.reportCh:
			s.reportCh = nil
			s.sendReport()
		case event := <-s.events:
			if event.stream != s.stream {
				// Late event from a stream already torn down.
				continue
			}
			if event.err != nil {
				s.onRemoteClose(event.err)
			} else {
				s.onSpecifier(event.spec)
			}
		}
	}
}

// establish requests a new stream and performs the handshake. A failure at
// any point lands in the same retry path as a later remote close.
func (s *Session) establish() {
	s.state = stateConnecting
	s.log.Debug("establishing health discovery stream")
	stream, err := s.transport.OpenStream(s.ctx)
	if err != nil {
		s.log.Warnf("unable to establish health discovery stream: %v", err)
		s.handleFailure()
		return
	}
	if err := stream.Send(&ClientMessage{HealthCheckRequest: s.handshake}); err != nil {
		s.log.Warnf("sending handshake: %v", err)
		_ = stream.Close()
		s.handleFailure()
		return
	}
	s.metrics.responses.Inc()
	s.stream = stream
	s.state = stateStreaming
	s.backoff.Reset()
	go s.receive(stream)
}

// receive pumps one stream's inbound messages onto the run loop. It exits
// on the first receive error, which it forwards as the close notification.
func (s *Session) receive(stream Stream) {
	for {
		spec, err := stream.Recv()
		select {
		case s.events <- streamEvent{stream: stream, spec: spec, err: err}:
		case <-s.ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) handleFailure() {
	s.metrics.errors.Inc()
	s.state = stateDisconnected
	s.stream = nil
	delay := s.backoff.Next()
	s.log.Warnf("health discovery stream failure, will retry in %s", delay)
	s.retryCh = s.clock.After(delay)
}

func (s *Session) onRemoteClose(err error) {
	s.log.Warnf("health discovery stream closed: %v", err)
	s.reportCh = nil
	s.interval = 0
	_ = s.stream.Close()
	s.handleFailure()
}

func (s *Session) onSpecifier(spec *HealthCheckSpecifier) {
	s.metrics.requests.Inc()

	interval, err := reportInterval(spec)
	if err != nil {
		s.metrics.errors.Inc()
		s.log.Warnf("rejecting specifier: %v", err)
		return
	}

	for _, err := range s.registry.Reconcile(s.ctx, spec) {
		s.metrics.errors.Inc()
		s.log.Warnf("reconcile: %v", err)
	}

	if interval != s.interval {
		// Re-arming resets the full wait; the next report is one whole new
		// interval from now.
		s.interval = interval
		s.reportCh = s.clock.After(interval)
	}
}

func (s *Session) sendReport() {
	if s.stream == nil {
		s.log.Error("report timer fired without an active stream")
		return
	}
	report, err := s.registry.BuildReport()
	if err != nil {
		s.metrics.errors.Inc()
		s.log.Errorf("building health report: %v", err)
		s.reportCh = s.clock.After(s.interval)
		return
	}
	if err := s.stream.Send(&ClientMessage{EndpointHealthResponse: report}); err != nil {
		// The receive goroutine observes the stream failure and drives the
		// retry path; nothing more to do here.
		s.log.Warnf("sending health report: %v", err)
	} else {
		s.metrics.responses.Inc()
	}
	s.reportCh = s.clock.After(s.interval)
}

func (s *Session) teardown() {
	if s.stream != nil {
		_ = s.stream.Close()
		s.stream = nil
	}
	s.state = stateDisconnected
	if err := s.registry.Close(); err != nil {
		s.log.Warnf("stopping probers: %v", err)
	}
}

func reportInterval(spec *HealthCheckSpecifier) (time.Duration, error) {
	if spec.IntervalMs == nil {
		return 0, errAbsentInterval
	}
	interval := time.Duration(*spec.IntervalMs) * time.Millisecond
	if interval <= 0 {
		return 0, errAbsentInterval
	}
	return interval, nil
}
