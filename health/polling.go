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

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/svclb/healthdisco/internal"
	"golang.org/x/net/http2"
)

const (
	defaultProbeInterval = 10 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

//nolint:gochecknoglobals
var defaultDialer = &net.Dialer{
	KeepAlive: 30 * time.Second,
}

// A Prober is a type that can perform single-shot health checks against an
// endpoint address.
type Prober interface {
	Probe(ctx context.Context, addr string) State
}

type proberFunc func(ctx context.Context, addr string) State

func (f proberFunc) Probe(ctx context.Context, addr string) State {
	return f(ctx, addr)
}

// PollingCheckerConfig configures a polling checker.
type PollingCheckerConfig struct {
	// PollingInterval is the time between probes of each endpoint.
	// Defaults to 10 seconds.
	PollingInterval time.Duration

	// Timeout bounds each individual probe. A probe that exceeds it is
	// classified as StateTimeout. Defaults to 5 seconds.
	Timeout time.Duration

	// HealthyThreshold is the number of consecutive passing probes needed
	// before an endpoint that was failing is reported healthy again.
	// Defaults to 1.
	HealthyThreshold int

	// UnhealthyThreshold is the number of consecutive failing probes needed
	// before an endpoint that was healthy is reported as failing.
	// Defaults to 1.
	UnhealthyThreshold int
}

// NewPollingChecker creates a new checker that calls a single-shot prober
// against every endpoint on a fixed interval. The first result for an
// endpoint is reported immediately; after that, state transitions are
// subject to the configured thresholds.
func NewPollingChecker(config PollingCheckerConfig, prober Prober) Checker {
	if config.PollingInterval <= 0 {
		config.PollingInterval = defaultProbeInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultProbeTimeout
	}
	if config.HealthyThreshold <= 0 {
		config.HealthyThreshold = 1
	}
	if config.UnhealthyThreshold <= 0 {
		config.UnhealthyThreshold = 1
	}
	return &pollingChecker{
		config: config,
		prober: prober,
		clock:  internal.NewRealClock(),
	}
}

type pollingChecker struct {
	config PollingCheckerConfig
	prober Prober
	clock  internal.Clock
}

type pollingCheckerTask struct {
	cancel     context.CancelFunc
	doneSignal chan struct{}
}

func (c *pollingChecker) New(ctx context.Context, endpoints []string, tracker Tracker) io.Closer {
	ctx, cancel := context.WithCancel(ctx)
	task := &pollingCheckerTask{
		cancel:     cancel,
		doneSignal: make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(len(endpoints))
	for _, addr := range endpoints {
		go func(addr string) {
			defer wg.Done()
			c.pollEndpoint(ctx, addr, tracker)
		}(addr)
	}
	go func() {
		defer close(task.doneSignal)
		defer cancel()
		wg.Wait()
	}()
	return task
}

func (c *pollingChecker) pollEndpoint(ctx context.Context, addr string, tracker Tracker) {
	ticker := c.clock.NewTicker(c.config.PollingInterval)
	defer ticker.Stop()

	var reported, candidate State
	streak := 0
	first := true
	for {
		result := c.probeOnce(ctx, addr)
		if ctx.Err() != nil {
			// A cancelled probe is indistinguishable from a timed-out one.
			// Don't report it.
			return
		}
		switch {
		case first:
			first = false
			reported = result
			tracker.UpdateHealthState(addr, result)
		case result == reported:
			streak = 0
		default:
			if result == candidate {
				streak++
			} else {
				candidate = result
				streak = 1
			}
			threshold := c.config.UnhealthyThreshold
			if result == StateHealthy {
				threshold = c.config.HealthyThreshold
			}
			if streak >= threshold {
				reported = result
				streak = 0
				tracker.UpdateHealthState(addr, result)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

func (c *pollingChecker) probeOnce(ctx context.Context, addr string) State {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	return c.prober.Probe(ctx, addr)
}

func (t *pollingCheckerTask) Close() error {
	t.cancel()
	<-t.doneSignal
	return nil
}

// NewTCPProber creates a new prober that attempts a plain TCP connection to
// the endpoint address. A successful connect is healthy; a connect that
// exceeds the probe deadline is a timeout; any other failure is unhealthy.
func NewTCPProber() Prober {
	return proberFunc(func(ctx context.Context, addr string) State {
		conn, err := defaultDialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return classifyProbeError(err)
		}
		conn.Close()
		return StateHealthy
	})
}

// NewHTTPProber creates a new prober that performs an HTTP GET request
// against the endpoint for the given path. A response with a status code
// from 200-299 is healthy; any other response is unhealthy; a request that
// exceeds the probe deadline is a timeout.
//
// If config is nil, a plain HTTP/1.1 probe of "/" is performed.
func NewHTTPProber(config *HTTPConfig) Prober {
	if config == nil {
		config = &HTTPConfig{}
	}
	path := config.Path
	if path == "" {
		path = "/"
	}
	var transport http.RoundTripper
	if config.UseHTTP2 {
		// Forcing HTTP/2 over clear-text (h2c) requires features of the
		// golang.org/x/net/http2 client implementation.
		transport = &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return defaultDialer.DialContext(ctx, network, addr)
			},
		}
	} else {
		transport = &http.Transport{
			DialContext:       defaultDialer.DialContext,
			DisableKeepAlives: true,
		}
	}
	client := &http.Client{Transport: transport}
	return proberFunc(func(ctx context.Context, addr string) State {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+path, http.NoBody)
		if err != nil {
			return StateUnknown
		}
		if config.Host != "" {
			req.Host = config.Host
		}
		resp, err := client.Do(req)
		if err != nil {
			return classifyProbeError(err)
		}
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return StateUnhealthy
		}
		return StateHealthy
	})
}

func classifyProbeError(err error) State {
	if errors.Is(err, context.DeadlineExceeded) {
		return StateTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StateTimeout
	}
	return StateUnhealthy
}

// NewCheckerFactory returns the default checker factory. It builds polling
// checkers for TCP and HTTP health-check configs; any other protocol is
// rejected with an error.
func NewCheckerFactory() CheckerFactory {
	return defaultCheckerFactory{}
}

type defaultCheckerFactory struct{}

func (defaultCheckerFactory) NewChecker(config Config) (Checker, error) {
	var prober Prober
	switch config.Protocol {
	case ProtocolTCP:
		prober = NewTCPProber()
	case ProtocolHTTP:
		prober = NewHTTPProber(config.HTTP)
	default:
		return nil, fmt.Errorf("unsupported health check protocol %q", config.Protocol)
	}
	return NewPollingChecker(PollingCheckerConfig{
		PollingInterval:    config.Interval(),
		Timeout:            config.Timeout(),
		HealthyThreshold:   int(config.HealthyThreshold),
		UnhealthyThreshold: int(config.UnhealthyThreshold),
	}, prober), nil
}

func (defaultCheckerFactory) Protocols() []Protocol {
	return []Protocol{ProtocolTCP, ProtocolHTTP}
}
