// Copyright 2025 The Outline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package agent provides an [http.RoundTripper] that routes requests through HTTP and HTTPS
forward proxies.

For every request, the [Agent] asks its [proxyconfig.Resolver] whether to use a proxy:

  - http targets without a proxy, and https targets in general, use origin-form requests on
    their own connection, which for proxied https targets is a CONNECT tunnel.
  - http targets with a proxy send absolute-form requests to the proxy.

Connections are pooled per proxy and origin and reused once a response body has been read to
the end.
*/
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/Jigsaw-Code/proxyagent/httpproxy"
	"github.com/Jigsaw-Code/proxyagent/proxyconfig"
	"github.com/Jigsaw-Code/proxyagent/transport"
	"github.com/Jigsaw-Code/proxyagent/transport/tls"
	"github.com/puzpuzpuz/xsync/v4"
)

// DefaultIdleTimeout is how long an unused connection stays in the pool.
const DefaultIdleTimeout = 90 * time.Second

// Agent is an [http.RoundTripper] that applies the proxy configuration of its resolver to each
// request. It is safe for concurrent use.
type Agent struct {
	resolver          *proxyconfig.Resolver
	dialer            transport.StreamDialer
	tlsOptions        []tls.ClientOption
	proxyTLSOptions   []tls.ClientOption
	tunnelTimeout     time.Duration
	maxConnsPerOrigin int
	idleTimeout       time.Duration
	logger            *slog.Logger

	pools *xsync.Map[poolKey, *hostPool]
}

var _ http.RoundTripper = (*Agent)(nil)

// Option configures an [Agent].
type Option func(a *Agent)

// WithResolver sets the proxy resolver. The default resolver reads the proxy environment
// variables if USE_ENV_PROXY is set.
func WithResolver(resolver *proxyconfig.Resolver) Option {
	return func(a *Agent) {
		a.resolver = resolver
	}
}

// WithStreamDialer sets the dialer used to reach proxies and origins. Defaults to TCP.
func WithStreamDialer(dialer transport.StreamDialer) Option {
	return func(a *Agent) {
		a.dialer = dialer
	}
}

// WithTLSOptions configures TLS to https origins.
func WithTLSOptions(options ...tls.ClientOption) Option {
	return func(a *Agent) {
		a.tlsOptions = append(a.tlsOptions, options...)
	}
}

// WithProxyTLSOptions configures TLS to https proxies.
func WithProxyTLSOptions(options ...tls.ClientOption) Option {
	return func(a *Agent) {
		a.proxyTLSOptions = append(a.proxyTLSOptions, options...)
	}
}

// WithTunnelTimeout limits the wait for a CONNECT response. Zero means only the request context applies.
func WithTunnelTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		a.tunnelTimeout = timeout
	}
}

// WithMaxConnsPerOrigin bounds the connections per proxy and origin. Further requests wait in
// line for a connection. Zero means no limit.
func WithMaxConnsPerOrigin(n int) Option {
	return func(a *Agent) {
		a.maxConnsPerOrigin = n
	}
}

// WithIdleTimeout sets how long idle connections are kept. Zero keeps them until
// [Agent.CloseIdleConnections]. The default is [DefaultIdleTimeout].
func WithIdleTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		a.idleTimeout = timeout
	}
}

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// New creates an [Agent]. It fails if the default resolver finds a malformed proxy environment.
func New(opts ...Option) (*Agent, error) {
	a := &Agent{
		dialer:      &transport.TCPDialer{},
		idleTimeout: DefaultIdleTimeout,
		pools:       xsync.NewMap[poolKey, *hostPool](),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.dialer == nil {
		return nil, errors.New("stream dialer must not be nil")
	}
	if a.resolver == nil {
		resolver, err := proxyconfig.NewResolver(
			proxyconfig.WithMode(proxyconfig.ModeFromRuntime(os.LookupEnv)),
			proxyconfig.WithLogger(a.logger))
		if err != nil {
			return nil, err
		}
		a.resolver = resolver
	}
	return a, nil
}

// Resolver returns the resolver used by the agent.
func (a *Agent) Resolver() *proxyconfig.Resolver {
	return a.resolver
}

// SetProxyConfig overrides the proxy configuration for new requests. Requests in flight keep the
// route they started with.
func (a *Agent) SetProxyConfig(cfg *proxyconfig.Config) {
	a.resolver.SetConfig(cfg)
}

// ClearProxyConfig reverts [Agent.SetProxyConfig].
func (a *Agent) ClearProxyConfig() {
	a.resolver.ClearConfig()
}

// CloseIdleConnections closes the pooled connections that are not in use.
func (a *Agent) CloseIdleConnections() {
	closed := 0
	a.pools.Range(func(_ poolKey, pool *hostPool) bool {
		closed += pool.closeIdle()
		return true
	})
	a.logger.Debug("Closed idle connections", "count", closed)
}

func (a *Agent) pool(key poolKey) *hostPool {
	pool, _ := a.pools.LoadOrCompute(key, func() (*hostPool, bool) {
		return newHostPool(a.maxConnsPerOrigin), false
	})
	return pool
}

// RoundTrip implements [http.RoundTripper]. Failures on the proxy path are reported like
// direct ones; use [httpproxy.ErrorCode] to classify them.
func (a *Agent) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := a.roundTrip(req)
	if err != nil && req.Body != nil {
		req.Body.Close()
	}
	return resp, err
}

func (a *Agent) roundTrip(req *http.Request) (*http.Response, error) {
	if req.URL == nil {
		return nil, errors.New("request has no URL")
	}
	scheme := strings.ToLower(req.URL.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("unsupported protocol scheme %q", req.URL.Scheme)
	}
	if req.URL.Host == "" {
		return nil, errors.New("request has no host")
	}
	if err := httpproxy.ValidateRequestTarget(req); err != nil {
		return nil, err
	}
	decision, err := a.resolver.Resolve(req.URL)
	if err != nil {
		return nil, err
	}
	key := newPoolKey(decision, scheme, req.URL.Hostname(), proxyconfig.TargetPort(req.URL))
	pool := a.pool(key)
	ctx := req.Context()

	for {
		pc, err := pool.get(ctx, a.idleTimeout)
		if err != nil {
			return nil, err
		}
		if pc == nil {
			conn, err := a.dial(ctx, key, decision)
			if err != nil {
				pool.releaseSlot()
				return nil, err
			}
			pc = newPersistConn(conn)
		}
		resp, err := a.exchange(ctx, pool, pc, req, decision)
		if err == nil {
			return resp, nil
		}
		// A pooled connection may have been closed by the server while idle. Every failed
		// connection has been discarded, so this ends once the idle list is used up.
		if pc.reused && canRetry(req, err) {
			a.logger.Debug("Retrying after a reused connection hung up", "addr", key.addr(), "error", err)
			continue
		}
		return nil, err
	}
}

// dial opens a connection for the pool key, following the routing decision.
func (a *Agent) dial(ctx context.Context, key poolKey, decision proxyconfig.Decision) (transport.StreamConn, error) {
	tlsOptions := append([]tls.ClientOption{tls.WithALPN([]string{"http/1.1"})}, a.tlsOptions...)
	if !decision.UseProxy {
		conn, err := a.dialer.DialStream(ctx, key.addr())
		if err != nil || key.scheme == "http" {
			return conn, err
		}
		return a.wrapTLS(ctx, conn, key.host, tlsOptions)
	}

	proxy := decision.Proxy
	proxyDialer := a.dialer
	if proxy.Scheme == "https" {
		dialer, err := tls.NewStreamDialer(a.dialer, a.proxyTLSOptions...)
		if err != nil {
			return nil, err
		}
		proxyDialer = dialer
	}
	if key.scheme == "http" {
		// Plain requests go to the proxy in absolute form.
		conn, err := proxyDialer.DialStream(ctx, proxy.Address())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to proxy: %w", err)
		}
		return conn, nil
	}

	client, err := httpproxy.NewConnectClient(
		&transport.StreamDialerEndpoint{Dialer: proxyDialer, Address: proxy.Address()},
		httpproxy.WithProxyAuthorization(proxy.Authorization()),
		httpproxy.WithTimeout(a.tunnelTimeout),
		httpproxy.WithLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}
	tunnel, err := client.DialStream(ctx, key.addr())
	if err != nil {
		return nil, err
	}
	return a.wrapTLS(ctx, tunnel, key.host, tlsOptions)
}

func (a *Agent) wrapTLS(ctx context.Context, conn transport.StreamConn, host string, options []tls.ClientOption) (transport.StreamConn, error) {
	tlsConn, err := tls.WrapConn(ctx, conn, host, options...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// exchange sends req on pc and reads the response headers. On success, pc belongs to the
// response body until it is read to the end or closed.
func (a *Agent) exchange(ctx context.Context, pool *hostPool, pc *persistConn, req *http.Request, decision proxyconfig.Decision) (*http.Response, error) {
	// Cancellation unblocks pending reads and writes on the connection.
	stop := context.AfterFunc(ctx, func() {
		pc.conn.SetDeadline(time.Unix(1, 0))
	})
	fail := func(err error) (*http.Response, error) {
		stop()
		pool.discard(pc)
		if ctxErr := context.Cause(ctx); ctxErr != nil {
			return nil, fmt.Errorf("request canceled: %w", ctxErr)
		}
		return nil, err
	}

	var err error
	if decision.UseProxy && !isTLS(req) {
		err = httpproxy.WriteForwardRequest(pc.bw, req, decision.Proxy.Authorization())
	} else {
		err = req.Write(pc.bw)
	}
	if err == nil {
		err = pc.bw.Flush()
	}
	if err != nil {
		return fail(hangUp(fmt.Errorf("failed to write request: %w", err)))
	}

	var resp *http.Response
	for {
		resp, err = http.ReadResponse(pc.br, req)
		if err != nil {
			return fail(hangUp(err))
		}
		// Skip interim responses, except for protocol switches.
		if resp.StatusCode < 200 && resp.StatusCode != http.StatusSwitchingProtocols {
			continue
		}
		break
	}

	reusable := !resp.Close && !req.Close && resp.StatusCode != http.StatusSwitchingProtocols
	release := func(reuse bool) {
		if stop() && reuse {
			pool.put(pc)
			return
		}
		pool.discard(pc)
	}
	if resp.Body == http.NoBody {
		release(reusable)
		return resp, nil
	}
	resp.Body = &releaseBody{
		rc:       resp.Body,
		reusable: reusable,
		release:  release,
		wrapError: func(err error) error {
			if ctxErr := context.Cause(ctx); ctxErr != nil {
				return fmt.Errorf("request canceled: %w", ctxErr)
			}
			return hangUp(err)
		},
	}
	return resp, nil
}

func isTLS(req *http.Request) bool {
	return strings.EqualFold(req.URL.Scheme, "https")
}

// hangUp marks errors from a connection the peer closed or reset.
func hangUp(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return fmt.Errorf("%w: %w", httpproxy.ErrSocketHangUp, err)
	}
	return err
}

// canRetry reports whether req can be sent again after failing on a reused connection.
func canRetry(req *http.Request, err error) bool {
	if !errors.Is(err, httpproxy.ErrSocketHangUp) || req.Context().Err() != nil {
		return false
	}
	if req.Body != nil && req.Body != http.NoBody {
		return false
	}
	switch req.Method {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}
