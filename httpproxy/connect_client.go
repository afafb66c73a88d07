// Copyright 2023 The Outline Authors
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

package httpproxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Jigsaw-Code/proxyagent/transport"
	"github.com/google/uuid"
	"golang.org/x/net/http/httpguts"
)

// ConnectClient is a [transport.StreamDialer] that reaches the destination through a CONNECT
// tunnel on an HTTP proxy. Each call to DialStream opens a new connection to the proxy endpoint.
type ConnectClient struct {
	endpoint transport.StreamEndpoint

	// proxyAuth is the Proxy-Authorization header value. If empty, the header is not sent
	proxyAuth string
	headers   http.Header
	timeout   time.Duration
	logger    *slog.Logger
}

var _ transport.StreamDialer = (*ConnectClient)(nil)

type ConnectClientOption func(c *ConnectClient)

// NewConnectClient creates a [ConnectClient] that connects to the proxy with endpoint.
// Use a TLS endpoint for HTTPS proxies.
func NewConnectClient(endpoint transport.StreamEndpoint, opts ...ConnectClientOption) (*ConnectClient, error) {
	if endpoint == nil {
		return nil, errors.New("endpoint must not be nil")
	}

	cc := &ConnectClient{
		endpoint: endpoint,
		headers:  make(http.Header),
	}

	for _, opt := range opts {
		opt(cc)
	}

	if cc.logger == nil {
		cc.logger = slog.Default()
	}
	if !httpguts.ValidHeaderFieldValue(cc.proxyAuth) {
		return nil, errors.New("invalid Proxy-Authorization value")
	}
	for key, values := range cc.headers {
		if !httpguts.ValidHeaderFieldName(key) {
			return nil, fmt.Errorf("invalid header name %q", key)
		}
		for _, value := range values {
			if !httpguts.ValidHeaderFieldValue(value) {
				return nil, fmt.Errorf("invalid value for header %q", key)
			}
		}
	}
	return cc, nil
}

// WithProxyAuthorization - sets the Proxy-Authorization header value
func WithProxyAuthorization(proxyAuth string) ConnectClientOption {
	return func(c *ConnectClient) {
		c.proxyAuth = proxyAuth
	}
}

// WithTimeout limits how long to wait for the complete CONNECT response headers.
// Zero means no limit other than the context.
func WithTimeout(timeout time.Duration) ConnectClientOption {
	return func(c *ConnectClient) {
		c.timeout = timeout
	}
}

// WithHeaders adds headers to the CONNECT request. Host, Proxy-Connection and Proxy-Authorization
// are ignored, since the client sets them.
func WithHeaders(header http.Header) ConnectClientOption {
	return func(c *ConnectClient) {
		for key, values := range header {
			for _, value := range values {
				c.headers.Add(key, value)
			}
		}
	}
}

// WithLogger sets the logger for tunnel events. The default is [slog.Default].
func WithLogger(logger *slog.Logger) ConnectClientOption {
	return func(c *ConnectClient) {
		c.logger = logger
	}
}

var reservedConnectHeaders = map[string]bool{
	"Host":                true,
	"Proxy-Connection":    true,
	"Proxy-Authorization": true,
}

// DialStream implements [transport.StreamDialer]. It connects to the proxy, sends a CONNECT
// request for remoteAddr and returns the tunnel once the proxy replies with 200.
// The proxy connection is closed if the tunnel cannot be established.
func (c *ConnectClient) DialStream(ctx context.Context, remoteAddr string) (transport.StreamConn, error) {
	host, port, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse remote address: %w", err)
	}
	if err := ValidateTarget(host, port); err != nil {
		return nil, err
	}
	if port == "" {
		return nil, fmt.Errorf("missing port in address %q", remoteAddr)
	}

	trace := GetConnectClientTrace(ctx)
	conn, err := c.endpoint.ConnectStream(ctx)
	if err != nil {
		err = fmt.Errorf("failed to connect to proxy: %w", err)
		if trace != nil && trace.TunnelDone != nil {
			trace.TunnelDone(remoteAddr, err)
		}
		return nil, err
	}

	id := uuid.NewString()
	t := &tunnel{
		addr:   remoteAddr,
		conn:   conn,
		logger: c.logger.With(slog.String("tunnel", id), slog.String("addr", remoteAddr)),
		trace:  trace,
	}
	tunnelConn, err := t.establish(ctx, c.connectRequest(remoteAddr), c.timeout)
	if err != nil {
		conn.Close()
	}
	if trace != nil && trace.TunnelDone != nil {
		trace.TunnelDone(remoteAddr, err)
	}
	return tunnelConn, err
}

func (c *ConnectClient) connectRequest(addr string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "CONNECT %s HTTP/1.1\r\nHost: %s\r\nProxy-Connection: keep-alive\r\n", addr, addr)
	if c.proxyAuth != "" {
		fmt.Fprintf(&b, "Proxy-Authorization: %s\r\n", c.proxyAuth)
	}
	c.headers.WriteSubset(&b, reservedConnectHeaders)
	b.WriteString("\r\n")
	return b.Bytes()
}
