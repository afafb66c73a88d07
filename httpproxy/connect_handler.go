// Copyright 2023 Jigsaw Operations LLC
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
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/Jigsaw-Code/proxyagent/transport"
)

type connectHandler struct {
	dialer transport.StreamDialer
	opts   handlerOptions
}

var _ http.Handler = (*connectHandler)(nil)

// ServeHTTP implements [http.Handler].ServeHTTP for CONNECT requests, using the internal [transport.StreamDialer].
func (h *connectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodConnect {
		http.Error(w, fmt.Sprintf("Method %v is not supported", r.Method), http.StatusMethodNotAllowed)
		return
	}
	if !h.opts.authorize(w, r) {
		return
	}

	// Validate the target address.
	_, portStr, err := net.SplitHostPort(r.Host)
	if err != nil {
		http.Error(w, "Authority is not a valid host:port", http.StatusBadRequest)
		return
	}
	if portStr == "" {
		// As per https://httpwg.org/specs/rfc9110.html#CONNECT.
		http.Error(w, "Port number must be specified", http.StatusBadRequest)
		return
	}

	// Dial the target.
	targetConn, err := h.dialer.DialStream(r.Context(), r.Host)
	if err != nil {
		h.opts.logger.Debug("CONNECT dial failed", "target", r.Host, "error", err)
		http.Error(w, "Failed to connect to target", http.StatusServiceUnavailable)
		return
	}
	defer targetConn.Close()

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "Webserver doesn't support hijacking", http.StatusInternalServerError)
		return
	}

	httpConn, clientRW, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, "Failed to hijack connection", http.StatusInternalServerError)
		return
	}
	defer httpConn.Close()

	// Inform the client that the connection has been established.
	if _, err := httpConn.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\n")); err != nil {
		return
	}
	h.opts.logger.Debug("CONNECT tunnel open", "target", r.Host)

	// Relay data between client and target in both directions.
	// The client may have sent data right after the request, so read through the hijacked buffer.
	go func() {
		io.Copy(targetConn, clientRW.Reader)
		targetConn.CloseWrite()
	}()
	io.Copy(httpConn, targetConn)
	// httpConn is closed by the defer httpConn.Close() above.
}

// NewConnectHandler creates a [http.Handler] that handles CONNECT requests and forwards
// the requests using the given [transport.StreamDialer].
//
// The resulting handler is currently vulnerable to probing attacks. It's ok as a localhost proxy
// but it may be vulnerable if used as a public proxy.
func NewConnectHandler(dialer transport.StreamDialer, opts ...HandlerOption) http.Handler {
	return &connectHandler{dialer: dialer, opts: newHandlerOptions(opts)}
}
