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
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/Jigsaw-Code/proxyagent/transport"
)

// Headers that only apply to the hop between the client and the proxy.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Proxy-Authorization",
	"Proxy-Authenticate",
	"Keep-Alive",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

type forwardHandler struct {
	client http.Client
	opts   handlerOptions
}

var _ http.Handler = (*forwardHandler)(nil)

func (h *forwardHandler) ServeHTTP(proxyResp http.ResponseWriter, proxyReq *http.Request) {
	if proxyReq.URL.Host == "" {
		http.Error(proxyResp, "Must specify an absolute request target", http.StatusNotFound)
		return
	}
	if !h.opts.authorize(proxyResp, proxyReq) {
		return
	}
	// We create a new request that uses a relative path + Host header, instead of the absolute URL in the proxy request.
	targetReq, err := http.NewRequestWithContext(proxyReq.Context(), proxyReq.Method, proxyReq.URL.String(), proxyReq.Body)
	if err != nil {
		http.Error(proxyResp, "Error creating target request", http.StatusInternalServerError)
		return
	}
	targetReq.ContentLength = proxyReq.ContentLength
	for key, values := range proxyReq.Header {
		for _, value := range values {
			targetReq.Header.Add(key, value)
		}
	}
	removeHopHeaders(targetReq.Header)
	targetResp, err := h.client.Do(targetReq)
	if err != nil {
		h.opts.logger.Debug("Forward request failed", "url", proxyReq.URL.Redacted(), "error", err)
		http.Error(proxyResp, "Failed to fetch destination", http.StatusServiceUnavailable)
		return
	}
	defer targetResp.Body.Close()
	removeHopHeaders(targetResp.Header)
	for key, values := range targetResp.Header {
		for _, value := range values {
			proxyResp.Header().Add(key, value)
		}
	}
	proxyResp.WriteHeader(targetResp.StatusCode)
	// The status line is already out, so errors can only cut the body short.
	io.Copy(proxyResp, targetResp.Body)
}

func removeHopHeaders(header http.Header) {
	for _, key := range hopHeaders {
		header.Del(key)
	}
}

// NewForwardHandler creates a [http.Handler] that handles absolute HTTP requests, reaching
// the destination with the given [transport.StreamDialer]. Redirects are passed to the client.
func NewForwardHandler(dialer transport.StreamDialer, opts ...HandlerOption) http.Handler {
	dialContext := func(ctx context.Context, network, addr string) (net.Conn, error) {
		if !strings.HasPrefix(network, "tcp") {
			return nil, fmt.Errorf("protocol not supported: %v", network)
		}
		return dialer.DialStream(ctx, addr)
	}
	return &forwardHandler{
		client: http.Client{
			Transport: &http.Transport{DialContext: dialContext},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		opts: newHandlerOptions(opts),
	}
}
