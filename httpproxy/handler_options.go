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

package httpproxy

import (
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
)

// HandlerOption configures the proxy handlers.
type HandlerOption func(opts *handlerOptions)

type handlerOptions struct {
	// credentials is the expected "user:password", or empty to allow everyone.
	credentials string
	logger      *slog.Logger
}

func newHandlerOptions(opts []HandlerOption) handlerOptions {
	var o handlerOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// WithBasicAuth requires clients to send matching Basic credentials in Proxy-Authorization.
// Other requests get a 407 response.
func WithBasicAuth(username, password string) HandlerOption {
	return func(opts *handlerOptions) {
		opts.credentials = username + ":" + password
	}
}

// WithHandlerLogger sets the logger for the handlers. The default is [slog.Default].
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(opts *handlerOptions) {
		opts.logger = logger
	}
}

// authorize checks the proxy credentials. It writes a 407 response and returns false if they
// are missing or wrong.
func (o *handlerOptions) authorize(w http.ResponseWriter, r *http.Request) bool {
	if o.credentials == "" {
		return true
	}
	if creds, ok := parseBasicAuth(r.Header.Get("Proxy-Authorization")); ok &&
		subtle.ConstantTimeCompare([]byte(creds), []byte(o.credentials)) == 1 {
		return true
	}
	w.Header().Set("Proxy-Authenticate", `Basic realm="proxy"`)
	http.Error(w, "Proxy authentication required", http.StatusProxyAuthRequired)
	return false
}

func parseBasicAuth(value string) (string, bool) {
	const prefix = "Basic "
	if len(value) < len(prefix) || !strings.EqualFold(value[:len(prefix)], prefix) {
		return "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(value[len(prefix):])
	if err != nil {
		return "", false
	}
	return string(decoded), true
}
