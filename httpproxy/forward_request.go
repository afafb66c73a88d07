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
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// ValidateTarget checks that host and port can be written into a request line and Host header.
// Any control character, CR and LF included, is rejected with an [*InvalidCharError] instead of
// being stripped. Non-ASCII hosts are left for IDNA conversion. The port may be empty.
func ValidateTarget(host, port string) error {
	if hasCTL(host) || (isASCII(host) && !httpguts.ValidHostHeader(host)) {
		return &InvalidCharError{Field: "host", Value: host}
	}
	for i := 0; i < len(port); i++ {
		if port[i] < '0' || port[i] > '9' {
			return &InvalidCharError{Field: "port", Value: port}
		}
	}
	return nil
}

// ValidateRequestTarget applies [ValidateTarget] to the URL host and the Host override of req.
func ValidateRequestTarget(req *http.Request) error {
	if req.URL == nil {
		return errors.New("request has no URL")
	}
	for _, hostport := range []string{req.URL.Host, req.Host} {
		if hostport == "" {
			continue
		}
		if hasCTL(hostport) {
			return &InvalidCharError{Field: "host", Value: hostport}
		}
		host, port, err := net.SplitHostPort(hostport)
		if err != nil {
			// No port.
			host, port = strings.TrimSuffix(strings.TrimPrefix(hostport, "["), "]"), ""
		}
		if err := ValidateTarget(host, port); err != nil {
			return err
		}
	}
	return nil
}

// ParseTargetURL parses a full URL string. ASCII tab, CR and LF are removed before parsing, as
// URL parsers in browsers do. This is deliberately more lenient than [ValidateTarget], which
// rejects those characters when they come in separate host or port fields.
func ParseTargetURL(raw string) (*url.URL, error) {
	raw = strings.Map(func(r rune) rune {
		if r == '\t' || r == '\r' || r == '\n' {
			return -1
		}
		return r
	}, raw)
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, fmt.Errorf("URL %q has no host", u.Redacted())
	}
	return u, nil
}

// PrepareForwardRequest returns a copy of req to be sent in absolute form to an HTTP proxy.
// It adds Proxy-Connection and Connection keep-alive headers and, if proxyAuth is not empty,
// Proxy-Authorization, unless the caller already set them. The Host header keeps naming the origin.
func PrepareForwardRequest(req *http.Request, proxyAuth string) (*http.Request, error) {
	if err := ValidateRequestTarget(req); err != nil {
		return nil, err
	}
	if req.URL.Scheme != "http" {
		return nil, fmt.Errorf("forwarding requires an http URL, got %q", req.URL.Scheme)
	}
	if !httpguts.ValidHeaderFieldValue(proxyAuth) {
		return nil, errors.New("invalid Proxy-Authorization value")
	}
	out := req.Clone(req.Context())
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	if out.Header.Get("Proxy-Connection") == "" {
		out.Header.Set("Proxy-Connection", "keep-alive")
	}
	if out.Header.Get("Connection") == "" && !out.Close {
		out.Header.Set("Connection", "keep-alive")
	}
	if proxyAuth != "" && out.Header.Get("Proxy-Authorization") == "" {
		out.Header.Set("Proxy-Authorization", proxyAuth)
	}
	return out, nil
}

// WriteForwardRequest writes req to w, which is connected to an HTTP proxy, with an absolute
// request line like "GET http://host:port/path HTTP/1.1".
func WriteForwardRequest(w io.Writer, req *http.Request, proxyAuth string) error {
	out, err := PrepareForwardRequest(req, proxyAuth)
	if err != nil {
		return err
	}
	return out.WriteProxy(w)
}

func hasCTL(s string) bool {
	for i := 0; i < len(s); i++ {
		if b := s[i]; b < 0x20 || b == 0x7f {
			return true
		}
	}
	return false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
