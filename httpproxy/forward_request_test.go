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
	"bufio"
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateTarget(t *testing.T) {
	for _, tc := range []struct {
		host, port string
		field      string
	}{
		{host: "example.com", port: "80"},
		{host: "example.com", port: ""},
		{host: "::1", port: "443"},
		{host: "bücher.example", port: "80"},
		{host: "example.com\r\nX-Injected: 1", port: "80", field: "host"},
		{host: "example.com\n", port: "80", field: "host"},
		{host: "exam ple.com", port: "80", field: "host"},
		{host: "example.com", port: "80\r\n", field: "port"},
		{host: "example.com", port: "8o", field: "port"},
	} {
		err := ValidateTarget(tc.host, tc.port)
		if tc.field == "" {
			require.NoError(t, err, "%q %q", tc.host, tc.port)
			continue
		}
		var charErr *InvalidCharError
		require.ErrorAs(t, err, &charErr, "%q %q", tc.host, tc.port)
		require.Equal(t, tc.field, charErr.Field)
		require.Equal(t, "ERR_INVALID_CHAR", ErrorCode(err))
	}
}

func TestValidateRequestTarget(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://example.com:8080/path", nil)
	require.NoError(t, err)
	require.NoError(t, ValidateRequestTarget(req))

	req.Host = "evil.com\r\nX-Injected: 1"
	var charErr *InvalidCharError
	require.ErrorAs(t, ValidateRequestTarget(req), &charErr)

	req.Host = "[::1]"
	require.NoError(t, ValidateRequestTarget(req))
}

func TestParseTargetURLStripsNewlines(t *testing.T) {
	u, err := ParseTargetURL("http://exa\r\nmple.com/pa\tth")
	require.NoError(t, err)
	require.Equal(t, "example.com", u.Host)
	require.Equal(t, "/path", u.Path)

	_, err = ParseTargetURL("/relative")
	require.Error(t, err)
}

func TestWriteForwardRequest(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://example.com:8080/path?q=1", nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteForwardRequest(&buf, req, "Basic dXNlcjpwYXNz"))
	require.True(t, strings.HasPrefix(buf.String(), "GET http://example.com:8080/path?q=1 HTTP/1.1\r\n"), buf.String())

	got, err := http.ReadRequest(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, "example.com:8080", got.Host)
	require.Equal(t, "keep-alive", got.Header.Get("Proxy-Connection"))
	require.Equal(t, "keep-alive", got.Header.Get("Connection"))
	require.Equal(t, "Basic dXNlcjpwYXNz", got.Header.Get("Proxy-Authorization"))

	// The original request is not modified.
	require.Empty(t, req.Header.Get("Proxy-Connection"))
}

func TestPrepareForwardRequestKeepsCallerHeaders(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	require.NoError(t, err)
	req.Header.Set("Proxy-Authorization", "Basic Y2FsbGVy")
	req.Header.Set("Proxy-Connection", "close")

	out, err := PrepareForwardRequest(req, "Basic b3RoZXI=")
	require.NoError(t, err)
	require.Equal(t, "Basic Y2FsbGVy", out.Header.Get("Proxy-Authorization"))
	require.Equal(t, "close", out.Header.Get("Proxy-Connection"))
}

func TestPrepareForwardRequestNoAuth(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	require.NoError(t, err)
	req.Close = true

	out, err := PrepareForwardRequest(req, "")
	require.NoError(t, err)
	_, ok := out.Header["Proxy-Authorization"]
	require.False(t, ok)
	require.Empty(t, out.Header.Get("Connection"))
}

func TestPrepareForwardRequestErrors(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://example.com/", nil)
	require.NoError(t, err)
	_, err = PrepareForwardRequest(req, "")
	require.Error(t, err)

	req, err = http.NewRequest(http.MethodGet, "http://example.com/", nil)
	require.NoError(t, err)
	_, err = PrepareForwardRequest(req, "Basic x\r\nX-Evil: 1")
	require.Error(t, err)

	req.Host = "a\nb"
	_, err = PrepareForwardRequest(req, "")
	var charErr *InvalidCharError
	require.ErrorAs(t, err, &charErr)
}
