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

package main

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/Jigsaw-Code/proxyagent/proxyconfig"
	"github.com/stretchr/testify/require"
)

func TestNewResolverFromFlags(t *testing.T) {
	resolver, err := newResolver(proxyconfig.ModeDefault, "", "http://proxy:3128", "", "internal.example")
	require.NoError(t, err)

	target, err := url.Parse("http://example.com/")
	require.NoError(t, err)
	decision, err := resolver.Resolve(target)
	require.NoError(t, err)
	require.Equal(t, "proxy http://proxy:3128", decision.String())

	target, err = url.Parse("http://internal.example/")
	require.NoError(t, err)
	decision, err = resolver.Resolve(target)
	require.NoError(t, err)
	require.False(t, decision.UseProxy)
}

func TestNewResolverFromFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "proxy.yaml")
	require.NoError(t, os.WriteFile(file, []byte("https_proxy: https://secure-proxy:8443\n"), 0o600))

	resolver, err := newResolver(proxyconfig.ModeDefault, file, "", "", "")
	require.NoError(t, err)
	target, err := url.Parse("https://example.com/")
	require.NoError(t, err)
	decision, err := resolver.Resolve(target)
	require.NoError(t, err)
	require.True(t, decision.UseProxy)
	require.Equal(t, "secure-proxy:8443", decision.Proxy.Address())
}

func TestNewResolverDisabled(t *testing.T) {
	resolver, err := newResolver(proxyconfig.ModeDisabled, "", "http://proxy:3128", "", "")
	require.NoError(t, err)
	target, err := url.Parse("http://example.com/")
	require.NoError(t, err)
	decision, err := resolver.Resolve(target)
	require.NoError(t, err)
	require.Equal(t, proxyconfig.Direct, decision)
}

func TestNewResolverInvalidProxy(t *testing.T) {
	_, err := newResolver(proxyconfig.ModeDefault, "", "http://proxy:99999", "", "")
	require.ErrorIs(t, err, proxyconfig.ErrInvalidConfig)
}

func TestNewRequest(t *testing.T) {
	req, err := newRequest(http.MethodHead, "http://exam\r\nple.com/a\tb", []string{"X-Trace: 1", "Accept: text/plain"})
	require.NoError(t, err)
	require.Equal(t, http.MethodHead, req.Method)
	require.Equal(t, "example.com", req.URL.Host)
	require.Equal(t, "/ab", req.URL.Path)
	require.Equal(t, "1", req.Header.Get("X-Trace"))
	require.Equal(t, "text/plain", req.Header.Get("Accept"))
}

func TestNewRequestErrors(t *testing.T) {
	_, err := newRequest(http.MethodGet, "/no-host", nil)
	require.Error(t, err)

	_, err = newRequest(http.MethodGet, "http://example.com/", []string{"not a header"})
	require.Error(t, err)
}
