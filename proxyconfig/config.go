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

package proxyconfig

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Jigsaw-Code/proxyagent/noproxy"
)

// Config is a parsed proxy configuration. It is immutable once built.
type Config struct {
	// HTTPProxy is used for http: targets. Nil means direct.
	HTTPProxy *ProxyURL
	// HTTPSProxy is used for https: targets. Nil means direct.
	HTTPSProxy *ProxyURL
	// NoProxy lists the targets that bypass both proxies.
	NoProxy *noproxy.Matcher
}

// NewConfig parses the given proxy settings. Empty strings leave the corresponding setting unset.
// It fails with a [*ConfigError] if a proxy URL is malformed.
func NewConfig(httpProxy, httpsProxy, noProxy string) (*Config, error) {
	return newConfig(httpProxy, "http proxy", httpsProxy, "https proxy", noProxy)
}

// ConfigFromEnv parses the given environment values.
func ConfigFromEnv(env Env) (*Config, error) {
	return newConfig(env.HTTPProxy, env.httpSource, env.HTTPSProxy, env.httpsSource, env.NoProxy)
}

func newConfig(httpProxy, httpSource, httpsProxy, httpsSource, noProxy string) (*Config, error) {
	cfg := &Config{NoProxy: noproxy.Parse(noProxy)}
	var err error
	if strings.TrimSpace(httpProxy) != "" {
		if cfg.HTTPProxy, err = ParseProxyURL(httpProxy); err != nil {
			return nil, newConfigError(httpSource, err)
		}
	}
	if strings.TrimSpace(httpsProxy) != "" {
		if cfg.HTTPSProxy, err = ParseProxyURL(httpsProxy); err != nil {
			return nil, newConfigError(httpsSource, err)
		}
	}
	return cfg, nil
}

// Decision is the routing outcome for one request.
type Decision struct {
	UseProxy bool
	// Proxy is set when UseProxy is true.
	Proxy *ProxyURL
}

// Direct is the decision to connect to the target without a proxy.
var Direct = Decision{}

func (d Decision) String() string {
	if !d.UseProxy {
		return "direct"
	}
	return fmt.Sprintf("proxy %v", d.Proxy)
}

// ProxyFor decides how to reach target. Targets with schemes other than http and https, and
// targets matched by NoProxy, are reached directly.
func (c *Config) ProxyFor(target *url.URL) Decision {
	if c == nil || target == nil {
		return Direct
	}
	var proxy *ProxyURL
	switch strings.ToLower(target.Scheme) {
	case "http":
		proxy = c.HTTPProxy
	case "https":
		proxy = c.HTTPSProxy
	}
	if proxy == nil {
		return Direct
	}
	if c.NoProxy.ShouldBypass(target.Hostname(), TargetPort(target)) {
		return Direct
	}
	return Decision{UseProxy: true, Proxy: proxy}
}

// TargetPort returns the port of target, defaulting by scheme.
func TargetPort(target *url.URL) string {
	if port := target.Port(); port != "" {
		return port
	}
	switch strings.ToLower(target.Scheme) {
	case "http":
		return "80"
	case "https":
		return "443"
	}
	return ""
}
