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

import "os"

// LookupFunc looks up an environment variable, like [os.LookupEnv].
type LookupFunc func(key string) (string, bool)

// Env holds the raw proxy environment variables, after picking between the lower and upper-case
// variants. It is comparable, so it can be used as a cache key.
type Env struct {
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string

	// Names of the variables the values came from, for error messages.
	httpSource, httpsSource string
}

// IsEmpty reports whether no proxy variable is set.
func (e Env) IsEmpty() bool {
	return e.HTTPProxy == "" && e.HTTPSProxy == ""
}

// LookupEnv reads the proxy variables with lookup.
// The lower-case variant of each variable wins over the upper-case one when both are non-empty.
// On platforms where the environment is case-insensitive both names return the same value.
func LookupEnv(lookup LookupFunc) Env {
	var env Env
	env.HTTPProxy, env.httpSource = pick(lookup, "http_proxy", "HTTP_PROXY")
	env.HTTPSProxy, env.httpsSource = pick(lookup, "https_proxy", "HTTPS_PROXY")
	env.NoProxy, _ = pick(lookup, "no_proxy", "NO_PROXY")
	return env
}

// OSEnv reads the proxy variables from the process environment.
func OSEnv() Env {
	return LookupEnv(os.LookupEnv)
}

// EnvFromMap reads the proxy variables from vars, typically a per-agent proxyEnv.
func EnvFromMap(vars map[string]string) Env {
	return LookupEnv(func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	})
}

func pick(lookup LookupFunc, lower, upper string) (string, string) {
	if v, ok := lookup(lower); ok && v != "" {
		return v, lower
	}
	if v, ok := lookup(upper); ok && v != "" {
		return v, upper
	}
	return "", ""
}
