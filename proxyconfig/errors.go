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
	"errors"
	"fmt"
)

// ErrInvalidConfig is matched by every [ConfigError] with [errors.Is].
var ErrInvalidConfig = errors.New("invalid proxy configuration")

// ConfigError reports a proxy setting that cannot be used.
// The offending value is not included since it may carry credentials.
type ConfigError struct {
	// Source names where the value came from, such as "HTTPS_PROXY" or "https_proxy".
	Source string
	Err    error
}

var _ error = (*ConfigError)(nil)

func (e *ConfigError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("%v: %v", ErrInvalidConfig, e.Err)
	}
	return fmt.Sprintf("%v in %v: %v", ErrInvalidConfig, e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Code returns the error code, "ERR_PROXY_INVALID_CONFIG".
func (e *ConfigError) Code() string {
	return "ERR_PROXY_INVALID_CONFIG"
}

func newConfigError(source string, err error) error {
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		if cfgErr.Source == "" {
			cfgErr.Source = source
		}
		return cfgErr
	}
	return &ConfigError{Source: source, Err: err}
}
