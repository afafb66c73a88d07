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
	"log/slog"
	"net/url"
	"os"
	"sync/atomic"

	"github.com/maypok86/otter"
)

const envCacheSize = 64

// Resolver computes the [Decision] for each request from layered configuration. From highest
// to lowest precedence:
//
//  1. The [Mode]: [ModeDisabled] makes every request direct.
//  2. The config installed with [Resolver.SetConfig], then the one given with [WithConfig].
//  3. The per-agent environment given with [WithProxyEnv].
//  4. The process environment, only when the mode is [ModeEnabled].
//
// The environment is read on every call to [Resolver.Resolve], and the parsed result is cached
// by raw value. A Resolver is safe for concurrent use.
type Resolver struct {
	mode     Mode
	explicit *Config
	proxyEnv *Env
	lookup   LookupFunc
	global   atomic.Pointer[Config]
	cache    otter.Cache[Env, *Config]
	logger   *slog.Logger
}

// ResolverOption configures a [Resolver].
type ResolverOption func(r *Resolver)

// WithMode sets the mode, usually the result of [RegisterFlags] combined with [ModeFromRuntime].
func WithMode(mode Mode) ResolverOption {
	return func(r *Resolver) {
		r.mode = mode
	}
}

// WithConfig sets an explicit per-resolver configuration that takes precedence over the environment.
func WithConfig(cfg *Config) ResolverOption {
	return func(r *Resolver) {
		r.explicit = cfg
	}
}

// WithProxyEnv makes the resolver use the given variables instead of the process environment.
func WithProxyEnv(vars map[string]string) ResolverOption {
	return func(r *Resolver) {
		env := EnvFromMap(vars)
		r.proxyEnv = &env
	}
}

// WithLookupEnv replaces [os.LookupEnv] as the source of the process environment.
func WithLookupEnv(lookup LookupFunc) ResolverOption {
	return func(r *Resolver) {
		r.lookup = lookup
	}
}

// WithLogger sets the logger for routing decisions. The default is [slog.Default].
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a [Resolver]. It validates the configured sources so that malformed proxy
// URLs are reported here rather than on the first request.
func NewResolver(opts ...ResolverOption) (*Resolver, error) {
	cache, err := otter.MustBuilder[Env, *Config](envCacheSize).
		Cost(func(_ Env, _ *Config) uint32 { return 1 }).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create config cache: %w", err)
	}
	r := &Resolver{lookup: os.LookupEnv, cache: cache}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.mode == ModeDisabled {
		return r, nil
	}
	if r.proxyEnv != nil {
		if _, err := r.configFromEnv(*r.proxyEnv); err != nil {
			return nil, err
		}
	}
	if r.mode == ModeEnabled {
		if _, err := r.configFromEnv(LookupEnv(r.lookup)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Mode returns the mode the resolver was created with.
func (r *Resolver) Mode() Mode {
	return r.mode
}

// SetConfig overrides the environment-derived configuration for subsequent requests.
// The last call wins. A nil cfg is the same as [Resolver.ClearConfig].
func (r *Resolver) SetConfig(cfg *Config) {
	r.global.Store(cfg)
}

// ClearConfig removes the configuration installed by [Resolver.SetConfig].
func (r *Resolver) ClearConfig() {
	r.global.Store(nil)
}

// Config returns the configuration that applies right now, or nil if requests go direct.
func (r *Resolver) Config() (*Config, error) {
	if r.mode == ModeDisabled {
		return nil, nil
	}
	if cfg := r.global.Load(); cfg != nil {
		return cfg, nil
	}
	if r.explicit != nil {
		return r.explicit, nil
	}
	if r.proxyEnv != nil {
		return r.configFromEnv(*r.proxyEnv)
	}
	if r.mode == ModeEnabled {
		return r.configFromEnv(LookupEnv(r.lookup))
	}
	return nil, nil
}

// Resolve decides how to reach target. Having no proxy configured is not an error.
// It returns a [*ConfigError] if the environment changed to a malformed value.
func (r *Resolver) Resolve(target *url.URL) (Decision, error) {
	if target == nil {
		return Direct, nil
	}
	cfg, err := r.Config()
	if err != nil {
		return Direct, err
	}
	decision := cfg.ProxyFor(target)
	r.logger.Debug("Resolved proxy", "target", target.Redacted(), "decision", decision)
	return decision, nil
}

func (r *Resolver) configFromEnv(env Env) (*Config, error) {
	if env.IsEmpty() {
		return nil, nil
	}
	if cfg, ok := r.cache.Get(env); ok {
		return cfg, nil
	}
	cfg, err := ConfigFromEnv(env)
	if err != nil {
		return nil, err
	}
	r.cache.Set(env, cfg)
	return cfg, nil
}
