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
	"flag"
	"fmt"
	"strconv"
	"strings"
)

// Mode controls whether the process environment is used for proxying.
type Mode int

const (
	// ModeDefault leaves the decision to the next configuration layer.
	ModeDefault Mode = iota
	// ModeEnabled routes requests according to the process environment.
	ModeEnabled
	// ModeDisabled makes every request direct.
	ModeDisabled
)

// RuntimeEnvVar is the runtime-level switch for environment proxying. It accepts the values
// understood by [strconv.ParseBool].
const RuntimeEnvVar = "USE_ENV_PROXY"

func (m Mode) String() string {
	switch m {
	case ModeDefault:
		return "default"
	case ModeEnabled:
		return "enabled"
	case ModeDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Or returns m unless it is [ModeDefault], in which case it returns fallback.
// Use it to let a command-line mode win over the runtime-level one.
func (m Mode) Or(fallback Mode) Mode {
	if m != ModeDefault {
		return m
	}
	return fallback
}

// ModeFromRuntime reads [RuntimeEnvVar] with lookup. Unset or unparseable values give [ModeDefault].
func ModeFromRuntime(lookup LookupFunc) Mode {
	v, ok := lookup(RuntimeEnvVar)
	if !ok {
		return ModeDefault
	}
	enabled, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return ModeDefault
	}
	if enabled {
		return ModeEnabled
	}
	return ModeDisabled
}

// modeFlag is one of the two boolean flags that write the same [Mode].
type modeFlag struct {
	mode *Mode
	// negated is true for the "no-" flag.
	negated bool
}

var _ flag.Value = (*modeFlag)(nil)

func (f *modeFlag) IsBoolFlag() bool { return true }

func (f *modeFlag) String() string {
	if f.mode == nil {
		return "false"
	}
	if f.negated {
		return strconv.FormatBool(*f.mode == ModeDisabled)
	}
	return strconv.FormatBool(*f.mode == ModeEnabled)
}

func (f *modeFlag) Set(value string) error {
	on, err := strconv.ParseBool(value)
	if err != nil {
		return err
	}
	if on != f.negated {
		*f.mode = ModeEnabled
	} else {
		*f.mode = ModeDisabled
	}
	return nil
}

// RegisterFlags registers -use-env-proxy and -no-use-env-proxy on fs. Both write the returned
// [Mode], so the last one on the command line wins. It stays [ModeDefault] if neither is given.
func RegisterFlags(fs *flag.FlagSet) *Mode {
	mode := new(Mode)
	fs.Var(&modeFlag{mode: mode}, "use-env-proxy", "Route requests through the proxies in HTTP_PROXY, HTTPS_PROXY and NO_PROXY")
	fs.Var(&modeFlag{mode: mode, negated: true}, "no-use-env-proxy", "Ignore the proxy environment variables")
	return mode
}
