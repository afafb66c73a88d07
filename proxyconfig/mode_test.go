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
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func parseFlags(t *testing.T, args ...string) Mode {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	mode := RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return *mode
}

func TestRegisterFlags(t *testing.T) {
	require.Equal(t, ModeDefault, parseFlags(t))
	require.Equal(t, ModeEnabled, parseFlags(t, "--use-env-proxy"))
	require.Equal(t, ModeDisabled, parseFlags(t, "--no-use-env-proxy"))
	require.Equal(t, ModeDisabled, parseFlags(t, "-use-env-proxy=false"))
	require.Equal(t, ModeEnabled, parseFlags(t, "-no-use-env-proxy=false"))
}

func TestRegisterFlagsLastWins(t *testing.T) {
	require.Equal(t, ModeDisabled, parseFlags(t, "--use-env-proxy", "--no-use-env-proxy"))
	require.Equal(t, ModeEnabled, parseFlags(t, "--no-use-env-proxy", "--use-env-proxy"))
}

func TestRegisterFlagsInvalidValue(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	RegisterFlags(fs)
	require.Error(t, fs.Parse([]string{"-use-env-proxy=maybe"}))
}

func TestModeFromRuntime(t *testing.T) {
	lookup := func(vars map[string]string) LookupFunc {
		return func(key string) (string, bool) {
			v, ok := vars[key]
			return v, ok
		}
	}
	require.Equal(t, ModeDefault, ModeFromRuntime(lookup(nil)))
	require.Equal(t, ModeEnabled, ModeFromRuntime(lookup(map[string]string{"USE_ENV_PROXY": "1"})))
	require.Equal(t, ModeEnabled, ModeFromRuntime(lookup(map[string]string{"USE_ENV_PROXY": "true"})))
	require.Equal(t, ModeDisabled, ModeFromRuntime(lookup(map[string]string{"USE_ENV_PROXY": "0"})))
	require.Equal(t, ModeDefault, ModeFromRuntime(lookup(map[string]string{"USE_ENV_PROXY": "sometimes"})))
}

func TestCommandLineWinsOverRuntime(t *testing.T) {
	require.Equal(t, ModeDisabled, parseFlags(t, "--no-use-env-proxy").Or(ModeEnabled))
	require.Equal(t, ModeEnabled, parseFlags(t, "--use-env-proxy").Or(ModeDisabled))
	require.Equal(t, ModeEnabled, parseFlags(t).Or(ModeEnabled))
}

func TestModeString(t *testing.T) {
	require.Equal(t, "default", ModeDefault.String())
	require.Equal(t, "enabled", ModeEnabled.String())
	require.Equal(t, "disabled", ModeDisabled.String())
	require.Equal(t, "Mode(7)", Mode(7).String())
}
