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

package noproxy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShouldBypass(t *testing.T) {
	tests := []struct {
		name string
		spec string
		host string
		port string
		want bool
	}{
		{"empty spec", "", "example.com", "80", false},
		{"blank entries", " , ,", "example.com", "80", false},
		{"wildcard", "*", "anything.test", "1234", true},
		{"wildcard among others", "foo.com, *", "example.com", "80", true},

		{"exact host", "example.com", "example.com", "80", true},
		{"bare domain matches subdomain", "example.com", "test.example.com", "443", true},
		{"bare domain is dot-aware", "example.com", "notexample.com", "80", false},
		{"leading dot", ".example.com", "test.example.com", "80", true},
		{"leading dot matches domain itself", ".example.com", "example.com", "80", true},
		{"star dot", "*.example.com", "a.b.example.com", "80", true},
		{"star dot is dot-aware", "*.example.com", "badexample.com", "80", false},
		{"case insensitive entry", "EXAMPLE.com", "example.COM", "80", true},
		{"trailing dot", "example.com.", "www.example.com.", "80", true},
		{"whitespace trimmed", "  foo.com ,  example.com  ", "example.com", "80", true},
		{"unrelated domain", "foo.com,bar.com", "example.com", "80", false},
		{"idn", "bücher.example", "xn--bcher-kva.example", "80", true},
		{"idn target", "xn--bcher-kva.example", "www.Bücher.example", "80", true},

		{"host port match", "example.com:8080", "example.com", "8080", true},
		{"host port differs", "example.com:8080", "example.com", "80", false},
		{"host port no subdomain", "example.com:8080", "www.example.com", "8080", false},
		{"suffix with port", ".example.com:8080", "www.example.com", "8080", true},
		{"suffix with other port", ".example.com:8080", "www.example.com", "9090", false},

		{"ipv4 literal", "127.0.0.1", "127.0.0.1", "80", true},
		{"ipv4 literal mismatch", "127.0.0.1", "127.0.0.2", "80", false},
		{"ipv4 with port", "127.0.0.1:3000", "127.0.0.1", "3000", true},
		{"ipv4 with other port", "127.0.0.1:3000", "127.0.0.1", "3001", false},
		{"ipv4 entry does not match name", "127.0.0.1", "localhost", "80", false},
		{"ipv6 literal", "::1", "::1", "80", true},
		{"ipv6 bracketed target", "::1", "[::1]", "80", true},
		{"ipv6 bracketed entry", "[::1]", "::1", "80", true},
		{"ipv6 with port", "[::1]:8080", "::1", "8080", true},
		{"ipv6 with other port", "[::1]:8080", "::1", "8081", false},
		{"ipv4-mapped target", "10.1.2.3", "::ffff:10.1.2.3", "80", true},
		{"domain does not match ip", "0.1", "127.0.0.1", "80", false},

		{"ipv4 range inside", "10.0.0.1-10.0.0.100", "10.0.0.50", "80", true},
		{"ipv4 range start", "10.0.0.1-10.0.0.100", "10.0.0.1", "80", true},
		{"ipv4 range end", "10.0.0.1-10.0.0.100", "10.0.0.100", "80", true},
		{"ipv4 range outside", "10.0.0.1-10.0.0.100", "10.0.0.101", "80", false},
		{"ipv4 range crosses octets", "10.0.0.200-10.0.1.10", "10.0.1.5", "80", true},
		{"ipv4 range spaces", "10.0.0.1 - 10.0.0.9", "10.0.0.5", "80", true},
		{"ipv6 range inside", "fd00::1-fd00::ff", "fd00::10", "443", true},
		{"ipv6 range outside", "fd00::1-fd00::ff", "fd00::100", "443", false},
		{"ipv6 range high bits", "2001:db8::-2001:db8:0:ffff::", "2001:db8:0:8000::1", "443", true},
		{"ipv4-mapped target in range", "10.0.0.1-10.0.0.100", "::ffff:a00:32", "80", true},
		{"ipv6 target never in ipv4 range", "0.0.0.0-255.255.255.255", "fd00::1", "80", false},
		{"range never matches hostnames", "10.0.0.1-10.0.0.100", "ten.example", "80", false},
		{"hyphenated hostname", "my-host.example", "my-host.example", "80", true},

		{"cidr v4", "192.168.0.0/16", "192.168.4.2", "80", true},
		{"cidr v4 outside", "192.168.0.0/16", "192.169.0.1", "80", false},
		{"cidr v6", "fc00::/7", "fd12::1", "80", true},
		{"invalid cidr ignored", "300.0.0.0/8", "300.0.0.1", "80", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ShouldBypass(tc.host, tc.port, tc.spec))
		})
	}
}

func TestHostPortOnlyBypassesThatPort(t *testing.T) {
	m := Parse("localhost:8080")
	require.True(t, m.ShouldBypass("localhost", "8080"))
	require.False(t, m.ShouldBypass("localhost", "8081"))
	require.False(t, m.ShouldBypass("localhost", ""))
}

func TestMatcherEmpty(t *testing.T) {
	require.True(t, Parse("").Empty())
	require.True(t, Parse(" , ").Empty())
	require.False(t, Parse("*").Empty())
	require.False(t, Parse("example.com").Empty())

	var m *Matcher
	require.True(t, m.Empty())
	require.False(t, m.ShouldBypass("example.com", "80"))
	require.Equal(t, "", m.String())
}

func TestMatcherString(t *testing.T) {
	require.Equal(t, "a.com, b.com", Parse("a.com, b.com").String())
}

func TestEmptyTargetNeverBypasses(t *testing.T) {
	require.False(t, Parse("example.com").ShouldBypass("", "80"))
	require.True(t, Parse("*").ShouldBypass("", "80"))
}
