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

/*
Package noproxy implements the NO_PROXY convention that lists the hosts that must be reached
directly instead of through a proxy.

A NO_PROXY value is a comma-separated list of entries. Each entry is one of:

  - "*", which matches every host.
  - A domain name, optionally prefixed with "." or "*.". It matches the domain itself and all of
    its subdomains, so "example.com" matches "test.example.com" but not "notexample.com".
  - An IP address, which matches that exact address.
  - An IP range "start-end", which matches addresses of the same family between start and end,
    inclusive.
  - A CIDR prefix, such as "10.0.0.0/8".
  - Any domain name or IP address followed by ":port", which additionally requires the port to
    match. IPv6 addresses must be bracketed in that case, as in "[::1]:8080".

Hostnames are never resolved, so IP entries only match targets given as IP literals.
*/
package noproxy

import (
	"net"
	"net/netip"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// Matcher holds the parsed entries of a NO_PROXY value. The zero value never bypasses.
// A Matcher is immutable and safe for concurrent use.
type Matcher struct {
	spec  string
	all   bool
	rules []rule
}

type rule interface {
	match(t target) bool
}

// target is a normalized destination.
type target struct {
	name string
	// addr is valid when the host is an IP literal.
	addr netip.Addr
	port string
}

// Parse parses a NO_PROXY value. Entries that cannot be understood are ignored.
func Parse(spec string) *Matcher {
	m := &Matcher{spec: spec}
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if entry == "*" {
			m.all = true
			continue
		}
		if r := parseEntry(entry); r != nil {
			m.rules = append(m.rules, r)
		}
	}
	return m
}

// ShouldBypass reports whether a request to host:port must skip the proxy according to the
// NO_PROXY value noProxySpec. The port may be empty if unknown, in which case only entries
// without a port can match.
func ShouldBypass(host, port, noProxySpec string) bool {
	return Parse(noProxySpec).ShouldBypass(host, port)
}

// ShouldBypass reports whether a request to host:port must skip the proxy.
func (m *Matcher) ShouldBypass(host, port string) bool {
	if m == nil {
		return false
	}
	if m.all {
		return true
	}
	if len(m.rules) == 0 {
		return false
	}
	t := newTarget(host, port)
	if t.name == "" && !t.addr.IsValid() {
		return false
	}
	for _, r := range m.rules {
		if r.match(t) {
			return true
		}
	}
	return false
}

// Empty reports whether the matcher has no entries, meaning it never bypasses.
func (m *Matcher) Empty() bool {
	return m == nil || (!m.all && len(m.rules) == 0)
}

// String returns the NO_PROXY value the matcher was parsed from.
func (m *Matcher) String() string {
	if m == nil {
		return ""
	}
	return m.spec
}

func newTarget(host, port string) target {
	host = normalizeHost(host)
	if addr, err := netip.ParseAddr(host); err == nil {
		return target{addr: addr.Unmap().WithZone(""), port: port}
	}
	return target{name: host, port: port}
}

// normalizeHost lower-cases the host, removes IPv6 brackets and a trailing dot, and converts
// internationalized names to their ASCII form.
func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	host = strings.TrimSuffix(host, ".")
	if !isASCII(host) {
		if ascii, err := idna.Punycode.ToASCII(host); err == nil {
			host = ascii
		}
	}
	return host
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func parseEntry(entry string) rule {
	if strings.Contains(entry, "/") {
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return nil
		}
		return prefixRule{prefix: prefix.Masked()}
	}
	if lo, hi, ok := strings.Cut(entry, "-"); ok {
		if r, ok := parseRange(lo, hi); ok {
			return r
		}
	}
	// Bare IPv6 addresses contain colons, so try them before splitting the port.
	if addr, err := netip.ParseAddr(strings.Trim(entry, "[]")); err == nil {
		return addrRule{addr: addr.Unmap().WithZone("")}
	}
	host, port := entry, ""
	if h, p, err := net.SplitHostPort(entry); err == nil && isPort(p) {
		host, port = h, p
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addrRule{addr: addr.Unmap().WithZone(""), port: port}
	}
	suffix := strings.HasPrefix(host, ".") || strings.HasPrefix(host, "*.")
	host = normalizeHost(strings.TrimPrefix(strings.TrimPrefix(host, "*"), "."))
	if host == "" {
		return nil
	}
	if port != "" && !suffix {
		return hostPortRule{name: host, port: port}
	}
	return domainRule{domain: host, port: port}
}

func parseRange(lo, hi string) (rule, bool) {
	start, err := netip.ParseAddr(strings.TrimSpace(lo))
	if err != nil {
		return nil, false
	}
	end, err := netip.ParseAddr(strings.TrimSpace(hi))
	if err != nil {
		return nil, false
	}
	start, end = start.Unmap(), end.Unmap()
	if start.Is4() != end.Is4() {
		return nil, false
	}
	return rangeRule{start: start.WithZone(""), end: end.WithZone("")}, true
}

func isPort(s string) bool {
	if s == "" || len(s) > 5 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// domainRule matches the domain and its subdomains. An empty port matches any port.
type domainRule struct {
	domain string
	port   string
}

func (r domainRule) match(t target) bool {
	if t.name == "" || (r.port != "" && r.port != t.port) {
		return false
	}
	return t.name == r.domain || strings.HasSuffix(t.name, "."+r.domain)
}

// hostPortRule requires an exact host and port.
type hostPortRule struct {
	name string
	port string
}

func (r hostPortRule) match(t target) bool {
	return t.name != "" && t.name == r.name && t.port == r.port
}

// addrRule matches a single IP address, with an optional port.
type addrRule struct {
	addr netip.Addr
	port string
}

func (r addrRule) match(t target) bool {
	if !t.addr.IsValid() || t.addr != r.addr {
		return false
	}
	return r.port == "" || r.port == t.port
}

// rangeRule matches addresses of the same family in [start, end].
type rangeRule struct {
	start netip.Addr
	end   netip.Addr
}

func (r rangeRule) match(t target) bool {
	if !t.addr.IsValid() || t.addr.Is4() != r.start.Is4() {
		return false
	}
	return r.start.Compare(t.addr) <= 0 && t.addr.Compare(r.end) <= 0
}

type prefixRule struct {
	prefix netip.Prefix
}

func (r prefixRule) match(t target) bool {
	return t.addr.IsValid() && r.prefix.Contains(t.addr)
}
