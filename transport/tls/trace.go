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

package tls

import (
	"context"
	"crypto/tls"
)

type contextKey struct{}

var tlsClientTraceKey = contextKey{}

// TLSClientTrace is a set of hooks run around the handshakes done by [WrapConn].
// Any field may be nil.
type TLSClientTrace struct {
	TLSHandshakeStart func()
	TLSHandshakeDone  func(state tls.ConnectionState, err error)
}

// WithTLSClientTrace returns a context that carries the given trace hooks.
func WithTLSClientTrace(ctx context.Context, trace *TLSClientTrace) context.Context {
	return context.WithValue(ctx, tlsClientTraceKey, trace)
}

// GetTLSClientTrace returns the hooks carried by ctx, or nil.
func GetTLSClientTrace(ctx context.Context) *TLSClientTrace {
	trace, _ := ctx.Value(tlsClientTraceKey).(*TLSClientTrace)
	return trace
}
