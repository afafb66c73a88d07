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

package httpproxy

import (
	"context"
)

type contextKey struct{}

var connectClientTraceKey = contextKey{}

// ConnectClientTrace is a set of hooks run during a CONNECT attempt. Any field may be nil.
type ConnectClientTrace struct {
	// RequestWritten is called after the CONNECT request for addr is sent.
	RequestWritten func(addr string, err error)
	// ResponseReceived is called once the response headers are complete.
	ResponseReceived func(statusLine string)
	// TunnelDone is called when the attempt ends, with a nil err if the tunnel is established.
	TunnelDone func(addr string, err error)
}

// WithConnectClientTrace adds CONNECT trace hooks to the context.
func WithConnectClientTrace(ctx context.Context, trace *ConnectClientTrace) context.Context {
	return context.WithValue(ctx, connectClientTraceKey, trace)
}

// GetConnectClientTrace retrieves the CONNECT trace hooks from the context, if available.
func GetConnectClientTrace(ctx context.Context) *ConnectClientTrace {
	if trace, ok := ctx.Value(connectClientTraceKey).(*ConnectClientTrace); ok {
		return trace
	}
	return nil
}
