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
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestErrorCode(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		code string
	}{
		{"nil", nil, ""},
		{"unknown", errors.New("boom"), ""},
		{"tunnel", fmt.Errorf("dial: %w", &TunnelError{StatusCode: 502}), "ERR_PROXY_TUNNEL"},
		{"timeout", &TimeoutError{Elapsed: time.Second}, "ETIMEDOUT"},
		{"invalid char", &InvalidCharError{Field: "host"}, "ERR_INVALID_CHAR"},
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, "ECONNREFUSED"},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), "ECONNRESET"},
		{"deadline", fmt.Errorf("read: %w", os.ErrDeadlineExceeded), "ETIMEDOUT"},
		{"context deadline", context.DeadlineExceeded, "ETIMEDOUT"},
		{"hang up", fmt.Errorf("%w: %w", ErrSocketHangUp, io.EOF), "ECONNRESET"},
		{"unexpected eof", io.ErrUnexpectedEOF, "ECONNRESET"},
		{"unknown authority", fmt.Errorf("tls: %w", x509.UnknownAuthorityError{}), "UNABLE_TO_VERIFY_LEAF_SIGNATURE"},
		{"hostname", x509.HostnameError{Host: "example.com", Certificate: &x509.Certificate{}}, "ERR_TLS_CERT_ALTNAME_INVALID"},
		{"expired", x509.CertificateInvalidError{Reason: x509.Expired}, "CERT_HAS_EXPIRED"},
		{"invalid cert", x509.CertificateInvalidError{Reason: x509.NotAuthorizedToSign}, "CERT_INVALID"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.code, ErrorCode(tc.err))
		})
	}
}

func TestErrorCodeConnectionRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	_, err = net.Dial("tcp", addr)
	require.Error(t, err)
	require.Equal(t, "ECONNREFUSED", ErrorCode(err))
}

func TestTunnelErrorMessage(t *testing.T) {
	err := &TunnelError{StatusCode: 403, StatusLine: "HTTP/1.1 403 Forbidden", Body: "denied"}
	require.Equal(t, "proxy tunnel failed: HTTP/1.1 403 Forbidden: denied", err.Error())

	err = &TunnelError{Err: io.EOF}
	require.Equal(t, "proxy tunnel failed: EOF", err.Error())
	require.ErrorIs(t, err, io.EOF)
}

func TestTimeoutErrorMessage(t *testing.T) {
	err := &TimeoutError{Elapsed: 1500 * time.Millisecond}
	require.Contains(t, err.Error(), "1.5s")
	require.True(t, err.Temporary())
}
