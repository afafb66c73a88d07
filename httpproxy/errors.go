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
	"net/http"
	"os"
	"syscall"
	"time"
)

var (
	// ErrTunnel is matched by every [*TunnelError].
	ErrTunnel = errors.New("proxy tunnel failed")
	// ErrProxyAuthRequired is matched by a [*TunnelError] for a 407 response.
	ErrProxyAuthRequired = errors.New("proxy authentication required")
	// ErrSocketHangUp reports that the server closed the connection before sending a response.
	ErrSocketHangUp = errors.New("socket hang up")
)

// TunnelError reports a CONNECT attempt the proxy did not accept.
type TunnelError struct {
	// StatusCode is 0 if the proxy closed the connection before sending a response.
	StatusCode int
	// StatusLine is the first line of the proxy response, like "HTTP/1.1 502 Bad Gateway".
	StatusLine string
	// Body holds the response body text, possibly truncated.
	Body string
	// Err is the underlying cause, if any.
	Err error
}

var _ error = (*TunnelError)(nil)

func (e *TunnelError) Error() string {
	var msg string
	switch {
	case e.StatusLine != "" && e.Body != "":
		msg = fmt.Sprintf("%v: %v: %v", ErrTunnel, e.StatusLine, e.Body)
	case e.StatusLine != "":
		msg = fmt.Sprintf("%v: %v", ErrTunnel, e.StatusLine)
	default:
		msg = ErrTunnel.Error()
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%v: %v", msg, e.Err)
	}
	return msg
}

func (e *TunnelError) Unwrap() error {
	return e.Err
}

func (e *TunnelError) Is(target error) bool {
	switch target {
	case ErrTunnel:
		return true
	case ErrProxyAuthRequired:
		return e.StatusCode == http.StatusProxyAuthRequired
	}
	return false
}

// Code returns "ERR_PROXY_TUNNEL".
func (e *TunnelError) Code() string {
	return "ERR_PROXY_TUNNEL"
}

// TimeoutError reports that the proxy did not complete the CONNECT response in time.
// It implements [net.Error] and matches [os.ErrDeadlineExceeded].
type TimeoutError struct {
	// Elapsed is the time spent waiting for the response.
	Elapsed time.Duration
}

var _ net.Error = (*TimeoutError)(nil)

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("proxy CONNECT response timed out after %v", e.Elapsed.Round(time.Millisecond))
}

func (e *TimeoutError) Timeout() bool   { return true }
func (e *TimeoutError) Temporary() bool { return true }

func (e *TimeoutError) Is(target error) bool {
	return target == os.ErrDeadlineExceeded
}

// Code returns "ETIMEDOUT".
func (e *TimeoutError) Code() string {
	return "ETIMEDOUT"
}

// InvalidCharError reports a request field with characters that would corrupt the request line
// or headers.
type InvalidCharError struct {
	// Field is "host" or "port".
	Field string
	Value string
}

var _ error = (*InvalidCharError)(nil)

func (e *InvalidCharError) Error() string {
	return fmt.Sprintf("invalid character in %v %q", e.Field, e.Value)
}

// Code returns "ERR_INVALID_CHAR".
func (e *InvalidCharError) Code() string {
	return "ERR_INVALID_CHAR"
}

// ErrorCode classifies err as a short code, like "ECONNREFUSED" or "ERR_PROXY_TUNNEL".
// It returns "" for errors it does not recognize.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var coder interface{ Code() string }
	if errors.As(err, &coder) {
		return coder.Code()
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if name := errnoName(errno); name != "" {
			return name
		}
	}
	if code := certErrorCode(err); code != "" {
		return code
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return "ETIMEDOUT"
	}
	// An early close shows up as EOF to the HTTP layer. It's reported as a reset.
	if errors.Is(err, ErrSocketHangUp) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return "ECONNRESET"
	}
	return ""
}

func isTimeout(err error) bool {
	var timeErr interface{ Timeout() bool }
	return errors.As(err, &timeErr) && timeErr.Timeout()
}

// certErrorCode maps certificate verification failures to the codes used by OpenSSL.
func certErrorCode(err error) string {
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return "UNABLE_TO_VERIFY_LEAF_SIGNATURE"
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return "ERR_TLS_CERT_ALTNAME_INVALID"
	}
	var invalidErr x509.CertificateInvalidError
	if errors.As(err, &invalidErr) {
		switch invalidErr.Reason {
		case x509.Expired:
			return "CERT_HAS_EXPIRED"
		default:
			return "CERT_INVALID"
		}
	}
	return ""
}

// errnoName returns the POSIX name of a socket error, like "ECONNREFUSED".
func errnoName(errno syscall.Errno) string {
	return systemErrnoName(errno)
}
