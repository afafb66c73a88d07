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
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Jigsaw-Code/proxyagent/transport"
)

const (
	// maxResponseSize bounds both the response headers and the captured error body.
	maxResponseSize = 64 * 1024
	// drainWindow is how long to keep reading the body of a rejected CONNECT.
	drainWindow   = 250 * time.Millisecond
	readChunkSize = 4096
)

var headerTerminator = []byte("\r\n\r\n")

type tunnelState int

const (
	stateIdle tunnelState = iota
	stateAwaitingResponse
	stateEstablished
	stateFailed
)

func (s tunnelState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateAwaitingResponse:
		return "awaiting-response"
	case stateEstablished:
		return "established"
	case stateFailed:
		return "failed"
	default:
		return fmt.Sprintf("tunnelState(%d)", int(s))
	}
}

type readResult struct {
	data []byte
	err  error
}

// tunnel is the state of one CONNECT attempt. It's only touched by the establish loop.
type tunnel struct {
	addr   string
	conn   transport.StreamConn
	logger *slog.Logger
	trace  *ConnectClientTrace

	state           tunnelState
	buf             []byte
	headersComplete bool
	headerEnd       int
	statusCode      int
	statusLine      string
	// bodyLength is the Content-Length of a rejected response, or -1 if unknown.
	bodyLength int64
	err        error
}

// establish sends the CONNECT request and runs the state machine until the tunnel is
// established or fails. Reads happen in a separate goroutine, one at a time and only when the
// loop asks for them, so nothing past the response is consumed once the tunnel is up.
func (t *tunnel) establish(ctx context.Context, request []byte, timeout time.Duration) (transport.StreamConn, error) {
	start := time.Now()
	_, err := t.conn.Write(request)
	if t.trace != nil && t.trace.RequestWritten != nil {
		t.trace.RequestWritten(t.addr, err)
	}
	if err != nil {
		t.state = stateFailed
		return nil, fmt.Errorf("failed to write CONNECT request: %w", err)
	}
	t.state = stateAwaitingResponse
	t.logger.Debug("CONNECT request sent")

	readReqs := make(chan struct{})
	results := make(chan readResult, 1)
	done := make(chan struct{})
	defer close(done)
	go t.readLoop(readReqs, results, done)

	var timeoutC, drainC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	readReqs <- struct{}{}
	for {
		select {
		case res := <-results:
			t.onRead(res)
		case <-timeoutC:
			if t.headersComplete {
				t.failWithResponse()
			} else {
				t.fail(&TimeoutError{Elapsed: time.Since(start)})
			}
		case <-drainC:
			t.failWithResponse()
		case <-ctx.Done():
			t.fail(fmt.Errorf("CONNECT aborted: %w", context.Cause(ctx)))
		}

		switch t.state {
		case stateEstablished:
			t.logger.Debug("CONNECT established", "elapsed", time.Since(start))
			return t.established(), nil
		case stateFailed:
			t.logger.Debug("CONNECT failed", "status", t.statusCode, "elapsed", time.Since(start), "error", t.err)
			return nil, t.err
		}

		if t.headersComplete && drainC == nil {
			drainTimer := time.NewTimer(drainWindow)
			defer drainTimer.Stop()
			drainC = drainTimer.C
		}
		readReqs <- struct{}{}
	}
}

func (t *tunnel) readLoop(reqs <-chan struct{}, results chan<- readResult, done <-chan struct{}) {
	for {
		select {
		case <-reqs:
		case <-done:
			return
		}
		buf := make([]byte, readChunkSize)
		n, err := t.conn.Read(buf)
		results <- readResult{data: buf[:n], err: err}
	}
}

func (t *tunnel) onRead(res readResult) {
	t.buf = append(t.buf, res.data...)
	if !t.headersComplete {
		end := bytes.Index(t.buf, headerTerminator)
		switch {
		case end >= 0:
			t.onHeaders(end + len(headerTerminator))
		case res.err != nil:
			t.fail(&TunnelError{Err: fmt.Errorf("proxy socket ended unexpectedly: %w", res.err)})
		case len(t.buf) > maxResponseSize:
			t.fail(&TunnelError{Err: errors.New("proxy response headers too large")})
		}
		if t.state != stateAwaitingResponse || !t.headersComplete {
			return
		}
	}
	// The response was rejected and this is its body.
	if res.err != nil || t.bodyComplete() {
		t.failWithResponse()
	}
}

func (t *tunnel) onHeaders(end int) {
	t.headersComplete = true
	t.headerEnd = end
	line, _, _ := bytes.Cut(t.buf, []byte("\r\n"))
	t.statusLine = string(line)
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(t.buf[:end])), &http.Request{Method: http.MethodConnect})
	if err != nil {
		t.fail(&TunnelError{StatusLine: t.statusLine, Err: fmt.Errorf("malformed proxy response: %w", err)})
		return
	}
	t.statusCode = resp.StatusCode
	if t.trace != nil && t.trace.ResponseReceived != nil {
		t.trace.ResponseReceived(t.statusLine)
	}
	if resp.StatusCode == http.StatusOK {
		t.state = stateEstablished
		return
	}
	t.bodyLength = resp.ContentLength
}

func (t *tunnel) bodyComplete() bool {
	n := int64(len(t.buf) - t.headerEnd)
	return n >= maxResponseSize || (t.bodyLength >= 0 && n >= t.bodyLength)
}

func (t *tunnel) failWithResponse() {
	body := t.buf[t.headerEnd:]
	if t.bodyLength >= 0 && int64(len(body)) > t.bodyLength {
		body = body[:t.bodyLength]
	}
	if len(body) > maxResponseSize {
		body = body[:maxResponseSize]
	}
	t.fail(&TunnelError{StatusCode: t.statusCode, StatusLine: t.statusLine, Body: string(body)})
}

func (t *tunnel) fail(err error) {
	t.state = stateFailed
	t.err = err
}

// established returns the tunnel connection, putting back any bytes read past the response.
func (t *tunnel) established() transport.StreamConn {
	leftover := t.buf[t.headerEnd:]
	if len(leftover) == 0 {
		return t.conn
	}
	return transport.WrapConn(t.conn, io.MultiReader(bytes.NewReader(leftover), t.conn), t.conn)
}
