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

package agent

import (
	"bufio"
	"container/list"
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Jigsaw-Code/proxyagent/proxyconfig"
	"github.com/Jigsaw-Code/proxyagent/transport"
)

// poolKey identifies connections that can be shared. A tunnel is bound to its origin, so the
// origin is always part of the key, even for proxied requests.
type poolKey struct {
	// proxy is empty for direct connections.
	proxy  string
	scheme string
	host   string
	port   string
}

func newPoolKey(decision proxyconfig.Decision, scheme, host, port string) poolKey {
	key := poolKey{scheme: scheme, host: strings.ToLower(host), port: port}
	if decision.UseProxy {
		// Different credentials must not share connections.
		key.proxy = decision.Proxy.Scheme + "://" + decision.Proxy.Address() + "|" + decision.Proxy.Authorization()
	}
	return key
}

func (k poolKey) addr() string {
	return net.JoinHostPort(k.host, k.port)
}

// persistConn is a connection that may carry several requests in sequence.
type persistConn struct {
	conn   transport.StreamConn
	br     *bufio.Reader
	bw     *bufio.Writer
	idleAt time.Time
	// reused is set once the connection has completed a request.
	reused bool
}

func newPersistConn(conn transport.StreamConn) *persistConn {
	return &persistConn{
		conn: conn,
		br:   bufio.NewReader(conn),
		bw:   bufio.NewWriter(conn),
	}
}

// hostPool holds the connections of one pool key. Requests that find neither an idle connection
// nor a free slot wait in FIFO order. A waiter receives either an idle connection or, as nil,
// the slot of a connection that was discarded.
type hostPool struct {
	max int

	mu      sync.Mutex
	idle    []*persistConn
	total   int
	waiters list.List
}

func newHostPool(max int) *hostPool {
	return &hostPool{max: max}
}

// get returns an idle connection, or nil if the caller holds a new slot and should dial.
func (p *hostPool) get(ctx context.Context, idleTimeout time.Duration) (*persistConn, error) {
	var expired []*persistConn
	defer func() {
		for _, pc := range expired {
			pc.conn.Close()
		}
	}()

	p.mu.Lock()
	for len(p.idle) > 0 {
		pc := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if idleTimeout > 0 && time.Since(pc.idleAt) > idleTimeout {
			p.total--
			expired = append(expired, pc)
			continue
		}
		p.mu.Unlock()
		return pc, nil
	}
	if p.max <= 0 || p.total < p.max {
		p.total++
		p.mu.Unlock()
		return nil, nil
	}
	ch := make(chan *persistConn, 1)
	elem := p.waiters.PushBack(ch)
	p.mu.Unlock()

	select {
	case pc := <-ch:
		return pc, nil
	case <-ctx.Done():
		p.mu.Lock()
		var handed bool
		var pc *persistConn
		select {
		case pc = <-ch:
			handed = true
		default:
			p.waiters.Remove(elem)
		}
		p.mu.Unlock()
		if handed {
			// Pass what we were given to the next in line.
			if pc != nil {
				p.put(pc)
			} else {
				p.releaseSlot()
			}
		}
		return nil, context.Cause(ctx)
	}
}

// put returns a connection whose exchange completed cleanly.
func (p *hostPool) put(pc *persistConn) {
	pc.reused = true
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch := p.popWaiter(); ch != nil {
		ch <- pc
		return
	}
	pc.idleAt = time.Now()
	p.idle = append(p.idle, pc)
}

// discard closes a connection that cannot be reused and frees its slot.
func (p *hostPool) discard(pc *persistConn) {
	pc.conn.Close()
	p.releaseSlot()
}

// releaseSlot frees a slot whose connection was never created or is gone.
func (p *hostPool) releaseSlot() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch := p.popWaiter(); ch != nil {
		ch <- nil
		return
	}
	p.total--
}

func (p *hostPool) popWaiter() chan *persistConn {
	elem := p.waiters.Front()
	if elem == nil {
		return nil
	}
	return p.waiters.Remove(elem).(chan *persistConn)
}

// closeIdle closes the idle connections and returns how many there were.
func (p *hostPool) closeIdle() int {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.total -= len(idle)
	p.mu.Unlock()
	for _, pc := range idle {
		pc.conn.Close()
	}
	return len(idle)
}

type poolStats struct {
	idle    int
	total   int
	waiters int
}

func (p *hostPool) stats() poolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return poolStats{idle: len(p.idle), total: p.total, waiters: p.waiters.Len()}
}
