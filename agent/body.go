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
	"io"
	"sync"
)

// releaseBody hands the connection back once the response body is done. The connection goes
// back to the pool only if the body was read to EOF and the exchange allows keep-alive.
type releaseBody struct {
	rc        io.ReadCloser
	reusable  bool
	release   func(reuse bool)
	wrapError func(error) error

	mu   sync.Mutex
	done bool
}

var _ io.ReadCloser = (*releaseBody)(nil)

func (b *releaseBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	switch {
	case err == io.EOF:
		b.finish(b.reusable)
	case err != nil:
		b.finish(false)
		err = b.wrapError(err)
	}
	return n, err
}

func (b *releaseBody) Close() error {
	// The underlying body is not closed: for keep-alive responses that would read the rest of
	// the body, and the connection is closed below anyway.
	b.finish(false)
	return nil
}

func (b *releaseBody) finish(reuse bool) {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return
	}
	b.done = true
	b.mu.Unlock()
	b.release(reuse)
}
