// Package transport carries encoded dispatcher requests to a peer and returns
// the encoded reply. Two variants exist: Framed talks length-prefixed frames
// to a locally spawned helper process, Line drives an interactive console
// over an SSH exec channel.
//
// A transport handles one request at a time. Concurrent callers are
// serialized by an internal mutex; requests are never pipelined.
package transport

import (
	"context"
	"strings"
	"sync"
)

// Transport is the capability shared by both variants.
type Transport interface {
	// Request sends the three encoded request parts (parameters, method,
	// arguments) and returns the encoded response.
	Request(ctx context.Context, params, method, args string) (string, error)
	// Close shuts the transport down. It never blocks indefinitely.
	Close() error
	// UpdateByFileContent reports whether updates must carry file contents
	// because the peer cannot read the client's files.
	UpdateByFileContent() bool
}

// inboundPreview bounds traced inbound text.
const inboundPreview = 200

// errorBuffer accumulates bytes from a peer's error stream.
type errorBuffer struct {
	mu     sync.Mutex
	buf    strings.Builder
	notify chan struct{}
}

func newErrorBuffer() *errorBuffer {
	return &errorBuffer{notify: make(chan struct{}, 1)}
}

func (b *errorBuffer) write(p []byte) {
	b.mu.Lock()
	b.buf.Write(p)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// take returns and clears the buffered text.
func (b *errorBuffer) take() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.notify:
	default:
	}
	s := b.buf.String()
	b.buf.Reset()
	return s
}
