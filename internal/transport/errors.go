package transport

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by requests issued on a closed transport.
var ErrClosed = errors.New("transport: closed")

// SpawnError reports a helper process that could not be started.
type SpawnError struct {
	Executable string
	Err        error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("transport: cannot start %s: %v", e.Executable, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// HandshakeError reports a helper process that did not answer the initial
// test request with the expected reply.
type HandshakeError struct {
	Reply string
	Err   error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport: handshake failed: %v", e.Err)
	}
	return fmt.Sprintf("transport: handshake failed: unexpected reply %q", e.Reply)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// ProtocolError reports a violation of the wire protocol or a transport that
// lost synchronization with its peer. A transport that returned a
// ProtocolError refuses further requests.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("transport: protocol error during %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// RemoteError carries the text the peer wrote to its error stream.
type RemoteError struct {
	Text string
}

func (e *RemoteError) Error() string {
	if e.Text == "" {
		return "transport: remote error (no diagnostic text)"
	}
	return "transport: remote error: " + e.Text
}

// LoginError reports a console session that rejected the login sequence.
type LoginError struct {
	Line string
	Text string
	Err  error
}

func (e *LoginError) Error() string {
	switch {
	case e.Text != "":
		return "transport: login failed: " + e.Text
	case e.Err != nil:
		return fmt.Sprintf("transport: login failed: %v", e.Err)
	default:
		return fmt.Sprintf("transport: login failed: unexpected console output %q", e.Line)
	}
}

func (e *LoginError) Unwrap() error { return e.Err }
