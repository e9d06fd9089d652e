package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"mxdeploy/internal/logger"
	"mxdeploy/internal/protocol"
)

// Defaults for LineOptions.
const (
	DefaultLoginTimeout = 30 * time.Second
	DefaultLoginSettle  = 100 * time.Millisecond
)

// lineQueue bounds the completed lines waiting for a consumer.
const lineQueue = 64

// Channel is an open console session: the standard streams of the remote
// console process plus a way to tear the session down.
type Channel interface {
	Stdin() io.Writer
	Stdout() io.Reader
	Stderr() io.Reader
	Close() error
}

// LineOptions configure a Line transport on an open channel.
type LineOptions struct {
	SessionUser     string
	SessionPassword string

	UpdateByFileContent bool
	// LoginTimeout bounds reading the reply to the login line.
	LoginTimeout time.Duration
	// LoginSettle is how long error output may still arrive after the login
	// reply line.
	LoginSettle time.Duration
	// Trace logs inbound, outbound and error traffic at debug level.
	Trace bool
}

// Line drives an interactive console as a request/response channel. Each
// request is one command line followed by a context query; each reply is the
// payload line followed by the context line it prints.
type Line struct {
	ch   Channel
	opts LineOptions
	log  *log.Logger

	lines chan string
	errs  *errorBuffer
	done  chan struct{}

	mu     sync.Mutex
	broken error

	closeOnce sync.Once
	closeErr  error
}

var _ Transport = (*Line)(nil)

// NewLine starts the readers on ch and logs in. On failure ch is closed.
func NewLine(ctx context.Context, ch Channel, opts LineOptions) (*Line, error) {
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = DefaultLoginTimeout
	}
	if opts.LoginSettle <= 0 {
		opts.LoginSettle = DefaultLoginSettle
	}

	t := &Line{
		ch:    ch,
		opts:  opts,
		log:   logger.NewStyledLogger("Line"),
		lines: make(chan string, lineQueue),
		errs:  newErrorBuffer(),
		done:  make(chan struct{}),
	}
	go t.readLines(ch.Stdout())
	go t.readErrors(ch.Stderr())

	if err := t.login(ctx); err != nil {
		_ = t.Close()
		return nil, err
	}
	return t, nil
}

func (t *Line) login(ctx context.Context) error {
	cmd := fmt.Sprintf(`escape set context user "%s" pass "%s";%s`,
		EscapeMQL(t.opts.SessionUser), EscapeMQL(t.opts.SessionPassword), protocol.PrintContext)

	lctx, cancel := context.WithTimeout(ctx, t.opts.LoginTimeout)
	defer cancel()

	if err := t.writeLine(cmd, RedactLine(cmd)); err != nil {
		return &LoginError{Err: err}
	}

	line, err := t.readLine(lctx, "login")
	if err != nil {
		if text := t.errs.take(); text != "" {
			return &LoginError{Text: strings.TrimSpace(text), Err: err}
		}
		return &LoginError{Err: err}
	}
	if !strings.HasPrefix(line, protocol.ContextPrefix) {
		return &LoginError{Line: line, Text: strings.TrimSpace(t.errs.take())}
	}

	select {
	case <-t.errs.notify:
		// Collect whatever belongs to the same message.
		time.Sleep(errorSettle)
	case <-time.After(t.opts.LoginSettle):
	case <-lctx.Done():
	}
	if text := t.errs.take(); text != "" {
		return &LoginError{Line: line, Text: strings.TrimSpace(text)}
	}

	t.log.Debug("Console login succeeded", "context", line)
	return nil
}

// UpdateByFileContent implements Transport.
func (t *Line) UpdateByFileContent() bool { return t.opts.UpdateByFileContent }

// Request runs the dispatcher program with the three encoded parts and
// returns the payload line.
func (t *Line) Request(ctx context.Context, params, method, args string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.done:
		return "", ErrClosed
	default:
	}
	if t.broken != nil {
		return "", &ProtocolError{Op: "request", Err: fmt.Errorf("transport unusable after earlier failure: %w", t.broken)}
	}

	if stale := t.errs.take(); stale != "" {
		t.log.Warn("Discarding earlier console error output", "text", strings.TrimSpace(stale))
	}

	cmd := fmt.Sprintf(`exec prog %s "%s" "%s" "%s";%s`,
		protocol.DispatcherProgram, EscapeMQL(params), EscapeMQL(method), EscapeMQL(args), protocol.PrintContext)
	if err := t.writeLine(cmd, cmd); err != nil {
		t.broken = err
		return "", &ProtocolError{Op: "request", Err: err}
	}

	first, err := t.readLine(ctx, "request")
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(first, protocol.ContextPrefix) {
		return "", &RemoteError{Text: strings.TrimSpace(t.collectErrors(ctx))}
	}

	second, err := t.readLine(ctx, "request")
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(second, protocol.ContextPrefix) {
		t.broken = fmt.Errorf("unexpected console line %q", logger.Truncate(second, inboundPreview))
		text := strings.TrimSpace(t.errs.take())
		if text == "" {
			text = t.broken.Error()
		}
		return "", &RemoteError{Text: text}
	}
	return first, nil
}

// collectErrors waits briefly for error output and returns it.
func (t *Line) collectErrors(ctx context.Context) string {
	select {
	case <-t.errs.notify:
		time.Sleep(errorSettle)
	case <-time.After(t.opts.LoginSettle):
	case <-ctx.Done():
	}
	return t.errs.take()
}

func (t *Line) writeLine(cmd, traced string) error {
	if t.opts.Trace {
		t.log.Debug("<OUTBOUND: " + traced)
	}
	_, err := io.WriteString(t.ch.Stdin(), cmd+"\n")
	return err
}

func (t *Line) readLine(ctx context.Context, op string) (string, error) {
	select {
	case line, ok := <-t.lines:
		if !ok {
			err := errors.New("console session ended")
			t.broken = err
			if text := strings.TrimSpace(t.collectErrors(ctx)); text != "" {
				return "", &RemoteError{Text: text}
			}
			return "", &ProtocolError{Op: op, Err: err}
		}
		return line, nil
	case <-ctx.Done():
		t.broken = ctx.Err()
		return "", &ProtocolError{Op: op, Err: ctx.Err()}
	case <-t.done:
		return "", ErrClosed
	}
}

func (t *Line) readLines(r io.Reader) {
	defer close(t.lines)
	defer io.Copy(io.Discard, r) //nolint:errcheck

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			// An unterminated trailing fragment is not a complete line.
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if t.opts.Trace {
			t.log.Debug(">INBOUND: " + logger.Truncate(line, inboundPreview))
		}
		select {
		case t.lines <- line:
		case <-t.done:
			return
		}
	}
}

func (t *Line) readErrors(r io.Reader) {
	br := bufio.NewReader(r)
	var current strings.Builder
	for {
		c, err := br.ReadByte()
		if err != nil {
			if current.Len() > 0 && t.opts.Trace {
				t.log.Debug(">SSH-ERROR: " + current.String())
			}
			return
		}
		t.errs.write([]byte{c})
		if c == '\n' {
			if t.opts.Trace {
				t.log.Debug(">SSH-ERROR: " + strings.TrimRight(current.String(), "\r"))
			}
			current.Reset()
			continue
		}
		current.WriteByte(c)
	}
}

// Close ends the console channel and the session beneath it. Errors from an
// already closed channel are ignored.
func (t *Line) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		err := t.ch.Close()
		if err != nil && !errors.Is(err, io.EOF) {
			t.closeErr = err
		}
	})
	return t.closeErr
}
