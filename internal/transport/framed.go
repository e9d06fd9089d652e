package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"mxdeploy/internal/codec"
	"mxdeploy/internal/frame"
	"mxdeploy/internal/logger"
	"mxdeploy/internal/protocol"
)

// Defaults for FramedConfig.
const (
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultExitRetries      = 10
	DefaultExitPollInterval = time.Second
)

const (
	// frameQueue bounds the completed frames waiting for a consumer.
	frameQueue = 16
	// errorSettle is how long the error stream may keep growing after the
	// first error bytes arrived before the text is reported.
	errorSettle = 50 * time.Millisecond
	// killWait bounds the wait for a killed process to be reaped.
	killWait = 5 * time.Second
)

// FramedConfig describes the helper process of a Framed transport.
type FramedConfig struct {
	Executable string
	WorkDir    string
	// Args are passed first, typically the classpath or program arguments.
	Args []string
	// BootstrapArgs follow Args, typically the entry point and its options.
	BootstrapArgs []string
	// Env is appended to the current environment.
	Env []string

	UpdateByFileContent bool
	HandshakeTimeout    time.Duration
	ExitRetries         int
	ExitPollInterval    time.Duration
	// Trace logs every frame at debug level.
	Trace bool
}

type frameResult struct {
	token string
	err   error
}

// Framed exchanges length-prefixed frames with a helper process over its
// standard streams.
type Framed struct {
	cfg FramedConfig
	log *log.Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser

	frames     chan frameResult
	errs       *errorBuffer
	stderrDone chan struct{}
	waitDone   chan struct{}
	done       chan struct{}

	mu        sync.Mutex
	connected bool
	broken    error

	closeOnce sync.Once
	closeErr  error
}

var _ Transport = (*Framed)(nil)

// OpenFramed starts the helper process and performs the handshake. On any
// failure the process is killed before returning.
func OpenFramed(ctx context.Context, cfg FramedConfig) (*Framed, error) {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.ExitRetries <= 0 {
		cfg.ExitRetries = DefaultExitRetries
	}
	if cfg.ExitPollInterval <= 0 {
		cfg.ExitPollInterval = DefaultExitPollInterval
	}

	args := append(append([]string{}, cfg.Args...), cfg.BootstrapArgs...)
	cmd := exec.Command(cfg.Executable, args...)
	cmd.Dir = cfg.WorkDir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Executable: cfg.Executable, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Executable: cfg.Executable, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Executable: cfg.Executable, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Executable: cfg.Executable, Err: err}
	}

	t := &Framed{
		cfg:        cfg,
		log:        logger.NewStyledLogger("Framed"),
		cmd:        cmd,
		stdin:      stdin,
		frames:     make(chan frameResult, frameQueue),
		errs:       newErrorBuffer(),
		stderrDone: make(chan struct{}),
		waitDone:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	t.log.Debug("Helper process started", "pid", cmd.Process.Pid, "executable", cfg.Executable)

	framesDone := make(chan struct{})
	go func() {
		defer close(framesDone)
		t.readFrames(stdout)
	}()
	go t.readErrors(stderr)
	go func() {
		<-framesDone
		<-t.stderrDone
		err := cmd.Wait()
		t.log.Debug("Helper process exited", "pid", cmd.Process.Pid, "status", err)
		close(t.waitDone)
	}()

	hctx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()

	reply, err := t.Call(hctx, protocol.MethodTest, "", "", "")
	if err == nil && reply != protocol.ReplyConnect {
		err = &HandshakeError{Reply: reply}
	} else if err != nil {
		err = &HandshakeError{Err: err}
	}
	if err != nil {
		t.closeOnce.Do(func() {
			close(t.done)
			t.closeErr = t.kill()
		})
		if t.closeErr != nil {
			t.log.Error("Cannot stop helper process", "error", t.closeErr)
		}
		return nil, err
	}

	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return t, nil
}

// UpdateByFileContent implements Transport.
func (t *Framed) UpdateByFileContent() bool { return t.cfg.UpdateByFileContent }

// Request sends a dispatch request.
func (t *Framed) Request(ctx context.Context, params, method, args string) (string, error) {
	return t.Call(ctx, protocol.MethodDispatch, params, method, args)
}

// Pid returns the process id of the helper.
func (t *Framed) Pid() int { return t.cmd.Process.Pid }

// Exited is closed once the helper process has exited and was reaped.
func (t *Framed) Exited() <-chan struct{} { return t.waitDone }

// Call sends one process-level request and waits for the value of the
// reply's ret slot.
func (t *Framed) Call(ctx context.Context, method, arg1, arg2, arg3 string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.done:
		return "", ErrClosed
	default:
	}
	if t.broken != nil {
		return "", &ProtocolError{Op: method, Err: fmt.Errorf("transport unusable after earlier failure: %w", t.broken)}
	}

	if stale := t.errs.take(); stale != "" {
		t.log.Warn("Discarding earlier helper error output", "text", stale)
	}

	token, err := codec.Encode(map[string]any{
		protocol.FrameKeyMethod: method,
		protocol.FrameKeyArg1:   arg1,
		protocol.FrameKeyArg2:   arg2,
		protocol.FrameKeyArg3:   arg3,
	})
	if err != nil {
		return "", err
	}

	if err := t.send(ctx, method, token); err != nil {
		return "", err
	}

	reply, err := t.receive(ctx, method)
	if err != nil {
		return "", err
	}

	m, err := codec.DecodeMap(reply)
	if err != nil {
		t.broken = err
		return "", &ProtocolError{Op: method, Err: err}
	}
	ret, ok := m[protocol.FrameKeyReturn].(string)
	if !ok && m[protocol.FrameKeyReturn] != nil {
		err := fmt.Errorf("reply slot %q is %T, not string", protocol.FrameKeyReturn, m[protocol.FrameKeyReturn])
		t.broken = err
		return "", &ProtocolError{Op: method, Err: err}
	}
	return ret, nil
}

func (t *Framed) send(ctx context.Context, method, token string) error {
	if t.cfg.Trace {
		t.log.Debug("<OUTBOUND: "+logger.Truncate(token, inboundPreview), "method", method)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- frame.Write(t.stdin, token) }()

	select {
	case err := <-errCh:
		if err != nil {
			t.broken = err
			if text := t.errs.take(); text != "" {
				return &RemoteError{Text: text}
			}
			return &ProtocolError{Op: method, Err: fmt.Errorf("write request: %w", err)}
		}
		return nil
	case <-ctx.Done():
		t.broken = ctx.Err()
		return &ProtocolError{Op: method, Err: ctx.Err()}
	case <-t.done:
		return ErrClosed
	}
}

func (t *Framed) receive(ctx context.Context, method string) (string, error) {
	for {
		select {
		case r, ok := <-t.frames:
			if !ok {
				select {
				case <-t.stderrDone:
				case <-time.After(errorSettle):
				}
				err := errors.New("helper process closed its output")
				t.broken = err
				if text := t.errs.take(); text != "" {
					return "", &RemoteError{Text: text}
				}
				return "", &ProtocolError{Op: method, Err: err}
			}
			if r.err != nil {
				t.broken = r.err
				return "", &ProtocolError{Op: method, Err: r.err}
			}
			return r.token, nil

		case <-t.errs.notify:
			// Let the peer finish writing, but prefer a frame that arrives
			// in the meantime.
			select {
			case r, ok := <-t.frames:
				if ok && r.err == nil {
					return r.token, nil
				}
				if !ok {
					t.broken = errors.New("helper process closed its output")
				} else {
					t.broken = r.err
				}
			case <-time.After(errorSettle):
			}
			text := t.errs.take()
			if text == "" && t.broken == nil {
				continue
			}
			return "", &RemoteError{Text: text}

		case <-ctx.Done():
			t.broken = ctx.Err()
			return "", &ProtocolError{Op: method, Err: ctx.Err()}

		case <-t.done:
			return "", ErrClosed
		}
	}
}

func (t *Framed) readFrames(r io.Reader) {
	defer close(t.frames)
	defer io.Copy(io.Discard, r) //nolint:errcheck

	fr := frame.NewReader(r)
	for {
		token, err := fr.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			var lenErr *frame.LengthError
			if errors.As(err, &lenErr) {
				t.log.Error("Frame length mismatch", "declared", lenErr.Declared, "actual", lenErr.Actual)
			}
			select {
			case t.frames <- frameResult{err: err}:
			case <-t.done:
			}
			return
		}
		if t.cfg.Trace {
			t.log.Debug(">INBOUND: " + logger.Truncate(token, inboundPreview))
		}
		select {
		case t.frames <- frameResult{token: token}:
		case <-t.done:
			return
		}
	}
}

func (t *Framed) readErrors(r io.Reader) {
	defer close(t.stderrDone)

	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if t.cfg.Trace {
				t.log.Debug(">ERROR: " + logger.Truncate(string(buf[:n]), inboundPreview))
			}
			t.errs.write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// Close asks the helper to exit, waits a bounded time and kills it if it is
// still running. It is safe to call more than once.
func (t *Framed) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.shutdown()
	})
	return t.closeErr
}

func (t *Framed) shutdown() error {
	// Abort a request still waiting for its reply before taking the lock.
	close(t.done)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		if token, err := codec.Encode(map[string]any{protocol.FrameKeyMethod: protocol.MethodExit}); err == nil {
			errCh := make(chan error, 1)
			go func() { errCh <- frame.Write(t.stdin, token) }()
			select {
			case err := <-errCh:
				if err != nil {
					t.log.Debug("Exit request not delivered", "error", err)
				}
			case <-time.After(t.cfg.ExitPollInterval):
				t.log.Debug("Exit request not delivered in time")
			}
		}
		t.connected = false
	}
	_ = t.stdin.Close()

	for i := 0; i < t.cfg.ExitRetries; i++ {
		select {
		case <-t.waitDone:
			return nil
		case <-time.After(t.cfg.ExitPollInterval):
		}
	}

	t.log.Warn("Helper process did not exit, killing it", "pid", t.cmd.Process.Pid)
	return t.kill()
}

func (t *Framed) kill() error {
	select {
	case <-t.waitDone:
		return nil
	default:
	}
	if err := t.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill helper process: %w", err)
	}
	select {
	case <-t.waitDone:
		return nil
	case <-time.After(killWait):
		return fmt.Errorf("helper process %d not reaped after kill", t.cmd.Process.Pid)
	}
}
