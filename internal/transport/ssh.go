package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"mxdeploy/internal/logger"
)

// DefaultSSHPort is used when SSHConfig.Port is zero.
const DefaultSSHPort = 22

// SSHConfig locates the remote console.
type SSHConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	// KnownHostsFile enables host key verification when set.
	KnownHostsFile string
	// CommandPath is the remote console executable.
	CommandPath string
	DialTimeout time.Duration
}

// consoleFlags start the console in scripting mode: keep going after
// errors and print without a terminal.
const consoleFlags = " -k -t"

type sshChannel struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	stderr  io.Reader
}

func (c *sshChannel) Stdin() io.Writer  { return c.stdin }
func (c *sshChannel) Stdout() io.Reader { return c.stdout }
func (c *sshChannel) Stderr() io.Reader { return c.stderr }

// Close ends the session first, then the connection. A session that is
// already gone reports io.EOF, which is not an error here.
func (c *sshChannel) Close() error {
	var errs []error
	if c.session != nil {
		if err := c.session.Close(); err != nil && !errors.Is(err, io.EOF) {
			errs = append(errs, fmt.Errorf("close ssh session: %w", err))
		}
	}
	if c.client != nil {
		if err := c.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("close ssh connection: %w", err))
		}
	}
	return errors.Join(errs...)
}

// DialSSH connects to the console host and starts the console command.
func DialSSH(ctx context.Context, cfg SSHConfig) (Channel, error) {
	port := cfg.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))

	hostKey := ssh.InsecureIgnoreHostKey() //nolint:gosec
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts %s: %w", cfg.KnownHostsFile, err)
		}
		hostKey = cb
	} else {
		logger.Warn("Host key of SSH server not verified", "host", cfg.Host)
	}

	password := cfg.Password
	clientCfg := &ssh.ClientConfig{
		User: cfg.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKey,
		Timeout:         cfg.DialTimeout,
	}

	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	ch := &sshChannel{client: ssh.NewClient(sshConn, chans, reqs)}
	if err := ch.start(cfg.CommandPath + consoleFlags); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

func (c *sshChannel) start(command string) error {
	session, err := c.client.NewSession()
	if err != nil {
		return fmt.Errorf("open ssh session: %w", err)
	}
	c.session = session

	if c.stdin, err = session.StdinPipe(); err != nil {
		return fmt.Errorf("ssh stdin: %w", err)
	}
	if c.stdout, err = session.StdoutPipe(); err != nil {
		return fmt.Errorf("ssh stdout: %w", err)
	}
	if c.stderr, err = session.StderrPipe(); err != nil {
		return fmt.Errorf("ssh stderr: %w", err)
	}
	if err := session.Start(command); err != nil {
		return fmt.Errorf("start %q: %w", command, err)
	}
	return nil
}

// LineConfig combines the SSH location with the console login.
type LineConfig struct {
	SSH  SSHConfig
	Line LineOptions
}

// OpenLine dials the console over SSH and logs in.
func OpenLine(ctx context.Context, cfg LineConfig) (*Line, error) {
	ch, err := DialSSH(ctx, cfg.SSH)
	if err != nil {
		return nil, err
	}
	return NewLine(ctx, ch, cfg.Line)
}
