package dispatcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"mxdeploy/internal/protocol"
)

// maxConsoleLine bounds one input line; update requests carry whole files.
const maxConsoleLine = 64 << 20

// Console emulates the remote command console started with "-k -t": it reads
// statements line by line, prints results on out and errors on errOut, and
// keeps going after an error.
type Console struct {
	d      *Dispatcher
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	user string
}

// NewConsole returns a console peer for d.
func NewConsole(d *Dispatcher, in io.Reader, out, errOut io.Writer) *Console {
	return &Console{d: d, in: in, out: out, errOut: errOut}
}

// errQuit ends the console loop.
var errQuit = errors.New("quit")

// Serve runs the console until quit or the end of the input.
func (c *Console) Serve(ctx context.Context) error {
	if _, err := c.d.EnsureConnected(ctx); err != nil {
		c.fail(err)
		return err
	}
	defer c.d.backend.Disconnect() //nolint:errcheck

	sc := bufio.NewScanner(c.in)
	sc.Buffer(make([]byte, 64*1024), maxConsoleLine)
	for sc.Scan() {
		stmts, err := splitStatements(sc.Text())
		if err != nil {
			c.fail(err)
			continue
		}
		for _, words := range stmts {
			if err := c.exec(ctx, words); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				c.fail(err)
			}
		}
	}
	return sc.Err()
}

func (c *Console) fail(err error) {
	fmt.Fprintf(c.errOut, "Error: #1900068: %v\n", err)
}

func (c *Console) exec(ctx context.Context, words []string) error {
	if len(words) > 0 && strings.EqualFold(words[0], "escape") {
		words = words[1:]
	}
	if len(words) == 0 {
		return nil
	}

	switch verb := strings.ToLower(words[0]); {
	case verb == "quit" || verb == "exit":
		return errQuit

	case verb == "set" && len(words) > 1 && strings.EqualFold(words[1], "context"):
		return c.setContext(words[2:])

	case verb == "print" && len(words) == 2 && strings.EqualFold(words[1], "context"):
		line := protocol.ContextPrefix + c.d.backend.Vault()
		if c.user != "" {
			line += " user " + c.user
		}
		_, err := fmt.Fprintln(c.out, line)
		return err

	case verb == "exec" && len(words) > 2 && strings.EqualFold(words[1], "prog"):
		return c.execProgram(ctx, words[2], words[3:])

	default:
		return fmt.Errorf("unknown command '%s'", strings.Join(words, " "))
	}
}

func (c *Console) setContext(words []string) error {
	var user, password string
	for i := 0; i < len(words); i += 2 {
		if i+1 >= len(words) {
			return fmt.Errorf("set context: missing value for '%s'", words[i])
		}
		switch strings.ToLower(words[i]) {
		case "user":
			user = words[i+1]
		case "pass", "password":
			password = words[i+1]
		default:
			return fmt.Errorf("set context: unknown clause '%s'", words[i])
		}
	}
	if err := c.d.backend.Authenticate(user, password); err != nil {
		return fmt.Errorf("set context failed: %w", err)
	}
	c.user = user
	return nil
}

func (c *Console) execProgram(ctx context.Context, program string, args []string) error {
	if program != protocol.DispatcherProgram {
		return fmt.Errorf("program '%s' does not exist", program)
	}
	if c.user == "" {
		return errors.New("no user context; set context first")
	}
	var parts [3]string
	copy(parts[:], args)
	_, err := fmt.Fprintln(c.out, c.d.Dispatch(ctx, parts[0], parts[1], parts[2]))
	return err
}

// splitStatements splits a console line into statements at unquoted
// semicolons and each statement into words. Double-quoted words unescape
// \\ and \"; single-quoted words are taken literally.
func splitStatements(line string) ([][]string, error) {
	var (
		stmts   [][]string
		words   []string
		word    strings.Builder
		inWord  bool
		quote   byte
		escaped bool
	)
	endWord := func() {
		if inWord {
			words = append(words, word.String())
			word.Reset()
			inWord = false
		}
	}
	endStmt := func() {
		endWord()
		if len(words) > 0 {
			stmts = append(stmts, words)
		}
		words = nil
	}

	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case escaped:
			word.WriteByte(ch)
			escaped = false
		case quote == '"' && ch == '\\':
			escaped = true
		case quote != 0 && ch == quote:
			quote = 0
		case quote != 0:
			word.WriteByte(ch)
		case ch == '"' || ch == '\'':
			quote = ch
			inWord = true
		case ch == ';':
			endStmt()
		case ch == ' ' || ch == '\t' || ch == '\r':
			endWord()
		default:
			word.WriteByte(ch)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in '%s'", line)
	}
	endStmt()
	return stmts, nil
}
