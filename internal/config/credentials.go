package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrNoCredentials is returned when credentials must be asked for but no
// prompter is available.
var ErrNoCredentials = errors.New("credentials required but no prompt available")

// CredentialPrompter asks the user for the login of realm. user is a
// suggestion and may be empty.
type CredentialPrompter interface {
	Prompt(realm, user string) (string, string, error)
}

// StaticPrompter answers every prompt with the same login.
type StaticPrompter struct {
	User     string
	Password string
}

// Prompt implements CredentialPrompter.
func (s StaticPrompter) Prompt(_, user string) (string, string, error) {
	if s.User != "" {
		user = s.User
	}
	return user, s.Password, nil
}

// TerminalPrompter reads the login from a terminal. The password is read
// without echo.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer
}

// NewTerminalPrompter prompts on stdin and stderr, or returns nil when stdin
// is not a terminal.
func NewTerminalPrompter() CredentialPrompter {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

// Prompt implements CredentialPrompter.
func (t *TerminalPrompter) Prompt(realm, user string) (string, string, error) {
	if user == "" {
		fmt.Fprintf(t.Out, "%s user: ", realm)
		line, err := bufio.NewReader(t.In).ReadString('\n')
		if err != nil && line == "" {
			return "", "", fmt.Errorf("failed to read %s user: %w", realm, err)
		}
		user = strings.TrimSpace(line)
	}
	fmt.Fprintf(t.Out, "%s password for %s: ", realm, user)
	pw, err := term.ReadPassword(int(t.In.Fd()))
	fmt.Fprintln(t.Out)
	if err != nil {
		return "", "", fmt.Errorf("failed to read %s password: %w", realm, err)
	}
	return user, string(pw), nil
}

// credentials returns the login stored under userKey and passKey. The user is
// asked for the password unless saveKey is set or a password is configured.
func credentials(p *Project, realm, userKey, passKey, saveKey string, prompt CredentialPrompter) (string, string, error) {
	user := p.GetString(userKey)
	password := p.v.GetString(passKey)
	if p.GetBool(saveKey) || password != "" {
		return user, password, nil
	}
	if prompt == nil {
		return "", "", fmt.Errorf("%s: %w", realm, ErrNoCredentials)
	}
	return prompt.Prompt(realm, user)
}
