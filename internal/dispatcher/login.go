package dispatcher

import (
	"context"
	"fmt"
)

// loginBackend authenticates a fixed user each time the session connects.
type loginBackend struct {
	Backend
	user     string
	password string
}

// WithLogin wraps b so that Connect fails unless user and password are
// accepted. An empty user leaves b unchanged.
func WithLogin(b Backend, user, password string) Backend {
	if user == "" {
		return b
	}
	return &loginBackend{Backend: b, user: user, password: password}
}

func (l *loginBackend) Connect(ctx context.Context) error {
	if err := l.Backend.Connect(ctx); err != nil {
		return err
	}
	if err := l.Backend.Authenticate(l.user, l.password); err != nil {
		_ = l.Backend.Disconnect()
		return fmt.Errorf("login as %s: %w", l.user, err)
	}
	return nil
}
