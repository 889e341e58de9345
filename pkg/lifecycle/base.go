package lifecycle

import (
	"context"
	"fmt"

	"github.com/germanamz/devicelab/pkg/session"
)

// Base establishes and closes the raw remote session around a Case.
type Base interface {
	SetUp(ctx context.Context) error
	TearDown(ctx context.Context) error
	Session() session.Session
}

// SessionBase is the default Base: it starts a session on SetUp and deletes
// it on TearDown.
type SessionBase struct {
	sess session.Session
}

// NewSessionBase creates a SessionBase over sess.
func NewSessionBase(sess session.Session) *SessionBase {
	return &SessionBase{sess: sess}
}

// SetUp waits for the remote port and starts a session.
func (b *SessionBase) SetUp(ctx context.Context) error {
	if err := b.sess.WaitForPort(ctx); err != nil {
		return fmt.Errorf("lifecycle: base setup: %w", err)
	}
	if err := b.sess.StartSession(ctx); err != nil {
		return fmt.Errorf("lifecycle: base setup: %w", err)
	}
	return nil
}

// TearDown deletes the session.
func (b *SessionBase) TearDown(ctx context.Context) error {
	if err := b.sess.DeleteSession(ctx); err != nil {
		return fmt.Errorf("lifecycle: base teardown: %w", err)
	}
	return nil
}

// Session returns the wrapped session.
func (b *SessionBase) Session() session.Session {
	return b.sess
}
