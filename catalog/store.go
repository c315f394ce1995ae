// Package catalog keeps a record of capture sessions.
package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// A Session is one recording to a capture file.
type Session struct {
	ID      string
	Path    string
	Format  string // "raw" or "spikes"
	Mode    string // visualisation mode while recording
	Started time.Time
	Stopped time.Time // zero while recording
	Packets int64
	Events  int64
	MinID   int // spike id range, when Events > 0
	MaxID   int
}

// NewSession returns a session with a fresh id.
func NewSession(path, format, mode string, started time.Time) Session {
	return Session{
		ID:      uuid.NewString(),
		Path:    path,
		Format:  format,
		Mode:    mode,
		Started: started,
	}
}

// Active reports whether the session is still recording.
func (s Session) Active() bool { return s.Stopped.IsZero() }

// Duration returns the length of a stopped session.
func (s Session) Duration() time.Duration {
	if s.Active() {
		return 0
	}
	return s.Stopped.Sub(s.Started)
}

// Store persists sessions.
type Store interface {
	Init(ctx context.Context) error
	SaveSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, bool, error)
	ListSessions(ctx context.Context) ([]Session, error)
}
