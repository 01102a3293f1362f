package store

import (
	"errors"

	"github.com/yourorg/httpsnap/pkg/types"
)

// ErrNotFound is returned when a session or capture does not exist.
var ErrNotFound = errors.New("not found")

type Store interface {
	CreateSession(source, label, host string) (*types.Session, error)
	GetSession(id string) (*types.Session, error)
	UpdateSessionStatus(id, status string) error
	ListSessions() ([]types.Session, error)
	DeleteSession(id string) error

	// SaveCapture assigns ID, Seq and Timestamp when they are unset.
	SaveCapture(c *types.Capture) error
	GetCaptures(sessionID string) ([]types.Capture, error)
	GetCapture(id string) (*types.Capture, error)

	Close() error
}
