// Package store persists intake sessions and generated artifacts. Sessions are
// written wholesale as JSON; the generation status is additionally denormalized
// into its own column so the idempotency lock can be acquired with a single
// conditional write instead of a read-then-write.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/coach-intake/internal/model"
)

// ErrNotFound is returned when a requested session or artifact does not exist.
var ErrNotFound = eris.New("store: not found")

// SessionFilter specifies criteria for listing sessions.
type SessionFilter struct {
	UserID     string
	Generation model.GenerationStatus
	Limit      int
	Offset     int
}

// Store defines the persistence interface for the intake service.
type Store interface {
	// CreateSession inserts a new session; fails if the key already exists.
	CreateSession(ctx context.Context, s *model.Session) error
	// GetSession loads a session wholesale. The denormalized generation
	// status column is authoritative and overlays the JSON payload's value.
	GetSession(ctx context.Context, userID, sessionID string) (*model.Session, error)
	// PutSession replaces the stored record wholesale. With requireExists
	// set, a missing row is an error instead of an upsert.
	PutSession(ctx context.Context, s *model.Session, requireExists bool) error
	// TransitionGeneration conditionally moves the generation status from any
	// of the expected statuses to next, in one atomic write. It returns false
	// without error when the current status did not match — the caller lost
	// the race and must re-read to see who won.
	TransitionGeneration(ctx context.Context, userID, sessionID string, expected []model.GenerationStatus, next model.GenerationStatus) (bool, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, error)

	// Artifacts
	PutArtifact(ctx context.Context, cfg *model.CoachConfig) error
	GetArtifact(ctx context.Context, artifactID string) (*model.CoachConfig, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
