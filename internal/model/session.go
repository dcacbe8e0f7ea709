package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one message in the session transcript. The transcript is
// append-only; turn order is the sole source of truth for what has been said.
type ConversationTurn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SophisticationLevel is a coarse user-experience tier used to adapt phrasing.
type SophisticationLevel string

const (
	LevelUnknown      SophisticationLevel = "unknown"
	LevelBeginner     SophisticationLevel = "beginner"
	LevelIntermediate SophisticationLevel = "intermediate"
	LevelAdvanced     SophisticationLevel = "advanced"
)

// GenerationStatus is the artifact build state for a session.
type GenerationStatus string

const (
	GenerationNotStarted GenerationStatus = "not_started"
	GenerationInProgress GenerationStatus = "in_progress"
	GenerationComplete   GenerationStatus = "complete"
	GenerationFailed     GenerationStatus = "failed"
)

// GenerationState tracks the asynchronous artifact build. The in_progress
// status doubles as the idempotency lock across concurrent completion signals.
type GenerationState struct {
	Status      GenerationStatus `json:"status"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	FailedAt    *time.Time       `json:"failed_at,omitempty"`
	Error       string           `json:"error,omitempty"`
	ArtifactID  string           `json:"artifact_id,omitempty"`
}

// CanTransition reports whether moving from the current status to next is a
// legal state-machine edge: not_started→in_progress, in_progress→complete,
// in_progress→failed, failed→in_progress.
func (g GenerationState) CanTransition(next GenerationStatus) bool {
	switch g.Status {
	case GenerationNotStarted, GenerationFailed:
		return next == GenerationInProgress
	case GenerationInProgress:
		return next == GenerationComplete || next == GenerationFailed
	default:
		return false
	}
}

// Elapsed returns how long the build has been in progress as of now, or zero
// when not in progress. There is no enforced lease; this is observability only.
func (g GenerationState) Elapsed(now time.Time) time.Duration {
	if g.Status != GenerationInProgress || g.StartedAt == nil {
		return 0
	}
	return now.Sub(*g.StartedAt)
}

// Session is the whole per-user intake state. All components read and write it
// wholesale; there are no partial field-level writes outside the store's
// conditional generation-status transition.
type Session struct {
	UserID         string              `json:"user_id"`
	SessionID      string              `json:"session_id"`
	Todo           TodoList            `json:"todo"`
	History        []ConversationTurn  `json:"history"`
	Sophistication SophisticationLevel `json:"sophistication"`
	IsComplete     bool                `json:"is_complete"`
	Generation     GenerationState     `json:"generation"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
}

// NewSession creates a session with an all-pending todo list.
func NewSession(userID, sessionID string, reg *FieldRegistry, now time.Time) *Session {
	return &Session{
		UserID:         userID,
		SessionID:      sessionID,
		Todo:           NewTodoList(reg),
		Sophistication: LevelUnknown,
		Generation:     GenerationState{Status: GenerationNotStarted},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// AppendTurn appends a turn to the transcript.
func (s *Session) AppendTurn(role Role, text string, at time.Time) {
	s.History = append(s.History, ConversationTurn{Role: role, Text: text, Timestamp: at})
	s.UpdatedAt = at
}

// UserTurnCount returns the number of user turns in the transcript.
func (s *Session) UserTurnCount() int {
	n := 0
	for _, t := range s.History {
		if t.Role == RoleUser {
			n++
		}
	}
	return n
}

// Validate checks the per-item status/value invariant across the todo list.
func (s *Session) Validate() error {
	for key, item := range s.Todo {
		complete := item.Status == TodoComplete
		hasValue := item.Value != nil
		if complete != hasValue {
			return eris.Errorf("model: todo item %s violates status/value invariant (status=%s, value present=%t)",
				key, item.Status, hasValue)
		}
	}
	return nil
}
