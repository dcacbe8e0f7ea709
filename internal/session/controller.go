// Package session owns the intake turn orchestration and the idempotent
// completion protocol. The completion controller guarantees at most one
// artifact build dispatch per session: the in_progress generation status is
// the lock, acquired with a conditional store write and persisted before the
// build is dispatched.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coach-intake/internal/artifact"
	"github.com/sells-group/coach-intake/internal/dispatch"
	"github.com/sells-group/coach-intake/internal/model"
	"github.com/sells-group/coach-intake/internal/store"
)

// CompleteResult is the outcome of a completion signal. Exactly one of the
// three shapes occurs: an existing artifact ID (build already finished), the
// alreadyGenerating flag (another caller holds the lock), or dispatched=true
// (this caller won the lock and started the build).
type CompleteResult struct {
	ArtifactID        string `json:"artifact_id,omitempty"`
	AlreadyGenerating bool   `json:"already_generating,omitempty"`
	Dispatched        bool   `json:"dispatched,omitempty"`
}

// Controller runs the lock-before-dispatch completion protocol.
type Controller struct {
	store   store.Store
	invoker dispatch.Invoker
	now     func() time.Time
}

// NewController creates a Controller.
func NewController(st store.Store, invoker dispatch.Invoker) *Controller {
	return &Controller{store: st, invoker: invoker, now: time.Now}
}

// OnSessionComplete handles a completion signal for a session. The sequence:
//
//  1. Short-circuit on a terminal or held status (complete → existing
//     artifact ID; in_progress → alreadyGenerating). No writes, no dispatch.
//  2. Acquire the lock with a conditional write: generation status moves to
//     in_progress only if it is currently not_started or failed. Losing the
//     race re-reads and short-circuits on whatever the winner wrote.
//  3. Persist the full session record with the in_progress state before
//     dispatching — any later reader observes the lock.
//  4. Dispatch the build fire-and-forget. A dispatch (transport) failure
//     rolls the status back to failed so a later signal can retry.
func (c *Controller) OnSessionComplete(ctx context.Context, userID, sessionID string) (CompleteResult, error) {
	sess, err := c.store.GetSession(ctx, userID, sessionID)
	if err != nil {
		return CompleteResult{}, eris.Wrapf(err, "session: load %s", sessionID)
	}

	if res, done := shortCircuit(sess); done {
		return res, nil
	}

	acquired, err := c.store.TransitionGeneration(ctx, userID, sessionID,
		[]model.GenerationStatus{model.GenerationNotStarted, model.GenerationFailed},
		model.GenerationInProgress,
	)
	if err != nil {
		return CompleteResult{}, eris.Wrapf(err, "session: acquire generation lock %s", sessionID)
	}
	if !acquired {
		// Lost the race. Re-read to report what the winner did.
		sess, err := c.store.GetSession(ctx, userID, sessionID)
		if err != nil {
			return CompleteResult{}, eris.Wrapf(err, "session: reload %s", sessionID)
		}
		if res, done := shortCircuit(sess); done {
			return res, nil
		}
		return CompleteResult{AlreadyGenerating: true}, nil
	}

	now := c.now().UTC()
	sess.Generation = model.GenerationState{
		Status:    model.GenerationInProgress,
		StartedAt: &now,
	}
	if err := c.store.PutSession(ctx, sess, true); err != nil {
		return CompleteResult{}, eris.Wrapf(err, "session: persist generation lock %s", sessionID)
	}

	payload, err := json.Marshal(artifact.BuildRequest{UserID: userID, SessionID: sessionID})
	if err != nil {
		return CompleteResult{}, eris.Wrap(err, "session: marshal build request")
	}

	if err := c.invoker.Invoke(ctx, artifact.Target, payload); err != nil {
		// Transport-level dispatch failure: roll back so retry is possible.
		// Artifact-generation failures are reported later by the generator's
		// own write-back, not here.
		c.rollback(ctx, sess, err)
		return CompleteResult{}, eris.Wrapf(err, "session: dispatch build %s", sessionID)
	}

	zap.L().Info("session: build dispatched",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID),
	)
	return CompleteResult{Dispatched: true}, nil
}

// shortCircuit maps terminal/held statuses to their defined no-op results.
func shortCircuit(sess *model.Session) (CompleteResult, bool) {
	switch sess.Generation.Status {
	case model.GenerationComplete:
		return CompleteResult{ArtifactID: sess.Generation.ArtifactID}, true
	case model.GenerationInProgress:
		return CompleteResult{AlreadyGenerating: true}, true
	default:
		return CompleteResult{}, false
	}
}

func (c *Controller) rollback(ctx context.Context, sess *model.Session, cause error) {
	now := c.now().UTC()
	sess.Generation = model.GenerationState{
		Status:   model.GenerationFailed,
		FailedAt: &now,
		Error:    cause.Error(),
	}
	if err := c.store.PutSession(ctx, sess, true); err != nil {
		zap.L().Error("session: rollback write failed",
			zap.String("session_id", sess.SessionID),
			zap.Error(err),
		)
	}
}
