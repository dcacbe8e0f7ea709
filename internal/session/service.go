package session

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coach-intake/internal/convo"
	"github.com/sells-group/coach-intake/internal/extract"
	"github.com/sells-group/coach-intake/internal/model"
	"github.com/sells-group/coach-intake/internal/question"
	"github.com/sells-group/coach-intake/internal/sophistication"
	"github.com/sells-group/coach-intake/internal/store"
	"github.com/sells-group/coach-intake/internal/todo"
)

// ErrEmptyMessage is returned when a submitted user message is blank.
var ErrEmptyMessage = eris.New("session: empty message")

// TurnResult is the outcome of one intake turn.
type TurnResult struct {
	SessionID string `json:"session_id"`
	// Reply is the assistant's turn with the internal level tag stripped.
	Reply    string `json:"reply"`
	FieldKey string `json:"field_key,omitempty"`
	Done     bool   `json:"done"`
	Fallback bool   `json:"fallback,omitempty"`
	// Completion is set when this turn completed the session and a
	// completion signal was handled.
	Completion *CompleteResult `json:"completion,omitempty"`
}

// Service orchestrates intake turns: extraction, merge, sophistication
// assessment, question generation, persistence, and the completion signal.
type Service struct {
	store      store.Store
	registry   *model.FieldRegistry
	extractor  *extract.Extractor
	questions  *question.Generator
	merger     *todo.Merger
	controller *Controller
	planner    convo.Planner
	now        func() time.Time
}

// NewService creates a Service.
func NewService(
	st store.Store,
	reg *model.FieldRegistry,
	ex *extract.Extractor,
	qg *question.Generator,
	merger *todo.Merger,
	ctrl *Controller,
	planner convo.Planner,
) *Service {
	return &Service{
		store:      st,
		registry:   reg,
		extractor:  ex,
		questions:  qg,
		merger:     merger,
		controller: ctrl,
		planner:    planner,
		now:        time.Now,
	}
}

// StartSession creates a new session for the user and generates the opening
// question.
func (s *Service) StartSession(ctx context.Context, userID string) (*TurnResult, error) {
	now := s.now().UTC()
	sess := model.NewSession(userID, uuid.New().String(), s.registry, now)

	res := s.questions.Next(ctx, s.registry, sess)
	reply := sophistication.StripTag(res.Text)
	sess.AppendTurn(model.RoleAssistant, reply, s.now().UTC())

	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, eris.Wrapf(err, "session: create for user %s", userID)
	}

	zap.L().Info("session: started",
		zap.String("session_id", sess.SessionID),
		zap.String("user_id", userID),
		zap.String("first_field", res.FieldKey),
	)
	return &TurnResult{
		SessionID: sess.SessionID,
		Reply:     reply,
		FieldKey:  res.FieldKey,
		Fallback:  res.Fallback,
	}, nil
}

// SubmitAnswer processes one user message synchronously: extract field values
// from it, merge them into the todo list, assess sophistication, and generate
// the next turn. Completing the last required field flips the session complete
// and fires the completion signal.
func (s *Service) SubmitAnswer(ctx context.Context, userID, sessionID, text string) (*TurnResult, error) {
	sess, err := s.prepareTurn(ctx, userID, sessionID, text)
	if err != nil {
		return nil, err
	}
	if sess.IsComplete {
		return s.replayCompletion(ctx, sess)
	}

	turnIndex := len(sess.History)
	s.extractAndMerge(ctx, sess, strings.TrimSpace(text), turnIndex)
	sess.AppendTurn(model.RoleUser, strings.TrimSpace(text), s.now().UTC())

	res := s.questions.Next(ctx, s.registry, sess)
	return s.finishTurn(ctx, sess, res.Text, res)
}

// SubmitAnswerStream is SubmitAnswer with streamed delivery of the generated
// turn. The chunks concatenate to the same reply a synchronous call would have
// produced (level tag excluded); finish blocks until the stream ends, persists
// the turn, and returns the full result.
func (s *Service) SubmitAnswerStream(ctx context.Context, userID, sessionID, text string) (<-chan string, func() (*TurnResult, error), error) {
	sess, err := s.prepareTurn(ctx, userID, sessionID, text)
	if err != nil {
		return nil, nil, err
	}
	if sess.IsComplete {
		// Replay the wrap-up instead of reopening the conversation.
		res, rerr := s.replayCompletion(ctx, sess)
		if rerr != nil {
			return nil, nil, rerr
		}
		return wordChunks(res.Reply), func() (*TurnResult, error) { return res, nil }, nil
	}

	turnIndex := len(sess.History)
	s.extractAndMerge(ctx, sess, strings.TrimSpace(text), turnIndex)
	sess.AppendTurn(model.RoleUser, strings.TrimSpace(text), s.now().UTC())

	res, chunks, wait := s.questions.NextStream(ctx, s.registry, sess)
	out := filterLevelTag(chunks)

	finish := func() (*TurnResult, error) {
		full, serr := wait()
		if serr != nil {
			return nil, eris.Wrap(serr, "session: stream turn")
		}
		return s.finishTurn(ctx, sess, full, res)
	}
	return out, finish, nil
}

// GetSession returns the stored session.
func (s *Service) GetSession(ctx context.Context, userID, sessionID string) (*model.Session, error) {
	return s.store.GetSession(ctx, userID, sessionID)
}

// prepareTurn validates the input and loads the session.
func (s *Service) prepareTurn(ctx context.Context, userID, sessionID, text string) (*model.Session, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	sess, err := s.store.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, eris.Wrapf(err, "session: load %s", sessionID)
	}
	return sess, nil
}

// extractAndMerge runs extraction over the recent window and merges accepted
// updates. Called before the user turn is appended, so the window provides
// context only and the latest message appears in the prompt once. Extraction
// is fail-soft: an empty update set leaves the list as is.
func (s *Service) extractAndMerge(ctx context.Context, sess *model.Session, text string, turnIndex int) {
	window := s.planner.Plan(sess.History)
	updates := s.extractor.Extract(ctx, text, window.Turns, sess.Todo)
	sess.Todo = s.merger.Merge(sess.Todo, updates, turnIndex)
}

// finishTurn assesses sophistication from the full generated text, stores the
// tag-stripped reply, persists, and fires the completion signal when the turn
// closed out the required fields.
func (s *Service) finishTurn(ctx context.Context, sess *model.Session, fullText string, res question.Result) (*TurnResult, error) {
	sess.Sophistication = sophistication.Assess(sess.Sophistication, lastUserText(sess), fullText)
	reply := sophistication.StripTag(fullText)
	sess.AppendTurn(model.RoleAssistant, reply, s.now().UTC())
	if res.Done {
		sess.IsComplete = true
	}

	if err := s.store.PutSession(ctx, sess, true); err != nil {
		return nil, eris.Wrapf(err, "session: persist turn %s", sess.SessionID)
	}

	out := &TurnResult{
		SessionID: sess.SessionID,
		Reply:     reply,
		FieldKey:  res.FieldKey,
		Done:      res.Done,
		Fallback:  res.Fallback,
	}
	if res.Done {
		comp, err := s.controller.OnSessionComplete(ctx, sess.UserID, sess.SessionID)
		if err != nil {
			// The turn itself succeeded; a dispatch failure is retried on the
			// next completion signal.
			zap.L().Warn("session: completion signal failed",
				zap.String("session_id", sess.SessionID),
				zap.Error(err),
			)
		} else {
			out.Completion = &comp
		}
	}
	return out, nil
}

// replayCompletion answers a message sent to an already-complete session: the
// last assistant turn is replayed and the completion signal is re-handled
// idempotently.
func (s *Service) replayCompletion(ctx context.Context, sess *model.Session) (*TurnResult, error) {
	comp, err := s.controller.OnSessionComplete(ctx, sess.UserID, sess.SessionID)
	if err != nil {
		return nil, err
	}
	return &TurnResult{
		SessionID:  sess.SessionID,
		Reply:      lastAssistantText(sess),
		Done:       true,
		Completion: &comp,
	}, nil
}

func lastUserText(sess *model.Session) string {
	for i := len(sess.History) - 1; i >= 0; i-- {
		if sess.History[i].Role == model.RoleUser {
			return sess.History[i].Text
		}
	}
	return ""
}

func lastAssistantText(sess *model.Session) string {
	for i := len(sess.History) - 1; i >= 0; i-- {
		if sess.History[i].Role == model.RoleAssistant {
			return sess.History[i].Text
		}
	}
	return ""
}

// levelTagMarker is the prefix of the internal sophistication tag the stream
// filter withholds from clients.
const levelTagMarker = "[LEVEL:"

// filterLevelTag relays stream chunks while suppressing the trailing level
// tag. A chunk boundary may split the marker, so the longest emitted suffix
// that could still open a marker is held back until disambiguated.
func filterLevelTag(in <-chan string) <-chan string {
	out := make(chan string, 16)
	go func() {
		defer close(out)
		var hold string
		suppressed := false
		for c := range in {
			if suppressed {
				continue
			}
			hold += c
			if i := strings.Index(hold, levelTagMarker); i >= 0 {
				if lead := strings.TrimRight(hold[:i], " \t\n"); lead != "" {
					out <- lead
				}
				suppressed = true
				hold = ""
				continue
			}
			keep := 0
			for k := 1; k < len(levelTagMarker) && k <= len(hold); k++ {
				if strings.HasSuffix(hold, levelTagMarker[:k]) {
					keep = k
				}
			}
			// Whitespace before a potential marker is held back too, so a
			// suppressed tag doesn't leave a trailing space behind.
			for i := len(hold) - keep - 1; i >= 0; i-- {
				if c := hold[i]; c != ' ' && c != '\t' && c != '\n' {
					break
				}
				keep++
			}
			if emit := hold[:len(hold)-keep]; emit != "" {
				out <- emit
			}
			hold = hold[len(hold)-keep:]
		}
		if !suppressed && hold != "" {
			out <- hold
		}
	}()
	return out
}

// wordChunks streams static text word by word, each chunk carrying its
// trailing whitespace so the chunks concatenate back to text exactly.
func wordChunks(text string) <-chan string {
	out := make(chan string, 16)
	go func() {
		defer close(out)
		start := 0
		for i := 1; i < len(text); i++ {
			if isSpaceByte(text[i-1]) && !isSpaceByte(text[i]) {
				out <- text[start:i]
				start = i
			}
		}
		if start < len(text) {
			out <- text[start:]
		}
	}()
	return out
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
