package artifact

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coach-intake/internal/model"
	"github.com/sells-group/coach-intake/internal/resilience"
	"github.com/sells-group/coach-intake/internal/store"
	"github.com/sells-group/coach-intake/pkg/anthropic"
)

type fakeClient struct {
	text string
	err  error
	last *anthropic.MessageRequest
}

func (c *fakeClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	c.last = &req
	if c.err != nil {
		return nil, c.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: c.text}},
	}, nil
}

func (c *fakeClient) StreamMessage(context.Context, anthropic.MessageRequest) (<-chan string, func() error) {
	out := make(chan string)
	close(out)
	return out, func() error { return nil }
}

// genStore is an in-memory store.Store for generator tests.
type genStore struct {
	sessions  map[string]*model.Session
	artifacts map[string]*model.CoachConfig
}

func newGenStore() *genStore {
	return &genStore{
		sessions:  make(map[string]*model.Session),
		artifacts: make(map[string]*model.CoachConfig),
	}
}

func (s *genStore) key(userID, sessionID string) string { return userID + "/" + sessionID }

func (s *genStore) CreateSession(_ context.Context, sess *model.Session) error {
	cp := *sess
	s.sessions[s.key(sess.UserID, sess.SessionID)] = &cp
	return nil
}

func (s *genStore) GetSession(_ context.Context, userID, sessionID string) (*model.Session, error) {
	sess, ok := s.sessions[s.key(userID, sessionID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *genStore) PutSession(_ context.Context, sess *model.Session, requireExists bool) error {
	k := s.key(sess.UserID, sess.SessionID)
	if _, ok := s.sessions[k]; !ok && requireExists {
		return eris.New("session not found")
	}
	cp := *sess
	s.sessions[k] = &cp
	return nil
}

func (s *genStore) TransitionGeneration(context.Context, string, string, []model.GenerationStatus, model.GenerationStatus) (bool, error) {
	return false, eris.New("not used")
}

func (s *genStore) ListSessions(context.Context, store.SessionFilter) ([]model.Session, error) {
	return nil, nil
}

func (s *genStore) PutArtifact(_ context.Context, cfg *model.CoachConfig) error {
	s.artifacts[cfg.ArtifactID] = cfg
	return nil
}

func (s *genStore) GetArtifact(_ context.Context, artifactID string) (*model.CoachConfig, error) {
	cfg, ok := s.artifacts[artifactID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cfg, nil
}

func (s *genStore) Migrate(context.Context) error { return nil }
func (s *genStore) Close() error                  { return nil }

const goodArtifactJSON = `{
	"archetype": "zen_guide",
	"methodology": "strength_block",
	"secondary_influence": "",
	"system_prompt": "You are a calm, methodical strength coach.",
	"greeting": "Welcome, Sam. Let's build something that lasts.",
	"injury_modifications": [],
	"intensity_ceiling": ""
}`

func newGenerator(client anthropic.Client, st store.Store) *Generator {
	g := New(client, st, artifactRegistry(), artifactCatalogs(), "model-x")
	// No backoff sleeps in tests
	g.retry = resilience.RetryConfig{MaxAttempts: 1}
	return g
}

func seedCompleteSession(t *testing.T, st *genStore) *model.Session {
	t.Helper()
	sess := completeSession(t, map[string]*model.FieldValue{
		"name":         model.StringValue("Sam"),
		"primary_goal": model.StringValue("get stronger"),
		"injuries":     model.ListValue([]string{"none"}),
	})
	require.NoError(t, st.CreateSession(context.Background(), sess))
	return sess
}

func TestGenerateSuccess(t *testing.T) {
	st := newGenStore()
	seedCompleteSession(t, st)
	client := &fakeClient{text: goodArtifactJSON}
	g := newGenerator(client, st)

	require.NoError(t, g.Generate(context.Background(), "u1", "s1"))

	sess, err := st.GetSession(context.Background(), "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, model.GenerationComplete, sess.Generation.Status)
	assert.NotEmpty(t, sess.Generation.ArtifactID)
	assert.NotNil(t, sess.Generation.CompletedAt)
	assert.NotNil(t, sess.CompletedAt)
	assert.Empty(t, sess.Generation.Error)

	cfg, err := st.GetArtifact(context.Background(), sess.Generation.ArtifactID)
	require.NoError(t, err)
	assert.Equal(t, "zen_guide", cfg.Archetype)
	assert.Equal(t, "strength_block", cfg.Methodology)
	assert.InDelta(t, 1.0, cfg.Validation.SafetyScore, 0.001)
	assert.InDelta(t, 1.0, cfg.Validation.CoherenceScore, 0.001)

	// The prompt carries the collected intake data and sophistication level
	require.NotNil(t, client.last)
	require.Len(t, client.last.Messages, 1)
	assert.Contains(t, client.last.Messages[0].Content, "Name: Sam")
	assert.Contains(t, client.last.Messages[0].Content, "User sophistication:")
	require.NotEmpty(t, client.last.System)
	assert.Contains(t, client.last.System[0].Text, "zen_guide")
}

func TestGenerateWarningsDoNotBlock(t *testing.T) {
	st := newGenStore()
	sess := completeSession(t, map[string]*model.FieldValue{
		"injuries": model.ListValue([]string{"torn ACL"}),
	})
	require.NoError(t, st.CreateSession(context.Background(), sess))

	// No injury modifications despite a reported injury: scored, not fatal
	g := newGenerator(&fakeClient{text: goodArtifactJSON}, st)
	require.NoError(t, g.Generate(context.Background(), "u1", "s1"))

	got, err := st.GetSession(context.Background(), "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, model.GenerationComplete, got.Generation.Status)

	cfg, err := st.GetArtifact(context.Background(), got.Generation.ArtifactID)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, cfg.Validation.SafetyScore, 0.001)
	require.Len(t, cfg.Validation.Warnings, 1)
}

func TestGenerateStructuralFailureWritesFailed(t *testing.T) {
	st := newGenStore()
	seedCompleteSession(t, st)
	g := newGenerator(&fakeClient{text: `{"archetype": "zen_guide"}`}, st)

	err := g.Generate(context.Background(), "u1", "s1")
	require.Error(t, err)
	var se *StructuralError
	assert.ErrorAs(t, err, &se)

	sess, gerr := st.GetSession(context.Background(), "u1", "s1")
	require.NoError(t, gerr)
	assert.Equal(t, model.GenerationFailed, sess.Generation.Status)
	assert.NotNil(t, sess.Generation.FailedAt)
	assert.Contains(t, sess.Generation.Error, "structural validation failed")
}

func TestGenerateClientErrorWritesFailed(t *testing.T) {
	st := newGenStore()
	seedCompleteSession(t, st)
	g := newGenerator(&fakeClient{err: eris.New("api: boom")}, st)

	err := g.Generate(context.Background(), "u1", "s1")
	require.Error(t, err)

	sess, gerr := st.GetSession(context.Background(), "u1", "s1")
	require.NoError(t, gerr)
	assert.Equal(t, model.GenerationFailed, sess.Generation.Status)
	assert.Contains(t, sess.Generation.Error, "boom")
}

func TestGenerateIncompleteSessionFails(t *testing.T) {
	st := newGenStore()
	sess := completeSession(t, nil)
	sess.IsComplete = false
	require.NoError(t, st.CreateSession(context.Background(), sess))

	g := newGenerator(&fakeClient{text: goodArtifactJSON}, st)
	err := g.Generate(context.Background(), "u1", "s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not complete")

	got, gerr := st.GetSession(context.Background(), "u1", "s1")
	require.NoError(t, gerr)
	assert.Equal(t, model.GenerationFailed, got.Generation.Status)
}

func TestGenerateMissingSession(t *testing.T) {
	g := newGenerator(&fakeClient{}, newGenStore())
	err := g.Generate(context.Background(), "u1", "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHandleDispatch(t *testing.T) {
	st := newGenStore()
	seedCompleteSession(t, st)
	g := newGenerator(&fakeClient{text: goodArtifactJSON}, st)

	payload, err := json.Marshal(BuildRequest{UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)
	require.NoError(t, g.HandleDispatch(context.Background(), payload))

	sess, err := st.GetSession(context.Background(), "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, model.GenerationComplete, sess.Generation.Status)
}

func TestHandleDispatchBadPayload(t *testing.T) {
	g := newGenerator(&fakeClient{}, newGenStore())
	err := g.HandleDispatch(context.Background(), []byte("not json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode build request")
}

func TestParseArtifact(t *testing.T) {
	raw, err := parseArtifact(goodArtifactJSON)
	require.NoError(t, err)
	assert.Equal(t, "zen_guide", raw.Archetype)
}

func TestParseArtifactCodeFenced(t *testing.T) {
	raw, err := parseArtifact("```json\n" + goodArtifactJSON + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "strength_block", raw.Methodology)
}

func TestParseArtifactStringifiedObject(t *testing.T) {
	// The whole object arrives JSON-encoded as a string
	encoded, err := json.Marshal(goodArtifactJSON)
	require.NoError(t, err)

	raw, perr := parseArtifact(string(encoded))
	require.NoError(t, perr)
	assert.Equal(t, "zen_guide", raw.Archetype)
}

func TestParseArtifactUnparseable(t *testing.T) {
	_, err := parseArtifact("I couldn't design a coach for this user.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unparseable")
}
