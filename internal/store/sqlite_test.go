package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coach-intake/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func storeRegistry() *model.FieldRegistry {
	return model.NewFieldRegistry([]model.Field{
		{Key: "name", Label: "Name", Type: model.FieldTypeString, Required: true, Group: model.GroupIdentity},
		{Key: "injuries", Label: "Injuries", Type: model.FieldTypeStringList, Required: true, Group: model.GroupSafety},
	})
}

func newStoreSession(userID, sessionID string) *model.Session {
	s := model.NewSession(userID, sessionID, storeRegistry(), time.Now().UTC())
	s.AppendTurn(model.RoleAssistant, "What should I call you?", time.Now().UTC())
	return s
}

func TestSQLiteSessionRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	sess := newStoreSession("u1", "s1")
	prov := 1
	sess.Todo["name"] = model.TodoItem{
		Status: model.TodoComplete, Value: model.StringValue("Sam"),
		Confidence: model.ConfidenceHigh, Provenance: &prov,
	}
	sess.Sophistication = model.LevelIntermediate
	require.NoError(t, s.CreateSession(ctx, sess))

	got, err := s.GetSession(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "Sam", got.Todo["name"].Value.Str)
	assert.Equal(t, 1, *got.Todo["name"].Provenance)
	assert.Equal(t, model.LevelIntermediate, got.Sophistication)
	require.Len(t, got.History, 1)
}

func TestSQLiteCreateDuplicateFails(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, newStoreSession("u1", "s1")))
	assert.Error(t, s.CreateSession(ctx, newStoreSession("u1", "s1")))
}

func TestSQLiteGetSessionNotFound(t *testing.T) {
	s := newTestSQLite(t)
	_, err := s.GetSession(context.Background(), "nobody", "nothing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLitePutSessionRequireExists(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	sess := newStoreSession("u1", "s1")
	assert.Error(t, s.PutSession(ctx, sess, true))

	require.NoError(t, s.CreateSession(ctx, sess))
	sess.IsComplete = true
	require.NoError(t, s.PutSession(ctx, sess, true))

	got, err := s.GetSession(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.True(t, got.IsComplete)
}

func TestSQLiteTransitionGeneration(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newStoreSession("u1", "s1")))

	// not_started -> in_progress succeeds once
	ok, err := s.TransitionGeneration(ctx, "u1", "s1",
		[]model.GenerationStatus{model.GenerationNotStarted, model.GenerationFailed},
		model.GenerationInProgress)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second identical transition loses: status no longer matches
	ok, err = s.TransitionGeneration(ctx, "u1", "s1",
		[]model.GenerationStatus{model.GenerationNotStarted, model.GenerationFailed},
		model.GenerationInProgress)
	require.NoError(t, err)
	assert.False(t, ok)

	// The column overlays the stale JSON payload on read
	got, err := s.GetSession(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, model.GenerationInProgress, got.Generation.Status)
}

func TestSQLiteTransitionRequiresExpected(t *testing.T) {
	s := newTestSQLite(t)
	_, err := s.TransitionGeneration(context.Background(), "u1", "s1", nil, model.GenerationInProgress)
	assert.Error(t, err)
}

func TestSQLiteTransitionMissingSessionIsNoMatch(t *testing.T) {
	s := newTestSQLite(t)
	ok, err := s.TransitionGeneration(context.Background(), "u1", "ghost",
		[]model.GenerationStatus{model.GenerationNotStarted}, model.GenerationInProgress)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteListSessions(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, newStoreSession("u1", "s1")))
	require.NoError(t, s.CreateSession(ctx, newStoreSession("u1", "s2")))
	require.NoError(t, s.CreateSession(ctx, newStoreSession("u2", "s3")))

	ok, err := s.TransitionGeneration(ctx, "u1", "s2",
		[]model.GenerationStatus{model.GenerationNotStarted}, model.GenerationInProgress)
	require.NoError(t, err)
	require.True(t, ok)

	all, err := s.ListSessions(ctx, SessionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byUser, err := s.ListSessions(ctx, SessionFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	inProgress, err := s.ListSessions(ctx, SessionFilter{Generation: model.GenerationInProgress})
	require.NoError(t, err)
	require.Len(t, inProgress, 1)
	assert.Equal(t, "s2", inProgress[0].SessionID)

	limited, err := s.ListSessions(ctx, SessionFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSQLiteArtifactRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	cfg := &model.CoachConfig{
		ArtifactID:   "a1",
		UserID:       "u1",
		SessionID:    "s1",
		Archetype:    "science_nerd",
		Methodology:  "hypertrophy",
		SystemPrompt: "You are a data-driven hypertrophy coach.",
		GeneratedAt:  time.Now().UTC(),
		Validation: model.ValidationReport{
			SafetyScore:    1.0,
			CoherenceScore: 0.75,
			Warnings: []model.ValidationWarning{
				{Kind: model.WarningCoherence, Message: "unknown methodology \"hypertrophy\""},
			},
		},
	}
	require.NoError(t, s.PutArtifact(ctx, cfg))

	got, err := s.GetArtifact(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "science_nerd", got.Archetype)
	assert.InDelta(t, 0.75, got.Validation.CoherenceScore, 0.001)
	require.Len(t, got.Validation.Warnings, 1)

	_, err = s.GetArtifact(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
