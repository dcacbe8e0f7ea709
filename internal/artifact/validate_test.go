package artifact

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coach-intake/internal/model"
	"github.com/sells-group/coach-intake/internal/registry"
)

func artifactRegistry() *model.FieldRegistry {
	return model.NewFieldRegistry([]model.Field{
		{Key: "name", Label: "Name", Type: model.FieldTypeString, Required: true, Group: model.GroupIdentity},
		{Key: "primary_goal", Label: "Primary goal", Type: model.FieldTypeString, Required: true, Group: model.GroupGoals},
		{Key: "injuries", Label: "Injuries", Type: model.FieldTypeStringList, Required: true, Group: model.GroupSafety},
		{Key: "medical_conditions", Label: "Medical conditions", Type: model.FieldTypeStringList, Required: true, Group: model.GroupSafety},
		{Key: "physical_limitations", Label: "Physical limitations", Type: model.FieldTypeStringList, Required: false, Group: model.GroupSafety},
	})
}

func artifactCatalogs() *registry.Catalogs {
	return registry.NewCatalogs(registry.Catalogs{
		Archetypes: []registry.CatalogEntry{
			{ID: "drill_sergeant", Name: "Drill Sergeant", Description: "Intense and demanding."},
			{ID: "zen_guide", Name: "Zen Guide", Description: "Calm and deliberate."},
		},
		Methodologies: []registry.CatalogEntry{
			{ID: "strength_block", Name: "Strength Block", Description: "Linear strength periodization."},
			{ID: "restorative", Name: "Restorative", Description: "Low-intensity recovery work."},
		},
		SafetyRules: []registry.SafetyRule{
			{ID: "no_pain", Severity: 3, Text: "Never program through reported pain."},
		},
		CoherenceRules: []registry.CoherenceRule{
			{Archetype: "drill_sergeant", Methodology: "restorative", Reason: "aggressive tone undermines recovery focus"},
			{Archetype: "ghost", Methodology: "phantom", Reason: "flagged pairing"},
		},
	})
}

func completeSession(t *testing.T, values map[string]*model.FieldValue) *model.Session {
	t.Helper()
	sess := model.NewSession("u1", "s1", artifactRegistry(), time.Now().UTC())
	for key, v := range values {
		prov := 1
		sess.Todo[key] = model.TodoItem{
			Status:     model.TodoComplete,
			Value:      v,
			Confidence: model.ConfidenceHigh,
			Provenance: &prov,
		}
	}
	sess.IsComplete = true
	return sess
}

func baseConfig() *model.CoachConfig {
	return &model.CoachConfig{
		ArtifactID:   "a1",
		UserID:       "u1",
		SessionID:    "s1",
		Archetype:    "zen_guide",
		Methodology:  "strength_block",
		SystemPrompt: "You are a calm, methodical strength coach.",
	}
}

func TestValidateStructuralComplete(t *testing.T) {
	assert.NoError(t, validateStructural(baseConfig()))
}

func TestValidateStructuralMissing(t *testing.T) {
	cfg := baseConfig()
	cfg.Archetype = ""
	cfg.SystemPrompt = ""

	err := validateStructural(cfg)
	require.Error(t, err)

	var se *StructuralError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []string{"archetype", "system_prompt"}, se.Missing)
	assert.Contains(t, err.Error(), "archetype")
}

func TestValidateCleanArtifactScoresPerfect(t *testing.T) {
	sess := completeSession(t, map[string]*model.FieldValue{
		"name":         model.StringValue("Sam"),
		"primary_goal": model.StringValue("get stronger"),
		"injuries":     model.ListValue([]string{"none"}),
	})

	report := validate(baseConfig(), sess, artifactCatalogs())
	assert.InDelta(t, 1.0, report.SafetyScore, 0.001)
	assert.InDelta(t, 1.0, report.CoherenceScore, 0.001)
	assert.Empty(t, report.Warnings)
}

func TestValidateInjuriesWithoutModifications(t *testing.T) {
	sess := completeSession(t, map[string]*model.FieldValue{
		"injuries": model.ListValue([]string{"torn ACL"}),
	})

	report := validate(baseConfig(), sess, artifactCatalogs())
	assert.InDelta(t, 0.75, report.SafetyScore, 0.001)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, model.WarningSafety, report.Warnings[0].Kind)
}

func TestValidateInjuriesWithModificationsPasses(t *testing.T) {
	sess := completeSession(t, map[string]*model.FieldValue{
		"injuries": model.ListValue([]string{"torn ACL"}),
	})
	cfg := baseConfig()
	cfg.InjuryModifications = []string{"replace back squats with leg press"}

	report := validate(cfg, sess, artifactCatalogs())
	assert.InDelta(t, 1.0, report.SafetyScore, 0.001)
	assert.Empty(t, report.Warnings)
}

func TestValidateHealthRiskWithoutIntensityCeiling(t *testing.T) {
	sess := completeSession(t, map[string]*model.FieldValue{
		"medical_conditions": model.ListValue([]string{"hypertension"}),
	})

	report := validate(baseConfig(), sess, artifactCatalogs())
	assert.InDelta(t, 0.75, report.SafetyScore, 0.001)

	cfg := baseConfig()
	cfg.IntensityCeiling = "keep sessions below RPE 7"
	report = validate(cfg, sess, artifactCatalogs())
	assert.InDelta(t, 1.0, report.SafetyScore, 0.001)
}

func TestValidateNoneAnswersAreNotRisks(t *testing.T) {
	sess := completeSession(t, map[string]*model.FieldValue{
		"injuries":           model.ListValue([]string{"None"}),
		"medical_conditions": model.ListValue([]string{"n/a"}),
	})

	report := validate(baseConfig(), sess, artifactCatalogs())
	assert.InDelta(t, 1.0, report.SafetyScore, 0.001)
	assert.Empty(t, report.Warnings)
}

func TestValidateUnknownCatalogIDs(t *testing.T) {
	sess := completeSession(t, nil)
	cfg := baseConfig()
	cfg.Archetype = "life_coach"
	cfg.Methodology = "crossfit"

	report := validate(cfg, sess, artifactCatalogs())
	assert.InDelta(t, 0.5, report.CoherenceScore, 0.001)
	require.Len(t, report.Warnings, 2)
	for _, w := range report.Warnings {
		assert.Equal(t, model.WarningCoherence, w.Kind)
	}
}

func TestValidateIncompatiblePair(t *testing.T) {
	sess := completeSession(t, nil)
	cfg := baseConfig()
	cfg.Archetype = "drill_sergeant"
	cfg.Methodology = "restorative"

	report := validate(cfg, sess, artifactCatalogs())
	assert.InDelta(t, 0.75, report.CoherenceScore, 0.001)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0].Message, "aggressive tone")
}

func TestValidateSecondaryInfluence(t *testing.T) {
	sess := completeSession(t, nil)

	cfg := baseConfig()
	cfg.SecondaryInfluence = "crossfit"
	report := validate(cfg, sess, artifactCatalogs())
	assert.InDelta(t, 0.75, report.CoherenceScore, 0.001)

	cfg = baseConfig()
	cfg.Archetype = "drill_sergeant"
	cfg.SecondaryInfluence = "restorative"
	report = validate(cfg, sess, artifactCatalogs())
	assert.InDelta(t, 0.75, report.CoherenceScore, 0.001)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0].Message, "secondary influence")
}

func TestValidateCoherenceScoreClampedAtZero(t *testing.T) {
	sess := completeSession(t, nil)
	cfg := baseConfig()
	cfg.Archetype = "ghost"
	cfg.Methodology = "phantom"
	cfg.SecondaryInfluence = "phantom_2"

	// Unknown archetype, unknown methodology, flagged pairing, and an unknown
	// secondary influence stack past the floor.
	report := validate(cfg, sess, artifactCatalogs())
	assert.InDelta(t, 0.0, report.CoherenceScore, 0.001)
	assert.Len(t, report.Warnings, 4)
}
