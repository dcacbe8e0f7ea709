package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coach-intake/internal/model"
)

func TestLoadEmbeddedFields(t *testing.T) {
	reg, err := LoadEmbeddedFields()
	require.NoError(t, err)

	assert.Greater(t, reg.Len(), 15)
	assert.NotEmpty(t, reg.Required())

	name := reg.ByKey("name")
	require.NotNil(t, name)
	assert.True(t, name.Required)
	assert.Equal(t, model.GroupIdentity, name.Group)

	injuries := reg.ByKey("injuries")
	require.NotNil(t, injuries)
	assert.Equal(t, model.FieldTypeStringList, injuries.Type)
	assert.Equal(t, model.GroupSafety, injuries.Group)

	// Competition fields are the optional tail
	comp := reg.ByKey("competition_goal")
	require.NotNil(t, comp)
	assert.False(t, comp.Required)
}

func TestLoadFieldsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fields.yaml")
	yaml := `
fields:
  - key: name
    label: Name
    type: string
    required: true
    group: 1
  - key: goal
    label: Goal
    required: true
    group: 2
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	reg, err := LoadFieldsFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())
	// Missing type defaults to string
	assert.Equal(t, model.FieldTypeString, reg.ByKey("goal").Type)
}

func TestParseFieldsRejectsDuplicates(t *testing.T) {
	_, err := parseFields([]byte(`
fields:
  - key: name
    label: Name
  - key: name
    label: Name again
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate field key")
}

func TestParseFieldsRejectsEmpty(t *testing.T) {
	_, err := parseFields([]byte(`fields: []`))
	assert.Error(t, err)

	_, err = parseFields([]byte(`
fields:
  - label: No key
`))
	assert.Error(t, err)
}

func TestLoadEmbeddedCatalogs(t *testing.T) {
	cats, err := LoadEmbeddedCatalogs()
	require.NoError(t, err)

	assert.NotEmpty(t, cats.Archetypes)
	assert.NotEmpty(t, cats.Methodologies)
	assert.NotEmpty(t, cats.SafetyRules)

	drill := cats.ArchetypeByID("drill_sergeant")
	require.NotNil(t, drill)
	assert.NotEmpty(t, drill.Description)

	assert.Nil(t, cats.ArchetypeByID("life_coach"))
	assert.Nil(t, cats.MethodologyByID("crossfit"))
}

func TestHighestSeveritySafetyRules(t *testing.T) {
	cats, err := LoadEmbeddedCatalogs()
	require.NoError(t, err)

	top := cats.HighestSeveritySafetyRules()
	require.NotEmpty(t, top)
	maxSev := top[0].Severity
	for _, r := range top {
		assert.Equal(t, maxSev, r.Severity)
	}
	for _, r := range cats.SafetyRules {
		assert.LessOrEqual(t, r.Severity, maxSev)
	}
}

func TestSafetyRulesBySeverity(t *testing.T) {
	cats, err := LoadEmbeddedCatalogs()
	require.NoError(t, err)

	sorted := cats.SafetyRulesBySeverity()
	require.Len(t, sorted, len(cats.SafetyRules))
	for i := 1; i < len(sorted); i++ {
		assert.GreaterOrEqual(t, sorted[i-1].Severity, sorted[i].Severity)
	}
}

func TestIncompatiblePair(t *testing.T) {
	cats, err := LoadEmbeddedCatalogs()
	require.NoError(t, err)

	require.NotEmpty(t, cats.CoherenceRules)
	rule := cats.CoherenceRules[0]

	reason, bad := cats.IncompatiblePair(rule.Archetype, rule.Methodology)
	assert.True(t, bad)
	assert.Equal(t, rule.Reason, reason)

	_, bad = cats.IncompatiblePair("zen_guide", "nonexistent")
	assert.False(t, bad)
}
