package registry

import (
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// CatalogEntry describes one archetype or methodology.
type CatalogEntry struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// CoherenceRule names a known-incompatible archetype/methodology pairing.
type CoherenceRule struct {
	Archetype   string `yaml:"archetype"`
	Methodology string `yaml:"methodology"`
	Reason      string `yaml:"reason"`
}

// SafetyRule is a generation-time safety constraint with a severity of 1-3.
type SafetyRule struct {
	ID       string `yaml:"id"`
	Severity int    `yaml:"severity"`
	Text     string `yaml:"text"`
}

// Catalogs holds the immutable static data the artifact generator consumes.
type Catalogs struct {
	Archetypes     []CatalogEntry  `yaml:"archetypes"`
	Methodologies  []CatalogEntry  `yaml:"methodologies"`
	CoherenceRules []CoherenceRule `yaml:"coherence_rules"`
	SafetyRules    []SafetyRule    `yaml:"safety_rules"`

	archetypesByID    map[string]*CatalogEntry
	methodologiesByID map[string]*CatalogEntry
}

// NewCatalogs builds the lookup indexes over a catalog set. Catalogs sourced
// from anywhere other than the embedded fixture must pass through here.
func NewCatalogs(c Catalogs) *Catalogs {
	c.archetypesByID = make(map[string]*CatalogEntry, len(c.Archetypes))
	for i := range c.Archetypes {
		c.archetypesByID[c.Archetypes[i].ID] = &c.Archetypes[i]
	}
	c.methodologiesByID = make(map[string]*CatalogEntry, len(c.Methodologies))
	for i := range c.Methodologies {
		c.methodologiesByID[c.Methodologies[i].ID] = &c.Methodologies[i]
	}
	return &c
}

// LoadEmbeddedCatalogs parses the embedded catalog fixture.
func LoadEmbeddedCatalogs() (*Catalogs, error) {
	var c Catalogs
	if err := yaml.Unmarshal(catalogsFixture, &c); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal catalogs")
	}
	if len(c.Archetypes) == 0 || len(c.Methodologies) == 0 {
		return nil, eris.New("registry: catalogs fixture missing archetypes or methodologies")
	}
	return NewCatalogs(c), nil
}

// ArchetypeByID returns the archetype entry, or nil when unknown.
func (c *Catalogs) ArchetypeByID(id string) *CatalogEntry {
	return c.archetypesByID[id]
}

// MethodologyByID returns the methodology entry, or nil when unknown.
func (c *Catalogs) MethodologyByID(id string) *CatalogEntry {
	return c.methodologiesByID[id]
}

// HighestSeveritySafetyRules returns the rules at the maximum severity present,
// in fixture order. Only these are embedded in the generation prompt.
func (c *Catalogs) HighestSeveritySafetyRules() []SafetyRule {
	maxSev := 0
	for _, r := range c.SafetyRules {
		if r.Severity > maxSev {
			maxSev = r.Severity
		}
	}
	var out []SafetyRule
	for _, r := range c.SafetyRules {
		if r.Severity == maxSev {
			out = append(out, r)
		}
	}
	return out
}

// SafetyRulesBySeverity returns all rules sorted by descending severity.
func (c *Catalogs) SafetyRulesBySeverity() []SafetyRule {
	out := append([]SafetyRule(nil), c.SafetyRules...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Severity > out[j].Severity })
	return out
}

// IncompatiblePair reports whether the archetype/methodology pairing is flagged
// by a coherence rule, returning the rule's reason when it is.
func (c *Catalogs) IncompatiblePair(archetype, methodology string) (string, bool) {
	for _, r := range c.CoherenceRules {
		if r.Archetype == archetype && r.Methodology == methodology {
			return r.Reason, true
		}
	}
	return "", false
}
