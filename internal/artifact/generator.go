// Package artifact builds the personalized coach configuration from a
// completed intake session: prompt assembly from the collected fields and
// static catalogs, a structured LLM call with repair-fallback parsing, and
// structural/safety/coherence validation. The generator reports its outcome
// only by writing generation status back to the session record.
package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coach-intake/internal/model"
	"github.com/sells-group/coach-intake/internal/registry"
	"github.com/sells-group/coach-intake/internal/resilience"
	"github.com/sells-group/coach-intake/internal/store"
	"github.com/sells-group/coach-intake/pkg/anthropic"
)

// Target is the dispatch target name for coach-config builds.
const Target = "coach-config-build"

// BuildRequest is the dispatch payload for a build.
type BuildRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// StructuralError is a fatal validation failure: the generated artifact is
// missing required identifiers or prompt text.
type StructuralError struct {
	Missing []string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("artifact: structural validation failed, missing %s", strings.Join(e.Missing, ", "))
}

const systemText = `You are a coaching-system designer. Given a user's intake data and the available
coach archetypes and training methodologies, design their personalized coach.
Return a single JSON object:
{
  "archetype": "<archetype id>",
  "methodology": "<methodology id>",
  "secondary_influence": "<optional second methodology id or empty string>",
  "system_prompt": "<full persona prompt for the coaching assistant, second person, 200-400 words>",
  "greeting": "<the coach's opening message to this user>",
  "injury_modifications": ["<exercise modification per reported injury>"],
  "intensity_ceiling": "<intensity guidance when health risks are present, else empty string>"
}
Choose archetype and methodology that fit the user's goals, experience, and stated tone preference.
Follow every safety rule you are given.`

// maxArtifactTokens bounds the generation response.
const maxArtifactTokens = 4096

// Generator builds coach configurations.
type Generator struct {
	client   anthropic.Client
	store    store.Store
	registry *model.FieldRegistry
	catalogs *registry.Catalogs
	modelID  string
	retry    resilience.RetryConfig
}

// New creates a Generator using the given model ID (the strongest tier).
func New(client anthropic.Client, st store.Store, reg *model.FieldRegistry, cats *registry.Catalogs, modelID string) *Generator {
	return &Generator{
		client:   client,
		store:    st,
		registry: reg,
		catalogs: cats,
		modelID:  modelID,
		retry:    resilience.DefaultRetryConfig(),
	}
}

// HandleDispatch decodes a BuildRequest payload and runs the build. It is the
// handler registered under Target with the dispatcher.
func (g *Generator) HandleDispatch(ctx context.Context, payload []byte) error {
	var req BuildRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return eris.Wrap(err, "artifact: decode build request")
	}
	return g.Generate(ctx, req.UserID, req.SessionID)
}

// Generate builds the artifact for a completed session and writes the outcome
// back to the session record: complete with an artifact ID on success, failed
// with the error on a fatal failure. Validation warnings never block
// acceptance; they are recorded on the artifact.
func (g *Generator) Generate(ctx context.Context, userID, sessionID string) error {
	sess, err := g.store.GetSession(ctx, userID, sessionID)
	if err != nil {
		return eris.Wrapf(err, "artifact: load session %s", sessionID)
	}
	if !sess.IsComplete {
		return g.fail(ctx, sess, eris.Errorf("artifact: session %s is not complete", sessionID))
	}

	cfg, err := g.generate(ctx, sess)
	if err != nil {
		zap.L().Error("artifact: generation failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return g.fail(ctx, sess, err)
	}

	if err := g.store.PutArtifact(ctx, cfg); err != nil {
		return g.fail(ctx, sess, err)
	}

	now := time.Now().UTC()
	sess.Generation.Status = model.GenerationComplete
	sess.Generation.CompletedAt = &now
	sess.Generation.ArtifactID = cfg.ArtifactID
	sess.Generation.Error = ""
	sess.CompletedAt = &now
	if err := g.store.PutSession(ctx, sess, true); err != nil {
		return eris.Wrapf(err, "artifact: write back completion %s", sessionID)
	}

	zap.L().Info("artifact: build complete",
		zap.String("session_id", sessionID),
		zap.String("artifact_id", cfg.ArtifactID),
		zap.String("archetype", cfg.Archetype),
		zap.String("methodology", cfg.Methodology),
		zap.Float64("safety_score", cfg.Validation.SafetyScore),
		zap.Float64("coherence_score", cfg.Validation.CoherenceScore),
	)
	return nil
}

func (g *Generator) generate(ctx context.Context, sess *model.Session) (*model.CoachConfig, error) {
	prompt := g.buildPrompt(sess)

	resp, err := resilience.DoVal(ctx, withLogger(g.retry), func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return g.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     g.modelID,
			MaxTokens: maxArtifactTokens,
			System:    anthropic.BuildCachedSystemBlocks(systemText + "\n\n" + g.catalogText()),
			Messages: []anthropic.Message{
				{Role: "user", Content: prompt},
			},
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "artifact: create message")
	}
	resp.Usage.LogCost(g.modelID, "artifact")

	raw, err := parseArtifact(resp.Text())
	if err != nil {
		return nil, err
	}

	cfg := &model.CoachConfig{
		ArtifactID:          uuid.New().String(),
		UserID:              sess.UserID,
		SessionID:           sess.SessionID,
		Archetype:           raw.Archetype,
		Methodology:         raw.Methodology,
		SecondaryInfluence:  raw.SecondaryInfluence,
		SystemPrompt:        raw.SystemPrompt,
		Greeting:            raw.Greeting,
		InjuryModifications: raw.InjuryModifications,
		IntensityCeiling:    raw.IntensityCeiling,
		Sophistication:      sess.Sophistication,
		GeneratedAt:         time.Now().UTC(),
	}

	// Structural check is fatal; safety and coherence only record warnings.
	if err := validateStructural(cfg); err != nil {
		return nil, err
	}
	cfg.Validation = validate(cfg, sess, g.catalogs)

	return cfg, nil
}

// fail writes the failed status back so a later completion signal can retry.
func (g *Generator) fail(ctx context.Context, sess *model.Session, cause error) error {
	now := time.Now().UTC()
	sess.Generation.Status = model.GenerationFailed
	sess.Generation.FailedAt = &now
	sess.Generation.Error = cause.Error()
	if err := g.store.PutSession(ctx, sess, true); err != nil {
		zap.L().Error("artifact: failed to record generation failure",
			zap.String("session_id", sess.SessionID),
			zap.Error(err),
		)
	}
	return cause
}

func (g *Generator) catalogText() string {
	var b strings.Builder
	b.WriteString("Available archetypes:\n")
	for _, a := range g.catalogs.Archetypes {
		fmt.Fprintf(&b, "- %s (%s): %s\n", a.ID, a.Name, strings.TrimSpace(a.Description))
	}
	b.WriteString("\nAvailable methodologies:\n")
	for _, m := range g.catalogs.Methodologies {
		fmt.Fprintf(&b, "- %s (%s): %s\n", m.ID, m.Name, strings.TrimSpace(m.Description))
	}
	b.WriteString("\nSafety rules (mandatory):\n")
	for _, r := range g.catalogs.HighestSeveritySafetyRules() {
		fmt.Fprintf(&b, "- %s\n", r.Text)
	}
	return b.String()
}

func (g *Generator) buildPrompt(sess *model.Session) string {
	var b strings.Builder
	b.WriteString("Intake data:\n")
	for _, f := range g.registry.Fields {
		item := sess.Todo[f.Key]
		if item.Status != model.TodoComplete {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s (confidence: %s)\n", f.Label, item.Value.Display(), item.Confidence)
	}
	fmt.Fprintf(&b, "\nUser sophistication: %s\n", sess.Sophistication)
	b.WriteString("\nDesign this user's coach configuration now. Return only the JSON object.")
	return b.String()
}

// rawArtifact mirrors the JSON shape the model returns.
type rawArtifact struct {
	Archetype           string   `json:"archetype"`
	Methodology         string   `json:"methodology"`
	SecondaryInfluence  string   `json:"secondary_influence"`
	SystemPrompt        string   `json:"system_prompt"`
	Greeting            string   `json:"greeting"`
	InjuryModifications []string `json:"injury_modifications"`
	IntensityCeiling    string   `json:"intensity_ceiling"`
}

// parseArtifact parses the model output, repairing code fences and a
// stringified top-level object before giving up.
func parseArtifact(text string) (*rawArtifact, error) {
	cleaned := cleanJSON(text)

	var raw rawArtifact
	if err := json.Unmarshal([]byte(cleaned), &raw); err == nil {
		return &raw, nil
	}

	// Repair pass: the whole object may arrive as a JSON-encoded string. Decode
	// from the original text; brace extraction would have eaten the quotes.
	var s string
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &s); err == nil {
		if err := json.Unmarshal([]byte(cleanJSON(s)), &raw); err == nil {
			return &raw, nil
		}
	}

	return nil, eris.New("artifact: unparseable generation output")
}

// cleanJSON extracts a JSON object from text that may contain markdown code
// fences or surrounding prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func withLogger(cfg resilience.RetryConfig) resilience.RetryConfig {
	cfg.OnRetry = resilience.RetryLogger("anthropic", "artifact-generate")
	return cfg
}
