// Package extract turns free-form user messages into partial field updates via
// a structured LLM call. Every failure mode here is fail-soft: transport
// errors, malformed JSON, and empty results all degrade to an empty update set
// and the conversation continues unaffected.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/coach-intake/internal/model"
	"github.com/sells-group/coach-intake/internal/todo"
	"github.com/sells-group/coach-intake/pkg/anthropic"
)

const systemText = `You are a data extraction assistant for a fitness-coach intake conversation.
You receive the latest user message plus recent conversation context, and a list of intake fields.
Return a single JSON object whose keys are field keys. Include a key ONLY when the user's messages contain actual evidence for that field.
Each included key maps to {"value": <value matching the field type>, "confidence": "high"|"medium"|"low"}.
Never invent values. Never include fields without evidence. Return {} when nothing was said about any field.`

// maxExtractTokens bounds the structured extraction response.
const maxExtractTokens = 1024

// Extractor runs per-turn field extraction.
type Extractor struct {
	client   anthropic.Client
	registry *model.FieldRegistry
	modelID  string
}

// New creates an Extractor using the given model ID (typically the fast tier).
func New(client anthropic.Client, registry *model.FieldRegistry, modelID string) *Extractor {
	return &Extractor{client: client, registry: registry, modelID: modelID}
}

// Extract asks the model for field updates evidenced by userText. The recent
// window of history provides pronoun/context resolution. Precondition:
// userText is non-empty; an empty text returns an empty update set directly.
func (e *Extractor) Extract(ctx context.Context, userText string, window []model.ConversationTurn, list model.TodoList) todo.Updates {
	if strings.TrimSpace(userText) == "" {
		return todo.Updates{}
	}

	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.modelID,
		MaxTokens: maxExtractTokens,
		System:    anthropic.BuildCachedSystemBlocks(systemText + "\n\n" + e.fieldCatalog()),
		Messages: []anthropic.Message{
			{Role: "user", Content: e.buildPrompt(userText, window, list)},
		},
	})
	if err != nil {
		zap.L().Warn("extract: message call failed, skipping turn extraction",
			zap.Error(err),
		)
		return todo.Updates{}
	}
	resp.Usage.LogCost(e.modelID, "extract")

	return e.parseUpdates(resp.Text())
}

// fieldCatalog enumerates the registry for the system prompt. Only registry
// entries appear; the model cannot introduce new keys.
func (e *Extractor) fieldCatalog() string {
	var b strings.Builder
	b.WriteString("Intake fields:\n")
	for _, f := range e.registry.Fields {
		fmt.Fprintf(&b, "- %s (%s): %s", f.Key, f.Type, f.Label)
		if f.Hint != "" {
			fmt.Fprintf(&b, " — %s", f.Hint)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (e *Extractor) buildPrompt(userText string, window []model.ConversationTurn, list model.TodoList) string {
	var b strings.Builder

	if len(window) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, t := range window {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
		}
		b.WriteString("\n")
	}

	var known []string
	for _, f := range e.registry.Fields {
		if item := list[f.Key]; item.Status == model.TodoComplete {
			known = append(known, fmt.Sprintf("%s=%s", f.Key, item.Value.Display()))
		}
	}
	if len(known) > 0 {
		b.WriteString("Already collected (only re-extract if the user corrects them): ")
		b.WriteString(strings.Join(known, "; "))
		b.WriteString("\n\n")
	}

	b.WriteString("Latest user message:\n")
	b.WriteString(userText)
	return b.String()
}

// rawUpdate mirrors the per-field JSON the model returns.
type rawUpdate struct {
	Value      any    `json:"value"`
	Confidence string `json:"confidence"`
}

// parseUpdates defensively parses the model output into validated updates.
// Unknown keys, null values, and type-invalid values are dropped per field;
// an unparseable payload drops the whole turn's extraction.
func (e *Extractor) parseUpdates(text string) todo.Updates {
	cleaned := cleanJSON(text)
	if cleaned == "" || cleaned == "{}" {
		return todo.Updates{}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		zap.L().Warn("extract: failed to parse updates JSON",
			zap.Error(err),
		)
		return todo.Updates{}
	}

	updates := make(todo.Updates, len(raw))
	for key, msg := range raw {
		field := e.registry.ByKey(key)
		if field == nil {
			zap.L().Debug("extract: dropping unknown field key", zap.String("key", key))
			continue
		}

		ru, ok := decodeRawUpdate(msg)
		if !ok || ru.Value == nil {
			continue
		}

		value, err := model.CoerceValue(ru.Value, field.Type)
		if err != nil {
			zap.L().Warn("extract: dropping type-invalid value",
				zap.String("key", key),
				zap.Error(err),
			)
			continue
		}

		updates[key] = todo.Update{
			Value:      value,
			Confidence: parseConfidence(ru.Confidence),
		}
	}
	return updates
}

// decodeRawUpdate parses one field entry, repairing the doubly-stringified
// artifact where the model emits the {"value":...} object as a JSON string:
//
//	{"age": "{\"value\": 34, \"confidence\": \"high\"}"}
func decodeRawUpdate(msg json.RawMessage) (rawUpdate, bool) {
	var ru rawUpdate
	if err := json.Unmarshal(msg, &ru); err == nil && (ru.Value != nil || ru.Confidence != "") {
		// Inner repair: the value itself may be a stringified update object.
		if s, ok := ru.Value.(string); ok && looksLikeJSONObject(s) {
			var inner rawUpdate
			if err := json.Unmarshal([]byte(s), &inner); err == nil && inner.Value != nil {
				if inner.Confidence == "" {
					inner.Confidence = ru.Confidence
				}
				return inner, true
			}
		}
		return ru, true
	}

	// Outer repair: the whole entry arrived as a stringified object.
	var s string
	if err := json.Unmarshal(msg, &s); err == nil && looksLikeJSONObject(s) {
		var inner rawUpdate
		if err := json.Unmarshal([]byte(s), &inner); err == nil {
			return inner, inner.Value != nil
		}
	}

	// Bare scalar: treat the entry itself as the value with no confidence.
	var bare any
	if err := json.Unmarshal(msg, &bare); err == nil && bare != nil {
		if _, isObj := bare.(map[string]any); !isObj {
			return rawUpdate{Value: bare}, true
		}
	}

	return rawUpdate{}, false
}

func looksLikeJSONObject(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")
}

func parseConfidence(s string) model.Confidence {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return model.ConfidenceHigh
	case "medium":
		return model.ConfidenceMedium
	case "low":
		return model.ConfidenceLow
	default:
		return ""
	}
}

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
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
