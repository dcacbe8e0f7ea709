package question

import (
	"fmt"

	"github.com/sells-group/coach-intake/internal/model"
)

// completionFallback is the deterministic wrap-up used when the LLM path is
// unavailable at completion time.
const completionFallback = "That's everything I need. Your personalized coach is being prepared now — it will be ready shortly."

// Per-field fallback templates keyed by sophistication level. Fields without a
// dedicated entry fall back to a generic per-group phrasing. Each template is
// a complete turn containing exactly one question.
var fieldTemplates = map[string]map[model.SophisticationLevel]string{
	"name": {
		model.LevelUnknown: "Let's get started. What should I call you?",
	},
	"age": {
		model.LevelUnknown: "How old are you?",
	},
	"coaching_tone": {
		model.LevelBeginner: "Some people like a gentle, encouraging coach and others want someone more direct. What style works best for you?",
		model.LevelUnknown:  "What coaching tone do you respond to best — direct, encouraging, or analytical?",
	},
	"primary_goals": {
		model.LevelBeginner: "What's the main thing you'd like to achieve with your training?",
		model.LevelAdvanced: "What's your primary training goal for this cycle?",
		model.LevelUnknown:  "What's your primary training goal?",
	},
	"experience_years": {
		model.LevelBeginner: "Have you trained before, and for roughly how long?",
		model.LevelUnknown:  "How many years of consistent training do you have?",
	},
	"training_frequency": {
		model.LevelBeginner: "How many days a week could you realistically train?",
		model.LevelAdvanced: "How many sessions per week are you planning to run?",
		model.LevelUnknown:  "How many days per week do you want to train?",
	},
	"equipment": {
		model.LevelUnknown: "What equipment do you have access to?",
	},
	"injuries": {
		model.LevelUnknown: "Do you have any current or past injuries I should plan around?",
	},
}

// groupTemplates is the generic fallback per field group.
var groupTemplates = map[model.FieldGroup]string{
	model.GroupIdentity:    "Tell me about yourself — %s?",
	model.GroupGoals:       "Let's talk goals — what about your %s?",
	model.GroupLogistics:   "On logistics: what's your %s?",
	model.GroupSafety:      "Before we plan anything: any %s I should know about?",
	model.GroupStyle:       "To shape how I coach you: what's your %s?",
	model.GroupCompetition: "Optionally, is there a %s you're working toward?",
}

// FallbackText returns the deterministic template turn for a missing field at
// the given sophistication level. Lookup order: exact (field, level), then
// (field, unknown), then the group template.
func FallbackText(field *model.Field, level model.SophisticationLevel) string {
	if byLevel, ok := fieldTemplates[field.Key]; ok {
		if t, ok := byLevel[level]; ok {
			return t
		}
		if t, ok := byLevel[model.LevelUnknown]; ok {
			return t
		}
	}
	if t, ok := groupTemplates[field.Group]; ok {
		return fmt.Sprintf(t, lowerLabel(field))
	}
	return fmt.Sprintf("Could you tell me your %s?", lowerLabel(field))
}

func lowerLabel(f *model.Field) string {
	label := f.Label
	if label == "" {
		return f.Key
	}
	// Lowercase only the leading rune; labels are sentence-cased in the
	// registry fixture.
	return string(append([]rune{toLowerRune([]rune(label)[0])}, []rune(label)[1:]...))
}

func toLowerRune(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}
