package model

import "time"

// CoachConfig is the generated configuration artifact handed to the coaching
// runtime once intake completes.
type CoachConfig struct {
	ArtifactID string `json:"artifact_id"`
	UserID     string `json:"user_id"`
	SessionID  string `json:"session_id"`

	// Archetype and Methodology reference entries in the static catalogs.
	Archetype          string `json:"archetype"`
	Methodology        string `json:"methodology"`
	SecondaryInfluence string `json:"secondary_influence,omitempty"`

	// SystemPrompt is the full persona prompt for the coaching runtime.
	SystemPrompt string `json:"system_prompt"`
	// Greeting is the coach's opening line for the first coaching session.
	Greeting string `json:"greeting,omitempty"`

	// InjuryModifications and IntensityCeiling mitigate collected risk factors.
	InjuryModifications []string `json:"injury_modifications,omitempty"`
	IntensityCeiling    string   `json:"intensity_ceiling,omitempty"`

	Sophistication SophisticationLevel `json:"sophistication"`
	GeneratedAt    time.Time           `json:"generated_at"`

	Validation ValidationReport `json:"validation"`
}

// ValidationReport records non-fatal validation outcomes for an artifact.
type ValidationReport struct {
	SafetyScore    float64             `json:"safety_score"`
	CoherenceScore float64             `json:"coherence_score"`
	Warnings       []ValidationWarning `json:"warnings,omitempty"`
}

// WarningKind distinguishes validation warning categories.
type WarningKind string

const (
	WarningSafety    WarningKind = "safety"
	WarningCoherence WarningKind = "coherence"
)

// ValidationWarning is a single recorded, non-fatal validation finding.
type ValidationWarning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}
