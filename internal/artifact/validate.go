package artifact

import (
	"fmt"

	"github.com/sells-group/coach-intake/internal/model"
	"github.com/sells-group/coach-intake/internal/registry"
)

// riskFieldKeys are the intake fields whose presence marks a safety risk
// requiring mitigation in the generated artifact.
var riskFieldKeys = []string{"injuries", "physical_limitations", "medical_conditions"}

// validateStructural checks that the required identifiers and prompt text are
// present. Missing any is fatal to the generation attempt.
func validateStructural(cfg *model.CoachConfig) error {
	var missing []string
	if cfg.Archetype == "" {
		missing = append(missing, "archetype")
	}
	if cfg.Methodology == "" {
		missing = append(missing, "methodology")
	}
	if cfg.SystemPrompt == "" {
		missing = append(missing, "system_prompt")
	}
	if len(missing) > 0 {
		return &StructuralError{Missing: missing}
	}
	return nil
}

// validate runs the non-fatal safety and coherence checks, returning a report
// with warnings and numeric scores in [0,1]. Scores start at 1.0 and lose a
// fixed penalty per violation.
func validate(cfg *model.CoachConfig, sess *model.Session, cats *registry.Catalogs) model.ValidationReport {
	report := model.ValidationReport{SafetyScore: 1.0, CoherenceScore: 1.0}

	const penalty = 0.25

	// Safety: reported risk factors require the corresponding mitigations.
	if hasRiskValue(sess, "injuries") && len(cfg.InjuryModifications) == 0 {
		report.SafetyScore -= penalty
		report.Warnings = append(report.Warnings, model.ValidationWarning{
			Kind:    model.WarningSafety,
			Message: "injuries reported but no injury modifications in artifact",
		})
	}
	if (hasRiskValue(sess, "medical_conditions") || hasRiskValue(sess, "physical_limitations")) && cfg.IntensityCeiling == "" {
		report.SafetyScore -= penalty
		report.Warnings = append(report.Warnings, model.ValidationWarning{
			Kind:    model.WarningSafety,
			Message: "health risk factors reported but no intensity ceiling in artifact",
		})
	}

	// Coherence: unknown catalog IDs and flagged pairings.
	if cats.ArchetypeByID(cfg.Archetype) == nil {
		report.CoherenceScore -= penalty
		report.Warnings = append(report.Warnings, model.ValidationWarning{
			Kind:    model.WarningCoherence,
			Message: fmt.Sprintf("unknown archetype %q", cfg.Archetype),
		})
	}
	if cats.MethodologyByID(cfg.Methodology) == nil {
		report.CoherenceScore -= penalty
		report.Warnings = append(report.Warnings, model.ValidationWarning{
			Kind:    model.WarningCoherence,
			Message: fmt.Sprintf("unknown methodology %q", cfg.Methodology),
		})
	}
	if reason, bad := cats.IncompatiblePair(cfg.Archetype, cfg.Methodology); bad {
		report.CoherenceScore -= penalty
		report.Warnings = append(report.Warnings, model.ValidationWarning{
			Kind:    model.WarningCoherence,
			Message: fmt.Sprintf("archetype %s with methodology %s: %s", cfg.Archetype, cfg.Methodology, reason),
		})
	}
	if cfg.SecondaryInfluence != "" {
		if cats.MethodologyByID(cfg.SecondaryInfluence) == nil {
			report.CoherenceScore -= penalty
			report.Warnings = append(report.Warnings, model.ValidationWarning{
				Kind:    model.WarningCoherence,
				Message: fmt.Sprintf("unknown secondary influence %q", cfg.SecondaryInfluence),
			})
		} else if reason, bad := cats.IncompatiblePair(cfg.Archetype, cfg.SecondaryInfluence); bad {
			report.CoherenceScore -= penalty
			report.Warnings = append(report.Warnings, model.ValidationWarning{
				Kind:    model.WarningCoherence,
				Message: fmt.Sprintf("archetype %s with secondary influence %s: %s", cfg.Archetype, cfg.SecondaryInfluence, reason),
			})
		}
	}

	if report.SafetyScore < 0 {
		report.SafetyScore = 0
	}
	if report.CoherenceScore < 0 {
		report.CoherenceScore = 0
	}
	return report
}

// hasRiskValue reports whether the field is complete with a substantive value.
// "none"-style answers do not count as risk factors.
func hasRiskValue(sess *model.Session, key string) bool {
	item, ok := sess.Todo[key]
	if !ok || item.Status != model.TodoComplete || item.Value == nil {
		return false
	}
	switch item.Value.Kind {
	case model.KindStringList:
		for _, v := range item.Value.List {
			if !isNoneAnswer(v) {
				return true
			}
		}
		return false
	default:
		return !isNoneAnswer(item.Value.Display())
	}
}

func isNoneAnswer(s string) bool {
	switch s {
	case "", "none", "None", "no", "No", "n/a", "N/A", "nothing", "Nothing":
		return true
	}
	return false
}
