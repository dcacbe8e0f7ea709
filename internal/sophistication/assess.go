// Package sophistication classifies the user's training-experience tier from
// two signal sources: static keyword lists scanned against user text, and an
// explicit level tag the assistant is instructed to emit at the end of each
// generated turn. The tag, when present, wins outright and can move the level
// in either direction.
package sophistication

import (
	"regexp"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/coach-intake/internal/model"
)

// levelTag matches the assistant-emitted tag, e.g. "[LEVEL:advanced]".
var levelTag = regexp.MustCompile(`\[LEVEL:(beginner|intermediate|advanced)\]`)

// Keyword signal lists per tier. Matched against normalized user text as
// whole phrases.
var (
	advancedSignals = []string{
		"periodization", "mesocycle", "macrocycle", "conjugate", "rpe",
		"one rep max", "1rm", "tempo work", "deload", "block programming",
		"westside", "5/3/1", "hypertrophy phase", "velocity based",
	}
	intermediateSignals = []string{
		"progressive overload", "compound lifts", "split routine", "supersets",
		"cutting", "bulking", "macros", "pr", "personal record",
		"deadlift", "squat depth", "training volume",
	}
	beginnerSignals = []string{
		"never trained", "complete beginner", "just starting", "new to this",
		"no idea where to start", "first time", "out of shape",
		"never lifted", "couch to",
	}
)

// normalizer lowercases and strips diacritics so keyword matching is
// insensitive to accents and casing.
var normalizer = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
	runes.Map(unicode.ToLower),
)

// Normalize returns the canonical form of text used for signal matching.
func Normalize(text string) string {
	out, _, err := transform.String(normalizer, text)
	if err != nil {
		return strings.ToLower(text)
	}
	return out
}

// Assess updates the stored level given the latest user text and the
// assistant's generated reply. Precedence: an explicit assistant tag replaces
// the stored level outright; otherwise the strongest keyword tier found in the
// user text upgrades (never downgrades) the stored level.
func Assess(current model.SophisticationLevel, userText, assistantText string) model.SophisticationLevel {
	if tagged, ok := FromTag(assistantText); ok {
		if tagged != current {
			zap.L().Debug("sophistication: tag override",
				zap.String("from", string(current)),
				zap.String("to", string(tagged)),
			)
		}
		return tagged
	}

	signaled := fromSignals(userText)
	if signaled == model.LevelUnknown {
		return current
	}
	if rank(signaled) > rank(current) {
		return signaled
	}
	return current
}

// FromTag extracts the last level tag from assistant text, if any.
func FromTag(assistantText string) (model.SophisticationLevel, bool) {
	matches := levelTag.FindAllStringSubmatch(assistantText, -1)
	if len(matches) == 0 {
		return model.LevelUnknown, false
	}
	return model.SophisticationLevel(matches[len(matches)-1][1]), true
}

// StripTag removes level tags from assistant text before it is shown or stored.
func StripTag(assistantText string) string {
	return strings.TrimSpace(levelTag.ReplaceAllString(assistantText, ""))
}

func fromSignals(userText string) model.SophisticationLevel {
	text := Normalize(userText)
	if containsAny(text, advancedSignals) {
		return model.LevelAdvanced
	}
	if containsAny(text, intermediateSignals) {
		return model.LevelIntermediate
	}
	if containsAny(text, beginnerSignals) {
		return model.LevelBeginner
	}
	return model.LevelUnknown
}

func containsAny(text string, signals []string) bool {
	for _, s := range signals {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}

func rank(l model.SophisticationLevel) int {
	switch l {
	case model.LevelAdvanced:
		return 3
	case model.LevelIntermediate:
		return 2
	case model.LevelBeginner:
		return 1
	default:
		return 0
	}
}
