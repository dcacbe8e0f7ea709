// Package todo implements the per-session collection list and its pure merge
// operation. Merge never mutates its input; callers replace the session's list
// with the returned copy and persist the whole record.
package todo

import (
	"github.com/sells-group/coach-intake/internal/model"
)

// Update is a single extracted field update.
type Update struct {
	Value      *model.FieldValue
	Confidence model.Confidence
}

// Updates maps field keys to extracted updates.
type Updates map[string]Update

// OverwritePolicy decides whether an incoming update may replace an existing
// item. The historical behavior overwrites unconditionally; see
// PreferHigherConfidence for the guarded alternative.
type OverwritePolicy func(existing model.TodoItem, incoming Update) bool

// AlwaysOverwrite replaces any prior value with the incoming one regardless of
// relative confidence. This matches the original behavior: a low-confidence
// update can replace a high-confidence prior value.
func AlwaysOverwrite(model.TodoItem, Update) bool { return true }

// PreferHigherConfidence only overwrites a complete item when the incoming
// confidence is at least the stored confidence. Pending and in-progress items
// always accept the update.
func PreferHigherConfidence(existing model.TodoItem, incoming Update) bool {
	if existing.Status != model.TodoComplete {
		return true
	}
	return incoming.Confidence.AtLeast(existing.Confidence)
}

// Merger applies extracted updates to a todo list under a configured policy.
type Merger struct {
	policy OverwritePolicy
}

// NewMerger creates a Merger. A nil policy defaults to AlwaysOverwrite.
func NewMerger(policy OverwritePolicy) *Merger {
	if policy == nil {
		policy = AlwaysOverwrite
	}
	return &Merger{policy: policy}
}

// Merge returns a new list with updates applied. For every key in updates with
// a non-nil value accepted by the policy, the item becomes complete with the
// update's value, confidence (medium when unset), and turnIndex as provenance.
// Keys absent from updates are untouched. Keys not present in the list (not in
// the registry) are ignored. The operation is idempotent: applying the same
// updates at the same turn index twice yields an identical list.
func (m *Merger) Merge(list model.TodoList, updates Updates, turnIndex int) model.TodoList {
	out := list.Clone()
	for key, u := range updates {
		if u.Value == nil {
			continue
		}
		existing, ok := out[key]
		if !ok {
			continue
		}
		if !m.policy(existing, u) {
			continue
		}
		conf := u.Confidence
		if conf == "" {
			conf = model.ConfidenceMedium
		}
		prov := turnIndex
		out[key] = model.TodoItem{
			Status:     model.TodoComplete,
			Value:      u.Value,
			Confidence: conf,
			Provenance: &prov,
		}
	}
	return out
}
