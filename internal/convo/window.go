// Package convo plans how much conversation history is replayed to the model
// as sessions grow long. The plan is stepped: the replay window only changes
// shape every Step turns, so the prompt prefix stays byte-stable between
// consecutive turns and keeps hitting the warm prompt cache.
package convo

import (
	"github.com/sells-group/coach-intake/internal/model"
)

// Planner computes replay windows over a session transcript.
type Planner struct {
	// Threshold is the transcript length at and below which the whole history
	// is replayed verbatim.
	Threshold int
	// HeadKeep is how many of the earliest turns are always replayed; they
	// carry the identity and goal context later phrasing depends on.
	HeadKeep int
	// Tail is the minimum number of most recent turns replayed.
	Tail int
	// Step is how many turns the transcript must grow before the window's
	// cut point advances. Larger steps mean fewer cache invalidations.
	Step int
}

// DefaultPlanner returns the planner tuning used in production.
func DefaultPlanner() Planner {
	return Planner{
		Threshold: 16,
		HeadKeep:  4,
		Tail:      6,
		Step:      8,
	}
}

// Window is the planned replay: the turns to send and the index within Turns
// that should carry a prompt-cache boundary (-1 when the window is too small
// to benefit from caching).
type Window struct {
	Turns    []model.ConversationTurn
	Boundary int
	// Elided is how many middle turns were dropped from the transcript.
	Elided int
}

// Plan computes the replay window for the given transcript.
//
// At or below Threshold turns the full history is replayed. Above it, the
// window is the first HeadKeep turns plus the turns from the current cut point
// to the end. The cut point is the largest multiple of Step not greater than
// len(history)-Tail, so it advances only once every Step turns; between
// advances the window grows strictly by appending, which preserves the cached
// prefix. The replayed turn count is bounded by HeadKeep+Tail+Step.
func (p Planner) Plan(history []model.ConversationTurn) Window {
	n := len(history)
	if n == 0 {
		return Window{Boundary: -1}
	}

	if n <= p.Threshold || p.Step <= 0 {
		w := Window{Turns: history, Boundary: -1}
		if n > 2 {
			// Cache everything up to the latest exchange.
			w.Boundary = n - 3
		}
		return w
	}

	head := p.HeadKeep
	if head > n {
		head = n
	}

	cut := ((n - p.Tail) / p.Step) * p.Step
	if cut < head {
		cut = head
	}

	turns := make([]model.ConversationTurn, 0, head+(n-cut))
	turns = append(turns, history[:head]...)
	turns = append(turns, history[cut:]...)

	return Window{
		Turns: turns,
		// Boundary sits at the cut point: the prefix head..cut is stable
		// until the cut advances.
		Boundary: head - 1,
		Elided:   cut - head,
	}
}
