// Package question selects the next missing intake field and generates the
// assistant's conversational turn for it, in synchronous and streaming
// delivery modes. Every generated turn contains exactly one question; once all
// required fields are complete it produces a completion message instead and
// signals the caller to start artifact generation.
package question

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/coach-intake/internal/convo"
	"github.com/sells-group/coach-intake/internal/model"
	"github.com/sells-group/coach-intake/pkg/anthropic"
)

const systemText = `You are the intake interviewer for a personalized AI fitness coach.
You are given the conversation so far, the data collected, and ONE target field to collect next.
Write the assistant's next conversational turn. Rules:
- Ask about the target field and nothing else. The turn must contain exactly one question.
- Acknowledge what the user just shared in one short sentence before asking.
- Match the user's sophistication level: plain language for beginners, precise terminology for advanced users.
- End the turn with a tag classifying the user's training sophistication from the whole conversation: [LEVEL:beginner], [LEVEL:intermediate], or [LEVEL:advanced].`

const completionSystemText = `You are the intake interviewer for a personalized AI fitness coach.
All intake data has been collected. Write a short, warm wrap-up message:
- Thank the user, summarize in one sentence what their coach will focus on, and tell them their personalized coach is being prepared.
- Do not ask any question.
- End with the sophistication tag: [LEVEL:beginner], [LEVEL:intermediate], or [LEVEL:advanced].`

// maxQuestionTokens bounds a single generated turn.
const maxQuestionTokens = 512

// Result describes one generated assistant turn.
type Result struct {
	// Text is the full generated turn, level tag included.
	Text string
	// FieldKey is the field the question targets; empty for a completion turn.
	FieldKey string
	// Done reports that all required fields are complete and Text is the
	// completion message; the caller should signal the session controller.
	Done bool
	// Fallback reports that the deterministic template path produced Text.
	Fallback bool
}

// Generator produces intake turns.
type Generator struct {
	client  anthropic.Client
	planner convo.Planner
	modelID string
}

// New creates a Generator using the given model ID (typically the mid tier).
func New(client anthropic.Client, planner convo.Planner, modelID string) *Generator {
	return &Generator{client: client, planner: planner, modelID: modelID}
}

// NextField returns the next missing field to ask about, or nil when every
// required field is complete. Selection order: required fields by ascending
// group then registry order; only when all required fields are complete are
// optional fields considered, same ordering.
func NextField(reg *model.FieldRegistry, list model.TodoList) *model.Field {
	pick := func(required bool) *model.Field {
		var candidates []*model.Field
		for i := range reg.Fields {
			f := &reg.Fields[i]
			if f.Required != required {
				continue
			}
			if list[f.Key].Status != model.TodoComplete {
				candidates = append(candidates, f)
			}
		}
		if len(candidates) == 0 {
			return nil
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Group < candidates[j].Group
		})
		return candidates[0]
	}

	if f := pick(true); f != nil {
		return f
	}
	// Required fields are exhausted. Optional fields are only asked while the
	// session is still open; the caller decides whether to keep going.
	return nil
}

// Next generates the next turn synchronously. LLM failures degrade to the
// deterministic fallback template; Next never fails the conversation.
func (g *Generator) Next(ctx context.Context, reg *model.FieldRegistry, s *model.Session) Result {
	field := NextField(reg, s.Todo)
	if field == nil {
		return g.completion(ctx, reg, s)
	}

	req := g.buildRequest(systemText, reg, s, field)
	resp, err := g.client.CreateMessage(ctx, req)
	if err != nil || strings.TrimSpace(respText(resp)) == "" {
		zap.L().Warn("question: generation failed, using fallback template",
			zap.String("field", field.Key),
			zap.Error(err),
		)
		return Result{Text: FallbackText(field, s.Sophistication), FieldKey: field.Key, Fallback: true}
	}
	resp.Usage.LogCost(g.modelID, "question")

	return Result{Text: resp.Text(), FieldKey: field.Key}
}

// NextStream generates the next turn as incremental chunks that concatenate
// exactly to the text finish returns. A failed or blank stream degrades to the
// deterministic template, delivered through the same chunk channel; a stream
// that dies after emitting text keeps the partial turn, since the client has
// already seen it. The returned Result carries field metadata; its Text is
// filled in by finish, which blocks until the stream ends.
func (g *Generator) NextStream(ctx context.Context, reg *model.FieldRegistry, s *model.Session) (Result, <-chan string, func() (string, error)) {
	field := NextField(reg, s.Todo)

	var req anthropic.MessageRequest
	res := Result{}
	if field == nil {
		res.Done = true
		req = g.buildRequest(completionSystemText, reg, s, nil)
	} else {
		res.FieldKey = field.Key
		req = g.buildRequest(systemText, reg, s, field)
	}

	chunks, wait := g.client.StreamMessage(ctx, req)

	out := make(chan string, 16)
	done := make(chan struct{})
	var full strings.Builder

	go func() {
		defer close(done)
		defer close(out)
		for c := range chunks {
			full.WriteString(c)
			out <- c
		}
		streamErr := wait()
		if streamErr == nil && strings.TrimSpace(full.String()) != "" {
			return
		}
		if strings.TrimSpace(full.String()) != "" {
			zap.L().Warn("question: stream ended early, keeping partial turn",
				zap.String("field", res.FieldKey),
				zap.Error(streamErr),
			)
			return
		}
		zap.L().Warn("question: stream failed, streaming fallback template",
			zap.String("field", res.FieldKey),
			zap.Error(streamErr),
		)
		for c := range StreamFallback(field, s.Sophistication) {
			full.WriteString(c)
			out <- c
		}
	}()

	finish := func() (string, error) {
		<-done
		return full.String(), nil
	}

	return res, out, finish
}

// StreamFallback exposes the deterministic template through the streaming
// interface, chunked per word with its trailing whitespace so the chunks
// concatenate back to the template exactly. A nil field yields the completion
// message.
func StreamFallback(field *model.Field, level model.SophisticationLevel) <-chan string {
	text := completionFallback
	if field != nil {
		text = FallbackText(field, level)
	}
	out := make(chan string, 16)
	go func() {
		defer close(out)
		for _, c := range chunkText(text) {
			out <- c
		}
	}()
	return out
}

// chunkText splits text into word chunks, each carrying its trailing
// whitespace.
func chunkText(text string) []string {
	var chunks []string
	start := 0
	for i := 1; i < len(text); i++ {
		if isChunkSpace(text[i-1]) && !isChunkSpace(text[i]) {
			chunks = append(chunks, text[start:i])
			start = i
		}
	}
	if start < len(text) {
		chunks = append(chunks, text[start:])
	}
	return chunks
}

func isChunkSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func (g *Generator) completion(ctx context.Context, reg *model.FieldRegistry, s *model.Session) Result {
	req := g.buildRequest(completionSystemText, reg, s, nil)
	resp, err := g.client.CreateMessage(ctx, req)
	if err != nil || strings.TrimSpace(respText(resp)) == "" {
		zap.L().Warn("question: completion generation failed, using fallback",
			zap.Error(err),
		)
		return Result{Text: completionFallback, Done: true, Fallback: true}
	}
	resp.Usage.LogCost(g.modelID, "completion")
	return Result{Text: resp.Text(), Done: true}
}

// buildRequest assembles the request: cached system blocks, the windowed
// transcript with a cache boundary, and a final user block carrying collected
// data plus the target instruction.
func (g *Generator) buildRequest(system string, reg *model.FieldRegistry, s *model.Session, field *model.Field) anthropic.MessageRequest {
	window := g.planner.Plan(s.History)

	msgs := make([]anthropic.Message, 0, len(window.Turns)+1)
	for _, t := range window.Turns {
		msgs = append(msgs, anthropic.Message{Role: string(t.Role), Content: t.Text})
	}
	anthropic.MarkCacheBoundary(msgs, window.Boundary)

	var b strings.Builder
	b.WriteString("Collected so far:\n")
	for _, f := range reg.Fields {
		if item := s.Todo[f.Key]; item.Status == model.TodoComplete {
			fmt.Fprintf(&b, "- %s: %s\n", f.Label, item.Value.Display())
		}
	}
	fmt.Fprintf(&b, "\nUser sophistication: %s\n", s.Sophistication)
	if window.Elided > 0 {
		fmt.Fprintf(&b, "(%d earlier turns omitted)\n", window.Elided)
	}
	if field != nil {
		fmt.Fprintf(&b, "\nTarget field: %s (%s)", field.Label, field.Key)
		if field.Hint != "" {
			fmt.Fprintf(&b, " — %s", field.Hint)
		}
		b.WriteString("\nWrite the next turn now.")
	} else {
		b.WriteString("\nAll fields collected. Write the wrap-up turn now.")
	}
	msgs = append(msgs, anthropic.Message{Role: "user", Content: b.String()})

	return anthropic.MessageRequest{
		Model:     g.modelID,
		MaxTokens: maxQuestionTokens,
		System:    anthropic.BuildCachedSystemBlocks(system),
		Messages:  msgs,
	}
}

func respText(r *anthropic.MessageResponse) string {
	if r == nil {
		return ""
	}
	return r.Text()
}
