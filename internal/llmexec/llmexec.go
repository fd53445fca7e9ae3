// Package llmexec backs /exe bodies whose language tag is "llm": it
// resolves a provider client from internal/llm's registry, carries a
// truncated conversation window across pipeline retries, and returns the
// completion as an eval.EvalResult. Grounded on pkg/agent/session.go's
// Session (head/tail truncation with a [TRUNCATED] marker) and
// pkg/agent/loopdetect.go's repeat-fingerprint steering, both generalized
// from a tool-calling agent loop (which mlld has no equivalent of — mlld
// executables are resolved by name through internal/exe, never chosen by
// a model) down to a single-completion-per-invocation shape: "session"
// here means the retry history of one pipeline stage, not a multi-turn
// tool conversation, and "loop detected" means a stage kept producing the
// same completion across @pipeline retries rather than a tool being
// called identically n times.
package llmexec

import (
	"context"
	"fmt"
	"strings"

	"github.com/mlld-lang/mlld/internal/env"
	"github.com/mlld-lang/mlld/internal/eval"
	"github.com/mlld-lang/mlld/internal/exe"
	"github.com/mlld-lang/mlld/internal/llm"
	"github.com/mlld-lang/mlld/internal/mlerr"
	"github.com/mlld-lang/mlld/internal/value"
)

// RegisterAll installs the "llm" body-language runner into internal/exe.
func RegisterAll() {
	exe.RegisterLanguage("llm", Run)
}

const (
	defaultModel               = "anthropic:claude-sonnet-4-6"
	defaultMaxTokens           = 4096
	defaultTruncationHeadTurns = 2
	defaultTruncationTailTurns = 10
	defaultSteeringThreshold   = 3
)

// Session manages the conversation history threaded through one /exe
// "llm" invocation's retries, grounded 1:1 on pkg/agent/session.go.
type Session struct {
	messages []llm.Message
	system   string
}

// NewSession creates a session with an optional system prompt.
func NewSession(system string) *Session { return &Session{system: system} }

// Append adds a message to the session history.
func (s *Session) Append(msg llm.Message) { s.messages = append(s.messages, msg) }

// Messages returns all messages in the session.
func (s *Session) Messages() []llm.Message { return s.messages }

// System returns the system prompt.
func (s *Session) System() string { return s.system }

// Len returns the number of messages.
func (s *Session) Len() int { return len(s.messages) }

// Truncate keeps the first headN and last tailN messages, inserting a
// [TRUNCATED] marker between them, grounded 1:1 on
// pkg/agent/session.go's Truncate.
func (s *Session) Truncate(headN, tailN int) {
	total := len(s.messages)
	if total <= headN+tailN {
		return
	}
	omitted := total - headN - tailN
	marker := llm.TextMessage(llm.RoleUser, fmt.Sprintf("[TRUNCATED — %d messages omitted]", omitted))
	head := make([]llm.Message, headN)
	copy(head, s.messages[:headN])
	tail := make([]llm.Message, tailN)
	copy(tail, s.messages[total-tailN:])

	combined := make([]llm.Message, 0, headN+1+tailN)
	combined = append(combined, head...)
	combined = append(combined, marker)
	combined = append(combined, tail...)
	s.messages = combined
}

// LoopDetector counts how many of a pipeline stage's prior retry attempts
// produced an identical completion, grounded on
// pkg/agent/loopdetect.go's LoopDetector (fingerprint: tool name + input
// hash; here: prior attempt outputs for this stage).
type LoopDetector struct{ threshold int }

// NewLoopDetector creates a LoopDetector with the given repeat threshold.
// A threshold <= 0 uses the default (3).
func NewLoopDetector(threshold int) *LoopDetector {
	if threshold <= 0 {
		threshold = defaultSteeringThreshold
	}
	return &LoopDetector{threshold: threshold}
}

// Repeated reports whether out already appears among tries enough times
// to cross the detector's threshold (including the current attempt).
func (d *LoopDetector) Repeated(tries []string, out string) bool {
	n := 1
	for _, t := range tries {
		if t == out {
			n++
		}
	}
	return n >= d.threshold
}

// SteeringMessage is appended to the prompt when a loop is detected,
// grounded 1:1 on pkg/agent/loopdetect.go's SteeringMessage.
func SteeringMessage() string {
	return "Your previous attempts at this step produced the same result. Try a fundamentally different approach."
}

// parseBody splits an /exe "llm" body into an optional leading
// "model: provider:name" directive line and the remaining prompt text,
// defaulting to defaultModel when no directive line is present.
func parseBody(body string) (model, prompt string) {
	model = defaultModel
	trimmed := strings.TrimLeft(body, "\n\t ")
	if rest, ok := strings.CutPrefix(trimmed, "model:"); ok {
		line, remainder, _ := strings.Cut(rest, "\n")
		if m := strings.TrimSpace(line); m != "" {
			model = m
		}
		return model, strings.TrimLeft(remainder, "\n")
	}
	return model, body
}

// Run is an internal/exe LanguageRunner for body language "llm": it calls
// the resolved provider client once, carrying prior same-stage retry
// attempts (internal/env's PipelineContextSnapshot.Tries) as assistant
// turns so the model sees its own history, and surfaces an error when the
// completion repeats a prior attempt often enough to look stuck.
func Run(ctx context.Context, ev eval.Evaluator, body string, e *env.Environment) (eval.EvalResult, error) {
	model, prompt := parseBody(body)
	client, err := llm.NewClient(model)
	if err != nil {
		return eval.EvalResult{}, fmt.Errorf("llmexec: %w", err)
	}

	sess := NewSession("")
	pc := e.PipelineContext()
	var tries []string
	if pc != nil {
		tries = pc.Tries
		for _, prior := range tries {
			sess.Append(llm.TextMessage(llm.RoleAssistant, prior))
		}
		if len(tries) > 0 && NewLoopDetector(0).Repeated(tries[:len(tries)-1], tries[len(tries)-1]) {
			prompt = prompt + "\n\n" + SteeringMessage()
		}
	}
	sess.Append(llm.TextMessage(llm.RoleUser, prompt))
	if sess.Len() > defaultTruncationHeadTurns+defaultTruncationTailTurns+5 {
		sess.Truncate(defaultTruncationHeadTurns, defaultTruncationTailTurns)
	}

	req := llm.GenerateRequest{
		Model:     model,
		Messages:  sess.Messages(),
		System:    sess.System(),
		MaxTokens: defaultMaxTokens,
	}
	resp, err := client.Complete(ctx, req)
	if err != nil {
		return eval.EvalResult{}, &mlerr.ExecutionError{
			Base:    mlerr.Base{Sev: mlerr.SeverityRecoverable, Cause: err},
			Command: fmt.Sprintf("llm:%s", model),
		}
	}

	if pc != nil && NewLoopDetector(0).Repeated(tries, resp.Text) {
		return eval.EvalResult{}, fmt.Errorf("llmexec: stage %d repeated a prior attempt's output %d times running — likely stuck", pc.Stage, defaultSteeringThreshold)
	}

	sv := value.NewStructuredValue(value.StructuredText, resp.Text, nil, value.Ctx{})
	return eval.EvalResult{Value: resp.Text, Structured: sv, Text: resp.Text}, nil
}
