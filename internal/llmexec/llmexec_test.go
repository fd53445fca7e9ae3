package llmexec

import (
	"context"
	"strings"
	"testing"

	"github.com/mlld-lang/mlld/internal/env"
	"github.com/mlld-lang/mlld/internal/llm"
)

func TestSessionTruncateKeepsHeadAndTailWithMarker(t *testing.T) {
	sess := NewSession("")
	for i := 0; i < 10; i++ {
		sess.Append(llm.TextMessage(llm.RoleUser, string(rune('a'+i))))
	}
	sess.Truncate(2, 2)

	if sess.Len() != 5 {
		t.Fatalf("Len() = %d, want 5 (2 head + 1 marker + 2 tail)", sess.Len())
	}
	msgs := sess.Messages()
	if msgs[0].Text != "a" || msgs[1].Text != "b" {
		t.Fatalf("head = %q, %q, want a, b", msgs[0].Text, msgs[1].Text)
	}
	if !strings.Contains(msgs[2].Text, "TRUNCATED") {
		t.Fatalf("middle message = %q, want a TRUNCATED marker", msgs[2].Text)
	}
	if msgs[3].Text != "i" || msgs[4].Text != "j" {
		t.Fatalf("tail = %q, %q, want i, j", msgs[3].Text, msgs[4].Text)
	}
}

func TestSessionTruncateNoopWhenUnderBudget(t *testing.T) {
	sess := NewSession("")
	sess.Append(llm.TextMessage(llm.RoleUser, "only one"))
	sess.Truncate(2, 2)
	if sess.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (no truncation needed)", sess.Len())
	}
}

func TestLoopDetectorNotYetAtThreshold(t *testing.T) {
	d := NewLoopDetector(3)
	if d.Repeated(nil, "first") {
		t.Fatal("a single occurrence should not trip a threshold of 3")
	}
	if d.Repeated([]string{"x"}, "x") {
		t.Fatal("two total occurrences should not trip a threshold of 3")
	}
}

func TestLoopDetectorTripsAtThreshold(t *testing.T) {
	d := NewLoopDetector(3)
	if !d.Repeated([]string{"x", "x"}, "x") {
		t.Fatal("x appearing 3 times total should trip a threshold of 3")
	}
}

func TestLoopDetectorDefaultThreshold(t *testing.T) {
	d := NewLoopDetector(0)
	if !d.Repeated([]string{"y", "y"}, "y") {
		t.Fatal("threshold <= 0 should fall back to the default (3)")
	}
}

func TestParseBodyWithModelDirective(t *testing.T) {
	model, prompt := parseBody("model: openai:gpt-4o\nsummarize this")
	if model != "openai:gpt-4o" {
		t.Fatalf("model = %q, want %q", model, "openai:gpt-4o")
	}
	if prompt != "summarize this" {
		t.Fatalf("prompt = %q, want %q", prompt, "summarize this")
	}
}

func TestParseBodyWithoutModelDirectiveUsesDefault(t *testing.T) {
	model, prompt := parseBody("just a prompt")
	if model != defaultModel {
		t.Fatalf("model = %q, want default %q", model, defaultModel)
	}
	if prompt != "just a prompt" {
		t.Fatalf("prompt = %q, want unchanged body", prompt)
	}
}

type stubLLMClient struct {
	response llm.GenerateResponse
	err      error
	gotReq   llm.GenerateRequest
}

func (c *stubLLMClient) Complete(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	c.gotReq = req
	return c.response, c.err
}

func (c *stubLLMClient) Stream(ctx context.Context, req llm.GenerateRequest) (<-chan llm.StreamEvent, error) {
	ch := make(chan llm.StreamEvent)
	close(ch)
	return ch, nil
}

func TestRunReturnsCompletionAsStructuredText(t *testing.T) {
	stub := &stubLLMClient{response: llm.GenerateResponse{Text: "the answer"}}
	llm.RegisterProvider("llmexec-test-stub", func(modelName string) (llm.Client, error) { return stub, nil })

	e := env.New(env.NewFS(), env.NewResolverRegistry(), "/base")
	res, err := Run(context.Background(), nil, "model: llmexec-test-stub:m1\nwhat is it?", e)
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if res.Text != "the answer" {
		t.Fatalf("Run result = %q, want %q", res.Text, "the answer")
	}
	if res.Structured == nil {
		t.Fatal("expected a StructuredValue result")
	}
	if len(stub.gotReq.Messages) == 0 || stub.gotReq.Messages[len(stub.gotReq.Messages)-1].Text != "what is it?" {
		t.Fatalf("request messages = %+v, want the prompt as the final user turn", stub.gotReq.Messages)
	}
}

func TestRunUnknownProviderErrors(t *testing.T) {
	e := env.New(env.NewFS(), env.NewResolverRegistry(), "/base")
	if _, err := Run(context.Background(), nil, "model: no-such-provider:m\nhello", e); err == nil {
		t.Fatal("expected an error for an unregistered provider")
	}
}

func TestRunDetectsRepeatedCompletionAsStuck(t *testing.T) {
	stub := &stubLLMClient{response: llm.GenerateResponse{Text: "same output"}}
	llm.RegisterProvider("llmexec-test-stub-stuck", func(modelName string) (llm.Client, error) { return stub, nil })

	e := env.New(env.NewFS(), env.NewResolverRegistry(), "/base")
	snap := &env.PipelineContextSnapshot{
		Stage: 0,
		Tries: []string{"same output", "same output"},
	}
	stageEnv := e.WithPipelineContext(snap)

	_, err := Run(context.Background(), nil, "model: llmexec-test-stub-stuck:m1\nkeep trying", stageEnv)
	if err == nil {
		t.Fatal("expected an error when the completion repeats prior attempts at the steering threshold")
	}
}
