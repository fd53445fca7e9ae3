package pipeline_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mlld-lang/mlld/internal/ast"
	"github.com/mlld-lang/mlld/internal/checkpoint"
	"github.com/mlld-lang/mlld/internal/env"
	"github.com/mlld-lang/mlld/internal/eval"
	"github.com/mlld-lang/mlld/internal/mlerr"
	"github.com/mlld-lang/mlld/internal/pipeline"
	"github.com/mlld-lang/mlld/internal/value"
)

func newTestEnv() *env.Environment {
	return env.New(env.NewFS(), env.NewResolverRegistry(), "/base")
}

// upperInvoke uppercases the pipeline input's raw text, unconditionally
// succeeding — used to verify stage-to-stage threading.
func upperInvoke(ev eval.Evaluator, name string, args []ast.Node, input *value.Variable, e *env.Environment) (eval.EvalResult, error) {
	piv := input.Value.(value.PipelineInputValue)
	out := ""
	for _, r := range piv.Raw {
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		out += string(r)
	}
	return eval.EvalResult{Value: out, Text: out}, nil
}

func TestRunThreadsOutputSequentially(t *testing.T) {
	eng := pipeline.NewEngine(upperInvoke, nil, "run1")
	e := newTestEnv()
	stages := []pipeline.Stage{{Name: "a"}, {Name: "b"}}

	res, err := eng.Run(context.Background(), nil, stages, eval.EvalResult{Value: "hi", Text: "hi"}, e)
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if res.Text != "HI" {
		t.Fatalf("Run result = %q, want %q", res.Text, "HI")
	}
}

func TestRunEffectStageDoesNotReplaceCurrent(t *testing.T) {
	eng := pipeline.NewEngine(upperInvoke, nil, "run1")
	e := newTestEnv()
	stages := []pipeline.Stage{{Name: "log", Effect: true}}

	res, err := eng.Run(context.Background(), nil, stages, eval.EvalResult{Value: "hi", Text: "hi"}, e)
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if res.Text != "hi" {
		t.Fatalf("Run result after effect stage = %q, want unchanged %q", res.Text, "hi")
	}
}

func TestRunRetryHintsAccumulateInOrder(t *testing.T) {
	var seenTries [][]string
	attempt := 0
	invoke := func(ev eval.Evaluator, name string, args []ast.Node, input *value.Variable, e *env.Environment) (eval.EvalResult, error) {
		snap := e.PipelineContext()
		seenTries = append(seenTries, append([]string(nil), snap.Tries...))
		attempt++
		switch attempt {
		case 1:
			return eval.EvalResult{}, pipeline.RetrySignal{Hint: "first-hint"}
		case 2:
			return eval.EvalResult{}, pipeline.RetrySignal{Hint: "second-hint"}
		default:
			return eval.EvalResult{Value: "done", Text: "done"}, nil
		}
	}

	eng := pipeline.NewEngine(invoke, nil, "run1")
	e := newTestEnv()
	stages := []pipeline.Stage{{Name: "flaky"}}

	res, err := eng.Run(context.Background(), nil, stages, eval.EvalResult{Value: "start", Text: "start"}, e)
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if res.Text != "done" {
		t.Fatalf("Run result = %q, want %q", res.Text, "done")
	}
	if len(seenTries) != 3 {
		t.Fatalf("invoke called %d times, want 3", len(seenTries))
	}
	if len(seenTries[0]) != 0 {
		t.Fatalf("first attempt tries = %v, want empty", seenTries[0])
	}
	if got := seenTries[1]; len(got) != 1 || got[0] != "first-hint" {
		t.Fatalf("second attempt tries = %v, want [first-hint]", got)
	}
	if got := seenTries[2]; len(got) != 2 || got[0] != "first-hint" || got[1] != "second-hint" {
		t.Fatalf("third attempt tries = %v, want [first-hint second-hint] in order", got)
	}
}

func TestRunRetryExhaustedReturnsPipelineError(t *testing.T) {
	invoke := func(ev eval.Evaluator, name string, args []ast.Node, input *value.Variable, e *env.Environment) (eval.EvalResult, error) {
		return eval.EvalResult{}, pipeline.RetrySignal{Hint: "again"}
	}
	eng := pipeline.NewEngine(invoke, nil, "run1")
	e := newTestEnv()
	stages := []pipeline.Stage{{Name: "always-retries"}}

	_, err := eng.Run(context.Background(), nil, stages, eval.EvalResult{Value: "x", Text: "x"}, e)
	pe, ok := err.(*mlerr.PipelineError)
	if !ok || pe.ErrKind != mlerr.PipelineRetryExhausted || pe.StageName != "always-retries" {
		t.Fatalf("error = %#v, want PipelineError(RetryExhausted) for stage always-retries", err)
	}
}

func TestRunStageFailReturnsPipelineError(t *testing.T) {
	invoke := func(ev eval.Evaluator, name string, args []ast.Node, input *value.Variable, e *env.Environment) (eval.EvalResult, error) {
		return eval.EvalResult{}, context.DeadlineExceeded
	}
	eng := pipeline.NewEngine(invoke, nil, "run1")
	e := newTestEnv()
	stages := []pipeline.Stage{{Name: "broken"}}

	_, err := eng.Run(context.Background(), nil, stages, eval.EvalResult{Value: "x", Text: "x"}, e)
	pe, ok := err.(*mlerr.PipelineError)
	if !ok || pe.ErrKind != mlerr.PipelineStageThrow || pe.StageIndex != 0 {
		t.Fatalf("error = %#v, want PipelineError(StageThrow) at stage 0", err)
	}
}

func TestRunSkipStagePassesThroughCurrentValue(t *testing.T) {
	invoke := func(ev eval.Evaluator, name string, args []ast.Node, input *value.Variable, e *env.Environment) (eval.EvalResult, error) {
		return eval.EvalResult{}, pipeline.SkipSignal{}
	}
	eng := pipeline.NewEngine(invoke, nil, "run1")
	e := newTestEnv()
	stages := []pipeline.Stage{{Name: "skipped"}}

	res, err := eng.Run(context.Background(), nil, stages, eval.EvalResult{Value: "unchanged", Text: "unchanged"}, e)
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if res.Text != "unchanged" {
		t.Fatalf("Run result after skip = %q, want %q", res.Text, "unchanged")
	}
}

func TestRunCancelledContextStopsImmediately(t *testing.T) {
	invoke := func(ev eval.Evaluator, name string, args []ast.Node, input *value.Variable, e *env.Environment) (eval.EvalResult, error) {
		t.Fatal("invoke must not run once the context is already cancelled")
		return eval.EvalResult{}, nil
	}
	eng := pipeline.NewEngine(invoke, nil, "run1")
	e := newTestEnv()
	stages := []pipeline.Stage{{Name: "never-runs"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := eng.Run(ctx, nil, stages, eval.EvalResult{Value: "x", Text: "x"}, e); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestRunCheckpointsAfterEachSuccess(t *testing.T) {
	cp, err := checkpoint.NewManager(filepath.Join(t.TempDir(), "checkpoints"))
	if err != nil {
		t.Fatalf("NewManager error = %v", err)
	}
	eng := pipeline.NewEngine(upperInvoke, cp, "myrun")
	e := newTestEnv()
	stages := []pipeline.Stage{{Name: "a"}}

	if _, err := eng.Run(context.Background(), nil, stages, eval.EvalResult{Value: "hi", Text: "hi"}, e); err != nil {
		t.Fatalf("Run error = %v", err)
	}

	key := cp.Key("myrun:0:a", nil)
	got, ok := cp.Lookup(key)
	if !ok || got != "HI" {
		t.Fatalf("checkpoint lookup = %q, %v, want %q, true", got, ok, "HI")
	}
}
