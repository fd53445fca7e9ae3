// Package pipeline implements the retryable multi-stage Pipeline engine
// behind spec.md's `with { pipeline: [...] }` clause: a sequential state
// machine (Start/StageOk/StageRetry/StageSkip/StageDone/StageFail) that
// threads a PipelineContextSnapshot (@pipeline/@p) through each stage,
// replays retry hints, and checkpoints after every successful stage.
// Grounded on pkg/pipeline/engine.go's run loop (sequential node walk with
// checkpoint-after-success and a cycle-visit cap) generalized from a fixed
// DOT graph of typed nodes to an ordered list of executable stages.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mlld-lang/mlld/internal/ast"
	"github.com/mlld-lang/mlld/internal/checkpoint"
	"github.com/mlld-lang/mlld/internal/env"
	"github.com/mlld-lang/mlld/internal/eval"
	"github.com/mlld-lang/mlld/internal/mlerr"
	"github.com/mlld-lang/mlld/internal/value"
)

// maxRetriesPerStage bounds retry-hint replay, mirroring
// pkg/pipeline/engine.go's maxNodeVisits cycle guard.
const maxRetriesPerStage = 10

// Stage is one pipeline step: a callable by name plus its declared args.
type Stage struct {
	Name   string
	Args   []ast.Node
	Effect bool
	Format string
}

// Invoke is the single call-one-executable hook, supplied to NewEngine by
// the caller (cmd/mlld does not construct an Engine), keeping this package
// from importing internal/exe directly (pipeline stages are themselves
// commonly /exe-backed, but the engine only needs "run named callable with
// these args against this input").
type Invoke func(ev eval.Evaluator, name string, args []ast.Node, input *value.Variable, e *env.Environment) (eval.EvalResult, error)

// Engine runs a Stage list against a starting value.
type Engine struct {
	Invoke     Invoke
	Checkpoint *checkpoint.Manager
	RunName    string // identifies this pipeline run for checkpoint keys
}

// NewEngine creates a pipeline Engine.
func NewEngine(invoke Invoke, cp *checkpoint.Manager, runName string) *Engine {
	return &Engine{Invoke: invoke, Checkpoint: cp, RunName: runName}
}

// hintHistory records, per stage index, the sequence of retry hints a
// previous stage's "retry" action supplied, so a replayed attempt can see
// what earlier attempts tried (spec.md §4.7 "retries.all").
type hintHistory struct {
	attempts map[int][]string
}

func newHintHistory() *hintHistory { return &hintHistory{attempts: make(map[int][]string)} }

func (h *hintHistory) record(stage int, output string) {
	h.attempts[stage] = append(h.attempts[stage], output)
}

func (h *hintHistory) all(stage int) []string { return h.attempts[stage] }

// Run executes stages in order starting from start.Value, threading a
// PipelineContextSnapshot through each stage's environment and
// checkpointing after every stage that completes without requesting retry.
func (en *Engine) Run(ctx context.Context, ev eval.Evaluator, stages []Stage, start eval.EvalResult, e *env.Environment) (eval.EvalResult, error) {
	current := start
	hints := newHintHistory()
	outputs := make([]string, 0, len(stages))

	for i, stage := range stages {
		tries := hints.all(i)
		attempt := 0
		for {
			select {
			case <-ctx.Done():
				return eval.EvalResult{}, fmt.Errorf("pipeline cancelled at stage %d (%s): %w", i, stage.Name, ctx.Err())
			default:
			}

			snap := &env.PipelineContextSnapshot{
				Try: attempt, Tries: tries, Stage: i, Length: len(stages), Outputs: outputs,
			}
			stageEnv := e.WithPipelineContext(snap)

			inputVar := value.NewPipelineInputVariable(stage.Format, current.Text, current.Value)
			res, err := en.Invoke(ev, stage.Name, stage.Args, inputVar, stageEnv)

			verdict, retryHint := classify(err)
			switch verdict {
			case StageOk:
				if !stage.Effect {
					current = res
				}
				outputs = append(outputs, current.Text)
				if en.Checkpoint != nil {
					key := en.Checkpoint.Key(fmt.Sprintf("%s:%d:%s", en.RunName, i, stage.Name), nil)
					_ = en.Checkpoint.Store(key, current.Text)
				}
				slog.Debug("pipeline stage ok", "stage", i, "name", stage.Name)
				goto nextStage
			case StageRetry:
				attempt++
				tries = append(tries, retryHint)
				hints.record(i, retryHint)
				if attempt > maxRetriesPerStage {
					return eval.EvalResult{}, &mlerr.PipelineError{
						Base:       mlerr.Base{Sev: mlerr.SeverityFatal, Cause: err},
						ErrKind:    mlerr.PipelineRetryExhausted,
						StageIndex: i, StageName: stage.Name,
					}
				}
				slog.Debug("pipeline stage retry", "stage", i, "name", stage.Name, "attempt", attempt)
				continue
			case StageSkip:
				outputs = append(outputs, current.Text)
				goto nextStage
			case StageFail:
				return eval.EvalResult{}, &mlerr.PipelineError{
					Base:       mlerr.Base{Sev: mlerr.SeverityFatal, Cause: err},
					ErrKind:    mlerr.PipelineStageThrow,
					StageIndex: i, StageName: stage.Name,
				}
			}
		}
	nextStage:
	}
	return current, nil
}

// Verdict is the outcome internal/exe (or any Invoke implementation) signals
// for a stage attempt, driving the engine's state transitions.
type Verdict int

const (
	StageOk Verdict = iota
	StageRetry
	StageSkip
	StageFail
)

// RetrySignal is returned (wrapped) by a stage's invocation to request a
// retry with hint as the next attempt's replay context.
type RetrySignal struct{ Hint string }

func (r RetrySignal) Error() string { return fmt.Sprintf("retry: %s", r.Hint) }

// SkipSignal is returned (wrapped) to request the engine treat this stage
// as a no-op pass-through.
type SkipSignal struct{}

func (SkipSignal) Error() string { return "skip" }

func classify(err error) (Verdict, string) {
	if err == nil {
		return StageOk, ""
	}
	if rs, ok := err.(RetrySignal); ok {
		return StageRetry, rs.Hint
	}
	if _, ok := err.(SkipSignal); ok {
		return StageSkip, ""
	}
	return StageFail, ""
}
