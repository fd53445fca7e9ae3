// Package exe implements /exe invocation: binding call arguments into a
// fresh child environment and running the executable's body according to
// its language: template/ref/section bodies are evaluated in place,
// command/sh/bash run through /bin/sh, and any other language (such as
// llm) runs through a runner installed by RegisterLanguage. Grounded on
// pkg/pipeline/handlers/exec.go's exec.CommandContext + stdout/stderr/exit
// capture, generalized from a fixed pipeline node shape to any /exe body,
// and on pkg/agent/loop.go's per-turn recursion-depth guard (MaxTurnsError,
// renamed ExecutionOverflow in internal/mlerr) generalized from
// conversation turns to /exe call-stack depth.
package exe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/mlld-lang/mlld/internal/ast"
	"github.com/mlld-lang/mlld/internal/env"
	"github.com/mlld-lang/mlld/internal/eval"
	"github.com/mlld-lang/mlld/internal/mlerr"
	"github.com/mlld-lang/mlld/internal/value"
)

// MaxCallDepth bounds recursive /exe invocation, mirroring
// pkg/agent/loop.go's turn cap.
const MaxCallDepth = 50

// LanguageRunner runs one /exe body language. Registered by RegisterLanguage
// so internal/llmexec can add "llm" without this package depending on it.
type LanguageRunner func(ctx context.Context, ev eval.Evaluator, body string, e *env.Environment) (eval.EvalResult, error)

var languages = map[string]LanguageRunner{}

// RegisterLanguage installs a body-language runner (e.g. "js", "python",
// "llm"). "command" and "template" are built in below.
func RegisterLanguage(name string, r LanguageRunner) { languages[name] = r }

func init() {
	RegisterLanguage("command", runCommand)
	languages["sh"] = runCommand
	languages["bash"] = runCommand
}

// depthKey is a context.Context key tracking call depth across recursive
// /exe invocations.
type depthKey struct{}

func callDepth(ctx context.Context) int {
	if d, ok := ctx.Value(depthKey{}).(int); ok {
		return d
	}
	return 0
}

// RegisterAll installs the exec-invocation handler into internal/eval.
func RegisterAll() {
	eval.RegisterInvoker(invoke)
}

func invoke(ev eval.Evaluator, call *ast.ExecInvocation, e *env.Environment) (eval.EvalResult, error) {
	ctx := context.Background()
	depth := callDepth(ctx)
	if depth >= MaxCallDepth {
		return eval.EvalResult{}, &mlerr.ExecutionOverflow{
			Base:  mlerr.Base{Sev: mlerr.SeverityFatal, Loc: call.Location()},
			Limit: MaxCallDepth,
		}
	}

	v, ok := e.Resolve(call.CommandRef.Identifier)
	if !ok {
		return eval.EvalResult{}, fmt.Errorf("/exe: undefined executable @%s", call.CommandRef.Identifier)
	}
	if v.Kind != value.KindExecutable {
		return eval.EvalResult{}, fmt.Errorf("/exe: @%s is not executable (kind=%s)", call.CommandRef.Identifier, v.Kind)
	}
	def, ok := v.Value.(*ast.Directive)
	if !ok {
		return eval.EvalResult{}, fmt.Errorf("/exe: @%s's body is not a directive definition", call.CommandRef.Identifier)
	}

	child := e.Child()
	params := def.Meta["params"]
	if names, ok := params.([]string); ok {
		for i, name := range names {
			var argVal any
			var argText string
			if i < len(call.CommandRef.Args) {
				res, err := ev.Evaluate(call.CommandRef.Args[i], e)
				if err != nil {
					return eval.EvalResult{}, fmt.Errorf("/exe @%s: argument %q: %w", call.CommandRef.Identifier, name, err)
				}
				argVal, argText = unwrapArg(res)
			}
			child.SetParameter(name, value.NewSimpleTextVariable(name, argText, value.VariableSource{Directive: ast.KindExe}))
			_ = argVal
		}
	}

	lang := def.Raw["language"]
	if lang == "" {
		lang = "template"
	}

	var res eval.EvalResult
	var err error
	switch lang {
	case "template":
		bodyNode := def.Value("body")
		var text string
		text, err = ev.EvalSequence([]ast.Node{bodyNode}, child)
		res = eval.EvalResult{Value: text, Text: text}
	case "ref":
		bodyNode := def.Value("body")
		res, err = ev.Evaluate(bodyNode, child)
	case "section":
		bodyNode := def.Value("body")
		res, err = ev.Evaluate(bodyNode, child)
	default:
		runner, ok := languages[lang]
		if !ok {
			return eval.EvalResult{}, fmt.Errorf("/exe @%s: unknown body language %q", call.CommandRef.Identifier, lang)
		}
		body := def.Raw["body"]
		res, err = runner(ctx, ev, body, child)
	}
	if err != nil {
		return eval.EvalResult{}, fmt.Errorf("/exe @%s: %w", call.CommandRef.Identifier, err)
	}

	if call.WithClause != nil {
		res, err = runPipeline(ev, call, res, child)
		if err != nil {
			return eval.EvalResult{}, err
		}
	}

	for _, f := range call.CommandRef.Fields {
		out, ferr := value.AccessField(res.Value, f, value.AccessOptions{})
		if ferr != nil {
			return eval.EvalResult{}, ferr
		}
		res = eval.EvalResult{Value: out, Text: fmt.Sprintf("%v", out)}
	}

	return res, nil
}

// runPipeline threads an ExecInvocation's trailing `with { pipeline: [...] }`
// stages, feeding each stage the previous stage's output as its sole
// implicit argument (spec.md §4.6 condensed-pipe semantics). Effect stages
// (@log(...)-style) run for their side effect and do not replace the
// running value. This is the lightweight inline form; the full retryable
// Pipeline state machine for top-level `/exe ... with { pipeline }`
// multi-stage documents lives in internal/pipeline.
func runPipeline(ev eval.Evaluator, call *ast.ExecInvocation, start eval.EvalResult, e *env.Environment) (eval.EvalResult, error) {
	current := start
	for _, stage := range call.WithClause.Pipeline {
		v, ok := e.Resolve(stage.Name)
		if !ok {
			return eval.EvalResult{}, fmt.Errorf("pipeline stage @%s: undefined", stage.Name)
		}
		if v.Kind != value.KindExecutable {
			return eval.EvalResult{}, fmt.Errorf("pipeline stage @%s: not executable", stage.Name)
		}
		stageCall := ast.NewExecInvocation(ast.CommandRef{Identifier: stage.Name, Args: stage.Args}, nil, nil)
		child := e.Child()
		child.SetParameter("input", value.NewPipelineInputVariable(stage.Format, current.Text, current.Value))
		res, err := invoke(ev, stageCall, child)
		if err != nil {
			return eval.EvalResult{}, fmt.Errorf("pipeline stage @%s: %w", stage.Name, err)
		}
		if !stage.Effect {
			current = res
		}
	}
	return current, nil
}

// unwrapArg implements spec.md's StructuredValue auto-unwrap-at-argument-
// binding rule: every StructuredValue argument collapses to its .text.
// No `@p.keep` opt-out is recognised here or in internal/eval.
func unwrapArg(res eval.EvalResult) (any, string) {
	if sv := res.Structured; sv != nil {
		return sv, value.AsText(sv)
	}
	return res.Value, res.Text
}

// runCommand runs an /exe body with language "command"/"sh"/"bash" as a
// shell command, capturing stdout/stderr/exit code exactly as
// pkg/pipeline/handlers/exec.go does for pipeline exec nodes.
func runCommand(ctx context.Context, ev eval.Evaluator, body string, e *env.Environment) (eval.EvalResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", body)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	if exitCode != 0 {
		return eval.EvalResult{}, &mlerr.ExecutionError{
			Base:     mlerr.Base{Sev: mlerr.SeverityRecoverable},
			Command:  body,
			ExitCode: exitCode,
			Stderr:   stderr.String(),
		}
	}
	out := stdout.String()
	return eval.EvalResult{Value: out, Text: out}, nil
}
