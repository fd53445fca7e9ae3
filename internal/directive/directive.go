// Package directive implements one handler per ast.DirectiveKind,
// registered into internal/eval's directive registry via RegisterAll.
// Grounded on pkg/pipeline/handlers/*.go: each teacher handler is a small
// struct with a Handle(ctx, node, pctx) method registered into a Registry
// keyed by node type; the same shape is used here, keyed by
// ast.DirectiveKind instead of pipeline.NodeType.
package directive

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
	"github.com/mlld-lang/mlld/internal/pathrules"
	"github.com/mlld-lang/mlld/internal/value"
)

// RegisterAll installs every directive handler into internal/eval's
// registry. Call once from cmd/mlld's setup before evaluating any document.
func RegisterAll() {
	eval.RegisterDirective(ast.KindVar, handleVar)
	eval.RegisterDirective(ast.KindPath, handlePath)
	eval.RegisterDirective(ast.KindShow, handleShow)
	eval.RegisterDirective(ast.KindOutput, handleOutput)
	// ast.KindImport is registered by internal/importer.RegisterAll,
	// since import resolution needs the resolver registry and import-cycle
	// machinery that package owns.
	eval.RegisterDirective(ast.KindWhen, handleWhen)
	eval.RegisterDirective(ast.KindGuard, handleGuard)
	eval.RegisterDirective(ast.KindExe, handleExe)
	eval.RegisterDirective(ast.KindFor, handleFor)
	eval.RegisterDirective(ast.KindBail, handleBail)
	eval.RegisterDirective(ast.KindCheckpoint, handleCheckpoint)
	eval.RegisterDirective(ast.KindRun, handleRun)
}

// handleVar implements `/var @name = <value>`, grounded on
// pkg/pipeline/handlers/set.go's key/value-template-then-store shape.
func handleVar(ev eval.Evaluator, d *ast.Directive, e *env.Environment) (eval.EvalResult, error) {
	if missing := d.RequireSlots("value"); len(missing) > 0 {
		return eval.EvalResult{}, &mlerr.DirectiveError{
			Base:         mlerr.Base{Sev: mlerr.SeverityFatal, Loc: d.Location()},
			DirectiveKind: d.Kind, Subtype: d.Subtype,
			Message: fmt.Sprintf("/var: missing required slot(s): %v", missing),
		}
	}
	name, ok := d.Raw["name"]
	if !ok {
		return eval.EvalResult{}, fmt.Errorf("/var: missing raw identifier for 'name' slot")
	}
	valNode := d.Value("value")
	res, err := ev.Evaluate(valNode, e)
	if err != nil {
		return eval.EvalResult{}, fmt.Errorf("/var @%s: %w", name, err)
	}

	var v *value.Variable
	switch typed := res.Value.(type) {
	case map[string]any:
		v = value.NewObjectVariable(name, typed, value.VariableSource{Directive: ast.KindVar})
	case []any:
		v = value.NewArrayVariable(name, typed, value.VariableSource{Directive: ast.KindVar})
	case float64, bool:
		v = &value.Variable{Kind: value.KindPrimitive, Name: name, Value: typed, Source: value.VariableSource{Directive: ast.KindVar}}
	default:
		v = value.NewSimpleTextVariable(name, res.Text, value.VariableSource{Directive: ast.KindVar})
	}
	if err := e.Set(name, v); err != nil {
		return eval.EvalResult{}, err
	}
	return eval.EvalResult{}, nil
}

// handlePath implements `/path @name = "..."`, grounded on
// pkg/pipeline/handlers/read_file.go's path-from-attrs-then-resolve step,
// generalized through internal/pathrules instead of a single bare join.
func handlePath(ev eval.Evaluator, d *ast.Directive, e *env.Environment) (eval.EvalResult, error) {
	if missing := d.RequireSlots("path"); len(missing) > 0 {
		return eval.EvalResult{}, &mlerr.DirectiveError{
			Base:         mlerr.Base{Sev: mlerr.SeverityFatal, Loc: d.Location()},
			DirectiveKind: d.Kind, Subtype: d.Subtype,
			Message: fmt.Sprintf("/path: missing required slot(s): %v", missing),
		}
	}
	name := d.Raw["name"]
	rawPath, err := ev.Evaluate(d.Value("path"), e)
	if err != nil {
		return eval.EvalResult{}, err
	}
	normalized, err := pathrules.Normalize(rawPath.Text, pathrules.Roots{Project: e.BasePath(), Home: e.BasePath()})
	if err != nil {
		return eval.EvalResult{}, &mlerr.PathValidationError{
			Base: mlerr.Base{Sev: mlerr.SeverityFatal, Loc: d.Location(), Cause: err},
			Path: rawPath.Text, Reason: err.Error(),
		}
	}
	if err := pathrules.ValidateWithinRoot(normalized, e.BasePath()); err != nil {
		return eval.EvalResult{}, &mlerr.PathValidationError{
			Base: mlerr.Base{Sev: mlerr.SeverityFatal, Loc: d.Location(), Cause: err},
			Path: normalized, Reason: err.Error(),
		}
	}
	v := &value.Variable{
		Kind: value.KindPath, Name: name, Value: normalized,
		Source: value.VariableSource{Directive: ast.KindPath},
	}
	if err := e.Set(name, v); err != nil {
		return eval.EvalResult{}, err
	}
	return eval.EvalResult{Value: normalized, Text: normalized}, nil
}

// handleShow implements `/show <content>`, appending rendered text to the
// document output. Grounded on pkg/pipeline/handlers/write_file.go's
// render-then-write shape, targeting the in-memory accumulator instead of
// a file.
func handleShow(ev eval.Evaluator, d *ast.Directive, e *env.Environment) (eval.EvalResult, error) {
	node := d.Value("content")
	if node == nil {
		return eval.EvalResult{}, &mlerr.DirectiveError{
			Base: mlerr.Base{Sev: mlerr.SeverityFatal, Loc: d.Location()},
			DirectiveKind: d.Kind, Subtype: d.Subtype,
			Message: "/show: missing content",
		}
	}
	res, err := ev.Evaluate(node, e)
	if err != nil {
		return eval.EvalResult{}, err
	}
	e.Append(res.Text)
	e.Append("\n")
	return res, nil
}

// handleOutput implements `/output <content> to <target>`. Target routing
// (stdout/file/variable/env/stream) is dispatched on d.Subtype, mirroring
// write_file.go's single-destination write generalized to several routes.
// The env route is not supported and always returns an error.
func handleOutput(ev eval.Evaluator, d *ast.Directive, e *env.Environment) (eval.EvalResult, error) {
	contentNode := d.Value("content")
	res, err := ev.Evaluate(contentNode, e)
	if err != nil {
		return eval.EvalResult{}, err
	}

	switch d.Subtype {
	case "stdout", "":
		e.Append(res.Text)
		return res, nil
	case "file":
		targetNode := d.Value("target")
		target, err := ev.Evaluate(targetNode, e)
		if err != nil {
			return eval.EvalResult{}, err
		}
		if field, ok := d.Raw["field"]; ok && field != "" {
			existing, _ := e.FileSystem().Read(context.Background(), target.Text)
			merged, err := value.SetJSONField(string(existing), field, res.Value)
			if err != nil {
				return eval.EvalResult{}, fmt.Errorf("/output to file %q at field %q: %w", target.Text, field, err)
			}
			if err := e.FileSystem().Write(context.Background(), target.Text, []byte(merged), 0o644); err != nil {
				return eval.EvalResult{}, fmt.Errorf("/output to file %q: %w", target.Text, err)
			}
			return res, nil
		}
		if err := e.FileSystem().Write(context.Background(), target.Text, []byte(res.Text), 0o644); err != nil {
			return eval.EvalResult{}, fmt.Errorf("/output to file %q: %w", target.Text, err)
		}
		return res, nil
	case "variable":
		name := d.Raw["target"]
		v := value.NewSimpleTextVariable(name, res.Text, value.VariableSource{Directive: ast.KindOutput})
		if err := e.Set(name, v); err != nil {
			return eval.EvalResult{}, err
		}
		return res, nil
	case "env":
		return res, fmt.Errorf("/output to env: not supported in this runtime (no process mutation across directive boundaries)")
	case "stream":
		e.Append(res.Text)
		return res, nil
	default:
		return eval.EvalResult{}, fmt.Errorf("/output: unknown target kind %q", d.Subtype)
	}
}

// handleWhen evaluates the embedded ast.WhenExpression value slot.
func handleWhen(ev eval.Evaluator, d *ast.Directive, e *env.Environment) (eval.EvalResult, error) {
	node := d.Value("expression")
	if node == nil {
		return eval.EvalResult{}, fmt.Errorf("/when: missing expression")
	}
	return ev.Evaluate(node, e)
}

// handleGuard implements `/guard <condition>`, short-circuiting the
// enclosing document with a BailError when the guard condition is false.
func handleGuard(ev eval.Evaluator, d *ast.Directive, e *env.Environment) (eval.EvalResult, error) {
	node := d.Value("condition")
	res, err := ev.Evaluate(node, e)
	if err != nil {
		return eval.EvalResult{}, err
	}
	if !conditionTruthy(res.Value) {
		msg := "guard condition failed"
		if m, ok := d.Raw["message"]; ok {
			msg = m
		}
		return eval.EvalResult{}, &mlerr.BailError{
			Base:    mlerr.Base{Sev: mlerr.SeverityFatal, Loc: d.Location()},
			Message: msg,
		}
	}
	return eval.EvalResult{Value: true, Text: "true"}, nil
}

// handleExe implements `/exe @name(params) = <body>`: it does not run
// anything; it binds an executable Variable. Actual invocation happens
// through internal/exe's Invoker, registered against internal/eval.
func handleExe(ev eval.Evaluator, d *ast.Directive, e *env.Environment) (eval.EvalResult, error) {
	if missing := d.RequireSlots("body"); len(missing) > 0 {
		return eval.EvalResult{}, fmt.Errorf("/exe: missing required slot(s): %v", missing)
	}
	name := d.Raw["name"]
	v := value.NewExecutableVariable(name, d, value.VariableSource{Directive: ast.KindExe})
	if err := e.Set(name, v); err != nil {
		return eval.EvalResult{}, err
	}
	return eval.EvalResult{}, nil
}

// handleFor implements the /for directive form (as opposed to the
// for-expression form already handled inline by internal/eval), appending
// each iteration's rendered body to document output.
func handleFor(ev eval.Evaluator, d *ast.Directive, e *env.Environment) (eval.EvalResult, error) {
	node := d.Value("expression")
	if node == nil {
		return eval.EvalResult{}, fmt.Errorf("/for: missing expression")
	}
	res, err := ev.Evaluate(node, e)
	if err != nil {
		return eval.EvalResult{}, err
	}
	e.Append(res.Text)
	return res, nil
}

// handleBail implements `/bail "message"`, aborting evaluation immediately.
func handleBail(ev eval.Evaluator, d *ast.Directive, e *env.Environment) (eval.EvalResult, error) {
	msgNode := d.Value("message")
	msg := "bail"
	if msgNode != nil {
		res, err := ev.Evaluate(msgNode, e)
		if err != nil {
			return eval.EvalResult{}, err
		}
		msg = res.Text
	}
	return eval.EvalResult{}, &mlerr.BailError{
		Base:    mlerr.Base{Sev: mlerr.SeverityFatal, Loc: d.Location()},
		Message: msg,
	}
}

// handleCheckpoint implements `/checkpoint "name"`, a named resume point.
// Actual persistence is delegated to the environment's Checkpointer
// (internal/checkpoint), installed by cmd/mlld before document evaluation.
func handleCheckpoint(ev eval.Evaluator, d *ast.Directive, e *env.Environment) (eval.EvalResult, error) {
	name := d.Raw["name"]
	if name == "" {
		return eval.EvalResult{}, fmt.Errorf("/checkpoint: missing name")
	}
	if cp := e.Checkpointer(); cp != nil {
		key := cp.Key(name, nil)
		if err := cp.Store(key, e.Output()); err != nil {
			return eval.EvalResult{}, fmt.Errorf("/checkpoint %q: %w", name, err)
		}
	}
	return eval.EvalResult{}, nil
}

// handleRun implements `/run {command}`, a direct shell-command directive
// distinct from /exe's named-and-reusable form: the command text is
// rendered (interpolating any @var references) then run the same way
// internal/exe's "command" language runs an /exe body, grounded 1:1 on
// pkg/pipeline/handlers/exec.go's exec.CommandContext + stdout/stderr/exit
// capture. Duplicated rather than delegated to internal/exe's unexported
// runCommand to avoid a directive->exe dependency for one shared helper.
func handleRun(ev eval.Evaluator, d *ast.Directive, e *env.Environment) (eval.EvalResult, error) {
	node := d.Value("command")
	if node == nil {
		return eval.EvalResult{}, fmt.Errorf("/run: missing command")
	}
	res, err := ev.Evaluate(node, e)
	if err != nil {
		return eval.EvalResult{}, err
	}

	runCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", res.Text)
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
			Base:     mlerr.Base{Sev: mlerr.SeverityRecoverable, Loc: d.Location()},
			Command:  res.Text, ExitCode: exitCode, Stderr: stderr.String(),
		}
	}
	out := stdout.String()
	e.Append(out)
	return eval.EvalResult{Value: out, Text: out}, nil
}

func conditionTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	default:
		return true
	}
}
