// Package condition evaluates the boolean/ternary/when expressions of
// spec.md's /when directive and when-expression AST nodes. The primary
// evaluator wraps github.com/expr-lang/expr for full expression semantics
// (comparisons, boolean logic, field access via dot/index), generalizing
// pkg/pipeline/conditions.go's hand-rolled recursive-descent condition
// parser — which is kept alongside as legacy.go for the narrower
// flat-key routing spec.md's pipeline retry-hint matching still needs.
package condition

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator compiles and caches expr programs by source text, mirroring
// pkg/llm/client.go's registry-of-constructed-things shape applied to
// compiled expressions instead of provider clients.
type Evaluator struct {
	cache map[string]*vm.Program
}

// NewEvaluator creates an empty evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

// EvalError wraps a compile or run failure with the offending source.
type EvalError struct {
	Expr string
	Err  error
}

func (e *EvalError) Error() string { return fmt.Sprintf("condition %q: %v", e.Expr, e.Err) }
func (e *EvalError) Unwrap() error { return e.Err }

func (c *Evaluator) compile(source string, env map[string]any) (*vm.Program, error) {
	if prog, ok := c.cache[source]; ok {
		return prog, nil
	}
	prog, err := expr.Compile(source, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	c.cache[source] = prog
	return prog, nil
}

// Eval runs source against env and returns its raw result (for ternary
// when-expressions whose "action" side is itself an expression).
func (c *Evaluator) Eval(source string, env map[string]any) (any, error) {
	prog, err := c.compile(source, env)
	if err != nil {
		return nil, &EvalError{Expr: source, Err: err}
	}
	out, err := expr.Run(prog, env)
	if err != nil {
		return nil, &EvalError{Expr: source, Err: err}
	}
	return out, nil
}

// Bool runs source and coerces the result to bool per spec.md truthiness:
// false/nil/""/0/empty-collection are falsy, everything else truthy.
func (c *Evaluator) Bool(source string, env map[string]any) (bool, error) {
	out, err := c.Eval(source, env)
	if err != nil {
		return false, err
	}
	return Truthy(out), nil
}

// Truthy implements spec.md's truthiness rule for when-conditions and
// guard expressions.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
