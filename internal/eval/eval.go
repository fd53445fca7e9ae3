// Package eval implements the universal node evaluator of spec.md §5
// (Evaluator Dispatch): one entry point that type-switches over the sealed
// AST (literals, expressions, references) and falls through to a registry
// for the open set of directive kinds — resolving the spec's implicit open
// question of "switch vs. registry" by using both, each where it fits.
// Grounded on pkg/pipeline/engine.go's run loop, which dispatches node
// execution through a HandlerRegistry (itself grounded on
// pkg/llm/client.go's provider registry); directive handlers register here
// the same way, avoiding an eval<->directive import cycle.
package eval

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mlld-lang/mlld/internal/ast"
	"github.com/mlld-lang/mlld/internal/condition"
	"github.com/mlld-lang/mlld/internal/env"
	"github.com/mlld-lang/mlld/internal/value"
)

// EvalResult is the universal return shape of Evaluate: a raw value plus,
// when the node produced document text, the rendered string.
type EvalResult struct {
	Value      any
	Structured *value.StructuredValue
	Text       string
}

// Evaluator is the interface directive/exe/pipeline handlers recurse
// through, rather than depending on the concrete Engine type.
type Evaluator interface {
	Evaluate(node ast.Node, e *env.Environment) (EvalResult, error)
	EvalSequence(nodes []ast.Node, e *env.Environment) (string, error)
}

// DirectiveHandler evaluates one ast.Directive kind.
type DirectiveHandler func(ev Evaluator, d *ast.Directive, e *env.Environment) (EvalResult, error)

// Invoker evaluates an ast.ExecInvocation (an /exe call or condensed pipe
// step). Registered by internal/exe to avoid an eval<->exe import cycle.
type Invoker func(ev Evaluator, call *ast.ExecInvocation, e *env.Environment) (EvalResult, error)

var (
	directiveRegistry = map[ast.DirectiveKind]DirectiveHandler{}
	invoker           Invoker
)

// RegisterDirective installs the handler for kind. Call from an init() in
// internal/directive, mirroring llm.RegisterProvider.
func RegisterDirective(kind ast.DirectiveKind, h DirectiveHandler) {
	directiveRegistry[kind] = h
}

// RegisterInvoker installs the single /exe invocation handler. Call from
// internal/exe's init().
func RegisterInvoker(i Invoker) { invoker = i }

// UndefinedVariableError is returned when a VariableReference can't resolve.
type UndefinedVariableError struct{ Name string }

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("undefined variable: @%s", e.Name)
}

// UnhandledDirectiveError is returned when no handler is registered for a
// directive kind — a wiring bug, not a user error.
type UnhandledDirectiveError struct{ Kind ast.DirectiveKind }

func (e *UnhandledDirectiveError) Error() string {
	return fmt.Sprintf("no directive handler registered for kind %q", e.Kind)
}

// Engine is the concrete Evaluator. It is stateless across calls except for
// the shared expression evaluator cache.
type Engine struct {
	Cond *condition.Evaluator
}

// NewEngine creates an Engine with a fresh condition evaluator.
func NewEngine() *Engine {
	return &Engine{Cond: condition.NewEvaluator()}
}

// Evaluate dispatches node per its concrete type. Sealed literal/expression
// kinds are handled directly; ast.Directive falls through to the registry.
func (en *Engine) Evaluate(node ast.Node, e *env.Environment) (EvalResult, error) {
	switch n := node.(type) {
	case *ast.Text:
		return EvalResult{Value: n.Content, Text: n.Content}, nil
	case *ast.Newline:
		return EvalResult{Value: "\n", Text: "\n"}, nil
	case *ast.Literal:
		return EvalResult{Value: n.Value, Text: fmt.Sprintf("%v", n.Value)}, nil
	case *ast.Comment:
		return EvalResult{}, nil
	case *ast.Sequence:
		text, err := en.EvalSequence(n.Nodes, e)
		if err != nil {
			return EvalResult{}, err
		}
		return EvalResult{Value: text, Text: text}, nil
	case *ast.VariableReference:
		return en.evalVariableReference(n, e)
	case *ast.BinaryExpression:
		return en.evalBinary(n, e)
	case *ast.TernaryExpression:
		return en.evalTernary(n, e)
	case *ast.UnaryExpression:
		return en.evalUnary(n, e)
	case *ast.NegationNode:
		return en.evalNegation(n, e)
	case *ast.WhenExpression:
		return en.evalWhen(n, e)
	case *ast.ForExpression:
		return en.evalFor(n, e)
	case *ast.ExecInvocation:
		if invoker == nil {
			return EvalResult{}, fmt.Errorf("exec invocation %q: no invoker registered", n.CommandRef.Identifier)
		}
		return invoker(en, n, e)
	case *ast.Directive:
		handler, ok := directiveRegistry[n.Kind]
		if !ok {
			return EvalResult{}, &UnhandledDirectiveError{Kind: n.Kind}
		}
		slog.Debug("evaluating directive", "kind", n.Kind, "subtype", n.Subtype)
		return handler(en, n, e)
	default:
		return EvalResult{}, fmt.Errorf("eval: unhandled node type %T", node)
	}
}

// EvalSequence evaluates nodes in order, concatenating their rendered text.
// Used for directive value slots that hold an interpolated-text node list.
func (en *Engine) EvalSequence(nodes []ast.Node, e *env.Environment) (string, error) {
	var out string
	for _, n := range nodes {
		res, err := en.Evaluate(n, e)
		if err != nil {
			return "", err
		}
		out += res.Text
	}
	return out, nil
}

func (en *Engine) evalVariableReference(n *ast.VariableReference, e *env.Environment) (EvalResult, error) {
	v, ok := e.Resolve(n.Identifier)
	if !ok {
		return EvalResult{}, &UndefinedVariableError{Name: n.Identifier}
	}
	var cur any = v.Value
	var sv *value.StructuredValue
	if asSV, ok := v.Value.(*value.StructuredValue); ok {
		sv = asSV
	}

	for _, f := range n.Fields {
		out, err := value.AccessField(cur, f, value.AccessOptions{})
		if err != nil {
			return EvalResult{}, err
		}
		cur = out
		if asSV, ok := cur.(*value.StructuredValue); ok {
			sv = asSV
		} else {
			sv = nil
		}
	}

	for _, p := range n.Pipes {
		resolved, ok := e.Resolve(p.Name)
		if !ok {
			return EvalResult{}, &UndefinedVariableError{Name: p.Name}
		}
		if resolved.Kind != value.KindExecutable {
			return EvalResult{}, fmt.Errorf("pipe %q is not an executable variable", p.Name)
		}
		if invoker == nil {
			return EvalResult{}, fmt.Errorf("pipe %q: no invoker registered", p.Name)
		}
		call := ast.NewExecInvocation(ast.CommandRef{Identifier: p.Name, Args: p.Args}, nil, nil)
		res, err := invoker(en, call, e)
		if err != nil {
			return EvalResult{}, err
		}
		cur = res.Value
		sv = res.Structured
	}

	text := fmt.Sprintf("%v", cur)
	if sv != nil {
		text = value.AsText(sv)
	}
	return EvalResult{Value: cur, Structured: sv, Text: text}, nil
}

func (en *Engine) evalBinary(n *ast.BinaryExpression, e *env.Environment) (EvalResult, error) {
	left, err := en.Evaluate(n.Left, e)
	if err != nil {
		return EvalResult{}, err
	}
	right, err := en.Evaluate(n.Right, e)
	if err != nil {
		return EvalResult{}, err
	}
	result, err := applyBinary(n.Operator, left.Value, right.Value)
	if err != nil {
		return EvalResult{}, err
	}
	return EvalResult{Value: result, Text: fmt.Sprintf("%v", result)}, nil
}

func (en *Engine) evalUnary(n *ast.UnaryExpression, e *env.Environment) (EvalResult, error) {
	operand, err := en.Evaluate(n.Operand, e)
	if err != nil {
		return EvalResult{}, err
	}
	switch n.Operator {
	case ast.UnaryNot:
		result := !condition.Truthy(operand.Value)
		return EvalResult{Value: result, Text: fmt.Sprintf("%v", result)}, nil
	case ast.UnaryNeg:
		f, ok := toFloat(operand.Value)
		if !ok {
			return EvalResult{}, fmt.Errorf("unary -: operand is not numeric: %v", operand.Value)
		}
		result := -f
		return EvalResult{Value: result, Text: fmt.Sprintf("%v", result)}, nil
	default:
		return EvalResult{}, fmt.Errorf("unknown unary operator %q", n.Operator)
	}
}

func (en *Engine) evalNegation(n *ast.NegationNode, e *env.Environment) (EvalResult, error) {
	cond, err := en.Evaluate(n.Condition, e)
	if err != nil {
		return EvalResult{}, err
	}
	result := !condition.Truthy(cond.Value)
	return EvalResult{Value: result, Text: fmt.Sprintf("%v", result)}, nil
}

func (en *Engine) evalTernary(n *ast.TernaryExpression, e *env.Environment) (EvalResult, error) {
	cond, err := en.Evaluate(n.Condition, e)
	if err != nil {
		return EvalResult{}, err
	}
	if condition.Truthy(cond.Value) {
		return en.Evaluate(n.WhenTrue, e)
	}
	return en.Evaluate(n.WhenFalse, e)
}

// evalWhen implements spec.md's /when modes: "first" runs the first
// matching case's action and stops; "any" runs every matching case's
// action; "all" requires every case to match before running the last
// case's action (resolved Open Question, SPEC_FULL §10.2).
func (en *Engine) evalWhen(n *ast.WhenExpression, e *env.Environment) (EvalResult, error) {
	switch n.Mode {
	case ast.WhenModeFirst:
		for _, c := range n.Cases {
			matched := c.Condition == nil
			if !matched {
				cond, err := en.Evaluate(c.Condition, e)
				if err != nil {
					return EvalResult{}, err
				}
				matched = condition.Truthy(cond.Value)
			}
			if matched {
				return en.Evaluate(c.Action, e)
			}
		}
		return EvalResult{}, nil
	case ast.WhenModeAny:
		var last EvalResult
		ran := false
		for _, c := range n.Cases {
			matched := c.Condition == nil
			if !matched {
				cond, err := en.Evaluate(c.Condition, e)
				if err != nil {
					return EvalResult{}, err
				}
				matched = condition.Truthy(cond.Value)
			}
			if matched {
				res, err := en.Evaluate(c.Action, e)
				if err != nil {
					return EvalResult{}, err
				}
				last = res
				ran = true
			}
		}
		if !ran {
			return EvalResult{}, nil
		}
		return last, nil
	case ast.WhenModeAll:
		for _, c := range n.Cases {
			if c.Condition == nil {
				continue
			}
			cond, err := en.Evaluate(c.Condition, e)
			if err != nil {
				return EvalResult{}, err
			}
			if !condition.Truthy(cond.Value) {
				return EvalResult{Value: false, Text: "false"}, nil
			}
		}
		if len(n.Cases) == 0 {
			return EvalResult{}, nil
		}
		return en.Evaluate(n.Cases[len(n.Cases)-1].Action, e)
	default:
		return EvalResult{}, fmt.Errorf("unknown when mode %q", n.Mode)
	}
}

// evalFor implements spec.md's `for [parallel(N)] @x in @xs => body`,
// generalizing pkg/pipeline/engine.go's executeFanOut (WaitGroup +
// indexed result slice, ordered by index rather than completion time —
// resolved Open Question, SPEC_FULL §10.3) to an arbitrary body expression
// instead of a fixed fan-out node type.
func (en *Engine) evalFor(n *ast.ForExpression, e *env.Environment) (EvalResult, error) {
	coll, err := en.Evaluate(n.Collection, e)
	if err != nil {
		return EvalResult{}, err
	}
	items, ok := coll.Value.([]any)
	if !ok {
		return EvalResult{}, fmt.Errorf("for: collection is not an array (got %T)", coll.Value)
	}

	results := make([]EvalResult, len(items))

	if !n.Parallel {
		for i, item := range items {
			child := e.Child()
			child.Mx().SetForIndex(i)
			child.SetParameter(n.Variable, loopItemVariable(n.Variable, item))
			res, err := en.Evaluate(n.Body, child)
			if err != nil {
				return EvalResult{}, fmt.Errorf("for iteration %d: %w", i, err)
			}
			results[i] = res
		}
	} else {
		concurrency := n.Concurrency
		if concurrency <= 0 {
			concurrency = len(items)
		}
		sem := make(chan struct{}, concurrency)
		errs := make([]error, len(items))
		var wg sync.WaitGroup
		for i, item := range items {
			i, item := i, item
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				child := e.Child()
				child.Mx().SetForIndex(i)
				child.SetParameter(n.Variable, loopItemVariable(n.Variable, item))
				res, err := en.Evaluate(n.Body, child)
				if err != nil {
					errs[i] = err
					return
				}
				results[i] = res
			}()
		}
		wg.Wait()
		for i, err := range errs {
			if err != nil {
				e.Mx().AppendError(i, err.Error())
			}
		}
	}

	texts := make([]string, len(results))
	values := make([]any, len(results))
	for i, r := range results {
		texts[i] = r.Text
		values[i] = r.Value
	}
	return EvalResult{Value: values, Text: strings.Join(texts, "")}, nil
}

func applyBinary(op ast.BinaryOperator, l, r any) (any, error) {
	switch op {
	case ast.OpAnd:
		return condition.Truthy(l) && condition.Truthy(r), nil
	case ast.OpOr:
		return condition.Truthy(l) || condition.Truthy(r), nil
	case ast.OpEq:
		return fmt.Sprintf("%v", l) == fmt.Sprintf("%v", r), nil
	case ast.OpNeq:
		return fmt.Sprintf("%v", l) != fmt.Sprintf("%v", r), nil
	}
	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	if !lok || !rok {
		if op == ast.OpAdd {
			return fmt.Sprintf("%v", l) + fmt.Sprintf("%v", r), nil
		}
		return nil, fmt.Errorf("operator %q requires numeric operands, got %T and %T", op, l, r)
	}
	switch op {
	case ast.OpLt:
		return lf < rf, nil
	case ast.OpLte:
		return lf <= rf, nil
	case ast.OpGt:
		return lf > rf, nil
	case ast.OpGte:
		return lf >= rf, nil
	case ast.OpAdd:
		return lf + rf, nil
	case ast.OpSub:
		return lf - rf, nil
	case ast.OpMul:
		return lf * rf, nil
	case ast.OpDiv:
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	case ast.OpMod:
		if rf == 0 {
			return nil, fmt.Errorf("modulo by zero")
		}
		li, ri := int64(lf), int64(rf)
		return float64(li % ri), nil
	default:
		return nil, fmt.Errorf("unknown binary operator %q", op)
	}
}

// loopItemVariable wraps a collection element for binding as a /for loop
// variable, picking the narrowest Kind the value shape supports.
func loopItemVariable(name string, item any) *value.Variable {
	switch t := item.(type) {
	case string:
		return value.NewSimpleTextVariable(name, t, value.VariableSource{})
	case map[string]any:
		return value.NewObjectVariable(name, t, value.VariableSource{})
	case []any:
		return value.NewArrayVariable(name, t, value.VariableSource{})
	default:
		return &value.Variable{Kind: value.KindPrimitive, Name: name, Value: item}
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
