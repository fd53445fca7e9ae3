package eval_test

import (
	"testing"

	"github.com/mlld-lang/mlld/internal/ast"
	"github.com/mlld-lang/mlld/internal/env"
	"github.com/mlld-lang/mlld/internal/eval"
	"github.com/mlld-lang/mlld/internal/value"
)

func newTestEnv() *env.Environment {
	return env.New(env.NewFS(), env.NewResolverRegistry(), "/base")
}

func lit(v any, vt ast.ValueType) *ast.Literal { return ast.NewLiteral(v, vt, nil) }

func TestEvaluateLiteralsAndText(t *testing.T) {
	en := eval.NewEngine()
	e := newTestEnv()

	res, err := en.Evaluate(ast.NewText("hi", nil), e)
	if err != nil || res.Text != "hi" {
		t.Fatalf("Evaluate(Text) = %v, %v", res, err)
	}

	res, err = en.Evaluate(lit(float64(3), ast.ValueTypeNumber), e)
	if err != nil || res.Value != float64(3) {
		t.Fatalf("Evaluate(Literal) = %v, %v", res, err)
	}
}

func TestEvaluateUndefinedVariable(t *testing.T) {
	en := eval.NewEngine()
	e := newTestEnv()

	_, err := en.Evaluate(ast.NewVariableReference("missing", nil), e)
	if err == nil {
		t.Fatal("expected UndefinedVariableError")
	}
	if _, ok := err.(*eval.UndefinedVariableError); !ok {
		t.Fatalf("error type = %T", err)
	}
}

func TestEvaluateBinaryArithmeticAndComparison(t *testing.T) {
	en := eval.NewEngine()
	e := newTestEnv()

	expr := ast.NewBinaryExpression(ast.OpAdd, lit(float64(1), ast.ValueTypeNumber), lit(float64(2), ast.ValueTypeNumber), nil)
	res, err := en.Evaluate(expr, e)
	if err != nil || res.Value != float64(3) {
		t.Fatalf("1 + 2 = %v, %v", res, err)
	}

	cmp := ast.NewBinaryExpression(ast.OpGt, lit(float64(5), ast.ValueTypeNumber), lit(float64(2), ast.ValueTypeNumber), nil)
	res, err = en.Evaluate(cmp, e)
	if err != nil || res.Value != true {
		t.Fatalf("5 > 2 = %v, %v", res, err)
	}
}

func TestEvaluateBinaryDivisionByZero(t *testing.T) {
	en := eval.NewEngine()
	e := newTestEnv()
	expr := ast.NewBinaryExpression(ast.OpDiv, lit(float64(1), ast.ValueTypeNumber), lit(float64(0), ast.ValueTypeNumber), nil)
	if _, err := en.Evaluate(expr, e); err == nil {
		t.Fatal("expected division-by-zero error")
	}
}

func TestEvaluateUnaryNot(t *testing.T) {
	en := eval.NewEngine()
	e := newTestEnv()
	expr := ast.NewUnaryExpression(ast.UnaryNot, lit(false, ast.ValueTypeBool), nil)
	res, err := en.Evaluate(expr, e)
	if err != nil || res.Value != true {
		t.Fatalf("!false = %v, %v", res, err)
	}
}

func TestEvaluateTernary(t *testing.T) {
	en := eval.NewEngine()
	e := newTestEnv()
	expr := ast.NewTernaryExpression(lit(true, ast.ValueTypeBool), lit("yes", ast.ValueTypeString), lit("no", ast.ValueTypeString), nil)
	res, err := en.Evaluate(expr, e)
	if err != nil || res.Value != "yes" {
		t.Fatalf("ternary(true) = %v, %v", res, err)
	}
}

func TestEvaluateWhenFirstStopsAtFirstMatch(t *testing.T) {
	en := eval.NewEngine()
	e := newTestEnv()
	cases := []ast.WhenCase{
		{Condition: lit(false, ast.ValueTypeBool), Action: lit("a", ast.ValueTypeString)},
		{Condition: lit(true, ast.ValueTypeBool), Action: lit("b", ast.ValueTypeString)},
		{Condition: lit(true, ast.ValueTypeBool), Action: lit("c", ast.ValueTypeString)},
	}
	res, err := en.Evaluate(ast.NewWhenExpression(ast.WhenModeFirst, cases, nil), e)
	if err != nil || res.Value != "b" {
		t.Fatalf("when-first = %v, %v, want %q", res, err, "b")
	}
}

func TestEvaluateWhenAnyRunsAllMatches(t *testing.T) {
	en := eval.NewEngine()
	e := newTestEnv()
	cases := []ast.WhenCase{
		{Condition: lit(true, ast.ValueTypeBool), Action: lit("a", ast.ValueTypeString)},
		{Condition: lit(false, ast.ValueTypeBool), Action: lit("b", ast.ValueTypeString)},
		{Condition: lit(true, ast.ValueTypeBool), Action: lit("c", ast.ValueTypeString)},
	}
	res, err := en.Evaluate(ast.NewWhenExpression(ast.WhenModeAny, cases, nil), e)
	if err != nil || res.Value != "c" {
		t.Fatalf("when-any final result = %v, %v, want last-matched action %q", res, err, "c")
	}
}

func TestEvaluateWhenAllRequiresEveryCase(t *testing.T) {
	en := eval.NewEngine()
	e := newTestEnv()

	allTrue := []ast.WhenCase{
		{Condition: lit(true, ast.ValueTypeBool), Action: nil},
		{Condition: lit(true, ast.ValueTypeBool), Action: lit("done", ast.ValueTypeString)},
	}
	res, err := en.Evaluate(ast.NewWhenExpression(ast.WhenModeAll, allTrue, nil), e)
	if err != nil || res.Value != "done" {
		t.Fatalf("when-all(all true) = %v, %v", res, err)
	}

	oneFalse := []ast.WhenCase{
		{Condition: lit(true, ast.ValueTypeBool), Action: nil},
		{Condition: lit(false, ast.ValueTypeBool), Action: lit("done", ast.ValueTypeString)},
	}
	res, err = en.Evaluate(ast.NewWhenExpression(ast.WhenModeAll, oneFalse, nil), e)
	if err != nil || res.Value != false {
		t.Fatalf("when-all(one false) = %v, %v, want false short-circuit", res, err)
	}
}

func TestEvaluateForSequentialPreservesOrder(t *testing.T) {
	en := eval.NewEngine()
	e := newTestEnv()

	items := ast.NewVariableReference("items", nil)
	_ = e.Set("items", value.NewArrayVariable("items", []any{"one", "two", "three"}, value.VariableSource{}))

	body := ast.NewVariableReference("n", nil)
	forExpr := ast.NewForExpression("n", items, body, nil)

	res, err := en.Evaluate(forExpr, e)
	if err != nil {
		t.Fatalf("Evaluate(for) error = %v", err)
	}
	values, ok := res.Value.([]any)
	if !ok || len(values) != 3 {
		t.Fatalf("for result = %#v", res.Value)
	}
	for i, want := range []string{"one", "two", "three"} {
		if values[i] != want {
			t.Fatalf("for result[%d] = %v, want %v (order must match input order)", i, values[i], want)
		}
	}
}

func TestEvaluateForParallelPreservesIndexOrder(t *testing.T) {
	en := eval.NewEngine()
	e := newTestEnv()

	_ = e.Set("items", value.NewArrayVariable("items", []any{"one", "two", "three"}, value.VariableSource{}))
	body := ast.NewVariableReference("n", nil)
	forExpr := ast.NewForExpression("n", ast.NewVariableReference("items", nil), body, nil)
	forExpr.Parallel = true

	res, err := en.Evaluate(forExpr, e)
	if err != nil {
		t.Fatalf("Evaluate(parallel for) error = %v", err)
	}
	values, ok := res.Value.([]any)
	if !ok || len(values) != 3 {
		t.Fatalf("for result = %#v", res.Value)
	}
	for i, want := range []string{"one", "two", "three"} {
		if values[i] != want {
			t.Fatalf("parallel for result[%d] = %v, want %v (index order, not completion order)", i, values[i], want)
		}
	}
}
