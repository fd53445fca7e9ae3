package parser

import (
	"fmt"
	"strconv"

	"github.com/mlld-lang/mlld/internal/ast"
)

// exprParser walks a token slice with a precedence-climbing expression
// grammar (ternary > || > && > equality > relational > additive >
// multiplicative > unary > postfix > primary), the subset spec.md §3
// describes as needed for directive value slots and pipe/when conditions.
type exprParser struct {
	toks []token
	pos  int
	loc  *ast.SourceLocation
}

func newExprParser(src string, loc *ast.SourceLocation) *exprParser {
	return &exprParser{toks: lex(src), loc: loc}
}

func parseExprString(src string, loc *ast.SourceLocation) (ast.Node, error) {
	p := newExprParser(src, loc)
	if p.cur().kind == tokEOF {
		return nil, fmt.Errorf("parser: empty expression")
	}
	n, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (p *exprParser) cur() token {
	if p.pos >= len(p.toks) {
		return token{kind: tokEOF}
	}
	return p.toks[p.pos]
}

func (p *exprParser) peekOp(raw string) bool {
	t := p.cur()
	return t.kind == tokOp && t.raw == raw
}

func (p *exprParser) peekIdent(raw string) bool {
	t := p.cur()
	return t.kind == tokIdent && t.raw == raw
}

func (p *exprParser) advance() token {
	t := p.cur()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *exprParser) parseExpr() (ast.Node, error) {
	return p.parseTernary()
}

func (p *exprParser) parseTernary() (ast.Node, error) {
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peekOp("?") {
		p.advance()
		whenTrue, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if !p.peekOp(":") {
			return nil, fmt.Errorf("parser: expected ':' in ternary expression")
		}
		p.advance()
		whenFalse, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return ast.NewTernaryExpression(cond, whenTrue, whenFalse, p.loc), nil
	}
	return cond, nil
}

func (p *exprParser) parseOr() (ast.Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peekOp("||") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = ast.NewBinaryExpression(ast.OpOr, left, right, p.loc)
	}
	return left, nil
}

func (p *exprParser) parseAnd() (ast.Node, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.peekOp("&&") {
		p.advance()
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = ast.NewBinaryExpression(ast.OpAnd, left, right, p.loc)
	}
	return left, nil
}

func (p *exprParser) parseEquality() (ast.Node, error) {
	left, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for {
		var op ast.BinaryOperator
		switch {
		case p.peekOp("=="):
			op = ast.OpEq
		case p.peekOp("!="):
			op = ast.OpNeq
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		left = ast.NewBinaryExpression(op, left, right, p.loc)
	}
}

func (p *exprParser) parseRelational() (ast.Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		var op ast.BinaryOperator
		switch {
		case p.peekOp("<="):
			op = ast.OpLte
		case p.peekOp(">="):
			op = ast.OpGte
		case p.peekOp("<"):
			op = ast.OpLt
		case p.peekOp(">"):
			op = ast.OpGt
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = ast.NewBinaryExpression(op, left, right, p.loc)
	}
}

func (p *exprParser) parseAdditive() (ast.Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		var op ast.BinaryOperator
		switch {
		case p.peekOp("+"):
			op = ast.OpAdd
		case p.peekOp("-"):
			op = ast.OpSub
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = ast.NewBinaryExpression(op, left, right, p.loc)
	}
}

func (p *exprParser) parseMultiplicative() (ast.Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op ast.BinaryOperator
		switch {
		case p.peekOp("*"):
			op = ast.OpMul
		case p.peekOp("/"):
			op = ast.OpDiv
		case p.peekOp("%"):
			op = ast.OpMod
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = ast.NewBinaryExpression(op, left, right, p.loc)
	}
}

func (p *exprParser) parseUnary() (ast.Node, error) {
	if p.peekOp("!") {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return ast.NewUnaryExpression(ast.UnaryNot, operand, p.loc), nil
	}
	if p.peekOp("-") {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return ast.NewUnaryExpression(ast.UnaryNeg, operand, p.loc), nil
	}
	return p.parsePostfix()
}

func (p *exprParser) parsePostfix() (ast.Node, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	return node, nil
}

func (p *exprParser) parsePrimary() (ast.Node, error) {
	t := p.cur()
	switch t.kind {
	case tokNumber:
		p.advance()
		if n, err := strconv.ParseFloat(t.raw, 64); err == nil {
			return ast.NewLiteral(n, ast.ValueTypeNumber, p.loc), nil
		}
		return ast.NewLiteral(t.raw, ast.ValueTypeString, p.loc), nil
	case tokString:
		p.advance()
		if len(t.interp) > 0 {
			return interpPartsToNode(t.interp, p.loc)
		}
		return ast.NewLiteral(t.raw, ast.ValueTypeString, p.loc), nil
	case tokIdent:
		switch t.raw {
		case "true":
			p.advance()
			return ast.NewLiteral(true, ast.ValueTypeBool, p.loc), nil
		case "false":
			p.advance()
			return ast.NewLiteral(false, ast.ValueTypeBool, p.loc), nil
		case "null":
			p.advance()
			return ast.NewLiteral(nil, ast.ValueTypeNull, p.loc), nil
		}
		return nil, fmt.Errorf("parser: unexpected identifier %q (bare identifiers must be @-prefixed)", t.raw)
	case tokAtIdent:
		return p.parseVariableOrCall()
	case tokOp:
		if t.raw == "(" {
			p.advance()
			inner, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if !p.peekOp(")") {
				return nil, fmt.Errorf("parser: expected ')'")
			}
			p.advance()
			return inner, nil
		}
	}
	return nil, fmt.Errorf("parser: unexpected token %q", t.raw)
}

// parseVariableOrCall parses `@name`, `@name.field[0]`, `@name(args)`, and
// trailing `| @pipe(args)` condensed-pipe chains, producing either an
// *ast.VariableReference or, when called with arguments, an
// *ast.ExecInvocation.
func (p *exprParser) parseVariableOrCall() (ast.Node, error) {
	name := p.advance().raw

	if p.peekOp("(") {
		args, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		fields, err := p.parseFieldChain()
		if err != nil {
			return nil, err
		}
		ref := ast.CommandRef{Identifier: name, Args: args, Fields: fields}
		return ast.NewExecInvocation(ref, nil, p.loc), nil
	}

	fields, err := p.parseFieldChain()
	if err != nil {
		return nil, err
	}
	ref := ast.NewVariableReference(name, p.loc)
	ref.Fields = fields

	for p.peekOp("|") {
		p.advance()
		if p.cur().kind != tokAtIdent {
			return nil, fmt.Errorf("parser: expected pipe function name after '|'")
		}
		pipeName := p.advance().raw
		var pipeArgs []ast.Node
		if p.peekOp("(") {
			pipeArgs, err = p.parseArgs()
			if err != nil {
				return nil, err
			}
		}
		ref.Pipes = append(ref.Pipes, ast.CondensedPipe{Name: pipeName, Args: pipeArgs})
	}
	return ref, nil
}

func (p *exprParser) parseFieldChain() ([]ast.FieldAccess, error) {
	var fields []ast.FieldAccess
	for {
		if p.peekOp(".") {
			p.advance()
			if p.cur().kind != tokIdent {
				return nil, fmt.Errorf("parser: expected field name after '.'")
			}
			fields = append(fields, ast.FieldAccess{Kind: ast.FieldKindNamed, Value: p.advance().raw})
			continue
		}
		if p.peekOp("[") {
			p.advance()
			t := p.cur()
			switch t.kind {
			case tokNumber:
				p.advance()
				n, _ := strconv.Atoi(t.raw)
				fields = append(fields, ast.FieldAccess{Kind: ast.FieldKindIndex, Value: n})
			case tokString:
				p.advance()
				fields = append(fields, ast.FieldAccess{Kind: ast.FieldKindString, Value: t.raw})
			default:
				return nil, fmt.Errorf("parser: expected index or string inside '[...]'")
			}
			if !p.peekOp("]") {
				return nil, fmt.Errorf("parser: expected ']'")
			}
			p.advance()
			continue
		}
		return fields, nil
	}
}

func (p *exprParser) parseArgs() ([]ast.Node, error) {
	if !p.peekOp("(") {
		return nil, fmt.Errorf("parser: expected '('")
	}
	p.advance()
	var args []ast.Node
	if p.peekOp(")") {
		p.advance()
		return args, nil
	}
	for {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.peekOp(",") {
			p.advance()
			continue
		}
		if !p.peekOp(")") {
			return nil, fmt.Errorf("parser: expected ',' or ')' in argument list")
		}
		p.advance()
		return args, nil
	}
}

// interpPartsToNode turns a lexed interpolation decomposition into a
// Sequence of Text/VariableReference nodes, or a bare Literal when there
// was no interpolation at all.
func interpPartsToNode(parts []interpPart, loc *ast.SourceLocation) (ast.Node, error) {
	if len(parts) == 1 && !parts[0].isVar {
		return ast.NewLiteral(parts[0].text, ast.ValueTypeString, loc), nil
	}
	nodes := make([]ast.Node, 0, len(parts))
	for _, part := range parts {
		if !part.isVar {
			nodes = append(nodes, ast.NewText(part.text, loc))
			continue
		}
		ref, err := refTextToNode(part.ref, loc)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, ref)
	}
	return ast.NewSequence(nodes, loc), nil
}

// refTextToNode parses a bare "name.field[0]" reference captured during
// string interpolation (no pipes — out of scope inside interpolated text).
func refTextToNode(ref string, loc *ast.SourceLocation) (ast.Node, error) {
	p := newExprParser("@"+ref, loc)
	return p.parseVariableOrCall()
}
