package parser

import (
	"fmt"
	"strings"

	"github.com/mlld-lang/mlld/internal/ast"
)

func parseDirectiveStatement(kind ast.DirectiveKind, stmt string, filePath string, line int) (*ast.Directive, error) {
	l := loc(filePath, line)
	switch kind {
	case ast.KindVar:
		return parseVar(stmt, l)
	case ast.KindPath:
		return parsePath(stmt, l)
	case ast.KindShow:
		return parseShow(stmt, l)
	case ast.KindOutput:
		return parseOutput(stmt, l)
	case ast.KindImport:
		return parseImport(stmt, l)
	case ast.KindWhen:
		return parseWhen(stmt, l)
	case ast.KindFor:
		return parseFor(stmt, l)
	case ast.KindExe:
		return parseExe(stmt, l)
	case ast.KindGuard:
		return parseGuard(stmt, l)
	case ast.KindBail:
		return parseBail(stmt, l)
	case ast.KindCheckpoint:
		return parseCheckpoint(stmt, l)
	case ast.KindRun:
		return parseRun(stmt, l)
	default:
		return nil, fmt.Errorf("unhandled directive kind %q", kind)
	}
}

func parseVar(stmt string, l *ast.SourceLocation) (*ast.Directive, error) {
	p := newExprParser(stmt, l)
	if p.cur().kind != tokAtIdent {
		return nil, fmt.Errorf("/var: expected @name")
	}
	name := p.advance().raw
	if !p.peekOp("=") {
		return nil, fmt.Errorf("/var: expected '=' after @%s", name)
	}
	p.advance()
	valNode, err := p.parseExpr()
	if err != nil {
		return nil, fmt.Errorf("/var: %w", err)
	}
	d := ast.NewDirective(ast.KindVar, "", l)
	d.Raw["name"] = name
	d.Values["value"] = []ast.Node{valNode}
	return d, nil
}

func parsePath(stmt string, l *ast.SourceLocation) (*ast.Directive, error) {
	p := newExprParser(stmt, l)
	if p.cur().kind != tokAtIdent {
		return nil, fmt.Errorf("/path: expected @name")
	}
	name := p.advance().raw
	if !p.peekOp("=") {
		return nil, fmt.Errorf("/path: expected '=' after @%s", name)
	}
	p.advance()
	pathNode, err := p.parseExpr()
	if err != nil {
		return nil, fmt.Errorf("/path: %w", err)
	}
	d := ast.NewDirective(ast.KindPath, "", l)
	d.Raw["name"] = name
	d.Values["path"] = []ast.Node{pathNode}
	return d, nil
}

func parseShow(stmt string, l *ast.SourceLocation) (*ast.Directive, error) {
	node, err := parseBodyExpr(stmt, l)
	if err != nil {
		return nil, fmt.Errorf("/show: %w", err)
	}
	d := ast.NewDirective(ast.KindShow, "", l)
	d.Values["content"] = []ast.Node{node}
	return d, nil
}

func parseOutput(stmt string, l *ast.SourceLocation) (*ast.Directive, error) {
	idx := topLevelIndex(stmt, " to ")
	if idx < 0 {
		return nil, fmt.Errorf("/output: expected 'to' clause")
	}
	contentText := stmt[:idx]
	targetText := strings.TrimSpace(stmt[idx+len(" to "):])

	contentNode, err := parseBodyExpr(contentText, l)
	if err != nil {
		return nil, fmt.Errorf("/output: %w", err)
	}
	d := ast.NewDirective(ast.KindOutput, "", l)
	d.Values["content"] = []ast.Node{contentNode}

	p := newExprParser(targetText, l)
	if p.cur().kind != tokIdent {
		return nil, fmt.Errorf("/output: expected target kind after 'to'")
	}
	kw := p.advance().raw
	switch kw {
	case "stdout":
		d.Subtype = "stdout"
	case "env":
		d.Subtype = "env"
	case "stream":
		d.Subtype = "stream"
	case "variable":
		if p.cur().kind != tokAtIdent {
			return nil, fmt.Errorf("/output: expected @name after 'to variable'")
		}
		d.Subtype = "variable"
		d.Raw["target"] = p.advance().raw
	case "file":
		targetNode, err := p.parseExpr()
		if err != nil {
			return nil, fmt.Errorf("/output: %w", err)
		}
		d.Subtype = "file"
		d.Values["target"] = []ast.Node{targetNode}
		if p.peekIdent("field") {
			p.advance()
			if p.cur().kind != tokString {
				return nil, fmt.Errorf("/output: expected string after 'field'")
			}
			d.Raw["field"] = p.advance().raw
		}
	default:
		return nil, fmt.Errorf("/output: unknown target kind %q", kw)
	}
	return d, nil
}

func parseImport(stmt string, l *ast.SourceLocation) (*ast.Directive, error) {
	idx := topLevelIndex(stmt, " from ")
	if idx < 0 {
		return nil, fmt.Errorf("/import: expected 'from' clause")
	}
	selector := strings.TrimSpace(stmt[:idx])
	pathText := strings.TrimSpace(stmt[idx+len(" from "):])

	pathNode, err := parseBodyExpr(pathText, l)
	if err != nil {
		return nil, fmt.Errorf("/import: %w", err)
	}
	d := ast.NewDirective(ast.KindImport, "", l)
	d.Values["path"] = []ast.Node{pathNode}

	switch {
	case strings.HasPrefix(selector, "{"):
		inner := strings.TrimSuffix(strings.TrimPrefix(selector, "{"), "}")
		var names []string
		for _, part := range splitTopLevel(inner, ',') {
			name := strings.TrimSpace(part)
			if name != "" {
				names = append(names, strings.TrimPrefix(name, "@"))
			}
		}
		d.Subtype = "selected"
		d.Meta["names"] = names
	case strings.HasPrefix(selector, "*"):
		rest := strings.TrimSpace(strings.TrimPrefix(selector, "*"))
		if strings.HasPrefix(rest, "as ") {
			d.Subtype = "namespace"
			d.Raw["alias"] = strings.TrimPrefix(strings.TrimSpace(strings.TrimPrefix(rest, "as ")), "@")
		} else {
			d.Subtype = "all"
		}
	default:
		return nil, fmt.Errorf("/import: unrecognized selector %q", selector)
	}
	return d, nil
}

func parseGuard(stmt string, l *ast.SourceLocation) (*ast.Directive, error) {
	head := stmt
	message := ""
	if idx := topLevelIndex(stmt, " message "); idx >= 0 {
		head = stmt[:idx]
		message = stripQuotes(stmt[idx+len(" message "):])
	}
	condNode, err := parseExprString(strings.TrimSpace(head), l)
	if err != nil {
		return nil, fmt.Errorf("/guard: %w", err)
	}
	d := ast.NewDirective(ast.KindGuard, "", l)
	d.Values["condition"] = []ast.Node{condNode}
	if message != "" {
		d.Raw["message"] = message
	}
	return d, nil
}

func parseBail(stmt string, l *ast.SourceLocation) (*ast.Directive, error) {
	d := ast.NewDirective(ast.KindBail, "", l)
	if strings.TrimSpace(stmt) == "" {
		return d, nil
	}
	node, err := parseBodyExpr(stmt, l)
	if err != nil {
		return nil, fmt.Errorf("/bail: %w", err)
	}
	d.Values["message"] = []ast.Node{node}
	return d, nil
}

func parseCheckpoint(stmt string, l *ast.SourceLocation) (*ast.Directive, error) {
	name := stripQuotes(stmt)
	if name == "" {
		return nil, fmt.Errorf("/checkpoint: expected a name")
	}
	d := ast.NewDirective(ast.KindCheckpoint, "", l)
	d.Raw["name"] = name
	return d, nil
}

func parseRun(stmt string, l *ast.SourceLocation) (*ast.Directive, error) {
	_, body, hasBody := splitHeadBody(stmt)
	text := stmt
	if hasBody {
		text = body
	}
	node, err := parseBodyExpr(strings.TrimSpace(text), l)
	if err != nil {
		return nil, fmt.Errorf("/run: %w", err)
	}
	d := ast.NewDirective(ast.KindRun, "", l)
	d.Values["command"] = []ast.Node{node}
	return d, nil
}

func parseExe(stmt string, l *ast.SourceLocation) (*ast.Directive, error) {
	head, body, hasBody := splitHeadBody(stmt)
	p := newExprParser(head, l)
	if p.cur().kind != tokAtIdent {
		return nil, fmt.Errorf("/exe: expected @name")
	}
	name := p.advance().raw
	if !p.peekOp("(") {
		return nil, fmt.Errorf("/exe: expected '(' after @%s", name)
	}
	p.advance()
	var params []string
	for !p.peekOp(")") {
		t := p.cur()
		if t.kind != tokAtIdent && t.kind != tokIdent {
			return nil, fmt.Errorf("/exe: expected parameter name")
		}
		params = append(params, p.advance().raw)
		if p.peekOp(",") {
			p.advance()
		}
	}
	p.advance() // ')'
	if !p.peekOp("=") {
		return nil, fmt.Errorf("/exe: expected '=' after parameter list")
	}
	p.advance()
	if p.cur().kind != tokIdent {
		return nil, fmt.Errorf("/exe: expected body language")
	}
	language := p.advance().raw

	d := ast.NewDirective(ast.KindExe, "", l)
	d.Raw["name"] = name
	d.Raw["language"] = language
	d.Meta["params"] = params

	bodyRaw := strings.TrimSpace(body)
	if !hasBody {
		// `= language` with no block: remaining head tokens (if any) form an
		// inline single-expression body, e.g. `/exe @id() = ref @other`.
		if p.cur().kind != tokEOF {
			node, err := p.parseExpr()
			if err == nil {
				d.Values["body"] = []ast.Node{node}
			}
		}
		return d, nil
	}
	d.Raw["body"] = bodyRaw

	switch language {
	case "template", "ref", "section":
		node, err := parseBodyExpr(bodyRaw, l)
		if err != nil {
			return nil, fmt.Errorf("/exe @%s: %w", name, err)
		}
		d.Values["body"] = []ast.Node{node}
	default:
		// internal/exe's invoke reads command/code/llm bodies from
		// Raw["body"] directly; Values["body"] only needs a placeholder
		// so handleExe's RequireSlots("name", "body") is satisfied.
		d.Values["body"] = []ast.Node{ast.NewLiteral(bodyRaw, ast.ValueTypeString, l)}
	}
	return d, nil
}

func parseWhen(stmt string, l *ast.SourceLocation) (*ast.Directive, error) {
	head, body, hasBody := splitHeadBody(stmt)
	mode := ast.WhenModeFirst
	switch strings.TrimSpace(head) {
	case "any":
		mode = ast.WhenModeAny
	case "all":
		mode = ast.WhenModeAll
	case "first", "":
	default:
		return nil, fmt.Errorf("/when: unknown mode %q", strings.TrimSpace(head))
	}
	if !hasBody {
		return nil, fmt.Errorf("/when: expected a {...} block")
	}

	var cases []ast.WhenCase
	for _, row := range splitTopLevel(body, '\n') {
		for _, sub := range splitTopLevel(row, ';') {
			sub = strings.TrimSpace(sub)
			if sub == "" {
				continue
			}
			idx := topLevelIndex(sub, "=>")
			if idx < 0 {
				return nil, fmt.Errorf("/when: case %q missing '=>'", sub)
			}
			condText := strings.TrimSpace(sub[:idx])
			actionText := strings.TrimSpace(sub[idx+2:])

			var condNode ast.Node
			if condText != "*" && condText != "none" {
				n, err := parseExprString(condText, l)
				if err != nil {
					return nil, fmt.Errorf("/when: condition %q: %w", condText, err)
				}
				condNode = n
			}
			actionNode, err := parseBodyExpr(actionText, l)
			if err != nil {
				return nil, fmt.Errorf("/when: action %q: %w", actionText, err)
			}
			cases = append(cases, ast.WhenCase{Condition: condNode, Action: actionNode})
		}
	}

	whenExpr := ast.NewWhenExpression(mode, cases, l)
	d := ast.NewDirective(ast.KindWhen, "", l)
	d.Values["expression"] = []ast.Node{whenExpr}
	return d, nil
}

func parseFor(stmt string, l *ast.SourceLocation) (*ast.Directive, error) {
	head, body, hasBody := splitHeadBody(stmt)
	if !hasBody {
		return nil, fmt.Errorf("/for: expected a {...} block")
	}

	p := newExprParser(head, l)
	parallel := false
	concurrency := 0
	if p.peekIdent("parallel") {
		p.advance()
		parallel = true
		if p.peekOp("(") {
			p.advance()
			if p.cur().kind == tokNumber {
				concurrency = strconvAtoi(p.advance().raw)
			}
			if !p.peekOp(")") {
				return nil, fmt.Errorf("/for: expected ')' after parallel concurrency")
			}
			p.advance()
		}
	}
	if p.cur().kind != tokAtIdent {
		return nil, fmt.Errorf("/for: expected @item")
	}
	item := p.advance().raw
	if !p.peekIdent("in") {
		return nil, fmt.Errorf("/for: expected 'in' after @%s", item)
	}
	p.advance()
	collection, err := p.parseExpr()
	if err != nil {
		return nil, fmt.Errorf("/for: %w", err)
	}

	bodyNodes, err := ParseDocument(body, l.FilePath)
	if err != nil {
		return nil, fmt.Errorf("/for: body: %w", err)
	}
	bodySeq := ast.NewSequence(bodyNodes, l)

	forExpr := ast.NewForExpression(item, collection, bodySeq, l)
	forExpr.Parallel = parallel
	forExpr.Concurrency = concurrency

	d := ast.NewDirective(ast.KindFor, "", l)
	d.Values["expression"] = []ast.Node{forExpr}
	return d, nil
}

// topLevelIndex finds the first occurrence of sep not nested inside
// quotes/brackets, or -1 if absent.
func topLevelIndex(s, sep string) int {
	var inStr byte
	depth := 0
	for i := 0; i+len(sep) <= len(s); i++ {
		c := s[i]
		if inStr != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == inStr {
				inStr = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			inStr = c
			continue
		case '(', '[', '{':
			depth++
			continue
		case ')', ']', '}':
			depth--
			continue
		}
		if depth == 0 && s[i:i+len(sep)] == sep {
			return i
		}
	}
	return -1
}
