// Package parser is the minimal hand-written subset parser ast.Node's doc
// comment names as internal/ast's source of real (non-test) Node trees: a
// full .mld grammar is out of scope, but enough of spec.md §1-4's surface
// syntax is implemented here to drive every [MODULE] end to end — slash
// directives, interpolated text/string literals, variable references with
// field access and condensed pipes, exec invocations, and the /for and
// /when block forms. Grounded on internal/ast's own doc comment, which
// names this package as the intended caller, and on
// pkg/pipeline/parser.go's accumulate-then-emit shape (read raw source,
// build a typed tree, leave evaluation to a separate pass).
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mlld-lang/mlld/internal/ast"
)

// Subset implements internal/importer.Parser and is installed via
// importer.SetParser from cmd/mlld's setup.
type Subset struct{}

// New creates the subset parser.
func New() *Subset { return &Subset{} }

// Parse implements internal/importer.Parser.
func (s *Subset) Parse(source, filePath string) ([]ast.Node, error) {
	return ParseDocument(source, filePath)
}

// ParseDocument parses a complete mlld document into its top-level nodes.
func ParseDocument(source, filePath string) ([]ast.Node, error) {
	lines := strings.Split(source, "\n")
	var out []ast.Node
	i := 0

	if i < len(lines) && strings.TrimSpace(lines[i]) == "---" {
		raw, data, consumed, err := parseFrontmatter(lines, i, filePath)
		if err != nil {
			return nil, err
		}
		out = append(out, ast.NewFrontmatter(raw, data, loc(filePath, i+1)))
		i = consumed
	}

	for i < len(lines) {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			out = append(out, ast.NewNewline(loc(filePath, i+1)))
			i++
		case strings.HasPrefix(trimmed, ">>") || strings.HasPrefix(trimmed, "<<"):
			out = append(out, ast.NewComment(strings.TrimSpace(trimmed[2:]), loc(filePath, i+1)))
			i++
		case strings.HasPrefix(trimmed, "```"):
			fence, consumed := parseCodeFence(lines, i, filePath)
			out = append(out, fence)
			i = consumed
		case strings.HasPrefix(trimmed, "#"):
			out = append(out, ast.NewSectionMarker(strings.TrimSpace(strings.TrimLeft(trimmed, "#")), loc(filePath, i+1)))
			i++
		case strings.HasPrefix(trimmed, "/"):
			kind, rest, ok := detectDirective(trimmed)
			if !ok {
				nodes := renderTextLine(line, loc(filePath, i+1))
				out = append(out, nodes...)
				out = append(out, ast.NewNewline(loc(filePath, i+1)))
				i++
				continue
			}
			stmt := rest
			depth, bt := scanDelta(stmt)
			for (depth > 0 || bt) && i+1 < len(lines) {
				i++
				stmt += "\n" + lines[i]
				depth, bt = scanDelta(stmt)
			}
			d, err := parseDirectiveStatement(kind, stmt, filePath, i+1)
			if err != nil {
				return nil, fmt.Errorf("parser: line %d: %w", i+1, err)
			}
			out = append(out, d)
			i++
		default:
			nodes := renderTextLine(line, loc(filePath, i+1))
			out = append(out, nodes...)
			out = append(out, ast.NewNewline(loc(filePath, i+1)))
			i++
		}
	}
	return out, nil
}

func loc(filePath string, line int) *ast.SourceLocation {
	return &ast.SourceLocation{
		Start:    ast.Position{Line: line},
		End:      ast.Position{Line: line},
		FilePath: filePath,
	}
}

func parseFrontmatter(lines []string, start int, filePath string) (raw string, data map[string]any, consumed int, err error) {
	i := start + 1
	var body []string
	for i < len(lines) && strings.TrimSpace(lines[i]) != "---" {
		body = append(body, lines[i])
		i++
	}
	raw = strings.Join(body, "\n")
	data = map[string]any{}
	if strings.TrimSpace(raw) != "" {
		if err := yaml.Unmarshal([]byte(raw), &data); err != nil {
			return "", nil, 0, fmt.Errorf("parser: frontmatter: %w", err)
		}
	}
	if i < len(lines) {
		i++ // consume closing "---"
	}
	return raw, data, i, nil
}

func parseCodeFence(lines []string, start int, filePath string) (*ast.CodeFence, int) {
	lang := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(lines[start]), "```"))
	i := start + 1
	var body []string
	for i < len(lines) && !strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
		body = append(body, lines[i])
		i++
	}
	if i < len(lines) {
		i++ // consume closing fence
	}
	return ast.NewCodeFence(lang, strings.Join(body, "\n"), loc(filePath, start+1)), i
}

// renderTextLine decomposes one line of plain document text into
// Text/VariableReference nodes at @-reference boundaries.
func renderTextLine(line string, l *ast.SourceLocation) []ast.Node {
	parts := splitInterpolation(line)
	nodes := make([]ast.Node, 0, len(parts))
	for _, part := range parts {
		if !part.isVar {
			nodes = append(nodes, ast.NewText(part.text, l))
			continue
		}
		ref, err := refTextToNode(part.ref, l)
		if err != nil {
			nodes = append(nodes, ast.NewText("@"+part.ref, l))
			continue
		}
		nodes = append(nodes, ref)
	}
	if len(nodes) == 0 {
		nodes = append(nodes, ast.NewText("", l))
	}
	return nodes
}

// directiveKeywords maps a slash-directive's keyword to its Kind.
var directiveKeywords = map[string]ast.DirectiveKind{
	"var": ast.KindVar, "show": ast.KindShow, "run": ast.KindRun,
	"exe": ast.KindExe, "import": ast.KindImport, "output": ast.KindOutput,
	"when": ast.KindWhen, "for": ast.KindFor, "path": ast.KindPath,
	"guard": ast.KindGuard, "bail": ast.KindBail, "checkpoint": ast.KindCheckpoint,
}

// detectDirective reads the `/keyword` prefix of a trimmed line and returns
// the matched Kind plus the remainder of the line after the keyword.
func detectDirective(trimmed string) (ast.DirectiveKind, string, bool) {
	if !strings.HasPrefix(trimmed, "/") {
		return "", "", false
	}
	body := trimmed[1:]
	j := 0
	for j < len(body) && isIdentPart(body[j]) {
		j++
	}
	kind, ok := directiveKeywords[body[:j]]
	if !ok {
		return "", "", false
	}
	return kind, strings.TrimSpace(body[j:]), true
}

// scanDelta reports the net bracket-depth change of s (counting '{'/'('/'['
// vs their closers, outside quoted strings) and whether s ends with an odd
// number of open backticks — both used to decide whether a directive
// statement continues onto the next line.
func scanDelta(s string) (delta int, backtickOpen bool) {
	var inStr byte
	var backtick bool
	for i := 0; i < len(s); i++ {
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
		if backtick {
			if c == '`' {
				backtick = false
			}
			continue
		}
		switch c {
		case '"', '\'':
			inStr = c
		case '`':
			backtick = true
		case '{', '(', '[':
			delta++
		case '}', ')', ']':
			delta--
		}
	}
	return delta, backtick
}

// splitHeadBody separates a directive statement's head (everything before
// a top-level `{...}` or backtick-delimited block) from that block's inner
// content.
func splitHeadBody(stmt string) (head, body string, hasBody bool) {
	var inStr byte
	for i := 0; i < len(stmt); i++ {
		c := stmt[i]
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
		case '`':
			end := strings.IndexByte(stmt[i+1:], '`')
			if end < 0 {
				return stmt, "", false
			}
			return stmt[:i], stmt[i+1 : i+1+end], true
		case '{':
			depth := 1
			for j := i + 1; j < len(stmt); j++ {
				switch stmt[j] {
				case '{':
					depth++
				case '}':
					depth--
					if depth == 0 {
						return stmt[:i], stmt[i+1 : j], true
					}
				}
			}
			return stmt[:i], stmt[i+1:], true
		}
	}
	return stmt, "", false
}

// splitTopLevel splits s on sep, ignoring occurrences inside quotes or
// nested brackets — used for /import's {a, b} list and /when's case rows.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	var cur strings.Builder
	var inStr byte
	depth := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr != 0 {
			cur.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				i++
				cur.WriteByte(s[i])
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
			cur.WriteByte(c)
		case '(', '[', '{':
			depth++
			cur.WriteByte(c)
		case ')', ']', '}':
			depth--
			cur.WriteByte(c)
		case sep:
			if depth == 0 {
				parts = append(parts, cur.String())
				cur.Reset()
				continue
			}
			cur.WriteByte(c)
		default:
			cur.WriteByte(c)
		}
	}
	if strings.TrimSpace(cur.String()) != "" || len(parts) > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

func parseFileReference(raw string, l *ast.SourceLocation) *ast.FileReferenceNode {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	source := s
	var section, as string
	if idx := strings.Index(s, " as "); idx >= 0 {
		as = strings.Trim(strings.TrimSpace(s[idx+4:]), `"`)
		source = strings.TrimSpace(s[:idx])
	}
	if idx := strings.Index(source, "#"); idx >= 0 {
		section = strings.TrimSpace(source[idx+1:])
		source = strings.TrimSpace(source[:idx])
	}
	node := ast.NewFileReferenceNode(source, l)
	node.Section = section
	node.As = as
	node.Meta = ast.FileReferenceMeta{
		IsFileReference: true,
		HasGlob:         strings.ContainsAny(source, "*?"),
	}
	return node
}

func parseBodyExpr(raw string, l *ast.SourceLocation) (ast.Node, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "<") {
		return parseFileReference(trimmed, l), nil
	}
	if strings.Contains(trimmed, "@") {
		return interpPartsToNode(splitInterpolation(raw), l)
	}
	if !looksLikeExpr(trimmed) {
		// Raw command/message text (e.g. /run's shell command, /bail's plain
		// message) is not itself an mlld expression — only quoted strings,
		// numbers, booleans, and parenthesized expressions are.
		return ast.NewLiteral(raw, ast.ValueTypeString, l), nil
	}
	return parseExprString(trimmed, l)
}

// looksLikeExpr reports whether s opens like a valid expression-grammar
// token (quoted string, backtick template, number, boolean/null keyword, or
// parenthesized/negated expression) rather than bare unquoted text.
func looksLikeExpr(s string) bool {
	if s == "" {
		return false
	}
	switch s {
	case "true", "false", "null":
		return true
	}
	switch s[0] {
	case '"', '\'', '`', '(', '!', '-':
		return true
	}
	return s[0] >= '0' && s[0] <= '9'
}

func stripQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func strconvAtoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
