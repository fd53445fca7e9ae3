package mlerr_test

import (
	"strings"
	"testing"

	"github.com/mlld-lang/mlld/internal/ast"
	"github.com/mlld-lang/mlld/internal/mlerr"
)

type fakeCache map[string]map[int]string

func (c fakeCache) Line(filePath string, line int) (string, bool) {
	lines, ok := c[filePath]
	if !ok {
		return "", false
	}
	text, ok := lines[line]
	return text, ok
}

func TestRenderWithoutLocation(t *testing.T) {
	got := mlerr.Render("ParseError", "unexpected token", nil, nil)
	if got != "ParseError: unexpected token" {
		t.Fatalf("Render() = %q", got)
	}
}

func TestRenderWithLocationNoCache(t *testing.T) {
	loc := &ast.SourceLocation{FilePath: "a.mld", Start: ast.Position{Line: 3, Column: 5}}
	got := mlerr.Render("ResolutionError", "undefined variable", loc, nil)
	want := "ResolutionError: undefined variable\n  at a.mld:3:5"
	if got != want {
		t.Fatalf("Render() = %q, want %q", got, want)
	}
}

func TestRenderWithSourceCache(t *testing.T) {
	cache := fakeCache{
		"a.mld": {
			2: "/var @x = 1",
			3: "/show @y",
		},
	}
	loc := &ast.SourceLocation{FilePath: "a.mld", Start: ast.Position{Line: 3, Column: 7}}
	got := mlerr.Render("ResolutionError", "undefined variable @y", loc, cache)

	if !strings.Contains(got, "at a.mld:3:7") {
		t.Fatalf("Render() missing location: %q", got)
	}
	if !strings.Contains(got, "/show @y") {
		t.Fatalf("Render() missing source line: %q", got)
	}
	if !strings.Contains(got, "^") {
		t.Fatalf("Render() missing caret: %q", got)
	}
}
