package mlerr

import (
	"fmt"
	"strings"

	"github.com/mlld-lang/mlld/internal/ast"
)

// SourceCache is the read interface onto internal/env's cached source text,
// kept minimal here to avoid an import cycle with internal/env.
type SourceCache interface {
	Line(filePath string, line int) (string, bool)
}

// Render produces the `<name>: <message>\n  at <file>:<line>:<col>\n  <source
// line>\n       <caret^>` display described in spec.md §7, degrading
// gracefully when source is unavailable.
func Render(name, message string, loc *ast.SourceLocation, cache SourceCache) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", name, message)
	if loc == nil {
		return b.String()
	}
	fmt.Fprintf(&b, "\n  at %s:%d:%d", loc.FilePath, loc.Start.Line, loc.Start.Column)
	if cache == nil {
		return b.String()
	}
	for l := loc.Start.Line - 2; l <= loc.Start.Line+2; l++ {
		if l < 1 {
			continue
		}
		text, ok := cache.Line(loc.FilePath, l)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n  %s", text)
		if l == loc.Start.Line {
			caretCol := loc.Start.Column
			if caretCol < 1 {
				caretCol = 1
			}
			fmt.Fprintf(&b, "\n  %s^", strings.Repeat(" ", caretCol-1+len("  ")-2))
		}
	}
	return b.String()
}
