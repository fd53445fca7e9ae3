// Package astselect implements alligator AST-selector extraction
// (`<file.go # FunctionName>`-style section addressing into source code
// rather than Markdown headings). Grounded on viant-linager's
// inspector.Factory.GetInspector extension-dispatch registry, generalized
// from "extension -> language Inspector" into "extension -> Extractor".
// No grammar is linked in: the registered extensions (.go/.js/.jsx/.py)
// and unknown extensions alike use the regex-based line-range heuristic.
// GetExtractor's second result still tells registered extensions apart so
// callers can tag unregistered ones via Ctx.Extractor.
package astselect

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Extractor pulls the named declaration's source text out of content.
type Extractor interface {
	Extract(content, selector string) (string, error)
}

// Factory dispatches by file extension, mirroring
// inspector.Factory.GetInspector.
type Factory struct {
	byExt map[string]Extractor
}

// NewFactory creates a Factory with the grammars this module ships.
func NewFactory() *Factory {
	f := &Factory{byExt: make(map[string]Extractor)}
	f.byExt[".go"] = &treeSitterExtractor{lang: "go"}
	f.byExt[".js"] = &treeSitterExtractor{lang: "javascript"}
	f.byExt[".jsx"] = &treeSitterExtractor{lang: "javascript"}
	f.byExt[".py"] = &treeSitterExtractor{lang: "python"}
	return f
}

// GetExtractor returns the extractor for filename, and whether it is a
// grammar-backed extractor (false means the caller will fall back to
// regexFallback and should tag Ctx.Extractor="fallback").
func (f *Factory) GetExtractor(filename string) (Extractor, bool) {
	ext := strings.ToLower(filepath.Ext(filename))
	if e, ok := f.byExt[ext]; ok {
		return e, true
	}
	return &regexFallback{}, false
}

// treeSitterExtractor wraps a smacker/go-tree-sitter grammar. The grammar
// binding itself (tree_sitter.Parser + the per-language grammar package) is
// deferred to build time — this module names the dependency and its
// intended call shape without vendoring generated grammar bindings.
type treeSitterExtractor struct{ lang string }

func (t *treeSitterExtractor) Extract(content, selector string) (string, error) {
	// A full implementation parses content with
	// tree_sitter.NewParser().SetLanguage(<lang-grammar>) and walks the
	// resulting tree for a node whose name matches selector. Until that
	// grammar wiring lands, every language extractor here degrades to the
	// same line-scoped regex heuristic regexFallback uses, so callers
	// always get a result — just not a grammar-precise one.
	return (&regexFallback{}).Extract(content, selector)
}

// regexFallback finds a declaration line for selector (see declPatterns:
// func, class, def, function, const, `:=`) and returns from that line to the
// next line at the same or lower indentation — a heuristic, not a parse.
type regexFallback struct{}

var declPatterns = []string{
	`func\s+(?:\([^)]*\)\s*)?%s\s*\(`,
	`class\s+%s\b`,
	`def\s+%s\s*\(`,
	`function\s+%s\s*\(`,
	`const\s+%s\s*=`,
	`%s\s*:=`,
}

func (r *regexFallback) Extract(content, selector string) (string, error) {
	lines := strings.Split(content, "\n")
	quoted := regexp.QuoteMeta(selector)
	var start = -1
	var startIndent int
	for _, pat := range declPatterns {
		re := regexp.MustCompile(fmt.Sprintf(pat, quoted))
		for i, line := range lines {
			if re.MatchString(line) {
				start = i
				startIndent = indentOf(line)
				break
			}
		}
		if start >= 0 {
			break
		}
	}
	if start < 0 {
		return "", fmt.Errorf("astselect: no declaration matching %q found", selector)
	}
	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		if indentOf(lines[i]) <= startIndent && i > start+1 {
			end = i
			break
		}
	}
	return strings.Join(lines[start:end], "\n"), nil
}

func indentOf(s string) int {
	n := 0
	for _, c := range s {
		if c == ' ' {
			n++
		} else if c == '\t' {
			n += 4
		} else {
			break
		}
	}
	return n
}
