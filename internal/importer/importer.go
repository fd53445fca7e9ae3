// Package importer implements the /import directive: a seven-step
// resolve -> fetch -> parse -> sub-evaluate -> extract-exports -> bind
// pipeline. Grounded on pkg/llm/client.go's ProviderFactory registry
// (provider name -> Client factory) generalized into "path classification
// -> Resolver", and on pkg/pipeline/engine.go's cycle-visit counter
// generalized into env.OrderedSet's explicit import-stack membership test.
package importer

import (
	"context"
	"fmt"

	"github.com/mlld-lang/mlld/internal/ast"
	"github.com/mlld-lang/mlld/internal/env"
	"github.com/mlld-lang/mlld/internal/eval"
	"github.com/mlld-lang/mlld/internal/mlerr"
	"github.com/mlld-lang/mlld/internal/value"
)

// Parser is the subset-parser capability this package needs, implemented by
// internal/parser. Declared here (not imported concretely) to keep
// importer -> parser a one-way dependency expressed through an interface,
// matching the rest of the module's registry style.
type Parser interface {
	Parse(source, filePath string) ([]ast.Node, error)
}

var parser Parser

// SetParser installs the module parser. Call once from cmd/mlld's setup.
func SetParser(p Parser) { parser = p }

// RegisterAll installs the /import handler into internal/eval's registry.
func RegisterAll() {
	eval.RegisterDirective(ast.KindImport, handleImport)
}

// ImportClassification is the resolved source kind for an import path,
// dispatched to the matching resolver name (spec.md §4.4 step 1).
type ImportClassification string

const (
	ClassifyUser     ImportClassification = "user"
	ClassifyLocal    ImportClassification = "local"
	ClassifyRegistry ImportClassification = "registry"
	ClassifyInput    ImportClassification = "input"
	ClassifyTime     ImportClassification = "time"
)

// Classify determines which resolver should handle ref, mirroring
// llm.ParseModelID's "provider:model" split into "@kind/path" classification.
func Classify(ref string) (ImportClassification, string) {
	switch {
	case len(ref) >= 6 && ref[:6] == "@user/":
		return ClassifyUser, ref[6:]
	case len(ref) >= 7 && ref[:7] == "@local/":
		return ClassifyLocal, ref[7:]
	case ref == "@INPUT":
		return ClassifyInput, ref
	case ref == "@TIME":
		return ClassifyTime, ref
	default:
		return ClassifyRegistry, ref
	}
}

func handleImport(ev eval.Evaluator, d *ast.Directive, e *env.Environment) (eval.EvalResult, error) {
	pathNode := d.Value("path")
	if pathNode == nil {
		return eval.EvalResult{}, fmt.Errorf("/import: missing path")
	}
	pathRes, err := ev.Evaluate(pathNode, e)
	if err != nil {
		return eval.EvalResult{}, err
	}
	ref := pathRes.Text

	// Step 2: cycle detection.
	if e.ImportStackHas(ref) {
		return eval.EvalResult{}, &mlerr.ImportError{
			Base: mlerr.Base{Sev: mlerr.SeverityFatal, Loc: d.Location()},
			Code: mlerr.ImportCodeCircular, Path: ref,
		}
	}

	// Step 3/4: classify and fetch.
	kind, fetchRef := Classify(ref)
	resolverName := string(kind)
	if !e.Resolvers().Has(resolverName) {
		return eval.EvalResult{}, &mlerr.ImportError{
			Base: mlerr.Base{Sev: mlerr.SeverityFatal, Loc: d.Location()},
			Code: mlerr.ImportCodeNotFound, Path: ref,
		}
	}
	resolved, err := e.Resolvers().Resolve(context.Background(), resolverName, fetchRef)
	if err != nil {
		return eval.EvalResult{}, &mlerr.ImportError{
			Base: mlerr.Base{Sev: mlerr.SeverityFatal, Loc: d.Location(), Cause: err},
			Code: mlerr.ImportCodeNotFound, Path: ref,
		}
	}

	// Step 5: parse in a fresh child environment, its import stack
	// extended (copy-on-enter) with this path.
	if parser == nil {
		return eval.EvalResult{}, fmt.Errorf("/import: no parser installed")
	}
	nodes, err := parser.Parse(resolved.Content, ref)
	if err != nil {
		return eval.EvalResult{}, &mlerr.ParseError{
			Base:    mlerr.Base{Sev: mlerr.SeverityFatal, Loc: d.Location(), Cause: err},
			Message: err.Error(),
		}
	}
	child := e.ChildForImport(ref)
	child.CacheSource(ref, resolved.Content)

	// Step 6: sub-evaluate the imported module's top-level nodes.
	for _, n := range nodes {
		if _, err := ev.Evaluate(n, child); err != nil {
			return eval.EvalResult{}, fmt.Errorf("importing %q: %w", ref, err)
		}
	}

	// Step 7: extract exports and bind per d.Subtype (selected/all/namespace).
	exports := child.Exports()
	switch d.Subtype {
	case "namespace":
		alias := d.Raw["alias"]
		if alias == "" {
			alias = ref
		}
		obj := make(map[string]any, len(exports))
		for name, v := range exports {
			obj[name] = v.Value
		}
		ns := value.NewObjectVariable(alias, obj, value.VariableSource{Directive: ast.KindImport})
		if err := e.Set(alias, ns); err != nil {
			return eval.EvalResult{}, err
		}
	case "selected":
		for _, name := range d.Meta["names"].([]string) {
			v, ok := exports[name]
			if !ok {
				return eval.EvalResult{}, &mlerr.ImportError{
					Base: mlerr.Base{Sev: mlerr.SeverityFatal, Loc: d.Location()},
					Code: mlerr.ImportCodeExportMissing, Path: ref,
				}
			}
			if err := e.Set(name, value.NewImportedVariable(v, ref)); err != nil {
				return eval.EvalResult{}, err
			}
		}
	default: // "all" or unspecified
		for name, v := range exports {
			if err := e.Set(name, value.NewImportedVariable(v, ref)); err != nil {
				return eval.EvalResult{}, err
			}
		}
	}

	return eval.EvalResult{}, nil
}
