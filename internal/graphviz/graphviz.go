// Package graphviz renders the `mlld graph` command's output: a DOT call
// graph of a parsed program's /exe definitions, /exe invocations, and
// /import dependencies. Grounded on pkg/pipeline/parser.go's
// gographviz.Interface usage, inverted from that file's DOT *parsing*
// (reading a pipeline graph written by hand) to DOT *emission* (writing a
// graph discovered by walking an mlld AST) — the same library, the
// opposite direction of data flow.
package graphviz

import (
	"fmt"

	gographviz "github.com/awalterschulze/gographviz"

	"github.com/mlld-lang/mlld/internal/ast"
)

// NodeKind labels a vertex in the emitted call graph.
type NodeKind string

const (
	NodeScript NodeKind = "script"
	NodeExe    NodeKind = "exe"
	NodeImport NodeKind = "import"
	NodeLoad   NodeKind = "load"
)

// Builder walks an mlld program's top-level nodes and accumulates the
// vertices/edges of its call graph, mirroring pkg/pipeline/parser.go's
// dotCollector accumulate-then-emit shape.
type Builder struct {
	graph *gographviz.Graph
	nodes map[string]bool
}

// New creates a Builder rooted at a synthetic "script" vertex representing
// the top level of the program being graphed.
func New(scriptName string) *Builder {
	g := gographviz.NewGraph()
	_ = g.SetName("mlld")
	_ = g.SetDir(true)
	b := &Builder{graph: g, nodes: make(map[string]bool)}
	b.addNode(scriptName, NodeScript)
	return b
}

func (b *Builder) addNode(name string, kind NodeKind) {
	if b.nodes[name] {
		return
	}
	b.nodes[name] = true
	_ = b.graph.AddNode("mlld", quote(name), map[string]string{
		"label": quote(fmt.Sprintf("%s\\n(%s)", name, kind)),
	})
}

func (b *Builder) addEdge(from, to string, attrs map[string]string) {
	quoted := make(map[string]string, len(attrs))
	for k, v := range attrs {
		quoted[k] = quote(v)
	}
	_ = b.graph.AddEdge(quote(from), quote(to), true, quoted)
}

// Walk adds every /exe definition, /exe invocation, /import, and alligator
// load reachable from nodes to the graph, with from as the calling
// context (typically the script's synthetic root vertex, or an /exe
// definition's own name while walking its body).
func (b *Builder) Walk(from string, nodes []ast.Node) {
	for _, n := range nodes {
		b.walkNode(from, n)
	}
}

func (b *Builder) walkNode(from string, n ast.Node) {
	if n == nil {
		return
	}
	switch v := n.(type) {
	case *ast.Directive:
		b.walkDirective(from, v)
	case *ast.ExecInvocation:
		b.addNode(v.CommandRef.Identifier, NodeExe)
		b.addEdge(from, v.CommandRef.Identifier, map[string]string{"type": "call"})
		for _, arg := range v.CommandRef.Args {
			b.walkNode(from, arg)
		}
		if v.WithClause != nil {
			for _, stage := range v.WithClause.Pipeline {
				b.addNode(stage.Name, NodeExe)
				b.addEdge(from, stage.Name, map[string]string{"type": "pipe"})
			}
		}
	case *ast.ForExpression:
		b.walkNode(from, v.Collection)
		b.walkNode(from, v.Body)
	case *ast.WhenExpression:
		for _, c := range v.Cases {
			b.walkNode(from, c.Condition)
			b.walkNode(from, c.Action)
		}
	case *ast.BinaryExpression:
		b.walkNode(from, v.Left)
		b.walkNode(from, v.Right)
	case *ast.TernaryExpression:
		b.walkNode(from, v.Condition)
		b.walkNode(from, v.WhenTrue)
		b.walkNode(from, v.WhenFalse)
	case *ast.UnaryExpression:
		b.walkNode(from, v.Operand)
	case *ast.NegationNode:
		b.walkNode(from, v.Condition)
	case *ast.FileReferenceNode:
		b.addNode(v.Source, NodeLoad)
		b.addEdge(from, v.Source, map[string]string{"type": "load"})
	}
}

func (b *Builder) walkDirective(from string, d *ast.Directive) {
	switch d.Kind {
	case ast.KindImport:
		target := d.Raw["path"]
		if target == "" {
			if lit, ok := d.Value("path").(*ast.Literal); ok {
				if s, ok := lit.Value.(string); ok {
					target = s
				}
			}
		}
		if target == "" {
			target = fmt.Sprintf("import@%p", d)
		}
		b.addNode(target, NodeImport)
		b.addEdge(from, target, map[string]string{"type": "import"})
		return
	case ast.KindExe:
		name := d.Raw["name"]
		if name == "" {
			name = fmt.Sprintf("exe@%p", d)
		}
		b.addNode(name, NodeExe)
		if body := d.Value("body"); body != nil {
			b.walkNode(name, body)
		}
		return
	}
	for _, nodes := range d.Values {
		for _, n := range nodes {
			b.walkNode(from, n)
		}
	}
}

// String renders the accumulated graph as DOT source.
func (b *Builder) String() string { return b.graph.String() }

func quote(s string) string { return fmt.Sprintf("%q", s) }
