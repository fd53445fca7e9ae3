package parser_test

import (
	"testing"

	"github.com/mlld-lang/mlld/internal/ast"
	"github.com/mlld-lang/mlld/internal/parser"
)

func mustParse(t *testing.T, source string) []ast.Node {
	t.Helper()
	nodes, err := parser.ParseDocument(source, "test.mld")
	if err != nil {
		t.Fatalf("ParseDocument(%q) error = %v", source, err)
	}
	return nodes
}

func firstDirective(t *testing.T, nodes []ast.Node) *ast.Directive {
	t.Helper()
	for _, n := range nodes {
		if d, ok := n.(*ast.Directive); ok {
			return d
		}
	}
	t.Fatalf("no directive found in %#v", nodes)
	return nil
}

func TestParseVarLiteral(t *testing.T) {
	d := firstDirective(t, mustParse(t, `/var @name = "world"`))
	if d.Kind != ast.KindVar {
		t.Fatalf("Kind = %v, want KindVar", d.Kind)
	}
	if d.Raw["name"] != "name" {
		t.Fatalf("Raw[name] = %q, want name", d.Raw["name"])
	}
	lit, ok := d.Value("value").(*ast.Literal)
	if !ok {
		t.Fatalf("value node = %#v, want *ast.Literal", d.Value("value"))
	}
	if lit.Value != "world" {
		t.Fatalf("literal value = %v, want world", lit.Value)
	}
}

func TestParseVarMissingEqualsErrors(t *testing.T) {
	if _, err := parser.ParseDocument(`/var @name "world"`, "t.mld"); err == nil {
		t.Fatal("expected an error for a missing '='")
	}
}

func TestParsePathDirective(t *testing.T) {
	d := firstDirective(t, mustParse(t, `/path @cfg = "./config.json"`))
	if d.Kind != ast.KindPath {
		t.Fatalf("Kind = %v, want KindPath", d.Kind)
	}
	if d.Raw["name"] != "cfg" {
		t.Fatalf("Raw[name] = %q, want cfg", d.Raw["name"])
	}
}

func TestParseShowVariableReference(t *testing.T) {
	d := firstDirective(t, mustParse(t, `/show @greeting`))
	seq, ok := d.Value("content").(*ast.Sequence)
	if !ok || len(seq.Nodes) != 1 {
		t.Fatalf("content node = %#v, want a one-element *ast.Sequence", d.Value("content"))
	}
	ref, ok := seq.Nodes[0].(*ast.VariableReference)
	if !ok {
		t.Fatalf("Nodes[0] = %#v, want *ast.VariableReference", seq.Nodes[0])
	}
	if ref.Identifier != "greeting" {
		t.Fatalf("Identifier = %q, want greeting", ref.Identifier)
	}
}

func TestParseOutputToFileWithField(t *testing.T) {
	d := firstDirective(t, mustParse(t, `/output @result to file "out.json" field "body"`))
	if d.Kind != ast.KindOutput || d.Subtype != "file" {
		t.Fatalf("Kind/Subtype = %v/%v, want output/file", d.Kind, d.Subtype)
	}
	if d.Raw["field"] != "body" {
		t.Fatalf("Raw[field] = %q, want body", d.Raw["field"])
	}
}

func TestParseOutputToStdout(t *testing.T) {
	d := firstDirective(t, mustParse(t, `/output @result to stdout`))
	if d.Subtype != "stdout" {
		t.Fatalf("Subtype = %q, want stdout", d.Subtype)
	}
}

func TestParseImportSelected(t *testing.T) {
	d := firstDirective(t, mustParse(t, `/import { @a, @b } from "./lib.mld"`))
	if d.Kind != ast.KindImport || d.Subtype != "selected" {
		t.Fatalf("Kind/Subtype = %v/%v, want import/selected", d.Kind, d.Subtype)
	}
	names, ok := d.Meta["names"].([]string)
	if !ok || len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("Meta[names] = %#v, want [a b]", d.Meta["names"])
	}
}

func TestParseImportNamespace(t *testing.T) {
	d := firstDirective(t, mustParse(t, `/import * as @lib from "./lib.mld"`))
	if d.Subtype != "namespace" {
		t.Fatalf("Subtype = %q, want namespace", d.Subtype)
	}
	if d.Raw["alias"] != "lib" {
		t.Fatalf("Raw[alias] = %q, want lib", d.Raw["alias"])
	}
}

func TestParseImportAll(t *testing.T) {
	d := firstDirective(t, mustParse(t, `/import * from "./lib.mld"`))
	if d.Subtype != "all" {
		t.Fatalf("Subtype = %q, want all", d.Subtype)
	}
}

func TestParseExeCommandBody(t *testing.T) {
	d := firstDirective(t, mustParse(t, "/exe @greet(name) = command {echo hi}"))
	if d.Kind != ast.KindExe {
		t.Fatalf("Kind = %v, want KindExe", d.Kind)
	}
	if d.Raw["name"] != "greet" || d.Raw["language"] != "command" {
		t.Fatalf("Raw = %+v", d.Raw)
	}
	params, ok := d.Meta["params"].([]string)
	if !ok || len(params) != 1 || params[0] != "name" {
		t.Fatalf("Meta[params] = %#v, want [name]", d.Meta["params"])
	}
	if d.Raw["body"] != "echo hi" {
		t.Fatalf("Raw[body] = %q, want %q", d.Raw["body"], "echo hi")
	}
}

func TestParseExeMissingParenErrors(t *testing.T) {
	if _, err := parser.ParseDocument("/exe @greet = command {echo hi}", "t.mld"); err == nil {
		t.Fatal("expected an error for a missing parameter list")
	}
}

func TestParseGuardWithMessage(t *testing.T) {
	d := firstDirective(t, mustParse(t, `/guard @ready message "not ready yet"`))
	if d.Kind != ast.KindGuard {
		t.Fatalf("Kind = %v, want KindGuard", d.Kind)
	}
	if d.Raw["message"] != "not ready yet" {
		t.Fatalf("Raw[message] = %q, want %q", d.Raw["message"], "not ready yet")
	}
	if _, ok := d.Value("condition").(*ast.VariableReference); !ok {
		t.Fatalf("condition node = %#v, want *ast.VariableReference", d.Value("condition"))
	}
}

func TestParseBailWithoutMessage(t *testing.T) {
	d := firstDirective(t, mustParse(t, "/bail"))
	if d.Kind != ast.KindBail {
		t.Fatalf("Kind = %v, want KindBail", d.Kind)
	}
	if len(d.Values["message"]) != 0 {
		t.Fatalf("Values[message] = %v, want empty", d.Values["message"])
	}
}

func TestParseCheckpointRequiresName(t *testing.T) {
	if _, err := parser.ParseDocument("/checkpoint", "t.mld"); err == nil {
		t.Fatal("expected an error for a checkpoint with no name")
	}
	d := firstDirective(t, mustParse(t, `/checkpoint "stage-one"`))
	if d.Raw["name"] != "stage-one" {
		t.Fatalf("Raw[name] = %q, want stage-one", d.Raw["name"])
	}
}

func TestParseRunCommand(t *testing.T) {
	d := firstDirective(t, mustParse(t, "/run {echo hello}"))
	if d.Kind != ast.KindRun {
		t.Fatalf("Kind = %v, want KindRun", d.Kind)
	}
	lit, ok := d.Value("command").(*ast.Literal)
	if !ok {
		t.Fatalf("command node = %#v, want *ast.Literal", d.Value("command"))
	}
	if lit.Value != "echo hello" {
		t.Fatalf("command literal = %v, want %q", lit.Value, "echo hello")
	}
}

func TestParseWhenFirstMode(t *testing.T) {
	source := "/when {\n@ready => \"go\"\n* => \"wait\"\n}"
	d := firstDirective(t, mustParse(t, source))
	if d.Kind != ast.KindWhen {
		t.Fatalf("Kind = %v, want KindWhen", d.Kind)
	}
	expr, ok := d.Value("expression").(*ast.WhenExpression)
	if !ok {
		t.Fatalf("expression node = %#v, want *ast.WhenExpression", d.Value("expression"))
	}
	if expr.Mode != ast.WhenModeFirst {
		t.Fatalf("Mode = %v, want WhenModeFirst", expr.Mode)
	}
	if len(expr.Cases) != 2 {
		t.Fatalf("len(Cases) = %d, want 2", len(expr.Cases))
	}
	if expr.Cases[1].Condition != nil {
		t.Fatalf("wildcard case Condition = %#v, want nil", expr.Cases[1].Condition)
	}
}

func TestParseWhenAnyMode(t *testing.T) {
	source := "/when any {\n@a => \"a\"\n}"
	d := firstDirective(t, mustParse(t, source))
	expr := d.Value("expression").(*ast.WhenExpression)
	if expr.Mode != ast.WhenModeAny {
		t.Fatalf("Mode = %v, want WhenModeAny", expr.Mode)
	}
}

func TestParseForLoopOverCollection(t *testing.T) {
	source := "/for @item in @items {\n/show @item\n}"
	d := firstDirective(t, mustParse(t, source))
	if d.Kind != ast.KindFor {
		t.Fatalf("Kind = %v, want KindFor", d.Kind)
	}
	expr, ok := d.Value("expression").(*ast.ForExpression)
	if !ok {
		t.Fatalf("expression node = %#v, want *ast.ForExpression", d.Value("expression"))
	}
	if expr.Variable != "item" {
		t.Fatalf("Variable = %q, want item", expr.Variable)
	}
	if expr.Parallel {
		t.Fatal("Parallel = true, want false for a plain /for")
	}
}

func TestParseForParallelWithConcurrency(t *testing.T) {
	source := "/for parallel(4) @item in @items {\n/show @item\n}"
	d := firstDirective(t, mustParse(t, source))
	expr := d.Value("expression").(*ast.ForExpression)
	if !expr.Parallel {
		t.Fatal("Parallel = false, want true")
	}
	if expr.Concurrency != 4 {
		t.Fatalf("Concurrency = %d, want 4", expr.Concurrency)
	}
}

func TestParseInterpolatedStringProducesSequence(t *testing.T) {
	d := firstDirective(t, mustParse(t, `/var @msg = "hello @name!"`))
	seq, ok := d.Value("value").(*ast.Sequence)
	if !ok {
		t.Fatalf("value node = %#v, want *ast.Sequence", d.Value("value"))
	}
	if len(seq.Nodes) != 3 {
		t.Fatalf("len(Nodes) = %d, want 3 (literal, ref, literal)", len(seq.Nodes))
	}
	if _, ok := seq.Nodes[1].(*ast.VariableReference); !ok {
		t.Fatalf("Nodes[1] = %#v, want *ast.VariableReference", seq.Nodes[1])
	}
}

func TestParseSingleQuotedStringNeverInterpolates(t *testing.T) {
	d := firstDirective(t, mustParse(t, `/var @msg = 'hello @name!'`))
	lit, ok := d.Value("value").(*ast.Literal)
	if !ok {
		t.Fatalf("value node = %#v, want *ast.Literal (no interpolation)", d.Value("value"))
	}
	if lit.Value != "hello @name!" {
		t.Fatalf("literal value = %v, want the raw text unchanged", lit.Value)
	}
}

func TestParseCondensedPipe(t *testing.T) {
	d := firstDirective(t, mustParse(t, `/var @x = @data | @uppercase`))
	ref, ok := d.Value("value").(*ast.VariableReference)
	if !ok {
		t.Fatalf("value node = %#v, want *ast.VariableReference", d.Value("value"))
	}
	if len(ref.Pipes) != 1 || ref.Pipes[0].Name != "uppercase" {
		t.Fatalf("Pipes = %+v, want one uppercase pipe", ref.Pipes)
	}
}

func TestParseFieldAccessAndIndex(t *testing.T) {
	d := firstDirective(t, mustParse(t, `/var @x = @data.items[0]`))
	ref := d.Value("value").(*ast.VariableReference)
	if len(ref.Fields) != 2 {
		t.Fatalf("Fields = %+v, want 2 entries", ref.Fields)
	}
	if ref.Fields[0].Kind != ast.FieldKindNamed || ref.Fields[0].Value != "items" {
		t.Fatalf("Fields[0] = %+v", ref.Fields[0])
	}
	if ref.Fields[1].Kind != ast.FieldKindIndex || ref.Fields[1].Value != 0 {
		t.Fatalf("Fields[1] = %+v", ref.Fields[1])
	}
}

func TestParseExecInvocationWithArgs(t *testing.T) {
	d := firstDirective(t, mustParse(t, `/var @x = @greet("world")`))
	inv, ok := d.Value("value").(*ast.ExecInvocation)
	if !ok {
		t.Fatalf("value node = %#v, want *ast.ExecInvocation", d.Value("value"))
	}
	if inv.CommandRef.Identifier != "greet" || len(inv.CommandRef.Args) != 1 {
		t.Fatalf("CommandRef = %+v", inv.CommandRef)
	}
}

func TestParseTernaryExpression(t *testing.T) {
	d := firstDirective(t, mustParse(t, `/var @x = @ready ? "yes" : "no"`))
	if _, ok := d.Value("value").(*ast.TernaryExpression); !ok {
		t.Fatalf("value node = %#v, want *ast.TernaryExpression", d.Value("value"))
	}
}

func TestParseBinaryPrecedence(t *testing.T) {
	d := firstDirective(t, mustParse(t, `/guard @a == 1 && @b == 2`))
	bin, ok := d.Value("condition").(*ast.BinaryExpression)
	if !ok {
		t.Fatalf("condition node = %#v, want *ast.BinaryExpression", d.Value("condition"))
	}
	if bin.Operator != ast.OpAnd {
		t.Fatalf("top-level Operator = %v, want OpAnd (&& binds loosest of the two)", bin.Operator)
	}
}

func TestParseMultiLineDirectiveContinuesUntilBracketsClose(t *testing.T) {
	source := "/exe @build() = command {\necho start\necho end\n}"
	d := firstDirective(t, mustParse(t, source))
	if d.Raw["body"] != "echo start\necho end" {
		t.Fatalf("Raw[body] = %q", d.Raw["body"])
	}
}

func TestParseCommentLines(t *testing.T) {
	nodes := mustParse(t, ">> this is a comment\nsome text\n")
	found := false
	for _, n := range nodes {
		if c, ok := n.(*ast.Comment); ok {
			found = true
			if c.Text != "this is a comment" {
				t.Fatalf("Comment.Text = %q", c.Text)
			}
		}
	}
	if !found {
		t.Fatal("expected a Comment node")
	}
}

func TestParseCodeFence(t *testing.T) {
	source := "```go\nfmt.Println(\"hi\")\n```"
	nodes := mustParse(t, source)
	found := false
	for _, n := range nodes {
		if f, ok := n.(*ast.CodeFence); ok {
			found = true
			if f.Language != "go" {
				t.Fatalf("Language = %q, want go", f.Language)
			}
		}
	}
	if !found {
		t.Fatal("expected a CodeFence node")
	}
}

func TestParseFrontmatter(t *testing.T) {
	source := "---\ntitle: Doc\n---\n/show \"body\"\n"
	nodes, err := parser.ParseDocument(source, "t.mld")
	if err != nil {
		t.Fatalf("ParseDocument error = %v", err)
	}
	fm, ok := nodes[0].(*ast.Frontmatter)
	if !ok {
		t.Fatalf("nodes[0] = %#v, want *ast.Frontmatter", nodes[0])
	}
	if fm.Data["title"] != "Doc" {
		t.Fatalf("Data[title] = %v, want Doc", fm.Data["title"])
	}
}

func TestParsePlainTextLineWithInterpolation(t *testing.T) {
	nodes := mustParse(t, "hello @name, welcome\n")
	foundRef := false
	for _, n := range nodes {
		if ref, ok := n.(*ast.VariableReference); ok && ref.Identifier == "name" {
			foundRef = true
		}
	}
	if !foundRef {
		t.Fatalf("expected a VariableReference for @name among %#v", nodes)
	}
}

func TestParseUnknownDirectiveFallsBackToText(t *testing.T) {
	nodes := mustParse(t, "/notadirective foo\n")
	if _, ok := nodes[0].(*ast.Directive); ok {
		t.Fatal("an unrecognized /keyword should not be parsed as a directive")
	}
}

func TestParserImplementsImporterParser(t *testing.T) {
	s := parser.New()
	nodes, err := s.Parse(`/var @x = 1`, "t.mld")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(nodes) == 0 {
		t.Fatal("expected at least one node")
	}
}
