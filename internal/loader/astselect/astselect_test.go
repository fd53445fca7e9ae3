package astselect_test

import (
	"strings"
	"testing"

	"github.com/mlld-lang/mlld/internal/loader/astselect"
)

func TestGetExtractorGrammarBackedExtensions(t *testing.T) {
	f := astselect.NewFactory()
	for _, name := range []string{"main.go", "app.js", "component.jsx", "script.py"} {
		t.Run(name, func(t *testing.T) {
			_, grammarBacked := f.GetExtractor(name)
			if !grammarBacked {
				t.Errorf("GetExtractor(%q) grammarBacked = false, want true", name)
			}
		})
	}
}

func TestGetExtractorFallsBackForUnknownExtension(t *testing.T) {
	f := astselect.NewFactory()
	_, grammarBacked := f.GetExtractor("notes.txt")
	if grammarBacked {
		t.Fatal("GetExtractor(.txt) grammarBacked = true, want false (fallback)")
	}
}

func TestExtractFindsGoFunction(t *testing.T) {
	f := astselect.NewFactory()
	ext, _ := f.GetExtractor("main.go")
	src := "package main\n\nfunc Helper() {\n\treturn\n}\n\nfunc main() {\n\tHelper()\n}\n"
	got, err := ext.Extract(src, "Helper")
	if err != nil {
		t.Fatalf("Extract error = %v", err)
	}
	if !strings.Contains(got, "func Helper()") {
		t.Fatalf("Extract result = %q, want it to contain the Helper declaration", got)
	}
	if strings.Contains(got, "func main()") {
		t.Fatalf("Extract result = %q, should stop before the next top-level declaration", got)
	}
}

func TestExtractMissingSelectorErrors(t *testing.T) {
	f := astselect.NewFactory()
	ext, _ := f.GetExtractor("main.go")
	if _, err := ext.Extract("package main\n", "NoSuchFunc"); err == nil {
		t.Fatal("expected an error for a selector with no matching declaration")
	}
}

func TestExtractFallbackHandlesPythonDef(t *testing.T) {
	f := astselect.NewFactory()
	ext, grammarBacked := f.GetExtractor("script.sh")
	if grammarBacked {
		t.Fatal("script.sh should use the regex fallback, not a grammar extractor")
	}
	src := "def greet():\n    print('hi')\n\ndef other():\n    pass\n"
	got, err := ext.Extract(src, "greet")
	if err != nil {
		t.Fatalf("Extract error = %v", err)
	}
	if !strings.Contains(got, "def greet()") || strings.Contains(got, "def other()") {
		t.Fatalf("Extract result = %q", got)
	}
}
