package value_test

import (
	"testing"

	"github.com/mlld-lang/mlld/internal/ast"
	"github.com/mlld-lang/mlld/internal/value"
)

func named(name string) ast.FieldAccess {
	return ast.FieldAccess{Kind: ast.FieldKindNamed, Value: name}
}

func index(i int) ast.FieldAccess {
	return ast.FieldAccess{Kind: ast.FieldKindIndex, Value: i}
}

func TestAccessField_ObjectAndArray(t *testing.T) {
	obj := map[string]any{"a": 1}
	if got, err := value.AccessField(obj, named("a"), value.AccessOptions{}); err != nil || got != 1 {
		t.Fatalf("AccessField(obj.a) = %v, %v", got, err)
	}
	if _, err := value.AccessField(obj, named("missing"), value.AccessOptions{}); err == nil {
		t.Fatal("expected error for missing object field")
	}
	if got, err := value.AccessField(obj, named("missing"), value.AccessOptions{ReturnUndefinedForMissing: true}); err != nil || !value.IsMissing(got) {
		t.Fatalf("AccessField(missing, undefined-ok) = %v, %v", got, err)
	}

	arr := []any{"x", "y", "z"}
	if got, err := value.AccessField(arr, index(1), value.AccessOptions{}); err != nil || got != "y" {
		t.Fatalf("AccessField(arr[1]) = %v, %v", got, err)
	}
	if _, err := value.AccessField(arr, index(10), value.AccessOptions{}); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestAccessField_VariableUnwrap(t *testing.T) {
	v := value.NewObjectVariable("o", map[string]any{"a": 1}, value.VariableSource{})
	if got, err := value.AccessField(v, named("a"), value.AccessOptions{}); err != nil || got != 1 {
		t.Fatalf("AccessField through variable = %v, %v", got, err)
	}
	if got, err := value.AccessField(v, named("type"), value.AccessOptions{}); err != nil || got != string(value.KindObject) {
		t.Fatalf("AccessField(type) reserved key = %v, %v", got, err)
	}
}

func TestAccessField_StructuredDataCtxPriority(t *testing.T) {
	sv := value.NewStructuredValue(value.StructuredObj, `{"title":"from-data"}`,
		map[string]any{"title": "from-data"},
		value.Ctx{Title: "from-ctx", Filename: "f.md"})

	got, err := value.AccessField(sv, named("title"), value.AccessOptions{})
	if err != nil || got != "from-data" {
		t.Fatalf(".data field must win over .ctx: got %v, %v", got, err)
	}

	got, err = value.AccessField(sv, named("filename"), value.AccessOptions{})
	if err != nil || got != "f.md" {
		t.Fatalf(".ctx fallback failed: got %v, %v", got, err)
	}

	got, err = value.AccessField(sv, named("text"), value.AccessOptions{})
	if err != nil || got != sv.Text {
		t.Fatalf("wrapper property fallback failed: got %v, %v", got, err)
	}
}

func TestBroadcastField(t *testing.T) {
	mk := func(title string) *value.StructuredValue {
		return value.NewStructuredValue(value.StructuredObj, "", map[string]any{"title": title}, value.Ctx{})
	}
	vs := []*value.StructuredValue{mk("a"), mk("b")}
	got, err := value.BroadcastField(vs, named("title"), value.AccessOptions{})
	if err != nil {
		t.Fatalf("BroadcastField error: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("BroadcastField = %#v", got)
	}

	if _, err := value.BroadcastField([]*value.StructuredValue{mk("a"), nil}, named("title"), value.AccessOptions{}); err == nil {
		t.Fatal("expected error for nil element in BroadcastField")
	}
}
