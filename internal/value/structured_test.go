package value_test

import (
	"testing"

	"github.com/mlld-lang/mlld/internal/value"
)

func TestIsStructured(t *testing.T) {
	sv := value.NewStructuredValue(value.StructuredText, "hi", "hi", value.Ctx{})
	if !value.IsStructured(sv) {
		t.Fatal("expected IsStructured(sv) = true")
	}
	if value.IsStructured("plain string") {
		t.Fatal("expected IsStructured(plain string) = false")
	}
	if value.IsStructured(nil) {
		t.Fatal("expected IsStructured(nil) = false")
	}
}

func TestAsText(t *testing.T) {
	if got := value.AsText(nil); got != "" {
		t.Fatalf("AsText(nil) = %q, want empty", got)
	}
	sv := value.NewStructuredValue(value.StructuredText, "hello", nil, value.Ctx{})
	if got := value.AsText(sv); got != "hello" {
		t.Fatalf("AsText = %q, want %q", got, "hello")
	}
}

func TestAsData(t *testing.T) {
	tests := []struct {
		name    string
		sv      *value.StructuredValue
		want    any
		wantErr bool
	}{
		{
			name: "precomputed data returned as-is",
			sv:   value.NewStructuredValue(value.StructuredObj, `{"a":1}`, map[string]any{"a": float64(1)}, value.Ctx{}),
			want: map[string]any{"a": float64(1)},
		},
		{
			name: "json re-parsed from text on demand",
			sv:   value.NewStructuredValue(value.StructuredJSON, `{"a":1}`, nil, value.Ctx{}),
			want: map[string]any{"a": float64(1)},
		},
		{
			name:    "malformed json",
			sv:      value.NewStructuredValue(value.StructuredJSON, `{not json`, nil, value.Ctx{}),
			wantErr: true,
		},
		{
			name: "jsonl re-parsed line by line",
			sv:   value.NewStructuredValue(value.StructuredJSONL, "{\"a\":1}\n{\"a\":2}\n", nil, value.Ctx{}),
			want: []any{map[string]any{"a": float64(1)}, map[string]any{"a": float64(2)}},
		},
		{
			name: "plain text falls through to .Text",
			sv:   value.NewStructuredValue(value.StructuredText, "plain", nil, value.Ctx{}),
			want: "plain",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := value.AsData(tt.sv)
			if (err != nil) != tt.wantErr {
				t.Fatalf("AsData() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if arr, ok := tt.want.([]any); ok {
				gotArr, ok := got.([]any)
				if !ok || len(gotArr) != len(arr) {
					t.Fatalf("AsData() = %#v, want %#v", got, tt.want)
				}
				return
			}
			if m, ok := tt.want.(map[string]any); ok {
				gotMap, ok := got.(map[string]any)
				if !ok || len(gotMap) != len(m) {
					t.Fatalf("AsData() = %#v, want %#v", got, tt.want)
				}
				return
			}
			if got != tt.want {
				t.Fatalf("AsData() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestProbeField(t *testing.T) {
	sv := value.NewStructuredValue(value.StructuredJSON, `{"name":"ada","tags":["x","y"]}`, nil, value.Ctx{})
	if r, ok := value.ProbeField(sv, "name"); !ok || r.String() != "ada" {
		t.Fatalf("ProbeField(name) = %v, %v", r, ok)
	}
	if r, ok := value.ProbeField(sv, "tags.1"); !ok || r.String() != "y" {
		t.Fatalf("ProbeField(tags.1) = %v, %v", r, ok)
	}
	if _, ok := value.ProbeField(sv, "missing"); ok {
		t.Fatal("ProbeField(missing) should not exist")
	}

	text := value.NewStructuredValue(value.StructuredText, "plain", nil, value.Ctx{})
	if _, ok := value.ProbeField(text, "name"); ok {
		t.Fatal("ProbeField on a StructuredText value should never match")
	}
	if _, ok := value.ProbeField(nil, "name"); ok {
		t.Fatal("ProbeField(nil) should not match")
	}
}

func TestSetJSONField(t *testing.T) {
	out, err := value.SetJSONField(`{"a":1}`, "b", 2)
	if err != nil {
		t.Fatalf("SetJSONField error: %v", err)
	}
	sv := value.NewStructuredValue(value.StructuredJSON, out, nil, value.Ctx{})
	if r, ok := value.ProbeField(sv, "b"); !ok || r.Int() != 2 {
		t.Fatalf("SetJSONField did not merge: %s", out)
	}
	if r, ok := value.ProbeField(sv, "a"); !ok || r.Int() != 1 {
		t.Fatalf("SetJSONField lost existing field: %s", out)
	}

	// An empty existing document is treated as "{}" rather than erroring.
	out, err = value.SetJSONField("", "x", "y")
	if err != nil {
		t.Fatalf("SetJSONField(empty doc) error: %v", err)
	}
	if out != `{"x":"y"}` {
		t.Fatalf("SetJSONField(empty doc) = %q", out)
	}
}

func TestConcatText(t *testing.T) {
	vs := []*value.StructuredValue{
		value.NewStructuredValue(value.StructuredText, "one", nil, value.Ctx{}),
		value.NewStructuredValue(value.StructuredText, "two", nil, value.Ctx{}),
	}
	got := value.ConcatText(vs)
	want := "one\n\ntwo"
	if got != want {
		t.Fatalf("ConcatText() = %q, want %q", got, want)
	}
	if got := value.ConcatText(nil); got != "" {
		t.Fatalf("ConcatText(nil) = %q, want empty", got)
	}
}

func TestKeep(t *testing.T) {
	sv := value.NewStructuredValue(value.StructuredText, "x", nil, value.Ctx{})
	if value.Keep(sv) != sv {
		t.Fatal("Keep must return the same pointer")
	}
}
