package value

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// StructuredType discriminates what .Data holds.
type StructuredType string

const (
	StructuredText  StructuredType = "text"
	StructuredObj   StructuredType = "object"
	StructuredArr   StructuredType = "array"
	StructuredHTML  StructuredType = "html"
	StructuredJSON  StructuredType = "json"
	StructuredJSONL StructuredType = "jsonl"
)

// Ctx is the metadata surface of a StructuredValue (spec.md §3.3).
type Ctx struct {
	Filename    string
	Relative    string
	Absolute    string
	URL         string
	Domain      string
	Title       string
	Description string
	Status      int
	Headers     map[string]string
	HTML        string
	Tokens      int
	Tokest      int
	Fm          map[string]any
	JSON        bool
	Errors      []error
	Retries     int
	Source      string
	Extractor   string // "tree-sitter" | "fallback", set by internal/loader
}

// Mx carries optional security/provenance labels threaded across host
// boundaries alongside the wrapper (spec.md §3.3).
type Mx struct {
	Labels []string
}

// structuredMarker is the nominal nothing-field tag from §9 Design Notes:
// "use a newtype with an explicit kind field and a nominal type tag" in a
// target language without symbols. IsStructured does not read it; it uses
// a single type assertion.
type structuredMarker struct{}

// StructuredValue is the content-first wrapper of spec.md §3.3.
type StructuredValue struct {
	marker structuredMarker
	Type   StructuredType
	Text   string
	Data   any
	Ctx    Ctx
	Mx     *Mx
}

// NewStructuredValue builds a StructuredValue. text is canonical display
// text; data is the parsed representation (same value as text for
// StructuredText).
func NewStructuredValue(t StructuredType, text string, data any, ctx Ctx) *StructuredValue {
	return &StructuredValue{marker: structuredMarker{}, Type: t, Text: text, Data: data, Ctx: ctx}
}

// IsStructured reports whether v is a *StructuredValue, via a single type
// assertion.
func IsStructured(v any) bool {
	_, ok := v.(*StructuredValue)
	return ok
}

// AsText returns v.Text — defined as identical to direct field access but
// exported so callers needn't special-case nil.
func AsText(v *StructuredValue) string {
	if v == nil {
		return ""
	}
	return v.Text
}

// StructuredCoerceError is raised by AsData when .Data is not parseable for
// the declared Type.
type StructuredCoerceError struct {
	Type StructuredType
	Err  error
}

func (e *StructuredCoerceError) Error() string {
	return fmt.Sprintf("cannot coerce structured value of type %q to data: %v", e.Type, e.Err)
}
func (e *StructuredCoerceError) Unwrap() error { return e.Err }

// AsData returns v.Data, re-parsing from Text on demand for JSON/JSONL types
// whose Data was not pre-computed.
func AsData(v *StructuredValue) (any, error) {
	if v == nil {
		return nil, nil
	}
	if v.Data != nil {
		return v.Data, nil
	}
	switch v.Type {
	case StructuredJSON:
		var out any
		if err := json.Unmarshal([]byte(v.Text), &out); err != nil {
			return nil, &StructuredCoerceError{Type: v.Type, Err: err}
		}
		return out, nil
	case StructuredJSONL:
		var rows []any
		for i, line := range splitLines(v.Text) {
			if line == "" {
				continue
			}
			var row any
			if err := json.Unmarshal([]byte(line), &row); err != nil {
				return nil, &StructuredCoerceError{Type: v.Type, Err: fmt.Errorf("line %d: %w", i+1, err)}
			}
			rows = append(rows, row)
		}
		return rows, nil
	default:
		return v.Text, nil
	}
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

// Keep returns v unchanged — the identity function documents the invariant
// that StructuredValue wrappers must survive JS/host bridge round-trips
// (spec.md §3.3 "keep(v) preserves the wrapper"); Go callers never lose the
// wrapper by accident the way a JS proxy unwrap might, but the function
// exists so call sites that mirror the bridge contract read the same way
// on both sides.
func Keep(v *StructuredValue) *StructuredValue { return v }

// ProbeField reads a field from the JSON text of a StructuredValue using
// gjson, without a full unmarshal. AccessField does not call it; field
// access reads the wrapper's .Data directly.
func ProbeField(v *StructuredValue, path string) (gjson.Result, bool) {
	if v == nil || v.Type != StructuredJSON && v.Type != StructuredArr && v.Type != StructuredObj {
		return gjson.Result{}, false
	}
	r := gjson.Get(v.Text, path)
	return r, r.Exists()
}

// SetJSONField writes val at path in a JSON document's text using sjson,
// the write-side counterpart to ProbeField: it patches a single field
// without decoding and re-encoding the whole document. An empty doc is
// treated as "{}"; a malformed one is not replaced. Used by /output's file route (§4.4)
// to merge a value into an existing JSON file rather than overwrite it.
func SetJSONField(doc, path string, val any) (string, error) {
	if doc == "" {
		doc = "{}"
	}
	return sjson.Set(doc, path, val)
}

// ConcatText joins the .Text of a slice of StructuredValues with blank-line
// separators, per spec.md §3.3 "arrays of StructuredValues concatenate
// .text with \n\n in display contexts".
func ConcatText(vs []*StructuredValue) string {
	out := ""
	for i, v := range vs {
		if i > 0 {
			out += "\n\n"
		}
		out += AsText(v)
	}
	return out
}
