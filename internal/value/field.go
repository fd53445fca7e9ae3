package value

import (
	"fmt"

	"github.com/mlld-lang/mlld/internal/ast"
)

// reservedMetadataKeys are field names that, on a Variable, return the
// wrapper's own property instead of unwrapping to the raw value
// (spec.md §4.8).
var reservedMetadataKeys = map[string]bool{
	"type": true, "isComplex": true, "source": true, "metadata": true,
}

// FieldAccessError is raised when a field is not found and the caller did
// not opt into ReturnUndefinedForMissing.
type FieldAccessError struct {
	Field any
	On    string
}

func (e *FieldAccessError) Error() string {
	return fmt.Sprintf("field %v not found on %s", e.Field, e.On)
}

// AccessOptions controls accessField's error-vs-undefined and
// ownership-preservation behavior (spec.md §4.8).
type AccessOptions struct {
	ReturnUndefinedForMissing bool
	PreserveContext           bool
}

// AccessResult is returned when PreserveContext is requested.
type AccessResult struct {
	Value         any
	ParentVar     *Variable
	AccessPath    []ast.FieldAccess
	IsVariable    bool
}

// missing is the sentinel returned for an absent field when
// ReturnUndefinedForMissing is set. Callers compare with IsMissing.
type missingType struct{}

var Missing = missingType{}

// IsMissing reports whether v is the Missing sentinel.
func IsMissing(v any) bool {
	_, ok := v.(missingType)
	return ok
}

// AccessField implements spec.md §4.8's resolution order:
//  1. Variable unwrap (unless the field is a reserved metadata key)
//  2. StructuredValue .data then .ctx, else wrapper properties
//  3. object literal / array index
//  4. not found: error or Missing, depending on opts
func AccessField(v any, field ast.FieldAccess, opts AccessOptions) (any, error) {
	if vr, ok := v.(*Variable); ok {
		if name, ok := field.Value.(string); ok && reservedMetadataKeys[name] {
			return variableMetaProperty(vr, name), nil
		}
		return AccessField(vr.Value, field, opts)
	}

	if sv, ok := v.(*StructuredValue); ok {
		return accessStructuredField(sv, field, opts)
	}

	switch field.Kind {
	case ast.FieldKindNamed, ast.FieldKindString, ast.FieldKindBracket:
		name, _ := field.Value.(string)
		switch obj := v.(type) {
		case map[string]any:
			if val, ok := obj[name]; ok {
				return val, nil
			}
			return missing(field, "object", opts)
		case []any:
			// a bracket access with a numeric-looking key on an array
			idx, ok := asIndex(field.Value)
			if !ok {
				return missing(field, "array", opts)
			}
			return accessArrayIndex(obj, idx, field, opts)
		default:
			return missing(field, fmt.Sprintf("%T", v), opts)
		}
	case ast.FieldKindNumeric, ast.FieldKindIndex:
		idx, ok := asIndex(field.Value)
		if !ok {
			return nil, &FieldAccessError{Field: field.Value, On: "array"}
		}
		switch obj := v.(type) {
		case []any:
			return accessArrayIndex(obj, idx, field, opts)
		case []*StructuredValue:
			if idx < 0 || idx >= len(obj) {
				return missing(field, "array", opts)
			}
			return obj[idx], nil
		default:
			return missing(field, fmt.Sprintf("%T", v), opts)
		}
	}
	return missing(field, "value", opts)
}

func accessArrayIndex(arr []any, idx int, field ast.FieldAccess, opts AccessOptions) (any, error) {
	if idx < 0 || idx >= len(arr) {
		return missing(field, "array", opts)
	}
	return arr[idx], nil
}

func asIndex(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		var idx int
		if _, err := fmt.Sscanf(n, "%d", &idx); err == nil {
			return idx, true
		}
	}
	return 0, false
}

func missing(field ast.FieldAccess, on string, opts AccessOptions) (any, error) {
	if opts.ReturnUndefinedForMissing {
		return Missing, nil
	}
	return nil, &FieldAccessError{Field: field.Value, On: on}
}

func variableMetaProperty(v *Variable, name string) any {
	switch name {
	case "type":
		return string(v.Kind)
	case "isComplex":
		return v.Metadata.IsComplex
	case "source":
		return v.Source
	case "metadata":
		return v.Metadata
	}
	return nil
}

// accessStructuredField implements: field on .data wins, then .ctx, then
// wrapper properties (spec.md §4.8).
func accessStructuredField(sv *StructuredValue, field ast.FieldAccess, opts AccessOptions) (any, error) {
	name, isNamed := field.Value.(string)
	if isNamed {
		if data, ok := sv.Data.(map[string]any); ok {
			if val, ok := data[name]; ok {
				return val, nil
			}
		}
		if ctxVal, ok := ctxField(sv.Ctx, name); ok {
			return ctxVal, nil
		}
		if wrapperVal, ok := wrapperProperty(sv, name); ok {
			return wrapperVal, nil
		}
	}
	// numeric/index access against array-shaped .data
	if arr, ok := sv.Data.([]any); ok {
		idx, ok := asIndex(field.Value)
		if ok {
			return accessArrayIndex(arr, idx, field, opts)
		}
	}
	return missing(field, "structured value", opts)
}

func ctxField(c Ctx, name string) (any, bool) {
	switch name {
	case "filename":
		return c.Filename, true
	case "relative":
		return c.Relative, true
	case "absolute":
		return c.Absolute, true
	case "url":
		return c.URL, true
	case "domain":
		return c.Domain, true
	case "title":
		return c.Title, true
	case "description":
		return c.Description, true
	case "status":
		return c.Status, true
	case "headers":
		return c.Headers, true
	case "html":
		return c.HTML, true
	case "tokens":
		return c.Tokens, true
	case "tokest":
		return c.Tokest, true
	case "fm":
		return c.Fm, true
	case "json":
		return c.JSON, true
	case "errors":
		return c.Errors, true
	case "retries":
		return c.Retries, true
	case "source":
		return c.Source, true
	}
	return nil, false
}

func wrapperProperty(sv *StructuredValue, name string) (any, bool) {
	switch name {
	case "text":
		return sv.Text, true
	case "type":
		return string(sv.Type), true
	case "ctx":
		return sv.Ctx, true
	}
	return nil, false
}

// BroadcastField implements the Open Question resolution of SPEC_FULL §10.1:
// field access on a homogeneous []*StructuredValue broadcasts across
// elements; a heterogeneous slice (any nil/non-StructuredValue element)
// errors instead of silently broadcasting partial results.
func BroadcastField(vs []*StructuredValue, field ast.FieldAccess, opts AccessOptions) ([]any, error) {
	out := make([]any, len(vs))
	for i, v := range vs {
		if v == nil {
			return nil, fmt.Errorf("broadcast field access: element %d is nil", i)
		}
		val, err := accessStructuredField(v, field, opts)
		if err != nil {
			return nil, fmt.Errorf("broadcast field access: element %d: %w", i, err)
		}
		out[i] = val
	}
	return out, nil
}
