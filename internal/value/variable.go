// Package value implements the tagged-union Variable record and the
// StructuredValue content wrapper described in spec.md §3.2-3.3.
//
// The predicate/constant style here is lifted from the teacher's
// pkg/llm/types.go, which models Role/ContentType as string-constant sets
// with switch-based helpers instead of a sealed interface hierarchy —
// idiomatic for a small closed enumeration that crosses JSON/IPC boundaries.
package value

import "github.com/mlld-lang/mlld/internal/ast"

// Kind is the variable-kind discriminator (spec.md §3.2, 15 values).
type Kind string

const (
	KindSimpleText       Kind = "simple-text"
	KindInterpolatedText Kind = "interpolated-text"
	KindTemplate         Kind = "template"
	KindFileContent      Kind = "file-content"
	KindSectionContent   Kind = "section-content"
	KindObject           Kind = "object"
	KindArray            Kind = "array"
	KindComputed         Kind = "computed"
	KindCommandResult    Kind = "command-result"
	KindPath             Kind = "path"
	KindImported         Kind = "imported"
	KindExecutable       Kind = "executable"
	KindPipelineInput    Kind = "pipeline-input"
	KindPrimitive        Kind = "primitive"
	KindStructured       Kind = "structured"
)

// textLike, structuredKinds, and externalKinds back the composite predicates
// of spec.md §3.2.
var textLike = map[Kind]bool{
	KindSimpleText:       true,
	KindInterpolatedText: true,
	KindTemplate:         true,
	KindFileContent:      true,
	KindSectionContent:   true,
	KindCommandResult:    true,
}

var structuredKinds = map[Kind]bool{
	KindObject:     true,
	KindArray:      true,
	KindStructured: true,
}

var externalKinds = map[Kind]bool{
	KindFileContent:    true,
	KindSectionContent: true,
	KindImported:       true,
	KindCommandResult:  true,
	KindComputed:       true,
}

// IsTextLike reports whether k is one of the textLike composite kinds.
func IsTextLike(k Kind) bool { return textLike[k] }

// IsStructuredKind reports whether k is one of the structured composite kinds.
func IsStructuredKind(k Kind) bool { return structuredKinds[k] }

// IsExternal reports whether k is one of the external composite kinds.
func IsExternal(k Kind) bool { return externalKinds[k] }

// VariableSource records how a variable's value was produced.
type VariableSource struct {
	Directive        ast.DirectiveKind
	Syntax           string
	HasInterpolation bool
	IsMultiLine      bool
}

// SecurityDescriptor labels a variable's trust/capability class, attached by
// `/var secret @x = ...`-style type annotations (spec.md §4.2).
type SecurityDescriptor struct {
	Label string
	Trust string
}

// CapabilityContext carries the capability label propagated across imports.
type CapabilityContext struct {
	Capability string
}

// VariableMetadata carries the optional provenance fields of spec.md §3.2.
type VariableMetadata struct {
	DefinedAt  *ast.SourceLocation
	IsImported bool
	ImportPath string
	IsSystem   bool
	IsComplex  bool
	Security   *SecurityDescriptor
	Capability *CapabilityContext
	ArrayType  string // "load-content-result" | "renamed-content" | "structured"
}

// PipelineInputValue is the Value payload for KindPipelineInput variables:
// bound only inside a pipeline stage environment (spec.md §3.2 invariant d).
type PipelineInputValue struct {
	Format string
	Raw    string
	Data   any
}

// Variable is the tagged record of spec.md §3.2.
type Variable struct {
	Kind     Kind
	Name     string
	Value    any
	Source   VariableSource
	Metadata VariableMetadata
}

// NewSimpleTextVariable builds a simple-text variable, grounded on
// pkg/llm/types.go's TextMessage convenience constructor.
func NewSimpleTextVariable(name, text string, src VariableSource) *Variable {
	return &Variable{Kind: KindSimpleText, Name: name, Value: text, Source: src}
}

// NewObjectVariable builds an object-kind variable.
func NewObjectVariable(name string, obj map[string]any, src VariableSource) *Variable {
	return &Variable{Kind: KindObject, Name: name, Value: obj, Source: src}
}

// NewArrayVariable builds an array-kind variable.
func NewArrayVariable(name string, arr []any, src VariableSource) *Variable {
	return &Variable{Kind: KindArray, Name: name, Value: arr, Source: src}
}

// NewExecutableVariable builds an executable-kind variable. Executable
// variables are immutable once defined (spec.md §3.2 invariant b) — callers
// must not call Environment.Set again for a name already bound to one.
func NewExecutableVariable(name string, body any, src VariableSource) *Variable {
	return &Variable{Kind: KindExecutable, Name: name, Value: body, Source: src}
}

// NewImportedVariable re-homes an existing variable at an import site,
// retaining its kind/value but stamping import provenance (spec.md §4.4
// "Imported variables are re-created with isImported=true, importPath=...").
func NewImportedVariable(original *Variable, importPath string) *Variable {
	clone := *original
	clone.Metadata.IsImported = true
	clone.Metadata.ImportPath = importPath
	return &clone
}

// NewPipelineInputVariable builds the `@input` binding of a pipeline stage.
func NewPipelineInputVariable(format, raw string, data any) *Variable {
	return &Variable{
		Kind: KindPipelineInput,
		Name: "input",
		Value: PipelineInputValue{
			Format: format,
			Raw:    raw,
			Data:   data,
		},
	}
}

// Valid reports the invariant of spec.md §8 property 1: the name is a valid
// identifier and the value's shape matches the declared kind.
func (v *Variable) Valid() bool {
	if !ast.IsValidIdentifier(v.Name) {
		return false
	}
	switch v.Kind {
	case KindObject:
		_, ok := v.Value.(map[string]any)
		return ok
	case KindArray:
		_, ok := v.Value.([]any)
		return ok
	case KindPipelineInput:
		_, ok := v.Value.(PipelineInputValue)
		return ok
	default:
		return true
	}
}
