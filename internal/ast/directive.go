package ast

// DirectiveKind enumerates the slash-directive families of spec.md §1.
type DirectiveKind string

const (
	KindVar        DirectiveKind = "var"
	KindShow       DirectiveKind = "show"
	KindRun        DirectiveKind = "run"
	KindExe        DirectiveKind = "exe"
	KindImport     DirectiveKind = "import"
	KindOutput     DirectiveKind = "output"
	KindWhen       DirectiveKind = "when"
	KindFor        DirectiveKind = "for"
	KindPath       DirectiveKind = "path"
	KindGuard      DirectiveKind = "guard"
	KindBail       DirectiveKind = "bail"
	KindCheckpoint DirectiveKind = "checkpoint"
)

// Directive is the universal directive node. Values/Raw/Meta are keyed by
// slot name; which slots are populated is determined by Subtype. Every slot
// a given Subtype references must be non-empty (spec.md §3.1 invariant).
type Directive struct {
	base
	Kind    DirectiveKind
	Subtype string
	Values  map[string][]Node
	Raw     map[string]string
	Meta    map[string]any
	Source  *SourceLocation
}

func NewDirective(kind DirectiveKind, subtype string, loc *SourceLocation) *Directive {
	return &Directive{
		base:    newBase(loc),
		Kind:    kind,
		Subtype: subtype,
		Values:  make(map[string][]Node),
		Raw:     make(map[string]string),
		Meta:    make(map[string]any),
	}
}

// Value returns the first node in slot name, or nil if the slot is empty.
func (d *Directive) Value(name string) Node {
	nodes := d.Values[name]
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

// RequireSlots validates the invariant that every slot in names is populated.
// Grammar output should never violate this; it is checked defensively by
// the directive handlers in internal/directive before they evaluate a slot.
func (d *Directive) RequireSlots(names ...string) []string {
	var missing []string
	for _, n := range names {
		if len(d.Values[n]) == 0 {
			missing = append(missing, n)
		}
	}
	return missing
}
