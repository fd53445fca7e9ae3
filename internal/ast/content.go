package ast

// ValueType discriminates the primitive type carried by a Literal node.
type ValueType string

const (
	ValueTypeString ValueType = "string"
	ValueTypeNumber ValueType = "number"
	ValueTypeBool   ValueType = "bool"
	ValueTypeNull   ValueType = "null"
)

// Text is a run of plain document text emitted verbatim between directives.
type Text struct {
	base
	Content string
}

func NewText(content string, loc *SourceLocation) *Text {
	return &Text{base: newBase(loc), Content: content}
}

// Newline is a single line break preserved for identity round-tripping of
// document-mode content (spec.md §8 "Round-trip laws").
type Newline struct{ base }

func NewNewline(loc *SourceLocation) *Newline { return &Newline{base: newBase(loc)} }

// Frontmatter is a leading YAML block (`---\n...\n---`).
type Frontmatter struct {
	base
	Raw  string
	Data map[string]any
}

func NewFrontmatter(raw string, data map[string]any, loc *SourceLocation) *Frontmatter {
	return &Frontmatter{base: newBase(loc), Raw: raw, Data: data}
}

// Comment is a `>>` or `<<` line comment; it never contributes to output.
type Comment struct {
	base
	Text string
}

func NewComment(text string, loc *SourceLocation) *Comment {
	return &Comment{base: newBase(loc), Text: text}
}

// CodeFence is a fenced code block, optionally tagged with a language.
type CodeFence struct {
	base
	Language string
	Content  string
}

func NewCodeFence(language, content string, loc *SourceLocation) *CodeFence {
	return &CodeFence{base: newBase(loc), Language: language, Content: content}
}

// Sequence groups nodes evaluated in order as a single Node, for directive
// slots that hold a body of multiple statements rather than one expression
// (e.g. a /for or /when action block with several lines) — mirroring how
// Directive.Values already stores []Node per slot, lifted to a Node so a
// single slot can still hold it.
type Sequence struct {
	base
	Nodes []Node
}

func NewSequence(nodes []Node, loc *SourceLocation) *Sequence {
	return &Sequence{base: newBase(loc), Nodes: nodes}
}

// SectionMarker marks a Markdown heading used as a section-extraction anchor.
type SectionMarker struct {
	base
	Value string
}

func NewSectionMarker(value string, loc *SourceLocation) *SectionMarker {
	return &SectionMarker{base: newBase(loc), Value: value}
}

// ErrorNode preserves a recovered parse error inline so permissive-mode
// evaluation can continue past it (spec.md §7 propagation policy).
type ErrorNode struct {
	base
	Err     error
	Partial bool
}

func NewErrorNode(err error, partial bool, loc *SourceLocation) *ErrorNode {
	return &ErrorNode{base: newBase(loc), Err: err, Partial: partial}
}

// DotSeparator and PathSeparator are structural tokens retained in the tree
// so field-access chains and path expressions can be re-rendered losslessly.
type DotSeparator struct{ base }

func NewDotSeparator(loc *SourceLocation) *DotSeparator { return &DotSeparator{base: newBase(loc)} }

type PathSeparator struct{ base }

func NewPathSeparator(loc *SourceLocation) *PathSeparator {
	return &PathSeparator{base: newBase(loc)}
}

// Literal is an inline scalar value.
type Literal struct {
	base
	Value     any
	ValueType ValueType
}

func NewLiteral(value any, vt ValueType, loc *SourceLocation) *Literal {
	return &Literal{base: newBase(loc), Value: value, ValueType: vt}
}
