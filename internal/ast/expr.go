package ast

// BinaryOperator enumerates the operators accepted by internal/condition.
type BinaryOperator string

const (
	OpAnd  BinaryOperator = "&&"
	OpOr   BinaryOperator = "||"
	OpEq   BinaryOperator = "=="
	OpNeq  BinaryOperator = "!="
	OpLt   BinaryOperator = "<"
	OpLte  BinaryOperator = "<="
	OpGt   BinaryOperator = ">"
	OpGte  BinaryOperator = ">="
	OpAdd  BinaryOperator = "+"
	OpSub  BinaryOperator = "-"
	OpMul  BinaryOperator = "*"
	OpDiv  BinaryOperator = "/"
	OpMod  BinaryOperator = "%"
)

// BinaryExpression is a two-operand eager expression; && and || short-circuit.
type BinaryExpression struct {
	base
	Operator BinaryOperator
	Left     Node
	Right    Node
}

func NewBinaryExpression(op BinaryOperator, left, right Node, loc *SourceLocation) *BinaryExpression {
	return &BinaryExpression{base: newBase(loc), Operator: op, Left: left, Right: right}
}

// TernaryExpression is `cond ? whenTrue : whenFalse`.
type TernaryExpression struct {
	base
	Condition Node
	WhenTrue  Node
	WhenFalse Node
}

func NewTernaryExpression(cond, t, f Node, loc *SourceLocation) *TernaryExpression {
	return &TernaryExpression{base: newBase(loc), Condition: cond, WhenTrue: t, WhenFalse: f}
}

// UnaryOperator enumerates prefix operators.
type UnaryOperator string

const (
	UnaryNot UnaryOperator = "!"
	UnaryNeg UnaryOperator = "-"
)

// UnaryExpression is a single-operand prefix expression.
type UnaryExpression struct {
	base
	Operator UnaryOperator
	Operand  Node
}

func NewUnaryExpression(op UnaryOperator, operand Node, loc *SourceLocation) *UnaryExpression {
	return &UnaryExpression{base: newBase(loc), Operator: op, Operand: operand}
}

// NegationNode wraps a condition in an explicit `!(...)`-style boolean negation,
// kept distinct from UnaryExpression because the parser emits it from a
// different production (guard/when bodies rather than arithmetic).
type NegationNode struct {
	base
	Condition Node
}

func NewNegationNode(condition Node, loc *SourceLocation) *NegationNode {
	return &NegationNode{base: newBase(loc), Condition: condition}
}

// WhenMode selects the cascade-evaluation strategy of a WhenExpression.
type WhenMode string

const (
	WhenModeFirst WhenMode = "first"
	WhenModeAny   WhenMode = "any"
	WhenModeAll   WhenMode = "all"
)

// WhenCase is one `condition => action` row of a when-block; Condition == nil
// represents the `*`/`none` wildcard row.
type WhenCase struct {
	Condition Node
	Action    Node
}

// WhenExpression is the cascade form of `/when [...]`.
type WhenExpression struct {
	base
	Mode  WhenMode
	Cases []WhenCase
}

func NewWhenExpression(mode WhenMode, cases []WhenCase, loc *SourceLocation) *WhenExpression {
	return &WhenExpression{base: newBase(loc), Mode: mode, Cases: cases}
}

// ForExpression is `for [parallel(N)] @x in @xs => body`.
type ForExpression struct {
	base
	Variable    string
	Collection  Node
	Body        Node
	Parallel    bool
	Concurrency int // 0 means unbounded when Parallel is true
}

func NewForExpression(variable string, collection, body Node, loc *SourceLocation) *ForExpression {
	return &ForExpression{base: newBase(loc), Variable: variable, Collection: collection, Body: body}
}

// CommandRef is the target of an ExecInvocation: `@name(args).fields`.
type CommandRef struct {
	Identifier string
	Args       []Node
	Fields     []FieldAccess
}

// WithClause carries the trailing `with { pipeline: [...], timeout: ... }`
// attached to an ExecInvocation.
type WithClause struct {
	Pipeline []PipelineStageSpec
	Timeout  int // milliseconds, 0 = none
}

// PipelineStageSpec is one parsed `| @fn(args)` stage, possibly an effect
// marker (`@log(...)`) which does not count toward stage indices.
type PipelineStageSpec struct {
	Name   string
	Args   []Node
	Effect bool
	Format string // declared input-format hint, e.g. "json"
}

// ExecInvocation calls a user-defined executable, optionally piping its
// result through a trailing pipeline.
type ExecInvocation struct {
	base
	CommandRef  CommandRef
	WithClause  *WithClause
}

func NewExecInvocation(ref CommandRef, with *WithClause, loc *SourceLocation) *ExecInvocation {
	return &ExecInvocation{base: newBase(loc), CommandRef: ref, WithClause: with}
}

// FileReferenceMeta records parser hints about an alligator reference.
type FileReferenceMeta struct {
	IsFileReference bool
	HasGlob         bool
	IsPlaceholder   bool
}

// FileReferenceNode is alligator syntax: `<file.ext # section | @pipe as "pattern">`.
type FileReferenceNode struct {
	base
	Source  string
	Fields  []FieldAccess
	Pipes   []CondensedPipe
	Meta    FileReferenceMeta
	Section string
	As      string
}

func NewFileReferenceNode(source string, loc *SourceLocation) *FileReferenceNode {
	return &FileReferenceNode{base: newBase(loc), Source: source}
}
