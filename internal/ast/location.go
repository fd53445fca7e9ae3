// Package ast defines the typed node tree produced by the mlld parser.
//
// The grammar itself (a Peggy-generated parser over the .mld surface syntax)
// is out of scope for this repository; callers obtain a Node tree either
// from internal/parser (a minimal hand-written subset parser) or by
// constructing nodes directly, e.g. from tests.
package ast

import "github.com/google/uuid"

// Position locates a single point in source.
type Position struct {
	Line   int
	Column int
	Offset int
}

// SourceLocation spans a range in a source file.
type SourceLocation struct {
	Start    Position
	End      Position
	FilePath string
}

// Node is implemented by every AST node. nodeId is assigned at construction
// time via NewNodeID so every node in a tree is individually addressable.
type Node interface {
	NodeID() string
	Location() *SourceLocation
}

// NewNodeID mints a fresh node identifier. Grammar-produced nodes call this
// once per node; hand-built nodes (tests, internal/parser) do the same so
// every node — parser- or test-authored — is addressable the same way.
func NewNodeID() string {
	return uuid.NewString()
}

// base is embedded by every concrete node type to supply NodeID/Location.
type base struct {
	id  string
	loc *SourceLocation
}

func newBase(loc *SourceLocation) base {
	return base{id: NewNodeID(), loc: loc}
}

func (b base) NodeID() string            { return b.id }
func (b base) Location() *SourceLocation { return b.loc }
