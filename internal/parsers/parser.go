// Package parsers turns Python source into the syntax trees consumed by the
// dependency analysis.
//
// The tree is deliberately small: it keeps declarations, imports, calls and
// the name/attribute expressions the resolver needs, plus a line span on
// every node. Everything else is folded into NodeOther so that calls nested
// inside arbitrary statements are still reachable.
package parsers

import (
	"errors"
)

// ErrUnparseable is returned when a file's syntax tree cannot be obtained.
// Callers skip the file and continue with the rest of the project.
var ErrUnparseable = errors.New("unparseable file")

// NodeKind tags a syntax node.
type NodeKind string

const (
	NodeModule     NodeKind = "module"
	NodeImport     NodeKind = "import"
	NodeImportFrom NodeKind = "import_from"
	NodeAlias      NodeKind = "alias"
	NodeClass      NodeKind = "class"
	NodeFunction   NodeKind = "function"
	NodeCall       NodeKind = "call"
	NodeName       NodeKind = "name"
	NodeAttribute  NodeKind = "attribute"
	NodeOther      NodeKind = "other"
)

// WildcardName is the alias name recorded for `from m import *`.
const WildcardName = "*"

// Node is one node of a parsed file.
type Node struct {
	// Kind is the node kind.
	Kind NodeKind

	// Name is the identifier text. For NodeImportFrom it is the source
	// module (without leading dots), for NodeAlias the imported dotted name,
	// for NodeAttribute the attribute after the dot.
	Name string

	// Alias is the local name given with `as` (NodeAlias only).
	Alias string

	// Level is the number of leading dots of a relative import
	// (NodeImportFrom only).
	Level int

	// Bases are the base-class expressions of a NodeClass.
	Bases []*Node

	// Signature holds the parameters and return annotation of a
	// NodeFunction, or the keyword and splat arguments of a NodeClass.
	// These are evaluated in the scope enclosing the definition.
	Signature []*Node

	// Func is the callee expression of a NodeCall.
	Func *Node

	// Value is the receiver expression of a NodeAttribute.
	Value *Node

	// Children are the nested nodes: aliases of an import, the body of a
	// class or function, the arguments of a call.
	Children []*Node

	// StartLine is the first line of the node (1-based).
	StartLine int

	// EndLine is the last line of the node (1-based).
	EndLine int
}

// Parser defines the interface for source parsers.
type Parser interface {
	// Parse parses source code into a syntax tree rooted at a NodeModule.
	Parse(filePath string, content []byte) (*Node, error)

	// Language returns the language this parser handles.
	Language() string
}

// Chain flattens a name or attribute expression into its dotted segments:
// `a.b.c` becomes ["a", "b", "c"]. The second return value is false when
// the expression is anything else (a call result, a subscript, a literal).
func Chain(n *Node) ([]string, bool) {
	if n == nil {
		return nil, false
	}
	switch n.Kind {
	case NodeName:
		if n.Name == "" {
			return nil, false
		}
		return []string{n.Name}, true
	case NodeAttribute:
		base, ok := Chain(n.Value)
		if !ok || n.Name == "" {
			return nil, false
		}
		return append(base, n.Name), true
	default:
		return nil, false
	}
}

// Walk calls fn for n and every node reachable from it, depth first in
// source order. Returning false from fn skips the node's descendants.
func Walk(n *Node, fn func(*Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for _, b := range n.Bases {
		Walk(b, fn)
	}
	for _, s := range n.Signature {
		Walk(s, fn)
	}
	Walk(n.Func, fn)
	Walk(n.Value, fn)
	for _, c := range n.Children {
		Walk(c, fn)
	}
}
