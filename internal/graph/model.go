// Package graph provides the dependency graph data model for pydeps.
//
// It defines the entity identifiers, the dependency edges between them
// (inherits, calls, imports), and the set types used to hold both.
package graph

import (
	"sort"
	"strings"
)

// RelType represents the kind of dependency between two entities.
type RelType string

const (
	RelInherits RelType = "inherits"
	RelCalls    RelType = "calls"
	RelImports  RelType = "imports"
)

// RelTypes lists every known relationship kind in a stable order.
var RelTypes = []RelType{RelInherits, RelCalls, RelImports}

// ParseRelType converts a string into a RelType.
// The second return value is false for unknown kinds.
func ParseRelType(s string) (RelType, bool) {
	switch RelType(strings.ToLower(strings.TrimSpace(s))) {
	case RelInherits:
		return RelInherits, true
	case RelCalls:
		return RelCalls, true
	case RelImports:
		return RelImports, true
	default:
		return "", false
	}
}

// DependencyEdge is a directed dependency from one entity to another.
//
// Source is always a fully-qualified entity id. Target is the resolver's
// best-effort candidate and may name an external symbol that the project
// never declares. Kind is part of the edge identity, so an inherits edge and
// a calls edge between the same pair are distinct.
type DependencyEdge struct {
	Source string
	Target string
	Kind   RelType
}

// EdgeSet is a set of dependency edges.
type EdgeSet map[DependencyEdge]struct{}

// NewEdgeSet creates an edge set holding the given edges.
func NewEdgeSet(edges ...DependencyEdge) EdgeSet {
	s := make(EdgeSet, len(edges))
	for _, e := range edges {
		s[e] = struct{}{}
	}
	return s
}

// Add inserts an edge. Duplicates collapse.
func (s EdgeSet) Add(source, target string, kind RelType) {
	s[DependencyEdge{Source: source, Target: target, Kind: kind}] = struct{}{}
}

// Has reports whether the edge is present.
func (s EdgeSet) Has(source, target string, kind RelType) bool {
	_, ok := s[DependencyEdge{Source: source, Target: target, Kind: kind}]
	return ok
}

// Sorted returns the edges ordered by source, target and kind.
func (s EdgeSet) Sorted() []DependencyEdge {
	out := make([]DependencyEdge, 0, len(s))
	for e := range s {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		if out[i].Target != out[j].Target {
			return out[i].Target < out[j].Target
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// EntitySet is a set of fully-qualified entity ids.
//
// The ProjectEntitySet of an analysis run is an EntitySet holding every
// module, class and function the project declares.
type EntitySet map[string]struct{}

// NewEntitySet creates an entity set holding the given ids.
func NewEntitySet(ids ...string) EntitySet {
	s := make(EntitySet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts an id.
func (s EntitySet) Add(id string) {
	s[id] = struct{}{}
}

// Has reports whether id is a member. A nil set has no members.
func (s EntitySet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Merge adds every member of other.
func (s EntitySet) Merge(other EntitySet) {
	for id := range other {
		s[id] = struct{}{}
	}
}

// Sorted returns the members in lexical order.
func (s EntitySet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Parent returns the enclosing scope of a dotted entity id, or "" for a
// single-segment id.
func Parent(id string) string {
	if idx := strings.LastIndex(id, "."); idx >= 0 {
		return id[:idx]
	}
	return ""
}

// Join builds a dotted id from a scope and a name.
func Join(scope, name string) string {
	if scope == "" {
		return name
	}
	if name == "" {
		return scope
	}
	return scope + "." + name
}
