// Package analysis walks parsed Python files and extracts what the
// dependency graph needs: the edges each file contributes, the entities it
// declares, and which entity owns each of its lines.
package analysis

import "github.com/Benny93/pydeps-go/internal/graph"

// Scope is the chain of entities enclosing a point in a file, outermost
// first: module, then classes and functions in nesting order.
//
// Push never modifies the receiver, so a Scope can be handed down a
// recursive walk by value and each level keeps its own view.
type Scope []string

// NewScope creates the module-level scope.
func NewScope(module string) Scope {
	return Scope{module}
}

// Push returns a new scope with a declaration nested inside the current one.
func (s Scope) Push(name string) Scope {
	out := make(Scope, len(s)+1)
	copy(out, s)
	out[len(s)] = graph.Join(s.Current(), name)
	return out
}

// Current returns the innermost entity id.
func (s Scope) Current() string {
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

// Module returns the module entity id.
func (s Scope) Module() string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

// Depth returns the number of entities in the chain.
func (s Scope) Depth() int {
	return len(s)
}

// Innermost returns the chain ordered innermost first.
func (s Scope) Innermost() []string {
	out := make([]string, len(s))
	for i, id := range s {
		out[len(s)-1-i] = id
	}
	return out
}
