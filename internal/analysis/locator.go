package analysis

import (
	"github.com/Benny93/pydeps-go/internal/parsers"
)

// LineEntityMap maps every line of a file to the chain of entities
// enclosing it, innermost first and ending at the module.
//
// Lines outside any class or function map to the module alone. When two
// declarations of equal depth claim a line, the one seen first in source
// order keeps it; a nested declaration always overrides its parent.
type LineEntityMap struct {
	module string
	lines  [][]string
}

// BuildLineMap computes the line map of one parsed file.
func BuildLineMap(tree *parsers.Node, module string) *LineEntityMap {
	m := &LineEntityMap{module: module}
	if tree == nil || tree.EndLine <= 0 {
		return m
	}

	moduleChain := []string{module}
	m.lines = make([][]string, tree.EndLine)
	depths := make([]int, tree.EndLine)
	for i := range m.lines {
		m.lines[i] = moduleChain
		depths[i] = 1
	}

	m.assign(tree, NewScope(module), depths)
	return m
}

func (m *LineEntityMap) assign(n *parsers.Node, scope Scope, depths []int) {
	if n == nil {
		return
	}
	if n.Kind == parsers.NodeClass || n.Kind == parsers.NodeFunction {
		scope = scope.Push(n.Name)
		chain := scope.Innermost()
		first, last := max(n.StartLine, 1), min(n.EndLine, len(m.lines))
		for line := first; line <= last; line++ {
			if scope.Depth() > depths[line-1] {
				m.lines[line-1] = chain
				depths[line-1] = scope.Depth()
			}
		}
	}
	for _, child := range n.Children {
		m.assign(child, scope, depths)
	}
}

// Query returns the entity chain for a 1-based line. The second return
// value is false when the line is outside the file.
func (m *LineEntityMap) Query(line int) ([]string, bool) {
	if line < 1 || line > len(m.lines) {
		return nil, false
	}
	chain := m.lines[line-1]
	out := make([]string, len(chain))
	copy(out, chain)
	return out, true
}

// Innermost returns only the innermost entity for a line.
func (m *LineEntityMap) Innermost(line int) (string, bool) {
	if line < 1 || line > len(m.lines) {
		return "", false
	}
	return m.lines[line-1][0], true
}

// Module returns the module the map was built for.
func (m *LineEntityMap) Module() string {
	return m.module
}

// Lines returns the number of mapped lines.
func (m *LineEntityMap) Lines() int {
	return len(m.lines)
}
