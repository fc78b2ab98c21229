package analysis

import (
	"github.com/Benny93/pydeps-go/internal/graph"
	"github.com/Benny93/pydeps-go/internal/parsers"
	"github.com/Benny93/pydeps-go/internal/resolve"
)

// Declarations are the entities one module declares.
type Declarations struct {
	// Module is the module's dotted name.
	Module string

	// Entities holds the module itself and every class and function
	// declared in it, at any nesting depth.
	Entities graph.EntitySet

	// Members are the names of the module's top-level classes and
	// functions, in source order.
	Members []string
}

// CollectDeclarations lists the entities declared by a module. Ids follow
// the same lexical scheme as the visitor's sources, so every edge source the
// visitor produces for the module is in Entities.
func CollectDeclarations(tree *parsers.Node, module string) Declarations {
	d := Declarations{
		Module:   module,
		Entities: graph.NewEntitySet(module),
	}
	if tree != nil {
		d.collect(tree, NewScope(module))
	}
	return d
}

func (d *Declarations) collect(n *parsers.Node, scope Scope) {
	if n == nil {
		return
	}
	switch n.Kind {
	case parsers.NodeClass, parsers.NodeFunction:
		inner := scope.Push(n.Name)
		d.Entities.Add(inner.Current())
		if scope.Depth() == 1 {
			d.Members = append(d.Members, n.Name)
		}
		scope = inner
	case parsers.NodeImport, parsers.NodeImportFrom:
		return
	}
	for _, child := range n.Children {
		d.collect(child, scope)
	}
}

// DeclarationProvider answers member lookups for project modules from their
// collected declarations, so `import pkg.b` can see pkg.b's top-level
// functions and classes without running an interpreter.
func DeclarationProvider(decls []Declarations) *resolve.RegistryProvider {
	members := make(map[string][]string, len(decls))
	for _, d := range decls {
		members[d.Module] = d.Members
	}
	return resolve.NewRegistryProvider("project", members)
}

// CollectProjectEntities merges the declarations of every module into the
// project entity set.
func CollectProjectEntities(decls []Declarations) graph.EntitySet {
	entities := graph.NewEntitySet()
	for _, d := range decls {
		entities.Merge(d.Entities)
	}
	return entities
}
