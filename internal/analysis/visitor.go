package analysis

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Benny93/pydeps-go/internal/graph"
	"github.com/Benny93/pydeps-go/internal/parsers"
	"github.com/Benny93/pydeps-go/internal/resolve"
)

// Visitor extracts dependency edges from one parsed file at a time.
//
// A Visitor holds no per-file state: every Visit call gets its own import
// table and scope stack, so one Visitor can serve many files concurrently
// and a binding made in one file is never visible in another.
type Visitor struct {
	resolver *resolve.Resolver
	provider resolve.MetadataProvider
	timeout  time.Duration
}

// VisitorOption configures a Visitor.
type VisitorOption func(*Visitor)

// WithResolver sets the resolver. The default is resolve.NewResolver().
func WithResolver(r *resolve.Resolver) VisitorOption {
	return func(v *Visitor) {
		v.resolver = r
	}
}

// WithMetadataProvider sets the provider queried for the members of every
// whole-module import.
func WithMetadataProvider(p resolve.MetadataProvider) VisitorOption {
	return func(v *Visitor) {
		v.provider = p
	}
}

// WithLookupTimeout bounds each metadata lookup.
func WithLookupTimeout(d time.Duration) VisitorOption {
	return func(v *Visitor) {
		v.timeout = d
	}
}

// NewVisitor creates a visitor.
func NewVisitor(opts ...VisitorOption) *Visitor {
	v := &Visitor{
		resolver: resolve.NewResolver(),
		timeout:  resolve.DefaultLookupTimeout,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Visit walks a module's syntax tree and returns the edges it contributes.
func (v *Visitor) Visit(ctx context.Context, tree *parsers.Node, module string) graph.EdgeSet {
	return v.visit(ctx, tree, module, false)
}

// VisitPackage is Visit for a package's __init__ file, whose relative
// imports are resolved against the package itself.
func (v *Visitor) VisitPackage(ctx context.Context, tree *parsers.Node, module string) graph.EdgeSet {
	return v.visit(ctx, tree, module, true)
}

func (v *Visitor) visit(ctx context.Context, tree *parsers.Node, module string, isPackage bool) graph.EdgeSet {
	fv := &fileVisit{
		Visitor:   v,
		ctx:       ctx,
		module:    module,
		isPackage: isPackage,
		table:     resolve.NewImportTable(),
		edges:     graph.NewEdgeSet(),
	}
	if tree != nil {
		fv.walk(tree, NewScope(module))
	}
	return fv.edges
}

// fileVisit is the state of a single Visit call.
type fileVisit struct {
	*Visitor
	ctx       context.Context
	module    string
	isPackage bool
	table     *resolve.ImportTable
	edges     graph.EdgeSet
}

func (fv *fileVisit) walk(n *parsers.Node, scope Scope) {
	if n == nil {
		return
	}

	switch n.Kind {
	case parsers.NodeImport:
		fv.bindImports(n)
		return

	case parsers.NodeImportFrom:
		fv.bindFromImports(n)
		return

	case parsers.NodeClass:
		inner := scope.Push(n.Name)
		for _, base := range n.Bases {
			if chain, ok := parsers.Chain(base); ok {
				fv.edges.Add(inner.Current(), fv.resolve(chain), graph.RelInherits)
				continue
			}
			// Base expressions are evaluated in the enclosing scope.
			fv.walk(base, scope)
		}
		fv.walkSignature(n, scope)
		fv.walkChildren(n, inner)
		return

	case parsers.NodeFunction:
		fv.walkSignature(n, scope)
		fv.walkChildren(n, scope.Push(n.Name))
		return

	case parsers.NodeCall:
		if chain, ok := parsers.Chain(n.Func); ok {
			fv.edges.Add(scope.Current(), fv.resolve(chain), graph.RelCalls)
		} else {
			fv.walk(n.Func, scope)
		}
		fv.walkChildren(n, scope)
		return
	}

	fv.walk(n.Value, scope)
	fv.walk(n.Func, scope)
	fv.walkChildren(n, scope)
}

func (fv *fileVisit) walkChildren(n *parsers.Node, scope Scope) {
	for _, child := range n.Children {
		fv.walk(child, scope)
	}
}

// walkSignature visits defaults, annotations and class keyword arguments,
// which run when the definition executes.
func (fv *fileVisit) walkSignature(n *parsers.Node, scope Scope) {
	for _, s := range n.Signature {
		fv.walk(s, scope)
	}
}

func (fv *fileVisit) resolve(chain []string) string {
	return fv.resolver.Resolve(chain, fv.module, fv.table)
}

func (fv *fileVisit) bindImports(n *parsers.Node) {
	for _, alias := range n.Children {
		imported := alias.Name
		if imported == "" {
			continue
		}
		fv.edges.Add(fv.module, imported, graph.RelImports)

		members, err := resolve.LookupMembers(fv.ctx, fv.provider, imported, fv.timeout)
		if err != nil {
			slog.Debug("module metadata unavailable", "module", imported, "importer", fv.module, "error", err)
		}
		fv.table.BindImport(alias.Alias, imported, members)

		// `import a.b` also makes `a` visible.
		if alias.Alias == "" {
			if top, _, dotted := strings.Cut(imported, "."); dotted {
				if _, bound := fv.table.Lookup(top); !bound {
					fv.table.BindImport(top, top, nil)
				}
			}
		}
	}
}

func (fv *fileVisit) bindFromImports(n *parsers.Node) {
	source := resolve.ResolveRelative(fv.module, fv.isPackage, n.Level, n.Name)
	for _, alias := range n.Children {
		if alias.Name == parsers.WildcardName {
			fv.table.BindWildcard(source)
			continue
		}
		fv.table.BindFromImport(source, alias.Name, alias.Alias)
	}
}
