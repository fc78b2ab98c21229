package resolve

import (
	"strings"

	"github.com/Benny93/pydeps-go/internal/graph"
)

// Resolver turns bare names and attribute chains into fully-qualified
// entity ids. It is purely syntactic: it never checks whether the entity it
// produces exists, and it never fails.
type Resolver struct {
	strictMembers bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithStrictModuleMembers controls how chains rooted at a whole-module
// import are resolved. When enabled, `mod.attr` keeps `attr` only if it is a
// known member of `mod`; otherwise the reference collapses to `mod` itself.
// When disabled, every chain is resolved by appending its remaining
// segments to the resolved root.
func WithStrictModuleMembers(strict bool) Option {
	return func(r *Resolver) {
		r.strictMembers = strict
	}
}

// NewResolver creates a resolver. Strict module members are on by default.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{strictMembers: true}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveName resolves a dotted name such as "pb.helper".
func (r *Resolver) ResolveName(name, currentModule string, table *ImportTable) string {
	return r.Resolve(strings.Split(name, "."), currentModule, table)
}

// Resolve resolves a bare name (one segment) or an attribute chain.
//
// The root of the chain is resolved in this order:
//  1. a whole-module import: `m.name` if name is a known member of m,
//     otherwise `m` itself;
//  2. a from-import: `m.original`;
//  3. a wildcard import: `m.name`;
//  4. otherwise the name is assumed to be defined locally:
//     `currentModule.name`.
//
// The remaining segments are appended with dots.
//
// The result is never empty as long as currentModule is non-empty. An empty
// or blank chain resolves to currentModule itself.
func (r *Resolver) Resolve(chain []string, currentModule string, table *ImportTable) string {
	chain = compact(chain)
	if len(chain) == 0 {
		return currentModule
	}
	if table == nil {
		table = NewImportTable()
	}

	if b, n, ok := table.lookupModulePrefix(chain); ok {
		if resolved := r.resolveModuleChain(b, chain, n); resolved != "" {
			return resolved
		}
		// Bound to an empty module name.
		return strings.Join(chain, ".")
	}

	root, rest := chain[0], chain[1:]
	var base string
	b, ok := table.Lookup(root)
	switch {
	case !ok:
		base = graph.Join(currentModule, root)
	case b.Kind == MemberAlias:
		base = graph.Join(b.Module, b.Name)
	default:
		base = graph.Join(b.Module, root)
	}
	return appendSegments(base, rest)
}

// resolveModuleChain resolves a chain whose first n segments matched a
// whole-module binding.
func (r *Resolver) resolveModuleChain(b Binding, chain []string, n int) string {
	rest := chain[n:]

	base := b.Module
	if n == 1 && b.HasMember(chain[0]) {
		// The local name itself is one of the module's members.
		return appendSegments(graph.Join(b.Module, chain[0]), rest)
	}

	if len(rest) == 0 || !r.strictMembers {
		return appendSegments(base, rest)
	}
	if b.HasMember(rest[0]) {
		return appendSegments(base, rest)
	}
	return base
}

// ResolveRelative turns the module named by a relative from-import into an
// absolute module name. level is the number of leading dots; isPackage is
// true when currentModule is a package's __init__ file. A level that climbs
// past the project root leaves only the named part.
func ResolveRelative(currentModule string, isPackage bool, level int, name string) string {
	if level <= 0 {
		return name
	}
	pkg := currentModule
	if !isPackage {
		pkg = graph.Parent(currentModule)
	}
	for i := 1; i < level && pkg != ""; i++ {
		pkg = graph.Parent(pkg)
	}
	return graph.Join(pkg, name)
}

func appendSegments(base string, rest []string) string {
	if len(rest) == 0 {
		return base
	}
	return graph.Join(base, strings.Join(rest, "."))
}

func compact(chain []string) []string {
	out := chain[:0:0]
	for _, seg := range chain {
		if seg = strings.TrimSpace(seg); seg != "" {
			out = append(out, seg)
		}
	}
	return out
}
