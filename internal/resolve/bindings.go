// Package resolve maps names used inside a Python file to the
// fully-qualified entities they denote.
//
// An ImportTable records what each import statement of one file made
// visible; a Resolver combines that table with the current module to turn a
// bare name or an attribute chain into a dotted entity id.
package resolve

import "strings"

// BindingKind identifies how a local name was bound.
type BindingKind int

const (
	// ModuleAlias is a whole-module import, possibly aliased.
	ModuleAlias BindingKind = iota + 1
	// MemberAlias is a from-import of a specific member, possibly aliased.
	MemberAlias
	// WildcardSource is a module imported with `from m import *`.
	WildcardSource
)

// String returns the binding kind name.
func (k BindingKind) String() string {
	switch k {
	case ModuleAlias:
		return "module"
	case MemberAlias:
		return "member"
	case WildcardSource:
		return "wildcard"
	default:
		return "unknown"
	}
}

// Binding is what a local name refers to.
type Binding struct {
	Kind BindingKind

	// Module is the fully-qualified module the binding comes from.
	Module string

	// Name is the original member name for a MemberAlias.
	Name string

	// Members are the known importable members of a ModuleAlias.
	// Empty when the metadata provider could not answer.
	Members map[string]struct{}
}

// HasMember reports whether name is a known member of the bound module.
func (b Binding) HasMember(name string) bool {
	_, ok := b.Members[name]
	return ok
}

type fromImports struct {
	module string
	names  map[string]string // local name -> original name
}

// ImportTable is the per-file import binding table.
//
// A table belongs to exactly one file. It must be Reset (or a fresh table
// created) before the next file is visited; bindings never carry over.
type ImportTable struct {
	modules   map[string]Binding
	froms     []*fromImports
	wildcards []string
}

// NewImportTable creates an empty import table.
func NewImportTable() *ImportTable {
	return &ImportTable{
		modules: make(map[string]Binding),
	}
}

// Reset discards every binding.
func (t *ImportTable) Reset() {
	t.modules = make(map[string]Binding)
	t.froms = nil
	t.wildcards = nil
}

// BindImport records `import module` or `import module as localName`.
// members are the module's known importable members.
func (t *ImportTable) BindImport(localName, module string, members []string) {
	if localName == "" {
		localName = module
	}
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	t.modules[localName] = Binding{Kind: ModuleAlias, Module: module, Members: set}
}

// BindFromImport records `from module import originalName as localName`.
func (t *ImportTable) BindFromImport(module, originalName, localName string) {
	if localName == "" {
		localName = originalName
	}
	for _, f := range t.froms {
		if f.module == module {
			f.names[localName] = originalName
			return
		}
	}
	t.froms = append(t.froms, &fromImports{
		module: module,
		names:  map[string]string{localName: originalName},
	})
}

// BindWildcard records `from module import *`.
func (t *ImportTable) BindWildcard(module string) {
	for _, m := range t.wildcards {
		if m == module {
			return
		}
	}
	t.wildcards = append(t.wildcards, module)
}

// Lookup returns the binding for a local name.
//
// Whole-module aliases are checked first, then from-imports in the order
// their source modules were first registered, then the first registered
// wildcard source. The wildcard fallback matches any name: with several
// wildcard imports the first one wins, which is an accepted ambiguity.
func (t *ImportTable) Lookup(localName string) (Binding, bool) {
	if b, ok := t.modules[localName]; ok {
		return b, true
	}
	for _, f := range t.froms {
		if original, ok := f.names[localName]; ok {
			return Binding{Kind: MemberAlias, Module: f.module, Name: original}, true
		}
	}
	if len(t.wildcards) > 0 {
		return Binding{Kind: WildcardSource, Module: t.wildcards[0]}, true
	}
	return Binding{}, false
}

// lookupModulePrefix finds the longest whole-module binding that is a
// dotted prefix of chain, e.g. the `pkg.b` binding for ["pkg","b","f"].
// It returns the binding and how many chain segments it consumed.
func (t *ImportTable) lookupModulePrefix(chain []string) (Binding, int, bool) {
	for n := len(chain); n >= 1; n-- {
		key := strings.Join(chain[:n], ".")
		if b, ok := t.modules[key]; ok {
			return b, n, true
		}
	}
	return Binding{}, 0, false
}

// Len returns the number of recorded bindings, counting each wildcard
// source once.
func (t *ImportTable) Len() int {
	n := len(t.modules) + len(t.wildcards)
	for _, f := range t.froms {
		n += len(f.names)
	}
	return n
}
