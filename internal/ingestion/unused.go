package ingestion

import (
	"sort"
	"strings"

	"github.com/Benny93/pydeps-go/internal/graph"
	"github.com/Benny93/pydeps-go/internal/storage"
)

// FindUnused returns the project classes and functions that no other
// project entity depends on, in lexical order.
//
// Detection phases:
//  1. Initial scan: every non-module entity missing from the reverse view
//  2. Exemptions: dunder methods, test code, `main` entry points
//  3. Self calls: a method reached through `self.name()` from a sibling
//     method counts as used
func FindUnused(a *storage.Analysis) []string {
	modules := make(map[string]struct{}, len(a.Files))
	for _, f := range a.Files {
		modules[f.Module] = struct{}{}
	}

	rev := a.Graph.Reverse(a.Entities)
	selfCalls := selfCallTargets(a)

	var unused []string
	for id := range a.Entities {
		if _, isModule := modules[id]; isModule {
			continue
		}
		if users := rev[id]; len(users) > 0 && !onlySelf(id, users) {
			continue
		}
		if isUnusedExempt(id) {
			continue
		}
		if _, ok := selfCalls[id]; ok {
			continue
		}
		unused = append(unused, id)
	}
	sort.Strings(unused)
	return unused
}

// onlySelf reports whether every user of id is id itself (recursion).
func onlySelf(id string, users graph.EntitySet) bool {
	for u := range users {
		if u != id {
			return false
		}
	}
	return true
}

// selfCallTargets maps `self.name` calls made inside a class's methods to
// the class member they most likely reach.
func selfCallTargets(a *storage.Analysis) map[string]struct{} {
	targets := make(map[string]struct{})
	for e := range a.Graph.Edges() {
		if e.Kind != graph.RelCalls {
			continue
		}
		idx := strings.LastIndex(e.Target, ".self.")
		if idx < 0 {
			continue
		}
		name := e.Target[idx+len(".self."):]
		if strings.Contains(name, ".") {
			continue
		}
		// The caller is a method: its parent is the class.
		class := graph.Parent(e.Source)
		if member := graph.Join(class, name); a.Entities.Has(member) {
			targets[member] = struct{}{}
		}
	}
	return targets
}

// isUnusedExempt checks if an entity is exempt from unused detection.
func isUnusedExempt(id string) bool {
	name := id
	if idx := strings.LastIndex(id, "."); idx >= 0 {
		name = id[idx+1:]
	}

	// Dunder methods are called by the runtime
	if strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__") {
		return true
	}

	if name == "main" {
		return true
	}

	// Test code is run by the test runner
	if strings.HasPrefix(name, "test_") || strings.HasPrefix(name, "Test") {
		return true
	}
	for _, seg := range strings.Split(id, ".") {
		if strings.HasPrefix(seg, "test_") || strings.HasSuffix(seg, "_test") || seg == "tests" || seg == "conftest" {
			return true
		}
	}
	return false
}
