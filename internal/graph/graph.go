// Package graph provides the in-memory dependency graph for pydeps.
//
// The graph is a forward adjacency structure keyed by source entity. The
// reverse (used-by) index is never stored: it is recomputed from the forward
// edges and a ProjectEntitySet every time it is requested, so it can never
// drift from the edges it was derived from.
package graph

import (
	"sync"
)

// DependencyGraph accumulates dependency edges from every analysed file.
//
// AddEdges is safe to call from concurrent per-file workers; the merge is
// serialised by an internal lock.
type DependencyGraph struct {
	mu       sync.RWMutex
	outgoing map[string]map[DependencyEdge]struct{}
	count    int
}

// NewDependencyGraph creates a new empty dependency graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		outgoing: make(map[string]map[DependencyEdge]struct{}),
	}
}

// AddEdges merges an edge set into the graph.
// Edges already present are ignored.
func (g *DependencyGraph) AddEdges(edges EdgeSet) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for e := range edges {
		g.addLocked(e)
	}
}

// AddEdge merges a single edge into the graph.
func (g *DependencyGraph) AddEdge(source, target string, kind RelType) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addLocked(DependencyEdge{Source: source, Target: target, Kind: kind})
}

// Must be called with the write lock held.
func (g *DependencyGraph) addLocked(e DependencyEdge) {
	out, ok := g.outgoing[e.Source]
	if !ok {
		out = make(map[DependencyEdge]struct{})
		g.outgoing[e.Source] = out
	}
	if _, exists := out[e]; exists {
		return
	}
	out[e] = struct{}{}
	g.count++
}

// EdgeCount returns the number of distinct edges.
func (g *DependencyGraph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.count
}

// SourceCount returns the number of entities with at least one outgoing edge.
func (g *DependencyGraph) SourceCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.outgoing)
}

// Edges returns a copy of every edge in the graph.
func (g *DependencyGraph) Edges() EdgeSet {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(EdgeSet, g.count)
	for _, edges := range g.outgoing {
		for e := range edges {
			out[e] = struct{}{}
		}
	}
	return out
}

// Outgoing returns the edges leaving the given entity.
// If relType is provided, only edges of that kind are returned.
func (g *DependencyGraph) Outgoing(source string, relType ...RelType) []DependencyEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	edges, ok := g.outgoing[source]
	if !ok {
		return nil
	}

	result := make([]DependencyEdge, 0, len(edges))
	for e := range edges {
		if len(relType) > 0 && relType[0] != "" && e.Kind != relType[0] {
			continue
		}
		result = append(result, e)
	}
	return result
}

// Forward returns entity → set of targets with edge kinds flattened.
// The returned maps are copies and may be modified by the caller.
func (g *DependencyGraph) Forward() map[string]EntitySet {
	g.mu.RLock()
	defer g.mu.RUnlock()

	fwd := make(map[string]EntitySet, len(g.outgoing))
	for source, edges := range g.outgoing {
		targets := make(EntitySet, len(edges))
		for e := range edges {
			targets.Add(e.Target)
		}
		fwd[source] = targets
	}
	return fwd
}

// ForwardByKind is Forward restricted to a single edge kind.
func (g *DependencyGraph) ForwardByKind(kind RelType) map[string]EntitySet {
	g.mu.RLock()
	defer g.mu.RUnlock()

	fwd := make(map[string]EntitySet)
	for source, edges := range g.outgoing {
		for e := range edges {
			if e.Kind != kind {
				continue
			}
			if fwd[source] == nil {
				fwd[source] = make(EntitySet)
			}
			fwd[source].Add(e.Target)
		}
	}
	return fwd
}

// Reverse returns target → set of sources, built by inverting every edge
// whose source and target are both members of entities. Edges touching
// external symbols stay in the forward graph but never appear here.
func (g *DependencyGraph) Reverse(entities EntitySet) map[string]EntitySet {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rev := make(map[string]EntitySet)
	for source, edges := range g.outgoing {
		if !entities.Has(source) {
			continue
		}
		for e := range edges {
			if !entities.Has(e.Target) {
				continue
			}
			if rev[e.Target] == nil {
				rev[e.Target] = make(EntitySet)
			}
			rev[e.Target].Add(source)
		}
	}
	return rev
}

// Internal returns a new graph holding only the edges whose endpoints are
// both members of entities.
func (g *DependencyGraph) Internal(entities EntitySet) *DependencyGraph {
	g.mu.RLock()
	defer g.mu.RUnlock()

	filtered := NewDependencyGraph()
	for source, edges := range g.outgoing {
		if !entities.Has(source) {
			continue
		}
		for e := range edges {
			if entities.Has(e.Target) {
				filtered.addLocked(e)
			}
		}
	}
	return filtered
}

// Stats returns a summary of graph size.
func (g *DependencyGraph) Stats() map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := map[string]int{
		"sources": len(g.outgoing),
		"edges":   g.count,
	}
	for _, kind := range RelTypes {
		stats[string(kind)] = 0
	}
	for _, edges := range g.outgoing {
		for e := range edges {
			stats[string(e.Kind)]++
		}
	}
	return stats
}
