package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRelTypeConstants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		relType  RelType
		expected string
	}{
		{"Inherits", RelInherits, "inherits"},
		{"Calls", RelCalls, "calls"},
		{"Imports", RelImports, "imports"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, string(tt.relType))

			parsed, ok := ParseRelType(tt.expected)
			assert.True(t, ok)
			assert.Equal(t, tt.relType, parsed)
		})
	}

	t.Run("Unknown", func(t *testing.T) {
		t.Parallel()
		_, ok := ParseRelType("extends")
		assert.False(t, ok)
	})
}

func TestEdgeSet(t *testing.T) {
	t.Parallel()

	t.Run("DuplicatesCollapse", func(t *testing.T) {
		t.Parallel()
		s := NewEdgeSet()
		s.Add("pkg.a.f", "pkg.b.g", RelCalls)
		s.Add("pkg.a.f", "pkg.b.g", RelCalls)

		assert.Len(t, s, 1)
		assert.True(t, s.Has("pkg.a.f", "pkg.b.g", RelCalls))
	})

	t.Run("KindIsPartOfIdentity", func(t *testing.T) {
		t.Parallel()
		s := NewEdgeSet()
		s.Add("pkg.a.Gadget", "pkg.b.Widget", RelInherits)
		s.Add("pkg.a.Gadget", "pkg.b.Widget", RelCalls)

		assert.Len(t, s, 2)
		assert.True(t, s.Has("pkg.a.Gadget", "pkg.b.Widget", RelInherits))
		assert.True(t, s.Has("pkg.a.Gadget", "pkg.b.Widget", RelCalls))
		assert.False(t, s.Has("pkg.a.Gadget", "pkg.b.Widget", RelImports))
	})

	t.Run("SortedIsDeterministic", func(t *testing.T) {
		t.Parallel()
		s := NewEdgeSet(
			DependencyEdge{Source: "b", Target: "x", Kind: RelCalls},
			DependencyEdge{Source: "a", Target: "y", Kind: RelImports},
			DependencyEdge{Source: "a", Target: "y", Kind: RelCalls},
		)

		sorted := s.Sorted()
		assert.Equal(t, []DependencyEdge{
			{Source: "a", Target: "y", Kind: RelCalls},
			{Source: "a", Target: "y", Kind: RelImports},
			{Source: "b", Target: "x", Kind: RelCalls},
		}, sorted)
	})
}

func TestEntitySet(t *testing.T) {
	t.Parallel()

	s := NewEntitySet("pkg.b", "pkg.a")
	s.Add("pkg.a.f")
	s.Merge(NewEntitySet("pkg.c"))

	assert.True(t, s.Has("pkg.a.f"))
	assert.False(t, s.Has("pkg.d"))
	assert.Equal(t, []string{"pkg.a", "pkg.a.f", "pkg.b", "pkg.c"}, s.Sorted())

	var empty EntitySet
	assert.False(t, empty.Has("pkg.a"))
}

func TestParentAndJoin(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pkg.a.Gadget", Parent("pkg.a.Gadget.run"))
	assert.Equal(t, "", Parent("pkg"))
	assert.Equal(t, "pkg.a.f", Join("pkg.a", "f"))
	assert.Equal(t, "f", Join("", "f"))
	assert.Equal(t, "pkg.a", Join("pkg.a", ""))
}
