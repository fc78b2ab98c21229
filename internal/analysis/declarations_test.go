package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

const declSource = `import os

class Service:
    def start(self):
        def retry():
            os.sleep(1)
        retry()

    class Config:
        pass

def main():
    Service().start()

if os.environ:
    def fallback():
        pass
`

func TestCollectDeclarations(t *testing.T) {
	t.Parallel()

	d := CollectDeclarations(parse(t, declSource), "app.core")

	assert.Equal(t, "app.core", d.Module)
	assert.Equal(t, []string{
		"app.core",
		"app.core.Service",
		"app.core.Service.Config",
		"app.core.Service.start",
		"app.core.Service.start.retry",
		"app.core.fallback",
		"app.core.main",
	}, d.Entities.Sorted())
	assert.Equal(t, []string{"Service", "main", "fallback"}, d.Members)
}

func TestCollectDeclarations_EmptyModule(t *testing.T) {
	t.Parallel()

	d := CollectDeclarations(parse(t, ""), "empty")
	assert.Equal(t, []string{"empty"}, d.Entities.Sorted())
	assert.Empty(t, d.Members)
}

func TestCollectDeclarations_CoversVisitorSources(t *testing.T) {
	t.Parallel()

	tree := parse(t, declSource)
	decls := CollectDeclarations(tree, "app.core")
	edges := NewVisitor().Visit(context.Background(), tree, "app.core")

	assert.NotEmpty(t, edges)
	for e := range edges {
		assert.True(t, decls.Entities.Has(e.Source), "source %s is not a declared entity", e.Source)
	}
}

func TestCollectProjectEntities(t *testing.T) {
	t.Parallel()

	a := CollectDeclarations(parse(t, "def f():\n    pass\n"), "pkg.a")
	b := CollectDeclarations(parse(t, "class B:\n    pass\n"), "pkg.b")

	entities := CollectProjectEntities([]Declarations{a, b})
	assert.Equal(t, []string{"pkg.a", "pkg.a.f", "pkg.b", "pkg.b.B"}, entities.Sorted())
}
