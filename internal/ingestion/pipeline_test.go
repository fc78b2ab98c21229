package ingestion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/pydeps-go/internal/config"
	"github.com/Benny93/pydeps-go/internal/graph"
	"github.com/Benny93/pydeps-go/internal/parsers"
	"github.com/Benny93/pydeps-go/internal/storage"
)

var sampleProject = map[string]string{
	"pkg/__init__.py": "from .b import Widget\n",
	"pkg/a.py": `import pkg.b as pb
import requests
from pkg.b import Widget
from pkg.c import *

class Gadget(Widget):
    def build(self):
        return pb.helper()

def f():
    pb.helper()
    pb.missing()
    requests.get("x")
    mystery()

setup()
`,
	"pkg/b.py": `class Widget:
    pass

def helper():
    return Widget()
`,
	"pkg/c.py":      "def mystery():\n    pass\n",
	"pkg/broken.py": "def broken(:\n",
}

func TestRunPipeline(t *testing.T) {
	t.Parallel()

	repo := t.TempDir()
	writeFiles(t, repo, sampleProject)

	cfg := config.Default()
	cfg.Analysis.Workers = 2
	cfg.Metadata.Modules = map[string][]string{"requests": {"get"}}

	store := storage.NewMemoryBackend()
	require.NoError(t, store.Initialize("", false))

	var phases []string
	a, result, err := RunPipeline(context.Background(), repo, cfg, store, func(phase string, p float64) {
		if p == 0 {
			phases = append(phases, phase)
		}
	})
	require.NoError(t, err)

	t.Run("Result", func(t *testing.T) {
		assert.Equal(t, 5, result.Files)
		assert.Equal(t, 4, result.Parsed)
		require.Len(t, result.Skipped, 1)
		assert.Equal(t, "pkg/broken.py", result.Skipped[0].RelPath)
		assert.ErrorIs(t, result.Skipped[0].Err, parsers.ErrUnparseable)
		assert.NotEmpty(t, result.RunID)
		assert.Equal(t, a.Graph.EdgeCount(), result.Edges)
		assert.Equal(t, result.Edges, result.Inherits+result.Calls+result.Imports)
		assert.Contains(t, phases, "Parsing files")
		assert.Contains(t, phases, "Saving index")
	})

	t.Run("Edges", func(t *testing.T) {
		g := a.Graph
		has := func(source, target string, kind graph.RelType) bool {
			for _, e := range g.Outgoing(source) {
				if e.Target == target && e.Kind == kind {
					return true
				}
			}
			return false
		}

		assert.True(t, has("pkg.a.Gadget", "pkg.b.Widget", graph.RelInherits))
		assert.True(t, has("pkg.a.Gadget.build", "pkg.b.helper", graph.RelCalls), "project declarations feed member lookup")
		assert.True(t, has("pkg.a.f", "pkg.b.helper", graph.RelCalls))
		assert.True(t, has("pkg.a.f", "pkg.b", graph.RelCalls), "unknown members collapse to the module")
		assert.True(t, has("pkg.a.f", "requests.get", graph.RelCalls), "configured registry feeds member lookup")
		assert.True(t, has("pkg.a.f", "pkg.c.mystery", graph.RelCalls))
		assert.True(t, has("pkg.a", "pkg.c.setup", graph.RelCalls), "the wildcard source claims every unbound name")
		assert.True(t, has("pkg.a", "pkg.b", graph.RelImports))
		assert.True(t, has("pkg.a", "requests", graph.RelImports))
		assert.True(t, has("pkg.b.helper", "pkg.b.Widget", graph.RelCalls))
		assert.Empty(t, g.Outgoing("pkg"), "a package that only re-exports has no edges")
	})

	t.Run("EntitiesAndFiles", func(t *testing.T) {
		for _, id := range []string{"pkg", "pkg.a", "pkg.a.Gadget", "pkg.a.Gadget.build", "pkg.a.f", "pkg.b.Widget", "pkg.b.helper", "pkg.c.mystery"} {
			assert.True(t, a.Entities.Has(id), id)
		}
		assert.False(t, a.Entities.Has("pkg.broken"))

		f, ok := a.Files["pkg/__init__.py"]
		require.True(t, ok)
		assert.Equal(t, "pkg", f.Module)
		assert.True(t, f.IsPackage)
		assert.NotContains(t, a.Files, "pkg/broken.py")
	})

	t.Run("ReverseIsInternalOnly", func(t *testing.T) {
		rev := a.Graph.Reverse(a.Entities)
		assert.True(t, rev["pkg.b.helper"].Has("pkg.a.f"))
		assert.True(t, rev["pkg.b.Widget"].Has("pkg.a.Gadget"))
		assert.NotContains(t, rev, "requests.get")
		assert.NotContains(t, rev, "pkg.c.setup")
	})

	t.Run("Persisted", func(t *testing.T) {
		stored, err := store.LoadAnalysis(context.Background())
		require.NoError(t, err)
		assert.Equal(t, result.RunID, stored.RunID)
		assert.Equal(t, a.Graph.Edges(), stored.Graph.Edges())
	})
}

func TestRunPipeline_NonStrict(t *testing.T) {
	t.Parallel()

	repo := t.TempDir()
	writeFiles(t, repo, map[string]string{
		"a.py": "import lib\nlib.tool.run()\n",
	})

	cfg := config.Default()
	strict := false
	cfg.Analysis.StrictModuleMembers = &strict

	a, _, err := RunPipeline(context.Background(), repo, cfg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []graph.DependencyEdge{{Source: "a", Target: "lib.tool.run", Kind: graph.RelCalls}}, a.Graph.Outgoing("a", graph.RelCalls))
}

func TestRunPipeline_Exclude(t *testing.T) {
	t.Parallel()

	repo := t.TempDir()
	writeFiles(t, repo, sampleProject)

	cfg := config.Default()
	cfg.Analysis.Exclude = []string{"pkg.broken", "pkg.c"}

	_, result, err := RunPipeline(context.Background(), repo, cfg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Files)
	assert.Empty(t, result.Skipped)
}

func TestRunPipeline_Cancelled(t *testing.T) {
	t.Parallel()

	repo := t.TempDir()
	writeFiles(t, repo, sampleProject)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := RunPipeline(ctx, repo, nil, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunPipeline_MissingRepo(t *testing.T) {
	t.Parallel()

	_, _, err := RunPipeline(context.Background(), "/nonexistent/pydeps/repo", nil, nil, nil)
	assert.Error(t, err)
}

func TestNewMetadataProvider(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Metadata.Modules = map[string][]string{"ext": {"thing"}}

	p, err := NewMetadataProvider(cfg, t.TempDir(), nil)
	require.NoError(t, err)

	members, err := p.ListExportedFunctions(context.Background(), "ext")
	require.NoError(t, err)
	assert.Equal(t, []string{"thing"}, members)

	_, err = p.ListExportedFunctions(context.Background(), "unknown")
	assert.Error(t, err)
}
