package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/pydeps-go/internal/query"
)

func writeProject(t *testing.T) string {
	t.Helper()

	repo := t.TempDir()
	files := map[string]string{
		"lib/__init__.py": "",
		"lib/shapes.py": `class Shape:
    def area(self):
        return 0

class Square(Shape):
    def area(self):
        return square(self.side)

def square(x):
    return x * x
`,
		"lib/report.py": `import lib.shapes

def describe(s):
    return lib.shapes.square(2)

def unused_helper():
    pass
`,
		"lib/broken.py": "def broken(:\n",
	}
	for path, content := range files {
		full := filepath.Join(repo, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return repo
}

// analysedRepo returns a repository with a fresh index.
func analysedRepo(t *testing.T) string {
	t.Helper()
	repo := writeProject(t)
	var out bytes.Buffer
	require.NoError(t, (&AnalyzeCmd{}).Run(&Globals{Repo: repo, Quiet: true, out: &out}))
	return repo
}

func TestAnalyzeCmd_Run(t *testing.T) {
	t.Parallel()

	t.Run("AnalyzePythonRepo", func(t *testing.T) {
		t.Parallel()
		repo := writeProject(t)

		var out bytes.Buffer
		err := (&AnalyzeCmd{Path: repo}).Run(&Globals{out: &out})
		require.NoError(t, err)

		assert.Contains(t, out.String(), "Analysis complete")
		assert.Contains(t, out.String(), "skipped lib/broken.py")

		_, err = os.Stat(filepath.Join(repo, indexDir, "badger"))
		assert.NoError(t, err)

		meta, err := readMeta(repo)
		require.NoError(t, err)
		assert.Equal(t, Version, meta.Version)
		assert.NotEmpty(t, meta.RunID)
		assert.Equal(t, 4, meta.Stats.Files)
		assert.Equal(t, 1, meta.Stats.Skipped)
		assert.Equal(t, meta.Stats.Edges, meta.Stats.Inherits+meta.Stats.Calls+meta.Stats.Imports)
	})

	t.Run("Reanalyse", func(t *testing.T) {
		t.Parallel()
		repo := analysedRepo(t)
		first, err := readMeta(repo)
		require.NoError(t, err)

		require.NoError(t, (&AnalyzeCmd{}).Run(&Globals{Repo: repo, Quiet: true, out: &bytes.Buffer{}}))
		second, err := readMeta(repo)
		require.NoError(t, err)
		assert.NotEqual(t, first.RunID, second.RunID)
		assert.Equal(t, first.Stats.Edges, second.Stats.Edges)
	})

	t.Run("InvalidConfig", func(t *testing.T) {
		t.Parallel()
		repo := writeProject(t)
		require.NoError(t, os.WriteFile(filepath.Join(repo, "pydeps.toml"), []byte("[analysis]\nworkers = -1\n"), 0o644))

		err := (&AnalyzeCmd{}).Run(&Globals{Repo: repo, Quiet: true, out: &bytes.Buffer{}})
		assert.Error(t, err)
	})

	t.Run("InvalidPath", func(t *testing.T) {
		t.Parallel()
		err := (&AnalyzeCmd{Path: "/nonexistent/path"}).Run(&Globals{out: &bytes.Buffer{}})
		assert.Error(t, err)
	})

	t.Run("NotADirectory", func(t *testing.T) {
		t.Parallel()
		tmpFile := filepath.Join(t.TempDir(), "file.txt")
		require.NoError(t, os.WriteFile(tmpFile, []byte("test"), 0o644))

		err := (&AnalyzeCmd{Path: tmpFile}).Run(&Globals{out: &bytes.Buffer{}})
		assert.Error(t, err)
	})
}

func TestQueryCommands(t *testing.T) {
	t.Parallel()

	repo := analysedRepo(t)
	run := func(t *testing.T, cmd interface{ Run(*Globals) error }) string {
		t.Helper()
		var out bytes.Buffer
		require.NoError(t, cmd.Run(&Globals{Repo: repo, out: &out}))
		return out.String()
	}

	t.Run("Deps", func(t *testing.T) {
		out := run(t, &DepsCmd{Entity: "lib.shapes.Square"})
		assert.Contains(t, out, "lib.shapes.Square")
		assert.Contains(t, out, "inherits")
		assert.Contains(t, out, "lib.shapes.Shape")
	})

	t.Run("DepsJSON", func(t *testing.T) {
		out := run(t, &DepsCmd{Entity: "describe", Kind: "calls", JSON: true})

		var decoded struct {
			Entity       string `json:"entity"`
			Dependencies []struct {
				Target string `json:"target"`
				Kind   string `json:"kind"`
			} `json:"dependencies"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &decoded))
		assert.Equal(t, "lib.report.describe", decoded.Entity)
		require.Len(t, decoded.Dependencies, 1)
		assert.Equal(t, "lib.shapes.square", decoded.Dependencies[0].Target)
		assert.Equal(t, "calls", decoded.Dependencies[0].Kind)
	})

	t.Run("DepsBadKind", func(t *testing.T) {
		err := (&DepsCmd{Entity: "describe", Kind: "uses"}).Run(&Globals{Repo: repo, out: &bytes.Buffer{}})
		assert.Error(t, err)
	})

	t.Run("DepsUnknownEntity", func(t *testing.T) {
		err := (&DepsCmd{Entity: "nothing.here"}).Run(&Globals{Repo: repo, out: &bytes.Buffer{}})
		assert.ErrorIs(t, err, query.ErrUnknownEntity)
	})

	t.Run("UsedBy", func(t *testing.T) {
		out := run(t, &UsedByCmd{Entity: "lib.shapes.square"})
		assert.Contains(t, out, "lib.report.describe")
		assert.Contains(t, out, "lib.shapes.Square.area")
	})

	t.Run("UsedByJSON", func(t *testing.T) {
		out := run(t, &UsedByCmd{Entity: "unused_helper", JSON: true})
		var decoded map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &decoded))
		assert.Equal(t, "lib.report.unused_helper", decoded["entity"])
		assert.Equal(t, []any{}, decoded["used_by"])
	})

	t.Run("Locate", func(t *testing.T) {
		out := run(t, &LocateCmd{File: "lib/shapes.py", Line: 7})
		assert.Contains(t, out, "1. lib.shapes.Square.area")
		assert.Contains(t, out, "2. lib.shapes.Square")
		assert.Contains(t, out, "3. lib.shapes")
		assert.NotContains(t, out, "warning")
	})

	t.Run("LocateOutOfRange", func(t *testing.T) {
		err := (&LocateCmd{File: "lib/shapes.py", Line: 0}).Run(&Globals{Repo: repo, out: &bytes.Buffer{}})
		assert.ErrorIs(t, err, query.ErrLineOutOfRange)
	})

	t.Run("Entities", func(t *testing.T) {
		out := run(t, &EntitiesCmd{Match: "lib.shapes.*"})
		assert.Contains(t, out, "lib.shapes.Shape\n")
		assert.Contains(t, out, "lib.shapes.square\n")
		assert.NotContains(t, out, "lib.report")
		assert.Contains(t, out, "3 entities")
	})

	t.Run("Unused", func(t *testing.T) {
		out := run(t, &UnusedCmd{})
		assert.Contains(t, out, "lib.report.unused_helper")
		assert.NotContains(t, out, "lib.shapes.square\n")
	})

	t.Run("Status", func(t *testing.T) {
		out := run(t, &StatusCmd{})
		assert.Contains(t, out, "Index status for")
		assert.Contains(t, out, "Up to date")
	})
}

func TestStatusCmd_Run(t *testing.T) {
	t.Parallel()

	t.Run("StatusWithNoIndex", func(t *testing.T) {
		t.Parallel()
		err := (&StatusCmd{}).Run(&Globals{Repo: t.TempDir(), out: &bytes.Buffer{}})
		assert.Error(t, err)
	})

	t.Run("StaleFiles", func(t *testing.T) {
		t.Parallel()
		repo := analysedRepo(t)
		require.NoError(t, os.WriteFile(filepath.Join(repo, "lib", "report.py"), []byte("x = 1\n"), 0o644))

		var out bytes.Buffer
		require.NoError(t, (&StatusCmd{}).Run(&Globals{Repo: repo, out: &out}))
		assert.Contains(t, out.String(), "Stale files:    1")
		assert.Contains(t, out.String(), "lib/report.py")
	})
}

func TestQueryCmd_NoIndex(t *testing.T) {
	t.Parallel()

	g := &Globals{Repo: t.TempDir(), out: &bytes.Buffer{}}
	assert.Error(t, (&DepsCmd{Entity: "x"}).Run(g))
	assert.Error(t, (&UsedByCmd{Entity: "x"}).Run(g))
	assert.Error(t, (&EntitiesCmd{}).Run(g))
	assert.Error(t, (&UnusedCmd{}).Run(g))
}

func TestCleanCmd_Run(t *testing.T) {
	t.Parallel()

	t.Run("DeletesIndex", func(t *testing.T) {
		t.Parallel()
		repo := analysedRepo(t)

		var out bytes.Buffer
		require.NoError(t, (&CleanCmd{Force: true}).Run(&Globals{Repo: repo, out: &out}))
		assert.Contains(t, out.String(), "Deleted")

		_, err := os.Stat(filepath.Join(repo, indexDir))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("NothingToClean", func(t *testing.T) {
		t.Parallel()
		err := (&CleanCmd{Force: true}).Run(&Globals{Repo: t.TempDir(), out: &bytes.Buffer{}})
		assert.Error(t, err)
	})
}

func TestCLI_Execute(t *testing.T) {
	t.Parallel()

	repo := writeProject(t)
	cli := NewCLI()
	require.NoError(t, cli.Execute([]string{"--repo", repo, "-q", "analyze"}))

	_, err := readMeta(repo)
	assert.NoError(t, err)

	assert.Error(t, NewCLI().Execute([]string{"--repo", repo, "no-such-command"}))
}
