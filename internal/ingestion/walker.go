// Package ingestion discovers the Python files of a project and runs the
// extraction pipeline over them.
package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/gobwas/glob"
)

// FileEntry represents a Python file to be processed.
type FileEntry struct {
	// Path is the absolute file path.
	Path string

	// RelPath is the slash-separated path relative to the repo root.
	RelPath string

	// Module is the dotted module name derived from RelPath.
	Module string

	// IsPackage is true for a package's __init__.py.
	IsPackage bool

	// Content is the file content.
	Content []byte

	// SHA256 is the hash of the file content.
	SHA256 string
}

const pythonExt = ".py"

// Default patterns to ignore (in addition to .gitignore).
var defaultIgnorePatterns = []string{
	".git/",
	".pydeps/",
	"__pycache__/",
	".venv/",
	"venv/",
	".tox/",
	".nox/",
	".eggs/",
	"*.egg-info/",
	".pytest_cache/",
	".mypy_cache/",
	".ruff_cache/",
	"site-packages/",
	"node_modules/",
	"htmlcov/",
}

// WalkOptions filters the walk.
type WalkOptions struct {
	// Patterns are extra gitignore patterns, usually from .gitignore.
	Patterns []gitignore.Pattern

	// Exclude holds dotted module globs; matching modules are skipped.
	Exclude []string
}

// WalkRepo walks the repository and returns every Python file that is not
// ignored or excluded, in lexical path order.
func WalkRepo(repoPath string, opts WalkOptions) ([]FileEntry, error) {
	excludes, err := compileExcludes(opts.Exclude)
	if err != nil {
		return nil, err
	}

	allPatterns := make([]gitignore.Pattern, 0, len(defaultIgnorePatterns)+len(opts.Patterns))
	for _, p := range defaultIgnorePatterns {
		allPatterns = append(allPatterns, gitignore.ParsePattern(p, nil))
	}
	allPatterns = append(allPatterns, opts.Patterns...)
	matcher := gitignore.NewMatcher(allPatterns)

	var entries []FileEntry
	err = filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path != repoPath && shouldSkipDir(d.Name(), path, repoPath, matcher) {
				return filepath.SkipDir
			}
			return nil
		}

		if !isPythonFile(d.Name()) {
			return nil
		}

		relPath, err := filepath.Rel(repoPath, path)
		if err != nil {
			return err
		}
		if matcher.Match(splitPath(relPath), false) {
			return nil
		}

		relPath = filepath.ToSlash(relPath)
		module, isPackage := ModuleName(relPath)
		if module == "" || excluded(excludes, module) {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		entries = append(entries, FileEntry{
			Path:      path,
			RelPath:   relPath,
			Module:    module,
			IsPackage: isPackage,
			Content:   content,
			SHA256:    HashContent(content),
		})
		return nil
	})

	return entries, err
}

// ModuleName maps a slash-separated relative path to its dotted module name:
// "pkg/sub/mod.py" is "pkg.sub.mod" and "pkg/__init__.py" is "pkg", a
// package. A top-level __init__.py has no module name.
func ModuleName(relPath string) (string, bool) {
	relPath = strings.TrimPrefix(filepath.ToSlash(relPath), "./")
	relPath = strings.TrimSuffix(relPath, pythonExt)

	parts := strings.Split(relPath, "/")
	isPackage := parts[len(parts)-1] == "__init__"
	if isPackage {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, "."), isPackage
}

// HashContent returns the hex SHA-256 of a file's content.
func HashContent(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// loadGitignore loads .gitignore patterns from the repository root.
func loadGitignore(repoPath string) ([]gitignore.Pattern, error) {
	content, err := os.ReadFile(filepath.Join(repoPath, ".gitignore"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var patterns []gitignore.Pattern
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	return patterns, nil
}

func compileExcludes(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '.')
		if err != nil {
			return nil, fmt.Errorf("compiling exclude %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func excluded(globs []glob.Glob, module string) bool {
	for _, g := range globs {
		if g.Match(module) {
			return true
		}
	}
	return false
}

func isPythonFile(filename string) bool {
	return filepath.Ext(filename) == pythonExt
}

// shouldSkipDir checks if a directory should be skipped.
func shouldSkipDir(name, path, repoRoot string, matcher gitignore.Matcher) bool {
	if name == ".git" {
		return true
	}
	relPath, err := filepath.Rel(repoRoot, path)
	if err != nil {
		return false
	}
	return matcher.Match(splitPath(relPath), true)
}

// splitPath splits a path into its components.
func splitPath(path string) []string {
	return strings.Split(path, string(filepath.Separator))
}
