// Package query answers questions about a stored analysis: what an entity
// depends on, who uses it, which entities enclose a source line.
//
// It is shared by the CLI and the MCP server.
package query

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/Benny93/pydeps-go/internal/analysis"
	"github.com/Benny93/pydeps-go/internal/graph"
	"github.com/Benny93/pydeps-go/internal/ingestion"
	"github.com/Benny93/pydeps-go/internal/parsers"
	"github.com/Benny93/pydeps-go/internal/storage"
)

var (
	// ErrUnknownEntity is returned when a name matches no project entity.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrAmbiguousEntity is returned when a short name matches several
	// project entities.
	ErrAmbiguousEntity = errors.New("ambiguous entity")

	// ErrLineOutOfRange is returned by Locate for a line outside the file.
	ErrLineOutOfRange = errors.New("line out of range")
)

// Service runs queries against an index.
type Service struct {
	store    storage.StorageBackend
	repoPath string
	parser   parsers.Parser
}

// NewService creates a query service over store. repoPath is the analysed
// repository; Locate reads source files relative to it.
func NewService(store storage.StorageBackend, repoPath string) *Service {
	return &Service{
		store:    store,
		repoPath: repoPath,
		parser:   parsers.NewPythonParser(),
	}
}

// Location is the answer to a Locate query.
type Location struct {
	File     string   `json:"file"`
	Module   string   `json:"module"`
	Line     int      `json:"line"`
	Entities []string `json:"entities"`

	// Stale is set when the file changed since the index was built.
	Stale bool `json:"stale"`
}

// Overview summarizes the stored analysis.
type Overview struct {
	RunID    string         `json:"run_id"`
	Files    int            `json:"files"`
	Entities int            `json:"entities"`
	Stats    map[string]int `json:"stats"`
}

// Resolve maps a user-supplied name to an entity id. An exact id wins;
// otherwise the name is matched against id suffixes, so `Widget` finds
// `pkg.b.Widget` when it is the only entity of that name.
func (s *Service) Resolve(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrUnknownEntity)
	}

	ok, err := s.store.HasEntity(ctx, name)
	if err != nil {
		return "", err
	}
	if ok {
		return name, nil
	}

	a, err := s.store.LoadAnalysis(ctx)
	if err != nil {
		return "", err
	}

	var matches []string
	for id := range a.Entities {
		if strings.HasSuffix(id, "."+name) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	case 1:
		return matches[0], nil
	default:
		sort.Strings(matches)
		return "", fmt.Errorf("%w: %s matches %s", ErrAmbiguousEntity, name, strings.Join(matches, ", "))
	}
}

// Dependencies returns the outgoing edges of an entity, optionally limited
// to the given kinds.
func (s *Service) Dependencies(ctx context.Context, name string, kinds ...graph.RelType) (string, []graph.DependencyEdge, error) {
	id, err := s.Resolve(ctx, name)
	if err != nil {
		return "", nil, err
	}
	edges, err := s.store.Dependencies(ctx, id, kinds...)
	if err != nil {
		return "", nil, err
	}
	return id, edges, nil
}

// UsedBy returns the project entities that depend on an entity, through
// any kind of edge.
func (s *Service) UsedBy(ctx context.Context, name string) (string, []string, error) {
	id, err := s.Resolve(ctx, name)
	if err != nil {
		return "", nil, err
	}
	a, err := s.store.LoadAnalysis(ctx)
	if err != nil {
		return "", nil, err
	}
	return id, a.Graph.Reverse(a.Entities)[id].Sorted(), nil
}

// Locate reports the entities enclosing a line of a source file, innermost
// first. The file is parsed again from disk.
func (s *Service) Locate(ctx context.Context, file string, line int) (*Location, error) {
	relPath, err := s.relPath(file)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(filepath.Join(s.repoPath, filepath.FromSlash(relPath)))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", relPath, err)
	}

	loc := &Location{File: relPath, Line: line}

	record, found, err := s.store.ModuleForFile(ctx, relPath)
	if err != nil {
		return nil, err
	}
	if found {
		loc.Module = record.Module
		loc.Stale = record.SHA256 != ingestion.HashContent(content)
	} else {
		loc.Module, _ = ingestion.ModuleName(relPath)
		loc.Stale = true
	}

	tree, err := s.parser.Parse(relPath, content)
	if err != nil {
		return nil, err
	}

	entities, ok := analysis.BuildLineMap(tree, loc.Module).Query(line)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no line %d", ErrLineOutOfRange, relPath, line)
	}
	loc.Entities = entities
	return loc, nil
}

// Entities lists project entity ids in lexical order. A non-empty pattern
// filters them with a glob where `*` stays within one dotted segment and
// `**` spans several.
func (s *Service) Entities(ctx context.Context, pattern string) ([]string, error) {
	a, err := s.store.LoadAnalysis(ctx)
	if err != nil {
		return nil, err
	}
	if pattern == "" {
		return a.Entities.Sorted(), nil
	}

	g, err := glob.Compile(pattern, '.')
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	var out []string
	for _, id := range a.Entities.Sorted() {
		if g.Match(id) {
			out = append(out, id)
		}
	}
	return out, nil
}

// Unused lists project classes and functions nothing else depends on.
func (s *Service) Unused(ctx context.Context) ([]string, error) {
	a, err := s.store.LoadAnalysis(ctx)
	if err != nil {
		return nil, err
	}
	return ingestion.FindUnused(a), nil
}

// Overview returns index-wide counts.
func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	a, err := s.store.LoadAnalysis(ctx)
	if err != nil {
		return nil, err
	}
	return &Overview{
		RunID:    a.RunID,
		Files:    len(a.Files),
		Entities: len(a.Entities),
		Stats:    a.Graph.Stats(),
	}, nil
}

// Stale lists indexed files whose content changed or that were removed
// since the last analysis.
func (s *Service) Stale(ctx context.Context) ([]string, error) {
	a, err := s.store.LoadAnalysis(ctx)
	if err != nil {
		return nil, err
	}

	var stale []string
	for relPath, record := range a.Files {
		content, err := os.ReadFile(filepath.Join(s.repoPath, filepath.FromSlash(relPath)))
		if err != nil || ingestion.HashContent(content) != record.SHA256 {
			stale = append(stale, relPath)
		}
	}
	sort.Strings(stale)
	return stale, nil
}

// relPath turns a user-supplied path into a slash-separated path relative
// to the repository.
func (s *Service) relPath(file string) (string, error) {
	if filepath.IsAbs(file) {
		rel, err := filepath.Rel(s.repoPath, file)
		if err != nil {
			return "", fmt.Errorf("resolving %s: %w", file, err)
		}
		file = rel
	}
	rel := filepath.ToSlash(filepath.Clean(file))
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside the repository", file)
	}
	return rel, nil
}
