// Package storage persists analysis results between pydeps invocations.
//
// It defines the StorageBackend protocol that all storage implementations
// must satisfy, along with the Analysis snapshot they store.
package storage

import (
	"context"
	"errors"

	"github.com/Benny93/pydeps-go/internal/graph"
)

var (
	// ErrNotInitialized is returned when a backend is used before
	// Initialize or after Close.
	ErrNotInitialized = errors.New("storage not initialized")

	// ErrNoAnalysis is returned by LoadAnalysis when nothing was saved yet.
	ErrNoAnalysis = errors.New("no analysis stored")
)

// FileRecord describes one analysed source file.
type FileRecord struct {
	// RelPath is the slash-separated path relative to the repo root.
	RelPath string `json:"rel_path"`

	// Module is the dotted module name of the file.
	Module string `json:"module"`

	// IsPackage is true for a package's __init__.py.
	IsPackage bool `json:"is_package,omitempty"`

	// SHA256 is the content hash at analysis time.
	SHA256 string `json:"sha256"`
}

// Analysis is the complete result of one extraction run.
type Analysis struct {
	// RunID identifies the run that produced the snapshot.
	RunID string

	// Graph is the forward dependency graph.
	Graph *graph.DependencyGraph

	// Entities is the project entity set.
	Entities graph.EntitySet

	// Files lists the analysed files, keyed by relative path.
	Files map[string]FileRecord
}

// NewAnalysis creates an empty snapshot.
func NewAnalysis(runID string) *Analysis {
	return &Analysis{
		RunID:    runID,
		Graph:    graph.NewDependencyGraph(),
		Entities: graph.NewEntitySet(),
		Files:    make(map[string]FileRecord),
	}
}

// FileForModule returns the file that declares a module.
func (a *Analysis) FileForModule(module string) (FileRecord, bool) {
	for _, f := range a.Files {
		if f.Module == module {
			return f, true
		}
	}
	return FileRecord{}, false
}

// StorageBackend defines the interface for storage implementations.
//
// Implementations must be thread-safe and support concurrent access.
type StorageBackend interface {
	// Lifecycle methods

	// Initialize opens or creates the storage backend at the given path.
	// If readOnly is true, the backend is opened in read-only mode.
	Initialize(path string, readOnly bool) error

	// Close releases all resources held by the backend.
	Close() error

	// Bulk operations

	// SaveAnalysis replaces the entire store with the given snapshot.
	SaveAnalysis(ctx context.Context, a *Analysis) error

	// LoadAnalysis reads the stored snapshot back.
	LoadAnalysis(ctx context.Context) (*Analysis, error)

	// Lookups

	// Dependencies returns the stored edges whose source is the given
	// entity, optionally filtered by kind.
	Dependencies(ctx context.Context, source string, kinds ...graph.RelType) ([]graph.DependencyEdge, error)

	// ModuleForFile returns the record of an analysed file.
	ModuleForFile(ctx context.Context, relPath string) (FileRecord, bool, error)

	// HasEntity reports whether the entity is part of the project.
	HasEntity(ctx context.Context, id string) (bool, error)

	// RunID returns the id of the stored run, or "" when empty.
	RunID(ctx context.Context) (string, error)
}
