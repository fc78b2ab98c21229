package storage

import (
	"context"
	"slices"
	"sync"

	"github.com/Benny93/pydeps-go/internal/graph"
)

// MemoryBackend keeps the snapshot in process memory. It is used by tests
// and by runs that do not persist an index.
type MemoryBackend struct {
	mu          sync.RWMutex
	initialized bool
	analysis    *Analysis
}

// NewMemoryBackend creates a new in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Initialize marks the backend ready. The path is ignored.
func (m *MemoryBackend) Initialize(path string, readOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = true
	return nil
}

// Close drops the stored snapshot.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = false
	m.analysis = nil
	return nil
}

// SaveAnalysis replaces the stored snapshot with a copy of a.
func (m *MemoryBackend) SaveAnalysis(ctx context.Context, a *Analysis) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return ErrNotInitialized
	}
	m.analysis = copyAnalysis(a)
	return nil
}

// LoadAnalysis returns a copy of the stored snapshot.
func (m *MemoryBackend) LoadAnalysis(ctx context.Context) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return nil, ErrNotInitialized
	}
	if m.analysis == nil {
		return nil, ErrNoAnalysis
	}
	return copyAnalysis(m.analysis), nil
}

// Dependencies returns the stored edges whose source is the given entity.
func (m *MemoryBackend) Dependencies(ctx context.Context, source string, kinds ...graph.RelType) ([]graph.DependencyEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return nil, ErrNotInitialized
	}
	if m.analysis == nil {
		return nil, nil
	}
	var edges []graph.DependencyEdge
	for _, e := range m.analysis.Graph.Outgoing(source) {
		if len(kinds) == 0 || slices.Contains(kinds, e.Kind) {
			edges = append(edges, e)
		}
	}
	return edges, nil
}

// ModuleForFile returns the record of an analysed file.
func (m *MemoryBackend) ModuleForFile(ctx context.Context, relPath string) (FileRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return FileRecord{}, false, ErrNotInitialized
	}
	if m.analysis == nil {
		return FileRecord{}, false, nil
	}
	f, ok := m.analysis.Files[relPath]
	return f, ok, nil
}

// HasEntity reports whether the entity is part of the project.
func (m *MemoryBackend) HasEntity(ctx context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return false, ErrNotInitialized
	}
	return m.analysis != nil && m.analysis.Entities.Has(id), nil
}

// RunID returns the id of the stored run, or "" when empty.
func (m *MemoryBackend) RunID(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return "", ErrNotInitialized
	}
	if m.analysis == nil {
		return "", nil
	}
	return m.analysis.RunID, nil
}

func copyAnalysis(a *Analysis) *Analysis {
	out := NewAnalysis(a.RunID)
	if a.Graph != nil {
		out.Graph.AddEdges(a.Graph.Edges())
	}
	out.Entities.Merge(a.Entities)
	for k, v := range a.Files {
		out.Files[k] = v
	}
	return out
}
