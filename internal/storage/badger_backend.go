package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/Benny93/pydeps-go/internal/graph"
)

// Key prefixes for different data types
const (
	prefixEdge   = "e:" // e:<source>|<kind>|<target> -> edgeRecord
	prefixEntity = "n:" // n:<entity id> -> empty
	prefixFile   = "f:" // f:<rel path> -> FileRecord
	prefixMeta   = "m:" // m:<name> -> value

	keySep     = "|"
	metaRunKey = prefixMeta + "run"
)

type edgeRecord struct {
	Source string        `json:"source"`
	Target string        `json:"target"`
	Kind   graph.RelType `json:"kind"`
}

// BadgerBackend is a BadgerDB-backed storage implementation.
type BadgerBackend struct {
	db *badger.DB
	mu sync.RWMutex
}

// NewBadgerBackend creates a new BadgerDB backend.
func NewBadgerBackend() *BadgerBackend {
	return &BadgerBackend{}
}

// Initialize opens or creates the BadgerDB database at the given path.
func (b *BadgerBackend) Initialize(path string, readOnly bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	opts := badger.DefaultOptions(path).
		WithNumCompactors(2).
		WithNumMemtables(5).
		WithLoggingLevel(badger.ERROR) // Suppress INFO/WARNING logs

	if readOnly {
		opts = opts.WithReadOnly(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("opening badger DB: %w", err)
	}
	b.db = db
	return nil
}

// Close releases all resources held by the backend.
func (b *BadgerBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

// SaveAnalysis replaces the entire store with the given snapshot.
func (b *BadgerBackend) SaveAnalysis(ctx context.Context, a *Analysis) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return ErrNotInitialized
	}
	if err := b.db.DropAll(); err != nil {
		return fmt.Errorf("clearing store: %w", err)
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for e := range a.Graph.Edges() {
		data, err := json.Marshal(edgeRecord{Source: e.Source, Target: e.Target, Kind: e.Kind})
		if err != nil {
			return fmt.Errorf("marshaling edge: %w", err)
		}
		if err := wb.Set(edgeKey(e), data); err != nil {
			return fmt.Errorf("setting edge: %w", err)
		}
	}

	for id := range a.Entities {
		if err := wb.Set([]byte(prefixEntity+id), nil); err != nil {
			return fmt.Errorf("setting entity: %w", err)
		}
	}

	for relPath, f := range a.Files {
		data, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("marshaling file record: %w", err)
		}
		if err := wb.Set([]byte(prefixFile+relPath), data); err != nil {
			return fmt.Errorf("setting file record: %w", err)
		}
	}

	if err := wb.Set([]byte(metaRunKey), []byte(a.RunID)); err != nil {
		return fmt.Errorf("setting run id: %w", err)
	}

	return wb.Flush()
}

// LoadAnalysis reads the stored snapshot back.
func (b *BadgerBackend) LoadAnalysis(ctx context.Context) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return nil, ErrNotInitialized
	}

	var a *Analysis
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaRunKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNoAnalysis
		}
		if err != nil {
			return fmt.Errorf("getting run id: %w", err)
		}
		runID, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		a = NewAnalysis(string(runID))

		if err := iteratePrefix(txn, prefixEdge, func(_ []byte, val []byte) error {
			var rec edgeRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("unmarshaling edge: %w", err)
			}
			a.Graph.AddEdge(rec.Source, rec.Target, rec.Kind)
			return nil
		}); err != nil {
			return err
		}

		if err := iteratePrefix(txn, prefixEntity, func(key []byte, _ []byte) error {
			a.Entities.Add(string(key[len(prefixEntity):]))
			return nil
		}); err != nil {
			return err
		}

		return iteratePrefix(txn, prefixFile, func(_ []byte, val []byte) error {
			var f FileRecord
			if err := json.Unmarshal(val, &f); err != nil {
				return fmt.Errorf("unmarshaling file record: %w", err)
			}
			a.Files[f.RelPath] = f
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Dependencies returns the stored edges whose source is the given entity.
func (b *BadgerBackend) Dependencies(ctx context.Context, source string, kinds ...graph.RelType) ([]graph.DependencyEdge, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return nil, ErrNotInitialized
	}

	var edges []graph.DependencyEdge
	err := b.db.View(func(txn *badger.Txn) error {
		return iteratePrefix(txn, prefixEdge+source+keySep, func(_ []byte, val []byte) error {
			var rec edgeRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("unmarshaling edge: %w", err)
			}
			if len(kinds) > 0 && !slices.Contains(kinds, rec.Kind) {
				return nil
			}
			edges = append(edges, graph.DependencyEdge{Source: rec.Source, Target: rec.Target, Kind: rec.Kind})
			return nil
		})
	})
	return edges, err
}

// ModuleForFile returns the record of an analysed file.
func (b *BadgerBackend) ModuleForFile(ctx context.Context, relPath string) (FileRecord, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return FileRecord{}, false, ErrNotInitialized
	}

	var (
		f     FileRecord
		found bool
	)
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixFile + relPath))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("getting file record: %w", err)
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &f)
		})
	})
	return f, found, err
}

// HasEntity reports whether the entity is part of the project.
func (b *BadgerBackend) HasEntity(ctx context.Context, id string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return false, ErrNotInitialized
	}

	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(prefixEntity + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// RunID returns the id of the stored run, or "" when empty.
func (b *BadgerBackend) RunID(ctx context.Context) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return "", ErrNotInitialized
	}

	var runID string
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaRunKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		runID = string(val)
		return err
	})
	return runID, err
}

func iteratePrefix(txn *badger.Txn, prefix string, fn func(key, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		if err := item.Value(func(val []byte) error {
			return fn(key, val)
		}); err != nil {
			return err
		}
	}
	return nil
}

func edgeKey(e graph.DependencyEdge) []byte {
	return []byte(prefixEdge + e.Source + keySep + string(e.Kind) + keySep + e.Target)
}
