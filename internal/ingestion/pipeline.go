package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Benny93/pydeps-go/internal/analysis"
	"github.com/Benny93/pydeps-go/internal/config"
	"github.com/Benny93/pydeps-go/internal/graph"
	"github.com/Benny93/pydeps-go/internal/parsers"
	"github.com/Benny93/pydeps-go/internal/resolve"
	"github.com/Benny93/pydeps-go/internal/storage"
)

// SkippedFile is a file left out of the analysis.
type SkippedFile struct {
	RelPath string
	Err     error
}

// PipelineResult summarizes a pipeline run.
type PipelineResult struct {
	RunID        string
	Files        int
	Parsed       int
	Skipped      []SkippedFile
	Entities     int
	Edges        int
	Inherits     int
	Calls        int
	Imports      int
	DurationSecs float64
}

// ProgressCallback is called with phase name and progress (0.0-1.0).
type ProgressCallback func(phase string, progress float64)

// parsedFile is a file that made it through parsing.
type parsedFile struct {
	entry FileEntry
	tree  *parsers.Node
}

// RunPipeline runs the full extraction pipeline over a repository and, when
// store is not nil, replaces its contents with the result.
//
// Files that cannot be read as Python are skipped and reported in the
// result; only a walk failure, cancellation or a storage failure aborts the
// run.
func RunPipeline(
	ctx context.Context,
	repoPath string,
	cfg *config.Config,
	store storage.StorageBackend,
	progress ProgressCallback,
) (*storage.Analysis, *PipelineResult, error) {
	start := time.Now()
	if cfg == nil {
		cfg = config.Default()
	}
	report := func(phase string, p float64) {
		if progress != nil {
			progress(phase, p)
		}
	}

	result := &PipelineResult{RunID: uuid.NewString()}
	logger := slog.With("run", result.RunID)

	// Phase 1: File walking
	report("Walking files", 0.0)
	patterns, err := loadGitignore(repoPath)
	if err != nil {
		logger.Warn("ignoring unreadable .gitignore", "error", err)
	}
	entries, err := WalkRepo(repoPath, WalkOptions{Patterns: patterns, Exclude: cfg.Analysis.Exclude})
	if err != nil {
		return nil, nil, fmt.Errorf("walking repo: %w", err)
	}
	result.Files = len(entries)
	report("Walking files", 1.0)

	// Phase 2: Parsing
	report("Parsing files", 0.0)
	parsed, skipped, err := parseFiles(ctx, entries, cfg.Analysis.Workers)
	if err != nil {
		return nil, nil, err
	}
	for _, s := range skipped {
		logger.Warn("skipping file", "path", s.RelPath, "error", s.Err)
	}
	result.Parsed = len(parsed)
	result.Skipped = skipped
	report("Parsing files", 1.0)

	// Phase 3: Declarations
	report("Collecting declarations", 0.0)
	decls := make([]analysis.Declarations, len(parsed))
	for i, pf := range parsed {
		decls[i] = analysis.CollectDeclarations(pf.tree, pf.entry.Module)
	}
	entities := analysis.CollectProjectEntities(decls)
	report("Collecting declarations", 1.0)

	// Phase 4: Dependencies
	report("Extracting dependencies", 0.0)
	provider, err := NewMetadataProvider(cfg, repoPath, decls)
	if err != nil {
		return nil, nil, fmt.Errorf("metadata provider: %w", err)
	}
	visitor := analysis.NewVisitor(
		analysis.WithResolver(resolve.NewResolver(resolve.WithStrictModuleMembers(cfg.Strict()))),
		analysis.WithMetadataProvider(provider),
		analysis.WithLookupTimeout(cfg.LookupTimeout()),
	)
	g, err := visitFiles(ctx, visitor, parsed, cfg.Analysis.Workers)
	if err != nil {
		return nil, nil, err
	}
	report("Extracting dependencies", 1.0)

	a := &storage.Analysis{
		RunID:    result.RunID,
		Graph:    g,
		Entities: entities,
		Files:    make(map[string]storage.FileRecord, len(parsed)),
	}
	for _, pf := range parsed {
		a.Files[pf.entry.RelPath] = storage.FileRecord{
			RelPath:   pf.entry.RelPath,
			Module:    pf.entry.Module,
			IsPackage: pf.entry.IsPackage,
			SHA256:    pf.entry.SHA256,
		}
	}

	stats := g.Stats()
	result.Entities = len(entities)
	result.Edges = stats["edges"]
	result.Inherits = stats[string(graph.RelInherits)]
	result.Calls = stats[string(graph.RelCalls)]
	result.Imports = stats[string(graph.RelImports)]

	// Store in backend
	if store != nil {
		report("Saving index", 0.0)
		if err := store.SaveAnalysis(ctx, a); err != nil {
			return nil, nil, fmt.Errorf("saving analysis: %w", err)
		}
		report("Saving index", 1.0)
	}

	result.DurationSecs = time.Since(start).Seconds()
	logger.Debug("pipeline finished",
		"files", result.Files,
		"skipped", len(result.Skipped),
		"entities", result.Entities,
		"edges", result.Edges,
		"duration", time.Since(start),
	)
	return a, result, nil
}

// NewMetadataProvider builds the member lookup chain for a run: project
// declarations first, then the configured registry, then the interpreter.
// Answers are cached for the duration of the run.
func NewMetadataProvider(cfg *config.Config, repoPath string, decls []analysis.Declarations) (resolve.MetadataProvider, error) {
	chain := resolve.ChainProvider{analysis.DeclarationProvider(decls)}
	if len(cfg.Metadata.Modules) > 0 {
		chain = append(chain, resolve.NewRegistryProvider("config", cfg.Metadata.Modules))
	}
	if cfg.Metadata.Interpreter != "" {
		chain = append(chain, &resolve.InterpreterProvider{
			Interpreter: cfg.Metadata.Interpreter,
			Dir:         repoPath,
		})
	}
	return resolve.NewCachedProvider(chain, cfg.Metadata.CacheSize)
}

// parseFiles parses entries concurrently. Unparseable files are returned
// as skipped; the order of parsed files follows entries.
func parseFiles(ctx context.Context, entries []FileEntry, workers int) ([]parsedFile, []SkippedFile, error) {
	parser := parsers.NewPythonParser()
	trees := make([]*parsers.Node, len(entries))
	errs := make([]error, len(entries))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(max(workers, 1))
	for i, entry := range entries {
		if egCtx.Err() != nil {
			break
		}
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			trees[i], errs[i] = parser.Parse(entry.RelPath, entry.Content)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var (
		parsed  []parsedFile
		skipped []SkippedFile
	)
	for i, entry := range entries {
		if errs[i] != nil {
			if !errors.Is(errs[i], parsers.ErrUnparseable) {
				errs[i] = fmt.Errorf("%w: %w", parsers.ErrUnparseable, errs[i])
			}
			skipped = append(skipped, SkippedFile{RelPath: entry.RelPath, Err: errs[i]})
			continue
		}
		parsed = append(parsed, parsedFile{entry: entry, tree: trees[i]})
	}
	return parsed, skipped, nil
}

// visitFiles runs the visitor over every parsed file concurrently and
// merges the per-file edge sets into one graph.
func visitFiles(ctx context.Context, v *analysis.Visitor, files []parsedFile, workers int) (*graph.DependencyGraph, error) {
	g := graph.NewDependencyGraph()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(max(workers, 1))
	for _, pf := range files {
		if egCtx.Err() != nil {
			break
		}
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			var edges graph.EdgeSet
			if pf.entry.IsPackage {
				edges = v.VisitPackage(egCtx, pf.tree, pf.entry.Module)
			} else {
				edges = v.Visit(egCtx, pf.tree, pf.entry.Module)
			}
			g.AddEdges(edges)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g, nil
}
