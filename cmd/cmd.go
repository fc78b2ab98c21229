// Package cmd provides CLI command implementations for pydeps.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/Benny93/pydeps-go/internal/config"
	"github.com/Benny93/pydeps-go/internal/graph"
	"github.com/Benny93/pydeps-go/internal/ingestion"
	"github.com/Benny93/pydeps-go/internal/query"
	"github.com/Benny93/pydeps-go/internal/storage"
	"github.com/Benny93/pydeps-go/mcp"
)

// Version is set at build time via ldflags.
var Version = "dev"

const (
	indexDir = ".pydeps"
	metaFile = "meta.json"
)

// Globals holds flags shared by every command.
type Globals struct {
	Repo    string `short:"C" default:"." type:"path" help:"Repository to operate on"`
	Verbose bool   `short:"v" help:"Enable verbose output"`
	Quiet   bool   `short:"q" help:"Suppress non-essential output"`

	out io.Writer `kong:"-"`
}

func (g *Globals) stdout() io.Writer {
	if g.out == nil {
		return os.Stdout
	}
	return g.out
}

func (g *Globals) repoPath() (string, error) {
	repo := g.Repo
	if repo == "" {
		repo = "."
	}
	abs, err := filepath.Abs(repo)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	return abs, nil
}

// Meta is the content of meta.json, written next to the index after every
// analysis.
type Meta struct {
	Version   string    `json:"version"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	RunID     string    `json:"run_id"`
	Stats     MetaStats `json:"stats"`
	IndexedAt string    `json:"indexed_at"`
}

// MetaStats are the counts of one analysis run.
type MetaStats struct {
	Files        int     `json:"files"`
	Parsed       int     `json:"parsed"`
	Skipped      int     `json:"skipped"`
	Entities     int     `json:"entities"`
	Edges        int     `json:"edges"`
	Inherits     int     `json:"inherits"`
	Calls        int     `json:"calls"`
	Imports      int     `json:"imports"`
	DurationSecs float64 `json:"duration_secs"`
}

// AnalyzeCmd builds the dependency index of a repository.
type AnalyzeCmd struct {
	Path string `arg:"" optional:"" help:"Path to repository (defaults to --repo)"`
}

// Run executes the analyze command.
func (c *AnalyzeCmd) Run(g *Globals) error {
	if c.Path != "" {
		g.Repo = c.Path
	}
	repoPath, err := g.repoPath()
	if err != nil {
		return err
	}

	info, err := os.Stat(repoPath)
	if err != nil {
		return fmt.Errorf("accessing %s: %w", repoPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", repoPath)
	}

	cfg, err := config.LoadForRepo(repoPath)
	if err != nil {
		return err
	}

	w := g.stdout()
	if !g.Quiet {
		color.New(color.FgGreen).Fprintf(w, "Analysing %s\n", repoPath)
	}

	store, err := openStore(repoPath, true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var progress ingestion.ProgressCallback
	if !g.Quiet {
		progress = func(phase string, pct float64) {
			fmt.Fprintf(w, "\r\033[K%s (%.0f%%)", phase, pct*100)
		}
	}

	ctx, stop := signalContext()
	defer stop()

	_, result, err := ingestion.RunPipeline(ctx, repoPath, cfg, store, progress)
	if err != nil {
		return fmt.Errorf("running pipeline: %w", err)
	}
	if progress != nil {
		fmt.Fprintln(w) // Newline after progress
	}

	if err := writeMeta(repoPath, result); err != nil {
		return err
	}

	if g.Quiet {
		return nil
	}
	color.New(color.FgGreen).Fprintln(w, "\n✓ Analysis complete")
	printSummary(w, result)
	for _, s := range result.Skipped {
		color.New(color.FgYellow).Fprintf(w, "  skipped %s: %v\n", s.RelPath, s.Err)
	}
	return nil
}

// DepsCmd lists what an entity depends on.
type DepsCmd struct {
	Entity string `arg:"" help:"Entity id or a unique trailing part of one"`
	Kind   string `short:"k" help:"Only show edges of this kind (inherits|calls|imports)"`
	JSON   bool   `help:"Print JSON"`
}

// Run executes the deps command.
func (c *DepsCmd) Run(g *Globals) error {
	return withQueries(g, func(ctx context.Context, q *query.Service) error {
		var kinds []graph.RelType
		if c.Kind != "" {
			kind, ok := graph.ParseRelType(c.Kind)
			if !ok {
				return fmt.Errorf("unknown kind %q", c.Kind)
			}
			kinds = append(kinds, kind)
		}

		id, edges, err := q.Dependencies(ctx, c.Entity, kinds...)
		if err != nil {
			return err
		}

		w := g.stdout()
		if c.JSON {
			type edgeJSON struct {
				Target string `json:"target"`
				Kind   string `json:"kind"`
			}
			out := struct {
				Entity       string     `json:"entity"`
				Dependencies []edgeJSON `json:"dependencies"`
			}{Entity: id, Dependencies: []edgeJSON{}}
			for _, e := range edges {
				out.Dependencies = append(out.Dependencies, edgeJSON{Target: e.Target, Kind: string(e.Kind)})
			}
			return printJSON(w, out)
		}

		color.New(color.FgCyan, color.Bold).Fprintf(w, "%s\n", id)
		if len(edges) == 0 {
			fmt.Fprintln(w, "  (no dependencies)")
			return nil
		}
		for _, e := range edges {
			fmt.Fprintf(w, "  %-9s %s\n", e.Kind, e.Target)
		}
		return nil
	})
}

// UsedByCmd lists the project entities depending on an entity.
type UsedByCmd struct {
	Entity string `arg:"" help:"Entity id or a unique trailing part of one"`
	JSON   bool   `help:"Print JSON"`
}

// Run executes the used-by command.
func (c *UsedByCmd) Run(g *Globals) error {
	return withQueries(g, func(ctx context.Context, q *query.Service) error {
		id, users, err := q.UsedBy(ctx, c.Entity)
		if err != nil {
			return err
		}

		w := g.stdout()
		if c.JSON {
			if users == nil {
				users = []string{}
			}
			return printJSON(w, map[string]any{"entity": id, "used_by": users})
		}

		color.New(color.FgCyan, color.Bold).Fprintf(w, "%s\n", id)
		if len(users) == 0 {
			fmt.Fprintln(w, "  (not used by any project entity)")
			return nil
		}
		for _, u := range users {
			fmt.Fprintf(w, "  %s\n", u)
		}
		return nil
	})
}

// LocateCmd shows the entities enclosing a source line.
type LocateCmd struct {
	File string `arg:"" help:"Python file, relative to the repository"`
	Line int    `arg:"" help:"1-based line number"`
	JSON bool   `help:"Print JSON"`
}

// Run executes the locate command.
func (c *LocateCmd) Run(g *Globals) error {
	return withQueries(g, func(ctx context.Context, q *query.Service) error {
		loc, err := q.Locate(ctx, c.File, c.Line)
		if err != nil {
			return err
		}

		w := g.stdout()
		if c.JSON {
			return printJSON(w, loc)
		}

		if loc.Stale {
			color.New(color.FgYellow).Fprintf(w, "warning: %s changed since the last analysis\n", loc.File)
		}
		color.New(color.FgCyan, color.Bold).Fprintf(w, "%s:%d\n", loc.File, loc.Line)
		for i, id := range loc.Entities {
			fmt.Fprintf(w, "  %d. %s\n", i+1, id)
		}
		return nil
	})
}

// EntitiesCmd lists project entities.
type EntitiesCmd struct {
	Match string `short:"m" help:"Glob over entity ids (* matches one dotted segment, ** several)"`
}

// Run executes the entities command.
func (c *EntitiesCmd) Run(g *Globals) error {
	return withQueries(g, func(ctx context.Context, q *query.Service) error {
		ids, err := q.Entities(ctx, c.Match)
		if err != nil {
			return err
		}
		w := g.stdout()
		for _, id := range ids {
			fmt.Fprintln(w, id)
		}
		if !g.Quiet {
			fmt.Fprintf(w, "\n%d entities\n", len(ids))
		}
		return nil
	})
}

// UnusedCmd lists classes and functions nothing else depends on.
type UnusedCmd struct{}

// Run executes the unused command.
func (c *UnusedCmd) Run(g *Globals) error {
	return withQueries(g, func(ctx context.Context, q *query.Service) error {
		ids, err := q.Unused(ctx)
		if err != nil {
			return err
		}

		w := g.stdout()
		if len(ids) == 0 {
			color.New(color.FgGreen).Fprintln(w, "No unused entities detected.")
			return nil
		}
		for _, id := range ids {
			fmt.Fprintln(w, id)
		}
		if !g.Quiet {
			fmt.Fprintf(w, "\n%d unused entities\n", len(ids))
		}
		return nil
	})
}

// WatchCmd re-analyses the repository whenever a Python file changes.
type WatchCmd struct{}

// Run executes the watch command.
func (c *WatchCmd) Run(g *Globals) error {
	repoPath, err := g.repoPath()
	if err != nil {
		return err
	}
	cfg, err := config.LoadForRepo(repoPath)
	if err != nil {
		return err
	}

	store, err := openStore(repoPath, true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, stop := signalContext()
	defer stop()

	w := g.stdout()
	if _, result, err := ingestion.RunPipeline(ctx, repoPath, cfg, store, nil); err != nil {
		return fmt.Errorf("running pipeline: %w", err)
	} else if err := writeMeta(repoPath, result); err != nil {
		return err
	}

	fmt.Fprintln(w, "## Watch Mode")
	fmt.Fprintf(w, "Watching %s for changes (Ctrl+C to stop)\n\n", repoPath)

	err = ingestion.WatchRepo(ctx, repoPath, cfg, store, reportUpdate(w, repoPath))
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch error: %w", err)
	}

	fmt.Fprintln(w, "Watch mode stopped.")
	return nil
}

// StatusCmd shows index status for the repository.
type StatusCmd struct{}

// Run executes the status command.
func (c *StatusCmd) Run(g *Globals) error {
	repoPath, err := g.repoPath()
	if err != nil {
		return err
	}

	meta, err := readMeta(repoPath)
	if err != nil {
		return err
	}

	w := g.stdout()
	fmt.Fprintf(w, "Index status for %s\n", repoPath)
	fmt.Fprintf(w, "  Version:        %s\n", meta.Version)
	fmt.Fprintf(w, "  Run:            %s\n", meta.RunID)
	fmt.Fprintf(w, "  Last indexed:   %s\n", meta.IndexedAt)
	fmt.Fprintf(w, "  Files:          %d (%d skipped)\n", meta.Stats.Files, meta.Stats.Skipped)
	fmt.Fprintf(w, "  Entities:       %d\n", meta.Stats.Entities)
	fmt.Fprintf(w, "  Edges:          %d\n", meta.Stats.Edges)

	return withQueries(g, func(ctx context.Context, q *query.Service) error {
		stale, err := q.Stale(ctx)
		if err != nil {
			return err
		}
		if len(stale) == 0 {
			color.New(color.FgGreen).Fprintln(w, "  Up to date")
			return nil
		}
		color.New(color.FgYellow).Fprintf(w, "  Stale files:    %d (run 'pydeps analyze')\n", len(stale))
		for _, f := range stale {
			fmt.Fprintf(w, "    %s\n", f)
		}
		return nil
	})
}

// CleanCmd deletes the index of the repository.
type CleanCmd struct {
	Force bool `short:"f" help:"Skip confirmation"`
}

// Run executes the clean command.
func (c *CleanCmd) Run(g *Globals) error {
	repoPath, err := g.repoPath()
	if err != nil {
		return err
	}

	dir := filepath.Join(repoPath, indexDir)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("no index found at %s. Nothing to clean", repoPath)
	}

	w := g.stdout()
	if !c.Force {
		fmt.Fprintf(w, "Delete index at %s? [y/N] ", dir)
		var response string
		_, _ = fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(w, "Aborted")
			return nil
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("deleting index: %w", err)
	}

	color.New(color.FgGreen).Fprintf(w, "Deleted %s\n", dir)
	return nil
}

// MCPCmd starts the MCP server on stdio.
type MCPCmd struct {
	Watch bool `short:"w" help:"Re-analyse on file changes while serving"`
}

// Run executes the mcp command.
func (c *MCPCmd) Run(g *Globals) error {
	repoPath, err := g.repoPath()
	if err != nil {
		return err
	}

	store, err := openStore(repoPath, c.Watch)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, stop := signalContext()
	defer stop()

	server := mcp.NewServer(query.NewService(store, repoPath))

	// No output to stdout: the MCP session owns it.
	if !c.Watch {
		return server.Run(ctx)
	}

	cfg, err := config.LoadForRepo(repoPath)
	if err != nil {
		return err
	}
	eg, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	eg.Go(func() error {
		defer cancel()
		return server.Run(ctx)
	})
	eg.Go(func() error {
		err := ingestion.WatchRepo(ctx, repoPath, cfg, store, reportUpdate(io.Discard, repoPath))
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return eg.Wait()
}

// Helper functions

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openStore opens the badger index of a repository. With create set the
// index directory is created and the store opened for writing; otherwise
// the index must exist and is opened read-only.
func openStore(repoPath string, create bool) (*storage.BadgerBackend, error) {
	dbPath := filepath.Join(repoPath, indexDir, "badger")
	if create {
		if err := os.MkdirAll(dbPath, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s directory: %w", indexDir, err)
		}
	} else if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no index found at %s. Run 'pydeps analyze' first", repoPath)
	}

	store := storage.NewBadgerBackend()
	if err := store.Initialize(dbPath, !create); err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	return store, nil
}

// withQueries opens the index read-only and runs fn against it.
func withQueries(g *Globals, fn func(context.Context, *query.Service) error) error {
	repoPath, err := g.repoPath()
	if err != nil {
		return err
	}
	store, err := openStore(repoPath, false)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	return fn(context.Background(), query.NewService(store, repoPath))
}

// reportUpdate prints the outcome of each watch re-analysis and refreshes
// meta.json.
func reportUpdate(w io.Writer, repoPath string) ingestion.UpdateFunc {
	return func(changed []string, result *ingestion.PipelineResult, err error) {
		stamp := time.Now().Format("15:04:05")
		if err != nil {
			color.New(color.FgRed).Fprintf(w, "[%s] re-analysis failed: %v\n", stamp, err)
			return
		}
		if err := writeMeta(repoPath, result); err != nil {
			slog.Warn("cannot update meta.json", "error", err)
		}
		fmt.Fprintf(w, "[%s] %d changed, %d entities, %d edges (%.2fs)\n",
			stamp, len(changed), result.Entities, result.Edges, result.DurationSecs)
	}
}

func writeMeta(repoPath string, result *ingestion.PipelineResult) error {
	meta := Meta{
		Version: Version,
		Name:    filepath.Base(repoPath),
		Path:    repoPath,
		RunID:   result.RunID,
		Stats: MetaStats{
			Files:        result.Files,
			Parsed:       result.Parsed,
			Skipped:      len(result.Skipped),
			Entities:     result.Entities,
			Edges:        result.Edges,
			Inherits:     result.Inherits,
			Calls:        result.Calls,
			Imports:      result.Imports,
			DurationSecs: result.DurationSecs,
		},
		IndexedAt: time.Now().UTC().Format(time.RFC3339),
	}

	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", metaFile, err)
	}
	if err := os.WriteFile(filepath.Join(repoPath, indexDir, metaFile), metaJSON, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", metaFile, err)
	}
	return nil
}

func readMeta(repoPath string) (*Meta, error) {
	metaBytes, err := os.ReadFile(filepath.Join(repoPath, indexDir, metaFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no index found at %s. Run 'pydeps analyze' first", repoPath)
		}
		return nil, fmt.Errorf("reading %s: %w", metaFile, err)
	}

	var meta Meta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", metaFile, err)
	}
	return &meta, nil
}

func printSummary(w io.Writer, result *ingestion.PipelineResult) {
	fmt.Fprintf(w, "  Files:          %d (%d skipped)\n", result.Files, len(result.Skipped))
	fmt.Fprintf(w, "  Entities:       %d\n", result.Entities)
	fmt.Fprintf(w, "  Edges:          %d\n", result.Edges)
	fmt.Fprintf(w, "    inherits:     %d\n", result.Inherits)
	fmt.Fprintf(w, "    calls:        %d\n", result.Calls)
	fmt.Fprintf(w, "    imports:      %d\n", result.Imports)
	fmt.Fprintf(w, "  Duration:       %.2fs\n", result.DurationSecs)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// setupLogging installs the default slog logger on stderr.
func setupLogging(verbose, quiet bool) {
	level := slog.LevelInfo
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

// CLI is the root Kong command structure.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Show version information"`

	// Commands
	Analyze  AnalyzeCmd  `cmd:"" help:"Build the dependency index of a repository"`
	Deps     DepsCmd     `cmd:"" help:"Show what an entity depends on"`
	UsedBy   UsedByCmd   `cmd:"" name:"used-by" help:"Show project entities that depend on an entity"`
	Locate   LocateCmd   `cmd:"" help:"Show the entities enclosing a source line"`
	Entities EntitiesCmd `cmd:"" help:"List project entities"`
	Unused   UnusedCmd   `cmd:"" help:"List classes and functions nothing depends on"`
	Watch    WatchCmd    `cmd:"" help:"Watch mode with live re-analysis"`
	Status   StatusCmd   `cmd:"" help:"Show index status for the repository"`
	Clean    CleanCmd    `cmd:"" help:"Delete the index of the repository"`
	MCP      MCPCmd      `cmd:"" name:"mcp" help:"Start MCP server (stdio transport)"`
}

// NewCLI creates a new CLI instance.
func NewCLI() *CLI {
	return &CLI{}
}

// Execute parses command-line arguments and executes the selected command.
func (c *CLI) Execute(args []string) error {
	parser, err := kong.New(c,
		kong.Name("pydeps"),
		kong.Description("Static dependency graph extractor for Python projects"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": Version,
		},
	)
	if err != nil {
		return err
	}

	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	setupLogging(c.Verbose, c.Quiet)
	return kongCtx.Run(&c.Globals)
}
