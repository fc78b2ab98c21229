package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/Benny93/pydeps-go/internal/config"
	"github.com/Benny93/pydeps-go/internal/storage"
)

// UpdateFunc receives the outcome of every re-analysis in watch mode.
type UpdateFunc func(changed []string, result *PipelineResult, err error)

// WatchRepo monitors a repository for Python file changes and re-runs the
// whole pipeline once a batch of changes has settled for the configured
// debounce interval. Blocks until the context is cancelled.
func WatchRepo(ctx context.Context, repoPath string, cfg *config.Config, store storage.StorageBackend, onUpdate UpdateFunc) error {
	if cfg == nil {
		cfg = config.Default()
	}

	matcher, err := loadGitignoreMatcher(repoPath)
	if err != nil {
		slog.Warn("ignoring unreadable .gitignore", "error", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := addWatchDirs(watcher, repoPath, repoPath, matcher); err != nil {
		return fmt.Errorf("setting up watcher: %w", err)
	}

	// Batch changed files for a single re-run
	changedFiles := make(map[string]struct{})
	batchTimer := time.NewTimer(cfg.Watch.Debounce)
	batchTimer.Stop()

	slog.Info("watching for changes", "path", repoPath, "debounce", cfg.Watch.Debounce)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addWatchDirs(watcher, event.Name, repoPath, matcher); err != nil {
						slog.Warn("cannot watch new directory", "path", event.Name, "error", err)
					}
					continue
				}
			}

			if !shouldWatchFile(event.Name, repoPath, matcher) {
				continue
			}
			relPath, err := filepath.Rel(repoPath, event.Name)
			if err != nil {
				continue
			}
			changedFiles[filepath.ToSlash(relPath)] = struct{}{}
			batchTimer.Reset(cfg.Watch.Debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch error", "error", err)

		case <-batchTimer.C:
			if len(changedFiles) == 0 {
				continue
			}
			changed := sortedKeys(changedFiles)
			changedFiles = make(map[string]struct{})

			if slices.Contains(changed, config.FileName) {
				reloaded, err := config.LoadForRepo(repoPath)
				if err != nil {
					slog.Warn("keeping previous config", "error", err)
				} else {
					cfg = reloaded
				}
			}

			slog.Debug("re-analysing", "changed", len(changed))
			_, result, err := RunPipeline(ctx, repoPath, cfg, store, nil)
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			if err != nil {
				slog.Error("re-analysis failed", "error", err)
			}
			if onUpdate != nil {
				onUpdate(changed, result, err)
			}
		}
	}
}

// addWatchDirs adds dir and every non-ignored directory below it.
func addWatchDirs(watcher *fsnotify.Watcher, dir, repoPath string, matcher gitignore.Matcher) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != repoPath && shouldIgnoreDir(d.Name(), path, repoPath, matcher) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

// shouldWatchFile checks if a changed path can affect the analysis.
func shouldWatchFile(path string, repoPath string, matcher gitignore.Matcher) bool {
	relPath, err := filepath.Rel(repoPath, path)
	if err != nil {
		return false
	}

	if matcher != nil && matcher.Match(splitPath(relPath), false) {
		return false
	}

	if filepath.ToSlash(relPath) == config.FileName {
		return true
	}
	return isPythonFile(path)
}

// shouldIgnoreDir checks if a directory should be ignored.
func shouldIgnoreDir(name, path, repoPath string, matcher gitignore.Matcher) bool {
	if strings.HasPrefix(name, ".") && name != "." {
		return true
	}
	switch name {
	case "__pycache__", "venv", "node_modules", "site-packages":
		return true
	}

	if matcher != nil {
		relPath, err := filepath.Rel(repoPath, path)
		if err != nil {
			return false
		}
		return matcher.Match(splitPath(relPath), true)
	}
	return false
}

// loadGitignoreMatcher loads the default and .gitignore patterns of the
// repository root.
func loadGitignoreMatcher(repoPath string) (gitignore.Matcher, error) {
	patterns := make([]gitignore.Pattern, 0, len(defaultIgnorePatterns))
	for _, p := range defaultIgnorePatterns {
		patterns = append(patterns, gitignore.ParsePattern(p, nil))
	}
	loaded, err := loadGitignore(repoPath)
	patterns = append(patterns, loaded...)
	return gitignore.NewMatcher(patterns), err
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
