package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/gobwas/glob"
)

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: %w: unknown key %q", path, ErrInvalid, undecoded[0].String())
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// LoadForRepo loads <root>/pydeps.toml, falling back to Default when the
// file does not exist.
func LoadForRepo(root string) (*Config, error) {
	cfg, err := Load(filepath.Join(root, FileName))
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

func validate(cfg *Config) error {
	if cfg.Analysis.Workers < 0 {
		return fmt.Errorf("%w: analysis.workers must not be negative", ErrInvalid)
	}
	if cfg.Metadata.TimeoutMS < 0 {
		return fmt.Errorf("%w: metadata.timeout_ms must not be negative", ErrInvalid)
	}
	if cfg.Metadata.CacheSize < 0 {
		return fmt.Errorf("%w: metadata.cache_size must not be negative", ErrInvalid)
	}
	if cfg.Watch.Debounce < 0 {
		return fmt.Errorf("%w: watch.debounce must not be negative", ErrInvalid)
	}
	for _, pattern := range cfg.Analysis.Exclude {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("%w: empty analysis.exclude pattern", ErrInvalid)
		}
		if _, err := glob.Compile(pattern, '.'); err != nil {
			return fmt.Errorf("%w: analysis.exclude %q: %v", ErrInvalid, pattern, err)
		}
	}
	for module := range cfg.Metadata.Modules {
		if strings.TrimSpace(module) == "" || strings.HasPrefix(module, ".") || strings.HasSuffix(module, ".") {
			return fmt.Errorf("%w: metadata.modules has malformed module name %q", ErrInvalid, module)
		}
	}
	return nil
}
