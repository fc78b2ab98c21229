// Package config loads the optional pydeps.toml file at the root of an
// analysed repository.
package config

import (
	"errors"
	"runtime"
	"time"
)

// FileName is the config file looked up at the repository root.
const FileName = "pydeps.toml"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the full pydeps configuration.
type Config struct {
	Analysis Analysis `toml:"analysis"`
	Metadata Metadata `toml:"metadata"`
	Watch    Watch    `toml:"watch"`
}

// Analysis tunes the extraction run.
type Analysis struct {
	// Workers is the number of files parsed and visited concurrently.
	// Zero means one per CPU.
	Workers int `toml:"workers"`

	// StrictModuleMembers keeps `mod.attr` only when attr is a known member
	// of mod. Defaults to true.
	StrictModuleMembers *bool `toml:"strict_module_members"`

	// Exclude lists dotted module globs, e.g. "tests.**" or "*.migrations.*".
	Exclude []string `toml:"exclude"`
}

// Metadata configures module member lookups.
type Metadata struct {
	// TimeoutMS bounds each lookup.
	TimeoutMS int `toml:"timeout_ms"`

	// CacheSize is the number of lookup answers kept in memory.
	CacheSize int `toml:"cache_size"`

	// Interpreter is a Python executable used to introspect external
	// modules. Empty disables live introspection.
	Interpreter string `toml:"interpreter"`

	// Modules lists known members of external modules.
	Modules map[string][]string `toml:"modules"`
}

// Watch configures watch mode.
type Watch struct {
	Debounce time.Duration `toml:"debounce"`
}

const (
	defaultTimeoutMS = 2000
	defaultCacheSize = 1024
	defaultDebounce  = 2 * time.Second
)

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Strict reports whether strict module member resolution is enabled.
func (c *Config) Strict() bool {
	return c.Analysis.StrictModuleMembers == nil || *c.Analysis.StrictModuleMembers
}

// LookupTimeout returns the metadata lookup bound.
func (c *Config) LookupTimeout() time.Duration {
	return time.Duration(c.Metadata.TimeoutMS) * time.Millisecond
}

func applyDefaults(cfg *Config) {
	if cfg.Analysis.Workers == 0 {
		cfg.Analysis.Workers = runtime.NumCPU()
	}
	if cfg.Metadata.TimeoutMS == 0 {
		cfg.Metadata.TimeoutMS = defaultTimeoutMS
	}
	if cfg.Metadata.CacheSize == 0 {
		cfg.Metadata.CacheSize = defaultCacheSize
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = defaultDebounce
	}
}
