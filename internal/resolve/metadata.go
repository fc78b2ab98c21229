package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrMetadataUnavailable signals that a provider cannot list a module's
// members. It is never fatal: resolution continues with an empty member set.
var ErrMetadataUnavailable = errors.New("module metadata unavailable")

// DefaultLookupTimeout bounds a single provider lookup.
const DefaultLookupTimeout = 2 * time.Second

// MetadataProvider lists the importable members of a module.
type MetadataProvider interface {
	// ListExportedFunctions returns the module's exported members, or an
	// error wrapping ErrMetadataUnavailable.
	ListExportedFunctions(ctx context.Context, module string) ([]string, error)
}

// ProviderFunc adapts a function to the MetadataProvider interface.
type ProviderFunc func(ctx context.Context, module string) ([]string, error)

// ListExportedFunctions calls f.
func (f ProviderFunc) ListExportedFunctions(ctx context.Context, module string) ([]string, error) {
	return f(ctx, module)
}

// LookupMembers queries a provider under a hard timeout. Any failure,
// including expiry, is reported as ErrMetadataUnavailable; callers fall
// back to an empty member set.
//
// LookupMembers returns as soon as the timeout fires, but the provider call
// runs on its own goroutine until it returns. Providers must honour ctx so
// that goroutine and anything it holds, such as a child process, are
// released promptly.
func LookupMembers(ctx context.Context, p MetadataProvider, module string, timeout time.Duration) ([]string, error) {
	if p == nil {
		return nil, fmt.Errorf("%s: %w", module, ErrMetadataUnavailable)
	}
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type answer struct {
		members []string
		err     error
	}
	ch := make(chan answer, 1)
	go func() {
		members, err := p.ListExportedFunctions(ctx, module)
		ch <- answer{members: members, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w: %w", module, ErrMetadataUnavailable, ctx.Err())
	case a := <-ch:
		if a.err != nil {
			if errors.Is(a.err, ErrMetadataUnavailable) {
				return nil, a.err
			}
			return nil, fmt.Errorf("%s: %w: %w", module, ErrMetadataUnavailable, a.err)
		}
		return a.members, nil
	}
}

// RegistryProvider answers from a prebuilt module → members table.
// It backs both the configured registry and the project declaration scan.
type RegistryProvider struct {
	name    string
	modules map[string][]string
}

// NewRegistryProvider creates a provider over a copy of modules.
func NewRegistryProvider(name string, modules map[string][]string) *RegistryProvider {
	copied := make(map[string][]string, len(modules))
	for mod, members := range modules {
		copied[mod] = append([]string(nil), members...)
	}
	return &RegistryProvider{name: name, modules: copied}
}

// Name returns the provider name used in log messages.
func (p *RegistryProvider) Name() string {
	return p.name
}

// Len returns the number of modules the registry knows.
func (p *RegistryProvider) Len() int {
	return len(p.modules)
}

// ListExportedFunctions returns the registered members of module.
func (p *RegistryProvider) ListExportedFunctions(_ context.Context, module string) ([]string, error) {
	members, ok := p.modules[module]
	if !ok {
		return nil, fmt.Errorf("%s: not in %s registry: %w", module, p.name, ErrMetadataUnavailable)
	}
	return append([]string(nil), members...), nil
}

// ChainProvider asks each provider in turn and returns the first answer.
type ChainProvider []MetadataProvider

// ListExportedFunctions returns the first successful answer.
func (c ChainProvider) ListExportedFunctions(ctx context.Context, module string) ([]string, error) {
	for _, p := range c {
		if p == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w: %w", module, ErrMetadataUnavailable, err)
		}
		members, err := p.ListExportedFunctions(ctx, module)
		if err == nil {
			return members, nil
		}
		slog.Debug("metadata provider failed", "module", module, "error", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: no provider answered: %w: %w", module, ErrMetadataUnavailable, err)
	}
	return nil, fmt.Errorf("%s: no provider answered: %w", module, ErrMetadataUnavailable)
}

type cachedAnswer struct {
	members []string
	err     error
}

// CachedProvider memoises another provider's answers in an LRU cache.
// Definitive unavailability is cached too; timeouts and cancellations are
// not, so a slow module gets another chance on the next lookup.
type CachedProvider struct {
	next  MetadataProvider
	cache *lru.Cache[string, cachedAnswer]
}

// NewCachedProvider wraps next with an LRU cache of the given size.
func NewCachedProvider(next MetadataProvider, size int) (*CachedProvider, error) {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, cachedAnswer](size)
	if err != nil {
		return nil, fmt.Errorf("creating metadata cache: %w", err)
	}
	return &CachedProvider{next: next, cache: cache}, nil
}

// ListExportedFunctions answers from the cache or the wrapped provider.
func (c *CachedProvider) ListExportedFunctions(ctx context.Context, module string) ([]string, error) {
	if a, ok := c.cache.Get(module); ok {
		return append([]string(nil), a.members...), a.err
	}

	members, err := c.next.ListExportedFunctions(ctx, module)
	if err != nil && (ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		return nil, err
	}
	c.cache.Add(module, cachedAnswer{members: append([]string(nil), members...), err: err})
	return members, err
}

// Len returns the number of cached modules.
func (c *CachedProvider) Len() int {
	return c.cache.Len()
}

const introspectScript = `import importlib, inspect, json, sys
m = importlib.import_module(sys.argv[1])
print(json.dumps(sorted(n for n, o in inspect.getmembers(m) if inspect.isfunction(o))))
`

// InterpreterProvider lists a module's functions by importing it in a
// separate Python interpreter process. Importing runs the module's code, so
// this provider is opt-in.
type InterpreterProvider struct {
	// Interpreter is the Python executable, e.g. "python3".
	Interpreter string

	// Dir is the working directory of the interpreter process, usually the
	// project root so project modules are importable.
	Dir string
}

// ListExportedFunctions imports module and returns its function names.
func (p *InterpreterProvider) ListExportedFunctions(ctx context.Context, module string) ([]string, error) {
	if p.Interpreter == "" {
		return nil, fmt.Errorf("%s: no interpreter configured: %w", module, ErrMetadataUnavailable)
	}

	cmd := exec.CommandContext(ctx, p.Interpreter, "-c", introspectScript, module)
	cmd.Dir = p.Dir
	var stderr strings.Builder
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		slog.Debug("module introspection failed", "module", module, "error", err, "stderr", strings.TrimSpace(stderr.String()))
		return nil, fmt.Errorf("%s: introspection: %w: %w", module, ErrMetadataUnavailable, err)
	}

	var members []string
	if err := json.Unmarshal(out, &members); err != nil {
		return nil, fmt.Errorf("%s: decoding introspection output: %w: %w", module, ErrMetadataUnavailable, err)
	}
	sort.Strings(members)
	return members, nil
}
