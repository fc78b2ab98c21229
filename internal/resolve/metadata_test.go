package resolve

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupMembers(t *testing.T) {
	t.Parallel()

	t.Run("Answer", func(t *testing.T) {
		t.Parallel()
		p := NewRegistryProvider("test", map[string][]string{"pkg.b": {"helper"}})

		members, err := LookupMembers(context.Background(), p, "pkg.b", time.Second)
		require.NoError(t, err)
		assert.Equal(t, []string{"helper"}, members)
	})

	t.Run("NilProvider", func(t *testing.T) {
		t.Parallel()
		_, err := LookupMembers(context.Background(), nil, "pkg.b", time.Second)
		assert.ErrorIs(t, err, ErrMetadataUnavailable)
	})

	t.Run("UnknownModule", func(t *testing.T) {
		t.Parallel()
		p := NewRegistryProvider("test", nil)

		_, err := LookupMembers(context.Background(), p, "numpy", time.Second)
		assert.ErrorIs(t, err, ErrMetadataUnavailable)
	})

	t.Run("ProviderErrorIsWrapped", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		p := ProviderFunc(func(context.Context, string) ([]string, error) {
			return nil, boom
		})

		_, err := LookupMembers(context.Background(), p, "pkg.b", time.Second)
		assert.ErrorIs(t, err, ErrMetadataUnavailable)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("SlowProviderTimesOut", func(t *testing.T) {
		t.Parallel()
		release := make(chan struct{})
		defer close(release)
		p := ProviderFunc(func(ctx context.Context, module string) ([]string, error) {
			<-release
			return []string{"late"}, nil
		})

		start := time.Now()
		_, err := LookupMembers(context.Background(), p, "pkg.slow", 20*time.Millisecond)
		assert.ErrorIs(t, err, ErrMetadataUnavailable)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestRegistryProvider(t *testing.T) {
	t.Parallel()

	source := map[string][]string{"os.path": {"join", "exists"}}
	p := NewRegistryProvider("registry", source)
	source["os.path"][0] = "mutated"

	members, err := p.ListExportedFunctions(context.Background(), "os.path")
	require.NoError(t, err)
	assert.Equal(t, []string{"join", "exists"}, members)
	assert.Equal(t, "registry", p.Name())
	assert.Equal(t, 1, p.Len())
}

func TestChainProvider(t *testing.T) {
	t.Parallel()

	first := NewRegistryProvider("first", map[string][]string{"a": {"x"}})
	second := NewRegistryProvider("second", map[string][]string{"a": {"y"}, "b": {"z"}})
	chain := ChainProvider{nil, first, second}

	members, err := chain.ListExportedFunctions(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, members)

	members, err = chain.ListExportedFunctions(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"z"}, members)

	_, err = chain.ListExportedFunctions(context.Background(), "c")
	assert.ErrorIs(t, err, ErrMetadataUnavailable)
}

func TestCachedProvider(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	next := ProviderFunc(func(ctx context.Context, module string) ([]string, error) {
		calls.Add(1)
		if module == "missing" {
			return nil, ErrMetadataUnavailable
		}
		if module == "slow" {
			return nil, context.DeadlineExceeded
		}
		return []string{"f"}, nil
	})

	cached, err := NewCachedProvider(next, 8)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		members, err := cached.ListExportedFunctions(ctx, "pkg")
		require.NoError(t, err)
		assert.Equal(t, []string{"f"}, members)
	}
	assert.Equal(t, int32(1), calls.Load())

	for i := 0; i < 2; i++ {
		_, err := cached.ListExportedFunctions(ctx, "missing")
		assert.ErrorIs(t, err, ErrMetadataUnavailable)
	}
	assert.Equal(t, int32(2), calls.Load())

	for i := 0; i < 2; i++ {
		_, err := cached.ListExportedFunctions(ctx, "slow")
		assert.Error(t, err)
	}
	assert.Equal(t, int32(4), calls.Load(), "timeouts are not cached")
	assert.Equal(t, 2, cached.Len())
}

func TestCachedProvider_ChainTimeoutNotCached(t *testing.T) {
	t.Parallel()

	var slow atomic.Bool
	slow.Store(true)
	// A killed interpreter reports a plain failure, not the context error.
	interp := ProviderFunc(func(ctx context.Context, module string) ([]string, error) {
		if slow.Load() {
			<-ctx.Done()
			return nil, errors.New("signal: killed")
		}
		return []string{"helper"}, nil
	})

	cached, err := NewCachedProvider(ChainProvider{interp}, 8)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = cached.ListExportedFunctions(ctx, "pkg.b")
	assert.ErrorIs(t, err, ErrMetadataUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, cached.Len())

	slow.Store(false)
	members, err := cached.ListExportedFunctions(context.Background(), "pkg.b")
	require.NoError(t, err)
	assert.Equal(t, []string{"helper"}, members)

	members, err = LookupMembers(context.Background(), cached, "pkg.b", time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"helper"}, members)
}

func TestInterpreterProvider(t *testing.T) {
	t.Parallel()

	t.Run("NotConfigured", func(t *testing.T) {
		t.Parallel()
		p := &InterpreterProvider{}
		_, err := p.ListExportedFunctions(context.Background(), "os")
		assert.ErrorIs(t, err, ErrMetadataUnavailable)
	})

	t.Run("MissingExecutable", func(t *testing.T) {
		t.Parallel()
		p := &InterpreterProvider{Interpreter: "pydeps-no-such-python"}
		_, err := p.ListExportedFunctions(context.Background(), "os")
		assert.ErrorIs(t, err, ErrMetadataUnavailable)
	})
}
