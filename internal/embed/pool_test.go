package embed

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticFactory(ctx context.Context, threads int) (Embedder, error) {
	return NewStaticEmbedder(), nil
}

func newTestPool(t *testing.T, cfg PoolConfig) *Pool {
	t.Helper()
	pool, err := NewPool(context.Background(), cfg, staticFactory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })
	return pool
}

func TestPool_EmbedBatch_PreservesOrderAndCount(t *testing.T) {
	pool := newTestPool(t, PoolConfig{Workers: 2})

	texts := []string{"alpha report", "beta report", "gamma report"}
	vecs, err := pool.EmbedBatch(context.Background(), texts, EmbedOptions{})
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))

	// Order preservation: each result matches a direct embed of its input.
	reference := NewStaticEmbedder()
	defer func() { _ = reference.Close() }()
	for i, text := range texts {
		want, err := reference.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, want, vecs[i], "vector %d out of order", i)
	}
}

func TestPool_EmbedBatch_RejectsOversizedBatch(t *testing.T) {
	pool := newTestPool(t, PoolConfig{Workers: 1, MaxBatchSize: 2})

	_, err := pool.EmbedBatch(context.Background(), []string{"a", "b", "c"}, EmbedOptions{})
	assert.Error(t, err)
}

func TestPool_EmbedBatch_EmptyInput(t *testing.T) {
	pool := newTestPool(t, PoolConfig{Workers: 1})

	vecs, err := pool.EmbedBatch(context.Background(), nil, EmbedOptions{})
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestPool_AppliesQueryAndPassagePrefixes(t *testing.T) {
	pool := newTestPool(t, PoolConfig{
		Workers:       1,
		QueryPrefix:   "search_query: ",
		PassagePrefix: "search_document: ",
	})

	reference := NewStaticEmbedder()
	defer func() { _ = reference.Close() }()

	got, err := pool.Embed(context.Background(), "tax filing deadline", EmbedOptions{Kind: TextKindQuery})
	require.NoError(t, err)
	want, err := reference.Embed(context.Background(), "search_query: tax filing deadline")
	require.NoError(t, err)
	assert.Equal(t, want, got, "query prefix must be prepended before dispatch")

	got, err = pool.Embed(context.Background(), "tax filing deadline", EmbedOptions{Kind: TextKindPassage})
	require.NoError(t, err)
	want, err = reference.Embed(context.Background(), "search_document: tax filing deadline")
	require.NoError(t, err)
	assert.Equal(t, want, got, "passage prefix must be prepended before dispatch")
}

func TestPool_OneModelInstancePerWorker_ServesConcurrentEmbeds(t *testing.T) {
	// Count instantiations: a 3-worker pool loads the model three times,
	// once per isolated execution context.
	var instances atomic.Int64
	factory := func(ctx context.Context, threads int) (Embedder, error) {
		instances.Add(1)
		return NewStaticEmbedder(), nil
	}

	pool, err := NewPool(context.Background(), PoolConfig{Workers: 3}, factory)
	require.NoError(t, err)
	defer func() { _ = pool.Shutdown(context.Background()) }()

	assert.Equal(t, int64(3), instances.Load())

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := pool.Embed(context.Background(), fmt.Sprintf("document %d", i), EmbedOptions{})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
}

// crashingEmbedder fails every call and reports itself dead, simulating a
// crashed model worker.
type crashingEmbedder struct{}

func (c *crashingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("model process exited")
}

func (c *crashingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("model process exited")
}

func (c *crashingEmbedder) Dimensions() int                    { return StaticDimensions }
func (c *crashingEmbedder) ModelName() string                  { return "crashing" }
func (c *crashingEmbedder) Available(ctx context.Context) bool { return false }
func (c *crashingEmbedder) Close() error                       { return nil }

func TestPool_WorkerCrashContained_PoolRespawns(t *testing.T) {
	// First instantiation crashes on use; respawned instances work. The
	// pool must reject the crashed worker's task and keep serving through
	// the replacement.
	var spawned atomic.Int64
	factory := func(ctx context.Context, threads int) (Embedder, error) {
		if spawned.Add(1) == 1 {
			return &crashingEmbedder{}, nil
		}
		return NewStaticEmbedder(), nil
	}

	pool, err := NewPool(context.Background(), PoolConfig{Workers: 1}, factory)
	require.NoError(t, err)
	defer func() { _ = pool.Shutdown(context.Background()) }()

	_, err = pool.Embed(context.Background(), "doomed batch", EmbedOptions{})
	require.Error(t, err, "task on the crashed worker is rejected")

	// The replacement worker services subsequent tasks.
	require.Eventually(t, func() bool {
		_, err := pool.Embed(context.Background(), "healthy batch", EmbedOptions{})
		return err == nil
	}, 2*time.Second, 20*time.Millisecond, "pool should respawn a replacement worker")

	assert.GreaterOrEqual(t, spawned.Load(), int64(2))
}

func TestPool_ShutdownRejectsNewWork(t *testing.T) {
	pool := newTestPool(t, PoolConfig{Workers: 1})
	require.NoError(t, pool.Shutdown(context.Background()))

	_, err := pool.Embed(context.Background(), "late arrival", EmbedOptions{})
	assert.Error(t, err)
}

func TestPool_ShutdownIsIdempotent(t *testing.T) {
	pool := newTestPool(t, PoolConfig{Workers: 2})
	require.NoError(t, pool.Shutdown(context.Background()))
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestPool_ScoringCache_HitsAndClears(t *testing.T) {
	var calls atomic.Int64
	factory := func(ctx context.Context, threads int) (Embedder, error) {
		return &countingEmbedder{inner: NewStaticEmbedder(), calls: &calls}, nil
	}

	pool, err := NewPool(context.Background(), PoolConfig{Workers: 1}, factory)
	require.NoError(t, err)
	defer func() { _ = pool.Shutdown(context.Background()) }()

	ctx := context.Background()
	_, err = pool.EmbedCandidate(ctx, "machine learning")
	require.NoError(t, err)
	_, err = pool.EmbedCandidate(ctx, "machine learning")
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load(), "second candidate embed should hit the cache")

	pool.ClearScoringCache()
	_, err = pool.EmbedCandidate(ctx, "machine learning")
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load(), "cleared cache forces recompute")
}

func TestPool_DimensionsAndModelName(t *testing.T) {
	pool := newTestPool(t, PoolConfig{Workers: 1})
	assert.Equal(t, StaticDimensions, pool.Dimensions())
	assert.Equal(t, "static", pool.ModelName())
}

// countingEmbedder counts EmbedBatch calls on the way to the inner runtime.
type countingEmbedder struct {
	inner Embedder
	calls *atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) Dimensions() int                    { return c.inner.Dimensions() }
func (c *countingEmbedder) ModelName() string                  { return c.inner.ModelName() }
func (c *countingEmbedder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }
func (c *countingEmbedder) Close() error                       { return c.inner.Close() }
