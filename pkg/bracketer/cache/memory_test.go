package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/randalmurphal/bracketer/pkg/bracketer/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Len(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore(0)
	defer store.Close()

	assert.Equal(t, 0, store.Len())

	require.NoError(t, store.Set(ctx, "marker:a", []byte("a"), 0))
	assert.Equal(t, 1, store.Len())

	require.NoError(t, store.Set(ctx, "target:a", []byte("b"), 0))
	assert.Equal(t, 2, store.Len())

	require.NoError(t, store.Delete(ctx, "marker:a"))
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_TTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := cache.NewMemoryStore(0, cache.WithMemoryClock(clock.Now))
	defer store.Close()

	require.NoError(t, store.Set(ctx, "short", []byte("x"), time.Minute))
	require.NoError(t, store.Set(ctx, "forever", []byte("y"), 0))
	assert.Equal(t, 2, store.Len())

	clock.Advance(59 * time.Second)
	assert.Equal(t, 2, store.Len())

	clock.Advance(time.Second)
	assert.Equal(t, 1, store.Len(), "entry expires exactly at its deadline")

	v, err := store.GetOrCreate(ctx, "short", func() ([]byte, error) { return []byte("again"), nil })
	require.NoError(t, err)
	assert.Equal(t, []byte("again"), v)
}

func TestMemoryStore_UpdateSeesExpiredAsAbsent(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := cache.NewMemoryStore(0, cache.WithMemoryClock(clock.Now))
	defer store.Close()

	err := store.Update(ctx, []string{"k"}, func(map[string][]byte) (cache.Mutation, error) {
		return cache.Mutation{Set: map[string][]byte{"k": []byte("v")}, TTL: time.Second}, nil
	})
	require.NoError(t, err)

	clock.Advance(2 * time.Second)

	err = store.Update(ctx, []string{"k"}, func(cur map[string][]byte) (cache.Mutation, error) {
		assert.Empty(t, cur)
		return cache.Mutation{}, nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := cache.NewMemoryStore(0, cache.WithMemoryClock(clock.Now))
	defer store.Close()

	require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, store.Set(ctx, "b", []byte("2"), time.Hour))
	require.NoError(t, store.Set(ctx, "c", []byte("3"), 0))

	clock.Advance(2 * time.Minute)

	removed, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, store.Len())
}

func TestMemoryStore_SweepLoop(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore(10 * time.Millisecond)

	require.NoError(t, store.Set(ctx, "a", []byte("1"), 5*time.Millisecond))

	assert.Eventually(t, func() bool {
		return store.Len() == 0
	}, time.Second, 10*time.Millisecond)

	// Close stops the janitor and is idempotent.
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore(0)
	defer store.Close()

	value := []byte("abc")
	require.NoError(t, store.Set(ctx, "k", value, 0))
	value[0] = 'X'

	got, err := store.GetOrCreate(ctx, "k", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	got[1] = 'Y'
	again, err := store.GetOrCreate(ctx, "k", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestMemoryStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore(time.Millisecond)
	defer store.Close()

	const numGoroutines = 50
	const numOps = 40

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()

			key := "entity-" + string(rune('a'+id%26))
			for j := 0; j < numOps; j++ {
				switch j % 4 {
				case 0:
					_ = store.Set(ctx, key, []byte("data"), time.Millisecond)
				case 1:
					_, _ = store.GetOrCreate(ctx, key, func() ([]byte, error) { return []byte("x"), nil })
				case 2:
					_ = store.Update(ctx, []string{key}, func(map[string][]byte) (cache.Mutation, error) {
						return cache.Mutation{Delete: []string{key}}, nil
					})
				case 3:
					_ = store.Delete(ctx, key)
				}
			}
		}(i)
	}

	wg.Wait()
	// Should not panic, race or deadlock.
}
