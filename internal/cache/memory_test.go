package cache

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_NewestWins(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)

	require.NoError(t, m.Set(ctx, "k", Entry{TS: 1, PolicyID: "v1"}))
	require.NoError(t, m.Set(ctx, "k", Entry{TS: 2, PolicyID: "v2"}))
	got, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", got.PolicyID)

	// Stale write arriving second must not overwrite.
	require.NoError(t, m.Set(ctx, "k2", Entry{TS: 5, PolicyID: "first"}))
	require.NoError(t, m.Set(ctx, "k2", Entry{TS: 3, PolicyID: "second"}))
	got, ok, err = m.Get(ctx, "k2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", got.PolicyID)
}

func TestMemory_LRUCapacityBound(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(3)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Set(ctx, fmt.Sprintf("k%d", i), Entry{TS: int64(i)}))
	}

	assert.Equal(t, 3, m.Len())

	for i := 0; i < 2; i++ {
		_, ok, _ := m.Get(ctx, fmt.Sprintf("k%d", i))
		assert.False(t, ok, "k%d should have been evicted", i)
	}
	for i := 2; i < 5; i++ {
		_, ok, _ := m.Get(ctx, fmt.Sprintf("k%d", i))
		assert.True(t, ok, "k%d should still be present", i)
	}
}

func TestMemory_LRUGetPromotes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)

	require.NoError(t, m.Set(ctx, "a", Entry{TS: 1}))
	require.NoError(t, m.Set(ctx, "b", Entry{TS: 2}))
	// Touch "a" so it becomes MRU; "b" becomes LRU.
	_, _, _ = m.Get(ctx, "a")
	require.NoError(t, m.Set(ctx, "c", Entry{TS: 3}))

	_, ok, _ := m.Get(ctx, "b")
	assert.False(t, ok, "b should have been evicted as LRU")
	_, ok, _ = m.Get(ctx, "a")
	assert.True(t, ok)
	_, ok, _ = m.Get(ctx, "c")
	assert.True(t, ok)
}

func TestMemory_ScanCoverage(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0) // unbounded for this test

	want := map[string]bool{}
	for i := 0; i < 37; i++ {
		key := fmt.Sprintf("domain-%d.example", i)
		want[key] = true
		require.NoError(t, m.Set(ctx, key, Entry{TS: int64(i)}))
	}

	for _, batch := range []int{1, 5, 10, 100} {
		seen := map[string]bool{}
		var token []byte
		for {
			page, err := m.Scan(ctx, token, batch)
			require.NoError(t, err)
			for _, it := range page.Items {
				seen[it.Key] = true
			}
			token = page.NextToken
			if token == nil {
				break
			}
		}
		assert.Equal(t, want, seen, "batch size %d", batch)
	}
}

func TestMemory_ProactiveFetchTSDefaultsToZero(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)
	ts, err := m.GetProactiveFetchTS(ctx)
	require.NoError(t, err)
	assert.True(t, ts.IsZero())
}
