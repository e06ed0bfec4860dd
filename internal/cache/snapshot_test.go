package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_InitSnapshot(t *testing.T) {
	t.Parallel()

	store := NewStore[string]()
	snap := store.Current()

	require.NotNil(t, snap)
	assert.Equal(t, SourceInit, snap.Source)
	assert.Empty(t, snap.Entries)
	assert.True(t, snap.Stale(time.Now()), "init snapshot must report stale so the first read refreshes")
}

func TestStore_Replace(t *testing.T) {
	t.Parallel()

	store := NewStore[int]()
	store.Replace(map[string]int{"a": 1, "b": 2}, time.Minute, 42, SourcePrimary)

	snap := store.Current()
	assert.Equal(t, SourcePrimary, snap.Source)
	assert.Equal(t, int64(42), snap.Version)
	assert.False(t, snap.Stale(time.Now()))

	v, ok := store.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = store.Get("missing")
	assert.False(t, ok)
}

func TestStore_ReplaceNilEntries(t *testing.T) {
	t.Parallel()

	store := NewStore[int]()
	store.Replace(nil, time.Minute, 1, SourcePrimary)

	assert.NotNil(t, store.Current().Entries, "readers must never see a nil map")
}

func TestStore_ConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	t.Parallel()

	store := NewStore[int]()
	store.Replace(map[string]int{"a": 0, "b": 0}, time.Minute, 0, SourcePrimary)

	// Writers install snapshots where both keys always carry the same
	// value. A reader observing a mixed pair would prove a torn swap.
	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 1000; i++ {
			store.Replace(map[string]int{"a": i, "b": i}, time.Minute, int64(i), SourcePrimary)
		}
		close(done)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap := store.Current()
				assert.Equal(t, snap.Entries["a"], snap.Entries["b"], "observed a half-updated snapshot")
			}
		}()
	}

	wg.Wait()
}
