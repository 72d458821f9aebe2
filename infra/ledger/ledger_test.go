package ledger

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderpipe/infra/clock"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestLedger(t *testing.T) {
	t.Run("put then lookup returns live value", func(t *testing.T) {
		clk := clock.NewManual(epoch)
		l := New[string](clk)

		e := l.Put("order:1", "E1", time.Minute)
		assert.Equal(t, epoch.Add(time.Minute), e.ExpiresAt)

		got, ok := l.Lookup("order:1")
		require.True(t, ok)
		assert.Equal(t, "E1", got.Value)
	})

	t.Run("lookup purges expired entry", func(t *testing.T) {
		clk := clock.NewManual(epoch)
		l := New[string](clk)

		l.Put("order:1", "E1", time.Minute)
		clk.Advance(time.Minute)

		_, ok := l.Lookup("order:1")
		assert.False(t, ok)
		assert.Equal(t, 0, l.Len())
	})

	t.Run("get does not purge", func(t *testing.T) {
		clk := clock.NewManual(epoch)
		l := New[string](clk)

		l.Put("order:1", "E1", time.Second)
		clk.Advance(time.Hour)

		e, ok := l.Get("order:1")
		require.True(t, ok)
		assert.True(t, e.Expired(clk.Now()))
	})

	t.Run("expired boundary is inclusive", func(t *testing.T) {
		e := Entry[int]{ExpiresAt: epoch}
		assert.True(t, e.Expired(epoch))
		assert.False(t, e.Expired(epoch.Add(-time.Nanosecond)))
	})

	t.Run("remove if only drops matching version", func(t *testing.T) {
		l := New[string](clock.NewManual(epoch))

		first := l.Put("k", "v1", time.Minute)
		second := l.Put("k", "v2", time.Minute)
		assert.Greater(t, second.Version(), first.Version())

		assert.False(t, l.RemoveIf("k", first.Version()))
		got, ok := l.Get("k")
		require.True(t, ok)
		assert.Equal(t, "v2", got.Value)

		assert.True(t, l.RemoveIf("k", second.Version()))
		assert.False(t, l.RemoveIf("k", second.Version()))
	})

	t.Run("snapshot copies every key", func(t *testing.T) {
		l := New[int](clock.NewManual(epoch))
		for i := 0; i < 5; i++ {
			l.Put(fmt.Sprintf("k%d", i), i, time.Minute)
		}

		snap := l.Snapshot()
		require.Len(t, snap, 5)

		l.Remove("k0")
		assert.Len(t, snap, 5)
		assert.Equal(t, 4, l.Len())
	})
}

func TestLedgerConcurrentPutsKeepOneEntry(t *testing.T) {
	l := New[int](nil)

	const writers = 64
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			l.Put("order:hot", v, time.Minute)
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, l.Len())
	e, ok := l.Lookup("order:hot")
	require.True(t, ok)
	assert.GreaterOrEqual(t, e.Value, 0)
	assert.Less(t, e.Value, writers)
}

func TestLedgerStoredEntryCarriesHighestVersion(t *testing.T) {
	l := New[int](nil)

	const writers = 64
	versions := make([]uint64, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			versions[i] = l.Put("order:hot", i, time.Minute).Version()
		}(i)
	}
	wg.Wait()

	var highest uint64
	for _, v := range versions {
		highest = max(highest, v)
	}
	e, ok := l.Get("order:hot")
	require.True(t, ok)
	assert.Equal(t, highest, e.Version())
}
