package buffer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_OverwriteOldestKeepsMostRecent(t *testing.T) {
	for _, tc := range []struct{ capacity, writes int }{
		{1, 2}, {3, 4}, {4, 10}, {8, 100},
	} {
		t.Run(fmt.Sprintf("cap-%d-writes-%d", tc.capacity, tc.writes), func(t *testing.T) {
			var dropped []int
			r := New(tc.capacity, WithDropCallback[int](func(v int) { dropped = append(dropped, v) }))
			for i := range tc.writes {
				r.Write(i)
			}

			expected := make([]int, 0, tc.capacity)
			for i := tc.writes - tc.capacity; i < tc.writes; i++ {
				expected = append(expected, i)
			}
			assert.Equal(t, expected, r.Snapshot())
			assert.Len(t, dropped, tc.writes-tc.capacity)
			assert.Equal(t, uint64(tc.writes-tc.capacity), r.Stats().Overflows)
		})
	}
}

func TestRing_DropNewest(t *testing.T) {
	r := New(2, WithPolicy[string](DropNewest))
	assert.False(t, r.Write("a"))
	assert.False(t, r.Write("b"))
	assert.True(t, r.Write("c"))
	assert.Equal(t, []string{"a", "b"}, r.Snapshot())
}

func TestRing_ReadFIFO(t *testing.T) {
	r := New[int](3)
	_, ok := r.Read()
	assert.False(t, ok)

	r.Write(1)
	r.Write(2)
	v, ok := r.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = r.Read()
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 0, r.Len())

	stats := r.Stats()
	assert.Equal(t, uint64(2), stats.Writes)
	assert.Equal(t, uint64(2), stats.Reads)
}

func TestRing_MinimumCapacity(t *testing.T) {
	r := New[int](0)
	assert.Equal(t, 1, r.Cap())
}

func TestRing_Clear(t *testing.T) {
	r := New[int](2)
	r.Write(1)
	r.Write(2)
	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Snapshot())
}

func TestRing_OverflowCounter(t *testing.T) {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_overflows_total"})
	r := New(1, WithOverflowCounter[int](c))
	r.Write(1)
	r.Write(2)
	r.Write(3)
	assert.Equal(t, float64(2), testutil.ToFloat64(c))
}

func TestRing_ConcurrentWriters(t *testing.T) {
	r := New[int](16)
	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range 100 {
				r.Write(w*100 + i)
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 16, r.Len())
	assert.Equal(t, uint64(400), r.Stats().Writes)
	assert.Equal(t, uint64(384), r.Stats().Overflows)
}

func TestParsePolicy(t *testing.T) {
	assert.Equal(t, DropNewest, ParsePolicy("drop_newest"))
	assert.Equal(t, OverwriteOldest, ParsePolicy("overwrite_oldest"))
	assert.Equal(t, OverwriteOldest, ParsePolicy(""))
}
