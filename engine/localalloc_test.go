package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalAllocatorBumpAndExhaustion(t *testing.T) {
	e := newTestEngine(t, 64)
	a := e.Local()
	zoneB := e.Layout().Capacity - e.Layout().ZoneA

	ptrs := []Ptr{}
	for {
		p, res := a.Alloc()
		if res != OK {
			require.Equal(t, HeapExhausted, res)
			break
		}
		require.True(t, a.Owns(p))
		require.False(t, e.FreeList().Owns(p), "zones must be disjoint")
		ptrs = append(ptrs, p)
	}
	require.Len(t, ptrs, zoneB)
	require.InDelta(t, 1.0, a.Utilization(), 1e-9)
}

func TestLocalAllocatorReleaseRecycles(t *testing.T) {
	e := newTestEngine(t, 64)
	a := e.Local()

	// Exhaust the bump zone, roll one back, and the sub-list serves it again.
	var last Ptr
	for {
		p, res := a.Alloc()
		if res != OK {
			break
		}
		last = p
	}
	a.Release(last)
	p, res := a.Alloc()
	require.Equal(t, OK, res)
	require.Equal(t, last, p)
}

func TestLocalAllocatorReset(t *testing.T) {
	e := newTestEngine(t, 64)
	a := e.Local()

	for i := 0; i < 10; i++ {
		_, res := a.Alloc()
		require.Equal(t, OK, res)
	}
	require.Greater(t, a.Utilization(), 0.0)

	a.Reset()
	require.Zero(t, a.Utilization())

	p, res := a.Alloc()
	require.Equal(t, OK, res)
	require.Equal(t, Ptr(e.Layout().ZoneA), p, "reset re-arms the bump index")
}
