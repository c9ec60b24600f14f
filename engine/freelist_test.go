package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, capacity int) *Engine {
	t.Helper()
	e, err := New(Options{Capacity: capacity, SafeZone: 960})
	require.NoError(t, err)
	return e
}

func TestFreeListAllocFree(t *testing.T) {
	e := newTestEngine(t, 64)
	f := e.FreeList()
	zoneA := e.Layout().ZoneA

	t.Run("drains to empty and refills", func(t *testing.T) {
		ptrs := make([]Ptr, 0, zoneA)
		seen := map[Ptr]bool{}
		for {
			p := f.Alloc()
			if p == NilPtr {
				break
			}
			require.False(t, seen[p], "slot %d handed out twice without a free", p)
			seen[p] = true
			ptrs = append(ptrs, p)
		}
		require.Len(t, ptrs, zoneA)
		require.Equal(t, 0, f.FreeCount())

		for _, p := range ptrs {
			f.Free(p)
		}
		require.Equal(t, zoneA, f.FreeCount())
	})

	t.Run("free count plus live count is capacity", func(t *testing.T) {
		live := []Ptr{}
		for i := 0; i < 10; i++ {
			p := f.Alloc()
			require.NotEqual(t, NilPtr, p)
			live = append(live, p)
			require.Equal(t, zoneA, f.FreeCount()+len(live))
		}
		for len(live) > 0 {
			f.Free(live[len(live)-1])
			live = live[:len(live)-1]
			require.Equal(t, zoneA, f.FreeCount()+len(live))
		}
	})
}

func TestFreeListVersionMonotonic(t *testing.T) {
	e := newTestEngine(t, 64)
	f := e.FreeList()

	// The same slot cycling through alloc/free/alloc must bump the tagged
	// version every time, which is what closes the ABA window.
	last := f.Version()
	for i := 0; i < 100; i++ {
		p := f.Alloc()
		require.NotEqual(t, NilPtr, p)
		v := f.Version()
		require.Greater(t, v, last)
		last = v
		f.Free(p)
		v = f.Version()
		require.Greater(t, v, last)
		last = v
	}
}

func TestFreeListSeqBumpOnFree(t *testing.T) {
	e := newTestEngine(t, 64)
	f := e.FreeList()

	p := f.Alloc()
	require.NotEqual(t, NilPtr, p)
	before := e.nodes[p].Seq()
	f.Free(p)
	require.NotEqual(t, before, e.nodes[p].Seq(), "free must invalidate stale readers")
}

func TestFreeListConcurrent(t *testing.T) {
	e := newTestEngine(t, 1024)
	f := e.FreeList()
	zoneA := e.Layout().ZoneA

	const workers = 8
	const rounds = 2000
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			held := make([]Ptr, 0, 16)
			for i := 0; i < rounds; i++ {
				if p := f.Alloc(); p != NilPtr {
					held = append(held, p)
				}
				if len(held) > 8 {
					f.Free(held[0])
					held = held[1:]
				}
			}
			for _, p := range held {
				f.Free(p)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, zoneA, f.FreeCount(), "every slot must come home")

	// Walk the stack and confirm each slot appears exactly once.
	seen := map[Ptr]bool{}
	_, p := unpackTagged(e.regs.freeHead.Load())
	for p != NilPtr {
		require.False(t, seen[p], "slot %d threaded twice", p)
		seen[p] = true
		p = Ptr(e.nodes[p].next.Load())
	}
	require.Len(t, seen, zoneA)
}
