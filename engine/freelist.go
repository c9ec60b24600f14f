package engine

import "sync/atomic"

// FreeList is the Zone A allocator: a lock-free LIFO stack of free node
// slots threaded through the nodes' next fields. The head is a single
// 64-bit word packing a 32-bit slot index with a 32-bit version counter;
// every successful pop or push bumps the version, so a CAS that raced a
// free-then-realloc of the same slot (the ABA window) cannot succeed on a
// stale snapshot. Do not split the two halves into separate atomics.
type FreeList struct {
	head  *atomic.Uint64
	nodes []Node // the full heap; this allocator only ever hands out [0, zoneA)
	zoneA int
	free  atomic.Int32 // telemetry only, not part of the protocol
}

func packTagged(ver uint32, p Ptr) uint64 {
	return uint64(ver)<<32 | uint64(uint32(p))
}

func unpackTagged(w uint64) (uint32, Ptr) {
	return uint32(w >> 32), Ptr(int32(uint32(w)))
}

// newFreeList threads every Zone A slot onto the stack. Flags are cleared
// while threading: a rethread after HardReset covers slots that were still
// linked, and a stale Ptr into one of them must read as inactive, not as a
// chain node whose next now points into the free stack.
func newFreeList(head *atomic.Uint64, nodes []Node, zoneA int) *FreeList {
	f := &FreeList{head: head, nodes: nodes, zoneA: zoneA}
	for i := 0; i < zoneA; i++ {
		nxt := Ptr(i + 1)
		if i == zoneA-1 {
			nxt = NilPtr
		}
		nodes[i].flags.Store(0)
		nodes[i].next.Store(int32(nxt))
	}
	if zoneA == 0 {
		head.Store(packTagged(0, NilPtr))
	} else {
		head.Store(packTagged(0, 0))
	}
	f.free.Store(int32(zoneA))
	return f
}

// Alloc pops a slot, zeroing every field except the sequence counter before
// returning it. Exhaustion comes back as NilPtr, never as a panic; callers
// must branch on it.
func (f *FreeList) Alloc() Ptr {
	for {
		h := f.head.Load()
		ver, p := unpackTagged(h)
		if p == NilPtr {
			return NilPtr
		}
		// The node may be popped by a racer between these two loads; the
		// version bump in the CAS below catches that and retries.
		next := Ptr(f.nodes[p].next.Load())
		if f.head.CompareAndSwap(h, packTagged(ver+1, next)) {
			f.free.Add(-1)
			f.nodes[p].reset()
			return p
		}
	}
}

// Free bumps the node's own sequence counter first, invalidating any reader
// holding a stale snapshot, then pushes the slot back with a new version.
func (f *FreeList) Free(p Ptr) {
	n := &f.nodes[p]
	n.seq.Add(2) // stays even: the slot is consistent, just recycled
	n.flags.Store(0)
	for {
		h := f.head.Load()
		ver, top := unpackTagged(h)
		n.next.Store(int32(top))
		if f.head.CompareAndSwap(h, packTagged(ver+1, p)) {
			f.free.Add(1)
			return
		}
	}
}

// FreeCount reports how many Zone A slots are currently on the stack.
func (f *FreeList) FreeCount() int { return int(f.free.Load()) }

// Version exposes the tag half of the head word, for diagnostics and tests.
func (f *FreeList) Version() uint32 {
	ver, _ := unpackTagged(f.head.Load())
	return ver
}

// Owns reports whether a slot belongs to this allocator's zone.
func (f *FreeList) Owns(p Ptr) bool { return p >= 0 && int(p) < f.zoneA }
