package engine

// LocalAllocator is the Zone B allocator: a monotonic bump index over the
// upper half of the node heap. Only the producer thread allocates here, so
// no CAS is needed and it can never contend with the consumer-side free
// list. Slots handed back before they were ever linked (an allocation the
// ring refused, say) go onto a secondary free sub-list; slots that made it
// into the chain are not recycled individually and only come back when the
// whole zone is Reset at a session boundary.
type LocalAllocator struct {
	nodes   []Node
	start   Ptr
	end     Ptr // exclusive
	bump    Ptr
	subFree Ptr // producer-only free sub-list, linked through next
	dead    int // linked-then-deleted slots awaiting the next Reset
}

func newLocalAllocator(nodes []Node, start, end Ptr) *LocalAllocator {
	return &LocalAllocator{
		nodes:   nodes,
		start:   start,
		end:     end,
		bump:    start,
		subFree: NilPtr,
	}
}

// Alloc bumps first, falls back to the sub-list once the zone is exhausted.
func (a *LocalAllocator) Alloc() (Ptr, Result) {
	if a.bump < a.end {
		p := a.bump
		a.bump++
		a.nodes[p].reset()
		return p, OK
	}
	if a.subFree != NilPtr {
		p := a.subFree
		a.subFree = Ptr(a.nodes[p].next.Load())
		a.nodes[p].reset()
		return p, OK
	}
	return NilPtr, HeapExhausted
}

// Release returns a never-linked slot to the sub-list. Must only be called
// for allocations that were rolled back before reaching the chain.
func (a *LocalAllocator) Release(p Ptr) {
	n := &a.nodes[p]
	n.seq.Add(2)
	n.next.Store(int32(a.subFree))
	a.subFree = p
}

// Discard marks a linked slot dead until the next Reset. The slot keeps its
// bumped sequence counter so stale readers notice.
func (a *LocalAllocator) Discard(p Ptr) {
	a.nodes[p].seq.Add(2)
	a.nodes[p].flags.Store(0)
	a.dead++
}

// Reset reclaims the whole zone. Coarse by design: callers run it at
// session boundaries with the consumer quiesced, never per node.
func (a *LocalAllocator) Reset() {
	for p := a.start; p < a.bump; p++ {
		a.nodes[p].seq.Add(2)
		a.nodes[p].reset()
	}
	a.bump = a.start
	a.subFree = NilPtr
	a.dead = 0
}

// Utilization reports the fraction of the zone consumed, 0 to 1.
func (a *LocalAllocator) Utilization() float64 {
	size := int(a.end - a.start)
	if size == 0 {
		return 0
	}
	inUse := int(a.bump-a.start) - a.subListLen()
	return float64(inUse) / float64(size)
}

func (a *LocalAllocator) subListLen() int {
	n := 0
	for p := a.subFree; p != NilPtr; p = Ptr(a.nodes[p].next.Load()) {
		n++
	}
	return n
}

// Owns reports whether a slot belongs to this allocator's zone.
func (a *LocalAllocator) Owns(p Ptr) bool { return p >= a.start && p < a.end }
