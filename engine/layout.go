package engine

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Region identification. A consumer handed a region checks both words at
// offset 0 before trusting anything behind them.
const (
	Magic   uint32 = 0x4E53_5131 // "NSQ1"
	Version uint32 = 1
)

// Capacity limits. The heap is split into two disjoint zones so the two
// allocation paths never contend for the same slot.
const (
	MinCapacity = 16
	MaxCapacity = 1 << 20 // Ptr packs into 32 bits with room to spare
)

// Header sits at the front of the region. Written once at initialization,
// except tempo which the producer may retune live.
type Header struct {
	Magic    uint32
	Version  uint32
	Capacity int32
	ZoneA    int32 // first ZoneA slots belong to the free list, the rest to the local allocator
	Tempo    atomic.Int32
	PPQ      int32
	SafeZone int64 // tick distance ahead of the playhead closed to edits
}

// registerBank holds every cross-thread machine word that is not part of a
// node record: allocator heads, chain ends, the commit flag, the playhead.
type registerBank struct {
	freeHead  atomic.Uint64 // tagged (version, ptr) word, see freelist.go
	chainHead atomic.Int32
	chainTail atomic.Int32
	commit    atomic.Uint32 // commitIdle / commitPending / commitAck
	playing   atomic.Uint32 // transport running; the safe zone only bites while set
	playhead  atomic.Int64
	gen       atomic.Uint32 // bumped on every structural pass, used for pruning
	active    atomic.Int32  // nodes currently linked into the chain
	panicCode atomic.Uint32 // sticky KERNEL_PANIC latch
}

// Layout reports where every section of the region would land in one
// contiguous allocation, all derived from the single capacity parameter.
// The Go implementation backs the sections with typed slices, but the byte
// geometry is still computed and validated so external tooling can reason
// about the region the same way across runtimes.
type Layout struct {
	Capacity     int
	ZoneA        int
	IDTableSize  int
	SymTableSize int
	SynTableSize int
	RingSize     int

	HeaderOff   int
	RegisterOff int
	HeapOff     int
	IDTableOff  int
	SymTableOff int
	SynTableOff int
	RingOff     int
	TotalBytes  int
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// ComputeLayout derives all region geometry from the node capacity.
// Table sizes are powers of two so probing can mask instead of mod.
func ComputeLayout(capacity int) (Layout, error) {
	if capacity < MinCapacity || capacity > MaxCapacity {
		return Layout{}, fmt.Errorf("engine: capacity %d out of range [%d, %d]", capacity, MinCapacity, MaxCapacity)
	}
	l := Layout{
		Capacity:     capacity,
		ZoneA:        capacity / 2,
		IDTableSize:  nextPow2(capacity * 2), // stays under the load-factor ceiling at full heap
		SymTableSize: nextPow2(capacity * 2),
		SynTableSize: nextPow2(capacity),
		RingSize:     max(256, nextPow2(capacity/4)),
	}

	off := 0
	l.HeaderOff = off
	off += int(unsafe.Sizeof(Header{}))
	l.RegisterOff = off
	off += int(unsafe.Sizeof(registerBank{}))
	l.HeapOff = off
	off += capacity * int(unsafe.Sizeof(Node{}))
	l.IDTableOff = off
	off += l.IDTableSize * int(unsafe.Sizeof(idEntry{}))
	l.SymTableOff = off
	off += l.SymTableSize * int(unsafe.Sizeof(symEntry{}))
	l.SynTableOff = off
	off += l.SynTableSize * int(unsafe.Sizeof(synEntry{}))
	l.RingOff = off
	off += l.RingSize * int(unsafe.Sizeof(commandSlot{}))
	l.TotalBytes = off
	return l, nil
}

// Validate checks a header against the geometry this build expects.
func (l Layout) Validate(h *Header) error {
	if h.Magic != Magic {
		return fmt.Errorf("engine: bad magic %#x, want %#x", h.Magic, Magic)
	}
	if h.Version != Version {
		return fmt.Errorf("engine: region version %d, this build speaks %d", h.Version, Version)
	}
	if int(h.Capacity) != l.Capacity {
		return fmt.Errorf("engine: region capacity %d, layout computed for %d", h.Capacity, l.Capacity)
	}
	if int(h.ZoneA) != l.ZoneA {
		return fmt.Errorf("engine: region zone split %d, layout computed %d", h.ZoneA, l.ZoneA)
	}
	return nil
}
