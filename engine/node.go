package engine

import (
	"runtime"
	"sync/atomic"
)

// Ptr is an index into the node heap. Indices rather than machine pointers
// keep the tagged free-list head packable into one 64-bit word and make the
// region position-independent.
type Ptr int32

// NilPtr is the null node reference.
const NilPtr Ptr = -1

// Opcode selects what a node means to the playback scheduler.
type Opcode uint8

const (
	OpNote Opcode = iota
	OpRest
	OpControlChange
	OpPitchBend
)

func (o Opcode) String() string {
	switch o {
	case OpNote:
		return "note"
	case OpRest:
		return "rest"
	case OpControlChange:
		return "cc"
	case OpPitchBend:
		return "bend"
	default:
		return "op?"
	}
}

// Node flag bits.
const (
	FlagActive uint32 = 1 << iota
	FlagMuted
	FlagDirty
)

// Node is one fixed-size record in the shared heap. Every cross-thread field
// is an atomic word; the seq counter doubles as a seqlock so the consumer can
// take torn-read-safe snapshots while the producer patches fields in place.
//
// A node is either threaded on a free list (next reused as the free link) or
// linked into exactly one position of the active chain, never both.
type Node struct {
	seq   atomic.Uint32 // seqlock: odd while a write is in flight, bumped on free
	flags atomic.Uint32
	word  atomic.Uint32 // opcode<<16 | data1<<8 | data2
	gen   atomic.Uint32 // last-touched generation, for zero-allocation pruning
	tick  atomic.Int64  // schedule position in ticks
	dur   atomic.Int64
	next  atomic.Int32
	prev  atomic.Int32
	src   atomic.Int64 // external source id, 0 if anonymous
}

// NodeView is a consistent snapshot of a node's payload fields. It carries
// only primitive values so traversal never allocates.
type NodeView struct {
	Op     Opcode
	Data1  uint8 // pitch / controller number
	Data2  uint8 // velocity / controller value
	Flags  uint32
	Tick   int64
	Dur    int64
	Source int64
	Next   Ptr
	Prev   Ptr
	Seq    uint32
}

// Active reports whether the node was linked into the chain at snapshot time.
func (v NodeView) Active() bool { return v.Flags&FlagActive != 0 }

// Muted reports the mute flag at snapshot time.
func (v NodeView) Muted() bool { return v.Flags&FlagMuted != 0 }

func packWord(op Opcode, d1, d2 uint8) uint32 {
	return uint32(op)<<16 | uint32(d1)<<8 | uint32(d2)
}

func unpackWord(w uint32) (Opcode, uint8, uint8) {
	return Opcode(w >> 16), uint8(w >> 8), uint8(w)
}

// beginWrite opens a seqlock write section. The counter goes odd, telling
// concurrent readers to retry their snapshot.
func (n *Node) beginWrite() { n.seq.Add(1) }

// endWrite closes the section, leaving the counter even again.
func (n *Node) endWrite() { n.seq.Add(1) }

// Snapshot spins until it observes the node with a stable (even, unchanged)
// sequence counter. Writers hold the odd state only for a handful of stores,
// so the retry loop is short in practice. The spin is bounded like every
// other wait in the engine: a writer that died mid-section must not freeze
// its reader, so past the ceiling Snapshot gives up and returns false.
func (n *Node) Snapshot() (NodeView, bool) {
	for i := 0; ; i++ {
		if i >= spinPanicAfter {
			return NodeView{}, false
		}
		if i >= spinYieldAfter {
			runtime.Gosched()
		}
		s1 := n.seq.Load()
		if s1&1 != 0 {
			continue
		}
		var v NodeView
		v.Op, v.Data1, v.Data2 = unpackWord(n.word.Load())
		v.Flags = n.flags.Load()
		v.Tick = n.tick.Load()
		v.Dur = n.dur.Load()
		v.Source = n.src.Load()
		v.Next = Ptr(n.next.Load())
		v.Prev = Ptr(n.prev.Load())
		if n.seq.Load() == s1 {
			v.Seq = s1
			return v, true
		}
	}
}

// Seq exposes the current sequence counter. A reader holding a stale NodeView
// can compare against this to detect that the slot was freed or rewritten.
func (n *Node) Seq() uint32 { return n.seq.Load() }

// reset clears every field except the sequence counter, which survives so a
// stale reader can tell the slot was recycled.
func (n *Node) reset() {
	n.flags.Store(0)
	n.word.Store(0)
	n.gen.Store(0)
	n.tick.Store(0)
	n.dur.Store(0)
	n.next.Store(int32(NilPtr))
	n.prev.Store(int32(NilPtr))
	n.src.Store(0)
}

// fill writes the payload of a freshly allocated node under the seqlock.
func (n *Node) fill(op Opcode, d1, d2 uint8, tick, dur, source int64, gen uint32) {
	n.beginWrite()
	n.word.Store(packWord(op, d1, d2))
	n.tick.Store(tick)
	n.dur.Store(dur)
	n.src.Store(source)
	n.gen.Store(gen)
	n.endWrite()
}
