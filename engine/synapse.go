package engine

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Synapse weight bounds. Weights are integers so plasticity updates stay a
// single CAS on the packed word.
const (
	WeightMax uint32 = 1000
)

// memberBit marks a slot that belongs to a source's fan-out chain without
// being its probe-addressed head. Probing skips members; they are only ever
// reached through the in-table next links. Node pointers stay far below this
// bit, see MaxCapacity.
const memberBit int32 = 1 << 30

const synEmpty int32 = int32(NilPtr)

type synEntry struct {
	src  atomic.Int32  // owning source pointer; -1 = free slot
	dst  atomic.Int32  // target pointer; -1 = tombstone awaiting compaction
	wj   atomic.Uint64 // weight<<32 | uint32(jitter)
	next atomic.Int32  // next edge of the same source, -1 = end of chain
}

func packWJ(weight uint32, jitter int32) uint64 {
	return uint64(weight)<<32 | uint64(uint32(jitter))
}

func unpackWJ(w uint64) (uint32, int32) {
	return uint32(w >> 32), int32(uint32(w))
}

// SynapseTable holds the directed, weighted, jittered edges the playback
// cursor branches through when a chain runs out. Keyed by source pointer
// with linear probing; one-to-many fan-out hangs off the head slot via an
// explicit in-table linked list. A tombstoned edge (nil target) is skipped
// during resolution but keeps its slot until Compact.
type SynapseTable struct {
	eng     *Engine
	entries []synEntry
	mask    uint64
	live    atomic.Int32
}

func newSynapseTable(eng *Engine, size int) *SynapseTable {
	t := &SynapseTable{
		eng:     eng,
		entries: make([]synEntry, size),
		mask:    uint64(size - 1),
	}
	for i := range t.entries {
		t.entries[i].src.Store(synEmpty)
		t.entries[i].dst.Store(synEmpty)
		t.entries[i].next.Store(synEmpty)
	}
	return t
}

func hashPtr(p Ptr) uint64 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(p))
	return xxhash.Sum64(b[:])
}

// findHead probes for the chain head of src. Returns the head index or -1,
// plus the first free probe slot (for claiming a new head).
func (t *SynapseTable) findHead(src Ptr) (head, free int) {
	head, free = -1, -1
	i := hashPtr(src) & t.mask
	for probes := 0; probes < len(t.entries); probes++ {
		e := &t.entries[i]
		cur := e.src.Load()
		if cur == int32(src) {
			return int(i), free
		}
		if cur == synEmpty {
			if free < 0 {
				free = int(i)
			}
			return head, free
		}
		i = (i + 1) & t.mask
	}
	return head, free
}

// claimSlot scans for any free slot starting at the source's probe position.
func (t *SynapseTable) claimSlot(src Ptr) int {
	i := hashPtr(src) & t.mask
	for probes := 0; probes < len(t.entries); probes++ {
		if t.entries[i].src.Load() == synEmpty {
			return int(i)
		}
		i = (i + 1) & t.mask
	}
	return -1
}

// Connect inserts or updates the edge src -> dst. An existing edge to the
// same target just takes the new weight and jitter; a tombstone in the
// chain is revived before a fresh slot is claimed.
func (t *SynapseTable) Connect(src, dst Ptr, weight uint32, jitter int32) Result {
	if src == NilPtr || dst == NilPtr {
		return NotFound
	}
	if weight > WeightMax {
		weight = WeightMax
	}
	head, free := t.findHead(src)
	if head < 0 {
		if free < 0 {
			free = t.claimSlot(src)
		}
		if free < 0 {
			return SynapseTableFull
		}
		e := &t.entries[free]
		e.wj.Store(packWJ(weight, jitter))
		e.dst.Store(int32(dst))
		e.next.Store(synEmpty)
		e.src.Store(int32(src)) // publish last: the consumer probes on src
		t.live.Add(1)
		return OK
	}
	grave, tail := -1, head
	for i, steps := head, 0; i >= 0; steps++ {
		if steps > len(t.entries) {
			t.eng.trip()
			return KernelPanic
		}
		e := &t.entries[i]
		switch e.dst.Load() {
		case int32(dst):
			e.wj.Store(packWJ(weight, jitter))
			return OK
		case synEmpty:
			if grave < 0 {
				grave = i
			}
		}
		tail = i
		i = int(e.next.Load())
	}
	if grave >= 0 {
		e := &t.entries[grave]
		e.wj.Store(packWJ(weight, jitter))
		e.dst.Store(int32(dst))
		t.live.Add(1)
		return OK
	}
	slot := t.claimSlot(src)
	if slot < 0 {
		return SynapseTableFull
	}
	e := &t.entries[slot]
	e.wj.Store(packWJ(weight, jitter))
	e.dst.Store(int32(dst))
	e.next.Store(synEmpty)
	e.src.Store(int32(src) | memberBit)
	t.entries[tail].next.Store(int32(slot))
	t.live.Add(1)
	return OK
}

// Disconnect tombstones the edge src -> dst, or every outgoing edge of src
// when dst is NilPtr. Slots stay put so probe chains survive until Compact.
func (t *SynapseTable) Disconnect(src, dst Ptr) Result {
	head, _ := t.findHead(src)
	if head < 0 {
		return NotFound
	}
	hit := false
	for i, steps := head, 0; i >= 0; steps++ {
		if steps > len(t.entries) {
			t.eng.trip()
			return KernelPanic
		}
		e := &t.entries[i]
		if cur := e.dst.Load(); cur != synEmpty && (dst == NilPtr || cur == int32(dst)) {
			e.dst.Store(synEmpty)
			t.live.Add(-1)
			hit = true
			if dst != NilPtr {
				return OK
			}
		}
		i = int(e.next.Load())
	}
	if !hit {
		return NotFound
	}
	return OK
}

// edge is one live edge snapshot, used by Compact and Snapshot.
type edge struct {
	src, dst Ptr
	weight   uint32
	jitter   int32
}

func (t *SynapseTable) liveEdges() []edge {
	var out []edge
	for i := range t.entries {
		e := &t.entries[i]
		src := e.src.Load()
		dst := e.dst.Load()
		if src == synEmpty || dst == synEmpty {
			continue
		}
		w, j := unpackWJ(e.wj.Load())
		out = append(out, edge{src: Ptr(src &^ memberBit), dst: Ptr(dst), weight: w, jitter: j})
	}
	return out
}

// Compact rebuilds the table without tombstones. Maintenance only; run with
// the consumer quiesced.
func (t *SynapseTable) Compact() {
	edges := t.liveEdges()
	t.Clear()
	for _, ed := range edges {
		t.Connect(ed.src, ed.dst, ed.weight, ed.jitter)
	}
}

// Clear empties the table.
func (t *SynapseTable) Clear() {
	for i := range t.entries {
		t.entries[i].src.Store(synEmpty)
		t.entries[i].dst.Store(synEmpty)
		t.entries[i].next.Store(synEmpty)
		t.entries[i].wj.Store(0)
	}
	t.live.Store(0)
}

// Live reports the number of non-tombstoned edges.
func (t *SynapseTable) Live() int { return int(t.live.Load()) }

// Snapshot streams every live edge as a (source id, target id, weight,
// jitter) triple. Edges touching anonymous nodes (no external id) are
// skipped; the stream is the persistence boundary, and only identified
// nodes survive a session. Serialization to any on-disk format is the
// caller's business.
func (t *SynapseTable) Snapshot(fn func(srcID, dstID int64, weight uint32, jitter int32) error) error {
	for _, ed := range t.liveEdges() {
		srcV, res := t.eng.View(ed.src)
		if res != OK || srcV.Source <= 0 {
			continue
		}
		dstV, res := t.eng.View(ed.dst)
		if res != OK || dstV.Source <= 0 {
			continue
		}
		if err := fn(srcV.Source, dstV.Source, ed.weight, ed.jitter); err != nil {
			return err
		}
	}
	return nil
}

// Restore re-creates one streamed edge, resolving ids back to pointers.
func (t *SynapseTable) Restore(srcID, dstID int64, weight uint32, jitter int32) Result {
	src, res := t.eng.LookupID(srcID)
	if res != OK {
		return res
	}
	dst, res := t.eng.LookupID(dstID)
	if res != OK {
		return res
	}
	return t.Connect(src, dst, weight, jitter)
}
