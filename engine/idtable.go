package engine

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Identity table sentinels. External ids are always positive.
const (
	idEmpty     int64 = 0
	idTombstone int64 = -1
)

// loadFactorWarn is the occupancy past which inserts start complaining.
const loadFactorWarn = 0.75

type idEntry struct {
	id  atomic.Int64
	ptr atomic.Int32
}

// idTable maps external source ids to node pointers: open addressing,
// linear probing, tombstone reuse. The producer is the only writer; the
// consumer may look up concurrently, so inserts publish ptr before id.
// Lookups never allocate.
type idTable struct {
	entries []idEntry
	mask    uint64
	live    int
	onWarn  func(load float64)
}

func newIDTable(size int) *idTable {
	t := &idTable{
		entries: make([]idEntry, size),
		mask:    uint64(size - 1),
	}
	return t
}

func hashID(id int64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(id))
	return xxhash.Sum64(b[:])
}

// Insert stores or overwrites the mapping for id. At most one live entry
// per id ever exists.
func (t *idTable) Insert(id int64, p Ptr) Result {
	if id <= 0 {
		return NotFound
	}
	i := hashID(id) & t.mask
	grave := -1
	for probes := 0; probes < len(t.entries); probes++ {
		e := &t.entries[i]
		switch cur := e.id.Load(); cur {
		case id:
			e.ptr.Store(int32(p))
			return OK
		case idEmpty:
			if grave >= 0 {
				e = &t.entries[grave]
			}
			e.ptr.Store(int32(p))
			e.id.Store(id)
			t.live++
			if load := float64(t.live) / float64(len(t.entries)); load > loadFactorWarn && t.onWarn != nil {
				t.onWarn(load)
			}
			return OK
		case idTombstone:
			if grave < 0 {
				grave = int(i)
			}
		}
		i = (i + 1) & t.mask
	}
	return HeapExhausted
}

// Lookup resolves an id to its node pointer.
func (t *idTable) Lookup(id int64) (Ptr, Result) {
	if id <= 0 {
		return NilPtr, NotFound
	}
	i := hashID(id) & t.mask
	for probes := 0; probes < len(t.entries); probes++ {
		e := &t.entries[i]
		switch cur := e.id.Load(); cur {
		case id:
			return Ptr(e.ptr.Load()), OK
		case idEmpty:
			return NilPtr, NotFound
		}
		i = (i + 1) & t.mask
	}
	return NilPtr, NotFound
}

// Remove tombstones the entry, keeping the probe chain intact.
func (t *idTable) Remove(id int64) Result {
	if id <= 0 {
		return NotFound
	}
	i := hashID(id) & t.mask
	for probes := 0; probes < len(t.entries); probes++ {
		e := &t.entries[i]
		switch cur := e.id.Load(); cur {
		case id:
			e.id.Store(idTombstone)
			e.ptr.Store(int32(NilPtr))
			t.live--
			return OK
		case idEmpty:
			return NotFound
		}
		i = (i + 1) & t.mask
	}
	return NotFound
}

// Clear drops every entry. Cold path, used by the hard reset.
func (t *idTable) Clear() {
	for i := range t.entries {
		t.entries[i].id.Store(idEmpty)
		t.entries[i].ptr.Store(int32(NilPtr))
	}
	t.live = 0
}

// Live reports the number of live entries.
func (t *idTable) Live() int { return t.live }
