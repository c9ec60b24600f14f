package engine

import "sync/atomic"

// SymInfo is the source-location record kept per external id: the hash of
// the authoring location plus a packed line/column. Reverse navigation only;
// the playback path never reads this table.
type SymInfo struct {
	LocHash uint64
	Line    uint16
	Col     uint16
}

type symEntry struct {
	id  atomic.Int64
	loc atomic.Uint64
	pos atomic.Uint32 // line<<16 | col
}

// symTable mirrors the identity table's probing discipline, parallel-keyed
// by the same external ids.
type symTable struct {
	entries []symEntry
	mask    uint64
	live    int
}

func newSymTable(size int) *symTable {
	return &symTable{
		entries: make([]symEntry, size),
		mask:    uint64(size - 1),
	}
}

// Store inserts or overwrites the location record for id.
func (t *symTable) Store(id int64, locHash uint64, line, col uint16) Result {
	if id <= 0 {
		return NotFound
	}
	i := hashID(id) & t.mask
	grave := -1
	for probes := 0; probes < len(t.entries); probes++ {
		e := &t.entries[i]
		switch cur := e.id.Load(); cur {
		case id:
			e.loc.Store(locHash)
			e.pos.Store(uint32(line)<<16 | uint32(col))
			return OK
		case idEmpty:
			if grave >= 0 {
				e = &t.entries[grave]
			}
			e.loc.Store(locHash)
			e.pos.Store(uint32(line)<<16 | uint32(col))
			e.id.Store(id)
			t.live++
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

// Lookup fetches the location record for id.
func (t *symTable) Lookup(id int64) (SymInfo, Result) {
	if id <= 0 {
		return SymInfo{}, NotFound
	}
	i := hashID(id) & t.mask
	for probes := 0; probes < len(t.entries); probes++ {
		e := &t.entries[i]
		switch cur := e.id.Load(); cur {
		case id:
			pos := e.pos.Load()
			return SymInfo{
				LocHash: e.loc.Load(),
				Line:    uint16(pos >> 16),
				Col:     uint16(pos),
			}, OK
		case idEmpty:
			return SymInfo{}, NotFound
		}
		i = (i + 1) & t.mask
	}
	return SymInfo{}, NotFound
}

// Remove tombstones the record for id.
func (t *symTable) Remove(id int64) Result {
	if id <= 0 {
		return NotFound
	}
	i := hashID(id) & t.mask
	for probes := 0; probes < len(t.entries); probes++ {
		e := &t.entries[i]
		switch cur := e.id.Load(); cur {
		case id:
			e.id.Store(idTombstone)
			t.live--
			return OK
		case idEmpty:
			return NotFound
		}
		i = (i + 1) & t.mask
	}
	return NotFound
}

// Clear drops every record.
func (t *symTable) Clear() {
	for i := range t.entries {
		t.entries[i].id.Store(idEmpty)
	}
	t.live = 0
}
