package bridge

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// SourceID derives a content-addressed id from an authoring location, so
// re-evaluating the same line of a live-coding buffer addresses the same
// node instead of minting a new one. The location also lands in the symbol
// table for reverse navigation.
func (b *Bridge) SourceID(file string, line, col int) int64 {
	h := xxhash.Sum64String(fmt.Sprintf("%s:%d:%d", file, line, col))
	id := int64(h >> 1) // keep it positive; 0 and negatives are table sentinels
	if id == 0 {
		id = 1
	}
	b.eng.StoreSymbol(id, h, uint16(line), uint16(col))
	return id
}

// AnonID mints a sequential id for inserts with no authoring location.
// The range starts high enough that collisions with hashed ids are as
// unlikely as any other 63-bit hash collision.
func (b *Bridge) AnonID() int64 {
	return anonBase + b.nextAnon.Add(1)
}

const anonBase = int64(1) << 40
