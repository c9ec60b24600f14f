package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDTableInsertLookupRemove(t *testing.T) {
	tbl := newIDTable(64)

	require.Equal(t, OK, tbl.Insert(101, 7))
	p, res := tbl.Lookup(101)
	require.Equal(t, OK, res)
	require.Equal(t, Ptr(7), p)

	require.Equal(t, OK, tbl.Remove(101))
	_, res = tbl.Lookup(101)
	require.Equal(t, NotFound, res)

	require.Equal(t, NotFound, tbl.Remove(101))
}

func TestIDTableDuplicateOverwrites(t *testing.T) {
	tbl := newIDTable(64)

	require.Equal(t, OK, tbl.Insert(42, 1))
	require.Equal(t, OK, tbl.Insert(42, 2))
	p, res := tbl.Lookup(42)
	require.Equal(t, OK, res)
	require.Equal(t, Ptr(2), p)
	require.Equal(t, 1, tbl.Live(), "overwrite must not duplicate")
}

func TestIDTableTombstoneReuse(t *testing.T) {
	tbl := newIDTable(16)

	// Fill a few ids, punch holes, and confirm new inserts land in graves
	// while probe chains stay walkable.
	for id := int64(1); id <= 10; id++ {
		require.Equal(t, OK, tbl.Insert(id, Ptr(id)))
	}
	for id := int64(2); id <= 10; id += 2 {
		require.Equal(t, OK, tbl.Remove(id))
	}
	for id := int64(1); id <= 10; id += 2 {
		p, res := tbl.Lookup(id)
		require.Equal(t, OK, res)
		require.Equal(t, Ptr(id), p)
	}
	for id := int64(20); id <= 24; id++ {
		require.Equal(t, OK, tbl.Insert(id, Ptr(id)))
	}
	for id := int64(20); id <= 24; id++ {
		p, res := tbl.Lookup(id)
		require.Equal(t, OK, res)
		require.Equal(t, Ptr(id), p)
	}
}

func TestIDTableRejectsNonPositive(t *testing.T) {
	tbl := newIDTable(16)
	require.Equal(t, NotFound, tbl.Insert(0, 1))
	require.Equal(t, NotFound, tbl.Insert(-5, 1))
	_, res := tbl.Lookup(0)
	require.Equal(t, NotFound, res)
}

func TestIDTableLoadWarning(t *testing.T) {
	tbl := newIDTable(16)
	warned := 0.0
	tbl.onWarn = func(load float64) { warned = load }

	for id := int64(1); id <= 13; id++ {
		require.Equal(t, OK, tbl.Insert(id, Ptr(id)))
	}
	require.Greater(t, warned, loadFactorWarn)
}

func TestSymTableStoreLookup(t *testing.T) {
	tbl := newSymTable(64)

	require.Equal(t, OK, tbl.Store(9, 0xDEAD, 12, 4))
	info, res := tbl.Lookup(9)
	require.Equal(t, OK, res)
	require.Equal(t, uint64(0xDEAD), info.LocHash)
	require.Equal(t, uint16(12), info.Line)
	require.Equal(t, uint16(4), info.Col)

	require.Equal(t, OK, tbl.Store(9, 0xBEEF, 13, 1))
	info, res = tbl.Lookup(9)
	require.Equal(t, OK, res)
	require.Equal(t, uint64(0xBEEF), info.LocHash)

	require.Equal(t, OK, tbl.Remove(9))
	_, res = tbl.Lookup(9)
	require.Equal(t, NotFound, res)
}
