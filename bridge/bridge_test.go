package bridge

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"neuroseq/engine"
)

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	b, err := New(Config{Capacity: 128, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return b
}

func pitches(t *testing.T, e *engine.Engine) []uint8 {
	t.Helper()
	var out []uint8
	res := e.Traverse(func(_ engine.Ptr, v engine.NodeView) bool {
		out = append(out, v.Data1)
		return true
	})
	require.Equal(t, engine.OK, res)
	return out
}

func TestBridgeNoteInsertAndReauthor(t *testing.T) {
	b := newTestBridge(t)

	require.Equal(t, engine.OK, b.Note(1, 0, 240, 60, 100))
	require.Equal(t, engine.OK, b.Note(2, 480, 240, 64, 100))
	require.Equal(t, []uint8{60, 64}, pitches(t, b.Engine()))

	// Same id again: patched in place, not duplicated.
	require.Equal(t, engine.OK, b.Note(1, 0, 240, 72, 90))
	require.Equal(t, []uint8{72, 64}, pitches(t, b.Engine()))

	p, res := b.Engine().LookupID(1)
	require.Equal(t, engine.OK, res)
	v, _ := b.Engine().View(p)
	require.Equal(t, uint8(90), v.Data2)
}

func TestBridgeDelete(t *testing.T) {
	b := newTestBridge(t)

	b.Note(1, 0, 240, 60, 100)
	require.Equal(t, engine.OK, b.Delete(1))
	require.Empty(t, pitches(t, b.Engine()))
	require.Equal(t, engine.NotFound, b.Delete(1))
}

func TestBridgeErrorCallback(t *testing.T) {
	b := newTestBridge(t)

	var gotOp string
	var gotRes engine.Result
	b.OnError(func(op string, res engine.Result) { gotOp, gotRes = op, res })

	b.Delete(999)
	require.Equal(t, "delete", gotOp)
	require.Equal(t, engine.NotFound, gotRes)
}

func TestBridgeSourceIDs(t *testing.T) {
	b := newTestBridge(t)

	id1 := b.SourceID("live.ns", 10, 4)
	id2 := b.SourceID("live.ns", 10, 4)
	id3 := b.SourceID("live.ns", 11, 4)
	require.Equal(t, id1, id2, "same location, same id")
	require.NotEqual(t, id1, id3)
	require.Positive(t, id1)

	// The location is navigable back through the symbol table.
	info, res := b.Engine().LookupSymbol(id1)
	require.Equal(t, engine.OK, res)
	require.Equal(t, uint16(10), info.Line)
	require.Equal(t, uint16(4), info.Col)

	a1 := b.AnonID()
	a2 := b.AnonID()
	require.NotEqual(t, a1, a2)
}

func TestBridgeDebounceCoalesces(t *testing.T) {
	b, err := New(Config{Capacity: 128, DebounceTicks: 10, Logger: zerolog.Nop()})
	require.NoError(t, err)
	b.Note(1, 0, 240, 60, 100)

	// Three rapid edits to the same (id, field): only the last survives.
	b.DebouncePitch(1, 61)
	b.DebouncePitch(1, 62)
	b.DebouncePitch(1, 70)
	require.Equal(t, 1, b.PendingPatches())

	// Not due yet.
	b.Tick(5)
	p, _ := b.Engine().LookupID(1)
	v, _ := b.Engine().View(p)
	require.Equal(t, uint8(60), v.Data1)

	// A rewrite inside the window restarts it.
	b.DebouncePitch(1, 71)
	b.Tick(5)
	v, _ = b.Engine().View(p)
	require.Equal(t, uint8(60), v.Data1)

	b.Tick(5)
	v, _ = b.Engine().View(p)
	require.Equal(t, uint8(71), v.Data1)
	require.Zero(t, b.PendingPatches())
}

func TestBridgeDebounceSeparateFields(t *testing.T) {
	b, err := New(Config{Capacity: 128, DebounceTicks: 2, Logger: zerolog.Nop()})
	require.NoError(t, err)
	b.Note(1, 0, 240, 60, 100)

	b.DebouncePitch(1, 65)
	b.DebounceVelocity(1, 80)
	b.DebounceMuted(1, true)
	require.Equal(t, 3, b.PendingPatches())

	b.Tick(2)
	p, _ := b.Engine().LookupID(1)
	v, _ := b.Engine().View(p)
	require.Equal(t, uint8(65), v.Data1)
	require.Equal(t, uint8(80), v.Data2)
	require.True(t, v.Muted())
}

func TestBridgeDebounceDropsVanishedTarget(t *testing.T) {
	b, err := New(Config{Capacity: 128, DebounceTicks: 1, Logger: zerolog.Nop()})
	require.NoError(t, err)
	b.Note(1, 0, 240, 60, 100)

	var gotRes engine.Result
	b.OnError(func(_ string, res engine.Result) { gotRes = res })

	b.DebouncePitch(1, 70)
	b.Delete(1)
	b.Tick(1)
	require.Equal(t, engine.NotFound, gotRes)
	require.Zero(t, b.PendingPatches())
}

func TestBridgeLoadBatchIdempotent(t *testing.T) {
	b := newTestBridge(t)

	clip := []Note{
		{ID: 1, Tick: 0, Dur: 240, Pitch: 60, Vel: 100},
		{ID: 2, Tick: 480, Dur: 240, Pitch: 64, Vel: 100},
		{ID: 3, Tick: 960, Dur: 240, Pitch: 67, Vel: 100},
	}
	require.Equal(t, engine.OK, b.LoadBatch(clip))
	require.Equal(t, []uint8{60, 64, 67}, pitches(t, b.Engine()))

	// Reloading the identical batch changes nothing.
	require.Equal(t, engine.OK, b.LoadBatch(clip))
	require.Equal(t, []uint8{60, 64, 67}, pitches(t, b.Engine()))

	// A batch that drops the middle note prunes it.
	require.Equal(t, engine.OK, b.LoadBatch([]Note{clip[0], clip[2]}))
	require.Equal(t, []uint8{60, 67}, pitches(t, b.Engine()))
}

func TestBridgeGraphSurface(t *testing.T) {
	b := newTestBridge(t)

	b.Note(1, 0, 240, 60, 100)
	b.Note(2, 10000, 240, 72, 100)
	require.Equal(t, engine.OK, b.Connect(1, 2, 600, 30))
	require.Equal(t, 1, b.Engine().Synapses().Live())

	cur := b.Cursor()
	cur.BeginBlock()
	src, _ := b.Engine().LookupID(1)
	r, res := cur.Resolve(src)
	require.Equal(t, engine.OK, res)

	dst, _ := b.Engine().LookupID(2)
	require.Equal(t, dst, r.Target)

	b.Reward(1)
	r2, _ := cur.Resolve(src)
	require.Greater(t, r2.Weight, r.Weight)

	require.Equal(t, engine.OK, b.Disconnect(1, 0))
	require.Zero(t, b.Engine().Synapses().Live())
	require.Equal(t, engine.NotFound, b.Connect(99, 2, 1, 0))
}

func TestBridgeSnapshotRoundTrip(t *testing.T) {
	b := newTestBridge(t)

	b.Note(1, 0, 240, 60, 100)
	b.Note(2, 10000, 240, 72, 100)
	b.Connect(1, 2, 444, 7)

	type trip struct {
		src, dst int64
		w        uint32
		j        int32
	}
	var trips []trip
	require.NoError(t, b.Snapshot(func(s, d int64, w uint32, j int32) error {
		trips = append(trips, trip{s, d, w, j})
		return nil
	}))
	require.Equal(t, []trip{{1, 2, 444, 7}}, trips)

	b.Engine().Synapses().Clear()
	for _, tr := range trips {
		require.Equal(t, engine.OK, b.Restore(tr.src, tr.dst, tr.w, tr.j))
	}
	require.Equal(t, 1, b.Engine().Synapses().Live())
}

func TestBridgeHardReset(t *testing.T) {
	b := newTestBridge(t)

	b.Note(1, 0, 240, 60, 100)
	b.DebouncePitch(1, 70)
	b.HardReset()

	require.Empty(t, pitches(t, b.Engine()))
	require.Zero(t, b.PendingPatches())
	_, res := b.Engine().LookupID(1)
	require.Equal(t, engine.NotFound, res)
}

func TestBridgeAsyncPath(t *testing.T) {
	b := newTestBridge(t)

	require.Equal(t, engine.OK, b.NoteAsync(1, 0, 240, 60, 100))
	require.Equal(t, engine.OK, b.NoteAsync(2, 480, 240, 64, 100))
	require.Empty(t, pitches(t, b.Engine()), "not linked until the consumer drains")

	b.Engine().ProcessCommands()
	require.Equal(t, []uint8{60, 64}, pitches(t, b.Engine()))

	require.Equal(t, engine.OK, b.DeleteAsync(2))
	b.Engine().ProcessCommands()
	require.Equal(t, []uint8{60}, pitches(t, b.Engine()))

	require.Equal(t, engine.OK, b.ClearAsync())
	b.Engine().ProcessCommands()
	require.Empty(t, pitches(t, b.Engine()))
}

func TestBridgeAsyncReauthorBeforeDrain(t *testing.T) {
	b := newTestBridge(t)

	require.Equal(t, engine.OK, b.NoteAsync(1, 0, 240, 60, 100))
	// Same id again while the insert still sits in the ring: the queued
	// node is rewritten in place, neither duplicated nor silently dropped.
	require.Equal(t, engine.OK, b.NoteAsync(1, 0, 480, 72, 90))

	b.Engine().ProcessCommands()
	require.Equal(t, []uint8{72}, pitches(t, b.Engine()), "re-authored pitch must survive the drain")

	p, res := b.Engine().LookupID(1)
	require.Equal(t, engine.OK, res)
	v, res := b.Engine().View(p)
	require.Equal(t, engine.OK, res)
	require.Equal(t, uint8(90), v.Data2)
	require.Equal(t, int64(480), v.Dur)
}
