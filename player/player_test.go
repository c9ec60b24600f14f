package player

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	gomidi "gitlab.com/gomidi/midi/v2"

	"neuroseq/engine"
)

var errSendFailed = errors.New("port gone")

type capture struct {
	msgs []gomidi.Message
}

func (c *capture) sender() Sender {
	return func(msg gomidi.Message) error {
		c.msgs = append(c.msgs, msg)
		return nil
	}
}

func (c *capture) noteOns() []uint8 {
	var keys []uint8
	for _, m := range c.msgs {
		var ch, key, vel uint8
		if m.GetNoteOn(&ch, &key, &vel) {
			keys = append(keys, key)
		}
	}
	return keys
}

func (c *capture) noteOffs() []uint8 {
	var keys []uint8
	for _, m := range c.msgs {
		var ch, key, vel uint8
		if m.GetNoteOff(&ch, &key, &vel) {
			keys = append(keys, key)
		}
	}
	return keys
}

func newSession(t *testing.T) (*engine.Engine, *Player, *capture) {
	t.Helper()
	e, err := engine.New(engine.Options{Capacity: 128, PPQ: 480})
	require.NoError(t, err)
	rec := &capture{}
	p := New(e, e.NewCursor(1, 16, 0), rec.sender(), 0, zerolog.Nop())
	p.SetBlockTicks(480)
	return e, p, rec
}

func insert(t *testing.T, e *engine.Engine, pitch uint8, tick, dur int64, id int64) engine.Ptr {
	t.Helper()
	after := e.FindByTick(tick)
	p, res := e.InsertAfter(after, engine.OpNote, pitch, 100, tick, dur, id)
	require.Equal(t, engine.OK, res)
	return p
}

func TestPlayerSchedulesInTickOrder(t *testing.T) {
	e, p, rec := newSession(t)

	insert(t, e, 60, 0, 240, 1)
	insert(t, e, 64, 480, 240, 2)
	insert(t, e, 67, 960, 240, 3)

	// Three 480-tick blocks cover [0, 1440).
	p.Step()
	require.Equal(t, []uint8{60}, rec.noteOns())
	p.Step()
	require.Equal(t, []uint8{60, 64}, rec.noteOns())
	p.Step()
	require.Equal(t, []uint8{60, 64, 67}, rec.noteOns())
	require.Equal(t, int64(1440), e.Playhead())

	// Durations of 240 mean every note-off lands one block late.
	require.Equal(t, []uint8{60, 64}, rec.noteOffs())
	p.Step()
	require.Equal(t, []uint8{60, 64, 67}, rec.noteOffs())
}

func TestPlayerDeleteBeforePlayheadPasses(t *testing.T) {
	e, p, rec := newSession(t)

	insert(t, e, 60, 0, 100, 1)
	mid := insert(t, e, 64, 480, 100, 2)
	insert(t, e, 67, 960, 100, 3)

	p.Step() // [0,480): sounds 60
	require.Equal(t, engine.OK, e.Delete(mid))
	p.Step() // [480,960): 64 is gone
	p.Step() // [960,1440): sounds 67
	require.Equal(t, []uint8{60, 67}, rec.noteOns())
}

func TestPlayerMutedNodesSilent(t *testing.T) {
	e, p, rec := newSession(t)

	insert(t, e, 60, 0, 100, 1)
	m := insert(t, e, 64, 100, 100, 2)
	require.Equal(t, engine.OK, e.PatchMuted(m, true))

	p.Step()
	require.Equal(t, []uint8{60}, rec.noteOns())
}

func TestPlayerDrainsAsyncInserts(t *testing.T) {
	e, p, rec := newSession(t)

	_, res := e.EnqueueInsert(engine.NilPtr, engine.OpNote, 72, 100, 0, 100, 5)
	require.Equal(t, engine.OK, res)

	// Step drains the ring before scheduling, so the note sounds in the
	// very block it becomes due.
	p.Step()
	require.Equal(t, []uint8{72}, rec.noteOns())
}

func TestPlayerBranchesAcrossSynapse(t *testing.T) {
	e, p, rec := newSession(t)

	// Clip A ends at tick 240; clip B starts far ahead at 100000 and is
	// only reachable through the synapse.
	a := insert(t, e, 60, 0, 100, 1)
	b := insert(t, e, 72, 100000, 100, 2)
	require.Equal(t, engine.OK, e.Synapses().Connect(a, b, 500, 0))

	p.Step() // sounds 60, branches: B lands at the block boundary
	p.Step() // sounds 72
	require.Equal(t, []uint8{60, 72}, rec.noteOns())
}

func TestPlayerBranchJitterDelays(t *testing.T) {
	e, p, rec := newSession(t)

	a := insert(t, e, 60, 0, 100, 1)
	b := insert(t, e, 72, 100000, 100, 2)
	require.Equal(t, engine.OK, e.Synapses().Connect(a, b, 500, 700))

	p.Step() // branch lands B at 480+700 = 1180
	p.Step() // [480,960): still silent
	require.Equal(t, []uint8{60}, rec.noteOns())
	p.Step() // [960,1440): 72 sounds
	require.Equal(t, []uint8{60, 72}, rec.noteOns())
}

func TestPlayerQuotaStopsCyclicGraph(t *testing.T) {
	e, p, rec := newSession(t)

	// Two one-note clips wired into a loop with zero jitter: resolution
	// would chase the cycle forever if the per-block quota didn't bite.
	a := insert(t, e, 60, 0, 10, 1)
	b := insert(t, e, 72, 100000, 10, 2)
	require.Equal(t, engine.OK, e.Synapses().Connect(a, b, 10, -100000))
	require.Equal(t, engine.OK, e.Synapses().Connect(b, a, 10, -100000))

	p.Step()
	require.LessOrEqual(t, len(rec.noteOns()), 17, "one chain walk plus the quota's worth of branches")
	require.Zero(t, e.PanicCode())
}

func TestPlayerEmptyChain(t *testing.T) {
	e, p, rec := newSession(t)
	p.Step()
	p.Step()
	require.Empty(t, rec.msgs)
	require.Equal(t, int64(960), e.Playhead())
}

func TestPlayerSendFailuresDontStall(t *testing.T) {
	e, err := engine.New(engine.Options{Capacity: 128, PPQ: 480})
	require.NoError(t, err)

	// Every message type fails at the port; the block must still complete
	// and the playhead keep advancing.
	sent := 0
	failing := func(gomidi.Message) error {
		sent++
		return errSendFailed
	}
	p := New(e, e.NewCursor(1, 16, 0), failing, 0, zerolog.Nop())
	p.SetBlockTicks(480)

	insert(t, e, 60, 0, 240, 1)
	after := e.FindByTick(100)
	_, res := e.InsertAfter(after, engine.OpControlChange, 7, 90, 100, 0, 2)
	require.Equal(t, engine.OK, res)
	after = e.FindByTick(200)
	_, res = e.InsertAfter(after, engine.OpPitchBend, 0x00, 0x50, 200, 0, 3)
	require.Equal(t, engine.OK, res)

	p.Step()
	require.Equal(t, 3, sent)
	require.Equal(t, int64(480), e.Playhead())

	// The failed note-on queued no note-off; later blocks stay clean.
	p.Step()
	require.Equal(t, 3, sent)
	require.Equal(t, int64(960), e.Playhead())
}
