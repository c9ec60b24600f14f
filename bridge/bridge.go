// Package bridge is the single entry point editors use to talk to the
// engine: source-id generation, immediate and debounced edit paths, batch
// loading, the graph connect/disconnect/reward surface, and session reset.
// It owns no concurrency of its own; it runs on the producer thread and
// leans on the engine's lock-free paths underneath.
package bridge

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"neuroseq/engine"
)

// Config sizes the session. Zero fields take engine defaults.
type Config struct {
	Capacity      int
	Tempo         int
	PPQ           int
	SafeZone      int64
	Seed          int64 // synapse RNG seed; reproducible branching under test
	SynapseQuota  int   // resolutions per playback block
	LearnStep     int   // plasticity nudge per reward unit
	DebounceTicks int64 // how long a debounced patch coasts before flushing
	BlockOnCommit bool  // immediate edits wait for the consumer's ack
	Logger        zerolog.Logger
}

// Note is one batch-load record.
type Note struct {
	ID    int64
	Tick  int64
	Dur   int64
	Pitch uint8
	Vel   uint8
}

// Bridge is the façade handle. Explicit, never a process-wide singleton;
// every caller that needs the session carries one of these.
type Bridge struct {
	eng *engine.Engine
	cur *engine.Cursor
	log zerolog.Logger

	session       uuid.UUID
	nextAnon      atomic.Int64
	blockOnCommit bool
	onError       func(op string, res engine.Result)

	deb *debouncer
}

// New builds a session: engine, playback cursor, debounce queue.
func New(cfg Config) (*Bridge, error) {
	eng, err := engine.New(engine.Options{
		Capacity: cfg.Capacity,
		Tempo:    cfg.Tempo,
		PPQ:      cfg.PPQ,
		SafeZone: cfg.SafeZone,
	})
	if err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}
	if cfg.DebounceTicks <= 0 {
		cfg.DebounceTicks = int64(eng.PPQ() / 8)
	}
	b := &Bridge{
		eng:           eng,
		cur:           eng.NewCursor(cfg.Seed, cfg.SynapseQuota, cfg.LearnStep),
		log:           cfg.Logger,
		session:       uuid.New(),
		blockOnCommit: cfg.BlockOnCommit,
		deb:           newDebouncer(cfg.DebounceTicks),
	}
	eng.SetLoadWarnHandler(func(load float64) {
		b.log.Warn().Float64("load", load).Msg("identity table past load-factor threshold")
	})
	b.log.Info().Str("session", b.session.String()).Int("capacity", eng.Layout().Capacity).Msg("session created")
	return b, nil
}

// Engine exposes the underlying engine for the consumer side.
func (b *Bridge) Engine() *engine.Engine { return b.eng }

// Cursor exposes the playback cursor the consumer resolves through.
func (b *Bridge) Cursor() *engine.Cursor { return b.cur }

// Session returns the session id.
func (b *Bridge) Session() uuid.UUID { return b.session }

// OnError installs a centralized error callback; every non-OK result from a
// façade call flows through it in addition to the return value.
func (b *Bridge) OnError(fn func(op string, res engine.Result)) { b.onError = fn }

func (b *Bridge) report(op string, res engine.Result) engine.Result {
	if res != engine.OK {
		b.log.Debug().Str("op", op).Stringer("result", res).Msg("edit rejected")
		if b.onError != nil {
			b.onError(op, res)
		}
	}
	return res
}

// Note inserts or re-authors a note. An id already on the timeline is
// patched in place rather than duplicated, which is what makes repeated
// evaluation of the same source location idempotent.
func (b *Bridge) Note(id, tick, dur int64, pitch, vel uint8) engine.Result {
	if p, res := b.eng.LookupID(id); res == engine.OK {
		// Reauthor also covers nodes queued but not yet linked; a stale
		// mapping falls through to a fresh insert instead of dropping the edit.
		if res := b.eng.Reauthor(p, tick, dur, pitch, vel); res == engine.OK {
			return engine.OK
		}
	}
	after := b.eng.FindByTick(tick)
	_, res := b.eng.InsertAfter(after, engine.OpNote, pitch, vel, tick, dur, id)
	if res == engine.OK && b.blockOnCommit {
		res = b.eng.WaitCommit()
	}
	return b.report("note", res)
}

// NoteAsync queues the insert through the command ring; the editing thread
// returns immediately and the consumer links on its next drain.
func (b *Bridge) NoteAsync(id, tick, dur int64, pitch, vel uint8) engine.Result {
	if p, res := b.eng.LookupID(id); res == engine.OK {
		if res := b.eng.Reauthor(p, tick, dur, pitch, vel); res == engine.OK {
			return engine.OK
		}
	}
	// Position is resolved by the consumer at drain time; computing it here
	// would race earlier queued inserts the chain does not show yet.
	_, res := b.eng.EnqueueInsert(engine.NilPtr, engine.OpNote, pitch, vel, tick, dur, id)
	return b.report("note-async", res)
}

// Control inserts a control-change event.
func (b *Bridge) Control(id, tick int64, controller, value uint8) engine.Result {
	after := b.eng.FindByTick(tick)
	_, res := b.eng.InsertAfter(after, engine.OpControlChange, controller, value, tick, 0, id)
	return b.report("control", res)
}

// Delete removes the note with the given id immediately.
func (b *Bridge) Delete(id int64) engine.Result {
	p, res := b.eng.LookupID(id)
	if res != engine.OK {
		return b.report("delete", res)
	}
	res = b.eng.Delete(p)
	if res == engine.OK && b.blockOnCommit {
		res = b.eng.WaitCommit()
	}
	return b.report("delete", res)
}

// DeleteAsync queues the removal through the command ring.
func (b *Bridge) DeleteAsync(id int64) engine.Result {
	p, res := b.eng.LookupID(id)
	if res != engine.OK {
		return b.report("delete-async", res)
	}
	return b.report("delete-async", b.eng.EnqueueDelete(p))
}

// Immediate patch variants.

func (b *Bridge) PatchPitch(id int64, pitch uint8) engine.Result {
	return b.patchNow("patch-pitch", id, FieldPitch, int64(pitch))
}

func (b *Bridge) PatchVelocity(id int64, vel uint8) engine.Result {
	return b.patchNow("patch-velocity", id, FieldVelocity, int64(vel))
}

func (b *Bridge) PatchDuration(id, dur int64) engine.Result {
	return b.patchNow("patch-duration", id, FieldDuration, dur)
}

func (b *Bridge) PatchBaseTick(id, tick int64) engine.Result {
	return b.patchNow("patch-basetick", id, FieldBaseTick, tick)
}

func (b *Bridge) PatchMuted(id int64, muted bool) engine.Result {
	v := int64(0)
	if muted {
		v = 1
	}
	return b.patchNow("patch-muted", id, FieldMuted, v)
}

func (b *Bridge) patchNow(op string, id int64, f Field, v int64) engine.Result {
	p, res := b.eng.LookupID(id)
	if res != engine.OK {
		return b.report(op, res)
	}
	return b.report(op, applyField(b.eng, p, f, v))
}

// LoadBatch loads a clip in one generation sweep: every listed note is
// inserted or re-authored and stamped, then anything the batch no longer
// mentions is pruned. Feeding the same batch twice is a no-op.
func (b *Bridge) LoadBatch(notes []Note) engine.Result {
	b.eng.BumpGeneration()
	for _, n := range notes {
		if res := b.Note(n.ID, n.Tick, n.Dur, n.Pitch, n.Vel); res != engine.OK {
			return res
		}
	}
	pruned := b.eng.PruneStale()
	b.log.Debug().Int("notes", len(notes)).Int("pruned", pruned).Msg("batch loaded")
	return engine.OK
}

// Clear drops the whole timeline immediately.
func (b *Bridge) Clear() engine.Result {
	return b.report("clear", b.eng.Clear())
}

// ClearAsync queues the drop through the command ring.
func (b *Bridge) ClearAsync() engine.Result {
	return b.report("clear-async", b.eng.EnqueueClear())
}

// HardReset wipes both allocators, the chain and every table for session
// recovery. The caller must quiesce the consumer first.
func (b *Bridge) HardReset() {
	b.eng.HardReset()
	b.deb.reset()
	b.log.Info().Str("session", b.session.String()).Msg("hard reset")
}

// Graph surface.

// Connect wires a synapse from one note to another by external id.
func (b *Bridge) Connect(srcID, dstID int64, weight uint32, jitter int32) engine.Result {
	src, res := b.eng.LookupID(srcID)
	if res != engine.OK {
		return b.report("connect", res)
	}
	dst, res := b.eng.LookupID(dstID)
	if res != engine.OK {
		return b.report("connect", res)
	}
	return b.report("connect", b.eng.Synapses().Connect(src, dst, weight, jitter))
}

// Disconnect tombstones one edge, or all outgoing edges when dstID is 0.
func (b *Bridge) Disconnect(srcID, dstID int64) engine.Result {
	src, res := b.eng.LookupID(srcID)
	if res != engine.OK {
		return b.report("disconnect", res)
	}
	dst := engine.NilPtr
	if dstID != 0 {
		if dst, res = b.eng.LookupID(dstID); res != engine.OK {
			return b.report("disconnect", res)
		}
	}
	return b.report("disconnect", b.eng.Synapses().Disconnect(src, dst))
}

// Reward nudges the weights of recently fired synapses; negative penalizes.
func (b *Bridge) Reward(delta int) { b.cur.Reward(delta) }

// Snapshot streams the synapse graph as id triples; see engine.SynapseTable.
func (b *Bridge) Snapshot(fn func(srcID, dstID int64, weight uint32, jitter int32) error) error {
	return b.eng.Synapses().Snapshot(fn)
}

// Restore re-creates one streamed edge.
func (b *Bridge) Restore(srcID, dstID int64, weight uint32, jitter int32) engine.Result {
	return b.report("restore", b.eng.Synapses().Restore(srcID, dstID, weight, jitter))
}
