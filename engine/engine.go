// Package engine implements the shared music-event graph: a fixed-capacity
// node heap split between two non-contending allocators, a doubly-linked
// event chain with a commit/acknowledge handshake, identity and symbol
// tables, an asynchronous command ring, and the synapse graph the playback
// cursor branches through. One producer (the editor) and one consumer (the
// playback scheduler) share an Engine; every cross-thread word is atomic and
// nothing on the steady-state path blocks or allocates.
package engine

import (
	"fmt"
	"runtime"
	"sync/atomic"
)

// Commit flag states for the structural-edit handshake.
const (
	commitIdle uint32 = iota
	commitPending
	commitAck
)

// Bounded-spin tuning. A waiter yields the scheduler after spinYieldAfter
// iterations and trips the dead-man's switch at spinPanicAfter, so a crashed
// consumer can never freeze the producer indefinitely.
const (
	spinYieldAfter = 256
	spinPanicAfter = 1 << 20
)

// Options configures a new Engine. Zero fields take defaults.
type Options struct {
	Capacity int   // node heap size, default 1024
	Tempo    int   // BPM, default 120
	PPQ      int   // pulses per quarter note, default 480
	SafeZone int64 // ticks ahead of the playhead closed to edits, default 2*PPQ
}

func (o *Options) applyDefaults() {
	if o.Capacity == 0 {
		o.Capacity = 1024
	}
	if o.Tempo == 0 {
		o.Tempo = 120
	}
	if o.PPQ == 0 {
		o.PPQ = 480
	}
	if o.SafeZone == 0 {
		o.SafeZone = int64(2 * o.PPQ)
	}
}

// Engine owns the whole shared region.
type Engine struct {
	layout Layout
	hdr    Header
	regs   registerBank
	nodes  []Node

	freeList *FreeList
	local    *LocalAllocator
	ring     *RingBuffer
	ids      *idTable
	syms     *symTable
	syn      *SynapseTable

	// armed flips on when a consumer attaches. Until then the commit flag
	// has nobody to acknowledge it, so edits absorb their own pending state
	// instead of waiting on a handshake with an empty seat.
	armed atomic.Bool
}

// New builds an Engine and its region from one capacity parameter.
func New(opts Options) (*Engine, error) {
	opts.applyDefaults()
	layout, err := ComputeLayout(opts.Capacity)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		layout: layout,
		nodes:  make([]Node, layout.Capacity),
	}
	e.hdr.Magic = Magic
	e.hdr.Version = Version
	e.hdr.Capacity = int32(layout.Capacity)
	e.hdr.ZoneA = int32(layout.ZoneA)
	e.hdr.Tempo.Store(int32(opts.Tempo))
	e.hdr.PPQ = int32(opts.PPQ)
	e.hdr.SafeZone = opts.SafeZone

	e.regs.chainHead.Store(int32(NilPtr))
	e.regs.chainTail.Store(int32(NilPtr))

	e.freeList = newFreeList(&e.regs.freeHead, e.nodes, layout.ZoneA)
	e.local = newLocalAllocator(e.nodes, Ptr(layout.ZoneA), Ptr(layout.Capacity))
	e.ring = newRingBuffer(layout.RingSize)
	e.ids = newIDTable(layout.IDTableSize)
	e.syms = newSymTable(layout.SymTableSize)
	e.syn = newSynapseTable(e, layout.SynTableSize)

	if err := layout.Validate(&e.hdr); err != nil {
		return nil, fmt.Errorf("engine: self-check failed: %w", err)
	}
	return e, nil
}

// Layout reports the region geometry computed at initialization.
func (e *Engine) Layout() Layout { return e.layout }

// Header exposes the region header for validation by external consumers.
func (e *Engine) Header() *Header { return &e.hdr }

// Synapses exposes the graph layer.
func (e *Engine) Synapses() *SynapseTable { return e.syn }

// FreeList exposes the Zone A allocator, mainly for diagnostics and tests.
func (e *Engine) FreeList() *FreeList { return e.freeList }

// Local exposes the Zone B allocator.
func (e *Engine) Local() *LocalAllocator { return e.local }

// Ring exposes the command queue.
func (e *Engine) Ring() *RingBuffer { return e.ring }

// Tempo returns the current tempo in BPM.
func (e *Engine) Tempo() int { return int(e.hdr.Tempo.Load()) }

// SetTempo retunes the session live.
func (e *Engine) SetTempo(bpm int) { e.hdr.Tempo.Store(int32(bpm)) }

// PPQ returns the tick resolution per quarter note.
func (e *Engine) PPQ() int { return int(e.hdr.PPQ) }

// Playhead returns the consumer's current tick position.
func (e *Engine) Playhead() int64 { return e.regs.playhead.Load() }

// SetPlayhead is called by the consumer as it advances.
func (e *Engine) SetPlayhead(tick int64) { e.regs.playhead.Store(tick) }

// SetPlaying flips the transport state. The safe zone only rejects edits
// while the transport runs; a stopped timeline is freely editable.
func (e *Engine) SetPlaying(on bool) {
	if on {
		e.regs.playing.Store(1)
	} else {
		e.regs.playing.Store(0)
	}
}

// Playing reports the transport state.
func (e *Engine) Playing() bool { return e.regs.playing.Load() != 0 }

// PanicCode returns the sticky kernel-panic latch, 0 when healthy.
func (e *Engine) PanicCode() uint32 { return e.regs.panicCode.Load() }

// Generation returns the current structural generation id.
func (e *Engine) Generation() uint32 { return e.regs.gen.Load() }

// BumpGeneration starts a new generation; see PruneStale.
func (e *Engine) BumpGeneration() uint32 { return e.regs.gen.Add(1) }

// Attach arms the commit/ack handshake. Call once the consumer is live.
func (e *Engine) Attach() { e.armed.Store(true) }

// Detach disarms the handshake, for a quiesced or departed consumer.
func (e *Engine) Detach() { e.armed.Store(false) }

// CommitState returns the raw commit flag, for tests and diagnostics.
func (e *Engine) CommitState() uint32 { return e.regs.commit.Load() }

func (e *Engine) trip() {
	e.regs.panicCode.Store(uint32(KernelPanic))
}

// spinUntil is the only waiting primitive in the engine: bounded spin, a
// fairness yield past the spin threshold, and a hard ceiling that latches
// KERNEL_PANIC on suspected consumer death.
func (e *Engine) spinUntil(cond func() bool) Result {
	for i := 0; ; i++ {
		if cond() {
			return OK
		}
		if i >= spinPanicAfter {
			e.trip()
			return KernelPanic
		}
		if i >= spinYieldAfter {
			runtime.Gosched()
		}
	}
}

// inSafeZone reports whether a tick falls in the closed window [P, P+D).
// Edits strictly behind the playhead or far enough ahead always pass.
func (e *Engine) inSafeZone(tick int64) bool {
	d := e.hdr.SafeZone
	if d <= 0 || e.regs.playing.Load() == 0 {
		return false
	}
	p := e.regs.playhead.Load()
	return tick >= p && tick < p+d
}

// beginEdit acquires the structural-edit slot: a second edit must not begin
// until the previous one has been acknowledged. An observed ack is consumed
// here (ACK -> IDLE). When the handshake is unarmed the pending state is
// absorbed directly, since no consumer will ever acknowledge it.
func (e *Engine) beginEdit() Result {
	if !e.armed.Load() {
		e.regs.commit.Store(commitIdle)
		return OK
	}
	res := e.spinUntil(func() bool {
		return e.regs.commit.Load() != commitPending
	})
	if res != OK {
		return res
	}
	e.regs.commit.CompareAndSwap(commitAck, commitIdle)
	return OK
}

// publishEdit raises the commit flag after a structural change lands.
func (e *Engine) publishEdit() {
	if e.armed.Load() {
		e.regs.commit.Store(commitPending)
	}
}

// WaitCommit blocks (bounded) until the consumer acknowledges the last
// structural edit, then clears the flag. Optional: async callers skip it.
func (e *Engine) WaitCommit() Result {
	if !e.armed.Load() {
		return OK
	}
	res := e.spinUntil(func() bool {
		return e.regs.commit.Load() != commitPending
	})
	if res != OK {
		return res
	}
	e.regs.commit.CompareAndSwap(commitAck, commitIdle)
	return OK
}

// Acknowledge is the consumer half of the handshake. ProcessCommands calls
// it; it is exported for schedulers that drain on a finer cadence.
func (e *Engine) Acknowledge() {
	e.regs.commit.CompareAndSwap(commitPending, commitAck)
}

// splice links p into the chain after the given predecessor (NilPtr = head).
func (e *Engine) splice(after, p Ptr) {
	n := &e.nodes[p]
	if after == NilPtr {
		oldHead := Ptr(e.regs.chainHead.Load())
		n.prev.Store(int32(NilPtr))
		n.next.Store(int32(oldHead))
		if oldHead != NilPtr {
			e.nodes[oldHead].prev.Store(int32(p))
		} else {
			e.regs.chainTail.Store(int32(p))
		}
		e.regs.chainHead.Store(int32(p))
	} else {
		a := &e.nodes[after]
		nxt := Ptr(a.next.Load())
		n.prev.Store(int32(after))
		n.next.Store(int32(nxt))
		a.next.Store(int32(p))
		if nxt != NilPtr {
			e.nodes[nxt].prev.Store(int32(p))
		} else {
			e.regs.chainTail.Store(int32(p))
		}
	}
	n.flags.Or(FlagActive)
	e.regs.active.Add(1)
}

// unsplice removes p from the chain, patching its neighbors together.
func (e *Engine) unsplice(p Ptr) {
	n := &e.nodes[p]
	prev := Ptr(n.prev.Load())
	next := Ptr(n.next.Load())
	if prev != NilPtr {
		e.nodes[prev].next.Store(int32(next))
	} else {
		e.regs.chainHead.Store(int32(next))
	}
	if next != NilPtr {
		e.nodes[next].prev.Store(int32(prev))
	} else {
		e.regs.chainTail.Store(int32(prev))
	}
	n.flags.And(^FlagActive)
	e.regs.active.Add(-1)
}

// reclaim hands a delinked node back to whichever zone owns its slot.
func (e *Engine) reclaim(p Ptr) {
	if e.freeList.Owns(p) {
		e.freeList.Free(p)
	} else {
		e.local.Discard(p)
	}
}

// InsertHead splices a freshly allocated node at the front of the chain.
func (e *Engine) InsertHead(op Opcode, d1, d2 uint8, tick, dur, source int64) (Ptr, Result) {
	return e.InsertAfter(NilPtr, op, d1, d2, tick, dur, source)
}

// InsertAfter is the immediate structural insert: allocate from the free
// list, fill, splice, raise the commit flag. Rejected up front on a
// safe-zone violation or heap exhaustion.
func (e *Engine) InsertAfter(after Ptr, op Opcode, d1, d2 uint8, tick, dur, source int64) (Ptr, Result) {
	if e.inSafeZone(tick) {
		return NilPtr, SafeZoneViolation
	}
	if res := e.beginEdit(); res != OK {
		return NilPtr, res
	}
	p := e.freeList.Alloc()
	if p == NilPtr {
		return NilPtr, HeapExhausted
	}
	e.nodes[p].fill(op, d1, d2, tick, dur, source, e.regs.gen.Load())
	e.splice(after, p)
	if source > 0 {
		e.ids.Insert(source, p)
	}
	e.publishEdit()
	return p, OK
}

// Delete is the immediate structural delete: unsplice, drop the identity
// mapping, return the slot to its owning zone.
func (e *Engine) Delete(p Ptr) Result {
	n, res := e.activeNode(p)
	if res != OK {
		return res
	}
	if res := e.beginEdit(); res != OK {
		return res
	}
	if src := n.src.Load(); src > 0 {
		e.ids.Remove(src)
		e.syms.Remove(src)
	}
	e.unsplice(p)
	e.reclaim(p)
	e.publishEdit()
	return OK
}

// Clear drops the entire chain and every table entry that pointed into it.
func (e *Engine) Clear() Result {
	if res := e.beginEdit(); res != OK {
		return res
	}
	e.clearChain()
	e.publishEdit()
	return OK
}

// clearChain unlinks every chain node and drops only the table entries that
// pointed at them. Ids published for inserts still waiting in the ring must
// survive: a queued CmdInsertAfter behind this clear links its node on the
// same drain, and that node stays addressable.
func (e *Engine) clearChain() {
	p := Ptr(e.regs.chainHead.Load())
	for steps := 0; p != NilPtr; steps++ {
		if steps > len(e.nodes) {
			e.trip()
			return
		}
		n := &e.nodes[p]
		next := Ptr(n.next.Load())
		if src := n.src.Load(); src > 0 {
			e.ids.Remove(src)
			e.syms.Remove(src)
		}
		n.flags.And(^FlagActive)
		e.reclaim(p)
		p = next
	}
	e.regs.chainHead.Store(int32(NilPtr))
	e.regs.chainTail.Store(int32(NilPtr))
	e.regs.active.Store(0)
	e.syn.Clear()
}

// EnqueueInsert is the asynchronous insert: the producer allocates from its
// own zone, fills the fields, and queues the link command. Linking happens
// whenever the consumer next drains; the producer never waits.
func (e *Engine) EnqueueInsert(after Ptr, op Opcode, d1, d2 uint8, tick, dur, source int64) (Ptr, Result) {
	if e.inSafeZone(tick) {
		return NilPtr, SafeZoneViolation
	}
	p, res := e.local.Alloc()
	if res != OK {
		return NilPtr, res
	}
	e.nodes[p].fill(op, d1, d2, tick, dur, source, e.regs.gen.Load())
	if res := e.ring.Write(CmdInsertAfter, p, after); res != OK {
		e.local.Release(p)
		return NilPtr, res
	}
	if source > 0 {
		e.ids.Insert(source, p)
	}
	return p, OK
}

// EnqueueDelete queues an unlink for the consumer to perform.
func (e *Engine) EnqueueDelete(p Ptr) Result {
	if _, res := e.activeNode(p); res != OK {
		return res
	}
	return e.ring.Write(CmdDelete, p, NilPtr)
}

// EnqueueClear queues a full chain drop.
func (e *Engine) EnqueueClear() Result {
	return e.ring.Write(CmdClear, NilPtr, NilPtr)
}

// ProcessCommands is the consumer's drain point, typically once per audio
// block: acknowledge any pending structural commit, then apply every queued
// command in order. Returns the number of commands applied.
func (e *Engine) ProcessCommands() int {
	e.Acknowledge()
	n := 0
	for {
		cmd, ok := e.ring.Read()
		if !ok {
			return n
		}
		e.apply(cmd)
		n++
	}
}

func (e *Engine) apply(cmd Command) {
	switch cmd.Op {
	case CmdInsertAfter:
		after := cmd.P2
		if after == NilPtr {
			// No explicit predecessor: the consumer places the node in tick
			// order against the chain as it exists at drain time, which may
			// already include earlier queued inserts the producer never saw.
			after = e.FindByTick(e.nodes[cmd.P1].tick.Load())
		}
		e.splice(after, cmd.P1)
	case CmdDelete:
		if _, res := e.activeNode(cmd.P1); res == OK {
			n := &e.nodes[cmd.P1]
			if src := n.src.Load(); src > 0 {
				e.ids.Remove(src)
				e.syms.Remove(src)
			}
			e.unsplice(cmd.P1)
			e.reclaim(cmd.P1)
		}
	case CmdClear:
		e.clearChain()
	}
}

func (e *Engine) activeNode(p Ptr) (*Node, Result) {
	if p < 0 || int(p) >= len(e.nodes) {
		return nil, NotFound
	}
	n := &e.nodes[p]
	if n.flags.Load()&FlagActive == 0 {
		return nil, NotFound
	}
	return n, OK
}

// Patch operations mutate fields in place under the node seqlock. They do
// not raise the commit flag: topology is untouched, so the consumer sees the
// new value on its very next snapshot.

// PatchPitch clamps to the 7-bit MIDI range and stores the new pitch.
func (e *Engine) PatchPitch(p Ptr, pitch uint8) Result {
	n, res := e.activeNode(p)
	if res != OK {
		return res
	}
	if pitch > 127 {
		pitch = 127
	}
	n.beginWrite()
	op, _, d2 := unpackWord(n.word.Load())
	n.word.Store(packWord(op, pitch, d2))
	n.endWrite()
	n.flags.Or(FlagDirty)
	return OK
}

// PatchVelocity clamps to the 7-bit MIDI range and stores the new velocity.
func (e *Engine) PatchVelocity(p Ptr, vel uint8) Result {
	n, res := e.activeNode(p)
	if res != OK {
		return res
	}
	if vel > 127 {
		vel = 127
	}
	n.beginWrite()
	op, d1, _ := unpackWord(n.word.Load())
	n.word.Store(packWord(op, d1, vel))
	n.endWrite()
	n.flags.Or(FlagDirty)
	return OK
}

// PatchDuration stores a new duration in ticks.
func (e *Engine) PatchDuration(p Ptr, dur int64) Result {
	n, res := e.activeNode(p)
	if res != OK {
		return res
	}
	if dur < 0 {
		dur = 0
	}
	n.beginWrite()
	n.dur.Store(dur)
	n.endWrite()
	n.flags.Or(FlagDirty)
	return OK
}

// PatchBaseTick moves a node's schedule position without relinking it.
func (e *Engine) PatchBaseTick(p Ptr, tick int64) Result {
	n, res := e.activeNode(p)
	if res != OK {
		return res
	}
	n.beginWrite()
	n.tick.Store(tick)
	n.endWrite()
	n.flags.Or(FlagDirty)
	return OK
}

// PatchMuted flips the mute flag.
func (e *Engine) PatchMuted(p Ptr, muted bool) Result {
	n, res := e.activeNode(p)
	if res != OK {
		return res
	}
	if muted {
		n.flags.Or(FlagMuted)
	} else {
		n.flags.And(^FlagMuted)
	}
	return OK
}

// Reauthor rewrites a note's payload wholesale, for the idempotent
// re-author path. Unlike the Patch operations it also accepts a node still
// waiting in the command ring: that slot is producer-owned Zone B memory,
// addressable through the identity table, and the queued link command will
// splice the updated payload on the next drain. Every write lands under the
// seqlock, so the Patch results contract holds: OK here means the fields
// are stored, never silently dropped.
func (e *Engine) Reauthor(p Ptr, tick, dur int64, pitch, vel uint8) Result {
	if p < 0 || int(p) >= len(e.nodes) {
		return NotFound
	}
	n := &e.nodes[p]
	if n.flags.Load()&FlagActive == 0 && !e.local.Owns(p) {
		return NotFound
	}
	if pitch > 127 {
		pitch = 127
	}
	if vel > 127 {
		vel = 127
	}
	if dur < 0 {
		dur = 0
	}
	n.beginWrite()
	op, _, _ := unpackWord(n.word.Load())
	n.word.Store(packWord(op, pitch, vel))
	n.tick.Store(tick)
	n.dur.Store(dur)
	n.endWrite()
	n.flags.Or(FlagDirty)
	n.gen.Store(e.regs.gen.Load())
	return OK
}

// Touch stamps a node with the current generation; see PruneStale.
func (e *Engine) Touch(p Ptr) Result {
	n, res := e.activeNode(p)
	if res != OK {
		return res
	}
	n.gen.Store(e.regs.gen.Load())
	return OK
}

// PruneStale deletes every active node whose generation stamp is older than
// the current one. Combined with BumpGeneration and Touch this gives the
// façade idempotent re-authoring without allocating a scratch set.
func (e *Engine) PruneStale() int {
	cur := e.regs.gen.Load()
	pruned := 0
	p := Ptr(e.regs.chainHead.Load())
	for steps := 0; p != NilPtr; steps++ {
		if steps > len(e.nodes) {
			e.trip()
			return pruned
		}
		next := Ptr(e.nodes[p].next.Load())
		if e.nodes[p].gen.Load() != cur {
			e.Delete(p)
			pruned++
		}
		p = next
	}
	return pruned
}

// Traverse walks the active chain from the head, handing each node's
// primitive fields to fn. Return false from fn to stop early. A walk longer
// than the heap means a corrupted chain; that trips the panic latch instead
// of looping forever.
func (e *Engine) Traverse(fn func(p Ptr, v NodeView) bool) Result {
	p := Ptr(e.regs.chainHead.Load())
	for steps := 0; p != NilPtr; steps++ {
		if steps > len(e.nodes) {
			e.trip()
			return KernelPanic
		}
		v, ok := e.nodes[p].Snapshot()
		if !ok {
			e.trip()
			return KernelPanic
		}
		if !fn(p, v) {
			return OK
		}
		p = v.Next
	}
	return OK
}

// View snapshots a single node.
func (e *Engine) View(p Ptr) (NodeView, Result) {
	if p < 0 || int(p) >= len(e.nodes) {
		return NodeView{}, NotFound
	}
	v, ok := e.nodes[p].Snapshot()
	if !ok {
		e.trip()
		return NodeView{}, KernelPanic
	}
	return v, OK
}

// Head returns the first chain node, NilPtr when empty.
func (e *Engine) Head() Ptr { return Ptr(e.regs.chainHead.Load()) }

// Tail returns the last chain node, NilPtr when empty.
func (e *Engine) Tail() Ptr { return Ptr(e.regs.chainTail.Load()) }

// FindByTick returns the last chain node scheduled at or before tick, which
// is the splice point that keeps the chain tick-ordered. NilPtr means the
// new node belongs at the head.
func (e *Engine) FindByTick(tick int64) Ptr {
	at := NilPtr
	e.Traverse(func(p Ptr, v NodeView) bool {
		if v.Tick > tick {
			return false
		}
		at = p
		return true
	})
	return at
}

// LookupID resolves an external id to a node pointer in O(1).
func (e *Engine) LookupID(id int64) (Ptr, Result) { return e.ids.Lookup(id) }

// SetLoadWarnHandler installs a callback fired when the identity table
// crosses its load-factor warning threshold.
func (e *Engine) SetLoadWarnHandler(fn func(load float64)) { e.ids.onWarn = fn }

// StoreSymbol records the authoring location for an id.
func (e *Engine) StoreSymbol(id int64, locHash uint64, line, col uint16) Result {
	return e.syms.Store(id, locHash, line, col)
}

// LookupSymbol fetches the authoring location for an id.
func (e *Engine) LookupSymbol(id int64) (SymInfo, Result) { return e.syms.Lookup(id) }

// RemoveSymbol drops the authoring location for an id.
func (e *Engine) RemoveSymbol(id int64) Result { return e.syms.Remove(id) }

// HardReset wipes the session: chain, both allocators, all tables, the ring
// and every register. Atomic with respect to a concurrent consumer only if
// the caller quiesces it first.
func (e *Engine) HardReset() {
	for {
		if _, ok := e.ring.Read(); !ok {
			break
		}
	}
	e.regs.chainHead.Store(int32(NilPtr))
	e.regs.chainTail.Store(int32(NilPtr))
	e.regs.active.Store(0)
	e.regs.commit.Store(commitIdle)
	e.regs.playing.Store(0)
	e.regs.playhead.Store(0)
	e.regs.panicCode.Store(0)
	e.regs.gen.Add(1)
	e.freeList = newFreeList(&e.regs.freeHead, e.nodes, e.layout.ZoneA)
	e.local.Reset()
	e.ids.Clear()
	e.syms.Clear()
	e.syn.Clear()
}

// Stats is a telemetry snapshot; every field is a plain value.
type Stats struct {
	Capacity     int
	ZoneA        int
	FreeA        int
	UtilizationB float64
	Active       int
	RingDepth    int
	RingCap      int
	CommitState  uint32
	Playhead     int64
	Tempo        int
	PanicCode    uint32
	IDLive       int
	SynLive      int
}

// Stats gathers the current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Capacity:     e.layout.Capacity,
		ZoneA:        e.layout.ZoneA,
		FreeA:        e.freeList.FreeCount(),
		UtilizationB: e.local.Utilization(),
		Active:       int(e.regs.active.Load()),
		RingDepth:    e.ring.Depth(),
		RingCap:      e.ring.Cap(),
		CommitState:  e.regs.commit.Load(),
		Playhead:     e.regs.playhead.Load(),
		Tempo:        e.Tempo(),
		PanicCode:    e.regs.panicCode.Load(),
		IDLive:       e.ids.Live(),
		SynLive:      e.syn.Live(),
	}
}
