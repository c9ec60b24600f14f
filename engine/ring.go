package engine

import "sync/atomic"

// Command opcodes carried through the ring.
const (
	CmdInsertAfter uint32 = iota + 1 // P1 = node to link, P2 = predecessor (NilPtr = tick-sorted at drain)
	CmdDelete                        // P1 = node to unlink
	CmdClear                         // drop the whole chain
)

// Command is one fixed four-word record: opcode, two pointers, and a
// reserved word. Purely transient; each record is consumed exactly once.
type Command struct {
	Op  uint32
	P1  Ptr
	P2  Ptr
	Arg int64
}

type commandSlot struct {
	cmd Command
	seq atomic.Uint64 // slot ticket, evm-style: ready for writer when == tail
}

// RingBuffer is the asynchronous edit queue: single producer (the editing
// thread), single consumer (the playback thread draining ProcessCommands).
// Per-slot sequence tickets stand in for a full/empty flag, so neither side
// ever blocks; a full ring is reported to the producer as an overflow code
// and backpressure is the caller's problem, not a stall.
type RingBuffer struct {
	slots []commandSlot
	mask  uint64
	head  atomic.Uint64 // consumer cursor
	tail  atomic.Uint64 // producer cursor
}

// newRingBuffer requires a power-of-two size so wrap is a mask.
func newRingBuffer(size int) *RingBuffer {
	r := &RingBuffer{
		slots: make([]commandSlot, size),
		mask:  uint64(size - 1),
	}
	for i := range r.slots {
		r.slots[i].seq.Store(uint64(i))
	}
	return r
}

// Write enqueues a command, or reports overflow without blocking.
func (r *RingBuffer) Write(op uint32, p1, p2 Ptr) Result {
	t := r.tail.Load()
	s := &r.slots[t&r.mask]
	if s.seq.Load() != t {
		return QueueOverflow
	}
	s.cmd = Command{Op: op, P1: p1, P2: p2}
	s.seq.Store(t + 1)
	r.tail.Store(t + 1)
	return OK
}

// Read dequeues the next command if one is ready.
func (r *RingBuffer) Read() (Command, bool) {
	h := r.head.Load()
	s := &r.slots[h&r.mask]
	if s.seq.Load() != h+1 {
		return Command{}, false
	}
	cmd := s.cmd
	s.seq.Store(h + uint64(len(r.slots)))
	r.head.Store(h + 1)
	return cmd, true
}

// Depth reports how many commands are queued. Racy by nature; telemetry only.
func (r *RingBuffer) Depth() int {
	return int(r.tail.Load() - r.head.Load())
}

// Cap reports the ring's capacity in commands.
func (r *RingBuffer) Cap() int { return len(r.slots) }
