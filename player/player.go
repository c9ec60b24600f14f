// Package player is the real-time consumer of the event graph: a block
// scheduler that drains the command ring, acknowledges structural commits,
// advances the shared playhead, and turns due nodes into MIDI messages.
// When playback falls off the end of a chain it asks the synapse cursor
// where to branch next.
package player

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gomidi "gitlab.com/gomidi/midi/v2"

	"neuroseq/engine"
)

// Sender delivers one MIDI message. The binary plugs in a gomidi port;
// tests plug in a capture buffer.
type Sender func(msg gomidi.Message) error

// DefaultBlockTicks is the scheduling granularity: 1/16 of a quarter note.
func DefaultBlockTicks(ppq int) int64 { return int64(ppq / 16) }

type noteOff struct {
	at  int64
	key uint8
}

// Player owns the consumer side of one session. All methods except Run and
// Stop must be called from the playback goroutine.
type Player struct {
	eng     *engine.Engine
	cur     *engine.Cursor
	send    Sender
	log     zerolog.Logger
	channel uint8

	blockTicks int64
	pos        engine.Ptr // next node to schedule, NilPtr = start of chain
	offset     int64      // tick offset accumulated across synapse jumps
	offs       []noteOff  // pending note-offs, kept sorted by at

	mu       sync.Mutex
	stopChan chan struct{}
	running  bool
}

// New wires a player to a session. A nil sender discards events, which is
// handy for dry runs.
func New(eng *engine.Engine, cur *engine.Cursor, send Sender, channel uint8, log zerolog.Logger) *Player {
	if send == nil {
		send = func(gomidi.Message) error { return nil }
	}
	return &Player{
		eng:        eng,
		cur:        cur,
		send:       send,
		log:        log,
		channel:    channel,
		blockTicks: DefaultBlockTicks(eng.PPQ()),
		pos:        engine.NilPtr,
		offs:       make([]noteOff, 0, 64),
	}
}

// SetBlockTicks overrides the scheduling granularity.
func (p *Player) SetBlockTicks(n int64) {
	if n > 0 {
		p.blockTicks = n
	}
}

// Step schedules exactly one block: drain commands, ack the commit flag,
// emit everything due in [playhead, playhead+blockTicks), follow synapses
// at chain end, then publish the new playhead. Deterministic; the Run loop
// is just Step on a tempo-derived ticker.
func (p *Player) Step() {
	p.eng.ProcessCommands()
	p.cur.BeginBlock()

	start := p.eng.Playhead()
	end := start + p.blockTicks

	p.flushOffs(end)

	if p.pos == engine.NilPtr {
		// Fresh start, or the chain was empty last block: pick up the head.
		// Anything already behind the playhead is skipped by the tick check.
		p.pos = p.eng.Head()
	}
	for p.pos != engine.NilPtr {
		v, res := p.eng.View(p.pos)
		if res != engine.OK || !v.Active() {
			// The node was deleted out from under us; restart from the head
			// and let tick comparison skip what already sounded.
			p.pos = p.eng.Head()
			if p.pos == engine.NilPtr {
				break
			}
			continue
		}
		at := v.Tick + p.offset
		if at >= end {
			break
		}
		if at >= start {
			p.emit(v)
		}
		if v.Next != engine.NilPtr {
			p.pos = v.Next
			continue
		}
		if !p.branch(end) {
			break
		}
	}

	p.eng.SetPlayhead(end)
}

// branch asks the synapse cursor where to go from the chain end at p.pos.
// Returns false when playback should just stop there.
func (p *Player) branch(end int64) bool {
	r, res := p.cur.Resolve(p.pos)
	switch res {
	case engine.OK:
	case engine.NotFound, engine.QuotaExceeded:
		return false
	default:
		p.log.Error().Stringer("result", res).Msg("synapse resolution failed")
		return false
	}
	v, vres := p.eng.View(r.Target)
	if vres != engine.OK || !v.Active() {
		return false
	}
	// The jump lands the target's base tick at "now plus jitter".
	p.offset = end + int64(r.Jitter) - v.Tick
	p.pos = r.Target
	return true
}

func (p *Player) emit(v engine.NodeView) {
	if v.Muted() {
		return
	}
	switch v.Op {
	case engine.OpNote:
		if err := p.send(gomidi.NoteOn(p.channel, v.Data1, v.Data2)); err != nil {
			p.log.Error().Err(err).Msg("send failed")
			return
		}
		p.queueOff(v.Tick+p.offset+v.Dur, v.Data1)
	case engine.OpControlChange:
		if err := p.send(gomidi.ControlChange(p.channel, v.Data1, v.Data2)); err != nil {
			p.log.Error().Err(err).Msg("send failed")
		}
	case engine.OpPitchBend:
		// 14-bit bend reassembled from the two payload bytes, centered.
		raw := int16(uint16(v.Data2)<<7|uint16(v.Data1)) - 8192
		if err := p.send(gomidi.Pitchbend(p.channel, raw)); err != nil {
			p.log.Error().Err(err).Msg("send failed")
		}
	case engine.OpRest:
		// audible silence needs no message
	}
}

func (p *Player) queueOff(at int64, key uint8) {
	i := len(p.offs)
	p.offs = append(p.offs, noteOff{at: at, key: key})
	for i > 0 && p.offs[i-1].at > at {
		p.offs[i], p.offs[i-1] = p.offs[i-1], p.offs[i]
		i--
	}
}

func (p *Player) flushOffs(upto int64) {
	n := 0
	for n < len(p.offs) && p.offs[n].at < upto {
		if err := p.send(gomidi.NoteOff(p.channel, p.offs[n].key)); err != nil {
			p.log.Error().Err(err).Msg("send failed")
		}
		n++
	}
	if n > 0 {
		p.offs = append(p.offs[:0], p.offs[n:]...)
	}
}

// silence flushes every pending note-off immediately.
func (p *Player) silence() {
	for _, off := range p.offs {
		if err := p.send(gomidi.NoteOff(p.channel, off.key)); err != nil {
			p.log.Error().Err(err).Msg("send failed")
		}
	}
	p.offs = p.offs[:0]
}

// BlockDuration converts the block size to wall time at the current tempo.
func (p *Player) BlockDuration() time.Duration {
	tempo := p.eng.Tempo()
	if tempo <= 0 {
		tempo = 120
	}
	perTick := float64(time.Minute) / float64(tempo) / float64(p.eng.PPQ())
	return time.Duration(perTick * float64(p.blockTicks))
}

// Run arms the engine and steps blocks on a tempo-derived ticker until the
// context ends or Stop is called.
func (p *Player) Run(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopChan = make(chan struct{})
	stop := p.stopChan
	p.mu.Unlock()

	p.eng.Attach()
	p.eng.SetPlaying(true)
	defer func() {
		p.silence()
		p.eng.SetPlaying(false)
		p.eng.Detach()
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	for {
		timer := time.NewTimer(p.BlockDuration())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
			p.Step()
		}
	}
}

// Stop ends a Run loop.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		close(p.stopChan)
		p.running = false
	}
}
