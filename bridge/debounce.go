package bridge

import "neuroseq/engine"

// Field names a patchable node attribute, for debounce coalescing.
type Field uint8

const (
	FieldPitch Field = iota
	FieldVelocity
	FieldDuration
	FieldBaseTick
	FieldMuted
)

type patchKey struct {
	id    int64
	field Field
}

type patchEntry struct {
	value int64
	due   int64 // flush when the debounce clock reaches this tick
}

// debouncer coalesces repeated patches to the same (id, field) into the
// latest value only. It is tick-driven, never wall-clock driven: the editor
// advances the clock explicitly, which keeps flush order deterministic
// under test.
type debouncer struct {
	window  int64
	clock   int64
	pending map[patchKey]*patchEntry
	order   []patchKey // first-write order; flushes replay in it
}

func newDebouncer(window int64) *debouncer {
	return &debouncer{
		window:  window,
		pending: make(map[patchKey]*patchEntry),
	}
}

func (d *debouncer) put(id int64, f Field, v int64) {
	k := patchKey{id: id, field: f}
	if e, ok := d.pending[k]; ok {
		e.value = v
		e.due = d.clock + d.window // a fresh write restarts the window
		return
	}
	d.pending[k] = &patchEntry{value: v, due: d.clock + d.window}
	d.order = append(d.order, k)
}

// advance moves the clock n ticks and returns the keys due for flushing,
// in first-write order.
func (d *debouncer) advance(n int64) []patchKey {
	d.clock += n
	var due []patchKey
	kept := d.order[:0]
	for _, k := range d.order {
		if e := d.pending[k]; e.due <= d.clock {
			due = append(due, k)
		} else {
			kept = append(kept, k)
		}
	}
	d.order = kept
	return due
}

func (d *debouncer) take(k patchKey) int64 {
	e := d.pending[k]
	delete(d.pending, k)
	return e.value
}

func (d *debouncer) reset() {
	d.pending = make(map[patchKey]*patchEntry)
	d.order = d.order[:0]
	d.clock = 0
}

func (d *debouncer) depth() int { return len(d.pending) }

// Debounced patch variants: queue now, apply on a later Tick.

func (b *Bridge) DebouncePitch(id int64, pitch uint8) { b.deb.put(id, FieldPitch, int64(pitch)) }

func (b *Bridge) DebounceVelocity(id int64, vel uint8) { b.deb.put(id, FieldVelocity, int64(vel)) }

func (b *Bridge) DebounceDuration(id, dur int64) { b.deb.put(id, FieldDuration, dur) }

func (b *Bridge) DebounceBaseTick(id, tick int64) { b.deb.put(id, FieldBaseTick, tick) }

func (b *Bridge) DebounceMuted(id int64, muted bool) {
	v := int64(0)
	if muted {
		v = 1
	}
	b.deb.put(id, FieldMuted, v)
}

// Tick advances the debounce clock by n ticks and flushes every entry whose
// window has elapsed. Patches whose target id vanished in the meantime are
// dropped and reported, not retried.
func (b *Bridge) Tick(n int64) {
	for _, k := range b.deb.advance(n) {
		v := b.deb.take(k)
		p, res := b.eng.LookupID(k.id)
		if res != engine.OK {
			b.report("debounce-flush", res)
			continue
		}
		b.report("debounce-flush", applyField(b.eng, p, k.field, v))
	}
}

// PendingPatches reports how many debounced patches await flushing.
func (b *Bridge) PendingPatches() int { return b.deb.depth() }

func applyField(e *engine.Engine, p engine.Ptr, f Field, v int64) engine.Result {
	switch f {
	case FieldPitch:
		return e.PatchPitch(p, uint8(v))
	case FieldVelocity:
		return e.PatchVelocity(p, uint8(v))
	case FieldDuration:
		return e.PatchDuration(p, v)
	case FieldBaseTick:
		return e.PatchBaseTick(p, v)
	case FieldMuted:
		return e.PatchMuted(p, v != 0)
	}
	return engine.NotFound
}
