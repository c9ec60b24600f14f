package engine

import "math/rand"

// Cursor limits.
const (
	maxFanout    = 32 // candidates considered per resolution
	recentEdges  = 8  // plasticity window
	defaultQuota = 16 // resolutions per block unless configured
	defaultLearn = 25 // weight nudge per reward step
)

// Resolution is the outcome of a successful synapse pick: where playback
// jumps next and how many ticks of jitter to apply as a delay first.
type Resolution struct {
	Target Ptr
	Jitter int32
	Weight uint32
}

// Cursor is the playback side of the graph layer. It belongs to exactly one
// consumer; nothing in it is safe for concurrent use. The random source is
// seeded explicitly so identical seeds, weights and candidate sets replay
// identical branch sequences.
type Cursor struct {
	eng   *Engine
	rng   *rand.Rand
	quota int
	used  int
	step  int64 // learning-rate step for plasticity

	recent  [recentEdges]int32 // table indices of recently fired edges
	nRecent int
	posRec  int
}

// NewCursor creates a playback cursor over this engine's synapse table.
// quota caps resolutions per block; step is the plasticity learning rate.
// Zero values take defaults.
func (e *Engine) NewCursor(seed int64, quota int, step int) *Cursor {
	if quota <= 0 {
		quota = defaultQuota
	}
	if step <= 0 {
		step = defaultLearn
	}
	return &Cursor{
		eng:   e,
		rng:   rand.New(rand.NewSource(seed)),
		quota: quota,
		step:  int64(step),
	}
}

// BeginBlock resets the per-block resolution quota. The block boundary is
// whatever unit the caller drives playback in, typically one audio callback.
func (c *Cursor) BeginBlock() { c.used = 0 }

// Used reports resolutions spent in the current block.
func (c *Cursor) Used() int { return c.used }

// Resolve picks the next target when playback falls off the end of a chain
// at src. Refuses once the block quota is spent; trips the panic latch on a
// cyclic candidate chain instead of walking it forever. Single-candidate and
// all-zero-weight sets resolve without touching the random source.
func (c *Cursor) Resolve(src Ptr) (Resolution, Result) {
	if c.used >= c.quota {
		return Resolution{}, QuotaExceeded
	}
	t := c.eng.syn
	head, _ := t.findHead(src)
	if head < 0 {
		return Resolution{}, NotFound
	}

	var (
		idx     [maxFanout]int32
		weights [maxFanout]uint32
		jitters [maxFanout]int32
		n       int
		total   int64
	)
	for i, steps := head, 0; i >= 0 && n < maxFanout; steps++ {
		if steps > len(t.entries) {
			c.eng.trip()
			return Resolution{}, KernelPanic
		}
		e := &t.entries[i]
		if e.dst.Load() != synEmpty {
			w, j := unpackWJ(e.wj.Load())
			idx[n], weights[n], jitters[n] = int32(i), w, j
			total += int64(w)
			n++
		}
		i = int(e.next.Load())
	}
	if n == 0 {
		return Resolution{}, NotFound
	}

	pick := 0
	if n > 1 && total > 0 {
		roll := c.rng.Int63n(total)
		var cum int64
		for k := 0; k < n; k++ {
			cum += int64(weights[k])
			if roll < cum {
				pick = k
				break
			}
		}
	}

	winner := &t.entries[idx[pick]]
	dst := Ptr(winner.dst.Load())
	if dst == NilPtr {
		// Tombstoned between collection and pick; treat as a miss.
		return Resolution{}, NotFound
	}
	c.used++
	c.remember(idx[pick])
	return Resolution{Target: dst, Jitter: jitters[pick], Weight: weights[pick]}, OK
}

func (c *Cursor) remember(i int32) {
	c.recent[c.posRec] = i
	c.posRec = (c.posRec + 1) % recentEdges
	if c.nRecent < recentEdges {
		c.nRecent++
	}
}

// Reward nudges the weight of every recently fired edge by delta learning
// steps (negative delta penalizes), clamped to the weight range. This is the
// graph's only mutation path outside explicit connect/disconnect.
func (c *Cursor) Reward(delta int) {
	adj := int64(delta) * c.step
	for k := 0; k < c.nRecent; k++ {
		e := &c.eng.syn.entries[c.recent[k]]
		for {
			old := e.wj.Load()
			w, j := unpackWJ(old)
			nw := int64(w) + adj
			if nw < 0 {
				nw = 0
			}
			if nw > int64(WeightMax) {
				nw = int64(WeightMax)
			}
			if e.wj.CompareAndSwap(old, packWJ(uint32(nw), j)) {
				break
			}
		}
	}
}

// ForgetRecent drops the plasticity window, so later rewards only touch
// edges fired after this point.
func (c *Cursor) ForgetRecent() {
	c.nRecent = 0
	c.posRec = 0
}
