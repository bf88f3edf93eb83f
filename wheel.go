// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package htwheel implements a hierarchical timing wheel: O(1) amortised
// scheduling, cancellation and per-tick advancement for large numbers of
// timers, at the cost of coarser precision for timers scheduled far in
// the future. It is driven by an external monotonic tick count, not by
// wall time; pair it with package driver (or an equivalent caller-owned
// loop) to run it off a real clock.
package htwheel

import (
	"math"
)

// maxLevels bounds Config.Levels. It is well above any realistic wheel
// (four or five levels cover seconds-to-days at typical tick rates); the
// bound exists so a Timer's level field always fits comfortably and so
// bucketsPerLevel*Levels cannot silently overflow uint64 arithmetic.
const maxLevels = 32

// Config describes the fixed geometry of a Wheel. It is immutable once
// passed to New: the wheel never grows or reshapes itself after
// construction.
type Config struct {
	// Levels is the number of cascaded rings, L >= 1.
	Levels int
	// BucketsPerLevelLog2 is log2 of the number of buckets in each
	// level; every level has the same bucket count B = 1 <<
	// BucketsPerLevelLog2.
	BucketsPerLevelLog2 uint
	// GranularityPerLevelLog2 is how many bits coarser each level's
	// step is than the next inner one: level lvl's bucket represents
	// 1 << (lvl * GranularityPerLevelLog2) base ticks. Must be <=
	// BucketsPerLevelLog2, or a level would not cover the range its
	// sublevel cascades out of.
	GranularityPerLevelLog2 uint
}

// Wheel is a hierarchical timing wheel. It is single-owner: all exported
// methods must be called from one logical driver at a time, with no
// internal locking. Multiple independent Wheels may run on different
// goroutines concurrently.
type Wheel struct {
	cfg Config

	bucketsPerLevel uint64 // B = 1 << BucketsPerLevelLog2
	mask            uint64 // B - 1
	gMask           uint64 // G - 1, G = 1 << GranularityPerLevelLog2
	maxLifetime     uint64

	// buckets is the single contiguous allocation backing the wheel.
	// Bucket (lvl, slot) lives at buckets[lvl*bucketsPerLevel+slot];
	// each entry is used only as a list head, never as a real timer.
	buckets []Timer

	// drained is a scratch list head reused every tick to drain a
	// bucket before firing it; kept on the Wheel instead of
	// stack-allocated per call to avoid escaping it to the heap on
	// every tick.
	drained Timer

	ticks uint64
}

// New allocates and initialises a Wheel from cfg. The only failure modes
// are a configuration that violates the documented invariants (a
// programmer error) and, notionally, bucket allocation failure — Go's
// make never fails silently, but the error return is kept so future
// allocation strategies (e.g. a pooled backing array) have somewhere to
// report into.
func New(cfg Config) (*Wheel, error) {
	if cfg.Levels < 1 || cfg.Levels > maxLevels {
		BUG("invalid wheel config, Levels=%d (want 1..%d)\n",
			cfg.Levels, maxLevels)
		return nil, ErrInvalidConfig
	}
	if cfg.BucketsPerLevelLog2 == 0 || cfg.BucketsPerLevelLog2 > 31 {
		BUG("invalid wheel config, BucketsPerLevelLog2=%d\n",
			cfg.BucketsPerLevelLog2)
		return nil, ErrInvalidConfig
	}
	if cfg.GranularityPerLevelLog2 > cfg.BucketsPerLevelLog2 {
		BUG("invalid wheel config, GranularityPerLevelLog2=%d >"+
			" BucketsPerLevelLog2=%d\n",
			cfg.GranularityPerLevelLog2, cfg.BucketsPerLevelLog2)
		return nil, ErrInvalidConfig
	}

	b := uint64(1) << cfg.BucketsPerLevelLog2
	total := uint64(cfg.Levels) * b

	w := &Wheel{
		cfg:             cfg,
		bucketsPerLevel: b,
		mask:            b - 1,
		gMask:           (uint64(1) << cfg.GranularityPerLevelLog2) - 1,
	}
	topShift := uint(cfg.Levels-1) * cfg.GranularityPerLevelLog2
	w.maxLifetime = ((b - 1) << topShift) - (uint64(1) << topShift)

	w.buckets = make([]Timer, total)
	if w.buckets == nil {
		return nil, ErrBucketAlloc
	}
	for lvl := 0; lvl < cfg.Levels; lvl++ {
		for slot := uint64(0); slot < b; slot++ {
			h := &w.buckets[uint64(lvl)*b+slot]
			initHead(h)
			h.level = lvl
			h.slot = int(slot)
		}
	}
	initHead(&w.drained)

	return w, nil
}

// Close releases the bucket storage. It does not touch user timers: any
// Timer still linked into a bucket becomes dangling with respect to wheel
// membership, so the caller must ensure no scheduled timer outlives the
// Wheel.
func (w *Wheel) Close() {
	w.buckets = nil
}

// Now returns the wheel's current tick counter.
func (w *Wheel) Now() uint64 {
	return w.ticks
}

// MaxLifetime returns the largest lifetime schedulable without clamping
// to the cutoff bucket.
func (w *Wheel) MaxLifetime() uint64 {
	return w.maxLifetime
}

// bucketIndex returns the flat index of bucket (lvl, slot).
func (w *Wheel) bucketIndex(lvl int, slot uint64) uint64 {
	return uint64(lvl)*w.bucketsPerLevel + slot
}

// levelReach returns the highest delta (in ticks) level lvl can hold:
// (B-1) << (lvl * GranularityPerLevelLog2).
func (w *Wheel) levelReach(lvl int) uint64 {
	shift := uint(lvl) * w.cfg.GranularityPerLevelLog2
	return (w.bucketsPerLevel - 1) << shift
}

// place selects the level and (possibly clamped) delta for a relative
// lifetime: delta is first clamped to maxLifetime (the cutoff), then
// placed on the smallest level whose reach covers it. Because
// maxLifetime is strictly less than the top level's reach, the loop
// always terminates inside the levels array.
func (w *Wheel) place(delta uint64) (lvl int, clamped uint64) {
	if delta > w.maxLifetime {
		delta = w.maxLifetime
	}
	for lvl := 0; lvl < w.cfg.Levels; lvl++ {
		if delta < w.levelReach(lvl) {
			return lvl, delta
		}
	}
	// Only reachable if maxLifetime itself isn't strictly below the
	// top level's reach, i.e. a degenerate single-bucket level
	// (BucketsPerLevelLog2 report B==1, impossible since B>=2 once
	// BucketsPerLevelLog2>=1). Kept as a defensive fallback.
	return w.cfg.Levels - 1, delta
}

// InitTimer prepares t for use, binding the callback that Schedule will
// later arm. Never call it on a timer that is currently scheduled.
func (t *Timer) InitTimer(cb Callback) error {
	if t == nil || t.flags&fHead != 0 {
		return ErrInvalidTimer
	}
	if t.Scheduled() {
		return ErrActiveTimer
	}
	t.initNode()
	t.f = cb
	return nil
}

// Schedule arms t to fire no earlier than lifetime ticks from now. It
// unlinks t first, so rescheduling an already-armed timer is safe and
// replaces the pending firing. A lifetime exceeding MaxLifetime is
// silently clamped to the cutoff bucket rather than rejected.
func (w *Wheel) Schedule(lifetime uint64, t *Timer) error {
	if t == nil || t.flags&fHead != 0 {
		return ErrInvalidTimer
	}
	if t.f == nil {
		return ErrNilCallback
	}
	unlink(t)

	var delta uint64
	if lifetime > 0 {
		delta = lifetime - 1
	}
	lvl, delta := w.place(delta)

	shift := uint(lvl) * w.cfg.GranularityPerLevelLog2
	absIndex := ((w.ticks + delta) >> shift) + 1
	slot := absIndex & w.mask

	appendNode(&w.buckets[w.bucketIndex(lvl, slot)], t)
	return nil
}

// Cancel is equivalent to t.Cancel(); kept as a Wheel method for callers
// that prefer a uniform wheel-verb API (Schedule/Cancel/Tick...).
func (w *Wheel) Cancel(t *Timer) {
	t.Cancel()
}

// fire pops entries off the front of lst (FIFO order) and invokes their
// callbacks, up to limit invocations. It returns the number fired; any
// entries still in lst when limit is reached are left there for the
// caller to carry forward.
func fire(lst *Timer, limit int) int {
	n := 0
	for n < limit && !isEmpty(lst) {
		t := lst.next
		unlink(t)
		n++
		t.f(t)
	}
	return n
}

// expireLevel drains and fires the bucket at (lvl, slot), honouring the
// remaining budget, and carries any leftover entries onto the level-0
// bucket for next, the tick about to follow this one.
func (w *Wheel) expireLevel(lvl int, slot uint64, limit int, next uint64) int {
	bucket := &w.buckets[w.bucketIndex(lvl, slot)]
	if isEmpty(bucket) {
		return 0
	}
	spliceAfter(bucket, &w.drained)
	n := fire(&w.drained, limit)
	if !isEmpty(&w.drained) {
		nextSlot := next & w.mask
		spliceAfter(&w.drained, &w.buckets[w.bucketIndex(0, nextSlot)])
	}
	return n
}

// tickOnce advances the wheel by exactly one tick, firing up to limit
// timers across however many levels cascade on this tick, and returns
// the number fired.
//
// cur is the tick being processed; ticks is not incremented until every
// level has fired, so a callback that reschedules during its own firing
// sees Now() == cur, the tick it is actually running on, rather than the
// tick after it. That is what keeps a self-rescheduling timer's period
// exact instead of drifting one tick long on every re-arm. The
// carry-forward destination for a budget-truncated bucket still needs
// the next tick's value, so it is computed once (cur+1) and threaded
// through explicitly instead of read back off ticks.
func (w *Wheel) tickOnce(limit int) int {
	cur := w.ticks
	next := cur + 1
	fired := 0

	idx := cur
	for lvl := 0; lvl < w.cfg.Levels; lvl++ {
		slot := idx & w.mask
		fired += w.expireLevel(lvl, slot, limit-fired, next)

		if idx&w.gMask != 0 {
			break
		}
		idx >>= w.cfg.GranularityPerLevelLog2
	}
	w.ticks = next
	return fired
}

// Tick advances the wheel by one tick, running every timer that expires
// this tick, and returns how many fired. Equivalent to
// TickWithLimit(math.MaxInt).
func (w *Wheel) Tick() int {
	return w.tickOnce(math.MaxInt)
}

// TickWithLimit advances the wheel by one tick, running at most limit
// expirations; any remainder is carried onto the next tick's level-0
// bucket.
func (w *Wheel) TickWithLimit(limit int) int {
	if limit < 0 {
		limit = 0
	}
	return w.tickOnce(limit)
}

// TickMany advances the wheel by n ticks, equivalent to n calls to Tick.
// It returns the total number fired.
func (w *Wheel) TickMany(n int) int {
	return w.TickManyWithLimit(n, math.MaxInt)
}

// TickManyWithLimit advances the wheel by n ticks with a cumulative cap
// on the number of expirations across all of them.
func (w *Wheel) TickManyWithLimit(n, limit int) int {
	fired := 0
	for i := 0; i < n; i++ {
		remaining := limit - fired
		if remaining < 0 {
			remaining = 0
		}
		fired += w.TickWithLimit(remaining)
	}
	return fired
}
