// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package htwheel

import (
	"testing"
)

func mustNew(t *testing.T, cfg Config) *Wheel {
	t.Helper()
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("New(%+v) failed: %s\n", cfg, err)
	}
	return w
}

func countingCallback(n *int) Callback {
	return func(t *Timer) { *n++ }
}

func TestNewRejectsBadConfig(t *testing.T) {
	cases := []Config{
		{Levels: 0, BucketsPerLevelLog2: 5, GranularityPerLevelLog2: 3},
		{Levels: 1, BucketsPerLevelLog2: 0, GranularityPerLevelLog2: 0},
		{Levels: 2, BucketsPerLevelLog2: 3, GranularityPerLevelLog2: 4},
		{Levels: maxLevels + 1, BucketsPerLevelLog2: 5, GranularityPerLevelLog2: 3},
	}
	for i, cfg := range cases {
		if _, err := New(cfg); err != ErrInvalidConfig {
			t.Errorf("case %d: New(%+v) = %v, want ErrInvalidConfig\n",
				i, cfg, err)
		}
	}
}

// Single-level wheel, no cascading: (1, 5, 3).
func TestSingleLevelNoHierarchy(t *testing.T) {
	w := mustNew(t, Config{Levels: 1, BucketsPerLevelLog2: 5, GranularityPerLevelLog2: 3})

	var fired int
	var tm Timer
	if err := tm.InitTimer(countingCallback(&fired)); err != nil {
		t.Fatalf("InitTimer: %s\n", err)
	}
	if err := w.Schedule(5, &tm); err != nil {
		t.Fatalf("Schedule: %s\n", err)
	}
	if n := w.TickMany(6); n != 1 || fired != 1 {
		t.Fatalf("after schedule(5)+tick_many(6): n=%d fired=%d, want 1\n", n, fired)
	}
	if n := w.TickMany(33); n != 0 {
		t.Fatalf("extra ticks fired %d timers, want 0\n", n)
	}

	// cancel before fire.
	fired = 0
	var tm2 Timer
	tm2.InitTimer(countingCallback(&fired))
	w.Schedule(5, &tm2)
	tm2.Cancel()
	if n := w.TickMany(40); n != 0 || fired != 0 {
		t.Fatalf("cancelled timer fired: n=%d fired=%d\n", n, fired)
	}

	// double schedule: 5 then 10, should fire once per the second call.
	fired = 0
	var tm3 Timer
	tm3.InitTimer(countingCallback(&fired))
	w.Schedule(5, &tm3)
	w.Schedule(10, &tm3)
	if n := w.TickMany(6); n != 0 {
		t.Fatalf("rescheduled timer fired too early: n=%d\n", n)
	}
	if n := w.TickMany(5); n != 1 || fired != 1 {
		t.Fatalf("rescheduled timer did not fire on time: n=%d fired=%d\n", n, fired)
	}

	// lifetime beyond MaxLifetime clamps to the cutoff bucket but still
	// fires within one level-0 sweep.
	fired = 0
	var tm4 Timer
	tm4.InitTimer(countingCallback(&fired))
	w.Schedule(256, &tm4)
	if n := w.TickMany(32); n != 1 || fired != 1 {
		t.Fatalf("cutoff timer did not fire within 32 ticks: n=%d fired=%d\n", n, fired)
	}
}

// Three-level cascade: (3, 5, 3) -- 32 buckets/level, 8x granularity
// step between levels.
func TestThreeLevelsCascade(t *testing.T) {
	type step struct {
		lifetime    uint64
		ticksBefore int // ticks that must NOT fire it
		ticksAfter  int // additional ticks that must fire it exactly once
	}
	steps := []step{
		{32, 32, 8},
		{40, 40, 8},
		{256, 256, 64},
		{320, 320, 64},
		{38, 38, 8},
		{316, 316, 64},
	}
	for _, s := range steps {
		w := mustNew(t, Config{Levels: 3, BucketsPerLevelLog2: 5, GranularityPerLevelLog2: 3})
		var fired int
		var tm Timer
		tm.InitTimer(countingCallback(&fired))
		if err := w.Schedule(s.lifetime, &tm); err != nil {
			t.Fatalf("Schedule(%d): %s\n", s.lifetime, err)
		}
		if n := w.TickMany(s.ticksBefore); n != 0 {
			t.Errorf("lifetime %d: fired %d timers within %d ticks, want 0\n",
				s.lifetime, n, s.ticksBefore)
		}
		if n := w.TickMany(s.ticksAfter); n != 1 || fired != 1 {
			t.Errorf("lifetime %d: after %d more ticks n=%d fired=%d, want 1\n",
				s.lifetime, s.ticksAfter, n, fired)
		}
	}
}

// Split-budget cascade case: 308 needs 308, then 8 (still 0), then 56
// more before it fires.
func TestThreeLevelsCascadeSplitBudget(t *testing.T) {
	w := mustNew(t, Config{Levels: 3, BucketsPerLevelLog2: 5, GranularityPerLevelLog2: 3})
	var fired int
	var tm Timer
	tm.InitTimer(countingCallback(&fired))
	w.Schedule(308, &tm)

	if n := w.TickMany(308); n != 0 {
		t.Fatalf("fired too early: n=%d\n", n)
	}
	if n := w.TickMany(8); n != 0 {
		t.Fatalf("fired too early (second window): n=%d\n", n)
	}
	if n := w.TickMany(56); n != 1 || fired != 1 {
		t.Fatalf("did not fire in final window: n=%d fired=%d\n", n, fired)
	}
}

// A callback that reschedules itself produces a periodic signal and
// never loops unboundedly within a single tick.
func TestReentrantReschedule(t *testing.T) {
	w := mustNew(t, Config{Levels: 2, BucketsPerLevelLog2: 4, GranularityPerLevelLog2: 3})
	const period = 3
	fireTicks := []uint64{}
	var tm Timer
	tm.InitTimer(func(t *Timer) {
		fireTicks = append(fireTicks, w.Now())
		w.Schedule(period, t)
	})
	w.Schedule(period, &tm)

	for i := 0; i < 50; i++ {
		w.Tick()
	}
	if len(fireTicks) < 10 {
		t.Fatalf("periodic timer fired only %d times in 50 ticks\n", len(fireTicks))
	}
	for i := 1; i < len(fireTicks); i++ {
		gap := fireTicks[i] - fireTicks[i-1]
		if gap != period {
			t.Fatalf("fire %d..%d gap %d, want exactly period %d\n",
				i-1, i, gap, period)
		}
	}
}

// Bounded expiry: 100 timers at lifetime 1; TickWithLimit(10) fires
// exactly 10 and carries the rest to the next tick's level-0 bucket.
func TestBoundedExpiryCarriesRemainder(t *testing.T) {
	w := mustNew(t, Config{Levels: 2, BucketsPerLevelLog2: 6, GranularityPerLevelLog2: 4})
	var fired int
	timers := make([]Timer, 100)
	for i := range timers {
		timers[i].InitTimer(countingCallback(&fired))
		w.Schedule(1, &timers[i])
	}
	// lifetime 1 lands one tick out from Now(); prime the wheel past the
	// empty slot it started on before the populated bucket comes due.
	if n := w.Tick(); n != 0 || fired != 0 {
		t.Fatalf("priming tick: n=%d fired=%d, want 0/0\n", n, fired)
	}
	if n := w.TickWithLimit(10); n != 10 || fired != 10 {
		t.Fatalf("first limited tick: n=%d fired=%d, want 10\n", n, fired)
	}
	if n := w.Tick(); n != 90 || fired != 100 {
		t.Fatalf("carried remainder: n=%d fired=%d, want 90/100\n", n, fired)
	}
}

// A callback cancelling a sibling in the same bucket prevents that
// sibling from firing this tick.
func TestCancelInsideCallback(t *testing.T) {
	w := mustNew(t, Config{Levels: 1, BucketsPerLevelLog2: 5, GranularityPerLevelLog2: 3})
	var firedA, firedB int
	var a, b Timer
	b.InitTimer(countingCallback(&firedB))
	a.InitTimer(func(t *Timer) {
		firedA++
		b.Cancel()
	})
	w.Schedule(3, &a)
	w.Schedule(3, &b)

	if n := w.TickMany(4); n != 1 || firedA != 1 || firedB != 0 {
		t.Fatalf("n=%d firedA=%d firedB=%d, want 1/1/0\n", n, firedA, firedB)
	}
}

func TestTickManyWithLimitCumulativeCap(t *testing.T) {
	w := mustNew(t, Config{Levels: 1, BucketsPerLevelLog2: 6, GranularityPerLevelLog2: 4})
	var fired int
	timers := make([]Timer, 20)
	for i := range timers {
		timers[i].InitTimer(countingCallback(&fired))
		w.Schedule(1, &timers[i])
	}
	n := w.TickManyWithLimit(5, 7)
	if n != 7 || fired != 7 {
		t.Fatalf("TickManyWithLimit(5,7): n=%d fired=%d, want 7\n", n, fired)
	}
	// the remaining 13 are carried forward tick by tick.
	if rest := w.TickMany(20); rest != 13 {
		t.Fatalf("remaining timers after cap: got %d want 13\n", rest)
	}
}

func TestScheduleRejectsNilCallback(t *testing.T) {
	w := mustNew(t, Config{Levels: 1, BucketsPerLevelLog2: 5, GranularityPerLevelLog2: 3})
	var tm Timer
	tm.initNode()
	if err := w.Schedule(5, &tm); err != ErrNilCallback {
		t.Fatalf("Schedule with nil callback = %v, want ErrNilCallback\n", err)
	}
}

func TestScheduleRejectsHeadTimer(t *testing.T) {
	w := mustNew(t, Config{Levels: 1, BucketsPerLevelLog2: 5, GranularityPerLevelLog2: 3})
	var head Timer
	initHead(&head)
	if err := w.Schedule(5, &head); err != ErrInvalidTimer {
		t.Fatalf("Schedule on a list head = %v, want ErrInvalidTimer\n", err)
	}
	if err := head.InitTimer(countingCallback(new(int))); err != ErrInvalidTimer {
		t.Fatalf("InitTimer on a list head = %v, want ErrInvalidTimer\n", err)
	}
}

func TestMaxLifetimeFormula(t *testing.T) {
	w := mustNew(t, Config{Levels: 3, BucketsPerLevelLog2: 5, GranularityPerLevelLog2: 3})
	// (31 << 6) - (1 << 6) = 1984 - 64 = 1920
	if w.MaxLifetime() != 1920 {
		t.Fatalf("MaxLifetime() = %d, want 1920\n", w.MaxLifetime())
	}
}

// A scheduled timer fires exactly once; a cancelled timer never fires,
// across randomised schedule/cancel/tick interleavings.
func TestRandomizedScheduleCancelProperty(t *testing.T) {
	w := mustNew(t, Config{Levels: 4, BucketsPerLevelLog2: 4, GranularityPerLevelLog2: 2})
	const n = 500
	fireCount := make([]int, n)
	cancelled := make([]bool, n)
	timers := make([]Timer, n)
	for i := range timers {
		i := i
		timers[i].InitTimer(func(t *Timer) { fireCount[i]++ })
		lifetime := uint64(1 + (i*37)%2000)
		w.Schedule(lifetime, &timers[i])
		if i%5 == 0 {
			timers[i].Cancel()
			cancelled[i] = true
		}
	}
	w.TickMany(5000)
	for i := range timers {
		if cancelled[i] {
			if fireCount[i] != 0 {
				t.Errorf("timer %d was cancelled but fired %d times\n", i, fireCount[i])
			}
			continue
		}
		if fireCount[i] != 1 {
			t.Errorf("timer %d fired %d times, want exactly 1\n", i, fireCount[i])
		}
	}
}
