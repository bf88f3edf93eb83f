// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package driver

import (
	"sync"
	"time"

	"github.com/intuitivelabs/timestamp"
)

// Clock supplies the current time to a Ticker. The production default
// is backed by github.com/intuitivelabs/timestamp; tests inject a fake
// that derives its "now" from timestamp.Now().Add(offset) to simulate
// elapsed time without sleeping.
type Clock interface {
	Now() timestamp.TS
}

type systemClock struct{}

func (systemClock) Now() timestamp.TS { return timestamp.Now() }

// maxBadTicks bounds how many consecutive backward-time observations
// Ticker tolerates (skipping the tick, silently) before it gives up,
// logs a warning and re-anchors its
// reference point to the current clock reading.
const maxBadTicks = 10

// Ticker drives a Driver's Wheel from a real (or injected) clock,
// converting elapsed wall time into a whole number of ticks and
// carrying the remainder forward, the same way a hardware timer
// interrupt would. It tracks a reference (timestamp, tick count) pair
// so that a delayed goroutine schedule advances the wheel by however
// many ticks actually elapsed, not just one, and re-anchors that
// reference if the clock jumps backward repeatedly.
type Ticker struct {
	d            *Driver
	clock        Clock
	tickDuration time.Duration

	lastTickT timestamp.TS
	refTS     timestamp.TS
	refTicks  uint64
	badTime   int

	cancel chan struct{}
	wg     sync.WaitGroup
}

// NewTicker builds a Ticker advancing d by one tick every period of
// wall time, using the system clock.
func NewTicker(d *Driver, period time.Duration) *Ticker {
	return NewTickerWithClock(d, period, systemClock{})
}

// NewTickerWithClock is NewTicker with an injectable Clock, for tests
// that want to simulate elapsed time without sleeping.
func NewTickerWithClock(d *Driver, period time.Duration, clock Clock) *Ticker {
	return &Ticker{d: d, clock: clock, tickDuration: period}
}

// Start begins the ticker goroutine. Call Stop to end it.
func (tk *Ticker) Start() {
	tk.cancel = make(chan struct{})
	now := tk.clock.Now()
	tk.lastTickT = now
	tk.refTS = now
	tk.refTicks = tk.d.w.Now()

	tk.wg.Add(1)
	go func() {
		defer tk.wg.Done()
		t := time.NewTicker(tk.tickDuration)
		defer t.Stop()
		for {
			select {
			case <-tk.cancel:
				return
			case <-t.C:
				tk.fire()
			}
		}
	}()
}

// Stop ends the ticker goroutine and waits for it to exit. It does not
// touch the Driver's run-queue workers; call Driver.Shutdown separately.
func (tk *Ticker) Stop() {
	if tk.cancel != nil {
		close(tk.cancel)
	}
	tk.wg.Wait()
}

// fire is the periodic callback: it measures elapsed wall time since
// the last call and advances the wheel by the corresponding whole
// number of ticks, carrying any sub-tick remainder forward.
func (tk *Ticker) fire() {
	now := tk.clock.Now()
	if now.Before(tk.lastTickT) {
		tk.badTime++
		if tk.badTime > maxBadTicks {
			if WARNon() {
				WARN("re-anchoring after time going backward %d times\n", tk.badTime)
			}
			tk.lastTickT = now
			tk.refTS = now
			tk.refTicks = tk.d.w.Now()
			tk.badTime = 0
		}
		return
	}
	tk.badTime = 0

	elapsedSinceRef := now.Sub(tk.refTS)
	ticksSinceRef := tk.d.w.Now() - tk.refTicks
	expected := tk.tickDuration * time.Duration(ticksSinceRef)
	if diff := elapsedSinceRef - expected; diff > 20*tk.tickDuration || diff < -20*tk.tickDuration {
		if DBGon() {
			DBG("ticker drifted %s from expected after %d ticks,"+
				" re-anchoring\n", diff, ticksSinceRef)
		}
		tk.refTS = tk.lastTickT
		tk.refTicks = tk.d.w.Now()
	}

	since := now.Sub(tk.lastTickT)
	if since < tk.tickDuration {
		return
	}
	n := int(since / tk.tickDuration)
	rest := since % tk.tickDuration
	tk.lastTickT = now.Add(-rest)
	tk.d.Advance(n)
}
