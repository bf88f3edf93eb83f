// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package driver wraps a *htwheel.Wheel with the concurrency and
// wall-clock machinery the core deliberately leaves out: a mutex
// guarding the single-owner wheel, a ticker goroutine advancing it off
// real time, and a small worker pool for callbacks that shouldn't run
// on the tick goroutine itself.
package driver

import (
	"sync"

	"github.com/htwheel/htwheel"
)

// DispatchMode selects where a timer's callback runs once it expires.
type DispatchMode int

const (
	// Inline runs the callback synchronously on the tick goroutine,
	// under the Driver's lock. Use only for callbacks that are cheap
	// and never call back into the Driver (Schedule/Cancel from an
	// Inline callback on the same Driver deadlocks).
	Inline DispatchMode = iota
	// Queued hands the callback to a worker-pool goroutine, off the
	// tick path. This is the default for anything that does real work.
	Queued
)

const (
	runQueueWorkers = 8 // worker goroutines draining rQch
	runQueueDepth   = runQueueWorkers * 4
)

// Driver makes a Wheel safe for concurrent Schedule/Cancel calls and
// drives it from a ticker goroutine. The zero value is not usable; use
// New.
type Driver struct {
	mu sync.Mutex
	w  *htwheel.Wheel

	rQch chan func()
	done chan struct{}
	wg   sync.WaitGroup

	running bool
}

// New wraps w. w must not be driven or touched directly by any other
// caller once passed here.
func New(w *htwheel.Wheel) *Driver {
	return &Driver{w: w}
}

// Start launches the run-queue workers. Callers that only need
// Inline dispatch may skip Start and call Schedule/Cancel/Advance
// directly; without Start there is no run-queue, so each Queued
// callback runs in a goroutine of its own when its timer fires.
func (d *Driver) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.rQch = make(chan func(), runQueueDepth)
	d.done = make(chan struct{})
	for i := 0; i < runQueueWorkers; i++ {
		d.wg.Add(1)
		go d.runqListen()
	}
}

// Shutdown stops the run-queue workers and waits for in-flight jobs to
// finish. It does not stop a Ticker started against this Driver; stop
// the Ticker first.
func (d *Driver) Shutdown() {
	d.mu.Lock()
	running := d.running
	d.running = false
	d.mu.Unlock()
	if !running {
		return
	}
	close(d.done)
	d.wg.Wait()
}

func (d *Driver) runqListen() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case job := <-d.rQch:
			job()
		}
	}
}

// wrap adapts a Callback so Queued timers hand off to the run-queue
// instead of running on the tick goroutine. If the run-queue is full,
// the job runs in its own goroutine rather than stall the tick.
func (d *Driver) wrap(mode DispatchMode, cb htwheel.Callback) htwheel.Callback {
	if mode == Inline {
		return cb
	}
	return func(t *htwheel.Timer) {
		job := func() { cb(t) }
		select {
		case d.rQch <- job:
		default:
			go job()
		}
	}
}

// NewTimer prepares a timer bound to cb, dispatched according to mode.
// The returned Timer is passed to Schedule/Cancel like any other.
func (d *Driver) NewTimer(mode DispatchMode, cb htwheel.Callback) (*htwheel.Timer, error) {
	t := &htwheel.Timer{}
	if err := t.InitTimer(d.wrap(mode, cb)); err != nil {
		return nil, err
	}
	return t, nil
}

// Schedule arms t to fire no earlier than lifetime ticks from now.
func (d *Driver) Schedule(lifetime uint64, t *htwheel.Timer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.w.Schedule(lifetime, t)
}

// Cancel unlinks t. Safe to call concurrently with ticking.
func (d *Driver) Cancel(t *htwheel.Timer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t.Cancel()
}

// ScheduleRepeating arms a new timer that re-arms itself for another
// `every` ticks immediately after cb runs, giving periodic firing
// without changing the core's one-shot Schedule contract. Cancel the
// returned Timer to stop the series; a Cancel racing with an in-flight
// Queued firing may let one more invocation through, same as any
// cancel-vs-fire race.
func (d *Driver) ScheduleRepeating(every uint64, mode DispatchMode, cb htwheel.Callback) (*htwheel.Timer, error) {
	rearm := func(tm *htwheel.Timer) {
		cb(tm)
		if mode == Inline {
			// already running under d.mu from Advance; locking again
			// here would deadlock.
			d.w.Schedule(every, tm)
			return
		}
		d.mu.Lock()
		d.w.Schedule(every, tm)
		d.mu.Unlock()
	}
	t, err := d.NewTimer(mode, rearm)
	if err != nil {
		return nil, err
	}
	if err := d.Schedule(every, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Advance runs n ticks of the underlying wheel under the Driver's lock.
// Ticker calls this off real time; tests and callers that drive the
// wheel manually (no wall clock involved) can call it directly.
func (d *Driver) Advance(n int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	fired := 0
	for i := 0; i < n; i++ {
		fired += d.w.Tick()
	}
	return fired
}
