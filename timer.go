// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package htwheel

// Callback is invoked when a Timer expires. It receives the Timer itself
// so the caller can recover its enclosing record: the caller embeds a
// Timer in its own struct and recovers that struct from the pointer via
// whatever back-reference convention it prefers (an offset computation,
// an embedded parent pointer, or a side map).
type Callback func(t *Timer)

// sentinel level values: no atomic packing here, since a Wheel is owned
// and driven by a single caller at a time, so plain ints are enough.
const (
	levelNone = -1 // not scheduled
	levelHead = -2 // this Timer is a bucket (or run-local) list head
)

const noSlot = -1

// flags for a Timer, debug/bookkeeping only.
const (
	fHead = 1 << iota // this Timer is a list head, not a real entry
)

// Timer is both the intrusive list node and the public timer handle. It
// has no separate allocation: the caller embeds it (or points to it) in
// their own record and passes that same pointer to Schedule. The wheel
// itself allocates Timers only for its bucket heads; it never allocates
// or frees user timers.
type Timer struct {
	next, prev *Timer

	// bookkeeping for debug assertions only; not required for
	// correctness since Cancel never needs to know which bucket it is
	// in (unlink is a pure pointer splice).
	level int
	slot  int
	flags uint8

	f Callback
}

// initNode turns t into a self-looped (unlinked) node.
func (t *Timer) initNode() {
	t.next = t
	t.prev = t
	t.level = levelNone
	t.slot = noSlot
}

// Detached reports whether t is currently unlinked (not a member of any
// bucket's list).
func (t *Timer) Detached() bool {
	return t == t.next || (t.next == nil && t.prev == nil)
}

// Scheduled reports whether t is currently linked into a bucket.
func (t *Timer) Scheduled() bool {
	return !t.Detached()
}

// Cancel unlinks t from whatever bucket it is currently in and
// re-initialises it to a self-loop. It is always O(1), safe to call from
// inside the expiring callback (the drain step has already unlinked t by
// the time the callback runs), and a no-op on an already-cancelled or
// never-scheduled timer.
func (t *Timer) Cancel() {
	unlink(t)
}

// --- intrusive doubly-linked list -------------------------------------
//
// A list's head is itself a *Timer (flags&fHead set, level==levelHead);
// the list is empty iff head.next == head. Timers embed no separate node
// type: membership in a bucket is a splice of the Timer pointer itself.

// initHead turns t into an empty list head.
func initHead(t *Timer) {
	t.initNode()
	t.level = levelHead
	t.flags |= fHead
}

// isEmpty reports whether the list headed by h is empty.
func isEmpty(h *Timer) bool {
	return h.next == h
}

// appendNode inserts n immediately before h (at the tail of the list
// headed by h), giving FIFO firing order when the list is later drained
// from the head.
func appendNode(h, n *Timer) {
	assertLinked(h)
	if !n.Detached() {
		BUG("append called on a linked timer %p (level %d slot %d)\n",
			n, n.level, n.slot)
	}
	n.prev = h.prev
	n.next = h
	h.prev.next = n
	h.prev = n
	n.level, n.slot = h.level, h.slot
}

// prependNode inserts n immediately after h (at the head of the list
// headed by h).
func prependNode(h, n *Timer) {
	assertLinked(h)
	if !n.Detached() {
		BUG("prepend called on a linked timer %p (level %d slot %d)\n",
			n, n.level, n.slot)
	}
	n.prev = h
	n.next = h.next
	h.next.prev = n
	h.next = n
	n.level, n.slot = h.level, h.slot
}

// unlink splices n out of whatever list it is in and re-initialises it
// to a self-loop. It is a no-op if n is already detached.
func unlink(n *Timer) {
	if n.Detached() {
		return
	}
	assertLinked(n)
	n.prev.next = n.next
	n.next.prev = n.prev
	n.initNode()
}

// spliceAfter detaches the entire chain headed by src (if non-empty) and
// inserts it immediately after dst, leaving src empty. Used to drain a
// bucket into a scratch "to expire" list in one O(1) splice.
func spliceAfter(src, dst *Timer) {
	if isEmpty(src) {
		return
	}
	first := src.next
	last := src.prev

	first.prev = dst
	last.next = dst.next
	dst.next.prev = last
	dst.next = first

	relabel(first, last, dst)
	initHead(src)
}

// spliceBefore is the symmetric counterpart of spliceAfter: it inserts
// the chain headed by src immediately before dst, leaving src empty.
func spliceBefore(src, dst *Timer) {
	if isEmpty(src) {
		return
	}
	first := src.next
	last := src.prev

	last.next = dst
	first.prev = dst.prev
	dst.prev.next = first
	dst.prev = last

	relabel(first, last, dst)
	initHead(src)
}

// relabel stamps every node from first to last (inclusive, following
// .next) with the level/slot of whatever list dst belongs to, so debug
// assertions on later unlink/append calls stay accurate after a splice.
func relabel(first, last, dst *Timer) {
	for v := first; ; v = v.next {
		v.level, v.slot = dst.level, dst.slot
		if v == last {
			break
		}
	}
}

// assertLinked is a debug-build invariant check: a node's neighbors must
// actually point back at it.
func assertLinked(n *Timer) {
	if n.next.prev != n || n.prev.next != n {
		PANIC("corrupt list around %p: next=%p next.prev=%p"+
			" prev=%p prev.next=%p\n",
			n, n.next, n.next.prev, n.prev, n.prev.next)
	}
}
