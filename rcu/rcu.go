/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package rcu implements the three-epoch quiescent-state reclamation
// protocol of spec §4.3: per-thread deferred-free FIFOs bounded by two
// sentinel markers, a process-wide grace-period counter, and
// PassQuiescentState, invoked once per jiffy by every worker thread and
// once more at shutdown.
package rcu

import (
	"sync/atomic"

	"github.com/nabbar/tcore/futex"
)

// call is one entry in a thread's deferred-free FIFO: either a real
// callback or a sentinel marker (destruct == nil).
type call struct {
	next     *call
	destruct func()
	marker   bool
}

// Domain is the process-wide RCU state (spec §3: "Globals"). Construct
// one per process (or per test) with New.
type Domain struct {
	mu futex.Mutex

	currentGP     uint64
	finishedGP    uint64
	threadsPassed uint32
	threadsEnter  uint32
	activeThreads uint32
}

// New constructs a Domain with no active threads and GP 0.
func New() *Domain { return &Domain{} }

// Generation returns the current grace-period counter and the number of
// threads registered with the domain, for metrics/diagnostics use.
func (d *Domain) Generation() (gp uint64, activeThreads uint32) {
	d.mu.Lock()
	gp = d.currentGP
	d.mu.Unlock()
	return gp, atomic.LoadUint32(&d.activeThreads)
}

// Thread is one worker's RCU participation: its deferred-free FIFO
// delimited by two sentinel markers, and its last-observed GP.
type Thread struct {
	d *Domain

	head, tail *call
	markerCur  *call
	markerNext *call

	seenGP uint8 // low byte of the last GP this thread observed, per spec §3
}

// InitThread pushes the two initial sentinel markers and increments the
// domain's active-thread count (spec §4.3 "Thread init").
func (d *Domain) InitThread() *Thread {
	cur := &call{marker: true}
	next := &call{marker: true}
	cur.next = next

	t := &Thread{d: d, head: cur, tail: next, markerCur: cur, markerNext: next}
	atomic.AddUint32(&d.activeThreads, 1)
	return t
}

// hasPendingWork reports whether this thread's FIFO holds anything
// besides the two sentinel markers (spec §4.3: "list has more than the
// two sentinels"). Checking list contents directly, rather than
// comparing head against markerNext by pointer identity, matters: right
// after any rotation head is reset to the freshly-promoted markerCur,
// which is always a distinct heap object from markerNext, so that
// comparison alone is trivially true forever and never reflects whether
// there is real work left to drain.
func (t *Thread) hasPendingWork() bool {
	return t.markerCur.next != t.markerNext || t.markerNext.next != nil
}

// FiniThread notes this thread's quiescent state one last time and
// decrements the active-thread count. The caller must ensure the FIFO
// holds nothing but the two sentinel markers (panics otherwise, matching
// the source's debug assertion — spec §9 preserves assertions as panics).
func (t *Thread) FiniThread() {
	t.PassQuiescentState()

	if t.hasPendingWork() {
		panic("rcu: FiniThread called with a non-empty deferred-free list")
	}

	atomic.AddUint32(&t.d.activeThreads, ^uint32(0))
}

// Defer enqueues destruct to run no earlier than the start of the grace
// period two generations after the one in progress when Defer is called
// (spec §4.3 invariant).
func (t *Thread) Defer(destruct func()) {
	c := &call{destruct: destruct}
	t.tail.next = c
	t.tail = c
}

// executeUpTo runs destructors from head up to (not including) stop,
// popping each as it runs.
func (t *Thread) executeUpTo(stop *call) {
	for t.head != stop {
		c := t.head
		t.head = c.next
		if !c.marker && c.destruct != nil {
			c.destruct()
		}
	}
}

// PassQuiescentState advances this thread through as much of the GP
// protocol as is currently possible (spec §4.3):
//  1. execute everything up to markerCur
//  2. while behind the current GP, or first to finish it, rotate the
//     sentinel markers one slot further and execute what that promotes
func (t *Thread) PassQuiescentState() {
	t.executeUpTo(t.markerCur)

	for {
		d := t.d
		d.mu.Lock()
		curGP := d.currentGP
		finished := d.finishedGP == curGP && t.hasPendingWork()
		behind := uint64(t.seenGP) != curGP&0xff

		if !behind && !finished {
			d.mu.Unlock()
			return
		}

		if behind {
			t.seenGP = uint8(curGP & 0xff)
			if atomic.AddUint32(&d.threadsPassed, 1) == d.threadsEnter {
				d.finishedGP = curGP
			}
		} else {
			d.currentGP++
			d.threadsEnter = atomic.LoadUint32(&d.activeThreads)
			d.threadsPassed = 1
			t.seenGP = uint8(d.currentGP & 0xff)
			if d.threadsPassed == d.threadsEnter {
				// Sole active thread: it both starts and passes this GP
				// in the same step, so it also finishes it immediately.
				d.finishedGP = d.currentGP
			}
		}
		d.mu.Unlock()

		// Pop markerCur, push it to the tail, and promote markerNext to
		// be the new markerCur: the calls that were "this GP" become
		// "before last GP" and are now safe to execute.
		t.head = t.markerCur.next
		t.markerCur.next = nil
		t.tail.next = t.markerCur
		t.tail = t.markerCur

		newCur := t.markerNext
		t.markerNext = t.markerCur
		t.markerCur = newCur

		t.executeUpTo(t.markerCur)
	}
}
