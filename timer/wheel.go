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

// Package timer implements the hierarchical timer wheel of spec §4.4: a
// low wheel of 256 one-second slots and two 32-slot mid wheels at
// granularities of 256s and 8192s, shifting down as the low wheel wraps.
// A task has at most one ticket at a time; OnTimer holds iff a ticket is
// present, and the ticket is the sole owner of its slot — the task keeps
// only a non-owning back-reference (spec §9, breaking the ticket<->task
// ownership cycle the original source has via raw pointers).
package timer

import (
	"github.com/nabbar/tcore/futex"
	"github.com/nabbar/tcore/task"
)

const (
	lowSlots  = 256
	midSlots  = 32
	mid1Scale = 1 << 8  // 256s per mid1 slot
	mid2Scale = 1 << 13 // 8192s per mid2 slot
)

// Ticket is the intrusive, doubly-linked, auto-unlinking wheel slot
// entry. It satisfies task.Ticket (Cancel), and is the sole owner of its
// position in a slot's list.
type Ticket struct {
	wheel   *Wheel
	task    *task.Base
	fireSec uint64

	slot       *slot
	prev, next *Ticket
}

// Cancel removes the ticket from its wheel slot and clears OnTimer,
// without making the task runnable. Idempotent.
func (t *Ticket) Cancel() {
	w := t.wheel
	w.mu.Lock()
	t.unlink()
	w.mu.Unlock()
	t.task.Flags.Clear(task.OnTimer)
	t.task.SetTicket(nil)
}

func (t *Ticket) unlink() {
	if t.slot == nil {
		return
	}
	if t.prev != nil {
		t.prev.next = t.next
	} else {
		t.slot.head = t.next
	}
	if t.next != nil {
		t.next.prev = t.prev
	}
	t.slot = nil
	t.prev, t.next = nil, nil
}

type slot struct {
	head *Ticket
}

// Wheel is the process-wide timer state: one mini-mutex, held only
// briefly (spec §5 concurrency model), guarding three slot arrays and
// the fired-up-to second counter.
type Wheel struct {
	mu futex.Mutex

	low  [lowSlots]slot
	mid1 [midSlots]slot
	mid2 [midSlots]slot

	lastFired uint64
}

// New constructs a Wheel with lastFired set to startSec, the second from
// which firing will begin catching up on the first Advance call.
func New(startSec uint64) *Wheel {
	return &Wheel{lastFired: startSec}
}

// LastFired returns the last second the wheel has caught up to.
func (w *Wheel) LastFired() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastFired
}

// RunAfter arranges for t to become runnable no sooner than delaySec
// seconds from now (now being the wheel's last-fired second), and no
// later than one wheel tick after that. If t already has a ticket, it is
// cancelled and replaced (spec §4.4: "a task has at most one ticket").
func (w *Wheel) RunAfter(t *task.Base, delaySec uint64) *Ticket {
	if old := t.Ticket(); old != nil {
		if tk, ok := old.(*Ticket); ok {
			tk.Cancel()
		}
	}

	w.mu.Lock()
	fire := w.lastFired + delaySec
	tk := &Ticket{wheel: w, task: t, fireSec: fire}
	w.linkLocked(tk)
	w.mu.Unlock()

	t.Flags.Set(task.OnTimer)
	t.SetTicket(tk)
	return tk
}

// linkLocked places tk into the slot matching its fire time relative to
// the wheel's current second, choosing the coarsest wheel that still
// fits it to bound the number of re-cascades before it fires (classic
// hierarchical timing wheel placement).
func (w *Wheel) linkLocked(tk *Ticket) {
	delta := tk.fireSec - w.lastFired
	var s *slot
	switch {
	case delta < lowSlots:
		s = &w.low[(w.lastFired+delta)%lowSlots]
	case delta < mid1Scale*midSlots:
		idx := (tk.fireSec / mid1Scale) % midSlots
		s = &w.mid1[idx]
	default:
		idx := (tk.fireSec / mid2Scale) % midSlots
		s = &w.mid2[idx]
	}
	tk.slot = s
	tk.next = s.head
	if s.head != nil {
		s.head.prev = tk
	}
	s.head = tk
}

// Advance fires every ticket whose fireSec has been reached, catching up
// second-by-second from the wheel's last-fired time to nowSec, cascading
// mid-wheel slots into the low wheel as the low wheel wraps (spec §4.4:
// "shifts the mid wheels if the low wheel just wrapped").
func (w *Wheel) Advance(nowSec uint64) {
	w.mu.Lock()
	for w.lastFired < nowSec {
		w.lastFired++
		if w.lastFired%lowSlots == 0 {
			w.cascadeLocked()
		}
		idx := w.lastFired % lowSlots
		w.fireSlotLocked(&w.low[idx])
	}
	w.mu.Unlock()
}

// cascadeLocked moves every ticket due within the next low-wheel cycle
// out of the mid wheels and re-links it into the low wheel.
func (w *Wheel) cascadeLocked() {
	midIdx := (w.lastFired / mid1Scale) % midSlots
	w.drainInto(&w.mid1[midIdx])

	if midIdx == 0 {
		mid2Idx := (w.lastFired / mid2Scale) % midSlots
		w.drainInto(&w.mid2[mid2Idx])
	}
}

// drainInto unlinks every ticket from s and re-links each at its proper
// level given the now-current lastFired second.
func (w *Wheel) drainInto(s *slot) {
	tk := s.head
	s.head = nil
	for tk != nil {
		next := tk.next
		tk.prev, tk.next, tk.slot = nil, nil, nil
		w.linkLocked(tk)
		tk = next
	}
}

// fireSlotLocked clears every ticket in s, making each owner task
// runnable, regardless of whether fireSec has strictly been reached —
// everything in the low wheel's current slot is due by construction.
func (w *Wheel) fireSlotLocked(s *slot) {
	tk := s.head
	s.head = nil
	for tk != nil {
		next := tk.next
		tk.prev, tk.next, tk.slot = nil, nil, nil
		t := tk.task
		w.mu.Unlock()
		t.SetTicket(nil)
		t.MakeRunnable()
		w.mu.Lock()
		tk = next
	}
}

// FireAll immediately fires every pending ticket across all three
// wheels, used during shutdown (spec §4.4: "on shutdown, every ticket
// fires immediately").
func (w *Wheel) FireAll() {
	w.mu.Lock()
	slots := make([]*slot, 0, lowSlots+2*midSlots)
	for i := range w.low {
		slots = append(slots, &w.low[i])
	}
	for i := range w.mid1 {
		slots = append(slots, &w.mid1[i])
	}
	for i := range w.mid2 {
		slots = append(slots, &w.mid2[i])
	}
	for _, s := range slots {
		w.fireSlotLocked(s)
	}
	w.mu.Unlock()
}
