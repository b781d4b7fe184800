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

package task

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Priority is the scheduler queue key; lower runs more often (spec §4.2).
type Priority uint8

const (
	PriorityHighest Priority = 0
	PriorityDefault Priority = 4
	PriorityLowest  Priority = 15
)

// Slice is the capability every concrete task kind supplies: one
// uninterrupted, cooperative unit of work run on threadIdx. Modeled as a
// capability record (function value) rather than a tagged variant, per
// spec §9's extensibility note.
type Slice func(threadIdx int)

// Destruct runs once, under RCU, after the task is hard/soft terminated
// and is no longer Queued/Running. It is the deferred-free callback.
type Destruct func()

// OnRunnable is the scheduler's requeue capability. Installed once when
// a task is registered with a scheduler (package sched), it is invoked
// by whoever ends the task's current parked state — most notably the
// timer wheel firing a ticket — to hand the task back to its scheduler
// queue. Modeled as a capability record for the same reason as Slice:
// it lets package timer drive a task back to runnable without
// importing package sched.
type OnRunnable func()

// Ticket is the non-owning view a Base keeps of its timer wheel slot;
// defined here to avoid an import cycle with package timer, which owns
// the real ticket type and only needs to satisfy this shape.
type Ticket interface {
	Cancel()
}

// Base is embedded by every task kind. Its fields are only ever mutated
// by whoever currently owns the task: the scheduler while
// Queued|Running, the timer wheel while OnTimer, otherwise the creator;
// RCU owns it between hard-termination and the actual free (spec §3).
type Base struct {
	Flags Flags

	priority   uint32 // Priority, atomic so rebalance can read it lock-free
	lastThread int32  // last-ran thread index, -1 if never run

	id uuid.UUID

	slice    Slice
	destruct Destruct
	ticket   Ticket
	runnable OnRunnable

	ctxStack []string // diagnostic-context pointer stack, owner-thread-only

	// RCUNext links this task into a thread's deferred-free FIFO; owned
	// exclusively by package rcu once the task has been handed off.
	RCUNext *Base

	// SchedNext links this task into a scheduler priority queue; owned
	// exclusively by package sched while Queued is set.
	SchedNext *Base
}

// NewBase constructs a task with the given priority and slice capability.
func NewBase(prio Priority, slice Slice) *Base {
	return &Base{
		priority:   uint32(prio),
		lastThread: -1,
		id:         uuid.New(),
		slice:      slice,
	}
}

// ID is a stable identifier for logging/diagnostics.
func (b *Base) ID() uuid.UUID { return b.id }

// Priority returns the current queue priority.
func (b *Base) Priority() Priority { return Priority(atomic.LoadUint32(&b.priority)) }

// SetPriority changes the queue priority; takes effect on the task's next
// placement, not retroactively on a queue it is already sitting in.
func (b *Base) SetPriority(p Priority) { atomic.StoreUint32(&b.priority, uint32(p)) }

// LastThread returns the index of the thread that last ran a slice of
// this task, or -1 if it has never run.
func (b *Base) LastThread() int { return int(atomic.LoadInt32(&b.lastThread)) }

// SetLastThread records the thread that is about to run (or just ran) a
// slice; called by the scheduler under the task-execution protocol.
func (b *Base) SetLastThread(idx int) { atomic.StoreInt32(&b.lastThread, int32(idx)) }

// ExecuteSlice invokes the task's capability. Panics from a slice are the
// caller's (scheduler's) problem to observe, not this package's.
func (b *Base) ExecuteSlice(threadIdx int) {
	if b.slice != nil {
		b.slice(threadIdx)
	}
}

// SetSlice installs or replaces the task's execute capability. Most
// concrete task kinds supply it once through NewBase, but some (e.g. a
// socket Conn, whose factory only has the fd and thread index at
// construction time) need to bind the closure afterward, once the
// surrounding object they close over exists.
func (b *Base) SetSlice(s Slice) { b.slice = s }

// SetDestruct registers the deferred-free callback run once by RCU.
func (b *Base) SetDestruct(d Destruct) { b.destruct = d }

// RunDestruct invokes the deferred-free callback; called by package rcu
// exactly once per task, never concurrently with anything else touching
// this Base.
func (b *Base) RunDestruct() {
	if b.destruct != nil {
		b.destruct()
	}
}

// Ticket returns the task's timer-wheel back-reference, or nil.
func (b *Base) Ticket() Ticket { return b.ticket }

// SetTicket stores the non-owning back-reference; the timer wheel is the
// sole owner of the slot itself (spec §9, breaking the ticket<->task
// ownership cycle).
func (b *Base) SetTicket(t Ticket) { b.ticket = t }

// SetRunnable installs the scheduler's requeue capability.
func (b *Base) SetRunnable(f OnRunnable) { b.runnable = f }

// MakeRunnable clears OnTimer (a task's ticket does not outlive its own
// fire) and invokes the scheduler's requeue capability, if any. Called
// by the timer wheel when a ticket fires, and safe to call from the
// service thread while worker threads run other slices of the same
// task's siblings concurrently.
func (b *Base) MakeRunnable() {
	b.Flags.Clear(OnTimer)
	if b.runnable != nil {
		b.runnable()
	}
}

// PushContext pushes a diagnostic-context id (e.g. a per-request UUID)
// for nested request tracing. Only ever called by the thread currently
// executing this task's slice, so no locking is required.
func (b *Base) PushContext(id string) { b.ctxStack = append(b.ctxStack, id) }

// PopContext pops the most recently pushed diagnostic-context id.
func (b *Base) PopContext() {
	if n := len(b.ctxStack); n > 0 {
		b.ctxStack = b.ctxStack[:n-1]
	}
}

// CurrentContext returns the innermost diagnostic-context id, or "" if
// the stack is empty.
func (b *Base) CurrentContext() string {
	if n := len(b.ctxStack); n > 0 {
		return b.ctxStack[n-1]
	}
	return ""
}

// Terminate ORs NeedTermination (soft, default) or Terminated (hard) into
// the flag word. Returns true if the task is immediately eligible for
// deferred free (not Running, not Queued).
func (b *Base) Terminate(hard bool) (eligibleForFree bool) {
	bit := NeedTermination
	if hard {
		bit = Terminated
	}
	b.Flags.Set(bit)
	v := b.Flags.Load()
	return v&uint32(Running) == 0 && v&uint32(Queued) == 0
}
