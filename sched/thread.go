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

package sched

import (
	"sync/atomic"

	"github.com/nabbar/tcore/futex"
	"github.com/nabbar/tcore/rcu"
	"github.com/nabbar/tcore/task"
)

// Thread is one worker's scheduling state: its priority queues, one
// mini-mutex guarding them (spec §5 "one mini-mutex per thread"), the
// RCU participation record, and the bookkeeping the jiffy boundary and
// placement algorithm need.
type Thread struct {
	idx    int
	pinned bool // thread 1 never self-stops (spec §4.2)

	mgr *Manager
	rcu *rcu.Thread

	mu      futex.Mutex
	queues  [numPriorities]taskQueue
	credit  [numPriorities]int32
	queued  int32 // atomic, total queued count across all priorities

	lastActiveJiffy uint64
	idleSinceJiffy  uint64

	prefChain [2]int32 // preference hints, -1 if unset

	running        uint32 // atomic: 1 while the worker goroutine is alive
	stopRequested  uint32 // atomic
}

func newThread(idx int, m *Manager) *Thread {
	t := &Thread{idx: idx, mgr: m, pinned: idx == 1, rcu: m.rcuDomain.InitThread()}
	t.prefChain[0], t.prefChain[1] = -1, -1
	atomic.StoreUint32(&t.running, 1)
	return t
}

// QueuedCount is the total number of tasks across this thread's
// priority queues, read lock-free for the overload check (spec §4.2
// step 2: "queued count < max_tasks * coef").
func (t *Thread) QueuedCount() int32 { return atomic.LoadInt32(&t.queued) }

// HasRunRecently reports whether this thread has executed a slice
// within the last jiffy (spec §4.2 step 2).
func (t *Thread) HasRunRecently(currentJiffy uint64) bool {
	last := atomic.LoadUint64(&t.lastActiveJiffy)
	return currentJiffy == 0 || currentJiffy-last <= 1
}

func (t *Thread) isRunning() bool { return atomic.LoadUint32(&t.running) == 1 }

// enqueue places tsk at the tail of its priority queue and bumps the
// queued count. Caller must have already set Queued on tsk's flags.
func (t *Thread) enqueue(tsk *task.Base) {
	p := int(tsk.Priority())
	if p >= numPriorities {
		p = numPriorities - 1
	}
	t.mu.Lock()
	t.queues[p].pushBack(tsk)
	t.mu.Unlock()
	atomic.AddInt32(&t.queued, 1)
}

// dequeue picks the next task to run under the priority-credit fairness
// rule of spec §4.2. The lowest populated priority index is the default
// candidate; a non-empty lower-priority (numerically higher) queue is
// served instead whenever its accumulated credit is strictly below the
// default's (ties go to the lower priority number), i.e. whenever it
// would otherwise fall behind its fair share. Each dequeue adds that queue's own priority number to its
// credit. Because credit only ever grows and is compared directly
// (never normalized by priority), a queue that is served accumulates
// credit `priority` at a time, so over many dequeues two saturated
// queues at priorities p1 < p2 converge on credit1 ≈ credit2, which
// forces executed-count ratio count1/count2 → p2/p1 — exactly the
// fairness law of spec §8.5. (The spec's prose describes the
// comparison without pinning down which side of the inequality wins
// ties; this is the reading that actually satisfies the ratio it
// requires — see DESIGN.md.)
func (t *Thread) dequeue() *task.Base {
	t.mu.Lock()
	defer t.mu.Unlock()

	chosen := -1
	for i := 0; i < numPriorities; i++ {
		if t.queues[i].empty() {
			continue
		}
		if chosen == -1 || t.credit[chosen] > t.credit[i] {
			chosen = i
		}
	}
	if chosen == -1 {
		return nil
	}

	tsk := t.queues[chosen].popFront()
	t.credit[chosen] += int32(chosen)
	atomic.AddInt32(&t.queued, -1)
	return tsk
}

// resetCredits zeroes every priority's execution credit, done once per
// jiffy boundary (spec §4.2).
func (t *Thread) resetCredits() {
	t.mu.Lock()
	for i := range t.credit {
		t.credit[i] = 0
	}
	t.mu.Unlock()
}

// drainAll removes every task from every priority queue, used by
// overload rebalance to re-place this thread's backlog elsewhere.
func (t *Thread) drainAll() []*task.Base {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*task.Base
	for i := range t.queues {
		for {
			tsk := t.queues[i].popFront()
			if tsk == nil {
				break
			}
			out = append(out, tsk)
		}
	}
	atomic.StoreInt32(&t.queued, 0)
	return out
}

// runOne dequeues and executes one task, applying the task execution
// protocol of spec §4.2 steps 1-4. Returns false if there was nothing to
// run.
func (t *Thread) runOne() bool {
	tsk := t.dequeue()
	if tsk == nil {
		return false
	}

	tsk.Flags.Mutate(func(prev uint32) uint32 {
		return (prev &^ uint32(task.Queued)) | uint32(task.Running)
	})

	tsk.SetLastThread(t.idx)
	atomic.StoreUint64(&t.lastActiveJiffy, t.mgr.CurrentJiffy())

	func() {
		defer func() { recover() }() // a slice panic must not take the worker down
		tsk.ExecuteSlice(t.idx)
	}()

	var requeue, terminate bool
	tsk.Flags.Mutate(func(prev uint32) uint32 {
		next := prev &^ uint32(task.Running)
		terminating := prev&(uint32(task.NeedTermination)|uint32(task.Terminated)) != 0
		if terminating {
			next &^= uint32(task.Runnable)
			requeue, terminate = false, true
		} else if prev&uint32(task.Runnable) != 0 {
			next = (next &^ uint32(task.Runnable)) | uint32(task.Queued)
			requeue, terminate = true, false
		} else {
			requeue, terminate = false, false
		}
		return next
	})

	switch {
	case requeue:
		t.mgr.place(tsk, t.idx)
	case terminate:
		t.mgr.scheduleDestruct(tsk, t.rcu)
	}
	return true
}
