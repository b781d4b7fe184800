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
	"sync"
	"sync/atomic"

	"github.com/nabbar/tcore/clock"
	"github.com/nabbar/tcore/rcu"
	"github.com/nabbar/tcore/task"
)

// Config bounds the manager's behavior per spec §6's key table.
type Config struct {
	MaxThreads          int   // cap on simultaneous worker threads
	MaxTaskDelayMicros  int64 // target per-task latency, drives dynamic max_tasks
	IdleStopTimeoutSecs int64 // default 300
}

func (c Config) withDefaults() Config {
	if c.MaxThreads <= 0 {
		c.MaxThreads = 20
	}
	if c.MaxTaskDelayMicros <= 0 {
		c.MaxTaskDelayMicros = 2000
	}
	if c.IdleStopTimeoutSecs <= 0 {
		c.IdleStopTimeoutSecs = 300
	}
	return c
}

// Manager owns every worker thread, the overload coefficient, and the
// placement algorithm of spec §4.2.
type Manager struct {
	cfg Config

	mu      sync.Mutex // guards threads slice growth only; per-thread state has its own mini-mutex
	threads []*Thread

	rcuDomain *rcu.Domain
	jiffy     *clock.Jiffy

	overloadCoef uint32 // atomic, x1000 fixed point; starts at 1000 (coefficient 1.0)
}

// New constructs a Manager with thread 1 (the pinned worker) already
// started. Thread 0 is reserved for the caller's own "main" role and is
// not part of the worker pool (spec §5: "one main thread pinned to
// epoll... and N worker threads").
func New(cfg Config, jiffy *clock.Jiffy, domain *rcu.Domain) *Manager {
	m := &Manager{
		cfg:          cfg.withDefaults(),
		rcuDomain:    domain,
		jiffy:        jiffy,
		overloadCoef: 1000,
	}
	m.threads = append(m.threads, nil) // index 0 reserved
	m.threads = append(m.threads, newThread(1, m))
	return m
}

// CurrentJiffy exposes the shared jiffy counter to Thread.
func (m *Manager) CurrentJiffy() uint64 {
	if m.jiffy == nil {
		return 0
	}
	return m.jiffy.Current()
}

// maxTasks is the dynamic per-thread queue-depth budget: a fixed total
// work-in-flight target spread across the currently running threads, so
// system capacity stays roughly constant as threads come and go. This
// resolves an Open Question the spec leaves unstated (it only gives the
// overload *comparison*, not the formula for max_tasks itself); see
// DESIGN.md.
func (m *Manager) maxTasks() int32 {
	running := m.runningCount()
	if running < 1 {
		running = 1
	}
	budget := int32(1_000_000 / m.cfg.MaxTaskDelayMicros)
	if budget < 16 {
		budget = 16
	}
	return budget / int32(running)
}

// RunningThreads returns the number of worker threads currently alive,
// for metrics/diagnostics use.
func (m *Manager) RunningThreads() int {
	return m.runningCount()
}

func (m *Manager) runningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.threads {
		if t != nil && t.isRunning() {
			n++
		}
	}
	return n
}

func (m *Manager) threadAt(idx int) *Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx < 0 || idx >= len(m.threads) {
		return nil
	}
	return m.threads[idx]
}

func (m *Manager) threadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.threads)
}

func (m *Manager) isOverloaded(t *Thread) bool {
	coef := atomic.LoadUint32(&m.overloadCoef)
	threshold := int64(m.maxTasks()) * int64(coef) / 1000
	return int64(t.QueuedCount()) >= threshold || !t.HasRunRecently(m.CurrentJiffy())
}

// startWorker starts a new worker thread if the configured cap allows
// it. Returns the new thread, or nil if no slot is free.
func (m *Manager) startWorker() *Thread {
	m.mu.Lock()
	defer m.mu.Unlock()

	running := 0
	for _, t := range m.threads {
		if t != nil && t.isRunning() {
			running++
		}
	}
	if running >= m.cfg.MaxThreads {
		return nil
	}

	idx := len(m.threads)
	t := newThread(idx, m)
	m.threads = append(m.threads, t)
	return t
}

// Register wires tsk's scheduler requeue capability, so that anything
// which calls tsk.MakeRunnable() (most notably a firing timer ticket)
// hands the task back to this manager's placement algorithm.
func (m *Manager) Register(tsk *task.Base) {
	tsk.SetRunnable(func() { m.SetRunnable(tsk) })
}

// SetRunnable makes tsk runnable: if it is not already
// Queued/Running/OnTimer, it is placed on a thread per spec §4.2. If it
// is already OnTimer, the ticket is cancelled first (the caller is
// asking for it to run now, not at its scheduled time).
func (m *Manager) SetRunnable(tsk *task.Base) {
	for {
		prev := tsk.Flags.Load()
		if prev&(uint32(task.Queued)|uint32(task.Running)) != 0 {
			tsk.Flags.Set(task.Runnable)
			return
		}
		if prev&uint32(task.OnTimer) != 0 {
			if tk := tsk.Ticket(); tk != nil {
				tk.Cancel()
			}
			continue
		}
		break
	}

	start := tsk.LastThread()
	if start <= 0 {
		start = 1
	}
	m.place(tsk, start)
}

// place implements the five-step placement algorithm of spec §4.2,
// marking tsk Queued and physically enqueuing it on the chosen thread.
func (m *Manager) place(tsk *task.Base, startIdx int) {
	tsk.Flags.Mutate(func(prev uint32) uint32 {
		return prev | uint32(task.Queued)
	})

	for {
		if t := m.threadAt(startIdx); t != nil && t.isRunning() && !m.isOverloaded(t) {
			t.enqueue(tsk)
			m.recordPreference(startIdx, startIdx)
			tsk.SetLastThread(startIdx)
			return
		}

		if chosen := m.tryPreferenceChain(startIdx); chosen >= 0 {
			m.threadAt(chosen).enqueue(tsk)
			tsk.SetLastThread(chosen)
			return
		}

		if chosen := m.scanForNonOverloaded(); chosen >= 0 {
			m.recordPreference(startIdx, chosen)
			m.threadAt(chosen).enqueue(tsk)
			tsk.SetLastThread(chosen)
			return
		}

		if nt := m.startWorker(); nt != nil {
			m.recordPreference(startIdx, nt.idx)
			if t := m.threadAt(startIdx); t != nil && t.isRunning() {
				t.enqueue(tsk)
				tsk.SetLastThread(startIdx)
			} else {
				nt.enqueue(tsk)
				tsk.SetLastThread(nt.idx)
			}
			return
		}

		atomic.StoreUint32(&m.overloadCoef, atomic.LoadUint32(&m.overloadCoef)*2)
	}
}

func (m *Manager) tryPreferenceChain(startIdx int) int {
	t := m.threadAt(startIdx)
	if t == nil {
		return -1
	}
	for _, hop := range t.prefChain {
		if hop < 0 {
			continue
		}
		if pt := m.threadAt(int(hop)); pt != nil && pt.isRunning() && !m.isOverloaded(pt) {
			return int(hop)
		}
	}
	return -1
}

func (m *Manager) scanForNonOverloaded() int {
	n := m.threadCount()
	for i := 1; i < n; i++ {
		if t := m.threadAt(i); t != nil && t.isRunning() && !m.isOverloaded(t) {
			return i
		}
	}
	return -1
}

func (m *Manager) recordPreference(startIdx, chosen int) {
	t := m.threadAt(startIdx)
	if t == nil {
		return
	}
	t.prefChain[1] = t.prefChain[0]
	t.prefChain[0] = int32(chosen)
}

// Terminate ORs NeedTermination (or Terminated if hard) into tsk's
// flags; if it is immediately eligible (not Running, not Queued), its
// destructor is scheduled through RCU right away.
func (m *Manager) Terminate(tsk *task.Base, hard bool) {
	eligible := tsk.Terminate(hard)
	if eligible {
		if idx := tsk.LastThread(); idx >= 1 {
			if t := m.threadAt(idx); t != nil {
				m.scheduleDestruct(tsk, t.rcu)
				return
			}
		}
		if t := m.threadAt(1); t != nil {
			m.scheduleDestruct(tsk, t.rcu)
		}
	}
}

func (m *Manager) scheduleDestruct(tsk *task.Base, r *rcu.Thread) {
	r.Defer(tsk.RunDestruct)
}

// JiffyBoundary runs the per-worker-thread top-of-loop bookkeeping of
// spec §4.2: reset execution credits, recompute max_tasks (implicit,
// since maxTasks() is derived live), pass this thread's RCU quiescent
// state, rebalance if overloaded, and request a stop if idle too long.
func (m *Manager) JiffyBoundary(idx int) {
	t := m.threadAt(idx)
	if t == nil {
		return
	}

	t.resetCredits()
	t.rcu.PassQuiescentState()

	if m.isOverloaded(t) {
		m.rebalance(t)
	} else if t.QueuedCount() == 0 {
		m.checkIdle(t)
	} else {
		atomic.StoreUint64(&t.idleSinceJiffy, 0)
	}
}

func (m *Manager) rebalance(t *Thread) {
	backlog := t.drainAll()
	for _, tsk := range backlog {
		tsk.Flags.Mutate(func(prev uint32) uint32 {
			return prev &^ uint32(task.Queued)
		})
		m.place(tsk, t.idx)
	}
}

func (m *Manager) checkIdle(t *Thread) {
	if t.pinned {
		return
	}
	now := m.CurrentJiffy()
	since := atomic.LoadUint64(&t.idleSinceJiffy)
	if since == 0 {
		atomic.StoreUint64(&t.idleSinceJiffy, now)
		return
	}
	jiffyRate := uint32(100)
	if m.jiffy != nil {
		jiffyRate = m.jiffy.Rate()
	}
	idleJiffies := uint64(m.cfg.IdleStopTimeoutSecs) * uint64(jiffyRate)
	if now-since < idleJiffies {
		if n := m.highestRunningAbove(t.idx); n != nil {
			if stolen := n.drainOne(); stolen != nil {
				stolen.Flags.Mutate(func(prev uint32) uint32 {
					return prev &^ uint32(task.Queued)
				})
				m.place(stolen, t.idx)
			}
		}
		return
	}
	atomic.StoreUint32(&t.stopRequested, 1)
	atomic.StoreUint32(&t.running, 0)
}

func (m *Manager) highestRunningAbove(idx int) *Thread {
	n := m.threadCount()
	for i := n - 1; i > idx; i-- {
		if t := m.threadAt(i); t != nil && t.isRunning() {
			return t
		}
	}
	return nil
}

// drainOne steals a single task from the front of this thread's lowest
// populated priority queue, used by an idle neighbour looking for work.
func (t *Thread) drainOne() *task.Base {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.queues {
		if tsk := t.queues[i].popFront(); tsk != nil {
			atomic.AddInt32(&t.queued, -1)
			return tsk
		}
	}
	return nil
}

// RunOne executes one slice on the given worker thread index, returning
// false if that thread had nothing queued. The caller (the worker
// goroutine) is expected to call JiffyBoundary once per jiffy and RunOne
// in a loop between boundaries.
func (m *Manager) RunOne(idx int) bool {
	t := m.threadAt(idx)
	if t == nil {
		return false
	}
	return t.runOne()
}

// IsRunning reports whether the worker at idx is still meant to be
// alive (it may have been asked to stop at the last jiffy boundary).
func (m *Manager) IsRunning(idx int) bool {
	t := m.threadAt(idx)
	return t != nil && t.isRunning()
}

// ThreadCount returns the number of thread slots, including stopped
// ones and the reserved index 0.
func (m *Manager) ThreadCount() int { return m.threadCount() }
