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

package sockets

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nabbar/tcore/task"
)

// Config bounds the socket engine's behavior per spec §6's key table.
type Config struct {
	HardSocketLimit      int32  // total accepted sockets before new accepts are rejected
	SoftSocketLimit      int32  // above this, idle sockets are shed under overload
	MinSocketInactivity  uint64 // jiffies; default corresponds to 300s
	SocketsCleaningBatch int    // idle sockets evicted per sweep
}

func (c Config) withDefaults(jiffyRate uint32) Config {
	if c.HardSocketLimit <= 0 {
		c.HardSocketLimit = 65536
	}
	if c.SoftSocketLimit <= 0 {
		c.SoftSocketLimit = c.HardSocketLimit / 2
	}
	if c.MinSocketInactivity == 0 {
		c.MinSocketInactivity = uint64(300 * jiffyRate)
	}
	if c.SocketsCleaningBatch <= 0 {
		c.SocketsCleaningBatch = 64
	}
	return c
}

// Manager owns the epoll instance, the hard/soft socket-count limits,
// and the per-thread socket lists of spec §4.5 "Lifetime". It is
// deliberately ignorant of package sched: a connection is handed back
// to its scheduler purely through task.Base's OnRunnable capability,
// wired in by whatever called SetRegisterFunc (spec §9's capability-
// record pattern, the same mechanism timer uses).
type Manager struct {
	cfg    Config
	poller *Poller

	totalSockets int32 // atomic

	mu        sync.Mutex
	perThread map[int][]*Conn

	registerTask func(*task.Base)
}

// NewManager constructs a Manager bound to an already-created Poller.
func NewManager(poller *Poller, cfg Config, jiffyRate uint32) *Manager {
	return &Manager{
		cfg:       cfg.withDefaults(jiffyRate),
		poller:    poller,
		perThread: make(map[int][]*Conn),
	}
}

// SetRegisterFunc wires the scheduler requeue capability; called once at
// start-up with something equivalent to sched.Manager.Register.
func (m *Manager) SetRegisterFunc(f func(*task.Base)) { m.registerTask = f }

// TotalSockets is the live accepted-connection count, shared with every
// Listener under this Manager for hard-limit enforcement.
func (m *Manager) TotalSockets() int32 { return atomic.LoadInt32(&m.totalSockets) }

// StartProcessing implements spec §4.5 "Accept" steps (a)-(c): insert
// into the owning thread's socket list, epoll-register the fd, and mark
// the new connection runnable.
func (m *Manager) StartProcessing(c *Conn, threadIdx int) {
	atomic.AddInt32(&m.totalSockets, 1)

	m.mu.Lock()
	m.perThread[threadIdx] = append(m.perThread[threadIdx], c)
	m.mu.Unlock()

	_ = m.poller.Register(c.Fd(), c)
	if m.registerTask != nil {
		m.registerTask(&c.Base)
	}
	c.MakeRunnable()
}

// Poll drives one epoll_wait pass; timeoutMillis should equal the jiffy
// duration (spec §4.5).
func (m *Manager) Poll(timeoutMillis int) (int, error) {
	return m.poller.Wait(timeoutMillis)
}

// CleanSocketList implements spec §4.5 "Lifetime": periodic sweep that
// erases tasks carrying NeedTermination (calling softTerminate on each),
// then, if the total socket count across all threads still exceeds the
// soft limit, evicts the oldest-idle connections in batches of
// SocketsCleaningBatch by soft-terminating them too.
func (m *Manager) CleanSocketList(threadIdx int, currentJiffy uint64, softTerminate func(*Conn)) {
	m.mu.Lock()
	list := m.perThread[threadIdx]
	m.mu.Unlock()

	kept := list[:0]
	for _, c := range list {
		if c.Flags.Has(task.NeedTermination) || c.Flags.Has(task.Terminated) {
			m.evict(c, softTerminate)
			continue
		}
		kept = append(kept, c)
	}

	if atomic.LoadInt32(&m.totalSockets) > m.cfg.SoftSocketLimit {
		kept = m.evictIdleBatch(kept, currentJiffy, softTerminate)
	}

	m.mu.Lock()
	m.perThread[threadIdx] = kept
	m.mu.Unlock()
}

func (m *Manager) evict(c *Conn, softTerminate func(*Conn)) {
	m.poller.Unregister(c.Fd())
	atomic.AddInt32(&m.totalSockets, -1)
	if softTerminate != nil {
		softTerminate(c)
	}
}

// evictIdleBatch selects up to SocketsCleaningBatch connections idle
// longest beyond MinSocketInactivity and soft-terminates them, returning
// the surviving slice.
func (m *Manager) evictIdleBatch(list []*Conn, currentJiffy uint64, softTerminate func(*Conn)) []*Conn {
	type candidate struct {
		idx  int
		idle uint64
	}
	var candidates []candidate
	for i, c := range list {
		if idle := c.IdleFor(currentJiffy); idle >= m.cfg.MinSocketInactivity {
			candidates = append(candidates, candidate{idx: i, idle: idle})
		}
	}
	if len(candidates) == 0 {
		return list
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].idle > candidates[j].idle })
	if len(candidates) > m.cfg.SocketsCleaningBatch {
		candidates = candidates[:m.cfg.SocketsCleaningBatch]
	}

	evicted := make(map[int]bool, len(candidates))
	for _, cand := range candidates {
		evicted[cand.idx] = true
	}

	kept := list[:0]
	for i, c := range list {
		if evicted[i] {
			m.evict(c, softTerminate)
			continue
		}
		kept = append(kept, c)
	}
	return kept
}
