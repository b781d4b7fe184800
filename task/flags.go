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

// Package task defines the base Task every scheduled unit of work embeds:
// a CAS-only flag word (spec §3), a priority, a timer back-reference, a
// diagnostic-context stack for nested requests, and the RCU list link
// used for deferred free. Concrete task kinds (listener, connection,
// log-writer) embed Base and supply a Slice capability (spec §9:
// capability record over a tagged variant).
package task

import (
	"github.com/bits-and-blooms/bitset"
	"sync/atomic"
)

// Flag is one bit of the task flag word.
type Flag uint32

const (
	// Runnable: a wake-up arrived while running; re-queue on completion.
	Runnable Flag = 1 << iota
	// Queued: currently sitting in some scheduler queue.
	Queued
	// Running: currently executing a slice.
	Running
	// OnTimer: currently parked in the timer wheel.
	OnTimer
	// NeedTermination: soft termination requested.
	NeedTermination
	// Terminated: hard termination requested.
	Terminated
)

// legal reports whether next is a legal flag word per spec §3 invariants:
//   - Queued and Running are mutually exclusive
//   - OnTimer is mutually exclusive with Queued/Runnable
//   - once Terminated, no transition may add Runnable
func legal(prev, next uint32) bool {
	if next&uint32(Queued) != 0 && next&uint32(Running) != 0 {
		return false
	}
	if next&uint32(OnTimer) != 0 && next&(uint32(Queued)|uint32(Runnable)) != 0 {
		return false
	}
	if prev&uint32(Terminated) != 0 && next&uint32(Runnable) != 0 && prev&uint32(Runnable) == 0 {
		return false
	}
	return true
}

// Flags is the CAS-only flag word. The zero value is legal (no bits set).
type Flags struct {
	bits uint32
}

// Load returns the current flag word.
func (f *Flags) Load() uint32 { return atomic.LoadUint32(&f.bits) }

// Has reports whether every bit in want is set.
func (f *Flags) Has(want Flag) bool { return f.Load()&uint32(want) == uint32(want) }

// CAS performs a single compare-and-swap, rejecting transitions that
// would violate the flag-word invariants. Returns false both when the
// hardware CAS fails (stale prev) and when the resulting word would be
// illegal — callers retry by reloading and recomputing next either way.
func (f *Flags) CAS(prev, next uint32) bool {
	if !legal(prev, next) {
		return false
	}
	return atomic.CompareAndSwapUint32(&f.bits, prev, next)
}

// Set ORs bits into the flag word via a CAS loop, refusing to complete a
// transition that would be illegal (e.g. adding Runnable after
// Terminated); returns false if the set was refused.
func (f *Flags) Set(bits Flag) bool {
	for {
		prev := f.Load()
		next := prev | uint32(bits)
		if next == prev {
			return true
		}
		if !legal(prev, next) {
			return false
		}
		if atomic.CompareAndSwapUint32(&f.bits, prev, next) {
			return true
		}
	}
}

// Clear ANDs bits out of the flag word via a CAS loop.
func (f *Flags) Clear(bits Flag) {
	for {
		prev := f.Load()
		next := prev &^ uint32(bits)
		if next == prev {
			return
		}
		if atomic.CompareAndSwapUint32(&f.bits, prev, next) {
			return
		}
	}
}

// Mutate applies fn to the current word in a CAS loop, retrying with a
// freshly loaded prev on contention, and returns the word that ended up
// installed. If fn proposes no change or an illegal transition, Mutate
// returns prev unchanged without calling fn again — callers that need to know
// whether their intended transition actually happened should compare
// the bits they care about in the returned word against prev themselves.
func (f *Flags) Mutate(fn func(prev uint32) uint32) uint32 {
	for {
		prev := f.Load()
		next := fn(prev)
		if next == prev || !legal(prev, next) {
			return prev
		}
		if atomic.CompareAndSwapUint32(&f.bits, prev, next) {
			return next
		}
	}
}

// Snapshot renders the flag word as a bitset, used by diagnostics and
// tests that want to assert on individual bits without re-deriving the
// Flag constants (grounded on the bits-and-blooms/bitset API already
// used elsewhere in the corpus for compact membership sets).
func (f *Flags) Snapshot() *bitset.BitSet {
	b := bitset.New(6)
	v := f.Load()
	for i := uint(0); i < 6; i++ {
		if v&(1<<i) != 0 {
			b.Set(i)
		}
	}
	return b
}
