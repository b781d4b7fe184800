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

package alloc

import (
	"unsafe"

	"github.com/nabbar/tcore/futex"
)

// ringCapacity is the bounded per-class cache size for a pool set's ring
// (spec §3: "a bounded ring (100 entries) of cached free blocks").
const ringCapacity = 100

// transferBatch is how many blocks move between a thread's ring and the
// global pool, or between a ring and a page, on refill/drain.
const transferBatch = 35

// ring is a bounded LIFO of cached free blocks for one size class.
type ring struct {
	blocks []unsafe.Pointer
}

func (r *ring) push(p unsafe.Pointer) bool {
	if len(r.blocks) >= ringCapacity {
		return false
	}
	r.blocks = append(r.blocks, p)
	return true
}

func (r *ring) pop() (unsafe.Pointer, bool) {
	n := len(r.blocks)
	if n == 0 {
		return nil, false
	}
	p := r.blocks[n-1]
	r.blocks = r.blocks[:n-1]
	return p, true
}

func (r *ring) len() int { return len(r.blocks) }

// poolSet is a per-thread (or global) collection of per-class rings. The
// global set additionally carries a mutex since multiple threads drain
// into and refill from it; a thread-local set needs none, because it is
// touched only by its owning thread (spec §5).
type poolSet struct {
	mu     futex.Mutex
	guard  bool // true for the global set, skips locking for thread-local ones
	rings  []ring
}

func newPoolSet(guarded bool) *poolSet {
	return &poolSet{rings: make([]ring, NumClasses()), guard: guarded}
}

func (s *poolSet) lock() {
	if s.guard {
		s.mu.Lock()
	}
}

func (s *poolSet) unlock() {
	if s.guard {
		s.mu.Unlock()
	}
}

func (s *poolSet) popLocal(classIdx int) (unsafe.Pointer, bool) {
	return s.rings[classIdx].pop()
}

func (s *poolSet) pushLocal(classIdx int, p unsafe.Pointer) bool {
	return s.rings[classIdx].push(p)
}

// drainInto moves up to max blocks from s[classIdx] into dst,
// returning how many were moved. Caller holds any locks it needs on src;
// this method locks dst itself when dst is guarded.
func (s *poolSet) drainInto(classIdx int, dst *poolSet, max int) int {
	dst.lock()
	defer dst.unlock()

	moved := 0
	for moved < max {
		p, ok := s.rings[classIdx].pop()
		if !ok {
			break
		}
		if !dst.pushLocal(classIdx, p) {
			s.rings[classIdx].push(p)
			break
		}
		moved++
	}
	return moved
}
