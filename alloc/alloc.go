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
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Allocator is the process-wide resource (spec §9: explicit Handle
// rather than ambient globals). Construct one with New, hand a *Thread
// to each worker/main/service goroutine via Thread(). There is no
// teardown step: a page is unmapped only when its last block is freed.
type Allocator struct {
	pages  *pageRegistry
	grades []gradeIndex
	global *poolSet
	big    *bigRegistry
	stats  Stats

	flushGen uint64 // bumped by every call to Flush
}

// New constructs an Allocator with empty pools and a fresh page registry.
func New() *Allocator {
	a := &Allocator{
		pages:  newPageRegistry(),
		grades: make([]gradeIndex, NumClasses()),
		global: newPoolSet(true),
		big:    newBigRegistry(),
	}
	a.stats.snapshotBaseline()
	return a
}

// Thread returns a handle bound to one OS/goroutine worker, with its own
// unguarded pool set. Thread 0 is conventionally the main thread; its
// handle may be shared process-wide before other threads exist, mirroring
// the spec's main_pool_set fallback.
func (a *Allocator) Thread() *Thread {
	return &Thread{a: a, pools: newPoolSet(false), seenFlush: atomic.LoadUint64(&a.flushGen)}
}

// Stats returns a snapshot of allocator counters (spec §4.1 accounting).
func (a *Allocator) Stats() Snapshot { return a.stats.snapshot() }

// Thread is a per-thread allocation handle: unsynchronized pool ring
// access plus the shared Allocator's page registry, grade lists and
// global pool.
type Thread struct {
	a         *Allocator
	pools     *poolSet
	seenFlush uint64
}

// maybeFlush lazily notices a bumped global flush counter and drains this
// thread's rings back to the global pool, per spec §4.1's flusher
// protocol.
func (t *Thread) maybeFlush() {
	gen := atomic.LoadUint64(&t.a.flushGen)
	if gen == t.seenFlush {
		return
	}
	t.seenFlush = gen
	for idx := range t.pools.rings {
		t.pools.drainInto(idx, t.a.global, ringCapacity)
	}
}

// Alloc returns a pointer to at least n usable bytes, aligned to at least
// 8 bytes, using the small-class path for n <= maxClass and the big-page
// path otherwise.
func (t *Thread) Alloc(n int) unsafe.Pointer {
	t.maybeFlush()

	idx := classIndex(n)
	if idx < 0 {
		p, err := t.a.allocBig(n)
		if err != nil {
			panic(err)
		}
		return p
	}

	if p, ok := t.pools.popLocal(idx); ok {
		t.a.stats.onUserAlloc(idx)
		return p
	}

	t.a.global.lock()
	moved := t.a.global.drainInto(idx, t.pools, transferBatch)
	t.a.global.unlock()
	if moved > 0 {
		if p, ok := t.pools.popLocal(idx); ok {
			t.a.stats.onUserAlloc(idx)
			return p
		}
	}

	pg := t.a.grades[idx].takeRefillable()
	if pg == nil {
		np, err := newPage(idx)
		if err != nil {
			// spec §4.1: mmap failure on the new-small-page path is fatal.
			panic(err)
		}
		t.a.pages.put(np)
		t.a.stats.onPageMapped(idx)
		pg = np
	}

	pg.mu.Lock()
	ptr, _ := pg.popFree()
	moved := 0
	for moved < transferBatch && !pg.isFull() {
		bp, ok := pg.popFree()
		if !ok {
			break
		}
		if !t.pools.pushLocal(idx, bp) {
			pg.pushFree(uintptr(bp))
			break
		}
		moved++
	}
	stillHasFree := !pg.isFull()
	pg.mu.Unlock()

	if stillHasFree {
		t.a.grades[idx].add(pg)
	} else {
		t.a.grades[idx].remove(pg)
	}

	t.a.stats.onUserAlloc(idx)
	return ptr
}

// Free releases a pointer previously returned by Alloc (or Realloc), on
// any thread sharing this Allocator.
func (t *Thread) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	t.maybeFlush()

	addr := uintptr(p)
	pg := t.a.pages.lookup(addr)
	if pg == nil {
		t.a.freeBig(p)
		return
	}

	idx := pg.classIdx
	t.a.stats.onUserFree(idx)

	if t.pools.pushLocal(idx, p) {
		return
	}

	// Ring full: drain 35 blocks to the global pool; if that is also
	// full, release 35 blocks directly back to their owning pages.
	if moved := t.pools.drainInto(idx, t.a.global, transferBatch); moved > 0 {
		t.pools.pushLocal(idx, p)
		return
	}

	t.releaseRingToPages(idx)
	t.pools.pushLocal(idx, p)
}

// releaseRingToPages returns up to transferBatch cached blocks directly
// to their owning pages, freeing/regrading pages as needed.
func (t *Thread) releaseRingToPages(idx int) {
	for i := 0; i < transferBatch; i++ {
		bp, ok := t.pools.popLocal(idx)
		if !ok {
			return
		}
		t.returnBlockToPage(idx, bp)
	}
}

func (t *Thread) returnBlockToPage(idx int, bp unsafe.Pointer) {
	pg := t.a.pages.lookup(uintptr(bp))
	if pg == nil {
		return
	}

	pg.mu.Lock()
	pg.pushFree(uintptr(bp))
	empty := pg.isEmpty()
	pg.mu.Unlock()

	if empty {
		t.a.grades[idx].remove(pg)
		t.a.pages.remove(pg)
		_ = pg.destroy()
		t.a.stats.onPageUnmapped(idx)
	} else {
		t.a.grades[idx].relink(pg)
	}
}

// MemSize returns the payload capacity of the block backing p: the
// bucketed class size for small allocations, the rounded payload size
// for big ones.
func (t *Thread) MemSize(p unsafe.Pointer) int {
	if p == nil {
		return 0
	}
	if pg := t.a.pages.lookup(uintptr(p)); pg != nil {
		return pg.blockSize
	}
	t.a.big.mu.Lock()
	mem := t.a.big.m[uintptr(p)-bigHeaderSize]
	t.a.big.mu.Unlock()
	if mem == nil {
		return bigPayloadSize(p)
	}
	return len(mem) - bigHeaderSize
}

// Realloc grows or shrinks a block, copying payload bytes up to the
// smaller of the old and new sizes.
func (t *Thread) Realloc(p unsafe.Pointer, n int) unsafe.Pointer {
	if p == nil {
		return t.Alloc(n)
	}
	if n == 0 {
		t.Free(p)
		return nil
	}

	old := t.MemSize(p)
	if classIndex(n) >= 0 && classIndex(n) == classIndex(old) {
		return p
	}

	np := t.Alloc(n)
	copySize := old
	if n < copySize {
		copySize = n
	}
	srcSlice := unsafe.Slice((*byte)(p), copySize)
	dstSlice := unsafe.Slice((*byte)(np), copySize)
	copy(dstSlice, srcSlice)
	t.Free(p)
	return np
}

func munmapBytes(mem []byte) error {
	return unix.Munmap(mem)
}
