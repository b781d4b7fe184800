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

import "sync/atomic"

// classStat holds the atomic counters for one size class (spec §4.1).
type classStat struct {
	userAlloc, userFree uint64
	sysAlloc, sysFree   uint64 // pages mapped/unmapped serving this class
}

// Stats is the allocator's accounting block: per-class counters plus
// big-allocation and mmap totals, each tracked since a baseline snapshot
// captured once at construction (spec: "per-interval statistics subtract
// this baseline").
type Stats struct {
	classes []classStat

	bigAllocCount, bigFreeCount uint64
	bigAllocBytes, bigFreeBytes uint64
	mmapBytes, mmapPages        uint64

	baseline Snapshot
}

// Snapshot is a point-in-time read of allocator counters.
type Snapshot struct {
	UserAlloc, UserFree []uint64
	SysAlloc, SysFree   []uint64
	BigAllocCount       uint64
	BigFreeCount        uint64
	BigAllocBytes       uint64
	BigFreeBytes        uint64
	MmapBytes           uint64
	MmapPages           uint64
}

func (s *Stats) snapshotBaseline() {
	if s.classes == nil {
		s.classes = make([]classStat, NumClasses())
	}
	s.baseline = s.snapshotRaw()
}

func (s *Stats) snapshotRaw() Snapshot {
	n := len(s.classes)
	snap := Snapshot{
		UserAlloc: make([]uint64, n),
		UserFree:  make([]uint64, n),
		SysAlloc:  make([]uint64, n),
		SysFree:   make([]uint64, n),
	}
	for i := range s.classes {
		snap.UserAlloc[i] = atomic.LoadUint64(&s.classes[i].userAlloc)
		snap.UserFree[i] = atomic.LoadUint64(&s.classes[i].userFree)
		snap.SysAlloc[i] = atomic.LoadUint64(&s.classes[i].sysAlloc)
		snap.SysFree[i] = atomic.LoadUint64(&s.classes[i].sysFree)
	}
	snap.BigAllocCount = atomic.LoadUint64(&s.bigAllocCount)
	snap.BigFreeCount = atomic.LoadUint64(&s.bigFreeCount)
	snap.BigAllocBytes = atomic.LoadUint64(&s.bigAllocBytes)
	snap.BigFreeBytes = atomic.LoadUint64(&s.bigFreeBytes)
	snap.MmapBytes = atomic.LoadUint64(&s.mmapBytes)
	snap.MmapPages = atomic.LoadUint64(&s.mmapPages)
	return snap
}

// snapshot returns counters net of the baseline captured at construction.
func (s *Stats) snapshot() Snapshot {
	cur := s.snapshotRaw()
	for i := range cur.UserAlloc {
		cur.UserAlloc[i] -= s.baseline.UserAlloc[i]
		cur.UserFree[i] -= s.baseline.UserFree[i]
		cur.SysAlloc[i] -= s.baseline.SysAlloc[i]
		cur.SysFree[i] -= s.baseline.SysFree[i]
	}
	cur.BigAllocCount -= s.baseline.BigAllocCount
	cur.BigFreeCount -= s.baseline.BigFreeCount
	cur.BigAllocBytes -= s.baseline.BigAllocBytes
	cur.BigFreeBytes -= s.baseline.BigFreeBytes
	cur.MmapBytes -= s.baseline.MmapBytes
	cur.MmapPages -= s.baseline.MmapPages
	return cur
}

func (s *Stats) onUserAlloc(idx int) { atomic.AddUint64(&s.classes[idx].userAlloc, 1) }
func (s *Stats) onUserFree(idx int)  { atomic.AddUint64(&s.classes[idx].userFree, 1) }

func (s *Stats) onPageMapped(idx int) {
	atomic.AddUint64(&s.classes[idx].sysAlloc, 1)
	atomic.AddUint64(&s.mmapPages, 1)
	atomic.AddUint64(&s.mmapBytes, PageSize)
}

func (s *Stats) onPageUnmapped(idx int) {
	atomic.AddUint64(&s.classes[idx].sysFree, 1)
	atomic.AddUint64(&s.mmapPages, ^uint64(0))
	atomic.AddUint64(&s.mmapBytes, ^uint64(PageSize-1))
}

func (s *Stats) onBigAlloc(n, mapped int) {
	atomic.AddUint64(&s.bigAllocCount, 1)
	atomic.AddUint64(&s.bigAllocBytes, uint64(n))
	atomic.AddUint64(&s.mmapBytes, uint64(mapped))
	atomic.AddUint64(&s.mmapPages, uint64(mapped/PageSize))
}

func (s *Stats) onBigFree(n, mapped int) {
	atomic.AddUint64(&s.bigFreeCount, 1)
	atomic.AddUint64(&s.bigFreeBytes, uint64(n))
	atomic.AddUint64(&s.mmapBytes, ^uint64(uint64(mapped)-1))
	atomic.AddUint64(&s.mmapPages, ^uint64(uint64(mapped/PageSize)-1))
}

// LiveUserBlocks returns userAlloc-userFree per class, used by the
// allocator-stress testable property (spec §8.3: "live user blocks = 0
// for every size class" after join).
func (snap Snapshot) LiveUserBlocks() []int64 {
	out := make([]int64, len(snap.UserAlloc))
	for i := range out {
		out[i] = int64(snap.UserAlloc[i]) - int64(snap.UserFree[i])
	}
	return out
}
