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
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/nabbar/tcore/futex"
)

// pageHeaderSize reserves nothing extra in the mmap'd body: the header
// described by spec §3 (block size, free-list head, lock, free count,
// grade, prev/next) lives in the Go-side page struct rather than inside
// the mmap'd bytes, indexed by page base address. A raw mmap region given
// to Go is never scanned or moved by the GC, so pointers handed out into
// it are stable for the process lifetime of the mapping; we keep the
// bookkeeping in ordinary Go memory instead of hand-rolling an in-band
// struct layout, which buys safety for zero semantic difference at the
// Alloc/Free/MemSize boundary.
const pageHeaderSize = 0

// page is one 64 KiB allocation page, small-class body.
type page struct {
	mu futex.Mutex

	base      uintptr
	mem       []byte
	classIdx  int
	blockSize int
	capacity  int // blocks per page

	freeList  []uint32 // stack of free block indices
	allocated int

	grade      int
	gradePrev  *page
	gradeNext  *page
	onGradeLst bool
}

func newPage(classIdx int) (*page, error) {
	mem, base, err := mmapAligned(PageSize)
	if err != nil {
		return nil, err
	}

	cap := blocksPerPage(classIdx)
	p := &page{
		base:      base,
		mem:       mem,
		classIdx:  classIdx,
		blockSize: classSizes[classIdx],
		capacity:  cap,
		freeList:  make([]uint32, cap),
	}
	for i := 0; i < cap; i++ {
		p.freeList[i] = uint32(cap - 1 - i)
	}
	return p, nil
}

// mmapAligned returns a PageSize-aligned mapping of size n, using the
// spec §4.1 over-allocate-then-trim trick when the kernel does not hand
// back an already-aligned region.
func mmapAligned(n int) ([]byte, uintptr, error) {
	mem, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, 0, fmt.Errorf("alloc: mmap %d bytes: %w", n, err)
	}
	base := uintptr(unsafe.Pointer(&mem[0]))
	if base&uintptr(PageSize-1) == 0 {
		return mem, base, nil
	}

	_ = unix.Munmap(mem)

	over, err := unix.Mmap(-1, 0, n+PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, 0, fmt.Errorf("alloc: mmap %d bytes (aligning): %w", n+PageSize, err)
	}
	obase := uintptr(unsafe.Pointer(&over[0]))
	aligned := (obase + uintptr(PageSize-1)) &^ uintptr(PageSize-1)
	lead := int(aligned - obase)
	trail := len(over) - lead - n

	if lead > 0 {
		_ = unix.Munmap(over[:lead])
	}
	if trail > 0 {
		_ = unix.Munmap(over[lead+n:])
	}
	return over[lead : lead+n], aligned, nil
}

// blockPtr returns the address of block i within the page.
func (p *page) blockPtr(i uint32) unsafe.Pointer {
	return unsafe.Pointer(&p.mem[int(i)*p.blockSize])
}

// indexOf recovers a block index from an address inside this page.
func (p *page) indexOf(addr uintptr) uint32 {
	return uint32((addr - p.base) / uintptr(p.blockSize))
}

// popFree removes and returns one free block; caller holds p.mu.
func (p *page) popFree() (unsafe.Pointer, bool) {
	n := len(p.freeList)
	if n == 0 {
		return nil, false
	}
	idx := p.freeList[n-1]
	p.freeList = p.freeList[:n-1]
	p.allocated++
	return p.blockPtr(idx), true
}

// pushFree returns a block to the page's own free list; caller holds p.mu.
func (p *page) pushFree(addr uintptr) {
	p.freeList = append(p.freeList, p.indexOf(addr))
	p.allocated--
}

func (p *page) freeCount() int { return p.capacity - p.allocated }

// computeGrade maps free-block fraction to the [0,7] grade of spec §3.
func (p *page) computeGrade() int {
	if p.capacity == 0 {
		return 0
	}
	g := 8 * p.freeCount() / p.capacity
	if g > 7 {
		g = 7
	}
	return g
}

func (p *page) isEmpty() bool { return p.allocated == 0 }
func (p *page) isFull() bool  { return len(p.freeList) == 0 }

func (p *page) destroy() error {
	return unix.Munmap(p.mem)
}

// pageRegistry maps a page's base address to its header, standing in for
// the in-band header the spec recovers by masking the pointer; lookups
// still mask the pointer first so the external contract (mem_size, free)
// is identical, only the storage location of the bookkeeping differs.
type pageRegistry struct {
	mu sync.RWMutex
	m  map[uintptr]*page
}

func newPageRegistry() *pageRegistry {
	return &pageRegistry{m: make(map[uintptr]*page)}
}

func (r *pageRegistry) put(p *page) {
	r.mu.Lock()
	r.m[p.base] = p
	r.mu.Unlock()
}

func (r *pageRegistry) remove(p *page) {
	r.mu.Lock()
	delete(r.m, p.base)
	r.mu.Unlock()
}

func (r *pageRegistry) lookup(addr uintptr) *page {
	base := addr &^ uintptr(PageSize-1)
	r.mu.RLock()
	p := r.m[base]
	r.mu.RUnlock()
	return p
}
