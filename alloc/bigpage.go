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
	"sync"
	"unsafe"
)

// bigHeaderSize is the in-band header a big allocation carries ahead of
// its payload: just the payload size, enough to answer MemSize and drive
// Free without a registry lookup (big pages are rare and large, so the
// per-allocation bookkeeping cost that matters for small classes does not
// apply here).
const bigHeaderSize = 8

// bigRegistry tracks the mmap'd []byte backing each big allocation, since
// unix.Munmap needs the original slice/length, not just a pointer.
type bigRegistry struct {
	mu sync.Mutex
	m  map[uintptr][]byte
}

func newBigRegistry() *bigRegistry { return &bigRegistry{m: make(map[uintptr][]byte)} }

func (r *bigRegistry) put(addr uintptr, mem []byte) {
	r.mu.Lock()
	r.m[addr] = mem
	r.mu.Unlock()
}

func (r *bigRegistry) take(addr uintptr) []byte {
	r.mu.Lock()
	mem := r.m[addr]
	delete(r.m, addr)
	r.mu.Unlock()
	return mem
}

// allocBig services requests above maxClass: round up to a page multiple,
// mmap, stamp the payload size ahead of the returned pointer.
func (a *Allocator) allocBig(n int) (unsafe.Pointer, error) {
	total := bigHeaderSize + n
	pages := (total + PageSize - 1) / PageSize
	size := pages * PageSize

	mem, base, err := mmapAligned(size)
	if err != nil {
		// spec §4.1: mmap failure on the big-page path is fatal.
		panic(err)
	}

	*(*int64)(unsafe.Pointer(&mem[0])) = int64(n)
	a.big.put(base, mem)

	a.stats.onBigAlloc(n, size)

	payload := unsafe.Pointer(&mem[bigHeaderSize])
	return payload, nil
}

func bigPayloadSize(payload unsafe.Pointer) int {
	hdr := unsafe.Pointer(uintptr(payload) - bigHeaderSize)
	return int(*(*int64)(hdr))
}

func (a *Allocator) freeBig(payload unsafe.Pointer) {
	base := uintptr(payload) - bigHeaderSize
	n := bigPayloadSize(payload)
	mem := a.big.take(base)
	if mem == nil {
		return
	}
	a.stats.onBigFree(n, len(mem))
	_ = munmapBytes(mem)
}
