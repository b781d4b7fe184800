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

// Package futex provides the Linux futex syscall wrapper and a mini-mutex
// built on top of it: a futex-backed lock that spins briefly then parks,
// with no priority inheritance. The scheduler queues, the timer wheel,
// RCU, the allocator's global pool and page headers, and the log writer
// queue embed a Mutex instead of a sync.Mutex. Other bookkeeping (the
// scheduler's thread list, the server and socket tables, the allocator's
// big-block registry) uses sync.Mutex or sync.RWMutex.
package futex

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Wait blocks while *addr == val, waking either on a matching Wake or
// spuriously. A zero timeout blocks forever.
func Wait(addr *uint32, val uint32, timeout time.Duration) error {
	var ts *unix.Timespec
	if timeout > 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(linuxFutexWait),
		uintptr(val),
		uintptr(unsafe.Pointer(ts)),
		0, 0,
	)
	if errno != 0 && errno != unix.EAGAIN && errno != unix.EINTR && errno != unix.ETIMEDOUT {
		return errno
	}
	return nil
}

// Wake wakes up to n waiters blocked on addr.
func Wake(addr *uint32, n int32) int {
	r, _, _ := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(linuxFutexWake),
		uintptr(n),
		0, 0, 0,
	)
	return int(r)
}

const (
	linuxFutexWait = 0
	linuxFutexWake = 1
)

// activeSpinCount is how many times Lock spins before parking, mirroring
// the runtime's own active_spin_cnt for short critical sections.
const activeSpinCount = 30
