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

package futex

import (
	"runtime"
	"sync/atomic"
)

// Mutex is the mini-mutex described in spec §5: lock increments a waiter
// counter and proceeds immediately if it was zero, else spins briefly and
// then parks on the futex; unlock decrements and wakes one waiter if the
// counter is still non-zero. It carries no priority inheritance and is
// meant for short critical sections only (page headers, queue heads, the
// RCU list, the log writer queue).
type Mutex struct {
	state uint32
}

// Lock acquires the mutex, spinning a bounded number of times before
// parking. Safe to call from multiple goroutines; not reentrant.
func (m *Mutex) Lock() {
	if atomic.AddUint32(&m.state, 1) == 1 {
		return
	}

	for i := 0; i < activeSpinCount; i++ {
		if atomic.LoadUint32(&m.state) == 1 {
			return
		}
		runtime.Gosched()
	}

	for {
		cur := atomic.LoadUint32(&m.state)
		if cur == 0 {
			if atomic.CompareAndSwapUint32(&m.state, 0, 1) {
				return
			}
			continue
		}
		_ = Wait(&m.state, cur, 0)
		if atomic.CompareAndSwapUint32(&m.state, 1, 1) {
			return
		}
	}
}

// Unlock releases the mutex and, if contention remains, wakes one waiter.
// Unlock on an already-unlocked Mutex is a programmer error; it does not
// panic (the spec tolerates spurious futex failures), but it will corrupt
// the waiter count.
func (m *Mutex) Unlock() {
	if atomic.AddUint32(&m.state, ^uint32(0)) != 0 {
		for {
			if Wake(&m.state, 1) >= 0 {
				return
			}
			runtime.Gosched()
		}
	}
}

// TryLock attempts to acquire the mutex without blocking.
func (m *Mutex) TryLock() bool {
	return atomic.CompareAndSwapUint32(&m.state, 0, 1)
}
