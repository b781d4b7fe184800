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

// FlushInterval is the flush period, in seconds, for a caller that runs
// Flush periodically. Nothing in this package reads it or schedules Flush.
const FlushInterval = 60

// Flush drains every class of the global pool back into its owning
// pages, then bumps the flush generation so per-thread handles notice on
// their next allocation and flush their own rings too. No task in this
// module calls Flush; the global pool and the per-thread rings are drained
// only when something calls it.
func (a *Allocator) Flush() {
	t := a.Thread()
	a.global.lock()
	for idx := range a.global.rings {
		for {
			bp, ok := a.global.popLocal(idx)
			if !ok {
				break
			}
			t.returnBlockToPage(idx, bp)
		}
	}
	a.global.unlock()
	atomic.AddUint64(&a.flushGen, 1)
}
