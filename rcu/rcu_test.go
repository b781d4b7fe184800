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

package rcu_test

import (
	"sync"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nabbar/tcore/rcu"
)

var _ = Describe("a lone thread", func() {
	It("runs a deferred destructor once two grace periods have elapsed", func() {
		d := rcu.New()
		th := d.InitThread()

		ran := false
		th.Defer(func() { ran = true })

		// A lone thread is never behind another thread's pace, so it
		// advances both of the grace periods spec §4.3's invariant
		// requires within the same call instead of needing a second one.
		th.PassQuiescentState()
		Expect(ran).To(BeTrue())
	})

	It("tolerates many deferred callbacks draining across repeated passes", func() {
		d := rcu.New()
		th := d.InitThread()

		var count int32
		for i := 0; i < 50; i++ {
			th.Defer(func() { atomic.AddInt32(&count, 1) })
		}

		for i := 0; i < 4; i++ {
			th.PassQuiescentState()
		}
		Expect(atomic.LoadInt32(&count)).To(Equal(int32(50)))
	})

	It("allows FiniThread once all deferred work has drained", func() {
		d := rcu.New()
		th := d.InitThread()
		th.Defer(func() {})
		th.PassQuiescentState()
		th.PassQuiescentState()

		Expect(func() { th.FiniThread() }).ToNot(Panic())
	})
})

var _ = Describe("multiple threads sharing a domain", func() {
	It("panics if FiniThread is called before a laggard thread lets the grace period finish", func() {
		d := rcu.New()
		a := d.InitThread()
		_ = d.InitThread()

		a.Defer(func() {})

		Expect(func() { a.FiniThread() }).To(Panic())
	})

	It("only frees a deferred value once every active thread has passed quiescent state", func() {
		d := rcu.New()
		a := d.InitThread()
		b := d.InitThread()

		freed := false
		a.Defer(func() { freed = true })

		a.PassQuiescentState()
		Expect(freed).To(BeFalse(), "b has not announced a quiescent state yet")

		b.PassQuiescentState()
		a.PassQuiescentState()
		Expect(freed).To(BeTrue())
	})

	It("never runs a destructor concurrently with itself under racing threads", func() {
		d := rcu.New()
		const n = 8
		threads := make([]*rcu.Thread, n)
		for i := range threads {
			threads[i] = d.InitThread()
		}

		var wg sync.WaitGroup
		var total int64
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				th := threads[idx]
				for j := 0; j < 200; j++ {
					th.Defer(func() { atomic.AddInt64(&total, 1) })
					th.PassQuiescentState()
				}
				for k := 0; k < 2*n; k++ {
					th.PassQuiescentState()
				}
			}(i)
		}
		wg.Wait()

		Expect(atomic.LoadInt64(&total)).To(Equal(int64(n * 200)))
	})
})
