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

package task_test

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nabbar/tcore/task"
)

var _ = Describe("Flags", func() {
	It("rejects Queued and Running set together", func() {
		var f task.Flags
		Expect(f.Set(task.Queued)).To(BeTrue())
		Expect(f.CAS(f.Load(), f.Load()|uint32(task.Running))).To(BeFalse())
	})

	It("rejects OnTimer together with Queued or Runnable", func() {
		var f task.Flags
		Expect(f.Set(task.OnTimer)).To(BeTrue())
		Expect(f.Set(task.Queued)).To(BeFalse())
		Expect(f.Has(task.OnTimer)).To(BeTrue())
		Expect(f.Has(task.Queued)).To(BeFalse())
	})

	It("never lets Runnable be added once Terminated is set", func() {
		var f task.Flags
		Expect(f.Set(task.Terminated)).To(BeTrue())
		Expect(f.Set(task.Runnable)).To(BeFalse())
		Expect(f.Has(task.Runnable)).To(BeFalse())
	})

	It("is only ever mutated through CAS under concurrent writers", func() {
		var f task.Flags
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				f.Set(task.Runnable)
				f.Clear(task.Runnable)
			}()
		}
		wg.Wait()
		Expect(f.Has(task.Running)).To(BeFalse())
	})
})

var _ = Describe("Base", func() {
	It("tracks priority, last thread and termination eligibility", func() {
		b := task.NewBase(task.PriorityDefault, func(int) {})
		Expect(b.Priority()).To(Equal(task.PriorityDefault))
		Expect(b.LastThread()).To(Equal(-1))

		b.Flags.Set(task.Queued)
		Expect(b.Terminate(false)).To(BeFalse(), "still queued, not eligible yet")

		b.Flags.Clear(task.Queued)
		Expect(b.Terminate(false)).To(BeTrue())
	})

	It("maintains a LIFO diagnostic context stack", func() {
		b := task.NewBase(task.PriorityDefault, nil)
		b.PushContext("outer")
		b.PushContext("inner")
		Expect(b.CurrentContext()).To(Equal("inner"))
		b.PopContext()
		Expect(b.CurrentContext()).To(Equal("outer"))
	})
})
