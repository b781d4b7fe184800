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

// Package sched implements the cooperative task scheduler of spec §4.2:
// per-thread priority-keyed FIFO queues, execution-credit fairness,
// placement across worker threads with an overload coefficient and a
// two-hop preference chain, and the task execution protocol that ties
// the flag word, the scheduler queues and RCU deferred-free together.
package sched

import "github.com/nabbar/tcore/task"

const numPriorities = 16

// taskQueue is an intrusive FIFO keyed by task.Base.SchedNext: no
// allocation on the hot path (spec §9 "intrusive lists").
type taskQueue struct {
	head, tail *task.Base
	length     int32
}

func (q *taskQueue) pushBack(t *task.Base) {
	t.SchedNext = nil
	if q.tail != nil {
		q.tail.SchedNext = t
	} else {
		q.head = t
	}
	q.tail = t
	q.length++
}

func (q *taskQueue) popFront() *task.Base {
	t := q.head
	if t == nil {
		return nil
	}
	q.head = t.SchedNext
	if q.head == nil {
		q.tail = nil
	}
	t.SchedNext = nil
	q.length--
	return t
}

func (q *taskQueue) empty() bool { return q.head == nil }
