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

package logger

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/nabbar/tcore/futex"
)

// fatalCoordinator serializes the process-wide halt-then-abort sequence
// of spec §4.6 "Fatal handling": once any thread logs a Fatal record,
// each party that calls HaltAndWait flushes the writer queue and parks
// until the party count set by ConfigureFatalAbort (worker threads plus
// the writer and the reactor, hence +2) has halted. With no count set,
// no party waits for the others.
type fatalCoordinator struct {
	triggered int32
	halted    int32
	total     int32 // active worker threads + writer + reactor
	gate      uint32
}

var fatalState fatalCoordinator

// ConfigureFatalAbort records how many parties (worker threads, plus the
// writer task, plus the socket reactor) must reach the halted state
// before the process actually exits. Nothing in the module calls it: the
// count stays 0, so HaltAndWait returns at once for the first party that
// halts and does not wait for the others.
func ConfigureFatalAbort(activeWorkers int) {
	atomic.StoreInt32(&fatalState.total, int32(activeWorkers)+2)
}

// triggerFatalAbort is invoked by DiagMsg.Close on a Fatal-severity
// record. It flushes the record's own ring buffer immediately (so the
// fatal line itself is never lost to a later rotation) and flips the
// global trigger exactly once.
func triggerFatalAbort(r *RingBuffer) {
	r.ForceRotate()
	if atomic.CompareAndSwapInt32(&fatalState.triggered, 0, 1) {
		atomic.AddUint32(&fatalState.gate, 1)
		futex.Wake(&fatalState.gate, 1<<30)
	}
}

// FatalTriggered reports whether any thread has logged a Fatal record,
// the signal every cooperative loop (scheduler RunOne, socket Poll,
// writer runSlice) should check once per turn to begin winding down.
func FatalTriggered() bool {
	return atomic.LoadInt32(&fatalState.triggered) != 0
}

// HaltAndWait marks the calling party as halted, parks until every other
// party has also halted, and returns. The last party to arrive wakes
// every parked one. Call this once, after a thread's own in-flight
// buffer has been force-rotated and handed to the writer.
func HaltAndWait(w *Writer) {
	n := atomic.AddInt32(&fatalState.halted, 1)
	if w != nil {
		w.Flush()
	}
	if n >= atomic.LoadInt32(&fatalState.total) {
		atomic.AddUint32(&fatalState.gate, 1)
		futex.Wake(&fatalState.gate, 1<<30)
		return
	}
	for atomic.LoadInt32(&fatalState.halted) < atomic.LoadInt32(&fatalState.total) {
		cur := atomic.LoadUint32(&fatalState.gate)
		_ = futex.Wait(&fatalState.gate, cur, 50*time.Millisecond)
	}
}

// Abort performs the actual process exit once every party has halted and
// the writer has drained. Exit code mirrors the teacher's convention of
// signaling abnormal termination distinctly from a clean shutdown.
func Abort() {
	os.Exit(1)
}
