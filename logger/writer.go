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
	"time"

	"github.com/nabbar/tcore/clock"
	"github.com/nabbar/tcore/futex"
	"github.com/nabbar/tcore/task"
)

// Writer is the dedicated output task of spec §4.6 "Consumer side": one
// per log file, draining every worker thread's rotated chunks and
// appending them best-effort, reopening the file every file_reopen_period
// so external log rotation (logrotate, copytruncate) picks up a fresh
// inode without the process needing a signal handler for it.
type Writer struct {
	task.Base

	path         string
	reopenPeriod time.Duration

	mu       futex.Mutex
	queue    [][]byte
	file     *os.File
	lastOpen time.Time
	openErr  error
}

// NewWriter opens path and returns a Writer task ready to be registered
// with the scheduler. Call SetSlice is unnecessary here: runSlice closes
// over the Writer itself, so the Slice is bound in the constructor,
// following the same SetSlice-after-construction pattern task.Base
// documents for any task kind whose closure must close over its own
// surrounding object.
func NewWriter(path string, reopenPeriod time.Duration) *Writer {
	if reopenPeriod <= 0 {
		reopenPeriod = 60 * time.Second
	}
	w := &Writer{
		path:         path,
		reopenPeriod: reopenPeriod,
	}
	w.SetSlice(w.runSlice)
	w.openErr = w.reopen()
	return w
}

// Enqueue appends a completed, newline-terminated chunk of log data and
// marks the writer runnable. Called from any worker thread's RingBuffer
// on rotation; the queue itself is the only state shared across threads
// so it is the only part guarded by a mutex.
func (w *Writer) Enqueue(chunk []byte) {
	w.mu.Lock()
	w.queue = append(w.queue, chunk)
	w.mu.Unlock()
	w.MakeRunnable()
}

// pop removes and returns the oldest queued chunk, if any.
func (w *Writer) pop() ([]byte, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return nil, false
	}
	chunk := w.queue[0]
	w.queue = w.queue[1:]
	return chunk, true
}

// pending reports whether any chunk is still queued.
func (w *Writer) pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue) > 0
}

// reopen closes the current handle (if any) and opens path fresh,
// append-only, the way the teacher's logger/hookfile refreshes its file
// handle on rotation.
func (w *Writer) reopen() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.lastOpen = clock.Now()
	return nil
}

// runSlice is the writer task's execute_slice: reopen if due, pop and
// write one chunk best-effort, and re-mark itself runnable if more work
// remains so the scheduler keeps draining the queue one chunk per turn
// rather than monopolizing a worker thread with a long write loop.
func (w *Writer) runSlice(int) {
	if clock.Now().Sub(w.lastOpen) >= w.reopenPeriod {
		w.openErr = w.reopen()
	}

	chunk, ok := w.pop()
	if !ok {
		return
	}
	if w.file != nil {
		_, _ = w.file.Write(chunk)
	}

	if w.pending() {
		w.MakeRunnable()
	}
}

// Flush synchronously drains the queue and syncs the file. It does not
// rotate any RingBuffer: records still held in a thread's buffer are not
// written until that buffer rotates. Used by fatal-abort
// coordination and by graceful shutdown (spec §4.6 "Periodic flush" and
// server's drain-then-stop sequence) where waiting for the ordinary
// scheduler turn is not acceptable.
func (w *Writer) Flush() {
	for {
		chunk, ok := w.pop()
		if !ok {
			break
		}
		if w.file != nil {
			_, _ = w.file.Write(chunk)
		}
	}
	if w.file != nil {
		_ = w.file.Sync()
	}
}

// Close flushes and releases the underlying file handle.
func (w *Writer) Close() error {
	w.Flush()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
