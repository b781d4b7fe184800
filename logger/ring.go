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
	"fmt"
	"time"

	"github.com/nabbar/tcore/clock"
)

// DefaultBufSize is log_thread_buf_size's default (spec §6).
const DefaultBufSize = 10 * 1024 * 1024

// rotationHeadroom is spec §4.6's "end - 8" rotation trigger: appending
// would rotate once fewer than 8 bytes of slack remain.
const rotationHeadroom = 8

// RingBuffer is one worker thread's SLogData (spec §4.6 "Producer
// side"): an append-only buffer holding zero or more terminated records
// followed by the in-progress one, pre-filled with the PID/thread-number
// segment that never changes across this thread's records so later
// messages only ever write their variable parts. Touched exclusively by
// its owning thread; no lock is needed, the same owner-thread-only
// contract task.Base's context stack uses.
type RingBuffer struct {
	threadNum   int
	fixedPrefix []byte

	buf         []byte
	begin       int // start of data not yet handed to the writer
	curMsgBegin int // start of the in-progress (unterminated) message
	curPos      int // next write position

	msgNum      uint64
	rotationNum uint64
	lastRotate  time.Time

	writer *Writer
	prefix *Prefix
}

// NewRingBuffer allocates a thread's log buffer and its fixed
// "PID/TTT/" prefix segment.
func NewRingBuffer(threadNum, pid, bufSize int, w *Writer, p *Prefix) *RingBuffer {
	if bufSize <= 0 {
		bufSize = DefaultBufSize
	}
	return &RingBuffer{
		threadNum:   threadNum,
		fixedPrefix: []byte(fmt.Sprintf("%d/%03d/", pid, threadNum)),
		buf:         make([]byte, bufSize),
		writer:      w,
		prefix:      p,
		lastRotate:  clock.Now(),
	}
}

// ensureSpace rotates the buffer first if appending need more bytes
// would cross the end-8 threshold of spec §4.6 "Rotation".
func (r *RingBuffer) ensureSpace(need int) {
	if r.curPos+need > len(r.buf)-rotationHeadroom {
		r.rotate()
	}
}

// rotate hands the completed-records region off to the writer task and
// carries any in-progress (not yet newline-terminated) bytes to the
// head of a freshly allocated buffer.
func (r *RingBuffer) rotate() {
	if complete := r.buf[r.begin:r.curMsgBegin]; len(complete) > 0 && r.writer != nil {
		r.writer.Enqueue(complete)
	}

	tail := append([]byte(nil), r.buf[r.curMsgBegin:r.curPos]...)
	r.buf = make([]byte, cap(r.buf))
	n := copy(r.buf, tail)

	r.begin = 0
	r.curMsgBegin = 0
	r.curPos = n
	r.rotationNum++
	r.lastRotate = clock.Now()
}

// ShouldPeriodicFlush reports whether this buffer hasn't rotated in
// maxFlushPeriod and holds a completed record (spec §4.6 "Periodic
// flush"). Nothing in the module calls it, so no periodic flush runs.
func (r *RingBuffer) ShouldPeriodicFlush(maxFlushPeriod time.Duration) bool {
	return clock.Now().Sub(r.lastRotate) >= maxFlushPeriod && r.curMsgBegin > r.begin
}

// String returns the buffer's content from begin through the current
// write position, completed records and any in-progress one alike; it
// does not hand anything off to the writer. Chiefly useful for tests
// and for a future admin-facing tail-buffer endpoint.
func (r *RingBuffer) String() string {
	return string(r.buf[r.begin:r.curPos])
}

// ForceRotate rotates unconditionally, used by fatal-abort coordination
// and by the server's bootstrap records to flush a thread's pending buffer.
func (r *RingBuffer) ForceRotate() {
	// Treat any in-progress, unterminated bytes as complete for the
	// purpose of a forced flush: nothing will ever terminate them now.
	r.curMsgBegin = r.curPos
	r.rotate()
}

// NewMessage starts a scoped record (spec §4.6's CSrvDiagMsg): it writes
// the thread's fixed prefix plus the per-record variable header, and
// returns a DiagMsg whose Write/Close calls append the body and
// terminate the line.
func (r *RingBuffer) NewMessage(lvl Level, reqID, appUID, clientIP, sessionID string) *DiagMsg {
	r.ensureSpace(len(r.fixedPrefix) + 256)
	r.curMsgBegin = r.curPos
	r.curPos += copy(r.buf[r.curPos:], r.fixedPrefix)

	header := r.prefix.Header(reqID, lvl, appUID, r.msgNum, r.rotationNum, clientIP, sessionID, clock.Now())
	r.curPos += copy(r.buf[r.curPos:], header)
	r.msgNum++

	return &DiagMsg{ring: r, fatal: lvl == Fatal}
}

// DiagMsg is the scoped, streaming message builder of spec §4.6. Its
// Close terminates the record with "\n" and advances cur_msg_begin past
// it; a Fatal-severity message triggers the coordinated halt on Close.
type DiagMsg struct {
	ring   *RingBuffer
	fatal  bool
	closed bool
}

// WriteString appends s to the in-progress record, rotating first if it
// would cross the headroom threshold.
func (m *DiagMsg) WriteString(s string) *DiagMsg {
	if m.closed {
		return m
	}
	m.ring.ensureSpace(len(s))
	m.ring.curPos += copy(m.ring.buf[m.ring.curPos:], s)
	return m
}

// Close terminates the record. Safe to call at most once; a second call
// is a no-op (mirroring the teacher's idempotent Close on its io hooks).
func (m *DiagMsg) Close() {
	if m.closed {
		return
	}
	m.closed = true

	m.ring.ensureSpace(1)
	m.ring.buf[m.ring.curPos] = '\n'
	m.ring.curPos++
	m.ring.curMsgBegin = m.ring.curPos

	if m.fatal {
		triggerFatalAbort(m.ring)
	}
}
