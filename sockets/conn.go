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

package sockets

import (
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/nabbar/tcore/task"
)

const (
	// readBufCap is the fixed per-connection read buffer size (spec §4.5).
	readBufCap = 1000
	// writeBufInitCap is the initial growable write buffer size.
	writeBufInitCap = 2000
	// minWriteSize is the buffered-write threshold of spec §4.5.
	minWriteSize = 1000
)

// Conn is one accepted or dialed connection: a task (so it can be
// scheduled, timed out, and RCU-freed like any other unit of work) plus
// the buffered read/write state machine of spec §4.5. Concrete protocol
// handlers embed *Conn and supply the task.Slice that drives it.
type Conn struct {
	task.Base

	fd        int
	threadIdx int

	readBuf   []byte
	readStart int
	readEnd   int
	crMet     bool

	canReadMore  bool
	sockHasRead  bool
	regReadEvts  uint64
	seenReadEvts uint64

	writeBuf      []byte
	sockCanWrite  bool
	regWriteEvts  uint64
	seenWriteEvts uint64
	flushIsDone   bool

	needToClose bool
	hasErr      bool

	connectStartJiffy uint64
	lastActiveJiffy   uint64

	proxyDst    *Conn
	proxySrc    *Conn
	proxyRemain int64
}

// NewConn wraps an already-accepted, non-blocking fd. The protocol
// handler that owns the new connection's behavior is expected to call
// SetSlice right after construction (typically from inside a
// ConnFactory), binding the task.Slice capability to a closure over
// this very Conn.
func NewConn(fd, threadIdx int) *Conn {
	return &Conn{
		fd:          fd,
		threadIdx:   threadIdx,
		readBuf:     make([]byte, readBufCap),
		writeBuf:    make([]byte, 0, writeBufInitCap),
		canReadMore: true,
	}
}

// Fd returns the underlying file descriptor, for epoll registration.
func (c *Conn) Fd() int { return c.fd }

// Close releases the underlying file descriptor.
func (c *Conn) Close() error { return unix.Close(c.fd) }

// BumpReadEvent and BumpWriteEvent are called by the poller once per
// epoll event (spec §4.5: "each returned event bumps a per-socket
// reg_read_evts/reg_write_evts counter").
func (c *Conn) BumpReadEvent()  { atomic.AddUint64(&c.regReadEvts, 1) }
func (c *Conn) BumpWriteEvent() { atomic.AddUint64(&c.regWriteEvts, 1) }

func (c *Conn) setError() { c.hasErr = true }

// HasError reports a previously recorded I/O error (spec §7: "recorded
// on the task, observable via has_error()").
func (c *Conn) HasError() bool { return c.hasErr }

// RequestClose marks the connection for the next clean_socket_list sweep.
func (c *Conn) RequestClose() { c.needToClose = true }

// NeedEarlyClose is the read-loop bail-out condition of spec §4.5.
func (c *Conn) NeedEarlyClose() bool {
	return c.needToClose || c.hasErr || !c.canReadMore
}

// HasReadWork reports the read-readiness interlock of spec §4.5: a
// protocol handler should only attempt a read when a prior recv filled
// the buffer completely (more may be pending in the kernel) or a read
// event has arrived since the last read attempt.
func (c *Conn) HasReadWork() bool {
	return c.sockHasRead || atomic.LoadUint64(&c.seenReadEvts) != atomic.LoadUint64(&c.regReadEvts)
}

// HasWriteWork is the write-side counterpart of HasReadWork.
func (c *Conn) HasWriteWork() bool {
	return c.sockCanWrite || atomic.LoadUint64(&c.seenWriteEvts) != atomic.LoadUint64(&c.regWriteEvts)
}

// ReadToBuf compacts the read buffer and issues one recv into the
// remaining space (spec §4.5 "Buffered read").
func (c *Conn) ReadToBuf() (int, error) {
	if c.readStart > 0 {
		n := copy(c.readBuf, c.readBuf[c.readStart:c.readEnd])
		c.readStart = 0
		c.readEnd = n
	}
	if c.readEnd >= len(c.readBuf) {
		return 0, nil
	}

	n, err := unix.Read(c.fd, c.readBuf[c.readEnd:])
	atomic.StoreUint64(&c.seenReadEvts, atomic.LoadUint64(&c.regReadEvts))
	c.sockHasRead = false

	switch {
	case err == unix.EAGAIN:
		return 0, nil
	case err != nil:
		c.setError()
		return 0, err
	case n == 0:
		c.canReadMore = false
		return 0, nil
	default:
		full := c.readEnd+n == len(c.readBuf)
		c.readEnd += n
		c.sockHasRead = full
		return n, nil
	}
}

// Read copies up to len(p) bytes, first from the buffer, then topping
// up from the socket per spec §4.5's two-path rule: read_to_buf-then-
// copy when the caller wants less than the buffer's capacity, otherwise
// straight into the caller's slice once the buffer is drained.
func (c *Conn) Read(p []byte) (int, error) {
	if c.readEnd > c.readStart {
		n := copy(p, c.readBuf[c.readStart:c.readEnd])
		c.readStart += n
		return n, nil
	}
	if len(p) < cap(c.readBuf) {
		if _, err := c.ReadToBuf(); err != nil {
			return 0, err
		}
		n := copy(p, c.readBuf[c.readStart:c.readEnd])
		c.readStart += n
		return n, nil
	}

	n, err := unix.Read(c.fd, p)
	atomic.StoreUint64(&c.seenReadEvts, atomic.LoadUint64(&c.regReadEvts))
	switch {
	case err == unix.EAGAIN:
		return 0, nil
	case err != nil:
		c.setError()
		return 0, err
	case n == 0:
		c.canReadMore = false
		return 0, nil
	default:
		return n, nil
	}
}

// ReadLine scans the currently buffered bytes for a CR, LF, or NUL
// terminator (spec §4.5, testable property 7): on CR it remembers
// cr_met so an immediately following LF or NUL is swallowed rather than
// read back as an extra empty line. It does not itself top up the
// buffer; callers drain every complete line after each ReadToBuf.
func (c *Conn) ReadLine() (line string, ok bool) {
	i := c.readStart
	for i < c.readEnd {
		b := c.readBuf[i]
		if b == '\r' {
			line = string(c.readBuf[c.readStart:i])
			c.readStart = i + 1
			c.crMet = true
			return line, true
		}
		if b == '\n' || b == 0 {
			if c.crMet {
				c.crMet = false
				c.readStart = i + 1
				i = c.readStart
				continue
			}
			line = string(c.readBuf[c.readStart:i])
			c.readStart = i + 1
			return line, true
		}
		c.crMet = false
		i++
	}
	return "", false
}

// Write buffers or writes buf per the four branches of spec §4.5
// "Buffered write".
func (c *Conn) Write(buf []byte) (int, error) {
	total := len(buf)
	pending := len(c.writeBuf)

	switch {
	case pending == 0 && total >= minWriteSize:
		return c.writeDirect(buf)
	case pending == 0:
		c.writeBuf = append(c.writeBuf, buf...)
		return total, nil
	case pending+total <= cap(c.writeBuf):
		c.writeBuf = append(c.writeBuf, buf...)
		return total, nil
	case pending < minWriteSize:
		fillN := minWriteSize - pending
		if fillN > total {
			fillN = total
		}
		c.writeBuf = append(c.writeBuf, buf[:fillN]...)
		if err := c.Flush(); err != nil {
			return fillN, err
		}
		rest := buf[fillN:]
		if len(rest) == 0 {
			return total, nil
		}
		n, err := c.writeDirectOrBuffer(rest)
		return fillN + n, err
	default: // pending >= minWriteSize: flush first, then re-decide
		if err := c.Flush(); err != nil {
			return 0, err
		}
		return c.writeDirectOrBuffer(buf)
	}
}

func (c *Conn) writeDirectOrBuffer(buf []byte) (int, error) {
	if len(c.writeBuf) == 0 && len(buf) >= minWriteSize {
		return c.writeDirect(buf)
	}
	c.writeBuf = append(c.writeBuf, buf...)
	return len(buf), nil
}

func (c *Conn) writeDirect(buf []byte) (int, error) {
	n, err := unix.Write(c.fd, buf)
	if err == unix.EAGAIN {
		c.writeBuf = append(c.writeBuf, buf...)
		c.sockCanWrite = false
		return len(buf), nil
	}
	if err != nil {
		c.setError()
		return n, err
	}
	if n < len(buf) {
		c.writeBuf = append(c.writeBuf, buf[n:]...)
		c.sockCanWrite = false
		return len(buf), nil
	}
	return n, nil
}

// Flush drains buffered bytes, stopping (without error) on EAGAIN and
// waiting for the next write-readiness event.
func (c *Conn) Flush() error {
	for len(c.writeBuf) > 0 {
		n, err := unix.Write(c.fd, c.writeBuf)
		if err == unix.EAGAIN {
			c.sockCanWrite = false
			return nil
		}
		if err != nil {
			c.setError()
			return err
		}
		c.writeBuf = c.writeBuf[n:]
	}
	c.flushIsDone = true
	return nil
}

// RequestFlush defers flushing to the scheduler loop by marking the
// connection runnable again; FlushIsDone reports completion for a
// caller that issued the request.
func (c *Conn) RequestFlush() {
	c.flushIsDone = false
	c.MakeRunnable()
}

// FlushIsDone reports whether the last RequestFlush has fully drained
// the write buffer.
func (c *Conn) FlushIsDone() bool { return c.flushIsDone }

// StartProxyTo begins transferring up to sizeBytes from self to dst,
// reusing dst's write buffer and self's read buffer as staging (spec
// §4.5 "Proxy"). Driven exclusively from the source side via ProxyStep.
func (c *Conn) StartProxyTo(dst *Conn, sizeBytes int64) {
	c.proxyDst = dst
	dst.proxySrc = c
	c.proxyRemain = sizeBytes
}

// ProxyStep moves one batch of bytes from self to the proxy destination,
// returning true once the transfer has ended (quota exhausted, EOF, or
// an error on either side).
func (c *Conn) ProxyStep() bool {
	dst := c.proxyDst
	if dst == nil {
		return true
	}
	if c.NeedEarlyClose() || dst.NeedEarlyClose() {
		c.endProxy()
		return true
	}

	if _, err := c.ReadToBuf(); err != nil {
		c.endProxy()
		return true
	}

	avail := c.readEnd - c.readStart
	if avail == 0 {
		return false
	}
	if int64(avail) > c.proxyRemain {
		avail = int(c.proxyRemain)
	}

	n, err := dst.Write(c.readBuf[c.readStart : c.readStart+avail])
	c.readStart += n
	c.proxyRemain -= int64(n)

	if err != nil {
		c.endProxy()
		return true
	}
	if c.proxyRemain <= 0 {
		c.endProxy()
		return true
	}
	return false
}

func (c *Conn) endProxy() {
	dst := c.proxyDst
	c.proxyDst = nil
	if dst != nil {
		dst.proxySrc = nil
		dst.MakeRunnable()
	}
}

// StashConnectStart records the jiffy a non-blocking client connect was
// issued, for the per-jiffy timeout check (spec §4.5 "Connect").
func (c *Conn) StashConnectStart(jiffy uint64) { c.connectStartJiffy = jiffy }

// ConnectTimedOut reports whether a pending client-side connect has
// exceeded timeoutJiffies without a write-ready event arriving.
func (c *Conn) ConnectTimedOut(currentJiffy, timeoutJiffies uint64) bool {
	return !c.HasWriteWork() && currentJiffy-c.connectStartJiffy > timeoutJiffies
}

// Touch records the current jiffy as this connection's last activity,
// used by idle eviction (spec §4.5 "Lifetime").
func (c *Conn) Touch(jiffy uint64) { atomic.StoreUint64(&c.lastActiveJiffy, jiffy) }

// IdleFor reports how many jiffies have elapsed since the last Touch.
func (c *Conn) IdleFor(currentJiffy uint64) uint64 {
	return currentJiffy - atomic.LoadUint64(&c.lastActiveJiffy)
}
