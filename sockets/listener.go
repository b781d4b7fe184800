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

// ConnFactory builds the protocol-specific connection task for a freshly
// accepted fd, on the thread that will own it (spec §4.5 "Accept":
// "constructs the connection task via the factory registered with the
// listening port").
type ConnFactory func(fd, threadIdx int) *Conn

// Listener is the single per-port accept task (spec §4.5): it reads its
// own event counter, accepts in a loop until EAGAIN (edge-triggered
// discipline), and hands each new Conn to the owning Manager.
type Listener struct {
	task.Base

	fd      int
	factory ConnFactory

	hardLimit  int32
	totalConns *int32 // shared across all listeners + conns under one Manager

	mgr *Manager

	acceptEvts uint64
	seenEvts   uint64
}

// NewListener wraps an already-bound, already-listening, non-blocking fd.
func NewListener(fd int, factory ConnFactory, hardLimit int32, mgr *Manager) *Listener {
	return &Listener{fd: fd, factory: factory, hardLimit: hardLimit, mgr: mgr, totalConns: &mgr.totalSockets}
}

// Fd returns the listening socket's file descriptor.
func (l *Listener) Fd() int { return l.fd }

func (l *Listener) bumpAccept() { atomic.AddUint64(&l.acceptEvts, 1) }

func (l *Listener) hasWork() bool {
	return atomic.LoadUint64(&l.seenEvts) != atomic.LoadUint64(&l.acceptEvts)
}

// AcceptLoop drains every pending connection on threadIdx, rejecting
// past the hard limit and otherwise wiring non-blocking + keep-alive +
// no-delay before handing the connection to the Manager's socket list
// (spec §4.5 "Accept").
func (l *Listener) AcceptLoop(threadIdx int) {
	if !l.hasWork() {
		return
	}
	atomic.StoreUint64(&l.seenEvts, atomic.LoadUint64(&l.acceptEvts))

	for {
		nfd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == unix.EAGAIN {
			return
		}
		if err != nil {
			return
		}

		if atomic.LoadInt32(l.totalConns) >= l.hardLimit {
			_ = unix.Close(nfd)
			continue
		}

		_ = unix.SetsockoptInt(nfd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
		_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

		conn := l.factory(nfd, threadIdx)
		l.mgr.StartProcessing(conn, threadIdx)
	}
}
