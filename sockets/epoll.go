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

// Package sockets implements the epoll-driven socket engine of spec
// §4.5: a single epoll instance polled once per jiffy from the main
// thread, buffered per-connection read/write state machines, a
// zero-copy-style proxy between two connections, and socket-list
// lifecycle management (idle eviction, overload shedding).
package sockets

import (
	"sync"

	"golang.org/x/sys/unix"
)

const maxEpollEvents = 256

// eventMask is the fixed interest set registered for every connection fd
// (spec §4.5: "Edge-triggered membership with EPOLLIN|EPOLLOUT|EPOLLRDHUP").
const eventMask = unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLET

// Poller wraps one epoll instance and the registry mapping fds back to
// the Conn or Listener that owns them, grounded on the teacher pack's
// epoll wiring in the eventloop reference repo (poller_linux.go), here
// shaped to the single-reactor, per-jiffy cooperative model instead of
// a dedicated OS thread per poller.
type Poller struct {
	epfd int

	mu    sync.RWMutex
	owner map[int32]interface{} // fd -> *Conn or *Listener
	buf   [maxEpollEvents]unix.EpollEvent
}

// NewPoller creates the epoll instance.
func NewPoller() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{epfd: fd, owner: make(map[int32]interface{})}, nil
}

// Close releases the epoll fd.
func (p *Poller) Close() error { return unix.Close(p.epfd) }

// Register adds fd to the interest set, associating it with owner (a
// *Conn or *Listener) for dispatch in Wait.
func (p *Poller) Register(fd int, owner interface{}) error {
	ev := &unix.EpollEvent{Events: eventMask, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return err
	}
	p.mu.Lock()
	p.owner[int32(fd)] = owner
	p.mu.Unlock()
	return nil
}

// Unregister removes fd from the interest set.
func (p *Poller) Unregister(fd int) {
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	p.mu.Lock()
	delete(p.owner, int32(fd))
	p.mu.Unlock()
}

// Wait blocks for up to timeoutMillis (the caller passes the jiffy
// duration, per spec §4.5: "epoll_wait once per jiffy with a timeout
// equal to the jiffy duration") and bumps each ready fd's read/write
// event counters before marking its owning task runnable, exactly the
// per-event bookkeeping spec §4.5 describes.
func (p *Poller) Wait(timeoutMillis int) (int, error) {
	n, err := unix.EpollWait(p.epfd, p.buf[:], timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	for i := 0; i < n; i++ {
		ev := p.buf[i]
		owner, ok := p.owner[ev.Fd]
		if !ok {
			continue
		}
		dispatch(owner, ev.Events)
	}
	return n, nil
}

func dispatch(owner interface{}, events uint32) {
	switch o := owner.(type) {
	case *Listener:
		if events&(unix.EPOLLIN|unix.EPOLLERR) != 0 {
			o.bumpAccept()
			o.MakeRunnable()
		}
	case *Conn:
		if events&unix.EPOLLIN != 0 {
			o.BumpReadEvent()
		}
		if events&unix.EPOLLOUT != 0 {
			o.BumpWriteEvent()
		}
		if events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			o.setError()
		}
		o.MakeRunnable()
	}
}
