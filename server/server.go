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

// Package server assembles every core package into the running process
// of spec §4.7: fixed-order component start-up, listening-port
// registration, signal-driven shutdown, and the shutdown phase state
// machine.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/nabbar/tcore/alloc"
	"github.com/nabbar/tcore/clock"
	"github.com/nabbar/tcore/logger"
	"github.com/nabbar/tcore/rcu"
	"github.com/nabbar/tcore/sched"
	"github.com/nabbar/tcore/sockets"
	"github.com/nabbar/tcore/task"
	"github.com/nabbar/tcore/timer"
)

// maxPortSlots is spec §6's "Port slots are bounded (16 by default)".
const maxPortSlots = 16

// portSlot is one registered listening port, bound immediately if
// registered after the server has already started.
type portSlot struct {
	port     int
	factory  sockets.ConnFactory
	listener *sockets.Listener
	fd       int
}

// Server is the facade of spec §4.7: it owns one instance each of
// clock.Jiffy, rcu.Domain, alloc.Allocator, timer.Wheel, sched.Manager,
// sockets.Manager/Poller, and logger.Writer, and drives them through
// goroutines grouped with golang.org/x/sync/errgroup — the same
// concurrency-helper the DOMAIN STACK expansion earmarked for "main/
// service/worker goroutine orchestration and shutdown fan-in".
type Server struct {
	settings Settings

	jiffy     *clock.Jiffy
	rcuDomain *rcu.Domain
	allocator *alloc.Allocator
	wheel     *timer.Wheel
	schedMgr  *sched.Manager
	poller    *sockets.Poller
	sockMgr   *sockets.Manager
	writer    *logger.Writer
	prefix    *logger.Prefix
	ringBufs  []*logger.RingBuffer // index 0 reserved, matching sched's thread numbering

	startedAt time.Time

	mu      sync.Mutex
	ports   []*portSlot
	started bool

	components []Component

	phase    phaseState
	shutdown chan struct{}
	once     sync.Once
}

// New builds a Server from Settings and opens logPath for the writer
// task. Components are constructed here but not yet started; Start
// (via Run) performs the fixed-order start-up spec §4.7 names.
func New(settings Settings, logPath, appName string) (*Server, error) {
	jiffy := clock.NewJiffy(settings.JiffiesPerSec)
	domain := rcu.New()

	schedMgr := sched.New(sched.Config{
		MaxThreads:          settings.MaxThreads,
		MaxTaskDelayMicros:  settings.MaxTaskDelayMicros,
		IdleStopTimeoutSecs: int64(settings.IdleThreadStopTimeout / time.Second),
	}, jiffy, domain)

	poller, err := sockets.NewPoller()
	if err != nil {
		return nil, err
	}
	sockMgr := sockets.NewManager(poller, sockets.Config{
		HardSocketLimit:      settings.HardSocketsLimit,
		SoftSocketLimit:      settings.SoftSocketsLimit,
		MinSocketInactivity:  uint64(settings.MinSocketInactivity / time.Second) * uint64(settings.JiffiesPerSec),
		SocketsCleaningBatch: settings.SocketsCleaningBatch,
	}, settings.JiffiesPerSec)
	sockMgr.SetRegisterFunc(schedMgr.Register)

	prefix := logger.NewPrefix(appName)
	w := logger.NewWriter(logPath, settings.LogReopenPeriod)
	schedMgr.Register(&w.Base)

	s := &Server{
		settings:  settings,
		jiffy:     jiffy,
		rcuDomain: domain,
		allocator: alloc.New(),
		wheel:     timer.New(0),
		schedMgr:  schedMgr,
		poller:    poller,
		sockMgr:   sockMgr,
		writer:    w,
		prefix:    prefix,
		ringBufs:  make([]*logger.RingBuffer, settings.MaxThreads+1),
		shutdown:  make(chan struct{}),
	}
	for i := 1; i <= settings.MaxThreads; i++ {
		s.ringBufs[i] = logger.NewRingBuffer(i, prefix.PID(), settings.LogThreadBufSize, w, prefix)
	}
	s.components = s.buildComponents()
	return s, nil
}

// Log returns the per-thread log ring buffer a worker's task.Slice
// should use to emit records, keeping every thread's buffer
// single-writer per spec §5's "Shared resources" ("log buffers are
// single-writer").
func (s *Server) Log(threadIdx int) *logger.RingBuffer {
	if threadIdx < 0 || threadIdx >= len(s.ringBufs) {
		return nil
	}
	return s.ringBufs[threadIdx]
}

// buildComponents returns the fixed start order spec §4.7 names: "time
// -> sockets-mgr -> threads-mgr -> memory -> timers -> timers-wheel".
// Most of these components are already fully constructed by New; each
// Component here only needs to do the part of start-up that must not
// run until the whole facade is wired (e.g. nothing currently blocks,
// but the ordering is preserved verbatim so a future component that does
// need staged start-up slots in without reshuffling the others).
func (s *Server) buildComponents() []Component {
	return []Component{
		&componentFunc{name: "time", start: func() error { return nil }},
		&componentFunc{name: "sockets-mgr", start: func() error { return nil }},
		&componentFunc{name: "threads-mgr", start: func() error { return nil }},
		&componentFunc{name: "memory", start: func() error { return nil }, stop: s.allocator.Flush},
		&componentFunc{name: "timers", start: func() error { return nil }},
		&componentFunc{name: "timers-wheel", start: func() error { return nil }},
	}
}

// AddListeningPort registers a listening port, callable before or after
// Run. If the server has already started, the socket is created and
// handed to the sockets manager immediately (spec §4.7); otherwise it is
// created during Run's start-up sequence. Bounded to maxPortSlots.
func (s *Server) AddListeningPort(port int, factory sockets.ConnFactory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.ports) >= maxPortSlots {
		return ErrorPortSlotsExhausted.Error(fmt.Errorf("port %d, limit %d", port, maxPortSlots))
	}

	slot := &portSlot{port: port, factory: factory}
	s.ports = append(s.ports, slot)

	if s.started {
		return s.bindPort(slot)
	}
	return nil
}

// bindPort creates, binds, and listens on slot.port, then registers the
// resulting Listener task with both the scheduler and the socket
// manager's thread-1 socket list (the single accept thread, matching
// spec §5's "one main thread pinned to epoll").
func (s *Server) bindPort(slot *portSlot) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return err
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)

	addr := &unix.SockaddrInet4{Port: slot.port}
	if err := unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return err
	}
	if err := unix.Listen(fd, 1024); err != nil {
		_ = unix.Close(fd)
		return err
	}

	l := sockets.NewListener(fd, slot.factory, s.settings.HardSocketsLimit, s.sockMgr)
	l.SetSlice(l.AcceptLoop)
	slot.listener = l
	slot.fd = fd
	s.schedMgr.Register(&l.Base)
	return s.poller.Register(fd, l)
}

// Run starts every component in order, binds any port registered before
// Run was called, launches the main/service/worker goroutines under an
// errgroup, installs the SIGINT/SIGTERM/SIGPIPE handling of spec §6, and
// blocks until the shutdown phase reaches Stopped or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	for _, c := range s.components {
		if err := c.Start(); err != nil {
			return ErrorComponentStart.Error(fmt.Errorf("%s: %w", c.Name(), err))
		}
	}

	s.startedAt = clock.Now()
	s.emitBootstrapRecord("start", strings.Join(os.Args, " "))

	s.mu.Lock()
	s.started = true
	pending := append([]*portSlot(nil), s.ports...)
	s.mu.Unlock()
	for _, slot := range pending {
		if slot.listener == nil {
			if err := s.bindPort(slot); err != nil {
				return err
			}
		}
	}

	signal.Ignore(syscall.SIGPIPE)
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error { return s.runMain(gctx) })
	grp.Go(func() error { return s.runService(gctx) })
	for i := 1; i <= s.settings.MaxThreads; i++ {
		idx := i
		grp.Go(func() error { return s.runWorker(gctx, idx) })
	}

	grp.Go(func() error {
		select {
		case <-sigCh:
			s.RequestShutdown()
		case <-gctx.Done():
		case <-s.shutdown:
		}
		return nil
	})

	err := grp.Wait()
	if s.Phase() == Stopped {
		uptime := clock.Now().Sub(s.startedAt)
		s.emitBootstrapRecord("stop", fmt.Sprintf("0 %d.%09d", uptime/time.Second, uptime%time.Second))
	}
	for i := len(s.components) - 1; i >= 0; i-- {
		s.components[i].Stop()
	}
	_ = s.writer.Close()
	return err
}

// emitBootstrapRecord writes spec §6's special "start"/"stop" record
// through thread 1's ring buffer and forces it out immediately rather
// than waiting for the thread's own rotation, since neither bootstrap
// event has a worker thread actively producing ordinary traffic yet.
func (s *Server) emitBootstrapRecord(tag, body string) {
	r := s.Log(1)
	if r == nil {
		return
	}
	m := r.NewMessage(logger.Info, tag, "", "", "")
	m.WriteString(fmt.Sprintf("%-13s %s", tag, body))
	m.Close()
	r.ForceRotate()
}

// RequestShutdown begins the shutdown phase state machine, the API-call
// path spec §4.7 names alongside the signal-driven one.
func (s *Server) RequestShutdown() {
	if s.phase.advanceTo(ShuttingDownSoft) {
		s.once.Do(func() { close(s.shutdown) })
	}
}

// Phase reports the current shutdown phase.
func (s *Server) Phase() Phase { return s.phase.load() }

// runMain is the epoll-pinned main thread of spec §5: it blocks only in
// Poll, bounded by the jiffy.
func (s *Server) runMain(ctx context.Context) error {
	timeoutMillis := int(s.jiffy.Duration().Milliseconds())
	if timeoutMillis <= 0 {
		timeoutMillis = 10
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if s.phase.load() >= Stopping {
			return nil
		}
		if _, err := s.sockMgr.Poll(timeoutMillis); err != nil && err != unix.EINTR {
			return err
		}
	}
}

// runService is the timing/scheduling-pinned service thread of spec §5:
// once per jiffy it advances the clock, the timer wheel, every worker's
// jiffy boundary, the socket-list cleanup sweep, and the shutdown phase
// check.
func (s *Server) runService(ctx context.Context) error {
	interval := s.jiffy.Duration()
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	tk := time.NewTicker(interval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C:
		}

		now := s.jiffy.Advance()
		s.wheel.Advance(now / uint64(s.jiffy.Rate()))

		for i := 1; i <= s.schedMgr.ThreadCount()-1; i++ {
			s.schedMgr.JiffyBoundary(i)
			s.sockMgr.CleanSocketList(i, now, func(c *sockets.Conn) {
				c.Flags.Set(task.NeedTermination)
			})
		}

		s.checkShutdownProgress()
		if s.phase.load() == Stopping {
			s.phase.advanceTo(Stopped)
			s.once.Do(func() { close(s.shutdown) })
			return nil
		}
	}
}

// checkShutdownProgress approximates spec §4.7's per-jiffy check
// ("whether every worker is idle ... reports ready") with the one
// worker-liveness signal package sched exposes publicly: once every
// worker thread has self-terminated via the idle-thread-stop path,
// IsRunning(i) goes false for all of them and the soft phase advances.
// A real per-thread QueuedCount check would be tighter but sched does
// not expose it outside the package; one soft->hard escalation per
// still-active jiffy is an acceptable approximation here.
func (s *Server) checkShutdownProgress() {
	phase := s.phase.load()
	if phase == Running || phase >= Stopping {
		return
	}

	anyRunning := false
	for i := 1; i <= s.schedMgr.ThreadCount()-1; i++ {
		if s.schedMgr.IsRunning(i) {
			anyRunning = true
			break
		}
	}
	if !anyRunning {
		s.phase.advanceTo(Stopping)
		return
	}
	if phase == ShuttingDownSoft {
		s.phase.advanceTo(ShuttingDownHard)
	}
}

// runWorker is one cooperative worker thread of spec §5: RunOne in a
// tight loop while the thread is meant to be alive, yielding briefly
// when it finds nothing queued so it doesn't spin the CPU.
func (s *Server) runWorker(ctx context.Context, idx int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if !s.schedMgr.IsRunning(idx) && s.phase.load() >= Stopping {
			return nil
		}
		if !s.schedMgr.RunOne(idx) {
			time.Sleep(time.Millisecond)
		}
		if logger.FatalTriggered() {
			logger.HaltAndWait(s.writer)
			logger.Abort()
		}
	}
}
