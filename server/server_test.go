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

package server_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nabbar/tcore/server"
	"github.com/nabbar/tcore/sockets"
)

var _ = Describe("configuration loading", func() {
	It("falls back to every documented default with no config file", func() {
		s, err := server.LoadSettings("")
		Expect(err).NotTo(HaveOccurred())
		Expect(s.MaxThreads).To(Equal(20))
		Expect(s.JiffiesPerSec).To(Equal(uint32(100)))
		Expect(s.SocketsCleaningBatch).To(BeNumerically(">=", 10))
	})

	It("overrides defaults from an INI file's [task_server] section", func() {
		dir, err := os.MkdirTemp("", "server-config-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		path := filepath.Join(dir, "taskserverd.conf")
		body := "[task_server]\nmax_threads=4\njiffies_per_sec=50\nlog_requests=false\n"
		Expect(os.WriteFile(path, []byte(body), 0o644)).To(Succeed())

		s, err := server.LoadSettings(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.MaxThreads).To(Equal(4))
		Expect(s.JiffiesPerSec).To(Equal(uint32(50)))
		Expect(s.LogRequests).To(BeFalse())
	})
})

var _ = Describe("listening port slots", func() {
	It("rejects a 17th registration", func() {
		dir, err := os.MkdirTemp("", "server-ports-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		settings, _ := server.LoadSettings("")
		settings.MaxThreads = 1
		srv, err := server.New(settings, filepath.Join(dir, "out.log"), "test")
		Expect(err).NotTo(HaveOccurred())

		factory := func(fd, threadIdx int) *sockets.Conn { return sockets.NewConn(fd, threadIdx) }
		for i := 0; i < 16; i++ {
			Expect(srv.AddListeningPort(0, factory)).To(Succeed())
		}
		Expect(srv.AddListeningPort(0, factory)).To(HaveOccurred())
	})
})

var _ = Describe("metrics registry", func() {
	It("exposes allocator/scheduler/socket/rcu gauges without opening a port", func() {
		dir, err := os.MkdirTemp("", "server-metrics-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		settings, _ := server.LoadSettings("")
		settings.MaxThreads = 1
		srv, err := server.New(settings, filepath.Join(dir, "out.log"), "test")
		Expect(err).NotTo(HaveOccurred())

		mfs, err := srv.Registry().Gather()
		Expect(err).NotTo(HaveOccurred())

		names := map[string]bool{}
		for _, mf := range mfs {
			names[mf.GetName()] = true
		}
		Expect(names).To(HaveKey("taskserver_sched_running_threads"))
		Expect(names).To(HaveKey("taskserver_rcu_generation"))
		Expect(names).To(HaveKey("taskserver_sockets_total"))
	})
})

var _ = Describe("shutdown phase", func() {
	It("only ever advances forward", func() {
		dir, err := os.MkdirTemp("", "server-phase-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		settings, _ := server.LoadSettings("")
		settings.MaxThreads = 1
		srv, err := server.New(settings, filepath.Join(dir, "out.log"), "test")
		Expect(err).NotTo(HaveOccurred())

		Expect(srv.Phase()).To(Equal(server.Running))
		srv.RequestShutdown()
		time.Sleep(time.Millisecond)
		Expect(srv.Phase()).To(Equal(server.ShuttingDownSoft))

		// A second call must not panic and must not move the phase backward.
		srv.RequestShutdown()
		Expect(srv.Phase()).To(Equal(server.ShuttingDownSoft))
	})
})
