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

package server

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nabbar/tcore/alloc"
)

// Registry builds a prometheus.Registry wired to live allocator,
// scheduler, socket and RCU counters. The core never opens an HTTP
// listener itself (spec.md Non-goals rule out protocol framing); an
// embedding application pulls this registry and serves it however it
// likes, e.g. behind its own promhttp.Handler.
func (s *Server) Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "taskserver",
		Subsystem: "sched",
		Name:      "running_threads",
		Help:      "Worker threads currently alive.",
	}, func() float64 { return float64(s.schedMgr.RunningThreads()) }))

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "taskserver",
		Subsystem: "sched",
		Name:      "current_jiffy",
		Help:      "Current value of the shared jiffy counter.",
	}, func() float64 { return float64(s.schedMgr.CurrentJiffy()) }))

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "taskserver",
		Subsystem: "sockets",
		Name:      "total",
		Help:      "Sockets currently tracked by the socket manager.",
	}, func() float64 { return float64(s.sockMgr.TotalSockets()) }))

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "taskserver",
		Subsystem: "rcu",
		Name:      "generation",
		Help:      "Current RCU grace-period counter.",
	}, func() float64 {
		gp, _ := s.rcuDomain.Generation()
		return float64(gp)
	}))

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "taskserver",
		Subsystem: "rcu",
		Name:      "active_threads",
		Help:      "Threads currently registered with the RCU domain.",
	}, func() float64 {
		_, active := s.rcuDomain.Generation()
		return float64(active)
	}))

	for _, m := range allocMetrics(s.allocator) {
		reg.MustRegister(m)
	}

	return reg
}

// allocMetrics builds one GaugeFunc per allocator size class plus the
// big-allocation and mmap totals, each reading a.Stats() fresh on every
// scrape rather than caching a snapshot.
func allocMetrics(a *alloc.Allocator) []prometheus.Collector {
	classes := a.Stats().LiveUserBlocks()

	out := make([]prometheus.Collector, 0, len(classes)+2)
	for i := range classes {
		idx := i
		out = append(out, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "taskserver",
			Subsystem:   "alloc",
			Name:        "live_user_blocks",
			Help:        "User allocations outstanding for this size class.",
			ConstLabels: prometheus.Labels{"class": strconv.Itoa(idx)},
		}, func() float64 { return float64(a.Stats().LiveUserBlocks()[idx]) }))
	}

	out = append(out,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "taskserver",
			Subsystem: "alloc",
			Name:      "big_alloc_bytes_total",
			Help:      "Cumulative bytes served by the big-allocation path.",
		}, func() float64 { return float64(a.Stats().BigAllocBytes) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "taskserver",
			Subsystem: "alloc",
			Name:      "mmap_bytes_total",
			Help:      "Cumulative bytes mapped from the OS.",
		}, func() float64 { return float64(a.Stats().MmapBytes) }),
	)
	return out
}
