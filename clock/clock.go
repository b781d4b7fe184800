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

// Package clock is the core's time source: a monotonic jiffy counter
// advanced once per scheduler tick by the service thread, a cached local
// time zone, and the applog timestamp formatter (spec §6).
package clock

import (
	"sync/atomic"
	"time"
)

// Jiffy is the scheduler's tick counter. Default rate is 100/s (10ms
// jiffies); the service thread is the sole writer, every other reader
// only loads.
type Jiffy struct {
	n    uint64
	rate uint32 // jiffies per second
}

// NewJiffy builds a counter ticking at ratePerSec (0 selects the default
// of 100).
func NewJiffy(ratePerSec uint32) *Jiffy {
	if ratePerSec == 0 {
		ratePerSec = 100
	}
	return &Jiffy{rate: ratePerSec}
}

// Advance is called once by the service thread at the top of each tick.
func (j *Jiffy) Advance() uint64 { return atomic.AddUint64(&j.n, 1) }

// Current returns the current jiffy count.
func (j *Jiffy) Current() uint64 { return atomic.LoadUint64(&j.n) }

// Duration is the wall-clock length of one jiffy.
func (j *Jiffy) Duration() time.Duration {
	return time.Second / time.Duration(j.rate)
}

// Rate returns the configured jiffies-per-second.
func (j *Jiffy) Rate() uint32 { return j.rate }

// Now returns the monotonic current time. Kept as a function value (not a
// raw time.Now call) so tests can substitute a deterministic source.
var Now = time.Now

// location caches the local time zone the way the original applog prefix
// does, avoiding a per-message zoneinfo lookup.
var location = time.Local

// SetLocation overrides the cached zone; used at server-facade init from
// TZ configuration, and by tests that need a fixed offset.
func SetLocation(loc *time.Location) {
	if loc != nil {
		location = loc
	}
}

// FormatApplog renders t as the applog timestamp field:
// YYYY-MM-DDThh:mm:ss.uuuuuu
func FormatApplog(t time.Time) string {
	return t.In(location).Format("2006-01-02T15:04:05.000000")
}
