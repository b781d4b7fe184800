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

import "sync/atomic"

// Phase is the server's shutdown state machine of spec §4.7: "transitions
// the server state through ShuttingDownSoft -> ShuttingDownHard ->
// Stopping -> Stopped".
type Phase uint32

const (
	Running Phase = iota
	ShuttingDownSoft
	ShuttingDownHard
	Stopping
	Stopped
)

func (p Phase) String() string {
	switch p {
	case Running:
		return "running"
	case ShuttingDownSoft:
		return "shutting-down-soft"
	case ShuttingDownHard:
		return "shutting-down-hard"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// phaseState is a CAS-guarded Phase, the same pattern task.Flags uses
// for its own state machine, scaled down to a linear one.
type phaseState struct {
	v uint32
}

func (s *phaseState) load() Phase { return Phase(atomic.LoadUint32(&s.v)) }

// advanceTo moves the phase forward to next, refusing to move backward
// (a stale event arriving after a further transition must not resurrect
// an earlier phase). Returns whether the transition happened.
func (s *phaseState) advanceTo(next Phase) bool {
	for {
		cur := atomic.LoadUint32(&s.v)
		if Phase(cur) >= next {
			return false
		}
		if atomic.CompareAndSwapUint32(&s.v, cur, uint32(next)) {
			return true
		}
	}
}
