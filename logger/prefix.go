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
	"os"
	"strings"
	"time"

	"github.com/shirou/gopsutil/host"

	"github.com/nabbar/tcore/clock"
)

// Prefix caches the parts of spec §6's log line header that never
// change for the life of the process: PID, hostname, and the
// application name. Queried once at logger start-up (gopsutil's host.Info,
// falling back to os.Hostname on error) the way the teacher's
// logger/hookfile caches its open file handle rather than re-resolving it
// on every write.
type Prefix struct {
	pid      int
	hostname string
	appName  string
}

// NewPrefix resolves and caches the process-wide header fields.
func NewPrefix(appName string) *Prefix {
	hostname := ""
	if info, err := host.Info(); err == nil {
		hostname = info.Hostname
	}
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	return &Prefix{pid: os.Getpid(), hostname: hostname, appName: appName}
}

// PID is the cached process id, also used to build each thread's fixed
// "PID/TTT/" record-prefix segment (spec §4.6 "Producer side").
func (p *Prefix) PID() int { return p.pid }

// Header renders the variable portion of spec §6's log line:
//
//	REQID/A  APPUID NNNN/MMMM YYYY-MM-DDThh:mm:ss.uuuuuu  HOSTNAME  CLIENT_IP  SESSION_ID  APPNAME
//
// msgNum/rotationNum are the "NNNN/MMMM" sequence counters (per-thread
// message count / buffer rotation count); the core's distillation names
// every field but not their exact source, so msgNum/rotationNum are
// supplied by the caller (RingBuffer tracks both) and appUID defaults to
// the request id when the caller has no separate application-level UID.
func (p *Prefix) Header(reqID string, lvl Level, appUID string, msgNum, rotationNum uint64, clientIP, sessionID string, now time.Time) string {
	if appUID == "" {
		appUID = reqID
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%c  %s %04d/%04d %s  %s  %s  %s  %s  ",
		reqID, lvl.letter(), appUID, msgNum%10000, rotationNum%10000,
		clock.FormatApplog(now), p.hostname, clientIP, sessionID, p.appName)
	return b.String()
}
