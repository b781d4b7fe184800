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

// Component is the core's own lifecycle contract, shaped after the
// teacher's config/types.Component but trimmed to what the core actually
// needs: a fixed start order and a best-effort stop, no CLI flags, no
// monitor pool, no reload (the core has no notion of reloading the time
// source or the scheduler out from under running tasks).
type Component interface {
	// Name identifies the component for start/stop logging.
	Name() string

	// Start initializes the component. Called in the fixed order spec
	// §4.7 names: time -> sockets-mgr -> threads-mgr -> memory -> timers
	// -> timers-wheel. Returning an error aborts the remaining start
	// sequence.
	Start() error

	// Stop releases the component's resources. Called in reverse start
	// order. Must not block past the shutdown phase's own timeout; it
	// should clean up best-effort and never return an error, mirroring
	// the teacher's own ComponentEvent.Stop contract.
	Stop()
}

// componentFunc adapts two plain functions to Component, for the
// components (time, memory) whose start/stop logic doesn't warrant a
// dedicated named type.
type componentFunc struct {
	name  string
	start func() error
	stop  func()
}

func (c *componentFunc) Name() string { return c.name }
func (c *componentFunc) Start() error { return c.start() }
func (c *componentFunc) Stop() {
	if c.stop != nil {
		c.stop()
	}
}
