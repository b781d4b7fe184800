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

// Package logger implements the per-thread ring-buffer log pipeline of
// spec §4.6: one append-only buffer per worker thread, rotation that
// hands completed records off to a dedicated writer task, periodic
// flush, and fatal-severity coordinated process abort.
package logger

// Level is the severity of one log record, ordered the way the
// teacher's logger/level.go orders its logrus-backed Level (most severe
// first) even though this package has no logrus dependency of its own.
type Level uint8

const (
	Fatal Level = iota
	Error
	Warn
	Info
	Debug
)

// letter is the single ASCII character spec §6's log format embeds as
// the "A" field in the record prefix.
func (l Level) letter() byte {
	switch l {
	case Fatal:
		return 'F'
	case Error:
		return 'E'
	case Warn:
		return 'W'
	case Info:
		return 'I'
	case Debug:
		return 'D'
	default:
		return '?'
	}
}

func (l Level) String() string {
	switch l {
	case Fatal:
		return "fatal"
	case Error:
		return "error"
	case Warn:
		return "warn"
	case Info:
		return "info"
	case Debug:
		return "debug"
	default:
		return "unknown"
	}
}
