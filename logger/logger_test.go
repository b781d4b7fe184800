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

package logger_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nabbar/tcore/logger"
)

var _ = Describe("log record atomicity", func() {
	It("never interleaves two records appended back to back", func() {
		p := logger.NewPrefix("taskserverd")
		r := logger.NewRingBuffer(1, p.PID(), 4096, nil, p)

		m1 := r.NewMessage(logger.Info, "req-1", "", "127.0.0.1", "sess-1")
		m1.WriteString("first record body")
		m1.Close()

		m2 := r.NewMessage(logger.Warn, "req-2", "", "127.0.0.1", "sess-1")
		m2.WriteString("second record body")
		m2.Close()

		lines := strings.Split(strings.TrimRight(r.String(), "\n"), "\n")
		Expect(lines).To(HaveLen(2))
		Expect(lines[0]).To(ContainSubstring("first record body"))
		Expect(lines[1]).To(ContainSubstring("second record body"))
	})
})

var _ = Describe("rotation hand-off", func() {
	It("hands completed records to the writer and keeps writing after rotation", func() {
		dir, err := os.MkdirTemp("", "logger-rotation-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)
		path := filepath.Join(dir, "out.log")

		w := logger.NewWriter(path, 0)
		defer w.Close()

		// A tiny buffer forces a rotation within a handful of records.
		p := logger.NewPrefix("taskserverd")
		r := logger.NewRingBuffer(2, p.PID(), 256, w, p)

		for i := 0; i < 20; i++ {
			m := r.NewMessage(logger.Info, "req", "", "", "")
			m.WriteString("payload line")
			m.Close()
		}

		for i := 0; i < 50; i++ {
			w.ExecuteSlice(2)
		}
		w.Flush()

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(bytes.Count(data, []byte("payload line"))).To(BeNumerically(">=", 1))
	})
})
