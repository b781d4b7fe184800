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

package sockets_test

import (
	"bytes"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/sys/unix"

	"github.com/nabbar/tcore/sockets"
)

// socketpair returns two connected, non-blocking Unix domain socket fds,
// used in place of a real TCP accept for deterministic, sandboxed tests.
func socketpair() (a, b int) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	Expect(err).NotTo(HaveOccurred())
	return fds[0], fds[1]
}

var _ = Describe("buffered line reading", func() {
	It("yields abc, def, empty, ghi with no data loss", func() {
		a, b := socketpair()
		defer unix.Close(a)
		defer unix.Close(b)

		_, err := unix.Write(b, []byte("abc\r\ndef\n\x00ghi\n"))
		Expect(err).NotTo(HaveOccurred())
		time.Sleep(5 * time.Millisecond)

		c := sockets.NewConn(a, 1)
		_, err = c.ReadToBuf()
		Expect(err).NotTo(HaveOccurred())

		var lines []string
		for {
			line, ok := c.ReadLine()
			if !ok {
				break
			}
			lines = append(lines, line)
		}

		Expect(lines).To(Equal([]string{"abc", "def", "", "ghi"}))
	})
})

var _ = Describe("connection task wiring", func() {
	It("drives an echo slice bound via SetSlice", func() {
		a, b := socketpair()
		defer unix.Close(a)
		defer unix.Close(b)

		c := sockets.NewConn(a, 1)
		c.SetSlice(func(int) {
			if _, err := c.ReadToBuf(); err != nil {
				return
			}
			for {
				line, ok := c.ReadLine()
				if !ok {
					break
				}
				_, _ = c.Write([]byte(line + "\n"))
			}
			_ = c.Flush()
		})

		_, err := unix.Write(b, []byte("ping\n"))
		Expect(err).NotTo(HaveOccurred())
		time.Sleep(5 * time.Millisecond)

		c.ExecuteSlice(1)

		buf := make([]byte, 16)
		n, err := unix.Read(b, buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(buf[:n])).To(Equal("ping\n"))
	})
})

var _ = Describe("buffered write", func() {
	It("holds a small write until flushed", func() {
		a, b := socketpair()
		defer unix.Close(a)
		defer unix.Close(b)

		c := sockets.NewConn(a, 1)
		n, err := c.Write([]byte("hello"))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(5))

		buf := make([]byte, 16)
		_, err = unix.Read(b, buf)
		Expect(err).To(Equal(unix.EAGAIN))

		Expect(c.Flush()).To(Succeed())
		time.Sleep(5 * time.Millisecond)

		n2, err := unix.Read(b, buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(buf[:n2])).To(Equal("hello"))
	})

	It("writes directly once a payload reaches the threshold", func() {
		a, b := socketpair()
		defer unix.Close(a)
		defer unix.Close(b)

		c := sockets.NewConn(a, 1)
		payload := bytes.Repeat([]byte("x"), 1000)
		_, err := c.Write(payload)
		Expect(err).NotTo(HaveOccurred())
		time.Sleep(5 * time.Millisecond)

		buf := make([]byte, 2000)
		n, err := unix.Read(b, buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1000))
	})
})

var _ = Describe("proxying", func() {
	It("conserves every byte transferred from source to destination", func() {
		srcLocal, srcRemote := socketpair()
		dstLocal, dstRemote := socketpair()
		defer unix.Close(srcLocal)
		defer unix.Close(srcRemote)
		defer unix.Close(dstLocal)
		defer unix.Close(dstRemote)

		payload := bytes.Repeat([]byte("abcdefgh"), 200) // 1600 bytes
		_, err := unix.Write(srcRemote, payload)
		Expect(err).NotTo(HaveOccurred())
		time.Sleep(5 * time.Millisecond)

		src := sockets.NewConn(srcLocal, 1)
		dst := sockets.NewConn(dstLocal, 1)
		src.StartProxyTo(dst, int64(len(payload)))

		for i := 0; i < 100; i++ {
			if src.ProxyStep() {
				break
			}
			_ = dst.Flush()
		}
		_ = dst.Flush()
		time.Sleep(5 * time.Millisecond)

		got := make([]byte, 0, len(payload))
		buf := make([]byte, 512)
		for len(got) < len(payload) {
			n, err := unix.Read(dstRemote, buf)
			if err == unix.EAGAIN {
				time.Sleep(time.Millisecond)
				continue
			}
			Expect(err).NotTo(HaveOccurred())
			got = append(got, buf[:n]...)
		}

		Expect(got).To(Equal(payload))
	})
})
