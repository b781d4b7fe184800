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

package config_test

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nabbar/tcore/config"
)

var _ = Describe("Registry", func() {
	It("registers every component's flags on the command without error", func() {
		reg := config.NewRegistry()
		cmd := &cobra.Command{Use: "test"}

		Expect(reg.RegisterFlags(cmd)).To(Succeed())

		Expect(cmd.PersistentFlags().Lookup("task_server.max_threads")).NotTo(BeNil())
		Expect(cmd.PersistentFlags().Lookup("task_server.soft_sockets_limit")).NotTo(BeNil())
		Expect(cmd.PersistentFlags().Lookup("task_server.log_requests")).NotTo(BeNil())
		Expect(cmd.PersistentFlags().Lookup("task_server.slow_shutdown_timeout")).NotTo(BeNil())
	})

	It("falls back to documented defaults with no config file and no flags set", func() {
		reg := config.NewRegistry()
		cmd := &cobra.Command{Use: "test"}
		Expect(reg.RegisterFlags(cmd)).To(Succeed())

		s, err := reg.Load("")
		Expect(err).NotTo(HaveOccurred())
		Expect(s.MaxThreads).To(Equal(20))
		Expect(s.SoftSocketsLimit).To(Equal(int32(32768)))
	})

	It("lets a CLI flag override the INI file at the same key", func() {
		dir, err := os.MkdirTemp("", "config-registry-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		path := filepath.Join(dir, "taskserverd.conf")
		body := "[task_server]\nmax_threads=4\n"
		Expect(os.WriteFile(path, []byte(body), 0o644)).To(Succeed())

		reg := config.NewRegistry()
		cmd := &cobra.Command{Use: "test"}
		Expect(reg.RegisterFlags(cmd)).To(Succeed())
		Expect(cmd.PersistentFlags().Set("task_server.max_threads", "9")).To(Succeed())

		s, err := reg.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.MaxThreads).To(Equal(9))
	})

	It("reads an overridden value from the INI file when no flag is set", func() {
		dir, err := os.MkdirTemp("", "config-registry-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		path := filepath.Join(dir, "taskserverd.conf")
		body := "[task_server]\nmax_threads=7\n"
		Expect(os.WriteFile(path, []byte(body), 0o644)).To(Succeed())

		reg := config.NewRegistry()
		cmd := &cobra.Command{Use: "test"}
		Expect(reg.RegisterFlags(cmd)).To(Succeed())

		s, err := reg.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.MaxThreads).To(Equal(7))
	})
})
