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

// Package log is the `config` component for spec §4.6's ring-buffer
// pipeline, grounded on `config/components/log`'s RegisterFlag shape.
package log

import (
	"fmt"

	spfcbr "github.com/spf13/cobra"
	spfvpr "github.com/spf13/viper"
)

const key = "task_server"

type component struct {
	vpr *spfvpr.Viper
}

// New builds the log configuration component, bound to vpr - the same
// viper instance server.SettingsFromViper later reads from.
func New(vpr *spfvpr.Viper) *component {
	return &component{vpr: vpr}
}

func (c *component) Type() string { return "log" }

func (c *component) DefaultConfig(indent string) []byte {
	return []byte(fmt.Sprintf(
		"%slog_requests = true\n%slog_thread_buf_size = 10485760\n%slog_flush_period = 60\n%slog_reopen_period = 86400\n",
		indent, indent, indent, indent,
	))
}

func (c *component) RegisterFlag(cmd *spfcbr.Command, vpr *spfvpr.Viper) error {
	cmd.PersistentFlags().Bool(key+".log_requests", true, "log one line per accepted connection/request")
	cmd.PersistentFlags().Int(key+".log_thread_buf_size", 10*1024*1024, "per-thread log ring buffer size, in bytes")
	cmd.PersistentFlags().Int64(key+".log_flush_period", 60, "seconds between forced log flushes")
	cmd.PersistentFlags().Int64(key+".log_reopen_period", 86400, "seconds between log file reopen/rotation checks")

	for _, k := range []string{"log_requests", "log_thread_buf_size", "log_flush_period", "log_reopen_period"} {
		if err := vpr.BindPFlag(key+"."+k, cmd.PersistentFlags().Lookup(key+"."+k)); err != nil {
			return err
		}
	}
	return nil
}
