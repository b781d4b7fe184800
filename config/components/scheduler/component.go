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

// Package scheduler is the `config` component for spec §4.2's worker-pool
// sizing and jiffy cadence, mirroring `config/components/log`'s shape.
package scheduler

import (
	"fmt"

	spfcbr "github.com/spf13/cobra"
	spfvpr "github.com/spf13/viper"
)

const key = "task_server"

type component struct {
	vpr *spfvpr.Viper
}

// New builds the scheduler configuration component, bound to vpr - the
// same viper instance server.SettingsFromViper later reads from.
func New(vpr *spfvpr.Viper) *component {
	return &component{vpr: vpr}
}

func (c *component) Type() string { return "scheduler" }

func (c *component) DefaultConfig(indent string) []byte {
	return []byte(fmt.Sprintf(
		"%smax_threads = 20\n%sjiffies_per_sec = 100\n%smax_task_delay = 2000\n%sidle_thread_stop_timeout = 300\n",
		indent, indent, indent, indent,
	))
}

func (c *component) RegisterFlag(cmd *spfcbr.Command, vpr *spfvpr.Viper) error {
	cmd.PersistentFlags().Int(key+".max_threads", 20, "maximum number of worker threads")
	cmd.PersistentFlags().Uint32(key+".jiffies_per_sec", 100, "scheduler jiffy rate")
	cmd.PersistentFlags().Int64(key+".max_task_delay", 2000, "maximum allowed task scheduling delay, in microseconds")
	cmd.PersistentFlags().Int64(key+".idle_thread_stop_timeout", 300, "seconds an idle worker thread waits before stopping")

	for _, k := range []string{"max_threads", "jiffies_per_sec", "max_task_delay", "idle_thread_stop_timeout"} {
		if err := vpr.BindPFlag(key+"."+k, cmd.PersistentFlags().Lookup(key+"."+k)); err != nil {
			return err
		}
	}
	return nil
}
