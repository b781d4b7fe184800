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

// Package server is the `config` component for spec §4.7's shutdown
// phase timings, mirroring `config/components/log`'s shape. It shares
// its bare package name with the top-level `server` facade package;
// importers that need both alias this one (as the registry does).
package server

import (
	"fmt"

	spfcbr "github.com/spf13/cobra"
	spfvpr "github.com/spf13/viper"
)

const key = "task_server"

type component struct {
	vpr *spfvpr.Viper
}

// New builds the server configuration component, bound to vpr - the
// same viper instance server.SettingsFromViper later reads from.
func New(vpr *spfvpr.Viper) *component {
	return &component{vpr: vpr}
}

func (c *component) Type() string { return "server" }

func (c *component) DefaultConfig(indent string) []byte {
	return []byte(fmt.Sprintf(
		"%sslow_shutdown_timeout = 30\n%sfast_shutdown_timeout = 5\n%smax_shutdown_time = 60\n",
		indent, indent, indent,
	))
}

func (c *component) RegisterFlag(cmd *spfcbr.Command, vpr *spfvpr.Viper) error {
	cmd.PersistentFlags().Int64(key+".slow_shutdown_timeout", 30, "seconds allowed for the slow (graceful) shutdown phase")
	cmd.PersistentFlags().Int64(key+".fast_shutdown_timeout", 5, "seconds allowed for the fast shutdown phase")
	cmd.PersistentFlags().Int64(key+".max_shutdown_time", 60, "hard ceiling, in seconds, on total shutdown time")

	for _, k := range []string{"slow_shutdown_timeout", "fast_shutdown_timeout", "max_shutdown_time"} {
		if err := vpr.BindPFlag(key+"."+k, cmd.PersistentFlags().Lookup(key+"."+k)); err != nil {
			return err
		}
	}
	return nil
}
