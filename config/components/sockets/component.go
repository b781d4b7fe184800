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

// Package sockets is the `config` component for spec §4.5's connection
// limits and timeouts, mirroring `config/components/log`'s shape.
package sockets

import (
	"fmt"

	spfcbr "github.com/spf13/cobra"
	spfvpr "github.com/spf13/viper"
)

const key = "task_server"

type component struct {
	vpr *spfvpr.Viper
}

// New builds the sockets configuration component, bound to vpr - the
// same viper instance server.SettingsFromViper later reads from.
func New(vpr *spfvpr.Viper) *component {
	return &component{vpr: vpr}
}

func (c *component) Type() string { return "sockets" }

func (c *component) DefaultConfig(indent string) []byte {
	return []byte(fmt.Sprintf(
		"%ssoft_sockets_limit = 32768\n%shard_sockets_limit = 65536\n%sconnection_timeout = 5000\n%smin_socket_inactivity = 300\n%ssockets_cleaning_batch = 64\n",
		indent, indent, indent, indent, indent,
	))
}

func (c *component) RegisterFlag(cmd *spfcbr.Command, vpr *spfvpr.Viper) error {
	cmd.PersistentFlags().Int32(key+".soft_sockets_limit", 32768, "connection count at which housekeeping starts trimming idle sockets")
	cmd.PersistentFlags().Int32(key+".hard_sockets_limit", 65536, "connection count above which new accepts are refused")
	cmd.PersistentFlags().Int64(key+".connection_timeout", 5000, "pending-connect timeout, in milliseconds")
	cmd.PersistentFlags().Int64(key+".min_socket_inactivity", 300, "seconds of inactivity before a socket becomes eligible for cleanup")
	cmd.PersistentFlags().Int(key+".sockets_cleaning_batch", 64, "sockets inspected per cleaning pass")

	for _, k := range []string{
		"soft_sockets_limit", "hard_sockets_limit", "connection_timeout",
		"min_socket_inactivity", "sockets_cleaning_batch",
	} {
		if err := vpr.BindPFlag(key+"."+k, cmd.PersistentFlags().Lookup(key+"."+k)); err != nil {
			return err
		}
	}
	return nil
}
