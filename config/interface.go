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

// Package config componentizes spec §6's flat `[task_server]` settings the
// way `config/components/*` componentizes the teacher's configuration:
// one Component per subsystem, each owning the slice of cobra persistent
// flags and viper keys relevant to it, all bound into a single shared
// viper instance so a CLI flag overrides the INI file at the same key.
//
// This daemon has no hot-reload and no inter-component dependency graph,
// so Component is trimmed to the slice of the teacher's interface that
// still applies here: a type tag, a printable default, and flag
// registration. The lifecycle methods (Init/Start/Reload/Stop/
// Dependencies/IsRunning) have no counterpart because taskserverd starts
// once from a fully-loaded Settings and runs until shutdown.
package config

import (
	spfcbr "github.com/spf13/cobra"
	spfvpr "github.com/spf13/viper"
)

// Component is one subsystem's slice of the `[task_server]` configuration.
type Component interface {
	// Type names the subsystem this component configures, e.g. "scheduler".
	Type() string

	// DefaultConfig returns a human-readable dump of this component's
	// default settings, indented by the given prefix - for `--help`-style
	// diagnostics, matching the teacher's DefaultConfig(indent string).
	DefaultConfig(indent string) []byte

	// RegisterFlag declares this component's flags on cmd and binds each
	// one into vpr at the same dotted key the INI file uses, the way the
	// teacher's components bind into the shared config viper.
	RegisterFlag(cmd *spfcbr.Command, vpr *spfvpr.Viper) error
}
