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

// Command taskserverd is the process entrypoint of spec §4.7/§6: it
// parses -conffile/-logfile, loads the [task_server] section, and runs
// the server facade until a shutdown signal or the context is cancelled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nabbar/tcore/config"
	"github.com/nabbar/tcore/server"
)

func main() {
	cmd, err := newRootCommand()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() (*cobra.Command, error) {
	var confFile string
	var logFile string

	reg := config.NewRegistry()

	cmd := &cobra.Command{
		Use:   "taskserverd",
		Short: "Cooperative task-server core daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(reg, confFile, logFile)
		},
	}

	// Other args are ignored by the core per spec §6: positional args are
	// accepted and unused, and FParseErrWhitelist makes cobra skip flags
	// it does not recognize instead of failing.
	cmd.FParseErrWhitelist = cobra.FParseErrWhitelist{UnknownFlags: true}
	cmd.Flags().StringVar(&confFile, "conffile", "", "path to the [task_server] INI configuration file")
	cmd.Flags().StringVar(&logFile, "logfile", "taskserverd.log", "path to the applog output file")

	if err := reg.RegisterFlags(cmd); err != nil {
		return nil, err
	}

	return cmd, nil
}

func run(reg *config.Registry, confFile, logFile string) error {
	settings, err := reg.Load(confFile)
	if err != nil {
		return server.ErrorConfigLoad.Error(err)
	}

	srv, err := server.New(settings, logFile, "taskserverd")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}
