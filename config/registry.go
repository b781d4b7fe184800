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

package config

import (
	spfcbr "github.com/spf13/cobra"
	spfvpr "github.com/spf13/viper"

	"github.com/nabbar/tcore/config/components/log"
	"github.com/nabbar/tcore/config/components/scheduler"
	cptserver "github.com/nabbar/tcore/config/components/server"
	"github.com/nabbar/tcore/config/components/sockets"
	"github.com/nabbar/tcore/server"
)

// Registry holds one Component per `[task_server]` subsystem plus the
// shared viper instance their flags bind into, matching the way the
// teacher's config.model keeps one *spfvpr.Viper for every component to
// read and write through (config/components.go).
type Registry struct {
	vpr *spfvpr.Viper
	cpt []Component
}

// NewRegistry builds a Registry with the four stock components: log,
// server, scheduler, sockets - one per row of SPEC_FULL.md's AMBIENT
// STACK configuration bullet.
func NewRegistry() *Registry {
	v := spfvpr.New()
	v.SetConfigType("ini")

	return &Registry{
		vpr: v,
		cpt: []Component{
			log.New(v),
			cptserver.New(v),
			scheduler.New(v),
			sockets.New(v),
		},
	}
}

// RegisterFlags declares every component's flags on cmd, the same
// top-level fan-out the teacher's config.Config.ComponentStart loops
// over components to perform per-component work.
func (r *Registry) RegisterFlags(cmd *spfcbr.Command) error {
	for _, c := range r.cpt {
		if err := c.RegisterFlag(cmd, r.vpr); err != nil {
			return ErrorComponentRegisterFlag.Error(err)
		}
	}
	return nil
}

// Load reads confFile (when non-empty) into the registry's viper
// instance - the same instance component flags were bound into, so a
// flag set on the command line overrides the file - and extracts the
// `[task_server]` settings via server.SettingsFromViper.
func (r *Registry) Load(confFile string) (server.Settings, error) {
	if confFile == "" {
		return server.SettingsFromViper(r.vpr), nil
	}

	r.vpr.SetConfigFile(confFile)
	if err := r.vpr.ReadInConfig(); err != nil {
		return server.Settings{}, ErrorConfigFileRead.Error(err)
	}

	return server.SettingsFromViper(r.vpr), nil
}

// Viper exposes the shared viper instance for diagnostics/tests.
func (r *Registry) Viper() *spfvpr.Viper {
	return r.vpr
}
