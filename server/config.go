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

package server

import (
	"time"

	"github.com/spf13/viper"
)

// Settings is the `[task_server]` section of spec §6's configuration
// key table, loaded from an INI file via viper the way the teacher's
// config package loads every component's settings from a shared
// `libvpr.FuncViper`.
type Settings struct {
	MaxThreads            int
	JiffiesPerSec         uint32
	MaxTaskDelayMicros    int64
	IdleThreadStopTimeout time.Duration

	SoftSocketsLimit      int32
	HardSocketsLimit      int32
	ConnectionTimeout     time.Duration
	MinSocketInactivity   time.Duration
	SocketsCleaningBatch  int

	LogRequests      bool
	LogThreadBufSize int
	LogFlushPeriod   time.Duration
	LogReopenPeriod  time.Duration

	SlowShutdownTimeout time.Duration
	FastShutdownTimeout time.Duration
	MaxShutdownTime     time.Duration
}

// section is the INI section spec §6 declares mandatory.
const section = "task_server"

// LoadSettings reads confFile (an INI-style `section.key=value` store,
// per spec §6) via viper and fills in every default the core falls back
// to when a key is absent, the same defaulting style `Config.withDefaults`
// methods across `sched`/`timer`/`sockets` already use.
func LoadSettings(confFile string) (Settings, error) {
	v := viper.New()
	v.SetConfigType("ini")

	if confFile == "" {
		return defaultSettings(), nil
	}
	v.SetConfigFile(confFile)
	if err := v.ReadInConfig(); err != nil {
		return defaultSettings(), err
	}

	return SettingsFromViper(v), nil
}

// SettingsFromViper extracts the `[task_server]` section out of an
// already-populated viper instance, applying the same defaulting as
// LoadSettings. A shared viper instance lets callers bind component
// flags (see package config) into the same keys this reads, so a CLI
// flag overrides the INI file the way `spf13/cobra`/`spf13/viper`
// binding normally does.
func SettingsFromViper(v *viper.Viper) Settings {
	s := defaultSettings()

	get := func(key string) string { return v.GetString(section + "." + key) }

	if n := v.GetInt(section + ".max_threads"); n > 0 {
		s.MaxThreads = n
	}
	if n := v.GetUint32(section + ".jiffies_per_sec"); n > 0 {
		s.JiffiesPerSec = n
	}
	if n := v.GetInt64(section + ".max_task_delay"); n > 0 {
		s.MaxTaskDelayMicros = n
	}
	if n := v.GetInt64(section + ".idle_thread_stop_timeout"); n > 0 {
		s.IdleThreadStopTimeout = time.Duration(n) * time.Second
	}
	if n := v.GetInt32(section + ".soft_sockets_limit"); n > 0 {
		s.SoftSocketsLimit = n
	}
	if n := v.GetInt32(section + ".hard_sockets_limit"); n > 0 {
		s.HardSocketsLimit = n
	}
	if n := v.GetInt64(section + ".connection_timeout"); n > 0 {
		s.ConnectionTimeout = time.Duration(n) * time.Millisecond
	}
	if n := v.GetInt64(section + ".min_socket_inactivity"); n > 0 {
		s.MinSocketInactivity = time.Duration(n) * time.Second
	}
	if n := v.GetInt(section + ".sockets_cleaning_batch"); n >= 10 {
		s.SocketsCleaningBatch = n
	}
	if get("log_requests") != "" {
		s.LogRequests = v.GetBool(section + ".log_requests")
	}
	if n := v.GetInt(section + ".log_thread_buf_size"); n > 0 {
		s.LogThreadBufSize = n
	}
	if n := v.GetInt64(section + ".log_flush_period"); n > 0 {
		s.LogFlushPeriod = time.Duration(n) * time.Second
	}
	if n := v.GetInt64(section + ".log_reopen_period"); n > 0 {
		s.LogReopenPeriod = time.Duration(n) * time.Second
	}
	if n := v.GetInt64(section + ".slow_shutdown_timeout"); n > 0 {
		s.SlowShutdownTimeout = time.Duration(n) * time.Second
	}
	if n := v.GetInt64(section + ".fast_shutdown_timeout"); n > 0 {
		s.FastShutdownTimeout = time.Duration(n) * time.Second
	}
	if n := v.GetInt64(section + ".max_shutdown_time"); n > 0 {
		s.MaxShutdownTime = time.Duration(n) * time.Second
	}

	return s
}

func defaultSettings() Settings {
	return Settings{
		MaxThreads:            20,
		JiffiesPerSec:         100,
		MaxTaskDelayMicros:    2000,
		IdleThreadStopTimeout: 300 * time.Second,

		SoftSocketsLimit:     32768,
		HardSocketsLimit:     65536,
		ConnectionTimeout:    5 * time.Second,
		MinSocketInactivity:  300 * time.Second,
		SocketsCleaningBatch: 64,

		LogRequests:      true,
		LogThreadBufSize: 10 * 1024 * 1024,
		LogFlushPeriod:   60 * time.Second,
		LogReopenPeriod:  24 * time.Hour,

		SlowShutdownTimeout: 30 * time.Second,
		FastShutdownTimeout: 5 * time.Second,
		MaxShutdownTime:     60 * time.Second,
	}
}
