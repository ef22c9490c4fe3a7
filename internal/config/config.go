// Copyright 2026 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the daemon configuration assembled from the command
// line and an optional ini file, and the shared running flag.
package config

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-ini/ini"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// MaxNullBitstreams bounds the number of failsafe bitstreams.
	MaxNullBitstreams = 32
	// MaxSockets is the default number of sockets served by AP6 workers.
	MaxSockets = 2
	// SocketsLimit is the largest configurable socket count.
	SocketsLimit = 8

	// DefaultInterval is the pause between two polling sweeps.
	DefaultInterval = 100 * time.Millisecond

	iniSection = "fpgad"
)

// Config is populated once at startup. Only the running flag changes later.
type Config struct {
	Directory      string
	LogFile        string
	PidFile        string
	Socket         string
	SysfsRoot      string
	MetricsAddress string
	ConfigFile     string
	Fpgaconf       string
	NullBitstreams []string
	Interval       time.Duration
	Sockets        int
	Umask          uint32
	Daemonize      bool
	running        atomic.Bool
}

// New returns a running configuration with default values.
func New() *Config {
	c := &Config{
		Directory: "/tmp",
		LogFile:   "/tmp/fpgad.log",
		PidFile:   "/tmp/fpgad.pid",
		Socket:    "/tmp/fpga_event_socket",
		SysfsRoot: "/sys",
		Fpgaconf:  "fpgaconf",
		Interval:  DefaultInterval,
		Sockets:   MaxSockets,
	}
	c.running.Store(true)

	return c
}

// Running reports whether long-lived loops should keep going.
func (c *Config) Running() bool {
	return c.running.Load()
}

// Stop asks every loop observing the configuration to finish.
func (c *Config) Stop() {
	c.running.Store(false)
}

// Validate checks values that flag parsing can't.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return errors.Errorf("poll interval must be positive, got %v", c.Interval)
	}

	if c.Sockets < 1 || c.Sockets > SocketsLimit {
		return errors.Errorf("socket count must be within 1..%d, got %d", SocketsLimit, c.Sockets)
	}

	if c.Socket == "" {
		return errors.New("IPC socket path is empty")
	}

	if len(c.NullBitstreams) > MaxNullBitstreams {
		return errors.Errorf("at most %d null bitstreams are supported", MaxNullBitstreams)
	}

	return nil
}

type stringList struct {
	list *[]string
}

func (s stringList) String() string {
	if s.list == nil {
		return ""
	}

	return strings.Join(*s.list, ",")
}

func (s stringList) Set(value string) error {
	if len(*s.list) >= MaxNullBitstreams {
		return errors.Errorf("too many null bitstreams, the limit is %d", MaxNullBitstreams)
	}

	*s.list = append(*s.list, value)

	return nil
}

type octal struct {
	value *uint32
}

func (o octal) String() string {
	if o.value == nil {
		return "0"
	}

	return fmt.Sprintf("%#o", *o.value)
}

// Set accepts any integer literal: "022" and "0o22" are octal, "18" is
// decimal.
func (o octal) Set(s string) error {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return errors.Wrapf(err, "invalid mode %q", s)
	}

	if v > 0o777 {
		return errors.Errorf("mode %q out of range", s)
	}

	*o.value = uint32(v)

	return nil
}

type microseconds struct {
	value *time.Duration
}

func (m microseconds) String() string {
	if m.value == nil {
		return ""
	}

	return strconv.FormatInt(m.value.Microseconds(), 10)
}

func (m microseconds) Set(s string) error {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return errors.Wrapf(err, "invalid interval %q", s)
	}

	*m.value = time.Duration(v) * time.Microsecond

	return nil
}

// FlagSet registers every option of c, in short and long form, together
// with the klog flags on a new flag set.
func (c *Config) FlagSet(name string, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)

	klog.InitFlags(fs)

	pair := func(short, long string, register func(name string)) {
		register(short)
		register(long)
	}

	pair("d", "daemon", func(n string) { fs.BoolVar(&c.Daemonize, n, c.Daemonize, "detach and run in the background") })
	pair("D", "directory", func(n string) { fs.StringVar(&c.Directory, n, c.Directory, "working directory of the daemon") })
	pair("l", "logfile", func(n string) { fs.StringVar(&c.LogFile, n, c.LogFile, "log file used in daemon mode") })
	pair("p", "pidfile", func(n string) { fs.StringVar(&c.PidFile, n, c.PidFile, "pid file used in daemon mode") })
	pair("m", "umask", func(n string) { fs.Var(octal{&c.Umask}, n, "file mode creation mask (octal)") })
	pair("s", "socket", func(n string) { fs.StringVar(&c.Socket, n, c.Socket, "path of the event UNIX socket") })
	pair("n", "null-bitstream", func(n string) {
		fs.Var(stringList{&c.NullBitstreams}, n, "failsafe bitstream, may be repeated")
	})
	pair("c", "config", func(n string) { fs.StringVar(&c.ConfigFile, n, c.ConfigFile, "ini configuration file") })
	pair("i", "interval", func(n string) {
		fs.Var(microseconds{&c.Interval}, n, "pause between polling sweeps in microseconds")
	})
	fs.StringVar(&c.SysfsRoot, "sysfs", c.SysfsRoot, "sysfs mount point")
	fs.StringVar(&c.Fpgaconf, "fpgaconf", c.Fpgaconf, "fpgaconf program used to apply null bitstreams")
	fs.IntVar(&c.Sockets, "sockets", c.Sockets, "number of processor sockets with corrective action workers")
	fs.StringVar(&c.MetricsAddress, "metrics-address", c.MetricsAddress, "serve Prometheus metrics on this address, empty disables")

	return fs
}

// Parse builds a configuration from command line arguments. Options given
// on the command line override the ini file. flag.ErrHelp is returned
// when help was requested.
func Parse(name string, args []string, output io.Writer) (*Config, error) {
	c := New()
	fs := c.FlagSet(name, output)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if fs.NArg() > 0 {
		return nil, errors.Errorf("unexpected arguments: %v", fs.Args())
	}

	if c.ConfigFile != "" {
		if err := c.load(fs); err != nil {
			return nil, err
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// load applies the [fpgad] section of the ini file to flags that were not
// given on the command line.
func (c *Config) load(fs *flag.FlagSet) error {
	file, err := ini.ShadowLoad(c.ConfigFile)
	if err != nil {
		return errors.Wrapf(err, "unable to load %s", c.ConfigFile)
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	given := func(long string) bool {
		if set[long] {
			return true
		}

		for short, l := range shortNames {
			if l == long && set[short] {
				return true
			}
		}

		return false
	}

	section, err := file.GetSection(iniSection)
	if err != nil {
		klog.Warningf("%s has no [%s] section", c.ConfigFile, iniSection)
		return nil
	}

	for _, key := range section.Keys() {
		name := key.Name()

		if _, ok := shortNames[name]; ok || name == "config" || fs.Lookup(name) == nil {
			return errors.Errorf("%s: unknown key %q", c.ConfigFile, name)
		}

		if given(name) {
			klog.V(2).Infof("%s: %s is overridden on the command line", c.ConfigFile, name)
			continue
		}

		for _, value := range key.ValueWithShadows() {
			if err := fs.Set(name, value); err != nil {
				return errors.Wrapf(err, "%s: key %q", c.ConfigFile, name)
			}
		}
	}

	return nil
}

var shortNames = map[string]string{
	"d": "daemon",
	"D": "directory",
	"l": "logfile",
	"p": "pidfile",
	"m": "umask",
	"s": "socket",
	"n": "null-bitstream",
	"c": "config",
	"i": "interval",
}
