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

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"

	"github.com/intel/fpgad/internal/config"
	"github.com/intel/fpgad/internal/fpgad"
)

const (
	// daemonizedEnv marks the detached child of a --daemon start.
	daemonizedEnv = "FPGAD_DAEMONIZED"
	logMark       = "----- MARK -----\n"
)

// detach starts a copy of the process in a new session and returns true
// in the parent.
func detach() (bool, error) {
	if os.Getenv(daemonizedEnv) != "" {
		return false, nil
	}

	self, err := os.Executable()
	if err != nil {
		return false, errors.Wrap(err, "can't find executable")
	}

	cmd := exec.Command(self, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonizedEnv+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return false, errors.Wrap(err, "can't start daemon")
	}

	return true, cmd.Process.Release()
}

func openLog(path string, foreground bool) (io.Closer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open log file %s", path)
	}

	if _, err := f.WriteString(logMark); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "can't write to %s", path)
	}

	fs := flag.NewFlagSet("log", flag.ContinueOnError)
	klog.InitFlags(fs)

	_ = fs.Set("logtostderr", "false")
	_ = fs.Set("alsologtostderr", strconv.FormatBool(foreground))

	klog.SetOutput(f)

	return f, nil
}

func writePidFile(path string) error {
	return errors.Wrapf(os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644),
		"can't write pid file %s", path)
}

func run(cfg *config.Config) error {
	if cfg.Daemonize {
		unix.Umask(int(cfg.Umask))

		if err := os.Chdir(cfg.Directory); err != nil {
			return errors.Wrapf(err, "can't change directory to %s", cfg.Directory)
		}
	}

	logFile, err := openLog(cfg.LogFile, !cfg.Daemonize)
	if err != nil {
		return err
	}

	defer func() {
		klog.Flush()
		logFile.Close()
	}()

	if err = writePidFile(cfg.PidFile); err != nil {
		return err
	}

	d, err := fpgad.New(cfg)
	if err != nil {
		os.Remove(cfg.PidFile)
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigs
		klog.Infof("got %s, stopping", sig)
		cfg.Stop()
	}()

	klog.Infof("fpgad started, pid %d", os.Getpid())

	if err = d.Run(context.Background()); err != nil {
		klog.Errorf("%+v", err)
		return err
	}

	if err := os.Remove(cfg.PidFile); err != nil {
		klog.Warningf("can't remove pid file: %v", err)
	}

	return nil
}

func main() {
	cfg, err := config.Parse(os.Args[0], os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}

	if cfg.Daemonize {
		parent, err := detach()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%+v\n", err)
			os.Exit(1)
		}

		if parent {
			os.Exit(0)
		}
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}
