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

// Package fpgad assembles the daemon: the error and AP event pollers, the
// event socket server and the AP6 workers, sharing one event registry.
package fpgad

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
	utilsexec "k8s.io/utils/exec"

	"github.com/intel/fpgad/internal/ap6"
	"github.com/intel/fpgad/internal/config"
	"github.com/intel/fpgad/internal/events"
	"github.com/intel/fpgad/internal/ipc"
	"github.com/intel/fpgad/internal/metrics"
	"github.com/intel/fpgad/internal/monitor"
)

// Daemon owns every long-lived part of fpgad.
type Daemon struct {
	cfg        *config.Config
	gatherer   prometheus.Gatherer
	registry   *events.Registry
	workers    *ap6.Workers
	dispatcher *events.Dispatcher
	errors     *monitor.Poller
	apEvents   *monitor.Poller
	server     *ipc.Server
}

// New creates a daemon applying the failsafe configuration through
// fpgaconf.
func New(cfg *config.Config) (*Daemon, error) {
	return NewWithProgrammer(cfg, ap6.NewFpgaconfProgrammer(utilsexec.New(), cfg.Fpgaconf, cfg.NullBitstreams))
}

// NewWithProgrammer creates a daemon with a custom failsafe programmer.
func NewWithProgrammer(cfg *config.Config, programmer ap6.Programmer) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m, err := metrics.New(reg)
	if err != nil {
		return nil, errors.WithMessage(err, "metrics")
	}

	d := &Daemon{
		cfg:      cfg,
		gatherer: reg,
		registry: events.NewRegistry(m),
		workers:  ap6.NewWorkers(cfg, programmer, m),
	}

	d.dispatcher = events.NewDispatcher(klog.Background().WithName("dispatcher"), d.registry, d.workers, m)
	d.errors = monitor.NewErrorPoller(cfg, d.dispatcher, m)
	d.apEvents = monitor.NewAPEventPoller(cfg, d.dispatcher, m)
	d.server = ipc.NewServer(cfg.Socket, cfg, d.registry, m)

	return d, nil
}

// Registry returns the event registry shared by the server and the
// dispatcher.
func (d *Daemon) Registry() *events.Registry {
	return d.registry
}

// Workers returns the AP6 workers.
func (d *Daemon) Workers() *ap6.Workers {
	return d.workers
}

// Gatherer returns the daemon metrics.
func (d *Daemon) Gatherer() prometheus.Gatherer {
	return d.gatherer
}

// Run listens on the event socket and runs every part of the daemon until
// the configuration stops running or ctx is done. A failing part stops
// the others.
func (d *Daemon) Run(ctx context.Context) error {
	logger := klog.FromContext(ctx).WithName("fpgad")

	if err := d.server.Listen(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(klog.NewContext(ctx, logger))
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.workers.Run(gctx) })
	g.Go(func() error { return d.errors.Run(gctx) })
	g.Go(func() error { return d.apEvents.Run(gctx) })
	g.Go(func() error { return d.server.Run(gctx) })

	metricsDone := make(chan error, 1)

	if d.cfg.MetricsAddress != "" {
		go func() {
			metricsDone <- metrics.Serve(ctx, d.cfg.MetricsAddress, d.gatherer)
		}()
	} else {
		metricsDone <- nil
	}

	logger.Info("Started", "socket", d.cfg.Socket, "sockets", d.cfg.Sockets)

	err := g.Wait()
	if err != nil {
		logger.Error(err, "Daemon part failed")
	}

	d.cfg.Stop()
	cancel()

	if merr := <-metricsDone; merr != nil {
		logger.Error(merr, "Metrics server failed")
	}

	logger.Info("Stopped")

	return err
}
