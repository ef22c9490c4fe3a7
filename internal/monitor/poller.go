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

// Package monitor polls FPGA error and status registers and reports
// each transition of a field from clear to active exactly once.
package monitor

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/klog/v2"

	"github.com/intel/fpgad/internal/config"
	"github.com/intel/fpgad/internal/errtable"
	"github.com/intel/fpgad/internal/events"
	"github.com/intel/fpgad/internal/metrics"
	"github.com/intel/fpgad/pkg/sysfs"
)

// Dispatcher receives rising edges.
type Dispatcher interface {
	Dispatch(occ events.Occurrence)
}

// Poller sweeps its devices every interval until the configuration stops
// running or the context is cancelled.
type Poller struct {
	reader     sysfs.Reader
	dispatcher Dispatcher
	discover   Discoverer
	cfg        *config.Config
	metrics    *metrics.Metrics
	name       string
	devices    []*MonitoredDevice
}

// NewPoller creates a poller named name. m may be nil.
func NewPoller(name string, cfg *config.Config, discover Discoverer, reader sysfs.Reader, dispatcher Dispatcher, m *metrics.Metrics) *Poller {
	return &Poller{
		name:       name,
		cfg:        cfg,
		discover:   discover,
		reader:     reader,
		dispatcher: dispatcher,
		metrics:    m,
	}
}

// NewErrorPoller creates the poller of FME and Port error registers.
func NewErrorPoller(cfg *config.Config, dispatcher Dispatcher, m *metrics.Metrics) *Poller {
	return NewPoller("error-poller", cfg, ErrorDevices(cfg.SysfsRoot, sysfs.Default), sysfs.Default, dispatcher, m)
}

// NewAPEventPoller creates the poller of Port power state and AP events.
func NewAPEventPoller(cfg *config.Config, dispatcher Dispatcher, m *metrics.Metrics) *Poller {
	return NewPoller("ap-event-poller", cfg, APEventDevices(cfg.SysfsRoot), sysfs.Default, dispatcher, m)
}

// Devices returns the monitored devices.
func (p *Poller) Devices() []*MonitoredDevice {
	return p.devices
}

// Discover replaces the device list with a fresh discovery pass.
func (p *Poller) Discover(logger logr.Logger) error {
	devs, err := p.discover(logger)
	if err != nil {
		return err
	}

	p.devices = devs

	return nil
}

// Run discovers devices and polls them until stopped. It returns nil when
// there is nothing to monitor, so other daemon parts keep running.
func (p *Poller) Run(ctx context.Context) error {
	logger := klog.FromContext(ctx).WithName(p.name)

	if err := p.Discover(logger); err != nil {
		logger.Error(err, "Device discovery failed, not polling")
		return nil
	}

	defer func() {
		p.devices = nil
	}()

	if len(p.devices) == 0 {
		logger.Info("No devices to monitor, not polling")
		return nil
	}

	logger.Info("Polling", "devices", len(p.devices), "interval", p.cfg.Interval)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for p.cfg.Running() {
		p.poll(logger)

		select {
		case <-ctx.Done():
			logger.V(1).Info("Context cancelled")
			return nil
		case <-ticker.C:
		}
	}

	logger.V(1).Info("Stopped")

	return nil
}

// PollOnce performs one sweep over the discovered devices.
func (p *Poller) PollOnce() {
	p.poll(klog.Background().WithName(p.name))
}

func (p *Poller) poll(logger logr.Logger) {
	for _, md := range p.devices {
		p.pollDevice(logger, md)
	}
}

type readResult struct {
	err   error
	value uint64
}

func (p *Poller) pollDevice(logger logr.Logger, md *MonitoredDevice) {
	values := make(map[string]readResult, 4)

	for i := range md.Table.Entries {
		entry := &md.Table.Entries[i]

		res, ok := values[entry.File]
		if !ok {
			res.value, res.err = p.reader.ReadUint64(md.Device.Attr(entry.File))
			values[entry.File] = res

			p.reportRead(logger, md, entry.File, res.err)
		}

		if res.err != nil {
			continue
		}

		masked := entry.Mask(res.value)
		active := md.Active(i)

		switch {
		case masked != 0 && !active:
			if !md.track(i) {
				logger.Error(nil, "Internal error: occurrence table is full, occurrence is not tracked",
					"device", md.Device.Name, "field", entry.Label, "capacity", MaxOccurrences)
			}

			p.raise(logger, md, entry, masked)
			md.status[i] = masked
		case active && entry.Policy == errtable.PolicyNone && masked != 0 && masked != md.status[i]:
			// Status fields report every value change, not just the first edge.
			p.raise(logger, md, entry, masked)
			md.status[i] = masked
		case masked == 0 && active:
			logger.V(2).Info("Cleared", "device", md.Device.Name, "field", entry.Label)
			md.untrack(i)
		}
	}
}

func (p *Poller) reportRead(logger logr.Logger, md *MonitoredDevice, file string, err error) {
	switch {
	case err != nil && !md.failing[file]:
		logger.Error(err, "Register read failed", "device", md.Device.Name, "file", file)
		md.failing[file] = true
	case err != nil:
		logger.V(4).Info("Register read still failing", "device", md.Device.Name, "file", file)
	case md.failing[file]:
		logger.Info("Register readable again", "device", md.Device.Name, "file", file)
		delete(md.failing, file)
	}
}

func (p *Poller) raise(logger logr.Logger, md *MonitoredDevice, entry *errtable.Entry, value uint64) {
	logger.Info("Detected", "device", md.Device.Name, "socket", md.Device.SocketID, "field", entry.Label, "value", value)

	p.metrics.ErrorDetected(md.Class.String(), entry.Label)

	p.dispatcher.Dispatch(events.Occurrence{
		Device:   md.Device.Name,
		Entry:    *entry,
		ObjectID: md.Device.ObjectID,
		SocketID: md.Device.SocketID,
		Value:    value,
	})
}
