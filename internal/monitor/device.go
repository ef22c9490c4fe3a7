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

package monitor

import (
	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/intel/fpgad/internal/errtable"
	"github.com/intel/fpgad/pkg/fpga"
	"github.com/intel/fpgad/pkg/sysfs"
)

// MaxOccurrences bounds the number of simultaneously active entries
// tracked per device.
const MaxOccurrences = 64

// MonitoredDevice is a device under observation with the table selected
// for it and its currently active entries. It is owned by one poller.
type MonitoredDevice struct {
	Device *fpga.Device
	Table  errtable.Table
	// active holds indices into Table.Entries.
	active []int
	// failing holds files whose last read failed.
	failing map[string]bool
	// status holds the last raised value of active status entries.
	status map[int]uint64
	Class  errtable.Class
}

// NewMonitoredDevice returns a device with an empty occurrence set.
func NewMonitoredDevice(dev *fpga.Device, class errtable.Class, table errtable.Table) *MonitoredDevice {
	return &MonitoredDevice{
		Device:  dev,
		Class:   class,
		Table:   table,
		active:  make([]int, 0, MaxOccurrences),
		failing: map[string]bool{},
		status:  map[int]uint64{},
	}
}

// Active returns true if the entry is in the occurrence set.
func (md *MonitoredDevice) Active(entry int) bool {
	for _, i := range md.active {
		if i == entry {
			return true
		}
	}

	return false
}

// Occurrences returns the number of tracked occurrences.
func (md *MonitoredDevice) Occurrences() int {
	return len(md.active)
}

func (md *MonitoredDevice) track(entry int) bool {
	if len(md.active) >= MaxOccurrences {
		return false
	}

	md.active = append(md.active, entry)

	return true
}

func (md *MonitoredDevice) untrack(entry int) {
	for n, i := range md.active {
		if i == entry {
			md.active = append(md.active[:n], md.active[n+1:]...)
			delete(md.status, entry)

			return
		}
	}
}

func classOf(dev *fpga.Device) errtable.Class {
	if dev.Type == fpga.FME {
		return errtable.ClassFME
	}

	return errtable.ClassPort
}

// Discoverer builds the device list of a poller.
type Discoverer func(logger logr.Logger) ([]*MonitoredDevice, error)

// ErrorDevices discovers every FME and Port under sysfsRoot and selects
// the error table matching the revision each device reports. Devices
// with an unreadable or unknown revision are skipped.
func ErrorDevices(sysfsRoot string, reader sysfs.Reader) Discoverer {
	return func(logger logr.Logger) ([]*MonitoredDevice, error) {
		devs, err := fpga.Enumerate(sysfsRoot, fpga.Filter{})
		if err != nil {
			return nil, err
		}

		var out []*MonitoredDevice

		for _, dev := range devs {
			class := classOf(dev)

			revision, err := reader.ReadUint64(dev.Attr(errtable.RevisionFile))
			if err != nil {
				logger.Error(err, "Can't read error revision, device is not monitored", "device", dev.Name)
				continue
			}

			table, err := errtable.Select(class, revision)
			if err != nil {
				logger.Error(err, "Device is not monitored", "device", dev.Name)
				continue
			}

			logger.V(1).Info("Monitoring", "device", dev.String(), "table", table.Name)

			out = append(out, NewMonitoredDevice(dev, class, table))
		}

		return out, nil
	}
}

// APEventDevices discovers the Ports under sysfsRoot for power state and
// AP1/AP2 tracking.
func APEventDevices(sysfsRoot string) Discoverer {
	return func(logger logr.Logger) ([]*MonitoredDevice, error) {
		devs, err := fpga.Enumerate(sysfsRoot, fpga.Filter{Type: fpga.Port})
		if err != nil {
			return nil, errors.WithMessage(err, "AP event discovery")
		}

		out := make([]*MonitoredDevice, 0, len(devs))
		for _, dev := range devs {
			logger.V(1).Info("Monitoring", "device", dev.String(), "table", errtable.APEvents.Name)

			out = append(out, NewMonitoredDevice(dev, errtable.ClassPort, errtable.APEvents))
		}

		return out, nil
	}
}
