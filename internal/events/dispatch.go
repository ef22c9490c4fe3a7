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

package events

import (
	"github.com/go-logr/logr"

	"github.com/intel/fpgad/internal/errtable"
	"github.com/intel/fpgad/internal/metrics"
)

// Signaler wakes the corrective action for a socket.
type Signaler interface {
	Signal(socket int) error
}

// Dispatcher turns occurrences into client notifications according to
// the policy of the occurring entry.
type Dispatcher struct {
	logger   logr.Logger
	registry *Registry
	failsafe Signaler
	metrics  *metrics.Metrics
}

// NewDispatcher creates a dispatcher. failsafe and m may be nil.
func NewDispatcher(logger logr.Logger, registry *Registry, failsafe Signaler, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		logger:   logger,
		registry: registry,
		failsafe: failsafe,
		metrics:  m,
	}
}

// Dispatch handles one rising edge.
func (d *Dispatcher) Dispatch(occ Occurrence) {
	switch occ.Entry.Policy {
	case errtable.PolicyNone:
		d.logger.Info("Status changed", "device", occ.Device, "field", occ.Entry.Label, "value", occ.Value)
	case errtable.PolicyNotify:
		d.notify(Error, occ)
	case errtable.PolicyNotifyAP6:
		d.notify(PowerThermal, occ)
	case errtable.PolicyNotifyAP6AndFailsafe:
		d.notify(PowerThermal, occ)
		d.signalFailsafe(occ)
	default:
		d.logger.Error(nil, "Unknown dispatch policy", "policy", occ.Entry.Policy.String(), "occurrence", occ.String())
	}
}

func (d *Dispatcher) notify(t EventType, occ Occurrence) {
	delivered := 0

	d.registry.ForEach(occ, func(reg *Registration, occ Occurrence) {
		if reg.Type != t || reg.ObjectID != occ.ObjectID {
			return
		}

		if err := reg.Deliver(); err != nil {
			d.logger.Error(err, "Delivery failed", "registration", reg.String())
			return
		}

		delivered++
	})

	d.metrics.Notified(t.String(), delivered)
	d.logger.V(2).Info("Notified", "event", t.String(), "occurrence", occ.String(), "clients", delivered)
}

func (d *Dispatcher) signalFailsafe(occ Occurrence) {
	if d.failsafe == nil {
		d.logger.Info("No corrective action configured", "device", occ.Device, "socket", occ.SocketID)
		return
	}

	if err := d.failsafe.Signal(occ.SocketID); err != nil {
		d.logger.Error(err, "Dropping corrective action", "device", occ.Device, "socket", occ.SocketID)
	}
}
