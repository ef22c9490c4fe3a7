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

// Package events keeps client event subscriptions and delivers error and
// power/thermal notifications to them.
package events

import (
	"fmt"

	"github.com/intel/fpgad/internal/errtable"
)

// EventType is the kind of event a client subscribes to.
type EventType uint32

// Event types as carried on the wire.
const (
	Interrupt EventType = iota
	Error
	PowerThermal
)

// Valid returns true for the closed set of known event types.
func (t EventType) Valid() bool {
	return t <= PowerThermal
}

func (t EventType) String() string {
	switch t {
	case Interrupt:
		return "interrupt"
	case Error:
		return "error"
	case PowerThermal:
		return "power-thermal"
	}

	return fmt.Sprintf("EventType(%d)", uint32(t))
}

// Occurrence is a rising edge of an error table entry on a device.
type Occurrence struct {
	Device   string
	Entry    errtable.Entry
	ObjectID uint64
	Value    uint64
	SocketID int
}

func (o Occurrence) String() string {
	return fmt.Sprintf("%s: %s (object %#x, value %#x)", o.Device, o.Entry.String(), o.ObjectID, o.Value)
}
