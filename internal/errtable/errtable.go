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

// Package errtable holds the declarative tables of FPGA error and status
// fields that the daemon polls, one per device class and hardware revision.
package errtable

import (
	"fmt"

	"github.com/pkg/errors"
)

// Policy selects what happens when an entry goes from clear to active.
type Policy int

// Dispatch policies.
const (
	// PolicyNone only logs the transition.
	PolicyNone Policy = iota
	// PolicyNotify signals error event subscribers of the device.
	PolicyNotify
	// PolicyNotifyAP6 signals power/thermal event subscribers of the device.
	PolicyNotifyAP6
	// PolicyNotifyAP6AndFailsafe additionally wakes the corrective action
	// worker of the device socket.
	PolicyNotifyAP6AndFailsafe
)

func (p Policy) String() string {
	switch p {
	case PolicyNone:
		return "none"
	case PolicyNotify:
		return "notify"
	case PolicyNotifyAP6:
		return "notify-ap6"
	case PolicyNotifyAP6AndFailsafe:
		return "notify-ap6-failsafe"
	}

	return fmt.Sprintf("Policy(%d)", int(p))
}

// Class is the kind of device a table applies to.
type Class int

// Device classes.
const (
	ClassPort Class = iota
	ClassFME
)

func (c Class) String() string {
	switch c {
	case ClassPort:
		return "port"
	case ClassFME:
		return "fme"
	}

	return fmt.Sprintf("Class(%d)", int(c))
}

// RevisionFile is the attribute holding the error register layout revision.
const RevisionFile = "errors/revision"

// ErrUnknownRevision is returned by Select for unsupported hardware.
var ErrUnknownRevision = errors.New("unknown error register revision")

// Entry describes one field of a status register file.
type Entry struct {
	File   string
	Label  string
	Low    uint
	High   uint
	Policy Policy
}

// Mask extracts the bits [Low..High] of value shifted down to bit 0.
func (e *Entry) Mask(value uint64) uint64 {
	if e.High < e.Low || e.High > 63 {
		return 0
	}

	width := e.High - e.Low + 1
	if width == 64 {
		return value
	}

	return (value >> e.Low) & (uint64(1)<<width - 1)
}

func (e *Entry) String() string {
	if e.Low == e.High {
		return fmt.Sprintf("%s[%d] %q", e.File, e.Low, e.Label)
	}

	return fmt.Sprintf("%s[%d:%d] %q", e.File, e.High, e.Low, e.Label)
}

// Table is an ordered, immutable list of entries.
type Table struct {
	Name    string
	Entries []Entry
}

// Validate checks that every entry has a file and a sane bit range.
func (t Table) Validate() error {
	for i := range t.Entries {
		e := &t.Entries[i]
		if e.File == "" || e.Label == "" {
			return errors.Errorf("%s: entry %d has no file or label", t.Name, i)
		}

		if e.High < e.Low || e.High > 63 {
			return errors.Errorf("%s: entry %d (%s) has invalid bit range %d..%d", t.Name, i, e.Label, e.Low, e.High)
		}
	}

	return nil
}

// Files returns the attribute files read by the table, each once, in
// table order.
func (t Table) Files() []string {
	seen := map[string]bool{}

	var files []string

	for _, e := range t.Entries {
		if !seen[e.File] {
			seen[e.File] = true
			files = append(files, e.File)
		}
	}

	return files
}

// Select returns the table for the class and hardware revision.
func Select(class Class, revision uint64) (Table, error) {
	switch {
	case class == ClassPort && revision == 0:
		return PortRev0, nil
	case class == ClassPort && revision == 1:
		return PortRev1, nil
	case class == ClassFME && revision == 0:
		return FMERev0, nil
	case class == ClassFME && revision == 1:
		return FMERev1, nil
	}

	return Table{}, errors.Wrapf(ErrUnknownRevision, "%s revision %d", class, revision)
}
