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
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/intel/fpgad/internal/config"
	"github.com/intel/fpgad/internal/errtable"
	"github.com/intel/fpgad/internal/events"
	"github.com/intel/fpgad/pkg/fakedfl"
	"github.com/intel/fpgad/pkg/fpga"
	"github.com/intel/fpgad/pkg/sysfs"
)

func init() {
	_ = flag.Set("v", "4")
}

const devPath = "/sys/fake/dfl-port.0"

type fakeRegisters struct {
	values map[string]uint64
	fail   map[string]bool
	mu     sync.Mutex
}

func newFakeRegisters() *fakeRegisters {
	return &fakeRegisters{values: map[string]uint64{}, fail: map[string]bool{}}
}

func (f *fakeRegisters) set(file string, value uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.values[filepath.Join(devPath, file)] = value
}

func (f *fakeRegisters) setFailing(file string, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fail[filepath.Join(devPath, file)] = failing
}

func (f *fakeRegisters) ReadUint64(path string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail[path] {
		return 0, errors.Errorf("%s: input/output error", path)
	}

	return f.values[path], nil
}

type recorder struct {
	occurrences []events.Occurrence
	mu          sync.Mutex
}

func (r *recorder) Dispatch(occ events.Occurrence) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.occurrences = append(r.occurrences, occ)
}

func (r *recorder) labels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for _, occ := range r.occurrences {
		out = append(out, occ.Entry.Label)
	}

	return out
}

func testDevice() *fpga.Device {
	return &fpga.Device{
		Name:      "dfl-port.0",
		SysFsPath: devPath,
		Type:      fpga.Port,
		SocketID:  1,
		ObjectID:  0x4400000,
	}
}

func staticDevices(table errtable.Table) Discoverer {
	return func(logr.Logger) ([]*MonitoredDevice, error) {
		return []*MonitoredDevice{NewMonitoredDevice(testDevice(), errtable.ClassPort, table)}, nil
	}
}

var testTable = errtable.Table{
	Name: "test",
	Entries: []errtable.Entry{
		{File: "errors/errors", Label: "Ap6Event", Low: 50, High: 50, Policy: errtable.PolicyNotifyAP6AndFailsafe},
		{File: "errors/errors", Label: "PageFault", Low: 48, High: 48, Policy: errtable.PolicyNotify},
		{File: "errors/first_error", Label: "First", Low: 0, High: 3, Policy: errtable.PolicyNotify},
		{File: "power_state", Label: "PowerState", Low: 0, High: 1, Policy: errtable.PolicyNone},
	},
}

func newTestPoller(t *testing.T, table errtable.Table, regs *fakeRegisters, rec *recorder) *Poller {
	t.Helper()

	p := NewPoller("test", config.New(), staticDevices(table), regs, rec, nil)
	if err := p.Discover(klog.Background()); err != nil {
		t.Fatalf("discovery failed: %+v", err)
	}

	return p
}

func TestEdgeTriggering(t *testing.T) {
	type step struct {
		values   map[string]uint64
		failing  []string
		expected []string
	}

	tcases := []struct {
		name  string
		steps []step
	}{
		{
			name: "stays active",
			steps: []step{
				{values: map[string]uint64{"errors/errors": 1 << 50}, expected: []string{"Ap6Event"}},
				{values: map[string]uint64{"errors/errors": 1 << 50}},
				{values: map[string]uint64{"errors/errors": 1 << 50}},
				{values: map[string]uint64{"errors/errors": 1 << 50}},
			},
		},
		{
			name: "clear and resignal",
			steps: []step{
				{values: map[string]uint64{"errors/errors": 1 << 50}, expected: []string{"Ap6Event"}},
				{values: map[string]uint64{"errors/errors": 0}},
				{values: map[string]uint64{"errors/errors": 1 << 50}, expected: []string{"Ap6Event"}},
			},
		},
		{
			name: "value change within an active field",
			steps: []step{
				{values: map[string]uint64{"errors/first_error": 1}, expected: []string{"First"}},
				{values: map[string]uint64{"errors/first_error": 4}},
				{values: map[string]uint64{"errors/first_error": 0x10}},
				{values: map[string]uint64{"errors/first_error": 2}, expected: []string{"First"}},
			},
		},
		{
			name: "status field reports each value",
			steps: []step{
				{values: map[string]uint64{"power_state": 1}, expected: []string{"PowerState"}},
				{values: map[string]uint64{"power_state": 1}},
				{values: map[string]uint64{"power_state": 2}, expected: []string{"PowerState"}},
				{values: map[string]uint64{"power_state": 3}, expected: []string{"PowerState"}},
				{values: map[string]uint64{"power_state": 0}},
				{values: map[string]uint64{"power_state": 3}, expected: []string{"PowerState"}},
			},
		},
		{
			name: "fields of one register are independent",
			steps: []step{
				{values: map[string]uint64{"errors/errors": 1 << 48}, expected: []string{"PageFault"}},
				{values: map[string]uint64{"errors/errors": 1<<48 | 1<<50}, expected: []string{"Ap6Event"}},
				{values: map[string]uint64{"errors/errors": 1 << 50}},
				{values: map[string]uint64{"errors/errors": 1<<48 | 1<<50}, expected: []string{"PageFault"}},
			},
		},
		{
			name: "read failure is no event",
			steps: []step{
				{values: map[string]uint64{"errors/errors": 1 << 48}, failing: []string{"errors/errors"}},
				{values: map[string]uint64{"errors/first_error": 1}, failing: []string{"errors/errors"}, expected: []string{"First"}},
				{values: map[string]uint64{"errors/errors": 1 << 48}, expected: []string{"PageFault"}},
			},
		},
		{
			name: "read failure keeps active state",
			steps: []step{
				{values: map[string]uint64{"errors/errors": 1 << 50}, expected: []string{"Ap6Event"}},
				{failing: []string{"errors/errors"}},
				{values: map[string]uint64{"errors/errors": 1 << 50}},
			},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			regs := newFakeRegisters()
			rec := &recorder{}
			p := newTestPoller(t, testTable, regs, rec)

			var expected []string

			for i, s := range tc.steps {
				for file, value := range s.values {
					regs.set(file, value)
				}

				for _, file := range []string{"errors/errors", "errors/first_error"} {
					regs.setFailing(file, false)
				}

				for _, file := range s.failing {
					regs.setFailing(file, true)
				}

				p.PollOnce()

				expected = append(expected, s.expected...)

				if diff := cmp.Diff(expected, rec.labels(), cmpopts.EquateEmpty()); diff != "" {
					t.Fatalf("step %d: unexpected notifications (-want +got):\n%s", i, diff)
				}
			}
		})
	}
}

func TestOccurrenceContents(t *testing.T) {
	regs := newFakeRegisters()
	rec := &recorder{}
	p := newTestPoller(t, testTable, regs, rec)

	regs.set("errors/first_error", 0xa)
	p.PollOnce()

	if len(rec.occurrences) != 1 {
		t.Fatalf("expected one occurrence, got %d", len(rec.occurrences))
	}

	expected := events.Occurrence{
		Device:   "dfl-port.0",
		Entry:    testTable.Entries[2],
		ObjectID: 0x4400000,
		SocketID: 1,
		Value:    0xa,
	}

	if diff := cmp.Diff(expected, rec.occurrences[0]); diff != "" {
		t.Errorf("unexpected occurrence (-want +got):\n%s", diff)
	}
}

func TestCapacitySaturation(t *testing.T) {
	table := errtable.Table{Name: "wide"}
	for bit := uint(0); bit < 64; bit++ {
		table.Entries = append(table.Entries, errtable.Entry{
			File: "errors/errors", Label: fmt.Sprintf("bit%d", bit), Low: bit, High: bit, Policy: errtable.PolicyNotify,
		})
	}

	for bit := uint(0); bit < 6; bit++ {
		table.Entries = append(table.Entries, errtable.Entry{
			File: "errors/more", Label: fmt.Sprintf("more%d", bit), Low: bit, High: bit, Policy: errtable.PolicyNotify,
		})
	}

	regs := newFakeRegisters()
	regs.set("errors/errors", ^uint64(0))
	regs.set("errors/more", 0x3f)

	rec := &recorder{}
	p := newTestPoller(t, table, regs, rec)

	p.PollOnce()

	if n := len(rec.labels()); n != len(table.Entries) {
		t.Errorf("expected %d notifications, got %d", len(table.Entries), n)
	}

	md := p.Devices()[0]
	if md.Occurrences() != MaxOccurrences {
		t.Errorf("expected %d tracked occurrences, got %d", MaxOccurrences, md.Occurrences())
	}

	// Untracked occurrences are seen rising again, tracked ones are not.
	p.PollOnce()

	if n := len(rec.labels()); n != len(table.Entries)+6 {
		t.Errorf("expected %d notifications, got %d", len(table.Entries)+6, n)
	}

	// Clearing frees capacity for the remaining occurrences.
	regs.set("errors/errors", 0)
	p.PollOnce()

	if md.Occurrences() != 6 {
		t.Errorf("expected 6 tracked occurrences, got %d", md.Occurrences())
	}

	p.PollOnce()

	if n := len(rec.labels()); n != len(table.Entries)+12 {
		t.Errorf("expected %d notifications, got %d", len(table.Entries)+12, n)
	}
}

func TestRunStops(t *testing.T) {
	regs := newFakeRegisters()
	rec := &recorder{}
	cfg := config.New()
	cfg.Interval = time.Millisecond

	p := NewPoller("test", cfg, staticDevices(testTable), regs, rec, nil)

	regs.set("errors/errors", 1<<50)

	done := make(chan error)
	go func() { done <- p.Run(context.Background()) }()

	deadline := time.After(5 * time.Second)

	for len(rec.labels()) == 0 {
		select {
		case <-deadline:
			t.Fatal("no occurrence reported")
		case <-time.After(time.Millisecond):
		}
	}

	cfg.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %+v", err)
		}
	case <-deadline:
		t.Fatal("poller did not stop")
	}

	if diff := cmp.Diff([]string{"Ap6Event"}, rec.labels()); diff != "" {
		t.Errorf("unexpected notifications (-want +got):\n%s", diff)
	}

	if p.Devices() != nil {
		t.Error("device list must be released on exit")
	}
}

func TestRunCancelled(t *testing.T) {
	cfg := config.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPoller("test", cfg, staticDevices(testTable), newFakeRegisters(), &recorder{}, nil)
	if err := p.Run(ctx); err != nil {
		t.Errorf("unexpected error: %+v", err)
	}
}

func TestRunWithoutDevices(t *testing.T) {
	tcases := []struct {
		discover Discoverer
		name     string
	}{
		{
			name: "no devices",
			discover: func(logr.Logger) ([]*MonitoredDevice, error) {
				return nil, nil
			},
		},
		{
			name: "discovery failure",
			discover: func(logr.Logger) ([]*MonitoredDevice, error) {
				return nil, errors.New("kernel driver is not loaded")
			},
		},
		{
			name:     "empty sysfs",
			discover: ErrorDevices(t.TempDir(), sysfs.Default),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPoller("test", config.New(), tc.discover, newFakeRegisters(), &recorder{}, nil)

			done := make(chan error)
			go func() { done <- p.Run(context.Background()) }()

			select {
			case err := <-done:
				if err != nil {
					t.Errorf("unexpected error: %+v", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("poller without devices must return")
			}
		})
	}
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for name, content := range files {
		fname := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(fname), 0750); err != nil {
			t.Fatal(err)
		}

		if err := os.WriteFile(fname, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}
}

const region = "class/fpga_region/region0/"

func TestErrorDevices(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		region + "dfl-fme.0/dev":              "243:0\n",
		region + "dfl-fme.0/errors/revision":  "1\n",
		region + "dfl-port.0/dev":             "244:0\n",
		region + "dfl-port.0/errors/revision": "0x0\n",
		region + "dfl-port.1/dev":             "244:1\n",
		region + "dfl-port.1/errors/revision": "2\n",
		region + "dfl-port.2/dev":             "244:2\n",
	})

	devs, err := ErrorDevices(root, sysfs.Default)(klog.Background())
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	got := map[string]string{}
	for _, md := range devs {
		got[md.Device.Name] = md.Table.Name
	}

	expected := map[string]string{
		"dfl-fme.0":  "fme-rev1",
		"dfl-port.0": "port-rev0",
	}

	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("unexpected devices (-want +got):\n%s", diff)
	}
}

func TestAPEventDevices(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		region + "dfl-fme.0/dev":  "243:0\n",
		region + "dfl-port.0/dev": "244:0\n",
		region + "dfl-port.1/dev": "244:1\n",
	})

	devs, err := APEventDevices(root)(klog.Background())
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	var names []string

	for _, md := range devs {
		if md.Table.Name != errtable.APEvents.Name {
			t.Errorf("%s: unexpected table %s", md.Device.Name, md.Table.Name)
		}

		names = append(names, md.Device.Name)
	}

	if diff := cmp.Diff([]string{"dfl-port.0", "dfl-port.1"}, names); diff != "" {
		t.Errorf("unexpected devices (-want +got):\n%s", diff)
	}

	if _, err := APEventDevices(t.TempDir())(klog.Background()); err == nil {
		t.Error("no error returned without FPGA driver")
	}
}

func TestPollRealFiles(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		region + "dfl-port.0/dev":         "244:0\n",
		region + "dfl-port.0/power_state": "0\n",
		region + "dfl-port.0/ap1_event":   "0\n",
		region + "dfl-port.0/ap2_event":   "1\n",
	})

	rec := &recorder{}
	p := NewPoller("test", config.New(), APEventDevices(root), sysfs.Default, rec, nil)

	if err := p.Discover(klog.Background()); err != nil {
		t.Fatalf("discovery failed: %+v", err)
	}

	p.PollOnce()

	writeFiles(t, root, map[string]string{
		region + "dfl-port.0/power_state": "2\n",
		region + "dfl-port.0/ap2_event":   "0\n",
	})

	p.PollOnce()

	if diff := cmp.Diff([]string{"AP2 Triggered", "Power state changed"}, rec.labels()); diff != "" {
		t.Errorf("unexpected notifications (-want +got):\n%s", diff)
	}
}

func TestErrorDevicesSkipBrokenDevice(t *testing.T) {
	opts := fakedfl.GenOptions{
		Path:           t.TempDir(),
		Regions:        2,
		PortsPerRegion: 1,
		Values: map[string]string{
			"region1/dfl-port.1/dev": "garbage",
		},
	}

	if err := fakedfl.Generate(opts); err != nil {
		t.Fatalf("unable to create fake sysfs: %+v", err)
	}

	devs, err := ErrorDevices(opts.SysfsRoot(), sysfs.Default)(klog.Background())
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	var names []string
	for _, md := range devs {
		names = append(names, md.Device.Name)
	}

	if diff := cmp.Diff([]string{"dfl-fme.0", "dfl-port.0", "dfl-fme.1"}, names); diff != "" {
		t.Errorf("unexpected devices (-want +got):\n%s", diff)
	}
}
