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

//---------------------------------------------------------------
// sysfs SPECIFICATION
//
// sys/class/fpga_region/regionX/
// sys/class/fpga_region/regionX/dfl-fme.X/dev (243:X)
// sys/class/fpga_region/regionX/dfl-fme.X/socket_id
// sys/class/fpga_region/regionX/dfl-fme.X/errors/revision
// sys/class/fpga_region/regionX/dfl-fme.X/errors/... (FME error registers)
// sys/class/fpga_region/regionX/dfl-port.Y/dev (244:Y)
// sys/class/fpga_region/regionX/dfl-port.Y/errors/revision
// sys/class/fpga_region/regionX/dfl-port.Y/errors/errors
// sys/class/fpga_region/regionX/dfl-port.Y/{power_state,ap1_event,ap2_event}
//---------------------------------------------------------------

// Package fakedfl generates a fake DFL FPGA sysfs tree with the error
// and status registers fpgad polls.
package fakedfl

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"

	"github.com/intel/fpgad/internal/errtable"
)

const (
	dirMode    = 0o775
	fileMode   = 0o644
	fmeMajor   = 243
	portMajor  = 244
	maxRegions = 16
	maxPorts   = 8
	sysfsPath  = "sys"
	regionDir  = "class/fpga_region"
	clearValue = "0x0"
)

// GenOptions describes the fake devices.
type GenOptions struct {
	Values         map[string]string `yaml:"Values" json:"Values"`                 // Initial register values, keyed by path relative to the region class dir
	Info           string            `yaml:"Info" json:"Info"`                     // Verbal config description
	Path           string            `yaml:"Path" json:"Path"`                     // Root of the fake sysfs
	Regions        int               `yaml:"Regions" json:"Regions"`               // One FME per region
	PortsPerRegion int               `yaml:"PortsPerRegion" json:"PortsPerRegion"` // Accelerator ports of each region
	Sockets        int               `yaml:"Sockets" json:"Sockets"`               // Regions are spread over sockets, 0 means 1
	FmeRevision    uint64            `yaml:"FmeRevision" json:"FmeRevision"`       // FME error table revision
	PortRevision   uint64            `yaml:"PortRevision" json:"PortRevision"`     // Port error table revision

	// fields for counting what was generated
	files int
	dirs  int
}

// SysfsRoot returns the directory to use as sysfs root.
func (opts *GenOptions) SysfsRoot() string {
	return filepath.Join(opts.Path, sysfsPath)
}

func (opts *GenOptions) writeAttr(dir, name, value string) error {
	file := filepath.Join(dir, name)

	if err := os.MkdirAll(filepath.Dir(file), dirMode); err != nil {
		return errors.WithStack(err)
	}

	if err := os.WriteFile(file, []byte(value+"\n"), fileMode); err != nil {
		return errors.WithStack(err)
	}

	opts.files++

	return nil
}

func (opts *GenOptions) addDevice(dir, devNum string, attrs map[string]string, table errtable.Table) error {
	if err := os.MkdirAll(filepath.Join(dir, "errors"), dirMode); err != nil {
		return errors.WithStack(err)
	}

	opts.dirs++

	for _, file := range table.Files() {
		attrs[file] = clearValue
	}

	attrs["dev"] = devNum

	for name, value := range attrs {
		if err := opts.writeAttr(dir, name, value); err != nil {
			return err
		}
	}

	return nil
}

func addRegion(root string, opts *GenOptions, region int) error {
	base := filepath.Join(root, regionDir, fmt.Sprintf("region%d", region))

	fmeTable, err := errtable.Select(errtable.ClassFME, opts.FmeRevision)
	if err != nil {
		return err
	}

	portTable, err := errtable.Select(errtable.ClassPort, opts.PortRevision)
	if err != nil {
		return err
	}

	fme := map[string]string{
		"socket_id":           strconv.Itoa(region % max(opts.Sockets, 1)),
		errtable.RevisionFile: strconv.FormatUint(opts.FmeRevision, 10),
	}

	if err := opts.addDevice(filepath.Join(base, fmt.Sprintf("dfl-fme.%d", region)), fmt.Sprintf("%d:%d", fmeMajor, region), fme, fmeTable); err != nil {
		return errors.WithMessagef(err, "region %d FME", region)
	}

	for i := 0; i < opts.PortsPerRegion; i++ {
		port := region*opts.PortsPerRegion + i

		attrs := map[string]string{
			errtable.RevisionFile: strconv.FormatUint(opts.PortRevision, 10),
		}

		for _, file := range errtable.APEvents.Files() {
			attrs[file] = clearValue
		}

		if err := opts.addDevice(filepath.Join(base, fmt.Sprintf("dfl-port.%d", port)), fmt.Sprintf("%d:%d", portMajor, port), attrs, portTable); err != nil {
			return errors.WithMessagef(err, "region %d port %d", region, port)
		}
	}

	return nil
}

func removeExistingDir(path string) error {
	entries, err := os.ReadDir(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "ReadDir() failed on fake sysfs path '%s'", path)
	}

	if len(entries) == 0 {
		return nil
	}

	// Anything besides "class" means this is not a tree generated here.
	if len(entries) > 1 || entries[0].Name() != "class" {
		return errors.Errorf("unexpected entries in '%s' - real sysfs?", path)
	}

	klog.V(1).Infof("Removing already existing fake sysfs path '%s'", path)

	return errors.WithStack(os.RemoveAll(path))
}

// Generate writes the fake sysfs tree under opts.Path, replacing a tree
// generated earlier.
func Generate(opts GenOptions) error {
	if err := verifyOptions(opts); err != nil {
		return err
	}

	if opts.Info != "" {
		klog.V(1).Infof("Config: '%s'", opts.Info)
	}

	root := opts.SysfsRoot()

	if err := removeExistingDir(root); err != nil {
		return err
	}

	klog.Infof("Generating fake DFL device(s) sysfs content under '%s'", root)

	opts.dirs, opts.files = 0, 0
	for i := 0; i < opts.Regions; i++ {
		if err := addRegion(root, &opts, i); err != nil {
			return err
		}
	}

	for name, value := range opts.Values {
		if err := opts.writeAttr(filepath.Join(root, regionDir), name, value); err != nil {
			return errors.WithMessagef(err, "initial value of %s", name)
		}
	}

	klog.V(1).Infof("Done, created %d device dirs and %d files.", opts.dirs, opts.files)

	return nil
}

func verifyOptions(opts GenOptions) error {
	if opts.Path == "" {
		return errors.New("no fake sysfs path provided")
	}

	if opts.Regions < 1 || opts.Regions > maxRegions {
		return errors.Errorf("invalid region count: 1 <= %d <= %d", opts.Regions, maxRegions)
	}

	if opts.PortsPerRegion < 0 || opts.PortsPerRegion > maxPorts {
		return errors.Errorf("invalid port count: 0 <= %d <= %d", opts.PortsPerRegion, maxPorts)
	}

	if opts.Sockets < 0 {
		return errors.Errorf("invalid socket count %d", opts.Sockets)
	}

	for name := range opts.Values {
		if !filepath.IsLocal(name) {
			return errors.Errorf("register path %q is outside of the region class dir", name)
		}
	}

	return nil
}

// GetOptionsByJSON parses a JSON device spec.
func GetOptionsByJSON(data string) (GenOptions, error) {
	var opts GenOptions

	if data == "" {
		return opts, errors.New("no fake device spec provided")
	}

	klog.V(1).Infof("Using fake device JSON spec: %v\n", data)

	if err := json.Unmarshal([]byte(data), &opts); err != nil {
		return opts, errors.Wrapf(err, "unmarshaling JSON spec '%s' failed", data)
	}

	return opts, verifyOptions(opts)
}

// GetOptionsByYAML parses a YAML device spec.
func GetOptionsByYAML(data string) (GenOptions, error) {
	var opts GenOptions

	if data == "" {
		return opts, errors.New("no fake device spec provided")
	}

	klog.V(1).Infof("Using fake device YAML spec: %v\n", data)

	if err := yaml.UnmarshalStrict([]byte(data), &opts); err != nil {
		return opts, errors.Wrapf(err, "unmarshaling YAML spec '%s' failed", data)
	}

	return opts, verifyOptions(opts)
}

// GetOptions reads a device spec file, YAML unless it has a .json suffix.
func GetOptions(name string) (GenOptions, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return GenOptions{}, errors.Wrapf(err, "reading fake device spec file '%s' failed", name)
	}

	if filepath.Ext(name) == ".json" {
		return GetOptionsByJSON(string(data))
	}

	return GetOptionsByYAML(string(data))
}
