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

package fpga

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/intel/fpgad/pkg/sysfs"
)

const (
	dflFpgaFmePrefix    = "dfl-fme."
	dflFpgaPortPrefix   = "dfl-port."
	intelFpgaFmePrefix  = "intel-fpga-fme."
	intelFpgaPortPrefix = "intel-fpga-port."

	sysfsClassDFL  = "class/fpga_region"
	sysfsClassOPAE = "class/fpga"

	dflRegionRE  = `^region[0-9]+$`
	opaeRegionRE = `^intel-fpga-dev\.[0-9]+$`
)

var (
	dflRegionReg  = regexp.MustCompile(dflRegionRE)
	opaeRegionReg = regexp.MustCompile(opaeRegionRE)
)

// ObjectType tells the management function (FME) from the accelerator port.
type ObjectType int

// Object types.
const (
	AnyObject ObjectType = iota
	FME
	Port
)

func (t ObjectType) String() string {
	switch t {
	case FME:
		return "fme"
	case Port:
		return "port"
	case AnyObject:
		return "any"
	}

	return fmt.Sprintf("ObjectType(%d)", int(t))
}

// Device is a discovered FPGA FME or Port together with its properties.
type Device struct {
	PCI       *PCIDevice
	Name      string
	Region    string
	SysFsPath string
	DevNode   string
	Type      ObjectType
	SocketID  int
	ObjectID  uint64
	Major     uint32
	Minor     uint32
}

// Attr returns the path of a sysfs attribute of the device.
func (d *Device) Attr(name string) string {
	return sysfs.Attr(d.SysFsPath, name)
}

// VendorID returns PCI vendor id or an empty string when unknown.
func (d *Device) VendorID() string {
	if d.PCI == nil {
		return ""
	}

	return d.PCI.Vendor
}

// DeviceID returns PCI device id or an empty string when unknown.
func (d *Device) DeviceID() string {
	if d.PCI == nil {
		return ""
	}

	return d.PCI.Device
}

func (d *Device) String() string {
	return fmt.Sprintf("%s (socket %d, object %#x)", d.Name, d.SocketID, d.ObjectID)
}

// Filter selects devices returned by Enumerate. Empty fields match anything.
type Filter struct {
	Vendor string
	Device string
	Type   ObjectType
}

func (f Filter) match(d *Device) bool {
	if f.Type != AnyObject && f.Type != d.Type {
		return false
	}

	if f.Vendor != "" && !strings.EqualFold(f.Vendor, d.VendorID()) {
		return false
	}

	if f.Device != "" && !strings.EqualFold(f.Device, d.DeviceID()) {
		return false
	}

	return true
}

// IsFpgaFME returns true if the name looks like any supported FME device.
func IsFpgaFME(name string) bool {
	devName := cleanBasename(name)
	return strings.HasPrefix(devName, dflFpgaFmePrefix) || strings.HasPrefix(devName, intelFpgaFmePrefix)
}

// IsFpgaPort returns true if the name looks like any supported Port device.
func IsFpgaPort(name string) bool {
	devName := cleanBasename(name)
	return strings.HasPrefix(devName, dflFpgaPortPrefix) || strings.HasPrefix(devName, intelFpgaPortPrefix)
}

// Enumerate walks the FPGA class directories under sysfsRoot (normally
// "/sys") and returns the devices matching filter, FMEs of a region first.
// Both the upstream DFL layout and the out-of-tree intel-fpga layout
// are supported.
func Enumerate(sysfsRoot string, filter Filter) ([]*Device, error) {
	var devices []*Device

	found := false

	for _, class := range []struct {
		reg *regexp.Regexp
		dir string
	}{
		{dir: sysfsClassDFL, reg: dflRegionReg},
		{dir: sysfsClassOPAE, reg: opaeRegionReg},
	} {
		classDir := filepath.Join(sysfsRoot, class.dir)

		regions, err := os.ReadDir(classDir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return nil, errors.Wrapf(err, "can't read sysfs folder %s", classDir)
		}

		found = true

		for _, region := range regions {
			if !class.reg.MatchString(region.Name()) {
				continue
			}

			devs, err := scanRegion(filepath.Join(classDir, region.Name()))
			if err != nil {
				return nil, err
			}

			for _, dev := range devs {
				if filter.match(dev) {
					devices = append(devices, dev)
				}
			}
		}
	}

	if !found {
		return nil, errors.Errorf("kernel driver is not loaded: neither %s nor %s is accessible under %s",
			sysfsClassDFL, sysfsClassOPAE, sysfsRoot)
	}

	return devices, nil
}

func scanRegion(regionDir string) ([]*Device, error) {
	entries, err := os.ReadDir(regionDir)
	if err != nil {
		return nil, errors.Wrapf(err, "can't read region folder %s", regionDir)
	}

	var fmes, ports []*Device

	for _, entry := range entries {
		name := entry.Name()

		var devType ObjectType

		path := filepath.Join(regionDir, name)

		switch {
		case IsFpgaFME(path):
			devType = FME
		case IsFpgaPort(path):
			devType = Port
		default:
			continue
		}

		// A broken device must not hide the healthy ones.
		dev, err := newDevice(path, filepath.Base(regionDir), devType)
		if err != nil {
			klog.Warningf("skipping %s: %+v", path, err)
			continue
		}

		if devType == FME {
			fmes = append(fmes, dev)
		} else {
			ports = append(ports, dev)
		}
	}

	// A port lives on the same socket as the FME of its region.
	if len(fmes) > 0 {
		for _, port := range ports {
			port.SocketID = fmes[0].SocketID
		}
	}

	sort.Slice(fmes, func(i, j int) bool { return fmes[i].Name < fmes[j].Name })
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })

	return append(fmes, ports...), nil
}

func newDevice(sysfsPath, region string, devType ObjectType) (*Device, error) {
	var devNum, socketID string

	fileMap := map[string]*string{
		"dev":       &devNum,
		"socket_id": &socketID,
	}
	if err := readFilesInDirectory(fileMap, sysfsPath); err != nil {
		return nil, err
	}

	name := filepath.Base(sysfsPath)

	if devNum == "" {
		return nil, errors.Errorf("%s: device number is not available", sysfsPath)
	}

	major, minor, err := parseDev(devNum)
	if err != nil {
		return nil, errors.WithMessage(err, sysfsPath)
	}

	dev := &Device{
		Name:      name,
		Region:    region,
		SysFsPath: sysfsPath,
		DevNode:   filepath.Join("/dev", name),
		Type:      devType,
		Major:     major,
		Minor:     minor,
		ObjectID:  objectID(major, minor),
	}

	if socketID != "" {
		id, err := strconv.ParseUint(socketID, 0, 16)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: can't parse socket_id %q", sysfsPath, socketID)
		}

		dev.SocketID = int(id)
	}

	// PCI properties are optional: platform devices may not sit under a PCI function.
	if pci, err := NewPCIDevice(sysfsPath); err == nil {
		dev.PCI = pci
	}

	return dev, nil
}
