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
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"
)

const (
	pciAddressRegex = `^([[:xdigit:]]{4}):([[:xdigit:]]{2}):([[:xdigit:]]{2})\.([[:xdigit:]])$`
)

var (
	pciAddressRE = regexp.MustCompile(pciAddressRegex)
)

// PCIDevice represents most valuable sysfs information about PCI device.
type PCIDevice struct {
	SysFsPath string
	BDF       string
	Vendor    string
	Device    string
	Class     string
	NUMA      string
}

// NewPCIDevice returns PCI properties of the PCI function that owns the
// given sysfs entry.
func NewPCIDevice(devPath string) (*PCIDevice, error) {
	realDevPath, err := filepath.EvalSymlinks(devPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed get realpath for %s", devPath)
	}

	pci := new(PCIDevice)

	for p := realDevPath; p != filepath.Dir(p); p = filepath.Dir(p) {
		subs := pciAddressRE.FindStringSubmatch(filepath.Base(p))
		if len(subs) != 5 {
			continue
		}

		pci.SysFsPath = p
		pci.BDF = subs[0]

		break
	}

	if pci.SysFsPath == "" {
		return nil, errors.Errorf("can't find PCI device address for sysfs entry %s", realDevPath)
	}

	fileMap := map[string]*string{
		"vendor":    &pci.Vendor,
		"device":    &pci.Device,
		"class":     &pci.Class,
		"numa_node": &pci.NUMA,
	}
	if err = readFilesInDirectory(fileMap, pci.SysFsPath); err != nil {
		return nil, err
	}

	if pci.Vendor == "" || pci.Device == "" {
		return nil, errors.Errorf("%s vendor or device id can't be empty (%q/%q)", pci.SysFsPath, pci.Vendor, pci.Device)
	}

	return pci, nil
}
