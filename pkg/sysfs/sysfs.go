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

// Package sysfs reads and writes the textual register files exported by
// the FPGA kernel drivers.
package sysfs

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Reader reads a 64-bit register value from a sysfs attribute.
type Reader interface {
	ReadUint64(path string) (uint64, error)
}

// ReaderFunc adapts an ordinary function to the Reader interface.
type ReaderFunc func(path string) (uint64, error)

// ReadUint64 calls f(path).
func (f ReaderFunc) ReadUint64(path string) (uint64, error) {
	return f(path)
}

// Default is the Reader backed by the real filesystem.
var Default Reader = ReaderFunc(ReadUint64)

// ReadString returns the trimmed content of a sysfs attribute.
func ReadString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "unable to read %s", path)
	}

	return strings.TrimSpace(string(data)), nil
}

// ReadUint64 reads an attribute holding a number in decimal, octal
// or 0x-prefixed hexadecimal notation.
func ReadUint64(path string) (uint64, error) {
	s, err := ReadString(path)
	if err != nil {
		return 0, err
	}

	if s == "" {
		return 0, errors.Errorf("%s: empty attribute", path)
	}

	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "%s: can't parse %q", path, s)
	}

	return v, nil
}

// WriteUint64 writes value to the attribute using radix 10 or 16.
func WriteUint64(path string, value uint64, radix int) error {
	var s string

	switch radix {
	case 10:
		s = strconv.FormatUint(value, 10) + "\n"
	case 16:
		s = "0x" + strconv.FormatUint(value, 16) + "\n"
	default:
		return errors.Errorf("unsupported radix %d", radix)
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return errors.Wrapf(err, "unable to open %s", path)
	}
	defer f.Close()

	if _, err = f.WriteString(s); err != nil {
		return errors.Wrapf(err, "unable to write %s", path)
	}

	return nil
}

// Attr joins a device sysfs directory with an attribute name.
func Attr(dir, name string) string {
	return filepath.Join(dir, name)
}
