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
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// small helper function that reads several files into provided set of variables.
// Missing files are skipped.
func readFilesInDirectory(fileMap map[string]*string, dir string) error {
	for k, v := range fileMap {
		fname := filepath.Join(dir, k)

		b, err := os.ReadFile(fname)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return errors.Wrapf(err, "%s: unable to read file %q", dir, k)
		}

		*v = strings.TrimSpace(string(b))
	}

	return nil
}

// returns filename of the argument after resolving symlinks.
func cleanBasename(name string) string {
	realPath, err := filepath.EvalSymlinks(name)
	if err != nil {
		realPath = name
	}

	return filepath.Base(realPath)
}

// parseDev parses content of a sysfs "dev" attribute ("major:minor").
func parseDev(devData string) (uint32, uint32, error) {
	numbers := strings.SplitN(strings.TrimSpace(devData), ":", 2)
	if len(numbers) != 2 {
		return 0, 0, errors.Errorf("malformed device number %q", devData)
	}

	major, err := strconv.ParseUint(numbers[0], 10, 32)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "can't convert device major %s to a number", numbers[0])
	}

	minor, err := strconv.ParseUint(numbers[1], 10, 32)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "can't convert device minor %s to a number", numbers[1])
	}

	return uint32(major), uint32(minor), nil
}

// objectID packs device numbers the same way libopae does for sysfs tokens.
func objectID(major, minor uint32) uint64 {
	return uint64(major&0xfff)<<20 | uint64(minor&0xfffff)
}
