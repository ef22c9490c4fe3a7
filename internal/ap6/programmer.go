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

package ap6

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	utilsexec "k8s.io/utils/exec"
)

// ErrNoNullBitstream is returned when no failsafe bitstream is configured.
var ErrNoNullBitstream = errors.New("no null bitstream configured")

// Programmer applies the failsafe configuration to a socket.
type Programmer interface {
	ApplyFailsafe(ctx context.Context, socket int) error
}

// FpgaconfProgrammer programs null bitstreams with the OPAE fpgaconf tool.
type FpgaconfProgrammer struct {
	execer     utilsexec.Interface
	fpgaconf   string
	bitstreams []string
}

// NewFpgaconfProgrammer returns a programmer trying bitstreams in order.
func NewFpgaconfProgrammer(execer utilsexec.Interface, fpgaconf string, bitstreams []string) *FpgaconfProgrammer {
	return &FpgaconfProgrammer{
		execer:     execer,
		fpgaconf:   fpgaconf,
		bitstreams: append([]string(nil), bitstreams...),
	}
}

// ApplyFailsafe programs the first bitstream fpgaconf accepts for the socket.
func (p *FpgaconfProgrammer) ApplyFailsafe(ctx context.Context, socket int) error {
	if len(p.bitstreams) == 0 {
		return ErrNoNullBitstream
	}

	var failures []string

	for _, bitstream := range p.bitstreams {
		output, err := p.execer.CommandContext(ctx, p.fpgaconf, "-S", strconv.Itoa(socket), bitstream).CombinedOutput()
		if err == nil {
			klog.V(1).Infof("socket %d: programmed %s", socket, bitstream)
			return nil
		}

		klog.Warningf("socket %d: %s failed for %s: %v: %s", socket, p.fpgaconf, bitstream, err, strings.TrimSpace(string(output)))
		failures = append(failures, bitstream)

		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), "failsafe programming interrupted")
		}
	}

	return errors.Errorf("socket %d: no null bitstream could be programmed (tried %s)", socket, strings.Join(failures, ", "))
}
