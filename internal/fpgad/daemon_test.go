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

package fpgad_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/intel/fpgad/internal/config"
	"github.com/intel/fpgad/internal/errtable"
	"github.com/intel/fpgad/internal/events"
	"github.com/intel/fpgad/internal/fpgad"
	"github.com/intel/fpgad/internal/ipc"
	"github.com/intel/fpgad/pkg/fakedfl"
	"github.com/intel/fpgad/pkg/fpga"
)

const (
	timeout  = time.Second * 5
	interval = time.Millisecond * 20
)

type countingProgrammer struct {
	applied atomic.Int64
}

func (p *countingProgrammer) ApplyFailsafe(ctx context.Context, socket int) error {
	p.applied.Add(1)
	return nil
}

// writeAttr replaces a sysfs attribute so that readers never see a
// partially written value.
func writeAttr(path, value string) {
	tmp := path + ".tmp"

	Expect(os.WriteFile(tmp, []byte(value+"\n"), 0o644)).To(Succeed())
	Expect(os.Rename(tmp, path)).To(Succeed())
}

var _ = Describe("Daemon", func() {
	var (
		cfg        *config.Config
		programmer *countingProgrammer
		daemon     *fpgad.Daemon
		portDir    string
		objectID   uint64
		done       chan error
	)

	BeforeEach(func() {
		opts := fakedfl.GenOptions{
			Path:           GinkgoT().TempDir(),
			Regions:        1,
			PortsPerRegion: 1,
			FmeRevision:    1,
			PortRevision:   1,
		}
		Expect(fakedfl.Generate(opts)).To(Succeed())

		root := opts.SysfsRoot()
		portDir = filepath.Join(root, "class/fpga_region/region0/dfl-port.0")

		ports, err := fpga.Enumerate(root, fpga.Filter{Type: fpga.Port})
		Expect(err).ToNot(HaveOccurred())
		Expect(ports).To(HaveLen(1))

		objectID = ports[0].ObjectID

		cfg = config.New()
		cfg.SysfsRoot = root
		cfg.Socket = filepath.Join(GinkgoT().TempDir(), "fpga_event_socket")
		cfg.Interval = 10 * time.Millisecond

		programmer = &countingProgrammer{}

		daemon, err = fpgad.NewWithProgrammer(cfg, programmer)
		Expect(err).ToNot(HaveOccurred())

		done = make(chan error, 1)

		go func() {
			done <- daemon.Run(context.Background())
		}()
	})

	AfterEach(func() {
		cfg.Stop()
		Eventually(done, timeout, interval).Should(Receive(BeNil()))

		_, err := os.Stat(cfg.Socket)
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("applies the failsafe once per AP6 rising edge", func() {
		var client *ipc.Client

		Eventually(func() error {
			var err error

			client, err = ipc.Dial(cfg.Socket)

			return err
		}, timeout, interval).Should(Succeed())

		defer client.Close()

		efd, err := client.Register(events.PowerThermal, objectID)
		Expect(err).ToNot(HaveOccurred())

		defer efd.Close()

		Eventually(daemon.Registry().Len, timeout, interval).Should(Equal(1))

		errorsFile := filepath.Join(portDir, "errors/errors")
		ap6 := fmt.Sprintf("%#x", uint64(1)<<errtable.AP6Bit)

		By("raising the AP6 bit")
		writeAttr(errorsFile, ap6)

		value, ok, err := efd.Wait(timeout)
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(value).To(Equal(uint64(1)))

		Eventually(programmer.applied.Load, timeout, interval).Should(Equal(int64(1)))
		Consistently(programmer.applied.Load, 10*interval, interval).Should(Equal(int64(1)))

		By("clearing the AP6 bit")
		writeAttr(errorsFile, "0x0")
		Consistently(programmer.applied.Load, 10*interval, interval).Should(Equal(int64(1)))

		By("raising the AP6 bit again")
		writeAttr(errorsFile, ap6)

		Eventually(programmer.applied.Load, timeout, interval).Should(Equal(int64(2)))

		value, ok, err = efd.Wait(timeout)
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(value).To(Equal(uint64(2)))
		Expect(daemon.Workers().Worker(0).Applied()).To(Equal(int64(2)))
	})

	It("exposes daemon metrics", func() {
		families, err := daemon.Gatherer().Gather()
		Expect(err).ToNot(HaveOccurred())

		var names []string
		for _, f := range families {
			names = append(names, f.GetName())
		}

		Expect(names).To(ContainElements("fpgad_registrations", "fpgad_clients", "go_goroutines"))
	})
})
