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

package ipc_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"k8s.io/klog/v2"

	"github.com/intel/fpgad/internal/config"
	"github.com/intel/fpgad/internal/errtable"
	"github.com/intel/fpgad/internal/events"
	"github.com/intel/fpgad/internal/ipc"
)

const (
	timeout  = time.Second * 5
	interval = time.Millisecond * 50
)

var _ = Describe("Event socket server", func() {
	var (
		cfg        *config.Config
		registry   *events.Registry
		dispatcher *events.Dispatcher
		server     *ipc.Server
		cancel     context.CancelFunc
		done       chan error
	)

	BeforeEach(func() {
		cfg = config.New()
		registry = events.NewRegistry(nil)
		dispatcher = events.NewDispatcher(klog.Background(), registry, nil, nil)
		server = ipc.NewServer(filepath.Join(GinkgoT().TempDir(), "fpgad.socket"), cfg, registry, nil)

		Expect(server.Listen()).To(Succeed())

		var ctx context.Context

		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan error, 1)

		go func() {
			done <- server.Run(ctx)
		}()
	})

	AfterEach(func() {
		cancel()
		Eventually(done, timeout, interval).Should(Receive(BeNil()))
	})

	Context("with a connected client", func() {
		var client *ipc.Client

		BeforeEach(func() {
			var err error

			client, err = ipc.Dial(server.Path())
			Expect(err).ToNot(HaveOccurred())
		})

		AfterEach(func() {
			Expect(client.Close()).To(Succeed())
		})

		It("delivers matching occurrences to the registered eventfd", func() {
			efd, err := client.Register(events.Error, 0x1234)
			Expect(err).ToNot(HaveOccurred())

			defer efd.Close()

			Eventually(registry.Len, timeout, interval).Should(Equal(1))

			By("dispatching an error of the registered object")
			dispatcher.Dispatch(events.Occurrence{
				Device:   "dfl-port.0",
				Entry:    errtable.Entry{File: "errors/errors", Label: "test error", Policy: errtable.PolicyNotify},
				ObjectID: 0x1234,
				Value:    1,
			})

			value, ok, err := efd.Wait(timeout)
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(value).To(Equal(uint64(1)))

			By("dispatching an error of another object")
			dispatcher.Dispatch(events.Occurrence{
				Device:   "dfl-port.1",
				Entry:    errtable.Entry{File: "errors/errors", Label: "test error", Policy: errtable.PolicyNotify},
				ObjectID: 0x4321,
				Value:    1,
			})

			_, ok, err = efd.Wait(interval)
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("removes a registration on request", func() {
			efd, err := client.Register(events.PowerThermal, 1)
			Expect(err).ToNot(HaveOccurred())

			defer efd.Close()

			Eventually(registry.Len, timeout, interval).Should(Equal(1))

			Expect(client.Unregister(events.PowerThermal, 1)).To(Succeed())
			Eventually(registry.Len, timeout, interval).Should(BeZero())
		})

		It("drops the registrations of a closed connection", func() {
			for i := uint64(0); i < 3; i++ {
				efd, err := client.Register(events.Error, i)
				Expect(err).ToNot(HaveOccurred())
				Expect(efd.Close()).To(Succeed())
			}

			Eventually(registry.Len, timeout, interval).Should(Equal(3))

			Expect(client.Close()).To(Succeed())
			Eventually(registry.Len, timeout, interval).Should(BeZero())
		})
	})

	It("listens again when the socket file is removed", func() {
		Expect(os.Remove(server.Path())).To(Succeed())

		Eventually(func() error {
			client, err := ipc.Dial(server.Path())
			if err != nil {
				return err
			}

			return client.Close()
		}, timeout, interval).Should(Succeed())
	})

	It("removes the socket file when stopped", func() {
		cfg.Stop()

		Eventually(done, timeout, interval).Should(Receive(BeNil()))

		_, err := os.Stat(server.Path())
		Expect(os.IsNotExist(err)).To(BeTrue())

		// AfterEach waits for a second result.
		done <- nil
	})
})
