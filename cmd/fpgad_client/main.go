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

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/intel/fpgad/internal/events"
	"github.com/intel/fpgad/internal/ipc"
)

const waitStep = 500 * time.Millisecond

func parseEventType(s string) (events.EventType, error) {
	for _, t := range []events.EventType{events.Interrupt, events.Error, events.PowerThermal} {
		if t.String() == s {
			return t, nil
		}
	}

	return 0, errors.Errorf("unknown event type %q", s)
}

func main() {
	var (
		socket  string
		event   string
		object  string
		count   uint64
		stopped atomic.Bool
	)

	klog.InitFlags(nil)
	flag.StringVar(&socket, "socket", "/tmp/fpga_event_socket", "fpgad event socket")
	flag.StringVar(&event, "event", events.Error.String(), "event type: interrupt, error or power-thermal")
	flag.StringVar(&object, "object-id", "", "object id of the FME or Port to watch")
	flag.Uint64Var(&count, "count", 0, "exit after this many events, 0 waits forever")
	flag.Parse()

	t, err := parseEventType(event)
	if err != nil {
		klog.Fatal(err)
	}

	objectID, err := strconv.ParseUint(object, 0, 64)
	if err != nil {
		klog.Fatalf("invalid --object-id %q: %v", object, err)
	}

	client, err := ipc.Dial(socket)
	if err != nil {
		klog.Fatalf("%+v", err)
	}
	defer client.Close()

	efd, err := client.Register(t, objectID)
	if err != nil {
		klog.Fatalf("%+v", err)
	}
	defer efd.Close()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigs
		stopped.Store(true)
	}()

	fmt.Printf("waiting for %s events of object %#x\n", t, objectID)

	var received uint64

	for !stopped.Load() && (count == 0 || received < count) {
		seq, ok, err := efd.Wait(waitStep)
		if err != nil {
			klog.Errorf("%+v", err)
			break
		}

		if !ok {
			continue
		}

		received++
		fmt.Printf("%s event of object %#x, counter %d\n", t, objectID, seq)
	}

	if err := client.Unregister(t, objectID); err != nil {
		klog.Warningf("%+v", err)
	}
}
