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

package events

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrNotWritable is returned by Signal when a write would block.
var ErrNotWritable = errors.New("delivery handle is not writable")

// Sink is a delivery handle registered by a client.
type Sink interface {
	// Signal writes value to the handle.
	Signal(value uint64) error
	Close() error
}

// EventFD is an eventfd(2) counter. The daemon writes to the descriptor a
// client passed in, the client waits on it.
type EventFD struct {
	mu sync.Mutex
	fd int
}

// NewEventFD creates a new close-on-exec eventfd.
func NewEventFD() (*EventFD, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "eventfd")
	}

	return &EventFD{fd: fd}, nil
}

// NewEventFDSink wraps a descriptor received from a client. The sink owns fd.
func NewEventFDSink(fd int) *EventFD {
	return &EventFD{fd: fd}
}

// Fd returns the descriptor or -1 after Close.
func (e *EventFD) Fd() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.fd
}

// Signal adds value to the counter.
func (e *EventFD) Signal(value uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.fd < 0 {
		return errors.New("eventfd is closed")
	}

	// The descriptor belongs to a client: never block on it.
	fds := []unix.PollFd{{Fd: int32(e.fd), Events: unix.POLLOUT}}

	ready, err := unix.Poll(fds, 0)
	if err != nil {
		return errors.Wrapf(err, "poll fd %d", e.fd)
	}

	if ready == 0 || fds[0].Revents&unix.POLLOUT == 0 {
		return errors.Wrapf(ErrNotWritable, "fd %d", e.fd)
	}

	var buf [8]byte

	binary.LittleEndian.PutUint64(buf[:], value)

	n, err := unix.Write(e.fd, buf[:])
	if err != nil {
		return errors.Wrapf(err, "write to fd %d", e.fd)
	}

	if n != len(buf) {
		return errors.Errorf("short write to fd %d: %d bytes", e.fd, n)
	}

	return nil
}

// Wait blocks up to timeout for the counter to become non-zero and
// returns its value, resetting it. ok is false on timeout.
func (e *EventFD) Wait(timeout time.Duration) (value uint64, ok bool, err error) {
	fd := e.Fd()
	if fd < 0 {
		return 0, false, errors.New("eventfd is closed")
	}

	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}

	for {
		n, err := unix.Poll(fds, int(timeout.Milliseconds()))
		if err == unix.EINTR {
			continue
		}

		if err != nil {
			return 0, false, errors.Wrap(err, "poll")
		}

		if n == 0 {
			return 0, false, nil
		}

		break
	}

	var buf [8]byte

	n, err := unix.Read(fd, buf[:])
	if err != nil {
		return 0, false, errors.Wrapf(err, "read from fd %d", fd)
	}

	if n != len(buf) {
		return 0, false, errors.Errorf("short read from fd %d: %d bytes", fd, n)
	}

	return binary.LittleEndian.Uint64(buf[:]), true, nil
}

// Close releases the descriptor. Repeated calls are no-ops.
func (e *EventFD) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.fd < 0 {
		return nil
	}

	err := unix.Close(e.fd)
	e.fd = -1

	return errors.Wrap(err, "close eventfd")
}
