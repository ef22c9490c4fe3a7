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

package ipc

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/intel/fpgad/internal/events"
)

// Client is a connection to the daemon event socket.
type Client struct {
	mu sync.Mutex
	fd int
}

// Dial connects to the daemon socket at path.
func Dial(path string) (*Client, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "socket")
	}

	if err = unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "connect to %s", path)
	}

	return &Client{fd: fd}, nil
}

// Register subscribes a new eventfd to events of type t for an object.
// The returned eventfd is owned by the caller.
func (c *Client) Register(t events.EventType, objectID uint64) (*events.EventFD, error) {
	efd, err := events.NewEventFD()
	if err != nil {
		return nil, err
	}

	if err = c.RegisterFd(t, objectID, efd.Fd()); err != nil {
		efd.Close()
		return nil, err
	}

	return efd, nil
}

// RegisterFd subscribes an existing descriptor. The daemon receives its
// own copy of fd.
func (c *Client) RegisterFd(t events.EventType, objectID uint64, fd int) error {
	return c.send(Request{Type: RegisterEvent, Event: t, ObjectID: objectID}, unix.UnixRights(fd))
}

// Unregister removes the most recent subscription of this connection to
// events of type t for an object.
func (c *Client) Unregister(t events.EventType, objectID uint64) error {
	return c.send(Request{Type: UnregisterEvent, Event: t, ObjectID: objectID}, nil)
}

// Close closes the connection. The daemon drops all its subscriptions.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fd < 0 {
		return nil
	}

	err := unix.Close(c.fd)
	c.fd = -1

	return errors.Wrap(err, "close")
}

func (c *Client) send(req Request, oob []byte) error {
	data, err := req.MarshalBinary()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fd < 0 {
		return errors.New("connection is closed")
	}

	if err := unix.Sendmsg(c.fd, data, oob, nil, 0); err != nil {
		return errors.Wrapf(err, "send %s", req)
	}

	return nil
}
