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

// Package ipc implements the UNIX socket protocol clients use to subscribe
// eventfd handles to FPGA events.
//
// A request is a 16 byte little-endian header
//
//	request_type u32 | event_type u32 | object_id u64
//
// sent in a single message. A REGISTER request carries the client eventfd
// as SCM_RIGHTS ancillary data. The daemon never replies.
package ipc

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/intel/fpgad/internal/events"
)

// HeaderSize is the size of an encoded request.
const HeaderSize = 16

// ErrMalformedRequest is returned for requests that can't be decoded.
var ErrMalformedRequest = errors.New("malformed request")

// RequestType tells a registration from an unregistration.
type RequestType uint32

// Request types.
const (
	RegisterEvent RequestType = iota
	UnregisterEvent
)

func (t RequestType) String() string {
	switch t {
	case RegisterEvent:
		return "register"
	case UnregisterEvent:
		return "unregister"
	}

	return fmt.Sprintf("RequestType(%d)", uint32(t))
}

// Request is a client request header.
type Request struct {
	Type     RequestType
	Event    events.EventType
	ObjectID uint64
}

// MarshalBinary encodes the request header.
func (r Request) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)

	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Type))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.Event))
	binary.LittleEndian.PutUint64(buf[8:16], r.ObjectID)

	return buf, nil
}

// UnmarshalBinary decodes and validates a request header.
func (r *Request) UnmarshalBinary(data []byte) error {
	if len(data) != HeaderSize {
		return errors.Wrapf(ErrMalformedRequest, "%d bytes, expected %d", len(data), HeaderSize)
	}

	req := Request{
		Type:     RequestType(binary.LittleEndian.Uint32(data[0:4])),
		Event:    events.EventType(binary.LittleEndian.Uint32(data[4:8])),
		ObjectID: binary.LittleEndian.Uint64(data[8:16]),
	}

	if req.Type != RegisterEvent && req.Type != UnregisterEvent {
		return errors.Wrapf(ErrMalformedRequest, "unknown request type %d", uint32(req.Type))
	}

	if !req.Event.Valid() {
		return errors.Wrapf(ErrMalformedRequest, "unknown event type %d", uint32(req.Event))
	}

	*r = req

	return nil
}

func (r Request) String() string {
	return fmt.Sprintf("%s %s for object %#x", r.Type, r.Event, r.ObjectID)
}
