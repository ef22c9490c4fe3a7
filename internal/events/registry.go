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
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/intel/fpgad/internal/metrics"
)

// MaxRegistrations bounds the number of live registrations.
const MaxRegistrations = 4096

var (
	// ErrRegistryFull is returned by Register when no more registrations fit.
	ErrRegistryFull = errors.New("event registry is full")
	// ErrInvalidEventType is returned by Register for unknown event types.
	ErrInvalidEventType = errors.New("invalid event type")
)

// Registration is a client subscription to events of one type for one object.
type Registration struct {
	Sink     Sink
	ID       uint64
	ObjectID uint64
	ConnID   int
	Type     EventType
	seq      uint64
}

// Deliver writes the current sequence number to the sink and advances it.
// Only valid inside a ForEach callback.
func (r *Registration) Deliver() error {
	err := r.Sink.Signal(r.seq)
	r.seq++

	return err
}

// Seq returns the value the next delivery writes.
func (r *Registration) Seq() uint64 {
	return r.seq
}

func (r *Registration) String() string {
	return fmt.Sprintf("registration %d (conn %d, %s, object %#x)", r.ID, r.ConnID, r.Type, r.ObjectID)
}

// Callback is called by ForEach with the registry lock held. It must not
// call back into the registry.
type Callback func(reg *Registration, occ Occurrence)

// Registry is the set of all client event registrations. Registrations
// are kept in insertion order and presented most-recent-first.
type Registry struct {
	metrics *metrics.Metrics
	regs    []*Registration
	nextID  uint64
	mu      sync.Mutex
}

// NewRegistry creates an empty registry. m may be nil.
func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		metrics: m,
		nextID:  1,
	}
}

// Register adds a registration. On success the registry owns sink.
func (r *Registry) Register(connID int, t EventType, objectID uint64, sink Sink) (*Registration, error) {
	if !t.Valid() {
		return nil, errors.Wrapf(ErrInvalidEventType, "%d", uint32(t))
	}

	if sink == nil {
		return nil, errors.New("no delivery handle")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.regs) >= MaxRegistrations {
		return nil, errors.Wrapf(ErrRegistryFull, "%d registrations", len(r.regs))
	}

	reg := &Registration{
		ID:       r.nextID,
		ConnID:   connID,
		Type:     t,
		ObjectID: objectID,
		Sink:     sink,
		seq:      1,
	}
	r.nextID++

	r.regs = append(r.regs, reg)
	r.metrics.SetRegistrations(len(r.regs))

	klog.V(4).Infof("registered %s", reg)

	return reg, nil
}

// Unregister removes the most recent registration matching all three
// keys. It returns false when nothing matched.
func (r *Registry) Unregister(connID int, t EventType, objectID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.regs) - 1; i >= 0; i-- {
		reg := r.regs[i]
		if reg.ConnID == connID && reg.Type == t && reg.ObjectID == objectID {
			r.removeLocked(i)
			return true
		}
	}

	return false
}

// UnregisterAllFor removes every registration of a connection and
// returns how many were removed.
func (r *Registry) UnregisterAllFor(connID int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.removeIfLocked(func(reg *Registration) bool { return reg.ConnID == connID })
}

// UnregisterAll empties the registry.
func (r *Registry) UnregisterAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.removeIfLocked(func(*Registration) bool { return true })
}

// ForEach calls fn for every registration, most recent first, holding
// the registry lock for the whole iteration.
func (r *Registry) ForEach(occ Occurrence, fn Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.regs) - 1; i >= 0; i-- {
		fn(r.regs[i], occ)
	}
}

// Registrations returns a snapshot, most recent first.
func (r *Registry) Registrations() []Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Registration, 0, len(r.regs))
	for i := len(r.regs) - 1; i >= 0; i-- {
		out = append(out, *r.regs[i])
	}

	return out
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.regs)
}

func (r *Registry) removeLocked(i int) {
	closeSink(r.regs[i])

	copy(r.regs[i:], r.regs[i+1:])
	r.regs[len(r.regs)-1] = nil
	r.regs = r.regs[:len(r.regs)-1]

	r.metrics.SetRegistrations(len(r.regs))
}

func (r *Registry) removeIfLocked(match func(*Registration) bool) int {
	kept := r.regs[:0]
	removed := 0

	for _, reg := range r.regs {
		if match(reg) {
			closeSink(reg)

			removed++

			continue
		}

		kept = append(kept, reg)
	}

	for i := len(kept); i < len(r.regs); i++ {
		r.regs[i] = nil
	}

	r.regs = kept
	r.metrics.SetRegistrations(len(r.regs))

	return removed
}

func closeSink(reg *Registration) {
	klog.V(4).Infof("unregistering %s", reg)

	if err := reg.Sink.Close(); err != nil {
		klog.Warningf("%s: %+v", reg, err)
	}
}
