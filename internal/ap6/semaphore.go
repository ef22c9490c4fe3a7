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
	"sync"
	"time"
)

// Semaphore is a counting semaphore whose waits are bounded.
type Semaphore struct {
	ready chan struct{}
	count int
	mu    sync.Mutex
}

// NewSemaphore returns a semaphore with a zero count.
func NewSemaphore() *Semaphore {
	return &Semaphore{ready: make(chan struct{}, 1)}
}

// Post increments the count and wakes a waiter.
func (s *Semaphore) Post() {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()

	s.wake()
}

// Wait decrements the count, waiting up to timeout for it to become
// positive. It returns false on timeout or when ctx is done.
func (s *Semaphore) Wait(ctx context.Context, timeout time.Duration) bool {
	if s.tryAcquire() {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-s.ready:
			if s.tryAcquire() {
				return true
			}
		case <-timer.C:
			return s.tryAcquire()
		case <-ctx.Done():
			return false
		}
	}
}

// Drain takes every pending count and returns how many there were.
func (s *Semaphore) Drain() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.count
	s.count = 0

	return n
}

// Count returns the pending count.
func (s *Semaphore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.count
}

func (s *Semaphore) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return false
	}

	s.count--

	// Pass the wake-up on while counts remain.
	if s.count > 0 {
		s.wake()
	}

	return true
}

func (s *Semaphore) wake() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
