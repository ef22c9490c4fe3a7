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

// Package ap6 runs the per-socket workers that apply a failsafe
// configuration when a power/thermal AP6 condition is detected.
package ap6

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/intel/fpgad/internal/config"
	"github.com/intel/fpgad/internal/metrics"
)

// WaitTimeout bounds a worker wait so that it notices shutdown.
const WaitTimeout = time.Second

// ErrSocketOutOfRange is returned by Signal for a socket without worker.
var ErrSocketOutOfRange = errors.New("socket index out of range")

// Worker applies the failsafe configuration to one socket each time its
// semaphore is posted.
type Worker struct {
	programmer Programmer
	cfg        *config.Config
	metrics    *metrics.Metrics
	sem        *Semaphore
	socket     int
	applied    atomic.Int64
}

// NewWorker creates the worker of a socket. m may be nil.
func NewWorker(socket int, cfg *config.Config, programmer Programmer, m *metrics.Metrics) *Worker {
	return &Worker{
		socket:     socket,
		cfg:        cfg,
		programmer: programmer,
		metrics:    m,
		sem:        NewSemaphore(),
	}
}

// Socket returns the socket index served by the worker.
func (w *Worker) Socket() int {
	return w.socket
}

// Post wakes the worker.
func (w *Worker) Post() {
	w.sem.Post()
}

// Applied returns how many times the failsafe was applied.
func (w *Worker) Applied() int64 {
	return w.applied.Load()
}

// Run waits for signals until the configuration stops running or ctx is
// done. Signals posted while applying are coalesced into one more
// application.
func (w *Worker) Run(ctx context.Context) error {
	logger := klog.FromContext(ctx).WithName("ap6-worker").WithValues("socket", w.socket)

	logger.V(1).Info("Waiting for AP6 events")

	for w.cfg.Running() {
		if !w.sem.Wait(ctx, WaitTimeout) {
			if ctx.Err() != nil {
				break
			}

			continue
		}

		if n := w.sem.Drain(); n > 0 {
			logger.V(2).Info("Coalesced pending signals", "count", n)
		}

		w.apply(ctx, logger)
	}

	logger.V(1).Info("Stopped")

	return nil
}

func (w *Worker) apply(ctx context.Context, logger logr.Logger) {
	logger.Info("Applying failsafe configuration")

	err := w.programmer.ApplyFailsafe(ctx, w.socket)
	w.applied.Add(1)
	w.metrics.FailsafeApplied(w.socket, err)

	if err != nil {
		logger.Error(err, "Failsafe configuration failed")
		return
	}

	logger.Info("Failsafe configuration applied")
}

// Workers owns one worker per configured socket.
type Workers struct {
	workers []*Worker
}

// NewWorkers creates cfg.Sockets workers sharing programmer.
func NewWorkers(cfg *config.Config, programmer Programmer, m *metrics.Metrics) *Workers {
	ws := &Workers{workers: make([]*Worker, cfg.Sockets)}
	for i := range ws.workers {
		ws.workers[i] = NewWorker(i, cfg, programmer, m)
	}

	return ws
}

// Worker returns the worker of a socket or nil.
func (ws *Workers) Worker(socket int) *Worker {
	if socket < 0 || socket >= len(ws.workers) {
		return nil
	}

	return ws.workers[socket]
}

// Signal wakes the worker of socket.
func (ws *Workers) Signal(socket int) error {
	w := ws.Worker(socket)
	if w == nil {
		return errors.Wrapf(ErrSocketOutOfRange, "socket %d, %d workers", socket, len(ws.workers))
	}

	w.Post()

	return nil
}

// Run runs every worker and returns when all of them have stopped.
func (ws *Workers) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, w := range ws.workers {
		g.Go(func() error { return w.Run(ctx) })
	}

	return g.Wait()
}
