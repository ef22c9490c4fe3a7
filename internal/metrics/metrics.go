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

// Package metrics exposes daemon counters in Prometheus format. All
// methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"
)

const namespace = "fpgad"

// Metrics holds the daemon collectors.
type Metrics struct {
	errors        *prometheus.CounterVec
	notifications *prometheus.CounterVec
	failsafe      *prometheus.CounterVec
	registrations prometheus.Gauge
	clients       prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_detected_total",
			Help:      "Rising edges of monitored error and status fields.",
		}, []string{"class", "error"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Event notifications delivered to clients.",
		}, []string{"event"}),
		failsafe: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failsafe_total",
			Help:      "Failsafe configuration attempts per socket.",
		}, []string{"socket", "result"}),
		registrations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registrations",
			Help:      "Live client event registrations.",
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clients",
			Help:      "Connected IPC clients.",
		}),
	}

	for _, c := range []prometheus.Collector{m.errors, m.notifications, m.failsafe, m.registrations, m.clients} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "register collector")
		}
	}

	return m, nil
}

// ErrorDetected counts a rising edge of a table entry.
func (m *Metrics) ErrorDetected(class, label string) {
	if m == nil {
		return
	}

	m.errors.WithLabelValues(class, label).Inc()
}

// Notified counts n deliveries of an event type.
func (m *Metrics) Notified(event string, n int) {
	if m == nil || n <= 0 {
		return
	}

	m.notifications.WithLabelValues(event).Add(float64(n))
}

// FailsafeApplied counts a failsafe attempt on a socket.
func (m *Metrics) FailsafeApplied(socket int, err error) {
	if m == nil {
		return
	}

	result := "success"
	if err != nil {
		result = "failure"
	}

	m.failsafe.WithLabelValues(strconv.Itoa(socket), result).Inc()
}

// SetRegistrations sets the registration gauge.
func (m *Metrics) SetRegistrations(n int) {
	if m == nil {
		return
	}

	m.registrations.Set(float64(n))
}

// SetClients sets the connected client gauge.
func (m *Metrics) SetClients(n int) {
	if m == nil {
		return
	}

	m.clients.Set(float64(n))
}

// Serve exposes gatherer on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		klog.V(1).Infof("serving metrics on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrapf(err, "metrics server on %s", addr)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "metrics server shutdown")
	}

	return nil
}
