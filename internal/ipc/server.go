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
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"

	"github.com/intel/fpgad/internal/config"
	"github.com/intel/fpgad/internal/events"
	"github.com/intel/fpgad/internal/metrics"
)

const (
	// MaxClients bounds the number of simultaneous client connections.
	MaxClients = 1024
	// PollTimeout bounds a wait for socket readiness.
	PollTimeout = 100 * time.Millisecond

	backlog = 16
)

type conn struct {
	fd int
	id int
}

// Server accepts client connections and applies their requests to the
// event registry. The listening socket and the connections are owned by
// the goroutine calling Run.
type Server struct {
	cfg        *config.Config
	registry   *events.Registry
	metrics    *metrics.Metrics
	watcher    *fsnotify.Watcher
	path       string
	clients    []*conn
	listenFd   int
	maxClients int
	nextID     int
	full       bool
	// listenErr is the last failure to re-create the listening socket.
	listenErr error
}

// NewServer creates a server for the socket at path. m may be nil.
func NewServer(path string, cfg *config.Config, registry *events.Registry, m *metrics.Metrics) *Server {
	return &Server{
		path:       path,
		cfg:        cfg,
		registry:   registry,
		metrics:    m,
		listenFd:   -1,
		maxClients: MaxClients,
	}
}

// Path returns the socket path.
func (s *Server) Path() string {
	return s.path
}

// Listen creates the listening socket, replacing a stale socket file.
func (s *Server) Listen() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "unable to remove stale socket %s", s.path)
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return errors.Wrap(err, "socket")
	}

	if err = unix.Bind(fd, &unix.SockaddrUnix{Name: s.path}); err != nil {
		unix.Close(fd)
		return errors.Wrapf(err, "bind %s", s.path)
	}

	if err = unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return errors.Wrapf(err, "listen on %s", s.path)
	}

	s.listenFd = fd

	klog.V(1).Infof("listening on %s", s.path)

	return nil
}

// Run serves clients until the configuration stops running or ctx is
// done, then drops every registration and closes all sockets.
func (s *Server) Run(ctx context.Context) error {
	logger := klog.FromContext(ctx).WithName("ipc-server")

	if s.listenFd < 0 {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	defer s.shutdown(logger)

	if err := s.watch(); err != nil {
		logger.Error(err, "Socket file is not watched")
	}

	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		s.relisten(logger)
	}

	logger.Info("Serving", "socket", s.path)

	for s.cfg.Running() && ctx.Err() == nil {
		s.checkSocketFile(logger)
		s.retryListen(logger)

		if err := s.pollOnce(logger); err != nil {
			return err
		}
	}

	return nil
}

func (s *Server) watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrapf(err, "Failed to create watcher for %s", s.path)
	}

	if err = watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return errors.Wrapf(err, "Failed to add %s to watcher", s.path)
	}

	s.watcher = watcher

	return nil
}

// checkSocketFile re-creates the listening socket when its file is removed.
func (s *Server) checkSocketFile(logger logr.Logger) {
	if s.watcher == nil {
		return
	}

	for {
		select {
		case ev := <-s.watcher.Events:
			if !(ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)) || ev.Name != s.path {
				continue
			}

			s.relisten(logger)
		case err := <-s.watcher.Errors:
			logger.Error(err, "Socket file watch failed")
		default:
			return
		}
	}
}

func (s *Server) relisten(logger logr.Logger) {
	logger.Info("Socket file removed, listening again", "socket", s.path)

	s.closeListener()
	s.listenErr = nil
	s.retryListen(logger)
}

// retryListen re-creates a listening socket lost to a failed relisten.
// Only the first failure of a streak is logged.
func (s *Server) retryListen(logger logr.Logger) {
	if s.listenFd >= 0 {
		return
	}

	err := s.Listen()
	if err == nil {
		if s.listenErr != nil {
			logger.Info("Listening again", "socket", s.path)
		}

		s.listenErr = nil

		return
	}

	if s.listenErr == nil {
		logger.Error(err, "Unable to listen, retrying")
	}

	s.listenErr = err
}

func (s *Server) pollOnce(logger logr.Logger) error {
	fds := make([]unix.PollFd, 0, len(s.clients)+1)
	for _, c := range s.clients {
		fds = append(fds, unix.PollFd{Fd: int32(c.fd), Events: unix.POLLIN})
	}

	accepting := s.listenFd >= 0 && len(s.clients) < s.maxClients
	if accepting {
		fds = append(fds, unix.PollFd{Fd: int32(s.listenFd), Events: unix.POLLIN})
	}

	n, err := unix.Poll(fds, int(PollTimeout.Milliseconds()))
	if err == unix.EINTR {
		return nil
	}

	if err != nil {
		return errors.Wrap(err, "poll")
	}

	if n == 0 {
		return nil
	}

	clients := s.clients
	kept := make([]*conn, 0, len(clients))

	for i, c := range clients {
		if fds[i].Revents == 0 || s.serveClient(logger, c) {
			kept = append(kept, c)
			continue
		}

		s.closeConn(logger, c)
	}

	s.clients = kept

	if accepting && fds[len(fds)-1].Revents&unix.POLLIN != 0 {
		s.accept(logger)
	}

	s.metrics.SetClients(len(s.clients))

	return nil
}

func (s *Server) accept(logger logr.Logger) {
	fd, _, err := unix.Accept4(s.listenFd, unix.SOCK_CLOEXEC)
	if err != nil {
		if err != unix.EAGAIN && err != unix.EINTR && err != unix.ECONNABORTED {
			logger.Error(err, "Accept failed")
		}

		return
	}

	c := &conn{fd: fd, id: s.nextID}
	s.nextID++
	s.clients = append(s.clients, c)

	logger.V(2).Info("Client connected", "conn", c.id)

	switch {
	case len(s.clients) >= s.maxClients && !s.full:
		logger.Info("Connection table is full, new clients wait in the backlog", "clients", len(s.clients))
		s.full = true
	case len(s.clients) < s.maxClients:
		s.full = false
	}
}

// serveClient handles one message and returns false if the connection
// must be dropped.
func (s *Server) serveClient(logger logr.Logger, c *conn) bool {
	buf := make([]byte, HeaderSize)
	oob := make([]byte, unix.CmsgSpace(4*4))

	n, oobn, flags, _, err := unix.Recvmsg(c.fd, buf, oob, unix.MSG_CMSG_CLOEXEC|unix.MSG_DONTWAIT)
	if err == unix.EAGAIN || err == unix.EINTR {
		return true
	}

	if err != nil {
		logger.Error(err, "Receive failed, dropping connection", "conn", c.id)
		return false
	}

	fds, cerr := receivedFds(oob[:oobn])

	if n == 0 {
		closeFds(fds)
		logger.V(2).Info("Client disconnected", "conn", c.id)

		return false
	}

	var req Request

	switch {
	case cerr != nil:
		err = cerr
	case flags&unix.MSG_CTRUNC != 0:
		err = errors.Wrap(ErrMalformedRequest, "ancillary data truncated")
	default:
		err = req.UnmarshalBinary(buf[:n])
	}

	if err != nil {
		closeFds(fds)
		logger.Error(err, "Dropping connection", "conn", c.id)

		return false
	}

	switch req.Type {
	case RegisterEvent:
		if len(fds) != 1 {
			closeFds(fds)
			logger.Error(ErrMalformedRequest, "Register request must carry one descriptor, dropping connection",
				"conn", c.id, "descriptors", len(fds))

			return false
		}

		sink := events.NewEventFDSink(fds[0])
		if _, err := s.registry.Register(c.id, req.Event, req.ObjectID, sink); err != nil {
			sink.Close()
			logger.Error(err, "Registration failed", "conn", c.id, "request", req.String())

			return true
		}
	case UnregisterEvent:
		closeFds(fds)

		if !s.registry.Unregister(c.id, req.Event, req.ObjectID) {
			logger.V(2).Info("Nothing to unregister", "conn", c.id, "request", req.String())
		}
	}

	logger.V(3).Info("Request served", "conn", c.id, "request", req.String())

	return true
}

func receivedFds(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}

	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, errors.Wrap(err, "can't parse ancillary data")
	}

	var fds []int

	for i := range msgs {
		rights, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}

		fds = append(fds, rights...)
	}

	return fds, nil
}

func closeFds(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}

func (s *Server) closeConn(logger logr.Logger, c *conn) {
	if n := s.registry.UnregisterAllFor(c.id); n > 0 {
		logger.V(2).Info("Dropped registrations", "conn", c.id, "count", n)
	}

	if err := unix.Close(c.fd); err != nil {
		logger.Error(err, "Close failed", "conn", c.id)
	}
}

func (s *Server) closeListener() {
	if s.listenFd < 0 {
		return
	}

	unix.Close(s.listenFd)
	s.listenFd = -1
}

func (s *Server) shutdown(logger logr.Logger) {
	if n := s.registry.UnregisterAll(); n > 0 {
		logger.V(1).Info("Dropped registrations", "count", n)
	}

	for _, c := range s.clients {
		if err := unix.Close(c.fd); err != nil {
			logger.Error(err, "Close failed", "conn", c.id)
		}
	}

	s.clients = nil
	s.metrics.SetClients(0)

	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}

	s.closeListener()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		logger.Error(err, "Unable to remove socket file", "socket", s.path)
	}

	logger.Info("Stopped")
}
