/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package httpinvoker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/vogo/vcluster/vfailover"
	"github.com/vogo/vogo/vlog"
	"go.uber.org/atomic"
)

// Service executes invocations addressed to one service name.
// Returned *vfailover.ClusteringError values are reported as clustering
// failures, any other error as an application failure.
type Service interface {
	Invoke(ctx context.Context, inv *vfailover.Invocation) ([]byte, error)
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context, inv *vfailover.Invocation) ([]byte, error)

func (f ServiceFunc) Invoke(ctx context.Context, inv *vfailover.Invocation) ([]byte, error) {
	return f(ctx, inv)
}

// ViewProvider exposes the view a server hands out to its clients.
// *vfailover.ClusterView implements it.
type ViewProvider interface {
	Snapshot() vfailover.View
}

// Server dispatches http invocations to registered services.
type Server struct {
	router   chi.Router
	view     ViewProvider
	draining atomic.Bool

	mu       sync.RWMutex
	services map[string]Service
}

// NewServer creates a server. view may be nil, then no view is piggybacked.
func NewServer(view ViewProvider) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		view:     view,
		services: make(map[string]Service),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Get("/health", s.health)
	s.router.Post(invokePath+"{service}", s.invoke)

	return s
}

// Handler returns the http handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Register binds svc to name, replacing any previous binding.
func (s *Server) Register(name string, svc Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[name] = svc
}

// Deregister removes the service bound to name.
func (s *Server) Deregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.services, name)
}

// Drain makes the server refuse new invocations with a definitive
// not-executed clustering error, so clients move to other members.
func (s *Server) Drain() {
	s.draining.Store(true)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	if s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) invoke(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "service")

	var inv vfailover.Invocation
	if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
		http.Error(w, "invalid invocation: "+err.Error(), http.StatusBadRequest)
		return
	}
	inv.Service = name
	if v := r.Header.Get(HeaderFailoverCounter); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			inv.FailoverCounter = n
		}
	}
	if v := r.Header.Get(HeaderViewID); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			inv.ViewID = n
		}
	}

	env := envelope{}
	if payload, err := s.dispatch(r.Context(), name, &inv); err != nil {
		env.Error = encodeError(err)
	} else {
		env.Payload = payload
	}

	if s.view != nil {
		if view := s.view.Snapshot(); view.ID() != inv.ViewID {
			env.ViewChanged = true
			env.Replicants = view.Targets()
			env.ViewID = view.ID()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(&env); err != nil {
		vlog.Errorf("vcluster invoker write response | service: %s | err: %v", name, err)
	}
}

func (s *Server) dispatch(ctx context.Context, name string, inv *vfailover.Invocation) ([]byte, error) {
	if s.draining.Load() {
		return nil, &vfailover.ClusteringError{
			Status:     vfailover.CompletedNo,
			Definitive: true,
			Err:        errors.New("node is shutting down"),
		}
	}

	s.mu.RLock()
	svc, ok := s.services[name]
	s.mu.RUnlock()

	if !ok {
		return nil, &vfailover.ClusteringError{
			Status:     vfailover.CompletedNo,
			Definitive: true,
			Err:        errors.New("service not deployed: " + name),
		}
	}

	if inv.FailoverCounter > 0 {
		vlog.Debugf("vcluster invoker replayed call | service: %s | method: %s | attempt: %d", name, inv.Method, inv.FailoverCounter)
	}

	return svc.Invoke(ctx, inv)
}
