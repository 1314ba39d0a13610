/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package api serves the admin HTTP endpoints used to inspect and reset
// per-report sync state.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	"github.com/altairalabs/reportsync/internal/reports"
	"github.com/altairalabs/reportsync/internal/syncstate"
)

// DefaultAddr is the admin API listen address.
const DefaultAddr = ":3000"

const serviceName = "AppFolio to Snowflake Data Pipeline API"

// Banner is returned by GET /.
type Banner struct {
	Message string `json:"message"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

// ReportState is the state of one report as returned by the API.
type ReportState struct {
	Report string `json:"report"`
	syncstate.State
}

// StatesResponse lists the state of every catalog report.
type StatesResponse struct {
	States []ReportState `json:"states"`
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the version reported by the banner.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithReadiness sets the check behind /healthz. It defaults to pinging
// nothing and always passing.
func WithReadiness(check func(ctx context.Context) error) Option {
	return func(s *Server) { s.ready = check }
}

// Server provides the admin REST API.
type Server struct {
	catalog *reports.Catalog
	store   syncstate.Store
	version string
	ready   func(ctx context.Context) error
	log     logr.Logger
}

// NewServer creates an admin server over the catalog and state store.
func NewServer(catalog *reports.Catalog, store syncstate.Store, log logr.Logger, opts ...Option) *Server {
	s := &Server{
		catalog: catalog,
		store:   store,
		version: "dev",
		log:     log.WithName("admin-api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns an http.Handler for the admin API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleBanner)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/v1/state", s.handleListStates)
	mux.HandleFunc("GET /api/v1/state/{report}", s.handleGetState)
	mux.HandleFunc("POST /api/v1/state/{report}/reset", s.handleReset)
	mux.HandleFunc("POST /api/reset-general-ledger", s.handleResetGeneralLedger)
	return mux
}

// NewHTTPServer wraps the handler with the timeouts used by every listener.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func (s *Server) handleBanner(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, Banner{Message: "Welcome to " + serviceName, Version: s.version, Status: "running"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListStates(w http.ResponseWriter, r *http.Request) {
	stored, err := s.store.All(r.Context())
	if err != nil {
		s.log.Error(err, "failed to list sync state")
		s.writeError(w, http.StatusInternalServerError, "failed to list sync state")
		return
	}
	resp := StatesResponse{States: make([]ReportState, 0, len(s.catalog.All()))}
	for _, name := range s.catalog.Names() {
		st, ok := stored[name]
		if !ok {
			st = syncstate.Default()
		}
		resp.States = append(resp.States, ReportState{Report: name, State: st})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("report")
	if _, ok := s.catalog.Get(name); !ok {
		s.writeError(w, http.StatusNotFound, "unknown report: "+name)
		return
	}
	st, err := s.store.Get(r.Context(), name)
	if err != nil && !errors.Is(err, syncstate.ErrCorrupt) {
		s.log.Error(err, "failed to read sync state", "report", name)
		s.writeError(w, http.StatusInternalServerError, "failed to read sync state")
		return
	}
	s.writeJSON(w, http.StatusOK, ReportState{Report: name, State: st})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("report")
	if _, ok := s.catalog.Get(name); !ok {
		s.writeError(w, http.StatusNotFound, "unknown report: "+name)
		return
	}
	s.reset(w, r, name)
}

func (s *Server) handleResetGeneralLedger(w http.ResponseWriter, r *http.Request) {
	s.reset(w, r, reports.GeneralLedger)
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request, name string) {
	if err := s.store.Reset(r.Context(), name); err != nil {
		s.log.Error(err, "failed to reset sync state", "report", name)
		s.writeError(w, http.StatusInternalServerError, "failed to reset "+name+" state")
		return
	}
	s.log.Info("sync state reset", "report", name)
	s.writeMessage(w, name+" state reset successfully")
}
