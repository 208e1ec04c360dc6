// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Dash-Industry-Forum/streamcore/internal/orchestrator"
	"github.com/Dash-Industry-Forum/streamcore/pkg/logging"
)

// Server is the debug/introspection HTTP surface described in SPEC_FULL.md's
// ambient stack section: /healthz, /loglevel (reusing
// pkg/logging.LogRoutes), /debug/abr, and Prometheus /metrics, the same
// shape as cmd/livesim2/app/server.go + prometheus.go.
type Server struct {
	Router *chi.Mux
	Cfg    *Config
	eng    *orchestrator.Orchestrator
}

// NewServer wires the chi router the same way cmd/livesim2/app/start.go's
// SetupServer does: request-id, slog request logging, panic recovery,
// prometheus middleware, then routes.
func NewServer(cfg *Config, eng *orchestrator.Orchestrator) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logging.SlogMiddleWare(slog.Default()))
	r.Use(middleware.Recoverer)
	r.Use(NewPrometheusMiddleware())

	if cfg.TimeoutS > 0 {
		r.Use(middleware.Timeout(time.Duration(cfg.TimeoutS) * time.Second))
	}

	s := &Server{Router: r, Cfg: cfg, eng: eng}

	r.Get("/healthz", s.healthzHandlerFunc)
	for _, route := range logging.LogRoutes {
		r.MethodFunc(route.Method, route.Path, route.Handler)
	}
	r.Get("/debug/abr", s.debugABRHandlerFunc)
	r.Mount("/metrics", promhttp.Handler())

	return s
}

func (s *Server) healthzHandlerFunc(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]bool{"ok": true}, http.StatusOK)
}

func (s *Server) debugABRHandlerFunc(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, s.eng.DebugSnapshot(), http.StatusOK)
}

// jsonResponse marshals message and writes response with code.
//
// Don't add any more content after this since Content-Length is set.
func (s *Server) jsonResponse(w http.ResponseWriter, message any, code int) {
	raw, err := json.Marshal(message)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error(err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(raw); err != nil {
		slog.Error("could not write HTTP response", "err", err)
	}
}
