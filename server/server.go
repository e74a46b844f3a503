//
// Copyright (C) 2025 FlowBuilder Authors. All rights reserved.
//
// flowengine is licensed under the Apache License Version 2.0.
//

// Package server exposes the flow engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/flowbuilder/flowengine/flow"
	"github.com/flowbuilder/flowengine/graphstore"
	"github.com/flowbuilder/flowengine/log"
	"github.com/flowbuilder/flowengine/telemetry"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	ErrorType string `json:"errorType"`
	Message   string `json:"message"`
	TraceID   string `json:"traceId"`
}

// Server routes HTTP requests to the flow engine.
type Server struct {
	engine  *flow.Engine
	router  *mux.Router
	metrics http.Handler
}

// Option configures the Server instance.
type Option func(*Server)

// WithMetricsHandler mounts a metrics scrape endpoint at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// New creates an HTTP server over the given engine.
func New(engine *flow.Engine, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		router: mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
	})
	s.router.Use(c.Handler)
	s.registerRoutes()
	return s
}

// Handler returns the root http.Handler of the server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/v1/api/next_question_flow", s.handleNextQuestion).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	preflight := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
	s.router.HandleFunc("/v1/api/next_question_flow", preflight).Methods(http.MethodOptions)
}

// handleNextQuestion decodes the request body: sectionId selects the section
// and every other field is passed through as an input parameter.
func (s *Server) handleNextQuestion(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.NewString()

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusConflict, "InvalidRequest", "request body is not valid JSON", traceID)
		return
	}

	sectionID, _ := body["sectionId"].(string)
	inputs := make(map[string]any, len(body))
	for k, v := range body {
		if k == "sectionId" {
			continue
		}
		inputs[k] = v
	}

	started := time.Now()
	resp, err := s.engine.NextQuestion(r.Context(), flow.Request{
		SectionID: sectionID,
		Inputs:    inputs,
		TraceID:   traceID,
	})
	telemetry.RecordRequest(r.Context(), sectionID, time.Since(started), err)
	if err != nil {
		s.writeEngineError(w, err, traceID)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeEngineError maps engine failures onto the wire contract: domain
// failures (bad request, unknown section, rejected action query) answer 409,
// infrastructure failures answer 500.
func (s *Server) writeEngineError(w http.ResponseWriter, err error, traceID string) {
	switch {
	case errors.Is(err, flow.ErrInvalidRequest):
		s.writeError(w, http.StatusConflict, "InvalidRequest", err.Error(), traceID)
	case errors.Is(err, flow.ErrSectionNotFound):
		s.writeError(w, http.StatusConflict, "SectionNotFound", err.Error(), traceID)
	case graphstore.IsQueryError(err):
		s.writeError(w, http.StatusConflict, "QueryError", err.Error(), traceID)
	case errors.Is(err, graphstore.ErrUnavailable):
		s.writeError(w, http.StatusInternalServerError, "StoreUnavailable", err.Error(), traceID)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusInternalServerError, "RequestAborted", err.Error(), traceID)
	default:
		s.writeError(w, http.StatusInternalServerError, "InternalError", err.Error(), traceID)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, errorType, message, traceID string) {
	log.Warnf("request failed: type=%s trace=%s message=%s", errorType, traceID, message)
	s.writeJSON(w, status, errorBody{ErrorType: errorType, Message: message, TraceID: traceID})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("failed to encode response: %v", err)
	}
}
