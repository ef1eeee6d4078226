package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/goflagclient"
	"github.com/TimurManjosov/goflagclient/internal/telemetry"
	"github.com/TimurManjosov/goflagclient/models"
)

// server exposes local flag evaluation over HTTP so non-Go processes on the
// same host can evaluate against the sidecar's cached configuration.
type server struct {
	client *goflagclient.Client
	log    zerolog.Logger
}

func newRouter(client *goflagclient.Client, log zerolog.Logger) http.Handler {
	s := &server{client: client, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Second))
	r.Use(telemetry.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/v1/features", s.handleListFeatures)
	r.Get("/v1/properties", s.handleListProperties)
	r.Post("/v1/features/{id}/evaluate", s.handleEvaluateFeature)
	r.Post("/v1/properties/{id}/evaluate", s.handleEvaluateProperty)

	return r
}

// evaluateRequest is the body of both evaluate endpoints.
type evaluateRequest struct {
	EntityID   string            `json:"entity_id"`
	Attributes models.Attributes `json:"attributes"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *server) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	features, err := s.client.GetFeatures()
	if err != nil {
		s.writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"features": features})
}

func (s *server) handleListProperties(w http.ResponseWriter, r *http.Request) {
	properties, err := s.client.GetProperties()
	if err != nil {
		s.writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"properties": properties})
}

func (s *server) handleEvaluateFeature(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeEvaluateRequest(w, r)
	if !ok {
		return
	}
	res, err := s.client.EvaluateFeature(chi.URLParam(r, "id"), req.EntityID, req.Attributes)
	if err != nil {
		s.writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleEvaluateProperty(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeEvaluateRequest(w, r)
	if !ok {
		return
	}
	res, err := s.client.EvaluateProperty(chi.URLParam(r, "id"), req.EntityID, req.Attributes)
	if err != nil {
		s.writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) decodeEvaluateRequest(w http.ResponseWriter, r *http.Request) (evaluateRequest, bool) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return req, false
	}
	if req.EntityID == "" {
		writeError(w, http.StatusBadRequest, "entity_id is required")
		return req, false
	}
	return req, true
}

// writeClientError maps SDK errors onto HTTP status codes.
func (s *server) writeClientError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, goflagclient.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, goflagclient.ErrNoContext):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, goflagclient.ErrConfiguration):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error().Err(err).Msg("evaluation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"error":   http.StatusText(code),
		"message": msg,
	})
}
