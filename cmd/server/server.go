package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"event-extraction-engine/internal/models"
	"event-extraction-engine/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const maxBatchURLs = 25

// Server exposes the engine over HTTP
type Server struct {
	engine   *services.Engine
	registry *prometheus.Registry
	timeout  time.Duration
	logger   *zap.Logger
}

// ResponseBody represents the response body structure
type ResponseBody struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type extractRequest struct {
	URL  string   `json:"url"`
	URLs []string `json:"urls"`
}

// NewServer creates the HTTP adapter; registry backs GET /metrics
func NewServer(engine *services.Engine, registry *prometheus.Registry, timeout time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Server{engine: engine, registry: registry, timeout: timeout, logger: logger.Named("http")}
}

// Routes returns the chi router with every endpoint mounted
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Get("/dashboard", s.handleDashboard)
	r.Post("/dashboard/reset", s.handleResetDashboard)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.timeout))
		r.Post("/extract", s.handleExtract)
		r.Post("/extract/batch", s.handleExtractBatch)
	})

	r.Route("/venues", func(r chi.Router) {
		r.Put("/", s.handlePutVenue)
		r.Get("/{name}", s.handleGetVenue)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ResponseBody{Success: true, Message: "ok"})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	metrics := s.engine.Metrics()
	writeJSON(w, http.StatusOK, ResponseBody{
		Success: true,
		Data: map[string]interface{}{
			"metrics": metrics.GetDashboardMetrics(),
			"alerts":  metrics.CheckAlerts(),
		},
	})
}

func (s *Server) handleResetDashboard(w http.ResponseWriter, r *http.Request) {
	s.engine.Metrics().ResetMetrics()
	writeJSON(w, http.StatusOK, ResponseBody{Success: true, Message: "metrics reset"})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if err := services.ValidateURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, upload, err := s.engine.Extract(r.Context(), req.URL)
	if err != nil {
		s.logger.Warn("extraction failed", zap.String("url", req.URL), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ResponseBody{
		Success: true,
		Data:    services.PageOutcome{URL: req.URL, Result: result, Upload: upload},
	})
}

func (s *Server) handleExtractBatch(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls is required")
		return
	}
	if len(req.URLs) > maxBatchURLs {
		writeError(w, http.StatusBadRequest, "too many urls")
		return
	}

	outcomes := s.engine.ExtractBatch(r.Context(), req.URLs, 0)
	if err := s.engine.Flush(r.Context()); err != nil {
		s.logger.Warn("failed to persist learned venues", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, ResponseBody{Success: true, Data: outcomes})
}

func (s *Server) handleGetVenue(w http.ResponseWriter, r *http.Request) {
	store := s.engine.Venues()
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "venue store not configured")
		return
	}

	record, err := store.GetVenue(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		if eris.Is(err, services.ErrVenueNotFound) {
			writeError(w, http.StatusNotFound, "venue not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ResponseBody{Success: true, Data: record})
}

func (s *Server) handlePutVenue(w http.ResponseWriter, r *http.Request) {
	store := s.engine.Venues()
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "venue store not configured")
		return
	}

	var record models.VenueRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := store.SaveVenue(r.Context(), record); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.engine.LearnVenue(record)
	writeJSON(w, http.StatusOK, ResponseBody{Success: true, Message: "venue saved"})
}

func writeJSON(w http.ResponseWriter, status int, body ResponseBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ResponseBody{Success: false, Error: msg})
}
