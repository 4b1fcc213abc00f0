package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jinresearch/linkbeacon/internal/config"
	"github.com/jinresearch/linkbeacon/internal/links"
	"github.com/jinresearch/linkbeacon/internal/metrics"
	"github.com/jinresearch/linkbeacon/internal/resolver"
)

// Server wires HTTP handlers to the resolver service.
type Server struct {
	router   chi.Router
	resolver *resolver.Service
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc *resolver.Service, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		resolver: svc,
		cfg:      cfg,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/metadata/resolve", s.resolveMetadata)
		r.Delete("/metadata/cache", s.invalidateCache)
		r.Get("/links/status", s.linkStatus)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// The cache and prober are in-process; once the server accepts
	// connections the service is ready.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type resolveRequest struct {
	URL   string `json:"url"`
	Force bool   `json:"force"`
}

type resolveResponse struct {
	Metadata links.ResolvedMetadata `json:"metadata"`
	Warning  string                 `json:"warning,omitempty"`
}

func (s *Server) resolveMetadata(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}

	md, err := s.resolver.ResolveMetadata(r.Context(), req.URL, req.Force)
	if err != nil {
		var resErr *links.ResolutionError
		if errors.As(err, &resErr) {
			// The bundle is still displayable; surface the failure as a
			// warning rather than an error status.
			writeJSON(w, http.StatusOK, resolveResponse{Metadata: md, Warning: resErr.Error()})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{Metadata: md})
}

func (s *Server) invalidateCache(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	existed, err := s.resolver.Invalidate(rawURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"invalidated": existed})
}

type statusResponse struct {
	Status     links.HealthStatus `json:"status"`
	StatusCode int                `json:"status_code,omitempty"`
	LatencyMS  int64              `json:"latency_ms"`
}

func (s *Server) linkStatus(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	out := s.resolver.ProbeHealth(r.Context(), rawURL)
	writeJSON(w, http.StatusOK, statusResponse{
		Status:     out.Status,
		StatusCode: out.StatusCode,
		LatencyMS:  out.Latency.Milliseconds(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
