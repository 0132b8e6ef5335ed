package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vlikcc/yargisalzekav2/internal/metrics"
	"github.com/vlikcc/yargisalzekav2/internal/middleware"
	"github.com/vlikcc/yargisalzekav2/internal/search"
)

// SearchService answers one keyword-set search.
type SearchService interface {
	Search(ctx context.Context, req search.Request) (search.Result, error)
}

// ReadinessChecker reports whether the portal has been seen healthy.
type ReadinessChecker interface {
	Healthy() bool
}

// Config carries the toggles the router needs.
type Config struct {
	RequestTimeout time.Duration
	AuthEnabled    bool
	APIKey         string
}

// Server wires HTTP handlers to the search engine. The /v1 group carries the
// optional API key; the probe and metrics endpoints stay open.
type Server struct {
	router chi.Router
	engine SearchService
	ready  ReadinessChecker
	logger *zap.Logger
}

// NewServer constructs a Server with the house middleware chain and routes.
// A nil ready checker marks the service always ready; the app passes nil when
// the portal probe is disabled.
func NewServer(cfg Config, engine SearchService, ready ReadinessChecker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine: engine,
		ready:  ready,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Metrics)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(middleware.APIKey(cfg.APIKey))
		}
		r.Post("/search", s.search)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil && !s.ready.Healthy() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "portal unreachable"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	result, err := s.engine.Search(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, search.ErrInvalidRequest):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			s.writeError(w, http.StatusRequestTimeout, "search timed out")
		default:
			s.logger.Error("search failed",
				zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
				zap.Error(err),
			)
			s.writeError(w, http.StatusInternalServerError, "search failed")
		}
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
