// Package api exposes the HTTP interface for the allotment checker.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
	"github.com/JakeFAU/ipo-allotment-checker/internal/config"
	"github.com/JakeFAU/ipo-allotment-checker/internal/metrics"
)

const (
	defaultRequestTimeout = 30 * time.Second
	readinessTimeout      = 2 * time.Second
	storeTimeout          = 3 * time.Second
)

// Checker runs one allotment check for a client.
type Checker interface {
	Check(ctx context.Context, clientID string, req allotment.CheckRequest) (allotment.Response, error)
}

// ClientHasher turns a client address into a log-safe token.
type ClientHasher interface {
	Token(value string) string
}

// Dependencies are the collaborators the HTTP layer needs.
type Dependencies struct {
	Checker Checker
	Catalog allotment.Catalog
	Checks  allotment.CheckLog
	Hasher  ClientHasher
	Clock   allotment.Clock
	Logger  *zap.Logger
}

// Server wires HTTP handlers to the check service and record store.
type Server struct {
	router  chi.Router
	checker Checker
	catalog allotment.Catalog
	checks  allotment.CheckLog
	hasher  ClientHasher
	clock   allotment.Clock
	logger  *zap.Logger
	cfg     config.Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Dependencies, cfg config.Config) (*Server, error) {
	switch {
	case deps.Checker == nil:
		return nil, errors.New("api server: checker is required")
	case deps.Catalog == nil:
		return nil, errors.New("api server: catalog is required")
	case deps.Checks == nil:
		return nil, errors.New("api server: check log is required")
	case deps.Hasher == nil:
		return nil, errors.New("api server: client hasher is required")
	case deps.Clock == nil:
		return nil, errors.New("api server: clock is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		checker: deps.Checker,
		catalog: deps.Catalog,
		checks:  deps.Checks,
		hasher:  deps.Hasher,
		clock:   deps.Clock,
		logger:  logger,
		cfg:     cfg,
	}

	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(timeout))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/allotment/check", s.checkAllotment)
		r.Get("/ipo/live", s.listLiveIPOs)
		r.Get("/ipo/{slug}", s.getIPO)

		r.Route("/admin", func(r chi.Router) {
			if cfg.Auth.Enabled {
				r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
			}
			r.Get("/registrars", s.listRegistrars)
			r.Get("/checks/summary", s.checkSummary)
		})
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready once the record store answers.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()
	if _, err := s.catalog.ListRegistrars(ctx); err != nil {
		s.logger.Warn("readiness probe failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
