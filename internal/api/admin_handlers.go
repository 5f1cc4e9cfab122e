package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
	"github.com/JakeFAU/ipo-allotment-checker/internal/normalize"
)

const defaultTimeRange = "7d"

var timeRanges = map[string]time.Duration{
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
}

type registrarDTO struct {
	Name           string           `json:"name"`
	Slug           string           `json:"slug"`
	BaseURL        string           `json:"baseUrl"`
	IsActive       bool             `json:"isActive"`
	ResponseFormat allotment.Format `json:"responseFormat"`
	Render         bool             `json:"render"`
	Problems       []string         `json:"problems"`
}

// listRegistrars handles GET /api/admin/registrars. Each registrar carries the selectors
// that fail to compile so operators can fix them before a check silently skips them.
func (s *Server) listRegistrars(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	registrars, err := s.catalog.ListRegistrars(ctx)
	if err != nil {
		s.logger.Error("list registrars failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch registrars")
		return
	}
	out := make([]registrarDTO, 0, len(registrars))
	for _, reg := range registrars {
		problems := []string{}
		for _, p := range normalize.ValidateRules(reg) {
			problems = append(problems, p.Error())
		}
		out = append(out, registrarDTO{
			Name:           reg.Name,
			Slug:           reg.Slug,
			BaseURL:        reg.BaseURL,
			IsActive:       reg.IsActive,
			ResponseFormat: reg.ResponseFormat,
			Render:         reg.Render,
			Problems:       problems,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "registrars": out})
}

// checkSummary handles GET /api/admin/checks/summary?timeRange=24h|7d|30d|90d.
// Unknown ranges fall back to 7d.
func (s *Server) checkSummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	timeRange := strings.TrimSpace(r.URL.Query().Get("timeRange"))
	window, ok := timeRanges[timeRange]
	if !ok {
		timeRange = defaultTimeRange
		window = timeRanges[defaultTimeRange]
	}

	summary, err := s.checks.Summarize(ctx, s.clock.Now().Add(-window))
	if err != nil {
		s.logger.Error("summarize checks failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch analytics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"timeRange": timeRange,
		"summary":   summary,
	})
}
