package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
)

// listLiveIPOs handles GET /api/ipo/live.
func (s *Server) listLiveIPOs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	ipos, err := s.catalog.ListLiveIPOs(ctx)
	if err != nil {
		s.logger.Error("list live ipos failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch IPOs")
		return
	}
	if ipos == nil {
		ipos = []allotment.IPO{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "ipos": ipos})
}

// getIPO handles GET /api/ipo/{slug}.
func (s *Server) getIPO(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	slug := chi.URLParam(r, "slug")
	ipo, err := s.catalog.GetIPO(ctx, slug)
	if errors.Is(err, allotment.ErrNotFound) {
		writeError(w, http.StatusNotFound, allotment.MsgIPONotFound)
		return
	}
	if err != nil {
		s.logger.Error("get ipo failed", zap.String("ipo", slug), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch IPO")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "ipo": ipo})
}
