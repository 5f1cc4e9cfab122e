package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
)

const (
	maxCheckBodyBytes = 16 << 10

	headerRateRemaining = "X-RateLimit-Remaining"
	headerRateReset     = "X-RateLimit-Reset"
)

type checkData struct {
	Shares        int     `json:"shares"`
	ApplicationNo *string `json:"applicationNo"`
	RefundAmount  float64 `json:"refundAmount"`
	Message       *string `json:"message"`
}

type ipoRef struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type checkSuccess struct {
	Success   bool             `json:"success"`
	Status    allotment.Status `json:"status"`
	Data      checkData        `json:"data"`
	IPO       ipoRef           `json:"ipo"`
	Registrar string           `json:"registrar"`
	Timestamp time.Time        `json:"timestamp"`
	MaskedPAN *string          `json:"maskedPAN"`
}

type checkFailure struct {
	Success     bool             `json:"success"`
	Error       string           `json:"error"`
	Status      allotment.Status `json:"status"`
	Registrar   string           `json:"registrar"`
	FallbackURL *string          `json:"fallbackUrl"`
}

// checkAllotment handles POST /api/allotment/check. An undecodable body is still handed to
// the checker so it counts against the client's quota.
func (s *Server) checkAllotment(w http.ResponseWriter, r *http.Request) {
	var req allotment.CheckRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCheckBodyBytes)).Decode(&req); err != nil {
		req = allotment.CheckRequest{Malformed: true}
	}

	resp, err := s.checker.Check(r.Context(), clientIP(r), req)
	if err != nil {
		s.writeCheckError(w, r, resp, err)
		return
	}
	w.Header().Set(headerRateRemaining, strconv.Itoa(resp.Remaining))

	outcome := resp.Outcome
	if outcome.Success {
		writeJSON(w, http.StatusOK, checkSuccess{
			Success: true,
			Status:  outcome.Result.Status,
			Data: checkData{
				Shares:        outcome.Result.Shares,
				ApplicationNo: outcome.Result.ApplicationNo,
				RefundAmount:  outcome.Result.RefundAmount,
				Message:       outcome.Result.Message,
			},
			IPO:       ipoRef{Name: resp.IPO.Name, Slug: resp.IPO.Slug},
			Registrar: resp.Registrar.Name,
			Timestamp: resp.CheckedAt.UTC(),
			MaskedPAN: resp.MaskedPAN,
		})
		return
	}
	writeJSON(w, outcomeStatusCode(outcome.Result.Status), checkFailure{
		Error:       outcome.Error,
		Status:      outcome.Result.Status,
		Registrar:   resp.Registrar.Name,
		FallbackURL: optional(resp.FallbackURL),
	})
}

func (s *Server) writeCheckError(w http.ResponseWriter, r *http.Request, resp allotment.Response, err error) {
	var typed *allotment.Error
	if !errors.As(err, &typed) {
		typed = &allotment.Error{Kind: allotment.KindInternal, Message: allotment.MsgInternal, Err: err}
	}

	if typed.Kind == allotment.KindRateLimited {
		reset := allotment.Decision{ResetIn: typed.RetryAfter}.ResetSeconds()
		w.Header().Set(headerRateRemaining, "0")
		w.Header().Set(headerRateReset, strconv.Itoa(reset))
		w.Header().Set("Retry-After", strconv.Itoa(reset))
		writeError(w, http.StatusTooManyRequests, typed.Message)
		return
	}
	w.Header().Set(headerRateRemaining, strconv.Itoa(resp.Remaining))

	switch typed.Kind {
	case allotment.KindValidation:
		writeError(w, http.StatusBadRequest, typed.Message)
	case allotment.KindIPONotFound:
		writeError(w, http.StatusNotFound, typed.Message)
	case allotment.KindAllotmentNotLive:
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   typed.Message,
			"message": typed.Detail,
		})
	case allotment.KindRegistrarMissing:
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success":     false,
			"error":       typed.Message,
			"fallbackUrl": optional(typed.FallbackURL),
		})
	case allotment.KindRegistrarUnavailable:
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success":     false,
			"error":       typed.Message,
			"fallbackUrl": optional(typed.FallbackURL),
		})
	default:
		s.logger.Error("allotment check failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, allotment.MsgInternal)
	}
}

// outcomeStatusCode maps an unsuccessful fetch outcome to an HTTP status.
func outcomeStatusCode(status allotment.Status) int {
	switch status {
	case allotment.StatusCaptcha:
		return http.StatusServiceUnavailable
	case allotment.StatusTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
