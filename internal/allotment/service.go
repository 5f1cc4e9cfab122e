package allotment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ipo-allotment-checker/internal/metrics"
	"github.com/JakeFAU/ipo-allotment-checker/internal/validate"
)

// Messages returned for lookup failures around the fetch engine.
const (
	MsgIPONotFound          = "IPO not found"
	MsgAllotmentNotLive     = "Allotment status is not yet available for this IPO"
	MsgAllotmentUnannounced = "Allotment date has not been announced yet"
	MsgRegistrarMissing     = "Registrar information is not available for this IPO"
	MsgRegistrarUnavailable = "Registrar is currently unavailable. Please try again later."
	MsgInternal             = "An unexpected error occurred. Please try again later."
)

// recordStatusError is the audit status stored for every unsuccessful outcome.
const recordStatusError = "error"

// Response is the result of a check that reached the fetch engine.
type Response struct {
	CheckID   string
	Outcome   Outcome
	IPO       IPO
	Registrar RegistrarProfile
	// MaskedPAN is nil when the request carried no PAN.
	MaskedPAN   *string
	FallbackURL string
	Remaining   int
	CheckedAt   time.Time
}

// Dependencies are the collaborators a Service needs. Publisher and Logger are optional.
type Dependencies struct {
	Governor  Governor
	Catalog   Catalog
	Fetcher   StatusFetcher
	Checks    CheckLog
	Publisher Publisher
	IDs       IDGenerator
	Clock     Clock
	Logger    *zap.Logger
}

// Service runs the check flow: governor, validation, catalog lookups, one registrar fetch,
// then the anonymized audit row and event.
type Service struct {
	governor  Governor
	catalog   Catalog
	fetcher   StatusFetcher
	checks    CheckLog
	publisher Publisher
	ids       IDGenerator
	clock     Clock
	logger    *zap.Logger
}

// NewService validates deps and builds a Service.
func NewService(deps Dependencies) (*Service, error) {
	switch {
	case deps.Governor == nil:
		return nil, errors.New("allotment service: governor is required")
	case deps.Catalog == nil:
		return nil, errors.New("allotment service: catalog is required")
	case deps.Fetcher == nil:
		return nil, errors.New("allotment service: fetcher is required")
	case deps.Checks == nil:
		return nil, errors.New("allotment service: check log is required")
	case deps.IDs == nil:
		return nil, errors.New("allotment service: id generator is required")
	case deps.Clock == nil:
		return nil, errors.New("allotment service: clock is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		governor:  deps.Governor,
		catalog:   deps.Catalog,
		fetcher:   deps.Fetcher,
		checks:    deps.Checks,
		publisher: deps.Publisher,
		ids:       deps.IDs,
		clock:     deps.Clock,
		logger:    logger,
	}, nil
}

// Check runs one allotment check for clientID. Failures before the fetch are returned as
// *Error. Once the governor admits the request, Response.Remaining is set even on error.
func (s *Service) Check(ctx context.Context, clientID string, req CheckRequest) (Response, error) {
	decision, err := s.governor.Check(ctx, clientID)
	if err != nil {
		// The governor backend is unavailable; admit the request.
		s.logger.Error("rate governor check failed", zap.Error(err))
		decision = Decision{Allowed: true}
	}
	if !decision.Allowed {
		metrics.ObserveCheck("", string(KindRateLimited))
		return Response{}, &Error{
			Kind:       KindRateLimited,
			Message:    fmt.Sprintf("Rate limit exceeded. Please try again in %d seconds.", decision.ResetSeconds()),
			RetryAfter: decision.ResetIn,
		}
	}
	resp := Response{Remaining: decision.Remaining}

	if err := req.Validate(); err != nil {
		metrics.ObserveCheck("", string(KindValidation))
		return resp, err
	}

	ipo, registrar, err := s.resolve(ctx, req.IPOSlug)
	if err != nil {
		var typed *Error
		if errors.As(err, &typed) {
			metrics.ObserveCheck(registrar.Slug, string(typed.Kind))
		}
		return resp, err
	}
	resp.IPO = ipo
	resp.Registrar = registrar
	resp.FallbackURL = fallbackURL(ipo, registrar)

	outcome := s.fetcher.FetchAllotmentStatus(ctx, registrar, BuildParams(registrar, ipo, req))
	resp.Outcome = outcome
	resp.CheckedAt = s.clock.Now()
	if req.PAN != "" {
		masked := validate.MaskPAN(req.PAN)
		resp.MaskedPAN = &masked
	}
	resp.CheckID = s.record(ctx, ipo, registrar, outcome, resp.CheckedAt)
	return resp, nil
}

// resolve loads the IPO and its registrar and applies the live and active gates.
func (s *Service) resolve(ctx context.Context, slug string) (IPO, RegistrarProfile, error) {
	ipo, err := s.catalog.GetIPO(ctx, slug)
	if errors.Is(err, ErrNotFound) {
		return IPO{}, RegistrarProfile{}, &Error{Kind: KindIPONotFound, Message: MsgIPONotFound}
	}
	if err != nil {
		return IPO{}, RegistrarProfile{}, &Error{Kind: KindInternal, Message: MsgInternal, Err: fmt.Errorf("get ipo: %w", err)}
	}

	if !ipo.IsAllotmentLive {
		detail := MsgAllotmentUnannounced
		if ipo.AllotmentDate != nil {
			detail = "Allotment is expected on " + ipo.AllotmentDate.Format("2 January 2006")
		}
		return ipo, RegistrarProfile{}, &Error{Kind: KindAllotmentNotLive, Message: MsgAllotmentNotLive, Detail: detail}
	}

	if ipo.RegistrarSlug == "" {
		return ipo, RegistrarProfile{}, &Error{Kind: KindRegistrarMissing, Message: MsgRegistrarMissing, FallbackURL: ipo.AllotmentURL}
	}
	registrar, err := s.catalog.GetRegistrar(ctx, ipo.RegistrarSlug)
	if errors.Is(err, ErrNotFound) {
		return ipo, RegistrarProfile{}, &Error{Kind: KindRegistrarMissing, Message: MsgRegistrarMissing, FallbackURL: ipo.AllotmentURL}
	}
	if err != nil {
		return ipo, RegistrarProfile{}, &Error{Kind: KindInternal, Message: MsgInternal, Err: fmt.Errorf("get registrar: %w", err)}
	}
	if !registrar.IsActive {
		return ipo, registrar, &Error{
			Kind:        KindRegistrarUnavailable,
			Message:     MsgRegistrarUnavailable,
			FallbackURL: fallbackURL(ipo, registrar),
		}
	}
	return ipo, registrar, nil
}

// record writes the audit row and publishes the event. Neither carries identifiers, and
// neither failure is surfaced to the caller.
func (s *Service) record(ctx context.Context, ipo IPO, registrar RegistrarProfile, outcome Outcome, at time.Time) string {
	status := string(outcome.Result.Status)
	errorType := ""
	if !outcome.Success {
		errorType = status
		status = recordStatusError
	}
	metrics.ObserveCheck(registrar.Slug, string(outcome.Result.Status))

	id, err := s.ids.NewID()
	if err != nil {
		s.logger.Warn("check id generation failed", zap.Error(err))
	}
	logger := s.logger.With(
		zap.String("check_id", id),
		zap.String("ipo", ipo.Slug),
		zap.String("registrar", registrar.Slug),
		zap.String("status", status),
		zap.String("error_type", errorType),
	)

	if err := s.checks.RecordCheck(ctx, CheckRecord{
		ID:          id,
		IPOID:       ipo.ID,
		RegistrarID: registrar.ID,
		Status:      status,
		ErrorType:   errorType,
		CheckedAt:   at,
	}); err != nil {
		logger.Warn("record check failed", zap.Error(err))
	}

	if s.publisher != nil {
		if _, err := s.publisher.Publish(ctx, CheckEvent{
			CheckID:   id,
			IPOSlug:   ipo.Slug,
			Registrar: registrar.Slug,
			Status:    status,
			ErrorType: errorType,
			CheckedAt: at,
		}); err != nil {
			logger.Warn("publish check event failed", zap.Error(err))
		}
	}
	logger.Info("allotment check finished", zap.Duration("duration", outcome.Duration))
	return id
}

func fallbackURL(ipo IPO, registrar RegistrarProfile) string {
	if ipo.AllotmentURL != "" {
		return ipo.AllotmentURL
	}
	return registrar.BaseURL
}
