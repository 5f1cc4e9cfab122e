// Package engine performs one bounded registrar lookup and normalizes the answer.
//
// Every call walks idle -> requesting and ends in exactly one terminal phase:
// timed_out, http_error, captcha_detected, parsing (a parse failure) or parsed.
// There are no retries, and every failure is folded into the returned Outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
	"github.com/JakeFAU/ipo-allotment-checker/internal/detector"
	"github.com/JakeFAU/ipo-allotment-checker/internal/metrics"
	"github.com/JakeFAU/ipo-allotment-checker/internal/normalize"
)

// DefaultTimeout bounds one registrar request end to end.
const DefaultTimeout = 10 * time.Second

// Outcome messages surfaced to callers.
const (
	MsgNotFound     = "No allotment data found for the provided details"
	MsgTimeout      = "Request timed out. The registrar may be experiencing high traffic."
	MsgCaptcha      = "CAPTCHA detected. Please check directly on the registrar website."
	MsgParseFailure = "Failed to parse registrar response"
	MsgFetchFailure = "Failed to fetch allotment status"
)

// Waiter paces outbound requests per registrar.
type Waiter interface {
	Wait(ctx context.Context, registrar, rawURL string) error
}

// Config controls the engine.
type Config struct {
	Timeout    time.Duration
	UserAgents []string
}

// Engine implements allotment.StatusFetcher.
type Engine struct {
	cfg       Config
	fetcher   allotment.Fetcher
	headless  allotment.Fetcher
	upstream  Waiter
	challenge *detector.Challenge
	shell     *detector.Shell
	logger    *zap.Logger
	tracer    trace.Tracer
}

// Option customizes an Engine.
type Option func(*Engine)

// WithHeadless routes registrars flagged render: true through f.
func WithHeadless(f allotment.Fetcher) Option {
	return func(e *Engine) { e.headless = f }
}

// WithUpstreamLimiter paces requests per registrar host inside the request deadline.
func WithUpstreamLimiter(w Waiter) Option {
	return func(e *Engine) { e.upstream = w }
}

// WithChallengeDetector overrides the default captcha marker scan.
func WithChallengeDetector(c *detector.Challenge) Option {
	return func(e *Engine) { e.challenge = c }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New builds an Engine around the default fetcher.
func New(cfg Config, fetcher allotment.Fetcher, opts ...Option) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}
	e := &Engine{
		cfg:       cfg,
		fetcher:   fetcher,
		challenge: detector.NewChallenge(),
		shell:     detector.NewShell(0),
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("github.com/JakeFAU/ipo-allotment-checker/internal/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FetchAllotmentStatus performs exactly one outbound request and never returns an error.
// params is used only to build the request URL and is never logged.
func (e *Engine) FetchAllotmentStatus(
	ctx context.Context,
	registrar allotment.RegistrarProfile,
	params allotment.CheckParams,
) allotment.Outcome {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine.fetch", trace.WithAttributes(
		attribute.String("registrar.slug", registrar.Slug),
		attribute.String("registrar.format", string(registrar.ResponseFormat)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	outcome, cause := e.run(ctx, registrar, params)
	outcome.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("fetch.phase", string(outcome.Phase)),
		attribute.String("allotment.status", string(outcome.Result.Status)),
		attribute.Int("http.status_code", outcome.StatusCode),
	)
	if !outcome.Success {
		span.SetStatus(codes.Error, string(outcome.Phase))
	}
	metrics.ObserveUpstream(registrar.Slug, string(outcome.Phase), outcome.Duration)

	fields := []zap.Field{
		zap.String("registrar", registrar.Slug),
		zap.String("phase", string(outcome.Phase)),
		zap.String("status", string(outcome.Result.Status)),
		zap.Int("http_status", outcome.StatusCode),
		zap.Duration("duration", outcome.Duration),
	}
	if cause != nil {
		e.logger.Warn("registrar fetch failed", append(fields, zap.Error(redact(cause)))...)
	} else {
		e.logger.Debug("registrar fetch finished", fields...)
	}
	return outcome
}

func (e *Engine) run(
	ctx context.Context,
	registrar allotment.RegistrarProfile,
	params allotment.CheckParams,
) (allotment.Outcome, error) {
	target := BuildURL(registrar.EndpointPattern, params)

	if e.upstream != nil {
		if err := e.upstream.Wait(ctx, registrar.Slug, target); err != nil {
			return e.failure(allotment.PhaseTimedOut, 0), err
		}
	}

	fetcher := e.fetcher
	if registrar.Render && e.headless != nil {
		fetcher = e.headless
	}
	request := allotment.FetchRequest{
		URL:     target,
		Headers: requestHeaders(registrar.ResponseFormat, pickUserAgent(e.cfg.UserAgents)),
		Render:  registrar.Render,
	}
	if rules := registrar.ParsingRules.HTML; rules != nil {
		request.ReadySelector = rules.ReadySelector
	}
	resp, err := fetcher.Fetch(ctx, request)
	if err != nil {
		if isTimeout(ctx, err) {
			return e.failure(allotment.PhaseTimedOut, 0), err
		}
		return e.failure(allotment.PhaseHTTPError, 0), err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return allotment.Outcome{
			Success:    false,
			Result:     allotment.Result{Status: allotment.StatusNotFound},
			Error:      MsgNotFound,
			Phase:      allotment.PhaseHTTPError,
			StatusCode: resp.StatusCode,
		}, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		out := e.failure(allotment.PhaseHTTPError, resp.StatusCode)
		out.Error = fmt.Sprintf("Registrar returned status %d", resp.StatusCode)
		return out, nil
	}

	if registrar.ResponseFormat != allotment.FormatJSON {
		if e.challenge.Detect(resp.Body) {
			return allotment.Outcome{
				Success:    false,
				Result:     allotment.Result{Status: allotment.StatusCaptcha},
				Error:      MsgCaptcha,
				Phase:      allotment.PhaseCaptchaDetected,
				StatusCode: resp.StatusCode,
			}, nil
		}
		if !resp.UsedHeadless && e.shell.LooksUnrendered(resp.StatusCode, resp.Body) {
			e.logger.Warn("registrar response looks like an unrendered script shell",
				zap.String("registrar", registrar.Slug),
				zap.Bool("render_enabled", registrar.Render),
			)
		}
	}

	result, err := normalize.Parse(registrar.ResponseFormat, resp.Body, registrar.ParsingRules)
	if err != nil {
		out := e.failure(allotment.PhaseParsing, resp.StatusCode)
		out.Error = MsgParseFailure
		return out, err
	}
	return allotment.Outcome{
		Success:    true,
		Result:     result,
		Phase:      allotment.PhaseParsed,
		StatusCode: resp.StatusCode,
	}, nil
}

// failure builds the outcome for a phase that ends without a parsed record.
func (e *Engine) failure(phase allotment.Phase, statusCode int) allotment.Outcome {
	out := allotment.Outcome{
		Success:    false,
		Result:     allotment.Result{Status: allotment.StatusError},
		Error:      MsgFetchFailure,
		Phase:      phase,
		StatusCode: statusCode,
	}
	if phase == allotment.PhaseTimedOut {
		out.Result.Status = allotment.StatusTimeout
		out.Error = MsgTimeout
	}
	return out
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// redact strips the request URL, which carries identifiers, from transport errors.
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
