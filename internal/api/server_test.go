package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
	"github.com/JakeFAU/ipo-allotment-checker/internal/config"
	"github.com/JakeFAU/ipo-allotment-checker/internal/hash/sha256"
	"github.com/JakeFAU/ipo-allotment-checker/internal/storage/memory"
)

var testNow = time.Date(2026, 2, 12, 10, 0, 0, 0, time.UTC)

func TestServer_CheckSuccess(t *testing.T) {
	t.Parallel()

	masked := "******234F"
	appNo := "1234567890"
	checker := &fakeChecker{resp: allotment.Response{
		CheckID: "check-1",
		Outcome: allotment.Outcome{
			Success: true,
			Result: allotment.Result{
				Status:        allotment.StatusAllotted,
				Shares:        40,
				ApplicationNo: &appNo,
			},
			Phase: allotment.PhaseParsed,
		},
		IPO:       allotment.IPO{Name: "Acme Ltd", Slug: "acme-ltd"},
		Registrar: allotment.RegistrarProfile{Name: "KFin Technologies"},
		MaskedPAN: &masked,
		Remaining: 7,
		CheckedAt: testNow,
	}}
	server := newTestServer(t, checker, config.Config{})

	rec := doJSON(t, server, http.MethodPost, "/api/allotment/check",
		`{"ipoSlug":"acme-ltd","pan":"abcde1234f"}`, "203.0.113.9, 10.0.0.1")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "7", rec.Header().Get(headerRateRemaining))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["success"])
	require.Equal(t, "allotted", body["status"])
	require.Equal(t, "KFin Technologies", body["registrar"])
	require.Equal(t, "******234F", body["maskedPAN"])
	require.Equal(t, "2026-02-12T10:00:00Z", body["timestamp"])
	data := body["data"].(map[string]any)
	require.EqualValues(t, 40, data["shares"])
	require.Equal(t, "1234567890", data["applicationNo"])
	require.Nil(t, data["message"])
	ipo := body["ipo"].(map[string]any)
	require.Equal(t, "acme-ltd", ipo["slug"])

	clientID, req := checker.last()
	require.Equal(t, "203.0.113.9", clientID)
	require.Equal(t, "acme-ltd", req.IPOSlug)
	require.Equal(t, "abcde1234f", req.PAN)
}

func TestServer_CheckOutcomeFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status allotment.Status
		want   int
	}{
		{allotment.StatusCaptcha, http.StatusServiceUnavailable},
		{allotment.StatusTimeout, http.StatusGatewayTimeout},
		{allotment.StatusError, http.StatusInternalServerError},
		{allotment.StatusNotFound, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			t.Parallel()
			checker := &fakeChecker{resp: allotment.Response{
				Outcome: allotment.Outcome{
					Result: allotment.Result{Status: tt.status},
					Error:  "registrar said no",
				},
				Registrar:   allotment.RegistrarProfile{Name: "Bigshare"},
				FallbackURL: "https://bigshare.example",
				Remaining:   3,
			}}
			server := newTestServer(t, checker, config.Config{})

			rec := doJSON(t, server, http.MethodPost, "/api/allotment/check", `{"ipoSlug":"x","appNo":"12345678"}`, "")
			require.Equal(t, tt.want, rec.Code)
			require.Equal(t, "3", rec.Header().Get(headerRateRemaining))

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, false, body["success"])
			require.Equal(t, "registrar said no", body["error"])
			require.Equal(t, string(tt.status), body["status"])
			require.Equal(t, "Bigshare", body["registrar"])
			require.Equal(t, "https://bigshare.example", body["fallbackUrl"])
		})
	}
}

func TestServer_CheckErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		want     int
		wantBody map[string]any
	}{
		{
			name:     "validation",
			err:      &allotment.Error{Kind: allotment.KindValidation, Message: allotment.MsgInvalidPAN},
			want:     http.StatusBadRequest,
			wantBody: map[string]any{"success": false, "error": allotment.MsgInvalidPAN},
		},
		{
			name:     "ipo not found",
			err:      &allotment.Error{Kind: allotment.KindIPONotFound, Message: allotment.MsgIPONotFound},
			want:     http.StatusNotFound,
			wantBody: map[string]any{"success": false, "error": "IPO not found"},
		},
		{
			name: "not live",
			err: &allotment.Error{
				Kind:    allotment.KindAllotmentNotLive,
				Message: allotment.MsgAllotmentNotLive,
				Detail:  "Allotment is expected on 12 February 2026",
			},
			want: http.StatusBadRequest,
			wantBody: map[string]any{
				"success": false,
				"error":   allotment.MsgAllotmentNotLive,
				"message": "Allotment is expected on 12 February 2026",
			},
		},
		{
			name:     "registrar missing without fallback",
			err:      &allotment.Error{Kind: allotment.KindRegistrarMissing, Message: allotment.MsgRegistrarMissing},
			want:     http.StatusBadRequest,
			wantBody: map[string]any{"success": false, "error": allotment.MsgRegistrarMissing, "fallbackUrl": nil},
		},
		{
			name: "registrar inactive",
			err: &allotment.Error{
				Kind:        allotment.KindRegistrarUnavailable,
				Message:     allotment.MsgRegistrarUnavailable,
				FallbackURL: "https://registrar.example",
			},
			want: http.StatusServiceUnavailable,
			wantBody: map[string]any{
				"success":     false,
				"error":       allotment.MsgRegistrarUnavailable,
				"fallbackUrl": "https://registrar.example",
			},
		},
		{
			name:     "untyped error",
			err:      errors.New("database exploded"),
			want:     http.StatusInternalServerError,
			wantBody: map[string]any{"success": false, "error": allotment.MsgInternal},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			checker := &fakeChecker{resp: allotment.Response{Remaining: 9}, err: tt.err}
			server := newTestServer(t, checker, config.Config{})

			rec := doJSON(t, server, http.MethodPost, "/api/allotment/check", `{"ipoSlug":"acme-ltd"}`, "")
			require.Equal(t, tt.want, rec.Code)
			require.Equal(t, "9", rec.Header().Get(headerRateRemaining))

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tt.wantBody, body)
			require.NotContains(t, rec.Body.String(), "database exploded")
		})
	}
}

func TestServer_CheckRateLimited(t *testing.T) {
	t.Parallel()

	checker := &fakeChecker{err: &allotment.Error{
		Kind:       allotment.KindRateLimited,
		Message:    "Rate limit exceeded. Please try again in 43 seconds.",
		RetryAfter: 42500 * time.Millisecond,
	}}
	server := newTestServer(t, checker, config.Config{})

	rec := doJSON(t, server, http.MethodPost, "/api/allotment/check", `{"ipoSlug":"acme-ltd"}`, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "0", rec.Header().Get(headerRateRemaining))
	require.Equal(t, "43", rec.Header().Get(headerRateReset))
	require.Equal(t, "43", rec.Header().Get("Retry-After"))
	require.Contains(t, rec.Body.String(), "Rate limit exceeded. Please try again in 43 seconds.")
}

func TestServer_CheckInvalidBody(t *testing.T) {
	t.Parallel()

	checker := &fakeChecker{
		resp: allotment.Response{Remaining: 7},
		err:  &allotment.Error{Kind: allotment.KindValidation, Message: allotment.MsgInvalidBody},
	}
	server := newTestServer(t, checker, config.Config{})

	rec := doJSON(t, server, http.MethodPost, "/api/allotment/check", "{invalid", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), allotment.MsgInvalidBody)
	require.Equal(t, "7", rec.Header().Get(headerRateRemaining))
	require.Equal(t, 1, checker.calls())
	_, req := checker.last()
	require.True(t, req.Malformed)
}

func TestServer_CheckInvalidBodyRateLimited(t *testing.T) {
	t.Parallel()

	checker := &fakeChecker{err: &allotment.Error{
		Kind:       allotment.KindRateLimited,
		Message:    "Rate limit exceeded. Please try again in 5 seconds.",
		RetryAfter: 5 * time.Second,
	}}
	server := newTestServer(t, checker, config.Config{})

	rec := doJSON(t, server, http.MethodPost, "/api/allotment/check", "not json", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "5", rec.Header().Get("Retry-After"))
}

func TestServer_ListLiveIPOs(t *testing.T) {
	t.Parallel()

	date := time.Date(2026, 2, 12, 0, 0, 0, 0, time.UTC)
	catalog := memory.NewCatalog(nil, []allotment.IPO{
		{ID: "1", Name: "Acme Ltd", Slug: "acme-ltd", IsAllotmentLive: true, AllotmentDate: &date},
		{ID: "2", Name: "Later Ltd", Slug: "later-ltd"},
	})
	server := newTestServerWithStores(t, &fakeChecker{}, catalog, memory.NewCheckLog(), config.Config{})

	rec := doJSON(t, server, http.MethodGet, "/api/ipo/live", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool            `json:"success"`
		IPOs    []allotment.IPO `json:"ipos"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.Len(t, body.IPOs, 1)
	require.Equal(t, "acme-ltd", body.IPOs[0].Slug)
}

func TestServer_ListLiveIPOsEmpty(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &fakeChecker{}, config.Config{})
	rec := doJSON(t, server, http.MethodGet, "/api/ipo/live", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"success":true,"ipos":[]}`, rec.Body.String())
}

func TestServer_GetIPO(t *testing.T) {
	t.Parallel()

	catalog := memory.NewCatalog(nil, []allotment.IPO{{ID: "1", Name: "Acme Ltd", Slug: "acme-ltd"}})
	server := newTestServerWithStores(t, &fakeChecker{}, catalog, memory.NewCheckLog(), config.Config{})

	rec := doJSON(t, server, http.MethodGet, "/api/ipo/acme-ltd", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"name":"Acme Ltd"`)

	rec = doJSON(t, server, http.MethodGet, "/api/ipo/missing", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"success":false,"error":"IPO not found"}`, rec.Body.String())
}

func TestServer_AdminRequiresAPIKey(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	server := newTestServer(t, &fakeChecker{}, cfg)

	rec := doJSON(t, server, http.MethodGet, "/api/admin/registrars", "", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/registrars", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Public routes stay open.
	rec = doJSON(t, server, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ListRegistrarsReportsProblems(t *testing.T) {
	t.Parallel()

	catalog := memory.NewCatalog([]allotment.RegistrarProfile{
		{
			Name:           "KFin Technologies",
			Slug:           "kfintech",
			BaseURL:        "https://kosmic.kfintech.com",
			ResponseFormat: allotment.FormatHTML,
			IsActive:       true,
			ParsingRules: allotment.ParsingRules{HTML: &allotment.HTMLRules{
				SharesSelector: "td[",
				StatusSelector: ".status",
			}},
		},
		{Name: "Bigshare", Slug: "bigshare", ResponseFormat: allotment.FormatJSON},
	}, nil)
	server := newTestServerWithStores(t, &fakeChecker{}, catalog, memory.NewCheckLog(), config.Config{})

	rec := doJSON(t, server, http.MethodGet, "/api/admin/registrars", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Registrars []registrarDTO `json:"registrars"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Registrars, 2)
	require.Equal(t, "bigshare", body.Registrars[0].Slug)
	require.Empty(t, body.Registrars[0].Problems)
	require.Equal(t, "kfintech", body.Registrars[1].Slug)
	require.Len(t, body.Registrars[1].Problems, 1)
	require.Contains(t, body.Registrars[1].Problems[0], "shares_selector")
}

func TestServer_CheckSummary(t *testing.T) {
	t.Parallel()

	checks := memory.NewCheckLog()
	ctx := context.Background()
	require.NoError(t, checks.RecordCheck(ctx, allotment.CheckRecord{ID: "a", Status: "allotted", CheckedAt: testNow.Add(-time.Hour)}))
	require.NoError(t, checks.RecordCheck(ctx, allotment.CheckRecord{ID: "b", Status: "error", ErrorType: "timeout", CheckedAt: testNow.Add(-2 * time.Hour)}))
	require.NoError(t, checks.RecordCheck(ctx, allotment.CheckRecord{ID: "c", Status: "allotted", CheckedAt: testNow.Add(-72 * time.Hour)}))
	server := newTestServerWithStores(t, &fakeChecker{}, memory.NewCatalog(nil, nil), checks, config.Config{})

	rec := doJSON(t, server, http.MethodGet, "/api/admin/checks/summary?timeRange=24h", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		TimeRange string                 `json:"timeRange"`
		Summary   allotment.CheckSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "24h", body.TimeRange)
	require.Equal(t, 2, body.Summary.Total)
	require.Equal(t, 50, body.Summary.SuccessRate)
	require.Equal(t, 1, body.Summary.ByErrorType["timeout"])

	rec = doJSON(t, server, http.MethodGet, "/api/admin/checks/summary?timeRange=forever", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, defaultTimeRange, body.TimeRange)
	require.Equal(t, 3, body.Summary.Total)
}

func TestServer_ReadyzReflectsCatalog(t *testing.T) {
	t.Parallel()

	server := newTestServerWithStores(t, &fakeChecker{}, failingCatalog{}, memory.NewCheckLog(), config.Config{})
	rec := doJSON(t, server, http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	server = newTestServer(t, &fakeChecker{}, config.Config{})
	rec = doJSON(t, server, http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &fakeChecker{}, config.Config{})
	doJSON(t, server, http.MethodGet, "/healthz", "", "")

	rec := doJSON(t, server, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_RecoversFromPanic(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &fakeChecker{panicWith: "boom"}, config.Config{})
	rec := doJSON(t, server, http.MethodPost, "/api/allotment/check", `{"ipoSlug":"acme-ltd"}`, "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), allotment.MsgInternal)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &fakeChecker{}, config.Config{})
	rec := doJSON(t, server, http.MethodGet, "/healthz", "", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "upstream-id", rec.Header().Get("X-Request-ID"))
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded first entry", map[string]string{"X-Forwarded-For": " 198.51.100.4 , 10.0.0.2"}, "10.0.0.9:5000", "198.51.100.4"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.5"}, "10.0.0.9:5000", "198.51.100.5"},
		{"empty forwarded falls through", map[string]string{"X-Forwarded-For": " , "}, "10.0.0.9:5000", "10.0.0.9"},
		{"socket address", nil, "192.0.2.1:1234", "192.0.2.1"},
		{"remote without port", nil, "pipe", "pipe"},
		{"unknown", nil, "", unknownClient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			require.Equal(t, tt.want, clientIP(req))
		})
	}
}

func TestNewServerRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := NewServer(Dependencies{}, config.Config{})
	require.ErrorContains(t, err, "checker is required")

	_, err = NewServer(Dependencies{Checker: &fakeChecker{}}, config.Config{})
	require.ErrorContains(t, err, "catalog is required")
}

// --- helpers/fakes ---

type fakeChecker struct {
	mu        sync.Mutex
	resp      allotment.Response
	err       error
	panicWith string
	clientIDs []string
	requests  []allotment.CheckRequest
}

func (f *fakeChecker) Check(_ context.Context, clientID string, req allotment.CheckRequest) (allotment.Response, error) {
	if f.panicWith != "" {
		panic(f.panicWith)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clientIDs = append(f.clientIDs, clientID)
	f.requests = append(f.requests, req)
	return f.resp, f.err
}

func (f *fakeChecker) last() (string, allotment.CheckRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.requests)
	return f.clientIDs[n-1], f.requests[n-1]
}

func (f *fakeChecker) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type failingCatalog struct{}

func (failingCatalog) GetIPO(context.Context, string) (allotment.IPO, error) {
	return allotment.IPO{}, errors.New("db down")
}

func (failingCatalog) ListLiveIPOs(context.Context) ([]allotment.IPO, error) {
	return nil, errors.New("db down")
}

func (failingCatalog) GetRegistrar(context.Context, string) (allotment.RegistrarProfile, error) {
	return allotment.RegistrarProfile{}, errors.New("db down")
}

func (failingCatalog) ListRegistrars(context.Context) ([]allotment.RegistrarProfile, error) {
	return nil, errors.New("db down")
}

func newTestServer(t *testing.T, checker Checker, cfg config.Config) *Server {
	t.Helper()
	return newTestServerWithStores(t, checker, memory.NewCatalog(nil, nil), memory.NewCheckLog(), cfg)
}

func newTestServerWithStores(
	t *testing.T,
	checker Checker,
	catalog allotment.Catalog,
	checks allotment.CheckLog,
	cfg config.Config,
) *Server {
	t.Helper()
	server, err := NewServer(Dependencies{
		Checker: checker,
		Catalog: catalog,
		Checks:  checks,
		Hasher:  sha256.New("test-salt"),
		Clock:   fixedClock{now: testNow},
		Logger:  zap.NewNop(),
	}, cfg)
	require.NoError(t, err)
	return server
}

func doJSON(t *testing.T, server *Server, method, path, body, forwardedFor string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}
