package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
	"github.com/JakeFAU/ipo-allotment-checker/internal/config"
)

func TestBuildWiresInMemoryApp(t *testing.T) {
	t.Parallel()

	date := time.Date(2026, 2, 12, 0, 0, 0, 0, time.UTC)
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Logging.Level = "error"
	cfg.Registrars = []allotment.RegistrarProfile{{
		ID:              "reg-1",
		Name:            "Test Registrar",
		Slug:            "test-registrar",
		EndpointPattern: "http://127.0.0.1:1/status?pan={pan}",
		RequiredParams:  []allotment.Param{allotment.ParamPAN},
		ResponseFormat:  allotment.FormatHTML,
		IsActive:        true,
	}}
	cfg.IPOs = []allotment.IPO{{
		ID:              "ipo-1",
		Name:            "Acme Ltd",
		Slug:            "acme-ltd",
		AllotmentDate:   &date,
		IsAllotmentLive: true,
		RegistrarSlug:   "test-registrar",
	}}

	app, err := Build(context.Background(), &cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ipo/live", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "acme-ltd")

	_, err = app.Service().Check(context.Background(), "cli", allotment.CheckRequest{IPOSlug: "acme-ltd"})
	require.Equal(t, allotment.KindValidation, allotment.KindOf(err))

	ipo, err := app.Catalog().GetIPO(context.Background(), "acme-ltd")
	require.NoError(t, err)
	require.Equal(t, "test-registrar", ipo.RegistrarSlug)
}

func TestNewAppRequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := NewApp(nil, nil)
	require.Error(t, err)
}
