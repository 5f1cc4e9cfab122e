package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
)

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "fallback-agent", Timeout: time.Second})
	ctx := context.Background()
	collector := f.buildCollector(ctx, allotment.FetchRequest{URL: "https://example.com"}, time.Unix(0, 0),
		&allotment.FetchResponse{}, new(error))

	require.Equal(t, "fallback-agent", collector.UserAgent)
	require.True(t, collector.AllowURLRevisit)
	require.True(t, collector.ParseHTTPErrorResponse)
	require.True(t, collector.IgnoreRobotsTxt)
	require.Equal(t, ctx, collector.Context)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := allotment.FetchRequest{
		URL: "https://registrar.example/check",
		Headers: http.Header{
			"User-Agent": {"Mozilla/5.0 test"},
			"Accept":     {"application/json"},
		},
	}
	var result allotment.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{
		"User-Agent": {"colly - https://github.com/gocolly/colly/v2"},
		"Accept":     {"*/*"},
	}}
	hooks.onRequest(collyReq)
	require.Equal(t, []string{"Mozilla/5.0 test"}, collyReq.Headers.Values("User-Agent"))
	require.Equal(t, []string{"application/json"}, collyReq.Headers.Values("Accept"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusNotFound,
		Body:       []byte("missing"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://registrar.example/check")},
	})
	require.Equal(t, http.StatusNotFound, result.StatusCode)
	require.Equal(t, "missing", string(result.Body))
	require.Equal(t, "ok", result.Headers.Get("X-Resp"))
	require.False(t, result.UsedHeadless)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	collyReq := &colly.Request{Headers: &http.Header{}}
	f.copyHeaders(allotment.FetchRequest{}, collyReq)
	require.Empty(t, *collyReq.Headers)
}

func TestFetch_ReturnsNon2xxResponses(t *testing.T) {
	t.Parallel()

	seen := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Clone()
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("busy"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 2 * time.Second})
	resp, err := f.Fetch(context.Background(), allotment.FetchRequest{
		URL:     srv.URL + "/status?pan=ABCDE1234F",
		Headers: http.Header{"User-Agent": {"ua-under-test"}, "Accept": {"text/html"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "busy", string(resp.Body))
	headers := <-seen
	require.Equal(t, "ua-under-test", headers.Get("User-Agent"))
	require.Equal(t, "text/html", headers.Get("Accept"))
}

func TestFetch_SameURLTwice(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 2 * time.Second})
	for i := 0; i < 2; i++ {
		resp, err := f.Fetch(context.Background(), allotment.FetchRequest{URL: srv.URL})
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestFetch_ContextDeadline(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	f := New(Config{Timeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, allotment.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
