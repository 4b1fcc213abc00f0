package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jinresearch/linkbeacon/internal/cache"
	"github.com/jinresearch/linkbeacon/internal/clock/system"
	"github.com/jinresearch/linkbeacon/internal/config"
	"github.com/jinresearch/linkbeacon/internal/hash/sha256"
	"github.com/jinresearch/linkbeacon/internal/icon"
	"github.com/jinresearch/linkbeacon/internal/links"
	"github.com/jinresearch/linkbeacon/internal/metrics"
	"github.com/jinresearch/linkbeacon/internal/prober"
	"github.com/jinresearch/linkbeacon/internal/resolver"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

// stubFetcher answers page fetches for one canned URL and fails everything
// else, which lets the icon chain fall through to the avatar tier.
type stubFetcher struct {
	url  string
	body string
}

func (f *stubFetcher) Fetch(_ context.Context, req links.FetchRequest) (links.FetchResult, error) {
	if req.URL == f.url {
		return links.FetchResult{
			Body:        []byte(f.body),
			ContentType: "text/html",
			StatusCode:  200,
			Duration:    time.Millisecond,
		}, nil
	}
	return links.FetchResult{}, &links.FetchError{Kind: links.KindDNSFailure}
}

func (f *stubFetcher) Probe(_ context.Context, req links.FetchRequest) (links.ProbeResult, error) {
	if req.URL == f.url {
		return links.ProbeResult{StatusCode: 200, Duration: 2 * time.Millisecond}, nil
	}
	return links.ProbeResult{}, &links.FetchError{Kind: links.KindDNSFailure}
}

func newTestServer(t *testing.T, fetcher links.Fetcher, cfg config.Config) *Server {
	t.Helper()
	index, err := icon.LoadEmbeddedIndex()
	require.NoError(t, err)
	icons := icon.NewResolver(index, fetcher, icon.Config{
		FaviconService: "https://icons.test/%s.png",
		FaviconTimeout: 50 * time.Millisecond,
		PaletteSize:    12,
	}, zap.NewNop())

	pr := prober.New(fetcher, prober.Config{Concurrency: 2, Timeout: time.Second}, zap.NewNop())
	t.Cleanup(pr.Stop)

	svc := resolver.New(fetcher, icons, cache.New(), pr, sha256.New(), system.New(), resolver.Config{
		MetadataTimeout: time.Second,
	}, zap.NewNop())
	return NewServer(svc, cfg, zap.NewNop())
}

func doJSON(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	payload := map[string]json.RawMessage{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	}
	return rec, payload
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, &stubFetcher{}, config.Config{})

	rec, _ := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec, _ = doJSON(t, srv.Handler(), http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubFetcher{}, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "linkbeacon_resolutions_total")
}

func TestResolveMetadataEndpoint(t *testing.T) {
	fetcher := &stubFetcher{
		url:  "https://github.com",
		body: `<html><head><title>GitHub</title><meta name="description" content="Build software"></head></html>`,
	}
	srv := newTestServer(t, fetcher, config.Config{})

	rec, payload := doJSON(t, srv.Handler(), http.MethodPost, "/v1/metadata/resolve",
		`{"url":"https://github.com/"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var md links.ResolvedMetadata
	require.NoError(t, json.Unmarshal(payload["metadata"], &md))
	require.Equal(t, "GitHub", md.Title)
	require.Equal(t, "Build software", md.Description)
	require.Equal(t, links.IconBrand, md.Icon.Kind)
	require.Equal(t, "github", md.Icon.Slug)
	_, hasWarning := payload["warning"]
	require.False(t, hasWarning)
}

func TestResolveMetadataEndpoint_DegradedReturnsWarning(t *testing.T) {
	srv := newTestServer(t, &stubFetcher{}, config.Config{})

	rec, payload := doJSON(t, srv.Handler(), http.MethodPost, "/v1/metadata/resolve",
		`{"url":"https://unreachable.example"}`)
	require.Equal(t, http.StatusOK, rec.Code, "degraded bundles are still served")

	var md links.ResolvedMetadata
	require.NoError(t, json.Unmarshal(payload["metadata"], &md))
	require.Equal(t, links.IconGeneratedAvatar, md.Icon.Kind)
	require.NotEmpty(t, payload["warning"])
}

func TestResolveMetadataEndpoint_BadRequests(t *testing.T) {
	srv := newTestServer(t, &stubFetcher{}, config.Config{})

	cases := []struct {
		name string
		body string
	}{
		{"malformed JSON", `{"url": `},
		{"missing url", `{}`},
		{"relative url", `{"url":"/just/a/path"}`},
		{"unsupported scheme", `{"url":"ftp://files.example"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, _ := doJSON(t, srv.Handler(), http.MethodPost, "/v1/metadata/resolve", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestInvalidateCacheEndpoint(t *testing.T) {
	fetcher := &stubFetcher{url: "https://github.com", body: "<title>GitHub</title>"}
	srv := newTestServer(t, fetcher, config.Config{})

	// Nothing cached yet.
	rec, payload := doJSON(t, srv.Handler(), http.MethodDelete, "/v1/metadata/cache?url=https://github.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "false", string(payload["invalidated"]))

	rec, _ = doJSON(t, srv.Handler(), http.MethodPost, "/v1/metadata/resolve", `{"url":"https://github.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, payload = doJSON(t, srv.Handler(), http.MethodDelete, "/v1/metadata/cache?url=https://github.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "true", string(payload["invalidated"]))

	rec, _ = doJSON(t, srv.Handler(), http.MethodDelete, "/v1/metadata/cache", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLinkStatusEndpoint(t *testing.T) {
	fetcher := &stubFetcher{url: "https://github.com", body: "<title>GitHub</title>"}
	srv := newTestServer(t, fetcher, config.Config{})

	rec, payload := doJSON(t, srv.Handler(), http.MethodGet, "/v1/links/status?url=https://github.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `"reachable"`, string(payload["status"]))

	rec, payload = doJSON(t, srv.Handler(), http.MethodGet, "/v1/links/status?url=https://unreachable.example", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `"unreachable"`, string(payload["status"]))

	rec, _ = doJSON(t, srv.Handler(), http.MethodGet, "/v1/links/status", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	fetcher := &stubFetcher{url: "https://github.com", body: "<title>GitHub</title>"}
	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"
	srv := newTestServer(t, fetcher, cfg)

	// Health endpoints stay open.
	rec, _ := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, srv.Handler(), http.MethodPost, "/v1/metadata/resolve", `{"url":"https://github.com"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/metadata/resolve", strings.NewReader(`{"url":"https://github.com"}`))
	req.Header.Set("X-API-Key", "secret")
	recorder := httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)
}

func TestRequestIDPropagation(t *testing.T) {
	srv := newTestServer(t, &stubFetcher{}, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-supplied")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, "caller-supplied", rec.Header().Get("X-Request-ID"))
}
