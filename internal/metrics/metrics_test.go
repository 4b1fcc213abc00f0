package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init() // second call must not panic on duplicate registration

	ObserveResolution("resolved")
	ObserveCacheEvent("hit")
	ObserveIconTier("brand")
	ObserveProbe("reachable")
	ObserveFetch("metadata", 120*time.Millisecond)
	ObserveHTTPRequest("GET", "/v1/links/status", 200, 15*time.Millisecond)
}

func TestHandlerServesExposition(t *testing.T) {
	Init()
	ObserveResolution("cached")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "linkbeacon_resolutions_total")
}
