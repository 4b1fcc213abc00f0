package resolver

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jinresearch/linkbeacon/internal/cache"
	"github.com/jinresearch/linkbeacon/internal/clock/system"
	"github.com/jinresearch/linkbeacon/internal/hash/sha256"
	"github.com/jinresearch/linkbeacon/internal/icon"
	"github.com/jinresearch/linkbeacon/internal/links"
	"github.com/jinresearch/linkbeacon/internal/metrics"
	"github.com/jinresearch/linkbeacon/internal/prober"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

// countingFetcher serves canned pages and counts Fetch calls per URL. An
// optional gate blocks page fetches until released, for single-flight tests.
type countingFetcher struct {
	mu        sync.Mutex
	responses map[string]links.FetchResult
	failures  map[string]*links.FetchError
	calls     map[string]int
	gate      chan struct{}
	gateURL   string
}

func newCountingFetcher() *countingFetcher {
	return &countingFetcher{
		responses: make(map[string]links.FetchResult),
		failures:  make(map[string]*links.FetchError),
		calls:     make(map[string]int),
	}
}

func (f *countingFetcher) Fetch(_ context.Context, req links.FetchRequest) (links.FetchResult, error) {
	f.mu.Lock()
	f.calls[req.URL]++
	gate := f.gate
	gated := f.gateURL == req.URL
	res, ok := f.responses[req.URL]
	fail := f.failures[req.URL]
	f.mu.Unlock()

	if gate != nil && gated {
		<-gate
	}
	if fail != nil {
		return links.FetchResult{}, fail
	}
	if !ok {
		return links.FetchResult{}, &links.FetchError{Kind: links.KindDNSFailure, Err: errors.New("fake: unknown url")}
	}
	return res, nil
}

func (f *countingFetcher) Probe(_ context.Context, req links.FetchRequest) (links.ProbeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fail := f.failures[req.URL]; fail != nil {
		return links.ProbeResult{}, fail
	}
	if res, ok := f.responses[req.URL]; ok {
		return links.ProbeResult{StatusCode: res.StatusCode, Duration: time.Millisecond}, nil
	}
	return links.ProbeResult{}, &links.FetchError{Kind: links.KindDNSFailure}
}

func (f *countingFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func htmlPage(title, description string) links.FetchResult {
	body := "<html><head><title>" + title + "</title>"
	if description != "" {
		body += `<meta name="description" content="` + description + `">`
	}
	body += "</head></html>"
	return links.FetchResult{Body: []byte(body), ContentType: "text/html", StatusCode: 200, Duration: time.Millisecond}
}

func newTestService(t *testing.T, fetcher links.Fetcher) (*Service, *prober.Prober) {
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

	svc := New(fetcher, icons, cache.New(), pr, sha256.New(), system.New(), Config{
		MetadataTimeout: time.Second,
	}, zap.NewNop())
	return svc, pr
}

func TestResolveMetadata_BrandExample(t *testing.T) {
	t.Parallel()

	fetcher := newCountingFetcher()
	fetcher.responses["https://github.com"] = htmlPage("GitHub", "Where the world builds software.")

	svc, _ := newTestService(t, fetcher)

	md, err := svc.ResolveMetadata(context.Background(), "https://github.com", false)
	require.NoError(t, err)
	require.Equal(t, "GitHub", md.Title)
	require.Equal(t, "Where the world builds software.", md.Description)
	require.Equal(t, links.IconBrand, md.Icon.Kind)
	require.Equal(t, "github", md.Icon.Slug)
	require.NotEmpty(t, md.SourceHash)
	require.False(t, md.ResolvedAt.IsZero())
}

func TestResolveMetadata_CacheHitSkipsNetwork(t *testing.T) {
	t.Parallel()

	fetcher := newCountingFetcher()
	fetcher.responses["https://github.com"] = htmlPage("GitHub", "")

	svc, _ := newTestService(t, fetcher)

	first, err := svc.ResolveMetadata(context.Background(), "https://github.com", false)
	require.NoError(t, err)
	second, err := svc.ResolveMetadata(context.Background(), "https://github.com/", false)
	require.NoError(t, err)

	require.Equal(t, first, second, "cached bundle must be returned unchanged")
	require.Equal(t, 1, fetcher.callCount("https://github.com"), "cache hit must not refetch")
}

func TestResolveMetadata_ForceRefetches(t *testing.T) {
	t.Parallel()

	fetcher := newCountingFetcher()
	fetcher.responses["https://github.com"] = htmlPage("GitHub", "")

	svc, _ := newTestService(t, fetcher)

	_, err := svc.ResolveMetadata(context.Background(), "https://github.com", false)
	require.NoError(t, err)

	fetcher.mu.Lock()
	fetcher.responses["https://github.com"] = htmlPage("GitHub · Home", "new description")
	fetcher.mu.Unlock()

	md, err := svc.ResolveMetadata(context.Background(), "https://github.com", true)
	require.NoError(t, err)
	require.Equal(t, "GitHub · Home", md.Title)
	require.Equal(t, "new description", md.Description)
	require.Equal(t, 2, fetcher.callCount("https://github.com"))

	// The replacement is wholesale and visible to subsequent cached reads.
	cached, err := svc.ResolveMetadata(context.Background(), "https://github.com", false)
	require.NoError(t, err)
	require.Equal(t, md, cached)
}

func TestResolveMetadata_InvalidateForcesFreshFetch(t *testing.T) {
	t.Parallel()

	fetcher := newCountingFetcher()
	fetcher.responses["https://github.com"] = htmlPage("GitHub", "")

	svc, _ := newTestService(t, fetcher)

	_, err := svc.ResolveMetadata(context.Background(), "https://github.com", false)
	require.NoError(t, err)

	existed, err := svc.Invalidate("https://github.com/#readme")
	require.NoError(t, err)
	require.True(t, existed, "fragment-only variants share one identity")

	_, err = svc.ResolveMetadata(context.Background(), "https://github.com", false)
	require.NoError(t, err)
	require.Equal(t, 2, fetcher.callCount("https://github.com"))
}

func TestResolveMetadata_DegradesOnFetchFailure(t *testing.T) {
	t.Parallel()

	fetcher := newCountingFetcher()
	fetcher.failures["https://my-obscure-blog.example"] = &links.FetchError{Kind: links.KindTimeout}

	svc, _ := newTestService(t, fetcher)

	md, err := svc.ResolveMetadata(context.Background(), "https://my-obscure-blog.example", false)
	require.Error(t, err)

	var resErr *links.ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Equal(t, links.KindTimeout, resErr.Fetch.Kind)

	// Still displayable: empty text fields, terminal-fallback avatar.
	require.Empty(t, md.Title)
	require.Empty(t, md.Description)
	require.Equal(t, links.IconGeneratedAvatar, md.Icon.Kind)
	require.Equal(t, "M", md.Icon.Letter)

	// Degraded bundles are not cached; the next access retries.
	_, err = svc.ResolveMetadata(context.Background(), "https://my-obscure-blog.example", false)
	require.Error(t, err)
	require.Equal(t, 2, fetcher.callCount("https://my-obscure-blog.example"))
}

func TestResolveMetadata_SingleFlight(t *testing.T) {
	t.Parallel()

	fetcher := newCountingFetcher()
	fetcher.responses["https://github.com"] = htmlPage("GitHub", "")
	fetcher.gate = make(chan struct{})
	fetcher.gateURL = "https://github.com"

	svc, _ := newTestService(t, fetcher)

	const callers = 8
	results := make([]links.ResolvedMetadata, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], errs[n] = svc.ResolveMetadata(context.Background(), "https://github.com", false)
		}(i)
	}

	// Let every caller reach the pipeline before the fetch completes.
	time.Sleep(50 * time.Millisecond)
	close(fetcher.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, results[0], results[i], "all waiters share one result")
	}
	require.Equal(t, 1, fetcher.callCount("https://github.com"), "concurrent callers must not duplicate the fetch")
}

func TestResolveMetadata_RejectsInvalidURL(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, newCountingFetcher())
	_, err := svc.ResolveMetadata(context.Background(), "::not-a-url::", false)
	require.Error(t, err)
}

func TestProbeHealth_Delegates(t *testing.T) {
	t.Parallel()

	fetcher := newCountingFetcher()
	fetcher.responses["https://github.com"] = htmlPage("GitHub", "")

	svc, _ := newTestService(t, fetcher)

	out := svc.ProbeHealth(context.Background(), "https://github.com")
	require.Equal(t, links.StatusReachable, out.Status)
	require.Equal(t, links.StatusReachable, svc.HealthStatus("https://github.com"))
}
