// Package collyfetcher implements links.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/jinresearch/linkbeacon/internal/links"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
	MaxRedirects int
}

const (
	defaultTimeout      = 5 * time.Second
	defaultMaxBodyBytes = 64 * 1024
	defaultMaxRedirects = 5
)

var errTooManyRedirects = errors.New("too many redirects")

// Fetcher implements links.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(cfg.MaxBodyBytes),
	)

	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET and returns the response body, truncated
// to the configured cap. All failures are normalized into *links.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, request links.FetchRequest) (links.FetchResult, error) {
	var (
		result   links.FetchResult
		captured bool
		fetchErr *links.FetchError
	)
	start := time.Now()
	collector := f.buildCollector(request)

	collector.OnResponse(func(r *colly.Response) {
		if declared := contentLength(r); declared > int64(f.cfg.MaxBodyBytes) {
			fetchErr = &links.FetchError{Kind: links.KindBodyTooLarge}
			return
		}
		result = resultFrom(r, start)
		captured = true
	})
	collector.OnError(func(r *colly.Response, err error) {
		// 2xx/3xx statuses that Colly treats as errors still count as
		// successful fetches for this subsystem.
		if r != nil && r.StatusCode >= 200 && r.StatusCode < 400 {
			result = resultFrom(r, start)
			captured = true
			return
		}
		fetchErr = classify(r, err)
	})

	// Visit reports an error for any handled failure too, so the handlers'
	// verdict takes precedence over the raw visit error.
	completed, err := f.run(ctx, func() error { return collector.Visit(request.URL) })
	if !completed {
		return links.FetchResult{}, err
	}
	if fetchErr != nil {
		return links.FetchResult{}, fetchErr
	}
	if captured {
		return result, nil
	}
	if err != nil {
		return links.FetchResult{}, classify(nil, err)
	}
	return result, nil
}

// Probe issues a HEAD request, falling back to GET when the HEAD fails or is
// rejected with a 4xx/5xx status. The body is never retained.
func (f *Fetcher) Probe(ctx context.Context, request links.FetchRequest) (links.ProbeResult, error) {
	start := time.Now()

	code, err := f.probeOnce(ctx, request, http.MethodHead)
	if err != nil || code >= 400 {
		code, err = f.probeOnce(ctx, request, http.MethodGet)
	}
	if err != nil {
		return links.ProbeResult{}, err
	}
	return links.ProbeResult{StatusCode: code, Duration: time.Since(start)}, nil
}

func (f *Fetcher) probeOnce(ctx context.Context, request links.FetchRequest, method string) (int, error) {
	var (
		statusCode int
		fetchErr   *links.FetchError
	)
	collector := f.buildCollector(request)

	collector.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= 200 && r.StatusCode < 400 {
			statusCode = r.StatusCode
			return
		}
		fetchErr = classify(r, err)
	})

	visit := func() error { return collector.Visit(request.URL) }
	if method == http.MethodHead {
		visit = func() error { return collector.Head(request.URL) }
	}
	completed, err := f.run(ctx, visit)
	if !completed {
		return 0, err
	}
	if fetchErr != nil {
		if fetchErr.Kind == links.KindHTTPStatus {
			return fetchErr.StatusCode, fetchErr
		}
		return 0, fetchErr
	}
	if statusCode != 0 {
		return statusCode, nil
	}
	if err != nil {
		return 0, classify(nil, err)
	}
	return statusCode, nil
}

func (f *Fetcher) buildCollector(request links.FetchRequest) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if request.Timeout > 0 {
		timeout = request.Timeout
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)

	maxRedirects := f.cfg.MaxRedirects
	collector.SetRedirectHandler(func(_ *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return errTooManyRedirects
		}
		return nil
	})
	return collector
}

// run executes the collector visit in its own goroutine so ctx cancellation
// never leaves the caller blocked past its budget. The returned bool reports
// whether the visit finished; when it is false the collector's handlers may
// still be running and their captures must not be read.
func (f *Fetcher) run(ctx context.Context, visit func() error) (bool, error) {
	done := make(chan error, 1)
	go func() {
		done <- visit()
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return false, &links.FetchError{Kind: links.KindTimeout, Err: ctx.Err()}
		}
		return false, &links.FetchError{Kind: links.KindUnknown, Err: ctx.Err()}
	case err := <-done:
		return true, err
	}
}

func resultFrom(r *colly.Response, start time.Time) links.FetchResult {
	contentType := ""
	if r.Headers != nil {
		contentType = r.Headers.Get("Content-Type")
	}
	return links.FetchResult{
		Body:        append([]byte(nil), r.Body...),
		ContentType: contentType,
		StatusCode:  r.StatusCode,
		Duration:    time.Since(start),
	}
}

func contentLength(r *colly.Response) int64 {
	if r.Headers == nil {
		return 0
	}
	n, err := strconv.ParseInt(r.Headers.Get("Content-Length"), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// classify normalizes transport and protocol failures into the FetchError
// taxonomy. The response, when present with a status code, wins over the
// error text.
func classify(r *colly.Response, err error) *links.FetchError {
	if errors.Is(err, errTooManyRedirects) {
		return &links.FetchError{Kind: links.KindTooManyRedirects, Err: err}
	}
	if r != nil && r.StatusCode != 0 {
		return &links.FetchError{Kind: links.KindHTTPStatus, StatusCode: r.StatusCode, Err: err}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return &links.FetchError{Kind: links.KindTimeout, Err: err}
		}
		return &links.FetchError{Kind: links.KindDNSFailure, Err: err}
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return &links.FetchError{Kind: links.KindConnectionRefused, Err: err}
	}
	if isTLSError(err) {
		return &links.FetchError{Kind: links.KindTLSError, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &links.FetchError{Kind: links.KindTimeout, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &links.FetchError{Kind: links.KindTimeout, Err: err}
	}

	return &links.FetchError{Kind: links.KindUnknown, Err: err}
}

func isTLSError(err error) bool {
	var (
		recordErr   tls.RecordHeaderError
		certErr     *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidErr  x509.CertificateInvalidError
	)
	if errors.As(err, &recordErr) || errors.As(err, &certErr) ||
		errors.As(err, &unknownAuth) || errors.As(err, &hostErr) || errors.As(err, &invalidErr) {
		return true
	}
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "tls:") || strings.Contains(msg, "x509:")
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
