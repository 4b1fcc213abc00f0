// Package icon resolves a visual icon for a link through an ordered fallback
// chain: curated brand index, remote favicon service, the page's declared
// icon, and finally a generated initial-letter avatar. The avatar tier cannot
// fail, so Resolve always produces an IconRef.
package icon

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jinresearch/linkbeacon/internal/links"
	"github.com/jinresearch/linkbeacon/internal/metrics"
)

// Query carries the inputs available to each tier.
type Query struct {
	Hostname string
	Title    string
	// FaviconHint is an icon href declared by the page, possibly relative.
	FaviconHint string
	// PageURL resolves relative favicon hints.
	PageURL string
}

// Strategy is one ordered tier in the fallback chain. A false return means
// the tier degraded silently and the next one is consulted.
type Strategy interface {
	Name() string
	TryResolve(ctx context.Context, q Query) (links.IconRef, bool)
}

// Config controls the favicon-service tier and avatar generation.
type Config struct {
	// FaviconService is a printf template receiving the hostname.
	FaviconService string
	FaviconTimeout time.Duration
	PaletteSize    int
}

// Resolver iterates the tier list and takes the first non-empty result.
type Resolver struct {
	strategies []Strategy
	logger     *zap.Logger
}

// NewResolver builds the standard chain: brand index, favicon service,
// declared-icon hint, generated avatar.
func NewResolver(index *BrandIndex, fetcher links.Fetcher, cfg Config, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PaletteSize <= 0 {
		cfg.PaletteSize = 12
	}
	return &Resolver{
		strategies: []Strategy{
			&brandStrategy{index: index},
			&faviconStrategy{fetcher: fetcher, template: cfg.FaviconService, timeout: cfg.FaviconTimeout, logger: logger},
			&hintStrategy{fetcher: fetcher, timeout: cfg.FaviconTimeout, logger: logger},
			&avatarStrategy{paletteSize: cfg.PaletteSize},
		},
		logger: logger,
	}
}

// Resolve walks the tiers in order and returns the first hit. It is
// deterministic given the same inputs and the external services' state.
func (r *Resolver) Resolve(ctx context.Context, q Query) links.IconRef {
	for _, s := range r.strategies {
		if ref, ok := s.TryResolve(ctx, q); ok {
			metrics.ObserveIconTier(s.Name())
			r.logger.Debug("icon resolved",
				zap.String("host", q.Hostname),
				zap.String("tier", s.Name()),
			)
			return ref
		}
	}
	// Unreachable: the avatar tier always resolves.
	return links.IconRef{Kind: links.IconGeneratedAvatar}
}

type brandStrategy struct {
	index *BrandIndex
}

func (s *brandStrategy) Name() string { return "brand" }

func (s *brandStrategy) TryResolve(_ context.Context, q Query) (links.IconRef, bool) {
	if s.index == nil {
		return links.IconRef{}, false
	}
	slug, ok := s.index.Lookup(q.Hostname)
	if !ok {
		return links.IconRef{}, false
	}
	return links.IconRef{Kind: links.IconBrand, Slug: slug}, true
}

type faviconStrategy struct {
	fetcher  links.Fetcher
	template string
	timeout  time.Duration
	logger   *zap.Logger
}

func (s *faviconStrategy) Name() string { return "favicon" }

func (s *faviconStrategy) TryResolve(ctx context.Context, q Query) (links.IconRef, bool) {
	if s.fetcher == nil || s.template == "" || q.Hostname == "" {
		return links.IconRef{}, false
	}
	iconURL := fmt.Sprintf(s.template, q.Hostname)
	return fetchIcon(ctx, s.fetcher, iconURL, s.timeout, s.logger)
}

// hintStrategy fetches the icon the page itself declared. It runs after the
// favicon service and is a last resort before the generated avatar.
type hintStrategy struct {
	fetcher links.Fetcher
	timeout time.Duration
	logger  *zap.Logger
}

func (s *hintStrategy) Name() string { return "hint" }

func (s *hintStrategy) TryResolve(ctx context.Context, q Query) (links.IconRef, bool) {
	if s.fetcher == nil || q.FaviconHint == "" {
		return links.IconRef{}, false
	}
	iconURL := resolveHint(q.PageURL, q.FaviconHint)
	if iconURL == "" {
		return links.IconRef{}, false
	}
	return fetchIcon(ctx, s.fetcher, iconURL, s.timeout, s.logger)
}

// fetchIcon verifies the candidate URL serves an image. Every failure,
// timeouts included, degrades silently to the next tier.
func fetchIcon(ctx context.Context, fetcher links.Fetcher, iconURL string, timeout time.Duration, logger *zap.Logger) (links.IconRef, bool) {
	res, err := fetcher.Fetch(ctx, links.FetchRequest{URL: iconURL, Timeout: timeout})
	if err != nil {
		logger.Debug("icon fetch degraded", zap.String("url", iconURL), zap.Error(err))
		return links.IconRef{}, false
	}
	metrics.ObserveFetch("favicon", res.Duration)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return links.IconRef{}, false
	}
	if !strings.HasPrefix(strings.ToLower(res.ContentType), "image/") {
		return links.IconRef{}, false
	}
	return links.IconRef{Kind: links.IconRemoteFavicon, FaviconURL: iconURL}, true
}

func resolveHint(pageURL, hint string) string {
	ref, err := url.Parse(hint)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	base, err := url.Parse(pageURL)
	if err != nil || !base.IsAbs() {
		return ""
	}
	return base.ResolveReference(ref).String()
}

type avatarStrategy struct {
	paletteSize int
}

func (s *avatarStrategy) Name() string { return "avatar" }

// TryResolve always succeeds: this is the guaranteed terminal fallback.
func (s *avatarStrategy) TryResolve(_ context.Context, q Query) (links.IconRef, bool) {
	return links.IconRef{
		Kind:      links.IconGeneratedAvatar,
		Letter:    AvatarLetter(q.Title, q.Hostname),
		ColorSeed: ColorSeed(q.Hostname, s.paletteSize),
	}, true
}

var upperCaser = cases.Upper(language.Und)

// AvatarLetter derives the avatar's initial: the first letter or digit of the
// title, upper-cased where a case mapping exists; when the title has none,
// the hostname supplies it.
func AvatarLetter(title, hostname string) string {
	for _, source := range []string{title, hostname} {
		for _, r := range source {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return upperCaser.String(string(r))
			}
		}
	}
	return "?"
}

// ColorSeed maps a hostname onto a fixed palette deterministically, so the
// same site always renders with the same color.
func ColorSeed(hostname string, paletteSize int) int {
	if paletteSize <= 0 {
		paletteSize = 12
	}
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(hostname))) //nolint:errcheck // fnv never fails
	return int(h.Sum32() % uint32(paletteSize))
}
