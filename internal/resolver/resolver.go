// Package resolver orchestrates the metadata pipeline: fetch, extract,
// resolve an icon, and cache the bundle under the link's identity. It is the
// public entry point consumed by the HTTP layer and, through it, the CRUD/UI
// collaborators.
package resolver

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/jinresearch/linkbeacon/internal/cache"
	"github.com/jinresearch/linkbeacon/internal/extract"
	"github.com/jinresearch/linkbeacon/internal/icon"
	"github.com/jinresearch/linkbeacon/internal/links"
	"github.com/jinresearch/linkbeacon/internal/metrics"
	"github.com/jinresearch/linkbeacon/internal/prober"
)

// Config bounds the metadata fetch.
type Config struct {
	MetadataTimeout time.Duration
}

// Service ties the fetcher, extractor, icon resolver, cache and prober into
// the two public operations: ResolveMetadata and ProbeHealth.
type Service struct {
	fetcher links.Fetcher
	icons   *icon.Resolver
	cache   *cache.Store
	prober  *prober.Prober
	hasher  links.Hasher
	clock   links.Clock
	cfg     Config
	group   singleflight.Group
	logger  *zap.Logger
}

// New constructs a Service.
func New(
	fetcher links.Fetcher,
	icons *icon.Resolver,
	store *cache.Store,
	prober *prober.Prober,
	hasher links.Hasher,
	clock links.Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		fetcher: fetcher,
		icons:   icons,
		cache:   store,
		prober:  prober,
		hasher:  hasher,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// outcome pairs the best-effort metadata with the resolution error, so
// singleflight waiters share both.
type outcome struct {
	meta links.ResolvedMetadata
	err  error
}

// ResolveMetadata returns the metadata bundle for rawURL. Without force, a
// cached entry is returned immediately with no network call. With force, or
// on a cache miss, the full pipeline runs and replaces any prior entry.
// Resolution per identity is single-flight: concurrent callers share one
// in-flight pipeline and receive the same result.
//
// When the page itself cannot be fetched, ResolveMetadata still returns
// displayable metadata (empty title/description, generated avatar) together
// with a *links.ResolutionError describing why.
func (s *Service) ResolveMetadata(ctx context.Context, rawURL string, force bool) (links.ResolvedMetadata, error) {
	identity, err := links.Normalize(rawURL)
	if err != nil {
		return links.ResolvedMetadata{}, fmt.Errorf("normalize url: %w", err)
	}

	if !force {
		if md, ok := s.cache.Get(identity); ok {
			metrics.ObserveCacheEvent("hit")
			metrics.ObserveResolution("cached")
			return md, nil
		}
		metrics.ObserveCacheEvent("miss")
	}

	v, _, _ := s.group.Do(identity.String(), func() (any, error) {
		out := s.resolve(ctx, identity)
		return out, nil
	})
	out := v.(outcome)
	return out.meta, out.err
}

func (s *Service) resolve(ctx context.Context, identity links.Identity) outcome {
	host := identity.Host()
	sourceHash, err := s.hasher.Hash([]byte(identity))
	if err != nil {
		return outcome{err: fmt.Errorf("hash identity: %w", err)}
	}

	res, fetchErr := s.fetcher.Fetch(ctx, links.FetchRequest{
		URL:     identity.String(),
		Timeout: s.cfg.MetadataTimeout,
	})
	if fetchErr != nil {
		// The page is unreachable, but something displayable is still owed:
		// a tier-3 avatar derived from the hostname alone. The degraded
		// bundle is not cached, so the next access retries.
		metrics.ObserveResolution("degraded")
		s.logger.Warn("metadata fetch failed",
			zap.String("url", identity.String()),
			zap.Error(fetchErr),
		)
		meta := links.ResolvedMetadata{
			Icon:       s.icons.Resolve(ctx, icon.Query{Hostname: host, PageURL: identity.String()}),
			ResolvedAt: s.clock.Now(),
			SourceHash: sourceHash,
		}
		fe, _ := links.AsFetchError(fetchErr)
		return outcome{meta: meta, err: &links.ResolutionError{Fetch: fe}}
	}

	metrics.ObserveFetch("metadata", res.Duration)
	md := extract.Extract(res.Body)

	meta := links.ResolvedMetadata{
		Title:       md.Title,
		Description: md.Description,
		Icon: s.icons.Resolve(ctx, icon.Query{
			Hostname:    host,
			Title:       md.Title,
			FaviconHint: md.FaviconHint,
			PageURL:     identity.String(),
		}),
		ResolvedAt: s.clock.Now(),
		SourceHash: sourceHash,
	}

	s.cache.Put(identity, meta)
	metrics.ObserveCacheEvent("put")
	metrics.ObserveResolution("resolved")
	s.logger.Info("metadata resolved",
		zap.String("url", identity.String()),
		zap.String("title", meta.Title),
		zap.String("icon_kind", string(meta.Icon.Kind)),
	)
	return outcome{meta: meta}
}

// Invalidate drops the cache entry for rawURL. The CRUD layer calls this when
// a link's URL changes; the new identity is resolved lazily on next access.
func (s *Service) Invalidate(rawURL string) (bool, error) {
	identity, err := links.Normalize(rawURL)
	if err != nil {
		return false, fmt.Errorf("normalize url: %w", err)
	}
	existed := s.cache.Invalidate(identity)
	if existed {
		metrics.ObserveCacheEvent("invalidate")
	}
	return existed, nil
}

// ProbeHealth performs a fresh reachability check for rawURL. It never
// returns an error: every failure classifies as unreachable.
func (s *Service) ProbeHealth(ctx context.Context, rawURL string) links.ProbeOutcome {
	return s.prober.Probe(ctx, rawURL)
}

// HealthStatus reports the last known status for rawURL without probing.
func (s *Service) HealthStatus(rawURL string) links.HealthStatus {
	return s.prober.Status(rawURL)
}
