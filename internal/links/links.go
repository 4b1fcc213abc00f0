// Package links defines the core types and interfaces for the link metadata
// and health subsystem: link identities, resolved metadata, icon references,
// health statuses, and the fetching contract implemented elsewhere.
package links

import (
	"context"
	"time"
)

// IconKind tags the active variant of an IconRef.
type IconKind string

const (
	// IconBrand refers to an entry in the curated brand-icon index.
	IconBrand IconKind = "brand"
	// IconRemoteFavicon refers to an icon served by the remote favicon service
	// or declared by the page itself.
	IconRemoteFavicon IconKind = "favicon"
	// IconGeneratedAvatar is the terminal fallback: an initial letter over a
	// deterministic color.
	IconGeneratedAvatar IconKind = "avatar"
)

// IconRef is a closed tagged variant over the three icon kinds. Exactly one
// variant is active, selected by Kind; the remaining fields are zero.
type IconRef struct {
	Kind       IconKind `json:"kind"`
	Slug       string   `json:"slug,omitempty"`
	FaviconURL string   `json:"favicon_url,omitempty"`
	Letter     string   `json:"letter,omitempty"`
	ColorSeed  int      `json:"color_seed,omitempty"`
}

// ResolvedMetadata is the bundle produced by one resolution pass. It is owned
// by the resolution cache and replaced wholesale on re-resolution, never
// partially mutated.
type ResolvedMetadata struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Icon        IconRef   `json:"icon"`
	ResolvedAt  time.Time `json:"resolved_at"`
	SourceHash  string    `json:"source_hash"`
}

// HealthStatus is the tri-state reachability status of a link.
type HealthStatus string

const (
	StatusChecking    HealthStatus = "checking"
	StatusReachable   HealthStatus = "reachable"
	StatusUnreachable HealthStatus = "unreachable"
)

// ProbeOutcome reports the result of a single reachability probe.
type ProbeOutcome struct {
	Status     HealthStatus  `json:"status"`
	StatusCode int           `json:"status_code,omitempty"`
	Latency    time.Duration `json:"-"`
}

// FetchRequest describes one bounded HTTP fetch.
type FetchRequest struct {
	URL string
	// Timeout overrides the fetcher's configured budget when > 0.
	Timeout time.Duration
}

// FetchResult carries the (possibly truncated) response of a metadata fetch.
type FetchResult struct {
	Body        []byte
	ContentType string
	StatusCode  int
	Duration    time.Duration
}

// ProbeResult carries the response of a lightweight reachability probe.
type ProbeResult struct {
	StatusCode int
	Duration   time.Duration
}

// Fetcher performs bounded-timeout HTTP requests. Both methods honor ctx
// cancellation and never block past the request's timeout budget.
type Fetcher interface {
	// Fetch issues a GET and returns the response body, truncated to the
	// fetcher's size cap. Failures are reported as *FetchError.
	Fetch(ctx context.Context, req FetchRequest) (FetchResult, error)
	// Probe issues a HEAD, falling back to GET when HEAD fails or is
	// rejected. It reads no body.
	Probe(ctx context.Context, req FetchRequest) (ProbeResult, error)
}

// Hasher produces a stable digest of a link identity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock abstracts wall-clock time for testability.
type Clock interface {
	Now() time.Time
}
