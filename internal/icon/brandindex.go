package icon

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"

	"golang.org/x/net/publicsuffix"
)

//go:embed brands.json
var embeddedIndex []byte

// BrandIndex is a versioned lookup table mapping normalized brand keys to
// icon slugs. The table is data, not code: the embedded copy ships a curated
// set and deployments may override it with a newer file.
type BrandIndex struct {
	version string
	icons   map[string]string
}

type indexFile struct {
	Version string            `json:"version"`
	Icons   map[string]string `json:"icons"`
}

// LoadEmbeddedIndex parses the brand index compiled into the binary.
func LoadEmbeddedIndex() (*BrandIndex, error) {
	return parseIndex(embeddedIndex)
}

// LoadIndexFile parses a brand index from disk, replacing the embedded copy.
func LoadIndexFile(path string) (*BrandIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read brand index: %w", err)
	}
	return parseIndex(data)
}

func parseIndex(data []byte) (*BrandIndex, error) {
	var f indexFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse brand index: %w", err)
	}
	if len(f.Icons) == 0 {
		return nil, fmt.Errorf("brand index has no entries")
	}
	icons := make(map[string]string, len(f.Icons))
	for key, slug := range f.Icons {
		icons[strings.ToLower(key)] = slug
	}
	return &BrandIndex{version: f.Version, icons: icons}, nil
}

// Version reports the index revision, for logs and diagnostics.
func (b *BrandIndex) Version() string { return b.version }

// Len reports the number of entries.
func (b *BrandIndex) Len() int { return len(b.icons) }

// Lookup resolves a hostname to a brand slug. The full host (minus www.) is
// tried first so aliases like "news.ycombinator.com" can be listed verbatim,
// then the registrable brand label.
func (b *BrandIndex) Lookup(hostname string) (string, bool) {
	host := normalizeHost(hostname)
	if host == "" {
		return "", false
	}
	if slug, ok := b.icons[host]; ok {
		return slug, true
	}
	if slug, ok := b.icons[brandKey(host)]; ok {
		return slug, true
	}
	return "", false
}

func normalizeHost(hostname string) string {
	host := strings.ToLower(strings.TrimSpace(hostname))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimPrefix(host, "www.")
}

// brandKey reduces a host to the label left of its public suffix, so
// "github.com", "github.co.uk" and "gist.github.com" all key to "github".
// Hosts without a registrable domain (IPs, localhost) fall back to their
// first label.
func brandKey(host string) string {
	if net.ParseIP(host) != nil {
		return host
	}
	suffix, icann := publicsuffix.PublicSuffix(host)
	if !icann || suffix == host {
		return firstLabel(host)
	}
	base := strings.TrimSuffix(host, "."+suffix)
	if base == host || base == "" {
		return firstLabel(host)
	}
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		return base[i+1:]
	}
	return base
}

func firstLabel(host string) string {
	if i := strings.IndexByte(host, '.'); i >= 0 {
		return host[:i]
	}
	return host
}
