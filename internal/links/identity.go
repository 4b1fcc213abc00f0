package links

import (
	"fmt"
	"net/url"
	"strings"
)

// Identity is the normalized form of a link URL (scheme + host + path). It is
// the stable key for both the resolution cache and the health prober.
type Identity string

func (id Identity) String() string { return string(id) }

// Host returns the hostname portion of the identity, without port.
func (id Identity) Host() string {
	u, err := url.Parse(string(id))
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Normalize standardizes a raw URL into an Identity. Rules:
//  1. The URL must be absolute with an http or https scheme.
//  2. Scheme and host are lowercased.
//  3. Default ports (80 for http, 443 for https) are stripped.
//  4. The fragment and query are dropped.
//  5. Trailing slashes are stripped, including the root slash, so
//     "https://a.com/" and "https://a.com" normalize identically.
func Normalize(rawURL string) (Identity, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("url must be an absolute http or https url")
	}
	if u.Host == "" {
		return "", fmt.Errorf("url has no host")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if (u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Hostname()
	}

	u.Fragment = ""
	u.RawQuery = ""
	u.User = nil
	u.Path = strings.TrimRight(u.Path, "/")

	return Identity(u.String()), nil
}
