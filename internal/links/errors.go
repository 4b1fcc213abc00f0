package links

import (
	"errors"
	"fmt"
)

// FetchErrorKind classifies transport and protocol failures into the small
// set the rest of the subsystem can act on.
type FetchErrorKind string

const (
	KindTimeout           FetchErrorKind = "timeout"
	KindDNSFailure        FetchErrorKind = "dns_failure"
	KindConnectionRefused FetchErrorKind = "connection_refused"
	KindTLSError          FetchErrorKind = "tls_error"
	KindHTTPStatus        FetchErrorKind = "http_status"
	KindTooManyRedirects  FetchErrorKind = "too_many_redirects"
	KindBodyTooLarge      FetchErrorKind = "body_too_large"
	// KindUnknown covers transport failures that do not classify cleanly;
	// the wrapped error retains the detail.
	KindUnknown FetchErrorKind = "unknown"
)

// FetchError normalizes every fetch failure into a kind plus the underlying
// cause. StatusCode is set only for KindHTTPStatus.
type FetchError struct {
	Kind       FetchErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("fetch failed: http status %d", e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch failed (%s)", e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ResolutionError reports that the target page itself could not be fetched.
// Icon tier failures never surface here; they degrade silently. A resolution
// that returns a ResolutionError still carries best-effort metadata.
type ResolutionError struct {
	Fetch *FetchError
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolution failed: %v", e.Fetch)
}

func (e *ResolutionError) Unwrap() error { return e.Fetch }

// AsFetchError unwraps err into a *FetchError if one is in its chain.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
