package fetcher

import (
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies fetch failures for retry decisions and reporting.
type ErrorKind int

const (
	// KindConnection covers DNS failures, refused connections, and
	// transport-level errors before a response arrives.
	KindConnection ErrorKind = iota

	// KindTimeout covers deadline and context timeouts.
	KindTimeout

	// KindHTTPError means the server answered with a non-success status.
	KindHTTPError

	// KindTooLarge means the response body exceeded the size cap.
	KindTooLarge

	// KindRedirectLoop means the redirect chain revisited a URL or
	// exceeded the hop limit.
	KindRedirectLoop
)

// String returns the lowercase kind name for logs.
func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindTimeout:
		return "timeout"
	case KindHTTPError:
		return "http_error"
	case KindTooLarge:
		return "too_large"
	case KindRedirectLoop:
		return "redirect_loop"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by Fetch. It keeps the URL, the
// failure class, and the HTTP status (when one was received) so callers
// can decide about retries and produce precise reports.
type Error struct {
	// URL is the URL whose fetch failed.
	URL string

	// Kind classifies the failure.
	Kind ErrorKind

	// Status is the HTTP status code for KindHTTPError, zero otherwise.
	Status int

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Kind == KindHTTPError:
		return fmt.Sprintf("fetch %s: http status %d", e.URL, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
}

// Unwrap exposes the underlying error to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Temporary reports whether a retry could plausibly succeed: connection
// failures, timeouts, server errors, and 429 throttling. Client errors
// (a 404 stays a 404), oversized bodies, and redirect loops are final.
func (e *Error) Temporary() bool {
	switch e.Kind {
	case KindConnection, KindTimeout:
		return true
	case KindHTTPError:
		return e.Status >= 500 || e.Status == 429
	default:
		return false
	}
}

// classifyTransport maps a transport error from http.Client.Do to an
// ErrorKind, distinguishing timeouts from other connection failures.
func classifyTransport(err error) ErrorKind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindConnection
}
