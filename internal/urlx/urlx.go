package urlx

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrMalformed is returned when a link cannot be parsed or resolved into
// an absolute http(s) URL. Callers skip the single link and continue.
var ErrMalformed = errors.New("malformed url")

// skippedSchemes are link schemes that never denote fetchable resources.
var skippedSchemes = []string{
	"javascript:", "mailto:", "tel:", "data:", "about:",
}

// Canonicalize resolves raw against base and normalizes the result into
// the canonical absolute URL used as the resource identity.
//
// Normalization rules:
//   - relative references (including ".", "..", protocol-relative and
//     fragment-only ones) are resolved against base
//   - scheme and host are lower-cased
//   - default ports (:80 for http, :443 for https) are removed
//   - dot-segments are resolved, an empty path becomes "/"
//   - an empty query ("?") is dropped as equivalent to no query
//   - the fragment is stripped; fetch identity ignores fragments
//
// Canonicalize is a pure function and idempotent: applying it to its own
// output returns the same string.
func Canonicalize(raw string, base *url.URL) (string, error) {
	u, err := parse(raw, base)
	if err != nil {
		return "", err
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// SplitFragment separates a raw link into its fragment-less part and the
// fragment (including the leading "#"). The fragment is dropped for fetch
// identity but must be re-attached by the rewriter.
func SplitFragment(raw string) (rest, fragment string) {
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		return raw[:i], raw[i:]
	}
	return raw, ""
}

// Resolve resolves raw against base and normalizes it, keeping the
// fragment. Used by the rewriter when producing absolute live URLs for
// unmirrored references.
func Resolve(raw string, base *url.URL) (string, error) {
	u, err := parse(raw, base)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Skippable reports whether a raw link value can never denote a
// fetchable resource: empty strings, bare fragments, and non-transport
// schemes such as javascript: or mailto:.
func Skippable(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return true
	}
	lower := strings.ToLower(raw)
	for _, scheme := range skippedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

// parse resolves and normalizes raw without touching the fragment.
func parse(raw string, base *url.URL) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if Skippable(raw) {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, raw)
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformed, raw, err)
	}

	// Resolving against a base removes dot-segments; absolute inputs
	// without a base are resolved against an empty URL for the same
	// cleanup.
	var u *url.URL
	if base != nil {
		u = base.ResolveReference(ref)
	} else {
		u = (&url.URL{}).ResolveReference(ref)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme in %q", ErrMalformed, raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: no host in %q", ErrMalformed, raw)
	}

	u.Host = strings.ToLower(u.Host)
	u.Host = stripDefaultPort(u.Scheme, u.Host)

	if u.Path == "" {
		u.Path = "/"
	}

	// "?": an empty query is equivalent to no query at all.
	if u.ForceQuery && u.RawQuery == "" {
		u.ForceQuery = false
	}

	return u, nil
}

// stripDefaultPort removes :80 from http hosts and :443 from https hosts.
func stripDefaultPort(scheme, host string) string {
	switch scheme {
	case "http":
		return strings.TrimSuffix(host, ":80")
	case "https":
		return strings.TrimSuffix(host, ":443")
	default:
		return host
	}
}

// MustParse parses a canonical URL produced by Canonicalize back into a
// *url.URL. It panics on malformed input and is intended for URLs that
// already passed canonicalization.
func MustParse(canonical string) *url.URL {
	u, err := url.Parse(canonical)
	if err != nil {
		panic(fmt.Sprintf("urlx: canonical URL failed to parse: %q: %v", canonical, err))
	}
	return u
}
