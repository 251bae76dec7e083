package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Result is a successfully fetched resource.
type Result struct {
	// Body is the full response body, capped at the configured size.
	Body []byte

	// ContentType is the response media type without parameters
	// ("text/html; charset=utf-8" becomes "text/html"). Empty when the
	// server sent no Content-Type header.
	ContentType string

	// FinalURL is the URL that actually answered, after redirects.
	FinalURL string

	// StatusCode is the status of the final response.
	StatusCode int

	// Chain lists every intermediate redirect URL, starting with the
	// requested URL. Empty when no redirect happened.
	Chain []string
}

// Fetcher downloads resources with retries, manual redirect following,
// and a response body size cap. It is safe for concurrent use.
type Fetcher struct {
	// client performs the requests. Its CheckRedirect is overridden so
	// redirects surface to the fetcher instead of being followed inside
	// the transport.
	client *http.Client

	// userAgent is sent on every request.
	userAgent string

	// maxBodySize caps response bodies; larger responses fail with
	// KindTooLarge rather than silently truncating.
	maxBodySize int64

	// maxRetries is the number of retries after the first attempt.
	maxRetries int

	// retryBase is the first backoff delay; it doubles per attempt.
	retryBase time.Duration

	// maxRedirects limits the redirect chain length.
	maxRedirects int

	// headers are extra headers sent on every request.
	headers map[string]string

	// cookie, when set, is sent as the Cookie header (for mirroring
	// pages behind session authentication).
	cookie string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithMaxBodySize sets the response body size cap in bytes.
func WithMaxBodySize(size int64) Option {
	return func(f *Fetcher) {
		f.maxBodySize = size
	}
}

// WithMaxRetries sets how many times a temporary failure is retried.
func WithMaxRetries(n int) Option {
	return func(f *Fetcher) {
		f.maxRetries = n
	}
}

// WithRetryBase sets the initial backoff delay between retries.
func WithRetryBase(d time.Duration) Option {
	return func(f *Fetcher) {
		f.retryBase = d
	}
}

// WithMaxRedirects sets the redirect chain hop limit.
func WithMaxRedirects(n int) Option {
	return func(f *Fetcher) {
		f.maxRedirects = n
	}
}

// WithHeaders sets extra request headers sent on every fetch.
func WithHeaders(h map[string]string) Option {
	return func(f *Fetcher) {
		f.headers = h
	}
}

// WithCookie sets the Cookie header sent on every fetch.
func WithCookie(cookie string) Option {
	return func(f *Fetcher) {
		f.cookie = cookie
	}
}

// New creates a Fetcher around the given HTTP client.
//
// Design decision: We require an external client because:
//  1. Timeouts and proxies are the caller's configuration concern
//  2. Tests inject httptest server clients directly
//  3. One client is shared across all workers, pooling connections
func New(client *http.Client, opts ...Option) *Fetcher {
	// Copy the client so disabling its redirect following does not
	// surprise other users of the same client.
	c := *client
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	f := &Fetcher{
		client:       &c,
		userAgent:    "webmirror/1.0",
		maxBodySize:  5 * 1024 * 1024, // 5MB
		maxRetries:   2,
		retryBase:    500 * time.Millisecond,
		maxRedirects: 10,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads one resource. Temporary failures (connection errors,
// timeouts, 5xx and 429 responses) are retried with exponential backoff
// up to the retry budget; other failures return immediately. On failure
// the returned error is always a *fetcher.Error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: base, 2*base, 4*base, ...
			wait := f.retryBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, &Error{URL: rawURL, Kind: KindTimeout, Err: ctx.Err()}
			case <-time.After(wait):
			}
		}

		res, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			return res, nil
		}

		lastErr = err
		var fe *Error
		if !errors.As(err, &fe) || !fe.Temporary() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

// fetchOnce performs a single attempt, following redirects manually so
// the whole chain is visible in the result.
func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (*Result, error) {
	current := rawURL
	var chain []string
	seen := map[string]bool{rawURL: true}

	for hop := 0; ; hop++ {
		if hop > f.maxRedirects {
			return nil, &Error{
				URL:  rawURL,
				Kind: KindRedirectLoop,
				Err:  fmt.Errorf("more than %d redirects", f.maxRedirects),
			}
		}

		resp, err := f.do(ctx, current)
		if err != nil {
			return nil, &Error{URL: rawURL, Kind: classifyTransport(err), Err: err}
		}

		if isRedirect(resp.StatusCode) {
			next, err := redirectTarget(resp)
			// The body of a redirect response is irrelevant; drain a
			// little so the connection can be reused, then close.
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
			resp.Body.Close()
			if err != nil {
				return nil, &Error{URL: rawURL, Kind: KindRedirectLoop, Err: err}
			}
			if seen[next] {
				return nil, &Error{
					URL:  rawURL,
					Kind: KindRedirectLoop,
					Err:  fmt.Errorf("redirect loop through %s", next),
				}
			}
			seen[next] = true
			chain = append(chain, current)
			current = next
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
			resp.Body.Close()
			return nil, &Error{URL: rawURL, Kind: KindHTTPError, Status: resp.StatusCode}
		}

		body, err := f.readBody(resp)
		resp.Body.Close()
		if err != nil {
			if errors.Is(err, errBodyTooLarge) {
				return nil, &Error{URL: rawURL, Kind: KindTooLarge, Err: err}
			}
			return nil, &Error{URL: rawURL, Kind: classifyTransport(err), Err: err}
		}

		return &Result{
			Body:        body,
			ContentType: mediaType(resp.Header.Get("Content-Type")),
			FinalURL:    current,
			StatusCode:  resp.StatusCode,
			Chain:       chain,
		}, nil
	}
}

// do builds and performs one GET request.
func (f *Fetcher) do(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}
	if f.cookie != "" {
		req.Header.Set("Cookie", f.cookie)
	}

	return f.client.Do(req)
}

// errBodyTooLarge marks a response that exceeded the size cap.
var errBodyTooLarge = errors.New("response body exceeds size limit")

// readBody reads the response body up to the cap, failing hard instead
// of truncating: half an HTML page would rewrite into a broken mirror.
func (f *Fetcher) readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > f.maxBodySize {
		return nil, errBodyTooLarge
	}
	return body, nil
}

// isRedirect reports whether a status code redirects with a Location.
func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

// redirectTarget resolves the Location header against the response URL.
func redirectTarget(resp *http.Response) (string, error) {
	loc, err := resp.Location()
	if err != nil {
		return "", fmt.Errorf("redirect without location: %w", err)
	}
	return loc.String(), nil
}

// mediaType strips parameters from a Content-Type header value.
func mediaType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
