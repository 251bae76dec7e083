package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// newTestFetcher builds a fetcher with fast retries for tests.
func newTestFetcher(srv *httptest.Server, opts ...Option) *Fetcher {
	base := []Option{WithRetryBase(time.Millisecond)}
	return New(srv.Client(), append(base, opts...)...)
}

// TestFetchSuccess tests the straightforward 200 path.
func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "test-agent" {
			t.Errorf("User-Agent = %q, want test-agent", got)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body>hello</body></html>")
	}))
	defer srv.Close()

	f := newTestFetcher(srv, WithUserAgent("test-agent"))
	res, err := f.Fetch(context.Background(), srv.URL+"/")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if res.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", res.StatusCode)
	}
	if res.ContentType != "text/html" {
		t.Errorf("ContentType = %q, want parameters stripped", res.ContentType)
	}
	if res.FinalURL != srv.URL+"/" {
		t.Errorf("FinalURL = %q, want requested URL", res.FinalURL)
	}
	if len(res.Chain) != 0 {
		t.Errorf("Chain = %v, want empty without redirects", res.Chain)
	}
	if !strings.Contains(string(res.Body), "hello") {
		t.Error("body not returned")
	}
}

// TestFetchRetriesServerErrors verifies 5xx responses are retried and
// that a late success wins.
func TestFetchRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "recovered")
	}))
	defer srv.Close()

	f := newTestFetcher(srv, WithMaxRetries(2))
	res, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch failed after retries: %v", err)
	}
	if string(res.Body) != "recovered" {
		t.Errorf("Body = %q, want the recovered response", res.Body)
	}
	if calls.Load() != 3 {
		t.Errorf("server saw %d requests, want 3", calls.Load())
	}
}

// TestFetchRetryBudgetExhausted verifies persistent failures surface as
// a typed error once the budget is spent.
func TestFetchRetryBudgetExhausted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := newTestFetcher(srv, WithMaxRetries(2))
	_, err := f.Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("Fetch should fail")
	}

	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("error type = %T, want *fetcher.Error", err)
	}
	if fe.Kind != KindHTTPError || fe.Status != http.StatusServiceUnavailable {
		t.Errorf("error = kind %v status %d, want http_error 503", fe.Kind, fe.Status)
	}
	if calls.Load() != 3 {
		t.Errorf("server saw %d requests, want initial attempt plus 2 retries", calls.Load())
	}
}

// TestFetchClientErrorNotRetried verifies a 404 fails on the first try.
func TestFetchClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newTestFetcher(srv, WithMaxRetries(3))
	_, err := f.Fetch(context.Background(), srv.URL+"/missing")

	var fe *Error
	if !errors.As(err, &fe) || fe.Status != http.StatusNotFound {
		t.Fatalf("error = %v, want typed 404", err)
	}
	if fe.Temporary() {
		t.Error("404 must not be temporary")
	}
	if calls.Load() != 1 {
		t.Errorf("server saw %d requests, want 1 (no retries)", calls.Load())
	}
}

// TestFetchFollowsRedirects verifies manual redirect following reports
// the final URL and the full chain.
func TestFetchFollowsRedirects(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "arrived")
	})

	f := newTestFetcher(srv)
	res, err := f.Fetch(context.Background(), srv.URL+"/a")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if res.FinalURL != srv.URL+"/final" {
		t.Errorf("FinalURL = %q, want the post-redirect URL", res.FinalURL)
	}
	want := []string{srv.URL + "/a", srv.URL + "/b"}
	if len(res.Chain) != len(want) {
		t.Fatalf("Chain = %v, want %v", res.Chain, want)
	}
	for i := range want {
		if res.Chain[i] != want[i] {
			t.Errorf("Chain[%d] = %q, want %q", i, res.Chain[i], want[i])
		}
	}
}

// TestFetchRedirectLoop verifies loop detection terminates the fetch.
func TestFetchRedirectLoop(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/y", http.StatusFound)
	})
	mux.HandleFunc("/y", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/x", http.StatusFound)
	})

	f := newTestFetcher(srv)
	_, err := f.Fetch(context.Background(), srv.URL+"/x")

	var fe *Error
	if !errors.As(err, &fe) || fe.Kind != KindRedirectLoop {
		t.Fatalf("error = %v, want redirect_loop", err)
	}
	if fe.Temporary() {
		t.Error("redirect loop must not be retried")
	}
}

// TestFetchBodyTooLarge verifies the size cap fails hard rather than
// truncating.
func TestFetchBodyTooLarge(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	f := newTestFetcher(srv, WithMaxBodySize(1024))
	_, err := f.Fetch(context.Background(), srv.URL)

	var fe *Error
	if !errors.As(err, &fe) || fe.Kind != KindTooLarge {
		t.Fatalf("error = %v, want too_large", err)
	}
}

// TestFetchMissingContentType verifies an absent Content-Type stays
// empty instead of being sniffed.
func TestFetchMissingContentType(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil // suppress sniffing
		w.Write([]byte{0x00, 0x01, 0x02})
	}))
	defer srv.Close()

	f := newTestFetcher(srv)
	res, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if res.ContentType != "" {
		t.Errorf("ContentType = %q, want empty", res.ContentType)
	}
}

// TestFetchContextCancelled verifies cancellation aborts the retry loop.
func TestFetchContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newTestFetcher(srv, WithMaxRetries(5))
	start := time.Now()
	_, err := f.Fetch(ctx, srv.URL)
	if err == nil {
		t.Fatal("Fetch should fail with a cancelled context")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Fetch kept retrying for %v after cancellation", elapsed)
	}
}

// TestFetchSendsConfiguredHeaders verifies extra headers and cookies
// reach the server.
func TestFetchSendsConfiguredHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Custom"); got != "yes" {
			t.Errorf("X-Custom = %q, want yes", got)
		}
		if got := r.Header.Get("Cookie"); got != "session=abc" {
			t.Errorf("Cookie = %q, want session=abc", got)
		}
	}))
	defer srv.Close()

	f := newTestFetcher(srv,
		WithHeaders(map[string]string{"X-Custom": "yes"}),
		WithCookie("session=abc"),
	)
	if _, err := f.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
}
