package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/webmirror/webmirror/internal/fetcher"
	"github.com/webmirror/webmirror/internal/model"
)

// newTestCrawler wires a crawler to an httptest server with settings
// suited to fast tests.
func newTestCrawler(srv *httptest.Server, opts ...Option) *Crawler {
	f := fetcher.New(srv.Client(), fetcher.WithRetryBase(time.Millisecond))
	base := []Option{WithWorkers(3), WithProvenance(false)}
	return New(f, append(base, opts...)...)
}

// readMirror reads one file from the mirror tree.
func readMirror(t *testing.T, dir, local string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(local)))
	if err != nil {
		t.Fatalf("mirrored file %s: %v", local, err)
	}
	return string(b)
}

// siteHost returns the host directory name of an httptest server.
func siteHost(srv *httptest.Server) string {
	return strings.ReplaceAll(strings.TrimPrefix(srv.URL, "http://"), ":", "_")
}

// TestRunMirrorsSite is the end-to-end happy path: pages, a stylesheet,
// an image, and an external link.
func TestRunMirrorsSite(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><link rel="stylesheet" href="/css/main.css"></head>
<body><a href="/about.html">About</a>
<a href="https://external.example.org/page">External</a>
<img src="/img/logo.png"></body></html>`)
	})
	mux.HandleFunc("/about.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/">Home</a></body></html>`)
	})
	mux.HandleFunc("/css/main.css", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		fmt.Fprint(w, `body { background: url(/img/logo.png); }`)
	})
	mux.HandleFunc("/img/logo.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 'P', 'N', 'G'})
	})

	dir := t.TempDir()
	c := newTestCrawler(srv)
	sum, err := c.Run(context.Background(), srv.URL, dir)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if sum.State != model.RunCompleted {
		t.Errorf("State = %q, want completed", sum.State)
	}
	if sum.Done != 4 {
		t.Errorf("Done = %d, want 4 (root, about, css, image)", sum.Done)
	}
	if sum.Failed != 0 {
		t.Errorf("Failed = %d, want 0", sum.Failed)
	}
	// Only the external link should be skipped.
	if sum.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", sum.Skipped)
	}

	host := siteHost(srv)
	index := readMirror(t, dir, host+"/index.html")
	if !strings.Contains(index, `href="about.html"`) {
		t.Errorf("page link not rewritten relative:\n%s", index)
	}
	if !strings.Contains(index, `href="css/main.css"`) {
		t.Errorf("stylesheet link not rewritten:\n%s", index)
	}
	if !strings.Contains(index, `src="img/logo.png"`) {
		t.Errorf("image link not rewritten:\n%s", index)
	}
	if !strings.Contains(index, `href="https://external.example.org/page"`) {
		t.Errorf("external link should stay absolute:\n%s", index)
	}

	about := readMirror(t, dir, host+"/about.html")
	if !strings.Contains(about, `href="index.html"`) {
		t.Errorf("back link not rewritten to the root's local file:\n%s", about)
	}

	css := readMirror(t, dir, host+"/css/main.css")
	if !strings.Contains(css, "url(../img/logo.png)") {
		t.Errorf("stylesheet url() not rewritten:\n%s", css)
	}
}

// TestRunCollisionPathsFollowDiscoveryOrder verifies that two URLs
// deriving the same local file name keep the same mapping no matter
// which fetch finishes first: the first-discovered link always wins the
// unsuffixed name, so repeated runs of the same site produce the same
// file tree.
func TestRunCollisionPathsFollowDiscoveryOrder(t *testing.T) {
	t.Parallel()

	// mirror crawls a root linking /p?x=1 then /p?x=2 (both derive
	// p.html) with the fetch of one variant slowed down, and returns the
	// query-to-file-name mapping.
	mirror := func(t *testing.T, slowQuery string) map[string]string {
		t.Helper()

		mux := http.NewServeMux()
		srv := httptest.NewServer(mux)
		defer srv.Close()

		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<html><body><a href="/p?x=1">one</a><a href="/p?x=2">two</a></body></html>`)
		})
		mux.HandleFunc("/p", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.RawQuery == slowQuery {
				time.Sleep(300 * time.Millisecond)
			}
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<html><body>variant</body></html>`)
		})

		sum, err := newTestCrawler(srv).Run(context.Background(), srv.URL, t.TempDir())
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		files := make(map[string]string)
		for _, rec := range sum.Resources {
			if i := strings.Index(rec.URL, "?"); i >= 0 {
				files[rec.URL[i+1:]] = path.Base(rec.LocalPath)
			}
		}
		return files
	}

	slowSecond := mirror(t, "x=2")
	slowFirst := mirror(t, "x=1")

	for _, files := range []map[string]string{slowSecond, slowFirst} {
		if files["x=1"] != "p.html" {
			t.Errorf("first-discovered variant mapped to %q, want p.html (mapping: %v)", files["x=1"], files)
		}
		if files["x=2"] == "" || files["x=2"] == "p.html" {
			t.Errorf("second variant mapped to %q, want a suffixed name", files["x=2"])
		}
	}
	if slowSecond["x=2"] != slowFirst["x=2"] {
		t.Errorf("mapping depends on fetch completion order: %q vs %q",
			slowSecond["x=2"], slowFirst["x=2"])
	}
}

// TestRunTerminatesOnCycles verifies mutually linking pages finish.
func TestRunTerminatesOnCycles(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	page := func(link string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprintf(w, `<html><body><a href=%q>next</a></body></html>`, link)
		}
	}
	mux.HandleFunc("/", page("/a"))
	mux.HandleFunc("/a", page("/b"))
	mux.HandleFunc("/b", page("/"))

	c := newTestCrawler(srv)
	done := make(chan *model.Summary, 1)
	go func() {
		sum, err := c.Run(context.Background(), srv.URL, t.TempDir())
		if err != nil {
			t.Errorf("Run failed: %v", err)
		}
		done <- sum
	}()

	select {
	case sum := <-done:
		if sum == nil {
			return
		}
		if sum.Done != 3 {
			t.Errorf("Done = %d, want 3", sum.Done)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("crawl of a cyclic site did not terminate")
	}
}

// TestRunContinuesPastFailures verifies one broken resource does not
// abort the run and its link is absolutized.
func TestRunContinuesPastFailures(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><img src="/missing.png"><a href="/ok.html">ok</a></body></html>`)
	})
	mux.HandleFunc("/ok.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>fine</body></html>`)
	})

	dir := t.TempDir()
	c := newTestCrawler(srv)
	sum, err := c.Run(context.Background(), srv.URL, dir)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if sum.Done != 2 || sum.Failed != 1 {
		t.Errorf("Done/Failed = %d/%d, want 2/1", sum.Done, sum.Failed)
	}

	index := readMirror(t, dir, siteHost(srv)+"/index.html")
	if !strings.Contains(index, `src="`+srv.URL+`/missing.png"`) {
		t.Errorf("failed resource should be absolutized to the live URL:\n%s", index)
	}
}

// TestRunRedirects verifies a redirect produces one record keyed by the
// final URL, with links to the old URL rewritten to the same file.
func TestRunRedirects(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/old">page</a></body></html>`)
	})
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new.html", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>moved here</body></html>`)
	})

	dir := t.TempDir()
	c := newTestCrawler(srv)
	sum, err := c.Run(context.Background(), srv.URL, dir)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if sum.Done != 2 {
		t.Errorf("Done = %d, want 2 (root and redirect target)", sum.Done)
	}
	for _, rec := range sum.Resources {
		if strings.HasSuffix(rec.URL, "/old") {
			t.Errorf("pre-redirect URL still owns a record: %+v", rec)
		}
	}

	index := readMirror(t, dir, siteHost(srv)+"/index.html")
	if !strings.Contains(index, `href="new.html"`) {
		t.Errorf("link to pre-redirect URL not rewritten to final local file:\n%s", index)
	}
}

// TestRunRespectsRobots verifies robots.txt blocking and its bypass.
func TestRunRespectsRobots(t *testing.T) {
	t.Parallel()

	newSite := func() *httptest.Server {
		mux := http.NewServeMux()
		mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
		})
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<html><body><a href="/private.html">secret</a></body></html>`)
		})
		mux.HandleFunc("/private.html", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<html><body>private</body></html>`)
		})
		return httptest.NewServer(mux)
	}

	t.Run("blocked", func(t *testing.T) {
		t.Parallel()
		srv := newSite()
		defer srv.Close()

		sum, err := newTestCrawler(srv).Run(context.Background(), srv.URL, t.TempDir())
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		var private *model.Resource
		for _, rec := range sum.Resources {
			if strings.HasSuffix(rec.URL, "/private.html") {
				private = rec
			}
		}
		if private == nil {
			t.Fatal("private page was never admitted")
		}
		if private.State != model.StateFailed || !strings.Contains(private.Error, "robots") {
			t.Errorf("private page = %s (%q), want failed by robots", private.State, private.Error)
		}
	})

	t.Run("bypassed", func(t *testing.T) {
		t.Parallel()
		srv := newSite()
		defer srv.Close()

		dir := t.TempDir()
		sum, err := newTestCrawler(srv, WithBypassRobots(true)).Run(context.Background(), srv.URL, dir)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if sum.Failed != 0 {
			t.Errorf("Failed = %d, want 0 with robots bypassed", sum.Failed)
		}
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(siteHost(srv)+"/private.html"))); err != nil {
			t.Errorf("private page not mirrored with robots bypassed: %v", err)
		}
	})
}

// TestRunDepthLimit verifies page links stop at the depth limit while
// asset references are still fetched.
func TestRunDepthLimit(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/deep.html">deep</a><img src="/pic.png"></body></html>`)
	})
	mux.HandleFunc("/deep.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>deep</body></html>`)
	})
	mux.HandleFunc("/pic.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{1, 2, 3})
	})

	sum, err := newTestCrawler(srv, WithMaxDepth(0)).Run(context.Background(), srv.URL, t.TempDir())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if sum.Done != 2 {
		t.Errorf("Done = %d, want 2 (root page and its image)", sum.Done)
	}
	for _, rec := range sum.Resources {
		if strings.HasSuffix(rec.URL, "/deep.html") {
			t.Error("page beyond the depth limit was admitted")
		}
	}
	if sum.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1 for the too-deep page link", sum.Skipped)
	}
}

// TestRunMaxPages verifies the page budget stops admission.
func TestRunMaxPages(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		for i := 0; i < 20; i++ {
			fmt.Fprintf(w, `<a href="/p%d.html">p</a>`, i)
		}
	})
	sum, err := newTestCrawler(srv, WithMaxPages(5)).Run(context.Background(), srv.URL, t.TempDir())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if total := sum.Done + sum.Failed; total > 5 {
		t.Errorf("admitted %d resources, budget is 5", total)
	}
	if sum.Skipped == 0 {
		t.Error("links over the budget should count as skipped")
	}
}

// TestRunExcludePatterns verifies excluded paths are never fetched.
func TestRunExcludePatterns(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/admin/panel.html">admin</a><a href="/ok.html">ok</a></body></html>`)
	})
	mux.HandleFunc("/ok.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>ok</body></html>`)
	})
	mux.HandleFunc("/admin/", func(w http.ResponseWriter, r *http.Request) {
		t.Error("excluded path was fetched")
	})

	sum, err := newTestCrawler(srv, WithExcludePatterns([]string{"/admin/*"})).
		Run(context.Background(), srv.URL, t.TempDir())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Done != 2 {
		t.Errorf("Done = %d, want 2", sum.Done)
	}
	if sum.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1 for the excluded link", sum.Skipped)
	}
}

// TestRunCancellation verifies a cancelled context aborts the run while
// keeping what was already mirrored.
func TestRunCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	defer close(release)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		for i := 0; i < 50; i++ {
			fmt.Fprintf(w, `<a href="/slow%d.html">s</a>`, i)
		}
	})
	for i := 0; i < 50; i++ {
		mux.HandleFunc(fmt.Sprintf("/slow%d.html", i), func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	sum, err := newTestCrawler(srv, WithWorkers(2)).Run(ctx, srv.URL, t.TempDir())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.State != model.RunAborted {
		t.Errorf("State = %q, want aborted", sum.State)
	}
}

// TestScopeAllows tests host, include, and exclude policy.
func TestScopeAllows(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		scope *Scope
		url   string
		want  bool
	}{
		{
			name:  "same host allowed",
			scope: NewScope([]string{"example.com"}, nil, nil),
			url:   "http://example.com/x",
			want:  true,
		},
		{
			name:  "other host rejected",
			scope: NewScope([]string{"example.com"}, nil, nil),
			url:   "http://cdn.example.com/x",
			want:  false,
		},
		{
			name:  "extra host allowed",
			scope: NewScope([]string{"example.com", "cdn.example.com"}, nil, nil),
			url:   "http://cdn.example.com/x",
			want:  true,
		},
		{
			name:  "exclude wins",
			scope: NewScope([]string{"example.com"}, nil, []string{"/admin/*"}),
			url:   "http://example.com/admin/users",
			want:  false,
		},
		{
			name:  "include restricts",
			scope: NewScope([]string{"example.com"}, []string{"/docs/*"}, nil),
			url:   "http://example.com/blog/post",
			want:  false,
		},
		{
			name:  "include matches",
			scope: NewScope([]string{"example.com"}, []string{"/docs/*"}, nil),
			url:   "http://example.com/docs/intro",
			want:  true,
		},
		{
			name:  "extension exclude",
			scope: NewScope([]string{"example.com"}, nil, []string{"*.pdf"}),
			url:   "http://example.com/files/manual.pdf",
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			u, err := url.Parse(tt.url)
			if err != nil {
				t.Fatalf("parse %q: %v", tt.url, err)
			}
			if got := tt.scope.Allows(u); got != tt.want {
				t.Errorf("Allows(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}
