package crawler

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"

	"github.com/webmirror/webmirror/internal/fetcher"
)

// robotsGuard caches per-host robots.txt verdicts for one crawl run.
//
// Failure semantics follow crawling convention: a 401 or 403 on
// robots.txt means the host forbids crawling entirely, a missing file
// (404) allows everything, and a connection failure is treated as
// allow-all so a flaky robots endpoint cannot wedge the whole mirror.
type robotsGuard struct {
	fetch     *fetcher.Fetcher
	userAgent string

	// wait claims the host's next request slot before the robots.txt
	// fetch, so even the very first request pair to a host observes the
	// politeness delay. A nil wait skips rate limiting.
	wait func(ctx context.Context, host string) error

	mu    sync.Mutex
	cache map[string]*robotstxt.RobotsData
}

func newRobotsGuard(fetch *fetcher.Fetcher, userAgent string, wait func(ctx context.Context, host string) error) *robotsGuard {
	return &robotsGuard{
		fetch:     fetch,
		userAgent: userAgent,
		wait:      wait,
		cache:     make(map[string]*robotstxt.RobotsData),
	}
}

// allowed reports whether robots.txt permits fetching the URL.
func (g *robotsGuard) allowed(ctx context.Context, u *url.URL) bool {
	data := g.dataFor(ctx, u)
	if data == nil {
		return true
	}
	p := u.Path
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return data.TestAgent(p, g.userAgent)
}

// dataFor returns the cached robots data for the URL's host, fetching
// it on first use. A nil return means allow-all.
func (g *robotsGuard) dataFor(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	key := u.Scheme + "://" + u.Host

	g.mu.Lock()
	if data, ok := g.cache[key]; ok {
		g.mu.Unlock()
		return data
	}
	g.mu.Unlock()

	if g.wait != nil {
		if err := g.wait(ctx, u.Host); err != nil {
			// Cancelled while waiting; do not cache, the caller's own
			// context check ends the crawl.
			return nil
		}
	}

	data := g.fetchRobots(ctx, key+"/robots.txt")

	g.mu.Lock()
	// A concurrent fetch for the same host may have won; keep the first.
	if cached, ok := g.cache[key]; ok {
		data = cached
	} else {
		g.cache[key] = data
	}
	g.mu.Unlock()

	return data
}

// fetchRobots downloads and parses one robots.txt.
func (g *robotsGuard) fetchRobots(ctx context.Context, robotsURL string) *robotstxt.RobotsData {
	res, err := g.fetch.Fetch(ctx, robotsURL)
	if err != nil {
		var fe *fetcher.Error
		if errors.As(err, &fe) && fe.Kind == fetcher.KindHTTPError {
			// FromStatusAndBytes encodes the convention: 4xx allows all
			// except 401/403 which disallow all, 5xx disallows all.
			data, perr := robotstxt.FromStatusAndBytes(fe.Status, nil)
			if perr == nil {
				return data
			}
		}
		// Unreachable robots endpoint: allow everything.
		return nil
	}

	data, err := robotstxt.FromStatusAndBytes(res.StatusCode, res.Body)
	if err != nil {
		return nil
	}
	return data
}
