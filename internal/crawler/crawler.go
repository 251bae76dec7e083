package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/webmirror/webmirror/internal/extractor"
	"github.com/webmirror/webmirror/internal/fetcher"
	"github.com/webmirror/webmirror/internal/model"
	"github.com/webmirror/webmirror/internal/pathmap"
	"github.com/webmirror/webmirror/internal/registry"
	"github.com/webmirror/webmirror/internal/rewriter"
	"github.com/webmirror/webmirror/internal/urlx"
)

// Crawler mirrors a website into a local directory tree.
//
// A Crawler is configuration only; all per-run state (registry, path
// mapper, queue) lives inside Run, so one Crawler can serve several
// runs.
type Crawler struct {
	// fetch downloads individual resources.
	fetch *fetcher.Fetcher

	// logger receives structured progress events.
	logger *slog.Logger

	// workers bounds concurrent fetches.
	workers int

	// maxDepth limits how many page links deep the crawl goes from the
	// root. 0 means only the root page. Asset references (images,
	// stylesheets, scripts) are fetched regardless of depth so the last
	// page layer still renders.
	maxDepth int

	// maxPages caps the number of admitted resources.
	maxPages int

	// delay is the per-host politeness delay between requests.
	delay time.Duration

	// userAgent identifies the crawler to robots.txt.
	userAgent string

	// bypassRobots disables robots.txt checks.
	bypassRobots bool

	// extraHosts are allowed in addition to the root URL's host.
	extraHosts []string

	// includePatterns and excludePatterns filter URL paths.
	includePatterns []string
	excludePatterns []string

	// provenance controls the comment stamped on mirrored pages.
	provenance bool

	// now supplies timestamps for the summary and the provenance comment.
	now func() time.Time
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Crawler) {
		c.logger = l
	}
}

// WithWorkers sets the number of concurrent fetch workers.
func WithWorkers(n int) Option {
	return func(c *Crawler) {
		c.workers = n
	}
}

// WithMaxDepth sets the maximum page link depth.
// 0 = only the starting page, 1 = starting page plus linked pages, etc.
func WithMaxDepth(depth int) Option {
	return func(c *Crawler) {
		c.maxDepth = depth
	}
}

// WithMaxPages caps the number of resources admitted to the crawl.
func WithMaxPages(n int) Option {
	return func(c *Crawler) {
		c.maxPages = n
	}
}

// WithDelay sets the per-host politeness delay between requests.
func WithDelay(d time.Duration) Option {
	return func(c *Crawler) {
		c.delay = d
	}
}

// WithUserAgent sets the agent name matched against robots.txt rules
// and stamped into the page provenance comment.
func WithUserAgent(ua string) Option {
	return func(c *Crawler) {
		c.userAgent = ua
	}
}

// WithBypassRobots disables robots.txt checking.
func WithBypassRobots(bypass bool) Option {
	return func(c *Crawler) {
		c.bypassRobots = bypass
	}
}

// WithAllowedHosts permits hosts beyond the root URL's own.
func WithAllowedHosts(hosts []string) Option {
	return func(c *Crawler) {
		c.extraHosts = hosts
	}
}

// WithIncludePatterns restricts the crawl to matching URL paths.
func WithIncludePatterns(patterns []string) Option {
	return func(c *Crawler) {
		c.includePatterns = patterns
	}
}

// WithExcludePatterns skips matching URL paths.
func WithExcludePatterns(patterns []string) Option {
	return func(c *Crawler) {
		c.excludePatterns = patterns
	}
}

// WithProvenance toggles the provenance comment on mirrored pages.
func WithProvenance(on bool) Option {
	return func(c *Crawler) {
		c.provenance = on
	}
}

// WithNow overrides the clock, for reproducible output in tests.
func WithNow(now func() time.Time) Option {
	return func(c *Crawler) {
		c.now = now
	}
}

// New creates a Crawler around the given fetcher.
func New(fetch *fetcher.Fetcher, opts ...Option) *Crawler {
	c := &Crawler{
		fetch:      fetch,
		logger:     slog.New(slog.DiscardHandler),
		workers:    4,
		maxDepth:   3,
		maxPages:   500,
		userAgent:  "webmirror/1.0",
		provenance: true,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// run bundles the per-run state shared by the workers.
type run struct {
	c         *Crawler
	registry  *registry.Registry
	mapper    *pathmap.Mapper
	scope     *Scope
	robots    *robotsGuard
	limiter   *hostLimiter
	queue     *workQueue
	outputDir string

	admitMu  sync.Mutex
	admitted int

	skipped atomic.Int64
}

// Run mirrors the site rooted at rootURL into outputDir and returns a
// summary of every admitted resource.
//
// Per-resource failures never abort the run; they are recorded on the
// resource and counted in the summary. Run returns an error only for
// conditions that invalidate the whole mirror: an unusable root URL or
// an output directory that cannot be created. Cancelling the context
// stops fetching; resources already on disk remain valid and are still
// rewritten, and the summary reports the run as aborted.
func (c *Crawler) Run(ctx context.Context, rootURL, outputDir string) (*model.Summary, error) {
	rootCanonical, err := urlx.Canonicalize(rootURL, nil)
	if err != nil {
		return nil, fmt.Errorf("crawler: invalid root URL %q: %w", rootURL, err)
	}
	root := urlx.MustParse(rootCanonical)

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("crawler: create output directory: %w", err)
	}

	hosts := append([]string{root.Host}, c.extraHosts...)
	limiter := newHostLimiter(c.delay)
	r := &run{
		c:         c,
		registry:  registry.New(),
		mapper:    pathmap.New(),
		scope:     NewScope(hosts, c.includePatterns, c.excludePatterns),
		robots:    newRobotsGuard(c.fetch, c.userAgent, limiter.wait),
		limiter:   limiter,
		queue:     newWorkQueue(),
		outputDir: outputDir,
	}

	startedAt := c.now()
	c.logger.Info("crawl started",
		slog.String("url", rootCanonical),
		slog.String("output", outputDir),
		slog.Int("workers", c.workers))

	r.admit(rootCanonical, 0)

	// Unblock queue.pop when the context is cancelled.
	stopWatch := context.AfterFunc(ctx, r.queue.abort)
	defer stopWatch()

	var g errgroup.Group
	for range c.workers {
		g.Go(func() error {
			r.work(ctx)
			return nil
		})
	}
	// The pool drains the queue completely before Wait returns; this is
	// the barrier between the fetch phase and the write phase.
	g.Wait() //nolint:errcheck

	r.assignPaths()
	r.writeAll()

	summary := r.summarize(rootCanonical, startedAt, ctx.Err() != nil)
	c.logger.Info("crawl finished",
		slog.String("state", summary.State),
		slog.Int("done", summary.Done),
		slog.Int("failed", summary.Failed),
		slog.Int("skipped", summary.Skipped),
		slog.Duration("duration", summary.Duration()))
	return summary, nil
}

// work is one worker's loop: pop, process, repeat until the queue
// reports completion.
func (r *run) work(ctx context.Context) {
	for {
		rec := r.queue.pop()
		if rec == nil {
			return
		}
		r.process(ctx, rec)
		r.queue.finish()
	}
}

// admit runs scope and budget policy on a canonical URL and, when it
// passes, registers it and queues the fetch. Rejections count as
// skipped; duplicates are silently ignored.
func (r *run) admit(canonical string, depth int) {
	u := urlx.MustParse(canonical)

	if !r.scope.Allows(u) {
		r.skipped.Add(1)
		return
	}

	r.admitMu.Lock()
	if r.c.maxPages > 0 && r.admitted >= r.c.maxPages {
		r.admitMu.Unlock()
		r.skipped.Add(1)
		return
	}
	rec, admitted := r.registry.TryAdmit(canonical, depth)
	if admitted {
		r.admitted++
	}
	r.admitMu.Unlock()

	if admitted {
		r.queue.push(rec)
	}
}

// process fetches one admitted resource, buffers it, and admits the
// links it references.
func (r *run) process(ctx context.Context, rec *model.Resource) {
	if ctx.Err() != nil {
		return // leave pending; the run is aborting
	}

	u := urlx.MustParse(rec.URL)
	log := r.c.logger.With(slog.String("url", rec.URL))

	if !r.c.bypassRobots && !r.robots.allowed(ctx, u) {
		rec.MarkFailed("disallowed by robots.txt")
		log.Warn("skipping fetch", slog.String("reason", "robots.txt"))
		return
	}

	if err := r.limiter.wait(ctx, u.Host); err != nil {
		return // cancelled while waiting for the rate slot
	}

	rec.MarkFetching()
	res, err := r.c.fetch.Fetch(ctx, rec.URL)
	if err != nil {
		rec.MarkFailed(err.Error())
		log.Warn("fetch failed", slog.String("error", err.Error()))
		return
	}

	rec, u = r.applyRedirects(rec, res)
	if rec == nil {
		return
	}

	rec.StatusCode = res.StatusCode
	rec.ContentType = res.ContentType
	rec.Kind = model.KindFromContentType(res.ContentType)

	// The body stays buffered until the write phase. Local paths are not
	// assigned here: that would hand the unsuffixed name of a colliding
	// path to whichever fetch happens to finish first.
	rec.Body = res.Body
	rec.MarkDone()

	log.Info("fetched",
		slog.String("kind", rec.Kind.String()),
		slog.Int("bytes", len(res.Body)))

	if rec.Kind.Extractable() {
		r.admitLinks(rec, u, res.Body, res.ContentType)
	}
}

// applyRedirects reconciles the registry with the final URL of a fetch.
// Every hop of the chain becomes an alias of the final URL so documents
// linking to any hop rewrite to the same local file. A nil return means
// another record already owns the final URL, or the redirect left the
// mirror scope.
func (r *run) applyRedirects(rec *model.Resource, res *fetcher.Result) (*model.Resource, *url.URL) {
	finalCanonical, err := urlx.Canonicalize(res.FinalURL, nil)
	if err != nil {
		rec.MarkFailed(fmt.Sprintf("unusable redirect target: %v", err))
		return nil, nil
	}

	if finalCanonical == rec.URL {
		return rec, urlx.MustParse(rec.URL)
	}

	survivor, owned := r.registry.Forward(rec, finalCanonical)
	for _, hop := range res.Chain {
		if hc, err := urlx.Canonicalize(hop, nil); err == nil {
			r.registry.Alias(hc, finalCanonical)
		}
	}
	if !owned {
		// The final URL was fetched (or is being fetched) under its own
		// admission; this fetch only contributed the aliases.
		return nil, nil
	}

	u := urlx.MustParse(survivor.URL)
	if !r.scope.Allows(u) {
		survivor.MarkFailed("redirected out of mirror scope")
		r.c.logger.Warn("redirect left scope",
			slog.String("url", rec.URL),
			slog.String("target", survivor.URL))
		return nil, nil
	}
	return survivor, u
}

// admitLinks extracts references from a fetched document and admits the
// in-scope ones. Page links respect the depth limit; asset references
// are admitted regardless so mirrored pages render completely.
func (r *run) admitLinks(rec *model.Resource, docURL *url.URL, body []byte, contentType string) {
	for _, link := range extractor.Extract(body, contentType, docURL) {
		if link.Kind == model.KindPage && rec.Depth >= r.c.maxDepth {
			r.skipped.Add(1)
			continue
		}
		r.admit(link.URL, rec.Depth+1)
	}
}

// assignPaths maps every fetched resource to its local path, walking
// the registry in admission order. Assigning paths at this single point
// rather than per fetch keeps collision suffixes independent of fetch
// completion order: the first-discovered of two URLs deriving the same
// path always wins the unsuffixed name, run after run.
func (r *run) assignPaths() {
	for _, rec := range r.registry.Snapshot() {
		if rec.State != model.StateDone {
			continue
		}
		local, err := r.mapper.Resolve(rec.URL, rec.ContentType)
		if err != nil {
			rec.MarkFailed(err.Error())
			continue
		}
		rec.LocalPath = local
	}
}

// writeAll is the second phase: once every fetch reached a terminal
// state and every path is assigned, rewrite the buffered pages and
// stylesheets against the now complete URL-to-path mapping and write
// every fetched body out.
func (r *run) writeAll() {
	resolve := func(canonical string) (string, bool) {
		rec, ok := r.registry.Lookup(canonical)
		if !ok || rec.State != model.StateDone || rec.LocalPath == "" {
			return "", false
		}
		return rec.LocalPath, true
	}

	rw := rewriter.New(resolve,
		rewriter.WithSignature(r.c.userAgent),
		rewriter.WithProvenance(r.c.provenance),
		rewriter.WithNow(r.c.now),
	)

	for _, rec := range r.registry.Snapshot() {
		if rec.State != model.StateDone || rec.Body == nil {
			continue
		}

		out := rec.Body
		if rec.Kind.Rewritable() {
			var err error
			out, err = rw.Rewrite(rec.Body, rec.ContentType, urlx.MustParse(rec.URL), rec.LocalPath)
			if err != nil {
				rec.MarkFailed(err.Error())
				r.c.logger.Warn("rewrite failed",
					slog.String("url", rec.URL),
					slog.String("error", err.Error()))
				continue
			}
		}
		if err := r.writeFile(rec.LocalPath, out); err != nil {
			rec.MarkFailed(err.Error())
			r.c.logger.Warn("write failed",
				slog.String("url", rec.URL),
				slog.String("error", err.Error()))
			continue
		}
		rec.ReleaseBody()
	}
}

// writeFile writes one mirrored file under the output root.
func (r *run) writeFile(local string, body []byte) error {
	p := filepath.Join(r.outputDir, filepath.FromSlash(local))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, body, 0o644)
}

// summarize builds the run summary from the registry snapshot.
func (r *run) summarize(rootURL string, startedAt time.Time, aborted bool) *model.Summary {
	s := &model.Summary{
		RootURL:    rootURL,
		OutputDir:  r.outputDir,
		State:      model.RunCompleted,
		StartedAt:  startedAt,
		FinishedAt: r.c.now(),
		Skipped:    int(r.skipped.Load()),
		Resources:  r.registry.Snapshot(),
	}
	if aborted {
		s.State = model.RunAborted
	}
	for _, rec := range s.Resources {
		switch rec.State {
		case model.StateDone:
			s.Done++
		case model.StateFailed:
			s.Failed++
		}
	}
	return s
}
