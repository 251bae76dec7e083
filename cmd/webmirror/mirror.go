package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/webmirror/webmirror/internal/config"
	"github.com/webmirror/webmirror/internal/crawler"
	"github.com/webmirror/webmirror/internal/fetcher"
	"github.com/webmirror/webmirror/internal/log"
	"github.com/webmirror/webmirror/internal/manifest"
	"github.com/webmirror/webmirror/internal/pipeline"
	"github.com/webmirror/webmirror/internal/report"
	"github.com/webmirror/webmirror/internal/urlx"
)

// NewMirrorCmd creates the mirror command.
func NewMirrorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror [url...]",
		Short: "Download a website into a browsable local directory",
		Long: `Mirror downloads a website into a local directory tree.

It crawls pages within the site's host, downloads pages, stylesheets,
scripts, and images, and rewrites the links between downloaded files
to relative paths so the mirror works offline. Links to resources that
were not downloaded are rewritten to absolute URLs pointing at the
live site.

Examples:
  # Mirror a site into a directory named after its host
  webmirror mirror https://example.com

  # Mirror into a specific directory
  webmirror mirror -o ./archive https://example.com

  # Mirror several sites concurrently
  webmirror mirror -o ./archive https://a.example https://b.example

  # Limit the crawl to two link levels and 100 resources
  webmirror mirror -d 2 -p 100 https://example.com

  # Output a JSON report to a file
  webmirror mirror --json --report run.json https://example.com

Configuration file (.webmirror) example:
  sites:
    docs.example.com:
      cookie: "session_id=abc123"
      headers:
        Authorization: "Bearer token"
      depth: 5
      excludePatterns:
        - "/search/*"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runMirrorCmd,
	}

	// Output flags
	cmd.Flags().StringP("output", "o", "",
		"Output directory (default: a directory named after the site host)")

	// Crawl behavior flags
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Connection timeout for each request")
	cmd.Flags().IntP("depth", "d", config.DefaultCrawlDepth,
		"Maximum page link depth from the starting URL")
	cmd.Flags().IntP("max-pages", "p", config.DefaultMaxPages,
		"Maximum number of resources downloaded per site")
	cmd.Flags().IntP("workers", "w", config.DefaultWorkers,
		"Number of concurrent download workers per site")
	cmd.Flags().Duration("delay", config.DefaultCrawlDelay,
		"Delay between requests to the same host")
	cmd.Flags().StringP("user-agent", "u", config.DefaultUserAgent,
		"User-Agent header sent with requests")
	cmd.Flags().Bool("no-robots", false,
		"Ignore robots.txt rules (use only on sites you control)")
	cmd.Flags().Bool("no-provenance", false,
		"Do not stamp mirrored pages with an origin comment")

	// Scope flags
	cmd.Flags().StringSlice("allow-host", nil,
		"Additional host to mirror resources from (repeatable)")
	cmd.Flags().StringSlice("include", nil,
		"Only crawl URL paths matching this pattern (repeatable)")
	cmd.Flags().StringSlice("exclude", nil,
		"Never crawl URL paths matching this pattern (repeatable)")

	// Batch mirroring flags
	cmd.Flags().IntP("batch", "b", config.DefaultBatchSize,
		"Number of sites mirrored concurrently")

	// Configuration file
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .webmirror in current or home directory)")

	// Report flags
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().String("report", "",
		"Write report to specified file path (creates directories if needed)")

	// Manifest flags
	cmd.Flags().Bool("no-manifest", false,
		"Do not record the run in the manifest database")

	return cmd
}

// runMirrorCmd executes the mirror command.
func runMirrorCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	// Set up structured logging. The redacting handler keeps cookies and
	// credential query parameters out of the log output.
	logger := log.NewLogger(os.Stderr, cfg.Verbose)
	slog.SetDefault(logger)

	// Set up context with signal handling for graceful shutdown.
	// An interrupted run keeps everything downloaded so far and still
	// rewrites it, so partial mirrors remain browsable.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal, finishing current downloads...")
		cancel()
	}()

	return runMirror(ctx, cfg, logger)
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// buildConfig creates a Config from cobra command flags.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()

	var err error

	outputDir, err := cmd.Flags().GetString("output")
	if err != nil {
		return nil, err
	}

	cfg.Timeout, err = cmd.Flags().GetDuration("timeout")
	if err != nil {
		return nil, err
	}

	cfg.CrawlDepth, err = cmd.Flags().GetInt("depth")
	if err != nil {
		return nil, err
	}

	cfg.MaxPages, err = cmd.Flags().GetInt("max-pages")
	if err != nil {
		return nil, err
	}

	cfg.Workers, err = cmd.Flags().GetInt("workers")
	if err != nil {
		return nil, err
	}

	cfg.CrawlDelay, err = cmd.Flags().GetDuration("delay")
	if err != nil {
		return nil, err
	}

	cfg.UserAgent, err = cmd.Flags().GetString("user-agent")
	if err != nil {
		return nil, err
	}

	cfg.BypassRobots, err = cmd.Flags().GetBool("no-robots")
	if err != nil {
		return nil, err
	}

	cfg.NoProvenance, err = cmd.Flags().GetBool("no-provenance")
	if err != nil {
		return nil, err
	}

	cfg.AllowedHosts, err = cmd.Flags().GetStringSlice("allow-host")
	if err != nil {
		return nil, err
	}

	cfg.IncludePatterns, err = cmd.Flags().GetStringSlice("include")
	if err != nil {
		return nil, err
	}

	cfg.ExcludePatterns, err = cmd.Flags().GetStringSlice("exclude")
	if err != nil {
		return nil, err
	}

	cfg.BatchSize, err = cmd.Flags().GetInt("batch")
	if err != nil {
		return nil, err
	}

	cfg.ConfigFilePath, err = cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	// Load site-specific configurations from config file.
	// If user explicitly specified a config file path, error if not found.
	// If no path specified, silently use empty config if no file found.
	explicitConfigPath := cfg.ConfigFilePath != ""
	configPath := config.FindConfigFile(cfg.ConfigFilePath)

	if configPath != "" {
		cfg.SiteConfigs, err = config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	} else if explicitConfigPath {
		return nil, fmt.Errorf("configuration file not found: %s", cfg.ConfigFilePath)
	} else {
		cfg.SiteConfigs = &config.File{
			Sites: make(map[string]config.SiteConfig),
		}
	}

	cfg.JSONReport, err = cmd.Flags().GetBool("json")
	if err != nil {
		return nil, err
	}

	cfg.MarkdownReport, err = cmd.Flags().GetBool("markdown")
	if err != nil {
		return nil, err
	}

	cfg.ReportFile, err = cmd.Flags().GetString("report")
	if err != nil {
		return nil, err
	}

	noManifest, err := cmd.Flags().GetBool("no-manifest")
	if err != nil {
		return nil, err
	}
	cfg.SaveManifest = !noManifest
	if cfg.SaveManifest {
		cfg.DBDir = config.XDGDataDir()
	}

	cfg.Verbose = getVerboseFlag(cmd)

	// Canonicalize the positional arguments. A bare host like
	// "example.com" gets an https scheme.
	cfg.Targets = make([]string, 0, len(args))
	for _, arg := range args {
		raw := arg
		if !strings.Contains(raw, "://") {
			raw = "https://" + raw
		}
		canonical, err := urlx.Canonicalize(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("invalid URL %q: %w", arg, err)
		}
		cfg.Targets = append(cfg.Targets, canonical)
	}
	cfg.RootURL = cfg.Targets[0]

	cfg.OutputDir = resolveOutputDir(outputDir, cfg.Targets)

	return cfg, nil
}

// resolveOutputDir picks the base output directory. With one target and
// an explicit -o flag the mirror goes directly into that directory;
// otherwise each site gets a subdirectory named after its host.
func resolveOutputDir(flag string, targets []string) string {
	if flag != "" {
		return flag
	}
	if len(targets) == 1 {
		return hostDirName(targets[0])
	}
	return "."
}

// outputDirFor returns the output directory for one target.
func outputDirFor(cfg *config.Config, target string) string {
	if len(cfg.Targets) == 1 {
		return cfg.OutputDir
	}
	return filepath.Join(cfg.OutputDir, hostDirName(target))
}

// hostDirName derives a directory name from a canonical URL's host.
// Port separators are replaced so the name is valid on every platform.
func hostDirName(canonical string) string {
	u := urlx.MustParse(canonical)
	return strings.ReplaceAll(u.Host, ":", "_")
}

// runMirror executes the mirror runs.
func runMirror(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting mirror",
		"targets", cfg.Targets,
		"outputDir", cfg.OutputDir,
		"depth", cfg.CrawlDepth,
		"maxPages", cfg.MaxPages,
		"saveManifest", cfg.SaveManifest,
	)

	// Open the manifest database if run recording is enabled.
	var db *manifest.DB
	if cfg.SaveManifest {
		var err error
		db, err = manifest.Open(cfg.DBDir, manifest.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open manifest database: %w", err)
		}
		defer db.Close()
		logger.Info("manifest database opened", "dir", cfg.DBDir)
	}

	// Open the report destination once; batch runs share it.
	writer, closeReport, err := newReportWriter(cfg)
	if err != nil {
		return err
	}
	defer closeReport()

	if len(cfg.Targets) > 1 && cfg.BatchSize > 1 {
		return runBatchMirror(ctx, cfg, db, writer, logger)
	}

	return runSequentialMirror(ctx, cfg, db, writer, logger)
}

// runSequentialMirror mirrors targets one at a time.
func runSequentialMirror(ctx context.Context, cfg *config.Config, db *manifest.DB, writer report.Writer, logger *slog.Logger) error {
	for _, target := range cfg.Targets {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		p := createPipelineForTarget(cfg, db, logger, target)
		p.AddStep(pipeline.NewReportStep(writer))

		job := &pipeline.Job{
			RootURL:   target,
			OutputDir: outputDirFor(cfg, target),
		}

		fmt.Printf("Mirroring %s...\n", target)
		startTime := time.Now()

		if err := p.Execute(ctx, job); err != nil {
			logger.Error("mirror failed", "target", target, "error", err)
			fmt.Fprintf(os.Stderr, "Mirror error for %s: %v\n", target, err)
			continue
		}

		elapsed := time.Since(startTime)
		fmt.Printf("Mirror completed in %s\n\n", elapsed.Round(time.Millisecond))
	}

	return nil
}

// runBatchMirror mirrors multiple targets concurrently using BatchProcessor.
func runBatchMirror(ctx context.Context, cfg *config.Config, db *manifest.DB, writer report.Writer, logger *slog.Logger) error {
	fmt.Printf("Starting batch mirror of %d sites (concurrency: %d)...\n\n",
		len(cfg.Targets), cfg.BatchSize)

	startTime := time.Now()

	jobs := make([]*pipeline.Job, 0, len(cfg.Targets))
	for _, target := range cfg.Targets {
		jobs = append(jobs, &pipeline.Job{
			RootURL:   target,
			OutputDir: outputDirFor(cfg, target),
		})
	}

	// Warn user about batch processing limitation
	if len(cfg.SiteConfigs.Sites) > 0 {
		logger.Warn("batch processing uses default site config only; site-specific configs (cookies, headers, depth) are ignored",
			"siteCount", len(cfg.SiteConfigs.Sites))
		fmt.Fprintf(os.Stderr, "Warning: Site-specific configurations are ignored in batch mode. Use sequential mode (--batch 1) to apply per-site settings.\n\n")
	}

	// Create batch processor with pipeline factory.
	// Note: For batch processing, we use the default site config.
	// Site-specific configs would require per-target pipeline creation.
	bp := pipeline.NewBatchProcessor(
		func() *pipeline.Pipeline {
			return createPipeline(cfg, db, logger, cfg.SiteConfigs.Defaults)
		},
		pipeline.WithConcurrency(cfg.BatchSize),
		pipeline.WithBatchLogger(logger),
	)

	// The report writer is shared, so callback output is serialized.
	var mu sync.Mutex
	err := bp.ProcessBatchWithCallback(ctx, jobs, func(job *pipeline.Job, index int) {
		mu.Lock()
		defer mu.Unlock()

		if job.Err != nil {
			fmt.Fprintf(os.Stderr, "[%d/%d] Mirror failed: %s: %v\n",
				index+1, len(jobs), job.RootURL, job.Err)
		} else {
			fmt.Printf("[%d/%d] Mirror completed: %s\n", index+1, len(jobs), job.RootURL)
		}

		if job.Summary == nil {
			return
		}
		if _, err := writer.Write(job.Summary); err != nil {
			logger.Error("report failed", "target", job.RootURL, "error", err)
		}
	})

	elapsed := time.Since(startTime)
	fmt.Printf("\nBatch mirror completed in %s\n", elapsed.Round(time.Millisecond))

	return err
}

// createPipelineForTarget creates a mirror pipeline for one target,
// applying site-specific overrides from the configuration file.
func createPipelineForTarget(cfg *config.Config, db *manifest.DB, logger *slog.Logger, target string) *pipeline.Pipeline {
	site := cfg.SiteConfigs.GetSiteConfig(urlx.MustParse(target).Host)
	return createPipeline(cfg, db, logger, site)
}

// createPipeline creates a mirror pipeline with the given site configuration.
func createPipeline(cfg *config.Config, db *manifest.DB, logger *slog.Logger, site config.SiteConfig) *pipeline.Pipeline {
	fetchOpts := []fetcher.Option{
		fetcher.WithUserAgent(cfg.UserAgent),
		fetcher.WithMaxBodySize(cfg.MaxBodySize),
		fetcher.WithMaxRetries(cfg.MaxRetries),
		fetcher.WithMaxRedirects(cfg.MaxRedirects),
	}
	if site.Cookie != "" {
		fetchOpts = append(fetchOpts, fetcher.WithCookie(site.Cookie))
	}
	if len(site.Headers) > 0 {
		fetchOpts = append(fetchOpts, fetcher.WithHeaders(site.Headers))
	}

	client := &http.Client{Timeout: cfg.Timeout}
	fetch := fetcher.New(client, fetchOpts...)

	depth := cfg.CrawlDepth
	if site.Depth > 0 {
		depth = site.Depth
	}
	delay := cfg.CrawlDelay
	if site.DelayMillis > 0 {
		delay = time.Duration(site.DelayMillis) * time.Millisecond
	}
	include := cfg.IncludePatterns
	if len(site.IncludePatterns) > 0 {
		include = site.IncludePatterns
	}
	exclude := cfg.ExcludePatterns
	if len(site.ExcludePatterns) > 0 {
		exclude = site.ExcludePatterns
	}
	allowedHosts := append([]string{}, cfg.AllowedHosts...)
	allowedHosts = append(allowedHosts, site.AllowedHosts...)

	crawl := crawler.New(fetch,
		crawler.WithLogger(logger),
		crawler.WithWorkers(cfg.Workers),
		crawler.WithMaxDepth(depth),
		crawler.WithMaxPages(cfg.MaxPages),
		crawler.WithDelay(delay),
		crawler.WithUserAgent(cfg.UserAgent),
		crawler.WithBypassRobots(cfg.BypassRobots),
		crawler.WithAllowedHosts(allowedHosts),
		crawler.WithIncludePatterns(include),
		crawler.WithExcludePatterns(exclude),
		crawler.WithProvenance(!cfg.NoProvenance),
	)

	p := pipeline.New(
		pipeline.WithLogger(logger),
		pipeline.WithContinueOnError(true),
	)
	p.AddStep(pipeline.NewMirrorStep(crawl))
	if db != nil {
		p.AddStep(pipeline.NewManifestStep(db))
	}

	return p
}

// newReportWriter builds the report writer for the configured format and
// destination. The returned close function is a no-op for stdout.
func newReportWriter(cfg *config.Config) (report.Writer, func(), error) {
	var output io.Writer = os.Stdout
	closeReport := func() {}

	if cfg.ReportFile != "" {
		dir := filepath.Dir(cfg.ReportFile)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, nil, fmt.Errorf("failed to create report directory: %w", err)
			}
		}

		f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create report file: %w", err)
		}
		output = f
		closeReport = func() { _ = f.Close() }
	}

	switch {
	case cfg.JSONReport:
		return report.NewJSONWriter(output, report.WithPrettyPrint()), closeReport, nil
	case cfg.MarkdownReport:
		return report.NewMarkdownWriter(output), closeReport, nil
	default:
		return report.NewSimpleWriter(output, report.WithVerbose(cfg.Verbose)), closeReport, nil
	}
}
