package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
// These values follow common crawler etiquette where applicable.
const (
	// DefaultTimeout is the per-request timeout. 30 seconds covers slow
	// origin servers without letting a single stuck connection hold a
	// worker for minutes.
	DefaultTimeout = 30 * time.Second

	// DefaultCrawlDepth of 3 mirrors the parts of a site that are
	// reachable from the landing page within a few clicks, which is
	// what most archival runs want. Deeper structures need an explicit
	// --depth flag.
	DefaultCrawlDepth = 3

	// DefaultMaxPages is the maximum number of resources admitted per
	// run. This prevents runaway mirroring on large or infinitely
	// generating sites (calendars, faceted search).
	DefaultMaxPages = 500

	// DefaultWorkers is the number of concurrent fetch workers.
	// Four workers saturate most consumer connections while staying
	// gentle on the origin.
	DefaultWorkers = 4

	// DefaultCrawlDelay is the per-host delay between requests.
	// This is a politeness setting to avoid overwhelming servers.
	DefaultCrawlDelay = 500 * time.Millisecond

	// DefaultUserAgent identifies webmirror in HTTP requests and is the
	// agent name matched against robots.txt rules. A descriptive
	// User-Agent lets operators identify mirror traffic in their logs.
	DefaultUserAgent = "webmirror/1.0 (+https://github.com/webmirror/webmirror)"

	// DefaultMaxBodySize limits the maximum response body size to read.
	// 5MB is sufficient for pages and most assets while preventing
	// memory exhaustion from unexpectedly large responses.
	DefaultMaxBodySize = 5 * 1024 * 1024 // 5MB

	// DefaultMaxRetries is how many times a temporary fetch failure is
	// retried before the resource is marked failed.
	DefaultMaxRetries = 2

	// DefaultMaxRedirects limits redirect chains per fetch.
	DefaultMaxRedirects = 10

	// DefaultBatchSize is the number of sites mirrored concurrently when
	// several URLs are given. Mirroring is bandwidth-bound, so a small
	// batch size combined with per-run workers is the right shape.
	DefaultBatchSize = 2

	// AppName is the application name used for XDG directory paths.
	AppName = "webmirror"
)

// Config holds all configuration options for webmirror.
// This struct is populated from CLI flags and the configuration file
// and passed through the application via dependency injection.
//
// Design decision: We use a single flat struct instead of nested structs
// (e.g., CrawlConfig, OutputConfig) for simplicity. The number of options
// is manageable, and nesting would add complexity without significant
// benefit.
type Config struct {
	// RootURL is the URL the mirror starts from.
	// When several targets are given, this is the first one.
	RootURL string

	// Targets holds every URL to mirror, in command-line order.
	Targets []string

	// BatchSize is the number of sites mirrored concurrently.
	BatchSize int

	// OutputDir is the directory the mirror tree is written to.
	OutputDir string

	// Timeout is the per-request timeout for each HTTP fetch.
	Timeout time.Duration

	// CrawlDepth is the maximum page link depth from the root.
	// Depth 0 means only fetch the initial page (plus its assets).
	CrawlDepth int

	// MaxPages is the maximum number of resources admitted per run.
	MaxPages int

	// Workers is the number of concurrent fetch workers.
	Workers int

	// CrawlDelay is the per-host delay between HTTP requests.
	// Lower values may trigger rate limiting or disrupt small sites.
	CrawlDelay time.Duration

	// UserAgent is the User-Agent header sent with HTTP requests.
	UserAgent string

	// MaxBodySize is the maximum response body size in bytes to read.
	// Responses larger than this fail rather than being truncated.
	MaxBodySize int64

	// MaxRetries is the retry budget for temporary fetch failures.
	MaxRetries int

	// MaxRedirects limits the redirect chain length per fetch.
	MaxRedirects int

	// BypassRobots disables robots.txt checks. Intended for mirroring
	// sites the operator controls.
	BypassRobots bool

	// NoProvenance suppresses the provenance comment stamped on
	// mirrored pages.
	NoProvenance bool

	// AllowedHosts are hosts allowed in addition to the root URL's own,
	// typically asset subdomains like cdn.example.com.
	AllowedHosts []string

	// IncludePatterns restrict crawling to matching URL paths.
	// Glob syntax, matched against the URL path.
	IncludePatterns []string

	// ExcludePatterns are URL paths never crawled. Exclusion wins.
	ExcludePatterns []string

	// Verbose enables detailed log output using slog.LevelDebug.
	Verbose bool

	// JSONReport enables JSON report output instead of human-readable
	// format. Mutually exclusive with MarkdownReport.
	JSONReport bool

	// MarkdownReport enables Markdown report output instead of
	// human-readable format. Mutually exclusive with JSONReport.
	MarkdownReport bool

	// ReportFile is the output file path for the report.
	// When set, the report is written to this file instead of stdout.
	ReportFile string

	// ConfigFilePath is the path to the configuration file.
	// If empty, the tool searches for .webmirror in the current
	// directory and then in the user's home directory.
	ConfigFilePath string

	// SiteConfigs holds per-site configurations loaded from the config
	// file.
	SiteConfigs *File

	// DBDir is the directory for the run manifest database.
	// When empty, run history is not persisted.
	// Defaults to the XDG data directory.
	DBDir string

	// SaveManifest indicates whether to record the run in the manifest
	// database. Automatically true when DBDir is configured.
	SaveManifest bool
}

// NewConfig creates a new Config with default values.
//
// Design decision: We use a constructor function instead of relying on
// zero values because many defaults are non-zero (e.g., timeout, worker
// count). This also serves as documentation of what the defaults are.
func NewConfig() *Config {
	return &Config{
		Timeout:      DefaultTimeout,
		CrawlDepth:   DefaultCrawlDepth,
		MaxPages:     DefaultMaxPages,
		Workers:      DefaultWorkers,
		CrawlDelay:   DefaultCrawlDelay,
		UserAgent:    DefaultUserAgent,
		MaxBodySize:  DefaultMaxBodySize,
		MaxRetries:   DefaultMaxRetries,
		MaxRedirects: DefaultMaxRedirects,
		BatchSize:    DefaultBatchSize,
	}
}

// XDGDataDir returns the XDG data directory for webmirror.
// On Linux: ~/.local/share/webmirror
// On macOS: ~/Library/Application Support/webmirror
// On Windows: %LOCALAPPDATA%\webmirror
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for webmirror.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks if the configuration is valid.
// It returns a specific error describing what is invalid.
//
// We return the first error found rather than collecting all errors
// because fixing one error often makes others irrelevant.
func (c *Config) Validate() error {
	if c.RootURL == "" {
		return ErrNoRootURL
	}
	if c.OutputDir == "" {
		return ErrNoOutputDir
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if c.CrawlDepth < 0 {
		return ErrInvalidDepth
	}
	if c.MaxPages <= 0 {
		return ErrInvalidMaxPages
	}
	if c.CrawlDelay < 0 {
		return ErrInvalidCrawlDelay
	}
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}
	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	return nil
}
