package config

// SiteConfig holds per-site configuration keyed by host name.
// This allows customizing mirror behavior for sites that need
// authentication or have known problem areas.
type SiteConfig struct {
	// Cookie is an HTTP cookie to send when mirroring this site.
	// Format: "name=value" or "name1=value1; name2=value2"
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are custom HTTP headers to include in requests to this site.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Depth overrides the global crawl depth for this site.
	// If zero, the global CrawlDepth is used.
	Depth int `yaml:"depth,omitempty"`

	// Delay overrides the global per-host crawl delay, in milliseconds.
	// If zero, the global CrawlDelay is used.
	DelayMillis int `yaml:"delayMillis,omitempty"`

	// AllowedHosts are additional hosts mirrored along with this site,
	// typically asset subdomains.
	AllowedHosts []string `yaml:"allowedHosts,omitempty"`

	// ExcludePatterns are URL path patterns to skip during mirroring.
	// Patterns are matched against the URL path using glob syntax.
	ExcludePatterns []string `yaml:"excludePatterns,omitempty"`

	// IncludePatterns restrict mirroring to matching URL paths.
	// If specified, only URLs matching these patterns are crawled.
	IncludePatterns []string `yaml:"includePatterns,omitempty"`
}

// File represents the structure of the .webmirror configuration file.
type File struct {
	// Sites maps host names to their site-specific configurations.
	// Keys are the host without the scheme (e.g., "docs.example.com").
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`

	// Defaults contains default site configuration applied to all sites
	// unless overridden in the site-specific configuration.
	Defaults SiteConfig `yaml:"defaults,omitempty"`
}

// GetSiteConfig returns the configuration for a host.
// It merges the site-specific configuration with the defaults.
func (cf *File) GetSiteConfig(host string) SiteConfig {
	result := cf.Defaults

	if siteConfig, ok := cf.Sites[host]; ok {
		if siteConfig.Cookie != "" {
			result.Cookie = siteConfig.Cookie
		}
		if siteConfig.Depth != 0 {
			result.Depth = siteConfig.Depth
		}
		if siteConfig.DelayMillis != 0 {
			result.DelayMillis = siteConfig.DelayMillis
		}
		if len(siteConfig.Headers) > 0 {
			if result.Headers == nil {
				result.Headers = make(map[string]string)
			}
			for k, v := range siteConfig.Headers {
				result.Headers[k] = v
			}
		}
		if len(siteConfig.AllowedHosts) > 0 {
			result.AllowedHosts = siteConfig.AllowedHosts
		}
		if len(siteConfig.ExcludePatterns) > 0 {
			result.ExcludePatterns = siteConfig.ExcludePatterns
		}
		if len(siteConfig.IncludePatterns) > 0 {
			result.IncludePatterns = siteConfig.IncludePatterns
		}
	}

	return result
}
