package crawler

import (
	"net/url"
	"path/filepath"
	"strings"
)

// Scope decides which discovered URLs belong to the mirror.
//
// Design decision: Scope is by exact host, not by registrable domain:
// mirroring example.com must not wander into cdn.example.com unless the
// caller allows that host explicitly. Subdomain assets are common, so
// the host list is configurable rather than hardwired to the root.
type Scope struct {
	// hosts are the allowed hosts, lowercase, including any port.
	hosts map[string]bool

	// include, when non-empty, restricts crawling to paths matching at
	// least one pattern. Glob syntax, matched against the URL path.
	include []string

	// exclude lists path patterns that are never crawled. Exclusion
	// wins over inclusion.
	exclude []string
}

// NewScope builds a scope allowing the given hosts. Host comparison is
// case-insensitive.
func NewScope(hosts []string, include, exclude []string) *Scope {
	s := &Scope{
		hosts:   make(map[string]bool, len(hosts)),
		include: include,
		exclude: exclude,
	}
	for _, h := range hosts {
		s.hosts[strings.ToLower(h)] = true
	}
	return s
}

// Allows reports whether a canonical URL is inside the mirror scope.
func (s *Scope) Allows(u *url.URL) bool {
	if !s.hosts[strings.ToLower(u.Host)] {
		return false
	}

	p := u.Path
	if p == "" {
		p = "/"
	}

	for _, pattern := range s.exclude {
		if matchPattern(pattern, p) {
			return false
		}
	}

	if len(s.include) > 0 {
		for _, pattern := range s.include {
			if matchPattern(pattern, p) {
				return true
			}
		}
		return false
	}

	return true
}

// matchPattern checks if a path matches a glob pattern.
// Patterns can use:
//   - * to match any sequence of non-separator characters
//   - ? to match any single character
//
// Examples:
//   - "/admin/*" matches "/admin/dashboard", "/admin/users"
//   - "*.pdf" matches "/docs/file.pdf"
//   - "/api/v?" matches "/api/v1", "/api/v2"
func matchPattern(pattern, path string) bool {
	// For patterns like "/admin/*", match "/admin/anything" at any depth.
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if strings.HasPrefix(path, prefix+"/") || path == prefix {
			return true
		}
	}

	// Extension patterns like "*.pdf" match anywhere in the tree.
	if strings.HasPrefix(pattern, "*.") {
		ext := strings.TrimPrefix(pattern, "*")
		if strings.HasSuffix(path, ext) {
			return true
		}
	}

	matched, err := filepath.Match(pattern, path)
	if err != nil {
		return false
	}
	if matched {
		return true
	}

	// Try the bare filename for patterns without a separator.
	if strings.Contains(pattern, "*") && !strings.Contains(pattern, "/") {
		matched, err := filepath.Match(pattern, filepath.Base(path))
		if err == nil && matched {
			return true
		}
	}

	return false
}
