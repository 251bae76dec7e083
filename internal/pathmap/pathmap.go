package pathmap

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/kennygrant/sanitize"
)

// maxSegmentLen caps a single path segment. Longer segments are truncated
// so the mirror stays writable on filesystems with 255-byte name limits
// even after a collision suffix is appended.
const maxSegmentLen = 80

// indexBaseName is the file name used for directory-like URLs.
const indexBaseName = "index"

// extByContentType assigns extensions to URLs that carry none.
//
// Design decision: We use a fixed table rather than mime.ExtensionsByType
// because the latter consults OS mime databases and can return different
// extensions on different machines, breaking the reproducibility of the
// URL-to-path mapping.
var extByContentType = map[string]string{
	"text/html":                ".html",
	"application/xhtml+xml":    ".html",
	"text/css":                 ".css",
	"text/javascript":          ".js",
	"application/javascript":   ".js",
	"application/x-javascript": ".js",
	"image/png":                ".png",
	"image/jpeg":               ".jpg",
	"image/gif":                ".gif",
	"image/svg+xml":            ".svg",
	"image/webp":               ".webp",
	"image/x-icon":             ".ico",
	"application/pdf":          ".pdf",
	"application/json":         ".json",
	"text/plain":               ".txt",
}

// Mapper assigns and remembers local paths for canonical URLs.
//
// All methods are safe for concurrent use. The mutex guards only the map
// operations and the collision counters; derivation itself is pure.
type Mapper struct {
	mu       sync.Mutex
	byURL    map[string]string
	byPath   map[string]string
	counters map[string]int
}

// New creates an empty Mapper.
func New() *Mapper {
	return &Mapper{
		byURL:    make(map[string]string),
		byPath:   make(map[string]string),
		counters: make(map[string]int),
	}
}

// Resolve returns the local path (relative to the output root, always
// slash-separated) for a canonical URL, assigning one on first call.
//
// The path is derived from the URL's host and path segments; when two
// distinct URLs derive the same path the later one receives a numeric
// suffix from a counter scoped to that path. The first caller wins the
// unsuffixed name, so a caller that needs a reproducible mapping must
// resolve its URLs in a deterministic order. The crawler resolves all
// fetched resources at one point, in admission order.
func (m *Mapper) Resolve(canonical, contentType string) (string, error) {
	u, err := url.Parse(canonical)
	if err != nil {
		return "", fmt.Errorf("pathmap: unparsable canonical URL %q: %w", canonical, err)
	}

	base := derive(u, contentType)

	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.byURL[canonical]; ok {
		return p, nil
	}

	local := base
	for {
		if _, taken := m.byPath[local]; !taken {
			break
		}
		m.counters[base]++
		local = suffixed(base, m.counters[base]+1)
	}

	m.byURL[canonical] = local
	m.byPath[local] = canonical
	return local, nil
}

// Lookup returns the local path previously assigned to a canonical URL.
func (m *Mapper) Lookup(canonical string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byURL[canonical]
	return p, ok
}

// URLFor returns the canonical URL mapped to a local path.
func (m *Mapper) URLFor(local string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byPath[local]
	return u, ok
}

// Len returns the number of mapped URLs.
func (m *Mapper) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byURL)
}

// derive computes the collision-free candidate path for a URL: the host
// as the top directory, then the sanitized path segments, then a file
// name with an extension taken from the URL or inferred from the content
// type. Directory-like URLs get an index file name.
func derive(u *url.URL, contentType string) string {
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")

	dirLike := u.Path == "" || strings.HasSuffix(u.Path, "/")
	var file string
	if !dirLike {
		file = segments[len(segments)-1]
		segments = segments[:len(segments)-1]
	}

	parts := make([]string, 0, len(segments)+2)
	parts = append(parts, hostDir(u))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		parts = append(parts, cleanSegment(seg))
	}
	parts = append(parts, fileName(file, contentType))

	return path.Join(parts...)
}

// hostDir turns the URL host into the mirror's top-level directory.
// A port separator is not a legal file name character everywhere, so it
// becomes an underscore.
func hostDir(u *url.URL) string {
	return strings.ReplaceAll(u.Host, ":", "_")
}

// fileName builds the sanitized file name for the final path segment.
// An empty segment means the URL was directory-like and gets the index
// name. A missing extension is inferred from the content type; unknown
// content types leave the name extension-less rather than guessing.
func fileName(segment, contentType string) string {
	stem, ext := splitExt(segment)

	stem = cleanSegment(stem)
	if stem == "" {
		stem = indexBaseName
	}

	if ext == "" {
		ct := contentType
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			ct = strings.TrimSpace(ct[:i])
		}
		ext = extByContentType[strings.ToLower(ct)]
	}

	return stem + ext
}

// cleanSegment sanitizes one path segment for the local filesystem and
// truncates overlong segments.
func cleanSegment(seg string) string {
	if unescaped, err := url.PathUnescape(seg); err == nil {
		seg = unescaped
	}
	seg = sanitize.Name(seg)
	if len(seg) > maxSegmentLen {
		seg = seg[:maxSegmentLen]
	}
	// Percent-encoded dot segments survive URL normalization; they must
	// never escape the output root.
	if seg == "." || seg == ".." {
		return "-"
	}
	return seg
}

// splitExt splits a file name into stem and a short, safe extension.
// Extensions longer than 10 characters or containing separators are not
// treated as extensions at all.
func splitExt(name string) (stem, ext string) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 || i == len(name)-1 {
		return name, ""
	}
	candidate := name[i:]
	if len(candidate) > 10 {
		return name, ""
	}
	for _, r := range candidate[1:] {
		if !isAlnum(r) {
			return name, ""
		}
	}
	return name[:i], strings.ToLower(candidate)
}

// suffixed inserts a collision counter before the extension:
// "a/b.html" with n=2 becomes "a/b-2.html".
func suffixed(base string, n int) string {
	dir, file := path.Split(base)
	stem, ext := splitExt(file)
	return dir + fmt.Sprintf("%s-%d%s", stem, n, ext)
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
