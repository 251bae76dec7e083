package model

import "strings"

// Kind classifies a mirrored resource by how webmirror must treat it.
// The kind is decided once, when the fetch completes and the server's
// content type is known, and drives both link extraction and rewriting.
//
// Design decision: We use an explicit enum decided at fetch time rather
// than re-sniffing content throughout the pipeline because:
//  1. Extraction and rewriting must agree on how a document is handled
//  2. A single decision point keeps content-type quirks in one place
//  3. Unknown content is a first-class case, not a fallback guess
type Kind int

const (
	// KindUnknown marks a resource whose content type was absent or
	// unrecognized. Unknown resources are saved verbatim and are never
	// extracted from or rewritten.
	KindUnknown Kind = iota

	// KindPage is an HTML document. Pages are extracted and rewritten.
	KindPage

	// KindStyle is a CSS stylesheet. Stylesheets are extracted (url()
	// and @import references) and rewritten.
	KindStyle

	// KindScript is a JavaScript file. Scripts are saved verbatim;
	// webmirror never executes or analyzes script content.
	KindScript

	// KindImage is an image resource.
	KindImage

	// KindDownload is any other resource (fonts, archives, documents).
	KindDownload
)

// String returns the lowercase name of the kind, used in logs, the
// manifest database, and reports.
func (k Kind) String() string {
	switch k {
	case KindPage:
		return "page"
	case KindStyle:
		return "style"
	case KindScript:
		return "script"
	case KindImage:
		return "image"
	case KindDownload:
		return "download"
	default:
		return "unknown"
	}
}

// Rewritable reports whether documents of this kind carry references
// that must be rewritten to local paths.
func (k Kind) Rewritable() bool {
	return k == KindPage || k == KindStyle
}

// Extractable reports whether documents of this kind are scanned for
// outgoing links.
func (k Kind) Extractable() bool {
	return k == KindPage || k == KindStyle
}

// KindFromContentType classifies a resource from its declared media type.
// The charset parameter and any other media type parameters must already
// be stripped by the caller (see fetcher.Result.ContentType).
//
// An empty or unparsable content type yields KindUnknown; per the crawl
// policy such resources are stored verbatim without extraction.
func KindFromContentType(contentType string) Kind {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}

	switch {
	case ct == "":
		return KindUnknown
	case ct == "text/html" || ct == "application/xhtml+xml":
		return KindPage
	case ct == "text/css":
		return KindStyle
	case ct == "text/javascript" || ct == "application/javascript" ||
		ct == "application/x-javascript":
		return KindScript
	case strings.HasPrefix(ct, "image/"):
		return KindImage
	default:
		return KindDownload
	}
}
