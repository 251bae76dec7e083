package rewriter

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/webmirror/webmirror/internal/cssurl"
	"github.com/webmirror/webmirror/internal/model"
	"github.com/webmirror/webmirror/internal/urlx"
)

// Resolver reports the local path (relative to the output root) mapped
// to a canonical URL, when that URL was mirrored.
type Resolver func(canonical string) (localPath string, ok bool)

// Rewriter rewrites page and stylesheet references. It is stateless
// apart from its configuration and safe for concurrent use.
type Rewriter struct {
	// resolve maps canonical URLs to mirrored local paths.
	resolve Resolver

	// signature names the tool in the provenance comment.
	signature string

	// provenance controls whether pages get the provenance comment.
	provenance bool

	// now supplies the timestamp for the provenance comment.
	now func() time.Time
}

// Option configures a Rewriter.
type Option func(*Rewriter)

// WithSignature sets the tool name written in the provenance comment.
func WithSignature(sig string) Option {
	return func(rw *Rewriter) {
		rw.signature = sig
	}
}

// WithProvenance toggles the provenance comment on mirrored pages.
func WithProvenance(on bool) Option {
	return func(rw *Rewriter) {
		rw.provenance = on
	}
}

// WithNow overrides the clock, for reproducible output in tests.
func WithNow(now func() time.Time) Option {
	return func(rw *Rewriter) {
		rw.now = now
	}
}

// New creates a Rewriter around a resolver.
func New(resolve Resolver, opts ...Option) *Rewriter {
	rw := &Rewriter{
		resolve:    resolve,
		signature:  "webmirror",
		provenance: true,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(rw)
	}
	return rw
}

// Rewrite returns the document with every reference rewritten. docURL is
// the document's canonical URL (the base for resolving its references);
// docPath is its local path relative to the output root, from which
// relative links are computed. Non-rewritable content types are returned
// unchanged.
func (rw *Rewriter) Rewrite(body []byte, contentType string, docURL *url.URL, docPath string) ([]byte, error) {
	switch model.KindFromContentType(contentType) {
	case model.KindPage:
		return rw.rewriteHTML(body, contentType, docURL, docPath)
	case model.KindStyle:
		css := rw.rewriteCSS(string(body), docURL, docPath)
		return []byte(css), nil
	default:
		return body, nil
	}
}

// rewriteHTML parses the document, rewrites references in place, and
// renders it back.
//
// Design decision: We re-render through the HTML parser rather than
// patching bytes because attribute values need entity-safe encoding and
// the tolerant parser already normalized the tree during extraction;
// extraction and rewriting seeing different trees would desynchronize
// the mirror.
func (rw *Rewriter) rewriteHTML(body []byte, contentType string, docURL *url.URL, docPath string) ([]byte, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		r = bytes.NewReader(body)
	}
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("rewriter: parse %s: %w", docURL, err)
	}

	for n := range doc.Descendants() {
		if n.Type != html.ElementNode {
			continue
		}

		switch n.Data {
		case "a", "area", "link":
			rw.rewriteAttr(n, "href", docURL, docPath)
		case "img", "source":
			rw.rewriteAttr(n, "src", docURL, docPath)
			rw.rewriteSrcset(n, docURL, docPath)
		case "iframe", "frame", "script", "audio", "video", "embed", "track":
			rw.rewriteAttr(n, "src", docURL, docPath)
		case "form":
			rw.rewriteAttr(n, "action", docURL, docPath)
		case "meta":
			normalizeMetaCharset(n)
		case "style":
			rw.rewriteStyleElement(n, docURL, docPath)
		}

		rw.rewriteStyleAttr(n, docURL, docPath)
	}

	var buf bytes.Buffer
	if rw.provenance {
		fmt.Fprintf(&buf, "<!-- mirrored from %s by %s at %s -->\n",
			docURL, rw.signature, rw.now().UTC().Format(time.RFC3339))
	}
	if err := html.Render(&buf, doc); err != nil {
		return nil, fmt.Errorf("rewriter: render %s: %w", docURL, err)
	}
	return buf.Bytes(), nil
}

// normalizeMetaCharset updates a meta element's charset declaration to
// match the rendered output. Render always emits UTF-8, so a page
// transcoded from a legacy encoding must not keep declaring the old one
// or browsers would misread the mirrored file.
func normalizeMetaCharset(n *html.Node) {
	httpEquiv := ""
	for _, a := range n.Attr {
		if a.Key == "http-equiv" {
			httpEquiv = a.Val
		}
	}
	for i, a := range n.Attr {
		switch {
		case a.Key == "charset" && a.Val != "":
			n.Attr[i].Val = "utf-8"
		case a.Key == "content" && strings.EqualFold(httpEquiv, "content-type"):
			n.Attr[i].Val = replaceCharsetParam(a.Val)
		}
	}
}

// replaceCharsetParam rewrites the charset parameter of a content-type
// value such as "text/html; charset=iso-8859-1" to utf-8. Values
// without a charset parameter pass through unchanged.
func replaceCharsetParam(content string) string {
	i := strings.Index(strings.ToLower(content), "charset=")
	if i < 0 {
		return content
	}
	start := i + len("charset=")
	rest := content[start:]
	if j := strings.IndexByte(rest, ';'); j >= 0 {
		return content[:start] + "utf-8" + rest[j:]
	}
	return content[:start] + "utf-8"
}

// rewriteCSS rewrites url() and @import references in CSS text.
func (rw *Rewriter) rewriteCSS(css string, docURL *url.URL, docPath string) string {
	return cssurl.Rewrite(css, func(ref string) (string, bool) {
		next := rw.rewriteRef(ref, docURL, docPath)
		if next == ref {
			return "", false
		}
		return next, true
	})
}

// rewriteAttr rewrites one attribute value in place.
func (rw *Rewriter) rewriteAttr(n *html.Node, name string, docURL *url.URL, docPath string) {
	for i, a := range n.Attr {
		if a.Key == name && a.Val != "" {
			n.Attr[i].Val = rw.rewriteRef(a.Val, docURL, docPath)
			return
		}
	}
}

// rewriteSrcset rewrites every candidate URL in a srcset attribute,
// keeping the width and density descriptors.
func (rw *Rewriter) rewriteSrcset(n *html.Node, docURL *url.URL, docPath string) {
	for i, a := range n.Attr {
		if a.Key != "srcset" || a.Val == "" {
			continue
		}
		candidates := strings.Split(a.Val, ",")
		for j, candidate := range candidates {
			fields := strings.Fields(candidate)
			if len(fields) == 0 {
				continue
			}
			fields[0] = rw.rewriteRef(fields[0], docURL, docPath)
			candidates[j] = strings.Join(fields, " ")
		}
		n.Attr[i].Val = strings.Join(candidates, ", ")
	}
}

// rewriteStyleAttr rewrites url() references in an inline style attribute.
func (rw *Rewriter) rewriteStyleAttr(n *html.Node, docURL *url.URL, docPath string) {
	for i, a := range n.Attr {
		if a.Key == "style" && a.Val != "" {
			n.Attr[i].Val = rw.rewriteCSS(a.Val, docURL, docPath)
		}
	}
}

// rewriteStyleElement rewrites the CSS text inside a <style> element.
func (rw *Rewriter) rewriteStyleElement(n *html.Node, docURL *url.URL, docPath string) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			c.Data = rw.rewriteCSS(c.Data, docURL, docPath)
		}
	}
}

// rewriteRef rewrites a single raw reference. Mirrored targets become
// relative paths from the document's directory with the original
// fragment re-attached; unmirrored targets become absolute URLs against
// the live site. References that cannot be interpreted (skippable
// schemes, bare fragments, malformed URLs) pass through untouched.
func (rw *Rewriter) rewriteRef(raw string, docURL *url.URL, docPath string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") || urlx.Skippable(trimmed) {
		return raw
	}

	rest, fragment := urlx.SplitFragment(trimmed)
	canonical, err := urlx.Canonicalize(rest, docURL)
	if err != nil {
		return raw
	}

	if local, ok := rw.resolve(canonical); ok {
		return relativePath(path.Dir(docPath), local) + fragment
	}

	abs, err := urlx.Resolve(trimmed, docURL)
	if err != nil {
		return raw
	}
	return abs
}

// relativePath computes the relative link from one slash-separated
// mirror path's directory to another mirror path. Both inputs are
// relative to the output root, so the walk never leaves it.
func relativePath(fromDir, to string) string {
	if fromDir == "." || fromDir == "" {
		return to
	}

	fromSegs := strings.Split(fromDir, "/")
	toSegs := strings.Split(to, "/")

	common := 0
	for common < len(fromSegs) && common < len(toSegs)-1 && fromSegs[common] == toSegs[common] {
		common++
	}

	var sb strings.Builder
	for i := common; i < len(fromSegs); i++ {
		sb.WriteString("../")
	}
	sb.WriteString(strings.Join(toSegs[common:], "/"))
	return sb.String()
}
