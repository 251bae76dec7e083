package extractor

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/webmirror/webmirror/internal/cssurl"
	"github.com/webmirror/webmirror/internal/model"
	"github.com/webmirror/webmirror/internal/urlx"
)

// Link is one outgoing reference found in a document.
type Link struct {
	// Raw is the reference exactly as written in the document.
	Raw string

	// URL is the canonical absolute form, resolved against the document
	// URL and normalized.
	URL string

	// Kind is the expected kind, guessed from where the reference
	// appeared (an <img> src is an image, a stylesheet link is a style).
	// The fetch's content type has the final word.
	Kind model.Kind
}

// Extract lists the outgoing references of a document. Non-extractable
// content types yield nothing. Malformed and skippable references
// (javascript:, mailto:, data:, fragment-only) are dropped.
func Extract(body []byte, contentType string, docURL *url.URL) []Link {
	switch model.KindFromContentType(contentType) {
	case model.KindPage:
		return extractHTML(body, contentType, docURL)
	case model.KindStyle:
		return extractCSS(string(body), docURL)
	default:
		return nil
	}
}

// extractHTML walks the parsed document tree collecting references from
// element attributes, inline style attributes, and <style> elements.
func extractHTML(body []byte, contentType string, docURL *url.URL) []Link {
	// charset.NewReader transcodes legacy encodings (meta charset or
	// Content-Type parameter) to UTF-8 before parsing.
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		r = bytes.NewReader(body)
	}
	doc, err := html.Parse(r)
	if err != nil {
		return nil
	}

	var links []Link
	add := func(raw string, kind model.Kind) {
		if l, ok := makeLink(raw, kind, docURL); ok {
			links = append(links, l)
		}
	}

	for n := range doc.Descendants() {
		if n.Type != html.ElementNode {
			continue
		}

		switch n.Data {
		case "a", "area":
			add(attr(n, "href"), model.KindPage)
		case "iframe", "frame":
			add(attr(n, "src"), model.KindPage)
		case "img":
			add(attr(n, "src"), model.KindImage)
			for _, candidate := range srcsetURLs(attr(n, "srcset")) {
				add(candidate, model.KindImage)
			}
		case "link":
			if kind := linkRelKind(attr(n, "rel")); kind != model.KindUnknown {
				add(attr(n, "href"), kind)
			}
		case "script":
			add(attr(n, "src"), model.KindScript)
		case "source":
			add(attr(n, "src"), model.KindDownload)
			for _, candidate := range srcsetURLs(attr(n, "srcset")) {
				add(candidate, model.KindImage)
			}
		case "audio", "video", "embed", "track":
			add(attr(n, "src"), model.KindDownload)
		case "form":
			// Form targets are discovered so reports can list them, but
			// the crawler never submits forms; GET-only mirroring.
			add(attr(n, "action"), model.KindPage)
		case "style":
			links = append(links, extractCSS(textContent(n), docURL)...)
		}

		if style := attr(n, "style"); style != "" {
			links = append(links, extractCSS(style, docURL)...)
		}
	}

	return links
}

// extractCSS collects url() and @import references from CSS text.
func extractCSS(css string, docURL *url.URL) []Link {
	var links []Link
	for _, ref := range cssurl.References(css) {
		kind := model.KindImage
		if ref.Import || strings.HasSuffix(strings.ToLower(ref.URL), ".css") {
			kind = model.KindStyle
		}
		if l, ok := makeLink(ref.URL, kind, docURL); ok {
			links = append(links, l)
		}
	}
	return links
}

// makeLink canonicalizes a raw reference against the document URL.
// Skippable schemes, fragment-only references, and malformed URLs
// report ok=false.
func makeLink(raw string, kind model.Kind, docURL *url.URL) (Link, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") || urlx.Skippable(raw) {
		return Link{}, false
	}

	canonical, err := urlx.Canonicalize(raw, docURL)
	if err != nil {
		return Link{}, false
	}
	return Link{Raw: raw, URL: canonical, Kind: kind}, true
}

// linkRelKind maps a <link rel> value to the kind of the referenced
// resource. Only stylesheet and icon relations are mirrored; preload,
// canonical, alternate and the rest stay pointing at the live site.
func linkRelKind(rel string) model.Kind {
	for _, token := range strings.Fields(strings.ToLower(rel)) {
		switch token {
		case "stylesheet":
			return model.KindStyle
		case "icon", "apple-touch-icon", "shortcut":
			return model.KindImage
		}
	}
	return model.KindUnknown
}

// attr returns the value of the named attribute, or "".
func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// textContent concatenates the text children of a node.
func textContent(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

// srcsetURLs pulls the URLs out of a srcset attribute value, dropping
// the width and density descriptors.
func srcsetURLs(srcset string) []string {
	if srcset == "" {
		return nil
	}
	var urls []string
	for _, candidate := range strings.Split(srcset, ",") {
		fields := strings.Fields(candidate)
		if len(fields) > 0 {
			urls = append(urls, fields[0])
		}
	}
	return urls
}
