package cssurl

import (
	"regexp"
	"strings"
)

// Reference is one URL found in CSS text.
type Reference struct {
	// URL is the reference with quotes and whitespace stripped.
	URL string

	// Import reports whether the reference came from an @import rule
	// (with or without the url() function). Imports pull in stylesheets;
	// plain url() references are typically images and fonts.
	Import bool
}

// urlPattern matches url(...) tokens: optional single or double quotes,
// anything but a closing parenthesis inside.
//
// Design decision: We scan CSS with regular expressions rather than a
// CSS parser because references are the only thing the mirror needs;
// the rest of the stylesheet passes through byte-for-byte, which a full
// parse-and-serialize round trip would not guarantee.
var urlPattern = regexp.MustCompile(`url\(\s*['"]?([^'")\s]+)['"]?\s*\)`)

// importPattern matches the string form of @import ("..." or '...'),
// which urlPattern does not cover. The url() form is caught by both and
// deduplicated by the caller's admission logic.
var importPattern = regexp.MustCompile(`@import\s+['"]([^'"]+)['"]`)

// References lists every URL referenced by the stylesheet, in document
// order, imports first within each rule form. Empty and data: URLs are
// kept; filtering is the caller's policy.
func References(css string) []Reference {
	var refs []Reference

	for _, m := range importPattern.FindAllStringSubmatchIndex(css, -1) {
		refs = append(refs, Reference{URL: css[m[2]:m[3]], Import: true})
	}
	for _, m := range urlPattern.FindAllStringSubmatchIndex(css, -1) {
		ref := Reference{URL: css[m[2]:m[3]]}
		// A url() token directly following @import is an import too.
		ref.Import = precededByImport(css, m[0])
		refs = append(refs, ref)
	}

	return refs
}

// Rewrite replaces each reference for which replace returns ok with the
// returned URL, preserving everything else in the stylesheet verbatim.
func Rewrite(css string, replace func(ref string) (string, bool)) string {
	out := urlPattern.ReplaceAllStringFunc(css, func(tok string) string {
		sub := urlPattern.FindStringSubmatch(tok)
		if sub == nil {
			return tok
		}
		if next, ok := replace(sub[1]); ok {
			return "url(" + quoteIfNeeded(next) + ")"
		}
		return tok
	})

	out = importPattern.ReplaceAllStringFunc(out, func(tok string) string {
		sub := importPattern.FindStringSubmatch(tok)
		if sub == nil {
			return tok
		}
		if next, ok := replace(sub[1]); ok {
			return `@import "` + next + `"`
		}
		return tok
	})

	return out
}

// precededByImport reports whether the text right before offset ends
// with an @import rule prefix (ignoring whitespace).
func precededByImport(css string, offset int) bool {
	head := strings.TrimRight(css[:offset], " \t\r\n")
	return strings.HasSuffix(strings.ToLower(head), "@import")
}

// quoteIfNeeded quotes a URL for a url() token when it contains
// characters that would end the token early.
func quoteIfNeeded(u string) string {
	if strings.ContainsAny(u, `'" ()`) {
		return `"` + u + `"`
	}
	return u
}
