// Package rewriter rewrites references inside mirrored documents so the
// saved tree browses offline.
//
// References to mirrored resources become relative local paths computed
// from the document's own location; references to everything else become
// absolute URLs pointing back at the live site, so no link in the mirror
// is ever dangling.
package rewriter
