// Package urlx canonicalizes URLs so that every spelling of the same
// resource maps to one identity string.
//
// The canonical form is what the visited registry, the path mapper, and
// the manifest key on; getting it wrong either duplicates downloads or
// loses pages, so normalization is kept in one pure-function package.
package urlx
