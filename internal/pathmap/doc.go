// Package pathmap maintains the bidirectional, injective mapping between
// canonical URLs and local file paths inside the mirror output tree.
//
// Path derivation is a pure function of the URL plus a per-path collision
// counter, so the mapping is reproducible whenever URLs are admitted in
// the same order. Entries are insert-once and never overwritten.
package pathmap
