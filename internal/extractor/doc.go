// Package extractor finds outgoing references in fetched documents.
//
// It understands two document classes: HTML (anchor, asset, and inline
// style references) and CSS (url() and @import references). Extraction
// only reports what a document points at; whether a reference is
// fetched is crawl policy and lives in the crawler.
package extractor
