// Package main provides the entry point for the webmirror CLI.
//
// webmirror downloads a website into a local directory and rewrites the
// links between downloaded files so the mirror is browsable offline.
//
// Usage:
//
//	webmirror mirror <url>
//	webmirror mirror -o ./archive <url> <url>...
//
// See --help for all available options.
package main

// main is the entry point for webmirror.
func main() {
	Execute()
}
