// Package log provides logging with automatic redaction of credentials,
// built on top of the standard slog package.
//
// Mirroring authenticated sites means session cookies and tokens flow
// through the configuration and appear next to every fetched URL. The
// RedactHandler masks credential-bearing attributes and credential
// query parameters inside logged URLs, so progress logs can be shared
// without leaking access to the site.
//
// # Usage
//
//	logger := log.NewLogger(os.Stderr, true) // verbose=true
//
//	logger.Info("request sent",
//	    "cookie", "session=abc123",        // masked
//	    "url", "http://a.com/?token=x",    // token value masked
//	)
package log
