// Package fetcher downloads individual resources over HTTP.
//
// The fetcher owns retry policy, redirect following, and the response
// size cap; it knows nothing about crawl scope or scheduling. Redirects
// are followed manually so the caller can see the full chain and index
// every hop.
package fetcher
