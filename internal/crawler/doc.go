// Package crawler drives a mirror run: it schedules admitted URLs
// across a bounded worker pool, enforces scope, depth, page budget,
// robots.txt, and per-host politeness, and runs the rewrite phase once
// every fetch has reached a terminal state.
package crawler
