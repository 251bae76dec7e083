// Package model defines the core data structures shared across webmirror:
// resource records, resource kinds, fetch states, and run summaries.
//
// This package has no dependencies on other webmirror packages and serves
// as the common vocabulary between the crawler, the path mapper, the
// manifest database, and the report writers.
package model
