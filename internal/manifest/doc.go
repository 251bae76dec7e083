// Package manifest provides SQLite-based storage for mirror run history.
//
// Every completed run is recorded with its per-resource outcomes, which
// lets the status command answer "what did the last mirror of this site
// fetch, and what failed" without re-reading the output tree.
package manifest
