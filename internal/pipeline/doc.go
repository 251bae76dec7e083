// Package pipeline orchestrates the stages of a mirror run.
//
// A run is expressed as an ordered list of steps (mirror, record to the
// manifest database, write the report) executed against a shared Job.
// The BatchProcessor runs the same pipeline against multiple sites
// concurrently with a bounded degree of parallelism.
package pipeline
