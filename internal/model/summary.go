package model

import "time"

// Run states reported in the summary and stored in the manifest.
const (
	// RunCompleted means every admitted resource reached a terminal
	// state and the rewrite phase finished.
	RunCompleted = "completed"

	// RunAborted means the run was cancelled; already-downloaded
	// resources remain valid on disk.
	RunAborted = "aborted"
)

// Summary describes the outcome of one mirror run.
type Summary struct {
	// RootURL is the first crawl root, kept for display and the manifest.
	RootURL string `json:"root_url"`

	// OutputDir is the directory the mirror was written to.
	OutputDir string `json:"output_dir"`

	// State is RunCompleted or RunAborted.
	State string `json:"state"`

	// StartedAt and FinishedAt bound the run.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Done, Failed, and Skipped count resources by outcome. Skipped
	// counts links that were discovered but rejected by scope, depth,
	// or page-budget policy (such links stay pointing at the live site).
	Done    int `json:"done"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`

	// Resources lists every admitted resource in admission order.
	Resources []*Resource `json:"resources,omitempty"`
}

// Total returns the number of admitted resources.
func (s *Summary) Total() int {
	return s.Done + s.Failed
}

// Duration returns the wall-clock duration of the run.
func (s *Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
