package model

import "fmt"

// FetchState tracks a resource's position in its lifecycle.
// Transitions are linear: Pending -> Fetching -> Done | Failed.
type FetchState int

const (
	// StatePending means the URL has been admitted but no worker has
	// started fetching it yet.
	StatePending FetchState = iota

	// StateFetching means a worker currently owns the resource.
	StateFetching

	// StateDone means the resource was fetched successfully and buffered
	// for the write phase.
	StateDone

	// StateFailed means the fetch or the file write failed terminally.
	StateFailed
)

// String returns the lowercase state name used in logs and the manifest.
func (s FetchState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFetching:
		return "fetching"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Resource is the record of one admitted URL for the lifetime of a crawl.
//
// A Resource is created exclusively by registry admission and from that
// point is owned by the single worker that dequeued it. Only that worker
// mutates the record, through the Mark* transition methods, so no field
// access requires locking. The registry itself only guards the map that
// holds the records.
type Resource struct {
	// URL is the canonical URL this record is keyed by. After a redirect
	// the registry rekeys the record so URL always names the final,
	// post-redirect location.
	URL string `json:"url"`

	// Depth is the link distance from the crawl root (root = 0).
	Depth int `json:"depth"`

	// Kind classifies the resource once the content type is known.
	Kind Kind `json:"kind"`

	// State is the resource's lifecycle state.
	State FetchState `json:"state"`

	// LocalPath is the path of the mirrored file relative to the output
	// root, assigned by the path mapper exactly once.
	LocalPath string `json:"local_path,omitempty"`

	// ContentType is the media type reported by the server, without
	// parameters. Empty when the server sent none.
	ContentType string `json:"content_type,omitempty"`

	// StatusCode is the final HTTP status of the fetch.
	StatusCode int `json:"status_code,omitempty"`

	// Error holds the failure reason when State is StateFailed.
	Error string `json:"error,omitempty"`

	// Body holds the raw response bytes between the fetch phase and the
	// write phase, where rewritable documents are rewritten and every
	// fetched body lands on disk.
	Body []byte `json:"-"`
}

// MarkFetching transitions the resource to StateFetching.
func (r *Resource) MarkFetching() {
	r.State = StateFetching
}

// MarkDone transitions the resource to StateDone.
func (r *Resource) MarkDone() {
	r.State = StateDone
	r.Error = ""
}

// MarkFailed transitions the resource to StateFailed with the given reason.
// A failed resource keeps no body.
func (r *Resource) MarkFailed(reason string) {
	r.State = StateFailed
	r.Error = reason
	r.Body = nil
}

// Terminal reports whether the resource has reached Done or Failed.
func (r *Resource) Terminal() bool {
	return r.State == StateDone || r.State == StateFailed
}

// ReleaseBody drops the buffered response bytes once the write phase
// no longer needs them.
func (r *Resource) ReleaseBody() {
	r.Body = nil
}
