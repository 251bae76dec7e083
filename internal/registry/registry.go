package registry

import (
	"sync"

	"github.com/webmirror/webmirror/internal/model"
)

// Registry is the shared de-duplication ledger for one crawl run.
// It guarantees that each canonical URL is admitted at most once across
// all concurrent workers, which both prevents duplicate downloads and
// turns cyclic link graphs into a finite admission process.
//
// Design decision: We guard the maps with a plain mutex rather than an
// admission goroutine because admission is a handful of map operations;
// the critical section never blocks on I/O.
type Registry struct {
	mu sync.Mutex

	// records holds one resource per admitted canonical URL.
	records map[string]*model.Resource

	// aliases maps alternate spellings (pre-redirect URLs, every hop of
	// a redirect chain) to the canonical URL that owns the record.
	aliases map[string]string

	// order remembers admission order for deterministic snapshots.
	order []string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		records: make(map[string]*model.Resource),
		aliases: make(map[string]string),
	}
}

// TryAdmit admits a canonical URL, creating its resource record.
//
// Exactly one concurrent caller per URL receives admitted=true together
// with a fresh record in StatePending; every other caller receives the
// existing record and admitted=false. Aliased URLs count as already seen.
func (r *Registry) TryAdmit(canonical string, depth int) (*model.Resource, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if target, ok := r.aliases[canonical]; ok {
		canonical = target
	}
	if rec, ok := r.records[canonical]; ok {
		return rec, false
	}

	rec := &model.Resource{
		URL:   canonical,
		Depth: depth,
		State: model.StatePending,
	}
	r.records[canonical] = rec
	r.order = append(r.order, canonical)
	return rec, true
}

// Forward rekeys a record after a redirect so that exactly one record is
// keyed by the final URL. The old URL becomes an alias of finalURL.
//
// If finalURL is already admitted (or aliased), the record passed in is
// discarded from the registry and the surviving record is returned with
// ok=false, telling the caller to skip processing: another worker owns
// the final URL.
func (r *Registry) Forward(rec *model.Resource, finalURL string) (*model.Resource, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if finalURL == rec.URL {
		return rec, true
	}

	if target, aliased := r.aliases[finalURL]; aliased {
		finalURL = target
	}
	if existing, ok := r.records[finalURL]; ok {
		r.drop(rec.URL)
		r.aliases[rec.URL] = finalURL
		return existing, false
	}

	r.drop(rec.URL)
	r.aliases[rec.URL] = finalURL
	rec.URL = finalURL
	r.records[finalURL] = rec
	r.order = append(r.order, finalURL)
	return rec, true
}

// Alias records an alternate URL for an admitted canonical URL, so that
// links pointing at any hop of a redirect chain resolve to the same
// record. Aliasing a URL that is itself admitted is ignored.
func (r *Registry) Alias(alternate, canonical string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if alternate == canonical {
		return
	}
	if _, ok := r.records[alternate]; ok {
		return
	}
	r.aliases[alternate] = canonical
}

// Lookup returns the record for a canonical URL, following aliases.
func (r *Registry) Lookup(canonical string) (*model.Resource, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if target, ok := r.aliases[canonical]; ok {
		canonical = target
	}
	rec, ok := r.records[canonical]
	return rec, ok
}

// Snapshot returns all admitted records in admission order.
func (r *Registry) Snapshot() []*model.Resource {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*model.Resource, 0, len(r.order))
	for _, u := range r.order {
		if rec, ok := r.records[u]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// Len returns the number of admitted records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// drop removes a URL from the records map and the admission order.
// Callers must hold the mutex.
func (r *Registry) drop(canonical string) {
	delete(r.records, canonical)
	for i, u := range r.order {
		if u == canonical {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
