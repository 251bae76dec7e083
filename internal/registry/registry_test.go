package registry

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/webmirror/webmirror/internal/model"
)

// TestTryAdmit tests first-admission and repeat-admission semantics.
func TestTryAdmit(t *testing.T) {
	t.Parallel()

	r := New()

	rec, admitted := r.TryAdmit("http://example.com/", 0)
	if !admitted {
		t.Fatal("first TryAdmit should admit")
	}
	if rec.URL != "http://example.com/" || rec.Depth != 0 {
		t.Errorf("record fields = (%q, %d), want URL and depth set", rec.URL, rec.Depth)
	}
	if rec.State != model.StatePending {
		t.Errorf("new record state = %v, want StatePending", rec.State)
	}

	again, admitted := r.TryAdmit("http://example.com/", 3)
	if admitted {
		t.Error("second TryAdmit should not admit")
	}
	if again != rec {
		t.Error("second TryAdmit should return the original record")
	}
	if again.Depth != 0 {
		t.Errorf("depth changed to %d on re-admission", again.Depth)
	}
}

// TestTryAdmitConcurrent verifies the exactly-one guarantee under
// contention: many goroutines admitting the same URL must produce one
// admission and a single shared record.
func TestTryAdmitConcurrent(t *testing.T) {
	t.Parallel()

	const goroutines = 64

	r := New()
	var admissions atomic.Int32
	records := make([]*model.Resource, goroutines)

	var wg sync.WaitGroup
	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, admitted := r.TryAdmit("http://example.com/contended", 1)
			if admitted {
				admissions.Add(1)
			}
			records[i] = rec
		}()
	}
	wg.Wait()

	if got := admissions.Load(); got != 1 {
		t.Errorf("admissions = %d, want exactly 1", got)
	}
	for i, rec := range records {
		if rec != records[0] {
			t.Fatalf("goroutine %d got a different record", i)
		}
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

// TestForward covers rekeying a record after a redirect.
func TestForward(t *testing.T) {
	t.Parallel()

	t.Run("rekeys to unseen final URL", func(t *testing.T) {
		t.Parallel()

		r := New()
		rec, _ := r.TryAdmit("http://example.com/old", 0)

		got, ok := r.Forward(rec, "http://example.com/new")
		if !ok || got != rec {
			t.Fatalf("Forward = (%p, %v), want original record and true", got, ok)
		}
		if rec.URL != "http://example.com/new" {
			t.Errorf("record URL = %q, want final URL", rec.URL)
		}

		// The old URL must now be an alias of the new one.
		if _, admitted := r.TryAdmit("http://example.com/old", 2); admitted {
			t.Error("pre-redirect URL admitted again after Forward")
		}
		if found, ok := r.Lookup("http://example.com/old"); !ok || found != rec {
			t.Error("Lookup through alias should find the forwarded record")
		}
		if r.Len() != 1 {
			t.Errorf("Len() = %d, want 1", r.Len())
		}
	})

	t.Run("yields to already admitted final URL", func(t *testing.T) {
		t.Parallel()

		r := New()
		winner, _ := r.TryAdmit("http://example.com/final", 0)
		loser, _ := r.TryAdmit("http://example.com/redirecting", 1)

		got, ok := r.Forward(loser, "http://example.com/final")
		if ok {
			t.Error("Forward onto an admitted URL should report false")
		}
		if got != winner {
			t.Error("Forward should return the surviving record")
		}
		if r.Len() != 1 {
			t.Errorf("Len() = %d, want 1 after the loser is dropped", r.Len())
		}
	})

	t.Run("no-op when final equals current", func(t *testing.T) {
		t.Parallel()

		r := New()
		rec, _ := r.TryAdmit("http://example.com/here", 0)
		got, ok := r.Forward(rec, "http://example.com/here")
		if !ok || got != rec {
			t.Error("Forward to the same URL should keep the record")
		}
	})
}

// TestAlias tests alternate-URL resolution.
func TestAlias(t *testing.T) {
	t.Parallel()

	r := New()
	rec, _ := r.TryAdmit("http://example.com/final", 0)

	r.Alias("http://example.com/hop1", "http://example.com/final")
	r.Alias("http://example.com/hop2", "http://example.com/final")

	for _, u := range []string{"http://example.com/hop1", "http://example.com/hop2"} {
		if got, ok := r.Lookup(u); !ok || got != rec {
			t.Errorf("Lookup(%q) did not resolve to the final record", u)
		}
		if _, admitted := r.TryAdmit(u, 5); admitted {
			t.Errorf("aliased URL %q was admitted", u)
		}
	}

	// Aliasing an admitted URL must not shadow its record.
	other, _ := r.TryAdmit("http://example.com/other", 0)
	r.Alias("http://example.com/other", "http://example.com/final")
	if got, _ := r.Lookup("http://example.com/other"); got != other {
		t.Error("Alias overwrote an admitted record")
	}
}

// TestSnapshot verifies admission-order iteration.
func TestSnapshot(t *testing.T) {
	t.Parallel()

	r := New()
	urls := []string{
		"http://example.com/a",
		"http://example.com/b",
		"http://example.com/c",
	}
	for _, u := range urls {
		r.TryAdmit(u, 0)
	}

	snap := r.Snapshot()
	if len(snap) != len(urls) {
		t.Fatalf("Snapshot length = %d, want %d", len(snap), len(urls))
	}
	for i, rec := range snap {
		if rec.URL != urls[i] {
			t.Errorf("Snapshot[%d].URL = %q, want %q", i, rec.URL, urls[i])
		}
	}
}
