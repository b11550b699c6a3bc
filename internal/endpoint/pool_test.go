package endpoint_test

import (
	"testing"
	"time"

	"github.com/example/tts-accelerator/internal/endpoint"
)

func TestNewPool_TrimsTrailingSlash(t *testing.T) {
	p := endpoint.NewPool([]string{"http://tts-1:8000/"})

	eps := p.All()
	if len(eps) != 1 {
		t.Fatalf("got %d endpoints, want 1", len(eps))
	}
	if got, want := eps[0].URL, "http://tts-1:8000"; got != want {
		t.Fatalf("URL = %q, want %q", got, want)
	}
}

func TestSelect_PrefersLeastLoaded(t *testing.T) {
	p := endpoint.NewPool([]string{"http://a", "http://b"})
	all := p.All()
	a, b := all[0], all[1]

	p.Acquire(a)
	p.Acquire(a)
	p.Acquire(b)

	got, ok := p.Select()
	if !ok {
		t.Fatal("Select() returned ok=false")
	}
	if got != b {
		t.Fatalf("Select() = %s, want %s (fewer in-flight)", got.URL, b.URL)
	}
}

func TestSelect_TiebreaksOnAvgResponseTime(t *testing.T) {
	p := endpoint.NewPool([]string{"http://a", "http://b"})
	all := p.All()
	a, b := all[0], all[1]

	p.RecordSuccess(a, 200*time.Millisecond)
	p.RecordSuccess(b, 50*time.Millisecond)

	got, ok := p.Select()
	if !ok {
		t.Fatal("Select() returned ok=false")
	}
	if got != b {
		t.Fatalf("Select() = %s, want %s (lower avg response time)", got.URL, b.URL)
	}
}

func TestSelect_EmptyPool(t *testing.T) {
	p := endpoint.NewPool(nil)

	if _, ok := p.Select(); ok {
		t.Fatal("Select() on empty pool returned ok=true")
	}
}

// statsFor finds the Snapshot entry for ep by URL: Pool exposes state
// outside its own lock only through Stats, never through Endpoint getters.
func statsFor(t *testing.T, p *endpoint.Pool, ep *endpoint.Endpoint) endpoint.Stats {
	t.Helper()

	for _, s := range p.Snapshot() {
		if s.URL == ep.URL {
			return s
		}
	}
	t.Fatalf("no stats found for endpoint %s", ep.URL)
	return endpoint.Stats{}
}

func TestRecordFailure_DemotesAfterThreeConsecutive(t *testing.T) {
	p := endpoint.NewPool([]string{"http://a"})
	a := p.All()[0]

	for i := 0; i < 2; i++ {
		p.RecordFailure(a)
		if !statsFor(t, p, a).Available {
			t.Fatalf("endpoint demoted after only %d failures", i+1)
		}
	}

	p.RecordFailure(a)
	if statsFor(t, p, a).Available {
		t.Fatal("endpoint not demoted after 3 consecutive failures")
	}
}

func TestRecordSuccess_ClearsDemotion(t *testing.T) {
	p := endpoint.NewPool([]string{"http://a"})
	a := p.All()[0]

	p.RecordFailure(a)
	p.RecordFailure(a)
	p.RecordFailure(a)
	if statsFor(t, p, a).Available {
		t.Fatal("endpoint should be unavailable after 3 failures")
	}

	p.RecordSuccess(a, 10*time.Millisecond)
	if !statsFor(t, p, a).Available {
		t.Fatal("RecordSuccess should restore availability")
	}
}

func TestSelect_GlobalResetWhenAllUnavailable(t *testing.T) {
	p := endpoint.NewPool([]string{"http://a", "http://b"})
	for _, ep := range p.All() {
		p.RecordFailure(ep)
		p.RecordFailure(ep)
		p.RecordFailure(ep)
	}

	got, ok := p.Select()
	if !ok {
		t.Fatal("Select() should recover via global reset, got ok=false")
	}
	if !statsFor(t, p, got).Available {
		t.Fatal("selected endpoint should be available after global reset")
	}

	for _, s := range p.Snapshot() {
		if !s.Available {
			t.Fatalf("endpoint %s not marked available after global reset", s.URL)
		}
	}
}

func TestAcquireRelease_TracksInFlight(t *testing.T) {
	p := endpoint.NewPool([]string{"http://a"})
	a := p.All()[0]

	p.Acquire(a)
	p.Acquire(a)
	if got := statsFor(t, p, a).InFlight; got != 2 {
		t.Fatalf("InFlight = %d, want 2", got)
	}

	p.Release(a)
	if got := statsFor(t, p, a).InFlight; got != 1 {
		t.Fatalf("InFlight = %d, want 1", got)
	}
}

func TestRelease_NeverGoesNegative(t *testing.T) {
	p := endpoint.NewPool([]string{"http://a"})
	a := p.All()[0]

	p.Release(a)
	if got := statsFor(t, p, a).InFlight; got != 0 {
		t.Fatalf("InFlight = %d, want 0", got)
	}
}

func TestSnapshot_ReflectsState(t *testing.T) {
	p := endpoint.NewPool([]string{"http://a"})
	a := p.All()[0]
	p.RecordSuccess(a, 30*time.Millisecond)

	snap := p.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("got %d stats, want 1", len(snap))
	}
	if snap[0].CompletedRequests != 1 {
		t.Fatalf("CompletedRequests = %d, want 1", snap[0].CompletedRequests)
	}
	if snap[0].AvgResponseTime != 30*time.Millisecond {
		t.Fatalf("AvgResponseTime = %v, want 30ms", snap[0].AvgResponseTime)
	}
}
