// Package endpoint tracks the TTS upstream servers a Balancer dispatches to.
package endpoint

import (
	"strings"
	"sync"
	"time"
)

// Endpoint is the mutable record for one TTS upstream server.
//
// All fields are protected by the owning Pool's mutex; callers must not
// mutate an Endpoint directly outside of Pool methods.
type Endpoint struct {
	URL string

	available         bool
	inFlight          int
	completedRequests int64
	totalResponseTime time.Duration
	consecutiveErrors int
	lastRequestAt     time.Time
}

// AvgResponseTime returns the mean response time across completed requests,
// or zero when no requests have completed yet.
func (e *Endpoint) AvgResponseTime() time.Duration {
	if e.completedRequests == 0 {
		return 0
	}

	return e.totalResponseTime / time.Duration(e.completedRequests)
}

// Stats is a point-in-time snapshot of one endpoint, safe to read after the
// Pool's lock has been released.
type Stats struct {
	URL               string        `json:"url"`
	Available         bool          `json:"available"`
	InFlight          int           `json:"in_flight"`
	CompletedRequests int64         `json:"completed_requests"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	AvgResponseTime   time.Duration `json:"avg_response_time_ns"`
}

// maxConsecutiveErrors is the number of consecutive failures after which an
// endpoint is demoted to unavailable.
const maxConsecutiveErrors = 3

// Pool holds a set of TTS endpoints in insertion order and implements
// least-loaded/latency selection with a global-reset fallback.
type Pool struct {
	mu        sync.Mutex
	endpoints []*Endpoint
}

// NewPool builds a Pool from a list of endpoint URLs. Trailing slashes are
// stripped so that URL concatenation elsewhere never produces a double
// slash.
func NewPool(urls []string) *Pool {
	endpoints := make([]*Endpoint, 0, len(urls))
	for _, u := range urls {
		endpoints = append(endpoints, &Endpoint{
			URL:       strings.TrimRight(u, "/"),
			available: true,
		})
	}

	return &Pool{endpoints: endpoints}
}

// Len returns the number of endpoints in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.endpoints)
}

// Select returns the available endpoint minimizing the lexicographic pair
// (in-flight count, average response time). If every endpoint is
// unavailable, Select performs a global reset — marking all endpoints
// available and clearing their error counters — before selecting again.
// Select returns false only when the pool holds no endpoints at all.
func (p *Pool) Select() (*Endpoint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.endpoints) == 0 {
		return nil, false
	}

	best := p.bestAvailableLocked()
	if best != nil {
		return best, true
	}

	p.resetAllLocked()

	best = p.bestAvailableLocked()
	if best == nil {
		// Can only happen with a zero-length pool, already handled above.
		return nil, false
	}

	return best, true
}

func (p *Pool) bestAvailableLocked() *Endpoint {
	var best *Endpoint

	for _, ep := range p.endpoints {
		if !ep.available {
			continue
		}

		if best == nil || betterLocked(ep, best) {
			best = ep
		}
	}

	return best
}

func betterLocked(a, b *Endpoint) bool {
	if a.inFlight != b.inFlight {
		return a.inFlight < b.inFlight
	}

	return a.AvgResponseTime() < b.AvgResponseTime()
}

// resetAllLocked marks every endpoint available and clears its consecutive
// error count. Callers must hold p.mu.
func (p *Pool) resetAllLocked() {
	for _, ep := range p.endpoints {
		ep.available = true
		ep.consecutiveErrors = 0
	}
}

// Acquire increments an endpoint's in-flight count. Callers must pair every
// Acquire with a Release, typically via defer, on every exit path.
func (p *Pool) Acquire(ep *Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ep.inFlight++
	ep.lastRequestAt = time.Now()
}

// Release decrements an endpoint's in-flight count. It is a no-op below
// zero, which should never occur if Acquire/Release are correctly paired.
func (p *Pool) Release(ep *Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ep.inFlight > 0 {
		ep.inFlight--
	}
}

// RecordSuccess records a completed request's latency against ep, resets its
// consecutive-error count, and re-asserts its availability.
func (p *Pool) RecordSuccess(ep *Endpoint, latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ep.completedRequests++
	ep.totalResponseTime += latency
	ep.consecutiveErrors = 0
	ep.available = true
}

// RecordFailure records a failed request against ep. After three consecutive
// failures the endpoint is marked unavailable.
func (p *Pool) RecordFailure(ep *Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ep.consecutiveErrors++
	if ep.consecutiveErrors >= maxConsecutiveErrors {
		ep.available = false
	}
}

// Reset marks every endpoint available and clears error counters: the same
// global reset Select performs when every endpoint is unavailable, callable
// without waiting for that. The balancer's health-check loop does not use
// it; it sets availability per endpoint through SetAvailable.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resetAllLocked()
}

// SetAvailable directly sets one endpoint's availability, used by the
// balancer's optional health-check loop.
func (p *Pool) SetAvailable(ep *Endpoint, available bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ep.available = available
	if available {
		ep.consecutiveErrors = 0
	}
}

// Snapshot returns a point-in-time Stats slice, one entry per endpoint, in
// pool order.
func (p *Pool) Snapshot() []Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Stats, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		out = append(out, Stats{
			URL:               ep.URL,
			Available:         ep.available,
			InFlight:          ep.inFlight,
			CompletedRequests: ep.completedRequests,
			ConsecutiveErrors: ep.consecutiveErrors,
			AvgResponseTime:   ep.AvgResponseTime(),
		})
	}

	return out
}

// All returns the pool's endpoints in insertion order, for callers (the
// balancer's health-check loop) that need to iterate every endpoint
// regardless of availability.
func (p *Pool) All() []*Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*Endpoint, len(p.endpoints))
	copy(out, p.endpoints)

	return out
}
