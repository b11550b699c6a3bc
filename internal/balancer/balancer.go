// Package balancer dispatches speech-synthesis requests across a pool of TTS
// HTTP endpoints with per-endpoint concurrency limits, retries, and health
// tracking.
package balancer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/tts-accelerator/internal/endpoint"
)

// Static errors. Dynamic detail is attached with fmt.Errorf's %w verb.
var (
	ErrNoEndpoints       = errors.New("balancer: no endpoints configured")
	ErrAllEndpointsBusy  = errors.New("balancer: no endpoint available")
	ErrUpstreamStatus    = errors.New("balancer: upstream returned non-OK status")
	ErrRetriesExhausted  = errors.New("balancer: retries exhausted")
	ErrEmptyAudio        = errors.New("balancer: upstream returned empty audio")
)

func newUpstreamStatusError(url string, status int, body string) error {
	return fmt.Errorf("%w: %s returned %d: %s", ErrUpstreamStatus, url, status, body)
}

func newRetriesExhaustedError(attempts int, last error) error {
	return fmt.Errorf("%w: after %d attempts: %w", ErrRetriesExhausted, attempts, last)
}

// speechRequest is the outbound body posted to a TTS endpoint's
// /v1/audio/speech route.
type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// Options configures a Balancer.
type Options struct {
	MaxConcurrentPerEndpoint int
	RequestTimeout           time.Duration
	RetryCount               int
	Logger                   *slog.Logger
	HTTPClient               *http.Client
}

// DefaultOptions returns the balancer defaults mirroring the distilled
// Python original's constructor defaults.
func DefaultOptions() Options {
	return Options{
		MaxConcurrentPerEndpoint: 3,
		RequestTimeout:           60 * time.Second,
		RetryCount:               2,
		Logger:                   slog.Default(),
	}
}

// Balancer selects and dispatches requests across a pool of TTS endpoints.
type Balancer struct {
	pool    *endpoint.Pool
	opts    Options
	client  *http.Client
	semMu   sync.Mutex
	sems    map[*endpoint.Endpoint]chan struct{}

	totalRequests      atomic.Int64
	successfulRequests atomic.Int64
	failedRequests     atomic.Int64
}

// New builds a Balancer over pool using opts. A non-positive
// MaxConcurrentPerEndpoint or RequestTimeout and a negative RetryCount are
// replaced with DefaultOptions' values; a RetryCount of zero is kept and
// means a single attempt with no retries.
func New(pool *endpoint.Pool, opts Options) *Balancer {
	if opts.MaxConcurrentPerEndpoint <= 0 {
		opts.MaxConcurrentPerEndpoint = DefaultOptions().MaxConcurrentPerEndpoint
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultOptions().RequestTimeout
	}
	if opts.RetryCount < 0 {
		opts.RetryCount = DefaultOptions().RetryCount
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.RequestTimeout}
	}

	b := &Balancer{
		pool:   pool,
		opts:   opts,
		client: opts.HTTPClient,
		sems:   make(map[*endpoint.Endpoint]chan struct{}),
	}

	for _, ep := range pool.All() {
		b.sems[ep] = make(chan struct{}, opts.MaxConcurrentPerEndpoint)
	}

	return b
}

// Request synthesizes text with model, retrying with exponential backoff
// (0.5s * 2^attempt) across up to RetryCount+1 total attempts. It returns
// the first successful response's audio bytes, or the last error wrapped in
// ErrRetriesExhausted once attempts are exhausted.
func (b *Balancer) Request(ctx context.Context, text, model string) ([]byte, error) {
	b.totalRequests.Add(1)

	if b.pool.Len() == 0 {
		b.failedRequests.Add(1)
		return nil, ErrNoEndpoints
	}

	var lastErr error

	for attempt := 0; attempt <= b.opts.RetryCount; attempt++ {
		if attempt > 0 {
			backoff := 500 * time.Millisecond * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				b.failedRequests.Add(1)
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		audio, err := b.attempt(ctx, text, model)
		if err == nil {
			b.successfulRequests.Add(1)
			return audio, nil
		}

		lastErr = err
		b.opts.Logger.WarnContext(ctx, "balancer request attempt failed",
			"attempt", attempt, "error", err)
	}

	b.failedRequests.Add(1)
	return nil, newRetriesExhaustedError(b.opts.RetryCount+1, lastErr)
}

// attempt selects one endpoint and performs a single synthesis call.
func (b *Balancer) attempt(ctx context.Context, text, model string) ([]byte, error) {
	ep, ok := b.pool.Select()
	if !ok {
		return nil, ErrAllEndpointsBusy
	}

	sem := b.semFor(ep)

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-sem }()

	b.pool.Acquire(ep)
	defer b.pool.Release(ep)

	start := time.Now()
	audio, err := b.doRequest(ctx, ep, text, model)
	elapsed := time.Since(start)

	if err != nil {
		b.pool.RecordFailure(ep)
		return nil, err
	}

	b.pool.RecordSuccess(ep, elapsed)
	return audio, nil
}

func (b *Balancer) semFor(ep *endpoint.Endpoint) chan struct{} {
	b.semMu.Lock()
	defer b.semMu.Unlock()

	sem, ok := b.sems[ep]
	if !ok {
		sem = make(chan struct{}, b.opts.MaxConcurrentPerEndpoint)
		b.sems[ep] = sem
	}
	return sem
}

func (b *Balancer) doRequest(ctx context.Context, ep *endpoint.Endpoint, text, model string) ([]byte, error) {
	reqBody, err := json.Marshal(speechRequest{
		Model:          model,
		Input:          text,
		Voice:          "alloy",
		ResponseFormat: "wav",
	})
	if err != nil {
		return nil, fmt.Errorf("balancer: marshal request: %w", err)
	}

	url := ep.URL + "/v1/audio/speech"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("balancer: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("balancer: request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("balancer: read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, newUpstreamStatusError(ep.URL, resp.StatusCode, string(body))
	}

	if len(body) == 0 {
		return nil, ErrEmptyAudio
	}

	return body, nil
}

// HealthCheck GETs <endpoint>/health for every pool member and updates
// availability accordingly. It does not return an error: individual
// endpoint failures only affect that endpoint's availability.
func (b *Balancer) HealthCheck(ctx context.Context) {
	client := &http.Client{Timeout: 10 * time.Second}

	for _, ep := range b.pool.All() {
		ok := b.probe(ctx, client, ep)
		b.pool.SetAvailable(ep, ok)
	}
}

func (b *Balancer) probe(ctx context.Context, client *http.Client, ep *endpoint.Endpoint) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := client.Do(req)
	if err != nil {
		b.opts.Logger.WarnContext(ctx, "health check failed", "endpoint", ep.URL, "error", err)
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// StartHealthChecks runs HealthCheck on a ticker until ctx is canceled or
// stop is closed, whichever comes first. It never runs detached: callers
// must arrange for ctx to be canceled (or stop closed) at shutdown.
func (b *Balancer) StartHealthChecks(ctx context.Context, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			b.HealthCheck(ctx)
		}
	}
}

// Stats describes the balancer's process-wide request counters and current
// pool state, surfaced by GET /health as balancer_stats.
type Stats struct {
	TotalRequests      int64            `json:"total_requests"`
	SuccessfulRequests int64            `json:"successful_requests"`
	FailedRequests     int64            `json:"failed_requests"`
	SuccessRate        float64          `json:"success_rate"`
	Endpoints          []endpoint.Stats `json:"endpoints"`
}

// Stats returns the process-wide request counters alongside a snapshot of
// every endpoint's current state.
func (b *Balancer) Stats() Stats {
	total := b.totalRequests.Load()
	success := b.successfulRequests.Load()
	failed := b.failedRequests.Load()

	var successRate float64
	if total > 0 {
		successRate = float64(success) / float64(total)
	}

	return Stats{
		TotalRequests:      total,
		SuccessfulRequests: success,
		FailedRequests:     failed,
		SuccessRate:        successRate,
		Endpoints:          b.pool.Snapshot(),
	}
}
