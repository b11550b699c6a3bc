// Package proxy forwards chat-completion requests to an OpenAI-compatible
// upstream provider, exposing the raw streamed response body for the
// orchestrator to forward to the client while it taps the text.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Static errors.
var (
	ErrMissingBaseURL   = errors.New("proxy: missing base URL")
	ErrUpstreamNonOK    = errors.New("proxy: upstream returned non-OK status")
)

func newUpstreamNonOKError(status int, body string) error {
	return fmt.Errorf("%w: %d: %s", ErrUpstreamNonOK, status, body)
}

// Client forwards requests to an OpenAI-compatible chat-completions
// endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New builds a Client. timeout bounds the wait for the upstream's response
// headers (zero means no bound); a streaming response's body read deadline
// is governed by the caller's context, not this timeout, since the client
// library's Timeout field would otherwise cut a long-lived stream short.
func New(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout:   0, // streaming responses may outlive any fixed timeout
			Transport: transport,
		},
	}, nil
}

// ChatCompletions posts body to <baseURL>/v1/chat/completions and returns
// the raw response for the caller to stream (SSE) or read in full
// (non-streaming), depending on what the client requested. The caller owns
// closing the returned body.
func (c *Client) ChatCompletions(ctx context.Context, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", body)
	if err != nil {
		return nil, fmt.Errorf("proxy: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("proxy: request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, newUpstreamNonOKError(resp.StatusCode, string(b))
	}

	return resp, nil
}

// Model is one entry of the OpenAI-compatible model list that GET
// /v1/models reports.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the OpenAI-compatible response body for GET /v1/models.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// DefaultModelList builds the models list body advertising defaultModel as
// the sole configured TTS model.
func DefaultModelList(defaultModel string) ModelList {
	return ModelList{
		Object: "list",
		Data: []Model{
			{ID: defaultModel, Object: "model", OwnedBy: "tts-accelerator"},
		},
	}
}
