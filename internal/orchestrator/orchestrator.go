// Package orchestrator wires the splitter and cache together over a
// streamed chat-completion response: every chunk is forwarded to the
// client unchanged while its text delta is fed into a per-stream splitter,
// and every segment the splitter emits is submitted for prefetch synthesis.
package orchestrator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/example/tts-accelerator/internal/splitter"
	"github.com/google/uuid"
)

// Submitter is the subset of internal/cache.Cache the orchestrator needs.
// Accepting an interface (rather than *cache.Cache directly) keeps the
// orchestrator testable without a real balancer behind the cache.
type Submitter interface {
	Submit(text, model string) string
}

const ssePrefix = "data: "
const sseDone = "[DONE]"

// chatChunk is the minimal slice of an OpenAI-compatible streaming chunk
// the orchestrator needs: the text delta of the first choice, if present.
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Orchestrator drives one streamed chat-completion forward while prefetching
// TTS for its text as it arrives.
type Orchestrator struct {
	cache        Submitter
	splitterOpts splitter.Options
	logger       *slog.Logger
}

// New builds an Orchestrator submitting segments to cache.
func New(cache Submitter, splitterOpts splitter.Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{cache: cache, splitterOpts: splitterOpts, logger: logger}
}

// Stream reads Server-Sent-Events chunks from upstream, writing each line
// to w immediately (calling flush after every write so the client sees
// bytes as they arrive), while feeding every delta's text content into a
// fresh splitter bound to this call and submitting every segment the
// splitter emits to o.cache under ttsModel.
//
// On any stream ending — success, upstream error, or ctx cancellation from
// a client disconnect — Stream flushes the splitter's residual buffer and
// submits the final segment, then returns. Submission of in-flight segments
// is never canceled by a client disconnect: synthesis started before the
// disconnect keeps running and populates the cache for a later retry.
func (o *Orchestrator) Stream(ctx context.Context, upstream io.Reader, w io.Writer, flush func(), ttsEnabled bool, ttsModel string) error {
	streamID := uuid.NewString()
	sp := splitter.New(o.splitterOpts)
	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()

		if _, err := w.Write(line); err != nil {
			o.flushResidual(streamID, sp, ttsEnabled, ttsModel)
			return fmt.Errorf("orchestrator: write to client: %w", err)
		}
		if _, err := w.Write([]byte("\n")); err != nil {
			o.flushResidual(streamID, sp, ttsEnabled, ttsModel)
			return fmt.Errorf("orchestrator: write to client: %w", err)
		}
		if flush != nil {
			flush()
		}

		if !ttsEnabled {
			continue
		}

		text, ok := extractDelta(line)
		if !ok {
			continue
		}

		for _, seg := range sp.Feed(text) {
			o.submit(streamID, seg, ttsModel)
		}
	}

	if err := scanner.Err(); err != nil {
		o.flushResidual(streamID, sp, ttsEnabled, ttsModel)
		return fmt.Errorf("orchestrator: read upstream: %w", err)
	}

	o.flushResidual(streamID, sp, ttsEnabled, ttsModel)
	return nil
}

func (o *Orchestrator) flushResidual(streamID string, sp *splitter.Splitter, ttsEnabled bool, ttsModel string) {
	if !ttsEnabled {
		return
	}
	if seg, ok := sp.Flush(); ok {
		o.submit(streamID, seg, ttsModel)
	}
}

func (o *Orchestrator) submit(streamID, segment, model string) {
	key := o.cache.Submit(segment, model)
	o.logger.Debug("orchestrator submitted segment",
		"stream_id", streamID, "key", key, "model", model, "len", len(segment))
}

// extractDelta parses one SSE line and returns its text delta, if any. A
// non-"data: " line, the terminal "[DONE]" marker, or a chunk carrying no
// content all report ok=false.
func extractDelta(line []byte) (string, bool) {
	trimmed := bytes.TrimSpace(line)
	if !bytes.HasPrefix(trimmed, []byte(ssePrefix)) {
		return "", false
	}

	payload := bytes.TrimSpace(trimmed[len(ssePrefix):])
	if string(payload) == sseDone {
		return "", false
	}

	var chunk chatChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return "", false
	}

	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
		return "", false
	}

	return chunk.Choices[0].Delta.Content, true
}
