package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/example/tts-accelerator/internal/apierror"
	"github.com/example/tts-accelerator/internal/balancer"
	"github.com/example/tts-accelerator/internal/cache"
	"github.com/example/tts-accelerator/internal/config"
	"github.com/example/tts-accelerator/internal/orchestrator"
	"github.com/example/tts-accelerator/internal/proxy"
	"github.com/example/tts-accelerator/internal/splitter"
	"github.com/example/tts-accelerator/internal/text"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	logger            *slog.Logger
	ttsRequestTimeout time.Duration
	defaultTTSModel   string
	splitterOpts      splitter.Options
}

func defaultOptions() options {
	return options{
		logger:            slog.Default(),
		ttsRequestTimeout: 60 * time.Second,
		defaultTTSModel:   "liang",
		splitterOpts:      splitter.DefaultOptions(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTTSRequestTimeout bounds how long a cache Get waits for synthesis.
func WithTTSRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.ttsRequestTimeout = d }
}

// WithDefaultTTSModel sets the model advertised by GET /v1/models and used
// when a chat-completion request does not specify tts_model.
func WithDefaultTTSModel(model string) Option {
	return func(o *options) { o.defaultTTSModel = model }
}

// WithSplitterOptions sets the thresholds each orchestrator-owned splitter
// is built with.
func WithSplitterOptions(opts splitter.Options) Option {
	return func(o *options) { o.splitterOpts = opts }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

type handler struct {
	proxy    *proxy.Client
	balancer *balancer.Balancer
	cache    *cache.Cache
	opts     options
	log      *slog.Logger
}

// NewHandler returns an http.Handler serving the full ttsaccel surface.
func NewHandler(p *proxy.Client, b *balancer.Balancer, c *cache.Cache, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		proxy:    p,
		balancer: b,
		cache:    c,
		opts:     opts,
		log:      opts.logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handleRoot)
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/cache/stats", h.handleCacheStats)
	mux.HandleFunc("/cache/clear", h.handleCacheClear)
	mux.HandleFunc("/v1/models", h.handleModels)
	mux.HandleFunc("/v1/audio/speech", h.handleSpeech)
	mux.HandleFunc("/v1/chat/completions", h.handleChatCompletions)

	return mux
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}

	return "dev"
}

func (h *handler) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service":     "tts-accelerator",
		"version":     buildVersion(),
		"description": "streaming TTS prefetch accelerator",
	})
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"cache_stats":    h.cache.Stats(),
		"balancer_stats": h.balancer.Stats(),
	})
}

func (h *handler) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.cache.Stats())
}

func (h *handler) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		apierror.Write(w, http.StatusMethodNotAllowed, apierror.CodeInvalidInput, "method not allowed")
		return
	}

	h.cache.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Cache cleared"})
}

func (h *handler) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, proxy.DefaultModelList(h.opts.defaultTTSModel))
}

// speechRequest is the incoming body for POST /v1/audio/speech. Only Model
// and Input are honored; Voice, ResponseFormat, and Speed are accepted for
// OpenAI-client compatibility but otherwise ignored, per spec.
type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice,omitempty"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

func (h *handler) handleSpeech(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		apierror.Write(w, http.StatusMethodNotAllowed, apierror.CodeInvalidInput, "method not allowed")
		return
	}

	var req speechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.Write(w, http.StatusBadRequest, apierror.CodeInvalidInput, "invalid JSON: "+err.Error())
		return
	}

	if req.Input == "" {
		apierror.Write(w, http.StatusBadRequest, apierror.CodeInvalidInput, "input field is required")
		return
	}

	normalized, err := text.Normalize(req.Input)
	if err != nil {
		apierror.Write(w, http.StatusBadRequest, apierror.CodeInvalidInput, "input field is required")
		return
	}
	req.Input = normalized

	model := req.Model
	if model == "" {
		model = h.opts.defaultTTSModel
	}
	if model != h.opts.defaultTTSModel {
		apierror.Write(w, apierror.StatusForCode(apierror.CodeModelNotFound), apierror.CodeModelNotFound,
			fmt.Sprintf("unknown model %q", model))
		return
	}

	generateIfMissing := r.URL.Query().Get("cache_only") != "true"

	start := time.Now()
	audio, ok, err := h.cache.Get(r.Context(), req.Input, model, h.opts.ttsRequestTimeout, generateIfMissing)
	duration := time.Since(start)

	if err != nil {
		h.log.WarnContext(r.Context(), "speech synthesis wait failed",
			"model", model, "text_len", len(req.Input), "duration_ms", duration.Milliseconds(), "error", err)
		apierror.Write(w, http.StatusGatewayTimeout, apierror.CodeGenerationFailed, "synthesis timed out")
		return
	}

	if !ok {
		if !generateIfMissing {
			h.log.InfoContext(r.Context(), "cache-only speech lookup missed",
				"model", model, "text_len", len(req.Input))
			apierror.Write(w, apierror.StatusForCode(apierror.CodeNotFound), apierror.CodeNotFound,
				"no cached audio for this text and model")
			return
		}

		h.log.ErrorContext(r.Context(), "speech synthesis failed",
			"model", model, "text_len", len(req.Input), "duration_ms", duration.Milliseconds())
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeGenerationFailed, "synthesis failed")
		return
	}

	h.log.InfoContext(r.Context(), "speech synthesis complete",
		"model", model, "text_len", len(req.Input), "duration_ms", duration.Milliseconds(), "wav_bytes", len(audio))

	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

func (h *handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		apierror.Write(w, http.StatusMethodNotAllowed, apierror.CodeInvalidInput, "method not allowed")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		apierror.Write(w, http.StatusBadRequest, apierror.CodeInvalidInput, "failed to read request body")
		return
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		apierror.Write(w, http.StatusBadRequest, apierror.CodeInvalidInput, "invalid JSON: "+err.Error())
		return
	}

	ttsEnabled := true
	if raw, ok := fields["tts_enabled"]; ok {
		_ = json.Unmarshal(raw, &ttsEnabled)
		delete(fields, "tts_enabled")
	}

	ttsModel := h.opts.defaultTTSModel
	if raw, ok := fields["tts_model"]; ok {
		var m string
		if json.Unmarshal(raw, &m) == nil && m != "" {
			ttsModel = m
		}
		delete(fields, "tts_model")
	}

	streaming := false
	if raw, ok := fields["stream"]; ok {
		_ = json.Unmarshal(raw, &streaming)
	}

	upstreamBody, err := json.Marshal(fields)
	if err != nil {
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "failed to rebuild request")
		return
	}

	resp, err := h.proxy.ChatCompletions(r.Context(), bytes.NewReader(upstreamBody))
	if err != nil {
		h.log.ErrorContext(r.Context(), "chat completion upstream call failed", "error", err)
		apierror.Write(w, http.StatusBadGateway, apierror.CodeInternal, "upstream chat completion request failed")
		return
	}
	defer resp.Body.Close()

	if !streaming {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, resp.Body)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	orch := orchestrator.New(h.cache, h.opts.splitterOpts, h.log)

	// A client disconnect cancels r.Context(), which stops forwarding, but
	// synthesis tasks already submitted to the cache keep running: they were
	// launched on context.Background() inside cache.generate, not r.Context().
	if err := orch.Stream(r.Context(), resp.Body, w, flusher.Flush, ttsEnabled, ttsModel); err != nil {
		h.log.WarnContext(r.Context(), "chat completion stream ended early", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode JSON response", "error", err)
	}
}

// ---------------------------------------------------------------------------
// Server — wires handler into net/http.Server with graceful shutdown
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
}

// New builds a Server listening on addr, serving handler.
func New(addr string, handler http.Handler, cfg config.ServerConfig) *Server {
	shutdownTimeout := time.Duration(cfg.ShutdownTimeout) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		shutdownTimeout: shutdownTimeout,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// Start serves until ctx is canceled, then gracefully shuts down within the
// configured drain period.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}

		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("http listen: %w", err)
	}
}

// ProbeHTTP GETs /health at addr and returns an error unless it answers 200.
func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}

	return nil
}
