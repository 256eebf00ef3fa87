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

	"github.com/example/go-urltok/internal/batch"
	"github.com/example/go-urltok/internal/codec"
	"github.com/example/go-urltok/internal/config"
	"github.com/example/go-urltok/internal/metrics"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
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

// BatchTokenizer tokenizes an ordered batch of URLs.
type BatchTokenizer interface {
	TokenizeBatch(ctx context.Context, urls batch.Request) (batch.Result, error)
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxBodyBytes   int64
	workers        int
	requestTimeout time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
	codec          codec.Codec
	rateLimit      float64
	rateBurst      int
}

func defaultOptions() options {
	return options{
		maxBodyBytes:   8 << 20,
		workers:        8,
		requestTimeout: 30 * time.Second,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxBodyBytes sets the maximum accepted request body size.
func WithMaxBodyBytes(n int64) Option {
	return func(o *options) { o.maxBodyBytes = n }
}

// WithWorkers sets the maximum number of batches tokenized concurrently.
// Zero disables throttling.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request tokenization deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records HTTP and codec metrics on m and serves GET /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithCodec sets the frame codec used by POST /v1/tokenize/frame.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithRateLimit caps tokenize requests at rps per second across all clients,
// allowing bursts of burst requests. Excess requests get 429. rps <= 0
// disables the limit; burst < 1 defaults to max(1, rps).
func WithRateLimit(rps float64, burst int) Option {
	return func(o *options) {
		o.rateLimit = rps
		o.rateBurst = burst
	}
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

const (
	pathHealth   = "/health"
	pathTokenize = "/v1/tokenize"
	pathFrame    = "/v1/tokenize/frame"
	pathMetrics  = "/metrics"
)

// handler holds the dependencies needed to serve HTTP requests.
type handler struct {
	tok     BatchTokenizer
	opts    options
	sem     chan struct{} // bounds concurrent batches
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewHandler returns an http.Handler that serves /health, POST /v1/tokenize,
// POST /v1/tokenize/frame and, when metrics are configured, /metrics.
func NewHandler(tok BatchTokenizer, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		tok:  tok,
		opts: opts,
		log:  opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}
	if opts.rateLimit > 0 {
		burst := opts.rateBurst
		if burst < 1 {
			burst = max(1, int(opts.rateLimit))
		}
		h.limiter = rate.NewLimiter(rate.Limit(opts.rateLimit), burst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(pathHealth, h.handleHealth)
	mux.HandleFunc(pathTokenize, h.handleTokenize)
	mux.HandleFunc(pathFrame, h.handleFrame)
	if opts.metrics != nil {
		mux.Handle(pathMetrics, opts.metrics.Handler())
	}
	return h.instrument(mux)
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildVersion(),
	})
}

type tokenizeRequest struct {
	URLs []string `json:"urls"`
}

type tokenizeResponse struct {
	Items batch.Result `json:"items"`
}

// decodeURLs accepts either {"urls":[...]} or a bare JSON array.
func decodeURLs(body []byte) (batch.Request, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("request body is required")
	}

	var urls []string
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &urls); err != nil {
			return nil, err
		}
	} else {
		var req tokenizeRequest
		if err := json.Unmarshal(trimmed, &req); err != nil {
			return nil, err
		}
		urls = req.URLs
	}

	if urls == nil {
		urls = []string{}
	}
	return urls, nil
}

func (h *handler) handleTokenize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !h.allow(w, r) {
		return
	}

	format := r.URL.Query().Get("format")
	if format != "" && format != "items" && format != "terms" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown format %q (want items|terms)", format))
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	urls, err := decodeURLs(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	res, ok := h.run(w, r, urls)
	if !ok {
		return
	}

	if format == "terms" {
		writeJSON(w, http.StatusOK, codec.Terms(res))
		return
	}
	writeJSON(w, http.StatusOK, tokenizeResponse{Items: res})
}

func (h *handler) handleFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !h.allow(w, r) {
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	urls, err := h.opts.codec.DecodeRequest(body)
	if err != nil {
		h.opts.metrics.CodecError(codec.Reason(err))
		h.log.WarnContext(r.Context(), "rejected frame",
			slog.String("reason", codec.Reason(err)),
			slog.Int("body_bytes", len(body)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, ok := h.run(w, r, urls)
	if !ok {
		return
	}

	frame, err := h.opts.codec.EncodeResult(res)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(frame)
}

// allow applies the request rate limit. It writes 429 and reports false when
// the limit is exhausted.
func (h *handler) allow(w http.ResponseWriter, r *http.Request) bool {
	if h.limiter == nil || h.limiter.Allow() {
		return true
	}
	h.log.WarnContext(r.Context(), "rate limit exceeded", slog.String("path", r.URL.Path))
	w.Header().Set("Retry-After", "1")
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

// readBody reads the request body up to the configured limit. It writes the
// error response itself and reports false on failure.
func (h *handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is required")
		return nil, false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("body exceeds maximum size of %d bytes", h.opts.maxBodyBytes))
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return nil, false
	}
	return body, true
}

// run acquires a worker slot and tokenizes urls under the request timeout.
// It writes the error response itself and reports false on failure.
func (h *handler) run(w http.ResponseWriter, r *http.Request, urls batch.Request) (batch.Result, bool) {
	// Acquire a worker slot, honouring context cancellation while waiting.
	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
		case <-r.Context().Done():
			writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
			return nil, false
		}
		defer func() { <-h.sem }()
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	start := time.Now()
	res, err := h.tok.TokenizeBatch(ctx, urls)
	durationMS := time.Since(start).Milliseconds()

	if err != nil {
		switch {
		case errors.Is(err, batch.ErrBatchTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			h.log.WarnContext(r.Context(), "tokenization timed out",
				slog.Int("urls", len(urls)),
				slog.Int64("duration_ms", durationMS),
			)
			writeError(w, http.StatusGatewayTimeout, "tokenization timed out")
		case errors.Is(err, context.Canceled):
			writeError(w, http.StatusServiceUnavailable, "request cancelled")
		default:
			h.log.ErrorContext(r.Context(), "tokenization failed",
				slog.Int("urls", len(urls)),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}

	failed := 0
	for _, it := range res {
		if !it.OK() {
			failed++
		}
	}

	h.log.InfoContext(r.Context(), "batch tokenized",
		slog.String("path", r.URL.Path),
		slog.Int("urls", len(urls)),
		slog.Int("failed", failed),
		slog.Int64("duration_ms", durationMS),
	)

	return res, true
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *handler) instrument(next http.Handler) http.Handler {
	if h.opts.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		h.opts.metrics.ObserveHTTP(routeLabel(r.URL.Path), r.Method, rec.status, time.Since(start))
	})
}

// routeLabel keeps metric cardinality bounded for unknown paths.
func routeLabel(path string) string {
	switch path {
	case pathHealth, pathTokenize, pathFrame, pathMetrics:
		return path
	default:
		return "other"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server: wires handler into net/http.Server with graceful shutdown
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	tok             BatchTokenizer
	opts            []Option
	shutdownTimeout time.Duration
}

// New returns a Server for tok configured from cfg. Extra options are applied
// after the config-derived ones.
func New(cfg config.Config, tok BatchTokenizer, optFns ...Option) *Server {
	shutdown := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	if shutdown <= 0 {
		shutdown = 30 * time.Second
	}
	return &Server{
		cfg:             cfg,
		tok:             tok,
		opts:            optFns,
		shutdownTimeout: shutdown,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// handlerOptions derives handler options from the config.
func (s *Server) handlerOptions() []Option {
	opts := []Option{
		WithWorkers(s.cfg.Server.Workers),
		WithCodec(codec.Codec{MaxFrameBytes: s.cfg.Codec.MaxFrameBytes}),
	}
	if s.cfg.Server.MaxBodyBytes > 0 {
		opts = append(opts, WithMaxBodyBytes(s.cfg.Server.MaxBodyBytes))
	}
	if s.cfg.Server.RequestTimeout > 0 {
		opts = append(opts, WithRequestTimeout(time.Duration(s.cfg.Server.RequestTimeout)*time.Second))
	}
	if s.cfg.Server.RateLimit > 0 {
		opts = append(opts, WithRateLimit(s.cfg.Server.RateLimit, s.cfg.Server.RateBurst))
	}
	return append(opts, s.opts...)
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           otelhttp.NewHandler(NewHandler(s.tok, s.handlerOptions()...), "urltok.http"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
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
