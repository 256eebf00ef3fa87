// Package batch applies URL normalization and tokenization across an ordered
// batch, isolating per-item failures.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/example/go-urltok/internal/metrics"
	"github.com/example/go-urltok/internal/tokenizer"
	"github.com/example/go-urltok/internal/urlnorm"
)

const tracerName = "github.com/example/go-urltok/internal/batch"

// ErrBatchTooLarge is returned when a batch exceeds the configured limit.
var ErrBatchTooLarge = errors.New("batch too large")

// Request is an ordered batch of raw URL strings.
type Request []string

// ErrorCode classifies a failed item.
type ErrorCode string

const (
	CodeMalformedURL  ErrorCode = "malformed_url"
	CodeInternalFault ErrorCode = "internal_engine_fault"
	CodeCanceled      ErrorCode = "canceled"
)

// ItemError marks a batch slot whose URL could not be tokenized.
type ItemError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *ItemError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Item is the outcome for one URL: tokens on success, Err otherwise.
type Item struct {
	Tokens tokenizer.TokenizedURL `json:"tokens,omitempty" yaml:"tokens,omitempty"`
	Err    *ItemError             `json:"error,omitempty" yaml:"error,omitempty"`
}

// OK reports whether the item was tokenized.
func (it Item) OK() bool { return it.Err == nil }

// Result is index-aligned with the Request that produced it.
type Result []Item

// Normalizer canonicalizes a raw URL.
type Normalizer interface {
	Normalize(raw string) (urlnorm.URL, error)
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	workers      int
	maxBatchSize int
	logger       *slog.Logger
	metrics      *metrics.Metrics
	tracer       trace.TracerProvider
}

func defaultOptions() options {
	return options{
		workers: runtime.GOMAXPROCS(0),
		logger:  slog.Default(),
	}
}

// Option configures a Coordinator.
type Option func(*options)

// WithWorkers bounds the number of URLs tokenized concurrently.
// Values below 1 select GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = runtime.GOMAXPROCS(0)
		}
		o.workers = n
	}
}

// WithMaxBatchSize rejects batches with more than n URLs. Zero disables the limit.
func WithMaxBatchSize(n int) Option {
	return func(o *options) { o.maxBatchSize = n }
}

// WithLogger sets the logger used for engine faults and batch summaries.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records batch and item outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracerProvider sets where batch spans are sent. Defaults to the global
// provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracer = tp }
}

// ---------------------------------------------------------------------------
// Coordinator
// ---------------------------------------------------------------------------

// Coordinator runs the normalizer and tokenizer over batches. It holds no
// per-request state and is safe for concurrent use.
type Coordinator struct {
	norm   Normalizer
	tok    tokenizer.Tokenizer
	opts   options
	log    *slog.Logger
	tracer trace.Tracer
}

// New returns a Coordinator that normalizes with norm and tokenizes with tok.
func New(norm Normalizer, tok tokenizer.Tokenizer, optFns ...Option) *Coordinator {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	tp := opts.tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Coordinator{
		norm:   norm,
		tok:    tok,
		opts:   opts,
		log:    opts.logger,
		tracer: tp.Tracer(tracerName),
	}
}

// TokenizeBatch tokenizes every URL in urls and returns a Result of the same
// length and order. Failures are reported per item and never abort the
// batch. If ctx is cancelled, items not yet started are marked canceled and
// ctx.Err() is returned with the full-length result.
func (c *Coordinator) TokenizeBatch(ctx context.Context, urls Request) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "batch.tokenize",
		trace.WithAttributes(attribute.Int("batch.size", len(urls))))
	defer span.End()

	if c.opts.maxBatchSize > 0 && len(urls) > c.opts.maxBatchSize {
		err := fmt.Errorf("%w: %d urls exceeds limit of %d", ErrBatchTooLarge, len(urls), c.opts.maxBatchSize)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	start := time.Now()
	out := make(Result, len(urls))

	var g errgroup.Group
	g.SetLimit(c.opts.workers)

	canceled := 0
	for i, raw := range urls {
		if err := ctx.Err(); err != nil {
			out[i] = Item{Err: &ItemError{Code: CodeCanceled, Message: err.Error()}}
			canceled++
			continue
		}
		g.Go(func() error {
			out[i] = c.tokenizeOne(ctx, i, raw)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, it := range out {
		if !it.OK() {
			failed++
		}
		c.opts.metrics.ObserveItem(itemStatus(it), len(it.Tokens))
	}
	c.opts.metrics.ObserveBatch(len(urls), time.Since(start))

	span.SetAttributes(
		attribute.Int("batch.failed", failed),
		attribute.Int("batch.canceled", canceled),
	)

	c.log.DebugContext(ctx, "batch tokenized",
		slog.Int("urls", len(urls)),
		slog.Int("canceled", canceled),
		slog.Int64("duration_us", time.Since(start).Microseconds()),
	)

	if canceled > 0 {
		span.SetStatus(codes.Error, ctx.Err().Error())
		return out, ctx.Err()
	}
	return out, nil
}

// tokenizeOne never panics: an engine panic is converted into an
// internal_engine_fault item.
func (c *Coordinator) tokenizeOne(ctx context.Context, index int, raw string) (item Item) {
	defer func() {
		if r := recover(); r != nil {
			c.log.ErrorContext(ctx, "tokenizer engine fault",
				slog.Int("index", index),
				slog.Int("url_len", len(raw)),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
			item = Item{Err: &ItemError{Code: CodeInternalFault, Message: fmt.Sprintf("internal engine fault: %v", r)}}
		}
	}()

	u, err := c.norm.Normalize(raw)
	if err != nil {
		return Item{Err: &ItemError{Code: CodeMalformedURL, Message: err.Error()}}
	}

	toks := c.tok.Tokenize(u)
	if toks == nil {
		toks = tokenizer.TokenizedURL{}
	}
	return Item{Tokens: toks}
}

func itemStatus(it Item) string {
	if it.Err == nil {
		return metrics.StatusOK
	}
	switch it.Err.Code {
	case CodeMalformedURL:
		return metrics.StatusMalformed
	case CodeCanceled:
		return metrics.StatusCanceled
	default:
		return metrics.StatusFault
	}
}
