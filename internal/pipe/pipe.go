// Package pipe serves the framed batch protocol over a byte stream such as
// stdin/stdout.
package pipe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/example/go-urltok/internal/batch"
	"github.com/example/go-urltok/internal/codec"
	"github.com/example/go-urltok/internal/metrics"
)

// BatchTokenizer tokenizes an ordered batch of URLs.
type BatchTokenizer interface {
	TokenizeBatch(ctx context.Context, urls batch.Request) (batch.Result, error)
}

type options struct {
	codec   codec.Codec
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures Serve.
type Option func(*options)

// WithCodec sets the frame codec, e.g. to change the maximum frame size.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithLogger sets the logger used for per-frame logs.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics counts codec failures on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Serve reads request frames from r until EOF and writes one result frame to
// w for each. A codec error cannot be resynchronized and ends the stream with
// that error. A clean EOF at a frame boundary returns nil.
//
// Serve returns ctx.Err() as soon as ctx is done, even while blocked waiting
// for the next frame. The read in flight is abandoned; it ends when r returns,
// so callers that keep running should close r.
func Serve(ctx context.Context, r io.Reader, w io.Writer, bt BatchTokenizer, optFns ...Option) error {
	opts := options{logger: slog.Default()}
	for _, fn := range optFns {
		fn(&opts)
	}
	log := opts.logger

	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)

	done := make(chan struct{})
	defer close(done)
	reads := readFrames(br, opts.codec, done)

	for frames := 0; ; frames++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		var next frame
		select {
		case <-ctx.Done():
			log.DebugContext(ctx, "pipe cancelled", slog.Int("frames", frames))
			return ctx.Err()
		case next = <-reads:
		}
		req, err := next.req, next.err

		if errors.Is(err, io.EOF) {
			log.DebugContext(ctx, "pipe closed", slog.Int("frames", frames))
			return nil
		}
		if err != nil {
			if errors.Is(err, codec.ErrCodec) {
				opts.metrics.CodecError(codec.Reason(err))
			}
			log.ErrorContext(ctx, "pipe read failed",
				slog.Int("frame", frames),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("frame %d: %w", frames, err)
		}

		start := time.Now()
		res, batchErr := bt.TokenizeBatch(ctx, req)
		if res == nil && batchErr != nil {
			return fmt.Errorf("frame %d: %w", frames, batchErr)
		}

		if err := opts.codec.WriteResult(bw, res); err != nil {
			return fmt.Errorf("frame %d: write result: %w", frames, err)
		}
		if err := bw.Flush(); err != nil {
			return fmt.Errorf("frame %d: flush: %w", frames, err)
		}

		log.DebugContext(ctx, "pipe frame served",
			slog.Int("frame", frames),
			slog.Int("urls", len(req)),
			slog.Int64("duration_us", time.Since(start).Microseconds()),
		)

		if batchErr != nil {
			return batchErr
		}
	}
}

type frame struct {
	req batch.Request
	err error
}

// readFrames decodes request frames from r on its own goroutine so the caller
// can stop waiting on cancellation. It stops after the first error or once
// done is closed.
func readFrames(r io.Reader, c codec.Codec, done <-chan struct{}) <-chan frame {
	out := make(chan frame)
	go func() {
		for {
			req, err := c.ReadRequest(r)
			select {
			case out <- frame{req: req, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}
