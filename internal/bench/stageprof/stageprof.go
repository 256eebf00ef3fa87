// Package stageprof times the stages of the tokenization pipeline
// separately and labels them for CPU profiles.
package stageprof

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime/pprof"
	"time"

	"github.com/example/go-urltok/internal/batch"
	"github.com/example/go-urltok/internal/codec"
	"github.com/example/go-urltok/internal/tokenizer"
	"github.com/example/go-urltok/internal/urlnorm"
)

// Options controls a profiling session.
type Options struct {
	Runs       int
	Warmup     int
	CPUProfile string // optional pprof output path
}

type timings struct {
	normalize time.Duration
	tokenize  time.Duration
	encode    time.Duration
	total     time.Duration
	tokens    int
	failed    int
}

// Report holds per-stage averages over the profiled runs.
type Report struct {
	URLs   int
	Runs   int
	Warmup int
	Tokens int
	Failed int

	AvgNormalize time.Duration
	AvgTokenize  time.Duration
	AvgEncode    time.Duration
	AvgTotal     time.Duration
}

// Run normalizes, tokenizes and frame-encodes urls sequentially, opts.Runs
// times after opts.Warmup unmeasured runs.
func Run(ctx context.Context, norm batch.Normalizer, tok tokenizer.Tokenizer, c codec.Codec, urls []string, opts Options) (Report, error) {
	if opts.Runs < 1 {
		return Report{}, fmt.Errorf("runs must be >= 1, got %d", opts.Runs)
	}

	for i := range opts.Warmup {
		if _, err := runOnce(ctx, norm, tok, c, urls); err != nil {
			return Report{}, fmt.Errorf("warmup run %d failed: %w", i+1, err)
		}
	}

	if opts.CPUProfile != "" {
		f, err := os.Create(opts.CPUProfile)
		if err != nil {
			return Report{}, fmt.Errorf("create cpuprofile: %w", err)
		}
		defer func() { _ = f.Close() }()

		err = pprof.StartCPUProfile(f)
		if err != nil {
			return Report{}, fmt.Errorf("start cpuprofile: %w", err)
		}

		defer pprof.StopCPUProfile()
	}

	var agg timings

	for i := range opts.Runs {
		t, err := runOnce(ctx, norm, tok, c, urls)
		if err != nil {
			return Report{}, fmt.Errorf("profiled run %d failed: %w", i+1, err)
		}

		agg.normalize += t.normalize
		agg.tokenize += t.tokenize
		agg.encode += t.encode
		agg.total += t.total
		agg.tokens = t.tokens
		agg.failed = t.failed
	}

	div := time.Duration(opts.Runs)

	return Report{
		URLs:         len(urls),
		Runs:         opts.Runs,
		Warmup:       opts.Warmup,
		Tokens:       agg.tokens,
		Failed:       agg.failed,
		AvgNormalize: agg.normalize / div,
		AvgTokenize:  agg.tokenize / div,
		AvgEncode:    agg.encode / div,
		AvgTotal:     agg.total / div,
	}, nil
}

func runOnce(ctx context.Context, norm batch.Normalizer, tok tokenizer.Tokenizer, c codec.Codec, urls []string) (timings, error) {
	var out timings
	startTotal := time.Now()

	normalized := make([]urlnorm.URL, len(urls))
	ok := make([]bool, len(urls))

	pprof.Do(ctx, pprof.Labels("stage", "normalize"), func(context.Context) {
		start := time.Now()

		for i, raw := range urls {
			u, err := norm.Normalize(raw)
			if err != nil {
				out.failed++
				continue
			}

			normalized[i] = u
			ok[i] = true
		}

		out.normalize = time.Since(start)
	})

	res := make(batch.Result, len(urls))

	pprof.Do(ctx, pprof.Labels("stage", "tokenize"), func(context.Context) {
		start := time.Now()

		for i := range normalized {
			if !ok[i] {
				res[i] = batch.Item{Err: &batch.ItemError{Code: batch.CodeMalformedURL}}
				continue
			}

			toks := tok.Tokenize(normalized[i])
			out.tokens += len(toks)
			res[i] = batch.Item{Tokens: toks}
		}

		out.tokenize = time.Since(start)
	})

	var encErr error

	pprof.Do(ctx, pprof.Labels("stage", "encode"), func(context.Context) {
		start := time.Now()
		_, encErr = c.EncodeResult(res)
		out.encode = time.Since(start)
	})

	if encErr != nil {
		return out, fmt.Errorf("encode result: %w", encErr)
	}

	out.total = time.Since(startTotal)

	return out, nil
}

// Write prints the report as "key: value" lines.
func (r Report) Write(w io.Writer) {
	ms := func(d time.Duration) float64 { return d.Seconds() * 1000 }

	fmt.Fprintf(w, "urls: %d\n", r.URLs)
	fmt.Fprintf(w, "runs: %d (warmup %d)\n", r.Runs, r.Warmup)
	fmt.Fprintf(w, "tokens: %d\n", r.Tokens)
	fmt.Fprintf(w, "failed: %d\n", r.Failed)
	fmt.Fprintf(w, "avg_normalize_ms: %.3f\n", ms(r.AvgNormalize))
	fmt.Fprintf(w, "avg_tokenize_ms: %.3f\n", ms(r.AvgTokenize))
	fmt.Fprintf(w, "avg_encode_ms: %.3f\n", ms(r.AvgEncode))
	fmt.Fprintf(w, "avg_total_ms: %.3f\n", ms(r.AvgTotal))

	if r.AvgTotal > 0 {
		total := ms(r.AvgTotal)
		fmt.Fprintf(w, "share_normalize_pct: %.2f\n", 100*ms(r.AvgNormalize)/total)
		fmt.Fprintf(w, "share_tokenize_pct: %.2f\n", 100*ms(r.AvgTokenize)/total)
		fmt.Fprintf(w, "share_encode_pct: %.2f\n", 100*ms(r.AvgEncode)/total)
	}
}
