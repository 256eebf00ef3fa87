// Package bench provides benchmarking primitives for the urltok bench command.
package bench

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/example/go-urltok/internal/batch"
)

// ---------------------------------------------------------------------------
// Run result and stats
// ---------------------------------------------------------------------------

// RunResult holds the timing and outcome counts for a single batch run.
type RunResult struct {
	Index      int
	Cold       bool // true for the first run (cold-start)
	Duration   time.Duration
	URLs       int
	Failed     int
	Tokens     int
	URLsPerSec float64
}

// Stats holds aggregate timing statistics across all runs.
type Stats struct {
	Min  time.Duration
	Max  time.Duration
	Mean time.Duration
}

// ComputeStats calculates min, max and mean over a slice of durations.
// The slice must be non-empty.
func ComputeStats(durations []time.Duration) Stats {
	if len(durations) == 0 {
		return Stats{}
	}
	mn, mx := durations[0], durations[0]
	var sum time.Duration
	for _, d := range durations {
		if d < mn {
			mn = d
		}
		if d > mx {
			mx = d
		}
		sum += d
	}
	return Stats{
		Min:  mn,
		Max:  mx,
		Mean: sum / time.Duration(len(durations)),
	}
}

// ---------------------------------------------------------------------------
// Runner
// ---------------------------------------------------------------------------

// BatchTokenizer tokenizes an ordered batch of URLs.
type BatchTokenizer interface {
	TokenizeBatch(ctx context.Context, urls batch.Request) (batch.Result, error)
}

// Run tokenizes urls as one batch, runs times, and records each run.
func Run(ctx context.Context, bt BatchTokenizer, urls []string, runs int) ([]RunResult, error) {
	if runs < 1 {
		return nil, fmt.Errorf("runs must be >= 1, got %d", runs)
	}

	results := make([]RunResult, 0, runs)
	for i := range runs {
		start := time.Now()
		res, err := bt.TokenizeBatch(ctx, urls)
		d := time.Since(start)
		if err != nil {
			return results, fmt.Errorf("run %d: %w", i+1, err)
		}

		r := RunResult{
			Index:      i,
			Cold:       i == 0,
			Duration:   d,
			URLs:       len(urls),
			URLsPerSec: CalcThroughput(len(urls), d),
		}
		for _, it := range res {
			if it.OK() {
				r.Tokens += len(it.Tokens)
			} else {
				r.Failed++
			}
		}
		results = append(results, r)
	}
	return results, nil
}

// ---------------------------------------------------------------------------
// Throughput helpers
// ---------------------------------------------------------------------------

// CalcThroughput returns URLs per second.
// Returns 0 if d is zero to avoid division by zero.
func CalcThroughput(urls int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(urls) / d.Seconds()
}

// MeanThroughput averages URLsPerSec over the warm runs, or over all runs
// when only the cold run exists.
func MeanThroughput(runs []RunResult) float64 {
	var sum float64
	n := 0
	for _, r := range runs {
		if r.Cold && len(runs) > 1 {
			continue
		}
		sum += r.URLsPerSec
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// ---------------------------------------------------------------------------
// Throughput threshold gate
// ---------------------------------------------------------------------------

// CheckThroughputThreshold returns an error if mean < threshold.
// A threshold of 0 disables the gate.
func CheckThroughputThreshold(mean, threshold float64) error {
	if threshold <= 0 {
		return nil
	}
	if mean < threshold {
		return fmt.Errorf("mean throughput %.1f urls/s is below threshold %.1f", mean, threshold)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Input
// ---------------------------------------------------------------------------

// ReadURLs reads one URL per line, skipping blank lines and lines starting
// with '#'.
func ReadURLs(r io.Reader) ([]string, error) {
	var urls []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read urls: %w", err)
	}
	return urls, nil
}

// SampleURLs returns a built-in mixed corpus of n URLs, cycling through a
// fixed set of real-world shapes including some malformed entries.
func SampleURLs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = sampleCorpus[i%len(sampleCorpus)]
	}
	return out
}

var sampleCorpus = []string{
	"https://www.google.com/hallo/essen",
	"https://www.autoscout24.de/angebote/bmw-118-i-m-sport-navi-benzin-schwarz-b82ebced-ff7e-4d56-a2c5-be2f4ca1ad67",
	"https://www.morgenpost.de/vermischtes/article233484549/marisa-burger-rosenheim-cops-schauspielerin.html",
	"https://www.test-page.de/seiten/the-news-page-for-all-news/",
	"https://shop.example.com/search?q=running+shoes&size=42&color=blue#reviews",
	"http://EXAMPLE.com:80/a/./b/../c/%7Euser",
	"https://bücher.de/katalog/roman?autor=m%C3%BCller",
	"https://[2001:db8::1]:8443/api/v1/items?id=7",
	"mailto:someone@example.com",
	"not a url",
	"",
	"https://192.168.0.1/admin/login?next=%2Fdashboard",
}

// ---------------------------------------------------------------------------
// Output formatters
// ---------------------------------------------------------------------------

// FormatTable writes a human-readable ASCII table of bench results to w.
func FormatTable(runs []RunResult, stats Stats, w io.Writer) {
	sb := &strings.Builder{}

	fmt.Fprintf(sb, "%-5s  %-5s  %10s  %8s  %8s  %12s\n", "Run", "Cold", "MS", "URLs", "Failed", "URLs/s")
	fmt.Fprintln(sb, strings.Repeat("-", 58))

	for _, r := range runs {
		cold := ""
		if r.Cold {
			cold = "yes"
		}
		fmt.Fprintf(sb, "%-5d  %-5s  %10.2f  %8d  %8d  %12.1f\n",
			r.Index+1,
			cold,
			float64(r.Duration.Microseconds())/1000,
			r.URLs,
			r.Failed,
			r.URLsPerSec,
		)
	}

	fmt.Fprintln(sb, strings.Repeat("-", 58))
	fmt.Fprintf(sb, "%-5s  %-5s  %10.2f  (min)\n", "", "", float64(stats.Min.Microseconds())/1000)
	fmt.Fprintf(sb, "%-5s  %-5s  %10.2f  (mean)\n", "", "", float64(stats.Mean.Microseconds())/1000)
	fmt.Fprintf(sb, "%-5s  %-5s  %10.2f  (max)\n", "", "", float64(stats.Max.Microseconds())/1000)

	fmt.Fprint(w, sb.String())
}

// jsonReport is the top-level JSON structure emitted by FormatJSON.
type jsonReport struct {
	Runs  []jsonRun `json:"runs"`
	Stats jsonStats `json:"stats"`
}

type jsonRun struct {
	Index      int     `json:"index"`
	Cold       bool    `json:"cold"`
	DurationMS float64 `json:"duration_ms"`
	URLs       int     `json:"urls"`
	Failed     int     `json:"failed"`
	Tokens     int     `json:"tokens"`
	URLsPerSec float64 `json:"urls_per_sec"`
}

type jsonStats struct {
	MinMS      float64 `json:"min_ms"`
	MeanMS     float64 `json:"mean_ms"`
	MaxMS      float64 `json:"max_ms"`
	URLsPerSec float64 `json:"urls_per_sec"`
}

// FormatJSON writes a JSON report of bench results to w.
func FormatJSON(runs []RunResult, stats Stats, w io.Writer) {
	jr := jsonReport{
		Runs: make([]jsonRun, len(runs)),
		Stats: jsonStats{
			MinMS:      float64(stats.Min.Microseconds()) / 1000,
			MeanMS:     float64(stats.Mean.Microseconds()) / 1000,
			MaxMS:      float64(stats.Max.Microseconds()) / 1000,
			URLsPerSec: MeanThroughput(runs),
		},
	}
	for i, r := range runs {
		jr.Runs[i] = jsonRun{
			Index:      r.Index,
			Cold:       r.Cold,
			DurationMS: float64(r.Duration.Microseconds()) / 1000,
			URLs:       r.URLs,
			Failed:     r.Failed,
			Tokens:     r.Tokens,
			URLsPerSec: r.URLsPerSec,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(jr)
}
