package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/example/go-urltok/internal/bench"
	"github.com/example/go-urltok/internal/bench/stageprof"
	"github.com/example/go-urltok/internal/codec"
	"github.com/example/go-urltok/internal/engine"
	"github.com/example/go-urltok/internal/tokenizer"
	"github.com/example/go-urltok/internal/urlnorm"
	"github.com/spf13/cobra"
)

func newBenchCmd() *cobra.Command {
	var (
		file          string
		samples       int
		runs          int
		format        string
		minURLsPerSec float64
		stages        bool
		warmup        int
		cpuProfile    string
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark batch tokenization throughput",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if runs < 1 {
				return fmt.Errorf("--runs must be at least 1")
			}
			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
			}

			urls, err := benchURLs(file, samples)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			if stages {
				opts, err := engine.TokenizerOptions(cfg.Tokenizer)
				if err != nil {
					return err
				}
				report, err := stageprof.Run(cmd.Context(),
					urlnorm.Normalizer{DefaultScheme: cfg.Tokenizer.DefaultScheme},
					tokenizer.New(opts),
					codec.Codec{MaxFrameBytes: cfg.Codec.MaxFrameBytes},
					urls,
					stageprof.Options{Runs: runs, Warmup: warmup, CPUProfile: cpuProfile},
				)
				if err != nil {
					return err
				}
				report.Write(out)
				return nil
			}

			coord, err := engine.New(cfg, slog.Default(), nil)
			if err != nil {
				return err
			}

			results, err := bench.Run(cmd.Context(), coord, urls, runs)
			if err != nil {
				return err
			}

			durations := make([]time.Duration, len(results))
			for i, r := range results {
				durations[i] = r.Duration
			}
			stats := bench.ComputeStats(durations)

			switch format {
			case "json":
				bench.FormatJSON(results, stats, out)
			default:
				bench.FormatTable(results, stats, out)
			}

			return bench.CheckThroughputThreshold(bench.MeanThroughput(results), minURLsPerSec)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "File with one URL per line (default: built-in sample corpus)")
	cmd.Flags().IntVar(&samples, "samples", 10000, "Number of built-in sample URLs when --file is not set")
	cmd.Flags().IntVar(&runs, "runs", 5, "Number of benchmark runs")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().Float64Var(&minURLsPerSec, "min-urls-per-sec", 0, "Exit non-zero if mean throughput is below this value (0 = disabled)")
	cmd.Flags().BoolVar(&stages, "stages", false, "Time normalize, tokenize and encode stages separately")
	cmd.Flags().IntVar(&warmup, "warmup", 1, "Unmeasured warmup runs for --stages")
	cmd.Flags().StringVar(&cpuProfile, "cpuprofile", "", "Write a CPU profile to this path (--stages only)")

	return cmd
}

func benchURLs(file string, samples int) ([]string, error) {
	if file == "" {
		if samples < 1 {
			return nil, fmt.Errorf("--samples must be at least 1")
		}
		return bench.SampleURLs(samples), nil
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open url file: %w", err)
	}
	defer f.Close()

	urls, err := bench.ReadURLs(f)
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("no urls in %s", file)
	}
	return urls, nil
}
