// Package engine assembles the process-wide tokenizer engine from
// configuration. The result is immutable and shared by every transport.
package engine

import (
	"fmt"
	"log/slog"

	"github.com/example/go-urltok/internal/batch"
	"github.com/example/go-urltok/internal/config"
	"github.com/example/go-urltok/internal/metrics"
	"github.com/example/go-urltok/internal/tokenizer"
	"github.com/example/go-urltok/internal/urlnorm"
)

// New builds a batch coordinator from cfg. It fails if the configured
// stop-word source cannot be loaded.
func New(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) (*batch.Coordinator, error) {
	opts, err := TokenizerOptions(cfg.Tokenizer)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("tokenizer engine ready",
		slog.String("stopwords", stopWordSource(cfg.Tokenizer)),
		slog.Int("stopword_count", len(opts.StopWords)),
		slog.Bool("lowercase", opts.Lowercase),
		slog.Bool("split_words", opts.SplitWords),
		slog.Int("min_token_length", opts.MinTokenLength),
		slog.String("default_scheme", cfg.Tokenizer.DefaultScheme),
		slog.Int("batch_workers", cfg.Batch.Workers),
	)

	return batch.New(
		urlnorm.Normalizer{DefaultScheme: cfg.Tokenizer.DefaultScheme},
		tokenizer.New(opts),
		batch.WithWorkers(cfg.Batch.Workers),
		batch.WithMaxBatchSize(cfg.Batch.MaxBatchSize),
		batch.WithLogger(logger),
		batch.WithMetrics(m),
	), nil
}

// TokenizerOptions converts the tokenizer config section into engine
// options. A stop-word file takes precedence over the named set.
func TokenizerOptions(tc config.TokenizerConfig) (tokenizer.Options, error) {
	stop, err := LoadStopWords(tc)
	if err != nil {
		return tokenizer.Options{}, err
	}

	if tc.MinTokenLength < 0 {
		return tokenizer.Options{}, fmt.Errorf("min token length must be >= 0, got %d", tc.MinTokenLength)
	}

	return tokenizer.Options{
		Lowercase:      tc.Lowercase,
		SplitWords:     tc.SplitWords,
		MinTokenLength: tc.MinTokenLength,
		StopWords:      stop,
		DecodeIDN:      tc.DecodeIDN,
	}, nil
}

// LoadStopWords resolves the configured stop-word source. It returns a nil
// set for "none".
func LoadStopWords(tc config.TokenizerConfig) (tokenizer.StopWords, error) {
	if tc.StopWordsFile != "" {
		stop, err := tokenizer.LoadStopWordsFile(tc.StopWordsFile)
		if err != nil {
			return nil, fmt.Errorf("load stop words: %w", err)
		}
		return stop, nil
	}

	set, err := config.NormalizeStopWords(tc.StopWords)
	if err != nil {
		return nil, err
	}

	switch set {
	case config.StopWordsEnglish:
		return tokenizer.English(), nil
	case config.StopWordsGerman:
		return tokenizer.German(), nil
	default:
		return nil, nil
	}
}

func stopWordSource(tc config.TokenizerConfig) string {
	if tc.StopWordsFile != "" {
		return tc.StopWordsFile
	}
	return tc.StopWords
}
