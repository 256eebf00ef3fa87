package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	Server    ServerConfig    `mapstructure:"server"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Tokenizer TokenizerConfig `mapstructure:"tokenizer"`
	Codec     CodecConfig     `mapstructure:"codec"`
}

type ServerConfig struct {
	ListenAddr      string  `mapstructure:"listen_addr"`
	Workers         int     `mapstructure:"workers"`
	MaxBodyBytes    int64   `mapstructure:"max_body_bytes"`
	RequestTimeout  int     `mapstructure:"request_timeout"`  // seconds
	ShutdownTimeout int     `mapstructure:"shutdown_timeout"` // seconds
	RateLimit       float64 `mapstructure:"rate_limit"`       // requests per second, 0 = off
	RateBurst       int     `mapstructure:"rate_burst"`
}

type BatchConfig struct {
	Workers      int `mapstructure:"workers"`
	MaxBatchSize int `mapstructure:"max_batch_size"`
}

type TokenizerConfig struct {
	DefaultScheme  string `mapstructure:"default_scheme"`
	Lowercase      bool   `mapstructure:"lowercase"`
	SplitWords     bool   `mapstructure:"split_words"`
	MinTokenLength int    `mapstructure:"min_token_length"`
	StopWords      string `mapstructure:"stopwords"`
	StopWordsFile  string `mapstructure:"stopwords_file"`
	DecodeIDN      bool   `mapstructure:"decode_idn"`
}

type CodecConfig struct {
	MaxFrameBytes uint64 `mapstructure:"max_frame_bytes"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			ListenAddr:      ":8080",
			Workers:         8,
			MaxBodyBytes:    8 << 20,
			RequestTimeout:  30,
			ShutdownTimeout: 30,
		},
		Batch: BatchConfig{
			Workers:      0,
			MaxBatchSize: 10000,
		},
		Tokenizer: TokenizerConfig{
			DefaultScheme:  "",
			Lowercase:      false,
			SplitWords:     false,
			MinTokenLength: 0,
			StopWords:      StopWordsNone,
			StopWordsFile:  "",
			DecodeIDN:      true,
		},
		Codec: CodecConfig{
			MaxFrameBytes: 64 << 20,
		},
	}
}

// binding maps a config key to the flag that overrides it.
type binding struct {
	key  string
	flag string
}

var bindings = []binding{
	{"log_level", "log-level"},
	{"server.listen_addr", "server-listen-addr"},
	{"server.workers", "server-workers"},
	{"server.max_body_bytes", "server-max-body-bytes"},
	{"server.request_timeout", "server-request-timeout"},
	{"server.shutdown_timeout", "server-shutdown-timeout"},
	{"server.rate_limit", "server-rate-limit"},
	{"server.rate_burst", "server-rate-burst"},
	{"batch.workers", "batch-workers"},
	{"batch.max_batch_size", "batch-max-batch-size"},
	{"tokenizer.default_scheme", "tokenizer-default-scheme"},
	{"tokenizer.lowercase", "tokenizer-lowercase"},
	{"tokenizer.split_words", "tokenizer-split-words"},
	{"tokenizer.min_token_length", "tokenizer-min-token-length"},
	{"tokenizer.stopwords", "tokenizer-stopwords"},
	{"tokenizer.stopwords_file", "tokenizer-stopwords-file"},
	{"tokenizer.decode_idn", "tokenizer-decode-idn"},
	{"codec.max_frame_bytes", "codec-max-frame-bytes"},
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("server-workers", defaults.Server.Workers, "Max concurrent tokenize requests (0 = unlimited)")
	fs.Int64("server-max-body-bytes", defaults.Server.MaxBodyBytes, "Max request body size in bytes")
	fs.Int("server-request-timeout", defaults.Server.RequestTimeout, "Per-request timeout in seconds")
	fs.Int("server-shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown drain period in seconds")
	fs.Float64("server-rate-limit", defaults.Server.RateLimit, "Tokenize requests per second across all clients (0 = unlimited)")
	fs.Int("server-rate-burst", defaults.Server.RateBurst, "Burst size for --server-rate-limit (0 = one second's worth)")
	fs.Int("batch-workers", defaults.Batch.Workers, "URLs tokenized concurrently per batch (0 = GOMAXPROCS)")
	fs.Int("batch-max-batch-size", defaults.Batch.MaxBatchSize, "Max URLs per batch (0 = unlimited)")
	fs.String("tokenizer-default-scheme", defaults.Tokenizer.DefaultScheme, "Scheme assumed for scheme-less input (empty rejects it)")
	fs.Bool("tokenizer-lowercase", defaults.Tokenizer.Lowercase, "Lowercase token values")
	fs.Bool("tokenizer-split-words", defaults.Tokenizer.SplitWords, "Split path, query and fragment values into words")
	fs.Int("tokenizer-min-token-length", defaults.Tokenizer.MinTokenLength, "Drop content tokens shorter than this many characters")
	fs.String("tokenizer-stopwords", defaults.Tokenizer.StopWords, "Built-in stop-word set (none|english|german)")
	fs.String("tokenizer-stopwords-file", defaults.Tokenizer.StopWordsFile, "Newline-separated stop-word file (overrides --tokenizer-stopwords)")
	fs.Bool("tokenizer-decode-idn", defaults.Tokenizer.DecodeIDN, "Emit punycode host labels in Unicode")
	fs.Uint64("codec-max-frame-bytes", defaults.Codec.MaxFrameBytes, "Max transport frame payload in bytes")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("URLTOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("urltok")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	stop, err := NormalizeStopWords(cfg.Tokenizer.StopWords)
	if err != nil {
		return Config{}, err
	}
	cfg.Tokenizer.StopWords = stop

	return cfg, nil
}

// bindFlags binds each known flag present in fs to its config key. Flags a
// command does not register are skipped.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, b := range bindings {
		f := fs.Lookup(b.flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(b.key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", b.flag, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.max_body_bytes", c.Server.MaxBodyBytes)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("server.rate_limit", c.Server.RateLimit)
	v.SetDefault("server.rate_burst", c.Server.RateBurst)
	v.SetDefault("batch.workers", c.Batch.Workers)
	v.SetDefault("batch.max_batch_size", c.Batch.MaxBatchSize)
	v.SetDefault("tokenizer.default_scheme", c.Tokenizer.DefaultScheme)
	v.SetDefault("tokenizer.lowercase", c.Tokenizer.Lowercase)
	v.SetDefault("tokenizer.split_words", c.Tokenizer.SplitWords)
	v.SetDefault("tokenizer.min_token_length", c.Tokenizer.MinTokenLength)
	v.SetDefault("tokenizer.stopwords", c.Tokenizer.StopWords)
	v.SetDefault("tokenizer.stopwords_file", c.Tokenizer.StopWordsFile)
	v.SetDefault("tokenizer.decode_idn", c.Tokenizer.DecodeIDN)
	v.SetDefault("codec.max_frame_bytes", c.Codec.MaxFrameBytes)
}
