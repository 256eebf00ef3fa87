package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

// fakeBinder wraps a pflag.FlagSet to satisfy the flagBinder interface.
type fakeBinder struct {
	fs *pflag.FlagSet
}

func (f *fakeBinder) Flags() *pflag.FlagSet { return f.fs }

// newFlagBinder creates a FlagSet with all config flags registered at their defaults.
func newFlagBinder(defaults Config, args ...string) (*fakeBinder, error) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	return &fakeBinder{fs: fs}, fs.Parse(args)
}

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)

	err := os.WriteFile(path, []byte(content), 0o644)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	return path
}

// --- DefaultConfig ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "info")
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":8080")
	}

	if cfg.Server.Workers != 8 {
		t.Errorf("Server.Workers = %d; want 8", cfg.Server.Workers)
	}

	if cfg.Server.RequestTimeout != 30 || cfg.Server.ShutdownTimeout != 30 {
		t.Errorf("timeouts = %d/%d; want 30/30", cfg.Server.RequestTimeout, cfg.Server.ShutdownTimeout)
	}

	if cfg.Batch.MaxBatchSize != 10000 {
		t.Errorf("Batch.MaxBatchSize = %d; want 10000", cfg.Batch.MaxBatchSize)
	}

	if cfg.Tokenizer.StopWords != StopWordsNone {
		t.Errorf("Tokenizer.StopWords = %q; want %q", cfg.Tokenizer.StopWords, StopWordsNone)
	}

	if !cfg.Tokenizer.DecodeIDN {
		t.Error("Tokenizer.DecodeIDN = false; want true")
	}

	if cfg.Tokenizer.Lowercase || cfg.Tokenizer.SplitWords || cfg.Tokenizer.MinTokenLength != 0 {
		t.Errorf("content filters enabled by default: %+v", cfg.Tokenizer)
	}

	if cfg.Codec.MaxFrameBytes != 64<<20 {
		t.Errorf("Codec.MaxFrameBytes = %d; want %d", cfg.Codec.MaxFrameBytes, 64<<20)
	}
}

// --- NormalizeStopWords ---

func TestNormalizeStopWords(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"none canonical", "none", StopWordsNone, false},
		{"empty defaults to none", "", StopWordsNone, false},
		{"off alias", "off", StopWordsNone, false},
		{"english canonical", "english", StopWordsEnglish, false},
		{"english short alias", "en", StopWordsEnglish, false},
		{"german mixed case", "German", StopWordsGerman, false},
		{"german short alias with spaces", "  de  ", StopWordsGerman, false},
		{"invalid value", "french", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeStopWords(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NormalizeStopWords(%q) = %q, nil; want error", tt.input, got)
				}

				return
			}

			if err != nil {
				t.Errorf("NormalizeStopWords(%q) unexpected error: %v", tt.input, err)
				return
			}

			if got != tt.want {
				t.Errorf("NormalizeStopWords(%q) = %q; want %q", tt.input, got, tt.want)
			}
		})
	}
}

// --- RegisterFlags ---

func TestRegisterFlags(t *testing.T) {
	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	checks := []struct {
		flag string
		want string
	}{
		{"log-level", "info"},
		{"server-listen-addr", ":8080"},
		{"server-workers", "8"},
		{"batch-max-batch-size", "10000"},
		{"tokenizer-stopwords", "none"},
		{"tokenizer-decode-idn", "true"},
		{"codec-max-frame-bytes", "67108864"},
	}

	for _, c := range checks {
		f := fs.Lookup(c.flag)
		if f == nil {
			t.Errorf("flag %q not registered", c.flag)
			continue
		}

		if f.DefValue != c.want {
			t.Errorf("flag %q default = %q; want %q", c.flag, f.DefValue, c.want)
		}
	}
}

func TestBindingsMatchRegisteredFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, DefaultConfig())

	for _, b := range bindings {
		if fs.Lookup(b.flag) == nil {
			t.Errorf("binding %s -> %s has no registered flag", b.key, b.flag)
		}
	}

	n := 0
	fs.VisitAll(func(*pflag.Flag) { n++ })

	if n != len(bindings) {
		t.Errorf("registered %d flags; %d bindings", n, len(bindings))
	}
}

// --- Load ---

func TestLoad_Defaults(t *testing.T) {
	defaults := DefaultConfig()

	binder, err := newFlagBinder(defaults)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg, err := Load(LoadOptions{
		Cmd:      binder,
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg != defaults {
		t.Errorf("Load() = %+v; want defaults %+v", cfg, defaults)
	}
}

func TestLoad_FlagOverride(t *testing.T) {
	defaults := DefaultConfig()

	binder, err := newFlagBinder(defaults,
		"--log-level=debug",
		"--server-workers=2",
		"--batch-workers=3",
		"--tokenizer-stopwords=de",
		"--tokenizer-split-words",
		"--tokenizer-decode-idn=false",
		"--codec-max-frame-bytes=1024",
		"--server-rate-limit=2.5",
		"--server-rate-burst=4",
	)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg, err := Load(LoadOptions{
		Cmd:      binder,
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "debug")
	}

	if cfg.Server.Workers != 2 {
		t.Errorf("Server.Workers = %d; want 2", cfg.Server.Workers)
	}

	if cfg.Batch.Workers != 3 {
		t.Errorf("Batch.Workers = %d; want 3", cfg.Batch.Workers)
	}

	if cfg.Tokenizer.StopWords != StopWordsGerman {
		t.Errorf("Tokenizer.StopWords = %q; want %q (alias normalized)", cfg.Tokenizer.StopWords, StopWordsGerman)
	}

	if !cfg.Tokenizer.SplitWords {
		t.Error("Tokenizer.SplitWords = false; want true")
	}

	if cfg.Tokenizer.DecodeIDN {
		t.Error("Tokenizer.DecodeIDN = true; want false")
	}

	if cfg.Codec.MaxFrameBytes != 1024 {
		t.Errorf("Codec.MaxFrameBytes = %d; want 1024", cfg.Codec.MaxFrameBytes)
	}

	if cfg.Server.RateLimit != 2.5 || cfg.Server.RateBurst != 4 {
		t.Errorf("rate limit = %v/%d; want 2.5/4", cfg.Server.RateLimit, cfg.Server.RateBurst)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("URLTOK_LOG_LEVEL", "warn")
	t.Setenv("URLTOK_SERVER_LISTEN_ADDR", ":9999")
	t.Setenv("URLTOK_TOKENIZER_LOWERCASE", "true")
	t.Setenv("URLTOK_TOKENIZER_MIN_TOKEN_LENGTH", "3")

	cfg, err := Load(LoadOptions{
		Defaults: DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "warn")
	}

	if cfg.Server.ListenAddr != ":9999" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":9999")
	}

	if !cfg.Tokenizer.Lowercase {
		t.Error("Tokenizer.Lowercase = false; want true")
	}

	if cfg.Tokenizer.MinTokenLength != 3 {
		t.Errorf("Tokenizer.MinTokenLength = %d; want 3", cfg.Tokenizer.MinTokenLength)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	cfgFile := writeConfigFile(t, "urltok.yaml", `
log_level: error
server:
  workers: 16
  listen_addr: ":7777"
tokenizer:
  stopwords: english
  min_token_length: 3
codec:
  max_frame_bytes: 4096
`)

	defaults := DefaultConfig()

	binder, err := newFlagBinder(defaults)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := Load(LoadOptions{
		Cmd:        binder,
		ConfigFile: cfgFile,
		Defaults:   defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "error")
	}

	if cfg.Server.Workers != 16 {
		t.Errorf("Server.Workers = %d; want 16", cfg.Server.Workers)
	}

	if cfg.Server.ListenAddr != ":7777" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":7777")
	}

	if cfg.Tokenizer.StopWords != StopWordsEnglish {
		t.Errorf("Tokenizer.StopWords = %q; want %q", cfg.Tokenizer.StopWords, StopWordsEnglish)
	}

	if cfg.Tokenizer.MinTokenLength != 3 {
		t.Errorf("Tokenizer.MinTokenLength = %d; want 3", cfg.Tokenizer.MinTokenLength)
	}

	if cfg.Codec.MaxFrameBytes != 4096 {
		t.Errorf("Codec.MaxFrameBytes = %d; want 4096", cfg.Codec.MaxFrameBytes)
	}

	// Unset keys keep their defaults.
	if cfg.Server.RequestTimeout != defaults.Server.RequestTimeout {
		t.Errorf("Server.RequestTimeout = %d; want default %d", cfg.Server.RequestTimeout, defaults.Server.RequestTimeout)
	}
}

func TestLoad_FlagBeatsConfigFile(t *testing.T) {
	cfgFile := writeConfigFile(t, "urltok.yaml", "log_level: error\nserver:\n  workers: 16\n")

	defaults := DefaultConfig()

	binder, err := newFlagBinder(defaults, "--server-workers=4")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := Load(LoadOptions{
		Cmd:        binder,
		ConfigFile: cfgFile,
		Defaults:   defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Workers != 4 {
		t.Errorf("Server.Workers = %d; want 4 (flag wins)", cfg.Server.Workers)
	}

	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q; want %q (from file)", cfg.LogLevel, "error")
	}
}

func TestLoad_PartialFlagSet(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("log-level", "info", "")
	fs.String("unrelated", "", "")

	if err := fs.Parse([]string{"--log-level=debug"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := Load(LoadOptions{Cmd: &fakeBinder{fs: fs}, Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q; want debug", cfg.LogLevel)
	}
}

func TestLoad_InvalidStopWords(t *testing.T) {
	cfgFile := writeConfigFile(t, "urltok.yaml", "tokenizer:\n  stopwords: klingon\n")

	_, err := Load(LoadOptions{
		ConfigFile: cfgFile,
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for unknown stop-word set")
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	cfgFile := writeConfigFile(t, "bad.yaml", ":\t:bad yaml:::")

	_, err := Load(LoadOptions{
		ConfigFile: cfgFile,
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for invalid config file")
	}
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	_, err := Load(LoadOptions{
		ConfigFile: "/nonexistent/path/urltok.yaml",
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for missing explicit config file")
	}
}
