// Package doctor provides preflight checks for urltok.
package doctor

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/example/go-urltok/internal/batch"
	"github.com/example/go-urltok/internal/codec"
	"github.com/example/go-urltok/internal/tokenizer"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// GoVersion returns the runtime version (e.g. "go1.25.0").
	GoVersion VersionFunc
	// StopWords loads the configured stop-word set. Source names it in output.
	StopWords       func() (tokenizer.StopWords, error)
	StopWordsSource string
	// EngineSelfTest tokenizes a fixed URL through the configured engine.
	EngineSelfTest func() error
	// CodecSelfTest round-trips a frame through the configured codec.
	CodecSelfTest func() error
	// ListenAddr is checked for availability when non-empty.
	ListenAddr  string
	CheckListen func(addr string) error
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark. Nil checks are skipped.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- Go runtime -------------------------------------------------------
	if cfg.GoVersion != nil {
		ver, err := cfg.GoVersion()
		if err != nil {
			res.fail(fmt.Sprintf("go runtime: %v", err))
			fmt.Fprintf(w, "%s go runtime: unknown (%v)\n", FailMark, err)
		} else if verErr := checkGoVersion(ver); verErr != nil {
			res.fail(fmt.Sprintf("go runtime: %v", verErr))
			fmt.Fprintf(w, "%s go runtime %s: %v\n", FailMark, ver, verErr)
		} else {
			fmt.Fprintf(w, "%s go runtime: %s\n", PassMark, ver)
		}
	}

	// ---- stop words -------------------------------------------------------
	if cfg.StopWords != nil {
		src := cfg.StopWordsSource
		if src == "" {
			src = "none"
		}
		set, err := cfg.StopWords()
		if err != nil {
			res.fail(fmt.Sprintf("stop words %q: %v", src, err))
			fmt.Fprintf(w, "%s stop words %s: %v\n", FailMark, src, err)
		} else {
			fmt.Fprintf(w, "%s stop words: %s (%d words)\n", PassMark, src, len(set))
		}
	}

	// ---- engine self-test -------------------------------------------------
	if cfg.EngineSelfTest != nil {
		if err := cfg.EngineSelfTest(); err != nil {
			res.fail(fmt.Sprintf("engine self-test: %v", err))
			fmt.Fprintf(w, "%s engine self-test: %v\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s engine self-test: ok\n", PassMark)
		}
	}

	// ---- codec self-test --------------------------------------------------
	if cfg.CodecSelfTest != nil {
		if err := cfg.CodecSelfTest(); err != nil {
			res.fail(fmt.Sprintf("codec self-test: %v", err))
			fmt.Fprintf(w, "%s codec self-test: %v\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s codec self-test: ok\n", PassMark)
		}
	}

	// ---- listen address ---------------------------------------------------
	if cfg.ListenAddr != "" {
		check := cfg.CheckListen
		if check == nil {
			check = CheckListen
		}
		if err := check(cfg.ListenAddr); err != nil {
			res.fail(fmt.Sprintf("listen address %s: %v", cfg.ListenAddr, err))
			fmt.Fprintf(w, "%s listen address %s: %v\n", FailMark, cfg.ListenAddr, err)
		} else {
			fmt.Fprintf(w, "%s listen address: %s\n", PassMark, cfg.ListenAddr)
		}
	}

	return res
}

// ---------------------------------------------------------------------------
// Built-in checks
// ---------------------------------------------------------------------------

// BatchTokenizer tokenizes an ordered batch of URLs.
type BatchTokenizer interface {
	TokenizeBatch(ctx context.Context, urls batch.Request) (batch.Result, error)
}

// EngineSelfTest tokenizes a valid URL and one without a host, and checks
// that the first yields scheme and host tokens while the second is marked
// malformed_url.
func EngineSelfTest(bt BatchTokenizer) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := bt.TokenizeBatch(ctx, batch.Request{"https://www.example.com/doctor/check?probe=1", "https://"})
	if err != nil {
		return err
	}
	if len(res) != 2 {
		return fmt.Errorf("got %d items for 2 urls", len(res))
	}
	if !res[0].OK() {
		return fmt.Errorf("valid url rejected: %v", res[0].Err)
	}
	toks := res[0].Tokens
	if len(toks) < 2 || toks[0].Kind != tokenizer.KindScheme || toks[1].Kind != tokenizer.KindHost {
		return fmt.Errorf("unexpected tokens %v", toks)
	}
	if res[1].OK() || res[1].Err.Code != batch.CodeMalformedURL {
		return fmt.Errorf("malformed url not isolated: %+v", res[1])
	}
	return nil
}

// CodecSelfTest encodes a request and a result and decodes them again.
func CodecSelfTest(c codec.Codec) error {
	req := batch.Request{"https://example.com/a"}
	b, err := c.EncodeRequest(req)
	if err != nil {
		return err
	}
	got, err := c.DecodeRequest(b)
	if err != nil {
		return err
	}
	if len(got) != 1 || got[0] != req[0] {
		return fmt.Errorf("request round trip mismatch: %q", got)
	}

	res := batch.Result{
		{Tokens: tokenizer.TokenizedURL{{Kind: tokenizer.KindScheme, Value: "https"}}},
		{Err: &batch.ItemError{Code: batch.CodeMalformedURL, Message: "probe"}},
	}
	b, err = c.EncodeResult(res)
	if err != nil {
		return err
	}
	back, err := c.DecodeResult(b)
	if err != nil {
		return err
	}
	if len(back) != 2 || !back[0].Tokens.Equal(res[0].Tokens) || back[1].Err == nil {
		return fmt.Errorf("result round trip mismatch: %+v", back)
	}
	return nil
}

// CheckListen reports whether addr can be bound right now.
func CheckListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}

// checkGoVersion returns an error if ver is older than go1.22.
// ver is expected to be a string like "go1.25.0".
func checkGoVersion(ver string) error {
	major, minor, err := parseMajorMinor(strings.TrimPrefix(ver, "go"))
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	if major != 1 {
		return fmt.Errorf("requires Go 1, got %d", major)
	}
	if minor < 22 {
		return fmt.Errorf("requires Go >=1.22, got 1.%d", minor)
	}
	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}
