package tokenizer

import (
	"net"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/idna"

	"github.com/example/go-urltok/internal/urlnorm"
)

// Options controls post-processing of path, query, and fragment tokens.
// Scheme and host tokens are only affected by Lowercase and DecodeIDN.
type Options struct {
	// Lowercase folds every token value to lower case.
	Lowercase bool
	// SplitWords breaks content values into runs of letters. Runs that
	// touch digits ("b82ebced", "24") are dropped.
	SplitWords bool
	// MinTokenLength drops content tokens with fewer runes. Zero disables it.
	MinTokenLength int
	// StopWords drops content tokens found in the set.
	StopWords StopWords
	// DecodeIDN emits punycode host labels ("xn--bcher-kva") in Unicode.
	DecodeIDN bool
}

// DefaultOptions emits every non-empty component unchanged apart from
// percent-decoding and IDN decoding.
func DefaultOptions() Options {
	return Options{DecodeIDN: true}
}

// Engine is the default Tokenizer. It is immutable and safe for concurrent use.
type Engine struct {
	opts Options
}

var _ Tokenizer = (*Engine)(nil)

// New returns an Engine configured with opts.
func New(opts Options) *Engine {
	return &Engine{opts: opts}
}

// Tokenize emits one scheme token, one token per host label, one token per
// non-empty path segment, key and value tokens per query pair, and one
// fragment token. Empty components produce no tokens.
func (e *Engine) Tokenize(u urlnorm.URL) TokenizedURL {
	out := make(TokenizedURL, 0, estimateTokens(u))

	if u.Scheme != "" {
		out = append(out, Token{Kind: KindScheme, Value: e.fold(u.Scheme)})
	}
	out = e.appendHost(out, u.Host)

	if u.Opaque != "" {
		out = e.appendContent(out, KindPath, unescapePath(u.Opaque))
	} else {
		for _, seg := range strings.Split(u.Path, "/") {
			if seg != "" {
				out = e.appendContent(out, KindPath, unescapePath(seg))
			}
		}
	}

	for _, pair := range strings.Split(u.RawQuery, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		out = e.appendContent(out, KindQueryKey, unescapeQuery(key))
		out = e.appendContent(out, KindQueryValue, unescapeQuery(value))
	}

	if u.Fragment != "" {
		out = e.appendContent(out, KindFragment, unescapePath(u.Fragment))
	}

	return out
}

func (e *Engine) appendHost(out TokenizedURL, host string) TokenizedURL {
	if host == "" {
		return out
	}
	if ip := strings.Trim(host, "[]"); net.ParseIP(ip) != nil {
		return append(out, Token{Kind: KindHost, Value: e.fold(ip)})
	}

	for _, label := range strings.Split(host, ".") {
		if label == "" {
			continue
		}
		if e.opts.DecodeIDN && strings.HasPrefix(label, "xn--") {
			if decoded, err := idna.Punycode.ToUnicode(label); err == nil {
				label = decoded
			}
		}
		out = append(out, Token{Kind: KindHost, Value: e.fold(label)})
	}
	return out
}

func (e *Engine) appendContent(out TokenizedURL, kind Kind, value string) TokenizedURL {
	value = e.fold(value)
	if !e.opts.SplitWords {
		return e.appendFiltered(out, kind, value)
	}
	for _, w := range splitWords(value) {
		out = e.appendFiltered(out, kind, w)
	}
	return out
}

func (e *Engine) appendFiltered(out TokenizedURL, kind Kind, value string) TokenizedURL {
	if value == "" {
		return out
	}
	if e.opts.MinTokenLength > 0 && utf8.RuneCountInString(value) < e.opts.MinTokenLength {
		return out
	}
	if e.opts.StopWords.Contains(value) {
		return out
	}
	return append(out, Token{Kind: kind, Value: value})
}

func (e *Engine) fold(s string) string {
	if e.opts.Lowercase {
		return strings.ToLower(s)
	}
	return s
}

// splitWords returns the letter-only runs of s. A run of letters and digits
// that contains any digit is skipped entirely.
func splitWords(s string) []string {
	var words []string
	start := -1
	hasDigit := false

	flush := func(end int) {
		if start >= 0 && !hasDigit {
			words = append(words, s[start:end])
		}
		start = -1
		hasDigit = false
	}

	for i, r := range s {
		switch {
		case unicode.IsLetter(r):
			if start < 0 {
				start = i
			}
		case unicode.IsDigit(r):
			if start < 0 {
				start = i
			}
			hasDigit = true
		default:
			flush(i)
		}
	}
	flush(len(s))

	return words
}

func unescapePath(s string) string {
	if v, err := url.PathUnescape(s); err == nil {
		return v
	}
	return s
}

func unescapeQuery(s string) string {
	if v, err := url.QueryUnescape(s); err == nil {
		return v
	}
	return s
}

func estimateTokens(u urlnorm.URL) int {
	return 1 + strings.Count(u.Host, ".") + 1 +
		strings.Count(u.Path, "/") +
		2*(strings.Count(u.RawQuery, "&")+1) + 1
}
