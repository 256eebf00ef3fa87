// Package urlnorm canonicalizes raw URL strings before tokenization.
//
// Normalization is idempotent: feeding the String form of a normalized URL
// back through Normalize yields the same URL.
package urlnorm

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

// ErrMalformedURL is returned when the input cannot be normalized.
var ErrMalformedURL = errors.New("malformed url")

// defaultPorts lists the port that is implied by each known scheme.
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
}

// URL is a normalized URL split into the components the tokenizer consumes.
// Path, Fragment, and Opaque are kept in escaped form.
type URL struct {
	Scheme   string
	User     string // escaped userinfo without the trailing '@'
	Host     string // lowercase ASCII host; IPv6 literals keep their brackets
	Port     string // empty when absent or equal to the scheme default
	Opaque   string
	Path     string
	RawQuery string
	Fragment string

	authority bool
}

// String reassembles the canonical form of u.
func (u URL) String() string {
	var b strings.Builder

	b.WriteString(u.Scheme)
	b.WriteByte(':')

	if u.Opaque != "" {
		b.WriteString(u.Opaque)
	} else {
		if u.authority {
			b.WriteString("//")
			if u.User != "" {
				b.WriteString(u.User)
				b.WriteByte('@')
			}
			b.WriteString(u.Host)
			if u.Port != "" {
				b.WriteByte(':')
				b.WriteString(u.Port)
			}
		}
		b.WriteString(u.Path)
	}

	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.Fragment)
	}

	return b.String()
}

// Normalizer canonicalizes raw URLs. The zero value rejects scheme-less input.
type Normalizer struct {
	// DefaultScheme is prepended as "<scheme>://" to input without a scheme.
	DefaultScheme string
}

// Normalize canonicalizes raw with a zero-value Normalizer.
func Normalize(raw string) (URL, error) {
	return Normalizer{}.Normalize(raw)
}

// Normalize trims raw, validates it, and returns its canonical form.
// Scheme and host are lowercased, default ports are stripped, dot segments
// are removed from the path, and the query string is left untouched.
func (n Normalizer) Normalize(raw string) (URL, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return URL{}, fmt.Errorf("%w: empty input", ErrMalformedURL)
	}
	if !utf8.ValidString(s) {
		return URL{}, fmt.Errorf("%w: invalid utf-8", ErrMalformedURL)
	}
	if i := indexControl(s); i >= 0 {
		return URL{}, fmt.Errorf("%w: control character at byte %d", ErrMalformedURL, i)
	}
	s = norm.NFC.String(s)

	u, err := url.Parse(s)
	if err != nil {
		return URL{}, fmt.Errorf("%w: %v", ErrMalformedURL, unwrapURLError(err))
	}
	if u.Scheme == "" && n.DefaultScheme != "" {
		s = strings.ToLower(n.DefaultScheme) + "://" + s
		u, err = url.Parse(s)
		if err != nil {
			return URL{}, fmt.Errorf("%w: %v", ErrMalformedURL, unwrapURLError(err))
		}
	}
	if u.Scheme == "" {
		return URL{}, fmt.Errorf("%w: missing scheme", ErrMalformedURL)
	}

	out := URL{
		Scheme:   strings.ToLower(u.Scheme),
		Opaque:   u.Opaque,
		RawQuery: u.RawQuery,
		Fragment: u.EscapedFragment(),
	}
	if out.Fragment == "" {
		// String drops an empty fragment, so the raw query or opaque part
		// becomes the tail and must not end in space.
		out.RawQuery = strings.TrimRightFunc(out.RawQuery, unicode.IsSpace)
		if out.RawQuery == "" {
			out.Opaque = strings.TrimRightFunc(out.Opaque, unicode.IsSpace)
		}
	}

	if u.Opaque == "" {
		out.authority = u.Host != "" || u.User != nil || strings.HasPrefix(s[len(u.Scheme)+1:], "//")
		out.Path = removeDotSegments(u.EscapedPath())
		if !out.authority && strings.HasPrefix(out.Path, "//") {
			// keep the path from being read back as an authority
			out.Path = "/" + strings.TrimLeft(out.Path, "/")
		}
	}
	if u.User != nil {
		out.User = u.User.String()
	}

	host, err := canonicalHost(u.Hostname())
	if err != nil {
		return URL{}, err
	}
	out.Host = host

	if _, needsHost := defaultPorts[out.Scheme]; needsHost && out.Host == "" {
		return URL{}, fmt.Errorf("%w: missing host", ErrMalformedURL)
	}

	if port := u.Port(); port != "" && port != defaultPorts[out.Scheme] {
		out.Port = port
	}

	return out, nil
}

// canonicalHost lowercases h and converts internationalized labels to their
// ASCII form. IPv6 literals are returned in brackets.
func canonicalHost(h string) (string, error) {
	if h == "" {
		return "", nil
	}
	// url.Parse unescapes the host; a decoded '%' or invalid byte would not
	// survive a second pass.
	if strings.Contains(h, "%") || !utf8.ValidString(h) {
		return "", fmt.Errorf("%w: invalid host %q", ErrMalformedURL, h)
	}
	if strings.Contains(h, ":") {
		if net.ParseIP(h) == nil {
			return "", fmt.Errorf("%w: invalid ipv6 host %q", ErrMalformedURL, h)
		}
		return "[" + strings.ToLower(h) + "]", nil
	}

	h = strings.ToLower(h)
	if isASCII(h) {
		return h, nil
	}

	ascii, err := idna.Punycode.ToASCII(h)
	if err != nil {
		return "", fmt.Errorf("%w: invalid host %q: %v", ErrMalformedURL, h, err)
	}
	return ascii, nil
}

// removeDotSegments drops "." and ".." segments from an absolute path
// without climbing above the root. Repeated and trailing slashes are kept.
func removeDotSegments(p string) string {
	if p == "" || !strings.Contains(p, ".") {
		return p
	}

	segs := strings.Split(p, "/")
	out := make([]string, 0, len(segs))
	last := len(segs) - 1

	for i, seg := range segs {
		switch seg {
		case ".":
			if i == last {
				out = append(out, "")
			}
		case "..":
			if len(out) > 1 {
				out = out[:len(out)-1]
			}
			if i == last {
				out = append(out, "")
			}
		default:
			out = append(out, seg)
		}
	}

	if len(out) == 1 && out[0] == "" {
		return "/"
	}
	return strings.Join(out, "/")
}

func indexControl(s string) int {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c < 0x20 || c == 0x7f {
			return i
		}
	}
	return -1
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
