// Package tokenizer splits normalized URLs into ordered, tagged tokens for
// indexing and feature extraction. Tokenization is deterministic: the same
// normalized URL always yields the same token sequence.
package tokenizer

import "github.com/example/go-urltok/internal/urlnorm"

// Tokenizer splits a normalized URL into tokens.
type Tokenizer interface {
	// Tokenize returns the tokens of u in left-to-right order.
	Tokenize(u urlnorm.URL) TokenizedURL
}

// Kind tags the syntactic component a token was taken from.
type Kind string

const (
	KindScheme     Kind = "scheme"
	KindHost       Kind = "host"
	KindPath       Kind = "path"
	KindQueryKey   Kind = "query_key"
	KindQueryValue Kind = "query_value"
	KindFragment   Kind = "fragment"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindScheme, KindHost, KindPath, KindQueryKey, KindQueryValue, KindFragment:
		return true
	default:
		return false
	}
}

// Token is a substring of a URL tagged with its origin.
type Token struct {
	Kind  Kind   `json:"kind"`
	Value string `json:"value"`
}

func (t Token) String() string { return string(t.Kind) + ":" + t.Value }

// TokenizedURL is the ordered token sequence of one URL.
type TokenizedURL []Token

// Terms returns the token values without their kinds.
func (t TokenizedURL) Terms() []string {
	terms := make([]string, len(t))
	for i, tok := range t {
		terms[i] = tok.Value
	}
	return terms
}

// Equal reports whether t and other hold the same tokens in the same order.
func (t TokenizedURL) Equal(other TokenizedURL) bool {
	if len(t) != len(other) {
		return false
	}
	for i := range t {
		if t[i] != other[i] {
			return false
		}
	}
	return true
}
