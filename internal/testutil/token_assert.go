package testutil

import (
	"strings"
	"testing"

	"github.com/example/go-urltok/internal/tokenizer"
)

// AssertTokens checks that got renders, token by token, as want, where each
// entry is "kind:value".
func AssertTokens(tb testing.TB, got tokenizer.TokenizedURL, want ...string) {
	tb.Helper()

	rendered := make([]string, len(got))
	for i, tok := range got {
		rendered[i] = tok.String()
	}

	if len(rendered) != len(want) {
		tb.Fatalf("tokens = [%s]; want [%s]", strings.Join(rendered, " "), strings.Join(want, " "))
		return
	}

	for i := range want {
		if rendered[i] != want[i] {
			tb.Fatalf("token %d = %q; want %q\n got: [%s]\nwant: [%s]",
				i, rendered[i], want[i], strings.Join(rendered, " "), strings.Join(want, " "))
			return
		}
	}
}
