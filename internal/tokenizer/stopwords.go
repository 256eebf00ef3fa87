package tokenizer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// StopWords is a set of lower-case words dropped from content tokens.
// A nil set contains nothing.
type StopWords map[string]struct{}

// NewStopWords builds a set from words, lower-casing each entry.
func NewStopWords(words ...string) StopWords {
	s := make(StopWords, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			s[w] = struct{}{}
		}
	}
	return s
}

// Contains reports whether w, compared case-insensitively, is in the set.
func (s StopWords) Contains(w string) bool {
	if len(s) == 0 {
		return false
	}
	_, ok := s[strings.ToLower(w)]
	return ok
}

// ReadStopWords parses one word per line. Blank lines and lines starting
// with '#' are ignored.
func ReadStopWords(r io.Reader) (StopWords, error) {
	s := make(StopWords)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		s[strings.ToLower(line)] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read stop words: %w", err)
	}
	return s, nil
}

// LoadStopWordsFile reads a stop-word list from path.
func LoadStopWordsFile(path string) (StopWords, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stop words %q: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	return ReadStopWords(f)
}

// English returns the built-in English stop-word set.
func English() StopWords { return NewStopWords(englishStopWords...) }

// German returns the built-in German stop-word set.
func German() StopWords { return NewStopWords(germanStopWords...) }

var englishStopWords = []string{
	"a", "about", "above", "after", "again", "against", "all", "am", "an", "and",
	"any", "are", "as", "at", "be", "because", "been", "before", "being", "below",
	"between", "both", "but", "by", "can", "did", "do", "does", "doing", "down",
	"during", "each", "few", "for", "from", "further", "had", "has", "have",
	"having", "he", "her", "here", "hers", "herself", "him", "himself", "his",
	"how", "i", "if", "in", "into", "is", "it", "its", "itself", "just", "me",
	"more", "most", "my", "myself", "no", "nor", "not", "now", "of", "off", "on",
	"once", "only", "or", "other", "our", "ours", "ourselves", "out", "over",
	"own", "same", "she", "should", "so", "some", "such", "than", "that", "the",
	"their", "theirs", "them", "themselves", "then", "there", "these", "they",
	"this", "those", "through", "to", "too", "under", "until", "up", "very",
	"was", "we", "were", "what", "when", "where", "which", "while", "who",
	"whom", "why", "will", "with", "you", "your", "yours", "yourself",
	"yourselves",
	// URL boilerplate
	"www", "html", "htm", "php", "asp", "aspx", "jsp", "index", "amp",
}

var germanStopWords = []string{
	"aber", "alle", "allem", "allen", "aller", "alles", "als", "also", "am",
	"an", "ander", "andere", "anderem", "anderen", "anderer", "anderes", "auch",
	"auf", "aus", "bei", "bin", "bis", "bist", "da", "damit", "dann", "das",
	"dass", "dein", "deine", "dem", "den", "denn", "der", "des", "dich", "die",
	"dies", "diese", "diesem", "diesen", "dieser", "dieses", "dir", "doch",
	"dort", "du", "durch", "ein", "eine", "einem", "einen", "einer", "eines",
	"er", "es", "etwas", "euch", "euer", "für", "gegen", "hab", "habe",
	"haben", "hat", "hatte", "hier", "hin", "ich", "ihr", "ihre", "im", "in",
	"ist", "jede", "jeder", "jedes", "kann", "kein", "keine", "man", "mein",
	"meine", "mich", "mit", "muss", "nach", "nicht", "nichts", "noch", "nun",
	"nur", "ob", "oder", "ohne", "sehr", "sein", "seine", "sich", "sie", "sind",
	"so", "soll", "um", "und", "uns", "unter", "vom", "von", "vor", "war",
	"waren", "was", "weil", "wenn", "wer", "wie", "wir", "wird", "zu", "zum",
	"zur", "über",
	// URL boilerplate
	"www", "html", "htm", "php", "artikel", "article", "index", "amp", "cms",
	"titel",
}
