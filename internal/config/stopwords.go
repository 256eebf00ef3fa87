package config

import (
	"fmt"
	"strings"
)

const (
	StopWordsNone    = "none"
	StopWordsEnglish = "english"
	StopWordsGerman  = "german"
)

func NormalizeStopWords(raw string) (string, error) {
	set := strings.ToLower(strings.TrimSpace(raw))
	switch set {
	case "", "off", StopWordsNone:
		return StopWordsNone, nil
	case "en", StopWordsEnglish:
		return StopWordsEnglish, nil
	case "de", StopWordsGerman:
		return StopWordsGerman, nil
	default:
		return "", fmt.Errorf(
			"invalid stop-word set %q (expected %s|%s|%s)",
			raw,
			StopWordsNone,
			StopWordsEnglish,
			StopWordsGerman,
		)
	}
}
