// Package match decides which keywords occur in a piece of text, comparing
// lemmas rather than exact strings.
package match

import (
	"strings"
	"unicode"
)

// Tokenize splits text into lowercase word tokens. Word runes are letters,
// digits and underscores; everything else separates tokens, so punctuation
// never ends up in (or as) a token. Duplicates are kept.
func Tokenize(text string) []string {
	var tokens []string
	var current strings.Builder

	for _, r := range text {
		if isWordRune(r) {
			current.WriteRune(unicode.ToLower(r))
			continue
		}
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	// Don't forget the last token
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}

	return tokens
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.Is(unicode.Mn, r) || r == '_'
}
