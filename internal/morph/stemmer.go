package morph

import "github.com/kljensen/snowball/russian"

// Stemmer reduces a word to its Snowball stem. It has no dictionary, so it
// handles any word, but irregular forms (шёл / идти) stay apart; put those
// in a [Lexicon] ahead of it in a [Chain].
type Stemmer struct{}

// Lemma returns the Snowball stem of the normalized token.
func (Stemmer) Lemma(token string) string {
	w := Normalize(token)
	if w == "" {
		return ""
	}
	return russian.Stem(w, true)
}
