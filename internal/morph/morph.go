// Package morph maps word tokens to a canonical (lemma) form so that
// inflected forms of the same word compare equal.
//
// The monitor assumes one fixed morphology (Russian). Backends are composed
// with [Chain] and memoized with [Cached]; callers depend only on [Lemmatizer].
package morph

import "strings"

// Lemmatizer maps a single token to its canonical form.
//
// Implementations must be deterministic and total: every input yields some
// output, unknown words normalize to a best-effort guess.
type Lemmatizer interface {
	Lemma(token string) string
}

// Func adapts an ordinary function to a Lemmatizer.
type Func func(token string) string

// Lemma calls f(token).
func (f Func) Lemma(token string) string {
	return f(token)
}

type chain []Lemmatizer

// Chain applies each lemmatizer to the output of the previous one.
func Chain(steps ...Lemmatizer) Lemmatizer {
	return chain(steps)
}

func (c chain) Lemma(token string) string {
	for _, l := range c {
		token = l.Lemma(token)
	}
	return token
}

// Normalize lowercases and trims a token and folds "ё" into "е",
// which Russian text uses interchangeably.
func Normalize(token string) string {
	token = strings.ToLower(strings.TrimSpace(token))
	return strings.ReplaceAll(token, "ё", "е")
}

// NewRussian builds the default lemmatizer: the built-in lexicon of irregular
// forms (plus extra, if given) followed by the Snowball stemmer, memoized
// for up to cacheSize tokens.
func NewRussian(extra *Lexicon, cacheSize int) (*Cached, error) {
	lex, err := DefaultLexicon()
	if err != nil {
		return nil, err
	}
	if extra != nil {
		lex.Merge(extra)
	}
	return NewCached(Chain(lex, Stemmer{}), cacheSize)
}
