package match

import (
	"github.com/bryan-buckman/rssmonitor/internal/model"
	"github.com/bryan-buckman/rssmonitor/internal/morph"
)

// Matcher finds keywords whose lemma occurs in a text.
type Matcher struct {
	lemmatizer morph.Lemmatizer
}

// New creates a matcher backed by the given lemmatizer.
func New(l morph.Lemmatizer) *Matcher {
	return &Matcher{lemmatizer: l}
}

// Lemmas returns the set of lemmas of the distinct tokens in text.
// Each distinct token is lemmatized once, however often it repeats.
func (m *Matcher) Lemmas(text string) map[string]struct{} {
	seen := make(map[string]struct{})
	lemmas := make(map[string]struct{})
	for _, tok := range Tokenize(text) {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		lemmas[m.lemmatizer.Lemma(tok)] = struct{}{}
	}
	return lemmas
}

// Match returns the IDs of the keywords present in text, in keyword order.
//
// Each keyword is lemmatized as a single token and checked on its own; all
// keywords are always evaluated. A keyword containing spaces is treated as
// one (malformed) token and will generally not match.
func (m *Matcher) Match(text string, keywords []model.Keyword) []int64 {
	if len(keywords) == 0 {
		return nil
	}

	lemmas := m.Lemmas(text)
	var ids []int64
	for _, kw := range keywords {
		if _, ok := lemmas[m.lemmatizer.Lemma(kw.Text)]; ok {
			ids = append(ids, kw.ID)
		}
	}
	return ids
}
