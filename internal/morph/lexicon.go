package morph

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed lexicon_ru.yaml
var defaultLexicon []byte

// Lexicon maps known word forms to their dictionary form.
//
// Expected format:
//
//	entries:
//	  - canonical: идти
//	    variants: [иду, идёт, шёл, шла, шли]
//	  - canonical: человек
//	    variants: [люди, людей, людям]
//
// Keys are normalized with [Normalize], so case and ё/е do not matter.
type Lexicon struct {
	// variant -> canonical
	index map[string]string
}

type lexiconFile struct {
	Entries []struct {
		Canonical string   `yaml:"canonical"`
		Variants  []string `yaml:"variants"`
	} `yaml:"entries"`
}

// NewLexicon creates an empty lexicon.
func NewLexicon() *Lexicon {
	return &Lexicon{index: make(map[string]string)}
}

// DefaultLexicon returns the lexicon of irregular Russian forms built into the binary.
func DefaultLexicon() (*Lexicon, error) {
	lex, err := ParseLexicon(bytes.NewReader(defaultLexicon))
	if err != nil {
		return nil, fmt.Errorf("parse built-in lexicon: %w", err)
	}
	return lex, nil
}

// LoadLexicon reads a lexicon YAML file.
func LoadLexicon(path string) (*Lexicon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open lexicon: %w", err)
	}
	defer f.Close()

	lex, err := ParseLexicon(f)
	if err != nil {
		return nil, fmt.Errorf("parse lexicon %s: %w", path, err)
	}
	return lex, nil
}

// ParseLexicon decodes a lexicon from YAML.
func ParseLexicon(r io.Reader) (*Lexicon, error) {
	var file lexiconFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && err != io.EOF {
		return nil, err
	}

	lex := NewLexicon()
	for i, e := range file.Entries {
		if Normalize(e.Canonical) == "" {
			return nil, fmt.Errorf("entry %d: empty canonical form", i)
		}
		lex.Add(e.Canonical, e.Variants...)
	}
	return lex, nil
}

// Add registers variants (and the canonical form itself) for canonical.
// A later Add for the same variant wins, except that a form registered as a
// canonical always maps to itself.
func (l *Lexicon) Add(canonical string, variants ...string) {
	canonical = Normalize(canonical)
	l.index[canonical] = canonical
	for _, v := range variants {
		if v = Normalize(v); v != "" {
			l.set(v, canonical)
		}
	}
}

// Merge copies every entry of other into l.
func (l *Lexicon) Merge(other *Lexicon) {
	for variant, canonical := range other.index {
		l.set(variant, canonical)
	}
}

func (l *Lexicon) set(variant, canonical string) {
	if variant != canonical && l.index[variant] == variant {
		return
	}
	l.index[variant] = canonical
}

// Lookup returns the canonical form for a known variant.
func (l *Lexicon) Lookup(token string) (string, bool) {
	canonical, ok := l.index[Normalize(token)]
	return canonical, ok
}

// Lemma returns the canonical form, or the normalized token if it is unknown.
func (l *Lexicon) Lemma(token string) string {
	if canonical, ok := l.Lookup(token); ok {
		return canonical
	}
	return Normalize(token)
}

// Len returns the number of known forms.
func (l *Lexicon) Len() int {
	return len(l.index)
}
