// Package text holds the analyzer shared by index build and query time: whitespace
// normalisation, tokenisation and term vectors.
package text

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"
)

// TermVector maps a term to its frequency in one text.
type TermVector map[string]int

// Terms returns the vector's terms in lexical order.
func (v TermVector) Terms() []string {
	out := make([]string, 0, len(v))
	for t := range v {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Total returns the sum of all frequencies.
func (v TermVector) Total() int {
	n := 0
	for _, f := range v {
		n += f
	}
	return n
}

// NormalizeSpace collapses every run of Unicode whitespace to one space and trims the ends.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ContentKey identifies texts that are equal after whitespace normalisation.
func ContentKey(s string) string {
	sum := sha256.Sum256([]byte(NormalizeSpace(s)))
	return hex.EncodeToString(sum[:])
}

// Tokenize lowercases s and splits it on anything that is not a letter or digit.
// Stopwords and single-letter tokens are dropped; single digits are kept.
func Tokenize(s string) []string {
	if s == "" {
		return nil
	}
	out := make([]string, 0, 32)
	var b strings.Builder
	flush := func() {
		if b.Len() == 0 {
			return
		}
		tok := b.String()
		b.Reset()
		if keep(tok) {
			out = append(out, tok)
		}
	}
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		flush()
	}
	flush()
	return out
}

// Analyze tokenizes s into a term vector.
func Analyze(s string) TermVector {
	toks := Tokenize(s)
	if len(toks) == 0 {
		return TermVector{}
	}
	v := make(TermVector, len(toks))
	for _, t := range toks {
		v[t]++
	}
	return v
}

func keep(tok string) bool {
	if _, stop := stopwords[tok]; stop {
		return false
	}
	if len([]rune(tok)) == 1 {
		r := []rune(tok)[0]
		return unicode.IsDigit(r)
	}
	return true
}

// IsStopword reports whether tok is ignored by the analyzer.
func IsStopword(tok string) bool {
	_, ok := stopwords[strings.ToLower(tok)]
	return ok
}

var stopwords = func() map[string]struct{} {
	words := strings.Fields(`
		about above after again against all am an and any are as at be because been before
		being below between both but by can could did do does doing down during each few for
		from further had has have having he her here hers herself him himself his how if in
		into is it its itself just me more most my myself no nor not now of off on once only
		or other our ours ourselves out over own same she should so some such than that the
		their theirs them themselves then there these they this those through to too under
		until up very was we were what when where which while who whom why will with would
		you your yours yourself yourselves
	`)
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
