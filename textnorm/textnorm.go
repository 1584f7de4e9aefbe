// Package textnorm normalizes free text for lexical scoring.
//
// Normalization lowercases input, extracts maximal word runs (punctuation is
// a delimiter, not content), and stems each token with the Snowball English
// stemmer. Corpus documents and queries must pass through the same Tokenize
// call; a normalization mismatch between indexing time and query time is a
// correctness bug, not a tunable.
package textnorm

import (
	"regexp"
	"strings"

	"github.com/kljensen/snowball/english"
)

var wordPattern = regexp.MustCompile(`\w+`)

// Tokenize splits text into lowercase word tokens and stems each one.
// Returns nil for text with no word characters.
func Tokenize(text string) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	if len(words) == 0 {
		return nil
	}

	tokens := make([]string, 0, len(words))
	for _, w := range words {
		// Stopwords are stemmed like any other token; filtering is left to
		// BM25's idf, which already discounts ubiquitous terms.
		tokens = append(tokens, english.Stem(w, true))
	}
	return tokens
}
